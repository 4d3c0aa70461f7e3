// YAML config loader with CUE validation integration
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"fleetops/internal/logging"
)

//go:embed schema.cue
var embeddedSchema []byte

// Store selects the mission store backend.
type Store struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// Telemetry configures position history sinks.
type Telemetry struct {
	LogFile          string `yaml:"log_file"`
	Print            string `yaml:"print"`
	GreptimeEndpoint string `yaml:"greptime_endpoint"`
	GreptimeDatabase string `yaml:"greptime_database"`
	GreptimeTable    string `yaml:"greptime_table"`
}

// Tracing configures the OpenTelemetry tracer provider.
type Tracing struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
	ServiceName string  `yaml:"service_name"`
}

// Config is the root server configuration.
type Config struct {
	ListenAddr          string         `yaml:"listen_addr"`
	TickInterval        time.Duration  `yaml:"tick_interval"`
	ProgressStep        float64        `yaml:"progress_step"`
	HorizontalSpeedMPS  float64        `yaml:"horizontal_speed_mps"`
	VerticalSpeedMPS    float64        `yaml:"vertical_speed_mps"`
	LaunchPollInterval  time.Duration  `yaml:"launch_poll_interval"`
	SubscriberBuffer    int            `yaml:"subscriber_buffer"`
	ScopeByOrganization bool           `yaml:"scope_by_organization"`
	ScenarioFile        string         `yaml:"scenario_file"`
	MetricsEnabled      bool           `yaml:"metrics_enabled"`
	Store               Store          `yaml:"store"`
	Telemetry           Telemetry      `yaml:"telemetry"`
	Logging             logging.Config `yaml:"logging"`
	Tracing             Tracing        `yaml:"tracing"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		ListenAddr:         ":8080",
		TickInterval:       time.Second,
		ProgressStep:       0.05,
		HorizontalSpeedMPS: 10,
		VerticalSpeedMPS:   5,
		LaunchPollInterval: 30 * time.Second,
		SubscriberBuffer:   64,
		MetricsEnabled:     true,
		Store:              Store{Driver: "memory"},
		Telemetry: Telemetry{
			GreptimeDatabase: "public",
			GreptimeTable:    "drone_positions",
		},
		Logging: logging.Config{Level: "info", Format: "text"},
		Tracing: Tracing{
			Exporter:    "stdout",
			SampleRatio: 1,
			ServiceName: "fleetops",
		},
	}
}

// Load reads a YAML config, validates it against the CUE schema and
// decodes it over the defaults. An empty configPath yields Default().
// An empty schemaPath uses the embedded schema.
func Load(configPath, schemaPath string) (*Config, error) {
	if configPath == "" {
		cfg := Default()
		return &cfg, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read YAML config: %w", err)
	}
	schema := embeddedSchema
	if schemaPath != "" {
		if schema, err = os.ReadFile(schemaPath); err != nil {
			return nil, fmt.Errorf("cannot read CUE schema: %w", err)
		}
	}
	return Parse(configPath, data, schema)
}

// Parse validates and decodes YAML bytes. filename is only used in errors.
func Parse(filename string, data, schema []byte) (*Config, error) {
	if err := ValidateWithCue(filename, data, schema); err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot unmarshal YAML config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// applyDefaults restores defaults for values explicitly set to zero.
func (c *Config) applyDefaults() {
	d := Default()
	if c.ListenAddr == "" {
		c.ListenAddr = d.ListenAddr
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.ProgressStep <= 0 {
		c.ProgressStep = d.ProgressStep
	}
	if c.HorizontalSpeedMPS <= 0 {
		c.HorizontalSpeedMPS = d.HorizontalSpeedMPS
	}
	if c.VerticalSpeedMPS <= 0 {
		c.VerticalSpeedMPS = d.VerticalSpeedMPS
	}
	if c.LaunchPollInterval <= 0 {
		c.LaunchPollInterval = d.LaunchPollInterval
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = d.SubscriberBuffer
	}
	if c.Store.Driver == "" {
		c.Store.Driver = d.Store.Driver
	}
	if c.Store.Driver == "sqlite" && c.Store.DSN == "" {
		c.Store.DSN = "fleetops.db"
	}
	if c.Telemetry.GreptimeDatabase == "" {
		c.Telemetry.GreptimeDatabase = d.Telemetry.GreptimeDatabase
	}
	if c.Telemetry.GreptimeTable == "" {
		c.Telemetry.GreptimeTable = d.Telemetry.GreptimeTable
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = d.Tracing.ServiceName
	}
}
