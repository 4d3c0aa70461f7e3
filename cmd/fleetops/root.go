package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fleetops/internal/config"
)

// newRootCmd builds the command tree. Flags and FLEETOPS_* environment
// variables are merged through one viper instance.
func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("FLEETOPS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "fleetops",
		Short:         "Drone fleet mission simulation server",
		Long:          "fleetops flies planned drone missions along their waypoints and streams positions to live viewers.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return v.BindPFlags(cmd.Flags())
		},
	}
	root.PersistentFlags().String("config", "", "path to YAML configuration (defaults when empty)")
	root.PersistentFlags().String("schema", "", "path to CUE schema overriding the embedded one")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("listen", "", "HTTP listen address")

	root.AddCommand(newServeCmd(v), newWatchCmd(v), newReplayCmd(v), newDashboardCmd(v))
	return root
}

// loadConfig reads the config file and layers flag and env overrides on top.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg, err := config.Load(v.GetString("config"), v.GetString("schema"))
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, v)
	return cfg, nil
}

func applyOverrides(cfg *config.Config, v *viper.Viper) {
	set := func(key string, dst *string) {
		if s := v.GetString(key); s != "" {
			*dst = s
		}
	}
	set("log-level", &cfg.Logging.Level)
	set("listen", &cfg.ListenAddr)
	set("store", &cfg.Store.Driver)
	set("dsn", &cfg.Store.DSN)
	set("scenario", &cfg.ScenarioFile)
	set("print", &cfg.Telemetry.Print)
	set("position-log", &cfg.Telemetry.LogFile)
	set("greptime-endpoint", &cfg.Telemetry.GreptimeEndpoint)
	if cfg.Store.Driver == "sqlite" && cfg.Store.DSN == "" {
		cfg.Store.DSN = "fleetops.db"
	}
}
