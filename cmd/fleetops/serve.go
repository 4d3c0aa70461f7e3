package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"fleetops/internal/admin"
	"fleetops/internal/broadcast"
	"fleetops/internal/config"
	"fleetops/internal/geo"
	"fleetops/internal/logging"
	"fleetops/internal/observability"
	"fleetops/internal/scenario"
	"fleetops/internal/sim"
	"fleetops/internal/store"
	"fleetops/internal/telemetry"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the simulation server",
		Long:  "serve starts the HTTP API, the websocket feed, the mission launcher and the simulation ticker.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("store", "", "mission store driver (memory, sqlite)")
	cmd.Flags().String("dsn", "", "sqlite database path")
	cmd.Flags().String("scenario", "", "scenario YAML to seed, or builtin:<name>")
	cmd.Flags().String("print", "", "print recorded positions to stdout (json, color)")
	cmd.Flags().String("position-log", "", "append recorded positions to a JSONL file")
	cmd.Flags().String("greptime-endpoint", "", "GreptimeDB gRPC endpoint for position history")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, logCloser, err := logging.Open(cfg.Logging)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(logger)
	ctx = logging.NewContext(ctx, logger)

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(ctx, shutdownTracing)

	st, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	if cfg.ScenarioFile != "" {
		sc, err := scenario.Load(cfg.ScenarioFile)
		if err != nil {
			return err
		}
		if _, err := sc.Apply(ctx, st, time.Now()); err != nil {
			return fmt.Errorf("apply scenario: %w", err)
		}
	}

	hubOpts := []broadcast.HubOption{broadcast.WithBuffer(cfg.SubscriberBuffer)}
	engineOpts := sim.Options{
		ProgressStep: cfg.ProgressStep,
		Speeds:       geo.Speeds{HorizontalMPS: cfg.HorizontalSpeedMPS, VerticalMPS: cfg.VerticalSpeedMPS},
	}
	adminOpts := admin.Options{ScopeByOrganization: cfg.ScopeByOrganization, Logger: logger}
	if cfg.MetricsEnabled {
		collector, err := observability.NewFleetCollector(prometheus.DefaultRegisterer)
		if err != nil {
			return err
		}
		hubOpts = append(hubOpts, broadcast.WithMetrics(collector))
		engineOpts.Metrics = collector
		adminOpts.Metrics = collector
	}

	hub := broadcast.NewHub(hubOpts...)
	sched := sim.NewTickerScheduler(ctx, cfg.TickInterval)
	engineOpts.Scheduler = sched
	engine := sim.NewEngine(st, hub, engineOpts)
	launcher := sim.NewLauncher(st, engine, cfg.LaunchPollInterval)
	srv := admin.NewServer(st, engine, hub, adminOpts)

	writer, closeWriter, err := newPositionWriter(cfg.Telemetry)
	if err != nil {
		return err
	}
	defer closeWriter()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		launcher.Run(gctx)
		return nil
	})
	if writer != nil {
		g.Go(func() error { return record(gctx, hub, telemetry.NewRecorder(writer)) })
	}
	g.Go(func() error { return srv.Start(gctx, cfg.ListenAddr) })
	g.Go(func() error {
		<-gctx.Done()
		engine.Shutdown(ctx)
		sched.Wait()
		hub.Close()
		return nil
	})

	logger.Info("fleetops started",
		"listen", cfg.ListenAddr, "store", cfg.Store.Driver,
		"tick_interval", cfg.TickInterval, "progress_step", cfg.ProgressStep)
	err = g.Wait()
	logger.Info("fleetops stopped")
	return err
}

// record keeps the recorder subscribed, resubscribing after the hub drops it.
func record(ctx context.Context, hub *broadcast.Hub, rec *telemetry.Recorder) error {
	for {
		err := rec.Run(ctx, hub.Subscribe(broadcast.WithGreeting("position recorder")))
		if !errors.Is(err, telemetry.ErrSubscriptionDropped) {
			return err
		}
		logging.FromContext(ctx).Warn("position recorder fell behind, resubscribing")
	}
}

func openStore(cfg config.Store) (store.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		return store.OpenSQLite(cfg.DSN)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
