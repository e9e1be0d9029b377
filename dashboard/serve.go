package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bmess/blueocean-plugin/internal/backend"
	"github.com/bmess/blueocean-plugin/internal/platform/httpserver"
	"github.com/bmess/blueocean-plugin/internal/platform/metrics"
	"github.com/bmess/blueocean-plugin/internal/service/reconcile"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard state API and follow the run event stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	cfg, logger, err := loadConfig(configPath, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return err
	}

	client, err := backend.New(cfg.Jenkins)
	if err != nil {
		logger.Error("backend client init failed", "error", err)
		return err
	}
	m := metrics.New()
	a, err := newApp(client, logger, m)
	if err != nil {
		logger.Error("wiring failed", "error", err)
		return err
	}
	defer a.close()

	if cfg.Export.Enabled {
		if err := a.enableExport(ctx, cfg.Export); err != nil {
			logger.Error("log export init failed", "error", err)
			return err
		}
		logger.Info("log export enabled", "bucket", cfg.Export.MinIO.BucketLogs, "endpoint", cfg.Export.MinIO.Endpoint)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	checks := []httpserver.ReadinessCheck{
		{Name: "jenkins", Check: withTimeout(2*time.Second, client.Ping)},
	}
	if cfg.Events.URL != "" {
		checks = append(checks, httpserver.ReadinessCheck{Name: "events", Check: a.eventStreamReady})
		go func() {
			err := a.consumeEvents(ctx, cfg.Events)
			switch {
			case err == nil:
				logger.Warn("event stream ended")
			case errors.Is(err, context.Canceled):
			case reconcile.IsTerminal(err):
				logger.Info("event consumption stopped", "error", err)
			default:
				logger.Error("event stream failed", "error", err)
			}
		}()
		logger.Info("event subscription started", "url", cfg.Events.URL, "concurrency", cfg.Events.Concurrency)
	}
	if a.exporter != nil {
		checks = append(checks, httpserver.ReadinessCheck{Name: "minio", Check: withTimeout(2*time.Second, a.exporter.Ready)})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("GET /readyz", httpserver.ReadyzWithChecks(serviceName, checks...))
	mux.Handle("GET /metrics", m.Handler())
	newDashboardAPI(a).register(mux)

	return httpserver.Run(ctx, logger, httpserver.Config{
		Service:         serviceName,
		Addr:            cfg.HTTP.Addr,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}, httpserver.Wrap(logger, serviceName, mux))
}

func withTimeout(d time.Duration, check func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return check(ctx)
	}
}
