package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bmess/blueocean-plugin/internal/config"
)

const serviceName = "dashboard"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          serviceName,
		Short:        "Blue Ocean pipeline dashboard state service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("DASHBOARD_CONFIG"), "Path to a YAML config file")

	root.AddCommand(newServeCmd(&configPath), newReplayCmd(&configPath))
	return root
}

// loadConfig loads the configuration and builds the JSON logger writing to w.
func loadConfig(path string, w io.Writer) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, err
	}
	level, err := cfg.Level()
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})).With("service", serviceName)
	return cfg, logger, nil
}
