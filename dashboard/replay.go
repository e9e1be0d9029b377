package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bmess/blueocean-plugin/internal/address"
	"github.com/bmess/blueocean-plugin/internal/backend"
	"github.com/bmess/blueocean-plugin/internal/domain"
	"github.com/bmess/blueocean-plugin/internal/events"
	"github.com/bmess/blueocean-plugin/internal/platform/metrics"
	"github.com/bmess/blueocean-plugin/internal/store"
)

type replayOptions struct {
	eventsPath string
	pipeline   string
	branch     string
	seedPath   string
}

func newReplayCmd(configPath *string) *cobra.Command {
	var opts replayOptions
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay recorded run events against a pipeline and print its runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReplay(cmd, *configPath, opts)
		},
	}
	cmd.Flags().StringVar(&opts.eventsPath, "events", "", "JSONL file of lifecycle events")
	cmd.Flags().StringVar(&opts.pipeline, "pipeline", "", "Pipeline whose runs are loaded and printed")
	cmd.Flags().StringVar(&opts.branch, "branch", "", "Branch of a multi-branch pipeline")
	cmd.Flags().StringVar(&opts.seedPath, "seed", "", "JSON file of runs used instead of fetching them")
	_ = cmd.MarkFlagRequired("events")
	_ = cmd.MarkFlagRequired("pipeline")
	return cmd
}

func runReplay(cmd *cobra.Command, configPath string, opts replayOptions) error {
	if strings.TrimSpace(opts.pipeline) == "" {
		return errors.New("--pipeline is required")
	}
	cfg, logger, err := loadConfig(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	f, err := os.Open(opts.eventsPath)
	if err != nil {
		return fmt.Errorf("open events: %w", err)
	}
	defer f.Close()
	evs, err := events.ReadJSONL(f)
	if err != nil {
		return err
	}

	client, err := backend.New(cfg.Jenkins)
	if err != nil {
		return err
	}
	a, err := newApp(client, logger, metrics.New())
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	if opts.seedPath != "" {
		runs, err := readSeed(opts.seedPath)
		if err != nil {
			return err
		}
		if _, err := a.store.Dispatch(store.SetRuns{Pipeline: opts.pipeline, Runs: runs}); err != nil {
			return err
		}
	} else {
		c := address.Context{Pipeline: opts.pipeline, Branch: opts.branch, IsMultiBranch: opts.branch != ""}
		if _, err := a.loader.FetchRunsIfNeeded(ctx, c); err != nil {
			return fmt.Errorf("load runs: %w", err)
		}
	}

	for i, e := range evs {
		if err := a.handleEvent(ctx, e); err != nil {
			return fmt.Errorf("event %d: %w", i+1, err)
		}
	}
	logger.Info("replay finished", "pipeline", opts.pipeline, "events", len(evs))

	runs, _ := a.store.Snapshot().RunsFor(opts.pipeline)
	if runs == nil {
		runs = []domain.Run{}
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(runs)
}

func readSeed(path string) ([]domain.Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	var runs []domain.Run
	if err := json.Unmarshal(data, &runs); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	return runs, nil
}
