package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bmess/blueocean-plugin/internal/backend"
	"github.com/bmess/blueocean-plugin/internal/config"
	"github.com/bmess/blueocean-plugin/internal/domain"
	"github.com/bmess/blueocean-plugin/internal/events"
	"github.com/bmess/blueocean-plugin/internal/logexport"
	"github.com/bmess/blueocean-plugin/internal/platform/metrics"
	"github.com/bmess/blueocean-plugin/internal/platform/objectstore"
	"github.com/bmess/blueocean-plugin/internal/service/reconcile"
	"github.com/bmess/blueocean-plugin/internal/service/views"
	"github.com/bmess/blueocean-plugin/internal/store"
)

// app is the wired set of components shared by serve and replay.
type app struct {
	logger     *slog.Logger
	metrics    *metrics.Metrics
	client     *backend.Client
	store      *store.Store
	loader     *views.Loader
	reconciler *reconcile.Reconciler
	exporter   *logexport.Exporter

	streamUp atomic.Bool
}

func newApp(client *backend.Client, logger *slog.Logger, m *metrics.Metrics) (*app, error) {
	st := store.New(logger, m)
	caches := views.NewCaches(client, m)

	loader := views.New(st, caches, views.Config{BaseURL: client.BaseURL(), Organization: client.Organization()}, logger)
	reconciler := reconcile.New(st, caches.Run, caches.Branch, reconcile.Config{
		BaseURL:      client.BaseURL(),
		Organization: client.Organization(),
	}, logger, m)
	if loader == nil || reconciler == nil {
		return nil, errors.New("wire components")
	}
	return &app{
		logger:     logger,
		metrics:    m,
		client:     client,
		store:      st,
		loader:     loader,
		reconciler: reconciler,
	}, nil
}

// enableExport connects to object storage and turns on log export.
func (a *app) enableExport(ctx context.Context, cfg config.ExportConfig) error {
	client, err := objectstore.NewMinIOClient(cfg.MinIO)
	if err != nil {
		return fmt.Errorf("object store client: %w", err)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := objectstore.EnsureBucket(startupCtx, client, cfg.MinIO); err != nil {
		return err
	}
	objects, err := objectstore.NewMinioStore(client)
	if err != nil {
		return err
	}
	exporter, err := logexport.New(a.loader, objects, logexport.Config{Bucket: cfg.MinIO.BucketLogs, URLTTL: cfg.URLTTL}, a.logger)
	if err != nil {
		return err
	}
	a.exporter = exporter
	return nil
}

// handleEvent reconciles one event. Only errors that make further events
// pointless are returned.
func (a *app) handleEvent(ctx context.Context, e domain.Event) error {
	a.metrics.ObserveEvent(e.JenkinsEvent)
	outcome, err := a.reconciler.Handle(ctx, e)
	if err != nil {
		if reconcile.IsTerminal(err) {
			return err
		}
		a.logger.Warn("event reconciliation failed", "event", e.JenkinsEvent, "job", e.JobName, "error", err)
		return nil
	}
	a.logger.Debug("event reconciled", "event", e.JenkinsEvent, "job", e.JobName, "outcome", outcome)
	return nil
}

// consumeEvents subscribes to the SSE gateway and reconciles events until the
// stream ends or ctx is cancelled. The stream is not reopened.
func (a *app) consumeEvents(ctx context.Context, cfg config.EventsConfig) error {
	sub := &events.Subscriber{
		URL:       cfg.URL,
		Client:    &http.Client{},
		Logger:    a.logger,
		OnConnect: func() { a.streamUp.Store(true) },
	}
	ch := make(chan domain.Event, 64)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(ch)
		defer a.streamUp.Store(false)
		return sub.Run(gctx, func(ctx context.Context, e domain.Event) error {
			select {
			case ch <- e:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	})
	g.Go(func() error {
		return events.Pump(gctx, ch, a.handleEvent, cfg.Concurrency)
	})
	return g.Wait()
}

func (a *app) eventStreamReady(context.Context) error {
	if !a.streamUp.Load() {
		return errors.New("event stream not connected")
	}
	return nil
}

func (a *app) close() {
	a.store.Close()
}
