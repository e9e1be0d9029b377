package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bmess/blueocean-plugin/internal/address"
	"github.com/bmess/blueocean-plugin/internal/backend"
	"github.com/bmess/blueocean-plugin/internal/domain"
	"github.com/bmess/blueocean-plugin/internal/events"
	"github.com/bmess/blueocean-plugin/internal/logexport"
	"github.com/bmess/blueocean-plugin/internal/platform/httpserver"
	"github.com/bmess/blueocean-plugin/internal/platform/metrics"
	"github.com/bmess/blueocean-plugin/internal/service/reconcile"
	"github.com/bmess/blueocean-plugin/internal/service/views"
	"github.com/bmess/blueocean-plugin/internal/store"
)

const (
	maxEventBytes     = 1 << 20
	heartbeatInterval = 15 * time.Second
)

type dashboardAPI struct {
	logger     *slog.Logger
	store      *store.Store
	loader     *views.Loader
	reconciler *reconcile.Reconciler
	exporter   *logexport.Exporter
	metrics    *metrics.Metrics
	heartbeat  time.Duration
}

func newDashboardAPI(a *app) *dashboardAPI {
	return &dashboardAPI{
		logger:     a.logger,
		store:      a.store,
		loader:     a.loader,
		reconciler: a.reconciler,
		exporter:   a.exporter,
		metrics:    a.metrics,
		heartbeat:  heartbeatInterval,
	}
}

func (api *dashboardAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/snapshot", api.handleSnapshot)
	mux.HandleFunc("GET /api/stream", api.handleStream)
	mux.HandleFunc("GET /api/messages", api.handleMessages)
	mux.HandleFunc("POST /api/events", api.handlePostEvent)

	mux.HandleFunc("GET /api/pipelines", api.handleListPipelines)
	mux.HandleFunc("DELETE /api/pipelines/current", api.handleClearPipeline)
	mux.HandleFunc("GET /api/pipelines/{pipeline}", api.handleSetPipeline)
	mux.HandleFunc("GET /api/pipelines/{pipeline}/runs", api.handleListRuns)
	mux.HandleFunc("GET /api/pipelines/{pipeline}/branches", api.handleListBranches)
	mux.HandleFunc("GET /api/pipelines/{pipeline}/runs/{run}/nodes", api.handleNodes)
	mux.HandleFunc("GET /api/pipelines/{pipeline}/runs/{run}/steps", api.handleSteps)
	mux.HandleFunc("GET /api/pipelines/{pipeline}/runs/{run}/log", api.handleLog)
	mux.HandleFunc("POST /api/pipelines/{pipeline}/runs/{run}/log/export", api.handleExportLog)
}

func (api *dashboardAPI) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	httpserver.WriteJSON(w, http.StatusOK, api.store.Snapshot())
}

func (api *dashboardAPI) handleMessages(w http.ResponseWriter, r *http.Request) {
	messages := api.store.Snapshot().Messages
	if messages == nil {
		messages = []domain.Message{}
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// handleStream sends the current snapshot, then one snapshot event per
// published version. Versions a slow client misses are skipped.
func (api *dashboardAPI) handleStream(w http.ResponseWriter, r *http.Request) {
	updates, cancel := api.store.Subscribe()
	defer cancel()

	flusher, ok := httpserver.StartSSE(w)
	if !ok {
		api.writeError(w, r, http.StatusInternalServerError, "streaming_unsupported")
		return
	}

	snap := api.store.Snapshot()
	if err := httpserver.WriteSSE(w, "snapshot", strconv.FormatUint(snap.Version, 10), snap); err != nil {
		return
	}
	sent := snap.Version

	ticker := time.NewTicker(api.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if snap.Version <= sent {
				continue
			}
			if err := httpserver.WriteSSE(w, "snapshot", strconv.FormatUint(snap.Version, 10), snap); err != nil {
				return
			}
			sent = snap.Version
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (api *dashboardAPI) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes+1))
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_body")
		return
	}
	if len(body) > maxEventBytes {
		api.writeError(w, r, http.StatusRequestEntityTooLarge, "event_too_large")
		return
	}
	e, err := events.Decode(body)
	if err != nil {
		if errors.Is(err, events.ErrNotJobEvent) {
			api.writeError(w, r, http.StatusUnprocessableEntity, "not_job_event")
			return
		}
		api.writeError(w, r, http.StatusBadRequest, "invalid_event")
		return
	}

	api.metrics.ObserveEvent(e.JenkinsEvent)
	outcome, err := api.reconciler.Handle(r.Context(), e)
	if err != nil {
		api.writeFailure(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusAccepted, map[string]any{
		"event":   e.JenkinsEvent,
		"outcome": outcome,
		"version": api.store.Snapshot().Version,
	})
}

func (api *dashboardAPI) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	org := strings.TrimSpace(q.Get("organization"))
	if org == "" {
		org = api.loader.Context(address.Context{}).Organization
	}

	var (
		pipelines []domain.Pipeline
		err       error
	)
	if truthy(q.Get("refresh")) {
		pipelines, err = api.loader.FetchPipelines(r.Context(), org)
	} else {
		pipelines, err = api.loader.FetchPipelinesIfNeeded(r.Context(), org)
	}
	if err != nil {
		api.writeFailure(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"pipelines": pipelines})
}

func (api *dashboardAPI) handleSetPipeline(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PathValue("pipeline"))
	if name == "" {
		api.writeError(w, r, http.StatusBadRequest, "pipeline_required")
		return
	}
	pipeline, err := api.loader.SetPipeline(r.Context(), name)
	if err != nil {
		api.writeFailure(w, r, err)
		return
	}
	if pipeline == nil {
		api.writeError(w, r, http.StatusNotFound, "not_found")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, pipeline)
}

// handleClearPipeline leaves the pipeline view: the current pipeline, its
// current collections and the node pointer are cleared. Cached collections
// are kept.
func (api *dashboardAPI) handleClearPipeline(w http.ResponseWriter, r *http.Request) {
	if _, err := api.store.Dispatch(
		store.ClearPipeline{},
		store.ClearCurrentRuns{},
		store.ClearCurrentBranches{},
		store.SetNode{},
	); err != nil {
		api.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *dashboardAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
	c, ok := api.pipelineContext(w, r)
	if !ok {
		return
	}
	runs, err := api.loader.FetchRunsIfNeeded(r.Context(), c)
	if err != nil {
		api.writeFailure(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (api *dashboardAPI) handleListBranches(w http.ResponseWriter, r *http.Request) {
	c, ok := api.pipelineContext(w, r)
	if !ok {
		return
	}
	branches, err := api.loader.FetchBranchesIfNeeded(r.Context(), c)
	if err != nil {
		api.writeFailure(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"branches": branches})
}

func (api *dashboardAPI) handleNodes(w http.ResponseWriter, r *http.Request) {
	c, ok := api.runContext(w, r)
	if !ok {
		return
	}
	info, err := api.loader.FetchNodes(r.Context(), c)
	if err != nil {
		api.writeFailure(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"nodes": info,
		"node":  api.store.Snapshot().Node,
	})
}

func (api *dashboardAPI) handleSteps(w http.ResponseWriter, r *http.Request) {
	c, ok := api.runContext(w, r)
	if !ok {
		return
	}
	info, err := api.loader.FetchSteps(r.Context(), c)
	if err != nil {
		api.writeFailure(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, info)
}

// handleLog returns the log of a node, or with download=true the complete run
// log as an attachment.
func (api *dashboardAPI) handleLog(w http.ResponseWriter, r *http.Request) {
	c, ok := api.runContext(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	active := truthy(q.Get("active"))

	if truthy(q.Get("download")) {
		file, err := api.loader.RunLog(r.Context(), c, active)
		if err != nil {
			api.writeFailure(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName(file.FileName)))
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, file.Text)
		return
	}

	chunk, err := api.loader.FetchLog(r.Context(), c, active)
	if err != nil {
		api.writeFailure(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, chunk)
}

func (api *dashboardAPI) handleExportLog(w http.ResponseWriter, r *http.Request) {
	c, ok := api.runContext(w, r)
	if !ok {
		return
	}
	result, err := api.exporter.Export(r.Context(), c, truthy(r.URL.Query().Get("active")))
	if err != nil {
		api.writeFailure(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusCreated, result)
}

// pipelineContext reads the pipeline path value and the optional branch
// query parameter. A branch implies a multi-branch pipeline.
func (api *dashboardAPI) pipelineContext(w http.ResponseWriter, r *http.Request) (address.Context, bool) {
	branch := strings.TrimSpace(r.URL.Query().Get("branch"))
	c := api.loader.Context(address.Context{
		Pipeline:      strings.TrimSpace(r.PathValue("pipeline")),
		Branch:        branch,
		IsMultiBranch: branch != "",
		Node:          strings.TrimSpace(r.URL.Query().Get("node")),
	})
	if err := c.Validate(); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_context")
		return address.Context{}, false
	}
	return c, true
}

func (api *dashboardAPI) runContext(w http.ResponseWriter, r *http.Request) (address.Context, bool) {
	c, ok := api.pipelineContext(w, r)
	if !ok {
		return c, false
	}
	run := strings.TrimSpace(r.PathValue("run"))
	if run == "" {
		api.writeError(w, r, http.StatusBadRequest, "run_required")
		return address.Context{}, false
	}
	return c.WithRun(run), true
}

func (api *dashboardAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	httpserver.WriteError(w, r, status, code)
}

// writeFailure maps an operation error to a status code.
func (api *dashboardAPI) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, backend.ErrTransport):
		api.writeError(w, r, http.StatusBadGateway, "backend_unavailable")
	case errors.Is(err, logexport.ErrInvalidKey):
		api.writeError(w, r, http.StatusBadRequest, "invalid_pipeline")
	case errors.Is(err, logexport.ErrNotConfigured):
		api.writeError(w, r, http.StatusNotImplemented, "export_not_configured")
	case errors.Is(err, store.ErrClosed):
		api.writeError(w, r, http.StatusServiceUnavailable, "shutting_down")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		api.writeError(w, r, http.StatusGatewayTimeout, "timeout")
	default:
		requestID, _ := httpserver.RequestIDFromContext(r.Context())
		api.logger.Error("request failed", "request_id", requestID, "path", r.URL.Path, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func truthy(v string) bool {
	ok, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && ok
}

// downloadName flattens the slashes of a branch-qualified log file name so
// the attachment name carries no directory.
func downloadName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	if name == "" {
		return "log.txt"
	}
	return name
}
