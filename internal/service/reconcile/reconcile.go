// Package reconcile merges lifecycle events from the push channel into the
// cached run and branch collections.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/bmess/blueocean-plugin/internal/address"
	"github.com/bmess/blueocean-plugin/internal/domain"
	"github.com/bmess/blueocean-plugin/internal/store"
)

type Outcome string

const (
	// OutcomeApplied means a fetched record was merged.
	OutcomeApplied Outcome = "applied"
	// OutcomeIgnored means the event referenced a collection that is not cached.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeDuplicate means a provisional run for the queue id already exists.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeDegraded means the fetch failed and a record built from the event was merged.
	OutcomeDegraded Outcome = "degraded"
)

// Fetcher loads a resource directly from the backend, bypassing any cache.
type Fetcher[V any] interface {
	FetchAlways(ctx context.Context, url string) (V, error)
}

type Observer interface {
	ObserveReconcile(event, outcome string)
}

type Reconciler struct {
	store        *store.Store
	runs         Fetcher[domain.Run]
	branches     Fetcher[domain.Branch]
	baseURL      string
	organization string
	logger       *slog.Logger
	observer     Observer
}

type Config struct {
	BaseURL      string
	Organization string
}

func New(st *store.Store, runs Fetcher[domain.Run], branches Fetcher[domain.Branch], cfg Config, logger *slog.Logger, observer Observer) *Reconciler {
	if st == nil || runs == nil || branches == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:        st,
		runs:         runs,
		branches:     branches,
		baseURL:      cfg.BaseURL,
		organization: cfg.Organization,
		logger:       logger,
		observer:     observer,
	}
}

// Handle routes e by kind and then reconciles the branch collection.
// The returned outcome describes the run collection.
func (r *Reconciler) Handle(ctx context.Context, e domain.Event) (Outcome, error) {
	var (
		outcome Outcome
		err     error
	)
	switch e.JenkinsEvent {
	case domain.EventJobRunQueued:
		outcome, err = r.ProcessQueued(e)
	case domain.EventJobRunStarted:
		outcome, err = r.UpdateRunState(ctx, e, true)
	default:
		outcome, err = r.UpdateRunState(ctx, e, false)
	}
	if err != nil {
		return outcome, err
	}
	if r.observer != nil {
		r.observer.ObserveReconcile(e.JenkinsEvent, string(outcome))
	}

	if _, err := r.UpdateBranchState(ctx, e); err != nil {
		return outcome, err
	}
	return outcome, nil
}

// ProcessQueued inserts a provisional run at the head of the job's run
// collection unless one with the same queue id already exists.
func (r *Reconciler) ProcessQueued(e domain.Event) (Outcome, error) {
	outcome := OutcomeIgnored
	_, err := r.store.Update(func(s store.Snapshot) ([]store.Transition, error) {
		runs, ok := s.RunsFor(e.JobName)
		if !ok || e.QueueID == "" {
			outcome = OutcomeIgnored
			return nil, nil
		}
		for _, run := range runs {
			if e.Matches(run) && run.QueueID == e.QueueID {
				outcome = OutcomeDuplicate
				return nil, nil
			}
		}

		provisional := domain.Run{
			QueueID:  e.QueueID,
			Pipeline: e.RunPipeline(),
			State:    domain.RunStateQueued,
			Result:   domain.ResultUnknown,
		}
		next := make([]domain.Run, 0, len(runs)+1)
		next = append(next, provisional)
		next = append(next, runs...)

		outcome = OutcomeApplied
		return r.writeRuns(s, e, next), nil
	})
	if err != nil {
		return outcome, err
	}
	r.logger.Debug("queued event processed", "job", e.JobName, "queue_id", e.QueueID, "outcome", outcome)
	return outcome, nil
}

// UpdateRunState re-fetches the run named by e and merges it with the state
// the event implies. Runs are located by queue id when byQueueID is set, by
// id otherwise; the other key is tried when the first finds nothing.
func (r *Reconciler) UpdateRunState(ctx context.Context, e domain.Event, byQueueID bool) (Outcome, error) {
	if _, ok := r.store.Snapshot().RunsFor(e.JobName); !ok {
		return OutcomeIgnored, nil
	}
	if e.ObjectID == "" {
		r.logger.Warn("run event without object id", "job", e.JobName, "event", e.JenkinsEvent)
		return OutcomeIgnored, nil
	}

	url := address.RunURL(r.runContext(e))
	// The fetch is not cancelled with the caller; its record, or the degraded
	// one, is always merged.
	fetched, fetchErr := r.runs.FetchAlways(context.WithoutCancel(ctx), url)

	outcome := OutcomeIgnored
	_, err := r.store.Update(func(s store.Snapshot) ([]store.Transition, error) {
		// Re-read: the collection may have changed while the fetch was in flight.
		runs, ok := s.RunsFor(e.JobName)
		if !ok {
			outcome = OutcomeIgnored
			return nil, nil
		}
		idx := locateRun(runs, e, byQueueID)

		var rec domain.Run
		var ts []store.Transition
		if fetchErr == nil {
			rec = fetched
			outcome = OutcomeApplied
		} else {
			rec = degradedRun(runs, idx, e)
			outcome = OutcomeDegraded
			ts = append(ts, store.AppendMessage{Message: domain.NewErrorMessage(url, fetchErr)})
		}
		rec = r.mergeRun(rec, runs, idx, e)

		next := slices.Clone(runs)
		if idx >= 0 {
			next[idx] = rec
		} else {
			next = slices.Insert(next, 0, rec)
		}
		return append(ts, r.writeRuns(s, e, next)...), nil
	})
	if err != nil {
		return outcome, err
	}

	if fetchErr != nil {
		r.logger.Warn("run fetch failed, applied event data", "url", url, "error", fetchErr)
	} else {
		r.logger.Debug("run event reconciled", "job", e.JobName, "run_id", e.ObjectID, "event", e.JenkinsEvent)
	}
	return outcome, nil
}

// UpdateBranchState refreshes the branch named by a multi-branch event.
func (r *Reconciler) UpdateBranchState(ctx context.Context, e domain.Event) (Outcome, error) {
	if !e.IsMultiBranch {
		return OutcomeIgnored, nil
	}
	branches, ok := r.store.Snapshot().BranchesFor(e.JobName)
	if !ok {
		return OutcomeIgnored, nil
	}
	branch, ok := domain.FindBranch(branches, e.BranchName)
	if !ok {
		return OutcomeIgnored, nil
	}

	actx := r.runContext(e)
	if branch.Organization != "" {
		actx.Organization = branch.Organization
	}
	url := address.BranchURL(actx)
	fetched, err := r.branches.FetchAlways(context.WithoutCancel(ctx), url)
	if err != nil {
		r.logger.Warn("branch fetch failed", "url", url, "error", err)
		_, derr := r.store.Dispatch(store.AppendMessage{Message: domain.NewErrorMessage(url, err)})
		return OutcomeDegraded, derr
	}

	_, err = r.store.Update(func(s store.Snapshot) ([]store.Transition, error) {
		current, _ := s.BranchesFor(e.JobName)
		cached, _ := domain.FindBranch(current, e.BranchName)
		if fetched.LatestRun != nil {
			latest := *fetched.LatestRun
			state := e.ImpliedState()
			if cached.LatestRun != nil && cached.LatestRun.ID == latest.ID {
				state = domain.LaterRunState(state, cached.LatestRun.State)
			}
			latest.State = state
			fetched.LatestRun = &latest
		}
		return []store.Transition{store.UpdateBranch{Pipeline: e.JobName, Branch: fetched}}, nil
	})
	if err != nil {
		return OutcomeIgnored, err
	}
	return OutcomeApplied, nil
}

func (r *Reconciler) runContext(e domain.Event) address.Context {
	org := e.Organization
	if org == "" {
		org = r.organization
	}
	return address.Context{
		BaseURL:       r.baseURL,
		Organization:  org,
		Pipeline:      e.JobName,
		Branch:        e.BranchName,
		IsMultiBranch: e.IsMultiBranch,
		RunID:         e.ObjectID,
	}
}

// mergeRun sets the lifecycle state the event implies, never moving the run
// backwards, and keeps identity fields the fetched record lacks.
func (r *Reconciler) mergeRun(rec domain.Run, runs []domain.Run, idx int, e domain.Event) domain.Run {
	state := e.ImpliedState()
	if idx >= 0 {
		existing := runs[idx]
		state = domain.LaterRunState(state, existing.State)
		if rec.QueueID == "" {
			rec.QueueID = existing.QueueID
		}
	}
	if rec.QueueID == "" {
		rec.QueueID = e.QueueID
	}
	if rec.Pipeline == "" {
		rec.Pipeline = e.RunPipeline()
	}
	rec.State = state
	return rec
}

func (r *Reconciler) writeRuns(s store.Snapshot, e domain.Event, runs []domain.Run) []store.Transition {
	ts := make([]store.Transition, 0, 2)
	if e.IsForCurrentJob || s.IsCurrentPipeline(e.JobName) {
		ts = append(ts, store.SetCurrentRuns{Runs: runs})
	}
	return append(ts, store.SetRuns{Pipeline: e.JobName, Runs: runs})
}

// degradedRun builds a best-effort record when the run could not be fetched.
func degradedRun(runs []domain.Run, idx int, e domain.Event) domain.Run {
	var rec domain.Run
	if idx >= 0 {
		rec = runs[idx]
	} else {
		rec = domain.Run{QueueID: e.QueueID, Pipeline: e.RunPipeline()}
	}
	rec.ID = e.ObjectID
	if e.RunStatus != "" {
		rec.Result = domain.Result(e.RunStatus)
	} else if rec.Result == "" {
		rec.Result = domain.ResultUnknown
	}
	return rec
}

// locateRun returns the index of the run e refers to, or -1.
func locateRun(runs []domain.Run, e domain.Event, byQueueID bool) int {
	byQueue := func() int {
		if e.QueueID == "" {
			return -1
		}
		return slices.IndexFunc(runs, func(run domain.Run) bool {
			return e.Matches(run) && run.QueueID == e.QueueID
		})
	}
	byID := func() int {
		if e.ObjectID == "" {
			return -1
		}
		return slices.IndexFunc(runs, func(run domain.Run) bool {
			return e.Matches(run) && run.ID == e.ObjectID
		})
	}
	if byQueueID {
		if i := byQueue(); i >= 0 {
			return i
		}
		return byID()
	}
	if i := byID(); i >= 0 {
		return i
	}
	return byQueue()
}

// IsTerminal reports whether err should stop an event pump.
func IsTerminal(err error) bool {
	return errors.Is(err, store.ErrClosed) || errors.Is(err, context.Canceled)
}
