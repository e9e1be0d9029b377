// Package views loads the resources a dashboard view needs. Every operation
// consults the store first, fetches through the caches when needed, and
// dispatches the result. Fetches are not cancelled with the caller, so a
// started fetch always reaches the store.
package views

import (
	"context"
	"log/slog"

	"github.com/bmess/blueocean-plugin/internal/address"
	"github.com/bmess/blueocean-plugin/internal/domain"
	"github.com/bmess/blueocean-plugin/internal/store"
)

type Loader struct {
	store        *store.Store
	caches       Caches
	baseURL      string
	organization string
	logger       *slog.Logger
}

type Config struct {
	BaseURL      string
	Organization string
}

func New(st *store.Store, caches Caches, cfg Config, logger *slog.Logger) *Loader {
	if st == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	org := cfg.Organization
	if org == "" {
		org = address.DefaultOrganization
	}
	return &Loader{
		store:        st,
		caches:       caches,
		baseURL:      cfg.BaseURL,
		organization: org,
		logger:       logger,
	}
}

// Context fills in the base URL and organization the loader was built with.
func (l *Loader) Context(c address.Context) address.Context {
	if c.BaseURL == "" {
		c.BaseURL = l.baseURL
	}
	if c.Organization == "" {
		c.Organization = l.organization
	}
	return c
}

// FetchPipelines reloads the pipeline list unconditionally. An empty
// organization searches every organization.
func (l *Loader) FetchPipelines(ctx context.Context, organization string) ([]domain.Pipeline, error) {
	url := address.PipelinesURL(l.baseURL, organization)
	pipelines, err := l.caches.Pipelines.Refresh(context.WithoutCancel(ctx), url, url)
	if err != nil {
		return nil, l.fail(url, err)
	}
	if pipelines == nil {
		pipelines = []domain.Pipeline{}
	}
	if _, err := l.store.Dispatch(store.SetPipelines{Pipelines: pipelines}); err != nil {
		return nil, err
	}
	return pipelines, nil
}

// FetchPipelinesIfNeeded returns the loaded pipeline list, fetching it first
// when nothing is loaded.
func (l *Loader) FetchPipelinesIfNeeded(ctx context.Context, organization string) ([]domain.Pipeline, error) {
	if pipelines := l.store.Snapshot().Pipelines; pipelines != nil {
		return pipelines, nil
	}
	url := address.PipelinesURL(l.baseURL, organization)
	pipelines, err := l.caches.Pipelines.FetchIfAbsent(context.WithoutCancel(ctx), url, url)
	if err != nil {
		return nil, l.fail(url, err)
	}
	if pipelines == nil {
		pipelines = []domain.Pipeline{}
	}
	if _, err := l.store.Dispatch(store.SetPipelines{Pipelines: pipelines}); err != nil {
		return nil, err
	}
	return pipelines, nil
}

// SetPipeline makes name the current pipeline, loading the list if needed.
// It returns nil when no pipeline has that name.
func (l *Loader) SetPipeline(ctx context.Context, name string) (*domain.Pipeline, error) {
	if _, err := l.store.Dispatch(store.ClearPipeline{}); err != nil {
		return nil, err
	}
	if _, err := l.FetchPipelinesIfNeeded(ctx, ""); err != nil {
		return nil, err
	}
	snap, err := l.store.Dispatch(store.SetPipeline{Name: name})
	if err != nil {
		return nil, err
	}
	return snap.Pipeline, nil
}

func (l *Loader) ClearPipelines() error {
	_, err := l.store.Dispatch(store.ClearPipelines{})
	return err
}

func (l *Loader) ClearPipeline() error {
	_, err := l.store.Dispatch(store.ClearPipeline{})
	return err
}

// FetchRunsIfNeeded makes the pipeline's runs current, fetching them when
// they are not cached. Cached runs are never refetched here; lifecycle
// events keep them fresh.
func (l *Loader) FetchRunsIfNeeded(ctx context.Context, c address.Context) ([]domain.Run, error) {
	c = l.Context(c)
	if _, err := l.store.Dispatch(store.ClearCurrentRuns{}); err != nil {
		return nil, err
	}
	if runs, ok := l.store.Snapshot().RunsFor(c.Pipeline); ok {
		_, err := l.store.Dispatch(store.SetCurrentRuns{Runs: runs})
		return runs, err
	}

	url := address.RunsURL(c)
	runs, err := l.caches.Runs.FetchIfAbsent(context.WithoutCancel(ctx), url, url)
	if err != nil {
		return nil, l.fail(url, err)
	}
	if runs == nil {
		runs = []domain.Run{}
	}
	// Events may have populated the collection while the fetch was in flight.
	snap, err := l.store.Update(func(s store.Snapshot) ([]store.Transition, error) {
		if cached, ok := s.RunsFor(c.Pipeline); ok {
			return []store.Transition{store.SetCurrentRuns{Runs: cached}}, nil
		}
		return []store.Transition{
			store.SetCurrentRuns{Runs: runs},
			store.SetRuns{Pipeline: c.Pipeline, Runs: runs},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return snap.CurrentRuns, nil
}

// FetchBranchesIfNeeded is FetchRunsIfNeeded for the branch collection.
func (l *Loader) FetchBranchesIfNeeded(ctx context.Context, c address.Context) ([]domain.Branch, error) {
	c = l.Context(c)
	if _, err := l.store.Dispatch(store.ClearCurrentBranches{}); err != nil {
		return nil, err
	}
	if branches, ok := l.store.Snapshot().BranchesFor(c.Pipeline); ok {
		_, err := l.store.Dispatch(store.SetCurrentBranches{Branches: branches})
		return branches, err
	}

	url := address.BranchesURL(c)
	branches, err := l.caches.Branches.FetchIfAbsent(context.WithoutCancel(ctx), url, url)
	if err != nil {
		return nil, l.fail(url, err)
	}
	if branches == nil {
		branches = []domain.Branch{}
	}
	snap, err := l.store.Update(func(s store.Snapshot) ([]store.Transition, error) {
		if cached, ok := s.BranchesFor(c.Pipeline); ok {
			return []store.Transition{store.SetCurrentBranches{Branches: cached}}, nil
		}
		return []store.Transition{
			store.SetCurrentBranches{Branches: branches},
			store.SetBranches{Pipeline: c.Pipeline, Branches: branches},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return snap.CurrentBranches, nil
}

// FetchNodes loads the run's node graph, points the store at the requested
// node (or the focused one, or the last one) and loads that node's steps.
func (l *Loader) FetchNodes(ctx context.Context, c address.Context) (domain.NodesInfo, error) {
	c = l.Context(c)
	url := address.NodesURL(c)

	info, ok := l.store.Snapshot().Nodes[url]
	if !ok {
		nodes, err := l.caches.Nodes.FetchIfAbsent(context.WithoutCancel(ctx), url, url)
		if err != nil {
			return domain.NodesInfo{}, l.fail(url, err)
		}
		info = domain.Summarize(url, nodes)
		if _, err := l.store.Dispatch(store.SetNodes{Info: info}); err != nil {
			return domain.NodesInfo{}, err
		}
	}

	var (
		model domain.NodeModel
		found bool
	)
	if c.Node == "" {
		model, found = info.Focused()
	} else {
		model, found = info.Find(c.Node)
	}
	var pointer *domain.NodeModel
	if found {
		pointer = &model
	}
	if _, err := l.store.Dispatch(store.SetNode{Node: pointer}); err != nil {
		return info, err
	}
	if !found {
		return info, nil
	}
	if _, err := l.FetchSteps(ctx, c.WithNode(model.ID)); err != nil {
		return info, err
	}
	return info, nil
}

// SetNode points the store at c.Node, loading the node graph if needed.
func (l *Loader) SetNode(ctx context.Context, c address.Context) (*domain.NodeModel, error) {
	c = l.Context(c)
	info, ok := l.store.Snapshot().Nodes[address.NodesURL(c)]
	if !ok {
		if _, err := l.FetchNodes(ctx, c); err != nil {
			return nil, err
		}
		return l.store.Snapshot().Node, nil
	}
	var pointer *domain.NodeModel
	if model, found := info.Find(c.Node); found {
		pointer = &model
	}
	snap, err := l.store.Dispatch(store.SetNode{Node: pointer})
	if err != nil {
		return nil, err
	}
	return snap.Node, nil
}

func (l *Loader) CleanNodePointer() error {
	_, err := l.store.Dispatch(store.SetNode{})
	return err
}

// FetchSteps loads the steps of c.Node, or of the whole run without a node.
func (l *Loader) FetchSteps(ctx context.Context, c address.Context) (domain.NodesInfo, error) {
	c = l.Context(c)
	url := address.StepsURL(c)
	if info, ok := l.store.Snapshot().Steps[url]; ok {
		return info, nil
	}
	steps, err := l.caches.Steps.FetchIfAbsent(context.WithoutCancel(ctx), url, url)
	if err != nil {
		return domain.NodesInfo{}, l.fail(url, err)
	}
	info := domain.Summarize(url, steps)
	if _, err := l.store.Dispatch(store.SetSteps{Info: info}); err != nil {
		return domain.NodesInfo{}, err
	}
	return info, nil
}

// FetchLog loads the log of c.Node, or of the run. Logs of finished runs
// are fetched once; active logs are refetched on every call.
func (l *Loader) FetchLog(ctx context.Context, c address.Context, active bool) (domain.LogChunk, error) {
	c = l.Context(c)
	url := address.LogURL(c, address.NodesURL(c))
	if !active {
		if chunk, ok := l.store.Snapshot().Logs[url]; ok {
			return chunk, nil
		}
	}
	text, err := l.fetchText(ctx, url, active)
	if err != nil {
		return domain.LogChunk{}, l.fail(url, err)
	}
	chunk := domain.LogChunk{URL: url, Text: text}
	if _, err := l.store.Dispatch(store.SetLogs{Log: chunk}); err != nil {
		return domain.LogChunk{}, err
	}
	return chunk, nil
}

// RunLogFile is a full run log with the file name offered for download.
type RunLogFile struct {
	FileName string
	URL      string
	Text     string
}

// RunLog loads the complete log of a run for download.
func (l *Loader) RunLog(ctx context.Context, c address.Context, active bool) (RunLogFile, error) {
	c = l.Context(c)
	log := address.RunLog(c)
	text, err := l.fetchText(ctx, log.URL, active)
	if err != nil {
		return RunLogFile{}, l.fail(log.URL, err)
	}
	return RunLogFile{FileName: log.FileName, URL: log.URL, Text: text}, nil
}

func (l *Loader) fetchText(ctx context.Context, url string, active bool) (string, error) {
	if active {
		return l.caches.Logs.Refresh(context.WithoutCancel(ctx), url, url)
	}
	return l.caches.Logs.FetchIfAbsent(context.WithoutCancel(ctx), url, url)
}

// fail records err as a diagnostic message and returns it.
func (l *Loader) fail(url string, err error) error {
	l.logger.Warn("fetch failed", "url", url, "error", err)
	if _, derr := l.store.Dispatch(store.AppendMessage{Message: domain.NewErrorMessage(url, err)}); derr != nil {
		l.logger.Error("record fetch failure", "url", url, "error", derr)
	}
	return err
}
