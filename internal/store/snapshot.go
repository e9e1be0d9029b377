package store

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/bmess/blueocean-plugin/internal/domain"
)

var ErrUnknownTransition = errors.New("unknown transition")

// Snapshot is an immutable view of the dashboard state. Slices and maps in a
// snapshot are shared with later snapshots and must not be modified; build
// new ones and dispatch a transition instead.
//
// A nil collection means "not loaded", an empty one means "loaded, empty".
type Snapshot struct {
	Version         uint64                      `json:"version"`
	Pipelines       []domain.Pipeline           `json:"pipelines"`
	Pipeline        *domain.Pipeline            `json:"pipeline"`
	CurrentRuns     []domain.Run                `json:"currentRuns"`
	Runs            map[string][]domain.Run     `json:"runs"`
	CurrentBranches []domain.Branch             `json:"currentBranches"`
	Branches        map[string][]domain.Branch  `json:"branches"`
	Node            *domain.NodeModel           `json:"node"`
	Nodes           map[string]domain.NodesInfo `json:"nodes"`
	Steps           map[string]domain.NodesInfo `json:"steps"`
	Logs            map[string]domain.LogChunk  `json:"logs"`
	Messages        []domain.Message            `json:"messages"`
}

// Empty is the snapshot a new store starts from.
func Empty() Snapshot {
	return Snapshot{
		Runs:     map[string][]domain.Run{},
		Branches: map[string][]domain.Branch{},
		Nodes:    map[string]domain.NodesInfo{},
		Steps:    map[string]domain.NodesInfo{},
		Logs:     map[string]domain.LogChunk{},
	}
}

// RunsFor returns the cached runs of a pipeline.
func (s Snapshot) RunsFor(pipeline string) ([]domain.Run, bool) {
	runs, ok := s.Runs[pipeline]
	return runs, ok
}

// BranchesFor returns the cached branches of a pipeline.
func (s Snapshot) BranchesFor(pipeline string) ([]domain.Branch, bool) {
	branches, ok := s.Branches[pipeline]
	return branches, ok
}

// IsCurrentPipeline reports whether name is the pipeline being viewed.
func (s Snapshot) IsCurrentPipeline(name string) bool {
	return s.Pipeline != nil && s.Pipeline.Name == name
}

// Apply returns the snapshot that results from t. It never modifies s and
// does not change Version; Store owns versioning.
func Apply(s Snapshot, t Transition) (Snapshot, error) {
	switch t := t.(type) {
	case SetPipelines:
		s.Pipelines = t.Pipelines
	case ClearPipelines:
		s.Pipelines = nil
	case SetPipeline:
		s.Pipeline = nil
		if s.Pipelines != nil {
			if p, ok := domain.FindPipeline(s.Pipelines, t.Name); ok {
				s.Pipeline = &p
			}
		}
	case ClearPipeline:
		s.Pipeline = nil
	case SetRuns:
		s.Runs = with(s.Runs, t.Pipeline, t.Runs)
	case SetCurrentRuns:
		s.CurrentRuns = t.Runs
	case ClearCurrentRuns:
		s.CurrentRuns = nil
	case SetBranches:
		s.Branches = with(s.Branches, t.Pipeline, t.Branches)
	case SetCurrentBranches:
		s.CurrentBranches = t.Branches
	case ClearCurrentBranches:
		s.CurrentBranches = nil
	case UpdateBranch:
		branches, ok := s.Branches[t.Pipeline]
		if !ok {
			return s, nil
		}
		updated := slices.Clone(branches)
		for i := range updated {
			if updated[i].Name == t.Branch.Name {
				updated[i] = t.Branch
			}
		}
		s.Branches = with(s.Branches, t.Pipeline, updated)
		s.CurrentBranches = updated
	case SetNode:
		s.Node = t.Node
	case SetNodes:
		s.Nodes = with(s.Nodes, t.Info.URL, t.Info)
	case SetSteps:
		s.Steps = with(s.Steps, t.Info.URL, t.Info)
	case SetLogs:
		s.Logs = with(s.Logs, t.Log.URL, t.Log)
	case AppendMessage:
		messages := make([]domain.Message, len(s.Messages), len(s.Messages)+1)
		copy(messages, s.Messages)
		s.Messages = append(messages, t.Message)
	default:
		return s, fmt.Errorf("%w: %T", ErrUnknownTransition, t)
	}
	return s, nil
}

// with copies m and sets key, leaving every other entry shared.
func with[V any](m map[string]V, key string, v V) map[string]V {
	out := maps.Clone(m)
	if out == nil {
		out = make(map[string]V, 1)
	}
	out[key] = v
	return out
}
