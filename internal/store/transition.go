package store

import "github.com/bmess/blueocean-plugin/internal/domain"

// Transition is one state change request. The set of transitions is closed:
// only types in this package implement it.
type Transition interface {
	Kind() string
	transition()
}

type SetPipelines struct {
	Pipelines []domain.Pipeline
}

type ClearPipelines struct{}

// SetPipeline selects the current pipeline by name from the loaded list.
type SetPipeline struct {
	Name string
}

type ClearPipeline struct{}

// SetRuns replaces the run collection cached for one pipeline.
type SetRuns struct {
	Pipeline string
	Runs     []domain.Run
}

type SetCurrentRuns struct {
	Runs []domain.Run
}

type ClearCurrentRuns struct{}

type SetBranches struct {
	Pipeline string
	Branches []domain.Branch
}

type SetCurrentBranches struct {
	Branches []domain.Branch
}

type ClearCurrentBranches struct{}

// UpdateBranch replaces one branch, by name, in a pipeline's collection.
type UpdateBranch struct {
	Pipeline string
	Branch   domain.Branch
}

// SetNode points at the node being viewed. A nil Node clears the pointer.
type SetNode struct {
	Node *domain.NodeModel
}

// SetNodes stores a node collection under Info.URL.
type SetNodes struct {
	Info domain.NodesInfo
}

// SetSteps stores a step collection under Info.URL.
type SetSteps struct {
	Info domain.NodesInfo
}

// SetLogs stores a log under Log.URL.
type SetLogs struct {
	Log domain.LogChunk
}

type AppendMessage struct {
	Message domain.Message
}

func (SetPipelines) Kind() string         { return "set_pipelines" }
func (ClearPipelines) Kind() string       { return "clear_pipelines" }
func (SetPipeline) Kind() string          { return "set_pipeline" }
func (ClearPipeline) Kind() string        { return "clear_pipeline" }
func (SetRuns) Kind() string              { return "set_runs" }
func (SetCurrentRuns) Kind() string       { return "set_current_runs" }
func (ClearCurrentRuns) Kind() string     { return "clear_current_runs" }
func (SetBranches) Kind() string          { return "set_branches" }
func (SetCurrentBranches) Kind() string   { return "set_current_branches" }
func (ClearCurrentBranches) Kind() string { return "clear_current_branches" }
func (UpdateBranch) Kind() string         { return "update_branch" }
func (SetNode) Kind() string              { return "set_node" }
func (SetNodes) Kind() string             { return "set_nodes" }
func (SetSteps) Kind() string             { return "set_steps" }
func (SetLogs) Kind() string              { return "set_logs" }
func (AppendMessage) Kind() string        { return "append_message" }

func (SetPipelines) transition()         {}
func (ClearPipelines) transition()       {}
func (SetPipeline) transition()          {}
func (ClearPipeline) transition()        {}
func (SetRuns) transition()              {}
func (SetCurrentRuns) transition()       {}
func (ClearCurrentRuns) transition()     {}
func (SetBranches) transition()          {}
func (SetCurrentBranches) transition()   {}
func (ClearCurrentBranches) transition() {}
func (UpdateBranch) transition()         {}
func (SetNode) transition()              {}
func (SetNodes) transition()             {}
func (SetSteps) transition()             {}
func (SetLogs) transition()              {}
func (AppendMessage) transition()        {}
