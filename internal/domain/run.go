package domain

import "strings"

// RunState is the lifecycle phase of a run as reported by Blue Ocean.
type RunState string

const (
	RunStateQueued   RunState = "QUEUED"
	RunStateRunning  RunState = "RUNNING"
	RunStateFinished RunState = "FINISHED"
)

// Result is the outcome of a run; UNKNOWN until it finishes.
type Result string

const (
	ResultUnknown  Result = "UNKNOWN"
	ResultSuccess  Result = "SUCCESS"
	ResultFailure  Result = "FAILURE"
	ResultUnstable Result = "UNSTABLE"
	ResultAborted  Result = "ABORTED"
	ResultNotBuilt Result = "NOT_BUILT"
)

func (r Result) IsFailure() bool {
	return r == ResultFailure || r == ResultAborted
}

// Run is one execution of a pipeline (or of a branch of a multi-branch
// pipeline, in which case Pipeline holds the branch name).
//
// QueueID is set only on provisional runs created from a queue notification
// and on runs promoted from one; it is never sent by the backend.
type Run struct {
	ID               string   `json:"id,omitempty"`
	QueueID          string   `json:"job_run_queueId,omitempty"`
	Pipeline         string   `json:"pipeline"`
	Organization     string   `json:"organization,omitempty"`
	State            RunState `json:"state"`
	Result           Result   `json:"result"`
	EnQueueTime      string   `json:"enQueueTime,omitempty"`
	StartTime        string   `json:"startTime,omitempty"`
	EndTime          string   `json:"endTime,omitempty"`
	DurationInMillis int64    `json:"durationInMillis,omitempty"`
	CommitID         string   `json:"commitId,omitempty"`
	RunSummary       string   `json:"runSummary,omitempty"`
}

// Provisional reports whether the backend has not assigned the run an id yet.
func (r Run) Provisional() bool {
	return r.ID == "" && r.QueueID != ""
}

// NormalizeRunState maps free-form status values to canonical run states.
func NormalizeRunState(value string) RunState {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case string(RunStateQueued):
		return RunStateQueued
	case string(RunStateRunning):
		return RunStateRunning
	case string(RunStateFinished):
		return RunStateFinished
	default:
		return ""
	}
}

// CanTransitionRunState enforces forward-only state progression. A run whose
// current state is unknown may move anywhere.
func CanTransitionRunState(current, next RunState) bool {
	if next == "" {
		return false
	}
	if current == "" || current == next {
		return true
	}
	return runStateOrder(current) < runStateOrder(next)
}

// LaterRunState returns whichever of a and b is further along the lifecycle.
func LaterRunState(a, b RunState) RunState {
	if runStateOrder(b) > runStateOrder(a) {
		return b
	}
	return a
}

func runStateOrder(state RunState) int {
	switch NormalizeRunState(string(state)) {
	case RunStateQueued:
		return 1
	case RunStateRunning:
		return 2
	case RunStateFinished:
		return 3
	default:
		return 0
	}
}
