package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Lifecycle event kinds published on the Jenkins "job" channel.
const (
	EventJobRunQueued  = "job_run_queued"
	EventJobRunStarted = "job_run_started"
	EventJobRunEnded   = "job_run_ended"
)

// Event is a lifecycle notification from the push channel. Events are never
// stored; they only drive state transitions.
type Event struct {
	JenkinsEvent    string `json:"jenkins_event"`
	Channel         string `json:"jenkins_channel,omitempty"`
	Organization    string `json:"jenkins_org,omitempty"`
	JobName         string `json:"blueocean_job_name"`
	BranchName      string `json:"blueocean_branch_name,omitempty"`
	IsMultiBranch   bool   `json:"blueocean_is_multi_branch"`
	QueueID         string `json:"job_run_queueId,omitempty"`
	ObjectID        string `json:"jenkins_object_id,omitempty"`
	RunStatus       string `json:"job_run_status,omitempty"`
	IsForCurrentJob bool   `json:"blueocean_is_for_current_job"`
}

// ImpliedState is the lifecycle phase the event claims for its run.
func (e Event) ImpliedState() RunState {
	if e.JenkinsEvent == EventJobRunEnded {
		return RunStateFinished
	}
	return RunStateRunning
}

// RunPipeline is the value runs of this event carry in Run.Pipeline: the
// branch name for multi-branch jobs, the job name otherwise.
func (e Event) RunPipeline() string {
	if e.IsMultiBranch {
		return e.BranchName
	}
	return e.JobName
}

// Matches reports whether run belongs to the event's branch. Single-branch
// events match every run of the job.
func (e Event) Matches(run Run) bool {
	return !e.IsMultiBranch || run.Pipeline == e.BranchName
}

// Jenkins publishes every property as a string; older gateways send native
// JSON types. Both are accepted.
type eventWire struct {
	JenkinsEvent    string      `json:"jenkins_event"`
	Channel         string      `json:"jenkins_channel"`
	Organization    string      `json:"jenkins_org"`
	JobName         string      `json:"blueocean_job_name"`
	BranchName      string      `json:"blueocean_branch_name"`
	IsMultiBranch   lenientBool `json:"blueocean_is_multi_branch"`
	QueueID         lenientID   `json:"job_run_queueId"`
	ObjectID        lenientID   `json:"jenkins_object_id"`
	RunStatus       string      `json:"job_run_status"`
	IsForCurrentJob lenientBool `json:"blueocean_is_for_current_job"`
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var w eventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Event{
		JenkinsEvent:    strings.TrimSpace(w.JenkinsEvent),
		Channel:         strings.TrimSpace(w.Channel),
		Organization:    strings.TrimSpace(w.Organization),
		JobName:         w.JobName,
		BranchName:      w.BranchName,
		IsMultiBranch:   bool(w.IsMultiBranch),
		QueueID:         string(w.QueueID),
		ObjectID:        string(w.ObjectID),
		RunStatus:       strings.TrimSpace(w.RunStatus),
		IsForCurrentJob: bool(w.IsForCurrentJob),
	}
	return nil
}

type lenientBool bool

func (b *lenientBool) UnmarshalJSON(data []byte) error {
	raw := strings.ToLower(strings.Trim(string(bytes.TrimSpace(data)), `"`))
	switch raw {
	case "true":
		*b = true
	case "false", "", "null":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", data)
	}
	return nil
}

type lenientID string

func (id *lenientID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = lenientID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid identifier %s", data)
	}
	*id = lenientID(n.String())
	return nil
}
