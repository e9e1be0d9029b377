package domain

// Node is one stage or parallel branch in the execution graph of a run.
// Steps use the same representation.
type Node struct {
	ID               string     `json:"id"`
	DisplayName      string     `json:"displayName"`
	Type             string     `json:"type,omitempty"`
	State            RunState   `json:"state,omitempty"`
	Result           Result     `json:"result,omitempty"`
	DurationInMillis int64      `json:"durationInMillis,omitempty"`
	StartTime        string     `json:"startTime,omitempty"`
	Edges            []NodeEdge `json:"edges,omitempty"`
}

type NodeEdge struct {
	ID string `json:"id"`
}

// NodeModel is a node annotated for display.
type NodeModel struct {
	Node
	IsCompleted bool `json:"isCompleted"`
	IsRunning   bool `json:"isRunning"`
	IsError     bool `json:"isError"`
	IsFocused   bool `json:"isFocused"`
}

// NodesInfo is the display model of a node or step collection, keyed by the
// URL it was fetched from.
type NodesInfo struct {
	URL        string      `json:"url"`
	Model      []NodeModel `json:"model"`
	IsFinished bool        `json:"isFinished"`
	IsRunning  bool        `json:"isRunning"`
	IsError    bool        `json:"isError"`
	HasResults bool        `json:"hasResults"`
}

// Summarize annotates nodes. The focused node is the first failed one, or the
// first running one when nothing failed.
func Summarize(url string, nodes []Node) NodesInfo {
	info := NodesInfo{
		URL:        url,
		Model:      make([]NodeModel, 0, len(nodes)),
		IsFinished: len(nodes) > 0,
	}
	focused := -1
	firstRunning := -1
	for i, n := range nodes {
		m := NodeModel{
			Node:        n,
			IsCompleted: n.State == RunStateFinished,
			IsRunning:   n.State == RunStateRunning,
			IsError:     n.Result.IsFailure(),
		}
		if !m.IsCompleted {
			info.IsFinished = false
		}
		if m.IsRunning {
			info.IsRunning = true
			if firstRunning < 0 {
				firstRunning = i
			}
		}
		if m.IsError {
			info.IsError = true
			if focused < 0 {
				focused = i
			}
		}
		if n.Result != "" && n.Result != ResultUnknown {
			info.HasResults = true
		}
		info.Model = append(info.Model, m)
	}
	if focused < 0 {
		focused = firstRunning
	}
	if focused >= 0 {
		info.Model[focused].IsFocused = true
	}
	return info
}

// Focused returns the focused node, falling back to the last node.
func (n NodesInfo) Focused() (NodeModel, bool) {
	for _, m := range n.Model {
		if m.IsFocused {
			return m, true
		}
	}
	if len(n.Model) == 0 {
		return NodeModel{}, false
	}
	return n.Model[len(n.Model)-1], true
}

// Find returns the node with the given id.
func (n NodesInfo) Find(id string) (NodeModel, bool) {
	for _, m := range n.Model {
		if m.ID == id {
			return m, true
		}
	}
	return NodeModel{}, false
}
