// Package execution tracks the state of one remote workflow run. It absorbs
// asynchronous per-node status events from a transport and maintains a
// consistent derived view (overall status, progress, cost) for presentation.
package execution

import "time"

// NodeStatus is the execution status of a single node
type NodeStatus string

// Node statuses, in lifecycle order
const (
	StatusIdle      NodeStatus = "idle"
	StatusPending   NodeStatus = "pending"
	StatusRunning   NodeStatus = "running"
	StatusCompleted NodeStatus = "completed"
	StatusFailed    NodeStatus = "failed"
	StatusWaiting   NodeStatus = "waiting"
)

// Terminal reports whether the status is a final one
func (s NodeStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// OverallStatus is the aggregate status of a run
type OverallStatus string

// Overall statuses
const (
	OverallIdle            OverallStatus = "idle"
	OverallRunning         OverallStatus = "running"
	OverallCompleted       OverallStatus = "completed"
	OverallFailed          OverallStatus = "failed"
	OverallWaitingForInput OverallStatus = "waiting_for_input"
)

// Terminal reports whether the run has finished
func (s OverallStatus) Terminal() bool {
	return s == OverallCompleted || s == OverallFailed
}

// NodeState is the tracked execution state of one node
type NodeState struct {
	// Status is the node's current status
	Status NodeStatus `json:"status"`

	// StartTime is when the node began running
	StartTime *time.Time `json:"start_time,omitempty"`

	// EndTime is when the node reached a terminal status
	EndTime *time.Time `json:"end_time,omitempty"`

	// Progress is the node's own progress, 0 to 100
	Progress float64 `json:"progress,omitempty"`

	// Cost is the accumulated cost attributed to the node
	Cost float64 `json:"cost,omitempty"`

	// Error describes the node's failure, if any
	Error string `json:"error,omitempty"`
}

// NodeUpdate is a partial update merged into a node's state. Zero-value
// fields leave the existing value in place.
type NodeUpdate struct {
	// Status replaces the node's status when non-empty
	Status NodeStatus `json:"status,omitempty"`

	// StartTime replaces the start time when set
	StartTime *time.Time `json:"start_time,omitempty"`

	// EndTime replaces the end time when set
	EndTime *time.Time `json:"end_time,omitempty"`

	// Progress replaces the node's progress when set
	Progress *float64 `json:"progress,omitempty"`

	// Cost replaces the node's cost when set
	Cost *float64 `json:"cost,omitempty"`

	// Error replaces the node's error when non-empty
	Error string `json:"error,omitempty"`
}

// Snapshot is a copy of the tracker's full view at one committed state
type Snapshot struct {
	// ExecutionID identifies the tracked run; empty when nothing is tracked
	ExecutionID string `json:"execution_id"`

	// Overall is the aggregate run status
	Overall OverallStatus `json:"overall"`

	// Nodes maps node id to its tracked state
	Nodes map[string]NodeState `json:"nodes"`

	// Progress is the fraction of nodes in a terminal status, 0 to 100
	Progress float64 `json:"progress"`

	// TotalCost is the sum of per-node costs
	TotalCost float64 `json:"total_cost"`

	// Error is the execution-level error, if any
	Error string `json:"error,omitempty"`
}
