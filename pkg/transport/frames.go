// Package transport delivers execution status events for one execution id
// over a WebSocket stream, degrading automatically to a bounded polling
// fallback when the stream is unusable. Exactly one delivery path is active
// at a time, and the downstream handler contract is the same for both.
package transport

import (
	"encoding/json"
	"fmt"
)

// EventType tags an execution status frame
type EventType string

// Frame types streamed by the execution engine
const (
	EventNodeUpdate     EventType = "node_update"
	EventWorkflowUpdate EventType = "workflow_update"
	EventProgressUpdate EventType = "progress_update"
	EventInputRequest   EventType = "input_request"
	EventInputReceived  EventType = "input_received"
)

// Known reports whether the type is one the composer understands. Unknown
// frames are preserved and delivered so handlers can log them.
func (t EventType) Known() bool {
	switch t {
	case EventNodeUpdate, EventWorkflowUpdate, EventProgressUpdate, EventInputRequest, EventInputReceived:
		return true
	}
	return false
}

// Progress carries aggregate progress from a progress_update frame
type Progress struct {
	// Percentage is overall completion, 0 to 100
	Percentage float64 `json:"percentage"`

	// NodeStatus maps node id to its reported status
	NodeStatus map[string]string `json:"node_status,omitempty"`

	// CurrentActivity is a human-readable description of what is running
	CurrentActivity string `json:"current_activity,omitempty"`
}

// WorkflowIdentity is a suggested name for a workflow, attached to some frames
type WorkflowIdentity struct {
	// Name is the suggested workflow name
	Name string `json:"name"`

	// Description is a one-line summary
	Description string `json:"description,omitempty"`

	// Category is a coarse grouping
	Category string `json:"category,omitempty"`

	// Confidence is the suggestion confidence, 0 to 1
	Confidence float64 `json:"confidence,omitempty"`
}

// Event is one execution status frame. The Type tag says which of the
// optional fields are meaningful; frames with an unrecognized tag keep
// their raw bytes so nothing is silently lost.
type Event struct {
	// Type tags the frame
	Type EventType `json:"type"`

	// ExecutionID identifies the run, when the engine includes it
	ExecutionID string `json:"execution_id,omitempty"`

	// NodeID is the subject node of a node_update or input frame
	NodeID string `json:"node_id,omitempty"`

	// Status is a node status for node_update frames and an overall status
	// for workflow_update frames
	Status string `json:"status,omitempty"`

	// Cost is the cost attributed to the node so far
	Cost *float64 `json:"cost,omitempty"`

	// Progress carries aggregate progress for progress_update frames
	Progress *Progress `json:"progress,omitempty"`

	// Error describes a failure
	Error string `json:"error,omitempty"`

	// Identity is a workflow naming suggestion
	Identity *WorkflowIdentity `json:"workflow_identity,omitempty"`

	// Raw is the undecoded frame, retained for every event
	Raw json.RawMessage `json:"-"`
}

// ParseEvent decodes one frame. Frames that are not JSON objects are an
// error; frames with an unknown type decode successfully and report
// Type.Known() == false.
func ParseEvent(data []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("failed to decode execution frame: %w", err)
	}
	event.Raw = append(json.RawMessage(nil), data...)
	return event, nil
}

// ExecutionStatus is the snapshot shape returned by the execute and
// execution-status endpoints, and forwarded by the polling fallback.
type ExecutionStatus struct {
	// ExecutionID identifies the run
	ExecutionID string `json:"execution_id"`

	// Status is the overall run status
	Status string `json:"status"`

	// Result is the run's free-form output, present once completed
	Result interface{} `json:"result,omitempty"`

	// Trace is the engine's per-step trace, passed through untyped
	Trace []map[string]interface{} `json:"trace,omitempty"`

	// Error describes the run failure, if any
	Error string `json:"error,omitempty"`
}

// TerminalStatus reports whether an overall status string means the run
// has finished
func TerminalStatus(status string) bool {
	return status == "completed" || status == "failed"
}

// Terminal reports whether the status means the run has finished
func (s ExecutionStatus) Terminal() bool {
	return TerminalStatus(s.Status)
}

// Event converts the snapshot to the uniform frame shape handlers consume
func (s ExecutionStatus) Event() Event {
	return Event{
		Type:        EventWorkflowUpdate,
		ExecutionID: s.ExecutionID,
		Status:      s.Status,
		Error:       s.Error,
	}
}
