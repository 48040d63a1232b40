// Package assist turns free-text commands into typed graph-edit plans via a
// remote suggestion source, and applies them under a confirmation gate when
// they delete nodes.
package assist

import (
	"encoding/json"
	"fmt"

	"github.com/tcmartin/flowcomposer/pkg/graph"
)

// ActionType tags a graph-edit action
type ActionType string

// Action types a suggestion source may return
const (
	ActionAddNode    ActionType = "ADD_NODE"
	ActionDeleteNode ActionType = "DELETE_NODE"
	ActionUpdateNode ActionType = "UPDATE_NODE"
	ActionCreateEdge ActionType = "CREATE_EDGE"
	ActionDeleteEdge ActionType = "DELETE_EDGE"
)

// Known reports whether the type is one the pipeline can apply
func (t ActionType) Known() bool {
	switch t {
	case ActionAddNode, ActionDeleteNode, ActionUpdateNode, ActionCreateEdge, ActionDeleteEdge:
		return true
	}
	return false
}

// EdgeParams carries the fields of a CREATE_EDGE payload
type EdgeParams struct {
	// Source is the id of the node the edge leaves
	Source string `json:"source"`

	// Target is the id of the node the edge enters
	Target string `json:"target"`

	// SourceHandle is the source port
	SourceHandle string `json:"source_handle,omitempty"`

	// TargetHandle is the target port
	TargetHandle string `json:"target_handle,omitempty"`
}

// Action is one typed graph edit. The Type tag decides which payload field
// is set; actions with an unrecognized tag keep their raw bytes and are
// skipped with a diagnostic at apply time.
type Action struct {
	// Type tags the action
	Type ActionType

	// Node is the node to add, for ADD_NODE
	Node *graph.Node

	// NodeID targets a node, for DELETE_NODE and UPDATE_NODE
	NodeID string

	// Patch is merged into the target node's data, for UPDATE_NODE
	Patch map[string]interface{}

	// Edge holds the connection parameters, for CREATE_EDGE
	Edge *EdgeParams

	// EdgeID targets an edge, for DELETE_EDGE
	EdgeID string

	// Raw is the undecoded action, retained when the tag is unknown
	Raw json.RawMessage
}

// actionWire is the JSON shape actions travel in
type actionWire struct {
	Action  ActionType      `json:"action"`
	NodeID  string          `json:"node_id,omitempty"`
	EdgeID  string          `json:"edge_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// UnmarshalJSON decodes one action, resolving the payload by tag
func (a *Action) UnmarshalJSON(data []byte) error {
	var wire actionWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("failed to decode action: %w", err)
	}

	*a = Action{Type: wire.Action}

	switch wire.Action {
	case ActionAddNode:
		var node graph.Node
		if err := json.Unmarshal(wire.Payload, &node); err != nil {
			return fmt.Errorf("failed to decode ADD_NODE payload: %w", err)
		}
		a.Node = &node
	case ActionDeleteNode:
		a.NodeID = wire.NodeID
	case ActionUpdateNode:
		a.NodeID = wire.NodeID
		if len(wire.Payload) > 0 {
			if err := json.Unmarshal(wire.Payload, &a.Patch); err != nil {
				return fmt.Errorf("failed to decode UPDATE_NODE payload: %w", err)
			}
		}
	case ActionCreateEdge:
		var params EdgeParams
		if err := json.Unmarshal(wire.Payload, &params); err != nil {
			return fmt.Errorf("failed to decode CREATE_EDGE payload: %w", err)
		}
		a.Edge = &params
	case ActionDeleteEdge:
		a.EdgeID = wire.EdgeID
	default:
		a.Raw = append(json.RawMessage(nil), data...)
	}

	return nil
}

// MarshalJSON encodes the action back into its wire shape
func (a Action) MarshalJSON() ([]byte, error) {
	if !a.Type.Known() && len(a.Raw) > 0 {
		return a.Raw, nil
	}

	wire := actionWire{Action: a.Type, NodeID: a.NodeID, EdgeID: a.EdgeID}

	var payload interface{}
	switch a.Type {
	case ActionAddNode:
		payload = a.Node
	case ActionUpdateNode:
		payload = a.Patch
	case ActionCreateEdge:
		payload = a.Edge
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", a.Type, err)
		}
		wire.Payload = data
	}

	return json.Marshal(wire)
}

// Describe returns a short human-readable form of the action, used when a
// pending plan is shown for confirmation
func (a Action) Describe() string {
	switch a.Type {
	case ActionAddNode:
		if a.Node != nil {
			return fmt.Sprintf("add %s node %q", a.Node.Kind, a.Node.Label())
		}
		return "add node"
	case ActionDeleteNode:
		return fmt.Sprintf("delete node %q", a.NodeID)
	case ActionUpdateNode:
		return fmt.Sprintf("update node %q", a.NodeID)
	case ActionCreateEdge:
		if a.Edge != nil {
			return fmt.Sprintf("connect %q to %q", a.Edge.Source, a.Edge.Target)
		}
		return "connect nodes"
	case ActionDeleteEdge:
		return fmt.Sprintf("delete edge %q", a.EdgeID)
	default:
		return fmt.Sprintf("unknown action %q", string(a.Type))
	}
}

// Plan is an ordered list of graph-edit actions
type Plan struct {
	// Actions in application order
	Actions []Action `json:"actions"`
}

// Empty reports whether the plan contains no actions
func (p Plan) Empty() bool {
	return len(p.Actions) == 0
}

// Destructive reports whether the plan deletes any node. Destructive plans
// require explicit confirmation before they apply.
func (p Plan) Destructive() bool {
	for _, action := range p.Actions {
		if action.Type == ActionDeleteNode {
			return true
		}
	}
	return false
}

// Describe returns one line per action for confirmation prompts
func (p Plan) Describe() []string {
	lines := make([]string, 0, len(p.Actions))
	for _, action := range p.Actions {
		lines = append(lines, action.Describe())
	}
	return lines
}
