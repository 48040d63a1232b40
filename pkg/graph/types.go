// Package graph provides the node/edge data model and the mutable store
// behind a workflow canvas. All mutation is funneled through the store's
// named operations so every caller observes the same committed collections.
package graph

// NodeKind identifies what a node does in a workflow
type NodeKind string

// Node kinds understood by the composer
const (
	KindAgent       NodeKind = "agent"
	KindTool        NodeKind = "tool"
	KindInput       NodeKind = "input"
	KindOutput      NodeKind = "output"
	KindConditional NodeKind = "conditional"
)

// KnownKind reports whether kind is one of the composer's node kinds
func KnownKind(kind NodeKind) bool {
	switch kind {
	case KindAgent, KindTool, KindInput, KindOutput, KindConditional:
		return true
	}
	return false
}

// ToolHandle is the distinguished target port that attaches a tool to an
// agent. Edges into this port render dashed and static rather than
// solid and animated.
const ToolHandle = "tool"

// Position is a node's 2D canvas coordinate
type Position struct {
	// X coordinate
	X float64 `json:"x" yaml:"x"`

	// Y coordinate
	Y float64 `json:"y" yaml:"y"`
}

// Node is a unit in the workflow graph
type Node struct {
	// ID uniquely identifies the node within a graph
	ID string `json:"id" yaml:"id"`

	// Kind is the node's role (agent, tool, input, output, conditional)
	Kind NodeKind `json:"kind" yaml:"kind"`

	// Position is the node's canvas coordinate
	Position Position `json:"position" yaml:"position"`

	// Data holds kind-specific configuration (label, model, instructions,
	// tool type, condition rules)
	Data map[string]interface{} `json:"data,omitempty" yaml:"data,omitempty"`

	// Selected marks the node as selected on the canvas
	Selected bool `json:"selected,omitempty" yaml:"-"`
}

// Label returns the node's display label, falling back to its id
func (n Node) Label() string {
	if n.Data != nil {
		if label, ok := n.Data["label"].(string); ok && label != "" {
			return label
		}
	}
	return n.ID
}

// Clone returns a deep copy of the node
func (n Node) Clone() Node {
	copied := n
	copied.Data = copyValueMap(n.Data)
	return copied
}

// Edge is a directed connection between two nodes, optionally port-qualified
type Edge struct {
	// ID uniquely identifies the edge within a graph
	ID string `json:"id" yaml:"id"`

	// Source is the id of the node the edge leaves
	Source string `json:"source" yaml:"source"`

	// Target is the id of the node the edge enters
	Target string `json:"target" yaml:"target"`

	// SourceHandle is the source port, when the source node has more than one
	SourceHandle string `json:"source_handle,omitempty" yaml:"source_handle,omitempty"`

	// TargetHandle is the target port, when the target node has more than one
	TargetHandle string `json:"target_handle,omitempty" yaml:"target_handle,omitempty"`

	// Label is an optional display label
	Label string `json:"label,omitempty" yaml:"label,omitempty"`

	// Animated marks the edge as animated on the canvas
	Animated bool `json:"animated,omitempty" yaml:"animated,omitempty"`

	// Dashed marks the edge as dashed rather than solid
	Dashed bool `json:"dashed,omitempty" yaml:"dashed,omitempty"`

	// Selected marks the edge as selected on the canvas
	Selected bool `json:"selected,omitempty" yaml:"-"`
}

// Touches reports whether the edge has id as its source or target
func (e Edge) Touches(id string) bool {
	return e.Source == id || e.Target == id
}

// Connection carries the parameters for a new edge between two ports
type Connection struct {
	// Source is the id of the node the edge leaves
	Source string `json:"source"`

	// Target is the id of the node the edge enters
	Target string `json:"target"`

	// SourceHandle is the source port
	SourceHandle string `json:"source_handle,omitempty"`

	// TargetHandle is the target port
	TargetHandle string `json:"target_handle,omitempty"`
}

// Snapshot is an immutable copy of the store's collections
type Snapshot struct {
	// Nodes in the graph
	Nodes []Node `json:"nodes"`

	// Edges in the graph
	Edges []Edge `json:"edges"`
}

// Clone returns a deep copy of the snapshot
func (s Snapshot) Clone() Snapshot {
	return Snapshot{Nodes: cloneNodes(s.Nodes), Edges: cloneEdges(s.Edges)}
}

// NodeIDs returns the ids of every node in the snapshot
func (s Snapshot) NodeIDs() []string {
	ids := make([]string, 0, len(s.Nodes))
	for _, node := range s.Nodes {
		ids = append(ids, node.ID)
	}
	return ids
}

func cloneNodes(nodes []Node) []Node {
	copied := make([]Node, len(nodes))
	for i, node := range nodes {
		copied[i] = node.Clone()
	}
	return copied
}

func cloneEdges(edges []Edge) []Edge {
	copied := make([]Edge, len(edges))
	copy(copied, edges)
	return copied
}

func copyValueMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch value := v.(type) {
	case map[string]interface{}:
		return copyValueMap(value)
	case []interface{}:
		copied := make([]interface{}, len(value))
		for i, item := range value {
			copied[i] = copyValue(item)
		}
		return copied
	default:
		return v
	}
}
