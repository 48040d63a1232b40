// Package workflow persists composer graphs as YAML documents with
// identifying metadata, and validates them before they are loaded onto
// a canvas or submitted for execution.
package workflow

import (
	"fmt"

	"github.com/tcmartin/flowcomposer/pkg/graph"
)

// Metadata identifies a workflow definition
type Metadata struct {
	// Name of the workflow
	Name string `yaml:"name" json:"name"`

	// Description of the workflow
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Category groups related workflows (research, automation, ...)
	Category string `yaml:"category,omitempty" json:"category,omitempty"`

	// Version of the definition format
	Version string `yaml:"version,omitempty" json:"version,omitempty"`
}

// Definition is a complete serializable workflow
type Definition struct {
	// Metadata about the workflow
	Metadata Metadata `yaml:"metadata" json:"metadata"`

	// Nodes in the workflow
	Nodes []graph.Node `yaml:"nodes" json:"nodes"`

	// Edges connecting the nodes
	Edges []graph.Edge `yaml:"edges" json:"edges"`
}

// FromSnapshot builds a definition from a graph snapshot
func FromSnapshot(meta Metadata, snapshot graph.Snapshot) Definition {
	return Definition{
		Metadata: meta,
		Nodes:    snapshot.Nodes,
		Edges:    snapshot.Edges,
	}
}

// Snapshot converts the definition into a graph snapshot
func (d Definition) Snapshot() graph.Snapshot {
	return graph.Snapshot{Nodes: d.Nodes, Edges: d.Edges}
}

// Validate checks that the definition is structurally sound
func (d Definition) Validate() error {
	if d.Metadata.Name == "" {
		return fmt.Errorf("workflow name is required")
	}

	if len(d.Nodes) == 0 {
		return fmt.Errorf("workflow must have at least one node")
	}

	nodeIDs := make(map[string]bool, len(d.Nodes))
	for _, node := range d.Nodes {
		if node.ID == "" {
			return fmt.Errorf("workflow contains a node without an id")
		}
		if nodeIDs[node.ID] {
			return fmt.Errorf("duplicate node id '%s'", node.ID)
		}
		if !graph.KnownKind(node.Kind) {
			return fmt.Errorf("node '%s' has unknown kind '%s'", node.ID, node.Kind)
		}
		nodeIDs[node.ID] = true
	}

	edgeIDs := make(map[string]bool, len(d.Edges))
	for _, edge := range d.Edges {
		if edge.ID == "" {
			return fmt.Errorf("workflow contains an edge without an id")
		}
		if edgeIDs[edge.ID] {
			return fmt.Errorf("duplicate edge id '%s'", edge.ID)
		}
		if !nodeIDs[edge.Source] {
			return fmt.Errorf("edge '%s' references non-existent source node '%s'", edge.ID, edge.Source)
		}
		if !nodeIDs[edge.Target] {
			return fmt.Errorf("edge '%s' references non-existent target node '%s'", edge.ID, edge.Target)
		}
		edgeIDs[edge.ID] = true
	}

	return nil
}
