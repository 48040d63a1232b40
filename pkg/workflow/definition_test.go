package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/flowcomposer/pkg/graph"
	"github.com/tcmartin/flowcomposer/pkg/workflow"
)

func validDefinition() workflow.Definition {
	return workflow.Definition{
		Metadata: workflow.Metadata{Name: "valid"},
		Nodes: []graph.Node{
			{ID: "a", Kind: graph.KindInput},
			{ID: "b", Kind: graph.KindOutput},
		},
		Edges: []graph.Edge{
			{ID: "e1", Source: "a", Target: "b"},
		},
	}
}

func TestValidateAcceptsWellFormedDefinition(t *testing.T) {
	assert.NoError(t, validDefinition().Validate())
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*workflow.Definition)
		wantErr string
	}{
		{
			name:    "missing name",
			mutate:  func(d *workflow.Definition) { d.Metadata.Name = "" },
			wantErr: "name is required",
		},
		{
			name:    "no nodes",
			mutate:  func(d *workflow.Definition) { d.Nodes = nil },
			wantErr: "at least one node",
		},
		{
			name:    "node without id",
			mutate:  func(d *workflow.Definition) { d.Nodes[0].ID = "" },
			wantErr: "node without an id",
		},
		{
			name:    "duplicate node id",
			mutate:  func(d *workflow.Definition) { d.Nodes[1].ID = "a" },
			wantErr: "duplicate node id 'a'",
		},
		{
			name:    "unknown kind",
			mutate:  func(d *workflow.Definition) { d.Nodes[0].Kind = "teleporter" },
			wantErr: "unknown kind 'teleporter'",
		},
		{
			name:    "edge without id",
			mutate:  func(d *workflow.Definition) { d.Edges[0].ID = "" },
			wantErr: "edge without an id",
		},
		{
			name: "duplicate edge id",
			mutate: func(d *workflow.Definition) {
				d.Edges = append(d.Edges, graph.Edge{ID: "e1", Source: "b", Target: "a"})
			},
			wantErr: "duplicate edge id 'e1'",
		},
		{
			name:    "edge with missing source",
			mutate:  func(d *workflow.Definition) { d.Edges[0].Source = "ghost" },
			wantErr: "non-existent source node 'ghost'",
		},
		{
			name:    "edge with missing target",
			mutate:  func(d *workflow.Definition) { d.Edges[0].Target = "ghost" },
			wantErr: "non-existent target node 'ghost'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDefinition()
			tt.mutate(&def)

			err := def.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSnapshotConversion(t *testing.T) {
	def := validDefinition()

	snapshot := def.Snapshot()
	require.Len(t, snapshot.Nodes, 2)
	require.Len(t, snapshot.Edges, 1)

	rebuilt := workflow.FromSnapshot(def.Metadata, snapshot)
	assert.Equal(t, def, rebuilt)
}
