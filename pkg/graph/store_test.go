package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/flowcomposer/pkg/logging"
)

func newTestStore() *Store {
	return NewStore(WithLogger(logging.Nop()))
}

func pipelineGraph() ([]Node, []Edge) {
	nodes := []Node{
		{ID: "input-1", Kind: KindInput, Data: map[string]interface{}{"label": "Input"}},
		{ID: "agent-1", Kind: KindAgent, Data: map[string]interface{}{"label": "Agent", "model": "gpt-4"}},
		{ID: "output-1", Kind: KindOutput, Data: map[string]interface{}{"label": "Output"}},
	}
	edges := []Edge{
		{ID: "e1", Source: "input-1", Target: "agent-1", Animated: true},
		{ID: "e2", Source: "agent-1", Target: "output-1", Animated: true},
	}
	return nodes, edges
}

func TestDeleteNodePrunesIncidentEdges(t *testing.T) {
	store := newTestStore()
	nodes, edges := pipelineGraph()
	store.SetGraph(nodes, edges)

	// Every committed state a subscriber sees must already have the edges
	// pruned; a dangling edge in any notification is a correctness bug.
	var observed []Snapshot
	store.Subscribe(func(s Snapshot) {
		observed = append(observed, s)
	})

	store.DeleteNode("agent-1")

	require.Len(t, observed, 1)
	snapshot := observed[0]
	require.Len(t, snapshot.Nodes, 2)
	assert.Equal(t, "input-1", snapshot.Nodes[0].ID)
	assert.Equal(t, "output-1", snapshot.Nodes[1].ID)
	assert.Empty(t, snapshot.Edges)

	final := store.Snapshot()
	assert.Len(t, final.Nodes, 2)
	assert.Empty(t, final.Edges)
}

func TestDeleteNodeAbsentIsNoOp(t *testing.T) {
	store := newTestStore()
	nodes, edges := pipelineGraph()
	store.SetGraph(nodes, edges)

	before := store.Snapshot()

	notified := 0
	store.Subscribe(func(Snapshot) { notified++ })

	store.DeleteNode("ghost")

	after := store.Snapshot()
	assert.Equal(t, before, after)
	assert.Zero(t, notified, "a no-op must not notify subscribers")
}

func TestDeleteNodesBatch(t *testing.T) {
	store := newTestStore()
	nodes, edges := pipelineGraph()
	store.SetGraph(nodes, edges)

	store.DeleteNodes("input-1", "output-1", "ghost")

	snapshot := store.Snapshot()
	require.Len(t, snapshot.Nodes, 1)
	assert.Equal(t, "agent-1", snapshot.Nodes[0].ID)
	assert.Empty(t, snapshot.Edges)
}

func TestUpdateNodeMergesData(t *testing.T) {
	store := newTestStore()
	nodes, edges := pipelineGraph()
	store.SetGraph(nodes, edges)

	store.UpdateNode("agent-1", map[string]interface{}{
		"model":        "claude-3",
		"instructions": "Summarize the input",
	})

	node, ok := store.Node("agent-1")
	require.True(t, ok)
	assert.Equal(t, "Agent", node.Data["label"], "untouched keys survive the merge")
	assert.Equal(t, "claude-3", node.Data["model"])
	assert.Equal(t, "Summarize the input", node.Data["instructions"])
}

func TestUpdateNodeUnknownIsNoOp(t *testing.T) {
	store := newTestStore()
	nodes, edges := pipelineGraph()
	store.SetGraph(nodes, edges)

	before := store.Snapshot()
	store.UpdateNode("ghost", map[string]interface{}{"label": "Ghost"})
	assert.Equal(t, before, store.Snapshot())
}

func TestConnectStylesToolEdges(t *testing.T) {
	store := newTestStore()
	store.SetGraph([]Node{
		{ID: "agent-1", Kind: KindAgent},
		{ID: "tool-1", Kind: KindTool},
		{ID: "output-1", Kind: KindOutput},
	}, nil)

	toolEdgeID := store.Connect(Connection{Source: "tool-1", Target: "agent-1", TargetHandle: ToolHandle})
	dataEdgeID := store.Connect(Connection{Source: "agent-1", Target: "output-1"})

	edges := store.Edges()
	require.Len(t, edges, 2)

	byID := map[string]Edge{}
	for _, edge := range edges {
		byID[edge.ID] = edge
	}

	toolEdge := byID[toolEdgeID]
	assert.True(t, toolEdge.Dashed)
	assert.False(t, toolEdge.Animated)
	assert.Equal(t, ToolHandle, toolEdge.TargetHandle)

	dataEdge := byID[dataEdgeID]
	assert.False(t, dataEdge.Dashed)
	assert.True(t, dataEdge.Animated)
}

func TestSnapshotsAreIsolated(t *testing.T) {
	store := newTestStore()
	nodes, edges := pipelineGraph()
	store.SetGraph(nodes, edges)

	before := store.Snapshot()
	store.UpdateNode("agent-1", map[string]interface{}{"model": "claude-3"})
	store.DeleteNode("output-1")

	// The earlier snapshot must not have changed underneath its holder.
	require.Len(t, before.Nodes, 3)
	assert.Equal(t, "gpt-4", before.Nodes[1].Data["model"])
	assert.Len(t, before.Edges, 2)
}

func TestSubscriberSeesOneCommitPerOperation(t *testing.T) {
	store := newTestStore()
	nodes, edges := pipelineGraph()
	store.SetGraph(nodes, edges)

	var commits []int
	unsubscribe := store.Subscribe(func(s Snapshot) {
		commits = append(commits, len(s.Nodes))
	})

	store.AddNode(Node{ID: "x", Kind: KindAgent})
	store.DeleteNodes("input-1", "output-1")

	require.Equal(t, []int{4, 2}, commits)

	unsubscribe()
	store.DeleteNode("x")
	assert.Equal(t, []int{4, 2}, commits, "unsubscribed callbacks stay silent")
}

func TestAddNodeGeneratesIDAndRejectsDuplicates(t *testing.T) {
	store := newTestStore()

	id := store.AddNode(Node{Kind: KindInput})
	assert.NotEmpty(t, id)

	store.AddNode(Node{ID: id, Kind: KindAgent})
	nodes := store.Nodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, KindInput, nodes[0].Kind)
}

func TestMoveNode(t *testing.T) {
	store := newTestStore()
	store.SetGraph([]Node{{ID: "agent-1", Kind: KindAgent}}, nil)

	store.MoveNode("agent-1", Position{X: 120, Y: 48})

	node, ok := store.Node("agent-1")
	require.True(t, ok)
	assert.Equal(t, Position{X: 120, Y: 48}, node.Position)

	before := store.Snapshot()
	store.MoveNode("ghost", Position{X: 1, Y: 1})
	assert.Equal(t, before, store.Snapshot())
}

func TestDeselectAll(t *testing.T) {
	store := newTestStore()
	store.SetGraph(
		[]Node{{ID: "a", Selected: true}, {ID: "b"}},
		[]Edge{{ID: "e", Source: "a", Target: "b", Selected: true}},
	)

	store.DeselectAll()

	snapshot := store.Snapshot()
	for _, node := range snapshot.Nodes {
		assert.False(t, node.Selected)
	}
	for _, edge := range snapshot.Edges {
		assert.False(t, edge.Selected)
	}
}

func TestControlledModeHandsOffInsteadOfApplying(t *testing.T) {
	var handed []Snapshot
	store := NewStore(
		WithLogger(logging.Nop()),
		WithControlled(func(s Snapshot) { handed = append(handed, s) }),
	)

	nodes, edges := pipelineGraph()
	store.SetGraph(nodes, edges) // owner pushing authoritative state applies locally

	store.DeleteNode("agent-1")

	// The computed next state goes to the owner only.
	require.Len(t, handed, 1)
	assert.Len(t, handed[0].Nodes, 2)
	assert.Empty(t, handed[0].Edges)

	// Local state is untouched until the owner pushes it back down.
	local := store.Snapshot()
	assert.Len(t, local.Nodes, 3)
	assert.Len(t, local.Edges, 2)

	store.SetGraph(handed[0].Nodes, handed[0].Edges)
	assert.Len(t, store.Nodes(), 2)
}

func TestControlledModeDoesNotNotifyOnHandOff(t *testing.T) {
	store := NewStore(WithLogger(logging.Nop()), WithControlled(func(Snapshot) {}))
	store.SetGraph([]Node{{ID: "a"}}, nil)

	notified := 0
	store.Subscribe(func(Snapshot) { notified++ })

	store.DeleteNode("a")
	assert.Zero(t, notified)

	store.SetGraph(nil, nil)
	assert.Equal(t, 1, notified, "owner pushes still commit and notify")
}

func TestNodeLabelFallsBackToID(t *testing.T) {
	withLabel := Node{ID: "n1", Data: map[string]interface{}{"label": "Research Agent"}}
	assert.Equal(t, "Research Agent", withLabel.Label())

	bare := Node{ID: "n2"}
	assert.Equal(t, "n2", bare.Label())
}
