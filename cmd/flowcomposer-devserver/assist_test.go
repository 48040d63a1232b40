package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/flowcomposer/pkg/assist"
	"github.com/tcmartin/flowcomposer/pkg/graph"
)

func planFixtureNodes() []graph.Node {
	return []graph.Node{
		{ID: "n1", Kind: graph.KindAgent, Data: map[string]interface{}{"label": "Research"}},
		{ID: "n2", Kind: graph.KindAgent, Data: map[string]interface{}{"label": "Summarizer"}},
		{ID: "n3", Kind: graph.KindOutput, Data: map[string]interface{}{"label": "Report"}},
	}
}

func TestBuildPlanAddsNamedAgent(t *testing.T) {
	plan := buildPlan("add an agent called 'Reviewer'", planFixtureNodes())

	require.Len(t, plan.Actions, 1)
	action := plan.Actions[0]
	assert.Equal(t, assist.ActionAddNode, action.Type)
	require.NotNil(t, action.Node)
	assert.Equal(t, graph.KindAgent, action.Node.Kind)
	assert.Equal(t, "Reviewer", action.Node.Data["label"])
	assert.NotEmpty(t, action.Node.ID)
}

func TestBuildPlanAddsKindFromCommand(t *testing.T) {
	plan := buildPlan("create a conditional node", nil)

	require.Len(t, plan.Actions, 1)
	require.NotNil(t, plan.Actions[0].Node)
	assert.Equal(t, graph.KindConditional, plan.Actions[0].Node.Kind)
}

func TestBuildPlanDeletesMentionedNode(t *testing.T) {
	plan := buildPlan("delete the Summarizer node", planFixtureNodes())

	require.Len(t, plan.Actions, 1)
	assert.Equal(t, assist.ActionDeleteNode, plan.Actions[0].Type)
	assert.Equal(t, "n2", plan.Actions[0].NodeID)
	assert.True(t, plan.Destructive())
}

func TestBuildPlanDeleteEverything(t *testing.T) {
	plan := buildPlan("remove everything", planFixtureNodes())
	assert.Len(t, plan.Actions, 3)
}

func TestBuildPlanConnectsInMentionOrder(t *testing.T) {
	plan := buildPlan("connect Summarizer to Report", planFixtureNodes())

	require.Len(t, plan.Actions, 1)
	action := plan.Actions[0]
	assert.Equal(t, assist.ActionCreateEdge, action.Type)
	require.NotNil(t, action.Edge)
	assert.Equal(t, "n2", action.Edge.Source)
	assert.Equal(t, "n3", action.Edge.Target)
}

func TestBuildPlanRename(t *testing.T) {
	plan := buildPlan("rename Research to Deep Research", planFixtureNodes())

	require.Len(t, plan.Actions, 1)
	action := plan.Actions[0]
	assert.Equal(t, assist.ActionUpdateNode, action.Type)
	assert.Equal(t, "n1", action.NodeID)
	assert.Equal(t, map[string]interface{}{"label": "Deep Research"}, action.Patch)
}

func TestBuildPlanUnknownCommand(t *testing.T) {
	plan := buildPlan("make it pop", planFixtureNodes())
	assert.True(t, plan.Empty())
}

func TestIdentifyGraphCategories(t *testing.T) {
	agent := graph.Node{ID: "a", Kind: graph.KindAgent, Data: map[string]interface{}{"label": "Research"}}
	second := graph.Node{ID: "b", Kind: graph.KindAgent}
	router := graph.Node{ID: "r", Kind: graph.KindConditional}

	identity := identifyGraph([]graph.Node{agent}, nil)
	assert.Equal(t, "Research Pipeline", identity.Name)
	assert.Equal(t, "assistant", identity.Category)

	identity = identifyGraph([]graph.Node{agent, second}, nil)
	assert.Equal(t, "multi-agent", identity.Category)

	identity = identifyGraph([]graph.Node{agent, router}, nil)
	assert.Equal(t, "routing", identity.Category)

	identity = identifyGraph(nil, nil)
	assert.Equal(t, "Empty Workflow", identity.Name)
}

func TestExtractLabel(t *testing.T) {
	assert.Equal(t, "Reviewer", extractLabel(`add an agent called "Reviewer"`))
	assert.Equal(t, "Fact Checker", extractLabel("add an agent named Fact Checker"))
	assert.Equal(t, "", extractLabel("add an agent"))
}

func TestNextPositionPlacesRightOfRightmost(t *testing.T) {
	nodes := []graph.Node{
		{ID: "a", Position: graph.Position{X: 100, Y: 50}},
		{ID: "b", Position: graph.Position{X: 400, Y: 80}},
	}
	pos := nextPosition(nodes)
	assert.Equal(t, graph.Position{X: 650, Y: 80}, pos)

	assert.Equal(t, graph.Position{X: 100, Y: 200}, nextPosition(nil))
}
