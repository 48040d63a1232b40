package assist

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/tcmartin/flowcomposer/pkg/graph"
	"github.com/tcmartin/flowcomposer/pkg/logging"
)

// Errors returned by the pipeline
var (
	// ErrNoPendingPlan indicates Confirm was called with nothing held
	ErrNoPendingPlan = errors.New("no pending plan")
)

// Suggester obtains an edit plan for a command against the current graph
type Suggester interface {
	SuggestEdits(ctx context.Context, command string, snapshot graph.Snapshot) (Plan, error)
}

// Result reports what Propose did with a command
type Result struct {
	// Applied is true when the plan was applied immediately
	Applied bool

	// Pending is true when a destructive plan is held awaiting Confirm
	Pending bool

	// Plan is the suggested plan, empty for informational results
	Plan Plan

	// Message is a human-readable summary
	Message string
}

// Pipeline converts free-text commands into applied graph edits. Plans that
// delete nodes are held pending until Confirm; everything else applies
// immediately. A plan applies as one commit against one working copy, so
// observers see a single atomic transition rather than per-action flicker.
type Pipeline struct {
	store     *graph.Store
	suggester Suggester
	logger    logging.Logger

	mu      sync.Mutex
	pending *heldPlan
}

type heldPlan struct {
	command string
	plan    Plan
}

// PipelineOption configures a Pipeline
type PipelineOption func(*Pipeline)

// WithPipelineLogger sets the pipeline's logger
func WithPipelineLogger(logger logging.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// NewPipeline creates a pipeline bound to one store and suggestion source
func NewPipeline(store *graph.Store, suggester Suggester, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{store: store, suggester: suggester}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.Default()
	}
	return p
}

// Propose submits the command with the current graph and handles the
// returned plan: empty plans are informational, destructive plans are held
// pending, and everything else applies immediately. Proposing while a plan
// is already pending discards the old plan.
func (p *Pipeline) Propose(ctx context.Context, command string) (Result, error) {
	snapshot := p.store.Snapshot()

	plan, err := p.suggester.SuggestEdits(ctx, command, snapshot)
	if err != nil {
		return Result{}, err
	}

	if plan.Empty() {
		p.logger.Info("assistant suggested no changes", logging.F("command", command))
		return Result{Message: "The assistant suggested no changes."}, nil
	}

	if plan.Destructive() {
		p.mu.Lock()
		if p.pending != nil {
			p.logger.Info("replacing pending plan",
				logging.F("old_command", p.pending.command),
				logging.F("new_command", command))
		}
		p.pending = &heldPlan{command: command, plan: plan}
		p.mu.Unlock()

		return Result{
			Pending: true,
			Plan:    plan,
			Message: "These changes delete nodes and need confirmation.",
		}, nil
	}

	p.apply(plan)
	return Result{Applied: true, Plan: plan, Message: "Changes applied."}, nil
}

// Pending returns the held plan, if any
func (p *Pipeline) Pending() (Plan, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil {
		return Plan{}, false
	}
	return p.pending.plan, true
}

// Confirm applies the held plan in its original order and releases it
func (p *Pipeline) Confirm() error {
	p.mu.Lock()
	held := p.pending
	p.pending = nil
	p.mu.Unlock()

	if held == nil {
		return ErrNoPendingPlan
	}

	p.apply(held.plan)
	p.logger.Info("applied confirmed plan",
		logging.F("command", held.command),
		logging.F("actions", len(held.plan.Actions)))
	return nil
}

// Cancel discards the held plan, leaving the graph exactly as it was
// before the plan was proposed. Safe to call with nothing pending.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	held := p.pending
	p.pending = nil
	p.mu.Unlock()

	if held != nil {
		p.logger.Info("cancelled pending plan", logging.F("command", held.command))
	}
}

// apply executes the plan's actions in order against one working copy and
// commits the final copy once
func (p *Pipeline) apply(plan Plan) {
	p.store.Apply(func(snapshot graph.Snapshot) graph.Snapshot {
		return p.applyActions(snapshot, plan.Actions)
	})
}

func (p *Pipeline) applyActions(snapshot graph.Snapshot, actions []Action) graph.Snapshot {
	nodes := snapshot.Nodes
	edges := snapshot.Edges

	for _, action := range actions {
		switch action.Type {
		case ActionAddNode:
			nodes = p.addNode(nodes, action)
		case ActionDeleteNode:
			nodes, edges = p.deleteNode(nodes, edges, action.NodeID)
		case ActionUpdateNode:
			nodes = p.updateNode(nodes, action)
		case ActionCreateEdge:
			edges = p.createEdge(edges, action)
		case ActionDeleteEdge:
			edges = p.deleteEdge(edges, action.EdgeID)
		default:
			p.logger.Warn("skipping unknown action", logging.F("action", string(action.Type)))
		}
	}

	return graph.Snapshot{Nodes: nodes, Edges: edges}
}

func (p *Pipeline) addNode(nodes []graph.Node, action Action) []graph.Node {
	if action.Node == nil {
		p.logger.Warn("skipping ADD_NODE without payload")
		return nodes
	}
	node := action.Node.Clone()
	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	for _, existing := range nodes {
		if existing.ID == node.ID {
			p.logger.Warn("skipping ADD_NODE for existing node", logging.F("node_id", node.ID))
			return nodes
		}
	}
	return append(nodes, node)
}

func (p *Pipeline) deleteNode(nodes []graph.Node, edges []graph.Edge, nodeID string) ([]graph.Node, []graph.Edge) {
	keptNodes := nodes[:0]
	found := false
	for _, node := range nodes {
		if node.ID == nodeID {
			found = true
			continue
		}
		keptNodes = append(keptNodes, node)
	}
	if !found {
		p.logger.Debug("skipping DELETE_NODE for unknown node", logging.F("node_id", nodeID))
		return nodes, edges
	}

	keptEdges := edges[:0]
	for _, edge := range edges {
		if edge.Touches(nodeID) {
			continue
		}
		keptEdges = append(keptEdges, edge)
	}
	return keptNodes, keptEdges
}

func (p *Pipeline) updateNode(nodes []graph.Node, action Action) []graph.Node {
	for i, node := range nodes {
		if node.ID != action.NodeID {
			continue
		}
		if node.Data == nil {
			nodes[i].Data = make(map[string]interface{}, len(action.Patch))
		}
		for k, v := range action.Patch {
			nodes[i].Data[k] = v
		}
		return nodes
	}
	p.logger.Debug("skipping UPDATE_NODE for unknown node", logging.F("node_id", action.NodeID))
	return nodes
}

func (p *Pipeline) createEdge(edges []graph.Edge, action Action) []graph.Edge {
	if action.Edge == nil {
		p.logger.Warn("skipping CREATE_EDGE without payload")
		return edges
	}
	edge := graph.Edge{
		ID:           uuid.NewString(),
		Source:       action.Edge.Source,
		Target:       action.Edge.Target,
		SourceHandle: action.Edge.SourceHandle,
		TargetHandle: action.Edge.TargetHandle,
	}
	if edge.TargetHandle == graph.ToolHandle {
		edge.Dashed = true
	} else {
		edge.Animated = true
	}
	return append(edges, edge)
}

func (p *Pipeline) deleteEdge(edges []graph.Edge, edgeID string) []graph.Edge {
	kept := edges[:0]
	found := false
	for _, edge := range edges {
		if edge.ID == edgeID {
			found = true
			continue
		}
		kept = append(kept, edge)
	}
	if !found {
		p.logger.Debug("skipping DELETE_EDGE for unknown edge", logging.F("edge_id", edgeID))
		return edges
	}
	return kept
}
