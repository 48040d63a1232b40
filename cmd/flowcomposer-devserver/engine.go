package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/tcmartin/flowcomposer/pkg/graph"
	"github.com/tcmartin/flowcomposer/pkg/logging"
	"github.com/tcmartin/flowcomposer/pkg/transport"
)

// Errors the HTTP layer maps onto status codes
var (
	errExecutionNotFound = errors.New("execution not found")
	errNotWaiting        = errors.New("execution is not waiting for input")
)

// Simulated per-node charges by kind
const (
	agentStepCost = 0.0021
	toolStepCost  = 0.0004
)

// inputTimeout bounds how long a paused run waits before failing
const inputTimeout = 10 * time.Minute

// engine simulates workflow executions in memory. A run walks the graph
// breadth-first from its entry nodes and emits the same frame sequence the
// production engine streams. Full frame history is kept per run so a
// subscriber attaching late still sees every transition.
type engine struct {
	latency time.Duration
	logger  logging.Logger

	mu    sync.Mutex
	execs map[string]*simExecution
}

// simExecution is one in-memory run
type simExecution struct {
	id     string
	status string
	result interface{}
	errMsg string

	nodes map[string]graph.Node
	edges []graph.Edge
	input interface{}

	history [][]byte
	subs    map[chan []byte]struct{}
	inputCh chan string
}

func newEngine(latency time.Duration, logger logging.Logger) *engine {
	return &engine{
		latency: latency,
		logger:  logger,
		execs:   make(map[string]*simExecution),
	}
}

// Start registers a run and launches its simulation goroutine
func (e *engine) Start(nodes []graph.Node, edges []graph.Edge, input interface{}) transport.ExecutionStatus {
	exec := &simExecution{
		id:      uuid.NewString(),
		status:  string(runStatusRunning),
		nodes:   make(map[string]graph.Node, len(nodes)),
		edges:   edges,
		input:   input,
		subs:    make(map[chan []byte]struct{}),
		inputCh: make(chan string, 1),
	}
	for _, node := range nodes {
		exec.nodes[node.ID] = node
	}

	e.mu.Lock()
	e.execs[exec.id] = exec
	e.mu.Unlock()

	go e.run(exec)

	return transport.ExecutionStatus{ExecutionID: exec.id, Status: exec.status}
}

// Status returns the snapshot served by the status endpoint
func (e *engine) Status(id string) (transport.ExecutionStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	exec, ok := e.execs[id]
	if !ok {
		return transport.ExecutionStatus{}, false
	}
	return transport.ExecutionStatus{
		ExecutionID: exec.id,
		Status:      exec.status,
		Result:      exec.result,
		Error:       exec.errMsg,
	}, true
}

// SubmitInput resumes a run paused on waiting_for_input
func (e *engine) SubmitInput(id, input string) error {
	e.mu.Lock()
	exec, ok := e.execs[id]
	if !ok {
		e.mu.Unlock()
		return errExecutionNotFound
	}
	if exec.status != string(runStatusWaiting) {
		e.mu.Unlock()
		return errNotWaiting
	}
	ch := exec.inputCh
	e.mu.Unlock()

	select {
	case ch <- input:
		return nil
	default:
		return errNotWaiting
	}
}

// Subscribe returns the run's frame history and a live channel for frames
// emitted after the snapshot. The channel is nil when the run has already
// finished; it is closed by the engine when the run reaches a terminal
// status.
func (e *engine) Subscribe(id string) ([][]byte, chan []byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	exec, ok := e.execs[id]
	if !ok {
		return nil, nil, false
	}

	backlog := make([][]byte, len(exec.history))
	copy(backlog, exec.history)

	if transport.TerminalStatus(exec.status) {
		return backlog, nil, true
	}

	ch := make(chan []byte, 64)
	exec.subs[ch] = struct{}{}
	return backlog, ch, true
}

// Unsubscribe detaches a live channel registered by Subscribe
func (e *engine) Unsubscribe(id string, ch chan []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if exec, ok := e.execs[id]; ok {
		delete(exec.subs, ch)
	}
}

// Run status strings on the wire
type runStatus string

const (
	runStatusRunning   runStatus = "running"
	runStatusWaiting   runStatus = "waiting_for_input"
	runStatusCompleted runStatus = "completed"
	runStatusFailed    runStatus = "failed"
)

// run simulates one execution to completion
func (e *engine) run(exec *simExecution) {
	total := len(exec.nodes)
	visited := make([]string, 0, total)
	received := make(map[string]string)

	queue := e.entryNodes(exec)
	if len(queue) == 0 {
		e.fail(exec, "", "graph has no entry node")
		return
	}

	seen := make(map[string]bool, total)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true

		node, ok := exec.nodes[id]
		if !ok {
			// An edge pointing at a node that is not in the graph
			continue
		}

		e.emit(exec, transport.Event{Type: transport.EventNodeUpdate, NodeID: id, Status: "running"})

		if awaitsInput(node) {
			input, ok := e.awaitInput(exec, id)
			if !ok {
				e.fail(exec, id, "timed out waiting for input")
				return
			}
			received[id] = input
		}

		time.Sleep(e.latency)

		cost := stepCost(node.Kind)
		update := transport.Event{Type: transport.EventNodeUpdate, NodeID: id, Status: "completed"}
		if cost > 0 {
			update.Cost = &cost
		}
		e.emit(exec, update)

		visited = append(visited, id)
		e.emit(exec, progressFrame(len(visited), total))

		next, err := e.nextNodes(exec, node)
		if err != nil {
			e.fail(exec, id, err.Error())
			return
		}
		queue = append(queue, next...)
	}

	result := map[string]interface{}{
		"output": fmt.Sprintf("simulated %d of %d node(s)", len(visited), total),
		"path":   visited,
	}
	if exec.input != nil {
		result["input"] = exec.input
	}
	if len(received) > 0 {
		result["user_input"] = received
	}

	e.mu.Lock()
	exec.status = string(runStatusCompleted)
	exec.result = result
	e.mu.Unlock()

	e.emit(exec, transport.Event{Type: transport.EventWorkflowUpdate, Status: string(runStatusCompleted)})
	e.logger.Info("execution completed",
		logging.F("execution_id", exec.id),
		logging.F("nodes", len(visited)))
}

// fail marks the run failed and emits the failure frames
func (e *engine) fail(exec *simExecution, nodeID, message string) {
	e.mu.Lock()
	exec.status = string(runStatusFailed)
	exec.errMsg = message
	e.mu.Unlock()

	if nodeID != "" {
		e.emit(exec, transport.Event{Type: transport.EventNodeUpdate, NodeID: nodeID, Status: "failed", Error: message})
	}
	e.emit(exec, transport.Event{Type: transport.EventWorkflowUpdate, Status: string(runStatusFailed), Error: message})
	e.logger.Warn("execution failed",
		logging.F("execution_id", exec.id),
		logging.F("error", message))
}

// awaitInput pauses the run until input arrives or the wait times out
func (e *engine) awaitInput(exec *simExecution, nodeID string) (string, bool) {
	e.mu.Lock()
	exec.status = string(runStatusWaiting)
	e.mu.Unlock()

	e.emit(exec, transport.Event{Type: transport.EventInputRequest, NodeID: nodeID})
	e.emit(exec, transport.Event{Type: transport.EventWorkflowUpdate, Status: string(runStatusWaiting)})

	select {
	case input := <-exec.inputCh:
		e.mu.Lock()
		exec.status = string(runStatusRunning)
		e.mu.Unlock()

		e.emit(exec, transport.Event{Type: transport.EventInputReceived, NodeID: nodeID})
		e.emit(exec, transport.Event{Type: transport.EventWorkflowUpdate, Status: string(runStatusRunning)})
		return input, true
	case <-time.After(inputTimeout):
		return "", false
	}
}

// emit appends one frame to the run's history and fans it out to live
// subscribers. A terminal workflow_update closes every subscriber channel.
func (e *engine) emit(exec *simExecution, event transport.Event) {
	event.ExecutionID = exec.id

	data, err := json.Marshal(event)
	if err != nil {
		e.logger.Error("failed to encode frame", logging.F("error", err.Error()))
		return
	}

	e.mu.Lock()
	exec.history = append(exec.history, data)
	for ch := range exec.subs {
		select {
		case ch <- data:
		default:
			e.logger.Warn("dropping frame for slow subscriber",
				logging.F("execution_id", exec.id))
		}
	}
	if event.Type == transport.EventWorkflowUpdate && transport.TerminalStatus(event.Status) {
		for ch := range exec.subs {
			close(ch)
		}
		exec.subs = make(map[chan []byte]struct{})
	}
	e.mu.Unlock()
}

// entryNodes returns the ids of nodes with no incoming edge, sorted for a
// deterministic walk order
func (e *engine) entryNodes(exec *simExecution) []string {
	incoming := make(map[string]int, len(exec.nodes))
	for _, edge := range exec.edges {
		incoming[edge.Target]++
	}

	entries := make([]string, 0, len(exec.nodes))
	for id := range exec.nodes {
		if incoming[id] == 0 {
			entries = append(entries, id)
		}
	}
	sort.Strings(entries)
	return entries
}

// nextNodes returns the targets to visit after a node completes. For
// conditional nodes only the selected branch's edges are followed.
func (e *engine) nextNodes(exec *simExecution, node graph.Node) ([]string, error) {
	outgoing := make([]graph.Edge, 0, 4)
	for _, edge := range exec.edges {
		if edge.Source == node.ID {
			outgoing = append(outgoing, edge)
		}
	}
	if len(outgoing) == 0 {
		return nil, nil
	}

	if node.Kind == graph.KindConditional {
		handle, matched, err := e.selectBranch(exec, node)
		if err != nil {
			return nil, err
		}

		next := make([]string, 0, len(outgoing))
		for _, edge := range outgoing {
			if matched && edge.SourceHandle == handle {
				next = append(next, edge.Target)
			}
			// Edges without a source handle are the default branch
			if !matched && edge.SourceHandle == "" {
				next = append(next, edge.Target)
			}
		}
		return next, nil
	}

	next := make([]string, 0, len(outgoing))
	for _, edge := range outgoing {
		next = append(next, edge.Target)
	}
	return next, nil
}

// selectBranch evaluates a conditional node's rules in order against the
// run input. The first rule whose expression is truthy wins and its handle
// names the outgoing port to follow.
func (e *engine) selectBranch(exec *simExecution, node graph.Node) (string, bool, error) {
	rules := conditionRules(node)
	if len(rules) == 0 {
		return "", false, nil
	}

	vm := goja.New()
	if err := vm.Set("input", exec.input); err != nil {
		return "", false, fmt.Errorf("condition setup failed: %w", err)
	}

	for _, rule := range rules {
		if rule.Expression == "" {
			continue
		}
		value, err := vm.RunString(rule.Expression)
		if err != nil {
			return "", false, fmt.Errorf("condition %q failed: %w", rule.Expression, err)
		}
		if value.ToBoolean() {
			e.logger.Debug("condition matched",
				logging.F("node_id", node.ID),
				logging.F("expression", rule.Expression),
				logging.F("handle", rule.Handle))
			return rule.Handle, true, nil
		}
	}
	return "", false, nil
}

// conditionRule is one entry of a conditional node's data.rules list
type conditionRule struct {
	Expression string
	Handle     string
}

// conditionRules reads the rules list out of the node's free-form data
func conditionRules(node graph.Node) []conditionRule {
	raw, ok := node.Data["rules"].([]interface{})
	if !ok {
		return nil
	}

	rules := make([]conditionRule, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		rule := conditionRule{}
		if expr, ok := entry["expression"].(string); ok {
			rule.Expression = expr
		}
		if handle, ok := entry["handle"].(string); ok {
			rule.Handle = handle
		}
		rules = append(rules, rule)
	}
	return rules
}

// awaitsInput reports whether the node pauses the run for user input
func awaitsInput(node graph.Node) bool {
	await, ok := node.Data["await_input"].(bool)
	return ok && await
}

// stepCost returns the simulated charge for completing a node
func stepCost(kind graph.NodeKind) float64 {
	switch kind {
	case graph.KindAgent:
		return agentStepCost
	case graph.KindTool:
		return toolStepCost
	}
	return 0
}

// progressFrame builds an aggregate progress frame
func progressFrame(visited, total int) transport.Event {
	percentage := 100.0
	if total > 0 {
		percentage = float64(visited) / float64(total) * 100
	}
	return transport.Event{
		Type:     transport.EventProgressUpdate,
		Progress: &transport.Progress{Percentage: percentage},
	}
}
