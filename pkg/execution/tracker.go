package execution

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/tcmartin/flowcomposer/pkg/logging"
)

// Errors returned by the tracker
var (
	// ErrNoExecution indicates no execution is currently tracked
	ErrNoExecution = errors.New("no active execution")

	// ErrNoInputSubmitter indicates the tracker was built without an input submitter
	ErrNoInputSubmitter = errors.New("no input submitter configured")
)

// StopReason is recorded on nodes force-failed by a user-initiated stop
const StopReason = "execution stopped by user"

// StreamOpener opens the event delivery path for an execution id and
// returns a handle that tears it down
type StreamOpener func(executionID string) (io.Closer, error)

// InputSubmitter forwards user-supplied input to the remote engine
type InputSubmitter func(ctx context.Context, executionID, input string) error

// ErrorHandler receives execution-level failures
type ErrorHandler func(executionID string, err error)

// Subscriber is notified with the tracker's view after each change
type Subscriber func(Snapshot)

// Tracker reconciles asynchronous status events for one execution at a time
// into a single consistent view. Transitions are driven only by inbound
// events; the tracker never times out or advances a node on its own. The
// one exception is Stop, which force-fails anything still running.
//
// Mutations are serialized, and subscribers observe snapshots in commit
// order. Subscribers must not mutate the tracker from the callback.
type Tracker struct {
	// commitMu serializes whole operations including notification
	commitMu sync.Mutex

	// mu guards the fields below for readers
	mu sync.Mutex

	executionID string
	overall     OverallStatus
	nodes       map[string]NodeState
	execError   string

	stream io.Closer

	opener  StreamOpener
	submit  InputSubmitter
	onError ErrorHandler
	logger  logging.Logger
	nowFunc func() time.Time

	listenerMu sync.Mutex
	listeners  []Subscriber
}

// TrackerOption configures a Tracker
type TrackerOption func(*Tracker)

// WithStreamOpener sets the function used to open the event stream when an
// execution starts. Without one, Start tracks state but receives no events.
func WithStreamOpener(opener StreamOpener) TrackerOption {
	return func(t *Tracker) {
		t.opener = opener
	}
}

// WithInputSubmitter sets the function used by SubmitUserInput
func WithInputSubmitter(submit InputSubmitter) TrackerOption {
	return func(t *Tracker) {
		t.submit = submit
	}
}

// WithErrorHandler sets the callback for execution-level failures
func WithErrorHandler(handler ErrorHandler) TrackerOption {
	return func(t *Tracker) {
		t.onError = handler
	}
}

// WithTrackerLogger sets the tracker's logger
func WithTrackerLogger(logger logging.Logger) TrackerOption {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// withNow overrides the clock in tests
func withNow(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.nowFunc = now
	}
}

// NewTracker creates an idle tracker
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		overall: OverallIdle,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logging.Default()
	}
	return t
}

// Subscribe registers fn to be called after every state change
func (t *Tracker) Subscribe(fn Subscriber) {
	t.listenerMu.Lock()
	defer t.listenerMu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Start begins tracking a new execution. Any previously tracked execution
// is discarded. Every node is seeded pending, the overall status becomes
// running, and the event stream is opened.
func (t *Tracker) Start(executionID string, nodeIDs []string) error {
	t.commitMu.Lock()

	t.mu.Lock()
	t.closeStreamLocked()
	t.executionID = executionID
	t.overall = OverallRunning
	t.execError = ""
	t.nodes = make(map[string]NodeState, len(nodeIDs))
	for _, id := range nodeIDs {
		t.nodes[id] = NodeState{Status: StatusPending}
	}
	opener := t.opener
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	t.notify(snapshot)
	t.commitMu.Unlock()

	if opener == nil {
		return nil
	}

	stream, err := opener(executionID)
	if err != nil {
		t.ReportError(err)
		return err
	}

	t.mu.Lock()
	if t.executionID != executionID || t.overall.Terminal() {
		// A newer Start, a Reset, or a Stop won the race; this stream is orphaned.
		t.mu.Unlock()
		stream.Close()
		return nil
	}
	t.stream = stream
	t.mu.Unlock()
	return nil
}

// UpdateNode is the single mutation entry point for per-node events. The
// partial update is merged into the node's record and the derived view is
// recomputed. Updates for ids outside the tracked set seed a fresh idle
// record first, because AI edits add nodes mid-run.
func (t *Tracker) UpdateNode(nodeID string, update NodeUpdate) {
	t.commitMu.Lock()
	defer t.commitMu.Unlock()

	t.mu.Lock()
	if t.nodes == nil {
		t.mu.Unlock()
		t.logger.Debug("dropping node update with no active execution", logging.F("node_id", nodeID))
		return
	}

	state, ok := t.nodes[nodeID]
	if !ok {
		t.logger.Debug("seeding untracked node", logging.F("node_id", nodeID))
		state = NodeState{Status: StatusIdle}
	}

	t.mergeLocked(&state, update)
	t.nodes[nodeID] = state
	t.recomputeLocked()
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	t.notify(snapshot)
}

// MarkWaitingForInput records that the engine paused for user input. The
// named node (when known) moves to waiting and the overall status becomes
// waiting_for_input, which later recomputes retain until the run resumes.
func (t *Tracker) MarkWaitingForInput(nodeID string) {
	t.commitMu.Lock()
	defer t.commitMu.Unlock()

	t.mu.Lock()
	if t.nodes == nil {
		t.mu.Unlock()
		return
	}

	if nodeID != "" {
		state, ok := t.nodes[nodeID]
		if !ok {
			state = NodeState{Status: StatusIdle}
		}
		state.Status = StatusWaiting
		t.nodes[nodeID] = state
	}
	t.overall = OverallWaitingForInput
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	t.notify(snapshot)
}

// MarkInputReceived records that submitted input reached the engine. The
// named node (when known) returns to running.
func (t *Tracker) MarkInputReceived(nodeID string) {
	t.commitMu.Lock()
	defer t.commitMu.Unlock()

	t.mu.Lock()
	if t.nodes == nil {
		t.mu.Unlock()
		return
	}

	if nodeID != "" {
		state, ok := t.nodes[nodeID]
		if ok && state.Status == StatusWaiting {
			state.Status = StatusRunning
			t.nodes[nodeID] = state
		}
	}
	if t.overall == OverallWaitingForInput {
		t.overall = OverallRunning
	}
	t.recomputeLocked()
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	t.notify(snapshot)
}

// ApplyWorkflowStatus applies an engine-reported overall transition, as
// carried by workflow_update frames and polling snapshots. A reported
// completion moves every non-terminal node to completed so progress
// reaches 100 even when per-node frames were lost; a reported failure
// fails whatever was still running.
func (t *Tracker) ApplyWorkflowStatus(status OverallStatus, errMsg string) {
	t.commitMu.Lock()
	defer t.commitMu.Unlock()

	t.mu.Lock()
	if t.nodes == nil {
		t.mu.Unlock()
		return
	}

	switch status {
	case OverallCompleted:
		now := t.nowFunc()
		for id, state := range t.nodes {
			if !state.Status.Terminal() {
				state.Status = StatusCompleted
				if state.EndTime == nil {
					endTime := now
					state.EndTime = &endTime
				}
				t.nodes[id] = state
			}
		}
		t.overall = OverallCompleted
	case OverallFailed:
		now := t.nowFunc()
		for id, state := range t.nodes {
			if state.Status == StatusRunning || state.Status == StatusWaiting {
				state.Status = StatusFailed
				if state.Error == "" {
					state.Error = errMsg
				}
				if state.EndTime == nil {
					endTime := now
					state.EndTime = &endTime
				}
				t.nodes[id] = state
			}
		}
		t.overall = OverallFailed
	case OverallRunning:
		t.overall = OverallRunning
	case OverallWaitingForInput:
		t.overall = OverallWaitingForInput
	default:
		t.mu.Unlock()
		t.logger.Warn("ignoring unknown workflow status", logging.F("status", string(status)))
		return
	}

	if errMsg != "" {
		t.execError = errMsg
	}
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	t.notify(snapshot)
}

// ReportError records an execution-level failure, marks the run failed
// without touching recorded node history, and surfaces the error through
// the configured handler.
func (t *Tracker) ReportError(err error) {
	if err == nil {
		return
	}

	t.commitMu.Lock()

	t.mu.Lock()
	executionID := t.executionID
	if t.nodes != nil && !t.overall.Terminal() {
		t.overall = OverallFailed
		t.execError = err.Error()
	}
	handler := t.onError
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	t.logger.Error("execution error", logging.F("execution_id", executionID), logging.F("error", err.Error()))
	t.notify(snapshot)
	t.commitMu.Unlock()

	if handler != nil {
		handler(executionID, err)
	}
}

// Stop closes the event stream and force-fails any node still running or
// waiting. Safe to call when nothing is tracked.
func (t *Tracker) Stop() {
	t.commitMu.Lock()
	defer t.commitMu.Unlock()
	t.stop()
}

// Reset stops any tracked execution and discards all state
func (t *Tracker) Reset() {
	t.commitMu.Lock()
	defer t.commitMu.Unlock()

	t.stop()

	t.mu.Lock()
	t.executionID = ""
	t.overall = OverallIdle
	t.execError = ""
	t.nodes = nil
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	t.notify(snapshot)
}

// stop closes the stream and force-fails live nodes. Callers hold commitMu.
func (t *Tracker) stop() {
	t.mu.Lock()
	t.closeStreamLocked()

	if t.nodes == nil {
		t.mu.Unlock()
		return
	}

	now := t.nowFunc()
	stopped := false
	for id, state := range t.nodes {
		if state.Status == StatusRunning || state.Status == StatusWaiting {
			state.Status = StatusFailed
			state.Error = StopReason
			endTime := now
			state.EndTime = &endTime
			t.nodes[id] = state
			stopped = true
		}
	}
	if !t.overall.Terminal() {
		t.overall = OverallFailed
		if stopped && t.execError == "" {
			t.execError = StopReason
		}
	}
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	t.notify(snapshot)
}

// SubmitUserInput forwards input for a run paused on waiting_for_input.
// The waiting node returns to running through subsequent engine events,
// not locally.
func (t *Tracker) SubmitUserInput(ctx context.Context, input string) error {
	t.mu.Lock()
	executionID := t.executionID
	submit := t.submit
	t.mu.Unlock()

	if executionID == "" {
		return ErrNoExecution
	}
	if submit == nil {
		return ErrNoInputSubmitter
	}

	return submit(ctx, executionID, input)
}

// NodeState returns the tracked state for a node. ok is false for
// untracked ids; presentation treats that as "no status overlay".
func (t *Tracker) NodeState(nodeID string) (NodeState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.nodes[nodeID]
	return state, ok
}

// ExecutionID returns the tracked execution id, empty when idle
func (t *Tracker) ExecutionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.executionID
}

// Snapshot returns a copy of the tracker's full view
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// mergeLocked folds a partial update into state and stamps missing times
// on status transitions
func (t *Tracker) mergeLocked(state *NodeState, update NodeUpdate) {
	if update.Status != "" {
		prev := state.Status
		state.Status = update.Status
		if update.Status == StatusRunning && prev != StatusRunning && state.StartTime == nil {
			start := t.nowFunc()
			state.StartTime = &start
		}
		if update.Status.Terminal() && state.EndTime == nil && update.EndTime == nil {
			end := t.nowFunc()
			state.EndTime = &end
		}
	}
	if update.StartTime != nil {
		state.StartTime = update.StartTime
	}
	if update.EndTime != nil {
		state.EndTime = update.EndTime
	}
	if update.Progress != nil {
		state.Progress = *update.Progress
	}
	if update.Cost != nil {
		state.Cost = *update.Cost
	}
	if update.Error != "" {
		state.Error = update.Error
	}
}

// recomputeLocked derives the overall status from the node map: running if
// any node runs; else failed if all terminal and any failed; else completed
// if all terminal; otherwise the previous value is retained, which is what
// keeps waiting_for_input alive across unrelated node updates.
func (t *Tracker) recomputeLocked() {
	if len(t.nodes) == 0 {
		return
	}

	anyRunning := false
	anyFailed := false
	allTerminal := true
	for _, state := range t.nodes {
		switch {
		case state.Status == StatusRunning:
			anyRunning = true
			allTerminal = false
		case state.Status.Terminal():
			if state.Status == StatusFailed {
				anyFailed = true
			}
		default:
			allTerminal = false
		}
	}

	switch {
	case anyRunning:
		t.overall = OverallRunning
	case allTerminal && anyFailed:
		t.overall = OverallFailed
	case allTerminal:
		t.overall = OverallCompleted
	}
}

func (t *Tracker) snapshotLocked() Snapshot {
	nodes := make(map[string]NodeState, len(t.nodes))
	terminal := 0
	totalCost := 0.0
	for id, state := range t.nodes {
		nodes[id] = state
		if state.Status.Terminal() {
			terminal++
		}
		totalCost += state.Cost
	}

	progress := 0.0
	if len(t.nodes) > 0 {
		progress = float64(terminal) / float64(len(t.nodes)) * 100
	}

	return Snapshot{
		ExecutionID: t.executionID,
		Overall:     t.overall,
		Nodes:       nodes,
		Progress:    progress,
		TotalCost:   totalCost,
		Error:       t.execError,
	}
}

func (t *Tracker) notify(snapshot Snapshot) {
	t.listenerMu.Lock()
	listeners := make([]Subscriber, len(t.listeners))
	copy(listeners, t.listeners)
	t.listenerMu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}

func (t *Tracker) closeStreamLocked() {
	if t.stream != nil {
		if err := t.stream.Close(); err != nil {
			t.logger.Debug("closing event stream", logging.F("error", err.Error()))
		}
		t.stream = nil
	}
}
