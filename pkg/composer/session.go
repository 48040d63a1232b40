package composer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/tcmartin/flowcomposer/pkg/assist"
	"github.com/tcmartin/flowcomposer/pkg/client"
	"github.com/tcmartin/flowcomposer/pkg/execution"
	"github.com/tcmartin/flowcomposer/pkg/graph"
	"github.com/tcmartin/flowcomposer/pkg/logging"
	"github.com/tcmartin/flowcomposer/pkg/transport"
	"github.com/tcmartin/flowcomposer/pkg/workflow"
)

// Errors returned by the session
var (
	// ErrEmptyGraph indicates a run was requested with nothing on the canvas
	ErrEmptyGraph = errors.New("graph has no nodes")
)

// Backend is the remote surface the session talks to. client.Client
// implements it against a flowrunner-style HTTP backend.
type Backend interface {
	// Execute submits a graph for execution
	Execute(ctx context.Context, req client.ExecuteRequest) (transport.ExecutionStatus, error)

	// GetExecution fetches the current status snapshot
	GetExecution(ctx context.Context, executionID string) (transport.ExecutionStatus, error)

	// SubmitInput forwards user input to a paused run
	SubmitInput(ctx context.Context, executionID, input string) error

	// SuggestEdits requests an action plan for a free-text command
	SuggestEdits(ctx context.Context, command string, snapshot graph.Snapshot) (assist.Plan, error)

	// SuggestIdentity requests name/description/category for a graph
	SuggestIdentity(ctx context.Context, snapshot graph.Snapshot) (transport.WorkflowIdentity, error)

	// StreamURL returns the WebSocket endpoint for an execution
	StreamURL(executionID string) string
}

var _ Backend = (*client.Client)(nil)

// InputEvaluator expands expressions embedded in run input before it is
// submitted. pkg/scripting provides the implementation.
type InputEvaluator interface {
	Evaluate(expression string, context map[string]interface{}) (interface{}, error)
	EvaluateInObject(obj map[string]interface{}, context map[string]interface{}) (map[string]interface{}, error)
}

// StreamFactory opens the event delivery path for an execution
type StreamFactory func(executionID string) (io.Closer, error)

// Session is one editing-and-running session over a single workflow
// graph. It owns the store, the tracker, the AI edit pipeline, and the
// callback registry, and wires inbound execution events to the tracker.
type Session struct {
	backend   Backend
	store     *graph.Store
	tracker   *execution.Tracker
	pipeline  *assist.Pipeline
	registry  *CallbackRegistry
	evaluator InputEvaluator
	logger    logging.Logger

	transportOpts transport.Options
	streams       StreamFactory
	onExecError   execution.ErrorHandler

	mu   sync.Mutex
	meta workflow.Metadata
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithSessionLogger sets the session's logger, shared with its subsystems
func WithSessionLogger(logger logging.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithInputEvaluator sets the evaluator applied to run input
func WithInputEvaluator(evaluator InputEvaluator) SessionOption {
	return func(s *Session) {
		s.evaluator = evaluator
	}
}

// WithTransportOptions supplies the timing fields for event subscriptions.
// URL, handler, and fetcher are always filled in by the session.
func WithTransportOptions(opts transport.Options) SessionOption {
	return func(s *Session) {
		s.transportOpts = opts
	}
}

// WithStreamFactory overrides how the event delivery path is opened
func WithStreamFactory(factory StreamFactory) SessionOption {
	return func(s *Session) {
		s.streams = factory
	}
}

// WithExecutionErrorHandler sets the callback for execution-level failures
func WithExecutionErrorHandler(handler execution.ErrorHandler) SessionOption {
	return func(s *Session) {
		s.onExecError = handler
	}
}

// WithMetadata sets the session's initial workflow metadata
func WithMetadata(meta workflow.Metadata) SessionOption {
	return func(s *Session) {
		s.meta = meta
	}
}

// NewSession creates a session with an empty graph
func NewSession(backend Backend, opts ...SessionOption) *Session {
	s := &Session{backend: backend}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	if s.streams == nil {
		s.streams = s.openStream
	}

	s.store = graph.NewStore(graph.WithLogger(s.logger))
	s.tracker = execution.NewTracker(
		execution.WithStreamOpener(func(executionID string) (io.Closer, error) {
			return s.streams(executionID)
		}),
		execution.WithInputSubmitter(s.backend.SubmitInput),
		execution.WithErrorHandler(s.onExecError),
		execution.WithTrackerLogger(s.logger),
	)
	s.pipeline = assist.NewPipeline(s.store, s.backend, assist.WithPipelineLogger(s.logger))
	s.registry = NewCallbackRegistry(WithRegistryLogger(s.logger))
	s.registry.Bind(s.store)

	return s
}

// Store returns the session's graph store
func (s *Session) Store() *graph.Store {
	return s.store
}

// Tracker returns the session's execution tracker
func (s *Session) Tracker() *execution.Tracker {
	return s.tracker
}

// Registry returns the session's callback registry
func (s *Session) Registry() *CallbackRegistry {
	return s.registry
}

// Metadata returns the current workflow metadata
func (s *Session) Metadata() workflow.Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

// SetMetadata replaces the workflow metadata
func (s *Session) SetMetadata(meta workflow.Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta = meta
}

// LoadDefinition replaces the graph with the definition's contents and
// rebinds node callbacks to the store
func (s *Session) LoadDefinition(def workflow.Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	s.store.SetGraph(def.Nodes, def.Edges)
	s.registry.Bind(s.store)
	s.SetMetadata(def.Metadata)

	s.logger.Info("loaded workflow",
		logging.F("name", def.Metadata.Name),
		logging.F("nodes", len(def.Nodes)),
		logging.F("edges", len(def.Edges)))
	return nil
}

// SaveDefinition captures the current graph and metadata as a definition
func (s *Session) SaveDefinition() workflow.Definition {
	return workflow.FromSnapshot(s.Metadata(), s.store.Snapshot())
}

// SuggestName asks the backend to identify the current graph
func (s *Session) SuggestName(ctx context.Context) (transport.WorkflowIdentity, error) {
	return s.backend.SuggestIdentity(ctx, s.store.Snapshot())
}

// Edit proposes an AI edit of the current graph from a free-text command
func (s *Session) Edit(ctx context.Context, command string) (assist.Result, error) {
	return s.pipeline.Propose(ctx, command)
}

// PendingEdit returns the held plan awaiting confirmation, if any
func (s *Session) PendingEdit() (assist.Plan, bool) {
	return s.pipeline.Pending()
}

// ConfirmEdit applies the held plan
func (s *Session) ConfirmEdit() error {
	return s.pipeline.Confirm()
}

// CancelEdit discards the held plan without touching the graph
func (s *Session) CancelEdit() {
	s.pipeline.Cancel()
}

// Run submits the current graph for execution and begins tracking it.
// String and map input have embedded expressions evaluated first. When
// the backend answers with a terminal status the tracker records the
// outcome directly and no subscription stays open.
func (s *Session) Run(ctx context.Context, input interface{}) (string, error) {
	snapshot := s.store.Snapshot()
	if len(snapshot.Nodes) == 0 {
		return "", ErrEmptyGraph
	}

	evaluated, err := s.evaluateInput(input)
	if err != nil {
		return "", fmt.Errorf("failed to evaluate run input: %w", err)
	}

	status, err := s.backend.Execute(ctx, client.ExecuteRequest{
		Nodes: snapshot.Nodes,
		Edges: snapshot.Edges,
		Input: evaluated,
	})
	if err != nil {
		return "", err
	}
	if status.ExecutionID == "" {
		return "", fmt.Errorf("backend returned no execution id")
	}

	s.logger.Info("execution started",
		logging.F("execution_id", status.ExecutionID),
		logging.F("status", status.Status))

	if err := s.tracker.Start(status.ExecutionID, snapshot.NodeIDs()); err != nil {
		return status.ExecutionID, err
	}

	if status.Terminal() {
		s.tracker.ApplyWorkflowStatus(execution.OverallStatus(status.Status), status.Error)
		s.tracker.Stop()
	}

	return status.ExecutionID, nil
}

// Stop tears down the live execution, force-failing whatever still runs
func (s *Session) Stop() {
	s.tracker.Stop()
}

// SubmitInput forwards user input to the tracked run
func (s *Session) SubmitInput(ctx context.Context, input string) error {
	return s.tracker.SubmitUserInput(ctx, input)
}

// HandleEvent routes one inbound execution event to the tracker. The
// transport calls this for every stream frame and polled snapshot; an
// embedding UI with its own delivery path can call it directly.
func (s *Session) HandleEvent(event transport.Event) {
	switch event.Type {
	case transport.EventNodeUpdate:
		update := execution.NodeUpdate{
			Status: execution.NodeStatus(event.Status),
			Cost:   event.Cost,
			Error:  event.Error,
		}
		s.tracker.UpdateNode(event.NodeID, update)
	case transport.EventWorkflowUpdate:
		s.tracker.ApplyWorkflowStatus(execution.OverallStatus(event.Status), event.Error)
	case transport.EventProgressUpdate:
		if event.Progress == nil {
			return
		}
		for nodeID, status := range event.Progress.NodeStatus {
			s.tracker.UpdateNode(nodeID, execution.NodeUpdate{Status: execution.NodeStatus(status)})
		}
	case transport.EventInputRequest:
		s.tracker.MarkWaitingForInput(event.NodeID)
	case transport.EventInputReceived:
		s.tracker.MarkInputReceived(event.NodeID)
	default:
		s.logger.Warn("ignoring unrecognized event frame", logging.F("type", string(event.Type)))
	}
}

// openStream is the default stream factory: a WebSocket subscription with
// polling fallback against the backend
func (s *Session) openStream(executionID string) (io.Closer, error) {
	opts := s.transportOpts
	opts.URL = s.backend.StreamURL(executionID)
	opts.Handler = s.HandleEvent
	opts.Fetch = s.backend.GetExecution
	opts.OnError = func(err error) {
		s.tracker.ReportError(err)
	}
	opts.Logger = s.logger
	return transport.Open(executionID, opts), nil
}

// evaluateInput expands expressions in string or map input. Other input
// shapes pass through untouched.
func (s *Session) evaluateInput(input interface{}) (interface{}, error) {
	if s.evaluator == nil || input == nil {
		return input, nil
	}

	context := s.evaluationContext()
	switch value := input.(type) {
	case string:
		return s.evaluator.Evaluate(value, context)
	case map[string]interface{}:
		return s.evaluator.EvaluateInObject(value, context)
	default:
		return input, nil
	}
}

// evaluationContext builds the variables visible to input expressions
func (s *Session) evaluationContext() map[string]interface{} {
	env := make(map[string]interface{})
	for _, entry := range os.Environ() {
		if key, value, ok := strings.Cut(entry, "="); ok {
			env[key] = value
		}
	}

	meta := s.Metadata()
	return map[string]interface{}{
		"env": env,
		"workflow": map[string]interface{}{
			"name":     meta.Name,
			"category": meta.Category,
		},
	}
}
