package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tcmartin/flowcomposer/pkg/logging"
)

// Errors surfaced by the subscriber
var (
	// ErrPollBudgetExhausted indicates the fallback poller hit its attempt
	// or wall-clock ceiling before the run reached a terminal status
	ErrPollBudgetExhausted = errors.New("poll budget exhausted")

	// ErrNoFallback indicates the stream failed and no status fetcher was
	// configured to poll with
	ErrNoFallback = errors.New("stream failed and no fallback fetcher configured")
)

// Defaults for the delivery paths
const (
	DefaultOpenTimeout     = 3 * time.Second
	DefaultPollInterval    = 2 * time.Second
	DefaultPollMaxAttempts = 150
	DefaultPollMaxWait     = 5 * time.Minute
)

// Handler consumes execution events. It is called from a single goroutine
// per subscriber, in arrival order, regardless of which path produced the
// event.
type Handler func(Event)

// StatusFetcher fetches the current execution snapshot, used by the
// polling fallback
type StatusFetcher func(ctx context.Context, executionID string) (ExecutionStatus, error)

// Options configures a subscription
type Options struct {
	// URL is the WebSocket endpoint for this execution's event stream
	URL string

	// Handler receives every delivered event
	Handler Handler

	// Fetch is the polling fallback's snapshot fetcher
	Fetch StatusFetcher

	// OnError receives delivery failures that end the subscription
	OnError func(error)

	// OpenTimeout bounds the wait for the stream's first frame
	OpenTimeout time.Duration

	// PollInterval is the fallback polling cadence
	PollInterval time.Duration

	// PollMaxAttempts caps fallback fetches per execution
	PollMaxAttempts int

	// PollMaxWait caps fallback polling wall-clock time
	PollMaxWait time.Duration

	// Dialer overrides the WebSocket dialer
	Dialer *websocket.Dialer

	// Logger overrides the default logger
	Logger logging.Logger
}

// Delivery paths. A subscriber moves strictly forward through these.
const (
	pathStream = iota
	pathPolling
	pathDone
)

// Subscriber delivers the event stream for exactly one execution id. It
// opens the WebSocket; if no frame arrives within the open window, or the
// stream errors, it abandons the socket and polls instead. A normal close
// after a terminal frame ends delivery without falling back. Close is
// idempotent and stops whichever path is active; results still in flight
// at close time are dropped, not delivered.
type Subscriber struct {
	executionID string
	opts        Options
	logger      logging.Logger

	mu          sync.Mutex
	path        int
	closed      bool
	gen         uint64
	sawTerminal bool
	conn        *websocket.Conn
	cancel      context.CancelFunc
}

// Open starts event delivery for an execution id. It never blocks on the
// network; dial and fallback decisions happen on the subscriber's own
// goroutine and failures are reported through Options.OnError.
func Open(executionID string, opts Options) *Subscriber {
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = DefaultOpenTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.PollMaxAttempts <= 0 {
		opts.PollMaxAttempts = DefaultPollMaxAttempts
	}
	if opts.PollMaxWait <= 0 {
		opts.PollMaxWait = DefaultPollMaxWait
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}

	s := &Subscriber{
		executionID: executionID,
		opts:        opts,
		logger:      logger.WithFields(logging.F("execution_id", executionID)),
		path:        pathStream,
	}

	go s.runStream()
	return s
}

// Close tears down whichever delivery path is active. Safe to call more
// than once and from any goroutine. After Close returns, no in-flight
// fetch result reaches the handler.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.path = pathDone
	s.gen++
	conn := s.conn
	s.conn = nil
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// Closed reports whether the subscriber has been closed
func (s *Subscriber) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Polling reports whether the fallback poller is the active path
func (s *Subscriber) Polling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path == pathPolling
}

// runStream dials the WebSocket and reads frames until the stream ends.
// The first frame must arrive within the open window; a silent stream is
// treated the same as a failed dial.
func (s *Subscriber) runStream() {
	dialer := s.opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: s.opts.OpenTimeout}
	}

	conn, _, err := dialer.Dial(s.opts.URL, nil)
	if err != nil {
		s.logger.Warn("stream dial failed", logging.F("error", err.Error()))
		s.fallback()
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.mu.Unlock()

	// The engine acknowledges a subscription with an immediate frame.
	// Nothing inside the open window means the stream is not usable.
	conn.SetReadDeadline(time.Now().Add(s.opts.OpenTimeout))

	opened := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.Closed() {
				return
			}
			// Engines close the stream normally once the run is over. That
			// is the end of delivery, not a reason to poll.
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && s.sawTerminalStatus() {
				s.logger.Debug("stream closed by engine after terminal status")
				s.finishStream(conn)
				return
			}
			if opened {
				s.logger.Warn("stream read failed", logging.F("error", err.Error()))
			} else {
				s.logger.Warn("stream never acknowledged open", logging.F("error", err.Error()))
			}
			s.abandonStream(conn)
			return
		}

		if !opened {
			opened = true
			conn.SetReadDeadline(time.Time{})
		}

		event, err := ParseEvent(data)
		if err != nil {
			s.logger.Warn("dropping malformed frame", logging.F("error", err.Error()))
			continue
		}
		if event.Type == EventWorkflowUpdate && TerminalStatus(event.Status) {
			s.mu.Lock()
			s.sawTerminal = true
			s.mu.Unlock()
		}
		s.deliver(event)
	}
}

// sawTerminalStatus reports whether a terminal workflow_update frame has
// been delivered on the stream path
func (s *Subscriber) sawTerminalStatus() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sawTerminal
}

// finishStream marks delivery complete after a clean engine-side close.
// The terminal status already reached the handler, so no fallback runs.
func (s *Subscriber) finishStream(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.path = pathDone
	s.mu.Unlock()
	conn.Close()
}

// abandonStream closes the socket and hands delivery to the poller
func (s *Subscriber) abandonStream(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	conn.Close()
	s.fallback()
}

// fallback switches the subscriber to the polling path. The transition
// happens at most once per subscriber, which is what keeps a late stream
// error from spawning a second poller.
func (s *Subscriber) fallback() {
	s.mu.Lock()
	if s.closed || s.path != pathStream {
		s.mu.Unlock()
		return
	}
	if s.opts.Fetch == nil {
		s.path = pathDone
		s.mu.Unlock()
		s.reportError(ErrNoFallback)
		return
	}
	s.path = pathPolling
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info("falling back to status polling",
		logging.F("interval", s.opts.PollInterval.String()),
		logging.F("max_attempts", s.opts.PollMaxAttempts))

	go s.runPoller(ctx)
}

// runPoller fetches the execution snapshot on a fixed interval and forwards
// it through the uniform handler contract. It stops on a terminal status or
// when the attempt or wall-clock budget runs out.
func (s *Subscriber) runPoller(ctx context.Context) {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	deadline := time.Now().Add(s.opts.PollMaxWait)

	for attempt := 1; attempt <= s.opts.PollMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			s.finishPolling(fmt.Errorf("%w: exceeded %s wall clock", ErrPollBudgetExhausted, s.opts.PollMaxWait))
			return
		}

		// The generation is captured before the fetch; a Close during the
		// round trip bumps it and the stale result is dropped.
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		gen := s.gen
		s.mu.Unlock()

		status, err := s.opts.Fetch(ctx, s.executionID)
		if err != nil {
			s.logger.Warn("status poll failed",
				logging.F("attempt", attempt),
				logging.F("error", err.Error()))
			continue
		}

		s.mu.Lock()
		stale := s.closed || s.gen != gen
		s.mu.Unlock()
		if stale {
			return
		}

		s.deliver(status.Event())

		if status.Terminal() {
			s.finishPolling(nil)
			return
		}
	}

	s.finishPolling(fmt.Errorf("%w: %d attempts", ErrPollBudgetExhausted, s.opts.PollMaxAttempts))
}

// finishPolling marks the subscriber done and reports a budget error, if any
func (s *Subscriber) finishPolling(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.path = pathDone
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err != nil {
		s.reportError(err)
	}
}

// deliver forwards one event to the handler unless the subscriber closed
func (s *Subscriber) deliver(event Event) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed || s.opts.Handler == nil {
		return
	}
	s.opts.Handler(event)
}

func (s *Subscriber) reportError(err error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed || s.opts.OnError == nil {
		return
	}
	s.opts.OnError(err)
}
