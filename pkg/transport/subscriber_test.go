package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/flowcomposer/pkg/logging"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// eventCollector records delivered events for assertions
type eventCollector struct {
	mu     sync.Mutex
	events []Event
}

func (c *eventCollector) handle(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *eventCollector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *eventCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestStreamDeliversFramesInOrder(t *testing.T) {
	frames := make(chan map[string]interface{}, 8)
	serverDone := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		defer close(serverDone)
		for frame := range frames {
			writeFrame(t, conn, frame)
		}
	}))
	defer server.Close()

	collector := &eventCollector{}
	sub := Open("exec-1", Options{
		URL:         wsURL(server),
		Handler:     collector.handle,
		OpenTimeout: 2 * time.Second,
		Logger:      logging.Nop(),
	})
	defer sub.Close()

	frames <- map[string]interface{}{"type": "node_update", "node_id": "a", "status": "running"}
	frames <- map[string]interface{}{"type": "node_update", "node_id": "a", "status": "completed"}
	frames <- map[string]interface{}{"type": "workflow_update", "status": "completed"}
	close(frames)

	assert.Eventually(t, func() bool { return collector.count() == 3 }, 2*time.Second, 10*time.Millisecond)

	events := collector.snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, EventNodeUpdate, events[0].Type)
	assert.Equal(t, "running", events[0].Status)
	assert.Equal(t, EventNodeUpdate, events[1].Type)
	assert.Equal(t, "completed", events[1].Status)
	assert.Equal(t, EventWorkflowUpdate, events[2].Type)

	<-serverDone
	assert.False(t, sub.Polling(), "a healthy stream must never trigger the poller")
}

func TestSilentStreamFallsBackToPollingOnce(t *testing.T) {
	streamClosed := make(chan struct{})

	// Upgrade succeeds but the server never sends a frame, so the open
	// window must expire and delivery must move to polling.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		conn.ReadMessage() // returns once the client abandons the socket
		close(streamClosed)
	}))
	defer server.Close()

	var fetchMu sync.Mutex
	fetches := 0

	collector := &eventCollector{}
	sub := Open("exec-1", Options{
		URL:          wsURL(server),
		Handler:      collector.handle,
		OpenTimeout:  100 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
		Logger:       logging.Nop(),
		Fetch: func(_ context.Context, executionID string) (ExecutionStatus, error) {
			fetchMu.Lock()
			defer fetchMu.Unlock()
			fetches++
			if fetches < 2 {
				return ExecutionStatus{ExecutionID: executionID, Status: "running"}, nil
			}
			return ExecutionStatus{ExecutionID: executionID, Status: "completed"}, nil
		},
	})
	defer sub.Close()

	select {
	case <-streamClosed:
	case <-time.After(2 * time.Second):
		t.Fatal("stream was never abandoned")
	}

	assert.Eventually(t, func() bool { return collector.count() >= 2 }, 2*time.Second, 10*time.Millisecond)

	// Everything delivered came through the poller's uniform contract.
	for _, event := range collector.snapshot() {
		assert.Equal(t, EventWorkflowUpdate, event.Type)
		assert.Equal(t, "exec-1", event.ExecutionID)
	}

	// The poller stopped on the terminal status; no further fetches happen.
	fetchMu.Lock()
	terminalFetches := fetches
	fetchMu.Unlock()
	time.Sleep(100 * time.Millisecond)
	fetchMu.Lock()
	assert.Equal(t, terminalFetches, fetches)
	fetchMu.Unlock()

	require.Equal(t, 2, terminalFetches)
	assert.Equal(t, 2, collector.count())
}

func TestDialFailureFallsBack(t *testing.T) {
	collector := &eventCollector{}
	sub := Open("exec-1", Options{
		URL:          "ws://127.0.0.1:1", // nothing listens here
		Handler:      collector.handle,
		OpenTimeout:  200 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
		Logger:       logging.Nop(),
		Fetch: func(_ context.Context, executionID string) (ExecutionStatus, error) {
			return ExecutionStatus{ExecutionID: executionID, Status: "completed"}, nil
		},
	})
	defer sub.Close()

	assert.Eventually(t, func() bool { return collector.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	events := collector.snapshot()
	assert.Equal(t, "completed", events[0].Status)
}

func TestStreamErrorAfterOpenFallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		writeFrame(t, conn, map[string]interface{}{"type": "node_update", "node_id": "a", "status": "running"})
		conn.Close() // abrupt close mid-run
	}))
	defer server.Close()

	collector := &eventCollector{}
	sub := Open("exec-1", Options{
		URL:          wsURL(server),
		Handler:      collector.handle,
		OpenTimeout:  2 * time.Second,
		PollInterval: 10 * time.Millisecond,
		Logger:       logging.Nop(),
		Fetch: func(_ context.Context, executionID string) (ExecutionStatus, error) {
			return ExecutionStatus{ExecutionID: executionID, Status: "completed"}, nil
		},
	})
	defer sub.Close()

	assert.Eventually(t, func() bool { return collector.count() >= 2 }, 2*time.Second, 10*time.Millisecond)

	events := collector.snapshot()
	assert.Equal(t, EventNodeUpdate, events[0].Type, "frames read before the error still count")
	assert.Equal(t, EventWorkflowUpdate, events[1].Type)
}

func TestCloseDropsInFlightFetch(t *testing.T) {
	fetchStarted := make(chan struct{})
	releaseFetch := make(chan struct{})

	collector := &eventCollector{}
	sub := Open("exec-1", Options{
		URL:          "ws://127.0.0.1:1",
		Handler:      collector.handle,
		OpenTimeout:  50 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
		Logger:       logging.Nop(),
		Fetch: func(_ context.Context, executionID string) (ExecutionStatus, error) {
			close(fetchStarted)
			<-releaseFetch
			return ExecutionStatus{ExecutionID: executionID, Status: "completed"}, nil
		},
	})

	select {
	case <-fetchStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("poller never fetched")
	}

	require.NoError(t, sub.Close())
	close(releaseFetch)

	// The fetch resolved after close; its result must never reach the handler.
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, collector.count())
}

func TestCloseIsIdempotent(t *testing.T) {
	sub := Open("exec-1", Options{
		URL:         "ws://127.0.0.1:1",
		OpenTimeout: 50 * time.Millisecond,
		Logger:      logging.Nop(),
		Fetch: func(_ context.Context, executionID string) (ExecutionStatus, error) {
			return ExecutionStatus{ExecutionID: executionID, Status: "running"}, nil
		},
	})

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.True(t, sub.Closed())
}

func TestPollBudgetExhausted(t *testing.T) {
	var fetchMu sync.Mutex
	fetches := 0

	errs := make(chan error, 1)
	sub := Open("exec-1", Options{
		URL:             "ws://127.0.0.1:1",
		OpenTimeout:     50 * time.Millisecond,
		PollInterval:    10 * time.Millisecond,
		PollMaxAttempts: 3,
		Logger:          logging.Nop(),
		OnError:         func(err error) { errs <- err },
		Fetch: func(_ context.Context, executionID string) (ExecutionStatus, error) {
			fetchMu.Lock()
			defer fetchMu.Unlock()
			fetches++
			return ExecutionStatus{ExecutionID: executionID, Status: "running"}, nil
		},
	})
	defer sub.Close()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrPollBudgetExhausted)
	case <-time.After(2 * time.Second):
		t.Fatal("budget exhaustion was never reported")
	}

	fetchMu.Lock()
	assert.Equal(t, 3, fetches)
	fetchMu.Unlock()
}

func TestStreamFailureWithoutFetcherReportsError(t *testing.T) {
	errs := make(chan error, 1)
	sub := Open("exec-1", Options{
		URL:         "ws://127.0.0.1:1",
		OpenTimeout: 50 * time.Millisecond,
		Logger:      logging.Nop(),
		OnError:     func(err error) { errs <- err },
	})
	defer sub.Close()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrNoFallback)
	case <-time.After(2 * time.Second):
		t.Fatal("missing fallback was never reported")
	}
}

func TestParseEvent(t *testing.T) {
	event, err := ParseEvent([]byte(`{"type":"node_update","node_id":"a","status":"running","cost":0.01}`))
	require.NoError(t, err)
	assert.Equal(t, EventNodeUpdate, event.Type)
	assert.True(t, event.Type.Known())
	assert.Equal(t, "a", event.NodeID)
	require.NotNil(t, event.Cost)
	assert.Equal(t, 0.01, *event.Cost)

	event, err = ParseEvent([]byte(`{"type":"telemetry","payload":{"x":1}}`))
	require.NoError(t, err)
	assert.False(t, event.Type.Known())
	assert.JSONEq(t, `{"type":"telemetry","payload":{"x":1}}`, string(event.Raw))

	_, err = ParseEvent([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseProgressFrame(t *testing.T) {
	data := `{"type":"progress_update","progress":{"percentage":40,"node_status":{"a":"completed","b":"running"},"current_activity":"Calling model"}}`
	event, err := ParseEvent([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, EventProgressUpdate, event.Type)
	require.NotNil(t, event.Progress)
	assert.Equal(t, 40.0, event.Progress.Percentage)
	assert.Equal(t, "running", event.Progress.NodeStatus["b"])
	assert.Equal(t, "Calling model", event.Progress.CurrentActivity)
}

func TestExecutionStatusEvent(t *testing.T) {
	status := ExecutionStatus{ExecutionID: "exec-1", Status: "failed", Error: "boom"}
	assert.True(t, status.Terminal())

	event := status.Event()
	assert.Equal(t, EventWorkflowUpdate, event.Type)
	assert.Equal(t, "failed", event.Status)
	assert.Equal(t, "boom", event.Error)

	running := ExecutionStatus{Status: "running"}
	assert.False(t, running.Terminal())
}

func TestNoFallbackAfterClose(t *testing.T) {
	// The server accepts the connection but never completes the upgrade,
	// so the dial cannot fail before Close lands. Once closed, the late
	// dial failure must not start a poller.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Second)
	}))
	defer server.Close()

	fetched := make(chan struct{}, 4)
	sub := Open("exec-1", Options{
		URL:          wsURL(server),
		OpenTimeout:  200 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
		Logger:       logging.Nop(),
		Dialer:       &websocket.Dialer{HandshakeTimeout: 200 * time.Millisecond},
		Fetch: func(_ context.Context, executionID string) (ExecutionStatus, error) {
			fetched <- struct{}{}
			return ExecutionStatus{ExecutionID: executionID, Status: "running"}, errors.New("unavailable")
		},
	})

	require.NoError(t, sub.Close())

	select {
	case <-fetched:
		t.Fatal("poller ran after close")
	case <-time.After(500 * time.Millisecond):
	}
	assert.False(t, sub.Polling())
}

func TestNormalCloseAfterTerminalEndsDelivery(t *testing.T) {
	fetched := make(chan struct{}, 4)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		writeFrame(t, conn, map[string]interface{}{"type": "node_update", "node_id": "a", "status": "completed"})
		writeFrame(t, conn, map[string]interface{}{"type": "workflow_update", "status": "completed"})

		// The engine is done with this run, close the stream normally.
		deadline := time.Now().Add(time.Second)
		message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		require.NoError(t, conn.WriteControl(websocket.CloseMessage, message, deadline))
	}))
	defer server.Close()

	collector := &eventCollector{}
	sub := Open("exec-1", Options{
		URL:          wsURL(server),
		Handler:      collector.handle,
		OpenTimeout:  2 * time.Second,
		PollInterval: 10 * time.Millisecond,
		Logger:       logging.Nop(),
		Fetch: func(_ context.Context, executionID string) (ExecutionStatus, error) {
			fetched <- struct{}{}
			return ExecutionStatus{ExecutionID: executionID, Status: "completed"}, nil
		},
	})
	defer sub.Close()

	assert.Eventually(t, func() bool { return collector.count() == 2 }, 2*time.Second, 10*time.Millisecond)

	select {
	case <-fetched:
		t.Fatal("poller ran after a clean close that followed a terminal frame")
	case <-time.After(300 * time.Millisecond):
	}
	assert.False(t, sub.Polling())
}

func TestNormalCloseBeforeTerminalFallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		writeFrame(t, conn, map[string]interface{}{"type": "node_update", "node_id": "a", "status": "running"})

		// A clean close without a terminal frame means the run is still
		// live somewhere; delivery must continue on the fallback path.
		deadline := time.Now().Add(time.Second)
		message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		require.NoError(t, conn.WriteControl(websocket.CloseMessage, message, deadline))
	}))
	defer server.Close()

	collector := &eventCollector{}
	sub := Open("exec-1", Options{
		URL:          wsURL(server),
		Handler:      collector.handle,
		OpenTimeout:  2 * time.Second,
		PollInterval: 10 * time.Millisecond,
		Logger:       logging.Nop(),
		Fetch: func(_ context.Context, executionID string) (ExecutionStatus, error) {
			return ExecutionStatus{ExecutionID: executionID, Status: "completed"}, nil
		},
	})
	defer sub.Close()

	// The poller fetches the terminal snapshot and forwards it.
	assert.Eventually(t, func() bool {
		for _, event := range collector.snapshot() {
			if event.Type == EventWorkflowUpdate && event.Status == "completed" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}
