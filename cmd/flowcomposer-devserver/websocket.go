package main

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/tcmartin/flowcomposer/pkg/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dev server, any origin may connect
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleExecutionStream upgrades the connection and streams one run's
// frames: the recorded history first, then live frames until the run
// reaches a terminal status, at which point the stream closes normally.
func (s *server) handleExecutionStream(w http.ResponseWriter, r *http.Request) {
	executionID := mux.Vars(r)["id"]

	backlog, live, ok := s.engine.Subscribe(executionID)
	if !ok {
		http.Error(w, "execution not found", http.StatusNotFound)
		return
	}
	if live != nil {
		defer s.engine.Unsubscribe(executionID, live)
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", logging.F("error", err.Error()))
		return
	}
	defer conn.Close()

	s.logger.Debug("stream attached", logging.F("execution_id", executionID))

	// The composer sends no application frames; reading is what surfaces
	// a client disconnect.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, frame := range backlog {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}

	if live == nil {
		s.closeStream(conn, gone)
		return
	}

	for {
		select {
		case frame, open := <-live:
			if !open {
				// The run finished and the engine emitted its last frame
				s.closeStream(conn, gone)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-gone:
			s.logger.Debug("stream detached", logging.F("execution_id", executionID))
			return
		}
	}
}

// closeStream performs a normal close handshake, waiting briefly for the
// client's close response so the final frames are not cut off
func (s *server) closeStream(conn *websocket.Conn, gone <-chan struct{}) {
	deadline := time.Now().Add(time.Second)
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "execution finished")
	_ = conn.WriteControl(websocket.CloseMessage, message, deadline)

	select {
	case <-gone:
	case <-time.After(time.Second):
	}
}
