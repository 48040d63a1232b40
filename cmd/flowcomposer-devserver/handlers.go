package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"

	"github.com/tcmartin/flowcomposer/pkg/graph"
	"github.com/tcmartin/flowcomposer/pkg/logging"
)

// server holds the devserver's handler dependencies
type server struct {
	engine *engine
	secret string
	logger logging.Logger
}

// executeRequest is the execute endpoint's request shape
type executeRequest struct {
	Nodes []graph.Node `json:"nodes"`
	Edges []graph.Edge `json:"edges"`
	Input interface{}  `json:"input"`
}

// handleExecute starts a simulated run for the submitted graph
func (s *server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Nodes) == 0 {
		http.Error(w, "graph has no nodes", http.StatusBadRequest)
		return
	}

	status := s.engine.Start(req.Nodes, req.Edges, req.Input)
	s.logger.Info("execution started",
		logging.F("execution_id", status.ExecutionID),
		logging.F("nodes", len(req.Nodes)),
		logging.F("edges", len(req.Edges)))

	writeJSON(w, http.StatusOK, status)
}

// handleExecutionStatus serves the current snapshot for one run
func (s *server) handleExecutionStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	status, ok := s.engine.Status(id)
	if !ok {
		http.Error(w, "execution not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleSubmitInput forwards user input to a paused run
func (s *server) handleSubmitInput(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		Input string `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	switch err := s.engine.SubmitInput(id, req.Input); {
	case errors.Is(err, errExecutionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, errNotWaiting):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleLogin issues a signed token for any non-empty credential pair.
// The dev server has no account database, it just exercises the auth flow.
func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "username and password are required", http.StatusBadRequest)
		return
	}

	claims := jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		Issuer:    AppName,
		Subject:   req.Username,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.secret))
	if err != nil {
		http.Error(w, "failed to sign token", http.StatusInternalServerError)
		return
	}

	s.logger.Info("issued token", logging.F("username", req.Username))
	writeJSON(w, http.StatusOK, map[string]string{"token": signed})
}

// handleHealth is the liveness endpoint
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// authenticate validates a bearer token when one is presented. Requests
// without a token pass through: the dev server is open by default but
// still exercises the client's refresh path once a login has happened.
func (s *server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimPrefix(header, "Bearer ")
		if err := s.validateToken(token); err != nil {
			s.logger.Warn("rejected bearer token", logging.F("error", err.Error()))
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// validateToken checks the signature and expiry of an issued token
func (s *server) validateToken(tokenString string) error {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.secret), nil
	})
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return errors.New("invalid token")
	}
	return nil
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
