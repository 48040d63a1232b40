// Package main is the entry point for the flowcomposer development server,
// a local stand-in for the production execution backend. It speaks the same
// HTTP, WebSocket, and SSE surface the composer client expects, but instead
// of invoking models it simulates runs: nodes complete one by one with a
// configurable latency, conditional nodes pick the first rule whose
// JavaScript expression over the run input is truthy, and nodes carrying
// `await_input: true` in their data pause the run until input arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/tcmartin/flowcomposer/pkg/client"
	"github.com/tcmartin/flowcomposer/pkg/logging"
)

var (
	// Command-line flags
	addr      = flag.String("addr", "localhost:8090", "Address to listen on")
	latency   = flag.Duration("latency", 400*time.Millisecond, "Simulated per-node execution time")
	jwtSecret = flag.String("jwt-secret", "flowcomposer-dev", "HMAC secret for issued tokens")
	logLevel  = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	version   = flag.Bool("version", false, "Print version information")
)

// Version information
const (
	AppVersion = "0.1.0"
	AppName    = "flowcomposer-devserver"
)

func main() {
	// Load environment variables from .env file
	_ = godotenv.Load()

	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		return
	}

	logger := logging.New(logging.Config{Level: *logLevel, Format: "text", Output: os.Stderr})

	srv := &server{
		engine: newEngine(*latency, logger),
		secret: *jwtSecret,
		logger: logger,
	}

	httpServer := &http.Server{Addr: *addr, Handler: newRouter(srv)}

	// Handle graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("devserver listening",
			logging.F("addr", *addr),
			logging.F("latency", latency.String()))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	case <-stop:
		logger.Info("shutting down gracefully")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Fatalf("Error during shutdown: %v", err)
		}
	}
}

// newRouter wires every endpoint the composer client speaks to
func newRouter(srv *server) http.Handler {
	router := mux.NewRouter()

	// Public routes
	router.HandleFunc("/api/v1/health", srv.handleHealth).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/api/auth/login", srv.handleLogin).Methods(http.MethodPost, http.MethodOptions)

	// The stream carries no auth header, the composer dials it bare
	router.HandleFunc("/ws/execution/{id}", srv.handleExecutionStream).Methods(http.MethodGet)

	// Routes that honor a bearer token when one is presented
	authenticated := router.PathPrefix("").Subrouter()
	authenticated.Use(srv.authenticate)
	authenticated.HandleFunc("/execute", srv.handleExecute).Methods(http.MethodPost, http.MethodOptions)
	authenticated.HandleFunc("/executions/{id}", srv.handleExecutionStatus).Methods(http.MethodGet, http.MethodOptions)
	authenticated.HandleFunc("/executions/{id}/input", srv.handleSubmitInput).Methods(http.MethodPost, http.MethodOptions)
	authenticated.HandleFunc(client.DefaultSuggestPath, srv.handleSuggest).Methods(http.MethodPost, http.MethodOptions)
	authenticated.HandleFunc(client.DefaultIdentifyPath, srv.handleIdentify).Methods(http.MethodPost, http.MethodOptions)
	authenticated.HandleFunc(client.DefaultAssistantPath, srv.handleAssistant).Methods(http.MethodGet, http.MethodOptions)

	// Browser composers run on another origin during development
	router.Use(corsMiddleware)
	router.Use(requestLogMiddleware(srv.logger))

	return router
}

// corsMiddleware allows cross-origin requests from a locally served UI
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogMiddleware logs every request line
func requestLogMiddleware(logger logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request",
				logging.F("method", r.Method),
				logging.F("path", r.URL.Path))
			next.ServeHTTP(w, r)
		})
	}
}
