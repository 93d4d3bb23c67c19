// Package server is a thin HTTP/WebSocket shim over the daemon core: a
// health endpoint, a workspace listing, per-workspace activity replay, and
// a websocket stream forwarding the activity bus. It is not a
// reimplementation of a front-end transport contract — an external
// collaborator UI is expected to own that; this exists so the daemon is
// reachable for manual testing and simple tooling.
package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/taskfactory/daemon/internal/activity"
	"github.com/taskfactory/daemon/internal/workspace"
)

// Server is the daemon's HTTP/WebSocket front door.
type Server struct {
	httpServer *http.Server
	router     *mux.Router

	registry *workspace.Registry
	bus      *activity.Bus

	startTime time.Time

	// ShutdownRequested is closed the first time a client POSTs /api/shutdown,
	// mirroring internal/instance's SendShutdownRequest contract; cmd/taskfactoryd
	// selects on it alongside OS signals.
	ShutdownRequested chan struct{}
	shutdownSignaled  bool
}

// NewServer wires a Server over an already-loaded workspace registry and
// activity bus.
func NewServer(registry *workspace.Registry, bus *activity.Bus) *Server {
	s := &Server{
		registry:          registry,
		bus:               bus,
		startTime:         time.Now(),
		ShutdownRequested: make(chan struct{}),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()
	s.router.Use(SecurityHeadersMiddleware)

	s.router.HandleFunc("/api/health", s.handleHealthCheck).Methods("GET")
	s.router.HandleFunc("/api/shutdown", s.handleShutdownRequest).Methods("POST")
	s.router.HandleFunc("/workspaces", s.handleListWorkspaces).Methods("GET")
	s.router.HandleFunc("/workspaces/{id}/activity", s.handleWorkspaceActivity).Methods("GET")
	s.router.HandleFunc("/workspaces/{id}/stream", s.handleWorkspaceStream)
}

// Start begins serving on addr, blocking until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	log.Printf("[SERVER] listening on http://localhost%s", addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
