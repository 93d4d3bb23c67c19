package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/taskfactory/daemon/internal/activity"
	"github.com/taskfactory/daemon/internal/ferrors"
)

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var fe *ferrors.Error
	if errors.As(err, &fe) {
		switch fe.Kind {
		case ferrors.KindNotFound:
			status = http.StatusNotFound
		case ferrors.KindValidation, ferrors.KindInvalidTransition:
			status = http.StatusBadRequest
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":     err.Error(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleHealthCheck reports process uptime and registered workspace count.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"uptimeSeconds":   int(time.Since(s.startTime).Seconds()),
		"workspaceCount":  len(s.registry.ListWorkspaces()),
		"droppedActivity": s.bus.DroppedCount(),
	})
}

// handleShutdownRequest signals ShutdownRequested and acknowledges the
// caller; it does not itself stop the server. cmd/taskfactoryd's main loop
// watches the channel and performs the actual graceful shutdown sequence,
// matching the semantics internal/instance.SendShutdownRequest expects.
func (s *Server) handleShutdownRequest(w http.ResponseWriter, r *http.Request) {
	if !s.shutdownSignaled {
		s.shutdownSignaled = true
		close(s.ShutdownRequested)
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"status": "shutting down"})
}

// handleListWorkspaces returns the registry's flat workspace index.
func (s *Server) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.registry.ListWorkspaces())
}

// handleWorkspaceActivity replays persisted activity entries for a
// workspace. Supports ?limit=N and ?since=<RFC3339>.
func (s *Server) handleWorkspaceActivity(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.registry.GetWorkspaceByID(id); err != nil {
		s.respondError(w, err)
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}

	var since *time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, ferrors.Validation("invalid since timestamp: %v", err))
			return
		}
		since = &t
	}

	entries, err := s.bus.Replay(id, limit, since)
	if err != nil {
		s.respondError(w, ferrors.IO(err, "replay activity for workspace %s", id))
		return
	}

	s.respondJSON(w, http.StatusOK, entries)
}

// handleWorkspaceStream upgrades to a websocket and forwards every entry
// the activity bus broadcasts for this workspace, verbatim, until the
// client disconnects.
func (s *Server) handleWorkspaceStream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.registry.GetWorkspaceByID(id); err != nil {
		s.respondError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := s.bus.Subscribe(id)
	defer s.bus.Unsubscribe(id, ch)

	// Detect client-initiated close without processing any inbound frames.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case entry, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEntry(conn, entry); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func writeEntry(conn *websocket.Conn, entry activity.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
