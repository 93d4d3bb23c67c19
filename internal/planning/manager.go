package planning

import (
	"log"
	"sync"

	"github.com/taskfactory/daemon/internal/activity"
	"github.com/taskfactory/daemon/internal/agentsession"
	"github.com/taskfactory/daemon/internal/taskstore"
)

// Manager owns one Session per workspace, created lazily on first use.
type Manager struct {
	adapter agentsession.Adapter
	bus     *activity.Bus

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(adapter agentsession.Adapter, bus *activity.Bus) *Manager {
	return &Manager{adapter: adapter, bus: bus, sessions: make(map[string]*Session)}
}

// Get returns the session for workspaceID, creating it on first call.
// artifactRoot backs the JSON snapshot and the sqlite shelf side-index;
// a failure to open the side-index is logged and degrades to JSON-only.
func (m *Manager) Get(workspaceID, cwd, artifactRoot string, store *taskstore.Store) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[workspaceID]; ok {
		return s
	}

	persist := NewDebouncedPersister(artifactRoot)
	index, err := OpenShelfIndex(artifactRoot + "/factory/shelf.db")
	if err != nil {
		log.Printf("[PLANNING] %s: shelf index unavailable, using JSON only: %v", workspaceID, err)
		index = nil
	}
	s := New(workspaceID, cwd, m.adapter, m.bus, store, persist, index)
	m.sessions[workspaceID] = s
	return s
}

// Remove tears down and forgets a workspace's session, e.g. on workspace
// deletion.
func (m *Manager) Remove(workspaceID string) {
	m.mu.Lock()
	s, ok := m.sessions[workspaceID]
	delete(m.sessions, workspaceID)
	m.mu.Unlock()
	if ok {
		_ = s.StopPlanningExecution()
		if s.index != nil {
			_ = s.index.Close()
		}
	}
}
