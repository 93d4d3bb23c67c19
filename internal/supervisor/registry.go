package supervisor

import (
	"sync"
	"sync/atomic"
)

// activeEntry is one live supervised session, keyed by task id. Carries a
// monotonically increasing instance id so event handlers from a superseded
// session can detect and ignore late callbacks (spec §4.5 "Late-event
// suppression").
type activeEntry struct {
	instanceID  uint64
	sessionFile string
	cancel      func()
}

// Registry enforces "at most one active session per task" (invariant #5,
// spec §8), generalized from the teacher's supervisor.Dispatcher
// dispatchState map-with-mutex tracking.
type Registry struct {
	mu      sync.Mutex
	active  map[string]*activeEntry // taskID -> entry
	counter uint64
}

func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*activeEntry)}
}

// nextInstanceID returns a fresh, strictly increasing supervisor instance
// id used to tag events for late-event suppression.
func (r *Registry) nextInstanceID() uint64 {
	return atomic.AddUint64(&r.counter, 1)
}

// TryAcquire registers taskID as live if no session is currently active for
// it; returns (instanceID, true) on success.
func (r *Registry) TryAcquire(taskID, sessionFile string, cancel func()) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.active[taskID]; exists {
		return 0, false
	}
	id := r.nextInstanceID()
	r.active[taskID] = &activeEntry{instanceID: id, sessionFile: sessionFile, cancel: cancel}
	return id, true
}

// Release removes the entry for taskID if it matches instanceID (prevents
// a stale release from clobbering a newer session).
func (r *Registry) Release(taskID string, instanceID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.active[taskID]; ok && e.instanceID == instanceID {
		delete(r.active, taskID)
	}
}

// IsLive reports whether taskID currently has an active supervised session.
func (r *Registry) IsLive(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[taskID]
	return ok
}

// Cancel aborts the active session for taskID, if any; idempotent.
func (r *Registry) Cancel(taskID string) bool {
	r.mu.Lock()
	e, ok := r.active[taskID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	e.cancel()
	return true
}

// Count reports how many sessions are currently live, for WIP accounting.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
