package activity

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Backpressure configuration, carried over from the teacher's event bus.
const (
	maxBackpressureRetries = 3
	backpressureRetryDelay = 10 * time.Millisecond
	subscriberBufferSize   = 100
)

// Persister is implemented by the JSONL-backed store; kept as an interface
// so the bus can run without persistence in tests.
type Persister interface {
	Append(entry Entry) error
	Replay(workspaceID string, limit int, since *time.Time) ([]Entry, error)
}

type subscription struct {
	ch          chan Entry
	workspaceID string
}

// Bus fans out Entry values to per-workspace subscribers and persists them
// via Persister. Subscribers that fall behind are dropped, per spec §4.3.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]*subscription // workspaceID -> subs

	persister Persister

	dropped uint64
}

// New creates a Bus. persister may be nil (no durability, used in tests).
func New(persister Persister) *Bus {
	return &Bus{
		subscribers: make(map[string][]*subscription),
		persister:   persister,
	}
}

// Append assigns a fresh id and timestamp, persists, then broadcasts.
func (b *Bus) Append(workspaceID string, entry Entry) Entry {
	entry.ID = uuid.NewString()
	entry.WorkspaceID = workspaceID
	entry.Timestamp = time.Now()

	if b.persister != nil {
		if err := b.persister.Append(entry); err != nil {
			log.Printf("[ACTIVITY] ERROR: failed to persist entry %s for workspace %s: %v", entry.ID, workspaceID, err)
			b.broadcast(workspaceID, Entry{
				ID: uuid.NewString(), Type: TypeSystemEvent, WorkspaceID: workspaceID,
				Timestamp: time.Now(), Event: KindIOError, Message: "activity persistence failed: " + err.Error(),
			})
		}
	}

	b.broadcast(workspaceID, entry)
	return entry
}

func (b *Bus) broadcast(workspaceID string, entry Entry) {
	b.mu.RLock()
	subs := append([]*subscription(nil), b.subscribers[workspaceID]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.sendWithBackpressure(sub, entry)
	}
}

// Subscribe delivers every future entry for workspaceID exactly once, in
// append order, to the returned channel. Call Unsubscribe to release it.
func (b *Bus) Subscribe(workspaceID string) <-chan Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{ch: make(chan Entry, subscriberBufferSize), workspaceID: workspaceID}
	b.subscribers[workspaceID] = append(b.subscribers[workspaceID], sub)
	return sub.ch
}

// Unsubscribe removes and closes a subscription.
func (b *Bus) Unsubscribe(workspaceID string, ch <-chan Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[workspaceID]
	for i, s := range subs {
		if s.ch == ch {
			close(s.ch)
			b.subscribers[workspaceID] = append(subs[:i], subs[i+1:]...)
			if len(b.subscribers[workspaceID]) == 0 {
				delete(b.subscribers, workspaceID)
			}
			return
		}
	}
}

// sendWithBackpressure retries briefly before dropping a slow consumer,
// emitting a system-event marker on drop, mirroring the teacher's
// events.Bus.sendWithBackpressure.
func (b *Bus) sendWithBackpressure(sub *subscription, entry Entry) {
	select {
	case sub.ch <- entry:
		return
	default:
	}

	for retry := 1; retry <= maxBackpressureRetries; retry++ {
		time.Sleep(backpressureRetryDelay)
		select {
		case sub.ch <- entry:
			return
		default:
		}
	}

	dropped := atomic.AddUint64(&b.dropped, 1)
	log.Printf("[ACTIVITY] WARNING: dropped entry %s for workspace %s after %d retries (total dropped: %d)",
		entry.ID, sub.workspaceID, maxBackpressureRetries, dropped)

	marker := Entry{
		ID: uuid.NewString(), Type: TypeSystemEvent, WorkspaceID: sub.workspaceID,
		Timestamp: time.Now(), Event: KindSlowConsumerDropped, Message: "subscriber fell behind; one or more entries were dropped",
	}
	select {
	case sub.ch <- marker:
	default:
	}
}

// Replay returns the most recent limit entries in append order.
func (b *Bus) Replay(workspaceID string, limit int, since *time.Time) ([]Entry, error) {
	if b.persister == nil {
		return nil, nil
	}
	return b.persister.Replay(workspaceID, limit, since)
}

// DroppedCount returns the number of entries dropped due to slow consumers.
func (b *Bus) DroppedCount() uint64 {
	return atomic.LoadUint64(&b.dropped)
}
