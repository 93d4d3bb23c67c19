package notifications

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/taskfactory/daemon/internal/activity"
)

// mockNotifier is a test implementation of NotificationChannel
type mockNotifier struct {
	name    string
	sent    int32 // atomic counter
	filter  func(activity.Entry) bool
	sendErr error
	mu      sync.Mutex
	entries []activity.Entry
}

// newMockNotifier creates a new mock notifier with an optional filter function
func newMockNotifier(name string, filter func(activity.Entry) bool, sendErr error) *mockNotifier {
	if filter == nil {
		filter = func(activity.Entry) bool { return true }
	}
	return &mockNotifier{
		name:    name,
		filter:  filter,
		sendErr: sendErr,
		entries: make([]activity.Entry, 0),
	}
}

// Name returns the notifier name
func (m *mockNotifier) Name() string {
	return m.name
}

// ShouldNotify applies the filter function
func (m *mockNotifier) ShouldNotify(entry activity.Entry) bool {
	return m.filter(entry)
}

// Send simulates sending a notification
func (m *mockNotifier) Send(entry activity.Entry) error {
	atomic.AddInt32(&m.sent, 1)

	m.mu.Lock()
	m.entries = append(m.entries, entry)
	m.mu.Unlock()

	return m.sendErr
}

// GetSentCount returns the number of entries sent
func (m *mockNotifier) GetSentCount() int {
	return int(atomic.LoadInt32(&m.sent))
}

// GetEntries returns a copy of all received entries
func (m *mockNotifier) GetEntries() []activity.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]activity.Entry, len(m.entries))
	copy(result, m.entries)
	return result
}

func testEntry(kind activity.Kind, workspaceID string, metadata map[string]interface{}) activity.Entry {
	return activity.Entry{
		ID:          "act-1",
		Type:        activity.TypeSystemEvent,
		WorkspaceID: workspaceID,
		Timestamp:   time.Now(),
		Event:       kind,
		Message:     "test",
		Metadata:    metadata,
	}
}

func TestRouter_NewRouter(t *testing.T) {
	channels := []NotificationChannel{
		newMockNotifier("test1", nil, nil),
		newMockNotifier("test2", nil, nil),
	}

	router := NewRouter(channels)
	if router == nil {
		t.Fatal("NewRouter returned nil")
	}

	names := router.GetChannels()
	if len(names) != 2 {
		t.Errorf("expected 2 channels, got %d", len(names))
	}
}

func TestRouter_NewRouter_NilChannels(t *testing.T) {
	router := NewRouter(nil)
	if router == nil {
		t.Fatal("NewRouter returned nil")
	}

	names := router.GetChannels()
	if len(names) != 0 {
		t.Errorf("expected 0 channels, got %d", len(names))
	}
}

func TestRouter_AddChannel(t *testing.T) {
	router := NewRouter(nil)

	ch1 := newMockNotifier("ch1", nil, nil)
	router.AddChannel(ch1)

	names := router.GetChannels()
	if len(names) != 1 || names[0] != "ch1" {
		t.Errorf("expected [ch1], got %v", names)
	}

	ch2 := newMockNotifier("ch2", nil, nil)
	router.AddChannel(ch2)

	names = router.GetChannels()
	if len(names) != 2 {
		t.Errorf("expected 2 channels, got %d", len(names))
	}
}

func TestRouter_RemoveChannel(t *testing.T) {
	ch1 := newMockNotifier("ch1", nil, nil)
	ch2 := newMockNotifier("ch2", nil, nil)
	ch3 := newMockNotifier("ch3", nil, nil)

	router := NewRouter([]NotificationChannel{ch1, ch2, ch3})

	router.RemoveChannel("ch2")
	names := router.GetChannels()
	if len(names) != 2 {
		t.Errorf("expected 2 channels after removal, got %d", len(names))
	}

	for _, name := range names {
		if name == "ch2" {
			t.Error("ch2 should have been removed")
		}
	}

	// Remove non-existent channel should not panic
	router.RemoveChannel("nonexistent")
	names = router.GetChannels()
	if len(names) != 2 {
		t.Errorf("expected 2 channels after removing non-existent, got %d", len(names))
	}
}

func TestRouter_Route_AllChannels(t *testing.T) {
	ch1 := newMockNotifier("ch1", nil, nil)
	ch2 := newMockNotifier("ch2", nil, nil)
	ch3 := newMockNotifier("ch3", nil, nil)

	router := NewRouter([]NotificationChannel{ch1, ch2, ch3})

	entry := testEntry(activity.KindError, "ws-1", map[string]interface{}{"msg": "test"})

	router.Route(entry)

	// Wait for goroutines to complete
	time.Sleep(100 * time.Millisecond)

	if ch1.GetSentCount() != 1 {
		t.Errorf("ch1: expected 1 entry sent, got %d", ch1.GetSentCount())
	}
	if ch2.GetSentCount() != 1 {
		t.Errorf("ch2: expected 1 entry sent, got %d", ch2.GetSentCount())
	}
	if ch3.GetSentCount() != 1 {
		t.Errorf("ch3: expected 1 entry sent, got %d", ch3.GetSentCount())
	}
}

func TestRouter_FilteredRoute(t *testing.T) {
	// Channel that only accepts critical-kind entries
	criticalOnly := newMockNotifier(
		"critical-only",
		func(e activity.Entry) bool {
			return e.Event == activity.KindError
		},
		nil,
	)

	// Channel that accepts all entries
	allEntries := newMockNotifier("all", nil, nil)

	router := NewRouter([]NotificationChannel{criticalOnly, allEntries})

	// Route a non-critical entry
	normalEntry := testEntry(activity.KindPhaseChange, "ws-1", map[string]interface{}{})
	router.Route(normalEntry)

	time.Sleep(100 * time.Millisecond)

	if criticalOnly.GetSentCount() != 0 {
		t.Errorf("critical-only: expected 0 entries (filtered out), got %d", criticalOnly.GetSentCount())
	}
	if allEntries.GetSentCount() != 1 {
		t.Errorf("all: expected 1 entry, got %d", allEntries.GetSentCount())
	}

	// Route a critical entry
	criticalEntry := testEntry(activity.KindError, "ws-1", map[string]interface{}{})
	router.Route(criticalEntry)

	time.Sleep(100 * time.Millisecond)

	if criticalOnly.GetSentCount() != 1 {
		t.Errorf("critical-only: expected 1 entry, got %d", criticalOnly.GetSentCount())
	}
	if allEntries.GetSentCount() != 2 {
		t.Errorf("all: expected 2 entries, got %d", allEntries.GetSentCount())
	}
}

func TestRouter_Route_ErrorHandling(t *testing.T) {
	// Channel that returns an error
	errChannel := newMockNotifier(
		"error-ch",
		nil,
		errors.New("send failed"),
	)

	// Channel that works fine
	okChannel := newMockNotifier("ok-ch", nil, nil)

	router := NewRouter([]NotificationChannel{errChannel, okChannel})

	entry := testEntry(activity.KindStall, "ws-1", map[string]interface{}{})

	router.Route(entry)

	time.Sleep(100 * time.Millisecond)

	// Both channels should have attempted to send despite error
	if errChannel.GetSentCount() != 1 {
		t.Errorf("error-ch: expected 1 attempt, got %d", errChannel.GetSentCount())
	}
	if okChannel.GetSentCount() != 1 {
		t.Errorf("ok-ch: expected 1 entry sent, got %d", okChannel.GetSentCount())
	}
}

func TestRouter_Route_MultipleEntries(t *testing.T) {
	ch := newMockNotifier("ch", nil, nil)
	router := NewRouter([]NotificationChannel{ch})

	for i := 0; i < 5; i++ {
		entry := testEntry(activity.KindStall, "ws-1", map[string]interface{}{"index": i})
		router.Route(entry)
	}

	time.Sleep(200 * time.Millisecond)

	if ch.GetSentCount() != 5 {
		t.Errorf("expected 5 entries sent, got %d", ch.GetSentCount())
	}

	entries := ch.GetEntries()
	if len(entries) != 5 {
		t.Errorf("expected 5 entries in channel, got %d", len(entries))
	}
}

func TestRouter_GetChannels(t *testing.T) {
	ch1 := newMockNotifier("alpha", nil, nil)
	ch2 := newMockNotifier("beta", nil, nil)
	ch3 := newMockNotifier("gamma", nil, nil)

	router := NewRouter([]NotificationChannel{ch1, ch2, ch3})

	names := router.GetChannels()
	if len(names) != 3 {
		t.Errorf("expected 3 channels, got %d", len(names))
	}

	nameMap := make(map[string]bool)
	for _, name := range names {
		nameMap[name] = true
	}

	expectedNames := map[string]bool{"alpha": true, "beta": true, "gamma": true}
	for name := range expectedNames {
		if !nameMap[name] {
			t.Errorf("expected channel %s not found", name)
		}
	}
}

func TestRouter_ConcurrentAddRemove(t *testing.T) {
	router := NewRouter(nil)

	done := make(chan bool)

	for i := 0; i < 5; i++ {
		go func(id int) {
			ch := newMockNotifier("ch"+string(rune(id)), nil, nil)
			router.AddChannel(ch)
			done <- true
		}(i)
	}

	for i := 0; i < 5; i++ {
		<-done
	}

	for i := 0; i < 3; i++ {
		go func(id int) {
			router.RemoveChannel("ch" + string(rune(id)))
			done <- true
		}(i)
	}

	for i := 0; i < 3; i++ {
		<-done
	}

	names := router.GetChannels()
	if len(names) != 2 {
		t.Errorf("expected 2 channels after concurrent operations, got %d", len(names))
	}
}

func TestRouter_Route_ConcurrentSending(t *testing.T) {
	channels := make([]NotificationChannel, 10)
	for i := 0; i < 10; i++ {
		channels[i] = newMockNotifier("ch"+string(rune(i)), nil, nil)
	}

	router := NewRouter(channels)

	for i := 0; i < 20; i++ {
		go func(id int) {
			entry := testEntry(activity.KindStall, "ws-1", map[string]interface{}{"entry_id": id})
			router.Route(entry)
		}(i)
	}

	time.Sleep(500 * time.Millisecond)

	for _, ch := range channels {
		mock := ch.(*mockNotifier)
		if mock.GetSentCount() != 20 {
			t.Errorf("channel %s: expected 20 entries, got %d", ch.Name(), mock.GetSentCount())
		}
	}
}

func TestRouter_EntryPreservation(t *testing.T) {
	ch := newMockNotifier("test", nil, nil)
	router := NewRouter([]NotificationChannel{ch})

	original := activity.Entry{
		ID:          "act-orig",
		Type:        activity.TypeSystemEvent,
		WorkspaceID: "ws-1",
		TaskID:      "TASK-1",
		Timestamp:   time.Now(),
		Event:       activity.KindError,
		Message:     "boom",
		Metadata: map[string]interface{}{
			"key1": "value1",
			"key2": 42,
			"key3": true,
		},
	}

	router.Route(original)
	time.Sleep(100 * time.Millisecond)

	received := ch.GetEntries()
	if len(received) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(received))
	}

	got := received[0]

	if got.Event != original.Event {
		t.Errorf("kind mismatch: %s != %s", got.Event, original.Event)
	}
	if got.WorkspaceID != original.WorkspaceID {
		t.Errorf("workspace mismatch: %s != %s", got.WorkspaceID, original.WorkspaceID)
	}
	if got.TaskID != original.TaskID {
		t.Errorf("task mismatch: %s != %s", got.TaskID, original.TaskID)
	}

	for k, v := range original.Metadata {
		if got.Metadata[k] != v {
			t.Errorf("metadata[%s] mismatch: %v != %v", k, got.Metadata[k], v)
		}
	}
}
