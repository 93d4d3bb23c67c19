package activity

import (
	"path/filepath"
	"testing"
	"time"
)

func TestAppendAndSubscribeOrder(t *testing.T) {
	dir := t.TempDir()
	store := NewJSONLStore(func(string) string { return dir })
	bus := New(store)

	ch := bus.Subscribe("ws-1")
	defer bus.Unsubscribe("ws-1", ch)

	bus.Append("ws-1", Entry{Type: TypeChatMessage, Role: RoleUser, Content: "first"})
	bus.Append("ws-1", Entry{Type: TypeChatMessage, Role: RoleAgent, Content: "second"})

	first := <-ch
	second := <-ch
	if first.Content != "first" || second.Content != "second" {
		t.Fatalf("entries delivered out of order: %q then %q", first.Content, second.Content)
	}
}

func TestReplayReturnsPersistedEntries(t *testing.T) {
	dir := t.TempDir()
	store := NewJSONLStore(func(string) string { return dir })
	bus := New(store)

	for i := 0; i < 5; i++ {
		bus.Append("ws-1", Entry{Type: TypeSystemEvent, Event: KindPhaseChange, Message: "tick"})
	}

	entries, err := bus.Replay("ws-1", 3, nil)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
}

func TestActivityLogPathMatchesLayout(t *testing.T) {
	dir := t.TempDir()
	store := NewJSONLStore(func(string) string { return dir })
	got := store.path("ws-1")
	want := filepath.Join(dir, "factory", "activity.jsonl")
	if got != want {
		t.Fatalf("path = %q, want %q", got, want)
	}
}

func TestStallMessageFormatsRelativeTime(t *testing.T) {
	msg := StallMessage(time.Now().Add(-2 * time.Minute))
	if msg == "" {
		t.Fatal("expected a non-empty stall message")
	}
}
