package planning

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/taskfactory/daemon/internal/activity"
	"github.com/taskfactory/daemon/internal/agentsession"
	"github.com/taskfactory/daemon/internal/taskstore"
)

type stubSession struct {
	prompts   []string
	listeners []agentsession.Listener
	failNext  bool
}

func (s *stubSession) Prompt(ctx context.Context, content string, images [][]byte) error {
	s.prompts = append(s.prompts, content)
	for _, l := range s.listeners {
		l(agentsession.Event{Type: agentsession.EventTurnEnd, Message: &agentsession.Message{StopReason: "end_turn"}})
	}
	return nil
}
func (s *stubSession) Abort() error { return nil }
func (s *stubSession) Subscribe(l agentsession.Listener) agentsession.Unsubscribe {
	s.listeners = append(s.listeners, l)
	return func() {}
}
func (s *stubSession) GetContextUsage() (*agentsession.ContextUsage, error) { return nil, nil }
func (s *stubSession) SessionFile() string                                 { return "planning-session.json" }

type stubAdapter struct{ sessions []*stubSession }

func (a *stubAdapter) CreateSession(ctx context.Context, opts agentsession.CreateOptions) (agentsession.Session, error) {
	s := &stubSession{}
	a.sessions = append(a.sessions, s)
	return s, nil
}
func (a *stubAdapter) SessionManager() agentsession.SessionManagerHandle { return stubSessionMgr{} }

type stubSessionMgr struct{}

func (stubSessionMgr) Create(cwd string) (string, error) { return cwd + "/planning.json", nil }
func (stubSessionMgr) Open(string) error                 { return nil }

func newTestSession(t *testing.T) (*Session, *taskstore.Store) {
	t.Helper()
	dir := t.TempDir()
	store := taskstore.New(filepath.Join(dir, "tasks"), "demo")
	bus := activity.New(activity.NewJSONLStore(func(string) string { return dir }))
	persist := NewDebouncedPersister(dir)
	s := New("ws-1", dir, &stubAdapter{}, bus, store, persist, nil)
	return s, store
}

func TestSendPlanningMessageCreatesSessionLazily(t *testing.T) {
	s, _ := newTestSession(t)
	if err := s.SendPlanningMessage(context.Background(), "hello", nil); err != nil {
		t.Fatalf("SendPlanningMessage: %v", err)
	}
	s.mu.Lock()
	n := len(s.messages)
	s.mu.Unlock()
	if n == 0 {
		t.Fatalf("expected at least one recorded message")
	}
}

func TestAskQuestionsBlocksUntilResolved(t *testing.T) {
	s, _ := newTestSession(t)

	done := make(chan []agentsession.Answer, 1)
	errCh := make(chan error, 1)
	go func() {
		answers, err := s.AskQuestions([]agentsession.Question{{ID: "q1", Text: "proceed?"}})
		if err != nil {
			errCh <- err
			return
		}
		done <- answers
	}()

	time.Sleep(20 * time.Millisecond)

	s.mu.Lock()
	var requestID string
	for id := range s.qaRequests {
		requestID = id
	}
	s.mu.Unlock()
	if requestID == "" {
		t.Fatalf("expected a pending qa request")
	}

	if err := s.ResolveQARequest(requestID, []Answer{{QuestionID: "q1", FreeText: "yes"}}); err != nil {
		t.Fatalf("ResolveQARequest: %v", err)
	}

	select {
	case answers := <-done:
		if len(answers) != 1 || answers[0].FreeText != "yes" {
			t.Fatalf("unexpected answers: %+v", answers)
		}
	case err := <-errCh:
		t.Fatalf("AskQuestions returned error: %v", err)
	case <-time.After(time.Second):
		t.Fatal("AskQuestions did not unblock after resolve")
	}
}

func TestAbortQARequestUnblocksWithError(t *testing.T) {
	s, _ := newTestSession(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.AskQuestions([]agentsession.Question{{ID: "q1", Text: "proceed?"}})
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	s.mu.Lock()
	var requestID string
	for id := range s.qaRequests {
		requestID = id
	}
	s.mu.Unlock()

	if err := s.AbortQARequest(requestID); err != nil {
		t.Fatalf("AbortQARequest: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected an error after abort")
		}
	case <-time.After(time.Second):
		t.Fatal("AskQuestions did not unblock after abort")
	}
}

func TestManageShelfPromoteCreatesRealTask(t *testing.T) {
	s, store := newTestSession(t)

	draftID, err := s.CreateDraftTask("ship X", "do the thing")
	if err != nil {
		t.Fatalf("CreateDraftTask: %v", err)
	}

	if err := s.ManageShelf("promote", map[string]interface{}{"draftId": draftID}); err != nil {
		t.Fatalf("ManageShelf promote: %v", err)
	}

	tasks, err := store.DiscoverTasks(taskstore.ScopeAll)
	if err != nil {
		t.Fatalf("DiscoverTasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Frontmatter.Title != "ship X" {
		t.Fatalf("expected promoted task %q, got %+v", "ship X", tasks)
	}

	s.mu.Lock()
	_, stillDraft := s.shelf.Drafts[draftID]
	s.mu.Unlock()
	if stillDraft {
		t.Fatal("promoted draft should be removed from the shelf")
	}
}

func TestResetPlanningSessionClearsState(t *testing.T) {
	s, _ := newTestSession(t)
	if _, err := s.CreateArtifact("doc", "notes", "content"); err != nil {
		t.Fatalf("CreateArtifact: %v", err)
	}
	if err := s.SendPlanningMessage(context.Background(), "hi", nil); err != nil {
		t.Fatalf("SendPlanningMessage: %v", err)
	}

	if err := s.ResetPlanningSession(); err != nil {
		t.Fatalf("ResetPlanningSession: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) != 0 || len(s.shelf.Artifacts) != 0 {
		t.Fatalf("expected cleared state after reset, got messages=%d artifacts=%d", len(s.messages), len(s.shelf.Artifacts))
	}
}
