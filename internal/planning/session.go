package planning

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskfactory/daemon/internal/activity"
	"github.com/taskfactory/daemon/internal/agentsession"
	"github.com/taskfactory/daemon/internal/taskstore"
)

const (
	replayWindow    = 10
	replayCharLimit = 500
	maxRecoverRetry = 1
)

// Session is one workspace's long-lived planning conversation. It
// implements agentsession.ToolSink directly, grounded on the teacher's
// Captain owning both its Mission queue and its Escalation queue in one
// struct (internal/captain/captain.go).
type Session struct {
	workspaceID string
	cwd         string
	adapter     agentsession.Adapter
	bus         *activity.Bus
	store       *taskstore.Store
	persist     *debouncedPersister
	index       *ShelfIndex // optional query side-index; nil is valid (JSON remains source of truth)

	mu           sync.Mutex
	sessionID    string
	agentSession agentsession.Session
	unsubscribe  agentsession.Unsubscribe
	messages     []Message
	shelf        shelfState
	qaRequests   map[string]*QARequest
	recoverTries int
	active       bool // a turn is currently streaming/tool_use/thinking
	stopCh       chan struct{}
}

func New(workspaceID, cwd string, adapter agentsession.Adapter, bus *activity.Bus, store *taskstore.Store, persist *debouncedPersister, index *ShelfIndex) *Session {
	s := &Session{
		workspaceID: workspaceID,
		cwd:         cwd,
		adapter:     adapter,
		bus:         bus,
		store:       store,
		persist:     persist,
		index:       index,
		qaRequests:  make(map[string]*QARequest),
		shelf:       shelfState{Drafts: map[string]*DraftTask{}, Artifacts: map[string]*Artifact{}},
	}
	if persist != nil {
		if saved, ok := persist.Load(); ok {
			s.messages = saved.messages
			s.shelf = saved.shelf
			s.sessionID = saved.sessionID
		}
	}
	return s
}

// SendPlanningMessage starts a new turn on the planning session, creating
// it lazily on first use (spec §4.7).
func (s *Session) SendPlanningMessage(ctx context.Context, content string, images [][]byte) error {
	s.mu.Lock()
	if s.sessionID == "" {
		s.sessionID = uuid.NewString()
	}
	needsCreate := s.agentSession == nil
	s.mu.Unlock()

	if needsCreate {
		if err := s.ensureSession(ctx); err != nil {
			return err
		}
	}

	prompt := content
	s.mu.Lock()
	if len(s.messages) == 0 {
		prompt = s.buildSystemPrompt() + "\n\n" + content
	}
	msg := Message{ID: uuid.NewString(), Role: "user", Content: content, Timestamp: time.Now()}
	s.messages = append(s.messages, msg)
	s.active = true
	sess := s.agentSession
	s.mu.Unlock()
	s.save()

	s.bus.Append(s.workspaceID, activity.Entry{Type: activity.TypeChatMessage, Role: activity.RoleUser, Content: content})

	if err := sess.Prompt(ctx, prompt, images); err != nil {
		return s.recoverFromFailure(ctx, err)
	}
	return nil
}

// buildSystemPrompt enumerates tasks-by-phase so the planning session has
// shared workspace context on its first turn (spec §4.7).
func (s *Session) buildSystemPrompt() string {
	tasks, err := s.store.DiscoverTasks(taskstore.ScopeAll)
	if err != nil {
		return "Task Factory planning assistant. (task summary unavailable)"
	}
	counts := map[taskstore.Phase]int{}
	for _, t := range tasks {
		counts[t.Frontmatter.Phase]++
	}
	return fmt.Sprintf(
		"Task Factory planning assistant for this workspace. Current counts: "+
			"backlog=%d ready=%d executing=%d complete=%d archived=%d. "+
			"Use create_draft_task, create_artifact, ask_questions, manage_shelf, "+
			"manage_new_task, and factory_control as needed.",
		counts[taskstore.PhaseBacklog], counts[taskstore.PhaseReady], counts[taskstore.PhaseExecuting],
		counts[taskstore.PhaseComplete], counts[taskstore.PhaseArchived],
	)
}

func (s *Session) ensureSession(ctx context.Context) error {
	sess, err := s.adapter.CreateSession(ctx, agentsession.CreateOptions{Cwd: s.cwd, ToolSink: s})
	if err != nil {
		return fmt.Errorf("create planning session: %w", err)
	}
	unsub := sess.Subscribe(s.makeListener())

	s.mu.Lock()
	s.agentSession = sess
	s.unsubscribe = unsub
	s.mu.Unlock()
	return nil
}

func (s *Session) makeListener() agentsession.Listener {
	return func(e agentsession.Event) {
		switch e.Type {
		case agentsession.EventMessageUpdate:
			if e.AssistantMessageEvent == agentsession.TextDelta {
				s.bus.Append(s.workspaceID, activity.Entry{Type: activity.TypeChatMessage, Role: activity.RoleAgent, Content: e.TextDelta})
			}
		case agentsession.EventMessageEnd:
			s.mu.Lock()
			if e.Message != nil {
				s.messages = append(s.messages, Message{ID: uuid.NewString(), Role: "agent", Content: e.Message.Content, Timestamp: time.Now()})
			}
			s.mu.Unlock()
			s.save()
		case agentsession.EventTurnEnd:
			s.mu.Lock()
			s.active = false
			s.mu.Unlock()
		}
	}
}

// ResetPlanningSession archives the prior message list under the old
// sessionId, tears down the agent session, and starts fresh.
func (s *Session) ResetPlanningSession() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agentSession != nil && s.unsubscribe != nil {
		s.unsubscribe()
		_ = s.agentSession.Abort()
	}
	if s.persist != nil && s.sessionID != "" {
		s.persist.Archive(s.sessionID, s.messages)
	}
	s.agentSession = nil
	s.unsubscribe = nil
	s.sessionID = uuid.NewString()
	s.messages = nil
	s.shelf = shelfState{Drafts: map[string]*DraftTask{}, Artifacts: map[string]*Artifact{}}
	s.qaRequests = make(map[string]*QARequest)
	s.recoverTries = 0
	s.active = false
	return nil
}

// StopPlanningExecution aborts the current turn only if one is active.
func (s *Session) StopPlanningExecution() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.agentSession == nil {
		return nil
	}
	if err := s.agentSession.Abort(); err != nil {
		return fmt.Errorf("abort planning turn: %w", err)
	}
	s.active = false
	return nil
}

// recoverFromFailure destroys and recreates the session once (retry
// budget 1), replaying the last 10 messages truncated to <=500 chars
// each into the recreated session's first system prompt (spec §4.7).
func (s *Session) recoverFromFailure(ctx context.Context, cause error) error {
	s.mu.Lock()
	if s.recoverTries >= maxRecoverRetry {
		s.mu.Unlock()
		s.bus.Append(s.workspaceID, activity.Entry{Type: activity.TypeSystemEvent, Event: activity.KindError, Message: "planning session failed: " + cause.Error()})
		return fmt.Errorf("planning session failed after retry: %w", cause)
	}
	s.recoverTries++
	replay := s.replaySnippet()
	s.agentSession = nil
	s.unsubscribe = nil
	s.mu.Unlock()

	log.Printf("[PLANNING] %s: recreating session after failure: %v", s.workspaceID, cause)
	if err := s.ensureSession(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	sess := s.agentSession
	s.mu.Unlock()
	return sess.Prompt(ctx, replay, nil)
}

func (s *Session) replaySnippet() string {
	start := 0
	if len(s.messages) > replayWindow {
		start = len(s.messages) - replayWindow
	}
	out := "Recovered planning session. Recent context:\n"
	for _, m := range s.messages[start:] {
		content := m.Content
		if len(content) > replayCharLimit {
			content = content[:replayCharLimit]
		}
		out += fmt.Sprintf("[%s] %s\n", m.Role, content)
	}
	return out
}

func (s *Session) save() {
	if s.persist == nil {
		return
	}
	s.mu.Lock()
	snap := persistedState{sessionID: s.sessionID, messages: append([]Message(nil), s.messages...), shelf: s.shelf}
	s.mu.Unlock()
	s.persist.Schedule(snap)
}
