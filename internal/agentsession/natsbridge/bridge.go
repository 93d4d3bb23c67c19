package natsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/taskfactory/daemon/internal/agentsession"
)

// WireEvent is the over-the-wire shape an external engine process
// publishes; it mirrors agentsession.Event field-for-field so translation
// is a straight copy, matching how the teacher's internal/nats/messages.go
// keeps wire structs parallel to in-process ones.
type WireEvent struct {
	Type                  string                 `json:"type"`
	AssistantMessageEvent string                 `json:"assistantMessageEvent,omitempty"`
	TextDelta             string                 `json:"textDelta,omitempty"`
	Message               *WireMessage           `json:"message,omitempty"`
	ToolName              string                 `json:"toolName,omitempty"`
	ToolCallID            string                 `json:"toolCallId,omitempty"`
	Args                  map[string]interface{} `json:"args,omitempty"`
	Data                  map[string]interface{} `json:"data,omitempty"`
	IsError               bool                   `json:"isError,omitempty"`
	Result                string                 `json:"result,omitempty"`
	Reason                string                 `json:"reason,omitempty"`
	Aborted               bool                   `json:"aborted,omitempty"`
	WillRetry             bool                   `json:"willRetry,omitempty"`
	ErrorMessage          string                 `json:"errorMessage,omitempty"`
	Attempt               int                    `json:"attempt,omitempty"`
	MaxAttempts           int                    `json:"maxAttempts,omitempty"`
	DelayMs               int                    `json:"delayMs,omitempty"`
}

type WireMessage struct {
	Role         string     `json:"role"`
	Content      string     `json:"content"`
	Usage        *WireUsage `json:"usage,omitempty"`
	Provider     string     `json:"provider"`
	Model        string     `json:"model"`
	StopReason   string     `json:"stopReason"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

type WireUsage struct {
	InputTokens      int64   `json:"inputTokens"`
	OutputTokens     int64   `json:"outputTokens"`
	CacheReadTokens  int64   `json:"cacheReadTokens"`
	CacheWriteTokens int64   `json:"cacheWriteTokens"`
	TotalTokens      int64   `json:"totalTokens"`
	Cost             float64 `json:"cost"`
}

func translate(w WireEvent) agentsession.Event {
	e := agentsession.Event{
		Type:                  agentsession.EventType(w.Type),
		AssistantMessageEvent: agentsession.AssistantMessageEventKind(w.AssistantMessageEvent),
		TextDelta:             w.TextDelta,
		ToolName:              w.ToolName,
		ToolCallID:            w.ToolCallID,
		Args:                  w.Args,
		Data:                  w.Data,
		IsError:               w.IsError,
		Result:                w.Result,
		Reason:                w.Reason,
		Aborted:               w.Aborted,
		WillRetry:             w.WillRetry,
		ErrorMessage:          w.ErrorMessage,
		Attempt:               w.Attempt,
		MaxAttempts:           w.MaxAttempts,
		DelayMs:               w.DelayMs,
	}
	if w.Message != nil {
		msg := &agentsession.Message{
			Role: w.Message.Role, Content: w.Message.Content,
			Provider: w.Message.Provider, Model: w.Message.Model,
			StopReason: w.Message.StopReason, ErrorMessage: w.Message.ErrorMessage,
		}
		if w.Message.Usage != nil {
			msg.Usage = &agentsession.Usage{
				InputTokens: w.Message.Usage.InputTokens, OutputTokens: w.Message.Usage.OutputTokens,
				CacheReadTokens: w.Message.Usage.CacheReadTokens, CacheWriteTokens: w.Message.Usage.CacheWriteTokens,
				TotalTokens: w.Message.Usage.TotalTokens, Cost: w.Message.Usage.Cost,
			}
		}
		e.Message = msg
	}
	return e
}

// Session is an agentsession.Session backed by a NATS subject pair: the
// external engine process publishes events on "agentsession.<id>.events"
// and consumes prompts from "agentsession.<id>.prompt".
type Session struct {
	id          string
	sessionFile string
	client      *Client

	mu        sync.Mutex
	listeners map[int]agentsession.Listener
	nextID    int
}

func newSession(client *Client, sessionFile string) *Session {
	return &Session{
		id:          uuid.NewString(),
		sessionFile: sessionFile,
		client:      client,
		listeners:   make(map[int]agentsession.Listener),
	}
}

func (s *Session) Prompt(ctx context.Context, content string, images [][]byte) error {
	data, err := json.Marshal(map[string]interface{}{"content": content, "images": len(images)})
	if err != nil {
		return fmt.Errorf("marshal prompt: %w", err)
	}
	return s.client.conn.Publish("agentsession."+s.id+".prompt", data)
}

func (s *Session) Abort() error {
	return s.client.conn.Publish("agentsession."+s.id+".abort", nil)
}

func (s *Session) Subscribe(listener agentsession.Listener) agentsession.Unsubscribe {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Session) GetContextUsage() (*agentsession.ContextUsage, error) {
	return nil, nil // the external engine reports this inline on message_end; no separate query implemented
}

func (s *Session) SessionFile() string { return s.sessionFile }

func (s *Session) dispatch(e agentsession.Event) {
	s.mu.Lock()
	listeners := make([]agentsession.Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()
	for _, l := range listeners {
		l(e)
	}
}

// Adapter implements agentsession.Adapter over the NATS bridge.
type Adapter struct {
	client *Client
}

func NewAdapter(client *Client) *Adapter {
	return &Adapter{client: client}
}

func (a *Adapter) CreateSession(ctx context.Context, opts agentsession.CreateOptions) (agentsession.Session, error) {
	sessionFile, err := a.SessionManager().Create(opts.Cwd)
	if err != nil {
		return nil, err
	}
	sess := newSession(a.client, sessionFile)
	if _, err := a.client.SubscribeEvents(sess.id, func(w WireEvent) {
		sess.dispatch(translate(w))
	}); err != nil {
		return nil, fmt.Errorf("subscribe to agent-session events: %w", err)
	}
	if opts.ToolSink != nil {
		registry := agentsession.NewRegistryFromSink(opts.ToolSink)
		if err := a.client.SubscribeToolCalls(sess.id, registry.Execute); err != nil {
			return nil, fmt.Errorf("subscribe to tool-call requests: %w", err)
		}
	}
	return sess, nil
}

func (a *Adapter) SessionManager() agentsession.SessionManagerHandle {
	return sessionManagerHandle{}
}

type sessionManagerHandle struct{}

func (sessionManagerHandle) Create(cwd string) (string, error) {
	return cwd + "/.taskfactory-session-" + uuid.NewString() + ".json", nil
}

func (sessionManagerHandle) Open(sessionFile string) error {
	return nil // the external engine owns the file; opening is implicit on first prompt
}
