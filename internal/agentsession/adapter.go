// Package agentsession defines the thin contract the core depends on from
// an external coding-agent engine (spec §4.4), and the ToolSink interface
// extension tools call back into.
package agentsession

import "context"

// EventType tags the external engine's event stream.
type EventType string

const (
	EventAgentStart       EventType = "agent_start"
	EventMessageStart     EventType = "message_start"
	EventMessageUpdate    EventType = "message_update"
	EventMessageEnd       EventType = "message_end"
	EventTurnEnd          EventType = "turn_end"
	EventToolExecStart    EventType = "tool_execution_start"
	EventToolExecUpdate   EventType = "tool_execution_update"
	EventToolExecEnd      EventType = "tool_execution_end"
	EventAutoCompactStart EventType = "auto_compaction_start"
	EventAutoCompactEnd   EventType = "auto_compaction_end"
	EventAutoRetryStart   EventType = "auto_retry_start"
	EventAutoRetryEnd     EventType = "auto_retry_end"
)

// AssistantMessageEventKind distinguishes message_update sub-events.
type AssistantMessageEventKind string

const (
	TextDelta     AssistantMessageEventKind = "text_delta"
	ThinkingDelta AssistantMessageEventKind = "thinking_delta"
)

// Usage is the per-message token/cost payload, source for a UsageSample.
type Usage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	TotalTokens      int64
	Cost             float64
}

// Message is the terminal payload of message_end.
type Message struct {
	Role         string
	Content      string
	Usage        *Usage
	Provider     string
	Model        string
	StopReason   string // "end_turn" | "length" | "error" | ...
	ErrorMessage string
}

// Event is one item from session.Subscribe's tagged stream.
type Event struct {
	Type EventType

	// message_update
	AssistantMessageEvent AssistantMessageEventKind
	TextDelta             string

	// message_end / turn_end
	Message *Message

	// tool_execution_*
	ToolName   string
	ToolCallID string
	Args       map[string]interface{}
	Data       map[string]interface{}
	IsError    bool
	Result     string

	// auto_compaction_*
	Reason       string
	Aborted      bool
	WillRetry    bool
	ErrorMessage string

	// auto_retry_*
	Attempt     int
	MaxAttempts int
	DelayMs     int
}

// ContextUsage is returned by session.GetContextUsage.
type ContextUsage struct {
	Tokens        int64
	ContextWindow int64
	Percent       float64
}

// Listener receives the tagged event stream. Unsubscribe stops delivery.
type Listener func(Event)
type Unsubscribe func()

// Session is one conversational turn-sequence against the external engine,
// bound to a single session file on disk.
type Session interface {
	Prompt(ctx context.Context, content string, images [][]byte) error
	Abort() error
	Subscribe(listener Listener) Unsubscribe
	GetContextUsage() (*ContextUsage, error)
	SessionFile() string
}

// SessionManagerHandle abstracts sessionManager.create/open (spec §4.4).
type SessionManagerHandle interface {
	Create(cwd string) (string, error) // returns new session file path
	Open(sessionFile string) error
}

// CreateOptions mirrors createAgentSession's parameter object.
type CreateOptions struct {
	Cwd           string
	Model         string
	ThinkingLevel string
	ToolSink      ToolSink
}

// Adapter is the external collaborator interface the core depends on.
type Adapter interface {
	CreateSession(ctx context.Context, opts CreateOptions) (Session, error)
	SessionManager() SessionManagerHandle
}
