// Package activity implements the per-workspace append-only activity log
// and its in-process broadcaster.
package activity

import "time"

// Role identifies the originator of a chat message.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Kind enumerates system-event sub-types, per spec §3.
type Kind string

const (
	KindPhaseChange          Kind = "phase-change"
	KindExecutionReliability Kind = "execution-reliability"
	KindCompaction           Kind = "compaction"
	KindSkillStart           Kind = "skill-start"
	KindSkillEnd             Kind = "skill-end"
	KindStall                Kind = "stall"
	KindProviderRetry        Kind = "provider-retry"
	KindError                Kind = "error"
	KindIOError              Kind = "io_error"
	KindSlowConsumerDropped  Kind = "slow_consumer_dropped"
)

// EntryType distinguishes the tagged-union shape of an Entry.
type EntryType string

const (
	TypeChatMessage EntryType = "chat-message"
	TypeSystemEvent EntryType = "system-event"
)

// Entry is one immutable, append-only activity record for a workspace.
type Entry struct {
	ID          string                 `json:"id"`
	Type        EntryType              `json:"type"`
	WorkspaceID string                 `json:"workspaceId"`
	TaskID      string                 `json:"taskId,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`

	// chat-message fields
	Role        Role     `json:"role,omitempty"`
	Content     string   `json:"content,omitempty"`
	Attachments []string `json:"attachments,omitempty"`

	// system-event fields
	Event   Kind   `json:"event,omitempty"`
	Message string `json:"message,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
