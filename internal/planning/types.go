// Package planning drives the long-lived, per-workspace conversational
// planning session that produces draft tasks and artifacts (spec §4.7),
// distinct from the per-task plan run the queue manager dispatches
// through the execution supervisor.
package planning

import "time"

// DraftTask is a planning-session-scoped task proposal, promotable into a
// real task via ManageShelf's "promote" action.
type DraftTask struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Created     time.Time `json:"created"`
}

// Artifact is a planning-session output (diagram, doc, snippet) referenced
// from chat-message metadata.
type Artifact struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	Title   string    `json:"title"`
	Content string    `json:"content"`
	Created time.Time `json:"created"`
}

// Message is one turn of the planning conversation, richer than a plain
// activity entry: it carries QA and shelf metadata alongside role/content.
type Message struct {
	ID         string     `json:"id"`
	Role       string     `json:"role"` // user | agent | system
	Content    string     `json:"content"`
	Timestamp  time.Time  `json:"timestamp"`
	QARequest  *QARequest `json:"qaRequest,omitempty"`
	QAResponse []Answer   `json:"qaResponse,omitempty"`
	Artifact   *Artifact  `json:"artifact,omitempty"`
	DraftTask  *DraftTask `json:"draftTask,omitempty"`
}

// Question mirrors agentsession.Question for the persisted record.
type Question struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
}

// Answer mirrors agentsession.Answer for the persisted record.
type Answer struct {
	QuestionID     string `json:"questionId"`
	SelectedOption string `json:"selectedOption,omitempty"`
	FreeText       string `json:"freeText,omitempty"`
}

// QARequest is a pending ask_questions call parked until resolved or
// aborted; resolve/abort are channels rather than callbacks so either
// ResolveQARequest or AbortQARequest can unblock the waiting tool-call
// goroutine. No context or timeout unblocks it.
type QARequest struct {
	RequestID string     `json:"requestId"`
	Questions []Question `json:"questions"`

	resolve chan []Answer
	abort   chan struct{}
}

func newQARequest(id string, questions []Question) *QARequest {
	return &QARequest{
		RequestID: id,
		Questions: questions,
		resolve:   make(chan []Answer, 1),
		abort:     make(chan struct{}),
	}
}

// shelfState is the persisted shape of one workspace's shelf, stored under
// "shelf" in planning-session.json.
type shelfState struct {
	Drafts    map[string]*DraftTask `json:"drafts"`
	Artifacts map[string]*Artifact  `json:"artifacts"`
}
