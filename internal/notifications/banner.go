// Package notifications surfaces desktop/dashboard alerts for events a
// user needs to act on: a QA request raised during planning, or a task
// parked awaiting user input after a guardrail breach.
package notifications

import (
	"sync"
	"time"
)

// BannerType represents the type/severity of a banner notification.
type BannerType string

const (
	BannerTypeInfo       BannerType = "info"
	BannerTypeQARequest  BannerType = "qa-request"
	BannerTypeTaskParked BannerType = "task-parked"
)

// BannerState holds one workspace's current banner notification.
type BannerState struct {
	Visible   bool       `json:"visible"`
	TaskID    string     `json:"taskId,omitempty"`
	Message   string     `json:"message"`
	Type      BannerType `json:"type"`
	Timestamp time.Time  `json:"timestamp"`
}

// BannerNotifier manages the per-workspace dashboard banner state.
type BannerNotifier struct {
	mu    sync.RWMutex
	state map[string]BannerState // workspaceID -> state
}

// NewBannerNotifier creates a new banner notifier.
func NewBannerNotifier() *BannerNotifier {
	return &BannerNotifier{state: make(map[string]BannerState)}
}

// Show displays a banner for workspaceID with the specified message and type.
func (b *BannerNotifier) Show(workspaceID, taskID, message string, bannerType BannerType) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state[workspaceID] = BannerState{
		Visible:   true,
		TaskID:    taskID,
		Message:   message,
		Type:      bannerType,
		Timestamp: time.Now(),
	}
	return nil
}

// ShowSupervisorAlert displays a task-parked banner: a task stopped
// without a live supervisor session (guardrail breach or agent error)
// and needs the user to steer, follow up, or re-execute it.
func (b *BannerNotifier) ShowSupervisorAlert(workspaceID, taskID, message string) error {
	return b.Show(workspaceID, taskID, message, BannerTypeTaskParked)
}

// ShowQARequest displays a banner for a planning session's ask_questions call.
func (b *BannerNotifier) ShowQARequest(workspaceID, message string) error {
	return b.Show(workspaceID, "", message, BannerTypeQARequest)
}

// Clear hides workspaceID's banner.
func (b *BannerNotifier) Clear(workspaceID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.state[workspaceID]; ok {
		s.Visible = false
		b.state[workspaceID] = s
	}
	return nil
}

// GetState returns workspaceID's current banner state (thread-safe).
func (b *BannerNotifier) GetState(workspaceID string) BannerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state[workspaceID]
}

// IsVisible returns true if workspaceID's banner is currently visible.
func (b *BannerNotifier) IsVisible(workspaceID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state[workspaceID].Visible
}
