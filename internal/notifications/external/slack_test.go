package external

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/taskfactory/daemon/internal/activity"
)

func TestSlackNotifier_Name(t *testing.T) {
	notifier := NewSlackNotifier(SlackConfig{})
	if notifier.Name() != "slack" {
		t.Errorf("expected name 'slack', got '%s'", notifier.Name())
	}
}

func TestSlackNotifier_ShouldNotify(t *testing.T) {
	tests := []struct {
		name     string
		config   SlackConfig
		entry    activity.Entry
		expected bool
	}{
		{
			name:     "no filters - should notify",
			config:   SlackConfig{},
			entry:    activity.Entry{Type: activity.TypeSystemEvent, Event: activity.KindStall},
			expected: true,
		},
		{
			name:     "chat message never notifies",
			config:   SlackConfig{},
			entry:    activity.Entry{Type: activity.TypeChatMessage},
			expected: false,
		},
		{
			name: "priority filter - entry too low",
			config: SlackConfig{
				MinPriority: PriorityHigh,
			},
			entry:    activity.Entry{Type: activity.TypeSystemEvent, Event: activity.KindPhaseChange},
			expected: false,
		},
		{
			name: "priority filter - entry matches",
			config: SlackConfig{
				MinPriority: PriorityHigh,
			},
			entry:    activity.Entry{Type: activity.TypeSystemEvent, Event: activity.KindStall},
			expected: true,
		},
		{
			name: "priority filter - entry higher priority",
			config: SlackConfig{
				MinPriority: PriorityHigh,
			},
			entry:    activity.Entry{Type: activity.TypeSystemEvent, Event: activity.KindError},
			expected: true,
		},
		{
			name: "kind filter - matches",
			config: SlackConfig{
				Kinds: []activity.Kind{activity.KindError, activity.KindStall},
			},
			entry:    activity.Entry{Type: activity.TypeSystemEvent, Event: activity.KindError},
			expected: true,
		},
		{
			name: "kind filter - no match",
			config: SlackConfig{
				Kinds: []activity.Kind{activity.KindStall},
			},
			entry:    activity.Entry{Type: activity.TypeSystemEvent, Event: activity.KindError},
			expected: false,
		},
		{
			name: "both filters - both match",
			config: SlackConfig{
				MinPriority: PriorityHigh,
				Kinds:       []activity.Kind{activity.KindError},
			},
			entry:    activity.Entry{Type: activity.TypeSystemEvent, Event: activity.KindError},
			expected: true,
		},
		{
			name: "both filters - priority fails",
			config: SlackConfig{
				MinPriority: PriorityHigh,
				Kinds:       []activity.Kind{activity.KindPhaseChange},
			},
			entry:    activity.Entry{Type: activity.TypeSystemEvent, Event: activity.KindPhaseChange},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := NewSlackNotifier(tt.config)
			result := notifier.ShouldNotify(tt.entry)
			if result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestSlackNotifier_Send(t *testing.T) {
	tests := []struct {
		name            string
		config          SlackConfig
		entry           activity.Entry
		expectError     bool
		validatePayload func(t *testing.T, payload map[string]interface{})
	}{
		{
			name: "basic notification",
			config: SlackConfig{
				Channel:   "#alerts",
				Username:  "TaskFactory",
				IconEmoji: ":robot_face:",
			},
			entry: activity.Entry{
				ID:          "test-123",
				Type:        activity.TypeSystemEvent,
				WorkspaceID: "ws-1",
				Event:       activity.KindPhaseChange,
				Metadata: map[string]interface{}{
					"message": "Test alert",
				},
			},
			expectError: false,
			validatePayload: func(t *testing.T, payload map[string]interface{}) {
				if payload["channel"] != "#alerts" {
					t.Errorf("expected channel '#alerts', got '%v'", payload["channel"])
				}
				if payload["username"] != "TaskFactory" {
					t.Errorf("expected username 'TaskFactory', got '%v'", payload["username"])
				}
				if payload["icon_emoji"] != ":robot_face:" {
					t.Errorf("expected icon_emoji ':robot_face:', got '%v'", payload["icon_emoji"])
				}
				attachments, ok := payload["attachments"].([]interface{})
				if !ok || len(attachments) == 0 {
					t.Fatal("expected attachments array")
				}
				attachment := attachments[0].(map[string]interface{})
				if attachment["color"] != "good" {
					t.Errorf("expected color 'good', got '%v'", attachment["color"])
				}
			},
		},
		{
			name:   "critical kind",
			config: SlackConfig{},
			entry: activity.Entry{
				ID:          "crit-456",
				Type:        activity.TypeSystemEvent,
				WorkspaceID: "ws-1",
				Event:       activity.KindError,
			},
			expectError: false,
			validatePayload: func(t *testing.T, payload map[string]interface{}) {
				attachments := payload["attachments"].([]interface{})
				attachment := attachments[0].(map[string]interface{})
				if attachment["color"] != "danger" {
					t.Errorf("expected color 'danger' for critical, got '%v'", attachment["color"])
				}
			},
		},
		{
			name:   "high priority kind",
			config: SlackConfig{},
			entry: activity.Entry{
				ID:          "high-789",
				Type:        activity.TypeSystemEvent,
				WorkspaceID: "ws-1",
				Event:       activity.KindStall,
			},
			expectError: false,
			validatePayload: func(t *testing.T, payload map[string]interface{}) {
				attachments := payload["attachments"].([]interface{})
				attachment := attachments[0].(map[string]interface{})
				if attachment["color"] != "warning" {
					t.Errorf("expected color 'warning' for high, got '%v'", attachment["color"])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var receivedPayload map[string]interface{}
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Fatalf("failed to read request body: %v", err)
				}
				if err := json.Unmarshal(body, &receivedPayload); err != nil {
					t.Fatalf("failed to unmarshal payload: %v", err)
				}
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			tt.config.WebhookURL = server.URL

			notifier := NewSlackNotifier(tt.config)
			err := notifier.Send(tt.entry)

			if tt.expectError && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}

			if !tt.expectError && tt.validatePayload != nil {
				tt.validatePayload(t, receivedPayload)
			}
		})
	}
}

func TestSlackNotifier_Send_NoWebhook(t *testing.T) {
	notifier := NewSlackNotifier(SlackConfig{})
	entry := activity.Entry{
		ID:          "test-1",
		Type:        activity.TypeSystemEvent,
		WorkspaceID: "ws-1",
		Event:       activity.KindPhaseChange,
	}

	err := notifier.Send(entry)
	if err == nil {
		t.Error("expected error for missing webhook URL")
	}
}

func TestSlackNotifier_Send_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(SlackConfig{
		WebhookURL: server.URL,
	})
	entry := activity.Entry{
		ID:          "test-2",
		Type:        activity.TypeSystemEvent,
		WorkspaceID: "ws-1",
		Event:       activity.KindPhaseChange,
	}

	err := notifier.Send(entry)
	if err == nil {
		t.Error("expected error for server error response")
	}
}
