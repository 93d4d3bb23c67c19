package external

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/taskfactory/daemon/internal/activity"
)

// SlackConfig holds configuration for Slack notifications
type SlackConfig struct {
	WebhookURL  string          `json:"webhook_url"`
	Channel     string          `json:"channel,omitempty"`
	Username    string          `json:"username,omitempty"`
	IconEmoji   string          `json:"icon_emoji,omitempty"`
	Kinds       []activity.Kind `json:"kinds,omitempty"`
	MinPriority int             `json:"min_priority,omitempty"`
}

// SlackNotifier sends notifications to Slack via webhooks
type SlackNotifier struct {
	config SlackConfig
	client *http.Client
}

// NewSlackNotifier creates a new Slack notifier
func NewSlackNotifier(config SlackConfig) *SlackNotifier {
	return &SlackNotifier{
		config: config,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the notifier name
func (s *SlackNotifier) Name() string {
	return "slack"
}

// ShouldNotify checks if the activity entry should trigger a notification.
// Only system events are candidates; chat messages never page Slack.
func (s *SlackNotifier) ShouldNotify(entry activity.Entry) bool {
	if entry.Type != activity.TypeSystemEvent {
		return false
	}
	if s.config.MinPriority > 0 && priorityFor(entry) > s.config.MinPriority {
		return false
	}

	if len(s.config.Kinds) > 0 {
		found := false
		for _, k := range s.config.Kinds {
			if entry.Event == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

// Send sends entry to Slack
func (s *SlackNotifier) Send(entry activity.Entry) error {
	if s.config.WebhookURL == "" {
		return fmt.Errorf("slack webhook URL not configured")
	}

	priority := priorityFor(entry)
	color := "good"
	if priority == PriorityCritical {
		color = "danger"
	} else if priority == PriorityHigh {
		color = "warning"
	}

	// Build attachment fields
	fields := []map[string]interface{}{
		{
			"title": "Kind",
			"value": string(entry.Event),
			"short": true,
		},
		{
			"title": "Workspace",
			"value": entry.WorkspaceID,
			"short": true,
		},
		{
			"title": "Priority",
			"value": priorityString(priority),
			"short": true,
		},
	}

	if entry.TaskID != "" {
		fields = append(fields, map[string]interface{}{
			"title": "Task",
			"value": entry.TaskID,
			"short": true,
		})
	}

	for k, v := range entry.Metadata {
		fields = append(fields, map[string]interface{}{
			"title": k,
			"value": fmt.Sprintf("%v", v),
			"short": false,
		})
	}

	// Build Slack message payload
	payload := map[string]interface{}{
		"text": fmt.Sprintf("Activity: %s", entry.ID),
		"attachments": []map[string]interface{}{
			{
				"color":  color,
				"title":  fmt.Sprintf("%s: %s", entry.Event, entry.Message),
				"fields": fields,
				"ts":     entry.Timestamp.Unix(),
			},
		},
	}

	if s.config.Channel != "" {
		payload["channel"] = s.config.Channel
	}
	if s.config.Username != "" {
		payload["username"] = s.config.Username
	}
	if s.config.IconEmoji != "" {
		payload["icon_emoji"] = s.config.IconEmoji
	}

	// Marshal payload
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	// Send HTTP request
	resp, err := s.client.Post(s.config.WebhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send slack notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack API returned status %d", resp.StatusCode)
	}

	return nil
}
