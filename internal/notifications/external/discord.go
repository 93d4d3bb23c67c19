package external

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/taskfactory/daemon/internal/activity"
)

// DiscordConfig holds configuration for Discord notifications
type DiscordConfig struct {
	WebhookURL  string          `json:"webhook_url"`
	Username    string          `json:"username,omitempty"`
	AvatarURL   string          `json:"avatar_url,omitempty"`
	Kinds       []activity.Kind `json:"kinds,omitempty"`
	MinPriority int             `json:"min_priority,omitempty"`
}

// DiscordNotifier sends notifications to Discord via webhooks
type DiscordNotifier struct {
	config DiscordConfig
	client *http.Client
}

// NewDiscordNotifier creates a new Discord notifier
func NewDiscordNotifier(config DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		config: config,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the notifier name
func (d *DiscordNotifier) Name() string {
	return "discord"
}

// ShouldNotify checks if the activity entry should trigger a notification
func (d *DiscordNotifier) ShouldNotify(entry activity.Entry) bool {
	if entry.Type != activity.TypeSystemEvent {
		return false
	}
	if d.config.MinPriority > 0 && priorityFor(entry) > d.config.MinPriority {
		return false
	}

	if len(d.config.Kinds) > 0 {
		found := false
		for _, k := range d.config.Kinds {
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

// Send sends entry to Discord
func (d *DiscordNotifier) Send(entry activity.Entry) error {
	if d.config.WebhookURL == "" {
		return fmt.Errorf("discord webhook URL not configured")
	}

	priority := priorityFor(entry)
	color := 0x00FF00 // green for normal
	if priority == PriorityCritical {
		color = 0xFF0000 // red
	} else if priority == PriorityHigh {
		color = 0xFFA500 // orange
	}

	// Build embed fields
	fields := []map[string]interface{}{
		{
			"name":   "Kind",
			"value":  string(entry.Event),
			"inline": true,
		},
		{
			"name":   "Workspace",
			"value":  entry.WorkspaceID,
			"inline": true,
		},
		{
			"name":   "Priority",
			"value":  priorityString(priority),
			"inline": true,
		},
	}

	if entry.TaskID != "" {
		fields = append(fields, map[string]interface{}{
			"name":   "Task",
			"value":  entry.TaskID,
			"inline": true,
		})
	}

	for k, v := range entry.Metadata {
		fields = append(fields, map[string]interface{}{
			"name":   k,
			"value":  fmt.Sprintf("%v", v),
			"inline": false,
		})
	}

	// Build Discord embed
	embed := map[string]interface{}{
		"title":       fmt.Sprintf("%s: %s", entry.Event, entry.Message),
		"description": fmt.Sprintf("Activity ID: %s", entry.ID),
		"color":       color,
		"timestamp":   entry.Timestamp.Format(time.RFC3339),
		"fields":      fields,
	}

	// Build Discord message payload
	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{embed},
	}

	if d.config.Username != "" {
		payload["username"] = d.config.Username
	}
	if d.config.AvatarURL != "" {
		payload["avatar_url"] = d.config.AvatarURL
	}

	// Marshal payload
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	// Send HTTP request
	resp, err := d.client.Post(d.config.WebhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send discord notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("discord API returned status %d", resp.StatusCode)
	}

	return nil
}
