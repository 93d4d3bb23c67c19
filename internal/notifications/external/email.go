package external

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/taskfactory/daemon/internal/activity"
)

// EmailConfig holds configuration for email notifications
type EmailConfig struct {
	SMTPHost    string          `json:"smtp_host"`
	SMTPPort    int             `json:"smtp_port"`
	Username    string          `json:"username"`
	Password    string          `json:"password"`
	From        string          `json:"from"`
	To          []string        `json:"to"`
	Kinds       []activity.Kind `json:"kinds,omitempty"`
	MinPriority int             `json:"min_priority,omitempty"`
}

// EmailNotifier sends notifications via email
type EmailNotifier struct {
	config EmailConfig
}

// NewEmailNotifier creates a new email notifier
func NewEmailNotifier(config EmailConfig) *EmailNotifier {
	return &EmailNotifier{
		config: config,
	}
}

// Name returns the notifier name
func (e *EmailNotifier) Name() string {
	return "email"
}

// ShouldNotify checks if the activity entry should trigger a notification
func (e *EmailNotifier) ShouldNotify(entry activity.Entry) bool {
	if entry.Type != activity.TypeSystemEvent {
		return false
	}
	if e.config.MinPriority > 0 && priorityFor(entry) > e.config.MinPriority {
		return false
	}

	if len(e.config.Kinds) > 0 {
		found := false
		for _, k := range e.config.Kinds {
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

// Send sends entry via email
func (e *EmailNotifier) Send(entry activity.Entry) error {
	if e.config.SMTPHost == "" {
		return fmt.Errorf("SMTP host not configured")
	}
	if e.config.From == "" {
		return fmt.Errorf("from address not configured")
	}
	if len(e.config.To) == 0 {
		return fmt.Errorf("no recipient addresses configured")
	}

	// Build subject with priority prefix
	subject := e.buildSubject(entry)

	// Build email body
	body := e.buildBody(entry)

	// Build email message
	message := e.buildMessage(subject, body)

	// Send via SMTP
	addr := fmt.Sprintf("%s:%d", e.config.SMTPHost, e.config.SMTPPort)
	var auth smtp.Auth
	if e.config.Username != "" && e.config.Password != "" {
		auth = smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.SMTPHost)
	}

	err := smtp.SendMail(addr, auth, e.config.From, e.config.To, []byte(message))
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

// buildSubject creates the email subject line with priority prefix
func (e *EmailNotifier) buildSubject(entry activity.Entry) string {
	priority := priorityFor(entry)
	prefix := ""
	if priority == PriorityCritical {
		prefix = "[CRITICAL] "
	} else if priority == PriorityHigh {
		prefix = "[HIGH] "
	}

	return fmt.Sprintf("%sTaskFactory %s - %s", prefix, entry.Event, entry.ID)
}

// buildBody creates the email body content
func (e *EmailNotifier) buildBody(entry activity.Entry) string {
	var body strings.Builder

	body.WriteString("TaskFactory Activity Notification\n")
	body.WriteString("==================================\n\n")

	body.WriteString(fmt.Sprintf("Activity ID: %s\n", entry.ID))
	body.WriteString(fmt.Sprintf("Kind: %s\n", entry.Event))
	body.WriteString(fmt.Sprintf("Workspace: %s\n", entry.WorkspaceID))
	if entry.TaskID != "" {
		body.WriteString(fmt.Sprintf("Task: %s\n", entry.TaskID))
	}
	body.WriteString(fmt.Sprintf("Priority: %s\n", priorityString(priorityFor(entry))))
	body.WriteString(fmt.Sprintf("Timestamp: %s\n", entry.Timestamp.Format(time.RFC3339)))
	body.WriteString(fmt.Sprintf("Message: %s\n", entry.Message))

	if len(entry.Metadata) > 0 {
		body.WriteString("\nMetadata:\n")
		body.WriteString("---------\n")
		for k, v := range entry.Metadata {
			body.WriteString(fmt.Sprintf("%s: %v\n", k, v))
		}
	}

	body.WriteString("\n--\n")
	body.WriteString("This is an automated notification from TaskFactory\n")

	return body.String()
}

// buildMessage creates the full email message with headers
func (e *EmailNotifier) buildMessage(subject, body string) string {
	var message strings.Builder

	message.WriteString(fmt.Sprintf("From: %s\r\n", e.config.From))
	message.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(e.config.To, ", ")))
	message.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	message.WriteString("MIME-Version: 1.0\r\n")
	message.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	message.WriteString("\r\n")
	message.WriteString(body)

	return message.String()
}
