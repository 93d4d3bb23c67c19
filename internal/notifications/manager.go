package notifications

import (
	"fmt"
	"log"
	"sync"

	"github.com/taskfactory/daemon/internal/activity"
)

// NotificationManager provides a unified interface for all notification types
type NotificationManager interface {
	NotifyTaskNeedsInput(workspaceID, taskID, title, message string) error
	ShowToast(title, message string) error
	FlashTerminal(message string) error
	ShowDashboardBanner(workspaceID, message string) error
	ClearAlert(workspaceID string) error
	IsEnabled() bool
}

// Manager implements NotificationManager with multiple notification channels
type Manager struct {
	toast    *ToastNotifier
	terminal *TerminalNotifier
	banner   *BannerNotifier
	external *Router // optional; nil until SetExternalRouter is called
	enabled  bool
	mu       sync.RWMutex
	logger   *log.Logger
}

// SetExternalRouter wires outbound Slack/Discord/email channels, routed by
// activity entry rather than by the desktop/terminal/banner alerts above.
// Called once at startup; a nil router (the default) disables external
// delivery without affecting toast/terminal/banner notifications.
func (m *Manager) SetExternalRouter(r *Router) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.external = r
}

// NotifyActivity forwards an activity entry to every configured external
// channel (fire-and-forget); a no-op when no router is configured.
func (m *Manager) NotifyActivity(entry activity.Entry) {
	m.mu.RLock()
	r := m.external
	m.mu.RUnlock()
	if r == nil {
		return
	}
	r.Route(entry)
}

// Config holds configuration for the notification manager
type Config struct {
	AppID          string
	DashboardURL   string
	EnableToast    bool
	EnableTerminal bool
	EnableBanner   bool
	Logger         *log.Logger
}

// NewManager creates a new notification manager with all notification channels
func NewManager(config Config) *Manager {
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	m := &Manager{
		toast:    NewToastNotifier(config.AppID),
		terminal: NewTerminalNotifier(),
		banner:   NewBannerNotifier(),
		enabled:  config.EnableToast || config.EnableTerminal || config.EnableBanner,
		logger:   config.Logger,
	}

	m.logSupport()

	return m
}

// NewDefaultManager creates a manager with default settings (all channels enabled)
func NewDefaultManager() *Manager {
	return NewManager(Config{
		AppID:          "TaskFactory",
		DashboardURL:   "http://localhost:8080",
		EnableToast:    true,
		EnableTerminal: true,
		EnableBanner:   true,
		Logger:         log.Default(),
	})
}

// NotifyTaskNeedsInput triggers all notification channels for a task parked
// awaiting user input, or a planning session's QA request.
func (m *Manager) NotifyTaskNeedsInput(workspaceID, taskID, title, message string) error {
	if !m.enabled {
		return fmt.Errorf("notifications are disabled")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error

	if m.toast.IsSupported() {
		if err := m.toast.NotifyTaskNeedsInput(title, message); err != nil {
			m.logger.Printf("[NOTIFICATION] Toast notification failed: %v", err)
			errs = append(errs, fmt.Errorf("toast: %w", err))
		} else {
			m.logger.Printf("[NOTIFICATION] Toast notification sent: %s", message)
		}
	}

	if m.terminal.IsSupported() {
		if err := m.terminal.NotifyTaskNeedsInput(message); err != nil {
			m.logger.Printf("[NOTIFICATION] Terminal notification failed: %v", err)
			errs = append(errs, fmt.Errorf("terminal: %w", err))
		} else {
			m.logger.Printf("[NOTIFICATION] Terminal title updated: %s", message)
		}
	}

	if err := m.banner.ShowSupervisorAlert(workspaceID, taskID, message); err != nil {
		m.logger.Printf("[NOTIFICATION] Banner notification failed: %v", err)
		errs = append(errs, fmt.Errorf("banner: %w", err))
	} else {
		m.logger.Printf("[NOTIFICATION] Dashboard banner shown: %s", message)
	}

	if len(errs) > 0 {
		return fmt.Errorf("some notifications failed: %v", errs)
	}

	return nil
}

// ShowToast displays a Windows toast notification
func (m *Manager) ShowToast(title, message string) error {
	if !m.enabled {
		return fmt.Errorf("notifications are disabled")
	}

	if !m.toast.IsSupported() {
		return fmt.Errorf("toast notifications not supported on this platform")
	}

	err := m.toast.ShowToast(title, message)
	if err != nil {
		m.logger.Printf("[NOTIFICATION] Toast failed: %v", err)
		return err
	}

	m.logger.Printf("[NOTIFICATION] Toast sent: %s - %s", title, message)
	return nil
}

// FlashTerminal changes the terminal title to show a message
func (m *Manager) FlashTerminal(message string) error {
	if !m.enabled {
		return fmt.Errorf("notifications are disabled")
	}

	if !m.terminal.IsSupported() {
		return fmt.Errorf("terminal notifications not supported")
	}

	err := m.terminal.FlashTerminal(message)
	if err != nil {
		m.logger.Printf("[NOTIFICATION] Terminal flash failed: %v", err)
		return err
	}

	m.logger.Printf("[NOTIFICATION] Terminal title updated: %s", message)
	return nil
}

// ShowDashboardBanner displays an info banner for workspaceID on the web dashboard
func (m *Manager) ShowDashboardBanner(workspaceID, message string) error {
	if !m.enabled {
		return fmt.Errorf("notifications are disabled")
	}

	err := m.banner.Show(workspaceID, "", message, BannerTypeInfo)
	if err != nil {
		m.logger.Printf("[NOTIFICATION] Banner failed: %v", err)
		return err
	}

	m.logger.Printf("[NOTIFICATION] Dashboard banner shown for %s: %s", workspaceID, message)
	return nil
}

// ClearAlert clears workspaceID's active notifications
func (m *Manager) ClearAlert(workspaceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error

	if m.terminal.IsSupported() {
		if err := m.terminal.ClearAlert(); err != nil {
			errs = append(errs, fmt.Errorf("terminal: %w", err))
		}
	}

	if err := m.banner.Clear(workspaceID); err != nil {
		errs = append(errs, fmt.Errorf("banner: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("some clear operations failed: %v", errs)
	}

	m.logger.Printf("[NOTIFICATION] All alerts cleared for %s", workspaceID)
	return nil
}

// IsEnabled returns true if notifications are enabled
func (m *Manager) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Enable enables all notifications
func (m *Manager) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
	m.logger.Println("[NOTIFICATION] Notifications enabled")
}

// Disable disables all notifications
func (m *Manager) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
	m.logger.Println("[NOTIFICATION] Notifications disabled")
}

// GetBannerState returns workspaceID's current banner state (for web dashboard)
func (m *Manager) GetBannerState(workspaceID string) BannerState {
	return m.banner.GetState(workspaceID)
}

// logSupport logs which notification channels are supported
func (m *Manager) logSupport() {
	m.logger.Printf("[NOTIFICATION] Toast notifications supported: %v", m.toast.IsSupported())
	m.logger.Printf("[NOTIFICATION] Terminal notifications supported: %v", m.terminal.IsSupported())
	m.logger.Printf("[NOTIFICATION] Banner notifications supported: true")
}

// SetTerminalTitle sets the original terminal title (should be called at startup)
func (m *Manager) SetTerminalTitle(title string) {
	m.terminal.SetOriginalTitle(title)
}
