// Package workspace maintains the flat registry of known workspaces and
// each workspace's factory.json configuration.
package workspace

// GuardrailConfig overrides the compile-in supervisor defaults per
// workspace (Open Question decision #2 in SPEC_FULL.md §13).
type GuardrailConfig struct {
	TimeoutMs          int `json:"timeoutMs,omitempty"`
	MaxToolCalls        int `json:"maxToolCalls,omitempty"`
	NoFirstEventMs      int `json:"noFirstEventMs,omitempty"`
	PostToolStallMs     int `json:"postToolStallMs,omitempty"`
	StreamSilenceMs     int `json:"streamSilenceMs,omitempty"`
	MaxTurnDurationMs   int `json:"maxTurnDurationMs,omitempty"`
}

// WipLimits caps the number of tasks per phase; absent (0) means unbounded.
type WipLimits struct {
	Ready     int `json:"ready,omitempty"`
	Executing int `json:"executing,omitempty"`
}

// WorkflowAutomation toggles automatic promotions in the queue manager.
type WorkflowAutomation struct {
	BacklogToReady   bool `json:"backlogToReady"`
	ReadyToExecuting bool `json:"readyToExecuting"`
}

// QueueProcessing gates whether the queue manager starts new executions.
type QueueProcessing struct {
	Enabled bool `json:"enabled"`
}

// GitIntegration is presentational only; not enforced by the core.
type GitIntegration struct {
	Enabled     bool   `json:"enabled"`
	RemoteName  string `json:"remoteName,omitempty"`
}

// Config is a workspace's factory.json.
type Config struct {
	TaskLocations       []string            `json:"taskLocations"`
	DefaultTaskLocation string              `json:"defaultTaskLocation"`
	WipLimits           WipLimits           `json:"wipLimits"`
	QueueProcessing     QueueProcessing     `json:"queueProcessing"`
	WorkflowAutomation  WorkflowAutomation  `json:"workflowAutomation"`
	GitIntegration      GitIntegration      `json:"gitIntegration"`
	PlanningGuardrails  GuardrailConfig     `json:"planningGuardrails"`
	ExecutionGuardrails GuardrailConfig     `json:"executionGuardrails"`
}

// DefaultConfig returns the fallback values applied when a workspace has
// never been configured (task field -> workspace config -> these globals).
func DefaultConfig() Config {
	return Config{
		TaskLocations:       []string{"tasks"},
		DefaultTaskLocation: "tasks",
		WipLimits:           WipLimits{Executing: 1},
		QueueProcessing:     QueueProcessing{Enabled: true},
		WorkflowAutomation:  WorkflowAutomation{},
		PlanningGuardrails: GuardrailConfig{
			TimeoutMs:      1_800_000,
			MaxToolCalls:   40,
			NoFirstEventMs: 20_000,
		},
		ExecutionGuardrails: GuardrailConfig{
			PostToolStallMs:   120_000,
			StreamSilenceMs:   60_000,
			MaxTurnDurationMs: 600_000,
			NoFirstEventMs:    20_000,
		},
	}
}

// Workspace is one registered project. id is unique across the registry;
// path is unique; artifactRoot holds factory.json and all task directories.
type Workspace struct {
	ID           string `json:"id"`
	Path         string `json:"path"`
	Name         string `json:"name"`
	ArtifactRoot string `json:"artifactRoot"`

	Config Config `json:"-"`
}
