// Package taskstore reads and writes tasks as one YAML document per task
// directory under a workspace's artifact root.
package taskstore

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Phase is the task's lifecycle state.
type Phase string

const (
	PhaseBacklog   Phase = "backlog"
	PhaseReady     Phase = "ready"
	PhaseExecuting Phase = "executing"
	PhaseComplete  Phase = "complete"
	PhaseArchived  Phase = "archived"
)

// Actor attributes a phase transition to its originator.
type Actor string

const (
	ActorUser   Actor = "user"
	ActorAgent  Actor = "agent"
	ActorSystem Actor = "system"
)

// PlanningStatus tracks the planning run's outcome for a task.
type PlanningStatus string

const (
	PlanningNone      PlanningStatus = "none"
	PlanningRunning   PlanningStatus = "running"
	PlanningCompleted PlanningStatus = "completed"
	PlanningError     PlanningStatus = "error"
)

// validTransitions is the normative transition table from spec §4.1.
var validTransitions = map[Phase][]Phase{
	PhaseBacklog:   {PhaseReady, PhaseExecuting, PhaseComplete, PhaseArchived},
	PhaseReady:     {PhaseBacklog, PhaseExecuting, PhaseArchived},
	PhaseExecuting: {PhaseBacklog, PhaseReady, PhaseComplete, PhaseArchived},
	PhaseComplete:  {PhaseReady, PhaseExecuting, PhaseArchived},
	PhaseArchived:  {PhaseBacklog, PhaseComplete},
}

// legacyPhases maps historical phase values, present in some on-disk
// snapshots, onto the current table per Open Question #1.
var legacyPhases = map[string]Phase{
	"planning": PhaseBacklog,
	"wrapup":   PhaseBacklog,
}

// PhaseTransition records one successful move, appended to Task.History.
type PhaseTransition struct {
	From      Phase     `yaml:"from"`
	To        Phase     `yaml:"to"`
	Timestamp time.Time `yaml:"timestamp"`
	Actor     Actor     `yaml:"actor"`
	Reason    string    `yaml:"reason,omitempty"`
}

// AcceptanceCriterion is an ordered criterion with an independent check state.
type AcceptanceCriterion struct {
	Text  string        `yaml:"text"`
	State CriterionState `yaml:"state"`
}

type CriterionState string

const (
	CriterionPass    CriterionState = "pass"
	CriterionFail    CriterionState = "fail"
	CriterionPending CriterionState = "pending"
)

// Plan is the structured output of a completed planning run.
type Plan struct {
	Goal        string    `yaml:"goal"`
	Steps       []string  `yaml:"steps,omitempty"`
	Validation  []string  `yaml:"validation,omitempty"`
	Cleanup     []string  `yaml:"cleanup,omitempty"`
	VisualPlan  string    `yaml:"visualPlan,omitempty"`
	GeneratedAt time.Time `yaml:"generatedAt"`
}

// BlockedState is the task's current block flag plus monotonic aggregates.
type BlockedState struct {
	IsBlocked       bool       `yaml:"isBlocked"`
	Reason          string     `yaml:"reason,omitempty"`
	Since           *time.Time `yaml:"since,omitempty"`
	BlockedCount    int        `yaml:"blockedCount"`
	BlockedDuration float64    `yaml:"blockedDuration"` // seconds, monotonic aggregate
}

// UsageSample is a normalised per-(provider, modelId) usage slice, per the
// GLOSSARY definition in spec.md.
type UsageSample struct {
	Provider        string  `yaml:"provider"`
	ModelID         string  `yaml:"modelId"`
	InputTokens     int64   `yaml:"input"`
	OutputTokens    int64   `yaml:"output"`
	CacheReadTokens int64   `yaml:"cacheRead"`
	CacheWriteTokens int64  `yaml:"cacheWrite"`
	TotalTokens     int64   `yaml:"total"`
	Cost            float64 `yaml:"cost"`
}

// UsageMetrics accumulates samples additively, keyed by (provider, modelId).
// Totals must always equal the sum across ByModel (invariant #10, spec §8).
type UsageMetrics struct {
	Totals  UsageSample   `yaml:"totals"`
	ByModel []UsageSample `yaml:"byModel,omitempty"`
}

// AddSample merges one usage sample into the metrics additively.
func (m *UsageMetrics) AddSample(s UsageSample) {
	if s.TotalTokens == 0 {
		s.TotalTokens = s.InputTokens + s.OutputTokens + s.CacheReadTokens + s.CacheWriteTokens
	}
	found := false
	for i := range m.ByModel {
		if m.ByModel[i].Provider == s.Provider && m.ByModel[i].ModelID == s.ModelID {
			m.ByModel[i].InputTokens += s.InputTokens
			m.ByModel[i].OutputTokens += s.OutputTokens
			m.ByModel[i].CacheReadTokens += s.CacheReadTokens
			m.ByModel[i].CacheWriteTokens += s.CacheWriteTokens
			m.ByModel[i].TotalTokens += s.TotalTokens
			m.ByModel[i].Cost += s.Cost
			found = true
			break
		}
	}
	if !found {
		m.ByModel = append(m.ByModel, s)
	}
	m.Totals.InputTokens += s.InputTokens
	m.Totals.OutputTokens += s.OutputTokens
	m.Totals.CacheReadTokens += s.CacheReadTokens
	m.Totals.CacheWriteTokens += s.CacheWriteTokens
	m.Totals.TotalTokens += s.TotalTokens
	m.Totals.Cost += s.Cost
}

// ModelConfig names a model plus an ordered fallback chain.
type ModelConfig struct {
	Provider       string   `yaml:"provider"`
	ModelID        string   `yaml:"modelId"`
	FallbackModels []string `yaml:"fallbackModels,omitempty"`
}

// TaskFrontmatter is the canonical set of known fields. Unknown keys found
// on disk are preserved in Extra and round-tripped on write, but never read
// by the core.
type TaskFrontmatter struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	Phase       Phase  `yaml:"phase"`
	Order       int    `yaml:"order"`

	Created   time.Time  `yaml:"created"`
	Updated   time.Time  `yaml:"updated"`
	Started   *time.Time `yaml:"started,omitempty"`
	Completed *time.Time `yaml:"completed,omitempty"`
	CycleTime *float64   `yaml:"cycleTime,omitempty"` // seconds
	LeadTime  *float64   `yaml:"leadTime,omitempty"`  // seconds

	AcceptanceCriteria []AcceptanceCriterion `yaml:"acceptanceCriteria,omitempty"`

	Plan *Plan `yaml:"plan,omitempty"`

	PreExecutionSkills  []string          `yaml:"preExecutionSkills,omitempty"`
	PostExecutionSkills []string          `yaml:"postExecutionSkills,omitempty"`
	PrePlanningSkills   []string          `yaml:"prePlanningSkills,omitempty"`
	SkillConfigs        map[string]map[string]string `yaml:"skillConfigs,omitempty"`

	ExecutionModelConfig *ModelConfig `yaml:"executionModelConfig,omitempty"`
	PlanningModelConfig  *ModelConfig `yaml:"planningModelConfig,omitempty"`

	Blocked BlockedState `yaml:"blocked"`

	PlanningStatus  PlanningStatus `yaml:"planningStatus"`
	PlanningSkipped bool           `yaml:"planningSkipped,omitempty"`

	UsageMetrics UsageMetrics `yaml:"usageMetrics"`

	SessionFile string `yaml:"sessionFile,omitempty"`

	Extra map[string]interface{} `yaml:"-"`
}

// knownFrontmatterKeys lists every yaml tag declared on TaskFrontmatter
// above; kept in sync with the struct so UnmarshalYAML can tell a known
// field from one it should preserve in Extra.
var knownFrontmatterKeys = []string{
	"id", "title", "phase", "order",
	"created", "updated", "started", "completed", "cycleTime", "leadTime",
	"acceptanceCriteria", "plan",
	"preExecutionSkills", "postExecutionSkills", "prePlanningSkills", "skillConfigs",
	"executionModelConfig", "planningModelConfig",
	"blocked", "planningStatus", "planningSkipped", "usageMetrics", "sessionFile",
}

// frontmatterAlias has the same fields as TaskFrontmatter but none of its
// methods, so (Un)MarshalYAML below can decode/encode through it without
// recursing into themselves.
type frontmatterAlias TaskFrontmatter

// UnmarshalYAML decodes the canonical fields normally and stashes any
// remaining keys in Extra, so a task.yaml written by a newer daemon
// version round-trips through an older one without losing fields.
func (f *TaskFrontmatter) UnmarshalYAML(value *yaml.Node) error {
	var alias frontmatterAlias
	if err := value.Decode(&alias); err != nil {
		return err
	}
	*f = TaskFrontmatter(alias)

	var raw map[string]interface{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	for _, key := range knownFrontmatterKeys {
		delete(raw, key)
	}
	if len(raw) > 0 {
		f.Extra = raw
	}
	return nil
}

// MarshalYAML re-emits Extra's keys alongside the canonical fields so they
// survive being written back out by this daemon version.
func (f TaskFrontmatter) MarshalYAML() (interface{}, error) {
	alias := frontmatterAlias(f)
	data, err := yaml.Marshal(alias)
	if err != nil {
		return nil, err
	}
	var merged map[string]interface{}
	if err := yaml.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for k, v := range f.Extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return merged, nil
}

// Task is one unit of work, backed by <taskDir>/task.yaml.
type Task struct {
	Frontmatter TaskFrontmatter   `yaml:"frontmatter"`
	Description string            `yaml:"description"`
	History     []PhaseTransition `yaml:"history"`

	FilePath string `yaml:"-"`
}

// ID is a convenience accessor.
func (t *Task) ID() string { return t.Frontmatter.ID }

// CreateRequest carries the fields accepted by createTask.
type CreateRequest struct {
	Title              string
	Description        string
	AcceptanceCriteria []string
	PreExecutionSkills []string
	PostExecutionSkills []string
	PrePlanningSkills  []string
	SkillConfigs       map[string]map[string]string
	ExecutionModelConfig *ModelConfig
	PlanningModelConfig  *ModelConfig
	PlanningSkipped    bool
}

// UpdateRequest is a partial update; nil fields are left unchanged.
type UpdateRequest struct {
	Title              *string
	Description        *string
	AcceptanceCriteria *[]AcceptanceCriterion
	Plan               *Plan
	PlanningStatus     *PlanningStatus
	PlanningSkipped    *bool
	Blocked            *BlockedState
	SessionFile        *string
	UsageSample        *UsageSample // additively merged into the task's UsageMetrics, not overwritten
}

// DiscoverScope selects which phases discoverTasks returns.
type DiscoverScope string

const (
	ScopeAll      DiscoverScope = "all"
	ScopeActive   DiscoverScope = "active" // non-archived
	ScopeArchived DiscoverScope = "archived"
)
