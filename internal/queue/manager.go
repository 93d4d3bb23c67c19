// Package queue drives one workspace's task-phase promotions and
// execution/planning dispatch, generalizing the teacher's Captain
// orchestration cycle from a single global loop into a per-workspace
// single-flight kick loop.
package queue

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/taskfactory/daemon/internal/activity"
	"github.com/taskfactory/daemon/internal/agentsession"
	"github.com/taskfactory/daemon/internal/supervisor"
	"github.com/taskfactory/daemon/internal/taskstore"
	"github.com/taskfactory/daemon/internal/workspace"
)

// PromptBuilder produces the initial prompt and tool sink for a planning
// or execution turn. The queue manager only decides *when* to start a
// turn; wording and tool wiring belong to the caller (cmd/taskfactoryd).
type PromptBuilder interface {
	BuildPlanPrompt(task *taskstore.Task) (string, agentsession.ToolSink)
	BuildExecutePrompt(task *taskstore.Task) (string, agentsession.ToolSink)
}

// Status mirrors the queue:status broadcast payload.
type Status struct {
	WorkspaceID     string `json:"workspaceId"`
	Enabled         bool   `json:"enabled"`
	ExecutingCount  int    `json:"executingCount"`
	PlanningActive  bool   `json:"planningActive"`
	ReadyCount      int    `json:"readyCount"`
	BacklogCount    int    `json:"backlogCount"`
}

// Manager is one workspace's single-flight queue loop: start/stop/
// getStatus plus a kick channel coalescing concurrent kick requests into
// a single rerun, grounded on the teacher's Captain.Run ticker loop.
type Manager struct {
	workspaceID string
	store       *taskstore.Store
	configFn    func() workspace.Config
	supervisor  *supervisor.Supervisor
	bus         *activity.Bus
	builder     PromptBuilder

	kickCh chan struct{}

	mu          sync.Mutex
	running     bool
	inKick      bool
	rerun       bool
	planningRun bool
	cancel      context.CancelFunc
	lastStatus  Status
}

func New(workspaceID string, store *taskstore.Store, configFn func() workspace.Config, sup *supervisor.Supervisor, bus *activity.Bus, builder PromptBuilder) *Manager {
	return &Manager{
		workspaceID: workspaceID,
		store:       store,
		configFn:    configFn,
		supervisor:  sup,
		bus:         bus,
		builder:     builder,
		kickCh:      make(chan struct{}, 1),
	}
}

// Start launches the kick-consuming goroutine; idempotent.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.mu.Unlock()

	go m.loop(runCtx)
	m.RequestKick()
}

// Stop halts the kick loop; in-flight kicks run to completion.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Manager) GetStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastStatus
}

// RequestKick schedules a re-evaluation; a kick already running coalesces
// this into a single rerun rather than queuing multiple kicks (spec
// §4.6 "at most one kick coroutine runs per workspace at a time").
func (m *Manager) RequestKick() {
	m.mu.Lock()
	if m.inKick {
		m.rerun = true
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	select {
	case m.kickCh <- struct{}{}:
	default:
	}
}

func (m *Manager) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.kickCh:
			m.runKick(ctx)
		}
	}
}

func (m *Manager) runKick(ctx context.Context) {
	m.mu.Lock()
	m.inKick = true
	m.mu.Unlock()

	for {
		m.kickOnce(ctx)

		m.mu.Lock()
		again := m.rerun
		m.rerun = false
		if !again {
			m.inKick = false
		}
		m.mu.Unlock()
		if !again {
			return
		}
	}
}

// kickOnce is one evaluation of the kick loop: snapshot, promote,
// dispatch executions, dispatch planning, emit status (spec §4.6).
func (m *Manager) kickOnce(ctx context.Context) {
	cfg := m.configFn()

	tasks, err := m.store.DiscoverTasks(taskstore.ScopeAll)
	if err != nil {
		log.Printf("[QUEUE] %s: snapshot failed: %v", m.workspaceID, err)
		return
	}

	byPhase := map[taskstore.Phase][]*taskstore.Task{}
	for _, t := range tasks {
		byPhase[t.Frontmatter.Phase] = append(byPhase[t.Frontmatter.Phase], t)
	}
	for _, list := range byPhase {
		sortByPrecedence(list)
	}

	if cfg.WorkflowAutomation.BacklogToReady {
		m.promoteBacklogToReady(byPhase, cfg)
	}
	if cfg.WorkflowAutomation.ReadyToExecuting {
		m.promoteReadyToExecuting(byPhase, cfg)
	}

	if cfg.QueueProcessing.Enabled {
		m.dispatchExecutions(ctx, byPhase[taskstore.PhaseExecuting], cfg)
		m.dispatchPlanning(ctx, byPhase[taskstore.PhaseBacklog], cfg)
	}

	m.emitStatus(byPhase, cfg)
}

func sortByPrecedence(tasks []*taskstore.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Frontmatter.Order != tasks[j].Frontmatter.Order {
			return tasks[i].Frontmatter.Order < tasks[j].Frontmatter.Order
		}
		return tasks[i].Frontmatter.Created.Before(tasks[j].Frontmatter.Created)
	})
}

func (m *Manager) promoteBacklogToReady(byPhase map[taskstore.Phase][]*taskstore.Task, cfg workspace.Config) {
	readyLimit := cfg.WipLimits.Ready
	for _, t := range byPhase[taskstore.PhaseBacklog] {
		if readyLimit > 0 && len(byPhase[taskstore.PhaseReady]) >= readyLimit {
			return
		}
		if t.Frontmatter.PlanningStatus != taskstore.PlanningCompleted {
			continue
		}
		if len(t.Frontmatter.AcceptanceCriteria) == 0 {
			continue
		}
		if err := m.store.MoveTaskToPhase(t, taskstore.PhaseReady, taskstore.ActorSystem, "promoted: planning completed"); err != nil {
			log.Printf("[QUEUE] %s: promote %s to ready failed: %v", m.workspaceID, t.Frontmatter.ID, err)
			continue
		}
		byPhase[taskstore.PhaseReady] = append(byPhase[taskstore.PhaseReady], t)
	}
}

func (m *Manager) promoteReadyToExecuting(byPhase map[taskstore.Phase][]*taskstore.Task, cfg workspace.Config) {
	execLimit := cfg.WipLimits.Executing
	for _, t := range byPhase[taskstore.PhaseReady] {
		if execLimit > 0 && len(byPhase[taskstore.PhaseExecuting]) >= execLimit {
			return
		}
		if err := m.store.MoveTaskToPhase(t, taskstore.PhaseExecuting, taskstore.ActorSystem, "promoted: ready slot available"); err != nil {
			log.Printf("[QUEUE] %s: promote %s to executing failed: %v", m.workspaceID, t.Frontmatter.ID, err)
			continue
		}
		byPhase[taskstore.PhaseExecuting] = append(byPhase[taskstore.PhaseExecuting], t)
	}
}

// dispatchExecutions starts executeTask for every executing task without
// a live supervisor session; one that already opened a session file and
// has no live session now is "parked" rather than dispatched again.
// SessionFile (not Started) is the dispatched-before signal: Started is
// stamped the instant a task first enters the executing phase, including
// the very kick that promotes it, so it can't tell "never dispatched"
// from "ran and ended" apart. SessionFile is only written once
// ExecuteTask actually opens a session.
func (m *Manager) dispatchExecutions(ctx context.Context, executing []*taskstore.Task, cfg workspace.Config) {
	for _, t := range executing {
		if m.supervisor.IsLive(t.Frontmatter.ID) {
			continue
		}
		if t.Frontmatter.SessionFile != "" {
			// Already ran a turn and has no live session now: parked, needs
			// explicit user action (steer/follow-up/re-execute) to resume.
			continue
		}
		task := t
		prompt, sink := m.builder.BuildExecutePrompt(task)
		guardrails := cfg.ExecutionGuardrails
		go func() {
			if err := m.supervisor.ExecuteTask(ctx, task, guardrails, prompt, sink); err != nil {
				log.Printf("[QUEUE] %s: execute %s ended: %v", m.workspaceID, task.Frontmatter.ID, err)
			}
			m.RequestKick()
		}()
	}
}

// dispatchPlanning starts planTask for at most one backlog task per kick,
// per the default planning concurrency of 1 per workspace.
func (m *Manager) dispatchPlanning(ctx context.Context, backlog []*taskstore.Task, cfg workspace.Config) {
	m.mu.Lock()
	busy := m.planningRun
	m.mu.Unlock()
	if busy {
		return
	}

	for _, t := range backlog {
		if t.Frontmatter.PlanningSkipped {
			continue
		}
		eligible := t.Frontmatter.PlanningStatus == taskstore.PlanningNone || t.Frontmatter.PlanningStatus == taskstore.PlanningError
		if !eligible || t.Description == "" {
			continue
		}
		if m.supervisor.IsLive(t.Frontmatter.ID) {
			continue
		}

		task := t
		prompt, sink := m.builder.BuildPlanPrompt(task)
		guardrails := cfg.PlanningGuardrails

		m.mu.Lock()
		m.planningRun = true
		m.mu.Unlock()

		go func() {
			defer func() {
				m.mu.Lock()
				m.planningRun = false
				m.mu.Unlock()
				m.RequestKick()
			}()
			if err := m.supervisor.PlanTask(ctx, task, guardrails, prompt, sink); err != nil {
				log.Printf("[QUEUE] %s: plan %s ended: %v", m.workspaceID, task.Frontmatter.ID, err)
			}
		}()
		return
	}
}

func (m *Manager) emitStatus(byPhase map[taskstore.Phase][]*taskstore.Task, cfg workspace.Config) {
	status := Status{
		WorkspaceID:    m.workspaceID,
		Enabled:        cfg.QueueProcessing.Enabled,
		ExecutingCount: len(byPhase[taskstore.PhaseExecuting]),
		ReadyCount:     len(byPhase[taskstore.PhaseReady]),
		BacklogCount:   len(byPhase[taskstore.PhaseBacklog]),
	}
	m.mu.Lock()
	status.PlanningActive = m.planningRun
	changed := status != m.lastStatus
	m.lastStatus = status
	m.mu.Unlock()

	if changed {
		m.bus.Append(m.workspaceID, activity.Entry{
			Type:     activity.TypeSystemEvent,
			Event:    activity.KindExecutionReliability,
			Message:  "queue:status",
			Metadata: map[string]interface{}{"status": status},
		})
	}
}

// pollInterval is how often the daemon should call RequestKick as a
// fallback in case a mutation-triggered kick was missed; callers may
// also invoke RequestKick directly from command handlers.
const pollInterval = 5 * time.Second

// RunFallbackTicker issues a periodic RequestKick until ctx is done,
// matching the teacher's ticker-driven cycle as a safety net on top of
// the primary mutation-triggered kicks (spec §4.6's "every task mutation
// ... ends with a kick" is the fast path; this is the backstop).
func (m *Manager) RunFallbackTicker(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RequestKick()
		}
	}
}
