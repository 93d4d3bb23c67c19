package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/taskfactory/daemon/internal/activity"
	"github.com/taskfactory/daemon/internal/agentsession"
	"github.com/taskfactory/daemon/internal/notifications"
	"github.com/taskfactory/daemon/internal/planning"
	"github.com/taskfactory/daemon/internal/queue"
	"github.com/taskfactory/daemon/internal/supervisor"
	"github.com/taskfactory/daemon/internal/taskstore"
	"github.com/taskfactory/daemon/internal/workspace"
)

// taskPromptBuilder implements queue.PromptBuilder: it decides wording and
// tool wiring for a workspace's planning/execution turns, keeping those
// concerns out of the queue's scheduling loop.
type taskPromptBuilder struct {
	store *taskstore.Store
	shelf agentsession.ToolSink // the workspace's planning session, for delegated shelf/draft/question/control calls
}

func (b *taskPromptBuilder) BuildPlanPrompt(task *taskstore.Task) (string, agentsession.ToolSink) {
	prompt := fmt.Sprintf(
		"Produce a plan for task %s: %s\n\n%s\n\nCall save_plan with goal, steps, validation, and cleanup when ready.",
		task.Frontmatter.ID, task.Frontmatter.Title, task.Description,
	)
	return prompt, &taskToolSink{store: b.store, task: task, shelf: b.shelf}
}

func (b *taskPromptBuilder) BuildExecutePrompt(task *taskstore.Task) (string, agentsession.ToolSink) {
	prompt := fmt.Sprintf("Execute task %s: %s\n\n%s", task.Frontmatter.ID, task.Frontmatter.Title, task.Description)
	if task.Frontmatter.Plan != nil {
		prompt += fmt.Sprintf("\n\nPlan goal: %s\nSteps: %v", task.Frontmatter.Plan.Goal, task.Frontmatter.Plan.Steps)
	}
	return prompt, &taskToolSink{store: b.store, task: task, shelf: b.shelf}
}

// taskToolSink is the per-turn agentsession.ToolSink handed to the adapter.
// SavePlan is handled directly against the task it was built for; every
// other call is a workspace-shelf operation and delegates to the shared
// planning session, which already implements the full interface.
type taskToolSink struct {
	store *taskstore.Store
	task  *taskstore.Task
	shelf agentsession.ToolSink
}

func (t *taskToolSink) SavePlan(goal string, steps, validation, cleanup []string, visualPlan string) error {
	plan := taskstore.Plan{
		Goal:        goal,
		Steps:       steps,
		Validation:  validation,
		Cleanup:     cleanup,
		VisualPlan:  visualPlan,
		GeneratedAt: time.Now(),
	}
	completed := taskstore.PlanningCompleted
	_, err := t.store.UpdateTask(t.task, taskstore.UpdateRequest{Plan: &plan, PlanningStatus: &completed})
	return err
}

func (t *taskToolSink) CreateDraftTask(title, description string) (string, error) {
	return t.shelf.CreateDraftTask(title, description)
}

func (t *taskToolSink) CreateArtifact(kind, title, content string) (string, error) {
	return t.shelf.CreateArtifact(kind, title, content)
}

func (t *taskToolSink) AskQuestions(questions []agentsession.Question) ([]agentsession.Answer, error) {
	return t.shelf.AskQuestions(questions)
}

func (t *taskToolSink) ManageShelf(action string, payload map[string]interface{}) error {
	return t.shelf.ManageShelf(action, payload)
}

func (t *taskToolSink) ManageNewTask(action string, payload map[string]interface{}) error {
	return t.shelf.ManageNewTask(action, payload)
}

func (t *taskToolSink) FactoryControl(action string, payload map[string]interface{}) error {
	return t.shelf.FactoryControl(action, payload)
}

// workspaceRuntime holds the per-workspace components the daemon starts:
// one task store, one supervisor, one queue manager, and the cancellation
// for its background goroutines.
type workspaceRuntime struct {
	store    *taskstore.Store
	sup      *supervisor.Supervisor
	queueMgr *queue.Manager
	cancel   context.CancelFunc
}

// daemonState aggregates every active workspace's runtime behind a single
// shared activity bus, agent-session adapter, planning manager, and
// notifier, generalizing the teacher's single-process model to one queue
// manager and one planning session per registered workspace.
type daemonState struct {
	registry    *workspace.Registry
	bus         *activity.Bus
	adapter     agentsession.Adapter
	planningMgr *planning.Manager
	notifier    *notifications.Manager

	mu       sync.Mutex
	runtimes map[string]*workspaceRuntime
}

func newDaemonState(registry *workspace.Registry, bus *activity.Bus, adapter agentsession.Adapter, planningMgr *planning.Manager, notifier *notifications.Manager) *daemonState {
	return &daemonState{
		registry:    registry,
		bus:         bus,
		adapter:     adapter,
		planningMgr: planningMgr,
		notifier:    notifier,
		runtimes:    make(map[string]*workspaceRuntime),
	}
}

// startWorkspace wires and starts one workspace's store, supervisor, and
// queue manager; idempotent per workspace ID.
func (d *daemonState) startWorkspace(ws *workspace.Workspace) error {
	d.mu.Lock()
	if _, exists := d.runtimes[ws.ID]; exists {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	tasksDir := filepath.Join(ws.ArtifactRoot, "tasks")
	store := taskstore.New(tasksDir, filepath.Base(ws.Path))

	sup := supervisor.New(ws.ID, d.adapter, d.bus, store)
	sup.SetNotifier(d.notifier)

	planningSession := d.planningMgr.Get(ws.ID, ws.Path, ws.ArtifactRoot, store)
	builder := &taskPromptBuilder{store: store, shelf: planningSession}

	configFn := func() workspace.Config {
		w, err := d.registry.GetWorkspaceByID(ws.ID)
		if err != nil {
			return workspace.DefaultConfig()
		}
		return w.Config
	}

	qm := queue.New(ws.ID, store, configFn, sup, d.bus, builder)

	ctx, cancel := context.WithCancel(context.Background())
	qm.Start(ctx)
	go qm.RunFallbackTicker(ctx)
	go d.forwardToExternalChannels(ctx, ws.ID)

	d.mu.Lock()
	d.runtimes[ws.ID] = &workspaceRuntime{store: store, sup: sup, queueMgr: qm, cancel: cancel}
	d.mu.Unlock()
	return nil
}

// forwardToExternalChannels relays this workspace's activity entries to the
// notifier's Slack/Discord/email router, if one is configured. Subscribing
// per workspace rather than filtering a single global feed keeps the router
// oblivious to the multi-workspace fan-out above it.
func (d *daemonState) forwardToExternalChannels(ctx context.Context, workspaceID string) {
	ch := d.bus.Subscribe(workspaceID)
	defer d.bus.Unsubscribe(workspaceID, ch)
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-ch:
			if !ok {
				return
			}
			d.notifier.NotifyActivity(entry)
		}
	}
}

// stopAll stops every running workspace's queue manager and releases its
// planning session.
func (d *daemonState) stopAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, rt := range d.runtimes {
		rt.queueMgr.Stop()
		rt.cancel()
		d.planningMgr.Remove(id)
	}
}
