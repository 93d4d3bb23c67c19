// Package supervisor drives a single agent session to completion for one
// task (spec §4.5), applying the guardrail set uniformly across planning
// and execution runs and translating the engine's event stream into
// activity entries and typed broadcast events.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/taskfactory/daemon/internal/activity"
	"github.com/taskfactory/daemon/internal/agentsession"
	"github.com/taskfactory/daemon/internal/ferrors"
	"github.com/taskfactory/daemon/internal/notifications"
	"github.com/taskfactory/daemon/internal/taskstore"
	"github.com/taskfactory/daemon/internal/workspace"
)

// Status mirrors the agent:execution_status values from spec §6.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusStreaming Status = "streaming"
	StatusToolUse   Status = "tool_use"
	StatusThinking  Status = "thinking"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Supervisor owns the registry of live sessions for one workspace and
// drives planning/execution runs against the agent-session adapter.
type Supervisor struct {
	workspaceID string
	adapter     agentsession.Adapter
	bus         *activity.Bus
	store       *taskstore.Store

	registry *Registry
	notifier *notifications.Manager // optional; nil disables desktop/terminal alerts

	mu       sync.Mutex
	stopped  map[string]bool    // taskID -> stop-intent flag
	steer    map[string]string  // taskID -> pending steering instruction
	followUp map[string][]string // taskID -> queued follow-up messages
}

func New(workspaceID string, adapter agentsession.Adapter, bus *activity.Bus, store *taskstore.Store) *Supervisor {
	return &Supervisor{
		workspaceID: workspaceID,
		adapter:     adapter,
		bus:         bus,
		store:       store,
		registry:    NewRegistry(),
		stopped:     make(map[string]bool),
		steer:       make(map[string]string),
		followUp:    make(map[string][]string),
	}
}

// SetNotifier wires a desktop/terminal notifier so parked tasks surface
// outside the activity stream; optional, called once at startup.
func (s *Supervisor) SetNotifier(n *notifications.Manager) { s.notifier = n }

// IsLive reports whether taskID has an active supervised session; used by
// the queue manager's "parked task" detection.
func (s *Supervisor) IsLive(taskID string) bool { return s.registry.IsLive(taskID) }

// ActiveCount reports the number of live sessions, for WIP accounting.
func (s *Supervisor) ActiveCount() int { return s.registry.Count() }

func (s *Supervisor) emit(taskID string, entry activity.Entry) {
	entry.TaskID = taskID
	s.bus.Append(s.workspaceID, entry)
}

// planSinkWrapper intercepts SavePlan to additionally signal a local
// channel, so PlanTask's run loop can observe completion without polling
// task-store state from inside the NATS callback goroutine.
type planSinkWrapper struct {
	agentsession.ToolSink
	onSave func(goal string, steps, validation, cleanup []string, visualPlan string)
}

func (w planSinkWrapper) SavePlan(goal string, steps, validation, cleanup []string, visualPlan string) error {
	if err := w.ToolSink.SavePlan(goal, steps, validation, cleanup, visualPlan); err != nil {
		return err
	}
	w.onSave(goal, steps, validation, cleanup, visualPlan)
	return nil
}

// PlanTask runs a single planning turn: creates a new session (the task's
// existing SessionFile is not reopened), prompts for a plan, and waits for
// the agent to call save_plan or for a terminal event, whichever comes
// first (spec §4.5 "Planning run").
func (s *Supervisor) PlanTask(ctx context.Context, task *taskstore.Task, guardrails workspace.GuardrailConfig, prompt string, sink agentsession.ToolSink) error {
	taskID := task.Frontmatter.ID

	tc := newTurnCancellation(ctx, guardrails)
	instanceID, ok := s.registry.TryAcquire(taskID, task.Frontmatter.SessionFile, tc.stopAll)
	if !ok {
		return ferrors.GuardrailBreach("task %s already has an active supervised session", taskID)
	}
	defer s.registry.Release(taskID, instanceID)

	planSaved := make(chan struct{}, 1)
	wrappedSink := planSinkWrapper{ToolSink: sink, onSave: func(goal string, steps, validation, cleanup []string, visualPlan string) {
		now := time.Now()
		plan := taskstore.Plan{Goal: goal, Steps: steps, Validation: validation, Cleanup: cleanup, VisualPlan: visualPlan, GeneratedAt: now}
		completed := taskstore.PlanningCompleted
		if _, err := s.store.UpdateTask(task, taskstore.UpdateRequest{Plan: &plan, PlanningStatus: &completed}); err != nil {
			log.Printf("[SUPERVISOR] failed to persist plan for %s: %v", taskID, err)
		}
		select {
		case planSaved <- struct{}{}:
		default:
		}
	}}

	session, err := s.adapter.CreateSession(tc.ctx, agentsession.CreateOptions{ToolSink: wrappedSink})
	if err != nil {
		return ferrors.AgentSession("create planning session for %s: %v", taskID, err)
	}

	budget := newToolBudget(guardrails.MaxToolCalls)
	terminal := make(chan error, 1)
	unsubscribe := session.Subscribe(s.makeListener(instanceID, taskID, tc, guardrails, budget, terminal))
	defer unsubscribe()

	s.emit(taskID, activity.Entry{Type: activity.TypeSystemEvent, Event: activity.KindExecutionReliability, Message: "turn_start"})

	if err := session.Prompt(tc.ctx, prompt, nil); err != nil {
		session.Abort()
		return ferrors.AgentSession("prompt planning session for %s: %v", taskID, err)
	}

	select {
	case <-planSaved:
		session.Abort()
		return nil
	case err := <-terminal:
		return s.finishGuardedTurn(task, tc, err)
	case <-tc.ctx.Done():
		return s.finishGuardedTurn(task, tc, nil)
	}
}

// ExecuteTask runs the execution turn against the task's session, parking
// the task on irrecoverable failure (spec §4.5 "Execution run").
func (s *Supervisor) ExecuteTask(ctx context.Context, task *taskstore.Task, guardrails workspace.GuardrailConfig, prompt string, sink agentsession.ToolSink) error {
	taskID := task.Frontmatter.ID

	tc := newTurnCancellation(ctx, guardrails)
	instanceID, ok := s.registry.TryAcquire(taskID, task.Frontmatter.SessionFile, tc.stopAll)
	if !ok {
		return ferrors.GuardrailBreach("task %s already has an active supervised session", taskID)
	}
	defer s.registry.Release(taskID, instanceID)

	session, err := s.adapter.CreateSession(tc.ctx, agentsession.CreateOptions{ToolSink: sink})
	if err != nil {
		return ferrors.AgentSession("create execution session for %s: %v", taskID, err)
	}

	if sf := session.SessionFile(); sf != "" && sf != task.Frontmatter.SessionFile {
		if _, err := s.store.UpdateTask(task, taskstore.UpdateRequest{SessionFile: &sf}); err != nil {
			log.Printf("[SUPERVISOR] failed to persist session file for %s: %v", taskID, err)
		}
	}

	budget := newToolBudget(0) // execution has no tool-call budget, only planning does
	terminal := make(chan error, 1)
	unsubscribe := session.Subscribe(s.makeListener(instanceID, taskID, tc, guardrails, budget, terminal))
	defer unsubscribe()

	s.emit(taskID, activity.Entry{Type: activity.TypeSystemEvent, Event: activity.KindExecutionReliability, Message: "turn_start"})

	if err := session.Prompt(tc.ctx, prompt, nil); err != nil {
		session.Abort()
		return ferrors.AgentSession("prompt execution session for %s: %v", taskID, err)
	}

	select {
	case err := <-terminal:
		return s.finishGuardedTurn(task, tc, err)
	case <-tc.ctx.Done():
		return s.finishGuardedTurn(task, tc, nil)
	}
}

// finishGuardedTurn classifies how a turn ended (naturally vs a tripped
// watchdog) and emits the appropriate telemetry, per spec §4.5's
// "On trip" behaviour and the "late-event suppression" invariant.
func (s *Supervisor) finishGuardedTurn(task *taskstore.Task, tc *turnCancellation, terminalErr error) error {
	taskID := task.Frontmatter.ID
	cause := tc.Cause()
	tc.stopAll()

	if cause == stallNone {
		if terminalErr != nil {
			s.emit(taskID, activity.Entry{Type: activity.TypeSystemEvent, Event: activity.KindError, Message: fmt.Sprintf("Agent turn failed: %v", terminalErr)})
			reason := "awaiting user input after agent error"
			blocked := taskstore.BlockedState{IsBlocked: true, Reason: reason}
			s.store.UpdateTask(task, taskstore.UpdateRequest{Blocked: &blocked})
			s.notifyParked(taskID, reason)
			return ferrors.AgentSession("%v", terminalErr)
		}
		s.emit(taskID, activity.Entry{Type: activity.TypeSystemEvent, Event: activity.KindExecutionReliability, Message: "turn_end"})
		return nil
	}

	s.emit(taskID, activity.Entry{
		Type: activity.TypeSystemEvent, Event: activity.KindExecutionReliability,
		Message:  "turn_stall_recovered",
		Metadata: map[string]interface{}{"stallPhase": string(cause)},
	})
	s.emit(taskID, activity.Entry{Type: activity.TypeSystemEvent, Event: activity.KindExecutionReliability, Message: "turn_end"})

	reason := "awaiting user input after guardrail breach: " + string(cause)
	blocked := taskstore.BlockedState{IsBlocked: true, Reason: reason}
	s.store.UpdateTask(task, taskstore.UpdateRequest{Blocked: &blocked})
	s.notifyParked(taskID, reason)

	return ferrors.GuardrailBreach("turn cancelled by %s watchdog", cause)
}

// notifyParked surfaces a parked task outside the activity stream; a
// notifier failure (or none configured) never affects the turn outcome.
func (s *Supervisor) notifyParked(taskID, reason string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyTaskNeedsInput(s.workspaceID, taskID, "Task needs input", reason); err != nil {
		log.Printf("[SUPERVISOR] notify parked task %s failed: %v", taskID, err)
	}
}

// makeListener builds the engine-event -> activity/broadcast translator
// described in spec §4.5. Events are tagged with instanceID and dropped if
// a newer supervisor instance has since taken over the task (late-event
// suppression).
func (s *Supervisor) makeListener(instanceID uint64, taskID string, tc *turnCancellation, guardrails workspace.GuardrailConfig, budget *toolBudget, terminal chan<- error) agentsession.Listener {
	var firstTextSeen bool
	start := time.Now()

	return func(e agentsession.Event) {
		s.registry.mu.Lock()
		current, ok := s.registry.active[taskID]
		s.registry.mu.Unlock()
		if !ok || current.instanceID != instanceID {
			return // late event after this instance was released or superseded
		}

		switch e.Type {
		case agentsession.EventAgentStart:
			s.emit(taskID, activity.Entry{Type: activity.TypeSystemEvent, Event: activity.KindExecutionReliability, Message: "turn_start"})

		case agentsession.EventMessageStart:
			tc.armStreamSilence(guardrails)

		case agentsession.EventMessageUpdate:
			if e.AssistantMessageEvent == agentsession.TextDelta {
				tc.onAssistantText()
				if !firstTextSeen {
					firstTextSeen = true
					tc.onFirstEvent(guardrails)
					s.emit(taskID, activity.Entry{
						Type: activity.TypeSystemEvent, Event: activity.KindExecutionReliability,
						Message: "first_token", Metadata: map[string]interface{}{"timeToFirstTokenMs": time.Since(start).Milliseconds()},
					})
				}
			}

		case agentsession.EventToolExecStart:
			s.emit(taskID, activity.Entry{Type: activity.TypeChatMessage, Role: activity.RoleAgent, Content: "tool:" + e.ToolName, Metadata: map[string]interface{}{"args": e.Args, "toolCallId": e.ToolCallID}})

		case agentsession.EventToolExecEnd:
			tc.disarmPostTool()
			tc.onToolExecutionEnd(guardrails)
			s.emit(taskID, activity.Entry{Type: activity.TypeChatMessage, Role: activity.RoleAgent, Content: e.Result, Metadata: map[string]interface{}{"toolName": e.ToolName, "isError": e.IsError}})
			if needsGrace, secondBreach := budget.recordToolEnd(e.ToolName); needsGrace {
				s.emit(taskID, activity.Entry{Type: activity.TypeSystemEvent, Event: activity.KindExecutionReliability, Message: "tool_budget_grace_turn"})
			} else if secondBreach {
				select {
				case terminal <- ferrors.GuardrailBreach("tool-call budget exceeded after grace turn"):
				default:
				}
			}

		case agentsession.EventAutoCompactStart:
			s.emit(taskID, activity.Entry{Type: activity.TypeSystemEvent, Event: activity.KindCompaction, Message: "compaction started: " + e.Reason})

		case agentsession.EventAutoCompactEnd:
			outcome := "success"
			if e.Aborted {
				outcome = "aborted"
			} else if e.ErrorMessage != "" {
				outcome = "failed"
			}
			s.emit(taskID, activity.Entry{Type: activity.TypeSystemEvent, Event: activity.KindCompaction, Message: "compaction " + outcome})

		case agentsession.EventAutoRetryStart:
			s.emit(taskID, activity.Entry{Type: activity.TypeSystemEvent, Event: activity.KindProviderRetry, Message: fmt.Sprintf("retry %d/%d: %s", e.Attempt, e.MaxAttempts, e.ErrorMessage)})

		case agentsession.EventAutoRetryEnd:
			s.emit(taskID, activity.Entry{Type: activity.TypeSystemEvent, Event: activity.KindProviderRetry, Message: fmt.Sprintf("retry attempt %d finished", e.Attempt)})

		case agentsession.EventMessageEnd:
			if e.Message != nil && e.Message.Usage != nil {
				u := e.Message.Usage
				sample := taskstore.UsageSample{
					Provider:     e.Message.Provider,
					ModelID:      e.Message.Model,
					InputTokens:  u.InputTokens,
					OutputTokens: u.OutputTokens,
					CacheReadTokens:  u.CacheReadTokens,
					CacheWriteTokens: u.CacheWriteTokens,
					TotalTokens:  u.TotalTokens,
					Cost:         u.Cost,
				}
				if task, err := s.store.GetByID(taskID); err == nil {
					if _, err := s.store.UpdateTask(task, taskstore.UpdateRequest{UsageSample: &sample}); err != nil {
						log.Printf("[SUPERVISOR] usage merge failed for task %s: %v", taskID, err)
					}
				}
			}
			if e.Message != nil && e.Message.StopReason == "length" {
				s.emit(taskID, activity.Entry{Type: activity.TypeSystemEvent, Event: activity.KindExecutionReliability, Message: "length_stop_grace_turn"})
			}

		case agentsession.EventTurnEnd:
			if e.Message != nil && e.Message.StopReason == "error" {
				select {
				case terminal <- ferrors.AgentSession("%s", e.Message.ErrorMessage):
				default:
				}
				return
			}
			select {
			case terminal <- nil:
			default:
			}
		}
	}
}

// StopTaskExecution cancels the active session for a task; idempotent and
// a no-op (no state change, no activity entry) if none is active, per
// invariant #8.
func (s *Supervisor) StopTaskExecution(taskID string) bool {
	if !s.registry.Cancel(taskID) {
		return false
	}
	s.emit(taskID, activity.Entry{Type: activity.TypeSystemEvent, Event: activity.KindExecutionReliability, Message: "turn_end"})
	return true
}

// SteerTask records a steering instruction for the task's active session,
// replacing any pending one; TakeSteerInstruction hands it out. Nothing in
// this package adds it to a prompt. Requires an active session; returns
// NotFound otherwise.
func (s *Supervisor) SteerTask(taskID, instruction string) error {
	if !s.registry.IsLive(taskID) {
		return ferrors.NotFound("task %s has no active session to steer", taskID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steer[taskID] = instruction
	return nil
}

// TakeSteerInstruction returns and clears any pending steering instruction
// for taskID, for the caller to prepend to the next prompt turn.
func (s *Supervisor) TakeSteerInstruction(taskID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	instr, ok := s.steer[taskID]
	if ok {
		delete(s.steer, taskID)
	}
	return instr, ok
}

// FollowUpTask queues a message for taskID and reports whether a session
// is currently live; TakeFollowUps hands the queue out. Neither this
// package nor the queue manager delivers queued messages or starts a turn
// for them.
func (s *Supervisor) FollowUpTask(taskID, message string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.followUp[taskID] = append(s.followUp[taskID], message)
	return s.registry.IsLive(taskID)
}

// TakeFollowUps returns and clears any messages queued for taskID.
func (s *Supervisor) TakeFollowUps(taskID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.followUp[taskID]
	delete(s.followUp, taskID)
	return msgs
}
