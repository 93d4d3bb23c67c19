package taskstore

import (
	"time"

	"github.com/taskfactory/daemon/internal/ferrors"
)

// normalizePhase migrates legacy on-disk phase values (Open Question #1).
func normalizePhase(p Phase) Phase {
	if _, ok := validTransitions[p]; ok {
		return p
	}
	if mapped, ok := legacyPhases[string(p)]; ok {
		return mapped
	}
	return PhaseBacklog
}

// TransitionResult is the outcome of canMoveToPhase.
type TransitionResult struct {
	Allowed bool
	Reason  string
}

// canMoveToPhase reports whether moving task to target is allowed per the
// transition table and phase-specific guards in spec §4.1.
func canMoveToPhase(t *Task, target Phase) TransitionResult {
	from := normalizePhase(t.Frontmatter.Phase)

	allowedTargets, ok := validTransitions[from]
	if !ok {
		return TransitionResult{false, "unknown current phase"}
	}
	reachable := false
	for _, p := range allowedTargets {
		if p == target {
			reachable = true
			break
		}
	}
	if !reachable {
		return TransitionResult{false, "transition " + string(from) + " -> " + string(target) + " is not permitted"}
	}

	// Target ready, or backlog->executing directly, requires at least one
	// acceptance criterion unless planning was explicitly skipped.
	if (target == PhaseReady || (from == PhaseBacklog && target == PhaseExecuting)) &&
		!t.Frontmatter.PlanningSkipped && len(t.Frontmatter.AcceptanceCriteria) == 0 {
		return TransitionResult{false, "at least one acceptance criterion is required"}
	}

	if target == PhaseExecuting && t.Frontmatter.PlanningStatus == PlanningRunning && t.Frontmatter.Plan == nil {
		return TransitionResult{false, "planning still running"}
	}

	return TransitionResult{true, ""}
}

// applyPhaseBookkeeping updates timestamps and time-accounting fields for a
// transition already determined to be allowed.
func applyPhaseBookkeeping(t *Task, from, to Phase, now time.Time) {
	switch {
	case to == PhaseReady && from == PhaseComplete:
		// re-open: clear completion-time fields
		t.Frontmatter.Completed = nil
		t.Frontmatter.Started = nil
		t.Frontmatter.CycleTime = nil
		t.Frontmatter.LeadTime = nil
	case to == PhaseComplete && from == PhaseArchived:
		// restoring archived->complete preserves existing completion metadata
	case to == PhaseExecuting && t.Frontmatter.Started == nil:
		t.Frontmatter.Started = &now
	case to == PhaseComplete:
		t.Frontmatter.Completed = &now
		leadSecs := now.Sub(t.Frontmatter.Created).Seconds()
		t.Frontmatter.LeadTime = &leadSecs
		if t.Frontmatter.Started != nil {
			cycleSecs := now.Sub(*t.Frontmatter.Started).Seconds()
			t.Frontmatter.CycleTime = &cycleSecs
		}
	}
}

// moveTaskToPhase appends a history entry and updates phase bookkeeping.
func (s *Store) moveTaskToPhase(t *Task, target Phase, actor Actor, reason string) error {
	res := canMoveToPhase(t, target)
	if !res.Allowed {
		return ferrors.InvalidTransition("%s", res.Reason)
	}

	from := normalizePhase(t.Frontmatter.Phase)
	now := time.Now()

	applyPhaseBookkeeping(t, from, target, now)

	t.Frontmatter.Phase = target
	t.Frontmatter.Updated = now
	t.History = append(t.History, PhaseTransition{
		From: from, To: target, Timestamp: now, Actor: actor, Reason: reason,
	})

	// insert at head of the target phase
	min := 0
	for _, other := range s.snapshotPhase(t.FilePath, target) {
		if other.Frontmatter.Order < min {
			min = other.Frontmatter.Order
		}
	}
	t.Frontmatter.Order = min - 1

	if target == PhaseArchived {
		s.snapshotConversation(t)
	}

	return s.write(t)
}
