package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/taskfactory/daemon/internal/workspace"
)

// stallSignal identifies which watchdog tripped, for the accompanying
// system-event kind (spec §4.5 "Late-event suppression" / §9 "Watchdog
// composition").
type stallSignal string

const (
	stallNone          stallSignal = ""
	stallNoFirstEvent  stallSignal = "no_first_event"
	stallPostTool      stallSignal = "post_tool"
	stallStreamSilence stallSignal = "stream_silence"
	stallMaxTurn       stallSignal = "max_turn_duration"
)

// turnCancellation composes the max-turn-duration timer and the three
// independent stall watchdogs into one cancellation token: the first timer
// to trip wins and records its cause, per spec §9's "Watchdog composition"
// design note. GuardrailConfig.TimeoutMs is not armed here, so a run whose
// config sets no MaxTurnDurationMs has no overall time limit.
type turnCancellation struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	cause  stallSignal
	tripOnce sync.Once

	noFirstEvent  *time.Timer
	postTool      *time.Timer
	streamSilence *time.Timer
	maxTurn       *time.Timer
}

func newTurnCancellation(parent context.Context, g workspace.GuardrailConfig) *turnCancellation {
	ctx, cancel := context.WithCancel(parent)
	tc := &turnCancellation{ctx: ctx, cancel: cancel}

	if g.NoFirstEventMs > 0 {
		tc.noFirstEvent = time.AfterFunc(time.Duration(g.NoFirstEventMs)*time.Millisecond, func() { tc.trip(stallNoFirstEvent) })
	}
	if g.MaxTurnDurationMs > 0 {
		tc.maxTurn = time.AfterFunc(time.Duration(g.MaxTurnDurationMs)*time.Millisecond, func() { tc.trip(stallMaxTurn) })
	}
	return tc
}

func (tc *turnCancellation) trip(cause stallSignal) {
	tc.tripOnce.Do(func() {
		tc.mu.Lock()
		tc.cause = cause
		tc.mu.Unlock()
		tc.cancel()
	})
}

// onFirstEvent disarms the no-first-event watchdog and arms stream-silence.
func (tc *turnCancellation) onFirstEvent(g workspace.GuardrailConfig) {
	if tc.noFirstEvent != nil {
		tc.noFirstEvent.Stop()
	}
	tc.armStreamSilence(g)
}

func (tc *turnCancellation) armStreamSilence(g workspace.GuardrailConfig) {
	if g.StreamSilenceMs <= 0 {
		return
	}
	if tc.streamSilence != nil {
		tc.streamSilence.Stop()
	}
	tc.streamSilence = time.AfterFunc(time.Duration(g.StreamSilenceMs)*time.Millisecond, func() { tc.trip(stallStreamSilence) })
}

// onAssistantText disarms stream-silence (text is flowing).
func (tc *turnCancellation) onAssistantText() {
	if tc.streamSilence != nil {
		tc.streamSilence.Stop()
	}
}

// onToolExecutionEnd arms the post-tool-stall watchdog.
func (tc *turnCancellation) onToolExecutionEnd(g workspace.GuardrailConfig) {
	if g.PostToolStallMs <= 0 {
		return
	}
	if tc.postTool != nil {
		tc.postTool.Stop()
	}
	tc.postTool = time.AfterFunc(time.Duration(g.PostToolStallMs)*time.Millisecond, func() { tc.trip(stallPostTool) })
}

func (tc *turnCancellation) disarmPostTool() {
	if tc.postTool != nil {
		tc.postTool.Stop()
	}
}

// Cause returns the watchdog that tripped, or stallNone if the turn ended
// naturally / was explicitly cancelled by the caller.
func (tc *turnCancellation) Cause() stallSignal {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.cause
}

func (tc *turnCancellation) stopAll() {
	for _, t := range []*time.Timer{tc.noFirstEvent, tc.postTool, tc.streamSilence, tc.maxTurn} {
		if t != nil {
			t.Stop()
		}
	}
	tc.cancel()
}

// toolBudget tracks tool_execution_end events (excluding "read") against a
// configured cap, and whether the one allowed grace turn has been used.
type toolBudget struct {
	max         int
	count       int
	graceGiven  bool
	graceFailed bool
}

func newToolBudget(max int) *toolBudget { return &toolBudget{max: max} }

// recordToolEnd counts a non-"read" tool completion. It returns
// needsGrace=true the first time the budget is exceeded (caller should
// issue the single grace turn), and secondBreach=true if the budget is
// exceeded again after the grace turn was already granted (spec §8
// boundary behaviour: "a second breach fails the planning run").
func (b *toolBudget) recordToolEnd(toolName string) (needsGrace, secondBreach bool) {
	if toolName == "read" {
		return false, false
	}
	b.count++
	if b.max <= 0 || b.count <= b.max {
		return false, false
	}
	if !b.graceGiven {
		b.graceGiven = true
		return true, false
	}
	b.graceFailed = true
	return false, true
}
