package external

import "github.com/taskfactory/daemon/internal/activity"

// Priority constants, preserved from the event-priority scheme external
// channels filter on.
const (
	PriorityCritical = 1
	PriorityHigh     = 2
	PriorityNormal   = 3
	PriorityLow      = 4
)

// priorityFor derives a filterable priority from an activity entry. Chat
// messages are always normal; system events are ranked by kind.
func priorityFor(entry activity.Entry) int {
	if entry.Type == activity.TypeChatMessage {
		return PriorityNormal
	}
	switch entry.Event {
	case activity.KindError, activity.KindIOError:
		return PriorityCritical
	case activity.KindStall, activity.KindProviderRetry, activity.KindExecutionReliability:
		return PriorityHigh
	case activity.KindSlowConsumerDropped:
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

func priorityString(priority int) string {
	switch priority {
	case PriorityCritical:
		return "Critical"
	case PriorityHigh:
		return "High"
	case PriorityNormal:
		return "Normal"
	case PriorityLow:
		return "Low"
	default:
		return "Unknown"
	}
}
