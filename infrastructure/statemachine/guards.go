package statemachine

import (
	"github.com/felixgeelhaar/statekit"

	"github.com/felixgeelhaar/eventstore-go/domain/event"
)

// guardCanTransition checks the transition table.
func guardCanTransition(ctx *Context, evt statekit.Event) bool {
	if ctx == nil || ctx.Transitions == nil {
		return false
	}
	return ctx.Transitions.CanTransition(ctx.Current, stateFromEventType(evt.Type))
}

// guardModeConfigured rejects deletions without a known retention mode.
func guardModeConfigured(ctx *Context, evt statekit.Event) bool {
	if !guardCanTransition(ctx, evt) {
		return false
	}
	_, err := event.ParseDeletionMode(string(ctx.Mode))
	return err == nil
}

// stateFromEventType derives the target state from an event type.
func stateFromEventType(eventType statekit.EventType) event.State {
	switch eventType {
	case EventTrash:
		return event.StateTrashed
	case EventRestore:
		return event.StateLive
	case EventDelete:
		return event.StateTombstoned
	default:
		return event.State(eventType)
	}
}

// Transitions is the table of allowed lifecycle moves.
type Transitions struct {
	allowed map[event.State][]event.State
}

// DefaultTransitions returns the event lifecycle: trash and restore freely,
// delete from either live state, never leave a tombstone.
func DefaultTransitions() *Transitions {
	return &Transitions{
		allowed: map[event.State][]event.State{
			event.StateLive:    {event.StateTrashed, event.StateTombstoned},
			event.StateTrashed: {event.StateLive, event.StateTombstoned},
		},
	}
}

// CanTransition reports whether from may move to to.
func (t *Transitions) CanTransition(from, to event.State) bool {
	for _, s := range t.allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves the state.
func (t *Transitions) IsTerminal(s event.State) bool {
	return len(t.allowed[s]) == 0
}
