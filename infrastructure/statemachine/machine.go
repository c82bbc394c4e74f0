// Package statemachine provides the statekit integration for the event
// lifecycle: live, trashed and tombstoned.
package statemachine

import (
	"github.com/felixgeelhaar/statekit"

	"github.com/felixgeelhaar/eventstore-go/domain/event"
)

// MachineID identifies the lifecycle statechart in snapshots.
const MachineID = "event-lifecycle"

// Context carries one event's transition through the state machine.
type Context struct {
	EventID     string
	Mode        event.DeletionMode
	Previous    event.State
	Current     event.State
	Transitions *Transitions
}

// NewContext creates a machine context for an event in the given state.
func NewContext(eventID string, current event.State, mode event.DeletionMode) *Context {
	return &Context{
		EventID:     eventID,
		Mode:        mode,
		Current:     current,
		Transitions: DefaultTransitions(),
	}
}

const (
	stateLive       statekit.StateID = statekit.StateID(event.StateLive)
	stateTrashed    statekit.StateID = statekit.StateID(event.StateTrashed)
	stateTombstoned statekit.StateID = statekit.StateID(event.StateTombstoned)
)

// Lifecycle events.
const (
	EventTrash   statekit.EventType = "TRASH"
	EventRestore statekit.EventType = "RESTORE"
	EventDelete  statekit.EventType = "DELETE"
)

// NewLifecycleMachine creates the event lifecycle statechart.
func NewLifecycleMachine() (*statekit.MachineConfig[*Context], error) {
	return statekit.NewMachine[*Context](MachineID).
		WithInitial(stateLive).
		WithContext(&Context{}).
		WithAction("recordTransition", recordTransition).
		WithGuard("canTransition", guardCanTransition).
		WithGuard("modeConfigured", guardModeConfigured).
		State(stateLive).
			On(EventTrash).Target(stateTrashed).Guard("canTransition").Do("recordTransition").
			On(EventDelete).Target(stateTombstoned).Guard("modeConfigured").Do("recordTransition").
			Done().
		State(stateTrashed).
			On(EventRestore).Target(stateLive).Guard("canTransition").Do("recordTransition").
			On(EventDelete).Target(stateTombstoned).Guard("modeConfigured").Do("recordTransition").
			Done().
		State(stateTombstoned).
			Final().
			Done().
		Build()
}

// EventForTransition returns the event driving a move to the target state.
func EventForTransition(to event.State) statekit.EventType {
	switch to {
	case event.StateTrashed:
		return EventTrash
	case event.StateLive:
		return EventRestore
	case event.StateTombstoned:
		return EventDelete
	default:
		return statekit.EventType(to)
	}
}

// StateFromMachine converts the machine state ID to the domain state.
func StateFromMachine(stateID statekit.StateID) event.State {
	return event.State(stateID)
}
