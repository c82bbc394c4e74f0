package statemachine

import (
	"fmt"

	"github.com/felixgeelhaar/statekit"

	"github.com/felixgeelhaar/eventstore-go/domain/event"
)

// Lifecycle validates state changes of stored events. The machine
// configuration is built once; each check runs a fresh interpreter.
type Lifecycle struct {
	machine *statekit.MachineConfig[*Context]
	mode    event.DeletionMode
}

// NewLifecycle builds the lifecycle machine for a deletion mode.
func NewLifecycle(mode event.DeletionMode) (*Lifecycle, error) {
	machine, err := NewLifecycleMachine()
	if err != nil {
		return nil, fmt.Errorf("failed to create lifecycle machine: %w", err)
	}
	return &Lifecycle{machine: machine, mode: mode}, nil
}

// Check validates moving an event from one state to another. Staying in a
// live state is always allowed; history records and tombstones never move.
func (l *Lifecycle) Check(eventID string, from, to event.State) error {
	if from == event.StateHistory || to == event.StateHistory {
		return fmt.Errorf("%w: history record %s is immutable", event.ErrInvalidTransition, eventID)
	}
	if from == to {
		if from == event.StateTombstoned {
			return fmt.Errorf("%w: %s is tombstoned", event.ErrInvalidTransition, eventID)
		}
		return nil
	}

	interp := NewInterpreter(l.machine, NewContext(eventID, from, l.mode))
	if err := interp.ResumeFrom(from); err != nil {
		return err
	}
	defer interp.Stop()
	return interp.Transition(to, "")
}
