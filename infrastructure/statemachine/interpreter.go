package statemachine

import (
	"fmt"
	"time"

	"github.com/felixgeelhaar/statekit"

	"github.com/felixgeelhaar/eventstore-go/domain/event"
)

// TransitionPayload carries additional data with a transition event.
type TransitionPayload struct {
	ToState event.State
	Reason  string
}

// Interpreter wraps the statekit interpreter for one event.
type Interpreter struct {
	interp *statekit.Interpreter[*Context]
	ctx    *Context
}

// NewInterpreter creates a new interpreter for the lifecycle machine.
func NewInterpreter(machine *statekit.MachineConfig[*Context], ctx *Context) *Interpreter {
	interp := statekit.NewInterpreter(machine)
	interp.UpdateContext(func(c **Context) {
		*c = ctx
	})
	return &Interpreter{
		interp: interp,
		ctx:    ctx,
	}
}

// Start enters the initial (live) state.
func (i *Interpreter) Start() {
	i.interp.Start()
	i.ctx.Current = StateFromMachine(i.interp.State().Value)
}

// Stop stops the interpreter.
func (i *Interpreter) Stop() {
	i.interp.Stop()
}

// State returns the current state.
func (i *Interpreter) State() event.State {
	return StateFromMachine(i.interp.State().Value)
}

// ResumeFrom restores the interpreter to the stored state of an event.
func (i *Interpreter) ResumeFrom(state event.State) error {
	snapshot := statekit.Snapshot[*Context]{
		MachineID:    MachineID,
		CurrentState: statekit.StateID(state),
		Context:      i.ctx,
		CreatedAt:    time.Now(),
	}
	if err := i.interp.Restore(snapshot); err != nil {
		return fmt.Errorf("failed to restore state: %w", err)
	}
	i.ctx.Current = state
	return nil
}

// Transition attempts to move to the target state.
func (i *Interpreter) Transition(to event.State, reason string) (err error) {
	if !i.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", event.ErrInvalidTransition, i.ctx.Current, to)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", event.ErrInvalidTransition, r)
		}
	}()

	i.interp.Send(statekit.Event{
		Type:    EventForTransition(to),
		Payload: TransitionPayload{ToState: to, Reason: reason},
	})

	if got := i.State(); got != to {
		return fmt.Errorf("%w: %s -> %s rejected", event.ErrInvalidTransition, i.ctx.Current, to)
	}
	i.ctx.Current = to
	return nil
}

// CanTransition checks if a move to the target state is possible.
func (i *Interpreter) CanTransition(to event.State) bool {
	if to == event.StateTombstoned {
		if _, err := event.ParseDeletionMode(string(i.ctx.Mode)); err != nil {
			return false
		}
	}
	return i.ctx.Transitions.CanTransition(i.ctx.Current, to)
}

// IsTerminal returns true once the event is tombstoned.
func (i *Interpreter) IsTerminal() bool {
	return i.interp.Done() || i.ctx.Transitions.IsTerminal(i.ctx.Current)
}

// Context returns the interpreter context.
func (i *Interpreter) Context() *Context {
	return i.ctx
}

// Matches checks if the current state matches the given state.
func (i *Interpreter) Matches(state event.State) bool {
	return i.interp.Matches(statekit.StateID(state))
}
