package statemachine

import (
	"github.com/felixgeelhaar/statekit"
)

// recordTransition moves the context to the target state. Actions receive
// **Context because the machine context is itself a pointer.
func recordTransition(ctx **Context, evt statekit.Event) {
	if ctx == nil || *ctx == nil {
		return
	}

	c := *ctx
	to := stateFromEventType(evt.Type)
	if payload, ok := evt.Payload.(TransitionPayload); ok && payload.ToState != "" {
		to = payload.ToState
	}

	c.Previous = c.Current
	c.Current = to
}
