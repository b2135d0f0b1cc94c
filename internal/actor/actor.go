// Package actor is the durable-actor substrate: named single-writer state
// owners with one persisted alarm each and JSON RPC between them. Every
// account, group, receiver, and silence timer in the system is one actor.
package actor

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNoResult signals that an RPC method had no value for the request,
// the moral equivalent of HTTP 404. Handlers produce it by returning a
// nil result with a nil error; it is distinct from a handler failure.
var ErrNoResult = errors.New("no result")

// Handler is one actor's behavior.
// Params: cold-start load, method dispatch, and alarm callback.
// Returns: behavior contract implemented by each actor kind.
type Handler interface {
	// Load replays durable state into memory. It runs exactly once per
	// in-memory instance, before the first Handle or OnAlarm.
	Load(ctx context.Context) error
	// Handle dispatches one RPC method. A nil result with nil error maps
	// to ErrNoResult on the caller's side.
	Handle(ctx context.Context, method string, payload json.RawMessage) (any, error)
	// OnAlarm runs when the actor's persisted alarm fires. A returned
	// error reschedules the alarm after the runtime's retry delay.
	OnAlarm(ctx context.Context) error
}

// Factory builds one actor instance around its runtime-scoped state.
// Params: state handle bound to the actor's name.
// Returns: handler ready for Load.
type Factory func(state *State) Handler
