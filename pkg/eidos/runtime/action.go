// Package runtime – action.go implements the action registry and the
// dispatcher that executes the action names a parsed model response asks
// for. Actions are the only way the agent produces side effects; all
// user-visible output flows through the delivery callback.
package runtime

import (
	"context"
	"fmt"
	"time"
)

// Callback delivers generated content to the originating channel adapter.
// The runtime never talks to a platform SDK directly.
type Callback func(ctx context.Context, content *Content) error

// ActionValidator reports whether an action applies to the message.
type ActionValidator func(ctx context.Context, rt *Runtime, msg *Memory) bool

// ActionHandler performs the action's side effect. Output intended for
// the user must go through cb, not the return value.
type ActionHandler func(ctx context.Context, rt *Runtime, msg *Memory, st *State, resp *Content, cb Callback) error

// Action is a named, validated, side-effecting handler the model can
// invoke by listing its name in a response.
type Action struct {
	// Name is the registry key, conventionally UPPER_SNAKE (e.g. "REPLY").
	Name string

	// Description is surfaced to the model in prompt templates.
	Description string

	// Validate gates execution against the incoming message. Nil means
	// always valid.
	Validate ActionValidator

	// Handler performs the action. Handlers own any internal retry.
	Handler ActionHandler
}

// ProcessActions executes the action list of each response memory, in
// listed order. Execution is sequential: later actions may depend on
// side effects of earlier ones, and interleaving callback output would
// be non-deterministic.
//
// Unknown action names are skipped with a warning. A handler error or
// panic is logged and the remaining actions still run. ProcessActions
// returns once every action has been attempted; there is no aggregate
// success value beyond the logs.
func (r *Runtime) ProcessActions(ctx context.Context, msg *Memory, responses []*Memory, st *State, cb Callback) {
	for _, resp := range responses {
		for _, name := range resp.Content.Actions {
			action, ok := r.actionIndex[name]
			if !ok {
				r.logger.Warn("no handler registered for action, skipping",
					"action", name,
				)
				continue
			}

			if action.Validate != nil && !action.Validate(ctx, r, msg) {
				r.logger.Debug("action validator rejected message",
					"action", name,
				)
				continue
			}

			start := time.Now()
			r.Events.Emit(Event{
				Type: EventActionStarted,
				Data: map[string]any{"action": name, "message_id": msg.ID.String()},
			})

			err := r.runAction(ctx, action, msg, st, &resp.Content, cb)
			if err != nil {
				r.logger.Error("action failed",
					"action", name,
					"error", err,
					"elapsed_ms", time.Since(start).Milliseconds(),
				)
			}

			r.Events.Emit(Event{
				Type: EventActionCompleted,
				Data: map[string]any{
					"action":  name,
					"success": err == nil,
				},
			})
		}
	}
}

// runAction invokes one handler with panic isolation, so a crashing
// action cannot abort its siblings.
func (r *Runtime) runAction(ctx context.Context, a *Action, msg *Memory, st *State, resp *Content, cb Callback) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("action %q panicked: %v", a.Name, rec)
		}
	}()
	return a.Handler(ctx, r, msg, st, resp, cb)
}
