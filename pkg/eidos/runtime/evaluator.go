// Package runtime – evaluator.go implements post-response hooks that run
// after action dispatch, whether or not a reply was delivered. Used for
// reflection and bookkeeping that must also see ignored messages.
package runtime

import (
	"context"
	"fmt"
	"time"
)

// EvaluatorValidator reports whether an evaluator should run for the message.
type EvaluatorValidator func(ctx context.Context, rt *Runtime, msg *Memory) bool

// EvaluatorHandler performs the evaluator's work. didRespond reports
// whether a reply was actually delivered for this message.
type EvaluatorHandler func(ctx context.Context, rt *Runtime, msg *Memory, st *State, didRespond bool, responses []*Memory, cb Callback) error

// Evaluator is a named post-response hook.
type Evaluator struct {
	Name        string
	Description string

	// Validate gates execution. Nil means always run.
	Validate EvaluatorValidator

	// Handler performs the evaluation.
	Handler EvaluatorHandler
}

// Evaluate runs every registered evaluator in registration order.
// Failures are isolated exactly like action failures: logged, not
// propagated, not retried.
func (r *Runtime) Evaluate(ctx context.Context, msg *Memory, st *State, didRespond bool, cb Callback, responses []*Memory) {
	for _, ev := range r.evaluators {
		if ev.Validate != nil && !ev.Validate(ctx, r, msg) {
			continue
		}

		start := time.Now()
		err := r.runEvaluator(ctx, ev, msg, st, didRespond, responses, cb)
		if err != nil {
			r.logger.Error("evaluator failed",
				"evaluator", ev.Name,
				"error", err,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
		}

		r.Events.Emit(Event{
			Type: EventEvaluatorCompleted,
			Data: map[string]any{
				"evaluator":   ev.Name,
				"did_respond": didRespond,
				"success":     err == nil,
			},
		})
	}
}

func (r *Runtime) runEvaluator(ctx context.Context, ev *Evaluator, msg *Memory, st *State, didRespond bool, responses []*Memory, cb Callback) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("evaluator %q panicked: %v", ev.Name, rec)
		}
	}()
	return ev.Handler(ctx, r, msg, st, didRespond, responses, cb)
}
