package resilience

import (
	"context"
	"errors"
	"fmt"
)

// ErrExhausted is returned by [Escalate] when every step failed with a
// retryable error.
var ErrExhausted = errors.New("all escalation steps exhausted")

// Step is one attempt in an escalation.
type Step[S any] struct {
	// Name labels the step in errors and callbacks.
	Name string

	// Value is handed to the attempt function.
	Value S
}

// Escalation configures [Escalate].
type Escalation struct {
	// Retryable reports whether an attempt's error allows moving on to the
	// next step. Errors it rejects are returned to the caller unchanged.
	Retryable func(error) bool

	// OnAttempt, if set, is called after every attempt with the step name and
	// the attempt's error (nil on success).
	OnAttempt func(ctx context.Context, name string, err error)
}

// Escalate runs try for each step in order and returns the first successful
// result. A non-retryable error stops the escalation at once. Context
// cancellation is checked before every step.
//
// When every step fails with a retryable error, the returned error wraps
// [ErrExhausted] and the last step's error.
func Escalate[S, R any](ctx context.Context, cfg Escalation, steps []Step[S], try func(context.Context, S) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for _, st := range steps {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		res, err := try(ctx, st.Value)
		if cfg.OnAttempt != nil {
			cfg.OnAttempt(ctx, st.Name, err)
		}
		if err == nil {
			return res, nil
		}
		if cfg.Retryable == nil || !cfg.Retryable(err) {
			return zero, err
		}
		lastErr = fmt.Errorf("%s: %w", st.Name, err)
	}
	if lastErr == nil {
		return zero, ErrExhausted
	}
	return zero, fmt.Errorf("%w: %w", ErrExhausted, lastErr)
}
