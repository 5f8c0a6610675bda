package platform

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Budget bounds a retry loop. It is immutable configuration per operation
// class; only the attempt counter advances, and every delay is computed from
// the formula, never from accumulated mutable state.
type Budget struct {
	// MaxAttempts is the total number of executions allowed, the first
	// attempt included.
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// Validate rejects budgets that would degenerate into a zero-attempt or
// unbounded loop.
func (b Budget) Validate() error {
	if b.MaxAttempts < 1 {
		return fmt.Errorf("retry budget: max_attempts must be >= 1, got %d", b.MaxAttempts)
	}
	if b.BaseDelay < 0 {
		return fmt.Errorf("retry budget: base_delay must not be negative, got %s", b.BaseDelay)
	}
	if b.MaxDelay < b.BaseDelay {
		return fmt.Errorf("retry budget: max_delay %s is below base_delay %s", b.MaxDelay, b.BaseDelay)
	}
	return nil
}

// Delay returns the backoff before the retry following the given number of
// completed failed attempts: min(base * multiplier^failed, max). A multiplier
// below 1 is treated as 1, which yields a fixed delay.
func (b Budget) Delay(failed int) time.Duration {
	if failed < 0 {
		failed = 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := time.Duration(float64(b.BaseDelay) * math.Pow(mult, float64(failed)))
	if d > b.MaxDelay || d < 0 {
		d = b.MaxDelay
	}
	return d
}

// sleep is swapped in tests to observe the delay sequence without waiting.
var sleep = hesitate

// hesitate pauses for d, aborting early when the context ends.
func hesitate(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs op under the budget. Retryable failures sleep the formula delay and
// try again; non-retryable failures and context expiry propagate immediately.
// The returned count is the number of executions performed. When the budget
// runs out the error is an *ExhaustedError carrying the last underlying
// failure.
func Do(ctx context.Context, b Budget, op func(ctx context.Context) error) (int, error) {
	attempts := b.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	start := time.Now()
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, &DeadlineError{Op: "retry", Elapsed: time.Since(start), Err: err}
		}
		err := op(ctx)
		if err == nil {
			return attempt, nil
		}
		if !Retryable(err) {
			return attempt, err
		}
		if attempt >= attempts {
			return attempt, &ExhaustedError{Attempts: attempt, Last: err}
		}
		recordRetryDelay()
		if serr := sleep(ctx, b.Delay(attempt-1)); serr != nil {
			return attempt, &DeadlineError{Op: "retry backoff", Elapsed: time.Since(start), Err: serr}
		}
	}
}
