package platform

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel error kinds for the interaction and transition layers. Drivers
// return them (wrapped) so the guard and controller can classify failures
// with errors.Is instead of string matching.
var (
	// ErrNotFound means the locator matched nothing. It is structural: the
	// page or the selector configuration is wrong, so it is never retried.
	ErrNotFound = errors.New("locator matched no element")

	// ErrStaleReference means a resolved element detached from the live page
	// between resolution and use. Recovery is a full re-resolution, never a
	// reuse of the dead handle.
	ErrStaleReference = errors.New("stale element reference")

	// ErrInteractionBlocked means another element intercepted the input,
	// typically an overlay or a loader that has not finished leaving.
	ErrInteractionBlocked = errors.New("interaction blocked by overlapping element")

	// ErrNotReady means the element did not reach its readiness predicate
	// within the configured wait window.
	ErrNotReady = errors.New("element not ready within wait window")

	// ErrAmbiguousContext means more than one detection signal matched at
	// once. The classifier fails safe to Unknown and never guesses.
	ErrAmbiguousContext = errors.New("ambiguous context: multiple detection signals matched")

	// ErrUnexpectedContext means a transition landed on a portal that is
	// neither the source nor the target. The whole transition attempt is
	// retried against the transition budget.
	ErrUnexpectedContext = errors.New("session landed in unexpected context")

	// ErrNoSignal is the internal marker for a classification pass in which
	// no signal matched, allowing the short re-check loop to run before the
	// classifier settles on Unknown.
	ErrNoSignal = errors.New("no detection signal matched")
)

// Retryable reports whether err is a transient kind that may be absorbed by
// a retry loop. Structural kinds (ErrNotFound, ErrAmbiguousContext) and
// context cancellation or deadline expiry are terminal and propagate
// immediately.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch {
	case errors.Is(err, ErrStaleReference),
		errors.Is(err, ErrInteractionBlocked),
		errors.Is(err, ErrNotReady),
		errors.Is(err, ErrUnexpectedContext),
		errors.Is(err, ErrNoSignal):
		return true
	}
	return false
}

// ExhaustedError is the terminal failure of a retry-wrapped operation. It
// carries the attempt count and the last underlying error for diagnostics.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry budget exhausted after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap exposes the last underlying error so callers can keep classifying
// with errors.Is through the exhaustion boundary.
func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// TransitionError is the terminal failure of an ensure call. The store keeps
// its last confirmed value; the error carries everything needed for offline
// debugging.
type TransitionError struct {
	From     Context
	Target   Context
	Attempts int
	History  []TransitionRecord
	Err      error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition %s -> %s failed after %d attempts: %v",
		e.From, e.Target, e.Attempts, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// DeadlineError wraps context expiry so waits and sleeps abort with a clear
// terminal kind instead of being misread as a flaky element.
type DeadlineError struct {
	Op      string
	Elapsed time.Duration
	Err     error
}

func (e *DeadlineError) Error() string {
	return fmt.Sprintf("%s aborted by caller deadline after %s: %v", e.Op, e.Elapsed, e.Err)
}

func (e *DeadlineError) Unwrap() error {
	return e.Err
}
