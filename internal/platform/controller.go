package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SwitchPlan describes the portal selector the controller drives: the
// control that opens the selector and the per-target option entries.
type SwitchPlan struct {
	Open    Locator
	Options map[Context]Locator
}

// ControllerConfig carries the budgets and the switch plan for one session's
// controller.
type ControllerConfig struct {
	// TransitionBudget bounds whole ensure attempts; it is the largest
	// budget in the subsystem.
	TransitionBudget Budget
	// InteractionBudget bounds the individual guarded clicks inside one
	// attempt.
	InteractionBudget Budget
	Plan              SwitchPlan
}

// Controller is the transition state machine over Context. It is the only
// writer of the session's Store, and it writes only after a confirming
// classification.
type Controller struct {
	drv   Driver
	cls   *Classifier
	guard *Guard
	store *Store
	cfg   ControllerConfig
	log   *zap.Logger
}

// NewController wires the controller over one session's collaborators.
func NewController(drv Driver, cls *Classifier, guard *Guard, store *Store, cfg ControllerConfig, log *zap.Logger) *Controller {
	return &Controller{
		drv:   drv,
		cls:   cls,
		guard: guard,
		store: store,
		cfg:   cfg,
		log:   log.Named("transition"),
	}
}

// Current returns the last confirmed context.
func (t *Controller) Current() Context {
	return t.store.Current()
}

// History returns the append-only transition record sequence.
func (t *Controller) History() []TransitionRecord {
	return t.store.History()
}

// Ensure moves the session to target and confirms it there. When the store
// already claims the target and a fresh classification agrees, it returns
// without touching the page. Otherwise it drives the switch plan under the
// transition budget; every failure mode leaves the store at its last
// confirmed value. Budget exhaustion is terminal and surfaces a
// *TransitionError carrying the attempt history; caller deadline expiry is
// terminal and surfaces the deadline error unchanged.
func (t *Controller) Ensure(ctx context.Context, target Context) error {
	if !target.Known() {
		return fmt.Errorf("ensure: %s is not a reachable target", target)
	}

	ctx, release := t.drv.AcquireOpLock(ctx)
	defer release()

	prior := t.store.Current()
	if prior == target {
		got, err := t.cls.Classify(ctx)
		if err == nil && got == target {
			t.log.Debug("Already on target context, skipping navigation",
				zap.Stringer("context", target))
			return nil
		}
		if err != nil && !errors.Is(err, ErrAmbiguousContext) {
			return fmt.Errorf("ensure %s: confirming current context: %w", target, err)
		}
		t.log.Warn("Store claims target but page disagrees, transitioning",
			zap.Stringer("stored", prior),
			zap.Stringer("classified", got))
	}

	t.log.Info("Transitioning context",
		zap.Stringer("from", prior),
		zap.Stringer("to", target))

	attempts, err := Do(ctx, t.cfg.TransitionBudget, func(ctx context.Context) error {
		return t.attempt(ctx, prior, target)
	})
	if err != nil {
		t.store.record(TransitionRecord{
			From: prior, To: target, Attempts: attempts,
			Outcome: OutcomeFailure, At: time.Now(),
		})
		recordTransition(target, OutcomeFailure)

		var dl *DeadlineError
		if errors.As(err, &dl) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			t.log.Error("Transition aborted by caller deadline",
				zap.Stringer("target", target),
				zap.Int("attempts", attempts),
				zap.Error(err))
			return fmt.Errorf("ensure %s: %w", target, err)
		}
		t.log.Error("Transition failed, store keeps last confirmed context",
			zap.Stringer("from", prior),
			zap.Stringer("target", target),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return &TransitionError{
			From:     prior,
			Target:   target,
			Attempts: attempts,
			History:  t.store.History(),
			Err:      err,
		}
	}

	t.store.record(TransitionRecord{
		From: prior, To: target, Attempts: attempts,
		Outcome: OutcomeSuccess, At: time.Now(),
	})
	t.store.set(target)
	recordTransition(target, OutcomeSuccess)
	t.log.Info("Transition confirmed",
		zap.Stringer("context", target),
		zap.Int("attempts", attempts))
	return nil
}

// attempt is one full transition pass: confirm current reality, drive the
// selector, wait for the page to settle, re-classify. Landing anywhere other
// than the target, the prior context included, fails the attempt as a
// retryable transition error.
func (t *Controller) attempt(ctx context.Context, prior, target Context) error {
	current, err := t.cls.Classify(ctx)
	if err != nil {
		return err
	}
	if current == target {
		// The page is already there; only the confirmation was missing.
		return nil
	}

	if _, err := t.guard.Perform(ctx, t.cfg.Plan.Open, Click(), t.cfg.InteractionBudget); err != nil {
		return fmt.Errorf("opening portal selector: %w", err)
	}
	option, ok := t.cfg.Plan.Options[target]
	if !ok {
		return fmt.Errorf("no selector option configured for %s", target)
	}
	if _, err := t.guard.Perform(ctx, option, Click(), t.cfg.InteractionBudget); err != nil {
		return fmt.Errorf("activating %s option: %w", target, err)
	}

	if err := t.drv.WaitReady(ctx); err != nil {
		return fmt.Errorf("waiting for %s to render: %w", target, err)
	}

	got, err := t.cls.Classify(ctx)
	if err != nil {
		return err
	}
	switch got {
	case target:
		return nil
	case prior:
		return fmt.Errorf("context unchanged, still on %s: %w", got, ErrUnexpectedContext)
	default:
		return fmt.Errorf("landed on %s instead of %s: %w", got, target, ErrUnexpectedContext)
	}
}
