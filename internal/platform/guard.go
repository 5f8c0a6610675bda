package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ActionKind enumerates the interactions the guard can perform.
type ActionKind uint8

const (
	ActionClick ActionKind = iota
	ActionRead
	ActionType
)

func (k ActionKind) String() string {
	switch k {
	case ActionClick:
		return "click"
	case ActionRead:
		return "read"
	case ActionType:
		return "type"
	default:
		return fmt.Sprintf("ActionKind(%d)", uint8(k))
	}
}

// Action describes one interaction. Text carries the input for ActionType.
type Action struct {
	Kind ActionKind
	Text string
}

// Click builds a click action.
func Click() Action { return Action{Kind: ActionClick} }

// Read builds a text read action.
func Read() Action { return Action{Kind: ActionRead} }

// Type builds a typing action that replaces the element's value with text.
func Type(text string) Action { return Action{Kind: ActionType, Text: text} }

// ActionOutcome is the result of a performed action. Text is filled for
// ActionRead.
type ActionOutcome struct {
	Text string
}

// GuardConfig tunes the wait discipline shared by every guarded interaction.
type GuardConfig struct {
	// ReadyTimeout bounds the readiness wait of a single attempt.
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`
	// SettleDelay is the extra pause taken after an intercepted input,
	// giving overlays and animations time to leave before the retry.
	SettleDelay time.Duration `mapstructure:"settle_delay"`
}

// Guard wraps every element interaction with the explicit-wait plus
// re-locate-before-use discipline. A locator is resolved to a fresh handle
// immediately before each action; nothing resolved before a wait boundary is
// ever used after it.
type Guard struct {
	drv Driver
	cfg GuardConfig
	log *zap.Logger
}

// NewGuard builds a guard over the driver.
func NewGuard(drv Driver, cfg GuardConfig, log *zap.Logger) *Guard {
	return &Guard{drv: drv, cfg: cfg, log: log.Named("guard")}
}

// Perform runs one interaction under the given retry budget. Transient
// failures (not ready in time, stale handle, intercepted input) are absorbed
// and retried until the budget runs out; a locator that never matched at all
// surfaces immediately as ErrNotFound. Context expiry aborts waits and
// sleeps and propagates as a deadline error, never as a misclassified
// element failure.
func (g *Guard) Perform(ctx context.Context, loc Locator, act Action, b Budget) (ActionOutcome, error) {
	ctx, release := g.drv.AcquireOpLock(ctx)
	defer release()

	var out ActionOutcome
	_, err := Do(ctx, b, func(ctx context.Context) error {
		o, err := g.attempt(ctx, loc, act)
		if err != nil {
			recordInteractionFailure(failureLabel(err))
			g.log.Debug("Guarded interaction attempt failed",
				zap.String("locator", loc.String()),
				zap.Stringer("action", act.Kind),
				zap.Error(err))
			if errors.Is(err, ErrInteractionBlocked) {
				if serr := hesitate(ctx, g.cfg.SettleDelay); serr != nil {
					return &DeadlineError{Op: "settle wait", Err: serr}
				}
			}
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return ActionOutcome{}, fmt.Errorf("%s %s: %w", act.Kind, loc, err)
	}
	return out, nil
}

// attempt is one full pass: readiness wait, fresh resolution, action.
func (g *Guard) attempt(ctx context.Context, loc Locator, act Action) (ActionOutcome, error) {
	if err := g.waitReady(ctx, loc, act.Kind); err != nil {
		return ActionOutcome{}, err
	}

	// The wait's matches are deliberately discarded: only a handle resolved
	// after the last wait boundary may be used.
	el, err := g.drv.Find(ctx, loc)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ActionOutcome{}, fmt.Errorf("element vanished after readiness wait: %w", ErrStaleReference)
		}
		return ActionOutcome{}, err
	}

	switch act.Kind {
	case ActionClick:
		return ActionOutcome{}, g.drv.Click(ctx, el)
	case ActionRead:
		text, err := g.drv.ReadText(ctx, el)
		if err != nil {
			return ActionOutcome{}, err
		}
		return ActionOutcome{Text: text}, nil
	case ActionType:
		return ActionOutcome{}, g.drv.TypeText(ctx, el, act.Text)
	default:
		return ActionOutcome{}, fmt.Errorf("unsupported action kind %d", act.Kind)
	}
}

// waitReady polls until the element satisfies the readiness predicate for
// the action: present and visible, and for click targets also unobscured.
// Timing out without ever seeing the element is ErrNotFound (structural);
// timing out on an element that existed but never became ready is
// ErrNotReady (transient).
func (g *Guard) waitReady(ctx context.Context, loc Locator, kind ActionKind) error {
	seen := false
	err := g.drv.WaitUntil(ctx, g.cfg.ReadyTimeout, func(ctx context.Context) (bool, error) {
		el, err := g.drv.Find(ctx, loc)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		seen = true
		visible, err := g.drv.IsVisible(ctx, el)
		if err != nil {
			if errors.Is(err, ErrStaleReference) {
				return false, nil
			}
			return false, err
		}
		if !visible {
			return false, nil
		}
		if kind != ActionClick {
			return true, nil
		}
		enabled, err := g.drv.IsEnabled(ctx, el)
		if err != nil {
			if errors.Is(err, ErrStaleReference) {
				return false, nil
			}
			return false, err
		}
		if !enabled {
			return false, nil
		}
		obscured, err := g.drv.IsObscured(ctx, el)
		if err != nil {
			if errors.Is(err, ErrStaleReference) {
				return false, nil
			}
			return false, err
		}
		return !obscured, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotReady) && !seen {
			return fmt.Errorf("locator never matched within %s: %w", g.cfg.ReadyTimeout, ErrNotFound)
		}
		return err
	}
	return nil
}

func failureLabel(err error) string {
	switch {
	case errors.Is(err, ErrStaleReference):
		return "stale"
	case errors.Is(err, ErrInteractionBlocked):
		return "blocked"
	case errors.Is(err, ErrNotReady):
		return "not_ready"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "other"
	}
}
