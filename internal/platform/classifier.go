package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Classifier decides which portal the session is currently rendering by
// evaluating the configured detection signals against the live page. It is
// the single authority on the question; nothing else in the process keeps its
// own "which platform" flag.
type Classifier struct {
	drv         Driver
	signals     []DetectionSignal
	budget      Budget
	stablePause time.Duration
	log         *zap.Logger
}

// NewClassifier builds a classifier over the given signal set. The budget is
// the short re-check loop applied when no signal matches yet, sized well
// below the interaction budgets. stablePause separates the two captures used
// by PredicateStable.
func NewClassifier(drv Driver, signals []DetectionSignal, budget Budget, stablePause time.Duration, log *zap.Logger) *Classifier {
	return &Classifier{
		drv:         drv,
		signals:     signals,
		budget:      budget,
		stablePause: stablePause,
		log:         log.Named("classifier"),
	}
}

// Classify evaluates the signals in configuration order. Exactly one match
// names the portal. No match is re-checked under the classifier's own small
// budget and then settles on Unknown with a nil error; the page simply is not
// recognizable yet. More than one match in the same tier is a configuration
// error: the result is Unknown and the returned error wraps
// ErrAmbiguousContext so the caller surfaces it instead of guessing.
func (c *Classifier) Classify(ctx context.Context) (Context, error) {
	ctx, release := c.drv.AcquireOpLock(ctx)
	defer release()

	var result Context
	_, err := Do(ctx, c.budget, func(ctx context.Context) error {
		got, err := c.classifyOnce(ctx)
		if err != nil {
			return err
		}
		result = got
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNoSignal) {
			c.log.Debug("No detection signal matched, settling on unknown")
			recordClassification(Unknown)
			return Unknown, nil
		}
		if errors.Is(err, ErrAmbiguousContext) {
			c.log.Warn("Ambiguous classification, refusing to guess", zap.Error(err))
			recordClassification(Unknown)
			return Unknown, err
		}
		return Unknown, err
	}
	recordClassification(result)
	c.log.Debug("Classified current context", zap.Stringer("context", result))
	return result, nil
}

// classifyOnce runs a single pass: the element tier first, then the URL
// fallback tier only when no element signal matched.
func (c *Classifier) classifyOnce(ctx context.Context) (Context, error) {
	got, err := c.evalTier(ctx, SignalElement)
	if err == nil || !errors.Is(err, ErrNoSignal) {
		return got, err
	}
	return c.evalTier(ctx, SignalURL)
}

func (c *Classifier) evalTier(ctx context.Context, kind SignalKind) (Context, error) {
	var (
		matched []string
		found   Context
	)
	for _, sig := range c.signals {
		if sig.Kind != kind {
			continue
		}
		ok, err := c.evalSignal(ctx, sig)
		if err != nil {
			return Unknown, err
		}
		if ok {
			matched = append(matched, sig.Name)
			found = sig.Target
		}
	}
	switch len(matched) {
	case 0:
		return Unknown, ErrNoSignal
	case 1:
		return found, nil
	default:
		recordAmbiguous()
		return Unknown, fmt.Errorf("signals %s matched simultaneously: %w",
			strings.Join(matched, ", "), ErrAmbiguousContext)
	}
}

// evalSignal reports whether one signal currently holds. An unmatched
// locator is a clean non-match; transient driver failures bubble up so the
// re-check loop can absorb them.
func (c *Classifier) evalSignal(ctx context.Context, sig DetectionSignal) (bool, error) {
	if sig.Kind == SignalURL {
		url, err := c.drv.CurrentURL(ctx)
		if err != nil {
			return false, err
		}
		return sig.URLSubstring != "" &&
			strings.Contains(strings.ToLower(url), strings.ToLower(sig.URLSubstring)), nil
	}

	el, err := c.drv.Find(ctx, sig.Locator)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if sig.Predicate == PredicatePresent {
		return true, nil
	}

	visible, err := c.drv.IsVisible(ctx, el)
	if err != nil {
		if errors.Is(err, ErrStaleReference) {
			// Vanished mid-check counts as not matching this pass.
			return false, nil
		}
		return false, err
	}
	if !visible {
		return false, nil
	}
	if sig.Predicate == PredicateVisible {
		return true, nil
	}
	return c.stableRegion(ctx, sig.Locator)
}

// stableRegion captures the signal's region twice with a short pause and
// requires identical pixels, filtering out elements still animating in.
func (c *Classifier) stableRegion(ctx context.Context, loc Locator) (bool, error) {
	first, err := c.drv.ScreenshotRegion(ctx, loc)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStaleReference) {
			return false, nil
		}
		return false, err
	}
	if err := hesitate(ctx, c.stablePause); err != nil {
		return false, err
	}
	second, err := c.drv.ScreenshotRegion(ctx, loc)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStaleReference) {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(first, second), nil
}
