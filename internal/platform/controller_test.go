package platform

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wireSelector makes the fake portal selector behave like the real one: a
// click on a portal option re-renders the page as that portal.
func wireSelector(h *harness) {
	h.drv.onClick = func(loc Locator) {
		switch locKey(loc) {
		case locKey(bciOpt):
			h.showPortal(BCI)
		case locKey(zenitOpt):
			h.showPortal(Zenit)
		}
	}
}

func TestEnsureTransitionsFromUnknown(t *testing.T) {
	h := newHarness(t)
	wireSelector(h)
	h.drv.show(openArrow)
	h.drv.show(bciOpt)
	h.drv.show(zenitOpt)

	err := h.ctrl.Ensure(context.Background(), BCI)
	require.NoError(t, err)

	assert.Equal(t, BCI, h.ctrl.Current())
	assert.Equal(t, 1, h.drv.clicks[locKey(bciOpt)], "exactly one navigation sequence")

	// Two classifications: the pre-check that found nothing recognizable
	// and the post-switch confirmation.
	assert.Equal(t, 2, h.drv.finds[locKey(bciLogo)])

	history := h.ctrl.History()
	require.Len(t, history, 1)
	assert.Equal(t, Unknown, history[0].From)
	assert.Equal(t, BCI, history[0].To)
	assert.Equal(t, OutcomeSuccess, history[0].Outcome)
	assert.Equal(t, 1, history[0].Attempts)
	assert.False(t, history[0].At.IsZero())
}

func TestEnsureShortCircuitsWhenAlreadyOnTarget(t *testing.T) {
	h := newHarness(t)
	wireSelector(h)
	h.drv.show(openArrow)
	h.drv.show(bciOpt)
	h.drv.show(zenitOpt)

	require.NoError(t, h.ctrl.Ensure(context.Background(), Zenit))
	optionClicks := h.drv.clicks[locKey(zenitOpt)]
	arrowClicks := h.drv.clicks[locKey(openArrow)]

	// Immediate second call: the store matches and a fresh classification
	// confirms, so no further navigation may happen.
	require.NoError(t, h.ctrl.Ensure(context.Background(), Zenit))

	assert.Equal(t, optionClicks, h.drv.clicks[locKey(zenitOpt)])
	assert.Equal(t, arrowClicks, h.drv.clicks[locKey(openArrow)])
	assert.Len(t, h.ctrl.History(), 1, "a short-circuited call records nothing")
}

func TestEnsureReconfirmsWhenPageDriftedFromStore(t *testing.T) {
	h := newHarness(t)
	wireSelector(h)
	h.drv.show(openArrow)
	h.drv.show(bciOpt)
	h.drv.show(zenitOpt)
	require.NoError(t, h.ctrl.Ensure(context.Background(), BCI))

	// The portal silently bounced the session back to Zenit.
	h.showPortal(Zenit)

	require.NoError(t, h.ctrl.Ensure(context.Background(), BCI))
	assert.Equal(t, BCI, h.ctrl.Current())
	assert.GreaterOrEqual(t, h.drv.clicks[locKey(bciOpt)], 2,
		"store agreement alone is not trusted; the drifted page forces a real transition")
}

func TestEnsureExhaustionLeavesStoreConfirmed(t *testing.T) {
	h := newHarness(t, withTransitionBudget(Budget{
		MaxAttempts: 2, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 2 * time.Millisecond,
	}))
	// Selector clicks land but the page never becomes Zenit.
	h.drv.show(openArrow)
	h.drv.show(bciOpt)
	h.drv.show(zenitOpt)
	h.showPortal(BCI)
	h.store.set(BCI)

	err := h.ctrl.Ensure(context.Background(), Zenit)
	require.Error(t, err)

	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, BCI, te.From)
	assert.Equal(t, Zenit, te.Target)
	assert.Equal(t, 2, te.Attempts)
	assert.ErrorIs(t, err, ErrUnexpectedContext)
	assert.NotEmpty(t, te.History)

	assert.Equal(t, BCI, h.ctrl.Current(),
		"the store must keep its last confirmed value, never the unconfirmed target")

	history := h.ctrl.History()
	require.Len(t, history, 1)
	assert.Equal(t, OutcomeFailure, history[0].Outcome)
	assert.Equal(t, 2, history[0].Attempts)
}

func TestEnsureObscuredSwitchControl(t *testing.T) {
	// The selector arrow is intercepted on the first two dispatches and
	// clickable on the third.
	run := func(t *testing.T, interactionAttempts int) error {
		h := newHarness(t,
			withTransitionBudget(Budget{MaxAttempts: 1, BaseDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}),
			withInteractionBudget(Budget{MaxAttempts: interactionAttempts, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 4 * time.Millisecond}),
		)
		wireSelector(h)
		h.drv.show(openArrow)
		h.drv.show(bciOpt)
		h.drv.show(zenitOpt)
		h.showPortal(BCI)
		h.store.set(BCI)
		h.drv.clickErrs = []error{ErrInteractionBlocked, ErrInteractionBlocked}

		return h.ctrl.Ensure(context.Background(), Zenit)
	}

	t.Run("budget of three absorbs the interceptions", func(t *testing.T) {
		require.NoError(t, run(t, 3))
	})

	t.Run("budget of two is exhausted", func(t *testing.T) {
		err := run(t, 2)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInteractionBlocked)

		var te *TransitionError
		require.ErrorAs(t, err, &te)
	})
}

func TestEnsureRetriesWhenLandingSomewhereUnexpected(t *testing.T) {
	h := newHarness(t)
	h.drv.show(openArrow)
	h.drv.show(bciOpt)
	h.drv.show(zenitOpt)
	h.showPortal(BCI)
	h.store.set(BCI)

	// First switch strands the session on an unrecognizable interstitial;
	// the second lands properly.
	optionClicks := 0
	h.drv.onClick = func(loc Locator) {
		if locKey(loc) != locKey(zenitOpt) {
			return
		}
		optionClicks++
		if optionClicks == 1 {
			h.showPortal(Unknown)
			return
		}
		h.showPortal(Zenit)
	}

	err := h.ctrl.Ensure(context.Background(), Zenit)
	require.NoError(t, err, "an unexpected landing is retryable, not terminal")

	assert.Equal(t, Zenit, h.ctrl.Current())
	history := h.ctrl.History()
	require.Len(t, history, 1)
	assert.Equal(t, OutcomeSuccess, history[0].Outcome)
	assert.Equal(t, 2, history[0].Attempts)
}

func TestEnsureAmbiguousPageSurfacesWithoutRetry(t *testing.T) {
	h := newHarness(t, withTransitionBudget(Budget{
		MaxAttempts: 4, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 4 * time.Millisecond,
	}))
	// Both logos rendered at once: configuration and page disagree.
	h.drv.show(bciLogo)
	h.drv.show(zenitLogo)
	h.drv.show(openArrow)
	h.drv.show(zenitOpt)

	err := h.ctrl.Ensure(context.Background(), Zenit)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAmbiguousContext)

	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 1, te.Attempts, "structural failures must not burn the transition budget")
	assert.Equal(t, Unknown, h.ctrl.Current())
}

func TestEnsureDeadlineIsTerminalTimeout(t *testing.T) {
	h := newHarness(t, withReadyTimeout(time.Second), withTransitionBudget(Budget{
		MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 400 * time.Millisecond,
	}))
	// Nothing recognizable and a selector that never appears: every wait
	// runs long, so a short caller deadline must cut through.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Millisecond)
	defer cancel()

	err := h.ctrl.Ensure(ctx, BCI)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var te *TransitionError
	assert.False(t, errors.As(err, &te),
		"a caller deadline is a Timeout, not a TransitionFailed")
	assert.Equal(t, Unknown, h.ctrl.Current())
}

func TestEnsureRejectsUnknownTarget(t *testing.T) {
	h := newHarness(t)
	err := h.ctrl.Ensure(context.Background(), Unknown)
	require.Error(t, err)
}
