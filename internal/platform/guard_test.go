package platform

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var submitBtn = Locator{Selector: "button.bs-btn.primario", Text: "Ingresar"}

func TestPerformClicksReadyElement(t *testing.T) {
	h := newHarness(t)
	h.drv.show(submitBtn)

	_, err := h.guard.Perform(context.Background(), submitBtn, Click(),
		Budget{MaxAttempts: 1, BaseDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond})

	require.NoError(t, err)
	assert.Equal(t, 1, h.drv.clicks[locKey(submitBtn)])
}

func TestPerformReadsText(t *testing.T) {
	h := newHarness(t)
	n := h.drv.show(submitBtn)
	n.text = "  Ingresar  "

	out, err := h.guard.Perform(context.Background(), submitBtn, Read(),
		Budget{MaxAttempts: 1, BaseDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond})

	require.NoError(t, err)
	assert.Equal(t, "Ingresar", out.Text)
}

func TestPerformTypesText(t *testing.T) {
	rutField := Locator{Selector: "input[formcontrolname='rut']"}
	h := newHarness(t)
	n := h.drv.show(rutField)

	_, err := h.guard.Perform(context.Background(), rutField, Type("11.111.111-1"),
		Budget{MaxAttempts: 1, BaseDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond})

	require.NoError(t, err)
	assert.Equal(t, "11.111.111-1", n.text)
}

func TestPerformNeverReusesHandleAcrossWaitBoundary(t *testing.T) {
	h := newHarness(t)
	h.drv.show(submitBtn)

	// Every handle resolved before or during the wait dies the moment the
	// wait completes. A guard holding one would click a dead reference; the
	// re-resolution discipline must make the invalidation invisible.
	h.drv.afterWait = func() { h.drv.invalidate() }

	_, err := h.guard.Perform(context.Background(), submitBtn, Click(),
		Budget{MaxAttempts: 1, BaseDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond})

	require.NoError(t, err, "fresh post-wait resolution must absorb the invalidation")
	assert.Equal(t, 1, h.drv.clicks[locKey(submitBtn)], "first attempt lands, no stale-retry needed")
	assert.Equal(t, 1, h.drv.waitCalls)
}

func TestPerformStaleClickRestartsTheWholeAttempt(t *testing.T) {
	h := newHarness(t)
	h.drv.show(submitBtn)

	// An Angular re-render swaps the node between resolution and dispatch.
	h.drv.clickErrs = []error{ErrStaleReference}

	_, err := h.guard.Perform(context.Background(), submitBtn, Click(),
		Budget{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 4 * time.Millisecond})

	require.NoError(t, err)
	assert.Equal(t, 2, h.drv.waitCalls,
		"a stale reference restarts wait+resolve+act, not just the act")
	assert.Equal(t, 2, h.drv.clicks[locKey(submitBtn)])
}

func TestPerformObscuredControlBudgets(t *testing.T) {
	// The control is intercepted on the first two dispatches and clickable
	// on the third: three attempts must succeed, two must not.
	run := func(t *testing.T, maxAttempts int) error {
		h := newHarness(t)
		h.drv.show(openArrow)
		h.drv.clickErrs = []error{ErrInteractionBlocked, ErrInteractionBlocked}

		_, err := h.guard.Perform(context.Background(), openArrow, Click(),
			Budget{MaxAttempts: maxAttempts, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 4 * time.Millisecond})
		return err
	}

	t.Run("succeeds within three attempts", func(t *testing.T) {
		require.NoError(t, run(t, 3))
	})

	t.Run("exhausts a budget of two", func(t *testing.T) {
		err := run(t, 2)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInteractionBlocked)

		var exhausted *ExhaustedError
		require.ErrorAs(t, err, &exhausted)
		assert.Equal(t, 2, exhausted.Attempts)
	})
}

func TestPerformUnmatchedLocatorSurfacesImmediately(t *testing.T) {
	h := newHarness(t, withReadyTimeout(5*time.Millisecond))

	missing := Locator{Selector: "#no-such-control"}
	_, err := h.guard.Perform(context.Background(), missing, Click(),
		Budget{MaxAttempts: 5, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 4 * time.Millisecond})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, h.drv.waitCalls,
		"a locator that never matched must not consume retry budget")
}

func TestPerformDeadlineBeatsWaitCycle(t *testing.T) {
	h := newHarness(t, withReadyTimeout(500*time.Millisecond))
	n := h.drv.show(submitBtn)
	n.visible = false // keeps the readiness wait polling

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := h.guard.Perform(ctx, submitBtn, Click(),
		Budget{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 4 * time.Millisecond})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, errors.Is(err, ErrStaleReference),
		"deadline expiry must not be misread as staleness")
	assert.False(t, errors.Is(err, ErrInteractionBlocked),
		"deadline expiry must not be misread as an intercepted input")
	assert.False(t, errors.Is(err, ErrNotReady),
		"deadline expiry must not be misread as a readiness timeout")
}
