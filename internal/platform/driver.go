package platform

import (
	"context"
	"time"
)

// Driver is the only way this subsystem touches the rendered page. The
// browser layer implements it over a real session; tests implement it with
// doubles. Implementations translate their transport-level failures into the
// sentinel kinds of this package (ErrNotFound, ErrStaleReference,
// ErrInteractionBlocked) so the guard can classify without knowing the
// transport.
//
// All methods honor ctx cancellation and deadlines.
type Driver interface {
	// Navigate loads the URL and waits for the document to become ready.
	Navigate(ctx context.Context, url string) error
	// CurrentURL returns the address the session is rendering.
	CurrentURL(ctx context.Context) (string, error)

	// Find resolves the locator to a fresh live handle. It does not wait:
	// an unmatched locator returns ErrNotFound immediately.
	Find(ctx context.Context, loc Locator) (Element, error)

	// IsVisible reports whether the element is rendered visibly.
	IsVisible(ctx context.Context, el Element) (bool, error)
	// IsEnabled reports whether the element accepts input.
	IsEnabled(ctx context.Context, el Element) (bool, error)
	// IsObscured reports whether another element would receive a click
	// aimed at the element's center point.
	IsObscured(ctx context.Context, el Element) (bool, error)

	// Click dispatches a real click at the element's center.
	Click(ctx context.Context, el Element) error
	// ReadText returns the element's trimmed visible text.
	ReadText(ctx context.Context, el Element) (string, error)
	// TypeText replaces the element's value, firing the input events the
	// page's framework listens for.
	TypeText(ctx context.Context, el Element, text string) error

	// ScreenshotRegion captures the rendered region of the first element
	// matching the locator.
	ScreenshotRegion(ctx context.Context, loc Locator) ([]byte, error)

	// WaitReady blocks until the page settles: document ready and no loader
	// overlay visible.
	WaitReady(ctx context.Context) error
	// WaitUntil polls pred at the driver's fixed poll interval until it
	// holds, the timeout elapses (ErrNotReady) or ctx ends.
	WaitUntil(ctx context.Context, timeout time.Duration, pred func(ctx context.Context) (bool, error)) error

	// AcquireOpLock serializes callers on the session. The returned context
	// makes nested driver calls re-entrant; release must be called exactly
	// once.
	AcquireOpLock(ctx context.Context) (context.Context, func())
}
