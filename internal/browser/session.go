package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/anibalchinley/extractor-proveedores/internal/config"
	"github.com/anibalchinley/extractor-proveedores/internal/platform"
)

// Context key for managing operation lock re-entrancy.
type opLockKey struct{}

var operationLockKey = opLockKey{}

// Session wraps one isolated browser tab. It implements platform.Driver: all
// element access goes through locator descriptors resolved against the live
// DOM immediately before use, and every public operation serializes on the
// session's operation lock.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	cfg    *config.Config

	id      string
	manager *Manager

	// motion humanizes pointer and keyboard input. Nil when humanized input
	// is disabled; callers fall back to plain dispatch.
	motion *motion

	// opMu serializes page operations. Re-entrancy is handled through the
	// operationLockKey context value, not through the mutex.
	opMu sync.Mutex

	closeOnce sync.Once
}

var _ platform.Driver = (*Session)(nil)

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Close tears down the underlying browser tab and unregisters the session.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.logger.Debug("Closing browser session")
		if s.manager != nil {
			s.manager.unregisterSession(s.id)
		}
		s.cancel()
	})
	return nil
}

// AcquireOpLock serializes callers on the session. If the incoming context
// already holds the lock the call is a no-op, which lets locked operations
// compose without deadlocking. The returned context is bound to both the
// caller's and the session's lifetime.
func (s *Session) AcquireOpLock(ctx context.Context) (context.Context, func()) {
	if ctx.Value(operationLockKey) != nil {
		return ctx, func() {}
	}
	select {
	case <-s.ctx.Done():
		return s.ctx, func() {}
	case <-ctx.Done():
		return ctx, func() {}
	default:
	}
	s.opMu.Lock()
	// Check again after acquiring the lock in case the session closed while
	// this caller was waiting.
	if s.ctx.Err() != nil {
		s.opMu.Unlock()
		return s.ctx, func() {}
	}
	combinedCtx, cancelCombined := CombineContext(s.ctx, ctx)
	lockedCtx := context.WithValue(combinedCtx, operationLockKey, true)
	return lockedCtx, func() {
		cancelCombined()
		s.opMu.Unlock()
	}
}

// run executes chromedp actions bounded by the session's operation timeout.
// The locked context returned by AcquireOpLock delegates Value lookups to the
// session's chromedp context, so derived contexts stay chromedp-enabled.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.Browser.OperationTimeout)
	defer cancel()
	if err := chromedp.Run(opCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Navigate loads the URL and blocks until the document settles.
func (s *Session) Navigate(ctx context.Context, url string) error {
	lockedCtx, unlock := s.AcquireOpLock(ctx)
	defer unlock()
	if err := lockedCtx.Err(); err != nil {
		return err
	}

	s.logger.Debug("Navigating", zap.String("url", url))
	navCtx, cancel := context.WithTimeout(lockedCtx, s.cfg.Browser.NavigationTimeout)
	defer cancel()
	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		if lockedCtx.Err() != nil {
			return lockedCtx.Err()
		}
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return s.WaitReady(lockedCtx)
}

// CurrentURL returns the address the tab is rendering.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	lockedCtx, unlock := s.AcquireOpLock(ctx)
	defer unlock()
	if err := lockedCtx.Err(); err != nil {
		return "", err
	}

	var url string
	if err := s.run(lockedCtx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return url, nil
}

// Evaluate runs a JavaScript expression in the page and unmarshals its result
// into out. Pass nil to discard the result.
func (s *Session) Evaluate(ctx context.Context, expr string, out any) error {
	lockedCtx, unlock := s.AcquireOpLock(ctx)
	defer unlock()
	if err := lockedCtx.Err(); err != nil {
		return err
	}
	return s.run(lockedCtx, chromedp.Evaluate(expr, out))
}

// PageHTML returns the current outer HTML of the first element matching sel,
// or of the document when sel is empty.
func (s *Session) PageHTML(ctx context.Context, sel string) (string, error) {
	if sel == "" {
		sel = "html"
	}
	lockedCtx, unlock := s.AcquireOpLock(ctx)
	defer unlock()
	if err := lockedCtx.Err(); err != nil {
		return "", err
	}

	var html string
	if err := s.run(lockedCtx, chromedp.OuterHTML(sel, &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("capture html %q: %w", sel, err)
	}
	return html, nil
}

// WaitReady blocks until the document reports complete and no loader overlay
// is visible. The wait is bounded by the configured ready timeout.
func (s *Session) WaitReady(ctx context.Context) error {
	loaders := s.cfg.Selectors.Loaders
	return s.WaitUntil(ctx, s.cfg.Retry.ReadyTimeout, func(ctx context.Context) (bool, error) {
		var settled bool
		if err := s.Evaluate(ctx, settledScript(loaders), &settled); err != nil {
			return false, err
		}
		return settled, nil
	})
}

// WaitUntil polls pred at the configured poll interval until it holds, the
// timeout elapses, or ctx ends. A timed-out wait reports ErrNotReady so the
// caller's retry policy can classify it.
func (s *Session) WaitUntil(ctx context.Context, timeout time.Duration, pred func(ctx context.Context) (bool, error)) error {
	lockedCtx, unlock := s.AcquireOpLock(ctx)
	defer unlock()
	if err := lockedCtx.Err(); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(lockedCtx, timeout)
	defer cancel()

	interval := s.cfg.Retry.PollInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	for {
		ok, err := pred(waitCtx)
		if err != nil {
			// A predicate failing only because the wait window closed is a
			// readiness timeout, not a hard error.
			if waitCtx.Err() != nil && lockedCtx.Err() == nil {
				return fmt.Errorf("condition not met within %s: %w", timeout, platform.ErrNotReady)
			}
			return err
		}
		if ok {
			return nil
		}
		if err := pause(waitCtx, interval); err != nil {
			if lockedCtx.Err() != nil {
				return lockedCtx.Err()
			}
			return fmt.Errorf("condition not met within %s: %w", timeout, platform.ErrNotReady)
		}
	}
}

// settledScript builds the readiness probe: document complete and none of the
// loader selectors visible.
func settledScript(loaderSelectors string) string {
	sel := strings.TrimSpace(loaderSelectors)
	if sel == "" {
		return `document.readyState === 'complete'`
	}
	return fmt.Sprintf(`(() => {
		if (document.readyState !== 'complete') return false;
		for (const el of document.querySelectorAll(%s)) {
			const r = el.getBoundingClientRect();
			if (r.width > 0 && r.height > 0 && getComputedStyle(el).visibility !== 'hidden') return false;
		}
		return true;
	})()`, jsString(sel))
}

// combinedContext implements context.Context over two parents, propagating
// whichever cancellation fires first.
type combinedContext struct {
	parentCtx    context.Context
	secondaryCtx context.Context
	done         chan struct{}
	err          error
	mu           sync.Mutex
}

func (c *combinedContext) Deadline() (time.Time, bool) {
	d1, ok1 := c.parentCtx.Deadline()
	d2, ok2 := c.secondaryCtx.Deadline()
	if !ok1 && !ok2 {
		return time.Time{}, false
	}
	if !ok1 {
		return d2, true
	}
	if !ok2 {
		return d1, true
	}
	if d1.Before(d2) {
		return d1, true
	}
	return d2, true
}

func (c *combinedContext) Done() <-chan struct{} {
	return c.done
}

func (c *combinedContext) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *combinedContext) Value(key interface{}) interface{} {
	if val := c.secondaryCtx.Value(key); val != nil {
		return val
	}
	return c.parentCtx.Value(key)
}

// CombineContext creates a context that is canceled when either parent is.
// The specific cancellation reason (e.g. DeadlineExceeded) of whichever
// context ended first is preserved.
func CombineContext(parentCtx, secondaryCtx context.Context) (context.Context, context.CancelFunc) {
	if parentCtx == secondaryCtx || secondaryCtx == context.Background() || secondaryCtx == context.TODO() {
		return context.WithCancel(parentCtx)
	}
	c := &combinedContext{
		parentCtx:    parentCtx,
		secondaryCtx: secondaryCtx,
		done:         make(chan struct{}),
	}
	if err := parentCtx.Err(); err != nil {
		c.err = err
		close(c.done)
		return c, func() {}
	}
	if err := secondaryCtx.Err(); err != nil {
		c.err = err
		close(c.done)
		return c, func() {}
	}
	stop := make(chan struct{}, 1)
	go func() {
		var err error
		select {
		case <-parentCtx.Done():
			err = parentCtx.Err()
		case <-secondaryCtx.Done():
			err = secondaryCtx.Err()
		case <-stop:
			err = context.Canceled
		}
		c.mu.Lock()
		if c.err == nil {
			c.err = err
			close(c.done)
		}
		c.mu.Unlock()
	}()
	cancel := func() {
		select {
		case stop <- struct{}{}:
		case <-c.done:
		}
	}
	return c, cancel
}
