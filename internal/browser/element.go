package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/anibalchinley/extractor-proveedores/internal/platform"
)

// tagAttribute marks the DOM node a handle was resolved to. Angular re-renders
// drop the attribute together with the node, so a missing tag is how staleness
// surfaces: the operation reports ErrStaleReference and the caller re-locates.
const tagAttribute = "data-extractor-id"

// handle is a live element reference. It is valid only until the next wait,
// navigation or retry iteration.
type handle struct {
	loc platform.Locator
	tag string
}

func (h *handle) Locator() platform.Locator { return h.loc }

func (h *handle) selector() string {
	return fmt.Sprintf(`[%s=%s]`, tagAttribute, jsString(h.tag))
}

// jsString renders s as a JavaScript string literal.
func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

func newTag() string {
	return "ext-" + uuid.NewString()
}

// Find resolves the locator to a fresh handle. It does not wait: an unmatched
// locator reports ErrNotFound immediately.
func (s *Session) Find(ctx context.Context, loc platform.Locator) (platform.Element, error) {
	lockedCtx, unlock := s.AcquireOpLock(ctx)
	defer unlock()
	if err := lockedCtx.Err(); err != nil {
		return nil, err
	}
	if loc.IsZero() {
		return nil, fmt.Errorf("empty locator: %w", platform.ErrNotFound)
	}

	tag := newTag()
	var result string
	if err := s.run(lockedCtx, chromedp.Evaluate(findScript(loc, tag), &result)); err != nil {
		return nil, fmt.Errorf("resolve %s: %w", loc, err)
	}
	switch result {
	case "ok":
		return &handle{loc: loc, tag: tag}, nil
	case "noscope":
		return nil, fmt.Errorf("scope %q: %w", loc.Scope, platform.ErrNotFound)
	default:
		return nil, fmt.Errorf("locate %s: %w", loc, platform.ErrNotFound)
	}
}

// findScript tags the first element matching the locator and reports how the
// resolution went.
func findScript(loc platform.Locator, tag string) string {
	return fmt.Sprintf(`(() => {
		const scopeSel = %s;
		const root = scopeSel ? document.querySelector(scopeSel) : document;
		if (!root) return "noscope";
		const needle = %s.toLowerCase();
		for (const el of root.querySelectorAll(%s)) {
			if (needle) {
				const text = (el.innerText || el.textContent || "").toLowerCase();
				if (!text.includes(needle)) continue;
			}
			el.setAttribute(%s, %s);
			return "ok";
		}
		return "nomatch";
	})()`, jsString(loc.Scope), jsString(loc.Text), jsString(loc.Selector), jsString(tagAttribute), jsString(tag))
}

// probe reports whether the tagged node still exists. A vanished tag means the
// framework replaced the node since the handle was resolved.
func (s *Session) probe(ctx context.Context, h *handle) error {
	script := fmt.Sprintf(`document.querySelector(%s) !== null`, jsString(h.selector()))
	var alive bool
	if err := s.run(ctx, chromedp.Evaluate(script, &alive)); err != nil {
		return fmt.Errorf("probe %s: %w", h.loc, err)
	}
	if !alive {
		return fmt.Errorf("handle for %s: %w", h.loc, platform.ErrStaleReference)
	}
	return nil
}

func (s *Session) asHandle(el platform.Element) (*handle, error) {
	h, ok := el.(*handle)
	if !ok {
		return nil, fmt.Errorf("foreign element handle %T", el)
	}
	return h, nil
}

// elementState runs a per-element probe script that answers "yes", "no" or
// "gone" and folds "gone" into ErrStaleReference.
func (s *Session) elementState(ctx context.Context, el platform.Element, build func(sel string) string) (bool, error) {
	lockedCtx, unlock := s.AcquireOpLock(ctx)
	defer unlock()
	if err := lockedCtx.Err(); err != nil {
		return false, err
	}
	h, err := s.asHandle(el)
	if err != nil {
		return false, err
	}

	var result string
	if err := s.run(lockedCtx, chromedp.Evaluate(build(jsString(h.selector())), &result)); err != nil {
		return false, fmt.Errorf("inspect %s: %w", h.loc, err)
	}
	if result == "gone" {
		return false, fmt.Errorf("handle for %s: %w", h.loc, platform.ErrStaleReference)
	}
	return result == "yes", nil
}

// IsVisible reports whether the element is rendered with a non-empty box.
func (s *Session) IsVisible(ctx context.Context, el platform.Element) (bool, error) {
	return s.elementState(ctx, el, func(sel string) string {
		return fmt.Sprintf(`(() => {
			const el = document.querySelector(%s);
			if (!el) return "gone";
			const r = el.getBoundingClientRect();
			if (r.width <= 0 || r.height <= 0) return "no";
			const style = getComputedStyle(el);
			if (style.visibility === 'hidden' || style.display === 'none' || style.opacity === '0') return "no";
			return "yes";
		})()`, sel)
	})
}

// IsEnabled reports whether the element accepts input.
func (s *Session) IsEnabled(ctx context.Context, el platform.Element) (bool, error) {
	return s.elementState(ctx, el, func(sel string) string {
		return fmt.Sprintf(`(() => {
			const el = document.querySelector(%s);
			if (!el) return "gone";
			if (el.disabled) return "no";
			if (el.getAttribute('aria-disabled') === 'true') return "no";
			if (el.closest('fieldset[disabled]')) return "no";
			return "yes";
		})()`, sel)
	})
}

// IsObscured reports whether a click aimed at the element's center would land
// on some other element, which is how modal backdrops and loader overlays
// intercept input.
func (s *Session) IsObscured(ctx context.Context, el platform.Element) (bool, error) {
	return s.elementState(ctx, el, func(sel string) string {
		return fmt.Sprintf(`(() => {
			const el = document.querySelector(%s);
			if (!el) return "gone";
			el.scrollIntoView({block: 'center', inline: 'center'});
			const r = el.getBoundingClientRect();
			const hit = document.elementFromPoint(r.left + r.width / 2, r.top + r.height / 2);
			if (!hit) return "yes";
			if (hit === el || el.contains(hit) || hit.contains(el)) return "no";
			return "yes";
		})()`, sel)
	})
}

// Click dispatches a click on the element. With humanized input enabled the
// pointer glides to a point inside the element box and presses there;
// otherwise the click lands instantly at the center.
func (s *Session) Click(ctx context.Context, el platform.Element) error {
	lockedCtx, unlock := s.AcquireOpLock(ctx)
	defer unlock()
	if err := lockedCtx.Err(); err != nil {
		return err
	}
	h, err := s.asHandle(el)
	if err != nil {
		return err
	}
	if err := s.probe(lockedCtx, h); err != nil {
		return err
	}

	sel := h.selector()
	if s.motion != nil {
		err = s.clickHumanized(lockedCtx, h)
	} else {
		err = s.run(lockedCtx,
			chromedp.ScrollIntoView(sel, chromedp.ByQuery),
			chromedp.Click(sel, chromedp.ByQuery),
		)
	}
	if err != nil {
		// The node existed at the probe; losing it mid-action is staleness,
		// not a structural miss.
		if errors.Is(err, context.DeadlineExceeded) && lockedCtx.Err() == nil {
			return fmt.Errorf("click %s: %w", h.loc, platform.ErrStaleReference)
		}
		return fmt.Errorf("click %s: %w", h.loc, err)
	}
	s.logger.Debug("Clicked element", zap.String("locator", h.loc.String()))
	return nil
}

// clickHumanized measures the element and drives the pointer through the
// motion model. The caller holds the operation lock.
func (s *Session) clickHumanized(ctx context.Context, h *handle) error {
	box, err := s.elementBox(ctx, h)
	if err != nil {
		return err
	}
	target := s.motion.aimPoint(box)
	return s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return s.motion.click(ctx, target)
	}))
}

// elementBox scrolls the element into view and returns its viewport box.
func (s *Session) elementBox(ctx context.Context, h *handle) (elementBox, error) {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return null;
		el.scrollIntoView({block: 'center', inline: 'center'});
		const r = el.getBoundingClientRect();
		return {x: r.left, y: r.top, width: r.width, height: r.height};
	})()`, jsString(h.selector()))

	var box *elementBox
	if err := s.run(ctx, chromedp.Evaluate(script, &box)); err != nil {
		return elementBox{}, fmt.Errorf("measure %s: %w", h.loc, err)
	}
	if box == nil {
		return elementBox{}, fmt.Errorf("handle for %s: %w", h.loc, platform.ErrStaleReference)
	}
	return *box, nil
}

// ReadText returns the element's trimmed visible text.
func (s *Session) ReadText(ctx context.Context, el platform.Element) (string, error) {
	lockedCtx, unlock := s.AcquireOpLock(ctx)
	defer unlock()
	if err := lockedCtx.Err(); err != nil {
		return "", err
	}
	h, err := s.asHandle(el)
	if err != nil {
		return "", err
	}

	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return null;
		return (el.innerText || el.textContent || "").trim();
	})()`, jsString(h.selector()))

	var text *string
	if err := s.run(lockedCtx, chromedp.Evaluate(script, &text)); err != nil {
		return "", fmt.Errorf("read %s: %w", h.loc, err)
	}
	if text == nil {
		return "", fmt.Errorf("handle for %s: %w", h.loc, platform.ErrStaleReference)
	}
	return *text, nil
}

// TypeText replaces the element's value and types text through real key
// events, which fires the input events reactive form frameworks listen for.
func (s *Session) TypeText(ctx context.Context, el platform.Element, text string) error {
	lockedCtx, unlock := s.AcquireOpLock(ctx)
	defer unlock()
	if err := lockedCtx.Err(); err != nil {
		return err
	}
	h, err := s.asHandle(el)
	if err != nil {
		return err
	}
	if err := s.probe(lockedCtx, h); err != nil {
		return err
	}

	sel := h.selector()
	clear := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return;
		el.value = '';
		el.dispatchEvent(new Event('input', {bubbles: true}));
	})()`, jsString(sel))

	var entry chromedp.Action = chromedp.SendKeys(sel, text, chromedp.ByQuery)
	if s.motion != nil {
		entry = chromedp.ActionFunc(func(ctx context.Context) error {
			return s.motion.typeRunes(ctx, text)
		})
	}
	err = s.run(lockedCtx,
		chromedp.Focus(sel, chromedp.ByQuery),
		chromedp.Evaluate(clear, nil),
		entry,
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && lockedCtx.Err() == nil {
			return fmt.Errorf("type into %s: %w", h.loc, platform.ErrStaleReference)
		}
		return fmt.Errorf("type into %s: %w", h.loc, err)
	}
	return nil
}

// ScreenshotRegion captures the rendered region of the first element matching
// the locator.
func (s *Session) ScreenshotRegion(ctx context.Context, loc platform.Locator) ([]byte, error) {
	lockedCtx, unlock := s.AcquireOpLock(ctx)
	defer unlock()
	if err := lockedCtx.Err(); err != nil {
		return nil, err
	}

	el, err := s.Find(lockedCtx, loc)
	if err != nil {
		return nil, err
	}
	h, err := s.asHandle(el)
	if err != nil {
		return nil, err
	}

	var buf []byte
	if err := s.run(lockedCtx, chromedp.Screenshot(h.selector(), &buf, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("screenshot %s: %w", loc, err)
	}
	return buf, nil
}
