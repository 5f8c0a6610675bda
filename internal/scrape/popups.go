package scrape

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/anibalchinley/extractor-proveedores/internal/config"
	"github.com/anibalchinley/extractor-proveedores/internal/platform"
)

// oneShot performs popup probes without retries: an absent dialog is the
// normal case, not a failure worth a backoff loop.
var oneShot = platform.Budget{MaxAttempts: 1}

// Popups clears the welcome dialogs, notification modals and leftover
// overlay backdrops the portal raises after login and after context
// switches. Dismissal is best-effort: a popup that will not close is logged
// and skipped, matching how the portal itself sometimes re-raises them.
type Popups struct {
	page  Page
	guard *platform.Guard
	cfg   *config.Config
	log   *zap.Logger
}

// NewPopups builds the popup sweeper.
func NewPopups(page Page, guard *platform.Guard, cfg *config.Config, log *zap.Logger) *Popups {
	return &Popups{
		page:  page,
		guard: guard,
		cfg:   cfg,
		log:   log.Named("popups"),
	}
}

// Dismiss sweeps the page: waits for loaders, accepts welcome dialogs,
// closes stray modals and clears overlay backdrops. It only errors on
// context expiry.
func (p *Popups) Dismiss(ctx context.Context) error {
	if err := p.page.WaitReady(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Some portal screens keep a spinner alive indefinitely; the sweep
		// still has a chance to clear what is clickable.
		p.log.Debug("Page did not settle before popup sweep", zap.Error(err))
	}

	if p.acceptWelcome(ctx) {
		p.log.Debug("Welcome dialog accepted")
	}
	p.closeDialogs(ctx)
	p.clearBackdrops(ctx)
	return ctx.Err()
}

// acceptWelcome tries the configured accept labels, then the dialog footer
// button. The first successful click wins.
func (p *Popups) acceptWelcome(ctx context.Context) bool {
	for _, label := range p.cfg.Selectors.AcceptLabels {
		if p.clickIfPresent(ctx, platform.Locator{Selector: "button", Text: label}) {
			return true
		}
	}
	if p.cfg.Selectors.DialogAccept != "" {
		return p.clickIfPresent(ctx, platform.Locator{Selector: p.cfg.Selectors.DialogAccept})
	}
	return false
}

// closeDialogs clicks any close affordances modals expose.
func (p *Popups) closeDialogs(ctx context.Context) {
	closers := []platform.Locator{
		{Selector: "button.close"},
		{Selector: "button.mat-dialog-close"},
		{Selector: `button[aria-label="Cerrar"]`},
		{Selector: `button[title="Cerrar"]`},
	}
	for _, loc := range closers {
		if p.clickIfPresent(ctx, loc) {
			p.log.Debug("Closed dialog", zap.String("locator", loc.String()))
		}
	}
}

// clickIfPresent probes for the locator without waiting and, only when it
// resolves, clicks it under the guard's readiness discipline.
func (p *Popups) clickIfPresent(ctx context.Context, loc platform.Locator) bool {
	if _, err := p.page.Find(ctx, loc); err != nil {
		return false
	}
	if _, err := p.guard.Perform(ctx, loc, platform.Click(), oneShot); err != nil {
		p.log.Debug("Popup element resisted the click",
			zap.String("locator", loc.String()), zap.Error(err))
		return false
	}
	return true
}

// clearBackdrops clicks through visible overlay backdrops and waits for them
// to leave. Backdrops swallow pointer events aimed at anything beneath them,
// so they are clicked directly through script like the portal's own close
// behavior expects.
func (p *Popups) clearBackdrops(ctx context.Context) {
	sel := p.cfg.Selectors.Backdrops
	if sel == "" {
		return
	}
	click := fmt.Sprintf(`(() => {
		let clicked = 0;
		for (const el of document.querySelectorAll(%s)) {
			const r = el.getBoundingClientRect();
			if (r.width > 0 && r.height > 0) { el.click(); clicked++; }
		}
		return clicked;
	})()`, jsLiteral(sel))

	var clicked int
	if err := p.page.Evaluate(ctx, click, &clicked); err != nil {
		p.log.Debug("Backdrop sweep failed", zap.Error(err))
		return
	}
	if clicked == 0 {
		return
	}
	p.log.Debug("Clicked overlay backdrops", zap.Int("count", clicked))

	gone := fmt.Sprintf(`(() => {
		for (const el of document.querySelectorAll(%s)) {
			const r = el.getBoundingClientRect();
			if (r.width > 0 && r.height > 0) return false;
		}
		return true;
	})()`, jsLiteral(sel))
	err := p.page.WaitUntil(ctx, p.cfg.Retry.ReadyTimeout, func(ctx context.Context) (bool, error) {
		var ok bool
		if err := p.page.Evaluate(ctx, gone, &ok); err != nil {
			return false, err
		}
		return ok, nil
	})
	if err != nil {
		p.log.Debug("Backdrops still visible after sweep", zap.Error(err))
	}
}
