package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/anibalchinley/extractor-proveedores/internal/config"
	"github.com/anibalchinley/extractor-proveedores/internal/platform"
)

// Extractor walks the claim tables of the currently active platform context,
// page by page, and returns the parsed rows. The caller is responsible for
// having ensured the right context beforehand.
type Extractor struct {
	page  Page
	guard *platform.Guard
	cfg   *config.Config
	log   *zap.Logger
}

// NewExtractor builds a claims extractor over an authenticated page.
func NewExtractor(page Page, guard *platform.Guard, cfg *config.Config, log *zap.Logger) *Extractor {
	return &Extractor{
		page:  page,
		guard: guard,
		cfg:   cfg,
		log:   log.Named("extractor"),
	}
}

// Assigned harvests the "Asignados" tab for the given company label.
func (e *Extractor) Assigned(ctx context.Context, company string) ([]Claim, error) {
	return e.extract(ctx, company, SectionAssigned, e.cfg.Selectors.AssignedTabLabel)
}

// Settlement harvests the "Análisis de Liquidación" tab for the given
// company label.
func (e *Extractor) Settlement(ctx context.Context, company string) ([]Claim, error) {
	return e.extract(ctx, company, SectionSettlement, e.cfg.Selectors.SettlementTabLabel)
}

func (e *Extractor) extract(ctx context.Context, company string, section Section, tabLabel string) ([]Claim, error) {
	log := e.log.With(zap.String("company", company), zap.Stringer("section", section))
	log.Info("Starting claims extraction")

	if err := e.openTab(ctx, tabLabel); err != nil {
		return nil, fmt.Errorf("open %s tab: %w", section, err)
	}

	var out []Claim
	lastFirst := ""
	for pageNum := 1; ; pageNum++ {
		if err := e.waitRows(ctx); err != nil {
			if errors.Is(err, platform.ErrNotReady) {
				// An empty tab renders no rows at all; that is a valid,
				// claim-free outcome rather than a failure.
				log.Info("No claim rows present", zap.Int("page", pageNum))
				break
			}
			return out, err
		}

		claims, err := e.collect(ctx, company, section)
		if err != nil {
			return out, err
		}
		if len(claims) == 0 {
			break
		}
		// PrimeNG keeps the paginator clickable on the last page; detecting
		// the same leading row twice is how the end of the data shows up.
		if lastFirst != "" && claims[0].ClaimNumber == lastFirst {
			log.Debug("Pagination did not advance, stopping", zap.Int("page", pageNum))
			break
		}
		out = append(out, claims...)
		lastFirst = claims[0].ClaimNumber
		log.Debug("Collected claims page",
			zap.Int("page", pageNum),
			zap.Int("rows", len(claims)))

		if !e.nextPage(ctx) {
			break
		}
	}

	log.Info("Claims extraction finished", zap.Int("claims", len(out)))
	return out, nil
}

// openTab clicks the section tab and waits for the table swap to settle.
func (e *Extractor) openTab(ctx context.Context, label string) error {
	loc := platform.Locator{Selector: e.cfg.Selectors.Tab, Text: label}
	if _, err := e.guard.Perform(ctx, loc, platform.Click(), e.cfg.Retry.Interaction); err != nil {
		return err
	}
	return e.page.WaitReady(ctx)
}

// waitRows blocks until at least one data row is rendered.
func (e *Extractor) waitRows(ctx context.Context) error {
	probe := fmt.Sprintf(`document.querySelectorAll(%s).length > 0`, jsLiteral(e.cfg.Selectors.Rows))
	return e.page.WaitUntil(ctx, e.cfg.Retry.ReadyTimeout, func(ctx context.Context) (bool, error) {
		var present bool
		if err := e.page.Evaluate(ctx, probe, &present); err != nil {
			return false, err
		}
		return present, nil
	})
}

// collect captures the current page's HTML and parses the claim rows out of
// it.
func (e *Extractor) collect(ctx context.Context, company string, section Section) ([]Claim, error) {
	html, err := e.page.PageHTML(ctx, e.cfg.Selectors.ClaimsScope)
	if err != nil {
		return nil, fmt.Errorf("capture claims page: %w", err)
	}
	return parseTable(html, e.cfg.Selectors.Rows, company, section)
}

// nextPage advances the paginator. It reports false when no further page
// exists: the next button is rendered disabled and stops matching its
// enabled-only selector.
func (e *Extractor) nextPage(ctx context.Context) bool {
	loc := platform.Locator{Selector: e.cfg.Selectors.PaginatorNext}
	if _, err := e.guard.Perform(ctx, loc, platform.Click(), e.cfg.Retry.Interaction); err != nil {
		if !errors.Is(err, platform.ErrNotFound) {
			e.log.Warn("Paginator click failed", zap.Error(err))
		}
		return false
	}
	if err := e.page.WaitReady(ctx); err != nil {
		e.log.Warn("Page did not settle after pagination", zap.Error(err))
	}
	return true
}

// jsLiteral renders s as a JavaScript string literal.
func jsLiteral(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}
