package scrape

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/anibalchinley/extractor-proveedores/internal/config"
	"github.com/anibalchinley/extractor-proveedores/internal/platform"
)

// fakePage is a scriptable Page double. Elements resolve unless their
// locator key is registered as missing; clicks and typed text are recorded
// for assertions; page HTML is served from a paged slice advanced by clicks
// on the paginator selector.
type fakePage struct {
	mu sync.Mutex

	url          string
	pages        []string
	pageIdx      int
	paginatorSel string
	missing      map[string]bool

	navigated []string
	clicked   []string
	typed     map[string]string
	evaluated []string

	// backdropClicks is what the backdrop sweep script reports once.
	backdropClicks int

	// onClick lets a test mutate state when a selector is clicked.
	onClick func(loc platform.Locator)
}

func newFakePage() *fakePage {
	return &fakePage{
		missing: make(map[string]bool),
		typed:   make(map[string]string),
	}
}

type fakeEl struct{ loc platform.Locator }

func (f fakeEl) Locator() platform.Locator { return f.loc }

func locKey(loc platform.Locator) string {
	return loc.Scope + "|" + loc.Selector + "|" + loc.Text
}

func (p *fakePage) currentHTML() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pages) == 0 {
		return ""
	}
	if p.pageIdx >= len(p.pages) {
		return p.pages[len(p.pages)-1]
	}
	return p.pages[p.pageIdx]
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, url)
	p.url = url
	return nil
}

func (p *fakePage) CurrentURL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *fakePage) Find(_ context.Context, loc platform.Locator) (platform.Element, error) {
	if loc.IsZero() {
		return nil, platform.ErrNotFound
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.missing[locKey(loc)] {
		return nil, platform.ErrNotFound
	}
	return fakeEl{loc: loc}, nil
}

func (p *fakePage) IsVisible(context.Context, platform.Element) (bool, error)  { return true, nil }
func (p *fakePage) IsEnabled(context.Context, platform.Element) (bool, error)  { return true, nil }
func (p *fakePage) IsObscured(context.Context, platform.Element) (bool, error) { return false, nil }

func (p *fakePage) Click(_ context.Context, el platform.Element) error {
	loc := el.Locator()
	p.mu.Lock()
	p.clicked = append(p.clicked, locKey(loc))
	if p.paginatorSel != "" && loc.Selector == p.paginatorSel {
		p.pageIdx++
	}
	hook := p.onClick
	p.mu.Unlock()
	if hook != nil {
		hook(loc)
	}
	return nil
}

func (p *fakePage) ReadText(context.Context, platform.Element) (string, error) { return "", nil }

func (p *fakePage) TypeText(_ context.Context, el platform.Element, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.typed[el.Locator().Selector] = text
	return nil
}

func (p *fakePage) ScreenshotRegion(context.Context, platform.Locator) ([]byte, error) {
	return []byte{1}, nil
}

func (p *fakePage) WaitReady(context.Context) error { return nil }

func (p *fakePage) WaitUntil(ctx context.Context, _ time.Duration, pred func(ctx context.Context) (bool, error)) error {
	ok, err := pred(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return platform.ErrNotReady
	}
	return nil
}

func (p *fakePage) AcquireOpLock(ctx context.Context) (context.Context, func()) {
	return ctx, func() {}
}

func (p *fakePage) PageHTML(context.Context, string) (string, error) {
	return p.currentHTML(), nil
}

// Evaluate answers the probes the flows use: row presence is keyed off the
// current page HTML, backdrop probes off backdropClicks. Everything else is
// recorded and succeeds.
func (p *fakePage) Evaluate(_ context.Context, expr string, out any) error {
	p.mu.Lock()
	p.evaluated = append(p.evaluated, expr)
	clicks := p.backdropClicks
	p.backdropClicks = 0
	p.mu.Unlock()

	switch v := out.(type) {
	case *bool:
		if strings.Contains(expr, "getBoundingClientRect") {
			*v = true // backdrops cleared
		} else {
			*v = strings.Contains(p.currentHTML(), "<tr")
		}
	case *int:
		*v = clicks
	}
	return nil
}

func (p *fakePage) evaluatedContaining(substr string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.evaluated {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

// quickRetry is a budget that keeps test retries instantaneous.
var quickRetry = platform.Budget{MaxAttempts: 2, BaseDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Browser.NavigationTimeout = 200 * time.Millisecond
	cfg.Browser.OperationTimeout = 200 * time.Millisecond
	cfg.Selectors.Dropdown = "img.dropdown-arrow"
	cfg.Selectors.Option = "a.option"
	cfg.Selectors.Loaders = "div.loader"
	cfg.Selectors.Backdrops = ".backdrop"
	cfg.Selectors.AcceptLabels = []string{"Aceptar", "Acepto", "Entendido"}
	cfg.Selectors.DialogAccept = "div.dialog-footer button.primary"
	cfg.Selectors.PaginatorNext = "button.paginator-next"
	cfg.Selectors.Tab = "span.tab"
	cfg.Selectors.AssignedTabLabel = "Asignados"
	cfg.Selectors.SettlementTabLabel = "Liquidación"
	cfg.Selectors.Rows = "tr.claim-row"
	cfg.Selectors.ClaimsScope = "body"
	cfg.Retry.Interaction = quickRetry
	cfg.Retry.ReadyTimeout = 100 * time.Millisecond
	cfg.Retry.SettleDelay = 0
	cfg.Retry.PollInterval = time.Millisecond
	cfg.Login.URL = "https://portal.example.cl/login"
	cfg.Login.User = "11111111-1"
	cfg.Login.Password = "secret"
	cfg.Login.UserSelector = `input[formcontrolname="username"]`
	cfg.Login.PasswordSelector = `input[formcontrolname="password"]`
	cfg.Login.SubmitSelector = "button.login-submit"
	cfg.Login.SuccessURLSubstring = "busqueda-avanzada"
	return cfg
}
