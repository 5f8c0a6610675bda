package platform

// Shared test doubles: an in-memory driver whose page state tests mutate
// through hooks, plus a constructor wiring classifier, guard and controller
// the way a session would.

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func testLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t)
}

type fakeNode struct {
	visible  bool
	enabled  bool
	obscured bool
	text     string
}

type fakeElement struct {
	loc Locator
	gen int
}

func (e *fakeElement) Locator() Locator { return e.loc }

type fakeOpLockKey struct{}

// fakeDriver simulates a rendered page. Handles carry the generation they
// were resolved under; bumping the generation invalidates everything
// outstanding, which is how tests force staleness.
type fakeDriver struct {
	mu    sync.Mutex
	opMu  sync.Mutex
	url   string
	nodes map[string]*fakeNode
	shots map[string][][]byte
	gen   int

	finds       map[string]int
	clicks      map[string]int
	waitCalls   int
	navigations int
	poll        time.Duration

	// clickErrs is popped one entry per Click dispatch, letting tests
	// script failures that race in at dispatch time.
	clickErrs []error

	beforeFind func(loc Locator)
	afterWait  func()
	onClick    func(loc Locator)
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		nodes:  make(map[string]*fakeNode),
		shots:  make(map[string][][]byte),
		finds:  make(map[string]int),
		clicks: make(map[string]int),
		poll:   time.Millisecond,
	}
}

func locKey(loc Locator) string {
	return loc.Selector + "|" + loc.Scope + "|" + loc.Text
}

// show places a visible, enabled, unobscured node for the locator.
func (d *fakeDriver) show(loc Locator) *fakeNode {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := &fakeNode{visible: true, enabled: true}
	d.nodes[locKey(loc)] = n
	return n
}

func (d *fakeDriver) hide(loc Locator) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.nodes, locKey(loc))
}

// invalidate kills every outstanding handle.
func (d *fakeDriver) invalidate() {
	d.mu.Lock()
	d.gen++
	d.mu.Unlock()
}

func (d *fakeDriver) node(loc Locator) (*fakeNode, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[locKey(loc)]
	return n, ok
}

func (d *fakeDriver) live(el Element) (*fakeElement, *fakeNode, error) {
	fe, ok := el.(*fakeElement)
	if !ok {
		return nil, nil, fmt.Errorf("foreign element type %T", el)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if fe.gen != d.gen {
		return nil, nil, fmt.Errorf("handle from generation %d: %w", fe.gen, ErrStaleReference)
	}
	n, ok := d.nodes[locKey(fe.loc)]
	if !ok {
		return nil, nil, fmt.Errorf("node gone: %w", ErrStaleReference)
	}
	return fe, n, nil
}

func (d *fakeDriver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	d.url = url
	d.navigations++
	d.gen++
	d.mu.Unlock()
	return ctx.Err()
}

func (d *fakeDriver) CurrentURL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url, nil
}

func (d *fakeDriver) Find(ctx context.Context, loc Locator) (Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.beforeFind != nil {
		d.beforeFind(loc)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.finds[locKey(loc)]++
	if _, ok := d.nodes[locKey(loc)]; !ok {
		return nil, fmt.Errorf("%s: %w", loc, ErrNotFound)
	}
	return &fakeElement{loc: loc, gen: d.gen}, nil
}

func (d *fakeDriver) IsVisible(ctx context.Context, el Element) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, n, err := d.live(el)
	if err != nil {
		return false, err
	}
	return n.visible, nil
}

func (d *fakeDriver) IsEnabled(ctx context.Context, el Element) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, n, err := d.live(el)
	if err != nil {
		return false, err
	}
	return n.enabled, nil
}

func (d *fakeDriver) IsObscured(ctx context.Context, el Element) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, n, err := d.live(el)
	if err != nil {
		return false, err
	}
	return n.obscured, nil
}

func (d *fakeDriver) Click(ctx context.Context, el Element) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fe, n, err := d.live(el)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.clicks[locKey(fe.loc)]++
	var scripted error
	if len(d.clickErrs) > 0 {
		scripted = d.clickErrs[0]
		d.clickErrs = d.clickErrs[1:]
	}
	d.mu.Unlock()
	if scripted != nil {
		return fmt.Errorf("%s: %w", fe.loc, scripted)
	}
	if n.obscured {
		return fmt.Errorf("%s: %w", fe.loc, ErrInteractionBlocked)
	}
	if d.onClick != nil {
		d.onClick(fe.loc)
	}
	return nil
}

func (d *fakeDriver) ReadText(ctx context.Context, el Element) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	_, n, err := d.live(el)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(n.text), nil
}

func (d *fakeDriver) TypeText(ctx context.Context, el Element, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, n, err := d.live(el)
	if err != nil {
		return err
	}
	n.text = text
	return nil
}

func (d *fakeDriver) ScreenshotRegion(ctx context.Context, loc Locator) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	key := locKey(loc)
	if _, ok := d.nodes[key]; !ok {
		return nil, fmt.Errorf("%s: %w", loc, ErrNotFound)
	}
	if seq := d.shots[key]; len(seq) > 0 {
		shot := seq[0]
		if len(seq) > 1 {
			d.shots[key] = seq[1:]
		}
		return shot, nil
	}
	return []byte(key), nil
}

func (d *fakeDriver) WaitReady(ctx context.Context) error {
	return ctx.Err()
}

func (d *fakeDriver) WaitUntil(ctx context.Context, timeout time.Duration, pred func(ctx context.Context) (bool, error)) error {
	d.mu.Lock()
	d.waitCalls++
	d.mu.Unlock()
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("wait aborted: %w", err)
		}
		ok, err := pred(ctx)
		if err != nil {
			return err
		}
		if ok {
			if d.afterWait != nil {
				d.afterWait()
			}
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("condition not met within %s: %w", timeout, ErrNotReady)
		}
		select {
		case <-time.After(d.poll):
		case <-ctx.Done():
			return fmt.Errorf("wait aborted: %w", ctx.Err())
		}
	}
}

func (d *fakeDriver) AcquireOpLock(ctx context.Context) (context.Context, func()) {
	if held, ok := ctx.Value(fakeOpLockKey{}).(*fakeDriver); ok && held == d {
		return ctx, func() {}
	}
	d.opMu.Lock()
	return context.WithValue(ctx, fakeOpLockKey{}, d), func() { d.opMu.Unlock() }
}

var (
	bciLogo   = Locator{Selector: "img[src*='bciseguros']"}
	zenitLogo = Locator{Selector: "img[src*='zenit']"}
	openArrow = Locator{Selector: "img[src*='icon-ui-nav-flecha-abajo.svg']"}
	bciOpt    = Locator{Selector: "a.bs-selector.grande", Text: "BCI Seguros"}
	zenitOpt  = Locator{Selector: "a.bs-selector.grande", Text: "Zenit Seguros"}
)

func testSignals() []DetectionSignal {
	return []DetectionSignal{
		{Name: "bci logo", Target: BCI, Kind: SignalElement, Locator: bciLogo, Predicate: PredicateVisible},
		{Name: "zenit logo", Target: Zenit, Kind: SignalElement, Locator: zenitLogo, Predicate: PredicateVisible},
		{Name: "bci url", Target: BCI, Kind: SignalURL, URLSubstring: "bciseguros.cl"},
		{Name: "zenit url", Target: Zenit, Kind: SignalURL, URLSubstring: "zenit.cl"},
	}
}

type harness struct {
	drv   *fakeDriver
	cls   *Classifier
	guard *Guard
	store *Store
	ctrl  *Controller
}

type harnessOpt func(*harnessConfig)

type harnessConfig struct {
	classifyBudget    Budget
	interactBudget    Budget
	transitionBudget  Budget
	readyTimeout      time.Duration
	settleDelay       time.Duration
	classifierSignals []DetectionSignal
}

func withTransitionBudget(b Budget) harnessOpt {
	return func(c *harnessConfig) { c.transitionBudget = b }
}

func withInteractionBudget(b Budget) harnessOpt {
	return func(c *harnessConfig) { c.interactBudget = b }
}

func withClassifyBudget(b Budget) harnessOpt {
	return func(c *harnessConfig) { c.classifyBudget = b }
}

func withReadyTimeout(d time.Duration) harnessOpt {
	return func(c *harnessConfig) { c.readyTimeout = d }
}

func newHarness(t *testing.T, opts ...harnessOpt) *harness {
	t.Helper()
	cfg := harnessConfig{
		classifyBudget:    Budget{MaxAttempts: 1, BaseDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond},
		interactBudget:    Budget{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 4 * time.Millisecond},
		transitionBudget:  Budget{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 4 * time.Millisecond},
		readyTimeout:      50 * time.Millisecond,
		settleDelay:       time.Millisecond,
		classifierSignals: testSignals(),
	}
	for _, o := range opts {
		o(&cfg)
	}

	log := testLogger(t)
	drv := newFakeDriver()
	store := NewStore()
	cls := NewClassifier(drv, cfg.classifierSignals, cfg.classifyBudget, time.Millisecond, log)
	guard := NewGuard(drv, GuardConfig{ReadyTimeout: cfg.readyTimeout, SettleDelay: cfg.settleDelay}, log)
	ctrl := NewController(drv, cls, guard, store, ControllerConfig{
		TransitionBudget:  cfg.transitionBudget,
		InteractionBudget: cfg.interactBudget,
		Plan: SwitchPlan{
			Open: openArrow,
			Options: map[Context]Locator{
				BCI:   bciOpt,
				Zenit: zenitOpt,
			},
		},
	}, log)

	return &harness{drv: drv, cls: cls, guard: guard, store: store, ctrl: ctrl}
}

// showPortal renders exactly one portal's logo, hiding the other.
func (h *harness) showPortal(c Context) {
	h.drv.hide(bciLogo)
	h.drv.hide(zenitLogo)
	switch c {
	case BCI:
		h.drv.show(bciLogo)
	case Zenit:
		h.drv.show(zenitLogo)
	}
}
