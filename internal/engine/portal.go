package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/anibalchinley/extractor-proveedores/internal/browser"
	"github.com/anibalchinley/extractor-proveedores/internal/config"
	"github.com/anibalchinley/extractor-proveedores/internal/platform"
	"github.com/anibalchinley/extractor-proveedores/internal/scrape"
)

// browserPortal is the production Portal: every Open starts a Chrome session
// and binds the platform and scrape collaborators to it.
type browserPortal struct {
	manager *browser.Manager
	solver  scrape.TokenSolver
	cfg     *config.Config
	log     *zap.Logger
}

func newBrowserPortal(manager *browser.Manager, solver scrape.TokenSolver, cfg *config.Config, log *zap.Logger) *browserPortal {
	return &browserPortal{
		manager: manager,
		solver:  solver,
		cfg:     cfg,
		log:     log,
	}
}

func (p *browserPortal) Open(ctx context.Context) (PortalSession, error) {
	sess, err := p.manager.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting browser session: %w", err)
	}

	guard := platform.NewGuard(sess, platform.GuardConfig{
		ReadyTimeout: p.cfg.Retry.ReadyTimeout,
		SettleDelay:  p.cfg.Retry.SettleDelay,
	}, p.log)
	classifier := platform.NewClassifier(sess, signalSet(p.cfg),
		p.cfg.Retry.Classification, p.cfg.Retry.StablePause, p.log)
	controller := platform.NewController(sess, classifier, guard, platform.NewStore(),
		platform.ControllerConfig{
			TransitionBudget:  p.cfg.Retry.Transition,
			InteractionBudget: p.cfg.Retry.Interaction,
			Plan:              switchPlan(p.cfg),
		}, p.log)

	popups := scrape.NewPopups(sess, guard, p.cfg, p.log)
	return &portalSession{
		session:    sess,
		controller: controller,
		popups:     popups,
		login:      scrape.NewLogin(sess, guard, popups, p.solver, p.cfg, p.log),
		extractor:  scrape.NewExtractor(sess, guard, p.cfg, p.log),
	}, nil
}

// signalSet builds the detection signals from configuration: one logo signal
// per insurer on the element tier, one URL substring each on the fallback
// tier. The logos decide; the URL only speaks when neither logo rendered.
func signalSet(cfg *config.Config) []platform.DetectionSignal {
	return []platform.DetectionSignal{
		{
			Name:      "bci logo",
			Target:    platform.BCI,
			Kind:      platform.SignalElement,
			Locator:   platform.Locator{Selector: cfg.Platforms.BCI.LogoSelector},
			Predicate: platform.PredicateVisible,
		},
		{
			Name:      "zenit logo",
			Target:    platform.Zenit,
			Kind:      platform.SignalElement,
			Locator:   platform.Locator{Selector: cfg.Platforms.Zenit.LogoSelector},
			Predicate: platform.PredicateVisible,
		},
		{
			Name:         "bci url",
			Target:       platform.BCI,
			Kind:         platform.SignalURL,
			URLSubstring: cfg.Platforms.BCI.URLSubstring,
		},
		{
			Name:         "zenit url",
			Target:       platform.Zenit,
			Kind:         platform.SignalURL,
			URLSubstring: cfg.Platforms.Zenit.URLSubstring,
		},
	}
}

// switchPlan builds the portal selector plan: the dropdown arrow opens the
// insurer menu, the option entries are matched by their visible label.
func switchPlan(cfg *config.Config) platform.SwitchPlan {
	return platform.SwitchPlan{
		Open: platform.Locator{Selector: cfg.Selectors.Dropdown},
		Options: map[platform.Context]platform.Locator{
			platform.BCI:   {Selector: cfg.Selectors.Option, Text: cfg.Platforms.BCI.OptionLabel},
			platform.Zenit: {Selector: cfg.Selectors.Option, Text: cfg.Platforms.Zenit.OptionLabel},
		},
	}
}

type portalSession struct {
	session    *browser.Session
	controller *platform.Controller
	popups     *scrape.Popups
	login      *scrape.Login
	extractor  *scrape.Extractor
}

func (s *portalSession) Login(ctx context.Context) error {
	return s.login.Do(ctx)
}

// Ensure confirms the target context and then clears whatever welcome dialog
// the freshly loaded portal throws up, so the harvest starts on a clean page.
func (s *portalSession) Ensure(ctx context.Context, target platform.Context) error {
	if err := s.controller.Ensure(ctx, target); err != nil {
		return err
	}
	return s.popups.Dismiss(ctx)
}

func (s *portalSession) Assigned(ctx context.Context, company string) ([]scrape.Claim, error) {
	return s.extractor.Assigned(ctx, company)
}

func (s *portalSession) Settlement(ctx context.Context, company string) ([]scrape.Claim, error) {
	return s.extractor.Settlement(ctx, company)
}

func (s *portalSession) History() []platform.TransitionRecord {
	return s.controller.History()
}

func (s *portalSession) Close() error {
	return s.session.Close(context.Background())
}
