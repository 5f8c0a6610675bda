package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/anibalchinley/extractor-proveedores/internal/browser/stealth"
	"github.com/anibalchinley/extractor-proveedores/internal/config"
)

// Manager owns the browser executable and the creation of isolated sessions.
type Manager struct {
	logger *zap.Logger
	cfg    *config.Config

	// The allocator context manages the underlying browser process.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	// Track active sessions for graceful shutdown.
	sessions map[string]*Session
	mu       sync.Mutex
}

// NewManager creates and initializes the browser manager.
func NewManager(ctx context.Context, logger *zap.Logger, cfg *config.Config) (*Manager, error) {
	m := &Manager{
		logger:   logger.Named("browser_manager"),
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}

	opts := m.generateAllocatorOptions()
	m.allocatorCtx, m.allocatorCancel = chromedp.NewExecAllocator(ctx, opts...)

	m.logger.Info("Browser manager initialized",
		zap.Bool("headless", cfg.Browser.Headless),
		zap.String("exec_path", cfg.Browser.ExecPath),
	)
	return m, nil
}

// generateAllocatorOptions configures the flags for the browser executable.
func (m *Manager) generateAllocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	browserCfg := m.cfg.Browser

	if browserCfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if browserCfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(browserCfg.ExecPath))
	}
	if browserCfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(browserCfg.UserAgent))
	}
	if browserCfg.WindowWidth > 0 && browserCfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(browserCfg.WindowWidth, browserCfg.WindowHeight))
	}

	opts = append(opts,
		// Essential flags for automation detection evasion.
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),

		// Performance and stability flags.
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("metrics-recording-only", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-prompt-on-repost", true),
		chromedp.Flag("disable-extensions", true),

		// GPU often causes issues in headless/containerized environments.
		chromedp.Flag("disable-gpu", browserCfg.Headless),
	)

	return opts
}

// NewSession creates a new, isolated browser tab bound to the lifetime of
// requestCtx.
func (m *Manager) NewSession(requestCtx context.Context) (*Session, error) {
	ctx, cancel := chromedp.NewContext(m.allocatorCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Errorf),
	)

	// Tie the tab to the lifecycle of the incoming request.
	go func() {
		select {
		case <-requestCtx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	// Starting on about:blank forces the browser process to spawn now, so a
	// broken executable surfaces here rather than mid-run.
	if err := chromedp.Run(ctx, chromedp.Navigate("about:blank")); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize browser session: %w", err)
	}

	if err := chromedp.Run(ctx, stealth.Apply(m.cfg.Browser.UserAgent, m.logger)); err != nil {
		// Non-fatal: the portal still loads without the evasions.
		m.logger.Warn("Failed to apply stealth bootstrap", zap.Error(err))
	}

	sessionID := uuid.New().String()
	s := &Session{
		ctx:     ctx,
		cancel:  cancel,
		logger:  m.logger.Named("session").With(zap.String("session_id", sessionID)),
		cfg:     m.cfg,
		id:      sessionID,
		manager: m,
	}
	if m.cfg.Browser.Humanize {
		s.motion = newMotion()
	}

	m.mu.Lock()
	m.sessions[sessionID] = s
	m.mu.Unlock()

	m.logger.Debug("Browser session created", zap.String("session_id", sessionID))
	return s, nil
}

// unregisterSession removes the session from the tracking map. Called by
// Session.Close.
func (m *Manager) unregisterSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// Shutdown gracefully terminates all sessions and the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down browser manager...")

	m.mu.Lock()
	sessionsToClose := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessionsToClose = append(sessionsToClose, s)
	}
	// Clear the map immediately so no new sessions join the shutdown.
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessionsToClose {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			closeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := s.Close(closeCtx); err != nil {
				m.logger.Warn("Error closing browser session during shutdown",
					zap.String("session_id", s.id), zap.Error(err))
			}
		}(s)
	}
	wg.Wait()

	if m.allocatorCancel != nil {
		m.allocatorCancel()
	}

	m.logger.Info("Browser manager shutdown complete.")
	return nil
}
