package scrape

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/anibalchinley/extractor-proveedores/internal/config"
	"github.com/anibalchinley/extractor-proveedores/internal/platform"
)

// The portal loads reCAPTCHA v3 with its site key in the script URL.
var siteKeyPattern = regexp.MustCompile(`https://www\.google\.com/recaptcha/api\.js\?render=([^&'"\s]+)`)

// recaptchaResponseName is where the portal's login form reads the token.
const recaptchaResponseName = "g-recaptcha-response"

// Login authenticates the browser session against the supplier portal.
type Login struct {
	page   Page
	guard  *platform.Guard
	popups *Popups
	solver TokenSolver
	cfg    *config.Config
	log    *zap.Logger
}

// NewLogin builds the login flow. solver may be nil when the deployment has
// no captcha credentials; login then only succeeds if the portal serves no
// challenge.
func NewLogin(page Page, guard *platform.Guard, popups *Popups, solver TokenSolver, cfg *config.Config, log *zap.Logger) *Login {
	return &Login{
		page:   page,
		guard:  guard,
		popups: popups,
		solver: solver,
		cfg:    cfg,
		log:    log.Named("login"),
	}
}

// Do runs the whole login sequence: navigate, fill credentials, solve and
// inject the captcha token, submit, and verify the portal landed on the
// authenticated search page.
func (l *Login) Do(ctx context.Context) error {
	lc := l.cfg.Login
	l.log.Info("Logging into supplier portal", zap.String("url", lc.URL))

	if err := l.page.Navigate(ctx, lc.URL); err != nil {
		return fmt.Errorf("open login page: %w", err)
	}

	budget := l.cfg.Retry.Interaction
	if _, err := l.guard.Perform(ctx, platform.Locator{Selector: lc.UserSelector}, platform.Type(lc.User), budget); err != nil {
		return fmt.Errorf("fill user: %w", err)
	}
	if _, err := l.guard.Perform(ctx, platform.Locator{Selector: lc.PasswordSelector}, platform.Type(lc.Password), budget); err != nil {
		return fmt.Errorf("fill password: %w", err)
	}

	if err := l.solveCaptcha(ctx, lc.URL); err != nil {
		return err
	}

	if _, err := l.guard.Perform(ctx, platform.Locator{Selector: lc.SubmitSelector}, platform.Click(), budget); err != nil {
		return fmt.Errorf("submit login: %w", err)
	}

	if err := l.awaitRedirect(ctx, lc.SuccessURLSubstring); err != nil {
		return err
	}
	l.log.Info("Login redirect observed", zap.String("fragment", lc.SuccessURLSubstring))

	// The portal raises a welcome dialog over the search page right after
	// authenticating.
	if err := l.popups.Dismiss(ctx); err != nil {
		return err
	}
	return l.verify(ctx)
}

// solveCaptcha finds the page's reCAPTCHA v3 site key, obtains a token and
// plants it where the login form expects it. A page without a captcha is
// legitimate and skips the step.
func (l *Login) solveCaptcha(ctx context.Context, pageURL string) error {
	html, err := l.page.PageHTML(ctx, "")
	if err != nil {
		return fmt.Errorf("read login page source: %w", err)
	}
	m := siteKeyPattern.FindStringSubmatch(html)
	if m == nil {
		l.log.Info("No reCAPTCHA on login page, continuing")
		return nil
	}
	siteKey := m[1]
	if l.solver == nil {
		return fmt.Errorf("login page demands reCAPTCHA (site key %s) but no solver is configured", siteKey)
	}

	l.log.Info("Solving reCAPTCHA v3", zap.String("site_key", siteKey))
	token, err := l.solver.Solve(ctx, siteKey, pageURL)
	if err != nil {
		return fmt.Errorf("solve captcha: %w", err)
	}

	// The response element is not always rendered before the widget runs;
	// create it on demand like the widget itself would.
	inject := fmt.Sprintf(`(() => {
		let el = document.querySelector('[name=%s]');
		if (!el) {
			el = document.createElement('textarea');
			el.name = %s;
			el.style.display = 'none';
			document.body.appendChild(el);
		}
		el.value = %s;
		return true;
	})()`, jsLiteral(recaptchaResponseName), jsLiteral(recaptchaResponseName), jsLiteral(token))
	if err := l.page.Evaluate(ctx, inject, nil); err != nil {
		return fmt.Errorf("inject captcha token: %w", err)
	}
	l.log.Debug("Captcha token injected")
	return nil
}

// awaitRedirect waits until the browser lands on a URL carrying the
// authenticated fragment.
func (l *Login) awaitRedirect(ctx context.Context, fragment string) error {
	err := l.page.WaitUntil(ctx, l.cfg.Browser.NavigationTimeout, func(ctx context.Context) (bool, error) {
		url, err := l.page.CurrentURL(ctx)
		if err != nil {
			return false, err
		}
		return strings.Contains(url, fragment), nil
	})
	if err != nil {
		url, _ := l.page.CurrentURL(ctx)
		return fmt.Errorf("login never reached %q (still on %s): %w", fragment, url, err)
	}
	return nil
}

// verify confirms the session is genuinely authenticated after the popup
// sweep: the page settled and still shows the search URL.
func (l *Login) verify(ctx context.Context) error {
	if err := l.page.WaitReady(ctx); err != nil {
		return fmt.Errorf("post-login page never settled: %w", err)
	}
	url, err := l.page.CurrentURL(ctx)
	if err != nil {
		return fmt.Errorf("verify session: %w", err)
	}
	if !strings.Contains(url, l.cfg.Login.SuccessURLSubstring) {
		return fmt.Errorf("session lost after login, now on %s", url)
	}
	l.log.Info("Session verified", zap.String("url", url))
	return nil
}
