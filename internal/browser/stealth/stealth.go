// Package stealth injects a small bootstrap script into every new document
// so the portal's bot heuristics see an ordinary desktop Chrome instead of an
// automated one.
package stealth

import (
	"context"
	_ "embed"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

//go:embed bootstrap.js
var bootstrapScript string

// Apply returns an action that installs the evasion bootstrap and, when set,
// overrides the user agent for the session.
func Apply(userAgent string, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if _, err := page.AddScriptToEvaluateOnNewDocument(bootstrapScript).Do(ctx); err != nil {
			return err
		}
		if userAgent != "" {
			if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
				return err
			}
		}
		logger.Debug("Stealth bootstrap installed")
		return nil
	})
}
