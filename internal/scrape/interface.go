package scrape

import (
	"context"

	"github.com/anibalchinley/extractor-proveedores/internal/platform"
)

// Page is the browser surface the portal flows need: the guarded element
// operations of platform.Driver plus raw HTML capture and script evaluation
// for the pieces the portal only exposes through page source.
type Page interface {
	platform.Driver

	// PageHTML returns the outer HTML of the first element matching sel, or
	// of the document when sel is empty.
	PageHTML(ctx context.Context, sel string) (string, error)
	// Evaluate runs a JavaScript expression and unmarshals its result into
	// out. Pass nil to discard the result.
	Evaluate(ctx context.Context, expr string, out any) error
}

// TokenSolver produces a reCAPTCHA v3 response token for a site key found on
// a page.
type TokenSolver interface {
	Solve(ctx context.Context, siteKey, pageURL string) (string, error)
}
