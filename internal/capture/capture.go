// Package capture drives a headless Chromium instance to scrape event
// data out of calendar web pages that offer no feed or API. The page is
// loaded, a configured JavaScript expression is evaluated, and its JSON
// result is handed to the extraction pipeline.
package capture

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	appLog "calsync/internal/log"
)

const (
	DefaultTimeoutSec = 30

	// DefaultExpression covers pages that expose their event data as a
	// global; sites needing anything else configure their own expression.
	DefaultExpression = "JSON.parse(JSON.stringify(window.__EVENTS__ || []))"
)

// Options defines one page-scrape.
type Options struct {
	// URL of the page to load.
	URL string

	// WaitSelector, when set, is a CSS selector the page must render
	// before the expression is evaluated.
	WaitSelector string

	// Expression is a JavaScript expression whose JSON-serializable
	// result becomes the scraped document. Empty falls back to
	// DefaultExpression.
	Expression string

	// Timeout bounds the entire scrape. Zero means DefaultTimeoutSec.
	Timeout time.Duration
}

// Scrape loads the page, waits for it to render, and evaluates the
// configured expression. The result is the decoded JSON document ready
// for field extraction.
func Scrape(parentCtx context.Context, opts Options) (any, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("capture: URL is required")
	}
	expr := strings.TrimSpace(opts.Expression)
	if expr == "" {
		expr = DefaultExpression
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	tasks := chromedp.Tasks{
		chromedp.Navigate(opts.URL),
	}
	if opts.WaitSelector != "" {
		tasks = append(tasks, chromedp.WaitVisible(opts.WaitSelector, chromedp.ByQuery))
	}
	// Final paints and late XHRs settle before evaluation.
	tasks = append(tasks, chromedp.Sleep(500*time.Millisecond))

	var doc any
	tasks = append(tasks, chromedp.Evaluate(expr, &doc))

	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	appLog.Info("capture: page scraped", "url", opts.URL)
	return doc, nil
}
