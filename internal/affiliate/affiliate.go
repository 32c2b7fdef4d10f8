// Package affiliate drives the associates toolbar on a product page to
// obtain a shortened affiliate link.
package affiliate

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/bestseller-affiliator/internal/browser"
	"github.com/maltedev/bestseller-affiliator/internal/diagnostics"
	"github.com/maltedev/bestseller-affiliator/internal/locator"
	"github.com/maltedev/bestseller-affiliator/internal/ratelimit"
)

var (
	getLinkButtons = locator.Of(
		browser.ID("amzn-ss-get-link-button"),
		browser.CSS("#amzn-ss-get-link"),
		browser.XPath("//span[contains(text(), 'Obtenha o link')]"),
		browser.XPath("//span[contains(text(), 'Get link')]"),
		browser.CSS(".amzn-ss-wrap button"),
	)

	shortLinkFields = locator.Of(
		browser.ID("amzn-ss-text-shortlink-textarea"),
		browser.CSS(".amzn-ss-text-shortlink-textarea"),
		browser.CSS("textarea.a-text-center"),
		browser.XPath("//textarea[contains(@id, 'shortlink')]"),
	)
)

type Options struct {
	WaitTimeout time.Duration
	PageLoad    ratelimit.Range
	AfterClick  ratelimit.Range
	BeforeRead  ratelimit.Range
	Pacer       ratelimit.Pacer
	Diagnostics diagnostics.Sink
}

func DefaultOptions() Options {
	return Options{
		WaitTimeout: 20 * time.Second,
		PageLoad:    ratelimit.Between(2*time.Second, 4*time.Second),
		AfterClick:  ratelimit.Between(1*time.Second, 3*time.Second),
		BeforeRead:  ratelimit.Between(500*time.Millisecond, 1500*time.Millisecond),
	}
}

type Generator struct {
	session  browser.Session
	resolver *locator.Resolver
	pacer    ratelimit.Pacer
	diag     diagnostics.Sink
	opts     Options
	logger   *slog.Logger
}

func NewGenerator(session browser.Session, opts Options, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Pacer == nil {
		opts.Pacer = ratelimit.NewRandomPacer()
	}
	if opts.Diagnostics == nil {
		opts.Diagnostics = diagnostics.Nop{}
	}

	return &Generator{
		session:  session,
		resolver: locator.NewResolver(logger, opts.WaitTimeout),
		pacer:    opts.Pacer,
		diag:     opts.Diagnostics,
		opts:     opts,
		logger:   logger.With("component", "affiliate"),
	}
}

// GenerateAffiliateLink opens productURL, clicks the get-link control and
// reads the generated short link. It reports false when either stage cannot
// be completed.
func (g *Generator) GenerateAffiliateLink(ctx context.Context, productURL string) (string, bool) {
	logger := g.logger.With("url", productURL)
	logger.Info("generating affiliate link")

	if err := g.session.Navigate(ctx, productURL); err != nil {
		logger.Error("failed to open product page", "error", err)
		return "", false
	}
	g.pause(ctx, g.opts.PageLoad)

	if !g.clickGetLink(ctx, logger) {
		logger.Error("could not find affiliate button")
		g.diag.Capture(ctx, g.session, diagnostics.Label("affiliate_button_error", productURL))
		return "", false
	}
	g.pause(ctx, g.opts.AfterClick)

	link, loc, ok := locator.Await(ctx, g.resolver, g.session, "affiliate link", shortLinkFields, browser.Present, g.readLink(ctx))
	if !ok {
		logger.Error("could not find affiliate link field")
		g.diag.Capture(ctx, g.session, diagnostics.Label("affiliate_link_error", productURL))
		return "", false
	}

	logger.Info("found affiliate link", "link", link, "locator", loc.String())
	return link, true
}

// clickGetLink clicks the first clickable candidate. A candidate whose click
// fails yields to the next one.
func (g *Generator) clickGetLink(ctx context.Context, logger *slog.Logger) bool {
	_, loc, ok := locator.Await(ctx, g.resolver, g.session, "affiliate button", getLinkButtons, browser.Clickable,
		func(el browser.Element) (struct{}, bool) {
			if err := el.Click(); err != nil {
				logger.Warn("failed to click affiliate button", "error", err)
				return struct{}{}, false
			}
			return struct{}{}, true
		})
	if ok {
		logger.Info("clicked affiliate button", "locator", loc.String())
	}
	return ok
}

func (g *Generator) readLink(ctx context.Context) locator.Extract[string] {
	return func(el browser.Element) (string, bool) {
		g.pause(ctx, g.opts.BeforeRead)
		link, ok := locator.TextOrValue(el)
		return strings.TrimSpace(link), ok
	}
}

func (g *Generator) pause(ctx context.Context, r ratelimit.Range) {
	_ = g.pacer.Pause(ctx, r)
}
