package scraper

import (
	"context"
	"log/slog"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/maltedev/bestseller-affiliator/internal/browser"
	"github.com/maltedev/bestseller-affiliator/internal/diagnostics"
	"github.com/maltedev/bestseller-affiliator/internal/locator"
	"github.com/maltedev/bestseller-affiliator/internal/models"
	"github.com/maltedev/bestseller-affiliator/internal/normalize"
	"github.com/maltedev/bestseller-affiliator/internal/ratelimit"
)

// Scraper reads bestseller listings and product pages through one session.
type Scraper struct {
	session  browser.Session
	resolver *locator.Resolver
	pacer    ratelimit.Pacer
	diag     diagnostics.Sink
	opts     Options
	rng      *rand.Rand
	logger   *slog.Logger
}

func New(session browser.Session, opts Options, logger *slog.Logger) *Scraper {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Pacer == nil {
		opts.Pacer = ratelimit.NewRandomPacer()
	}
	if opts.Diagnostics == nil {
		opts.Diagnostics = diagnostics.Nop{}
	}

	return &Scraper{
		session:  session,
		resolver: locator.NewResolver(logger, opts.WaitTimeout),
		pacer:    opts.Pacer,
		diag:     opts.Diagnostics,
		opts:     opts,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:   logger.With("component", "scraper"),
	}
}

// GetBestsellers extracts the products of one bestseller listing. Names,
// prices and links are located independently and aligned by position; only
// the prefix covered by all three is trusted. Any browser failure abandons
// the category with an empty result.
func (s *Scraper) GetBestsellers(ctx context.Context, categoryURL string) []*models.Product {
	categoryURL = strings.TrimSpace(categoryURL)
	logger := s.logger.With("category", categoryURL)
	logger.Info("fetching bestsellers")

	if err := s.session.Navigate(ctx, categoryURL); err != nil {
		logger.Error("failed to open category", "error", err)
		s.diag.Capture(ctx, s.session, diagnostics.Label("error_category", categoryURL))
		return nil
	}
	s.pause(ctx, s.opts.CategoryLoad)

	if s.blocked(ctx) {
		logger.Warn("category abandoned", "error", ErrBlocked)
		s.diag.Capture(ctx, s.session, diagnostics.Label("blocked_category", categoryURL))
		return nil
	}

	if err := s.scroll(ctx); err != nil {
		logger.Error("failed to scroll listing", "error", err)
		s.diag.Capture(ctx, s.session, diagnostics.Label("error_category", categoryURL))
		return nil
	}

	names := s.resolver.Texts(ctx, s.session, "product name", listingNames)
	prices := locator.Collect(ctx, s.resolver, s.session, "product price", listingPrices, locator.PriceOf)
	links := locator.Collect(ctx, s.resolver, s.session, "product url", listingLinks, productLink(categoryURL))

	count := min(len(names), len(prices), len(links))
	logger.Info("listing fields located",
		"names", len(names),
		"prices", len(prices),
		"urls", len(links),
		"aligned", count,
	)

	products := make([]*models.Product, 0, count)
	for i := 0; i < count; i++ {
		p, err := models.NewProduct(normalize.CleanName(names[i]), links[i], prices[i])
		if err != nil {
			logger.Warn("skipping listing entry", "position", i, "error", err)
			continue
		}
		products = append(products, p)
	}

	logger.Info("created products", "count", len(products))
	return products
}

// GetProductDetails reads name and price from a product page. Both must be
// found; a page yielding only one of them reports false.
func (s *Scraper) GetProductDetails(ctx context.Context, productURL string) (*models.Product, bool) {
	logger := s.logger.With("url", productURL)
	logger.Info("fetching product details")

	if err := s.session.Navigate(ctx, productURL); err != nil {
		logger.Error("failed to open product page", "error", err)
		return nil, false
	}
	s.pause(ctx, s.opts.DetailLoad)

	content, err := s.session.Content(ctx)
	if err != nil {
		logger.Error("failed to read product page", "error", err)
		return nil, false
	}

	doc, err := browser.ParseDocument(content)
	if err != nil {
		logger.Error("failed to parse product page", "error", err)
		return nil, false
	}

	price, priceOK := locator.Single(ctx, s.resolver, doc, "detail price", detailPrices, locator.PriceOf)
	name, nameOK := s.resolver.Text(ctx, doc, "detail name", detailNames)

	if !priceOK || !nameOK {
		logger.Warn("could not extract complete product information",
			"name_found", nameOK,
			"price_found", priceOK,
		)
		return nil, false
	}

	p, err := models.NewProduct(normalize.CleanName(name), productURL, price)
	if err != nil {
		logger.Warn("invalid product details", "error", err)
		return nil, false
	}
	return p, true
}

func (s *Scraper) scroll(ctx context.Context) error {
	for i := 0; i < s.opts.ScrollSteps; i++ {
		pixels := s.opts.ScrollMin
		if s.opts.ScrollMax > s.opts.ScrollMin {
			pixels += s.rng.Intn(s.opts.ScrollMax - s.opts.ScrollMin + 1)
		}
		if err := s.session.ScrollBy(ctx, pixels); err != nil {
			return err
		}
		s.pause(ctx, s.opts.ScrollPause)
	}
	return nil
}

func (s *Scraper) blocked(ctx context.Context) bool {
	_, loc, found := locator.First(ctx, captchaMarkers, func(ctx context.Context, loc browser.Locator) (struct{}, bool) {
		elements, err := s.session.FindElements(ctx, loc)
		return struct{}{}, err == nil && len(elements) > 0
	})
	if found {
		s.logger.Warn("detected captcha/block", "selector", loc.String())
	}
	return found
}

func (s *Scraper) pause(ctx context.Context, r ratelimit.Range) {
	_ = s.pacer.Pause(ctx, r)
}

// productLink reads an anchor's href, resolves it against the listing URL and
// keeps it only when it points at a product page.
func productLink(base string) locator.Extract[string] {
	baseURL, baseErr := url.Parse(base)
	href := locator.AttrOf("href")

	return func(el browser.Element) (string, bool) {
		v, ok := href(el)
		if !ok || !IsProductURL(v) {
			return "", false
		}
		if baseErr != nil {
			return v, true
		}
		ref, err := url.Parse(v)
		if err != nil {
			return "", false
		}
		return baseURL.ResolveReference(ref).String(), true
	}
}
