// Package pipeline sequences the scraping runs: authenticate, walk the
// bestseller categories, generate affiliate links and persist the products.
// Every failure local to one category or product is logged and skipped;
// only session-level failures end a run early.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/maltedev/bestseller-affiliator/internal/browser"
	"github.com/maltedev/bestseller-affiliator/internal/models"
	"github.com/maltedev/bestseller-affiliator/internal/normalize"
	"github.com/maltedev/bestseller-affiliator/internal/ratelimit"
	"github.com/maltedev/bestseller-affiliator/internal/storage"
	"github.com/maltedev/bestseller-affiliator/internal/store"
)

var ErrAuthentication = errors.New("authentication failed")

type Authenticator interface {
	Ensure(ctx context.Context) error
}

type Scraper interface {
	GetBestsellers(ctx context.Context, categoryURL string) []*models.Product
	GetProductDetails(ctx context.Context, productURL string) (*models.Product, bool)
}

type LinkGenerator interface {
	GenerateAffiliateLink(ctx context.Context, productURL string) (string, bool)
}

type Store interface {
	AddProduct(ctx context.Context, p *models.Product) (int, error)
	UpdateProduct(ctx context.Context, index int, p *models.Product) error
	Entries(ctx context.Context) []store.Entry
}

type LinkWriter interface {
	Append(link string) error
}

// feedback is implemented by limiters that adapt to outcomes.
type feedback interface {
	RecordSuccess()
	RecordError()
}

// Deps are the collaborators of a run. Runs that do not need a collaborator
// leave it nil: Import and Update never authenticate or generate links.
type Deps struct {
	Auth      Authenticator
	Scraper   Scraper
	Affiliate LinkGenerator
	Store     Store
	Links     LinkWriter
	Metrics   *Metrics
}

type Options struct {
	// AfterAuth is the pause between a ready session and the first category.
	AfterAuth ratelimit.Range
	// ProductDelay spaces consecutive product iterations.
	ProductDelay ratelimit.Range
	// Limiter overrides the adaptive limiter built from ProductDelay.
	Limiter   ratelimit.RateLimiter
	Pacer     ratelimit.Pacer
	CacheSize int
	Now       func() time.Time
}

func DefaultOptions() Options {
	return Options{
		AfterAuth:    ratelimit.Between(2*time.Second, 5*time.Second),
		ProductDelay: ratelimit.Between(2*time.Second, 5*time.Second),
		CacheSize:    512,
		Now:          time.Now,
	}
}

// Summary counts what one run did.
type Summary struct {
	RunID      string
	Categories int
	Scraped    int
	Linked     int
	Stored     int
	Skipped    int
	Changed    int
}

type Pipeline struct {
	deps    Deps
	opts    Options
	limiter ratelimit.RateLimiter
	pacer   ratelimit.Pacer
	links   *lru.Cache[string, string]
	logger  *slog.Logger
}

func New(deps Deps, opts Options, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Pacer == nil {
		opts.Pacer = ratelimit.NewRandomPacer()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultOptions().CacheSize
	}

	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.NewAdaptiveRateLimiter(opts.ProductDelay.Min, opts.ProductDelay.Max)
	}

	cache, err := lru.New[string, string](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create link cache: %w", err)
	}

	return &Pipeline{
		deps:    deps,
		opts:    opts,
		limiter: limiter,
		pacer:   opts.Pacer,
		links:   cache,
		logger:  logger.With("component", "pipeline"),
	}, nil
}

// RunBestsellers processes every category URL listed in topicsFile. Only
// products that received an affiliate link are stored and appended to the
// links output.
func (p *Pipeline) RunBestsellers(ctx context.Context, topicsFile string) (Summary, error) {
	summary := Summary{RunID: uuid.New().String()}
	logger := p.logger.With("run_id", summary.RunID, "mode", "bestsellers")
	start := p.opts.Now()
	defer func() { p.deps.Metrics.ObserveRun("bestsellers", p.opts.Now().Sub(start)) }()

	topics, err := storage.ReadLines(topicsFile)
	if err != nil {
		return summary, fmt.Errorf("failed to read topics: %w", err)
	}
	logger.Info("starting bestseller run", "categories", len(topics), "topics_file", topicsFile)

	if err := p.deps.Auth.Ensure(ctx); err != nil {
		logger.Error("login failed, cannot continue", "error", err)
		return summary, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	if err := p.pacer.Pause(ctx, p.opts.AfterAuth); err != nil {
		return summary, err
	}

	for _, topic := range topics {
		if err := ctx.Err(); err != nil {
			logger.Warn("run interrupted", "error", err)
			return summary, err
		}
		summary.Categories++
		logger.Info("processing category", "category", topic)

		products := p.deps.Scraper.GetBestsellers(ctx, topic)
		if len(products) == 0 {
			logger.Warn("no products found for category", "category", topic)
			p.deps.Metrics.IncCategory("empty")
			continue
		}
		p.deps.Metrics.IncCategory("scraped")
		p.deps.Metrics.AddScraped(len(products))
		summary.Scraped += len(products)
		logger.Info("found products", "category", topic, "count", len(products))

		for i, product := range products {
			if err := p.limiter.Wait(ctx); err != nil {
				logger.Warn("run interrupted", "error", err)
				return summary, err
			}
			p.processProduct(ctx, logger.With("position", i+1, "of", len(products)), product, &summary)
		}
	}

	logger.Info("bestseller run completed",
		"categories", summary.Categories,
		"scraped", summary.Scraped,
		"linked", summary.Linked,
		"stored", summary.Stored,
		"skipped", summary.Skipped,
	)
	return summary, nil
}

func (p *Pipeline) processProduct(ctx context.Context, logger *slog.Logger, product *models.Product, summary *Summary) {
	logger = logger.With("product", product.Name)
	logger.Info("processing product")

	link, ok := p.affiliateLink(ctx, product.URL)
	if !ok {
		logger.Warn("failed to generate affiliate link, skipping product", "url", product.URL)
		p.deps.Metrics.IncError("affiliate")
		p.record(false)
		summary.Skipped++
		return
	}
	product.AffiliateURL = link
	summary.Linked++
	p.record(true)

	index, err := p.deps.Store.AddProduct(ctx, product)
	if err != nil {
		logger.Error("failed to store product", "error", err)
		p.deps.Metrics.IncError("store")
	} else {
		summary.Stored++
		p.deps.Metrics.IncStored("add")
		logger.Debug("stored product", "index", index)
	}

	if err := p.deps.Links.Append(link); err != nil {
		logger.Error("failed to save affiliate link", "error", err)
		p.deps.Metrics.IncError("links_file")
		return
	}
	logger.Info("saved affiliate link", "affiliate_url", link)
}

// affiliateLink serves repeated product URLs from the cache; the same book
// is often listed in several categories.
func (p *Pipeline) affiliateLink(ctx context.Context, productURL string) (string, bool) {
	if link, ok := p.links.Get(productURL); ok {
		p.deps.Metrics.IncAffiliate("cached")
		return link, true
	}

	link, ok := p.deps.Affiliate.GenerateAffiliateLink(ctx, productURL)
	if !ok {
		p.deps.Metrics.IncAffiliate("failed")
		return "", false
	}
	p.deps.Metrics.IncAffiliate("generated")
	p.links.Add(productURL, link)
	return link, true
}

func (p *Pipeline) record(success bool) {
	fb, ok := p.limiter.(feedback)
	if !ok {
		return
	}
	if success {
		fb.RecordSuccess()
	} else {
		fb.RecordError()
	}
}

// Import stores the products behind every Amazon link in linksFile. Short
// affiliate links are kept as the product's affiliate URL.
func (p *Pipeline) Import(ctx context.Context, linksFile string) (Summary, error) {
	summary := Summary{RunID: uuid.New().String()}
	logger := p.logger.With("run_id", summary.RunID, "mode", "import")
	start := p.opts.Now()
	defer func() { p.deps.Metrics.ObserveRun("import", p.opts.Now().Sub(start)) }()

	lines, err := storage.ReadLines(linksFile)
	if err != nil {
		return summary, fmt.Errorf("failed to read links: %w", err)
	}

	var links []string
	for _, line := range lines {
		if normalize.IsAffiliateLink(line) {
			links = append(links, line)
		}
	}
	logger.Info("starting import", "valid", len(links), "total", len(lines), "file", linksFile)

	for i, link := range links {
		if err := p.limiter.Wait(ctx); err != nil {
			logger.Warn("run interrupted", "error", err)
			return summary, err
		}
		itemLogger := logger.With("position", i+1, "of", len(links), "link", link)

		product, ok := p.deps.Scraper.GetProductDetails(ctx, link)
		if !ok {
			itemLogger.Warn("no product details, skipping link")
			p.deps.Metrics.IncError("details")
			p.record(false)
			summary.Skipped++
			continue
		}
		summary.Scraped++
		p.record(true)

		if normalize.IsShortLink(link) {
			product.AffiliateURL = link
		}

		if _, err := p.deps.Store.AddProduct(ctx, product); err != nil {
			itemLogger.Error("failed to store product", "error", err)
			p.deps.Metrics.IncError("store")
			continue
		}
		summary.Stored++
		p.deps.Metrics.IncStored("add")
		itemLogger.Info("added product", "product", product.Name)
	}

	logger.Info("import completed", "processed", len(links), "stored", summary.Stored, "skipped", summary.Skipped)
	return summary, nil
}

// Update refetches every stored product and rewrites it in place with the
// previous price kept as its last price.
func (p *Pipeline) Update(ctx context.Context) (Summary, error) {
	summary := Summary{RunID: uuid.New().String()}
	logger := p.logger.With("run_id", summary.RunID, "mode", "update")
	start := p.opts.Now()
	defer func() { p.deps.Metrics.ObserveRun("update", p.opts.Now().Sub(start)) }()

	entries := p.deps.Store.Entries(ctx)
	logger.Info("starting update", "products", len(entries))

	for _, entry := range entries {
		if err := p.limiter.Wait(ctx); err != nil {
			logger.Warn("run interrupted", "error", err)
			return summary, err
		}
		stored := entry.Product
		itemLogger := logger.With("index", entry.Index, "product", stored.Name)

		fresh, ok := p.deps.Scraper.GetProductDetails(ctx, stored.URL)
		if !ok {
			itemLogger.Warn("could not refresh product, keeping stored record")
			p.deps.Metrics.IncError("details")
			p.record(false)
			summary.Skipped++
			continue
		}
		summary.Scraped++
		p.record(true)

		updated := *stored
		updated.Name = fresh.Name
		updated.Refresh(fresh.Price, p.opts.Now())

		if err := p.deps.Store.UpdateProduct(ctx, entry.Index, &updated); err != nil {
			itemLogger.Error("failed to update product", "error", err)
			p.deps.Metrics.IncError("store")
			continue
		}
		summary.Stored++
		p.deps.Metrics.IncStored("update")

		if updated.PriceChanged() {
			summary.Changed++
			itemLogger.Info("price changed", "old_price", *updated.LastPrice, "new_price", updated.Price)
		} else {
			itemLogger.Info("price unchanged", "price", updated.Price)
		}
	}

	logger.Info("update completed", "updated", summary.Stored, "changed", summary.Changed, "skipped", summary.Skipped)
	return summary, nil
}

// WithSession opens a browser session, runs fn and closes the session exactly
// once, whether fn succeeds, fails or panics.
func WithSession(ctx context.Context, open func(context.Context) (browser.Session, error), logger *slog.Logger, fn func(context.Context, browser.Session) error) error {
	if logger == nil {
		logger = slog.Default()
	}

	session, err := open(ctx)
	if err != nil {
		return fmt.Errorf("failed to open browser session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("error while closing browser", "error", err)
			return
		}
		logger.Info("browser closed")
	}()

	return fn(ctx, session)
}
