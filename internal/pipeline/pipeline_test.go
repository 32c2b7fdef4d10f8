package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/bestseller-affiliator/internal/affiliate"
	"github.com/maltedev/bestseller-affiliator/internal/browser"
	"github.com/maltedev/bestseller-affiliator/internal/browser/browsertest"
	"github.com/maltedev/bestseller-affiliator/internal/diagnostics"
	"github.com/maltedev/bestseller-affiliator/internal/models"
	"github.com/maltedev/bestseller-affiliator/internal/ratelimit"
	"github.com/maltedev/bestseller-affiliator/internal/scraper"
	"github.com/maltedev/bestseller-affiliator/internal/storage"
	"github.com/maltedev/bestseller-affiliator/internal/store"
)

type fakeAuth struct {
	err   error
	calls int
}

func (f *fakeAuth) Ensure(context.Context) error {
	f.calls++
	return f.err
}

type fakeScraper struct {
	bestsellers map[string][]*models.Product
	details     map[string]*models.Product
	categories  []string
}

func (f *fakeScraper) GetBestsellers(_ context.Context, categoryURL string) []*models.Product {
	f.categories = append(f.categories, categoryURL)
	var out []*models.Product
	for _, p := range f.bestsellers[categoryURL] {
		c := *p
		out = append(out, &c)
	}
	return out
}

func (f *fakeScraper) GetProductDetails(_ context.Context, productURL string) (*models.Product, bool) {
	p, ok := f.details[productURL]
	if !ok {
		return nil, false
	}
	c := *p
	return &c, true
}

type fakeGenerator struct {
	links map[string]string
	calls []string
}

func (f *fakeGenerator) GenerateAffiliateLink(_ context.Context, productURL string) (string, bool) {
	f.calls = append(f.calls, productURL)
	link, ok := f.links[productURL]
	return link, ok
}

type failingStore struct {
	Store
}

func (failingStore) AddProduct(context.Context, *models.Product) (int, error) {
	return 0, errors.New("write refused")
}

func product(t *testing.T, name, url string, price float64) *models.Product {
	t.Helper()
	p, err := models.NewProduct(name, url, price)
	require.NoError(t, err)
	return p
}

func writeLines(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lines.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
	return path
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Pacer = ratelimit.NopPacer{}
	opts.Limiter = ratelimit.NewSimpleRateLimiter(0, 0)
	return opts
}

// capture returns a logger whose records land in buf as JSON lines.
func capture() (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

func warnings(buf *bytes.Buffer) int {
	return strings.Count(buf.String(), `"level":"WARN"`)
}

type harness struct {
	gateway *store.Gateway
	links   *storage.LinkAppender
	metrics *Metrics
}

func newHarness(t *testing.T) harness {
	t.Helper()
	return harness{
		gateway: store.NewGateway(store.NewMemory(), store.DefaultOptions(), nil),
		links:   storage.NewLinkAppender(filepath.Join(t.TempDir(), "affiliate_links.txt")),
		metrics: NewMetrics(),
	}
}

func (h harness) deps(auth Authenticator, sc Scraper, gen LinkGenerator) Deps {
	return Deps{
		Auth:      auth,
		Scraper:   sc,
		Affiliate: gen,
		Store:     h.gateway,
		Links:     h.links,
		Metrics:   h.metrics,
	}
}

const (
	category = "https://www.amazon.com.br/gp/bestsellers/books/"
	first    = "https://www.amazon.com.br/Livro-1/dp/B000000001/ref=zg_bs_g_books_d_sccl_1"
	second   = "https://www.amazon.com.br/Livro-2/dp/B000000002/ref=zg_bs_g_books_d_sccl_2"
)

func TestRunBestsellersPersistsLinkedProducts(t *testing.T) {
	h := newHarness(t)
	sc := &fakeScraper{bestsellers: map[string][]*models.Product{
		category: {product(t, "Livro 1", first, 10.90), product(t, "Livro 2", second, 20.90)},
	}}
	gen := &fakeGenerator{links: map[string]string{first: "https://amzn.to/one"}}
	logger, buf := capture()

	p, err := New(h.deps(&fakeAuth{}, sc, gen), testOptions(), logger)
	require.NoError(t, err)

	summary, err := p.RunBestsellers(context.Background(), writeLines(t, category))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Categories)
	assert.Equal(t, 2, summary.Scraped)
	assert.Equal(t, 1, summary.Stored)
	assert.Equal(t, 1, summary.Skipped)
	assert.NotEmpty(t, summary.RunID)

	products := h.gateway.GetAllProducts(context.Background())
	require.Len(t, products, 1)
	assert.Equal(t, "Livro 1", products[0].Name)
	assert.Equal(t, "https://amzn.to/one", products[0].AffiliateURL)

	out, err := storage.ReadLines(h.links.Path())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://amzn.to/one"}, out)

	assert.Equal(t, 1, warnings(buf))
	assert.Contains(t, buf.String(), "Livro 2")
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.AffiliateLinksTotal.WithLabelValues("failed")))
}

func TestRunBestsellersEndToEndWithBrowser(t *testing.T) {
	s := browsertest.New()
	s.SetPage(category, `<html><body><div id="gridItemRoot">
<div class="_cDEzb_p13n-sc-css-line-clamp-3_g3dy1">livro 1</div>
<div class="_cDEzb_p13n-sc-css-line-clamp-3_g3dy1">livro 2</div>
<span class="p13n-sc-price">R$ 10,90</span>
<span class="p13n-sc-price">R$ 20,90</span>
<a class="a-link-normal aok-block" href="/Livro-1/dp/B000000001/ref=zg_bs_g_books_d_sccl_1">1</a>
<a class="a-link-normal aok-block" href="/Livro-2/dp/B000000002/ref=zg_bs_g_books_d_sccl_2">2</a>
</div></body></html>`)
	s.SetPage(first, `<html><body><div class="amzn-ss-wrap"><button id="amzn-ss-get-link-button">Texto</button></div></body></html>`)
	s.SetPage(second, `<html><body><span id="productTitle">Livro 2</span></body></html>`)
	s.OnClick(browser.ID("amzn-ss-get-link-button"), func(s *browsertest.Session) {
		s.Show(`<html><body><textarea id="amzn-ss-text-shortlink-textarea">https://amzn.to/one</textarea></body></html>`)
	})

	scOpts := scraper.DefaultOptions()
	scOpts.WaitTimeout = time.Second
	scOpts.Pacer = ratelimit.NopPacer{}
	scOpts.Diagnostics = diagnostics.Nop{}

	affOpts := affiliate.DefaultOptions()
	affOpts.WaitTimeout = time.Second
	affOpts.Pacer = ratelimit.NopPacer{}
	affOpts.Diagnostics = diagnostics.Nop{}

	h := newHarness(t)
	logger, buf := capture()
	quiet := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	deps := h.deps(&fakeAuth{}, scraper.New(s, scOpts, quiet), affiliate.NewGenerator(s, affOpts, quiet))
	p, err := New(deps, testOptions(), logger)
	require.NoError(t, err)

	summary, err := p.RunBestsellers(context.Background(), writeLines(t, "", category, "  "))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Stored)

	products := h.gateway.GetAllProducts(context.Background())
	require.Len(t, products, 1)
	assert.Equal(t, "Livro 1", products[0].Name)
	assert.InDelta(t, 10.90, products[0].Price, 1e-9)
	assert.Equal(t, "https://amzn.to/one", products[0].AffiliateURL)

	out, err := os.ReadFile(h.links.Path())
	require.NoError(t, err)
	assert.Equal(t, "https://amzn.to/one\n", string(out))
	assert.Equal(t, 1, warnings(buf))
	assert.Equal(t, []string{category, first, second}, s.Navigations)
}

func TestRunBestsellersCachesLinksAcrossCategories(t *testing.T) {
	const other = "https://www.amazon.com.br/gp/bestsellers/kindle/"
	h := newHarness(t)
	sc := &fakeScraper{bestsellers: map[string][]*models.Product{
		category: {product(t, "Livro 1", first, 10.90)},
		other:    {product(t, "Livro 1", first, 10.90)},
	}}
	gen := &fakeGenerator{links: map[string]string{first: "https://amzn.to/one"}}

	p, err := New(h.deps(&fakeAuth{}, sc, gen), testOptions(), nil)
	require.NoError(t, err)

	summary, err := p.RunBestsellers(context.Background(), writeLines(t, category, other))
	require.NoError(t, err)

	assert.Equal(t, []string{first}, gen.calls)
	assert.Equal(t, 2, summary.Linked)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.AffiliateLinksTotal.WithLabelValues("cached")))
}

func TestRunBestsellersSkipsEmptyCategories(t *testing.T) {
	const empty = "https://www.amazon.com.br/gp/bestsellers/empty/"
	h := newHarness(t)
	sc := &fakeScraper{bestsellers: map[string][]*models.Product{
		category: {product(t, "Livro 1", first, 10.90)},
	}}
	gen := &fakeGenerator{links: map[string]string{first: "https://amzn.to/one"}}
	logger, buf := capture()

	p, err := New(h.deps(&fakeAuth{}, sc, gen), testOptions(), logger)
	require.NoError(t, err)

	summary, err := p.RunBestsellers(context.Background(), writeLines(t, empty, category))
	require.NoError(t, err)

	assert.Equal(t, []string{empty, category}, sc.categories)
	assert.Equal(t, 2, summary.Categories)
	assert.Equal(t, 1, summary.Stored)
	assert.Contains(t, buf.String(), "no products found for category")
}

func TestRunBestsellersAuthFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	sc := &fakeScraper{}
	auth := &fakeAuth{err: errors.New("captcha on sign-in")}

	p, err := New(h.deps(auth, sc, &fakeGenerator{}), testOptions(), nil)
	require.NoError(t, err)

	_, err = p.RunBestsellers(context.Background(), writeLines(t, category))
	require.ErrorIs(t, err, ErrAuthentication)
	assert.Empty(t, sc.categories)
	assert.Equal(t, 0, h.gateway.GetLastItemIndex(context.Background()))
}

func TestRunBestsellersMissingTopics(t *testing.T) {
	h := newHarness(t)
	auth := &fakeAuth{}

	p, err := New(h.deps(auth, &fakeScraper{}, &fakeGenerator{}), testOptions(), nil)
	require.NoError(t, err)

	_, err = p.RunBestsellers(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	require.ErrorIs(t, err, os.ErrNotExist)
	assert.Zero(t, auth.calls)
}

func TestRunBestsellersStoreFailureKeepsGoing(t *testing.T) {
	h := newHarness(t)
	sc := &fakeScraper{bestsellers: map[string][]*models.Product{
		category: {product(t, "Livro 1", first, 10.90), product(t, "Livro 2", second, 20.90)},
	}}
	gen := &fakeGenerator{links: map[string]string{first: "https://amzn.to/one", second: "https://amzn.to/two"}}

	deps := h.deps(&fakeAuth{}, sc, gen)
	deps.Store = failingStore{}
	p, err := New(deps, testOptions(), nil)
	require.NoError(t, err)

	summary, err := p.RunBestsellers(context.Background(), writeLines(t, category))
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Stored)
	assert.Equal(t, 2, summary.Linked)
	assert.Len(t, gen.calls, 2)
	assert.Equal(t, float64(2), testutil.ToFloat64(h.metrics.ErrorsTotal.WithLabelValues("store")))
}

func TestRunBestsellersCancelled(t *testing.T) {
	h := newHarness(t)
	sc := &fakeScraper{}

	p, err := New(h.deps(&fakeAuth{}, sc, &fakeGenerator{}), testOptions(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.RunBestsellers(ctx, writeLines(t, category))
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sc.categories)
}

func TestImport(t *testing.T) {
	const (
		short   = "https://amzn.to/3AbCdEf"
		catalog = "https://www.amazon.com.br/dp/B0CAFE0001"
		broken  = "https://www.amazon.com.br/dp/B0BROKEN01"
	)
	h := newHarness(t)
	sc := &fakeScraper{details: map[string]*models.Product{
		short:   product(t, "Kindle", short, 449),
		catalog: product(t, "Cafeteira", catalog, 1299),
	}}

	p, err := New(h.deps(nil, sc, nil), testOptions(), nil)
	require.NoError(t, err)

	file := writeLines(t, short, "https://example.com/not-amazon", "", catalog, broken)
	summary, err := p.Import(context.Background(), file)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Stored)
	assert.Equal(t, 1, summary.Skipped)

	kindle, ok := h.gateway.GetProduct(context.Background(), 1)
	require.True(t, ok)
	assert.Equal(t, short, kindle.AffiliateURL)

	cafeteira, ok := h.gateway.GetProduct(context.Background(), 2)
	require.True(t, ok)
	assert.Empty(t, cafeteira.AffiliateURL)
	assert.Equal(t, catalog, cafeteira.URL)
}

func TestImportMissingFile(t *testing.T) {
	h := newHarness(t)
	p, err := New(h.deps(nil, &fakeScraper{}, nil), testOptions(), nil)
	require.NoError(t, err)

	_, err = p.Import(context.Background(), filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	h := newHarness(t)
	kindle := product(t, "Kindle", "https://www.amazon.com.br/dp/B0KINDLE01", 499)
	kindle.AffiliateURL = "https://amzn.to/kindle"
	_, err := h.gateway.AddProduct(ctx, kindle)
	require.NoError(t, err)
	_, err = h.gateway.AddProduct(ctx, product(t, "Echo", "https://www.amazon.com.br/dp/B0ECHO0001", 299))
	require.NoError(t, err)

	sc := &fakeScraper{details: map[string]*models.Product{
		"https://amzn.to/kindle": product(t, "Kindle 11a geração", "https://amzn.to/kindle", 449),
	}}

	opts := testOptions()
	opts.Now = func() time.Time { return now }
	logger, buf := capture()
	p, err := New(h.deps(nil, sc, nil), opts, logger)
	require.NoError(t, err)

	summary, err := p.Update(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Stored)
	assert.Equal(t, 1, summary.Changed)
	assert.Equal(t, 1, summary.Skipped)

	updated, ok := h.gateway.GetProduct(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, "Kindle 11a geração", updated.Name)
	assert.Equal(t, 449.0, updated.Price)
	require.NotNil(t, updated.LastPrice)
	assert.Equal(t, 499.0, *updated.LastPrice)
	assert.Equal(t, "https://amzn.to/kindle", updated.AffiliateURL)
	require.NotNil(t, updated.UpdatedAt)
	assert.True(t, now.Equal(*updated.UpdatedAt))

	echo, ok := h.gateway.GetProduct(ctx, 2)
	require.True(t, ok)
	assert.Equal(t, 299.0, echo.Price)
	assert.Nil(t, echo.UpdatedAt)

	assert.Contains(t, buf.String(), "price changed")
	assert.Equal(t, 2, h.gateway.GetLastItemIndex(ctx))
}

func TestWithSession(t *testing.T) {
	s := browsertest.New()
	open := func(context.Context) (browser.Session, error) { return s, nil }

	t.Run("success", func(t *testing.T) {
		called := false
		err := WithSession(context.Background(), open, nil, func(context.Context, browser.Session) error {
			called = true
			return nil
		})
		require.NoError(t, err)
		assert.True(t, called)
		assert.Equal(t, 1, s.Closed)
	})

	t.Run("failure", func(t *testing.T) {
		boom := errors.New("browser crashed")
		err := WithSession(context.Background(), open, nil, func(context.Context, browser.Session) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 2, s.Closed)
	})

	t.Run("panic", func(t *testing.T) {
		assert.Panics(t, func() {
			_ = WithSession(context.Background(), open, nil, func(context.Context, browser.Session) error {
				panic("unexpected")
			})
		})
		assert.Equal(t, 3, s.Closed)
	})

	t.Run("open failure", func(t *testing.T) {
		err := WithSession(context.Background(), func(context.Context) (browser.Session, error) {
			return nil, fmt.Errorf("playwright: driver missing")
		}, nil, func(context.Context, browser.Session) error {
			t.Fatal("fn must not run")
			return nil
		})
		assert.Error(t, err)
		assert.Equal(t, 3, s.Closed)
	})
}
