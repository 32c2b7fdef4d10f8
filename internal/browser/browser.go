package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Browser is a Playwright-backed Session: one Chromium context, one page.
type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
	opts    *Options
	logger  *slog.Logger
}

type Options struct {
	Headless          bool
	Timeout           time.Duration
	NavigationRetries int
	UserAgent         string
	ViewportWidth     int
	ViewportHeight    int
	AcceptLanguage    string
	TimezoneID        string
	Locale            string
	ProxyServer       string
	ExtraHeaders      map[string]string
	// InterstitialMarkers are page texts of the "continue shopping" bot check.
	InterstitialMarkers []string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:          false,
		Timeout:           30 * time.Second,
		NavigationRetries: 3,
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:     1920,
		ViewportHeight:    1080,
		AcceptLanguage:    "pt-BR,pt;q=0.9,en;q=0.8",
		TimezoneID:        "America/Sao_Paulo",
		Locale:            "pt-BR",
		ExtraHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Encoding": "gzip, deflate, br",
			"DNT":             "1",
		},
		InterstitialMarkers: []string{
			"Clique no botão abaixo para continuar comprando",
			"Click the button below to continue shopping",
		},
	}
}

var interstitialButtons = []string{
	`button:has-text("Continuar comprando")`,
	`button:has-text("Continue shopping")`,
	`input[type="submit"][value*="Continuar"]`,
	`.a-button-primary`,
	`button.a-button-text`,
}

// New launches Chromium with a single page. A nil logger falls back to
// slog.Default().
func New(opts *Options, logger *slog.Logger) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	log := componentLogger(logger)

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			"--start-maximized",
			fmt.Sprintf("--window-size=%d,%d", opts.ViewportWidth, opts.ViewportHeight),
			"--user-agent=" + opts.UserAgent,
		},
	}

	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: opts.ProxyServer,
		}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	headers := make(map[string]string, len(opts.ExtraHeaders)+1)
	for k, v := range opts.ExtraHeaders {
		headers[k] = v
	}
	if opts.AcceptLanguage != "" {
		headers["Accept-Language"] = opts.AcceptLanguage
	}

	context, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:         &opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &opts.Locale,
		TimezoneId:        &opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: headers,
	})
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	page, err := context.NewPage()
	if err != nil {
		context.Close()
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}
	page.SetDefaultTimeout(float64(opts.Timeout.Milliseconds()))

	return &Browser{
		pw:      pw,
		browser: browser,
		context: context,
		page:    page,
		opts:    opts,
		logger:  log,
	}, nil
}

func componentLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", "browser")
}

func (b *Browser) Close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (b *Browser) Navigate(ctx context.Context, url string) error {
	return b.NavigateWithRetry(ctx, url, b.opts.NavigationRetries)
}

func (b *Browser) NavigateWithRetry(ctx context.Context, url string, maxRetries int) error {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			b.logger.Info("retrying navigation", "attempt", i+1, "url", url)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i+1) * time.Second):
			}
		}

		_, err := b.page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(float64(b.opts.Timeout.Milliseconds())),
		})
		if err == nil {
			passed, err := b.CheckAndBypassBotProtection()
			if err != nil {
				b.logger.Error("failed to pass bot check", "error", err)
				lastErr = err
				continue
			}
			if passed {
				b.logger.Info("bot check passed", "url", url)
			}
			return nil
		}

		lastErr = err
		b.logger.Error("navigation failed", "error", err, "attempt", i+1)
	}

	return fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}

// CheckAndBypassBotProtection clicks through the "continue shopping"
// interstitial when the storefront shows it instead of the requested page.
func (b *Browser) CheckAndBypassBotProtection() (bool, error) {
	content, err := b.page.Content()
	if err != nil {
		return false, fmt.Errorf("failed to get page content: %w", err)
	}

	if !b.isInterstitial(content) {
		return false, nil
	}

	b.logger.Info("bot check detected, attempting bypass")

	for _, selector := range interstitialButtons {
		button := b.page.Locator(selector).First()

		count, err := button.Count()
		if err != nil || count == 0 {
			continue
		}

		b.logger.Info("found bot check button", "selector", selector)

		if err := button.Click(); err != nil {
			b.logger.Error("failed to click button", "error", err)
			continue
		}

		b.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
			State: playwright.LoadStateDomcontentloaded,
		})

		newContent, _ := b.page.Content()
		if !b.isInterstitial(newContent) {
			return true, nil
		}
	}

	return false, fmt.Errorf("could not find button to bypass bot check")
}

func (b *Browser) isInterstitial(content string) bool {
	for _, marker := range b.opts.InterstitialMarkers {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return false
}

func (b *Browser) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.page.Reload(playwright.PageReloadOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	return nil
}

func (b *Browser) CurrentURL() string {
	return b.page.URL()
}

func (b *Browser) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return b.page.Content()
}

func (b *Browser) FindElements(ctx context.Context, loc Locator) ([]Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	matches, err := b.page.Locator(loc.Selector()).All()
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", loc, err)
	}

	elements := make([]Element, 0, len(matches))
	for _, m := range matches {
		elements = append(elements, &element{loc: m})
	}
	return elements, nil
}

func (b *Browser) WaitFor(ctx context.Context, loc Locator, readiness Readiness, timeout time.Duration) (Element, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, ErrTimeout
	}

	state := playwright.WaitForSelectorStateAttached
	if readiness == Clickable {
		state = playwright.WaitForSelectorStateVisible
	}

	first := b.page.Locator(loc.Selector()).First()
	err := first.WaitFor(playwright.LocatorWaitForOptions{
		State:   state,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if errors.Is(err, playwright.ErrTimeout) {
		return nil, ErrTimeout
	}
	if err != nil {
		return nil, fmt.Errorf("failed waiting for %s: %w", loc, err)
	}

	if readiness == Clickable {
		enabled, err := first.IsEnabled()
		if err != nil {
			return nil, fmt.Errorf("failed to check %s: %w", loc, err)
		}
		if !enabled {
			return nil, ErrTimeout
		}
	}

	return &element{loc: first}, nil
}

func (b *Browser) Cookies(ctx context.Context, urls ...string) ([]Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := b.context.Cookies(urls...)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		cookie := Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
		}
		if c.SameSite != nil {
			cookie.SameSite = string(*c.SameSite)
		}
		cookies = append(cookies, cookie)
	}
	return cookies, nil
}

func (b *Browser) AddCookies(ctx context.Context, cookies []Cookie) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	optional := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		oc := playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   playwright.String(c.Domain),
			Path:     playwright.String(c.Path),
			HttpOnly: playwright.Bool(c.HTTPOnly),
			Secure:   playwright.Bool(c.Secure),
		}
		if c.Expires > 0 {
			oc.Expires = playwright.Float(c.Expires)
		}
		if c.SameSite != "" {
			sameSite := playwright.SameSiteAttribute(c.SameSite)
			oc.SameSite = &sameSite
		}
		optional = append(optional, oc)
	}

	if err := b.context.AddCookies(optional); err != nil {
		return fmt.Errorf("failed to add cookies: %w", err)
	}
	return nil
}

func (b *Browser) ScrollBy(ctx context.Context, pixels int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.page.Evaluate(`(y) => window.scrollBy(0, y)`, pixels); err != nil {
		return fmt.Errorf("failed to scroll: %w", err)
	}
	return nil
}

func (b *Browser) Screenshot(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	})
	return err
}

type element struct {
	loc playwright.Locator
}

func (e *element) Text() (string, error) {
	return e.loc.InnerText()
}

func (e *element) Attribute(name string) (string, error) {
	if name == "value" {
		if v, err := e.loc.InputValue(); err == nil {
			return v, nil
		}
	}
	return e.loc.GetAttribute(name)
}

func (e *element) Click() error {
	return e.loc.Click()
}

func (e *element) Clear() error {
	return e.loc.Clear()
}

func (e *element) SendKeys(text string) error {
	return e.loc.PressSequentially(text)
}

func (e *element) Press(key string) error {
	return e.loc.Press(key)
}
