package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/bestseller-affiliator/internal/browser"
	"github.com/maltedev/bestseller-affiliator/internal/diagnostics"
	"github.com/maltedev/bestseller-affiliator/internal/locator"
	"github.com/maltedev/bestseller-affiliator/internal/ratelimit"
)

var (
	ErrMissingCredentials = errors.New("account email and password are required")
	ErrLoginFailed        = errors.New("login failed")
)

type State int

const (
	NoSession State = iota
	CookiesLoaded
	LoginInProgress
	LoggedIn
	LoginFailed
)

func (s State) String() string {
	switch s {
	case CookiesLoaded:
		return "cookies_loaded"
	case LoginInProgress:
		return "login_in_progress"
	case LoggedIn:
		return "logged_in"
	case LoginFailed:
		return "login_failed"
	default:
		return "no_session"
	}
}

type Credentials struct {
	Email    string
	Password string
}

func (c Credentials) Complete() bool {
	return c.Email != "" && c.Password != ""
}

// CookieStore persists the cookie jar between runs.
type CookieStore interface {
	Load() ([]browser.Cookie, error)
	Save(cookies []browser.Cookie) error
}

type Options struct {
	BaseURL   string
	SignInURL string

	WaitTimeout time.Duration

	// Typing is the pause after each typed character, AfterTyping the pause
	// once a field is filled.
	Typing      ratelimit.Range
	AfterTyping ratelimit.Range
	Action      ratelimit.Range
	Navigation  ratelimit.Range
	// Settle is the pause after submitting the password.
	Settle ratelimit.Range

	Pacer       ratelimit.Pacer
	Diagnostics diagnostics.Sink
}

func DefaultOptions() Options {
	return Options{
		BaseURL:     DefaultBaseURL,
		SignInURL:   DefaultSignInURL,
		WaitTimeout: 20 * time.Second,
		Typing:      ratelimit.Between(50*time.Millisecond, 200*time.Millisecond),
		AfterTyping: ratelimit.Between(200*time.Millisecond, 500*time.Millisecond),
		Action:      ratelimit.Between(1*time.Second, 3*time.Second),
		Navigation:  ratelimit.Between(2*time.Second, 4*time.Second),
		Settle:      ratelimit.Between(5*time.Second, 10*time.Second),
	}
}

// Authenticator owns the sign-in state of one browser session.
type Authenticator struct {
	session  browser.Session
	cookies  CookieStore
	creds    Credentials
	opts     Options
	resolver *locator.Resolver
	pacer    ratelimit.Pacer
	diag     diagnostics.Sink
	logger   *slog.Logger
	state    State
}

func New(session browser.Session, cookies CookieStore, creds Credentials, opts Options, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Pacer == nil {
		opts.Pacer = ratelimit.NewRandomPacer()
	}
	if opts.Diagnostics == nil {
		opts.Diagnostics = diagnostics.Nop{}
	}

	return &Authenticator{
		session:  session,
		cookies:  cookies,
		creds:    creds,
		opts:     opts,
		resolver: locator.NewResolver(logger, opts.WaitTimeout),
		pacer:    opts.Pacer,
		diag:     opts.Diagnostics,
		logger:   logger.With("component", "auth"),
		state:    NoSession,
	}
}

func (a *Authenticator) State() State {
	return a.state
}

func (a *Authenticator) transition(to State) {
	if a.state != to {
		a.logger.Debug("session state changed", "from", a.state.String(), "to", to.String())
	}
	a.state = to
}

// Ensure leaves the session signed in, restoring cookies when possible and
// signing in otherwise. A failure is final for this run.
func (a *Authenticator) Ensure(ctx context.Context) error {
	if a.state == LoggedIn {
		return nil
	}
	if a.LoadCookies(ctx) {
		return nil
	}
	if a.Login(ctx) {
		return nil
	}
	if !a.creds.Complete() {
		return fmt.Errorf("%w: %w", ErrLoginFailed, ErrMissingCredentials)
	}
	return ErrLoginFailed
}

// LoadCookies restores the saved cookie jar and verifies it still signs the
// session in. Missing, malformed or expired cookies report false.
func (a *Authenticator) LoadCookies(ctx context.Context) bool {
	if err := a.session.Navigate(ctx, a.opts.BaseURL); err != nil {
		a.logger.Error("failed to open storefront", "url", a.opts.BaseURL, "error", err)
		return false
	}
	a.pause(ctx, a.opts.Navigation)

	cookies, err := a.cookies.Load()
	if err != nil {
		a.logger.Warn("could not load cookies", "error", err)
		return false
	}

	added := 0
	for _, c := range cookies {
		if err := a.session.AddCookies(ctx, []browser.Cookie{c}); err != nil {
			a.logger.Warn("could not add cookie", "name", c.Name, "error", err)
			continue
		}
		added++
	}
	if added == 0 {
		a.logger.Warn("no cookie could be restored")
		return false
	}
	a.transition(CookiesLoaded)

	if err := a.session.Reload(ctx); err != nil {
		a.logger.Error("failed to reload after restoring cookies", "error", err)
		a.transition(NoSession)
		return false
	}
	a.pause(ctx, a.opts.Navigation)

	if _, _, ok := a.resolver.Present(ctx, a.session, "session marker", sessionMarkers); !ok {
		a.logger.Warn("cookies loaded but login state not verified")
		a.transition(NoSession)
		return false
	}

	a.logger.Info("cookies loaded and logged in", "cookies", added)
	a.transition(LoggedIn)
	return true
}

// Login signs in with the account credentials and persists the resulting
// cookies. It never retries.
func (a *Authenticator) Login(ctx context.Context) bool {
	a.logger.Info("starting login")

	if a.creds.Email == "" {
		a.logger.Error("AMAZON_EMAIL is not set")
		a.transition(LoginFailed)
		return false
	}
	if a.creds.Password == "" {
		a.logger.Error("AMAZON_PASSWORD is not set")
		a.transition(LoginFailed)
		return false
	}

	a.transition(LoginInProgress)
	if err := a.login(ctx); err != nil {
		a.logger.Error("login failed", "error", err)
		a.diag.Capture(ctx, a.session, "login_failed")
		a.transition(LoginFailed)
		return false
	}

	a.transition(LoggedIn)
	return true
}

func (a *Authenticator) login(ctx context.Context) error {
	if err := a.session.Navigate(ctx, a.opts.SignInURL); err != nil {
		return fmt.Errorf("failed to open sign-in page: %w", err)
	}
	a.pause(ctx, a.opts.Navigation)
	a.diag.Capture(ctx, a.session, "login_page")

	email, _, ok := a.resolver.Present(ctx, a.session, "email field", emailFields)
	if !ok {
		return errors.New("could not find email input field")
	}
	if err := a.typeSlowly(ctx, email, a.creds.Email); err != nil {
		return fmt.Errorf("failed to type email: %w", err)
	}
	a.pause(ctx, a.opts.Action)

	if err := a.submit(ctx, "continue button", continueButtons, email); err != nil {
		return err
	}
	a.pause(ctx, a.opts.Navigation)
	a.diag.Capture(ctx, a.session, "password_page")

	password, _, ok := a.resolver.Present(ctx, a.session, "password field", passwordFields)
	if !ok {
		return errors.New("could not find password input field")
	}
	if err := a.typeSlowly(ctx, password, a.creds.Password); err != nil {
		return fmt.Errorf("failed to type password: %w", err)
	}
	a.pause(ctx, a.opts.Action)

	if err := a.submit(ctx, "sign-in button", signInButtons, password); err != nil {
		return err
	}
	a.pause(ctx, a.opts.Settle)

	_, marker, ok := a.resolver.Present(ctx, a.session, "login marker", loginMarkers)
	if !ok {
		return errors.New("login verification failed")
	}
	a.logger.Info("login verified", "marker", marker.String())

	cookies, err := a.session.Cookies(ctx, a.opts.BaseURL)
	if err != nil {
		a.logger.Error("failed to read cookies", "error", err)
		return nil
	}
	if err := a.cookies.Save(cookies); err != nil {
		a.logger.Error("failed to save cookies", "error", err)
		return nil
	}
	a.logger.Info("cookies saved", "count", len(cookies))
	return nil
}

// submit clicks the first clickable candidate or presses Enter in field.
func (a *Authenticator) submit(ctx context.Context, name string, chain locator.Chain, field browser.Element) error {
	if button, loc, ok := a.resolver.Clickable(ctx, a.session, name, chain); ok {
		a.pause(ctx, a.opts.Action)
		err := button.Click()
		if err == nil {
			a.logger.Info("clicked", "field", name, "locator", loc.String())
			return nil
		}
		a.logger.Warn("click failed, pressing Enter", "field", name, "error", err)
	}

	if err := field.Press("Enter"); err != nil {
		return fmt.Errorf("failed to submit %s: %w", name, err)
	}
	a.logger.Info("pressed Enter", "field", name)
	return nil
}

func (a *Authenticator) typeSlowly(ctx context.Context, el browser.Element, text string) error {
	if err := el.Clear(); err != nil {
		return err
	}
	for _, r := range text {
		if err := el.SendKeys(string(r)); err != nil {
			return err
		}
		if err := a.pacer.Pause(ctx, a.opts.Typing); err != nil {
			return err
		}
	}
	return a.pacer.Pause(ctx, a.opts.AfterTyping)
}

func (a *Authenticator) pause(ctx context.Context, r ratelimit.Range) {
	_ = a.pacer.Pause(ctx, r)
}
