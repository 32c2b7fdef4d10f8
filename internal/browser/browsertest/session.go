// Package browsertest provides an HTML-backed fake browser.Session.
//
// Pages are registered per URL; clicking an element can run a handler that
// swaps the rendered page, which is enough to script sign-in flows and the
// affiliate link popover without a real browser.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/maltedev/bestseller-affiliator/internal/browser"
)

// Renderer produces the HTML of a page for the session's current state.
type Renderer func(s *Session) string

// Action runs when a matching element is clicked or receives Enter.
type Action func(s *Session)

type handler struct {
	loc    browser.Locator
	action Action
}

type Session struct {
	mu sync.Mutex

	pages       map[string]Renderer
	navigateErr map[string]error
	onClick     []handler
	onEnter     []handler

	current string
	doc     *browser.Document
	cookies []browser.Cookie
	typed   map[string]string

	Navigations []string
	Finds       []browser.Locator
	Scrolls     []int
	Screenshots []string
	Closed      int

	// ScrollErr, when set, is returned by ScrollBy.
	ScrollErr error
	// AddCookieErr rejects cookies with the given name.
	AddCookieErr map[string]error
}

var ErrUnknownPage = errors.New("browsertest: no page registered")

func New() *Session {
	return &Session{
		pages:        make(map[string]Renderer),
		navigateErr:  make(map[string]error),
		typed:        make(map[string]string),
		AddCookieErr: make(map[string]error),
	}
}

// SetPage registers static HTML for url.
func (s *Session) SetPage(url, content string) {
	s.SetRenderer(url, func(*Session) string { return content })
}

func (s *Session) SetRenderer(url string, r Renderer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[url] = r
}

// FailNavigation makes navigating to url return err.
func (s *Session) FailNavigation(url string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigateErr[url] = err
}

// OnClick runs action when an element matched by loc is clicked.
func (s *Session) OnClick(loc browser.Locator, action Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClick = append(s.onClick, handler{loc: loc, action: action})
}

// OnEnter runs action when Enter is pressed on an element matched by loc.
func (s *Session) OnEnter(loc browser.Locator, action Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEnter = append(s.onEnter, handler{loc: loc, action: action})
}

// Show renders content in place of the current page without navigating.
func (s *Session) Show(content string) {
	doc, err := browser.ParseDocument(content)
	if err != nil {
		panic(fmt.Sprintf("browsertest: %v", err))
	}
	s.doc = doc
}

// Typed returns what was typed into the element with the given id or name.
func (s *Session) Typed(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typed[key]
}

// SetCookies replaces the cookie jar.
func (s *Session) SetCookies(cookies []browser.Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookies = append([]browser.Cookie(nil), cookies...)
}

// HasCookie is safe to call from a Renderer.
func (s *Session) HasCookie(name string) bool {
	for _, c := range s.cookies {
		if c.Name == name {
			return true
		}
	}
	return false
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.Navigations = append(s.Navigations, url)
	if err, ok := s.navigateErr[url]; ok {
		return err
	}
	if _, ok := s.pages[url]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPage, url)
	}
	s.current = url
	s.render()
	return nil
}

func (s *Session) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == "" {
		return ErrUnknownPage
	}
	s.render()
	return nil
}

func (s *Session) render() {
	s.Show(s.pages[s.current](s))
}

func (s *Session) CurrentURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Session) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == "" {
		return "", ErrUnknownPage
	}
	return s.pages[s.current](s), nil
}

func (s *Session) FindElements(ctx context.Context, loc browser.Locator) ([]browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Finds = append(s.Finds, loc)
	return s.find(loc)
}

func (s *Session) find(loc browser.Locator) ([]browser.Element, error) {
	if s.doc == nil {
		return nil, nil
	}
	nodes, err := s.doc.Nodes(loc)
	if err != nil {
		return nil, err
	}
	elements := make([]browser.Element, 0, len(nodes))
	for _, n := range nodes {
		elements = append(elements, &element{session: s, node: n})
	}
	return elements, nil
}

// WaitFor does not wait: the fake page is fully rendered, so an element is
// either there or the wait would have timed out.
func (s *Session) WaitFor(ctx context.Context, loc browser.Locator, readiness browser.Readiness, timeout time.Duration) (browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Finds = append(s.Finds, loc)

	elements, err := s.find(loc)
	if err != nil {
		return nil, err
	}
	for _, e := range elements {
		el := e.(*element)
		if readiness == browser.Clickable && hasAttr(el.node, "disabled") {
			continue
		}
		return el, nil
	}
	return nil, browser.ErrTimeout
}

func (s *Session) Cookies(ctx context.Context, urls ...string) ([]browser.Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]browser.Cookie(nil), s.cookies...), nil
}

func (s *Session) AddCookies(ctx context.Context, cookies []browser.Cookie) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cookies {
		if err := s.AddCookieErr[c.Name]; err != nil {
			return err
		}
	}
	s.cookies = append(s.cookies, cookies...)
	return nil
}

func (s *Session) ScrollBy(ctx context.Context, pixels int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ScrollErr != nil {
		return s.ScrollErr
	}
	s.Scrolls = append(s.Scrolls, pixels)
	return nil
}

func (s *Session) Screenshot(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Screenshots = append(s.Screenshots, path)
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed++
	return nil
}

// trigger runs every handler whose locator matches node. Handlers run with
// the lock released so they may call back into the session.
func (s *Session) trigger(handlers []handler, node *html.Node) {
	var matched []Action
	for _, h := range handlers {
		nodes, err := s.doc.Nodes(h.loc)
		if err != nil {
			continue
		}
		for _, n := range nodes {
			if n == node {
				matched = append(matched, h.action)
				break
			}
		}
	}

	s.mu.Unlock()
	defer s.mu.Lock()
	for _, action := range matched {
		action(s)
	}
}

type element struct {
	session *Session
	node    *html.Node
}

func (e *element) Text() (string, error) {
	return browser.NodeText(e.node), nil
}

func (e *element) Attribute(name string) (string, error) {
	return browser.NodeAttribute(e.node, name), nil
}

func (e *element) Click() error {
	e.session.mu.Lock()
	defer e.session.mu.Unlock()
	if hasAttr(e.node, "disabled") {
		return errors.New("browsertest: element is disabled")
	}
	e.session.trigger(e.session.onClick, e.node)
	return nil
}

func (e *element) Clear() error {
	e.session.mu.Lock()
	defer e.session.mu.Unlock()
	delete(e.session.typed, e.key())
	return nil
}

func (e *element) SendKeys(text string) error {
	e.session.mu.Lock()
	defer e.session.mu.Unlock()
	e.session.typed[e.key()] += text
	return nil
}

func (e *element) Press(key string) error {
	e.session.mu.Lock()
	defer e.session.mu.Unlock()
	if key == "Enter" {
		e.session.trigger(e.session.onEnter, e.node)
	}
	return nil
}

func (e *element) key() string {
	if id := browser.NodeAttribute(e.node, "id"); id != "" {
		return id
	}
	return browser.NodeAttribute(e.node, "name")
}

func hasAttr(n *html.Node, name string) bool {
	for _, a := range n.Attr {
		if a.Key == name {
			return true
		}
	}
	return false
}
