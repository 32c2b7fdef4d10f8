package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrTimeout      = errors.New("timed out waiting for element")
	ErrNotSupported = errors.New("operation not supported")
)

type LocatorKind string

const (
	ByID    LocatorKind = "id"
	ByName  LocatorKind = "name"
	ByClass LocatorKind = "class"
	ByCSS   LocatorKind = "css"
	ByXPath LocatorKind = "xpath"
)

// Locator identifies how to find an element on the current page.
type Locator struct {
	Kind  LocatorKind
	Value string
}

func ID(v string) Locator    { return Locator{Kind: ByID, Value: v} }
func Name(v string) Locator  { return Locator{Kind: ByName, Value: v} }
func Class(v string) Locator { return Locator{Kind: ByClass, Value: v} }
func CSS(v string) Locator   { return Locator{Kind: ByCSS, Value: v} }
func XPath(v string) Locator { return Locator{Kind: ByXPath, Value: v} }

func (l Locator) String() string {
	return fmt.Sprintf("%s: %s", l.Kind, l.Value)
}

// CSS returns the CSS form of the locator. XPath locators have none.
func (l Locator) CSS() (string, bool) {
	switch l.Kind {
	case ByID:
		return fmt.Sprintf(`[id="%s"]`, cssEscape(l.Value)), true
	case ByName:
		return fmt.Sprintf(`[name="%s"]`, cssEscape(l.Value)), true
	case ByClass:
		return "." + l.Value, true
	case ByCSS:
		return l.Value, true
	default:
		return "", false
	}
}

// Selector returns the locator in Playwright's selector syntax.
func (l Locator) Selector() string {
	if l.Kind == ByXPath {
		return "xpath=" + l.Value
	}
	css, _ := l.CSS()
	return css
}

func cssEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// Readiness is the condition WaitFor polls for.
type Readiness int

const (
	Present Readiness = iota
	Clickable
)

func (r Readiness) String() string {
	if r == Clickable {
		return "clickable"
	}
	return "present"
}

// Element is a handle on one matched DOM element.
type Element interface {
	Text() (string, error)
	// Attribute returns "" when the attribute is missing. "value" reads the
	// live form value.
	Attribute(name string) (string, error)
	Click() error
	Clear() error
	SendKeys(text string) error
	Press(key string) error
}

// Finder is the read-only part of a page: enough for locator chains.
type Finder interface {
	FindElements(ctx context.Context, loc Locator) ([]Element, error)
}

// Session is one browser context driving one page.
type Session interface {
	Finder
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	CurrentURL() string
	Content(ctx context.Context) (string, error)
	// WaitFor polls until an element matching loc reaches readiness or the
	// timeout elapses, in which case it returns ErrTimeout.
	WaitFor(ctx context.Context, loc Locator, readiness Readiness, timeout time.Duration) (Element, error)
	Cookies(ctx context.Context, urls ...string) ([]Cookie, error)
	AddCookies(ctx context.Context, cookies []Cookie) error
	ScrollBy(ctx context.Context, pixels int) error
	Screenshot(ctx context.Context, path string) error
	Close() error
}

// Cookie is the persisted form of a browser cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}
