// Package locator resolves a logical page field through an ordered chain of
// candidate locators. Candidates are tried in order and the first one that
// yields a value wins; the rest are never evaluated. Exhausting the chain is
// an absent result, not an error.
package locator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/bestseller-affiliator/internal/browser"
	"github.com/maltedev/bestseller-affiliator/internal/normalize"
)

// Chain is an ordered list of candidates for one field, most reliable first.
type Chain []browser.Locator

func Of(locs ...browser.Locator) Chain {
	return Chain(locs)
}

// Waiter is the part of a session needed for readiness-based lookups.
type Waiter interface {
	WaitFor(ctx context.Context, loc browser.Locator, readiness browser.Readiness, timeout time.Duration) (browser.Element, error)
}

// Extract turns a matched element into a field value. ok is false when the
// element carries nothing usable.
type Extract[T any] func(el browser.Element) (T, bool)

// First evaluates candidates in order until try reports a hit.
func First[T any](ctx context.Context, chain Chain, try func(ctx context.Context, loc browser.Locator) (T, bool)) (T, browser.Locator, bool) {
	var zero T
	for _, loc := range chain {
		if ctx.Err() != nil {
			return zero, browser.Locator{}, false
		}
		if v, ok := try(ctx, loc); ok {
			return v, loc, true
		}
	}
	return zero, browser.Locator{}, false
}

type Resolver struct {
	logger  *slog.Logger
	timeout time.Duration
}

// NewResolver returns a Resolver that waits up to timeout per candidate in
// readiness lookups.
func NewResolver(logger *slog.Logger, timeout time.Duration) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		logger:  logger.With("component", "locator"),
		timeout: timeout,
	}
}

func (r *Resolver) Timeout() time.Duration {
	return r.timeout
}

// Collect returns every value the first productive candidate yields. A
// candidate is productive when at least one of its elements extracts.
func Collect[T any](ctx context.Context, r *Resolver, f browser.Finder, field string, chain Chain, extract Extract[T]) []T {
	values, loc, ok := First(ctx, chain, func(ctx context.Context, loc browser.Locator) ([]T, bool) {
		elements, err := f.FindElements(ctx, loc)
		if err != nil {
			r.logger.Debug("locator failed", "field", field, "locator", loc.String(), "error", err)
			return nil, false
		}

		var values []T
		for _, el := range elements {
			if v, ok := extract(el); ok {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			r.logger.Debug("locator yielded nothing", "field", field, "locator", loc.String(), "elements", len(elements))
			return nil, false
		}
		return values, true
	})

	if !ok {
		r.logger.Info("all locators exhausted", "field", field, "candidates", len(chain))
		return nil
	}

	r.logger.Info("locator matched", "field", field, "locator", loc.String(), "count", len(values))
	return values
}

// Single reads the first element of each candidate, like a select-one query.
func Single[T any](ctx context.Context, r *Resolver, f browser.Finder, field string, chain Chain, extract Extract[T]) (T, bool) {
	value, loc, ok := First(ctx, chain, func(ctx context.Context, loc browser.Locator) (T, bool) {
		var zero T
		elements, err := f.FindElements(ctx, loc)
		if err != nil {
			r.logger.Debug("locator failed", "field", field, "locator", loc.String(), "error", err)
			return zero, false
		}
		if len(elements) == 0 {
			r.logger.Debug("locator matched no element", "field", field, "locator", loc.String())
			return zero, false
		}
		v, ok := extract(elements[0])
		if !ok {
			r.logger.Debug("locator yielded nothing", "field", field, "locator", loc.String())
		}
		return v, ok
	})

	if !ok {
		r.logger.Info("all locators exhausted", "field", field, "candidates", len(chain))
		return value, false
	}

	r.logger.Info("locator matched", "field", field, "locator", loc.String())
	return value, true
}

// Await waits for each candidate to reach readiness and extracts from the
// first element that does.
func Await[T any](ctx context.Context, r *Resolver, w Waiter, field string, chain Chain, readiness browser.Readiness, extract Extract[T]) (T, browser.Locator, bool) {
	value, loc, ok := First(ctx, chain, func(ctx context.Context, loc browser.Locator) (T, bool) {
		var zero T
		r.logger.Debug("waiting for locator", "field", field, "locator", loc.String(), "readiness", readiness.String())
		el, err := w.WaitFor(ctx, loc, readiness, r.timeout)
		if err != nil {
			r.logger.Debug("locator not ready", "field", field, "locator", loc.String(), "error", err)
			return zero, false
		}
		v, ok := extract(el)
		if !ok {
			r.logger.Debug("locator yielded nothing", "field", field, "locator", loc.String())
		}
		return v, ok
	})

	if !ok {
		r.logger.Info("all locators exhausted", "field", field, "candidates", len(chain))
		return value, browser.Locator{}, false
	}

	r.logger.Info("locator matched", "field", field, "locator", loc.String())
	return value, loc, true
}

func (r *Resolver) Texts(ctx context.Context, f browser.Finder, field string, chain Chain) []string {
	return Collect(ctx, r, f, field, chain, TextOf)
}

func (r *Resolver) Text(ctx context.Context, f browser.Finder, field string, chain Chain) (string, bool) {
	return Single(ctx, r, f, field, chain, TextOf)
}

// Clickable returns the first candidate element that becomes clickable.
func (r *Resolver) Clickable(ctx context.Context, w Waiter, field string, chain Chain) (browser.Element, browser.Locator, bool) {
	return Await(ctx, r, w, field, chain, browser.Clickable, Element)
}

// Present returns the first candidate element that appears in the DOM.
func (r *Resolver) Present(ctx context.Context, w Waiter, field string, chain Chain) (browser.Element, browser.Locator, bool) {
	return Await(ctx, r, w, field, chain, browser.Present, Element)
}

// Element accepts any matched element.
func Element(el browser.Element) (browser.Element, bool) {
	return el, el != nil
}

// TextOf reads trimmed, non-empty element text.
func TextOf(el browser.Element) (string, bool) {
	text, err := el.Text()
	if err != nil {
		return "", false
	}
	text = strings.TrimSpace(text)
	return text, text != ""
}

// TextOrValue reads the element text, falling back to its value attribute.
func TextOrValue(el browser.Element) (string, bool) {
	if text, ok := TextOf(el); ok {
		return text, true
	}
	return AttrOf("value")(el)
}

// AttrOf reads a trimmed, non-empty attribute.
func AttrOf(name string) Extract[string] {
	return func(el browser.Element) (string, bool) {
		v, err := el.Attribute(name)
		if err != nil {
			return "", false
		}
		v = strings.TrimSpace(v)
		return v, v != ""
	}
}

// PriceOf parses the element text as a currency amount.
func PriceOf(el browser.Element) (float64, bool) {
	text, ok := TextOf(el)
	if !ok {
		return 0, false
	}
	return normalize.ParsePrice(text)
}
