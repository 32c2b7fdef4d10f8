package scraper

import (
	"errors"
	"strings"
	"time"

	"github.com/maltedev/bestseller-affiliator/internal/diagnostics"
	"github.com/maltedev/bestseller-affiliator/internal/ratelimit"
)

var ErrBlocked = errors.New("blocked by Amazon anti-bot")

type Options struct {
	WaitTimeout time.Duration

	// CategoryLoad is the pause after opening a listing page, DetailLoad the
	// pause after opening a product page.
	CategoryLoad ratelimit.Range
	DetailLoad   ratelimit.Range

	ScrollSteps int
	ScrollMin   int
	ScrollMax   int
	ScrollPause ratelimit.Range

	Pacer       ratelimit.Pacer
	Diagnostics diagnostics.Sink
}

func DefaultOptions() Options {
	return Options{
		WaitTimeout:  20 * time.Second,
		CategoryLoad: ratelimit.Between(3*time.Second, 5*time.Second),
		DetailLoad:   ratelimit.Between(2*time.Second, 4*time.Second),
		ScrollSteps:  3,
		ScrollMin:    300,
		ScrollMax:    700,
		ScrollPause:  ratelimit.Between(500*time.Millisecond, 2*time.Second),
	}
}

// IsProductURL reports whether href points at a product detail page.
func IsProductURL(href string) bool {
	return strings.Contains(href, "dp/")
}
