// Package diagnostics captures best-effort page evidence on failure paths.
package diagnostics

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/maltedev/bestseller-affiliator/internal/normalize"
)

// Capturer is anything that can screenshot its current page.
type Capturer interface {
	Screenshot(ctx context.Context, path string) error
}

// Sink records a labelled capture. Implementations never fail the caller.
type Sink interface {
	Capture(ctx context.Context, c Capturer, label string)
}

// Nop discards every capture.
type Nop struct{}

func (Nop) Capture(context.Context, Capturer, string) {}

type ScreenshotSink struct {
	dir    string
	logger *slog.Logger
}

func NewScreenshotSink(dir string, logger *slog.Logger) *ScreenshotSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScreenshotSink{
		dir:    dir,
		logger: logger.With("component", "diagnostics"),
	}
}

// Path returns where a capture with label would be written.
func (s *ScreenshotSink) Path(label string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.png", Slug(label), uuid.NewString()))
}

func (s *ScreenshotSink) Capture(ctx context.Context, c Capturer, label string) {
	if c == nil {
		return
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.logger.Warn("failed to create diagnostics directory", "dir", s.dir, "error", err)
		return
	}

	path := s.Path(label)
	if err := c.Screenshot(ctx, path); err != nil {
		s.logger.Warn("failed to capture screenshot", "label", label, "error", err)
		return
	}
	s.logger.Info("saved screenshot", "label", label, "path", path)
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Slug reduces a label to a file-name safe token.
func Slug(label string) string {
	slug := strings.Trim(unsafeChars.ReplaceAllString(label, "_"), "_")
	if slug == "" {
		return "capture"
	}
	if len(slug) > 64 {
		slug = slug[:64]
	}
	return slug
}

// Label names a capture after the page it shows: the ASIN for product pages,
// the last path segment otherwise.
func Label(prefix, pageURL string) string {
	if asin, err := normalize.ExtractASIN(pageURL); err == nil {
		return prefix + "_" + asin
	}

	if u, err := url.Parse(strings.TrimSpace(pageURL)); err == nil {
		segments := strings.Split(strings.Trim(u.Path, "/"), "/")
		if last := segments[len(segments)-1]; last != "" {
			return prefix + "_" + last
		}
	}
	return prefix
}
