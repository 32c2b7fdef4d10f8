package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/maltedev/bestseller-affiliator/internal/browser"
)

var ErrMalformedCookies = errors.New("malformed cookie file")

// CookieFile persists a browser cookie jar as JSON.
type CookieFile struct {
	mu       sync.RWMutex
	filename string
}

func NewCookieFile(filename string) *CookieFile {
	return &CookieFile{filename: filename}
}

func (cf *CookieFile) Path() string {
	return cf.filename
}

// Load returns the saved cookies. A missing file yields an error wrapping
// os.ErrNotExist; unreadable content yields ErrMalformedCookies.
func (cf *CookieFile) Load() ([]browser.Cookie, error) {
	cf.mu.RLock()
	defer cf.mu.RUnlock()

	data, err := os.ReadFile(cf.filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	var cookies []browser.Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCookies, err)
	}
	if len(cookies) == 0 {
		return nil, fmt.Errorf("%w: no cookies", ErrMalformedCookies)
	}
	return cookies, nil
}

func (cf *CookieFile) Save(cookies []browser.Cookie) error {
	cf.mu.Lock()
	defer cf.mu.Unlock()

	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cookies: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cf.filename), 0o755); err != nil {
		return fmt.Errorf("failed to create cookie directory: %w", err)
	}

	// Write to temp file first for atomicity
	tmpFile := cf.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write cookies: %w", err)
	}

	return os.Rename(tmpFile, cf.filename)
}
