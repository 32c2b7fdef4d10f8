package storage

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ReadLines returns the trimmed, non-blank lines of a line-oriented file such
// as the category topics list.
func ReadLines(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filename, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	return lines, nil
}

// LinkAppender appends one link per line to an output file.
type LinkAppender struct {
	mu       sync.Mutex
	filename string
}

func NewLinkAppender(filename string) *LinkAppender {
	return &LinkAppender{filename: filename}
}

func (la *LinkAppender) Path() string {
	return la.filename
}

func (la *LinkAppender) Append(link string) error {
	link = strings.TrimSpace(link)
	if link == "" {
		return fmt.Errorf("empty link")
	}

	la.mu.Lock()
	defer la.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(la.filename), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	f, err := os.OpenFile(la.filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", la.filename, err)
	}

	if _, err := f.WriteString(link + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("failed to append link: %w", err)
	}
	return f.Close()
}
