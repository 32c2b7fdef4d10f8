package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Memory is an in-process Backend.
type Memory struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func memoryKey(path string) string {
	return strings.Trim(path, "/")
}

func (m *Memory) Get(_ context.Context, path string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.data[memoryKey(path)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

func (m *Memory) Set(_ context.Context, path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[memoryKey(path)] = data
	return nil
}

func (m *Memory) Update(_ context.Context, path string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	merged := make(map[string]any, len(fields))
	if existing, ok := m.data[memoryKey(path)]; ok {
		if err := json.Unmarshal(existing, &merged); err != nil {
			merged = make(map[string]any, len(fields))
		}
	}
	for k, v := range fields {
		merged[k] = v
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	m.data[memoryKey(path)] = data
	return nil
}

func (m *Memory) Incr(_ context.Context, path string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int
	if existing, ok := m.data[memoryKey(path)]; ok {
		if err := json.Unmarshal(existing, &n); err != nil {
			return 0, fmt.Errorf("%s is not a counter: %w", path, err)
		}
	}
	n++
	m.data[memoryKey(path)] = []byte(fmt.Sprint(n))
	return n, nil
}

func (m *Memory) Close() error {
	return nil
}
