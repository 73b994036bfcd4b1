// Package store persists the small amount of local state the capture
// pipeline keeps between runs: boolean flags keyed by a fixed name.
package store

import (
	"context"
	"sync"
)

// KeyCodeInjected records whether the capture capability has already been
// installed into the current page context.
const KeyCodeInjected = "isCodeInjected"

type Flags interface {
	// Get returns false for keys that were never set.
	Get(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key string, value bool) error
}

// Memory is a process-local Flags implementation.
type Memory struct {
	mu     sync.Mutex
	values map[string]bool
	writes int
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]bool)}
}

func (m *Memory) Get(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key], nil
}

func (m *Memory) Set(_ context.Context, key string, value bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	m.writes++
	return nil
}

// Writes reports how many Set calls were made.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
