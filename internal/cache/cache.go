package cache

import (
	"context"
	"sync"
	"time"

	"portfolio-pipeline/internal/models"
)

// Cache maps a request fingerprint to a previously accepted generation
// result. Entries expire after a TTL; expired entries read as absent. A
// false miss only costs latency, so implementations may be weakly
// consistent under concurrency, but a false hit is a defect.
type Cache interface {
	Get(ctx context.Context, fingerprint string) (models.GenerationResult, bool, error)
	Set(ctx context.Context, fingerprint string, result models.GenerationResult) error
}

type memoryEntry struct {
	result    models.GenerationResult
	expiresAt time.Time
}

// Memory is a process-local Cache with lazy eviction on read. Entries are
// replaced wholesale on overwrite; last writer wins.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemory builds an in-memory cache with the given TTL.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (m *Memory) Get(_ context.Context, fingerprint string) (models.GenerationResult, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[fingerprint]
	if !ok {
		return models.GenerationResult{}, false, nil
	}
	if m.now().After(e.expiresAt) {
		delete(m.entries, fingerprint)
		return models.GenerationResult{}, false, nil
	}
	return e.result, true, nil
}

func (m *Memory) Set(_ context.Context, fingerprint string, result models.GenerationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[fingerprint] = memoryEntry{result: result, expiresAt: m.now().Add(m.ttl)}
	return nil
}

// Len reports live (unexpired) entries. Intended for tests and diagnostics.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	now := m.now()
	for _, e := range m.entries {
		if !now.After(e.expiresAt) {
			n++
		}
	}
	return n
}
