// Package cache holds the baseline cache backends.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/elonfeng/storyradar/pkg/engagement"
)

// Key returns the cache key of a (region, category) baseline.
func Key(region, category string) string {
	return "storyradar:baseline:" + region + ":" + category
}

type entry struct {
	baseline engagement.Baseline
	expires  time.Time
}

// Memory is an in-process baseline cache. Concurrent misses on the same key
// share a single computation.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
	now     func() time.Time
}

var _ engagement.BaselineCache = (*Memory)(nil)

// NewMemory creates an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry), now: time.Now}
}

func (m *Memory) GetOrCompute(ctx context.Context, region, category string, ttl time.Duration,
	compute func(context.Context) (engagement.Baseline, error)) (engagement.Baseline, error) {
	key := Key(region, category)

	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if ok && m.now().Before(e.expires) {
		return e.baseline, nil
	}

	v, err, _ := m.group.Do(key, func() (any, error) {
		b, err := compute(ctx)
		if err != nil {
			return engagement.Baseline{}, err
		}
		m.mu.Lock()
		m.entries[key] = entry{baseline: b, expires: m.now().Add(ttl)}
		m.mu.Unlock()
		return b, nil
	})
	if err != nil {
		return engagement.Baseline{}, err
	}
	return v.(engagement.Baseline), nil
}

func (m *Memory) Invalidate(_ context.Context, region, category string) error {
	m.mu.Lock()
	delete(m.entries, Key(region, category))
	m.mu.Unlock()
	return nil
}

// Len returns the number of cached entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
