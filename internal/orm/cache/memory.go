package cache

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Memory is an in-process LRU cache. Expired entries are dropped when they
// are read.
type Memory struct {
	lru    *lru.Cache[string, memoryEntry]
	config Config
	now    func() time.Time
}

type memoryEntry struct {
	values     map[string]any
	expiration time.Time
}

// NewMemory creates a cache holding at most size entries.
func NewMemory(size int, config Config) (*Memory, error) {
	c, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, fmt.Errorf("create memory cache: %w", err)
	}
	return &Memory{lru: c, config: config, now: time.Now}, nil
}

// Get returns a copy of the values stored under key.
func (m *Memory) Get(ctx context.Context, key string) (map[string]any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	fullKey := m.config.Prefix + key
	e, ok := m.lru.Get(fullKey)
	if !ok {
		return nil, false, nil
	}
	if !e.expiration.IsZero() && m.now().After(e.expiration) {
		m.lru.Remove(fullKey)
		return nil, false, nil
	}
	return copyValues(e.values), true, nil
}

// Set stores a copy of values.
func (m *Memory) Set(ctx context.Context, key string, values map[string]any, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if ttl == 0 {
		ttl = m.config.DefaultTTL
	}
	e := memoryEntry{values: copyValues(values)}
	if ttl > 0 {
		e.expiration = m.now().Add(ttl)
	}
	m.lru.Add(m.config.Prefix+key, e)
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.lru.Remove(m.config.Prefix + key)
	return nil
}

func (m *Memory) Clear(ctx context.Context) error {
	m.lru.Purge()
	return nil
}

// Len returns the number of entries, expired ones included.
func (m *Memory) Len() int {
	return m.lru.Len()
}
