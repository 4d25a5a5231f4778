package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultMemorySize = 1024
	defaultMemoryTTL  = 10 * time.Minute
)

// Memory is an in-process LRU cache with per-entry expiry.
type Memory struct {
	lru *expirable.LRU[string, []byte]
}

var _ Cache = (*Memory)(nil)

// NewMemory returns a cache holding at most size entries for ttl each.
// Non-positive arguments fall back to 1024 entries and 10 minutes.
func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = defaultMemorySize
	}
	if ttl <= 0 {
		ttl = defaultMemoryTTL
	}
	return &Memory{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (m *Memory) Get(_ context.Context, namespace, key string, dst any) (bool, error) {
	raw, ok := m.lru.Get(Key(namespace, key))
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		m.lru.Remove(Key(namespace, key))
		return false, fmt.Errorf("cache: decode %s: %w", Key(namespace, key), err)
	}
	return true, nil
}

func (m *Memory) Set(_ context.Context, namespace, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", Key(namespace, key), err)
	}
	m.lru.Add(Key(namespace, key), raw)
	return nil
}

func (m *Memory) Delete(_ context.Context, namespace, key string) error {
	m.lru.Remove(Key(namespace, key))
	return nil
}

// Len reports the number of live entries.
func (m *Memory) Len() int { return m.lru.Len() }
