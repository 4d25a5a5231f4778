// Package cache provides the advisory key/value cache used by the rights resolver.
// Entries are JSON encoded and addressed by namespace and key. Callers must treat every
// error as a miss: the cache never decides correctness.
package cache

import (
	"context"
	"errors"
	"strings"
)

// ErrUnavailable is returned by backends that cannot reach their server.
var ErrUnavailable = errors.New("cache: unavailable")

// Cache is the minimal read-through cache contract.
type Cache interface {
	// Get decodes the value stored under (namespace, key) into dst. It reports false on a miss.
	Get(ctx context.Context, namespace, key string, dst any) (bool, error)
	Set(ctx context.Context, namespace, key string, value any) error
	Delete(ctx context.Context, namespace, key string) error
}

// Key builds the storage key for a namespace and key.
func Key(namespace, key string) string {
	return strings.TrimSpace(namespace) + ":" + strings.TrimSpace(key)
}

// Nop is a cache that stores nothing.
type Nop struct{}

var _ Cache = Nop{}

func (Nop) Get(context.Context, string, string, any) (bool, error) { return false, nil }
func (Nop) Set(context.Context, string, string, any) error         { return nil }
func (Nop) Delete(context.Context, string, string) error           { return nil }
