// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package compileinfo parses the compile info of the operators: the JSON tables and hardware parameters
// produced ahead of tiling by the operator compilation step.
//
// Parsing happens at most once per distinct compile info: a Cache memoizes the parsed values keyed by
// a name-based UUID of the operator type and the compile info text. The parsed values are immutable
// and shared by all later tiling calls.
//
// Key names of the JSON objects are an external contract and are reproduced exactly: "core_num", "ub_size",
// "_vars", "repo_seeds", "repo_range", "cost_range", "block_dim", "tiling_type", "default_range",
// "tiling_range", "vars", "_pattern", etc. Tables keep the document order of their entries, since the
// table search tie-breaks depend on it.
package compileinfo

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
	"k8s.io/klog/v2"
)

// namespace of the name-based UUIDs used as cache keys.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/gomlx/optiling/compileinfo"))

// Key returns the cache key of a compile info text for the given operator type.
func Key(opType, text string) uuid.UUID {
	data := make([]byte, 0, len(opType)+1+len(text))
	data = append(data, opType...)
	data = append(data, 0)
	data = append(data, text...)
	return uuid.NewSHA1(namespace, data)
}

// Cache memoizes parsed compile info. It is safe for concurrent use: concurrent first uses of the same key
// parse it only once, and later uses only take a read lock.
//
// Parse failures are not cached.
type Cache struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]any
	group   singleflight.Group
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[uuid.UUID]any)}
}

// Len returns the number of parsed entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Reset drops all entries.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uuid.UUID]any)
}

func (c *Cache) lookup(key uuid.UUID) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, found := c.entries[key]
	return value, found
}

// Load returns the compile info of opType parsed from text with parse, parsing it only if it is not in the
// cache yet.
//
// The parse function must be deterministic for the (opType, text) pair: its result is shared by every
// later call with the same pair.
func Load[T any](c *Cache, opType, text string, parse func(text string) (T, error)) (T, error) {
	key := Key(opType, text)
	if value, found := c.lookup(key); found {
		typed, ok := value.(T)
		if !ok {
			var zero T
			return zero, errors.Errorf("compile info of %s cached as %T, but %T was requested", opType, value, zero)
		}
		return typed, nil
	}

	value, err, _ := c.group.Do(key.String(), func() (any, error) {
		if value, found := c.lookup(key); found {
			return value, nil
		}
		parsed, err := parse(text)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = parsed
		c.mu.Unlock()
		klog.V(1).Infof("parsed compile info of %s (key %s)", opType, key)
		return parsed, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	typed, ok := value.(T)
	if !ok {
		var zero T
		return zero, errors.Errorf("compile info of %s cached as %T, but %T was requested", opType, value, zero)
	}
	return typed, nil
}
