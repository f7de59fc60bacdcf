// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package containers

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// LRUCache is a least-recently-used(ish) cache; it is a typed
// wrapper around hashicorp/golang-lru's adaptive replacement cache.
// It is safe for concurrent use.  A zero LRUCache is not usable; it
// must be initialized with NewLRUCache.
type LRUCache[K comparable, V any] struct {
	inner *lru.ARCCache
}

// NewLRUCache returns a new cache holding at most size entries.
//
// It is invalid (runtime-panic) to call NewLRUCache with a
// non-positive size.
func NewLRUCache[K comparable, V any](size int) *LRUCache[K, V] {
	inner, err := lru.NewARC(size)
	if err != nil {
		panic(fmt.Errorf("containers.NewLRUCache: %w", err))
	}
	return &LRUCache[K, V]{
		inner: inner,
	}
}

func (c *LRUCache[K, V]) Add(key K, value V) {
	c.inner.Add(key, value)
}

func (c *LRUCache[K, V]) Contains(key K) bool {
	return c.inner.Contains(key)
}

func (c *LRUCache[K, V]) Get(key K) (value V, ok bool) {
	_value, ok := c.inner.Get(key)
	if ok {
		//nolint:forcetypeassert // Typed wrapper around untyped lib.
		value = _value.(V)
	}
	return value, ok
}

func (c *LRUCache[K, V]) Len() int {
	return c.inner.Len()
}

func (c *LRUCache[K, V]) Peek(key K) (value V, ok bool) {
	_value, ok := c.inner.Peek(key)
	if ok {
		//nolint:forcetypeassert // Typed wrapper around untyped lib.
		value = _value.(V)
	}
	return value, ok
}

func (c *LRUCache[K, V]) Purge() {
	c.inner.Purge()
}

func (c *LRUCache[K, V]) Remove(key K) {
	c.inner.Remove(key)
}

// GetOrElse returns the cached value for key, calling fn to compute
// (and then caching) it if it is not present.  If fn returns an
// error, nothing is cached and the error is returned.
func (c *LRUCache[K, V]) GetOrElse(key K, fn func() (V, error)) (V, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}
	value, err := fn()
	if err != nil {
		var zero V
		return zero, err
	}
	c.Add(key, value)
	return value, nil
}
