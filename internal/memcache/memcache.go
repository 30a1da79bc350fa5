// Copyright 2026 The imagecache authors.
// SPDX-License-Identifier: Apache-2.0

// Package memcache provides the bounded in-memory cache tier.  A single
// structure (a map into an access-ordered list with a running cost counter)
// drives both lookup and eviction, so the key set can never drift from the
// bounded store.
package memcache

import (
	"container/list"
	"errors"
	"sync"
	"time"

	"github.com/fetchcache/imagecache/data"
)

// ErrTooLarge is returned by Save when a single value exceeds the cache's
// total cost limit.
var ErrTooLarge = errors.New("memcache: value exceeds cache cost limit")

// Cache is a thread-safe in-memory key/value store with cost- and
// count-based LRU eviction and lazy expiration.  All operations serialize on
// one lock per instance; none perform I/O.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	items    map[K]*list.Element
	order    *list.List // front is most recently used
	cost     int64
	maxCost  data.Size
	maxCount int

	expiration data.ExpirationPolicy
	reference  data.ReferenceMode
	sizeOf     func(V) data.Size
}

type slot[K comparable, V any] struct {
	key   K
	entry *data.Entry[V]
}

// New returns a cache bounded by maxCost bytes and maxCount entries.  Pass
// data.Unbounded or maxCount <= 0 to lift the respective limit.  sizeOf
// reports the cost of a value; nil means every value costs one byte.
func New[K comparable, V any](maxCost data.Size, maxCount int, sizeOf func(V) data.Size) *Cache[K, V] {
	if sizeOf == nil {
		sizeOf = func(V) data.Size { return 1 }
	}
	if maxCount <= 0 {
		maxCount = int(^uint(0) >> 1)
	}
	return &Cache[K, V]{
		items:      make(map[K]*list.Element),
		order:      list.New(),
		maxCost:    maxCost,
		maxCount:   maxCount,
		expiration: data.Never(),
		sizeOf:     sizeOf,
	}
}

// SetPolicy configures the expiration policy and reference mode applied to
// entries written after the call.
func (c *Cache[K, V]) SetPolicy(expiration data.ExpirationPolicy, reference data.ReferenceMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expiration = expiration
	c.reference = reference
}

// Save stores value under key, overwriting any previous entry, and evicts
// least-recently-used entries until the cost and count limits hold.
func (c *Cache[K, V]) Save(key K, value V) error {
	size := c.sizeOf(value)
	if c.maxCost != data.Unbounded && size > c.maxCost {
		return ErrTooLarge
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}

	entry := data.NewEntry(value, size, c.expiration, c.reference)
	c.items[key] = c.order.PushFront(&slot[K, V]{key: key, entry: entry})
	c.cost += size.Int64()

	for (c.maxCost != data.Unbounded && c.cost > c.maxCost.Int64()) || c.order.Len() > c.maxCount {
		back := c.order.Back()
		if back == nil {
			break
		}
		c.removeElement(back)
	}
	return nil
}

// Get returns the value stored under key.  Expired entries are evicted and
// reported as misses.  A hit refreshes the entry's last-access time and hit
// count and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return zero, false
	}
	s := elem.Value.(*slot[K, V])
	if s.entry.IsExpired() {
		c.removeElement(elem)
		return zero, false
	}

	s.entry.Touch(time.Now())
	c.order.MoveToFront(elem)
	return s.entry.Data, true
}

// Remove deletes the entry stored under key, if any.
func (c *Cache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// RemoveAll empties the cache.
func (c *Cache[K, V]) RemoveAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*list.Element)
	c.order.Init()
	c.cost = 0
}

// CleanExpired evicts every expired entry and returns the number evicted.
func (c *Cache[K, V]) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []*list.Element
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		if elem.Value.(*slot[K, V]).entry.IsExpired() {
			expired = append(expired, elem)
		}
	}
	for _, elem := range expired {
		c.removeElement(elem)
	}
	return len(expired)
}

// Len returns the number of live entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Cost returns the total cost of live entries.
func (c *Cache[K, V]) Cost() data.Size {
	c.mu.Lock()
	defer c.mu.Unlock()
	return data.Size(c.cost)
}

// removeElement unlinks elem from both structures.  Callers hold c.mu.
func (c *Cache[K, V]) removeElement(elem *list.Element) {
	s := c.order.Remove(elem).(*slot[K, V])
	delete(c.items, s.key)
	c.cost -= s.entry.Size.Int64()
}
