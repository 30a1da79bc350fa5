// Copyright 2026 The imagecache authors.
// SPDX-License-Identifier: Apache-2.0

package imagecache

// Cache is a byte-oriented cache backend, the same shape as
// httpcache.Cache, so existing backends (redis, s3, cloud storage, LRU
// memory stores) plug in unchanged.  Wrap one in a ByteTier to use it as a
// durable tier.
type Cache interface {
	// Get returns the cached value for key, and whether it was present.
	Get(key string) ([]byte, bool)

	// Set stores value under key.
	Set(key string, value []byte)

	// Delete removes the value stored under key.
	Delete(key string)
}

// NopCache is a Cache that stores nothing.
var NopCache Cache = nopCache{}

type nopCache struct{}

func (nopCache) Get(string) ([]byte, bool) { return nil, false }
func (nopCache) Set(string, []byte)        {}
func (nopCache) Delete(string)             {}
