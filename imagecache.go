// Copyright 2026 The imagecache authors.
// SPDX-License-Identifier: Apache-2.0

// Package imagecache fetches remote images through a two-tier cache: a
// bounded in-memory tier, a durable disk tier, and a coalescing downloader
// with ETag revalidation behind them.  For typical construction see
// cmd/imagecache/main.go.
package imagecache

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/fetchcache/imagecache/data"
	"github.com/fetchcache/imagecache/internal/fetch"
	"github.com/fetchcache/imagecache/internal/memcache"
)

// Default sweep intervals for the periodic expired-entry cleanups.
const (
	DefaultMemorySweepInterval = 30 * time.Minute
	DefaultDiskSweepInterval   = time.Hour
)

// DefaultMemoryCost bounds the default memory tier.
const DefaultMemoryCost = 64 << 20

// MemoryTier is the fast in-process cache layer.
type MemoryTier interface {
	Save(key string, img *data.Image) error
	Get(key string) (*data.Image, bool)
	Remove(key string)
	RemoveAll()
	CleanExpired() int
	SetPolicy(expiration data.ExpirationPolicy, reference data.ReferenceMode)
}

// DiskTier is the durable cache layer.
type DiskTier interface {
	Save(key string, img *data.Image) error
	Get(key string) (*data.Image, bool)
	Remove(key string)
	RemoveAll()
	CleanExpired() int
	CurrentUsage() data.Size
	SetPolicy(expiration data.ExpirationPolicy, reference data.ReferenceMode)
}

// Fetcher downloads remote images, deduplicating concurrent transfers of
// the same resource.
type Fetcher interface {
	Fetch(ctx context.Context, resource, etag string) (*data.Image, error)
	Cancel(resource string)
	Forget(resource string)
}

// ImageCache resolves image URLs against the memory tier, then the disk
// tier (revalidating against the origin when the stored entry carries an
// ETag), then the network.  It holds no lock of its own around tier
// operations; each collaborator locks independently, so a slow disk read
// never blocks a memory-only read.
type ImageCache struct {
	// Verbose enables logging of cache traffic.
	Verbose bool

	mu      sync.Mutex // guards tier/sweep fields below
	memory  MemoryTier
	disk    DiskTier
	fetcher Fetcher

	memSweepStop  chan struct{}
	diskSweepStop chan struct{}
}

// New constructs an ImageCache.  A nil memory tier gets a 64MB in-memory
// cache, and a nil fetcher gets a default HTTP fetcher; a nil disk tier
// leaves the cache memory-only.  Periodic expired-entry sweeps start
// immediately with the default intervals; call Close to stop them.
//
// The returned value is intended to be constructed once at process start
// and injected wherever images are needed.
func New(memory MemoryTier, disk DiskTier, fetcher Fetcher) (*ImageCache, error) {
	if memory == nil {
		memory = memcache.New[string, *data.Image](data.Bytes(DefaultMemoryCost), 0, (*data.Image).ByteSize)
	}
	if fetcher == nil {
		f, err := fetch.New(nil)
		if err != nil {
			return nil, err
		}
		fetcher = f
	}

	c := &ImageCache{
		memory:  memory,
		disk:    disk,
		fetcher: fetcher,
	}
	c.SetMemorySweepInterval(DefaultMemorySweepInterval)
	c.SetDiskSweepInterval(DefaultDiskSweepInterval)
	return c, nil
}

// Fetch resolves url to image bytes.  Failures inside cache tiers and
// opportunistic revalidation are absorbed; the returned error is non-nil
// only when the image had to be downloaded and the download failed.  A nil
// image with a nil error means OnlyFromCache was set and nothing was
// cached.
func (c *ImageCache) Fetch(ctx context.Context, url string, opt Options) (*data.Image, error) {
	if opt.ForceRefresh {
		c.logf("imagecache: force refresh of %v", url)
		return c.refetch(ctx, url, &opt)
	}

	memory, disk, _ := c.collaborators()

	if img, ok := memory.Get(url); ok {
		cacheHits.WithLabelValues("memory").Inc()
		c.logf("imagecache: memory hit for %v", url)
		return img, nil
	}

	if !opt.CacheMemoryOnly && disk != nil {
		if img, ok := disk.Get(url); ok {
			cacheHits.WithLabelValues("disk").Inc()
			c.logf("imagecache: disk hit for %v", url)
			img = c.revalidate(ctx, url, img, &opt)
			if err := memory.Save(url, img); err != nil {
				c.logf("imagecache: memory save of %v skipped: %v", url, err)
			}
			return img, nil
		}
	}

	if opt.OnlyFromCache {
		c.logf("imagecache: %v not cached and network disallowed", url)
		return nil, nil
	}

	return c.refetch(ctx, url, &opt)
}

// Store writes img into the memory tier and, unless opt says otherwise,
// the disk tier.  Values too large for a tier are skipped with a log line,
// never an error.
func (c *ImageCache) Store(url string, img *data.Image, opt *Options) {
	memory, disk, _ := c.collaborators()

	if err := memory.Save(url, img); err != nil {
		c.logf("imagecache: memory save of %v skipped: %v", url, err)
	}
	if opt != nil && !opt.CacheMemoryOnly && disk != nil {
		if err := disk.Save(url, img); err != nil {
			c.logf("imagecache: disk save of %v skipped: %v", url, err)
		}
	}
}

// Cancel requests cancellation of an in-flight download of url, if any.
func (c *ImageCache) Cancel(url string) {
	_, _, fetcher := c.collaborators()
	fetcher.Cancel(url)
}

// refetch is the unconditional download path: fetch from the origin, store
// into the tiers, release the downloader's completed entry.
func (c *ImageCache) refetch(ctx context.Context, url string, opt *Options) (*data.Image, error) {
	_, _, fetcher := c.collaborators()

	if opt.ForceRefresh {
		fetcher.Forget(url)
	}
	remoteFetchCount.Inc()
	img, err := fetcher.Fetch(ctx, url, "")
	if err != nil {
		remoteFetchErrors.Inc()
		c.logf("imagecache: fetching %v: %v", url, err)
		return nil, err
	}
	c.Store(url, img, opt)
	fetcher.Forget(url)
	return img, nil
}

// revalidate issues a conditional fetch for a disk hit carrying a
// revalidation token.  The cached image wins unless the origin returns
// fresh bytes: a 304 keeps the disk entry untouched, and any failure is
// absorbed because stale-but-available beats unavailable.
func (c *ImageCache) revalidate(ctx context.Context, url string, cached *data.Image, opt *Options) *data.Image {
	if opt.DisableETag || cached.ETag == "" {
		return cached
	}
	_, disk, fetcher := c.collaborators()

	revalidationCount.Inc()
	img, err := fetcher.Fetch(ctx, url, cached.ETag)
	switch {
	case err == nil:
		c.logf("imagecache: %v changed at origin, replacing cached copy", url)
		if err := disk.Save(url, img); err != nil {
			c.logf("imagecache: disk save of %v skipped: %v", url, err)
		}
		fetcher.Forget(url)
		return img
	case errors.Is(err, fetch.ErrNotModified):
		revalidationNotModified.Inc()
		c.logf("imagecache: %v not modified", url)
		return cached
	default:
		c.logf("imagecache: revalidating %v: %v (serving cached copy)", url, err)
		return cached
	}
}

// SetMemoryTier swaps in a differently configured memory tier.  Entries in
// the old tier are abandoned.
func (c *ImageCache) SetMemoryTier(tier MemoryTier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memory = tier
}

// SetDiskTier swaps in a differently configured disk tier.
func (c *ImageCache) SetDiskTier(tier DiskTier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disk = tier
}

// SetMemoryPolicy configures expiration for entries subsequently written to
// the memory tier.
func (c *ImageCache) SetMemoryPolicy(expiration data.ExpirationPolicy, reference data.ReferenceMode) {
	memory, _, _ := c.collaborators()
	memory.SetPolicy(expiration, reference)
}

// SetDiskPolicy configures expiration for entries subsequently written to
// the disk tier.
func (c *ImageCache) SetDiskPolicy(expiration data.ExpirationPolicy, reference data.ReferenceMode) {
	_, disk, _ := c.collaborators()
	if disk != nil {
		disk.SetPolicy(expiration, reference)
	}
}

// SetMemorySweepInterval restarts the memory tier's periodic expired-entry
// sweep on the given interval.  An interval <= 0 stops the sweep.
func (c *ImageCache) SetMemorySweepInterval(interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memSweepStop = c.restartSweep(c.memSweepStop, interval, "memory", func() int {
		memory, _, _ := c.collaborators()
		return memory.CleanExpired()
	})
}

// SetDiskSweepInterval restarts the disk tier's periodic expired-entry
// sweep on the given interval.  An interval <= 0 stops the sweep.
func (c *ImageCache) SetDiskSweepInterval(interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.diskSweepStop = c.restartSweep(c.diskSweepStop, interval, "disk", func() int {
		_, disk, _ := c.collaborators()
		if disk == nil {
			return 0
		}
		return disk.CleanExpired()
	})
}

// Close stops the periodic sweeps.  The tiers themselves remain usable.
func (c *ImageCache) Close() {
	c.SetMemorySweepInterval(0)
	c.SetDiskSweepInterval(0)
}

// restartSweep stops the sweep goroutine signalled by stop, if any, and
// starts a new one.  Callers hold c.mu.
func (c *ImageCache) restartSweep(stop chan struct{}, interval time.Duration, tier string, clean func() int) chan struct{} {
	if stop != nil {
		close(stop)
	}
	if interval <= 0 {
		return nil
	}

	next := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-next:
				return
			case <-ticker.C:
				n := clean()
				sweepRemovals.WithLabelValues(tier).Add(float64(n))
				if n > 0 {
					c.logf("imagecache: swept %d expired %s entries", n, tier)
				}
			}
		}
	}()
	return next
}

// collaborators snapshots the current tiers and fetcher.
func (c *ImageCache) collaborators() (MemoryTier, DiskTier, Fetcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.memory, c.disk, c.fetcher
}

func (c *ImageCache) logf(format string, args ...interface{}) {
	if c.Verbose {
		log.Printf(format, args...)
	}
}
