// Copyright 2026 The imagecache authors.
// SPDX-License-Identifier: Apache-2.0

// Package diskcache provides the durable on-disk cache tier.  Each entry is
// one gob-encoded file under the cache directory, stored via diskv with the
// filename derived from an md5 hash of the key, so resolving a key never
// requires a directory listing.
package diskcache

import (
	"bytes"
	"crypto/md5"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/peterbourgon/diskv"

	"github.com/fetchcache/imagecache/data"
)

// ErrSaveFailed is returned by Save when a value violates the per-file size
// limit or would push total usage past the cache capacity.
var ErrSaveFailed = errors.New("diskcache: save failed")

const tempDir = ".tmp"

// Cache is a thread-safe durable key/value store with capacity and per-file
// size limits and lazy plus manual expiration.  All operations serialize on
// one lock per instance.
type Cache[V any] struct {
	mu       sync.Mutex
	d        *diskv.Diskv
	dir      string
	maxBytes data.Size
	maxFile  data.Size
	usage    int64

	expiration data.ExpirationPolicy
	reference  data.ReferenceMode
	sizeOf     func(V) data.Size
}

// New returns a disk cache rooted at dir, bounded by maxBytes total and
// maxFile per entry (data.Unbounded lifts either limit).  sizeOf reports the
// logical payload size recorded on entries; nil means one byte each.
// Existing files under dir are adopted and counted toward usage.
func New[V any](dir string, maxBytes, maxFile data.Size, sizeOf func(V) data.Size) (*Cache[V], error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("diskcache: creating %s: %w", dir, err)
	}
	if sizeOf == nil {
		sizeOf = func(V) data.Size { return 1 }
	}

	c := &Cache[V]{
		d: diskv.New(diskv.Options{
			BasePath: dir,
			// For file "c0ffee", store file as "c0/ff/c0ffee".
			Transform: func(s string) []string { return []string{s[0:2], s[2:4]} },
			// Writes land in a temp file and are renamed into place, so a
			// concurrent reader never observes a partial file.
			TempDir: filepath.Join(dir, tempDir),
		}),
		dir:        dir,
		maxBytes:   maxBytes,
		maxFile:    maxFile,
		expiration: data.Never(),
		sizeOf:     sizeOf,
	}

	usage, err := scanUsage(dir)
	if err != nil {
		return nil, err
	}
	c.usage = usage
	return c, nil
}

// SetPolicy configures the expiration policy and reference mode applied to
// entries written after the call.
func (c *Cache[V]) SetPolicy(expiration data.ExpirationPolicy, reference data.ReferenceMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expiration = expiration
	c.reference = reference
}

// Save serializes value under key.  It fails with ErrSaveFailed if the
// serialized entry exceeds the per-file limit or would push total usage past
// the capacity limit; nothing is written in either case.
func (c *Cache[V]) Save(key string, value V) error {
	entry := data.NewEntry(value, c.sizeOf(value), c.expirationPolicy(), c.referenceMode())

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entry); err != nil {
		return fmt.Errorf("diskcache: encoding %q: %w", key, err)
	}
	blob := buf.Bytes()

	if c.maxFile != data.Unbounded && data.Size(len(blob)) > c.maxFile {
		return fmt.Errorf("%w: entry of %s exceeds per-file limit %s", ErrSaveFailed, data.Size(len(blob)), c.maxFile)
	}

	fname := keyToFilename(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	var replaced int64
	if fi, err := os.Stat(c.filePath(fname)); err == nil {
		replaced = fi.Size()
	}
	if c.maxBytes != data.Unbounded && data.Size(c.usage-replaced+int64(len(blob))) > c.maxBytes {
		return fmt.Errorf("%w: usage %s + entry %s exceeds capacity %s",
			ErrSaveFailed, data.Size(c.usage-replaced), data.Size(len(blob)), c.maxBytes)
	}

	if err := c.d.Write(fname, blob); err != nil {
		return fmt.Errorf("diskcache: writing %q: %w", key, err)
	}
	c.usage += int64(len(blob)) - replaced
	return nil
}

// Get deserializes the value stored under key.  Expired entries are deleted
// and reported as misses.  A file that fails to decode is a soft miss: the
// file is left in place and no error surfaces.  The hit is recorded on the
// in-memory entry only; last-access times are not written back to disk.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	fname := keyToFilename(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	blob, err := c.d.Read(fname)
	if err != nil {
		return zero, false
	}

	var entry data.Entry[V]
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&entry); err != nil {
		log.Printf("diskcache: decoding %q: %v", key, err)
		return zero, false
	}

	if entry.IsExpired() {
		c.erase(fname, int64(len(blob)))
		return zero, false
	}

	entry.Touch(time.Now())
	return entry.Data, true
}

// Remove deletes the entry stored under key, if any.
func (c *Cache[V]) Remove(key string) {
	fname := keyToFilename(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if fi, err := os.Stat(c.filePath(fname)); err == nil {
		c.erase(fname, fi.Size())
	}
}

// RemoveAll deletes the entire cache directory and recreates it empty.
func (c *Cache[V]) RemoveAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.d.EraseAll(); err != nil {
		log.Printf("diskcache: erasing %s: %v", c.dir, err)
	}
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		log.Printf("diskcache: recreating %s: %v", c.dir, err)
	}
	c.usage = 0
}

// CleanExpired deletes every expired entry and returns the number deleted.
// Files that fail to decode are skipped.
func (c *Cache[V]) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var fnames []string
	for fname := range c.d.Keys(nil) {
		fnames = append(fnames, fname)
	}

	removed := 0
	for _, fname := range fnames {
		blob, err := c.d.Read(fname)
		if err != nil {
			continue
		}
		var entry data.Entry[V]
		if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&entry); err != nil {
			continue
		}
		if entry.IsExpired() {
			c.erase(fname, int64(len(blob)))
			removed++
		}
	}
	return removed
}

// CurrentUsage returns the tracked total size of entry files on disk.
func (c *Cache[V]) CurrentUsage() data.Size {
	c.mu.Lock()
	defer c.mu.Unlock()
	return data.Size(c.usage)
}

func (c *Cache[V]) expirationPolicy() data.ExpirationPolicy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expiration
}

func (c *Cache[V]) referenceMode() data.ReferenceMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reference
}

// erase deletes the file and adjusts usage.  Callers hold c.mu.
func (c *Cache[V]) erase(fname string, size int64) {
	if err := c.d.Erase(fname); err != nil {
		log.Printf("diskcache: erasing %q: %v", fname, err)
		return
	}
	c.usage -= size
}

// filePath returns the on-disk path diskv uses for fname.
func (c *Cache[V]) filePath(fname string) string {
	return filepath.Join(c.dir, fname[0:2], fname[2:4], fname)
}

// keyToFilename maps a cache key to a collision-resistant, filesystem-safe
// filename.
func keyToFilename(key string) string {
	h := md5.New()
	_, _ = io.WriteString(h, key)
	return hex.EncodeToString(h.Sum(nil))
}

// scanUsage sums the sizes of entry files under dir, skipping the temp
// directory.
func scanUsage(dir string) (int64, error) {
	var total int64
	err := filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			if fi.Name() == tempDir {
				return filepath.SkipDir
			}
			return nil
		}
		total += fi.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("diskcache: scanning %s: %w", dir, err)
	}
	return total, nil
}
