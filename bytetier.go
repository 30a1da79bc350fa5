// Copyright 2026 The imagecache authors.
// SPDX-License-Identifier: Apache-2.0

package imagecache

import (
	"bytes"
	"encoding/gob"
	"log"
	"sync"
	"time"

	"github.com/fetchcache/imagecache/data"
)

// ByteTier adapts a byte-oriented Cache backend into a durable image tier,
// so redis, s3, cloud storage, or LRU byte stores can replace the disk tier
// at runtime.  Entries are gob-encoded with their metadata, and expiration
// is driven by that metadata on read.
//
// Backends cannot enumerate their keys, so RemoveAll and CleanExpired are
// no-ops and CurrentUsage reports data.Unbounded; capacity is whatever the
// backend itself enforces.
type ByteTier struct {
	mu         sync.Mutex
	store      Cache
	expiration data.ExpirationPolicy
	reference  data.ReferenceMode
}

// NewByteTier returns a tier backed by store.
func NewByteTier(store Cache) *ByteTier {
	return &ByteTier{store: store, expiration: data.Never()}
}

// SetPolicy configures the expiration policy and reference mode applied to
// entries written after the call.
func (t *ByteTier) SetPolicy(expiration data.ExpirationPolicy, reference data.ReferenceMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expiration = expiration
	t.reference = reference
}

// Save stores img under key.
func (t *ByteTier) Save(key string, img *data.Image) error {
	t.mu.Lock()
	entry := data.NewEntry(img, img.ByteSize(), t.expiration, t.reference)
	t.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entry); err != nil {
		return err
	}
	t.store.Set(key, buf.Bytes())
	return nil
}

// Get returns the image stored under key.  Expired entries are deleted and
// reported as misses; entries that fail to decode are soft misses.
func (t *ByteTier) Get(key string) (*data.Image, bool) {
	blob, ok := t.store.Get(key)
	if !ok {
		return nil, false
	}

	var entry data.Entry[*data.Image]
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&entry); err != nil {
		log.Printf("imagecache: decoding entry %q: %v", key, err)
		return nil, false
	}
	if entry.IsExpired() {
		t.store.Delete(key)
		return nil, false
	}

	entry.Touch(time.Now())
	return entry.Data, true
}

// Remove deletes the entry stored under key.
func (t *ByteTier) Remove(key string) { t.store.Delete(key) }

// RemoveAll is a no-op: byte store backends cannot enumerate their keys.
func (t *ByteTier) RemoveAll() {}

// CleanExpired is a no-op for the same reason; expired entries are removed
// lazily on read.
func (t *ByteTier) CleanExpired() int { return 0 }

// CurrentUsage reports data.Unbounded: usage accounting belongs to the
// backend.
func (t *ByteTier) CurrentUsage() data.Size { return data.Unbounded }
