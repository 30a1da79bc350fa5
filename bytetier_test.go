// Copyright 2026 The imagecache authors.
// SPDX-License-Identifier: Apache-2.0

package imagecache

import (
	"testing"

	"github.com/die-net/lrucache"

	"github.com/fetchcache/imagecache/data"
)

// mapCache is a minimal byte store for exercising the adapter.
type mapCache map[string][]byte

func (m mapCache) Get(key string) ([]byte, bool) { v, ok := m[key]; return v, ok }
func (m mapCache) Set(key string, value []byte)  { m[key] = value }
func (m mapCache) Delete(key string)             { delete(m, key) }

func TestByteTierRoundTrip(t *testing.T) {
	tier := NewByteTier(mapCache{})

	img := &data.Image{URL: "https://x/img.png", Bytes: []byte("b1"), ETag: `"v1"`, ContentType: "image/png"}
	if err := tier.Save(img.URL, img); err != nil {
		t.Fatalf("Save returned %v", err)
	}

	got, ok := tier.Get(img.URL)
	if !ok {
		t.Fatal("Get missed a saved key")
	}
	if string(got.Bytes) != "b1" || got.ETag != `"v1"` || got.ContentType != "image/png" {
		t.Errorf("Get returned %+v", got)
	}
	if _, ok := tier.Get("https://x/other.png"); ok {
		t.Error("Get hit on a missing key")
	}
}

func TestByteTierExpiration(t *testing.T) {
	store := mapCache{}
	tier := NewByteTier(store)
	tier.SetPolicy(data.AlreadyExpired(), data.FromCreation)

	tier.Save("k", &data.Image{Bytes: []byte("x")})
	if _, ok := tier.Get("k"); ok {
		t.Error("expired entry returned by Get")
	}
	if _, ok := store["k"]; ok {
		t.Error("expired entry left in the backend")
	}
}

func TestByteTierCorruptEntryIsSoftMiss(t *testing.T) {
	store := mapCache{"k": []byte("not gob")}
	tier := NewByteTier(store)

	if _, ok := tier.Get("k"); ok {
		t.Error("corrupt entry returned by Get")
	}
}

func TestByteTierRemove(t *testing.T) {
	tier := NewByteTier(mapCache{})
	tier.Save("k", &data.Image{Bytes: []byte("x")})
	tier.Remove("k")
	if _, ok := tier.Get("k"); ok {
		t.Error("removed entry still present")
	}
}

// The adapter satisfies the orchestrator's disk tier contract, so byte
// store backends can replace the disk tier at runtime.
func TestByteTierIsADiskTier(t *testing.T) {
	var tier DiskTier = NewByteTier(lrucache.New(1<<20, 0))

	tier.Save("k", &data.Image{Bytes: []byte("x")})
	if _, ok := tier.Get("k"); !ok {
		t.Error("lrucache-backed tier lost an entry")
	}
	if tier.CurrentUsage() != data.Unbounded {
		t.Errorf("CurrentUsage() = %v, want Unbounded", tier.CurrentUsage())
	}
	if n := tier.CleanExpired(); n != 0 {
		t.Errorf("CleanExpired() = %d, want 0", n)
	}
}
