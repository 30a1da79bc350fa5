// Copyright 2026 The imagecache authors.
// SPDX-License-Identifier: Apache-2.0

package memcache

import (
	"fmt"
	"testing"
	"time"

	"github.com/fetchcache/imagecache/data"
)

func byteSize(v []byte) data.Size { return data.Size(len(v)) }

func TestSaveAndGet(t *testing.T) {
	c := New[string, []byte](data.Unbounded, 0, byteSize)

	if err := c.Save("a", []byte("payload")); err != nil {
		t.Fatalf("Save returned %v", err)
	}
	got, ok := c.Get("a")
	if !ok {
		t.Fatal("Get missed a saved key")
	}
	if string(got) != "payload" {
		t.Errorf("Get returned %q, want %q", got, "payload")
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Get hit on a missing key")
	}
}

func TestSaveOverwrites(t *testing.T) {
	c := New[string, []byte](data.Unbounded, 0, byteSize)

	c.Save("a", []byte("old"))
	c.Save("a", []byte("newer"))

	got, _ := c.Get("a")
	if string(got) != "newer" {
		t.Errorf("Get returned %q after overwrite, want %q", got, "newer")
	}
	if n := c.Len(); n != 1 {
		t.Errorf("Len() = %d after overwrite, want 1", n)
	}
	if cost := c.Cost(); cost != 5 {
		t.Errorf("Cost() = %d after overwrite, want 5", cost)
	}
}

func TestCostEviction(t *testing.T) {
	c := New[string, []byte](data.Bytes(10), 0, byteSize)

	c.Save("a", []byte("aaaa")) // 4 bytes
	c.Save("b", []byte("bbbb")) // 8 total
	c.Save("c", []byte("cccc")) // 12: evicts oldest

	if _, ok := c.Get("a"); ok {
		t.Error("least recently used entry survived cost eviction")
	}
	for _, key := range []string{"b", "c"} {
		if _, ok := c.Get(key); !ok {
			t.Errorf("entry %q evicted unexpectedly", key)
		}
	}
	if cost := c.Cost(); cost > 10 {
		t.Errorf("Cost() = %d, exceeds limit 10", cost)
	}
}

func TestAccessRefreshesEvictionOrder(t *testing.T) {
	c := New[string, []byte](data.Bytes(8), 0, byteSize)

	c.Save("a", []byte("aaaa"))
	c.Save("b", []byte("bbbb"))
	c.Get("a") // "b" is now least recently used
	c.Save("c", []byte("cccc"))

	if _, ok := c.Get("b"); ok {
		t.Error("least recently used entry survived eviction")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("recently read entry was evicted")
	}
}

func TestCountEviction(t *testing.T) {
	c := New[string, []byte](data.Unbounded, 3, byteSize)

	for i := 0; i < 5; i++ {
		c.Save(fmt.Sprintf("k%d", i), []byte("x"))
	}
	if n := c.Len(); n != 3 {
		t.Errorf("Len() = %d, want 3", n)
	}
	if _, ok := c.Get("k0"); ok {
		t.Error("oldest entry survived count eviction")
	}
	if _, ok := c.Get("k4"); !ok {
		t.Error("newest entry was evicted")
	}
}

func TestSaveRejectsOversizeValue(t *testing.T) {
	c := New[string, []byte](data.Bytes(4), 0, byteSize)

	if err := c.Save("big", []byte("too large")); err != ErrTooLarge {
		t.Errorf("Save returned %v, want ErrTooLarge", err)
	}
	if n := c.Len(); n != 0 {
		t.Errorf("Len() = %d after rejected save, want 0", n)
	}
}

func TestExpiredEntryEvictedOnGet(t *testing.T) {
	c := New[string, []byte](data.Unbounded, 0, byteSize)
	c.SetPolicy(data.AlreadyExpired(), data.FromCreation)

	c.Save("a", []byte("x"))
	if _, ok := c.Get("a"); ok {
		t.Error("expired entry returned by Get")
	}
	if n := c.Len(); n != 0 {
		t.Errorf("Len() = %d after expired read, want 0", n)
	}
}

func TestCleanExpired(t *testing.T) {
	c := New[string, []byte](data.Unbounded, 0, byteSize)

	c.SetPolicy(data.AlreadyExpired(), data.FromCreation)
	c.Save("dead1", []byte("x"))
	c.Save("dead2", []byte("y"))

	c.SetPolicy(data.Hours(1), data.FromCreation)
	c.Save("live", []byte("z"))

	if n := c.CleanExpired(); n != 2 {
		t.Errorf("CleanExpired() = %d, want 2", n)
	}
	if _, ok := c.Get("live"); !ok {
		t.Error("live entry removed by CleanExpired")
	}
	if n := c.CleanExpired(); n != 0 {
		t.Errorf("second CleanExpired() = %d, want 0", n)
	}
}

func TestLastAccessReferenceKeepsEntryAlive(t *testing.T) {
	c := New[string, []byte](data.Unbounded, 0, byteSize)
	c.SetPolicy(data.After(50*time.Millisecond), data.FromLastAccess)

	c.Save("a", []byte("x"))
	for i := 0; i < 3; i++ {
		time.Sleep(20 * time.Millisecond)
		if _, ok := c.Get("a"); !ok {
			t.Fatalf("entry expired despite access on read %d", i)
		}
	}
	time.Sleep(60 * time.Millisecond)
	if _, ok := c.Get("a"); ok {
		t.Error("entry survived past its last-access window")
	}
}

func TestRemoveAndRemoveAll(t *testing.T) {
	c := New[string, []byte](data.Unbounded, 0, byteSize)

	c.Save("a", []byte("x"))
	c.Save("b", []byte("y"))

	c.Remove("a")
	if _, ok := c.Get("a"); ok {
		t.Error("removed entry still present")
	}

	c.RemoveAll()
	if n := c.Len(); n != 0 {
		t.Errorf("Len() = %d after RemoveAll, want 0", n)
	}
	if cost := c.Cost(); cost != 0 {
		t.Errorf("Cost() = %d after RemoveAll, want 0", cost)
	}
}
