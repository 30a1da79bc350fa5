// Copyright 2026 The imagecache authors.
// SPDX-License-Identifier: Apache-2.0

package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newFetcher(t *testing.T) *Fetcher {
	t.Helper()
	f, err := New(http.DefaultTransport)
	if err != nil {
		t.Fatalf("New returned %v", err)
	}
	return f
}

func TestFetch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Etag", `"v1"`)
		w.Header().Set("Content-Type", "image/png")
		fmt.Fprint(w, "image bytes")
	}))
	defer ts.Close()

	f := newFetcher(t)
	img, err := f.Fetch(context.Background(), ts.URL, "")
	if err != nil {
		t.Fatalf("Fetch returned %v", err)
	}
	if string(img.Bytes) != "image bytes" {
		t.Errorf("Bytes = %q, want %q", img.Bytes, "image bytes")
	}
	if img.ETag != `"v1"` {
		t.Errorf("ETag = %q, want %q", img.ETag, `"v1"`)
	}
	if img.ContentType != "image/png" {
		t.Errorf("ContentType = %q, want %q", img.ContentType, "image/png")
	}
	if img.URL != ts.URL {
		t.Errorf("URL = %q, want %q", img.URL, ts.URL)
	}
}

func TestFetchCoalescesConcurrentCallers(t *testing.T) {
	var transfers atomic.Int32
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		transfers.Add(1)
		<-release
		fmt.Fprint(w, "shared")
	}))
	defer ts.Close()

	f := newFetcher(t)

	const n = 8
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			img, err := f.Fetch(context.Background(), ts.URL, "")
			errs[i] = err
			if img != nil {
				results[i] = string(img.Bytes)
			}
		}(i)
	}

	// Let all callers pile onto the in-flight transfer before releasing it.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := transfers.Load(); got != 1 {
		t.Errorf("origin saw %d transfers, want 1", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Errorf("caller %d got error %v", i, errs[i])
		}
		if results[i] != "shared" {
			t.Errorf("caller %d got %q, want %q", i, results[i], "shared")
		}
	}
}

func TestFetchReturnsCompletedResultWithoutTransfer(t *testing.T) {
	var transfers atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		transfers.Add(1)
		fmt.Fprint(w, "once")
	}))
	defer ts.Close()

	f := newFetcher(t)
	for i := 0; i < 3; i++ {
		img, err := f.Fetch(context.Background(), ts.URL, "")
		if err != nil {
			t.Fatalf("Fetch %d returned %v", i, err)
		}
		if string(img.Bytes) != "once" {
			t.Errorf("Fetch %d returned %q", i, img.Bytes)
		}
	}
	if got := transfers.Load(); got != 1 {
		t.Errorf("origin saw %d transfers, want 1", got)
	}
}

func TestForgetAllowsRefetch(t *testing.T) {
	var transfers atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		transfers.Add(1)
		fmt.Fprint(w, "fresh")
	}))
	defer ts.Close()

	f := newFetcher(t)
	f.Fetch(context.Background(), ts.URL, "")
	f.Forget(ts.URL)
	f.Fetch(context.Background(), ts.URL, "")

	if got := transfers.Load(); got != 2 {
		t.Errorf("origin saw %d transfers after Forget, want 2", got)
	}
}

func TestConditionalFetch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Etag", `"v2"`)
		fmt.Fprint(w, "updated")
	}))
	defer ts.Close()

	f := newFetcher(t)

	t.Run("matching token yields ErrNotModified", func(t *testing.T) {
		_, err := f.Fetch(context.Background(), ts.URL, `"v1"`)
		if !errors.Is(err, ErrNotModified) {
			t.Errorf("Fetch returned %v, want ErrNotModified", err)
		}
	})

	t.Run("stale token yields fresh bytes and token", func(t *testing.T) {
		img, err := f.Fetch(context.Background(), ts.URL, `"v0"`)
		if err != nil {
			t.Fatalf("Fetch returned %v", err)
		}
		if string(img.Bytes) != "updated" || img.ETag != `"v2"` {
			t.Errorf("Fetch returned bytes %q etag %q", img.Bytes, img.ETag)
		}
	})
}

func TestConditionalFetchBypassesCompletedResult(t *testing.T) {
	var transfers atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		transfers.Add(1)
		w.Header().Set("Etag", `"v1"`)
		fmt.Fprint(w, "body")
	}))
	defer ts.Close()

	f := newFetcher(t)
	f.Fetch(context.Background(), ts.URL, "")
	if _, err := f.Fetch(context.Background(), ts.URL, `"v0"`); err != nil {
		t.Fatalf("conditional Fetch returned %v", err)
	}
	if got := transfers.Load(); got != 2 {
		t.Errorf("origin saw %d transfers, want 2 (revalidation must hit the origin)", got)
	}
}

func TestFetchBadStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer ts.Close()

	f := newFetcher(t)
	_, err := f.Fetch(context.Background(), ts.URL, "")
	var respErr *ResponseError
	if !errors.As(err, &respErr) {
		t.Fatalf("Fetch returned %v, want *ResponseError", err)
	}
	if respErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", respErr.StatusCode)
	}
}

func TestFetchTransportError(t *testing.T) {
	f := newFetcher(t)
	// Nothing listens here.
	if _, err := f.Fetch(context.Background(), "http://127.0.0.1:1/x.png", ""); err == nil {
		t.Error("Fetch returned nil error for an unreachable origin")
	}
}

func TestFailedFetchIsRetried(t *testing.T) {
	var transfers atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if transfers.Add(1) == 1 {
			http.Error(w, "flaky", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, "recovered")
	}))
	defer ts.Close()

	f := newFetcher(t)
	if _, err := f.Fetch(context.Background(), ts.URL, ""); err == nil {
		t.Fatal("first Fetch unexpectedly succeeded")
	}
	img, err := f.Fetch(context.Background(), ts.URL, "")
	if err != nil {
		t.Fatalf("second Fetch returned %v", err)
	}
	if string(img.Bytes) != "recovered" {
		t.Errorf("second Fetch returned %q", img.Bytes)
	}
}

func TestCancel(t *testing.T) {
	started := make(chan struct{}, 16)
	hold := make(chan struct{})
	var transfers atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		transfers.Add(1)
		started <- struct{}{}
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
		fmt.Fprint(w, "late")
	}))
	defer ts.Close()
	defer close(hold)

	f := newFetcher(t)

	// Cancelling an absent resource is a no-op.
	f.Cancel(ts.URL)

	const n = 4
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.Fetch(context.Background(), ts.URL, "")
		}(i)
	}

	<-started
	time.Sleep(50 * time.Millisecond) // let the other callers join the transfer
	f.Cancel(ts.URL)
	f.Cancel(ts.URL) // second cancel is a no-op
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, context.Canceled) {
			t.Errorf("caller %d got %v, want context.Canceled", i, err)
		}
	}

	// The entry is not stuck in-flight: a new Fetch starts a fresh transfer.
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.Fetch(context.Background(), ts.URL, "")
	}()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("no fresh transfer started after cancellation")
	}
	f.Cancel(ts.URL)
	<-done

	if got := transfers.Load(); got != 2 {
		t.Errorf("origin saw %d transfers, want 2", got)
	}
}
