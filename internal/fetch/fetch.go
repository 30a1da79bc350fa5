// Copyright 2026 The imagecache authors.
// SPDX-License-Identifier: Apache-2.0

// Package fetch downloads remote images, coalescing concurrent requests for
// the same resource into a single transfer.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	aia "github.com/fcjr/aia-transport-go"

	"github.com/fetchcache/imagecache/data"
)

// ErrNotModified reports that a conditional request matched the supplied
// revalidation token: the caller's cached bytes remain valid.  It is a
// control signal, not a fetch failure.
var ErrNotModified = errors.New("fetch: image not modified")

// ResponseError reports a response status outside the 2xx range (other than
// 304 on a conditional request).
type ResponseError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("fetch: remote URL %q returned status: %v", e.URL, e.Status)
}

// call is the shared state for one transfer.  done is closed once img and
// err are set; waiters never observe a partially resolved call.
type call struct {
	cancel context.CancelFunc
	done   chan struct{}
	img    *data.Image
	err    error
}

// Fetcher downloads images over HTTP with at most one in-flight transfer
// per resource.  Map transitions serialize on one mutex; transfers run
// outside it, so different resources download in parallel.  The zero value
// is not usable; construct with New.
type Fetcher struct {
	// UserAgent, if set, is sent on every request.
	UserAgent string

	client *http.Client
	mu     sync.Mutex
	calls  map[string]*call
}

// New returns a Fetcher using the provided transport.  If transport is nil,
// an AIA-chasing transport is used so origins serving incomplete certificate
// chains still verify.
func New(transport http.RoundTripper) (*Fetcher, error) {
	if transport == nil {
		tr, err := aia.NewTransport()
		if err != nil {
			return nil, fmt.Errorf("fetch: building transport: %w", err)
		}
		transport = tr
	}
	return &Fetcher{
		client: &http.Client{Transport: transport},
		calls:  make(map[string]*call),
	}, nil
}

// Fetch downloads resource.  If a transfer for resource is already in
// flight, Fetch awaits its result instead of starting another.  A completed
// result is returned without a transfer for unconditional fetches;
// conditional fetches (etag != "") always revalidate against the origin.
//
// When etag is supplied the request carries If-None-Match; a 304 response
// yields ErrNotModified.  Cancellation of ctx abandons the wait without
// stopping a shared transfer other callers may still be awaiting; use Cancel
// to stop the transfer itself.
func (f *Fetcher) Fetch(ctx context.Context, resource, etag string) (*data.Image, error) {
	f.mu.Lock()
	if c, ok := f.calls[resource]; ok {
		select {
		case <-c.done:
			if etag == "" {
				f.mu.Unlock()
				return c.img, c.err
			}
			// Completed entry, but a revalidation must reach the origin.
		default:
			f.mu.Unlock()
			return await(ctx, c)
		}
	}

	tctx, cancel := context.WithCancel(context.Background())
	c := &call{cancel: cancel, done: make(chan struct{})}
	f.calls[resource] = c
	f.mu.Unlock()

	go f.transfer(tctx, c, resource, etag)
	return await(ctx, c)
}

// Cancel requests cancellation of the in-flight transfer for resource, if
// any.  Every caller still awaiting that transfer receives a cancellation
// error.  Cancelling a completed or absent resource is a no-op, and
// cancelling twice is a no-op.
func (f *Fetcher) Cancel(resource string) {
	f.mu.Lock()
	c, ok := f.calls[resource]
	f.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-c.done:
		// Already complete; nothing to cancel.
	default:
		c.cancel()
	}
}

// Forget drops the completed result for resource so a later Fetch transfers
// again.  In-flight transfers are left alone.
func (f *Fetcher) Forget(resource string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.calls[resource]; ok {
		select {
		case <-c.done:
			delete(f.calls, resource)
		default:
		}
	}
}

func (f *Fetcher) transfer(ctx context.Context, c *call, resource, etag string) {
	img, err := f.do(ctx, resource, etag)

	f.mu.Lock()
	c.img, c.err = img, err
	if err != nil && f.calls[resource] == c {
		// Failed transfers leave no entry behind; the next Fetch starts
		// fresh.
		delete(f.calls, resource)
	}
	close(c.done)
	f.mu.Unlock()

	c.cancel()
}

func (f *Fetcher) do(ctx context.Context, resource, etag string) (*data.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resource, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: building request for %q: %w", resource, err)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: requesting %q: %w", resource, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, ErrNotModified
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ResponseError{URL: resource, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch: reading %q: %w", resource, err)
	}
	return &data.Image{
		URL:         resource,
		Bytes:       b,
		ETag:        resp.Header.Get("Etag"),
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

func await(ctx context.Context, c *call) (*data.Image, error) {
	select {
	case <-c.done:
		return c.img, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
