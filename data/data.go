// Copyright 2026 The imagecache authors.
// SPDX-License-Identifier: Apache-2.0

// Package data provides common shared data structures for imagecache: byte
// sizes, expiration policies, cache entries, and the fetched image payload.
package data

import (
	"fmt"
	"math"
	"time"
)

// Size is a byte count used for cache capacity accounting.
type Size int64

// Unbounded is the capacity sentinel meaning "no limit".  It is the maximum
// representable Size, so any capacity comparison against it succeeds.
const Unbounded Size = math.MaxInt64

// Bytes returns a Size of n bytes.
func Bytes(n int64) Size { return Size(n) }

// KiloBytes returns a Size of n kibibytes.  Constructors saturate to
// Unbounded on overflow; a capacity too large for int64 is effectively
// unlimited on a single device.
func KiloBytes(n int64) Size { return mulSize(n, 1<<10) }

// MegaBytes returns a Size of n mebibytes, saturating to Unbounded on overflow.
func MegaBytes(n int64) Size { return mulSize(n, 1<<20) }

// GigaBytes returns a Size of n gibibytes, saturating to Unbounded on overflow.
func GigaBytes(n int64) Size { return mulSize(n, 1<<30) }

func mulSize(n, unit int64) Size {
	if n <= 0 {
		return 0
	}
	if n > math.MaxInt64/unit {
		return Unbounded
	}
	return Size(n * unit)
}

// Int64 returns the size as a plain byte count.
func (s Size) Int64() int64 { return int64(s) }

func (s Size) String() string {
	switch {
	case s == Unbounded:
		return "unbounded"
	case s >= 1<<30:
		return fmt.Sprintf("%.1fGB", float64(s)/(1<<30))
	case s >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(s)/(1<<20))
	case s >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(s)/(1<<10))
	default:
		return fmt.Sprintf("%dB", int64(s))
	}
}

// ExpiryKind selects an ExpirationPolicy variant.
type ExpiryKind int

const (
	// ExpiryNever marks entries that never expire.
	ExpiryNever ExpiryKind = iota
	// ExpiryExpired marks entries that are already expired.
	ExpiryExpired
	// ExpiryAfter expires entries a fixed duration past their reference time.
	ExpiryAfter
	// ExpiryAt expires entries at an absolute deadline.
	ExpiryAt
)

// Sentinel expiry times for the never/already-expired variants.
var (
	distantFuture = time.Unix(1<<41, 0)
	distantPast   = time.Unix(0, 0)
)

// ExpirationPolicy describes when a cache entry stops being valid.  The zero
// value is Never.  Fields are exported so policies survive gob encoding;
// treat values as immutable.
type ExpirationPolicy struct {
	Kind     ExpiryKind
	Duration time.Duration
	Deadline time.Time
}

// Never returns a policy whose entries never expire.
func Never() ExpirationPolicy { return ExpirationPolicy{Kind: ExpiryNever} }

// AlreadyExpired returns a policy whose entries are expired from the start.
func AlreadyExpired() ExpirationPolicy { return ExpirationPolicy{Kind: ExpiryExpired} }

// Seconds returns a policy expiring n seconds past the reference time.
func Seconds(n int64) ExpirationPolicy {
	return ExpirationPolicy{Kind: ExpiryAfter, Duration: time.Duration(n) * time.Second}
}

// Minutes returns a policy expiring n minutes past the reference time.
func Minutes(n int64) ExpirationPolicy {
	return ExpirationPolicy{Kind: ExpiryAfter, Duration: time.Duration(n) * time.Minute}
}

// Hours returns a policy expiring n hours past the reference time.
func Hours(n int64) ExpirationPolicy {
	return ExpirationPolicy{Kind: ExpiryAfter, Duration: time.Duration(n) * time.Hour}
}

// Days returns a policy expiring n days past the reference time.
func Days(n int64) ExpirationPolicy {
	return ExpirationPolicy{Kind: ExpiryAfter, Duration: time.Duration(n) * 24 * time.Hour}
}

// After returns a policy expiring d past the reference time.
func After(d time.Duration) ExpirationPolicy {
	return ExpirationPolicy{Kind: ExpiryAfter, Duration: d}
}

// At returns a policy expiring at the absolute deadline t, regardless of any
// reference time.
func At(t time.Time) ExpirationPolicy {
	return ExpirationPolicy{Kind: ExpiryAt, Deadline: t}
}

// Remaining reports how long entries under this policy stay valid past their
// reference time.  Never reports the maximum duration, AlreadyExpired the
// minimum, and absolute deadlines are measured from the current time.
func (p ExpirationPolicy) Remaining() time.Duration {
	switch p.Kind {
	case ExpiryExpired:
		return math.MinInt64
	case ExpiryAfter:
		return p.Duration
	case ExpiryAt:
		return time.Until(p.Deadline)
	default:
		return math.MaxInt64
	}
}

// ExpiryFrom returns the instant an entry with reference time ref expires.
// Absolute deadlines ignore ref.
func (p ExpirationPolicy) ExpiryFrom(ref time.Time) time.Time {
	switch p.Kind {
	case ExpiryExpired:
		return distantPast
	case ExpiryAfter:
		return ref.Add(p.Duration)
	case ExpiryAt:
		return p.Deadline
	default:
		return distantFuture
	}
}

// ReferenceMode selects which entry timestamp an expiration policy is
// measured against.
type ReferenceMode int

const (
	// FromCreation measures expiration from the entry creation time.
	FromCreation ReferenceMode = iota
	// FromLastAccess measures expiration from the last successful read.
	FromLastAccess
)

func (m ReferenceMode) String() string {
	if m == FromLastAccess {
		return "lastAccess"
	}
	return "creation"
}

// Entry wraps a cached payload with the metadata the cache tiers track for
// it.  Fields are exported so entries gob-encode for durable tiers.
type Entry[T any] struct {
	Data           T
	Size           Size
	HitCount       int
	Expiration     ExpirationPolicy
	Reference      ReferenceMode
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// NewEntry returns an entry created now, with the last access time equal to
// the creation time.
func NewEntry[T any](payload T, size Size, expiration ExpirationPolicy, reference ReferenceMode) *Entry[T] {
	now := time.Now()
	return &Entry[T]{
		Data:           payload,
		Size:           size,
		Expiration:     expiration,
		Reference:      reference,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
}

// ExpiresAt derives the entry's expiry instant from its expiration policy
// and reference mode.  It is recomputed on every call, never cached.
func (e *Entry[T]) ExpiresAt() time.Time {
	ref := e.CreatedAt
	if e.Reference == FromLastAccess {
		ref = e.LastAccessedAt
	}
	return e.Expiration.ExpiryFrom(ref)
}

// IsExpired reports whether the entry has passed its expiry instant.
func (e *Entry[T]) IsExpired() bool {
	return time.Now().After(e.ExpiresAt())
}

// Touch records a successful read at now.
func (e *Entry[T]) Touch(now time.Time) {
	e.LastAccessedAt = now
	e.HitCount++
}

// Image is a remote image held by the cache.  ETag carries the origin's
// revalidation token, if it supplied one.
type Image struct {
	URL         string
	Bytes       []byte
	ETag        string
	ContentType string
}

// ByteSize returns the payload size used for cache cost accounting.
func (im *Image) ByteSize() Size {
	if im == nil {
		return 0
	}
	return Size(len(im.Bytes))
}
