// Copyright 2026 The imagecache authors.
// SPDX-License-Identifier: Apache-2.0

package imagecache

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Options adjusts how a single Fetch or Store treats the cache tiers.
//
// ShowOriginal and DownsampleScale are consumed by the rendering layer, not
// by the cache core; they pass through Fetch unchanged.
type Options struct {
	// CacheMemoryOnly restricts the request to the memory tier: reads skip
	// the disk tier and stores do not write it.
	CacheMemoryOnly bool

	// OnlyFromCache answers from the cache tiers only; a miss returns no
	// image without a network attempt.
	OnlyFromCache bool

	// ForceRefresh bypasses both tiers for reading and downloads
	// unconditionally, then rewrites the tiers.
	ForceRefresh bool

	// ShowOriginal asks the rendering layer to skip downsampling.
	ShowOriginal bool

	// DisableETag skips conditional revalidation of disk hits.
	DisableETag bool

	// DownsampleScale is the rendering layer's downsampling factor; zero
	// means unset.
	DownsampleScale float64
}

func (o Options) String() string {
	buf := new(bytes.Buffer)
	if o.CacheMemoryOnly {
		buf.WriteString("memonly,")
	}
	if o.OnlyFromCache {
		buf.WriteString("cacheonly,")
	}
	if o.ForceRefresh {
		buf.WriteString("refresh,")
	}
	if o.ShowOriginal {
		buf.WriteString("orig,")
	}
	if o.DisableETag {
		buf.WriteString("noetag,")
	}
	if o.DownsampleScale != 0 {
		fmt.Fprintf(buf, "ds%v,", o.DownsampleScale)
	}
	return strings.TrimSuffix(buf.String(), ",")
}

// ParseOptions parses a comma separated list of option directives, the
// inverse of Options.String.  Unknown directives are ignored.
func ParseOptions(str string) Options {
	o := Options{}

	for _, part := range strings.Split(str, ",") {
		switch {
		case part == "memonly":
			o.CacheMemoryOnly = true
		case part == "cacheonly":
			o.OnlyFromCache = true
		case part == "refresh":
			o.ForceRefresh = true
		case part == "orig":
			o.ShowOriginal = true
		case part == "noetag":
			o.DisableETag = true
		case strings.HasPrefix(part, "ds"):
			o.DownsampleScale, _ = strconv.ParseFloat(part[2:], 64)
		}
	}

	return o
}
