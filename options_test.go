// Copyright 2026 The imagecache authors.
// SPDX-License-Identifier: Apache-2.0

package imagecache

import "testing"

func TestOptionsStringParseRoundTrip(t *testing.T) {
	tests := []struct {
		opt  Options
		want string
	}{
		{Options{}, ""},
		{Options{CacheMemoryOnly: true}, "memonly"},
		{Options{OnlyFromCache: true}, "cacheonly"},
		{Options{ForceRefresh: true}, "refresh"},
		{Options{ShowOriginal: true}, "orig"},
		{Options{DisableETag: true}, "noetag"},
		{Options{DownsampleScale: 0.5}, "ds0.5"},
		{
			Options{CacheMemoryOnly: true, ForceRefresh: true, DownsampleScale: 2},
			"memonly,refresh,ds2",
		},
	}

	for _, tt := range tests {
		if got := tt.opt.String(); got != tt.want {
			t.Errorf("%+v.String() = %q, want %q", tt.opt, got, tt.want)
		}
		if got := ParseOptions(tt.want); got != tt.opt {
			t.Errorf("ParseOptions(%q) = %+v, want %+v", tt.want, got, tt.opt)
		}
	}
}

func TestParseOptionsIgnoresUnknownDirectives(t *testing.T) {
	got := ParseOptions("bogus,noetag,alsobogus")
	if !got.DisableETag {
		t.Error("known directive lost among unknown ones")
	}
	if got != (Options{DisableETag: true}) {
		t.Errorf("ParseOptions set unexpected fields: %+v", got)
	}
}
