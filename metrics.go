// Copyright 2026 The imagecache authors.
// SPDX-License-Identifier: Apache-2.0

package imagecache

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagecache_hits_total",
			Help: "Number of reads served from a cache tier.",
		}, []string{"tier"})
	remoteFetchCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "imagecache_remote_fetches_total",
			Help: "Number of unconditional remote image fetches.",
		})
	remoteFetchErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "imagecache_remote_fetch_errors_total",
			Help: "Total image fetch failures.",
		})
	revalidationCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "imagecache_revalidations_total",
			Help: "Number of conditional revalidation requests issued.",
		})
	revalidationNotModified = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "imagecache_revalidations_not_modified_total",
			Help: "Revalidations answered 304, keeping cached bytes.",
		})
	sweepRemovals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagecache_sweep_removals_total",
			Help: "Expired entries removed by periodic sweeps.",
		}, []string{"tier"})
)

func init() {
	prometheus.MustRegister(cacheHits)
	prometheus.MustRegister(remoteFetchCount)
	prometheus.MustRegister(remoteFetchErrors)
	prometheus.MustRegister(revalidationCount)
	prometheus.MustRegister(revalidationNotModified)
	prometheus.MustRegister(sweepRemovals)
}
