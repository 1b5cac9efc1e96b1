// Package metrics exposes the Prometheus collectors referenced in
// SPEC_FULL.md §4: cache hit/miss, search latency, lock contention, HTTP
// retries, and token-bucket wait time.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wscache",
		Name:      "cache_hits_total",
		Help:      "Point-get calls that found a matching row, by entity.",
	}, []string{"entity"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wscache",
		Name:      "cache_misses_total",
		Help:      "Point-get calls that found no matching row, by entity.",
	}, []string{"entity"})

	SearchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wscache",
		Name:      "search_duration_seconds",
		Help:      "Latency of Search calls, by entity and which phase answered (substring/fts).",
		Buckets:   prometheus.DefBuckets,
	}, []string{"entity", "phase"})

	LockContention = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wscache",
		Name:      "lock_contention_total",
		Help:      "Lock acquisition attempts beyond the first, by lock name.",
	}, []string{"lock"})

	LockAcquisitionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wscache",
		Name:      "lock_acquisition_failures_total",
		Help:      "Lock acquisitions that exhausted all retry attempts, by lock name.",
	}, []string{"lock"})

	HTTPRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wscache",
		Name:      "http_retries_total",
		Help:      "HTTP client retry attempts, by reason (rate_limited/transport/server_error).",
	}, []string{"reason"})

	TokenBucketWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "wscache",
		Name:      "token_bucket_wait_seconds",
		Help:      "Time spent waiting for a token-bucket slot before an outbound HTTP call.",
		Buckets:   []float64{0, .01, .05, .1, .25, .5, 1, 2, 5, 10},
	})

	RefreshDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wscache",
		Name:      "refresh_duration_seconds",
		Help:      "Duration of a full refresh attempt, by entity and outcome.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"entity", "outcome"})
)
