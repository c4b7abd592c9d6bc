// Package metrics defines the Prometheus counters and histograms the
// request handlers and fan-out engine report against, and exposes them
// at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ManifestCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "manifest_cache_hits",
		Help: "Manifest requests served from cache.",
	}, []string{"namespace"})

	ManifestCacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "manifest_cache_misses",
		Help: "Manifest requests that required an upstream fetch.",
	}, []string{"namespace"})

	BlobCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blob_cache_hits",
		Help: "Blob requests served from cache.",
	}, []string{"namespace"})

	BlobCacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blob_cache_misses",
		Help: "Blob requests that required an upstream fetch.",
	}, []string{"namespace"})

	BlobChunkReadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "blob_chunk_read_duration_seconds",
		Help:    "Time to read one chunk of a blob from its source.",
		Buckets: prometheus.DefBuckets,
	}, []string{"namespace", "hit"})

	BlobChunkWriteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "blob_chunk_write_duration_seconds",
		Help:    "Time to broadcast one chunk of a blob to its subscribers.",
		Buckets: prometheus.DefBuckets,
	}, []string{"namespace", "hit"})

	BlobFirstChunkReadTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blob_first_chunk_read_timeouts",
		Help: "Times reading the first chunk of a blob exceeded its deadline.",
	}, []string{"namespace", "hit"})

	BlobFirstChunkWriteTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blob_first_chunk_write_timeouts",
		Help: "Times broadcasting the first chunk of a blob exceeded its deadline.",
	}, []string{"namespace", "hit"})
)

// HitLabel renders the boolean "was this a cache hit" the way the fan-out
// metrics expect it stringified: "true" or "false", not "hit"/"miss".
func HitLabel(hit bool) string {
	if hit {
		return "true"
	}
	return "false"
}
