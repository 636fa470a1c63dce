package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datashare_uploads_total",
		Help: "Uploads by outcome.",
	}, []string{"result"})

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "datashare_upload_bytes_total",
		Help: "Bytes written to the blob store by uploads.",
	})

	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datashare_downloads_total",
		Help: "Download attempts by outcome.",
	}, []string{"result"})

	deletionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datashare_deletions_total",
		Help: "Deleted files by trigger.",
	}, []string{"reason"})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "datashare_sweep_duration_seconds",
		Help:    "Duration of expiration sweeps.",
		Buckets: prometheus.DefBuckets,
	})

	orphansReclaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "datashare_orphan_blobs_reclaimed_total",
		Help: "Blobs deleted because no record referenced them.",
	})

	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "datashare_cache_hits_total",
		Help: "Record cache hits.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "datashare_cache_misses_total",
		Help: "Record cache misses.",
	})
)
