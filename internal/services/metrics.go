package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for analysis_requests_total.
const (
	outcomeMiss     = "miss"
	outcomeHit      = "hit"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
)

var (
	analysisRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_requests_total",
			Help: "Analysis pipeline runs by outcome.",
		},
		[]string{"outcome"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_cache_lookups_total",
			Help: "Cache lookups by result (hit, miss, error).",
		},
		[]string{"result"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analysis_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"},
	)

	ocrImages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_ocr_images_total",
			Help: "Images processed by OCR by result (ok, failed, skipped).",
		},
		[]string{"result"},
	)

	rollbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_rollbacks_total",
			Help: "Compensating actions by step and result.",
		},
		[]string{"step", "result"},
	)

	cacheWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "analysis_cache_write_failures_total",
			Help: "Cache writes that failed after a successful analysis.",
		},
	)
)

func init() {
	prometheus.MustRegister(analysisRequests, cacheLookups, stageDuration, ocrImages, rollbacks, cacheWriteFailures)
}

func observeRollback(step string, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	rollbacks.WithLabelValues(step, result).Inc()
}
