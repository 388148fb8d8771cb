// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transitions counts successful attendance transitions by type (check_in, check_out).
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ojtrack",
		Name:      "attendance_transitions_total",
		Help:      "Successful attendance transitions.",
	}, []string{"type"})

	// Rejections counts events refused by the state machine, by reason.
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ojtrack",
		Name:      "attendance_rejections_total",
		Help:      "Attendance events rejected or failed, by reason.",
	}, []string{"reason"})

	PhotoUploadSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ojtrack",
		Name:      "photo_upload_seconds",
		Help:      "Photo evidence upload latency.",
		Buckets:   prometheus.DefBuckets,
	})

	ReportCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ojtrack",
		Name:      "week_report_cache_total",
		Help:      "Week report cache lookups by result (hit, miss).",
	}, []string{"result"})
)
