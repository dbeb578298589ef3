package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics. All low-cardinality: labels are roles and outcomes,
// never tenant or source ids.

var (
	FramesIngestedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_frames_ingested_total",
			Help: "Total frames accepted into ring buffers",
		},
	)

	// ScreensTotal counts screener runs by outcome: negative, positive, error, skipped
	ScreensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_screens_total",
			Help: "Total screener runs by outcome",
		},
		[]string{"outcome"},
	)

	// ConfirmationsTotal counts confirmer agreements by result: confirmed, fallback
	ConfirmationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_confirmations_total",
			Help: "Total confirmed incidents by result",
		},
		[]string{"result"},
	)

	VetoesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_vetoes_total",
			Help: "Total screener positives vetoed by the confirmer",
		},
	)

	IncidentsSuppressedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_incidents_suppressed_total",
			Help: "Total confirmed incidents suppressed as duplicates",
		},
	)

	// UploadsTotal counts evidence uploads by result: remote, local, failed
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_uploads_total",
			Help: "Total evidence clip uploads by result",
		},
		[]string{"result"},
	)

	// AlertsTotal counts alert dispatches by result: sent, spooled, dropped
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_alerts_total",
			Help: "Total alert dispatches by result",
		},
		[]string{"result"},
	)

	VisionLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_vision_latency_seconds",
			Help:    "Vision model round-trip latency by role",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"role"},
	)

	ActiveSources = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_active_sources",
			Help: "Number of live per-source analyzer loops",
		},
	)

	RingFrames = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_ring_frames",
			Help: "Total frames currently held across all ring buffers",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_http_requests_total",
			Help: "HTTP requests by route pattern and status class",
		},
		[]string{"route", "status"},
	)
)

func RecordScreen(outcome string) {
	ScreensTotal.WithLabelValues(outcome).Inc()
}

func RecordConfirmation(result string) {
	ConfirmationsTotal.WithLabelValues(result).Inc()
}

func RecordVisionLatency(role string, seconds float64) {
	VisionLatency.WithLabelValues(role).Observe(seconds)
}

func RecordUpload(result string) {
	UploadsTotal.WithLabelValues(result).Inc()
}

func RecordAlert(result string) {
	AlertsTotal.WithLabelValues(result).Inc()
}
