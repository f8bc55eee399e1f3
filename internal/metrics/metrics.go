// Package metrics exposes the engine's Prometheus collectors. It is imported
// by the engine packages that drive state transitions and by the debug
// server that serves /metrics; nothing here is accessed directly by C ABI callers.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tthsd",
			Name:      "sessions_active",
			Help:      "Number of sessions currently running.",
		},
	)

	TasksActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tthsd",
			Name:      "tasks_active",
			Help:      "Number of tasks currently Probing or Downloading.",
		},
	)

	ChunkRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tthsd",
			Name:      "chunk_retries_total",
			Help:      "Count of chunk retry attempts, labeled by failure reason.",
		},
		[]string{"reason"},
	)

	ProbeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tthsd",
			Name:      "probe_errors_total",
			Help:      "Count of HTTP probe failures, labeled by failure reason.",
		},
		[]string{"reason"},
	)

	ProbeLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tthsd",
			Name:      "http_probe_latency_seconds",
			Help:      "Latency of HEAD/ranged-GET probe attempts.",
		},
		[]string{"outcome"},
	)

	BytesDownloaded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tthsd",
			Name:      "bytes_downloaded_total",
			Help:      "Total bytes written to disk across all tasks.",
		},
	)

	EventsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tthsd",
			Name:      "events_emitted_total",
			Help:      "Count of events handed to the event sink, labeled by event type.",
		},
		[]string{"type"},
	)

	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tthsd",
			Name:      "events_dropped_total",
			Help:      "Count of update events dropped due to a full per-session queue.",
		},
		[]string{"type"},
	)
)

// Register registers every engine metric into the default registry. Safe to
// call once at process start; the debug server's /metrics handler serves
// whatever is in that registry.
func Register() {
	prometheus.MustRegister(
		SessionsActive,
		TasksActive,
		ChunkRetries,
		ProbeErrors,
		ProbeLatency,
		BytesDownloaded,
		EventsEmitted,
		EventsDropped,
	)
}
