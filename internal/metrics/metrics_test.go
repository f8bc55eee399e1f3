package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAndGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(SessionsActive, TasksActive, ChunkRetries, ProbeErrors, BytesDownloaded, EventsEmitted, EventsDropped)

	SessionsActive.Set(2)
	TasksActive.Set(5)
	ChunkRetries.WithLabelValues("timeout").Add(3)
	ProbeErrors.WithLabelValues("too_many_redirects").Inc()
	BytesDownloaded.Add(1024)
	EventsEmitted.WithLabelValues("update").Inc()
	EventsDropped.WithLabelValues("update").Add(4)

	expectedSessions := `# HELP tthsd_sessions_active Number of sessions currently running.
# TYPE tthsd_sessions_active gauge
tthsd_sessions_active 2
`
	if err := testutil.CollectAndCompare(SessionsActive, strings.NewReader(expectedSessions)); err != nil {
		t.Fatalf("unexpected sessions_active: %v", err)
	}

	expectedRetries := `# HELP tthsd_chunk_retries_total Count of chunk retry attempts, labeled by failure reason.
# TYPE tthsd_chunk_retries_total counter
tthsd_chunk_retries_total{reason="timeout"} 3
`
	if err := testutil.CollectAndCompare(ChunkRetries, strings.NewReader(expectedRetries)); err != nil {
		t.Fatalf("unexpected chunk_retries_total: %v", err)
	}

	expectedDropped := `# HELP tthsd_events_dropped_total Count of update events dropped due to a full per-session queue.
# TYPE tthsd_events_dropped_total counter
tthsd_events_dropped_total{type="update"} 4
`
	if err := testutil.CollectAndCompare(EventsDropped, strings.NewReader(expectedDropped)); err != nil {
		t.Fatalf("unexpected events_dropped_total: %v", err)
	}
}

func TestProbeLatencyHistogram(t *testing.T) {
	hist := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tthsd",
			Name:      "http_probe_latency_seconds",
			Help:      "Latency of HEAD/ranged-GET probe attempts.",
		},
		[]string{"outcome"},
	)
	hist.WithLabelValues("ok").Observe(0.03)
	hist.WithLabelValues("ok").Observe(0.6)

	expected := `# HELP tthsd_http_probe_latency_seconds Latency of HEAD/ranged-GET probe attempts.
# TYPE tthsd_http_probe_latency_seconds histogram
tthsd_http_probe_latency_seconds_bucket{outcome="ok",le="0.005"} 0
tthsd_http_probe_latency_seconds_bucket{outcome="ok",le="0.01"} 0
tthsd_http_probe_latency_seconds_bucket{outcome="ok",le="0.025"} 0
tthsd_http_probe_latency_seconds_bucket{outcome="ok",le="0.05"} 1
tthsd_http_probe_latency_seconds_bucket{outcome="ok",le="0.1"} 1
tthsd_http_probe_latency_seconds_bucket{outcome="ok",le="0.25"} 1
tthsd_http_probe_latency_seconds_bucket{outcome="ok",le="0.5"} 1
tthsd_http_probe_latency_seconds_bucket{outcome="ok",le="1"} 2
tthsd_http_probe_latency_seconds_bucket{outcome="ok",le="2.5"} 2
tthsd_http_probe_latency_seconds_bucket{outcome="ok",le="5"} 2
tthsd_http_probe_latency_seconds_bucket{outcome="ok",le="10"} 2
tthsd_http_probe_latency_seconds_bucket{outcome="ok",le="+Inf"} 2
tthsd_http_probe_latency_seconds_sum{outcome="ok"} 0.63
tthsd_http_probe_latency_seconds_count{outcome="ok"} 2
`
	if err := testutil.CollectAndCompare(hist, strings.NewReader(expected)); err != nil {
		t.Fatalf("unexpected histogram: %v", err)
	}
}
