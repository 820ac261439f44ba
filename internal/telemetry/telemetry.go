// Package telemetry builds the Prometheus collectors this client exposes.
// Registration is left to the embedding application (the bundled
// cmd/watchtogether-client registers none); this package only constructs
// collectors so unit tests never need a live registry.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector this client updates.
type Metrics struct {
	// RTTMs observes round-trip sample latency (sentAt -> receivedAt) for
	// get_reference_time exchanges, in milliseconds.
	RTTMs prometheus.Histogram

	// OffsetMs is the current server-minus-local clock offset.
	OffsetMs prometheus.Gauge

	// MediumVersion is the current VersionedMedium.Version held by the room
	// coordinator.
	MediumVersion prometheus.Gauge

	// RequestOutcomes counts performRequest outcomes by request type and
	// result ("ok", "response_error", "timeout", "closed").
	RequestOutcomes *prometheus.CounterVec

	// ReconnectAttempts counts reconnector attempts.
	ReconnectAttempts prometheus.Counter
}

// New constructs a fresh, unregistered Metrics bundle.
func New() *Metrics {
	return &Metrics{
		RTTMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "watchtogether_client_rtt_milliseconds",
			Help:    "Round-trip latency of get_reference_time exchanges.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}),
		OffsetMs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "watchtogether_client_clock_offset_milliseconds",
			Help: "Current server-reference-minus-local-monotonic clock offset.",
		}),
		MediumVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "watchtogether_client_medium_version",
			Help: "Current VersionedMedium.Version held by the room coordinator.",
		}),
		RequestOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchtogether_client_request_outcomes_total",
			Help: "performRequest outcomes by request type and result.",
		}, []string{"request_type", "outcome"}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchtogether_client_reconnect_attempts_total",
			Help: "Total automatic reconnection attempts.",
		}),
	}
}

// Collectors returns every collector in m, ready to pass to a
// prometheus.Registerer.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RTTMs, m.OffsetMs, m.MediumVersion, m.RequestOutcomes, m.ReconnectAttempts,
	}
}
