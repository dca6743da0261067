// Package metrics exposes Prometheus instrumentation for the gateway core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	// AdmissionDecisions counts gate outcomes by tier and decision.
	AdmissionDecisions *prometheus.CounterVec
	// ProxiedBytes counts bytes relayed to clients.
	ProxiedBytes prometheus.Counter
	// ProxyDuration observes full-transfer durations in seconds.
	ProxyDuration prometheus.Histogram
	// UsageEventsDropped counts usage events dropped because the recorder
	// queue was full.
	UsageEventsDropped prometheus.Counter
}

// New creates the gateway metrics registered against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		AdmissionDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tidestore",
			Subsystem: "gate",
			Name:      "admission_decisions_total",
			Help:      "Authorization gate decisions by tier and outcome.",
		}, []string{"tier", "outcome"}),
		ProxiedBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tidestore",
			Subsystem: "proxy",
			Name:      "bytes_total",
			Help:      "Bytes relayed from the backing store to clients.",
		}),
		ProxyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tidestore",
			Subsystem: "proxy",
			Name:      "transfer_duration_seconds",
			Help:      "Duration of proxied transfers.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		UsageEventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tidestore",
			Subsystem: "usage",
			Name:      "events_dropped_total",
			Help:      "Usage events dropped due to a full recorder queue.",
		}),
	}
}
