package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// SynthMetrics records issuance engine activity: requests dispatched,
// fulfillment outcomes, and withdrawal claims.
type SynthMetrics struct {
	requests     *prometheus.CounterVec
	fulfillments *prometheus.CounterVec
	claims       *prometheus.CounterVec
}

var (
	synthMetricsOnce sync.Once
	synthRegistry    *SynthMetrics
)

// Synth returns the lazily-initialised metrics registry for the issuance
// engine.
func Synth() *SynthMetrics {
	synthMetricsOnce.Do(func() {
		synthRegistry = &SynthMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dshares",
				Subsystem: "synth",
				Name:      "requests_issued_total",
				Help:      "Total asynchronous requests issued, segmented by action.",
			}, []string{"action"}),
			fulfillments: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dshares",
				Subsystem: "synth",
				Name:      "fulfillments_total",
				Help:      "Total fulfillment callbacks processed, segmented by action and outcome.",
			}, []string{"action", "outcome"}),
			claims: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dshares",
				Subsystem: "synth",
				Name:      "withdrawal_claims_total",
				Help:      "Total withdrawal claims, segmented by outcome.",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(synthRegistry.requests, synthRegistry.fulfillments, synthRegistry.claims)
	})
	return synthRegistry
}

// ObserveRequestIssued increments the issued-request counter.
func (m *SynthMetrics) ObserveRequestIssued(action string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(normaliseLabel(action)).Inc()
}

// ObserveFulfillment increments the fulfillment counter for the outcome.
func (m *SynthMetrics) ObserveFulfillment(action, outcome string) {
	if m == nil {
		return
	}
	m.fulfillments.WithLabelValues(normaliseLabel(action), normaliseLabel(outcome)).Inc()
}

// ObserveClaim increments the claim counter for the outcome.
func (m *SynthMetrics) ObserveClaim(outcome string) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(normaliseLabel(outcome)).Inc()
}

func normaliseLabel(value string) string {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
