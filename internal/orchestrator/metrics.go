package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the orchestrator's prometheus collectors. A nil
// *Metrics is valid and records nothing, so tests can run without a
// registry.
type Metrics struct {
	turnsTotal        *prometheus.CounterVec
	turnDuration      prometheus.Histogram
	tokensStreamed    prometheus.Counter
	providerErrors    *prometheus.CounterVec
	summaryFallbacks  prometheus.Counter
	activeDiscussions prometheus.Gauge
	eventsDropped     prometheus.Counter
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "turns_total",
			Help:      "Completed turns by model and outcome.",
		}, []string{"model", "outcome"}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "parley",
			Name:      "turn_duration_seconds",
			Help:      "Wall-clock duration of a turn including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		tokensStreamed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "tokens_streamed_total",
			Help:      "Streamed token chunks across all turns.",
		}),
		providerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "provider_errors_total",
			Help:      "Provider call failures by provider.",
		}, []string{"provider"}),
		summaryFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "summary_fallbacks_total",
			Help:      "Discussions that ended with the system fallback summary.",
		}),
		activeDiscussions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "parley",
			Name:      "active_discussions",
			Help:      "Discussions currently running or summarizing.",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "events_dropped_total",
			Help:      "Events lost to full subscriber queues.",
		}),
	}
	reg.MustRegister(
		m.turnsTotal, m.turnDuration, m.tokensStreamed,
		m.providerErrors, m.summaryFallbacks, m.activeDiscussions,
		m.eventsDropped,
	)
	return m
}

func (m *Metrics) observeTurn(model, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(model, outcome).Inc()
	m.turnDuration.Observe(seconds)
}

func (m *Metrics) addTokens(n int) {
	if m == nil {
		return
	}
	m.tokensStreamed.Add(float64(n))
}

func (m *Metrics) providerError(provider string) {
	if m == nil {
		return
	}
	m.providerErrors.WithLabelValues(provider).Inc()
}

func (m *Metrics) summaryFallback() {
	if m == nil {
		return
	}
	m.summaryFallbacks.Inc()
}

func (m *Metrics) setActive(n int) {
	if m == nil {
		return
	}
	m.activeDiscussions.Set(float64(n))
}

// EventDropped feeds the bus drop handler.
func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}
