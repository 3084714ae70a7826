package thumb

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Resolution outcomes recorded by Metrics.
const (
	OutcomeCacheHit  = "cache_hit"
	OutcomeExistsHit = "exists_hit"
	OutcomeGenerated = "generated"
	OutcomeFallback  = "fallback"
	OutcomeError     = "error"
)

// Metrics holds the Prometheus collectors for a Resolver.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	resolves   *prometheus.CounterVec
	generation *prometheus.HistogramVec
	purged     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		resolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "thumb",
			Name:      "resolves_total",
			Help:      "Resolutions by preset and outcome.",
		}, []string{"preset", "outcome"}),
		generation: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "thumb",
			Name:      "generation_duration_seconds",
			Help:      "Time spent generating derived assets.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"preset", "kind"}),
		purged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "thumb",
			Name:      "purged_files_total",
			Help:      "Derived files deleted by purge.",
		}, []string{"preset"}),
	}
	if reg != nil {
		reg.MustRegister(m.resolves, m.generation, m.purged)
	}
	return m
}

func (m *Metrics) resolved(preset, outcome string) {
	if m == nil {
		return
	}
	m.resolves.WithLabelValues(preset, outcome).Inc()
}

func (m *Metrics) generated(preset string, kind Kind, d time.Duration) {
	if m == nil {
		return
	}
	label := string(kind)
	if kind == KindNone {
		label = "ok"
	}
	m.generation.WithLabelValues(preset, label).Observe(d.Seconds())
}

func (m *Metrics) purge(preset string, n int) {
	if m == nil {
		return
	}
	m.purged.WithLabelValues(preset).Add(float64(n))
}
