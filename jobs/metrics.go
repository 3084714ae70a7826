package jobs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeCompleted = "completed"
	outcomeSkipped   = "skipped"
	outcomeDead      = "dead"
)

// metrics is nil-safe; a Queue without WithRegisterer records nothing.
type metrics struct {
	submittedTotal prometheus.Counter
	droppedTotal   prometheus.Counter
	duration       *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		submittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "thumb",
			Subsystem: "jobs",
			Name:      "submitted_total",
			Help:      "Jobs accepted onto the queue.",
		}),
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "thumb",
			Subsystem: "jobs",
			Name:      "dropped_total",
			Help:      "Jobs rejected because the queue was full.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "thumb",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Time from job start to its final outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.submittedTotal, m.droppedTotal, m.duration)
	}
	return m
}

func (m *metrics) submitted() {
	if m == nil {
		return
	}
	m.submittedTotal.Inc()
}

func (m *metrics) dropped() {
	if m == nil {
		return
	}
	m.droppedTotal.Inc()
}

func (m *metrics) finished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(outcome).Observe(d.Seconds())
}
