// Package metrics exposes flush outcomes as Prometheus metrics.
package metrics

import (
	"github.com/MarkoPoloResearchLab/skilltrack/pkg/skills"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "skilltrack"

// FlushCollector implements skills.FlushObserver.
type FlushCollector struct {
	flushes  *prometheus.CounterVec
	deltas   prometheus.Counter
	amount   prometheus.Counter
	duration prometheus.Histogram
}

// NewFlushCollector registers the flush metrics with registerer.
func NewFlushCollector(registerer prometheus.Registerer) (*FlushCollector, error) {
	collector := &FlushCollector{
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flush",
			Name:      "total",
			Help:      "Flush attempts by result.",
		}, []string{"result"}),
		deltas: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flush",
			Name:      "deltas_total",
			Help:      "Deltas written to storage.",
		}),
		amount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flush",
			Name:      "amount_total",
			Help:      "Experience written to storage.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "flush",
			Name:      "duration_seconds",
			Help:      "Duration of non-empty flush writes.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	for _, metric := range []prometheus.Collector{collector.flushes, collector.deltas, collector.amount, collector.duration} {
		if err := registerer.Register(metric); err != nil {
			return nil, err
		}
	}
	return collector, nil
}

// ObserveFlush records one flush.
func (collector *FlushCollector) ObserveFlush(result skills.FlushResult) {
	switch {
	case result.Err != nil:
		collector.flushes.WithLabelValues("error").Inc()
	case result.Deltas == 0:
		collector.flushes.WithLabelValues("empty").Inc()
		return
	default:
		collector.flushes.WithLabelValues("ok").Inc()
		collector.deltas.Add(float64(result.Deltas))
		collector.amount.Add(float64(result.Amount))
	}
	collector.duration.Observe(result.Duration.Seconds())
}
