package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "vhm"

const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// Metrics holds the diagnostics counters of one VHM instance. Each instance
// owns its registry so several can run in one process.
type Metrics struct {
	Registry *prometheus.Registry

	QueueDrains       prometheus.Counter
	DrainedEvents     prometheus.Counter
	StateChangeErrors prometheus.Counter
	PolicyMismatch    prometheus.Counter
	Unresolvable      prometheus.Counter
	Rejected          prometheus.Counter
	Deferred          prometheus.Counter
	BlockingReported  prometheus.Counter
	Discarded         prometheus.Counter
	Completions       *prometheus.CounterVec
	BusyClusters      prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		QueueDrains: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_drains_total",
			Help:      "Number of orchestration cycles.",
		}),
		DrainedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drained_events_total",
			Help:      "Number of events taken off the event queue.",
		}),
		StateChangeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_change_errors_total",
			Help:      "State change and completion events that failed to apply.",
		}),
		PolicyMismatch: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_mismatch_dropped_total",
			Help:      "Scale events dropped because the cluster strategy does not handle them.",
		}),
		Unresolvable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unresolvable_events_total",
			Help:      "Scale events dropped because no cluster could be derived.",
		}),
		Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_submissions_total",
			Help:      "Submissions rejected because the cluster was busy.",
		}),
		Deferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deferred_events_total",
			Help:      "Scale events held back for a busy cluster.",
		}),
		BlockingReported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocking_instructions_reported_total",
			Help:      "Switch-to-manual instructions that were acknowledged.",
		}),
		Discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discarded_events_total",
			Help:      "Scale events discarded behind a pending switch-to-manual instruction.",
		}),
		Completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completions_total",
			Help:      "Scaling invocations by outcome.",
		}, []string{"outcome"}),
		BusyClusters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "busy_clusters",
			Help:      "Clusters with an in-flight scaling invocation.",
		}),
	}
	m.Registry.MustRegister(
		m.QueueDrains,
		m.DrainedEvents,
		m.StateChangeErrors,
		m.PolicyMismatch,
		m.Unresolvable,
		m.Rejected,
		m.Deferred,
		m.BlockingReported,
		m.Discarded,
		m.Completions,
		m.BusyClusters,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) ObserveCompletion(succeeded bool) {
	if succeeded {
		m.Completions.WithLabelValues(OutcomeSucceeded).Inc()
	} else {
		m.Completions.WithLabelValues(OutcomeFailed).Inc()
	}
}
