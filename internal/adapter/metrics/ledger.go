package metrics

import "github.com/prometheus/client_golang/prometheus"

// LedgerMetrics counts session lifecycle events and device registrations.
type LedgerMetrics struct {
	SessionsStarted    prometheus.Counter
	SessionsEnded      prometheus.Counter
	SessionsSuperseded prometheus.Counter
	EndNoops           prometheus.Counter
	Registrations      *prometheus.CounterVec
}

func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	m := &LedgerMetrics{
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "started_total",
			Help:      "Sessions started.",
		}),
		SessionsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "ended_total",
			Help:      "Sessions closed by an end request.",
		}),
		SessionsSuperseded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "superseded_total",
			Help:      "Open sessions closed because a new session started for the same user and patient.",
		}),
		EndNoops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "end_noops_total",
			Help:      "End requests for sessions that were unknown or already closed.",
		}),
		Registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "devices",
			Name:      "registrations_total",
			Help:      "Device registrations, by whether an agent id was supplied.",
		}, []string{"with_agent"}),
	}

	reg.MustRegister(m.SessionsStarted, m.SessionsEnded, m.SessionsSuperseded, m.EndNoops, m.Registrations)
	return m
}
