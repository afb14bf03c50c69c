package refresh

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts refresh cycles, waiters, replays, and login redirects.
type Metrics struct {
	cycles    *prometheus.CounterVec
	waiters   prometheus.Counter
	replays   *prometheus.CounterVec
	redirects prometheus.Counter
	inFlight  prometheus.Gauge
}

// NewMetrics builds the collectors and registers them on reg (nil reg leaves them unregistered).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "refresh",
			Name:      "cycles_total",
			Help:      "Session refresh calls issued, by result.",
		}, []string{"result"}),
		waiters: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "refresh",
			Name:      "waiters_total",
			Help:      "Requests that waited on an in-flight refresh instead of starting one.",
		}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "refresh",
			Name:      "replays_total",
			Help:      "Requests replayed after a successful refresh, by result.",
		}, []string{"result"}),
		redirects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "refresh",
			Name:      "redirects_total",
			Help:      "Navigations to the login entry point.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "portal",
			Subsystem: "refresh",
			Name:      "in_flight",
			Help:      "1 while a refresh call is outstanding.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.cycles, m.waiters, m.replays, m.redirects, m.inFlight)
	}
	return m
}

func resultLabel(err error) string {
	if err != nil {
		return "fail"
	}
	return "ok"
}
