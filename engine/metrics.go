package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors fed by the engine.
type Metrics struct {
	runs         *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	hops         prometheus.Histogram
	routes       *prometheus.CounterVec
	loops        *prometheus.CounterVec
	hopCaps      prometheus.Counter
	nodeDuration *prometheus.HistogramVec
	activeRuns   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered, which suits tests and embedded use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentrelay",
				Name:      "runs_total",
				Help:      "Finished workflow runs by trigger and status.",
			},
			[]string{"trigger", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "agentrelay",
				Name:      "run_duration_seconds",
				Help:      "Wall time of workflow runs.",
				Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
			},
			[]string{"trigger"},
		),
		hops: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agentrelay",
			Name:      "run_hops",
			Help:      "Agent node executions per run.",
			Buckets:   prometheus.LinearBuckets(0, 1, 11),
		}),
		routes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentrelay",
				Name:      "routes_total",
				Help:      "Routing decisions by token and canonicalization method.",
			},
			[]string{"token", "method"},
		),
		loops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentrelay",
				Name:      "loops_detected_total",
				Help:      "Runs cut short by loop detection.",
			},
			[]string{"reason"},
		),
		hopCaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentrelay",
			Name:      "hop_caps_total",
			Help:      "Runs cut short by the hop cap.",
		}),
		nodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "agentrelay",
				Name:      "node_duration_seconds",
				Help:      "Workflow node execution time.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"node"},
		),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentrelay",
			Name:      "active_runs",
			Help:      "Runs currently executing.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.runDuration, m.hops, m.routes, m.loops, m.hopCaps, m.nodeDuration, m.activeRuns)
	}
	return m
}

func (m *Metrics) runStarted() {
	if m == nil {
		return
	}
	m.activeRuns.Inc()
}

func (m *Metrics) runFinished(trigger, status string, hops int, dur time.Duration) {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
	m.runs.WithLabelValues(trigger, status).Inc()
	m.runDuration.WithLabelValues(trigger).Observe(dur.Seconds())
	m.hops.Observe(float64(hops))
}

func (m *Metrics) routed(token, method string) {
	if m == nil {
		return
	}
	m.routes.WithLabelValues(token, method).Inc()
}

func (m *Metrics) loopDetected(reason string) {
	if m == nil {
		return
	}
	m.loops.WithLabelValues(reason).Inc()
}

func (m *Metrics) hopCapped() {
	if m == nil {
		return
	}
	m.hopCaps.Inc()
}

func (m *Metrics) nodeDone(node string, dur time.Duration) {
	if m == nil {
		return
	}
	m.nodeDuration.WithLabelValues(node).Observe(dur.Seconds())
}
