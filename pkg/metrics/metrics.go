package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry and the collectors of the trading core.
type Metrics struct {
	registry *prometheus.Registry

	RiskCheckDuration  prometheus.Histogram
	RiskDecisions      *prometheus.CounterVec
	SubmitDuration     prometheus.Histogram
	OrderTransitions   *prometheus.CounterVec
	FillsApplied       prometheus.Counter
	FillAnomalies      *prometheus.CounterVec
	RoutePublishFailed prometheus.Counter
	CancelUnconfirmed  prometheus.Counter
	JournalDropped     prometheus.Counter
	BreakerState       *prometheus.GaugeVec
	VaRStaleness       prometheus.Gauge
}

// New registers the standard collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: reg}

	m.RiskCheckDuration = m.newHistogram(prometheus.HistogramOpts{
		Name:    "risk_check_duration_seconds",
		Help:    "Latency of synchronous pre-trade risk checks",
		Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0015, 0.0025, 0.005, 0.01},
	})
	m.RiskDecisions = m.newCounterVec(prometheus.CounterOpts{
		Name: "risk_decisions_total",
		Help: "Risk check outcomes by reason",
	}, []string{"reason"})
	m.SubmitDuration = m.newHistogram(prometheus.HistogramOpts{
		Name:    "order_submit_duration_seconds",
		Help:    "End-to-end latency of order submission",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	})
	m.OrderTransitions = m.newCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Order lifecycle transitions by target status",
	}, []string{"status"})

	m.FillsApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fills_applied_total",
		Help: "Fills applied to the position ledger",
	})
	m.FillAnomalies = m.newCounterVec(prometheus.CounterOpts{
		Name: "fill_anomalies_total",
		Help: "Fills dropped or flagged, by kind",
	}, []string{"kind"})
	m.RoutePublishFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "route_publish_failed_total",
		Help: "Route events whose publish retry budget was exhausted",
	})
	m.CancelUnconfirmed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cancel_unconfirmed_total",
		Help: "Cancels that received no venue acknowledgment in time",
	})
	m.JournalDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "journal_dropped_total",
		Help: "Persistence records dropped because the journal queue was full",
	})
	m.BreakerState = m.newGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "Circuit breaker state (0: Closed, 1: Half-Open, 2: Open)",
	}, []string{"name"})
	m.VaRStaleness = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "var_cache_age_seconds",
		Help: "Age of the oldest cached VaR estimate after the last refresh",
	})
	reg.MustRegister(m.FillsApplied, m.RoutePublishFailed, m.CancelUnconfirmed, m.JournalDropped, m.VaRStaleness)

	return m
}

func (m *Metrics) newCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	cv := prometheus.NewCounterVec(opts, labelNames)
	m.registry.MustRegister(cv)
	return cv
}

func (m *Metrics) newGaugeVec(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec {
	gv := prometheus.NewGaugeVec(opts, labelNames)
	m.registry.MustRegister(gv)
	return gv
}

func (m *Metrics) newHistogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	h := prometheus.NewHistogram(opts)
	m.registry.MustRegister(h)
	return h
}

// Registry exposes the registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
