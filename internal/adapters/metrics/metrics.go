// Package metrics exposes the trading core counters to Prometheus and serves
// the operator HTTP endpoints.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/alejandrodnm/polyhedge/internal/domain"
	"github.com/alejandrodnm/polyhedge/internal/ports"
)

const namespace = "hedgebot"

// Metrics implements ports.Metrics on its own registry so several instances
// (tests, dry runs) never collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	orders      *prometheus.CounterVec
	throttle    *prometheus.CounterVec
	escalations *prometheus.CounterVec
	available   prometheus.Gauge
	reserved    prometheus.Gauge
	degraded    prometheus.Gauge
	queueDepth  prometheus.Gauge
	markets     *prometheus.GaugeVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		orders: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Orders submitted, by intent and final status.",
		}, []string{"intent", "status"}),
		throttle: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttle_rejections_total",
			Help:      "Submissions rejected before reaching the exchange.",
		}, []string{"reason"}),
		escalations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hedge_escalations_total",
			Help:      "Hedge escalations, by escalator and outcome.",
		}, []string{"escalator", "ok"}),
		available: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "available_usd",
			Help:      "Spendable balance after reservations.",
		}),
		reserved: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reserved_usd",
			Help:      "Capital reserved by in-flight and working orders.",
		}),
		degraded: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "degraded",
			Help:      "1 while the inventory gate blocks new entries.",
		}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Pending external orders.",
		}),
		markets: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "markets",
			Help:      "Registered markets by readiness state.",
		}, []string{"state"}),
	}
}

// Registry returns the registry backing /metrics.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveOrder(intent domain.Intent, status string) {
	m.orders.WithLabelValues(string(intent), status).Inc()
}

func (m *Metrics) ObserveThrottle(reason string) {
	m.throttle.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveEscalation(escalator string, ok bool) {
	m.escalations.WithLabelValues(escalator, strconv.FormatBool(ok)).Inc()
}

func (m *Metrics) SetBalance(available, reserved float64) {
	m.available.Set(available)
	m.reserved.Set(reserved)
}

func (m *Metrics) SetDegraded(degraded bool) {
	if degraded {
		m.degraded.Set(1)
		return
	}
	m.degraded.Set(0)
}

func (m *Metrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

// SetMarkets replaces the per-state market gauge. States missing from counts
// drop to zero.
func (m *Metrics) SetMarkets(counts map[string]int) {
	m.markets.Reset()
	for state, n := range counts {
		m.markets.WithLabelValues(state).Set(float64(n))
	}
}

var _ ports.Metrics = (*Metrics)(nil)
