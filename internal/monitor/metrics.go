package monitor

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the engine's prometheus collectors on a private registry.
// Every method is safe on a nil *Metrics.
type Metrics struct {
	reg *prometheus.Registry

	cycles          prometheus.Counter
	cycleDuration   prometheus.Histogram
	signals         prometheus.Counter
	orders          *prometheus.CounterVec
	riskRejections  *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	gatewayRetries  *prometheus.CounterVec
	connectivity    prometheus.Gauge
	openPositions   prometheus.Gauge
	apiRequests     *prometheus.CounterVec

	cycleLatency *LatencyHistogram
}

// NewMetrics registers all collectors plus the Go runtime collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perp_cycles_total",
			Help: "Completed control loop cycles.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_cycle_duration_seconds",
			Help:    "Wall time of one control loop cycle.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		signals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perp_signals_total",
			Help: "Entry signals detected.",
		}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_orders_total",
			Help: "Orders submitted by type and mode (live|sim).",
		}, []string{"type", "mode"}),
		riskRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_risk_rejections_total",
			Help: "Signals the risk engine refused to size.",
		}, []string{"reason"}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_reconciliation_actions_total",
			Help: "Corrective reconciliation actions.",
		}, []string{"action"}),
		gatewayRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_gateway_retries_total",
			Help: "Exchange calls retried after a transient failure.",
		}, []string{"op"}),
		connectivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perp_connectivity_down",
			Help: "1 while the control loop considers the exchange unreachable.",
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perp_open_positions",
			Help: "Tracked protected positions.",
		}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_api_requests_total",
			Help: "Control API requests by method and status.",
		}, []string{"method", "status"}),
		cycleLatency: NewLatencyHistogram(500),
	}
	m.reg.MustRegister(
		m.cycles, m.cycleDuration, m.signals, m.orders, m.riskRejections,
		m.reconciliations, m.gatewayRetries, m.connectivity, m.openPositions, m.apiRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) CycleDone(d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	m.cycleDuration.Observe(d.Seconds())
	m.cycleLatency.RecordDuration(d)
}

// CycleLatency summarizes recent cycle durations in milliseconds.
func (m *Metrics) CycleLatency() LatencyStats {
	if m == nil {
		return LatencyStats{}
	}
	return m.cycleLatency.Stats()
}

func (m *Metrics) Signal() {
	if m == nil {
		return
	}
	m.signals.Inc()
}

func (m *Metrics) Order(orderType string, simulated bool) {
	if m == nil {
		return
	}
	mode := "live"
	if simulated {
		mode = "sim"
	}
	m.orders.WithLabelValues(orderType, mode).Inc()
}

func (m *Metrics) RiskRejection(reason string) {
	if m == nil {
		return
	}
	m.riskRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) ReconciliationAction(action string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(action).Inc()
}

func (m *Metrics) GatewayRetry(op string) {
	if m == nil {
		return
	}
	m.gatewayRetries.WithLabelValues(op).Inc()
}

func (m *Metrics) SetConnectivityDown(down bool) {
	if m == nil {
		return
	}
	if down {
		m.connectivity.Set(1)
		return
	}
	m.connectivity.Set(0)
}

func (m *Metrics) SetOpenPositions(n int) {
	if m == nil {
		return
	}
	m.openPositions.Set(float64(n))
}

func (m *Metrics) APIRequest(method string, status int) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}
