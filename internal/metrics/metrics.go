// Package metrics is the Prometheus-backed implementation of the metrics
// catalog in spec.md §6 (Metrics output). The core never imports
// promhttp or registers an HTTP handler itself — exposition on /metrics is
// the out-of-scope API layer's job (ServerConfig.MetricsAddr names where it
// would listen); this package only owns instrument registration and the
// Sink interface the rest of the core records through, so a core component
// never imports prometheus/client_golang directly.
//
// Grounded on the counter/gauge/histogram registration pattern of
// other_examples/.../execution_service.go.go (autovant-trading-bot), which
// registers the same trade/latency/slippage instrument shapes this catalog
// calls for, generalized from that file's package-level vars and init()
// registration to a constructor-owned registry so multiple engines in one
// process (e.g. a live run and a concurrent backtest) don't collide on
// default-registry globals.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// apiLatencyBuckets is the exact bucket set spec.md §6 names for both
// latency histograms.
var apiLatencyBuckets = []float64{
	0.005, 0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1, 2.5, 5, 10,
}

// Sink is the abstract metrics surface the rest of the core records
// through. Components depend on this, never on *prometheus.Registry or any
// client_golang type, so a test double can swap in a no-op Sink with no
// import of prometheus at all.
type Sink interface {
	RecordTrade(strategy, pair, side string)
	RecordOrder(status string)
	RecordAPIRequest(method, path, status string, latency time.Duration)
	RecordAlert(level string)

	SetPositionSize(pair string, size float64)
	SetPositionPnL(pair string, pnl float64)
	SetWinRate(strategy string, rate float64)
	SetSharpeRatio(strategy string, ratio float64)
	SetMaxDrawdown(pct float64)
	SetMemoryBytes(kind string, bytes float64)
	SetUptimeSeconds(seconds float64)

	ObserveOrderLatency(d time.Duration)

	// Registry exposes the underlying collector registry so the
	// out-of-scope API layer can mount promhttp.HandlerFor(registry, ...)
	// without this package importing net/http.
	Registry() *prometheus.Registry
}

// prom is the Sink backed by a dedicated prometheus.Registry (not
// prometheus.DefaultRegisterer, so a process embedding more than one Sink —
// e.g. a live run next to a backtest run — never double-registers the same
// metric name).
type prom struct {
	registry *prometheus.Registry

	tradesTotal       *prometheus.CounterVec
	ordersTotal       *prometheus.CounterVec
	apiRequestsTotal  *prometheus.CounterVec
	alertsTotal       *prometheus.CounterVec

	positionSize *prometheus.GaugeVec
	positionPnL  *prometheus.GaugeVec
	winRate      *prometheus.GaugeVec
	sharpeRatio  *prometheus.GaugeVec
	maxDrawdown  prometheus.Gauge
	memoryBytes  *prometheus.GaugeVec
	uptime       prometheus.Gauge

	orderLatency prometheus.Histogram
	apiLatency   *prometheus.HistogramVec
}

// New constructs a Sink with its own registry and registers every
// instrument in spec.md §6's catalog.
func New() Sink {
	m := &prom{
		registry: prometheus.NewRegistry(),

		tradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trades_total", Help: "Total trades executed.",
		}, []string{"strategy", "pair", "side"}),

		ordersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_total", Help: "Total orders by terminal status.",
		}, []string{"status"}),

		apiRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total", Help: "Total venue API requests.",
		}, []string{"method", "path", "status"}),

		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alerts_total", Help: "Total alerts raised, by severity level.",
		}, []string{"level"}),

		positionSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "position_size", Help: "Current signed position size.",
		}, []string{"pair"}),

		positionPnL: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "position_pnl", Help: "Current position PnL (realized + unrealized).",
		}, []string{"pair"}),

		winRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "win_rate", Help: "Fraction of winning ticks for a strategy.",
		}, []string{"strategy"}),

		sharpeRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sharpe_ratio", Help: "Unannualized tick-return Sharpe ratio for a strategy.",
		}, []string{"strategy"}),

		maxDrawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "max_drawdown", Help: "Largest peak-to-trough equity decline observed, as a fraction.",
		}),

		memoryBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "memory_bytes", Help: "Process memory usage by category.",
		}, []string{"type"}),

		uptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "uptime_seconds", Help: "Seconds since process start.",
		}),

		orderLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "order_latency_seconds", Help: "Order submit-to-acknowledge latency.",
			Buckets: apiLatencyBuckets,
		}),

		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "api_latency_seconds", Help: "Venue API request latency.",
			Buckets: apiLatencyBuckets,
		}, []string{"method", "path"}),
	}

	m.registry.MustRegister(
		m.tradesTotal, m.ordersTotal, m.apiRequestsTotal, m.alertsTotal,
		m.positionSize, m.positionPnL, m.winRate, m.sharpeRatio, m.maxDrawdown,
		m.memoryBytes, m.uptime, m.orderLatency, m.apiLatency,
	)
	return m
}

func (m *prom) RecordTrade(strategy, pair, side string) {
	m.tradesTotal.WithLabelValues(strategy, pair, side).Inc()
}

func (m *prom) RecordOrder(status string) {
	m.ordersTotal.WithLabelValues(status).Inc()
}

func (m *prom) RecordAPIRequest(method, path, status string, latency time.Duration) {
	m.apiRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.apiLatency.WithLabelValues(method, path).Observe(latency.Seconds())
}

func (m *prom) RecordAlert(level string) {
	m.alertsTotal.WithLabelValues(level).Inc()
}

func (m *prom) SetPositionSize(pair string, size float64) {
	m.positionSize.WithLabelValues(pair).Set(size)
}

func (m *prom) SetPositionPnL(pair string, pnl float64) {
	m.positionPnL.WithLabelValues(pair).Set(pnl)
}

func (m *prom) SetWinRate(strategy string, rate float64) {
	m.winRate.WithLabelValues(strategy).Set(rate)
}

func (m *prom) SetSharpeRatio(strategy string, ratio float64) {
	m.sharpeRatio.WithLabelValues(strategy).Set(ratio)
}

func (m *prom) SetMaxDrawdown(pct float64) {
	m.maxDrawdown.Set(pct)
}

func (m *prom) SetMemoryBytes(kind string, bytes float64) {
	m.memoryBytes.WithLabelValues(kind).Set(bytes)
}

func (m *prom) SetUptimeSeconds(seconds float64) {
	m.uptime.Set(seconds)
}

func (m *prom) ObserveOrderLatency(d time.Duration) {
	m.orderLatency.Observe(d.Seconds())
}

func (m *prom) Registry() *prometheus.Registry {
	return m.registry
}

// Noop is a Sink that discards every recording. Used by components under
// test, and by any caller that builds a core without metrics wiring.
type Noop struct{}

func (Noop) RecordTrade(strategy, pair, side string)                             {}
func (Noop) RecordOrder(status string)                                           {}
func (Noop) RecordAPIRequest(method, path, status string, latency time.Duration) {}
func (Noop) RecordAlert(level string)                                            {}
func (Noop) SetPositionSize(pair string, size float64)                          {}
func (Noop) SetPositionPnL(pair string, pnl float64)                            {}
func (Noop) SetWinRate(strategy string, rate float64)                           {}
func (Noop) SetSharpeRatio(strategy string, ratio float64)                      {}
func (Noop) SetMaxDrawdown(pct float64)                                         {}
func (Noop) SetMemoryBytes(kind string, bytes float64)                          {}
func (Noop) SetUptimeSeconds(seconds float64)                                   {}
func (Noop) ObserveOrderLatency(d time.Duration)                                {}
func (Noop) Registry() *prometheus.Registry                                    { return prometheus.NewRegistry() }
