// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Signal intake
	SignalsDropped *prometheus.CounterVec

	// Sessions
	SessionsStarted prometheus.Counter
	SessionsEnded   *prometheus.CounterVec
	LiveSessions    prometheus.Gauge

	// Execution
	TradesExecuted   *prometheus.CounterVec
	TradeAmount      *prometheus.CounterVec
	PositionsClosed  *prometheus.CounterVec
	RealizedPnL      *prometheus.GaugeVec
	RoundTripPnLPct  prometheus.Histogram
	StrategyChanges  *prometheus.CounterVec
	PortfolioValue   *prometheus.GaugeVec
	PortfolioCapital *prometheus.GaugeVec

	// Journal
	SinkErrors *prometheus.CounterVec
}

// NewMetrics creates and registers every metric with reg. A nil reg uses the
// default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "autotrader"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		SignalsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "dropped_total",
			Help:      "Signals rejected at submission or admission, by account",
		}, []string{"account"}),

		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "started_total",
			Help:      "Sessions admitted",
		}),
		SessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "ended_total",
			Help:      "Sessions that reached a terminal status, by status and reason",
		}, []string{"status", "reason"}),
		LiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "live",
			Help:      "Sessions not yet finished or failed",
		}),

		TradesExecuted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "trades_total",
			Help:      "Simulated trades by account and side",
		}, []string{"account", "side"}),
		TradeAmount: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "trade_amount_total",
			Help:      "Capital spent (BUY) or received (SELL)",
		}, []string{"account", "side"}),
		PositionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "positions_closed_total",
			Help:      "Fully closed positions by exit reason",
		}, []string{"reason"}),
		RealizedPnL: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "realized_pnl",
			Help:      "Cumulative realized profit and loss per account",
		}, []string{"account"}),
		RoundTripPnLPct: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "round_trip_pnl_percent",
			Help:      "Percentage return of closed round trips",
			Buckets:   []float64{-50, -20, -15, -10, -5, 0, 5, 10, 30, 75, 150},
		}),
		StrategyChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "transitions_total",
			Help:      "Exit state machine transitions by kind",
		}, []string{"kind"}),
		PortfolioValue: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "total_value",
			Help:      "Capital plus marked positions at the last snapshot",
		}, []string{"account"}),
		PortfolioCapital: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "capital",
			Help:      "Uncommitted capital at the last snapshot",
		}, []string{"account"}),

		SinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "errors_total",
			Help:      "Event journal write failures by target",
		}, []string{"target"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves the metrics gathered by g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
