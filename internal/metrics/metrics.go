// Package metrics exposes the engine's prometheus gauges/counters on a
// private registry, grounded on
// SynapseStrike/metrics/metrics.go's promauto.With(Registry) pattern,
// adapted from per-trader/per-exchange labels to the single-account
// Korean-equities domain: per-position P&L, pipeline filter throughput,
// and broker call health.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Registry is the engine's private prometheus registry.
	Registry = prometheus.NewRegistry()

	mu sync.RWMutex

	// BotRunning reports whether the engine's desired status is RUNNING.
	BotRunning = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "daytrader",
		Subsystem: "engine",
		Name:      "running",
		Help:      "1 if bot_status is RUNNING, else 0",
	})

	// PositionsOpen tracks the number of currently held/ordered positions.
	PositionsOpen = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "daytrader",
		Subsystem: "engine",
		Name:      "positions_open",
		Help:      "Number of open positions",
	})

	// PositionPnLPercent tracks per-position current net-of-fees P&L.
	PositionPnLPercent = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "daytrader",
		Subsystem: "position",
		Name:      "pnl_percent",
		Help:      "Current net-of-fees P&L percentage per position",
	}, []string{"symbol"})

	// PipelineRejections counts admission-filter rejections by filter name.
	PipelineRejections = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "daytrader",
		Subsystem: "pipeline",
		Name:      "rejections_total",
		Help:      "Admission pipeline rejections by filter",
	}, []string{"filter"})

	// PipelineEntries counts successful buy-order admissions.
	PipelineEntries = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: "daytrader",
		Subsystem: "pipeline",
		Name:      "entries_total",
		Help:      "Total admitted buy orders",
	})

	// ExitsByReason counts position exits by reason (stop_loss, time_cut,
	// take_profit, stop_loss(ai), overnight_reject, morning_liquidation,
	// bulk_sell).
	ExitsByReason = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "daytrader",
		Subsystem: "position",
		Name:      "exits_total",
		Help:      "Position exits by reason",
	}, []string{"reason"})

	// RESTCallDuration tracks broker REST call latency by TR id.
	RESTCallDuration = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "daytrader",
		Subsystem: "rest",
		Name:      "call_duration_seconds",
		Help:      "Broker REST call duration in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"api_id"})

	// RESTErrors counts REST call failures by TR id and cause.
	RESTErrors = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "daytrader",
		Subsystem: "rest",
		Name:      "errors_total",
		Help:      "Broker REST call errors by TR id and cause",
	}, []string{"api_id", "cause"})

	// MDGConnected reports whether the WebSocket gateway is ACTIVE.
	MDGConnected = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "daytrader",
		Subsystem: "mdg",
		Name:      "connected",
		Help:      "1 if the market data gateway is ACTIVE, else 0",
	})

	// ReconcileDrift counts positions Reconciler found inconsistent with
	// the server balance.
	ReconcileDrift = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: "daytrader",
		Subsystem: "reconciler",
		Name:      "drift_total",
		Help:      "Positions corrected by reconciliation",
	})

	// DailyRealizedProfit mirrors the broker's today's-realized-P&L figure,
	// refreshed on the Reconciler's 60s cadence.
	DailyRealizedProfit = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "daytrader",
		Subsystem: "reconciler",
		Name:      "daily_realized_profit",
		Help:      "Today's realized P&L in KRW as last fetched from the broker",
	})
)

// Init registers the standard process/go collectors alongside the domain
// metrics above.
func Init() {
	Registry.MustRegister(prometheus.NewGoCollector())
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}

// SetBotRunning mirrors SynapseStrike's SetTraderRunning for a single
// engine instance.
func SetBotRunning(running bool) {
	v := 0.0
	if running {
		v = 1.0
	}
	BotRunning.Set(v)
}

// RecordExit records one position close with its exit reason.
func RecordExit(reason string) {
	ExitsByReason.WithLabelValues(reason).Inc()
}

// SetDailyRealizedProfit updates the daily realized-P&L gauge.
func SetDailyRealizedProfit(amount int64) {
	DailyRealizedProfit.Set(float64(amount))
}

// RecordRejection records one pipeline filter rejection.
func RecordRejection(filter string) {
	PipelineRejections.WithLabelValues(filter).Inc()
}

// SetPositionPnL updates one position's live P&L gauge.
func SetPositionPnL(symbol string, pnlPercent float64) {
	mu.Lock()
	defer mu.Unlock()
	PositionPnLPercent.WithLabelValues(symbol).Set(pnlPercent)
}

// ClearPositionPnL removes a closed position's gauge series.
func ClearPositionPnL(symbol string) {
	mu.Lock()
	defer mu.Unlock()
	PositionPnLPercent.DeleteLabelValues(symbol)
}

// RecordRESTCall records one REST call's latency and, on failure, its cause.
func RecordRESTCall(apiID string, seconds float64, cause string) {
	RESTCallDuration.WithLabelValues(apiID).Observe(seconds)
	if cause != "" {
		RESTErrors.WithLabelValues(apiID, cause).Inc()
	}
}
