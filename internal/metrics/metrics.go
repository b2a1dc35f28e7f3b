// Package metrics exposes Prometheus metrics and health endpoints.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ocogrid"

var (
	// Orders
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_total",
		Help:      "Order submissions by system, order type and outcome.",
	}, []string{"system", "type", "status"})

	OrderAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "order_attempts",
		Help:      "Venue attempts per submission.",
		Buckets:   []float64{1, 2, 3, 4, 5, 8},
	})

	OrderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "order_latency_seconds",
		Help:      "Submission latency including retries.",
		Buckets:   prometheus.DefBuckets,
	})

	// Entry gate
	GateDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gate_denials_total",
		Help:      "Orders refused by the entry gate.",
	}, []string{"system", "reason"})

	// OCO
	OCOEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "oco_events_total",
		Help:      "OCO detector outcomes by system.",
	}, []string{"system", "action"})

	// History
	ClosedTrades = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "closed_trades_total",
		Help:      "Classified closed trades by system and reason.",
	}, []string{"system", "reason"})

	RealizedPL = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "realized_pl",
		Help:      "Realized profit/loss since start by system.",
	}, []string{"system"})

	// Reconciliation
	DuplicatesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "duplicates_closed_total",
		Help:      "Duplicate positions closed by reconciliation.",
	}, []string{"system"})

	ReconcileConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_conflicts_total",
		Help:      "Systems halted after a reconciliation conflict.",
	}, []string{"system"})

	// System state
	SystemLifecycle = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "system_lifecycle",
		Help:      "Current lifecycle per system (0 none, 1 alive, 2 missing, 3 missing recovered).",
	}, []string{"system"})

	RiskFactor = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "risk_factor",
		Help:      "Risk factor fed to the lot sizer per system.",
	}, []string{"system"})

	SystemHalted = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "system_halted",
		Help:      "1 when a system is halted.",
	}, []string{"system"})

	// Market
	SpreadPips = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "spread_pips",
		Help:      "Spread of the last snapshot in pips.",
	})

	// Cycle
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cycle_duration_seconds",
		Help:      "Duration of one decision cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	CyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_total",
		Help:      "Decision cycles run.",
	})

	// System health
	HeartbeatTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "heartbeat_timestamp_seconds",
		Help:      "Unix time of the last completed cycle.",
	})

	VenueConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "venue_connected",
		Help:      "1 when the venue is connected.",
	})

	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Errors by type.",
	}, []string{"type"})

	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build information.",
	}, []string{"version", "commit", "date"})
)

// SetBuildInfo publishes the build version.
func SetBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
}
