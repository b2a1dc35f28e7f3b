package metrics

import (
	"time"

	"github.com/shopspring/decimal"
)

// Recorder provides methods for recording metrics.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordOrder records an order submission outcome.
func (r *Recorder) RecordOrder(system, orderType, status string) {
	OrdersTotal.WithLabelValues(system, orderType, status).Inc()
}

// RecordOrderAttempts records how many venue attempts a submission took.
func (r *Recorder) RecordOrderAttempts(attempts int) {
	OrderAttempts.Observe(float64(attempts))
}

// RecordOrderLatency records order execution latency.
func (r *Recorder) RecordOrderLatency(duration time.Duration) {
	OrderLatency.Observe(duration.Seconds())
}

// RecordGateDenial records an order refused by the entry gate.
func (r *Recorder) RecordGateDenial(system, reason string) {
	GateDenials.WithLabelValues(system, reason).Inc()
}

// RecordOCO records an OCO detector outcome.
func (r *Recorder) RecordOCO(system, action string) {
	OCOEvents.WithLabelValues(system, action).Inc()
}

// RecordClosedTrade records a classified closed trade.
func (r *Recorder) RecordClosedTrade(system, reason string, profit decimal.Decimal) {
	ClosedTrades.WithLabelValues(system, reason).Inc()
	RealizedPL.WithLabelValues(system).Add(profit.InexactFloat64())
}

// RecordDuplicateClosed records a duplicate position closed by reconciliation.
func (r *Recorder) RecordDuplicateClosed(system string) {
	DuplicatesClosed.WithLabelValues(system).Inc()
}

// RecordConflict records a reconciliation conflict.
func (r *Recorder) RecordConflict(system string) {
	ReconcileConflicts.WithLabelValues(system).Inc()
}

// RecordLifecycle records the lifecycle of a system.
func (r *Recorder) RecordLifecycle(system string, lifecycle int) {
	SystemLifecycle.WithLabelValues(system).Set(float64(lifecycle))
}

// RecordRiskFactor records the next risk factor of a system.
func (r *Recorder) RecordRiskFactor(system string, factor decimal.Decimal) {
	RiskFactor.WithLabelValues(system).Set(factor.InexactFloat64())
}

// RecordHalted records whether a system is halted.
func (r *Recorder) RecordHalted(system string, halted bool) {
	if halted {
		SystemHalted.WithLabelValues(system).Set(1)
	} else {
		SystemHalted.WithLabelValues(system).Set(0)
	}
}

// RecordSpread records the spread of the last snapshot.
func (r *Recorder) RecordSpread(pips decimal.Decimal) {
	SpreadPips.Set(pips.InexactFloat64())
}

// RecordCycle records a completed decision cycle.
func (r *Recorder) RecordCycle(duration time.Duration) {
	CyclesTotal.Inc()
	CycleDuration.Observe(duration.Seconds())
}

// RecordHeartbeat records a heartbeat.
func (r *Recorder) RecordHeartbeat() {
	HeartbeatTimestamp.Set(float64(time.Now().Unix()))
}

// RecordVenueStatus records venue connection status.
func (r *Recorder) RecordVenueStatus(connected bool) {
	if connected {
		VenueConnected.Set(1)
	} else {
		VenueConnected.Set(0)
	}
}

// RecordError records an error.
func (r *Recorder) RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}

// Timer is a helper for measuring latency.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the elapsed duration.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// ObserveOrder observes the elapsed time as order latency.
func (t *Timer) ObserveOrder() {
	OrderLatency.Observe(t.Elapsed().Seconds())
}

// ObserveCycle observes the elapsed time as cycle duration.
func (t *Timer) ObserveCycle() {
	CycleDuration.Observe(t.Elapsed().Seconds())
}
