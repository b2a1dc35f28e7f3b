package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tathienbao/ocogrid/internal/alerting"
	"github.com/tathienbao/ocogrid/internal/history"
	"github.com/tathienbao/ocogrid/internal/persistence"
	"github.com/tathienbao/ocogrid/internal/strategy"
	"github.com/tathienbao/ocogrid/internal/types"
	"go.uber.org/multierr"
)

// snapshot is one consistent read of the venue. Positions and orders are
// restricted to our own comments and tagged with their system.
type snapshot struct {
	quote          types.Quote
	positions      []types.Position
	orders         []types.PendingOrder
	bySystem       map[string][]types.Position
	ordersBySystem map[string][]types.PendingOrder
}

func (e *Engine) takeSnapshot(ctx context.Context) (*snapshot, error) {
	q, err := e.venue.RefreshQuote(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh quote: %w", err)
	}
	positions, err := e.venue.OpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("open positions: %w", err)
	}
	orders, err := e.venue.OpenOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("open orders: %w", err)
	}

	snap := &snapshot{quote: q}
	for _, p := range positions {
		if sys, seq, ok := e.identify(p.Comment); ok {
			p.System, p.Sequence = sys, seq
			snap.positions = append(snap.positions, p)
		}
	}
	for _, o := range orders {
		if sys, seq, ok := e.identify(o.Comment); ok {
			o.System, o.Sequence = sys, seq
			snap.orders = append(snap.orders, o)
		}
	}
	snap.bySystem = strategy.BySystem(snap.positions)
	snap.ordersBySystem = strategy.OrdersBySystem(snap.orders)

	return snap, nil
}

// identify maps a comment to one of the configured systems.
func (e *Engine) identify(c string) (system string, seq []int, ok bool) {
	for _, sys := range e.order {
		if !e.codec.Matches(c, sys) {
			continue
		}
		if id, err := e.codec.Decode(c); err == nil {
			seq = id.Sequence
		}
		return sys, seq, true
	}
	return "", nil, false
}

// Cycle runs one decision pass. Failures of one system are collected and do
// not stop the others.
func (e *Engine) Cycle(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return ErrNotInitialized
	}

	start := e.now()
	cycleID := uuid.NewString()
	e.logger.Debug("cycle started", "cycle", cycleID)

	e.watchVenue(ctx)

	snap, err := e.takeSnapshot(ctx)
	if err != nil {
		e.recorder.RecordError("snapshot")
		return fmt.Errorf("cycle %s: snapshot: %w", cycleID, err)
	}
	e.recorder.RecordSpread(strategy.SpreadPips(snap.quote, e.inst))

	var errs error
	for _, sys := range e.order {
		if err := e.processSystem(ctx, e.states[sys], snap); err != nil {
			e.recorder.RecordError("system")
			errs = multierr.Append(errs, err)
		}
	}

	errs = multierr.Append(errs, e.processHistory(ctx))
	errs = multierr.Append(errs, e.persist(ctx))

	elapsed := e.now().Sub(start)
	e.recorder.RecordCycle(elapsed)
	e.recorder.RecordHeartbeat()
	e.lastCycle.Store(e.now().UnixNano())

	e.logger.Debug("cycle finished",
		"cycle", cycleID,
		"duration", elapsed,
		"errors", len(multierr.Errors(errs)),
	)

	return errs
}

// watchVenue samples the connection and alerts when it changes.
func (e *Engine) watchVenue(ctx context.Context) {
	up := e.venue.IsConnected()
	e.recorder.RecordVenueStatus(up)
	if up == e.venueUp {
		return
	}
	e.venueUp = up

	if up {
		e.logger.Info("venue connection restored", "symbol", e.inst.Symbol)
		e.alert(ctx, alerting.EventVenueRestored, "Venue connection restored", "symbol", e.inst.Symbol)
		return
	}
	e.logger.Warn("venue disconnected", "symbol", e.inst.Symbol)
	e.alert(ctx, alerting.EventVenueDisconnected, "Venue disconnected", "symbol", e.inst.Symbol)
}

// processSystem runs the per-system steps of a cycle.
func (e *Engine) processSystem(ctx context.Context, st *strategy.SystemState, snap *snapshot) error {
	sys := st.System
	mine := snap.bySystem[sys]
	orders := snap.ordersBySystem[sys]

	if len(mine) > 1 {
		return e.conflict(ctx, st, mine)
	}

	var ticket int64
	if len(mine) == 1 {
		ticket = mine[0].Ticket
	}
	prior, vanished := st.Track(ticket)
	e.recorder.RecordLifecycle(sys, int(st.Lifecycle))
	if prior != st.Lifecycle {
		e.logger.Debug("lifecycle changed",
			"system", sys,
			"from", prior,
			"to", st.Lifecycle,
		)
	}
	if vanished {
		e.logger.Info("position missing", "system", sys, "lifecycle", st.Lifecycle)
	}

	var errs error

	dec := strategy.DetectOCO(strategy.OCOInput{
		Pair:        st.Pair,
		Positions:   mine,
		Orders:      orders,
		Quote:       snap.quote,
		RepricePips: e.cfg.RepricePips,
		Instrument:  e.inst,
		Lifecycle:   st.Lifecycle,
	})
	remaining, err := e.handleOCO(ctx, st, dec, orders)
	errs = multierr.Append(errs, err)

	if len(mine) == 1 {
		errs = multierr.Append(errs, e.ensureTPSL(ctx, mine[0]))
	}

	switch {
	case st.Halted, st.Recovered(), len(mine) > 0, remaining > 0, st.Pair.Active():
		// Nothing to place. A recovered position never restarts the pair.
	case vanished:
		// Missing from a held position; the close has to reach history first.
	case dec.Action == strategy.OCOInvalidated, dec.Action == strategy.OCOFilled:
		// Wait for the history of the vanished leg before choosing a side.
	default:
		if err := e.establishPair(ctx, st, snap); err != nil && !types.IsGateDenied(err) {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

// conflict halts a system that holds more than one position. The engine does
// not pick a survivor; an operator has to.
func (e *Engine) conflict(ctx context.Context, st *strategy.SystemState, positions []types.Position) error {
	tickets := make([]int64, 0, len(positions))
	for _, p := range positions {
		tickets = append(tickets, p.Ticket)
	}

	if !st.Halted {
		st.Halted = true
		e.recorder.RecordConflict(st.System)
		e.recorder.RecordHalted(st.System, true)
		e.logger.Error("reconciliation conflict, system halted",
			"system", st.System,
			"tickets", tickets,
		)
		e.alert(ctx, alerting.EventReconcileConflict, "More than one position for system",
			"system", st.System,
			"tickets", fmt.Sprint(tickets),
		)
		e.alert(ctx, alerting.EventSystemHalted, "System halted until an operator resolves it",
			"system", st.System,
			"tickets", fmt.Sprint(tickets),
		)
	}

	return fmt.Errorf("system %s: %w: tickets %v", st.System, types.ErrReconciliationConflict, tickets)
}

// ensureTPSL moves SL/TP back to entry ± grid when they drifted past the
// tolerance.
func (e *Engine) ensureTPSL(ctx context.Context, p types.Position) error {
	sl, tp := strategy.EntryLevels(p.Side, p.OpenPrice, e.cfg.GridPips, e.inst)
	if !strategy.LevelsDrift(p, sl, tp, e.history.ToleranceValue()) {
		return nil
	}

	e.logger.Info("TPSL adjusted",
		"system", p.System,
		"ticket", p.Ticket,
		"sl_from", p.StopLoss,
		"sl_to", sl,
		"tp_from", p.TakeProfit,
		"tp_to", tp,
	)
	if err := e.exec.Modify(ctx, p.Ticket, sl, tp); err != nil {
		return fmt.Errorf("system %s: ensure tp/sl on %d: %w", p.System, p.Ticket, err)
	}
	return nil
}

// processHistory folds newly closed trades into every system.
func (e *Engine) processHistory(ctx context.Context) error {
	since := e.historySince()
	trades, err := e.venue.History(ctx, since)
	if err != nil {
		e.recorder.RecordError("history")
		return fmt.Errorf("query history since %s: %w", since, err)
	}

	var errs error
	for _, sys := range e.order {
		st := e.states[sys]
		classified, wm := e.history.Process(trades, sys, st.Watermark)
		for _, c := range classified {
			errs = multierr.Append(errs, e.applyClosed(ctx, st, c))
		}
		st.Watermark = wm
	}
	return errs
}

// historySince returns the oldest watermark across systems.
func (e *Engine) historySince() (since time.Time) {
	for i, sys := range e.order {
		t := e.states[sys].Watermark.Time
		if i == 0 || t.Before(since) {
			since = t
		}
	}
	return since
}

// applyClosed updates the progression and next direction from one closed
// trade and journals it.
func (e *Engine) applyClosed(ctx context.Context, st *strategy.SystemState, c history.Classified) error {
	t := c.Trade
	e.recorder.RecordClosedTrade(st.System, c.Reason.String(), t.Profit)

	reason := c.Reason
	if e.duplicates[t.Ticket] {
		delete(e.duplicates, t.Ticket)
		reason = history.ReasonOther
	}

	switch reason {
	case history.ReasonTP:
		st.Progression.OnWin()
		if t.Side != types.SideFlat {
			st.NextSide = t.Side.Opposite()
		}
		e.logger.Info("TP_REVERSE",
			"system", st.System,
			"ticket", t.Ticket,
			"closed_side", t.Side,
			"next_side", st.NextSide,
			"profit", t.Profit,
			"sequence", st.Progression.Sequence(),
		)
	case history.ReasonSL:
		st.Progression.OnLoss()
		if t.Side != types.SideFlat {
			st.NextSide = t.Side
		}
		e.logger.Info("SL_REENTRY",
			"system", st.System,
			"ticket", t.Ticket,
			"closed_side", t.Side,
			"next_side", st.NextSide,
			"profit", t.Profit,
			"sequence", st.Progression.Sequence(),
		)
	default:
		e.logger.Debug("closed trade leaves progression unchanged",
			"system", st.System,
			"ticket", t.Ticket,
			"type", t.Type,
		)
	}
	e.recorder.RecordRiskFactor(st.System, st.Progression.NextFactor())

	if reason != history.ReasonOther {
		e.alert(ctx, alerting.EventTradeClosed, "Trade closed",
			"system", st.System,
			"ticket", t.Ticket,
			"reason", c.Reason.String(),
			"profit", t.Profit.StringFixed(2),
		)
	}

	if e.repo == nil {
		return nil
	}
	if err := e.repo.SaveClosedTrade(ctx, persistence.NewTradeRecord(c, e.now())); err != nil {
		return fmt.Errorf("system %s: journal trade %d: %w", st.System, t.Ticket, err)
	}
	return nil
}

// persist saves every system state.
func (e *Engine) persist(ctx context.Context) error {
	now := e.now()

	var errs error
	for _, sys := range e.order {
		st := e.states[sys]
		st.UpdatedAt = now
		e.recorder.RecordHalted(sys, st.Halted)

		if e.repo == nil {
			continue
		}
		if err := e.repo.SaveSystemState(ctx, st.Clone()); err != nil {
			e.recorder.RecordError("persist")
			errs = multierr.Append(errs, fmt.Errorf("system %s: save state: %w", sys, err))
		}
	}
	return errs
}
