package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/tathienbao/ocogrid/internal/alerting"
	"github.com/tathienbao/ocogrid/internal/risk"
	"github.com/tathienbao/ocogrid/internal/strategy"
	"github.com/tathienbao/ocogrid/internal/types"
	"go.uber.org/multierr"
)

// Initialize restores persisted state, collapses duplicate positions and
// recomputes every lifecycle from the retained positions. It runs once before
// the first cycle. Failures closing duplicates or placing initial entries are
// returned but leave the engine initialized.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return nil
	}

	if err := e.loadStates(ctx); err != nil {
		return err
	}
	e.venueUp = e.venue.IsConnected()

	snap, err := e.takeSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("startup snapshot: %w", err)
	}

	rec := strategy.ReconcileDuplicates(snap.positions)
	errs := e.closeDuplicates(ctx, rec.ToClose)

	retained := make(map[string]types.Position, len(rec.Retained))
	for _, p := range rec.Retained {
		retained[p.System] = p
	}
	snap.positions = rec.Retained
	snap.bySystem = strategy.BySystem(rec.Retained)

	for _, sys := range e.order {
		st := e.states[sys]
		p, ok := retained[sys]
		if ok {
			st.Track(p.Ticket)
		} else {
			st.Track(0)
		}
		e.recorder.RecordLifecycle(sys, int(st.Lifecycle))
		e.recorder.RecordRiskFactor(sys, st.Progression.NextFactor())

		e.logger.Info("system restored",
			"system", sys,
			"lifecycle", st.Lifecycle,
			"position", st.Position,
			"next_side", st.NextSide,
			"sequence", st.Progression.Sequence(),
			"watermark", st.Watermark.Time,
		)
	}

	// Trades that closed while we were down decide the next direction.
	errs = multierr.Append(errs, e.processHistory(ctx))

	if e.cfg.InitialEntry {
		for _, sys := range e.order {
			st := e.states[sys]
			if _, ok := retained[sys]; ok || len(snap.ordersBySystem[sys]) > 0 || st.Pair.Active() {
				continue
			}
			if err := e.enterMarket(ctx, st, snap); err != nil && !types.IsGateDenied(err) {
				errs = multierr.Append(errs, err)
			}
		}
	}

	e.initialized = true
	errs = multierr.Append(errs, e.persist(ctx))

	e.logger.Info("engine initialized",
		"systems", len(e.order),
		"positions", len(rec.Retained),
		"duplicates", len(rec.ToClose),
	)
	return errs
}

// loadStates replaces the fresh states with persisted ones. A system without
// saved state starts its watermark HistoryLookback before now.
func (e *Engine) loadStates(ctx context.Context) error {
	now := e.now()

	for _, sys := range e.order {
		st := e.states[sys]

		if e.repo != nil {
			saved, err := e.repo.GetSystemState(ctx, sys)
			switch {
			case err == nil:
				initial := st.NextSide
				st = saved
				st.Halted = false
				if st.Progression == nil {
					st.Progression = risk.NewProgression()
				}
				if st.NextSide == types.SideFlat {
					st.NextSide = initial
				}
				e.states[sys] = st
			case errors.Is(err, types.ErrStateNotFound):
				// Fresh system.
			default:
				return fmt.Errorf("load state %s: %w", sys, err)
			}
		}

		if st.Watermark.Time.IsZero() {
			st.Watermark.Time = now.Add(-e.cfg.HistoryLookback)
		}
	}
	return nil
}

// closeDuplicates closes every position the reconciler did not retain.
func (e *Engine) closeDuplicates(ctx context.Context, dups []types.Position) error {
	var errs error
	closed := make(map[string]int)

	for _, p := range dups {
		if err := e.exec.Close(ctx, p.Ticket, p.Lots); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("system %s: close duplicate %d: %w", p.System, p.Ticket, err))
			continue
		}
		closed[p.System]++
		e.duplicates[p.Ticket] = true
		e.recorder.RecordDuplicateClosed(p.System)
		e.logger.Warn("DUPLICATE_CLOSED",
			"system", p.System,
			"ticket", p.Ticket,
			"open_time", p.OpenTime,
			"lots", p.Lots,
		)
	}

	for _, sys := range e.order {
		if n := closed[sys]; n > 0 {
			e.alert(ctx, alerting.EventDuplicatesClosed, "Duplicate positions closed on startup",
				"system", sys,
				"count", n,
			)
		}
	}
	return errs
}

// enterMarket opens a market position in the system's next direction.
func (e *Engine) enterMarket(ctx context.Context, st *strategy.SystemState, snap *snapshot) error {
	side := st.NextSide
	price := snap.quote.EntryPrice(side)

	if err := e.checkGate(st.System, side, price, snap.quote, snap.positions, false); err != nil {
		return err
	}

	lots, err := e.lots(st)
	if err != nil {
		return err
	}

	sl, tp := strategy.EntryLevels(side, price, e.cfg.GridPips, e.inst)
	spec := types.OrderSpec{
		Type:       types.OrderTypeMarket,
		Side:       side,
		Lots:       lots,
		Price:      price,
		StopLoss:   sl,
		TakeProfit: tp,
		Comment:    e.codec.Encode(st.System, st.Progression.Sequence()),
		Magic:      e.cfg.Magic,
	}

	ticket, err := e.submit(ctx, st.System, spec, snap.positions, false)
	if err != nil {
		return err
	}

	e.logger.Info("initial entry",
		"system", st.System,
		"ticket", ticket,
		"side", side,
		"price", price,
		"lots", lots,
		"sl", sl,
		"tp", tp,
	)
	return nil
}
