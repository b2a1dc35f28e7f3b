package engine

import (
	"context"
	"fmt"

	"github.com/tathienbao/ocogrid/internal/alerting"
	"github.com/tathienbao/ocogrid/internal/comment"
	"github.com/tathienbao/ocogrid/internal/persistence"
	"github.com/tathienbao/ocogrid/internal/strategy"
	"go.uber.org/multierr"
)

// Shutdown cancels every pending order and closes every position carrying
// one of our comments. A position whose quote refresh fails is skipped and
// the rest continue.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.logger.Info("closing all orders and positions")

	var errs error

	orders, err := e.venue.OpenOrders(ctx)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("open orders: %w", err))
	}
	for _, o := range orders {
		sys, _, ok := e.identify(o.Comment)
		if !ok {
			continue
		}
		if err := e.exec.Cancel(ctx, o.Ticket); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("system %s: cancel %d: %w", sys, o.Ticket, err))
			continue
		}
		e.logger.Info("order cancelled on shutdown", "system", sys, "ticket", o.Ticket)
	}

	positions, err := e.venue.OpenPositions(ctx)
	if err != nil {
		return multierr.Append(errs, fmt.Errorf("open positions: %w", err))
	}
	for _, p := range positions {
		sys, _, ok := e.identify(p.Comment)
		if !ok {
			continue
		}
		if _, err := e.venue.RefreshQuote(ctx); err != nil {
			e.logger.Warn("quote refresh failed, position left open",
				"system", sys,
				"ticket", p.Ticket,
				"err", err,
			)
			errs = multierr.Append(errs, fmt.Errorf("system %s: refresh before closing %d: %w", sys, p.Ticket, err))
			continue
		}
		if err := e.exec.Close(ctx, p.Ticket, p.Lots); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("system %s: close %d: %w", sys, p.Ticket, err))
			continue
		}
		e.logger.Info("position closed on shutdown", "system", sys, "ticket", p.Ticket, "lots", p.Lots)
	}

	for _, sys := range e.order {
		e.states[sys].Pair = strategy.OCOPair{}
	}
	if e.initialized {
		errs = multierr.Append(errs, e.persist(ctx))
	}

	return errs
}

// Summary builds a per-system session summary from the trade journal and the
// live states.
func (e *Engine) Summary(ctx context.Context) (alerting.SessionSummary, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var errs error
	systems := make([]alerting.SystemSummary, 0, len(e.order))

	for _, sys := range e.order {
		st := e.states[sys]

		stats := &persistence.TradeStats{System: sys}
		if e.repo != nil {
			s, err := e.repo.GetTradeStats(ctx, sys)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("system %s: trade stats: %w", sys, err))
			} else {
				stats = s
			}
		}

		systems = append(systems, alerting.NewSystemSummary(
			sys,
			st.Lifecycle.String(),
			stats.TakeProfit,
			stats.StopLoss,
			stats.Other,
			stats.TotalPL,
			st.Progression.NextFactor(),
			comment.FormatSequence(st.Progression.Sequence()),
			st.Halted,
		))
	}

	return alerting.NewSessionSummary(e.now(), systems), errs
}

// SendSummary delivers the session summary when the alerter supports it.
func (e *Engine) SendSummary(ctx context.Context) error {
	sender, ok := e.alerter.(alerting.SummarySender)
	if !ok {
		return nil
	}

	summary, err := e.Summary(ctx)
	if err != nil {
		e.logger.Warn("session summary incomplete", "err", err)
	}
	return sender.SendSessionSummary(ctx, summary)
}
