package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/ocogrid/internal/alerting"
	"github.com/tathienbao/ocogrid/internal/execution"
	"github.com/tathienbao/ocogrid/internal/strategy"
	"github.com/tathienbao/ocogrid/internal/types"
	"go.uber.org/multierr"
)

// handleOCO performs the cancellations the detector decided on and returns
// how many of the system's pending orders are still live. Cancellations are
// never gated.
func (e *Engine) handleOCO(ctx context.Context, st *strategy.SystemState, dec strategy.OCODecision, orders []types.PendingOrder) (int, error) {
	if dec.Action == strategy.OCONone {
		return len(orders), nil
	}

	e.recorder.RecordOCO(st.System, dec.Action.String())

	switch dec.Action {
	case strategy.OCOFilled:
		e.logger.Info("OCO_FILLED",
			"system", st.System,
			"ticket", dec.FilledTicket,
			"other", st.Pair.Other(dec.FilledTicket),
		)
	case strategy.OCOInvalidated:
		e.logger.Info("OCO_INVALIDATED",
			"system", st.System,
			"market", st.Pair.MarketTicket,
			"limit", st.Pair.LimitTicket,
		)
	case strategy.OCOSuppressed:
		e.logger.Info("REENTRY_SUPPRESSED",
			"system", st.System,
			"lifecycle", st.Lifecycle,
			"market", st.Pair.MarketTicket,
			"limit", st.Pair.LimitTicket,
		)
	case strategy.OCOReprice:
		e.logger.Info("OCO_REPRICE",
			"system", st.System,
			"ref", st.Pair.RefPrice,
			"threshold_pips", e.cfg.RepricePips,
		)
	case strategy.OCOOrphans:
		e.logger.Warn("untracked pending orders",
			"system", st.System,
			"tickets", dec.Cancel,
		)
	}

	var errs error
	cancelled := make(map[int64]bool, len(dec.Cancel))
	for _, ticket := range dec.Cancel {
		if err := e.exec.Cancel(ctx, ticket); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("system %s: cancel %d: %w", st.System, ticket, err))
			continue
		}
		cancelled[ticket] = true
		e.logger.Info("OCO_CANCEL",
			"system", st.System,
			"ticket", ticket,
			"action", dec.Action,
		)
	}

	if dec.ClearPair {
		st.Pair = strategy.OCOPair{}
	}

	remaining := 0
	for _, o := range orders {
		if !cancelled[o.Ticket] {
			remaining++
		}
	}
	return remaining, errs
}

// establishPair places both legs of a new pair in the system's next
// direction. Both legs pass the gate before anything is submitted; if the
// second submission fails the first leg is cancelled again.
func (e *Engine) establishPair(ctx context.Context, st *strategy.SystemState, snap *snapshot) error {
	plan := strategy.PlanPair(st.NextSide, snap.quote, e.cfg.OCOOffsetPips, e.cfg.GridPips, e.inst)

	if !st.LastRef.IsZero() && !plan.RefPrice.Equal(st.LastRef) {
		e.logger.Debug("entry levels recomputed",
			"system", st.System,
			"ref_from", st.LastRef,
			"ref_to", plan.RefPrice,
		)
	}

	for _, leg := range []strategy.Leg{plan.Market, plan.Limit} {
		if err := e.checkGate(st.System, leg.Side, leg.Price, snap.quote, snap.positions, leg.Shadow); err != nil {
			return err
		}
	}

	lots, err := e.lots(st)
	if err != nil {
		return err
	}
	label := e.codec.Encode(st.System, st.Progression.Sequence())

	market, err := e.submitLeg(ctx, st.System, plan.Market, lots, label, snap.positions)
	if err != nil {
		return err
	}
	limit, err := e.submitLeg(ctx, st.System, plan.Limit, lots, label, snap.positions)
	if err != nil {
		if cerr := e.exec.Cancel(ctx, market); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("system %s: cancel lone leg %d: %w", st.System, market, cerr))
		}
		return err
	}

	st.Pair = strategy.OCOPair{
		MarketTicket: market,
		LimitTicket:  limit,
		Side:         plan.Side,
		RefPrice:     plan.RefPrice,
		SetAt:        e.now(),
	}
	st.LastRef = plan.RefPrice

	e.logger.Info("OCO pair placed",
		"system", st.System,
		"side", plan.Side,
		"ref", plan.RefPrice,
		"market", market,
		"market_price", plan.Market.Price,
		"limit", limit,
		"limit_price", plan.Limit.Price,
		"lots", lots,
		"comment", label,
	)
	return nil
}

// lots sizes the next order from the system's progression.
func (e *Engine) lots(st *strategy.SystemState) (decimal.Decimal, error) {
	factor := st.Progression.NextFactor()
	lots := e.sizer.Calculate(factor)
	e.recorder.RecordRiskFactor(st.System, factor)
	if !lots.GreaterThan(decimal.Zero) {
		return lots, fmt.Errorf("system %s: %w: factor %s gives %s lots", st.System, types.ErrInvalidOrderSize, factor, lots)
	}
	return lots, nil
}

// submitLeg submits one pending leg with post-requote revalidation.
func (e *Engine) submitLeg(ctx context.Context, system string, leg strategy.Leg, lots decimal.Decimal, label string, positions []types.Position) (int64, error) {
	spec := types.OrderSpec{
		Type:       leg.Type,
		Side:       leg.Side,
		Lots:       lots,
		Price:      leg.Price,
		StopLoss:   leg.StopLoss,
		TakeProfit: leg.TakeProfit,
		Comment:    label,
		Magic:      e.cfg.Magic,
	}
	return e.submit(ctx, system, spec, positions, leg.Shadow)
}

// submit sends spec through the retry executor and records the outcome.
func (e *Engine) submit(ctx context.Context, system string, spec types.OrderSpec, positions []types.Position, shadow bool) (int64, error) {
	orderType := spec.Type.String()

	start := e.now()
	res, err := e.exec.Submit(ctx, spec, e.revalidator(system, positions, shadow))
	e.recorder.RecordOrderLatency(e.now().Sub(start))
	e.recorder.RecordOrderAttempts(res.Attempts)

	if err == nil {
		e.recorder.RecordOrder(system, orderType, "placed")
		return res.Ticket, nil
	}

	switch {
	case types.IsGateDenied(err):
		e.recorder.RecordOrder(system, orderType, "denied")
		e.logger.Info("order withdrawn after requote", "system", system, "type", orderType, "err", err)
	case errors.Is(err, types.ErrSubmissionIndeterminate):
		e.recorder.RecordOrder(system, orderType, "indeterminate")
		e.alert(ctx, alerting.EventSubmissionIndeterminate, "Order outcome unknown",
			"system", system,
			"type", orderType,
			"comment", spec.Comment,
			"error", err.Error(),
		)
	default:
		e.recorder.RecordOrder(system, orderType, "failed")
		e.alert(ctx, alerting.EventSubmissionFailed, "Order submission failed",
			"system", system,
			"type", orderType,
			"attempts", res.Attempts,
			"error", err.Error(),
		)
	}
	return 0, fmt.Errorf("system %s: submit %s: %w", system, orderType, err)
}

// revalidator re-runs the gate after a requote. Market orders get SL/TP
// recomputed from the refreshed price first.
func (e *Engine) revalidator(system string, positions []types.Position, shadow bool) execution.Revalidator {
	return func(_ context.Context, spec *types.OrderSpec, q types.Quote) error {
		side := spec.EffectiveSide()
		if spec.Type == types.OrderTypeMarket {
			spec.StopLoss, spec.TakeProfit = strategy.EntryLevels(side, spec.Price, e.cfg.GridPips, e.inst)
		}
		return e.checkGate(system, side, spec.Price, q, positions, shadow)
	}
}

// checkGate evaluates the entry gate and returns a *types.GateError on
// denial.
func (e *Engine) checkGate(system string, side types.Side, price decimal.Decimal, q types.Quote, positions []types.Position, shadow bool) error {
	req := strategy.OrderRequest{
		System:     system,
		Price:      price,
		IsBuy:      side == types.SideBuy,
		SpreadPips: strategy.SpreadPips(q, e.inst),
		Shadow:     shadow,
	}
	req.DistancePips, req.HasDistance = strategy.DistanceToPositions(price, side, positions, e.inst)
	for _, p := range positions {
		if p.System == system {
			req.SystemHasPosition = true
			break
		}
	}

	d := e.gate.CanPlaceOrder(req)
	if d.Allowed {
		return nil
	}

	e.recorder.RecordGateDenial(system, gateReason(d.Reason))
	e.logger.Info("entry denied",
		"system", system,
		"side", side,
		"price", price,
		"shadow", shadow,
		"reason", d.Reason,
		"detail", d.Detail,
	)
	return d.Err(system)
}

func gateReason(err error) string {
	switch {
	case errors.Is(err, types.ErrSpreadExceeded):
		return "spread"
	case errors.Is(err, types.ErrDistanceBandViolation):
		return "distance_band"
	case errors.Is(err, types.ErrPositionExists):
		return "position_exists"
	default:
		return "other"
	}
}
