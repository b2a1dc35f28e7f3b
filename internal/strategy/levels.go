package strategy

import (
	"github.com/shopspring/decimal"
	"github.com/tathienbao/ocogrid/internal/types"
)

// EntryLevels returns stop-loss and take-profit for an entry: entry ∓ grid for
// buys, mirrored for sells. Levels are never derived from the quote or the
// broker minimum stop distance.
func EntryLevels(side types.Side, entry, gridPips decimal.Decimal, inst types.Instrument) (sl, tp decimal.Decimal) {
	grid := inst.PipsToPrice(gridPips)
	if side == types.SideSell {
		return inst.NormalizePrice(entry.Add(grid)), inst.NormalizePrice(entry.Sub(grid))
	}
	return inst.NormalizePrice(entry.Sub(grid)), inst.NormalizePrice(entry.Add(grid))
}

// DistanceToPositions returns the smallest distance in pips from price to any
// position on side. ok is false when no such position exists.
func DistanceToPositions(price decimal.Decimal, side types.Side, positions []types.Position, inst types.Instrument) (dist decimal.Decimal, ok bool) {
	for _, p := range positions {
		if p.Side != side {
			continue
		}
		pips := inst.PriceToPips(price.Sub(p.OpenPrice).Abs())
		if !ok || pips.LessThan(dist) {
			dist = pips
			ok = true
		}
	}
	return dist, ok
}

// SpreadPips returns the quote spread in pips.
func SpreadPips(q types.Quote, inst types.Instrument) decimal.Decimal {
	return inst.PriceToPips(q.Spread())
}

// Leg is one planned pending order of an OCO pair.
type Leg struct {
	Type       types.OrderType
	Side       types.Side
	Price      decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	Shadow     bool
}

// PairPlan holds both legs of a pair.
type PairPlan struct {
	Side     types.Side
	RefPrice decimal.Decimal
	Market   Leg // Stop order, gated on the market path
	Limit    Leg // Limit order, gated on the shadow path
}

// PlanPair lays out a pair in direction side around the current quote. The
// reference price is the ask for buys and the bid for sells. The market leg
// sits offset pips beyond it in the trade direction, the limit leg offset
// pips against it.
func PlanPair(side types.Side, q types.Quote, offsetPips, gridPips decimal.Decimal, inst types.Instrument) PairPlan {
	ref := q.EntryPrice(side)
	offset := inst.PipsToPrice(offsetPips)

	var stopPrice, limitPrice decimal.Decimal
	var stopType, limitType types.OrderType
	if side == types.SideSell {
		stopPrice, limitPrice = ref.Sub(offset), ref.Add(offset)
		stopType, limitType = types.OrderTypeSellStop, types.OrderTypeSellLimit
	} else {
		stopPrice, limitPrice = ref.Add(offset), ref.Sub(offset)
		stopType, limitType = types.OrderTypeBuyStop, types.OrderTypeBuyLimit
	}

	stopPrice = inst.NormalizePrice(stopPrice)
	limitPrice = inst.NormalizePrice(limitPrice)

	plan := PairPlan{Side: side, RefPrice: ref}
	plan.Market = Leg{Type: stopType, Side: side, Price: stopPrice}
	plan.Market.StopLoss, plan.Market.TakeProfit = EntryLevels(side, stopPrice, gridPips, inst)
	plan.Limit = Leg{Type: limitType, Side: side, Price: limitPrice, Shadow: true}
	plan.Limit.StopLoss, plan.Limit.TakeProfit = EntryLevels(side, limitPrice, gridPips, inst)
	return plan
}

// LevelsDrift reports whether a position's SL or TP is off the desired levels
// by more than tolerance.
func LevelsDrift(p types.Position, wantSL, wantTP, tolerance decimal.Decimal) bool {
	return p.StopLoss.Sub(wantSL).Abs().GreaterThan(tolerance) ||
		p.TakeProfit.Sub(wantTP).Abs().GreaterThan(tolerance)
}
