package strategy

import (
	"github.com/shopspring/decimal"
	"github.com/tathienbao/ocogrid/internal/types"
)

// OCOAction is what the detector decided for a system this cycle.
type OCOAction int

const (
	OCONone        OCOAction = iota
	OCOFilled                // A leg became a position; cancel the other
	OCOInvalidated           // A leg vanished without a fill
	OCOSuppressed            // A recovered or foreign position exists
	OCOReprice               // Reference price drifted past the threshold
	OCOOrphans               // Pending orders with no tracked pair
)

func (a OCOAction) String() string {
	switch a {
	case OCOFilled:
		return "FILLED"
	case OCOInvalidated:
		return "INVALIDATED"
	case OCOSuppressed:
		return "SUPPRESSED"
	case OCOReprice:
		return "REPRICE"
	case OCOOrphans:
		return "ORPHANS"
	default:
		return "NONE"
	}
}

// OCOInput is a snapshot of one system for detection.
type OCOInput struct {
	Pair        OCOPair
	Positions   []types.Position     // This system's live positions
	Orders      []types.PendingOrder // This system's pending orders
	Quote       types.Quote
	RepricePips decimal.Decimal // Zero disables repricing
	Instrument  types.Instrument
	Lifecycle   Lifecycle // After this cycle's observation
}

// OCODecision lists the cancellations to perform. Cancellations are never
// gated.
type OCODecision struct {
	Action       OCOAction
	FilledTicket int64
	Cancel       []int64
	ClearPair    bool
}

// DetectOCO inspects one system and decides how to treat its pair.
func DetectOCO(in OCOInput) OCODecision {
	pending := make(map[int64]bool, len(in.Orders))
	for _, o := range in.Orders {
		pending[o.Ticket] = true
	}

	if !in.Pair.Active() {
		if len(in.Orders) == 0 {
			return OCODecision{Action: OCONone}
		}
		dec := OCODecision{Action: OCOOrphans}
		for _, o := range in.Orders {
			dec.Cancel = append(dec.Cancel, o.Ticket)
		}
		return dec
	}

	cancelLegs := func(skip int64) []int64 {
		var out []int64
		for _, t := range []int64{in.Pair.MarketTicket, in.Pair.LimitTicket} {
			if t != 0 && t != skip && pending[t] {
				out = append(out, t)
			}
		}
		return out
	}

	for _, p := range in.Positions {
		if in.Pair.Has(p.Ticket) {
			return OCODecision{
				Action:       OCOFilled,
				FilledTicket: p.Ticket,
				Cancel:       cancelLegs(p.Ticket),
				ClearPair:    true,
			}
		}
	}

	// A position that went missing and came back is not a fill of this pair.
	if in.Lifecycle == LifecycleMissingRecovered || len(in.Positions) > 0 {
		return OCODecision{
			Action:    OCOSuppressed,
			Cancel:    cancelLegs(0),
			ClearPair: true,
		}
	}

	marketLive := in.Pair.MarketTicket != 0 && pending[in.Pair.MarketTicket]
	limitLive := in.Pair.LimitTicket != 0 && pending[in.Pair.LimitTicket]
	if !marketLive || !limitLive {
		return OCODecision{
			Action:    OCOInvalidated,
			Cancel:    cancelLegs(0),
			ClearPair: true,
		}
	}

	if in.RepricePips.GreaterThan(decimal.Zero) {
		ref := in.Quote.EntryPrice(in.Pair.Side)
		drift := in.Instrument.PriceToPips(ref.Sub(in.Pair.RefPrice).Abs())
		if drift.GreaterThanOrEqual(in.RepricePips) {
			return OCODecision{
				Action:    OCOReprice,
				Cancel:    cancelLegs(0),
				ClearPair: true,
			}
		}
	}

	return OCODecision{Action: OCONone}
}
