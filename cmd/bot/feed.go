package main

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/ocogrid/internal/broker/paper"
	"github.com/tathienbao/ocogrid/internal/types"
)

// randomWalk drives the paper venue with a Gaussian random walk of the mid
// price and a fixed spread.
type randomWalk struct {
	venue  *paper.Venue
	inst   types.Instrument
	mid    decimal.Decimal
	spread decimal.Decimal
	step   decimal.Decimal // One standard deviation per tick, in price units
	rng    *rand.Rand
	logger *slog.Logger
}

func newRandomWalk(venue *paper.Venue, start, spreadPips, volatilityPips float64, seed uint64, logger *slog.Logger) *randomWalk {
	inst := venue.Instrument()
	return &randomWalk{
		venue:  venue,
		inst:   inst,
		mid:    inst.NormalizePrice(decimal.NewFromFloat(start)),
		spread: inst.PipsToPrice(decimal.NewFromFloat(spreadPips)),
		step:   inst.PipsToPrice(decimal.NewFromFloat(volatilityPips)),
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		logger: logger,
	}
}

// quote returns the quote around the current mid.
func (w *randomWalk) quote(now time.Time) types.Quote {
	half := w.spread.Div(decimal.NewFromInt(2))
	bid := w.inst.NormalizePrice(w.mid.Sub(half))
	return types.Quote{
		Bid:  bid,
		Ask:  w.inst.NormalizePrice(bid.Add(w.spread)),
		Time: now,
	}
}

// tick moves the mid price one step and publishes the quote.
func (w *randomWalk) tick(now time.Time) types.Quote {
	move := w.step.Mul(decimal.NewFromFloat(w.rng.NormFloat64()))
	next := w.inst.NormalizePrice(w.mid.Add(move))
	if next.GreaterThan(w.spread) {
		w.mid = next
	}

	q := w.quote(now)
	w.venue.SetQuote(q)
	return q
}

// run ticks until ctx is cancelled. The caller publishes the first quote.
func (w *randomWalk) run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	w.logger.Info("paper quote feed started", "symbol", w.inst.Symbol, "mid", w.mid, "every", every)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("paper quote feed stopped")
			return
		case now := <-ticker.C:
			q := w.tick(now)
			w.logger.Debug("quote", "bid", q.Bid, "ask", q.Ask)
		}
	}
}
