// Package history folds closed trades from the venue history into per-system
// memory. It classifies each trade as take-profit, stop-loss or other and
// keeps a watermark so every trade is processed exactly once.
package history

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/ocogrid/internal/comment"
	"github.com/tathienbao/ocogrid/internal/types"
)

// Reason is the classified close reason.
type Reason int

const (
	ReasonOther Reason = iota
	ReasonTP
	ReasonSL
)

func (r Reason) String() string {
	switch r {
	case ReasonTP:
		return "TP"
	case ReasonSL:
		return "SL"
	default:
		return "OTHER"
	}
}

// ToleranceMode selects the price tolerance used to match TP/SL levels.
type ToleranceMode string

const (
	ToleranceHalfPip ToleranceMode = "half_pip"
	ToleranceFullPip ToleranceMode = "full_pip"
)

// Valid reports whether the mode is known.
func (m ToleranceMode) Valid() bool {
	return m == ToleranceHalfPip || m == ToleranceFullPip
}

// Tolerance returns the price tolerance for an instrument. Unknown modes use
// half a pip.
func Tolerance(inst types.Instrument, mode ToleranceMode) decimal.Decimal {
	if mode == ToleranceFullPip {
		return inst.Pip()
	}
	return inst.Pip().Div(decimal.NewFromInt(2))
}

// Watermark is the last processed close time plus the tickets processed at
// exactly that time.
type Watermark struct {
	Time    time.Time
	Tickets []int64
}

// Seen reports whether ticket was processed at the watermark time.
func (w Watermark) Seen(ticket int64) bool {
	for _, t := range w.Tickets {
		if t == ticket {
			return true
		}
	}
	return false
}

// Clone returns a copy with its own ticket slice.
func (w Watermark) Clone() Watermark {
	out := Watermark{Time: w.Time}
	if len(w.Tickets) > 0 {
		out.Tickets = append([]int64(nil), w.Tickets...)
	}
	return out
}

// Classified is a closed trade attributed to a system.
type Classified struct {
	Trade      types.ClosedTrade
	System     string
	Reason     Reason
	Sequence   []int
	Identified bool // Comment decoded cleanly
}

// Processor scans history for one system at a time.
type Processor struct {
	codec     *comment.Codec
	tolerance decimal.Decimal
	logger    *slog.Logger
}

// NewProcessor creates a history processor.
func NewProcessor(codec *comment.Codec, inst types.Instrument, mode ToleranceMode, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		codec:     codec,
		tolerance: Tolerance(inst, mode),
		logger:    logger,
	}
}

// ToleranceValue returns the configured price tolerance.
func (p *Processor) ToleranceValue() decimal.Decimal {
	return p.tolerance
}

// Process classifies trades of system closed after wm and returns them in
// close order with the advanced watermark. Trades at the watermark time are
// skipped when their ticket was already processed, so re-running with the
// returned watermark emits nothing.
func (p *Processor) Process(trades []types.ClosedTrade, system string, wm Watermark) ([]Classified, Watermark) {
	mine := make([]types.ClosedTrade, 0, len(trades))
	for _, t := range trades {
		if p.codec.Matches(strings.TrimSpace(t.Comment), system) {
			mine = append(mine, t)
		}
	}

	sort.SliceStable(mine, func(i, j int) bool {
		if !mine[i].CloseTime.Equal(mine[j].CloseTime) {
			return mine[i].CloseTime.Before(mine[j].CloseTime)
		}
		return mine[i].Ticket < mine[j].Ticket
	})

	next := wm.Clone()
	var out []Classified

	for _, t := range mine {
		ct := t.CloseTime
		if ct.Before(wm.Time) {
			continue
		}
		if ct.Equal(wm.Time) && wm.Seen(t.Ticket) {
			continue
		}

		c := Classified{
			Trade:  t,
			System: system,
			Reason: p.EstimateReason(t),
		}

		id, err := p.codec.Decode(t.Comment)
		if err != nil {
			p.logger.Warn("closed trade has malformed identifier",
				"system", system,
				"ticket", t.Ticket,
				"comment", t.Comment,
				"err", err,
			)
		} else {
			c.Identified = true
			c.Sequence = id.Sequence
		}

		out = append(out, c)

		switch {
		case ct.After(next.Time):
			next = Watermark{Time: ct, Tickets: []int64{t.Ticket}}
		case ct.Equal(next.Time):
			if !next.Seen(t.Ticket) {
				next.Tickets = append(next.Tickets, t.Ticket)
			}
		}
	}

	return out, next
}

// EstimateReason classifies one trade using the processor tolerance.
func (p *Processor) EstimateReason(t types.ClosedTrade) Reason {
	return EstimateReason(t, p.tolerance, p.note(t.Comment))
}

// note returns the free text of a comment. For our own identifiers only a
// bracketed venue suffix counts; the payload may contain any letters.
func (p *Processor) note(c string) string {
	c = strings.TrimSpace(c)
	if !p.codec.Owned(c) {
		return c
	}
	if strings.HasSuffix(c, "]") {
		if i := strings.LastIndexByte(c, '['); i >= 0 {
			return c[i:]
		}
	}
	return ""
}

// EstimateReason classifies a closed trade.
//
// Order: TP level within tolerance, SL level within tolerance, "TP"/"SL" in
// note (any case), then direction of the close against the open. Deleted
// pending orders are always ReasonOther.
func EstimateReason(t types.ClosedTrade, tolerance decimal.Decimal, note string) Reason {
	if t.Type.IsPending() {
		return ReasonOther
	}

	if t.TakeProfit.GreaterThan(decimal.Zero) && t.ClosePrice.Sub(t.TakeProfit).Abs().LessThanOrEqual(tolerance) {
		return ReasonTP
	}
	if t.StopLoss.GreaterThan(decimal.Zero) && t.ClosePrice.Sub(t.StopLoss).Abs().LessThanOrEqual(tolerance) {
		return ReasonSL
	}

	upper := strings.ToUpper(note)
	if strings.Contains(upper, "TP") {
		return ReasonTP
	}
	if strings.Contains(upper, "SL") {
		return ReasonSL
	}

	switch t.Side {
	case types.SideBuy:
		if t.ClosePrice.GreaterThanOrEqual(t.OpenPrice) {
			return ReasonTP
		}
		return ReasonSL
	case types.SideSell:
		if t.ClosePrice.LessThanOrEqual(t.OpenPrice) {
			return ReasonTP
		}
		return ReasonSL
	default:
		return ReasonOther
	}
}
