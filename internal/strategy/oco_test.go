package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tathienbao/ocogrid/internal/types"
)

func pending(tickets ...int64) []types.PendingOrder {
	out := make([]types.PendingOrder, len(tickets))
	for i, t := range tickets {
		out[i] = types.PendingOrder{Ticket: t, System: "A"}
	}
	return out
}

func basePair() OCOPair {
	return OCOPair{
		MarketTicket: 10,
		LimitTicket:  11,
		Side:         types.SideBuy,
		RefPrice:     d("1.10020"),
	}
}

func quote(bid, ask string) types.Quote {
	return types.Quote{Bid: d(bid), Ask: d(ask)}
}

func TestDetectOCO(t *testing.T) {
	tests := []struct {
		name      string
		pair      OCOPair
		positions []types.Position
		orders    []types.PendingOrder
		quote     types.Quote
		reprice   string
		lifecycle Lifecycle
		want      OCODecision
	}{
		{
			name:   "no pair no orders",
			orders: nil,
			want:   OCODecision{Action: OCONone},
		},
		{
			name:   "orphan orders without pair",
			orders: pending(5, 6),
			want:   OCODecision{Action: OCOOrphans, Cancel: []int64{5, 6}},
		},
		{
			name:      "market leg filled cancels limit",
			pair:      basePair(),
			positions: []types.Position{{Ticket: 10, System: "A"}},
			orders:    pending(11),
			want:      OCODecision{Action: OCOFilled, FilledTicket: 10, Cancel: []int64{11}, ClearPair: true},
		},
		{
			name:      "limit leg filled cancels market",
			pair:      basePair(),
			positions: []types.Position{{Ticket: 11, System: "A"}},
			orders:    pending(10),
			want:      OCODecision{Action: OCOFilled, FilledTicket: 11, Cancel: []int64{10}, ClearPair: true},
		},
		{
			name:      "filled with counterpart already gone",
			pair:      basePair(),
			positions: []types.Position{{Ticket: 10, System: "A"}},
			want:      OCODecision{Action: OCOFilled, FilledTicket: 10, ClearPair: true},
		},
		{
			name:      "foreign position suppresses pair",
			pair:      basePair(),
			positions: []types.Position{{Ticket: 99, System: "A"}},
			orders:    pending(10, 11),
			want:      OCODecision{Action: OCOSuppressed, Cancel: []int64{10, 11}, ClearPair: true},
		},
		{
			name:      "recovered position suppresses pair",
			pair:      basePair(),
			positions: []types.Position{{Ticket: 99, System: "A"}},
			orders:    pending(10, 11),
			lifecycle: LifecycleMissingRecovered,
			want:      OCODecision{Action: OCOSuppressed, Cancel: []int64{10, 11}, ClearPair: true},
		},
		{
			name:      "recovered lifecycle suppresses before positions are listed",
			pair:      basePair(),
			orders:    pending(10, 11),
			lifecycle: LifecycleMissingRecovered,
			want:      OCODecision{Action: OCOSuppressed, Cancel: []int64{10, 11}, ClearPair: true},
		},
		{
			name:      "leg fill on a recovered system is still a fill",
			pair:      basePair(),
			positions: []types.Position{{Ticket: 10, System: "A"}},
			orders:    pending(11),
			lifecycle: LifecycleMissingRecovered,
			want:      OCODecision{Action: OCOFilled, FilledTicket: 10, Cancel: []int64{11}, ClearPair: true},
		},
		{
			name:   "leg vanished without fill",
			pair:   basePair(),
			orders: pending(11),
			want:   OCODecision{Action: OCOInvalidated, Cancel: []int64{11}, ClearPair: true},
		},
		{
			name: "both legs vanished",
			pair: basePair(),
			want: OCODecision{Action: OCOInvalidated, ClearPair: true},
		},
		{
			name:    "both pending within threshold",
			pair:    basePair(),
			orders:  pending(10, 11),
			quote:   quote("1.10010", "1.10030"),
			reprice: "5",
			want:    OCODecision{Action: OCONone},
		},
		{
			name:    "drift reprices",
			pair:    basePair(),
			orders:  pending(10, 11),
			quote:   quote("1.10070", "1.10090"),
			reprice: "5",
			want:    OCODecision{Action: OCOReprice, Cancel: []int64{10, 11}, ClearPair: true},
		},
		{
			name:    "drift ignored when repricing disabled",
			pair:    basePair(),
			orders:  pending(10, 11),
			quote:   quote("1.20000", "1.20020"),
			reprice: "0",
			want:    OCODecision{Action: OCONone},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reprice := d("0")
			if tt.reprice != "" {
				reprice = d(tt.reprice)
			}
			got := DetectOCO(OCOInput{
				Pair:        tt.pair,
				Positions:   tt.positions,
				Orders:      tt.orders,
				Quote:       tt.quote,
				RepricePips: reprice,
				Instrument:  types.InstrumentEURUSD,
				Lifecycle:   tt.lifecycle,
			})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOCOAction_String(t *testing.T) {
	assert.Equal(t, "FILLED", OCOFilled.String())
	assert.Equal(t, "NONE", OCOAction(42).String())
}
