package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
)

// TestSide_String tests Side string conversion.
func TestSide_String(t *testing.T) {
	tests := []struct {
		side Side
		want string
	}{
		{SideBuy, "BUY"},
		{SideSell, "SELL"},
		{SideFlat, "FLAT"},
		{Side(99), "FLAT"}, // Unknown defaults to FLAT
	}

	for _, tt := range tests {
		got := tt.side.String()
		if got != tt.want {
			t.Errorf("Side(%d).String() = %s, want %s", tt.side, got, tt.want)
		}
	}
}

// TestSide_Opposite tests direction flip.
func TestSide_Opposite(t *testing.T) {
	tests := []struct {
		side Side
		want Side
	}{
		{SideBuy, SideSell},
		{SideSell, SideBuy},
		{SideFlat, SideFlat},
	}

	for _, tt := range tests {
		got := tt.side.Opposite()
		if got != tt.want {
			t.Errorf("Side(%d).Opposite() = %d, want %d", tt.side, got, tt.want)
		}
	}
}

func TestParseSide(t *testing.T) {
	tests := []struct {
		in   string
		want Side
		ok   bool
	}{
		{"buy", SideBuy, true},
		{"SELL", SideSell, true},
		{"long", SideBuy, true},
		{"sideways", SideFlat, false},
	}

	for _, tt := range tests {
		got, ok := ParseSide(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseSide(%q) = %v,%v want %v,%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestOrderType_Side(t *testing.T) {
	tests := []struct {
		typ     OrderType
		side    Side
		pending bool
		limit   bool
	}{
		{OrderTypeMarket, SideFlat, false, false},
		{OrderTypeBuyLimit, SideBuy, true, true},
		{OrderTypeSellLimit, SideSell, true, true},
		{OrderTypeBuyStop, SideBuy, true, false},
		{OrderTypeSellStop, SideSell, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			if got := tt.typ.Side(); got != tt.side {
				t.Errorf("Side() = %v, want %v", got, tt.side)
			}
			if got := tt.typ.IsPending(); got != tt.pending {
				t.Errorf("IsPending() = %v, want %v", got, tt.pending)
			}
			if got := tt.typ.IsLimit(); got != tt.limit {
				t.Errorf("IsLimit() = %v, want %v", got, tt.limit)
			}
		})
	}
}

func TestOrderSpec_EffectiveSide(t *testing.T) {
	market := OrderSpec{Type: OrderTypeMarket, Side: SideSell}
	if market.EffectiveSide() != SideSell {
		t.Errorf("market EffectiveSide() = %v, want SELL", market.EffectiveSide())
	}

	pending := OrderSpec{Type: OrderTypeBuyStop, Side: SideSell}
	if pending.EffectiveSide() != SideBuy {
		t.Errorf("pending EffectiveSide() = %v, want BUY", pending.EffectiveSide())
	}
}

// TestInstrument_Pip tests pip size for fractional and plain quotes.
func TestInstrument_Pip(t *testing.T) {
	tests := []struct {
		digits int32
		point  string
		pip    string
	}{
		{5, "0.00001", "0.0001"},
		{4, "0.0001", "0.0001"},
		{3, "0.001", "0.01"},
		{2, "0.01", "0.01"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("digits_%d", tt.digits), func(t *testing.T) {
			inst := Instrument{Digits: tt.digits}
			if !inst.Point().Equal(decimal.RequireFromString(tt.point)) {
				t.Errorf("Point() = %s, want %s", inst.Point(), tt.point)
			}
			if !inst.Pip().Equal(decimal.RequireFromString(tt.pip)) {
				t.Errorf("Pip() = %s, want %s", inst.Pip(), tt.pip)
			}
		})
	}
}

func TestInstrument_Conversions(t *testing.T) {
	inst := InstrumentEURUSD

	price := inst.PipsToPrice(decimal.NewFromInt(20))
	if !price.Equal(decimal.RequireFromString("0.002")) {
		t.Errorf("PipsToPrice(20) = %s, want 0.002", price)
	}

	pips := inst.PriceToPips(decimal.RequireFromString("0.0015"))
	if !pips.Equal(decimal.RequireFromString("15")) {
		t.Errorf("PriceToPips(0.0015) = %s, want 15", pips)
	}

	if got := inst.PipsToPoints(decimal.RequireFromString("1.5")); got != 15 {
		t.Errorf("PipsToPoints(1.5) = %d, want 15", got)
	}

	norm := inst.NormalizePrice(decimal.RequireFromString("1.123456"))
	if !norm.Equal(decimal.RequireFromString("1.12346")) {
		t.Errorf("NormalizePrice() = %s, want 1.12346", norm)
	}
}

func TestQuote_Prices(t *testing.T) {
	q := Quote{
		Bid: decimal.RequireFromString("1.10000"),
		Ask: decimal.RequireFromString("1.10020"),
	}

	if !q.Spread().Equal(decimal.RequireFromString("0.0002")) {
		t.Errorf("Spread() = %s", q.Spread())
	}
	if !q.EntryPrice(SideBuy).Equal(q.Ask) || !q.EntryPrice(SideSell).Equal(q.Bid) {
		t.Error("EntryPrice should use ask for buys and bid for sells")
	}
	if !q.ExitPrice(SideBuy).Equal(q.Bid) || !q.ExitPrice(SideSell).Equal(q.Ask) {
		t.Error("ExitPrice should use bid for buys and ask for sells")
	}
}

// TestGetInstrument tests instrument lookup.
func TestGetInstrument(t *testing.T) {
	if _, ok := GetInstrument("EURUSD"); !ok {
		t.Error("expected EURUSD to be known")
	}
	if _, ok := GetInstrument("USDJPY"); !ok {
		t.Error("expected USDJPY to be known")
	}
	if _, ok := GetInstrument("XXX"); ok {
		t.Error("expected XXX to be unknown")
	}
}

func TestGateError(t *testing.T) {
	err := fmt.Errorf("place leg: %w", &GateError{Reason: ErrSpreadExceeded, System: "A", Detail: "3.0 > 2.0"})

	if !errors.Is(err, ErrSpreadExceeded) {
		t.Error("expected errors.Is(err, ErrSpreadExceeded)")
	}
	if errors.Is(err, ErrDistanceBandViolation) {
		t.Error("did not expect distance band reason")
	}
	if !IsGateDenied(err) {
		t.Error("expected IsGateDenied to be true")
	}
	if IsGateDenied(ErrSubmissionFailed) {
		t.Error("expected IsGateDenied to be false for submission errors")
	}
}
