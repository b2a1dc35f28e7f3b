package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tathienbao/ocogrid/internal/types"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestGate_MaxSpreadZeroNeverDenies(t *testing.T) {
	g := NewGate(GateConfig{SpreadCheck: true, MaxSpreadPips: decimal.Zero}, nil)

	for _, spread := range []string{"0", "2", "50", "1000"} {
		dec := g.CanPlaceOrder(OrderRequest{System: "A", SpreadPips: d(spread)})
		assert.True(t, dec.Allowed, "spread %s", spread)
	}
}

func TestGate_SpreadExceeded(t *testing.T) {
	g := NewGate(GateConfig{SpreadCheck: true, MaxSpreadPips: d("2")}, nil)

	dec := g.CanPlaceOrder(OrderRequest{System: "A", SpreadPips: d("2.5")})
	require.False(t, dec.Allowed)
	assert.ErrorIs(t, dec.Reason, types.ErrSpreadExceeded)

	err := dec.Err("A")
	assert.True(t, types.IsGateDenied(err))
	assert.ErrorIs(t, err, types.ErrSpreadExceeded)

	assert.True(t, g.CanPlaceOrder(OrderRequest{System: "A", SpreadPips: d("2")}).Allowed)
}

func TestGate_SpreadCheckDisabled(t *testing.T) {
	g := NewGate(GateConfig{SpreadCheck: false, MaxSpreadPips: d("2")}, nil)

	assert.True(t, g.CanPlaceOrder(OrderRequest{SpreadPips: d("10")}).Allowed)
}

func TestGate_DistanceBandPerPath(t *testing.T) {
	cfg := GateConfig{
		MarketDistanceBand: true,
		ShadowDistanceBand: false,
		MinDistancePips:    d("10"),
	}
	g := NewGate(cfg, nil)
	close := OrderRequest{System: "A", DistancePips: d("3"), HasDistance: true}

	market := g.CanPlaceOrder(close)
	require.False(t, market.Allowed)
	assert.ErrorIs(t, market.Reason, types.ErrDistanceBandViolation)

	close.Shadow = true
	assert.True(t, g.CanPlaceOrder(close).Allowed)

	cfg.MarketDistanceBand, cfg.ShadowDistanceBand = false, true
	g = NewGate(cfg, nil)
	assert.False(t, g.CanPlaceOrder(close).Allowed)
	close.Shadow = false
	assert.True(t, g.CanPlaceOrder(close).Allowed)
}

func TestGate_DistanceBandBounds(t *testing.T) {
	g := NewGate(GateConfig{
		MarketDistanceBand: true,
		MinDistancePips:    d("10"),
		MaxDistancePips:    d("100"),
	}, nil)

	tests := []struct {
		name    string
		dist    string
		has     bool
		allowed bool
	}{
		{"no same-direction position", "0", false, true},
		{"too close", "9.9", true, false},
		{"at minimum", "10", true, true},
		{"inside", "50", true, true},
		{"at maximum", "100", true, true},
		{"too far", "100.1", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := g.CanPlaceOrder(OrderRequest{DistancePips: d(tt.dist), HasDistance: tt.has})
			assert.Equal(t, tt.allowed, dec.Allowed)
			if !tt.allowed {
				assert.ErrorIs(t, dec.Reason, types.ErrDistanceBandViolation)
			}
		})
	}
}

func TestGate_PositionExists(t *testing.T) {
	g := NewGate(GateConfig{}, nil)

	dec := g.CanPlaceOrder(OrderRequest{System: "A", SystemHasPosition: true})
	require.False(t, dec.Allowed)
	assert.ErrorIs(t, dec.Reason, types.ErrPositionExists)
}

func TestGate_ReasonsAreDistinct(t *testing.T) {
	g := NewGate(GateConfig{
		SpreadCheck:        true,
		MaxSpreadPips:      d("1"),
		MarketDistanceBand: true,
		MinDistancePips:    d("10"),
	}, nil)

	spread := g.CanPlaceOrder(OrderRequest{SpreadPips: d("5"), DistancePips: d("1"), HasDistance: true})
	band := g.CanPlaceOrder(OrderRequest{SpreadPips: d("0.5"), DistancePips: d("1"), HasDistance: true})

	assert.ErrorIs(t, spread.Reason, types.ErrSpreadExceeded)
	assert.ErrorIs(t, band.Reason, types.ErrDistanceBandViolation)
	assert.NotErrorIs(t, band.Reason, types.ErrSpreadExceeded)
}

func TestDecision_ErrNilWhenAllowed(t *testing.T) {
	assert.NoError(t, Decision{Allowed: true}.Err("A"))
}
