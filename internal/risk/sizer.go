package risk

import (
	"math"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/ocogrid/internal/types"
)

// LotLimits holds the broker lot grid and the optional user cap.
type LotLimits struct {
	Min     decimal.Decimal
	Max     decimal.Decimal // Broker maximum; zero means no upper bound
	Step    decimal.Decimal // Zero disables step rounding
	UserMax decimal.Decimal // Zero means no user cap
}

// HasUserMax reports whether a user cap is configured.
func (l LotLimits) HasUserMax() bool {
	return l.UserMax.GreaterThan(decimal.Zero)
}

// IsMultiple reports whether lot lies on the step grid within 1e-8.
func (l LotLimits) IsMultiple(lot decimal.Decimal) bool {
	if !l.Step.GreaterThan(decimal.Zero) {
		return true
	}
	ratio := lot.Div(l.Step)
	return ratio.Sub(ratio.RoundBank(0)).Abs().LessThan(decimal.New(1, -8))
}

// LimitsForInstrument builds limits from an instrument spec and a user cap.
func LimitsForInstrument(inst types.Instrument, userMax decimal.Decimal) LotLimits {
	return LotLimits{
		Min:     inst.MinLot,
		Max:     inst.MaxLot,
		Step:    inst.LotStep,
		UserMax: userMax,
	}
}

// LotSizer converts a risk factor into a broker-legal lot.
type LotSizer struct {
	base   decimal.Decimal
	limits LotLimits
}

// NewLotSizer creates a lot sizer for a base lot and limits.
func NewLotSizer(base decimal.Decimal, limits LotLimits) *LotSizer {
	return &LotSizer{
		base:   base,
		limits: limits,
	}
}

// Base returns the base lot.
func (s *LotSizer) Base() decimal.Decimal {
	return s.base
}

// Limits returns the configured limits.
func (s *LotSizer) Limits() LotLimits {
	return s.limits
}

// Calculate returns the lot for a risk factor.
//
// Steps:
//
//	candidate = min(base * factor, userMax)
//	lot       = clamp(roundToStep(candidate), min, max)
//	lot       = min(lot, floorToStep(userMax))
//
// When the user cap is below the broker minimum the user cap wins and the
// result can be zero, which callers treat as "no legal lot".
func (s *LotSizer) Calculate(factor decimal.Decimal) decimal.Decimal {
	candidate := s.base.Mul(factor)
	if s.limits.HasUserMax() && candidate.GreaterThan(s.limits.UserMax) {
		candidate = s.limits.UserMax
	}

	lot := NormalizeLot(candidate, s.limits)
	if s.limits.HasUserMax() {
		lot = ClipToUserMax(lot, s.limits)
	}
	return lot
}

// NormalizeLot rounds a candidate to the step grid (half to even) and clamps
// it to the broker range.
func NormalizeLot(candidate decimal.Decimal, l LotLimits) decimal.Decimal {
	lot := candidate
	digits := lotDigits(l.Step)

	if l.Step.GreaterThan(decimal.Zero) {
		lot = lot.Div(l.Step).RoundBank(0).Mul(l.Step).RoundBank(digits)
	}

	if lot.LessThan(l.Min) {
		lot = l.Min
	}
	if l.Max.GreaterThan(decimal.Zero) && lot.GreaterThan(l.Max) {
		lot = l.Max
	}

	if l.Step.GreaterThan(decimal.Zero) {
		lot = lot.RoundBank(digits)
	}
	return lot
}

// ClipToUserMax caps lot at the user maximum floored to the step grid.
func ClipToUserMax(lot decimal.Decimal, l LotLimits) decimal.Decimal {
	if !l.HasUserMax() {
		return lot
	}

	capLot := l.UserMax
	digits := lotDigits(l.Step)
	if l.Step.GreaterThan(decimal.Zero) {
		capLot = l.UserMax.Div(l.Step).Floor().Mul(l.Step).RoundBank(digits)
	}

	if lot.GreaterThan(capLot) {
		lot = capLot
	}
	if l.Step.GreaterThan(decimal.Zero) {
		lot = lot.RoundBank(digits)
	}
	return lot
}

// lotDigits returns round(-log10(step)), widened to the step's own decimal
// places so steps such as 0.25 keep their grid.
func lotDigits(step decimal.Decimal) int32 {
	if !step.GreaterThan(decimal.Zero) {
		return 0
	}
	digits := int32(math.Round(-math.Log10(step.InexactFloat64())))
	if places := -step.Exponent(); places > digits {
		digits = places
	}
	if digits < 0 {
		digits = 0
	}
	return digits
}
