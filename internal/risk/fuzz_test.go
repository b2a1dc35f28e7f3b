package risk

import (
	"testing"

	"github.com/shopspring/decimal"
)

// FuzzLotSizer checks the lot invariants over random inputs.
func FuzzLotSizer(f *testing.F) {
	// Add seed corpus
	f.Add("0.05", "1.0", "0.1", "10", "0.1")
	f.Add("2.0", "1.5", "0.01", "10", "0.01")
	f.Add("1.4", "1.45", "0.01", "2.0", "0.3")
	f.Add("0.1", "0", "0.01", "100", "0.01")
	f.Add("7.777", "3.33", "0.25", "5", "0.25")

	f.Fuzz(func(t *testing.T, candStr, userMaxStr, minStr, maxStr, stepStr string) {
		// Parse inputs - skip invalid
		cand, err := decimal.NewFromString(candStr)
		if err != nil || cand.IsNegative() || cand.GreaterThan(decimal.NewFromInt(1000)) {
			return
		}
		userMax, err := decimal.NewFromString(userMaxStr)
		if err != nil || userMax.IsNegative() {
			return
		}
		minLot, err := decimal.NewFromString(minStr)
		if err != nil || minLot.IsNegative() {
			return
		}
		maxLot, err := decimal.NewFromString(maxStr)
		if err != nil || !maxLot.GreaterThan(decimal.Zero) || maxLot.LessThan(minLot) {
			return
		}
		step, err := decimal.NewFromString(stepStr)
		if err != nil || !step.GreaterThan(decimal.New(1, -4)) || step.GreaterThan(decimal.NewFromInt(10)) {
			return
		}
		// Broker bounds are on the step grid in every real venue.
		limits := LotLimits{Min: minLot, Max: maxLot, Step: step, UserMax: userMax}
		if !limits.IsMultiple(minLot) || !limits.IsMultiple(maxLot) {
			return
		}

		lot := NewLotSizer(cand, limits).Calculate(decimal.NewFromInt(1))

		// Invariant: never above either maximum
		if lot.GreaterThan(maxLot) {
			t.Errorf("lot %s above broker max %s", lot, maxLot)
		}
		if limits.HasUserMax() && lot.GreaterThan(userMax) {
			t.Errorf("lot %s above user max %s", lot, userMax)
		}

		// Invariant: on the step grid
		if !limits.IsMultiple(lot) {
			t.Errorf("lot %s not a multiple of %s", lot, step)
		}

		// Invariant: at least the minimum unless the user cap forbids it
		if lot.LessThan(minLot) && (!limits.HasUserMax() || !userMax.LessThan(minLot)) {
			t.Errorf("lot %s below min %s", lot, minLot)
		}
	})
}
