package alerting

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SystemSummary contains the trading statistics of one system.
type SystemSummary struct {
	System     string
	Lifecycle  string
	TakeProfit int
	StopLoss   int
	Other      int
	TotalPL    decimal.Decimal
	WinRate    decimal.Decimal
	RiskFactor decimal.Decimal
	Sequence   string
	Halted     bool
}

// NewSystemSummary creates a system summary. Win rate counts TP against SL
// closures only.
func NewSystemSummary(
	system, lifecycle string,
	takeProfit, stopLoss, other int,
	totalPL, riskFactor decimal.Decimal,
	sequence string,
	halted bool,
) SystemSummary {
	var winRate decimal.Decimal
	if decided := takeProfit + stopLoss; decided > 0 {
		winRate = decimal.NewFromInt(int64(takeProfit)).
			Div(decimal.NewFromInt(int64(decided))).
			Mul(decimal.NewFromInt(100))
	}

	return SystemSummary{
		System:     system,
		Lifecycle:  lifecycle,
		TakeProfit: takeProfit,
		StopLoss:   stopLoss,
		Other:      other,
		TotalPL:    totalPL,
		WinRate:    winRate,
		RiskFactor: riskFactor,
		Sequence:   sequence,
		Halted:     halted,
	}
}

// Trades returns the number of TP and SL closures.
func (s SystemSummary) Trades() int {
	return s.TakeProfit + s.StopLoss
}

// SessionSummary aggregates every system.
type SessionSummary struct {
	Date        time.Time
	Systems     []SystemSummary
	TotalPL     decimal.Decimal
	TotalTrades int
	WinRate     decimal.Decimal
	Halted      int
}

// NewSessionSummary aggregates system summaries.
func NewSessionSummary(date time.Time, systems []SystemSummary) SessionSummary {
	s := SessionSummary{Date: date, Systems: systems}

	wins := 0
	for _, sys := range systems {
		s.TotalPL = s.TotalPL.Add(sys.TotalPL)
		s.TotalTrades += sys.Trades()
		wins += sys.TakeProfit
		if sys.Halted {
			s.Halted++
		}
	}
	if s.TotalTrades > 0 {
		s.WinRate = decimal.NewFromInt(int64(wins)).
			Div(decimal.NewFromInt(int64(s.TotalTrades))).
			Mul(decimal.NewFromInt(100))
	}

	return s
}

// Text renders the summary as plain text.
func (s SessionSummary) Text() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Session summary %s\n", s.Date.Format("2006-01-02"))
	fmt.Fprintf(&b, "P/L %s | trades %d | win rate %s%%", s.TotalPL.StringFixed(2), s.TotalTrades, s.WinRate.StringFixed(1))
	if s.Halted > 0 {
		fmt.Fprintf(&b, " | halted %d", s.Halted)
	}

	for _, sys := range s.Systems {
		status := sys.Lifecycle
		if sys.Halted {
			status += " HALTED"
		}
		fmt.Fprintf(&b, "\n%s [%s] TP %d SL %d other %d P/L %s factor %s seq %s",
			sys.System,
			status,
			sys.TakeProfit,
			sys.StopLoss,
			sys.Other,
			sys.TotalPL.StringFixed(2),
			sys.RiskFactor.String(),
			sys.Sequence,
		)
	}

	return b.String()
}
