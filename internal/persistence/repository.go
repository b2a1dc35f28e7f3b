// Package persistence provides state persistence functionality.
package persistence

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/ocogrid/internal/history"
	"github.com/tathienbao/ocogrid/internal/strategy"
	"github.com/tathienbao/ocogrid/internal/types"
)

// Repository defines the interface for state persistence.
type Repository interface {
	// System state operations
	SaveSystemState(ctx context.Context, state strategy.SystemState) error
	GetSystemState(ctx context.Context, system string) (*strategy.SystemState, error)
	ListSystemStates(ctx context.Context) ([]strategy.SystemState, error)

	// Closed trade journal
	SaveClosedTrade(ctx context.Context, rec TradeRecord) error
	GetClosedTrades(ctx context.Context, system string, limit int) ([]TradeRecord, error)
	GetTradeStats(ctx context.Context, system string) (*TradeStats, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// TradeRecord is a classified closed trade as journaled.
type TradeRecord struct {
	Ticket     int64
	System     string
	Reason     history.Reason
	Sequence   []int
	Type       types.OrderType
	Side       types.Side
	Lots       decimal.Decimal
	OpenPrice  decimal.Decimal
	ClosePrice decimal.Decimal
	Profit     decimal.Decimal
	OpenTime   time.Time
	CloseTime  time.Time
	Comment    string
	RecordedAt time.Time
}

// NewTradeRecord builds a journal record from a classified trade.
func NewTradeRecord(c history.Classified, now time.Time) TradeRecord {
	return TradeRecord{
		Ticket:     c.Trade.Ticket,
		System:     c.System,
		Reason:     c.Reason,
		Sequence:   c.Sequence,
		Type:       c.Trade.Type,
		Side:       c.Trade.Side,
		Lots:       c.Trade.Lots,
		OpenPrice:  c.Trade.OpenPrice,
		ClosePrice: c.Trade.ClosePrice,
		Profit:     c.Trade.Profit,
		OpenTime:   c.Trade.OpenTime,
		CloseTime:  c.Trade.CloseTime,
		Comment:    c.Trade.Comment,
		RecordedAt: now,
	}
}

// TradeStats summarizes the journal of one system.
type TradeStats struct {
	System     string
	Total      int
	TakeProfit int
	StopLoss   int
	Other      int
	TotalPL    decimal.Decimal
}
