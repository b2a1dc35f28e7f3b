// Package broker defines the execution venue contract used by the engine.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/ocogrid/internal/types"
)

// Common venue errors.
var (
	// Transient: the venue may accept the same request after a refresh.
	ErrRequote      = errors.New("requote")
	ErrPriceChanged = errors.New("price changed")
	ErrOffQuotes    = errors.New("off quotes")
	ErrServerBusy   = errors.New("trade server busy")
	ErrRateLimited  = errors.New("rate limited by venue")
	ErrNotConnected = errors.New("venue not connected")

	// Indeterminate: the request may or may not have been executed.
	ErrTradeTimeout = errors.New("trade timeout")

	// Fatal: resubmitting the same request will not help.
	ErrInvalidStops   = errors.New("invalid stops")
	ErrInvalidPrice   = errors.New("invalid price")
	ErrInvalidVolume  = errors.New("invalid volume")
	ErrNotEnoughMoney = errors.New("not enough money")
	ErrTradeDisabled  = errors.New("trade disabled")
	ErrUnknownTicket  = errors.New("unknown ticket")
)

// IsTransient reports whether a venue error is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRequote) ||
		errors.Is(err, ErrPriceChanged) ||
		errors.Is(err, ErrOffQuotes) ||
		errors.Is(err, ErrServerBusy) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrNotConnected)
}

// NeedsRefresh reports whether the quote must be refreshed before a retry.
func NeedsRefresh(err error) bool {
	return errors.Is(err, ErrRequote) ||
		errors.Is(err, ErrPriceChanged) ||
		errors.Is(err, ErrOffQuotes)
}

// IsIndeterminate reports whether the outcome of a request is unknown. Such
// requests must not be retried blindly; the next snapshot is authoritative.
func IsIndeterminate(err error) bool {
	return errors.Is(err, ErrTradeTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// ConnectionState represents the venue connection state.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Venue is the execution API the engine consumes. All calls are synchronous
// and may fail with a transient, indeterminate or fatal error.
type Venue interface {
	// Connection management
	Connect(ctx context.Context) error
	Disconnect() error
	State() ConnectionState
	IsConnected() bool

	// Market data
	Instrument() types.Instrument
	RefreshQuote(ctx context.Context) (types.Quote, error)

	// Order execution
	Submit(ctx context.Context, spec types.OrderSpec) (int64, error)
	Cancel(ctx context.Context, ticket int64) error
	Modify(ctx context.Context, ticket int64, stopLoss, takeProfit decimal.Decimal) error
	Close(ctx context.Context, ticket int64, lots decimal.Decimal, slippage int) error

	// Queries
	OpenPositions(ctx context.Context) ([]types.Position, error)
	OpenOrders(ctx context.Context) ([]types.PendingOrder, error)
	History(ctx context.Context, since time.Time) ([]types.ClosedTrade, error)
	Account(ctx context.Context) (*AccountSummary, error)
}

// AccountSummary contains account information.
type AccountSummary struct {
	AccountID   string
	Currency    string
	Balance     decimal.Decimal
	Equity      decimal.Decimal
	LastUpdated time.Time
}
