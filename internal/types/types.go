// Package types defines shared types used across the trading system.
package types

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of a trade.
type Side int

const (
	SideFlat Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "FLAT"
	}
}

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return SideFlat
	}
}

// ParseSide parses "buy"/"sell" (any case).
func ParseSide(s string) (Side, bool) {
	switch s {
	case "buy", "BUY", "Buy", "long", "LONG":
		return SideBuy, true
	case "sell", "SELL", "Sell", "short", "SHORT":
		return SideSell, true
	default:
		return SideFlat, false
	}
}

// OrderType represents the venue order type.
type OrderType int

const (
	OrderTypeMarket OrderType = iota
	OrderTypeBuyLimit
	OrderTypeSellLimit
	OrderTypeBuyStop
	OrderTypeSellStop
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "MARKET"
	case OrderTypeBuyLimit:
		return "BUY_LIMIT"
	case OrderTypeSellLimit:
		return "SELL_LIMIT"
	case OrderTypeBuyStop:
		return "BUY_STOP"
	case OrderTypeSellStop:
		return "SELL_STOP"
	default:
		return "UNKNOWN"
	}
}

// IsPending returns true for limit and stop orders.
func (t OrderType) IsPending() bool {
	return t != OrderTypeMarket
}

// IsLimit returns true for limit orders.
func (t OrderType) IsLimit() bool {
	return t == OrderTypeBuyLimit || t == OrderTypeSellLimit
}

// Side returns the direction a fill of this order opens. Market orders carry
// their side on the OrderSpec instead and report SideFlat here.
func (t OrderType) Side() Side {
	switch t {
	case OrderTypeBuyLimit, OrderTypeBuyStop:
		return SideBuy
	case OrderTypeSellLimit, OrderTypeSellStop:
		return SideSell
	default:
		return SideFlat
	}
}

// Quote is a bid/ask snapshot supplied by the venue.
type Quote struct {
	Bid  decimal.Decimal
	Ask  decimal.Decimal
	Time time.Time
}

// Spread returns ask minus bid in price units.
func (q Quote) Spread() decimal.Decimal {
	return q.Ask.Sub(q.Bid)
}

// EntryPrice returns the price a market order on the given side fills at.
func (q Quote) EntryPrice(side Side) decimal.Decimal {
	if side == SideSell {
		return q.Bid
	}
	return q.Ask
}

// ExitPrice returns the price a position on the given side closes at.
func (q Quote) ExitPrice(side Side) decimal.Decimal {
	if side == SideSell {
		return q.Ask
	}
	return q.Bid
}

// Position represents an open trade on the venue.
type Position struct {
	Ticket     int64
	System     string // Decoded from Comment, empty if not ours
	Side       Side
	OpenTime   time.Time
	OpenPrice  decimal.Decimal
	Lots       decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	Comment    string
	Sequence   []int // Grid-step sequence decoded from Comment
}

// PendingOrder represents an unfilled limit or stop order.
type PendingOrder struct {
	Ticket     int64
	System     string
	Type       OrderType
	Price      decimal.Decimal
	Lots       decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	Comment    string
	Sequence   []int
	PlacedAt   time.Time
}

// ClosedTrade is a venue history record. Only the comment links it to a system.
type ClosedTrade struct {
	Ticket     int64
	Type       OrderType // Pending types mean the order was deleted unfilled
	Side       Side
	Lots       decimal.Decimal
	OpenPrice  decimal.Decimal
	ClosePrice decimal.Decimal
	TakeProfit decimal.Decimal
	StopLoss   decimal.Decimal
	OpenTime   time.Time
	CloseTime  time.Time
	Profit     decimal.Decimal
	Comment    string
}

// OrderSpec is a submission request for the venue.
type OrderSpec struct {
	Type       OrderType
	Side       Side // Required for market orders
	Lots       decimal.Decimal
	Price      decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	Slippage   int // Points
	Comment    string
	Magic      int
}

// EffectiveSide returns the direction of the position this order opens.
func (o OrderSpec) EffectiveSide() Side {
	if o.Type == OrderTypeMarket {
		return o.Side
	}
	return o.Type.Side()
}

// Instrument defines the price and lot grid of the traded symbol.
type Instrument struct {
	Symbol  string
	Digits  int32
	MinLot  decimal.Decimal
	MaxLot  decimal.Decimal
	LotStep decimal.Decimal
}

// Point returns the smallest price increment.
func (i Instrument) Point() decimal.Decimal {
	return decimal.New(1, -i.Digits)
}

// Pip returns one pip in price units. Fractional quotes (3 or 5 digits) use
// ten points per pip.
func (i Instrument) Pip() decimal.Decimal {
	if i.Digits == 3 || i.Digits == 5 {
		return i.Point().Mul(decimal.NewFromInt(10))
	}
	return i.Point()
}

// PipsToPrice converts a pip distance into price units.
func (i Instrument) PipsToPrice(pips decimal.Decimal) decimal.Decimal {
	return pips.Mul(i.Pip())
}

// PriceToPips converts a price distance into pips.
func (i Instrument) PriceToPips(d decimal.Decimal) decimal.Decimal {
	pip := i.Pip()
	if pip.IsZero() {
		return decimal.Zero
	}
	return d.Div(pip)
}

// NormalizePrice rounds a price to the instrument digits.
func (i Instrument) NormalizePrice(p decimal.Decimal) decimal.Decimal {
	return p.Round(i.Digits)
}

// PipsToPoints converts pips to whole points, rounding to nearest.
func (i Instrument) PipsToPoints(pips decimal.Decimal) int {
	point := i.Point()
	if point.IsZero() {
		return 0
	}
	pts := i.PipsToPrice(pips).Div(point).Round(0).IntPart()
	if pts > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(pts)
}

// Common instrument specifications.
var (
	InstrumentEURUSD = Instrument{
		Symbol:  "EURUSD",
		Digits:  5,
		MinLot:  decimal.RequireFromString("0.01"),
		MaxLot:  decimal.RequireFromString("100"),
		LotStep: decimal.RequireFromString("0.01"),
	}

	InstrumentUSDJPY = Instrument{
		Symbol:  "USDJPY",
		Digits:  3,
		MinLot:  decimal.RequireFromString("0.01"),
		MaxLot:  decimal.RequireFromString("100"),
		LotStep: decimal.RequireFromString("0.01"),
	}
)

// GetInstrument returns the specification for a known symbol.
func GetInstrument(symbol string) (Instrument, bool) {
	switch symbol {
	case "EURUSD":
		return InstrumentEURUSD, true
	case "USDJPY":
		return InstrumentUSDJPY, true
	default:
		return Instrument{}, false
	}
}
