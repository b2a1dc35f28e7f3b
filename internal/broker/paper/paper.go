// Package paper provides an in-memory venue for paper trading and tests.
//
// It keeps MT4 semantics: a pending order keeps its ticket when it fills,
// positions close on TP/SL with "[tp]"/"[sl]" appended to the comment, and
// deleted pending orders appear in history with their pending order type.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/ocogrid/internal/broker"
	"github.com/tathienbao/ocogrid/internal/types"
)

// Config holds paper trading configuration.
type Config struct {
	Instrument     types.Instrument
	InitialBalance decimal.Decimal
	ContractSize   decimal.Decimal // Units per lot, used for profit
	CommentLimit   int             // Comments are cut to this length; 0 keeps them whole
}

// DefaultConfig returns default paper trading config.
func DefaultConfig() Config {
	return Config{
		Instrument:     types.InstrumentEURUSD,
		InitialBalance: decimal.NewFromInt(10000),
		ContractSize:   decimal.NewFromInt(100000),
		CommentLimit:   31,
	}
}

// Op names a venue call for fault injection.
type Op string

const (
	OpSubmit  Op = "submit"
	OpCancel  Op = "cancel"
	OpModify  Op = "modify"
	OpClose   Op = "close"
	OpRefresh Op = "refresh"
	OpQuery   Op = "query"
)

type fault struct {
	err       error
	remaining int
	execute   bool // Perform the call before failing, as a timeout after execution would
}

// Venue implements broker.Venue in memory.
type Venue struct {
	cfg    Config
	logger *slog.Logger

	// State
	state atomic.Int32

	mu         sync.Mutex
	quote      types.Quote
	nextTicket int64
	positions  map[int64]*types.Position
	orders     map[int64]*types.PendingOrder
	history    []types.ClosedTrade
	balance    decimal.Decimal
	faults     map[Op][]*fault
	calls      map[Op]int
}

// NewVenue creates a paper venue.
func NewVenue(cfg Config, logger *slog.Logger) *Venue {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ContractSize.IsZero() {
		cfg.ContractSize = decimal.NewFromInt(100000)
	}

	v := &Venue{
		cfg:        cfg,
		logger:     logger,
		nextTicket: 1000,
		positions:  make(map[int64]*types.Position),
		orders:     make(map[int64]*types.PendingOrder),
		balance:    cfg.InitialBalance,
		faults:     make(map[Op][]*fault),
		calls:      make(map[Op]int),
	}
	v.state.Store(int32(broker.StateDisconnected))

	return v
}

// Connect simulates connecting to the venue.
func (v *Venue) Connect(ctx context.Context) error {
	v.state.Store(int32(broker.StateConnected))
	v.logger.Info("paper venue connected",
		"symbol", v.cfg.Instrument.Symbol,
		"balance", v.cfg.InitialBalance,
	)
	return nil
}

// Disconnect simulates disconnecting from the venue.
func (v *Venue) Disconnect() error {
	v.state.Store(int32(broker.StateDisconnected))
	v.logger.Info("paper venue disconnected")
	return nil
}

// State returns connection state.
func (v *Venue) State() broker.ConnectionState {
	return broker.ConnectionState(v.state.Load())
}

// IsConnected returns true if connected.
func (v *Venue) IsConnected() bool {
	return v.State() == broker.StateConnected
}

// Instrument returns the traded instrument.
func (v *Venue) Instrument() types.Instrument {
	return v.cfg.Instrument
}

// FailNext makes the next n calls of op fail with err without executing.
func (v *Venue) FailNext(op Op, err error, n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.faults[op] = append(v.faults[op], &fault{err: err, remaining: n})
}

// FailAfterExecute makes the next call of op execute and then return err.
func (v *Venue) FailAfterExecute(op Op, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.faults[op] = append(v.faults[op], &fault{err: err, remaining: 1, execute: true})
}

// Calls returns how many times op was invoked.
func (v *Venue) Calls(op Op) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls[op]
}

// takeFault pops the next fault for op. Caller holds mu.
func (v *Venue) takeFault(op Op) *fault {
	v.calls[op]++
	queue := v.faults[op]
	if len(queue) == 0 {
		return nil
	}
	f := queue[0]
	f.remaining--
	if f.remaining <= 0 {
		v.faults[op] = queue[1:]
	}
	return f
}

func (v *Venue) now() time.Time {
	if !v.quote.Time.IsZero() {
		return v.quote.Time
	}
	return time.Now()
}

// SetQuote moves the market. Pending orders whose trigger is reached fill at
// their price, then positions whose TP or SL is reached close.
func (v *Venue) SetQuote(q types.Quote) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if q.Time.IsZero() {
		q.Time = time.Now()
	}
	v.quote = q

	for _, ticket := range sortedKeys(v.orders) {
		o := v.orders[ticket]
		if !triggered(o, q) {
			continue
		}
		delete(v.orders, ticket)
		v.positions[ticket] = &types.Position{
			Ticket:     ticket,
			Side:       o.Type.Side(),
			OpenTime:   q.Time,
			OpenPrice:  o.Price,
			Lots:       o.Lots,
			StopLoss:   o.StopLoss,
			TakeProfit: o.TakeProfit,
			Comment:    o.Comment,
		}
		v.logger.Debug("paper pending filled", "ticket", ticket, "type", o.Type, "price", o.Price)
	}

	for _, ticket := range sortedKeys(v.positions) {
		p := v.positions[ticket]
		exit := q.ExitPrice(p.Side)
		switch {
		case hitTP(p, exit):
			v.closeLocked(p, p.Lots, p.TakeProfit, "[tp]")
		case hitSL(p, exit):
			v.closeLocked(p, p.Lots, p.StopLoss, "[sl]")
		}
	}
}

func triggered(o *types.PendingOrder, q types.Quote) bool {
	switch o.Type {
	case types.OrderTypeBuyStop:
		return q.Ask.GreaterThanOrEqual(o.Price)
	case types.OrderTypeBuyLimit:
		return q.Ask.LessThanOrEqual(o.Price)
	case types.OrderTypeSellStop:
		return q.Bid.LessThanOrEqual(o.Price)
	case types.OrderTypeSellLimit:
		return q.Bid.GreaterThanOrEqual(o.Price)
	default:
		return false
	}
}

func hitTP(p *types.Position, exit decimal.Decimal) bool {
	if !p.TakeProfit.GreaterThan(decimal.Zero) {
		return false
	}
	if p.Side == types.SideSell {
		return exit.LessThanOrEqual(p.TakeProfit)
	}
	return exit.GreaterThanOrEqual(p.TakeProfit)
}

func hitSL(p *types.Position, exit decimal.Decimal) bool {
	if !p.StopLoss.GreaterThan(decimal.Zero) {
		return false
	}
	if p.Side == types.SideSell {
		return exit.GreaterThanOrEqual(p.StopLoss)
	}
	return exit.LessThanOrEqual(p.StopLoss)
}

// RefreshQuote returns the current quote.
func (v *Venue) RefreshQuote(ctx context.Context) (types.Quote, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if f := v.takeFault(OpRefresh); f != nil {
		return types.Quote{}, f.err
	}
	if v.quote.Bid.IsZero() || v.quote.Ask.IsZero() {
		return types.Quote{}, broker.ErrOffQuotes
	}
	return v.quote, nil
}

// Submit places a market or pending order.
func (v *Venue) Submit(ctx context.Context, spec types.OrderSpec) (int64, error) {
	if !v.IsConnected() {
		return 0, broker.ErrNotConnected
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	f := v.takeFault(OpSubmit)
	if f != nil && !f.execute {
		return 0, f.err
	}

	ticket, err := v.submitLocked(spec)
	if err != nil {
		return 0, err
	}
	if f != nil {
		return 0, f.err
	}
	return ticket, nil
}

func (v *Venue) submitLocked(spec types.OrderSpec) (int64, error) {
	if !spec.Lots.GreaterThan(decimal.Zero) {
		return 0, fmt.Errorf("%w: %s", broker.ErrInvalidVolume, spec.Lots)
	}
	if v.quote.Bid.IsZero() || v.quote.Ask.IsZero() {
		return 0, broker.ErrOffQuotes
	}

	side := spec.EffectiveSide()
	inst := v.cfg.Instrument
	comment := spec.Comment
	if v.cfg.CommentLimit > 0 && len(comment) > v.cfg.CommentLimit {
		comment = comment[:v.cfg.CommentLimit]
	}

	if spec.Type == types.OrderTypeMarket {
		if side == types.SideFlat {
			return 0, fmt.Errorf("%w: market order without side", broker.ErrInvalidPrice)
		}
		price := v.quote.EntryPrice(side)
		if !spec.Price.IsZero() && spec.Slippage >= 0 {
			allowed := inst.Point().Mul(decimal.NewFromInt(int64(spec.Slippage)))
			if price.Sub(spec.Price).Abs().GreaterThan(allowed) {
				return 0, broker.ErrRequote
			}
		}
		if err := validStops(side, price, spec.StopLoss, spec.TakeProfit); err != nil {
			return 0, err
		}

		v.nextTicket++
		ticket := v.nextTicket
		v.positions[ticket] = &types.Position{
			Ticket:     ticket,
			Side:       side,
			OpenTime:   v.now(),
			OpenPrice:  price,
			Lots:       spec.Lots,
			StopLoss:   spec.StopLoss,
			TakeProfit: spec.TakeProfit,
			Comment:    comment,
		}
		v.logger.Info("paper market filled",
			"ticket", ticket,
			"side", side,
			"lots", spec.Lots,
			"price", price,
		)
		return ticket, nil
	}

	if triggeredAt(spec.Type, spec.Price, v.quote) {
		return 0, fmt.Errorf("%w: %s at %s", broker.ErrInvalidPrice, spec.Type, spec.Price)
	}
	if err := validStops(side, spec.Price, spec.StopLoss, spec.TakeProfit); err != nil {
		return 0, err
	}

	v.nextTicket++
	ticket := v.nextTicket
	v.orders[ticket] = &types.PendingOrder{
		Ticket:     ticket,
		Type:       spec.Type,
		Price:      spec.Price,
		Lots:       spec.Lots,
		StopLoss:   spec.StopLoss,
		TakeProfit: spec.TakeProfit,
		Comment:    comment,
		PlacedAt:   v.now(),
	}
	v.logger.Info("paper pending placed",
		"ticket", ticket,
		"type", spec.Type,
		"lots", spec.Lots,
		"price", spec.Price,
	)
	return ticket, nil
}

// triggeredAt reports whether a pending order would fill immediately.
func triggeredAt(t types.OrderType, price decimal.Decimal, q types.Quote) bool {
	return triggered(&types.PendingOrder{Type: t, Price: price}, q)
}

func validStops(side types.Side, entry, sl, tp decimal.Decimal) error {
	if side == types.SideSell {
		if sl.GreaterThan(decimal.Zero) && sl.LessThanOrEqual(entry) {
			return fmt.Errorf("%w: sell sl %s <= entry %s", broker.ErrInvalidStops, sl, entry)
		}
		if tp.GreaterThan(decimal.Zero) && tp.GreaterThanOrEqual(entry) {
			return fmt.Errorf("%w: sell tp %s >= entry %s", broker.ErrInvalidStops, tp, entry)
		}
		return nil
	}
	if sl.GreaterThan(decimal.Zero) && sl.GreaterThanOrEqual(entry) {
		return fmt.Errorf("%w: buy sl %s >= entry %s", broker.ErrInvalidStops, sl, entry)
	}
	if tp.GreaterThan(decimal.Zero) && tp.LessThanOrEqual(entry) {
		return fmt.Errorf("%w: buy tp %s <= entry %s", broker.ErrInvalidStops, tp, entry)
	}
	return nil
}

// Cancel deletes a pending order.
func (v *Venue) Cancel(ctx context.Context, ticket int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if f := v.takeFault(OpCancel); f != nil {
		return f.err
	}

	o, ok := v.orders[ticket]
	if !ok {
		return fmt.Errorf("%w: %d", broker.ErrUnknownTicket, ticket)
	}
	delete(v.orders, ticket)

	now := v.now()
	v.history = append(v.history, types.ClosedTrade{
		Ticket:     ticket,
		Type:       o.Type,
		Side:       o.Type.Side(),
		Lots:       o.Lots,
		OpenPrice:  o.Price,
		ClosePrice: o.Price,
		TakeProfit: o.TakeProfit,
		StopLoss:   o.StopLoss,
		OpenTime:   o.PlacedAt,
		CloseTime:  now,
		Comment:    o.Comment,
	})
	v.logger.Info("paper pending cancelled", "ticket", ticket)
	return nil
}

// Modify changes SL/TP of a position or pending order.
func (v *Venue) Modify(ctx context.Context, ticket int64, stopLoss, takeProfit decimal.Decimal) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if f := v.takeFault(OpModify); f != nil {
		return f.err
	}

	if p, ok := v.positions[ticket]; ok {
		p.StopLoss = stopLoss
		p.TakeProfit = takeProfit
		return nil
	}
	if o, ok := v.orders[ticket]; ok {
		o.StopLoss = stopLoss
		o.TakeProfit = takeProfit
		return nil
	}
	return fmt.Errorf("%w: %d", broker.ErrUnknownTicket, ticket)
}

// Close closes lots of a position at the current exit price.
func (v *Venue) Close(ctx context.Context, ticket int64, lots decimal.Decimal, slippage int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	f := v.takeFault(OpClose)
	if f != nil && !f.execute {
		return f.err
	}

	p, ok := v.positions[ticket]
	if !ok {
		return fmt.Errorf("%w: %d", broker.ErrUnknownTicket, ticket)
	}
	if v.quote.Bid.IsZero() || v.quote.Ask.IsZero() {
		return broker.ErrOffQuotes
	}
	if !lots.GreaterThan(decimal.Zero) || lots.GreaterThan(p.Lots) {
		lots = p.Lots
	}

	v.closeLocked(p, lots, v.quote.ExitPrice(p.Side), "")
	if f != nil {
		return f.err
	}
	return nil
}

// closeLocked realizes lots of p at price. Caller holds mu.
func (v *Venue) closeLocked(p *types.Position, lots, price decimal.Decimal, suffix string) {
	diff := price.Sub(p.OpenPrice)
	if p.Side == types.SideSell {
		diff = diff.Neg()
	}
	profit := diff.Mul(lots).Mul(v.cfg.ContractSize).Round(2)
	v.balance = v.balance.Add(profit)

	comment := p.Comment + suffix
	if v.cfg.CommentLimit > 0 && len(comment) > v.cfg.CommentLimit {
		comment = comment[:v.cfg.CommentLimit]
	}

	v.history = append(v.history, types.ClosedTrade{
		Ticket:     p.Ticket,
		Type:       types.OrderTypeMarket,
		Side:       p.Side,
		Lots:       lots,
		OpenPrice:  p.OpenPrice,
		ClosePrice: price,
		TakeProfit: p.TakeProfit,
		StopLoss:   p.StopLoss,
		OpenTime:   p.OpenTime,
		CloseTime:  v.now(),
		Profit:     profit,
		Comment:    comment,
	})

	if lots.GreaterThanOrEqual(p.Lots) {
		delete(v.positions, p.Ticket)
	} else {
		p.Lots = p.Lots.Sub(lots)
	}

	v.logger.Info("paper position closed",
		"ticket", p.Ticket,
		"lots", lots,
		"price", price,
		"profit", profit,
		"suffix", suffix,
	)
}

// OpenPositions returns live positions sorted by ticket.
func (v *Venue) OpenPositions(ctx context.Context) ([]types.Position, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if f := v.takeFault(OpQuery); f != nil {
		return nil, f.err
	}

	out := make([]types.Position, 0, len(v.positions))
	for _, t := range sortedKeys(v.positions) {
		out = append(out, *v.positions[t])
	}
	return out, nil
}

// OpenOrders returns pending orders sorted by ticket.
func (v *Venue) OpenOrders(ctx context.Context) ([]types.PendingOrder, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]types.PendingOrder, 0, len(v.orders))
	for _, t := range sortedKeys(v.orders) {
		out = append(out, *v.orders[t])
	}
	return out, nil
}

// History returns closed trades and deleted orders closed at or after since.
func (v *Venue) History(ctx context.Context, since time.Time) ([]types.ClosedTrade, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var out []types.ClosedTrade
	for _, h := range v.history {
		if !h.CloseTime.Before(since) {
			out = append(out, h)
		}
	}
	return out, nil
}

// Account returns balance and floating equity.
func (v *Venue) Account(ctx context.Context) (*broker.AccountSummary, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	equity := v.balance
	for _, p := range v.positions {
		diff := v.quote.ExitPrice(p.Side).Sub(p.OpenPrice)
		if p.Side == types.SideSell {
			diff = diff.Neg()
		}
		equity = equity.Add(diff.Mul(p.Lots).Mul(v.cfg.ContractSize))
	}

	return &broker.AccountSummary{
		AccountID:   "PAPER",
		Currency:    "USD",
		Balance:     v.balance,
		Equity:      equity.Round(2),
		LastUpdated: v.now(),
	}, nil
}

// InjectPosition adds a position directly, as if it survived a restart.
func (v *Venue) InjectPosition(p types.Position) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if p.Ticket == 0 {
		v.nextTicket++
		p.Ticket = v.nextTicket
	} else if p.Ticket > v.nextTicket {
		v.nextTicket = p.Ticket
	}
	v.positions[p.Ticket] = &p
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Ensure Venue implements broker.Venue
var _ broker.Venue = (*Venue)(nil)
