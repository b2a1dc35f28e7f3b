package paper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/ocogrid/internal/broker"
	"github.com/tathienbao/ocogrid/internal/types"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newConnected(t *testing.T) *Venue {
	t.Helper()
	v := NewVenue(DefaultConfig(), nil)
	if err := v.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	v.SetQuote(types.Quote{Bid: d("1.10000"), Ask: d("1.10020"), Time: time.Unix(1000, 0)})
	return v
}

func TestVenue_Connect(t *testing.T) {
	v := NewVenue(DefaultConfig(), nil)

	if v.IsConnected() {
		t.Error("expected disconnected before Connect")
	}
	if err := v.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if v.State() != broker.StateConnected {
		t.Errorf("State() = %v, want connected", v.State())
	}

	v.Disconnect()
	if _, err := v.Submit(context.Background(), types.OrderSpec{}); !errors.Is(err, broker.ErrNotConnected) {
		t.Errorf("Submit() after disconnect error = %v, want ErrNotConnected", err)
	}
}

func TestVenue_MarketOrderAndClose(t *testing.T) {
	v := newConnected(t)
	ctx := context.Background()

	ticket, err := v.Submit(ctx, types.OrderSpec{
		Type:       types.OrderTypeMarket,
		Side:       types.SideBuy,
		Lots:       d("0.1"),
		StopLoss:   d("1.09820"),
		TakeProfit: d("1.10220"),
		Comment:    "MC_A_(0,1)",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	positions, _ := v.OpenPositions(ctx)
	if len(positions) != 1 || positions[0].Ticket != ticket {
		t.Fatalf("OpenPositions() = %+v", positions)
	}
	if !positions[0].OpenPrice.Equal(d("1.10020")) {
		t.Errorf("OpenPrice = %s, want ask 1.10020", positions[0].OpenPrice)
	}

	if err := v.Close(ctx, ticket, decimal.Zero, 3); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	positions, _ = v.OpenPositions(ctx)
	if len(positions) != 0 {
		t.Errorf("expected no positions, got %d", len(positions))
	}

	hist, _ := v.History(ctx, time.Time{})
	if len(hist) != 1 {
		t.Fatalf("History() len = %d, want 1", len(hist))
	}
	// Bought at ask, sold at bid: two pips of spread on 0.1 lot
	if !hist[0].Profit.Equal(d("-2")) {
		t.Errorf("Profit = %s, want -2", hist[0].Profit)
	}
}

func TestVenue_PendingFillKeepsTicketAndHitsTP(t *testing.T) {
	v := newConnected(t)
	ctx := context.Background()

	ticket, err := v.Submit(ctx, types.OrderSpec{
		Type:       types.OrderTypeBuyStop,
		Lots:       d("0.1"),
		Price:      d("1.10100"),
		StopLoss:   d("1.09900"),
		TakeProfit: d("1.10300"),
		Comment:    "MC_A_(0,1)",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	v.SetQuote(types.Quote{Bid: d("1.10090"), Ask: d("1.10110"), Time: time.Unix(1010, 0)})

	positions, _ := v.OpenPositions(ctx)
	if len(positions) != 1 || positions[0].Ticket != ticket {
		t.Fatalf("expected pending to fill with same ticket, got %+v", positions)
	}
	orders, _ := v.OpenOrders(ctx)
	if len(orders) != 0 {
		t.Errorf("expected no pending orders, got %d", len(orders))
	}

	v.SetQuote(types.Quote{Bid: d("1.10300"), Ask: d("1.10320"), Time: time.Unix(1020, 0)})

	hist, _ := v.History(ctx, time.Time{})
	if len(hist) != 1 {
		t.Fatalf("History() len = %d, want 1", len(hist))
	}
	if hist[0].Comment != "MC_A_(0,1)[tp]" {
		t.Errorf("Comment = %q, want tp suffix", hist[0].Comment)
	}
	if !hist[0].ClosePrice.Equal(d("1.10300")) {
		t.Errorf("ClosePrice = %s, want 1.10300", hist[0].ClosePrice)
	}
}

func TestVenue_SellStopLoss(t *testing.T) {
	v := newConnected(t)
	ctx := context.Background()

	_, err := v.Submit(ctx, types.OrderSpec{
		Type:       types.OrderTypeMarket,
		Side:       types.SideSell,
		Lots:       d("0.1"),
		StopLoss:   d("1.10200"),
		TakeProfit: d("1.09800"),
		Comment:    "MC_B_(0,1)",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	v.SetQuote(types.Quote{Bid: d("1.10190"), Ask: d("1.10210"), Time: time.Unix(1030, 0)})

	hist, _ := v.History(ctx, time.Time{})
	if len(hist) != 1 || hist[0].Comment != "MC_B_(0,1)[sl]" {
		t.Fatalf("History() = %+v, want one [sl] close", hist)
	}
	if !hist[0].Profit.IsNegative() {
		t.Errorf("Profit = %s, want negative", hist[0].Profit)
	}
}

func TestVenue_CancelRecordsDeletedOrder(t *testing.T) {
	v := newConnected(t)
	ctx := context.Background()

	ticket, err := v.Submit(ctx, types.OrderSpec{Type: types.OrderTypeBuyLimit, Lots: d("0.1"), Price: d("1.09900")})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if err := v.Cancel(ctx, ticket); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if err := v.Cancel(ctx, ticket); !errors.Is(err, broker.ErrUnknownTicket) {
		t.Errorf("second Cancel() error = %v, want ErrUnknownTicket", err)
	}

	hist, _ := v.History(ctx, time.Time{})
	if len(hist) != 1 || !hist[0].Type.IsPending() {
		t.Errorf("History() = %+v, want one deleted pending order", hist)
	}
}

func TestVenue_RejectsBadOrders(t *testing.T) {
	v := newConnected(t)
	ctx := context.Background()

	tests := []struct {
		name string
		spec types.OrderSpec
		want error
	}{
		{"zero lots", types.OrderSpec{Type: types.OrderTypeMarket, Side: types.SideBuy}, broker.ErrInvalidVolume},
		{"buy stop below ask", types.OrderSpec{Type: types.OrderTypeBuyStop, Lots: d("0.1"), Price: d("1.10000")}, broker.ErrInvalidPrice},
		{"buy limit above ask", types.OrderSpec{Type: types.OrderTypeBuyLimit, Lots: d("0.1"), Price: d("1.10100")}, broker.ErrInvalidPrice},
		{"buy sl above entry", types.OrderSpec{Type: types.OrderTypeMarket, Side: types.SideBuy, Lots: d("0.1"), StopLoss: d("1.2")}, broker.ErrInvalidStops},
		{"sell tp above entry", types.OrderSpec{Type: types.OrderTypeMarket, Side: types.SideSell, Lots: d("0.1"), TakeProfit: d("1.2")}, broker.ErrInvalidStops},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Submit(ctx, tt.spec); !errors.Is(err, tt.want) {
				t.Errorf("Submit() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestVenue_RequoteOnSlippage(t *testing.T) {
	v := newConnected(t)
	ctx := context.Background()

	spec := types.OrderSpec{
		Type:     types.OrderTypeMarket,
		Side:     types.SideBuy,
		Lots:     d("0.1"),
		Price:    d("1.10000"), // stale ask, current is 1.10020
		Slippage: 10,
	}
	if _, err := v.Submit(ctx, spec); !errors.Is(err, broker.ErrRequote) {
		t.Errorf("Submit() error = %v, want ErrRequote", err)
	}

	spec.Slippage = 20
	if _, err := v.Submit(ctx, spec); err != nil {
		t.Errorf("Submit() within slippage error = %v", err)
	}
}

func TestVenue_FaultInjection(t *testing.T) {
	v := newConnected(t)
	ctx := context.Background()
	spec := types.OrderSpec{Type: types.OrderTypeMarket, Side: types.SideBuy, Lots: d("0.1")}

	v.FailNext(OpSubmit, broker.ErrServerBusy, 2)

	for i := 0; i < 2; i++ {
		if _, err := v.Submit(ctx, spec); !errors.Is(err, broker.ErrServerBusy) {
			t.Fatalf("Submit() #%d error = %v, want ErrServerBusy", i, err)
		}
	}
	if _, err := v.Submit(ctx, spec); err != nil {
		t.Fatalf("Submit() after faults error = %v", err)
	}
	if v.Calls(OpSubmit) != 3 {
		t.Errorf("Calls(submit) = %d, want 3", v.Calls(OpSubmit))
	}

	v.FailAfterExecute(OpSubmit, broker.ErrTradeTimeout)
	if _, err := v.Submit(ctx, spec); !errors.Is(err, broker.ErrTradeTimeout) {
		t.Fatalf("Submit() error = %v, want ErrTradeTimeout", err)
	}
	positions, _ := v.OpenPositions(ctx)
	if len(positions) != 2 {
		t.Errorf("positions = %d, want 2 (timeout still executed)", len(positions))
	}
}

func TestVenue_CommentLimit(t *testing.T) {
	v := newConnected(t)
	ctx := context.Background()

	long := "MC_A_ABCDEFGHIJKLMNOPQRSTUVWXYZ0123"
	if _, err := v.Submit(ctx, types.OrderSpec{Type: types.OrderTypeMarket, Side: types.SideBuy, Lots: d("0.1"), Comment: long}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	positions, _ := v.OpenPositions(ctx)
	if len(positions[0].Comment) != 31 {
		t.Errorf("comment length = %d, want 31", len(positions[0].Comment))
	}
}

func TestVenue_RefreshQuote(t *testing.T) {
	v := NewVenue(DefaultConfig(), nil)
	ctx := context.Background()

	if _, err := v.RefreshQuote(ctx); !errors.Is(err, broker.ErrOffQuotes) {
		t.Errorf("RefreshQuote() without quote error = %v, want ErrOffQuotes", err)
	}

	v.SetQuote(types.Quote{Bid: d("1.1"), Ask: d("1.1002")})
	v.FailNext(OpRefresh, broker.ErrNotConnected, 1)
	if _, err := v.RefreshQuote(ctx); !errors.Is(err, broker.ErrNotConnected) {
		t.Errorf("RefreshQuote() error = %v, want injected fault", err)
	}

	q, err := v.RefreshQuote(ctx)
	if err != nil {
		t.Fatalf("RefreshQuote() error = %v", err)
	}
	if !q.Bid.Equal(d("1.1")) {
		t.Errorf("Bid = %s, want 1.1", q.Bid)
	}
}

func TestVenue_Account(t *testing.T) {
	v := newConnected(t)

	acct, err := v.Account(context.Background())
	if err != nil {
		t.Fatalf("Account() error = %v", err)
	}
	if acct.AccountID != "PAPER" {
		t.Errorf("AccountID = %s, want PAPER", acct.AccountID)
	}
	if !acct.Balance.Equal(d("10000")) {
		t.Errorf("Balance = %s, want 10000", acct.Balance)
	}
}

func TestVenue_InjectPosition(t *testing.T) {
	v := newConnected(t)

	v.InjectPosition(types.Position{Ticket: 5000, Side: types.SideBuy, Lots: d("0.1"), OpenPrice: d("1.1")})
	ticket, err := v.Submit(context.Background(), types.OrderSpec{Type: types.OrderTypeMarket, Side: types.SideBuy, Lots: d("0.1")})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if ticket <= 5000 {
		t.Errorf("ticket = %d, want above injected 5000", ticket)
	}
}
