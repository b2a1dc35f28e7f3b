package alerting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

func TestSeverity(t *testing.T) {
	tests := []struct {
		severity  Severity
		wantName  string
		wantEmoji string
	}{
		{SeverityInfo, "INFO", "ℹ️"},
		{SeverityWarning, "WARNING", "⚠️"},
		{SeverityHigh, "HIGH", "🔴"},
		{SeverityCritical, "CRITICAL", "🚨"},
		{Severity(99), "UNKNOWN", "❓"},
	}

	for _, tt := range tests {
		t.Run(tt.wantName, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.wantName {
				t.Errorf("String() = %v, want %v", got, tt.wantName)
			}
			if got := tt.severity.Emoji(); got != tt.wantEmoji {
				t.Errorf("Emoji() = %v, want %v", got, tt.wantEmoji)
			}
		})
	}
}

func TestFormatFields(t *testing.T) {
	tests := []struct {
		name   string
		fields []any
		want   string
	}{
		{"none", nil, ""},
		{"ticket", []any{"ticket", int64(1001)}, "• ticket: 1001"},
		{"decimal and sequence", []any{"lots", decimal.RequireFromString("0.20"), "sequence", "(0,1,1)"}, "• lots: 0.2\n• sequence: (0,1,1)"},
		{"dangling key", []any{"system", "A", "reason"}, "• system: A"},
		{"non-string key", []any{42, "x", "system", "B"}, "• system: B"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatFields(tt.fields...); got != tt.want {
				t.Errorf("FormatFields() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEventSeverity(t *testing.T) {
	tests := []struct {
		event AlertEvent
		want  Severity
	}{
		{EventReconcileConflict, SeverityCritical},
		{EventSystemHalted, SeverityCritical},
		{EventDuplicatesClosed, SeverityHigh},
		{EventSubmissionFailed, SeverityWarning},
		{EventSubmissionIndeterminate, SeverityWarning},
		{EventVenueDisconnected, SeverityWarning},
		{EventVenueRestored, SeverityInfo},
		{EventTradeClosed, SeverityInfo},
		{EventSessionSummary, SeverityInfo},
		{EventBotStarted, SeverityInfo},
		{EventBotStopped, SeverityInfo},
		{AlertEvent("unknown"), SeverityInfo},
	}

	for _, tt := range tests {
		t.Run(string(tt.event), func(t *testing.T) {
			if got := EventSeverity(tt.event); got != tt.want {
				t.Errorf("EventSeverity(%s) = %v, want %v", tt.event, got, tt.want)
			}
		})
	}
}

func TestSend(t *testing.T) {
	mock := NewMockAlerter()

	err := Send(context.Background(), mock, EventDuplicatesClosed, "closed duplicates", "system", "A", "count", 2)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	last := mock.LastAlert()
	if last == nil {
		t.Fatal("expected alert, got nil")
	}
	if last.Severity != SeverityHigh {
		t.Errorf("severity = %v, want HIGH", last.Severity)
	}
	if !mock.HasEvent(EventDuplicatesClosed) {
		t.Error("expected event field on the alert")
	}
	if len(last.Fields) != 6 {
		t.Errorf("fields = %v, want event plus 4 entries", last.Fields)
	}

	if err := Send(context.Background(), nil, EventBotStarted, "nil alerter"); err != nil {
		t.Errorf("Send() with nil alerter error = %v", err)
	}
}

func TestMockAlerter(t *testing.T) {
	mock := NewMockAlerter()
	ctx := context.Background()

	_ = Send(ctx, mock, EventSubmissionFailed, "BUY_STOP rejected", "system", "A")
	_ = Send(ctx, mock, EventSubmissionFailed, "SELL_LIMIT rejected", "system", "B")
	_ = mock.Alert(ctx, SeverityInfo, "no event")

	if mock.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", mock.Count())
	}
	if got := mock.CountEvent(EventSubmissionFailed); got != 2 {
		t.Errorf("CountEvent() = %d, want 2", got)
	}
	if mock.HasEvent(EventReconcileConflict) {
		t.Error("unexpected reconcile_conflict event")
	}
	if !mock.HasAlertContaining("SELL_LIMIT") || mock.HasAlertContaining("MARKET") {
		t.Error("HasAlertContaining mismatch")
	}
	if !mock.HasAlertWithSeverity(SeverityWarning) || mock.HasAlertWithSeverity(SeverityCritical) {
		t.Error("HasAlertWithSeverity mismatch")
	}
	if last := mock.LastAlert(); last == nil || last.Message != "no event" {
		t.Errorf("LastAlert() = %+v", last)
	}

	// Failing channel still records what it was asked to send
	mock.SetError(errors.New("down"))
	if err := mock.Alert(ctx, SeverityHigh, "after failure"); err == nil {
		t.Error("expected the configured error")
	}
	if mock.Count() != 4 {
		t.Errorf("Count() = %d, want 4", mock.Count())
	}

	mock.Clear()
	if mock.Count() != 0 || mock.LastAlert() != nil {
		t.Error("Clear() left alerts behind")
	}
}

func TestConsoleAlerter(t *testing.T) {
	alerter := NewConsoleAlerter(nil)

	if alerter.Name() != "console" {
		t.Errorf("expected name 'console', got %q", alerter.Name())
	}

	// Should not error
	err := alerter.Alert(context.Background(), SeverityInfo, "test")
	if err != nil {
		t.Errorf("Alert() error = %v", err)
	}

	var sender SummarySender = alerter
	if err := sender.SendSessionSummary(context.Background(), NewSessionSummary(time.Now(), []SystemSummary{
		NewSystemSummary("A", "ALIVE", 1, 0, 0, decimal.NewFromInt(20), decimal.NewFromInt(1), "0,1", false),
	})); err != nil {
		t.Errorf("SendSessionSummary() error = %v", err)
	}
}

func TestMultiAlerter(t *testing.T) {
	mock1 := NewMockAlerter()
	mock2 := NewMockAlerter()

	multi := NewMultiAlerter(nil, mock1, mock2)

	if multi.Name() != "multi" {
		t.Errorf("expected name 'multi', got %q", multi.Name())
	}

	// Send alert
	err := multi.Alert(context.Background(), SeverityWarning, "broadcast")
	if err != nil {
		t.Fatalf("Alert() error = %v", err)
	}

	// Both should receive
	if mock1.Count() != 1 {
		t.Errorf("mock1: expected 1 alert, got %d", mock1.Count())
	}
	if mock2.Count() != 1 {
		t.Errorf("mock2: expected 1 alert, got %d", mock2.Count())
	}

	// Add another alerter
	mock3 := NewMockAlerter()
	multi.AddAlerter(mock3)

	// Send another alert
	_ = multi.Alert(context.Background(), SeverityHigh, "another")

	if mock3.Count() != 1 {
		t.Errorf("mock3: expected 1 alert, got %d", mock3.Count())
	}
}

func TestMultiAlerter_AlertEvent(t *testing.T) {
	mock := NewMockAlerter()
	multi := NewMultiAlerter(nil, mock)

	err := multi.AlertEvent(context.Background(), EventReconcileConflict, "two systems claim one position")
	if err != nil {
		t.Fatalf("AlertEvent() error = %v", err)
	}

	last := mock.LastAlert()
	if last == nil {
		t.Fatal("expected alert, got nil")
	}
	if last.Severity != SeverityCritical {
		t.Errorf("expected SeverityCritical, got %v", last.Severity)
	}
}

func TestMultiAlerter_CombinesErrors(t *testing.T) {
	ok := NewMockAlerter()
	bad1 := NewMockAlerter()
	bad1.SetError(errors.New("channel one down"))
	bad2 := NewMockAlerter()
	bad2.SetError(errors.New("channel two down"))

	multi := NewMultiAlerter(nil, ok, bad1, bad2)

	err := multi.Alert(context.Background(), SeverityCritical, "conflict")
	if err == nil {
		t.Fatal("expected error from failing channels")
	}
	if n := len(multierr.Errors(err)); n != 2 {
		t.Errorf("combined errors = %d, want 2", n)
	}
	if ok.Count() != 1 {
		t.Errorf("healthy channel received %d alerts, want 1", ok.Count())
	}
}

func TestMultiAlerter_SessionSummary(t *testing.T) {
	mock := NewMockAlerter()
	console := NewConsoleAlerter(nil)
	multi := NewMultiAlerter(nil, mock, console)

	var sender SummarySender = multi
	summary := NewSessionSummary(time.Now(), []SystemSummary{
		NewSystemSummary("A", "ALIVE", 2, 1, 0, decimal.NewFromInt(20), decimal.NewFromInt(1), "(0,1)", false),
	})

	if err := sender.SendSessionSummary(context.Background(), summary); err != nil {
		t.Fatalf("SendSessionSummary() error = %v", err)
	}

	// The mock does not take summaries; it must not receive a plain alert either
	if mock.Count() != 0 {
		t.Errorf("mock received %d alerts, want 0", mock.Count())
	}
}
