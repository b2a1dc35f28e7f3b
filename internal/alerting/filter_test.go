package alerting

import (
	"context"
	"testing"
	"time"
)

func TestFilteredAlerter(t *testing.T) {
	mock := NewMockAlerter()
	allowed := map[string]bool{string(EventReconcileConflict): true}
	f := NewFilteredAlerter(mock, func(event string) bool { return allowed[event] })
	ctx := context.Background()

	if f.Name() != "mock" {
		t.Errorf("Name() = %s, want mock", f.Name())
	}

	if err := Send(ctx, f, EventBotStarted, "started"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if mock.Count() != 0 {
		t.Errorf("filtered event delivered, count = %d", mock.Count())
	}

	if err := Send(ctx, f, EventReconcileConflict, "conflict", "system", "A"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !mock.HasEvent(EventReconcileConflict) {
		t.Error("allowed event not delivered")
	}

	// Alerts without an event field are never filtered
	if err := f.Alert(ctx, SeverityInfo, "plain"); err != nil {
		t.Fatalf("Alert() error = %v", err)
	}
	if mock.Count() != 2 {
		t.Errorf("count = %d, want 2", mock.Count())
	}
}

func TestFilteredAlerter_SessionSummary(t *testing.T) {
	summary := NewSessionSummary(time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), nil)

	// The mock does not deliver summaries, so an allowed summary is a no-op
	f := NewFilteredAlerter(NewMockAlerter(), func(string) bool { return true })
	if err := f.SendSessionSummary(context.Background(), summary); err != nil {
		t.Errorf("SendSessionSummary() error = %v", err)
	}

	c := NewFilteredAlerter(NewConsoleAlerter(nil), func(string) bool { return false })
	if err := c.SendSessionSummary(context.Background(), summary); err != nil {
		t.Errorf("SendSessionSummary() error = %v", err)
	}
}
