// Package alerting provides operator notifications for the engine.
package alerting

import (
	"context"
	"fmt"
)

// Severity represents the alert severity level.
type Severity int

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = iota
	// SeverityWarning is for warning messages.
	SeverityWarning
	// SeverityHigh is for high priority alerts.
	SeverityHigh
	// SeverityCritical is for critical alerts requiring immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Emoji returns an emoji for the severity level.
func (s Severity) Emoji() string {
	switch s {
	case SeverityInfo:
		return "ℹ️"
	case SeverityWarning:
		return "⚠️"
	case SeverityHigh:
		return "🔴"
	case SeverityCritical:
		return "🚨"
	default:
		return "❓"
	}
}

// Alerter defines the interface for sending alerts.
type Alerter interface {
	// Alert sends an alert with the given severity and message.
	Alert(ctx context.Context, severity Severity, message string, fields ...any) error
	// Name returns the name of the alerter.
	Name() string
}

// SummarySender delivers a session summary.
type SummarySender interface {
	SendSessionSummary(ctx context.Context, summary SessionSummary) error
}

// FormatFields renders slog-style key/value pairs one per line. Non-string
// keys and a trailing key without a value are dropped.
func FormatFields(fields ...any) string {
	if len(fields) == 0 {
		return ""
	}

	result := ""
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		value := fields[i+1]
		if result != "" {
			result += "\n"
		}
		result += fmt.Sprintf("• %s: %v", key, value)
	}
	return result
}

// AlertEvent represents a pre-defined alert event type.
type AlertEvent string

const (
	// EventReconcileConflict is sent when two systems claim one position.
	EventReconcileConflict AlertEvent = "reconcile_conflict"
	// EventSystemHalted is sent when a system stops placing orders.
	EventSystemHalted AlertEvent = "system_halted"
	// EventDuplicatesClosed is sent when reconciliation closes duplicates.
	EventDuplicatesClosed AlertEvent = "duplicates_closed"
	// EventSubmissionFailed is sent when an order is rejected after retries.
	EventSubmissionFailed AlertEvent = "submission_failed"
	// EventSubmissionIndeterminate is sent when an order outcome is unknown.
	EventSubmissionIndeterminate AlertEvent = "submission_indeterminate"
	// EventTradeClosed is sent when a closed trade is classified.
	EventTradeClosed AlertEvent = "trade_closed"
	// EventSessionSummary is sent for the per-system trading summary.
	EventSessionSummary AlertEvent = "session_summary"
	// EventVenueDisconnected is sent when the venue connection is lost.
	EventVenueDisconnected AlertEvent = "venue_disconnected"
	// EventVenueRestored is sent when the venue connection is restored.
	EventVenueRestored AlertEvent = "venue_restored"
	// EventBotStarted is sent when the engine starts.
	EventBotStarted AlertEvent = "bot_started"
	// EventBotStopped is sent when the engine stops.
	EventBotStopped AlertEvent = "bot_stopped"
)

// EventSeverity returns the default severity for an event.
func EventSeverity(event AlertEvent) Severity {
	switch event {
	case EventReconcileConflict, EventSystemHalted:
		return SeverityCritical
	case EventDuplicatesClosed:
		return SeverityHigh
	case EventSubmissionFailed, EventSubmissionIndeterminate, EventVenueDisconnected:
		return SeverityWarning
	case EventTradeClosed, EventSessionSummary, EventVenueRestored:
		return SeverityInfo
	case EventBotStarted, EventBotStopped:
		return SeverityInfo
	default:
		return SeverityInfo
	}
}

// Send delivers a predefined event through any alerter.
func Send(ctx context.Context, a Alerter, event AlertEvent, message string, fields ...any) error {
	if a == nil {
		return nil
	}
	fields = append([]any{"event", string(event)}, fields...)
	return a.Alert(ctx, EventSeverity(event), message, fields...)
}
