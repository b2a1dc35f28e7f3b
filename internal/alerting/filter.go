package alerting

import "context"

// FilteredAlerter drops events the allow function rejects. Alerts sent
// without an event field always pass.
type FilteredAlerter struct {
	next  Alerter
	allow func(event string) bool
}

// NewFilteredAlerter wraps next with an event filter.
func NewFilteredAlerter(next Alerter, allow func(event string) bool) *FilteredAlerter {
	return &FilteredAlerter{next: next, allow: allow}
}

// Name returns the name of the wrapped alerter.
func (f *FilteredAlerter) Name() string {
	return f.next.Name()
}

// Alert forwards the alert when its event is allowed.
func (f *FilteredAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	if event, ok := eventOf(fields); ok && !f.allow(event) {
		return nil
	}
	return f.next.Alert(ctx, severity, message, fields...)
}

// SendSessionSummary forwards the summary when session summaries are allowed
// and the wrapped alerter supports them.
func (f *FilteredAlerter) SendSessionSummary(ctx context.Context, summary SessionSummary) error {
	if !f.allow(string(EventSessionSummary)) {
		return nil
	}
	sender, ok := f.next.(SummarySender)
	if !ok {
		return nil
	}
	return sender.SendSessionSummary(ctx, summary)
}

func eventOf(fields []any) (string, bool) {
	for i := 0; i+1 < len(fields); i += 2 {
		if key, ok := fields[i].(string); ok && key == "event" {
			event, ok := fields[i+1].(string)
			return event, ok
		}
	}
	return "", false
}
