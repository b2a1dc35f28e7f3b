package alerting

import (
	"context"
	"log/slog"
)

// ConsoleAlerter logs alerts through slog. It is the default channel when no
// remote alerter is configured.
type ConsoleAlerter struct {
	logger *slog.Logger
}

// NewConsoleAlerter creates a new console alerter.
func NewConsoleAlerter(logger *slog.Logger) *ConsoleAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleAlerter{logger: logger}
}

// Name returns the name of the alerter.
func (c *ConsoleAlerter) Name() string {
	return "console"
}

// Alert logs an alert to the console.
func (c *ConsoleAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	// Convert fields to slog attrs
	attrs := make([]any, 0, len(fields)+2)
	attrs = append(attrs, "severity", severity.String())
	attrs = append(attrs, fields...)

	switch severity {
	case SeverityCritical:
		c.logger.Error("[ALERT] "+message, attrs...)
	case SeverityHigh:
		c.logger.Warn("[ALERT] "+message, attrs...)
	case SeverityWarning:
		c.logger.Warn("[ALERT] "+message, attrs...)
	default:
		c.logger.Info("[ALERT] "+message, attrs...)
	}

	return nil
}

// SendSessionSummary logs the summary one line per system.
func (c *ConsoleAlerter) SendSessionSummary(ctx context.Context, summary SessionSummary) error {
	c.logger.Info("[SUMMARY] session",
		"date", summary.Date.Format("2006-01-02"),
		"pl", summary.TotalPL.StringFixed(2),
		"trades", summary.TotalTrades,
		"win_rate", summary.WinRate.StringFixed(1),
		"halted", summary.Halted,
	)
	for _, s := range summary.Systems {
		c.logger.Info("[SUMMARY] system",
			"system", s.System,
			"lifecycle", s.Lifecycle,
			"tp", s.TakeProfit,
			"sl", s.StopLoss,
			"other", s.Other,
			"pl", s.TotalPL.StringFixed(2),
			"factor", s.RiskFactor,
			"sequence", s.Sequence,
			"halted", s.Halted,
		)
	}
	return nil
}
