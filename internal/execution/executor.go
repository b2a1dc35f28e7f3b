// Package execution submits orders to the venue with a bounded retry loop and
// a configurable slippage policy.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/ocogrid/internal/broker"
	"github.com/tathienbao/ocogrid/internal/types"
	"golang.org/x/time/rate"
)

// UnprotectedMode selects the slippage used when the protected limit is off.
type UnprotectedMode string

const (
	UnprotectedUnlimited UnprotectedMode = "unlimited"
	UnprotectedZero      UnprotectedMode = "zero"
)

// Valid reports whether the mode is known.
func (m UnprotectedMode) Valid() bool {
	return m == UnprotectedUnlimited || m == UnprotectedZero
}

// MaxSlippage is the "accept any price" sentinel in points.
const MaxSlippage = math.MaxInt32

// SlippagePolicy decides the slippage parameter of a submission.
type SlippagePolicy struct {
	ProtectedLimit bool
	SlippagePips   decimal.Decimal
	Unprotected    UnprotectedMode
}

// Points returns the slippage in venue points. With the protected limit on,
// SlippagePips is converted to points and rounded to the nearest integer.
func (p SlippagePolicy) Points(inst types.Instrument) int {
	if p.ProtectedLimit {
		return inst.PipsToPoints(p.SlippagePips)
	}
	if p.Unprotected == UnprotectedZero {
		return 0
	}
	return MaxSlippage
}

// RetryConfig bounds the retry loop.
type RetryConfig struct {
	MaxRetries        int           // Retries after the first attempt
	RetryDelay        time.Duration // Pause between attempts
	RequestsPerSecond float64       // Venue request pacing; 0 disables
	Burst             int
	OrderTimeout      time.Duration // Response window per venue call; 0 disables
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		RetryDelay:        500 * time.Millisecond,
		RequestsPerSecond: 5,
		Burst:             5,
		OrderTimeout:      5 * time.Second,
	}
}

// Revalidator re-checks a submission against a refreshed quote. It may adjust
// spec (price, SL/TP) and returns an error to abort, typically a gate denial.
type Revalidator func(ctx context.Context, spec *types.OrderSpec, q types.Quote) error

// Result describes a successful or failed submission.
type Result struct {
	Ticket   int64
	Attempts int
	Slippage int
	Spec     types.OrderSpec // As finally submitted
}

// RetryExecutor submits orders with retries.
type RetryExecutor struct {
	venue   broker.Venue
	policy  SlippagePolicy
	cfg     RetryConfig
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewRetryExecutor creates an executor for venue.
func NewRetryExecutor(venue broker.Venue, policy SlippagePolicy, cfg RetryConfig, logger *slog.Logger) *RetryExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &RetryExecutor{
		venue:   venue,
		policy:  policy,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// Policy returns the slippage policy.
func (e *RetryExecutor) Policy() SlippagePolicy {
	return e.policy
}

// Submit sends spec to the venue.
//
// Transient failures are retried up to MaxRetries times. Requotes refresh the
// quote and run revalidate before the next attempt, so a stale price never
// bypasses the gate. Indeterminate outcomes are returned immediately as
// ErrSubmissionIndeterminate; the next snapshot decides what happened.
func (e *RetryExecutor) Submit(ctx context.Context, spec types.OrderSpec, revalidate Revalidator) (Result, error) {
	inst := e.venue.Instrument()
	spec.Slippage = e.policy.Points(inst)
	res := Result{Slippage: spec.Slippage}

	for attempt := 0; ; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return res, fmt.Errorf("%w: %w", types.ErrSubmissionFailed, err)
		}

		res.Attempts = attempt + 1
		res.Spec = spec

		callCtx, cancel := e.callContext(ctx)
		ticket, err := e.venue.Submit(callCtx, spec)
		cancel()
		if err == nil {
			res.Ticket = ticket
			e.logger.Info("order submitted",
				"ticket", ticket,
				"type", spec.Type,
				"side", spec.EffectiveSide(),
				"lots", spec.Lots,
				"price", spec.Price,
				"sl", spec.StopLoss,
				"tp", spec.TakeProfit,
				"slippage", spec.Slippage,
				"protected_limit", e.policy.ProtectedLimit,
				"attempts", res.Attempts,
				"comment", spec.Comment,
			)
			return res, nil
		}

		if broker.IsIndeterminate(err) {
			e.logger.Warn("order outcome unknown, deferring to next snapshot",
				"type", spec.Type,
				"comment", spec.Comment,
				"err", err,
			)
			return res, fmt.Errorf("%w: %w", types.ErrSubmissionIndeterminate, err)
		}
		if !broker.IsTransient(err) {
			return res, fmt.Errorf("%w: %w", types.ErrSubmissionFailed, err)
		}
		if attempt >= e.cfg.MaxRetries {
			return res, fmt.Errorf("%w after %d attempts: %w", types.ErrSubmissionFailed, res.Attempts, err)
		}

		e.logger.Warn("order submission retry",
			"attempt", res.Attempts,
			"max_retries", e.cfg.MaxRetries,
			"type", spec.Type,
			"err", err,
		)

		if broker.NeedsRefresh(err) {
			q, qerr := e.venue.RefreshQuote(ctx)
			if qerr != nil {
				return res, fmt.Errorf("%w: refresh quote: %w", types.ErrSubmissionFailed, qerr)
			}
			if spec.Type == types.OrderTypeMarket {
				spec.Price = q.EntryPrice(spec.Side)
			}
			if revalidate != nil {
				if verr := revalidate(ctx, &spec, q); verr != nil {
					return res, verr
				}
			}
		}

		if err := sleep(ctx, e.cfg.RetryDelay); err != nil {
			return res, fmt.Errorf("%w: %w", types.ErrSubmissionFailed, err)
		}
	}
}

// Cancel deletes a pending order, retrying transient failures. An unknown
// ticket counts as already cancelled.
func (e *RetryExecutor) Cancel(ctx context.Context, ticket int64) error {
	return e.withRetry(ctx, "cancel", func(ctx context.Context) error {
		err := e.venue.Cancel(ctx, ticket)
		if isUnknownTicket(err) {
			return nil
		}
		return err
	})
}

// Modify sets SL/TP on a ticket, retrying transient failures.
func (e *RetryExecutor) Modify(ctx context.Context, ticket int64, sl, tp decimal.Decimal) error {
	return e.withRetry(ctx, "modify", func(ctx context.Context) error {
		return e.venue.Modify(ctx, ticket, sl, tp)
	})
}

// Close closes a position with the policy slippage, retrying transient
// failures.
func (e *RetryExecutor) Close(ctx context.Context, ticket int64, lots decimal.Decimal) error {
	slippage := e.policy.Points(e.venue.Instrument())
	return e.withRetry(ctx, "close", func(ctx context.Context) error {
		return e.venue.Close(ctx, ticket, lots, slippage)
	})
}

// callContext bounds one venue call by the response window. A call that runs
// past it fails with context.DeadlineExceeded, which is indeterminate.
func (e *RetryExecutor) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.OrderTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.cfg.OrderTimeout)
}

func (e *RetryExecutor) withRetry(ctx context.Context, op string, call func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		callCtx, cancel := e.callContext(ctx)
		err := call(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if !broker.IsTransient(err) || attempt >= e.cfg.MaxRetries {
			return fmt.Errorf("%s: %w", op, err)
		}

		e.logger.Warn("venue call retry", "op", op, "attempt", attempt+1, "err", err)

		if err := sleep(ctx, e.cfg.RetryDelay); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
}

func isUnknownTicket(err error) bool {
	return errors.Is(err, broker.ErrUnknownTicket)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
