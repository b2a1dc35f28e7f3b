package strategy

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/ocogrid/internal/types"
)

// GateConfig holds the entry gate settings.
type GateConfig struct {
	SpreadCheck        bool
	MaxSpreadPips      decimal.Decimal // Zero means no limit
	MarketDistanceBand bool            // Band check for market-path submissions
	ShadowDistanceBand bool            // Band check for shadow limit orders
	MinDistancePips    decimal.Decimal
	MaxDistancePips    decimal.Decimal // Zero means unbounded
}

// OrderRequest describes a candidate submission.
type OrderRequest struct {
	System            string
	Price             decimal.Decimal
	IsBuy             bool
	SpreadPips        decimal.Decimal
	DistancePips      decimal.Decimal // Distance to the nearest same-direction position
	HasDistance       bool            // False when no same-direction position exists
	Shadow            bool            // Pending limit placed alongside the market path
	SystemHasPosition bool
}

// Decision is the gate outcome.
type Decision struct {
	Allowed bool
	Reason  error // Sentinel from types when denied
	Detail  string
}

// Err returns a *types.GateError for denials and nil otherwise.
func (d Decision) Err(system string) error {
	if d.Allowed {
		return nil
	}
	return &types.GateError{Reason: d.Reason, System: system, Detail: d.Detail}
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason error, format string, args ...any) Decision {
	return Decision{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Gate decides whether an order may be submitted. It has no side effects
// beyond debug logging.
type Gate struct {
	cfg    GateConfig
	logger *slog.Logger
}

// NewGate creates an entry gate.
func NewGate(cfg GateConfig, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		cfg:    cfg,
		logger: logger,
	}
}

// Config returns the gate configuration.
func (g *Gate) Config() GateConfig {
	return g.cfg
}

// BandEnabled reports whether the distance band applies to the given path.
func (g *Gate) BandEnabled(shadow bool) bool {
	if shadow {
		return g.cfg.ShadowDistanceBand
	}
	return g.cfg.MarketDistanceBand
}

// CanPlaceOrder evaluates a request. Checks run in order: existing position,
// spread, distance band.
func (g *Gate) CanPlaceOrder(req OrderRequest) Decision {
	decision := g.evaluate(req)
	if !decision.Allowed {
		g.logger.Debug("gate denied",
			"system", req.System,
			"price", req.Price,
			"buy", req.IsBuy,
			"shadow", req.Shadow,
			"reason", decision.Reason,
			"detail", decision.Detail,
		)
	}
	return decision
}

func (g *Gate) evaluate(req OrderRequest) Decision {
	if req.SystemHasPosition {
		return deny(types.ErrPositionExists, "system %s", req.System)
	}

	if g.cfg.SpreadCheck && g.cfg.MaxSpreadPips.GreaterThan(decimal.Zero) &&
		req.SpreadPips.GreaterThan(g.cfg.MaxSpreadPips) {
		return deny(types.ErrSpreadExceeded, "spread %s > max %s pips", req.SpreadPips, g.cfg.MaxSpreadPips)
	}

	if g.BandEnabled(req.Shadow) && req.HasDistance {
		if req.DistancePips.LessThan(g.cfg.MinDistancePips) {
			return deny(types.ErrDistanceBandViolation, "distance %s < min %s pips", req.DistancePips, g.cfg.MinDistancePips)
		}
		if g.cfg.MaxDistancePips.GreaterThan(decimal.Zero) && req.DistancePips.GreaterThan(g.cfg.MaxDistancePips) {
			return deny(types.ErrDistanceBandViolation, "distance %s > max %s pips", req.DistancePips, g.cfg.MaxDistancePips)
		}
	}

	return allow()
}
