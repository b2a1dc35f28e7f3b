// Package engine provides the per-cycle controller of the OCO grid.
//
// The engine owns every SystemState for the process lifetime. Each cycle
// reads one venue snapshot and runs, in fixed order, the conflict check,
// lifecycle update, OCO detection, TP/SL maintenance, gated pair placement and
// closed-trade processing, then persists the result. Cycles never overlap.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/ocogrid/internal/alerting"
	"github.com/tathienbao/ocogrid/internal/broker"
	"github.com/tathienbao/ocogrid/internal/comment"
	"github.com/tathienbao/ocogrid/internal/execution"
	"github.com/tathienbao/ocogrid/internal/history"
	"github.com/tathienbao/ocogrid/internal/metrics"
	"github.com/tathienbao/ocogrid/internal/persistence"
	"github.com/tathienbao/ocogrid/internal/risk"
	"github.com/tathienbao/ocogrid/internal/strategy"
	"github.com/tathienbao/ocogrid/internal/types"
)

// ErrNotInitialized is returned by Cycle before Initialize has completed.
var ErrNotInitialized = errors.New("engine not initialized")

// SystemConfig describes one logical system.
type SystemConfig struct {
	Tag         string
	InitialSide types.Side
}

// Config holds engine configuration.
type Config struct {
	Systems         []SystemConfig
	GridPips        decimal.Decimal
	OCOOffsetPips   decimal.Decimal
	RepricePips     decimal.Decimal // Zero disables repricing
	Tolerance       history.ToleranceMode
	HistoryLookback time.Duration // How far back a fresh system reads history
	CycleInterval   time.Duration
	InitialEntry    bool // Market entry for flat systems on startup
	CloseOnShutdown bool
	Magic           int
}

// DefaultConfig returns default engine config.
func DefaultConfig() Config {
	return Config{
		Systems: []SystemConfig{
			{Tag: "A", InitialSide: types.SideBuy},
			{Tag: "B", InitialSide: types.SideSell},
		},
		GridPips:      decimal.NewFromInt(20),
		OCOOffsetPips: decimal.NewFromInt(10),
		Tolerance:     history.ToleranceHalfPip,
		CycleInterval: time.Second,
	}
}

// Components are the collaborators the engine drives. Repo and Alerter are
// optional; History is built from Codec when nil.
type Components struct {
	Venue    broker.Venue
	Executor *execution.RetryExecutor
	Codec    *comment.Codec
	Sizer    *risk.LotSizer
	Gate     *strategy.Gate
	History  *history.Processor
	Repo     persistence.Repository
	Alerter  alerting.Alerter
}

// Engine coordinates all trading components.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	venue    broker.Venue
	exec     *execution.RetryExecutor
	codec    *comment.Codec
	sizer    *risk.LotSizer
	gate     *strategy.Gate
	history  *history.Processor
	repo     persistence.Repository
	alerter  alerting.Alerter
	recorder *metrics.Recorder
	inst     types.Instrument
	now      func() time.Time

	// State, guarded by mu. Cycles hold the write lock end to end.
	mu          sync.RWMutex
	states      map[string]*strategy.SystemState
	order       []string
	initialized bool
	duplicates  map[int64]bool // Tickets closed by reconciliation, not by the strategy
	venueUp     bool           // Connection state at the last sample

	runMu   sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup

	lastCycle atomic.Int64
}

// NewEngine creates a new trading engine.
func NewEngine(cfg Config, c Components, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch {
	case c.Venue == nil:
		return nil, fmt.Errorf("engine: venue is required")
	case c.Executor == nil:
		return nil, fmt.Errorf("engine: executor is required")
	case c.Codec == nil:
		return nil, fmt.Errorf("engine: codec is required")
	case c.Sizer == nil:
		return nil, fmt.Errorf("engine: lot sizer is required")
	case c.Gate == nil:
		return nil, fmt.Errorf("engine: entry gate is required")
	}
	if len(cfg.Systems) == 0 {
		return nil, fmt.Errorf("engine: no systems configured")
	}
	if !cfg.GridPips.GreaterThan(decimal.Zero) {
		return nil, fmt.Errorf("engine: grid must be positive, got %s", cfg.GridPips)
	}
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = time.Second
	}
	if !cfg.Tolerance.Valid() {
		cfg.Tolerance = history.ToleranceHalfPip
	}

	inst := c.Venue.Instrument()
	proc := c.History
	if proc == nil {
		proc = history.NewProcessor(c.Codec, inst, cfg.Tolerance, logger)
	}

	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		venue:    c.Venue,
		exec:     c.Executor,
		codec:    c.Codec,
		sizer:    c.Sizer,
		gate:     c.Gate,
		history:  proc,
		repo:     c.Repo,
		alerter:  c.Alerter,
		recorder: metrics.NewRecorder(),
		inst:     inst,
		now:      time.Now,
		states:   make(map[string]*strategy.SystemState, len(cfg.Systems)),

		duplicates: make(map[int64]bool),
	}

	for _, sys := range cfg.Systems {
		if err := strategy.ValidateSystemTag(sys.Tag); err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		if _, dup := e.states[sys.Tag]; dup {
			return nil, fmt.Errorf("engine: system %s configured twice", sys.Tag)
		}
		e.states[sys.Tag] = strategy.NewSystemState(sys.Tag, sys.InitialSide)
		e.order = append(e.order, sys.Tag)
	}

	return e, nil
}

// Start initializes the engine if needed and runs cycles until Stop.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	if e.running {
		e.runMu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.done = make(chan struct{})
	e.runMu.Unlock()

	if !e.isInitialized() {
		if err := e.Initialize(ctx); err != nil {
			if !e.isInitialized() {
				e.runMu.Lock()
				e.running = false
				e.runMu.Unlock()
				return fmt.Errorf("initialize: %w", err)
			}
			e.logger.Warn("initialization completed with errors", "err", err)
		}
	}

	e.logger.Info("starting trading engine",
		"symbol", e.inst.Symbol,
		"systems", e.order,
		"interval", e.cfg.CycleInterval,
	)

	e.wg.Add(1)
	go e.cycleLoop(ctx, e.done)

	e.alert(ctx, alerting.EventBotStarted, "Trading engine started",
		"symbol", e.inst.Symbol,
		"systems", len(e.order),
	)

	return nil
}

// cycleLoop runs a cycle on every tick.
func (e *Engine) cycleLoop(ctx context.Context, done <-chan struct{}) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.CycleInterval)
	defer ticker.Stop()

	e.logger.Info("cycle loop started")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("cycle loop stopped: context cancelled")
			return
		case <-done:
			e.logger.Info("cycle loop stopped: shutdown requested")
			return
		case <-ticker.C:
			if err := e.Cycle(ctx); err != nil {
				e.logger.Error("cycle failed", "err", err)
				e.recorder.RecordError("cycle")
			}
		}
	}
}

// Stop stops the cycle loop. With CloseOnShutdown it then cancels our pending
// orders and closes our positions.
func (e *Engine) Stop(ctx context.Context) error {
	e.runMu.Lock()
	if !e.running {
		e.runMu.Unlock()
		return nil
	}
	e.running = false
	close(e.done)
	e.runMu.Unlock()

	e.logger.Info("stopping trading engine")
	e.wg.Wait()

	var err error
	if e.cfg.CloseOnShutdown {
		err = e.Shutdown(ctx)
	}

	if serr := e.SendSummary(ctx); serr != nil {
		e.logger.Warn("failed to send session summary", "err", serr)
	}
	e.alert(ctx, alerting.EventBotStopped, "Trading engine stopped")

	e.logger.Info("trading engine stopped")
	return err
}

// IsRunning returns true if the cycle loop is running.
func (e *Engine) IsRunning() bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.running
}

func (e *Engine) isInitialized() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.initialized
}

// States returns copies of every system state in configuration order.
func (e *Engine) States() []strategy.SystemState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]strategy.SystemState, 0, len(e.order))
	for _, sys := range e.order {
		out = append(out, e.states[sys].Clone())
	}
	return out
}

// State returns a copy of one system state.
func (e *Engine) State(system string) (strategy.SystemState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st, ok := e.states[system]
	if !ok {
		return strategy.SystemState{}, false
	}
	return st.Clone(), true
}

// LastCycle returns when the last cycle completed.
func (e *Engine) LastCycle() time.Time {
	ns := e.lastCycle.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Instrument returns the traded instrument.
func (e *Engine) Instrument() types.Instrument {
	return e.inst
}

// alert sends an event and logs delivery failures.
func (e *Engine) alert(ctx context.Context, event alerting.AlertEvent, msg string, fields ...any) {
	if err := alerting.Send(ctx, e.alerter, event, msg, fields...); err != nil {
		e.logger.Warn("failed to send alert", "event", event, "err", err)
	}
}
