package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/ocogrid/internal/history"
	"github.com/tathienbao/ocogrid/internal/risk"
	"github.com/tathienbao/ocogrid/internal/strategy"
	"github.com/tathienbao/ocogrid/internal/types"
	"github.com/vmihailenco/msgpack/v5"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository creates a new SQLite repository.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db}

	// Run migrations
	if err := repo.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return repo, nil
}

// Migrate runs database migrations.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS system_state (
			system TEXT PRIMARY KEY,
			lifecycle TEXT NOT NULL,
			position_ticket INTEGER NOT NULL DEFAULT 0,
			watermark_ns INTEGER NOT NULL DEFAULT 0,
			watermark_tickets BLOB,
			progression TEXT NOT NULL,
			next_side TEXT NOT NULL,
			pair_market_ticket INTEGER NOT NULL DEFAULT 0,
			pair_limit_ticket INTEGER NOT NULL DEFAULT 0,
			pair_side TEXT NOT NULL DEFAULT 'FLAT',
			pair_ref_price TEXT NOT NULL DEFAULT '0',
			pair_set_ns INTEGER NOT NULL DEFAULT 0,
			last_ref TEXT NOT NULL DEFAULT '0',
			halted INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS closed_trades (
			ticket INTEGER PRIMARY KEY,
			system TEXT NOT NULL,
			reason TEXT NOT NULL,
			sequence BLOB,
			order_type INTEGER NOT NULL,
			side TEXT NOT NULL,
			lots TEXT NOT NULL,
			open_price TEXT NOT NULL,
			close_price TEXT NOT NULL,
			profit TEXT NOT NULL DEFAULT '0',
			open_time DATETIME NOT NULL,
			close_time DATETIME NOT NULL,
			comment TEXT,
			recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_closed_trades_system ON closed_trades(system)`,
		`CREATE INDEX IF NOT EXISTS idx_closed_trades_close_time ON closed_trades(close_time)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// SaveSystemState upserts the state of one system.
func (r *SQLiteRepository) SaveSystemState(ctx context.Context, state strategy.SystemState) error {
	tickets, err := msgpack.Marshal(state.Watermark.Tickets)
	if err != nil {
		return fmt.Errorf("encode watermark tickets: %w", err)
	}

	progression := risk.NewProgression()
	if state.Progression != nil {
		progression = state.Progression
	}

	updatedAt := state.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	query := `INSERT OR REPLACE INTO system_state
		(system, lifecycle, position_ticket, watermark_ns, watermark_tickets, progression, next_side,
		 pair_market_ticket, pair_limit_ticket, pair_side, pair_ref_price, pair_set_ns,
		 last_ref, halted, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		state.System,
		state.Lifecycle.String(),
		state.Position,
		toNanos(state.Watermark.Time),
		tickets,
		progression.Serialize(),
		state.NextSide.String(),
		state.Pair.MarketTicket,
		state.Pair.LimitTicket,
		state.Pair.Side.String(),
		state.Pair.RefPrice.String(),
		toNanos(state.Pair.SetAt),
		state.LastRef.String(),
		boolToInt(state.Halted),
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("save system state %s: %w", state.System, err)
	}

	return nil
}

const systemStateColumns = `system, lifecycle, position_ticket, watermark_ns, watermark_tickets, progression, next_side,
	pair_market_ticket, pair_limit_ticket, pair_side, pair_ref_price, pair_set_ns,
	last_ref, halted, updated_at`

// GetSystemState returns the saved state of one system, or ErrStateNotFound.
func (r *SQLiteRepository) GetSystemState(ctx context.Context, system string) (*strategy.SystemState, error) {
	query := `SELECT ` + systemStateColumns + ` FROM system_state WHERE system = ?`

	state, err := scanSystemState(r.db.QueryRowContext(ctx, query, system))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", types.ErrStateNotFound, system)
	}
	if err != nil {
		return nil, fmt.Errorf("query system state %s: %w", system, err)
	}

	return state, nil
}

// ListSystemStates returns every saved system state ordered by system.
func (r *SQLiteRepository) ListSystemStates(ctx context.Context) ([]strategy.SystemState, error) {
	query := `SELECT ` + systemStateColumns + ` FROM system_state ORDER BY system`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query system states: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var states []strategy.SystemState
	for rows.Next() {
		s, err := scanSystemState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		states = append(states, *s)
	}

	return states, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSystemState(row scanner) (*strategy.SystemState, error) {
	var (
		s                                          strategy.SystemState
		lifecycle, progression, nextSide, pairSide string
		pairRef, lastRef                           string
		watermarkNs, pairSetNs                     int64
		tickets                                    []byte
		halted                                     int
	)

	err := row.Scan(
		&s.System,
		&lifecycle,
		&s.Position,
		&watermarkNs,
		&tickets,
		&progression,
		&nextSide,
		&s.Pair.MarketTicket,
		&s.Pair.LimitTicket,
		&pairSide,
		&pairRef,
		&pairSetNs,
		&lastRef,
		&halted,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	var ok bool
	if s.Lifecycle, ok = strategy.ParseLifecycle(lifecycle); !ok {
		return nil, fmt.Errorf("system %s: unknown lifecycle %q", s.System, lifecycle)
	}
	if s.NextSide, ok = types.ParseSide(nextSide); !ok {
		return nil, fmt.Errorf("system %s: unknown side %q", s.System, nextSide)
	}
	s.Pair.Side, _ = types.ParseSide(pairSide)

	if s.Progression, err = risk.ParseProgression(progression); err != nil {
		return nil, fmt.Errorf("system %s: %w", s.System, err)
	}

	s.Watermark.Time = fromNanos(watermarkNs)
	if len(tickets) > 0 {
		if err := msgpack.Unmarshal(tickets, &s.Watermark.Tickets); err != nil {
			return nil, fmt.Errorf("system %s: decode watermark tickets: %w", s.System, err)
		}
	}

	s.Pair.RefPrice, _ = decimal.NewFromString(pairRef)
	s.Pair.SetAt = fromNanos(pairSetNs)
	s.LastRef, _ = decimal.NewFromString(lastRef)
	s.Halted = halted == 1

	return &s, nil
}

// SaveClosedTrade journals a classified trade. A ticket is recorded once.
func (r *SQLiteRepository) SaveClosedTrade(ctx context.Context, rec TradeRecord) error {
	seq, err := msgpack.Marshal(rec.Sequence)
	if err != nil {
		return fmt.Errorf("encode sequence: %w", err)
	}

	recordedAt := rec.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	query := `INSERT OR IGNORE INTO closed_trades
		(ticket, system, reason, sequence, order_type, side, lots, open_price, close_price, profit, open_time, close_time, comment, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		rec.Ticket,
		rec.System,
		rec.Reason.String(),
		seq,
		int(rec.Type),
		rec.Side.String(),
		rec.Lots.String(),
		rec.OpenPrice.String(),
		rec.ClosePrice.String(),
		rec.Profit.String(),
		rec.OpenTime,
		rec.CloseTime,
		rec.Comment,
		recordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert closed trade: %w", err)
	}

	return nil
}

// GetClosedTrades returns the most recent journaled trades of a system.
func (r *SQLiteRepository) GetClosedTrades(ctx context.Context, system string, limit int) ([]TradeRecord, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `SELECT ticket, system, reason, sequence, order_type, side, lots, open_price, close_price, profit, open_time, close_time, comment, recorded_at
		FROM closed_trades WHERE system = ? ORDER BY close_time DESC, ticket DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, system, limit)
	if err != nil {
		return nil, fmt.Errorf("query closed trades: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var trades []TradeRecord
	for rows.Next() {
		var t TradeRecord
		var reason, side, lots, openPrice, closePrice, profit string
		var orderType int
		var seq []byte
		var comment sql.NullString

		if err := rows.Scan(&t.Ticket, &t.System, &reason, &seq, &orderType, &side, &lots, &openPrice, &closePrice, &profit, &t.OpenTime, &t.CloseTime, &comment, &t.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		t.Reason = parseReason(reason)
		t.Type = types.OrderType(orderType)
		t.Side, _ = types.ParseSide(side)
		t.Lots, _ = decimal.NewFromString(lots)
		t.OpenPrice, _ = decimal.NewFromString(openPrice)
		t.ClosePrice, _ = decimal.NewFromString(closePrice)
		t.Profit, _ = decimal.NewFromString(profit)
		t.Comment = comment.String
		if len(seq) > 0 {
			if err := msgpack.Unmarshal(seq, &t.Sequence); err != nil {
				return nil, fmt.Errorf("decode sequence of %d: %w", t.Ticket, err)
			}
		}

		trades = append(trades, t)
	}

	return trades, rows.Err()
}

// GetTradeStats counts the journal of a system by close reason.
func (r *SQLiteRepository) GetTradeStats(ctx context.Context, system string) (*TradeStats, error) {
	query := `SELECT reason, profit FROM closed_trades WHERE system = ?`

	rows, err := r.db.QueryContext(ctx, query, system)
	if err != nil {
		return nil, fmt.Errorf("query trade stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stats := &TradeStats{System: system}
	for rows.Next() {
		var reason, profit string
		if err := rows.Scan(&reason, &profit); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		stats.Total++
		switch parseReason(reason) {
		case history.ReasonTP:
			stats.TakeProfit++
		case history.ReasonSL:
			stats.StopLoss++
		default:
			stats.Other++
		}
		pl, _ := decimal.NewFromString(profit)
		stats.TotalPL = stats.TotalPL.Add(pl)
	}

	return stats, rows.Err()
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func parseReason(s string) history.Reason {
	switch s {
	case "TP":
		return history.ReasonTP
	case "SL":
		return history.ReasonSL
	default:
		return history.ReasonOther
	}
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
