package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tathienbao/ocogrid/internal/history"
	"github.com/tathienbao/ocogrid/internal/strategy"
	"github.com/tathienbao/ocogrid/internal/types"
)

// TestRecovery_StateRestored tests state restoration across a restart.
func TestRecovery_StateRestored(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "recovery_test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	dbPath := filepath.Join(tmpDir, "test.db")
	ctx := context.Background()

	// Create first repository and save state
	repo1, err := NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}

	original := sampleState("A")
	original.Progression.OnWin()

	if err := repo1.SaveSystemState(ctx, original); err != nil {
		t.Fatalf("failed to save state: %v", err)
	}
	if err := repo1.SaveClosedTrade(ctx, tradeRecord(1, "A", history.ReasonTP, time.Now().Truncate(time.Second), "20")); err != nil {
		t.Fatalf("failed to save trade: %v", err)
	}

	repo1.Close()

	// Create second repository (simulating restart)
	repo2, err := NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("failed to create second repository: %v", err)
	}
	defer repo2.Close()

	restored, err := repo2.GetSystemState(ctx, "A")
	if err != nil {
		t.Fatalf("failed to get state: %v", err)
	}

	if restored.Progression.Serialize() != original.Progression.Serialize() {
		t.Errorf("progression mismatch: got %s, want %s", restored.Progression.Serialize(), original.Progression.Serialize())
	}
	if restored.Progression.Streak() != 1 {
		t.Errorf("streak mismatch: got %d, want 1", restored.Progression.Streak())
	}
	if !restored.Watermark.Time.Equal(original.Watermark.Time) {
		t.Errorf("watermark mismatch: got %v, want %v", restored.Watermark.Time, original.Watermark.Time)
	}

	stats, err := repo2.GetTradeStats(ctx, "A")
	if err != nil {
		t.Fatalf("failed to get stats: %v", err)
	}
	if stats.Total != 1 {
		t.Errorf("journal mismatch: got %d trades, want 1", stats.Total)
	}
}

// TestRecovery_WatermarkPreventsReprocessing checks that a restored watermark
// keeps already processed history from being classified twice.
func TestRecovery_WatermarkPreventsReprocessing(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "recovery_test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	dbPath := filepath.Join(tmpDir, "test.db")
	ctx := context.Background()

	closeAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	state := strategy.NewSystemState("A", types.SideBuy)
	state.Watermark = history.Watermark{Time: closeAt, Tickets: []int64{11}}

	repo1, err := NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	if err := repo1.SaveSystemState(ctx, *state); err != nil {
		t.Fatalf("failed to save state: %v", err)
	}
	repo1.Close()

	repo2, err := NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("failed to reopen repository: %v", err)
	}
	defer repo2.Close()

	restored, err := repo2.GetSystemState(ctx, "A")
	if err != nil {
		t.Fatalf("failed to get state: %v", err)
	}

	if !restored.Watermark.Seen(11) {
		t.Error("ticket 11 should be marked as processed")
	}
	if restored.Watermark.Seen(12) {
		t.Error("ticket 12 should not be marked as processed")
	}
}

// TestRecovery_MigrateIdempotent runs the migrations twice on one database.
func TestRecovery_MigrateIdempotent(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := repo.SaveSystemState(ctx, sampleState("A")); err != nil {
		t.Fatalf("failed to save state: %v", err)
	}
	if err := repo.Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	states, err := repo.ListSystemStates(ctx)
	if err != nil {
		t.Fatalf("list states: %v", err)
	}
	if len(states) != 1 {
		t.Errorf("states length = %d, want 1", len(states))
	}
}
