package strategy

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tathienbao/ocogrid/internal/types"
)

func pos(ticket int64, system string, openSec int64) types.Position {
	return types.Position{Ticket: ticket, System: system, OpenTime: time.Unix(openSec, 0)}
}

func ticketsOf(ps []types.Position) []int64 {
	out := make([]int64, len(ps))
	for i, p := range ps {
		out[i] = p.Ticket
	}
	return out
}

func TestReconcileDuplicates_KeepsEarliest(t *testing.T) {
	positions := []types.Position{
		pos(1, "A", 1),
		pos(2, "A", 2),
		pos(3, "B", 1),
		pos(4, "B", 3),
	}

	r := ReconcileDuplicates(positions)

	assert.Equal(t, []int64{1, 3}, ticketsOf(r.Retained))
	assert.ElementsMatch(t, []int64{2, 4}, ticketsOf(r.ToClose))
}

func TestReconcileDuplicates_InputOrderDoesNotMatter(t *testing.T) {
	positions := []types.Position{
		pos(7, "A", 30),
		pos(5, "A", 10),
		pos(6, "A", 20),
	}

	r := ReconcileDuplicates(positions)

	require.Len(t, r.Retained, 1)
	assert.Equal(t, int64(5), r.Retained[0].Ticket)
	assert.ElementsMatch(t, []int64{6, 7}, ticketsOf(r.ToClose))
}

func TestReconcileDuplicates_TieBreaksOnTicket(t *testing.T) {
	r := ReconcileDuplicates([]types.Position{pos(9, "A", 5), pos(8, "A", 5)})

	assert.Equal(t, []int64{8}, ticketsOf(r.Retained))
	assert.Equal(t, []int64{9}, ticketsOf(r.ToClose))
}

func TestReconcileDuplicates_IgnoresUntagged(t *testing.T) {
	r := ReconcileDuplicates([]types.Position{pos(1, "", 1), pos(2, "", 2), pos(3, "A", 3)})

	assert.Equal(t, []int64{3}, ticketsOf(r.Retained))
	assert.Empty(t, r.ToClose)
}

func TestReconcileDuplicates_Property(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	systems := []string{"A", "B", "C"}

	for round := 0; round < 200; round++ {
		n := rng.Intn(8)
		positions := make([]types.Position, n)
		for i := range positions {
			positions[i] = pos(int64(i+1), systems[rng.Intn(len(systems))], int64(rng.Intn(5)))
		}

		r := ReconcileDuplicates(positions)
		assert.Equal(t, n, len(r.Retained)+len(r.ToClose))

		groups := BySystem(positions)
		require.Len(t, r.Retained, len(groups))
		for _, kept := range r.Retained {
			for _, p := range groups[kept.System] {
				assert.False(t, p.OpenTime.Before(kept.OpenTime), "round %d: kept %d but %d is earlier", round, kept.Ticket, p.Ticket)
			}
		}
	}
}

func TestGroupHelpers(t *testing.T) {
	byPos := BySystem([]types.Position{pos(1, "A", 1), pos(2, "", 1), pos(3, "A", 2)})
	assert.Len(t, byPos["A"], 2)
	assert.NotContains(t, byPos, "")

	byOrd := OrdersBySystem([]types.PendingOrder{{Ticket: 1, System: "B"}, {Ticket: 2}})
	assert.Len(t, byOrd["B"], 1)
	assert.Len(t, byOrd, 1)
}
