package strategy

import (
	"sort"

	"github.com/tathienbao/ocogrid/internal/types"
)

// Reconciliation is the outcome of collapsing duplicate positions.
type Reconciliation struct {
	Retained []types.Position // One per system, sorted by system tag
	ToClose  []types.Position
}

// ReconcileDuplicates keeps the earliest position of every system and marks
// the rest for closure. Positions without a system tag are ignored. Ties on
// open time fall back to the lower ticket.
func ReconcileDuplicates(positions []types.Position) Reconciliation {
	groups := make(map[string][]types.Position)
	for _, p := range positions {
		if p.System == "" {
			continue
		}
		groups[p.System] = append(groups[p.System], p)
	}

	systems := make([]string, 0, len(groups))
	for s := range groups {
		systems = append(systems, s)
	}
	sort.Strings(systems)

	var out Reconciliation
	for _, s := range systems {
		group := groups[s]
		sort.SliceStable(group, func(i, j int) bool {
			if !group[i].OpenTime.Equal(group[j].OpenTime) {
				return group[i].OpenTime.Before(group[j].OpenTime)
			}
			return group[i].Ticket < group[j].Ticket
		})
		out.Retained = append(out.Retained, group[0])
		out.ToClose = append(out.ToClose, group[1:]...)
	}
	return out
}

// BySystem groups positions by system tag.
func BySystem(positions []types.Position) map[string][]types.Position {
	out := make(map[string][]types.Position)
	for _, p := range positions {
		if p.System != "" {
			out[p.System] = append(out[p.System], p)
		}
	}
	return out
}

// OrdersBySystem groups pending orders by system tag.
func OrdersBySystem(orders []types.PendingOrder) map[string][]types.PendingOrder {
	out := make(map[string][]types.PendingOrder)
	for _, o := range orders {
		if o.System != "" {
			out[o.System] = append(out[o.System], o)
		}
	}
	return out
}
