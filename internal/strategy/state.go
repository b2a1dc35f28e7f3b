package strategy

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/ocogrid/internal/history"
	"github.com/tathienbao/ocogrid/internal/risk"
	"github.com/tathienbao/ocogrid/internal/types"
)

// Lifecycle tracks whether a system's position is present across cycles.
type Lifecycle int

const (
	LifecycleNone Lifecycle = iota
	LifecycleAlive
	LifecycleMissing
	LifecycleMissingRecovered
)

func (l Lifecycle) String() string {
	switch l {
	case LifecycleAlive:
		return "ALIVE"
	case LifecycleMissing:
		return "MISSING"
	case LifecycleMissingRecovered:
		return "MISSING_RECOVERED"
	default:
		return "NONE"
	}
}

// ParseLifecycle parses the String form.
func ParseLifecycle(s string) (Lifecycle, bool) {
	switch s {
	case "NONE":
		return LifecycleNone, true
	case "ALIVE":
		return LifecycleAlive, true
	case "MISSING":
		return LifecycleMissing, true
	case "MISSING_RECOVERED":
		return LifecycleMissingRecovered, true
	default:
		return LifecycleNone, false
	}
}

// NextLifecycle returns the lifecycle after observing whether a live position
// exists.
//
//	None, absent                  -> Missing
//	Alive|MissingRecovered, absent -> Missing
//	Missing, present              -> MissingRecovered
//	anything else                 -> Alive
//
// Missing is edge-triggered: a second consecutive absent observation yields
// Alive. A flat system therefore alternates between Missing and Alive, and
// only a Missing that follows a held position is a loss.
func NextLifecycle(prior Lifecycle, exists bool) Lifecycle {
	switch {
	case prior == LifecycleNone && !exists:
		return LifecycleMissing
	case (prior == LifecycleAlive || prior == LifecycleMissingRecovered) && !exists:
		return LifecycleMissing
	case prior == LifecycleMissing && exists:
		return LifecycleMissingRecovered
	default:
		return LifecycleAlive
	}
}

// OCOPair is the pair of pending entry legs of one system.
type OCOPair struct {
	MarketTicket int64
	LimitTicket  int64
	Side         types.Side
	RefPrice     decimal.Decimal
	SetAt        time.Time
}

// Active reports whether any leg is tracked.
func (p OCOPair) Active() bool {
	return p.MarketTicket != 0 || p.LimitTicket != 0
}

// Has reports whether ticket is one of the legs.
func (p OCOPair) Has(ticket int64) bool {
	return ticket != 0 && (ticket == p.MarketTicket || ticket == p.LimitTicket)
}

// Other returns the leg that is not ticket.
func (p OCOPair) Other(ticket int64) int64 {
	if ticket == p.MarketTicket {
		return p.LimitTicket
	}
	return p.MarketTicket
}

// SystemState is the per-system memory owned by the engine.
type SystemState struct {
	System      string
	Lifecycle   Lifecycle
	Position    int64 // Ticket of the live position at the last observation
	Watermark   history.Watermark
	Progression *risk.Progression
	NextSide    types.Side
	Pair        OCOPair
	LastRef     decimal.Decimal // Reference price of the last pair placed
	Halted      bool            // Set on a reconciliation conflict
	UpdatedAt   time.Time
}

// NewSystemState creates the starting state for a system.
func NewSystemState(system string, initial types.Side) *SystemState {
	if initial == types.SideFlat {
		initial = types.SideBuy
	}
	return &SystemState{
		System:      system,
		Lifecycle:   LifecycleNone,
		Progression: risk.NewProgression(),
		NextSide:    initial,
	}
}

// Observe advances the lifecycle and returns the prior value.
func (s *SystemState) Observe(exists bool) Lifecycle {
	prior := s.Lifecycle
	s.Lifecycle = NextLifecycle(prior, exists)
	return prior
}

// Track records the live position ticket (0 for none), advances the
// lifecycle and reports whether a previously seen position has vanished,
// that is whether the system entered Missing from a held position.
func (s *SystemState) Track(ticket int64) (prior Lifecycle, vanished bool) {
	held := s.Position != 0
	s.Position = ticket
	prior = s.Observe(ticket != 0)
	return prior, held && s.Lifecycle == LifecycleMissing
}

// Recovered reports whether a position reappeared after going missing.
// Re-entry stays suppressed for such a position.
func (s *SystemState) Recovered() bool {
	return s.Lifecycle == LifecycleMissingRecovered
}

// Clone returns a deep copy safe to hand out of the engine lock.
func (s *SystemState) Clone() SystemState {
	out := *s
	out.Watermark = s.Watermark.Clone()
	if s.Progression != nil {
		out.Progression = s.Progression.Clone()
	}
	return out
}
