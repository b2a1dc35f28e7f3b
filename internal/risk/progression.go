package risk

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Progression is a decomposed Monte Carlo unit sequence. The bet for the next
// trade is first+last; the sequence is what gets stamped into order comments.
type Progression struct {
	seq    []int
	stock  int // Net units won or lost
	streak int // Consecutive wins
}

// NewProgression returns a progression at its starting point [0,1].
func NewProgression() *Progression {
	return &Progression{seq: []int{0, 1}}
}

// Sequence returns a copy of the unit sequence.
func (p *Progression) Sequence() []int {
	out := make([]int, len(p.seq))
	copy(out, p.seq)
	return out
}

// Clone returns an independent copy.
func (p *Progression) Clone() *Progression {
	return &Progression{seq: p.Sequence(), stock: p.stock, streak: p.streak}
}

// Stock returns net units won or lost.
func (p *Progression) Stock() int {
	return p.stock
}

// Streak returns the current win streak.
func (p *Progression) Streak() int {
	return p.streak
}

// Bet returns first+last in units.
func (p *Progression) Bet() int {
	if len(p.seq) == 0 {
		return 1
	}
	return p.seq[0] + p.seq[len(p.seq)-1]
}

// NextFactor returns the risk factor for the LotSizer. It is never below one.
func (p *Progression) NextFactor() decimal.Decimal {
	bet := p.Bet()
	if bet < 1 {
		bet = 1
	}
	return decimal.NewFromInt(int64(bet))
}

// OnLoss records a losing trade.
func (p *Progression) OnLoss() {
	bet := p.Bet()
	p.streak = 0
	p.stock -= bet
	if bet < 1 {
		bet = 1
	}
	p.seq = append(p.seq, bet)
}

// OnWin records a winning trade.
func (p *Progression) OnWin() {
	bet := p.Bet()
	p.streak++
	p.stock += bet

	n := len(p.seq)
	if n > 2 && p.seq[0] == 0 {
		p.seq = redistribute(p.seq[:n-1])
	} else if n >= 2 {
		p.seq = p.seq[1 : n-1]
	} else {
		p.seq = nil
	}

	switch len(p.seq) {
	case 0:
		p.seq = []int{0, 1}
	case 1:
		v := p.seq[0]
		p.seq = []int{v / 2, v - v/2}
	}
}

// OnTrade records a trade outcome.
func (p *Progression) OnTrade(win bool) {
	if win {
		p.OnWin()
	} else {
		p.OnLoss()
	}
}

// Reset returns the progression to [0,1] and clears counters.
func (p *Progression) Reset() {
	p.seq = []int{0, 1}
	p.stock = 0
	p.streak = 0
}

// redistribute spreads the sum evenly; the remainder goes to the tail.
func redistribute(seq []int) []int {
	total := 0
	for _, v := range seq {
		total += v
	}
	n := len(seq)
	q, r := total/n, total%n
	out := make([]int, n)
	for i := range out {
		out[i] = q
		if i >= n-r {
			out[i]++
		}
	}
	return out
}

// Serialize renders "stock|streak|a,b,...".
func (p *Progression) Serialize() string {
	parts := make([]string, len(p.seq))
	for i, v := range p.seq {
		parts[i] = strconv.Itoa(v)
	}
	return fmt.Sprintf("%d|%d|%s", p.stock, p.streak, strings.Join(parts, ","))
}

// ParseProgression parses the Serialize form.
func ParseProgression(s string) (*Progression, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 3 {
		return nil, fmt.Errorf("progression %q: want 3 fields, got %d", s, len(parts))
	}

	stock, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("progression stock: %w", err)
	}
	streak, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("progression streak: %w", err)
	}

	fields := strings.Split(parts[2], ",")
	if len(fields) < 2 {
		return nil, fmt.Errorf("progression %q: sequence needs at least 2 entries", s)
	}
	seq := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("progression sequence: %w", err)
		}
		if v < 0 {
			return nil, fmt.Errorf("progression sequence: negative entry %d", v)
		}
		seq[i] = v
	}

	return &Progression{seq: seq, stock: stock, streak: streak}, nil
}
