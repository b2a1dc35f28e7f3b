package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/term"
)

// ANSI escape codes
const (
	ClearLine   = "\033[2K"
	MoveToStart = "\r"
	MoveUp      = "\033[%dA"
	HideCursor  = "\033[?25l"
	ShowCursor  = "\033[?25h"
	ColorReset  = "\033[0m"
	ColorGreen  = "\033[32m"
	ColorRed    = "\033[31m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
	ColorDim    = "\033[2m"
	ColorBold   = "\033[1m"
)

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// SystemLine is the displayed state of one system.
type SystemLine struct {
	System     string
	Lifecycle  string
	NextSide   string
	Sequence   string
	RiskFactor decimal.Decimal
	Position   int64
	PairActive bool
	Halted     bool
}

// Status is one frame of the live display.
type Status struct {
	Time    time.Time
	Symbol  string
	Bid     decimal.Decimal
	Ask     decimal.Decimal
	Balance decimal.Decimal
	Equity  decimal.Decimal
	Systems []SystemLine
}

// StatusUI redraws a compact status panel in place. On a non-terminal writer
// it prints plain frames without colors or cursor movement.
type StatusUI struct {
	out         io.Writer
	interactive bool
	width       int

	prices    []decimal.Decimal
	maxPrices int

	// Track lines printed for cleanup
	linesPrinted int
}

// NewStatusUI creates a status display writing to out.
func NewStatusUI(out io.Writer) *StatusUI {
	interactive := false
	width := 80
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		interactive = true
		width, _ = getTerminalSize(f)
	}

	maxPrices := width - 30
	if maxPrices < 10 {
		maxPrices = 10
	}
	if maxPrices > 60 {
		maxPrices = 60
	}

	return &StatusUI{
		out:         out,
		interactive: interactive,
		width:       width,
		maxPrices:   maxPrices,
	}
}

// Interactive reports whether the panel is redrawn in place.
func (ui *StatusUI) Interactive() bool {
	return ui.interactive
}

// Start hides the cursor.
func (ui *StatusUI) Start() {
	if ui.interactive {
		fmt.Fprint(ui.out, HideCursor)
	}
}

// Stop restores the cursor.
func (ui *StatusUI) Stop() {
	if ui.interactive {
		fmt.Fprint(ui.out, ShowCursor)
		fmt.Fprintln(ui.out)
	}
}

// Render draws one frame.
func (ui *StatusUI) Render(s Status) {
	mid := s.Bid.Add(s.Ask).Div(decimal.NewFromInt(2))
	ui.prices = append(ui.prices, mid)
	if len(ui.prices) > ui.maxPrices {
		ui.prices = ui.prices[1:]
	}

	lines := ui.frame(s)

	if ui.interactive && ui.linesPrinted > 0 {
		fmt.Fprintf(ui.out, MoveUp, ui.linesPrinted)
	}
	for _, line := range lines {
		if ui.interactive {
			fmt.Fprint(ui.out, ClearLine)
		}
		fmt.Fprintln(ui.out, line)
	}
	ui.linesPrinted = len(lines)
}

func (ui *StatusUI) frame(s Status) []string {
	lines := make([]string, 0, len(s.Systems)+2)

	pnl := s.Equity.Sub(s.Balance)
	pnlColor := ColorGreen
	if pnl.LessThan(decimal.Zero) {
		pnlColor = ColorRed
	}

	lines = append(lines, fmt.Sprintf("%s %s%s%s %s/%s %s%s%s │ Equity %s (%s%s%s)",
		s.Time.Format("15:04:05"),
		ui.color(ColorBold), s.Symbol, ui.color(ColorReset),
		s.Bid, s.Ask,
		ui.color(ColorCyan), Sparkline(ui.prices), ui.color(ColorReset),
		s.Equity.StringFixed(2),
		ui.color(pnlColor), pnl.StringFixed(2), ui.color(ColorReset),
	))

	for _, sys := range s.Systems {
		state := sys.Lifecycle
		stateColor := ColorReset
		switch {
		case sys.Halted:
			state = "HALTED"
			stateColor = ColorRed
		case sys.Position != 0:
			stateColor = ColorGreen
		}

		pair := "-"
		if sys.PairActive {
			pair = "pair"
		}
		position := "-"
		if sys.Position != 0 {
			position = fmt.Sprintf("#%d", sys.Position)
		}

		lines = append(lines, fmt.Sprintf("  %s%-4s%s %s%-8s%s next %-4s x%s %-6s %-5s %s",
			ui.color(ColorBold), sys.System, ui.color(ColorReset),
			ui.color(stateColor), state, ui.color(ColorReset),
			sys.NextSide,
			sys.RiskFactor,
			position,
			pair,
			ui.color(ColorDim)+sys.Sequence+ui.color(ColorReset),
		))
	}

	return lines
}

func (ui *StatusUI) color(code string) string {
	if !ui.interactive {
		return ""
	}
	return code
}

// Sparkline renders prices as a row of block characters scaled between the
// lowest and highest value.
func Sparkline(prices []decimal.Decimal) string {
	if len(prices) == 0 {
		return ""
	}

	lo, hi := prices[0], prices[0]
	for _, p := range prices {
		if p.LessThan(lo) {
			lo = p
		}
		if p.GreaterThan(hi) {
			hi = p
		}
	}

	span := hi.Sub(lo)
	top := int64(len(sparkRunes) - 1)

	var sb strings.Builder
	for _, p := range prices {
		idx := int64(0)
		if !span.IsZero() {
			idx = p.Sub(lo).Div(span).Mul(decimal.NewFromInt(top)).Round(0).IntPart()
		}
		sb.WriteRune(sparkRunes[idx])
	}
	return sb.String()
}

// getTerminalSize returns terminal dimensions
func getTerminalSize(f *os.File) (width, height int) {
	width, height, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 80, 24 // Default
	}
	return width, height
}
