// Package main is the entry point for the OCO grid bot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/tathienbao/ocogrid/internal/alerting"
	"github.com/tathienbao/ocogrid/internal/broker/paper"
	"github.com/tathienbao/ocogrid/internal/comment"
	"github.com/tathienbao/ocogrid/internal/config"
	"github.com/tathienbao/ocogrid/internal/engine"
	"github.com/tathienbao/ocogrid/internal/execution"
	"github.com/tathienbao/ocogrid/internal/metrics"
	"github.com/tathienbao/ocogrid/internal/persistence"
	"github.com/tathienbao/ocogrid/internal/strategy"
	"github.com/tathienbao/ocogrid/internal/ui"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Version information (set by build flags).
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Parse command
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// A missing .env is fine; real environment variables win.
	_ = godotenv.Load()

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "run":
		cmdRun(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	case "state":
		cmdState(os.Args[2:])
	case "encode":
		cmdEncode(os.Args[2:])
	case "decode":
		cmdDecode(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`OCO Grid Bot - Martingale grid with OCO entry pairs

Usage:
  ocogrid <command> [options]

Commands:
  run        Start the bot against the paper venue
  validate   Validate configuration file
  state      Show persisted per-system state
  encode     Encode an order comment
  decode     Decode an order comment
  version    Show version information
  help       Show this help message

Examples:
  ocogrid run --config config.yaml --status
  ocogrid validate --config config.yaml
  ocogrid state --config config.yaml --trades 10
  ocogrid encode --system A --seq 0,1,1
  ocogrid decode "MC_A_(0,1,1)[sl]"

Use "ocogrid <command> --help" for more information about a command.`)
}

func cmdVersion() {
	fmt.Printf("ocogrid version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration is valid!")
	fmt.Printf("  Instrument: %s\n", cfg.Instrument.Symbol)
	for _, sys := range cfg.Strategy.Systems {
		fmt.Printf("  System %s: initial side %s\n", sys.Tag, sys.InitialSide)
	}
	fmt.Printf("  Grid: %.1f pips, OCO offset: %.1f pips\n", cfg.Strategy.GridPips, cfg.Strategy.OCOOffsetPips)
	fmt.Printf("  Base lot: %.2f, max lot: %.2f\n", cfg.Strategy.BaseLot, cfg.Strategy.MaxLot)
	fmt.Printf("  Spread check: %v (max %.1f pips)\n", cfg.Entry.SpreadCheck, cfg.Entry.MaxSpreadPips)
	fmt.Printf("  Distance band: market=%v shadow=%v [%.1f, %.1f] pips\n",
		cfg.Entry.MarketDistanceBand, cfg.Entry.ShadowDistanceBand,
		cfg.Entry.MinDistancePips, cfg.Entry.MaxDistancePips)
	fmt.Printf("  Slippage: protected=%v %.1f pips, unprotected=%s\n",
		cfg.Execution.ProtectedLimit, cfg.Execution.SlippagePips, cfg.Execution.Unprotected)
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	status := fs.Bool("status", false, "Show a live status panel on the terminal")
	seed := fs.Uint64("seed", uint64(time.Now().UnixNano()), "Paper quote feed seed")
	_ = fs.Parse(args)

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog := setupLogger(cfg.Logging, true, *status)
	defer closeLog()
	slog.SetDefault(logger)

	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("ocogrid starting",
		"version", Version,
		"mode", "paper",
		"instrument", cfg.Instrument.Symbol,
		"systems", len(cfg.Strategy.Systems),
	)

	venue := paper.NewVenue(cfg.ToPaperConfig(), logger)
	if err := venue.Connect(ctx); err != nil {
		slog.Error("failed to connect venue", "err", err)
		os.Exit(1)
	}
	walk := newRandomWalk(venue, cfg.Paper.StartPrice, cfg.Paper.SpreadPips, cfg.Paper.VolatilityPips, *seed, logger)
	venue.SetQuote(walk.quote(time.Now()))

	var repo persistence.Repository
	if cfg.Persistence.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Persistence.Path), 0o755); err != nil {
			slog.Error("failed to create state directory", "path", cfg.Persistence.Path, "err", err)
			os.Exit(1)
		}
		r, err := persistence.NewSQLiteRepository(cfg.Persistence.Path)
		if err != nil {
			slog.Error("failed to open state database", "path", cfg.Persistence.Path, "err", err)
			os.Exit(1)
		}
		repo = r
	}

	eng, err := engine.NewEngine(cfg.ToEngineConfig(), engine.Components{
		Venue:    venue,
		Executor: execution.NewRetryExecutor(venue, cfg.ToSlippagePolicy(), cfg.ToRetryConfig(), logger),
		Codec:    cfg.ToCodec(),
		Sizer:    cfg.ToLotSizer(),
		Gate:     strategy.NewGate(cfg.ToGateConfig(), logger),
		Repo:     repo,
		Alerter:  buildAlerter(cfg, logger),
	}, logger)
	if err != nil {
		slog.Error("failed to create engine", "err", err)
		os.Exit(1)
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metrics.SetBuildInfo(Version, GitCommit, BuildTime)
		serverCfg := metrics.DefaultServerConfig()
		serverCfg.Port = cfg.Metrics.Port
		serverCfg.MetricsPath = cfg.Metrics.Path
		metricsServer = metrics.NewServer(serverCfg, logger)
		metricsServer.RegisterHealthCheck("venue", metrics.ConnectedCheck(venue.IsConnected))
		metricsServer.RegisterHealthCheck("cycle", metrics.StaleCheck(eng.LastCycle, cfg.StaleThreshold()))
		metricsServer.RegisterHealthCheck("systems", metrics.HaltedCheck(func() []string {
			var halted []string
			for _, st := range eng.States() {
				if st.Halted {
					halted = append(halted, st.System)
				}
			}
			return halted
		}))
		if err := metricsServer.Start(); err != nil {
			slog.Error("failed to start metrics server", "err", err)
			os.Exit(1)
		}
	}

	// The feed outlives the signal so positions can still be closed at a live quote
	feedCtx, stopFeed := context.WithCancel(context.Background())
	defer stopFeed()
	go walk.run(feedCtx, cfg.TickInterval())

	if err := eng.Start(ctx); err != nil {
		slog.Error("failed to start engine", "err", err)
		stopFeed()
		os.Exit(1)
	}

	if *status {
		go runStatus(ctx, eng, venue)
	}

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutdown signal received")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if err := shutdown(shutdownCtx, cfg, eng, venue, repo, metricsServer, stopFeed); err != nil {
		slog.Error("shutdown error", "err", err)
	}

	slog.Info("ocogrid shutdown complete")
}

func shutdown(
	ctx context.Context,
	cfg *config.Config,
	eng *engine.Engine,
	venue *paper.Venue,
	repo persistence.Repository,
	metricsServer *metrics.Server,
	stopFeed context.CancelFunc,
) error {
	slog.Info("starting graceful shutdown",
		"timeout", cfg.ShutdownTimeout(),
		"close_positions", cfg.Shutdown.ClosePositionsOnShutdown,
	)

	// Shutdown steps with timeout check
	steps := []struct {
		name string
		fn   func() error
	}{
		{"stop engine", func() error {
			return eng.Stop(ctx)
		}},
		{"stop quote feed", func() error {
			stopFeed()
			return nil
		}},
		{"stop metrics server", func() error {
			if metricsServer == nil {
				return nil
			}
			return metricsServer.Shutdown(ctx)
		}},
		{"close state database", func() error {
			if repo == nil {
				return nil
			}
			return repo.Close()
		}},
		{"disconnect venue", venue.Disconnect},
	}

	for _, step := range steps {
		select {
		case <-ctx.Done():
			return fmt.Errorf("shutdown timeout during: %s", step.name)
		default:
			slog.Debug("shutdown step", "step", step.name)
			if err := step.fn(); err != nil {
				slog.Warn("shutdown step failed", "step", step.name, "err", err)
			}
		}
	}

	return nil
}

// buildAlerter assembles the configured channels. The console channel is
// always present.
func buildAlerter(cfg *config.Config, logger *slog.Logger) alerting.Alerter {
	multi := alerting.NewMultiAlerter(logger, alerting.NewConsoleAlerter(logger))
	if !cfg.Alerting.Enabled {
		return multi
	}

	for _, ch := range cfg.Alerting.Channels {
		if ch.Type == "telegram" {
			multi.AddAlerter(alerting.NewTelegramAlerter(alerting.TelegramConfig{
				BotToken: ch.BotToken,
				ChatID:   ch.ChatID,
			}))
		}
	}
	return alerting.NewFilteredAlerter(multi, cfg.IsAlertEventEnabled)
}

// setupLogger builds the process logger. With a log file configured, output
// is tee'd into a rotating file; with the status panel on, the terminal is
// left to the panel.
func setupLogger(lc config.LoggingConfig, jsonOutput, status bool) (*slog.Logger, func()) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	if status {
		out = os.Stderr
	}
	closeFn := func() {}

	if lc.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   lc.File,
			MaxSize:    lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
			MaxAge:     lc.MaxAgeDays,
			Compress:   true,
		}
		if status {
			out = rotator
		} else {
			out = io.MultiWriter(os.Stdout, rotator)
		}
		closeFn = func() { _ = rotator.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}
	if jsonOutput {
		return slog.New(slog.NewJSONHandler(out, opts)), closeFn
	}
	return slog.New(slog.NewTextHandler(out, opts)), closeFn
}

// runStatus redraws the status panel once per second.
func runStatus(ctx context.Context, eng *engine.Engine, venue *paper.Venue) {
	panel := ui.NewStatusUI(os.Stdout)
	panel.Start()
	defer panel.Stop()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			panel.Render(statusFrame(ctx, eng, venue))
		}
	}
}

func statusFrame(ctx context.Context, eng *engine.Engine, venue *paper.Venue) ui.Status {
	s := ui.Status{
		Time:   time.Now(),
		Symbol: eng.Instrument().Symbol,
	}
	if q, err := venue.RefreshQuote(ctx); err == nil {
		s.Bid, s.Ask = q.Bid, q.Ask
	}
	if acct, err := venue.Account(ctx); err == nil {
		s.Balance, s.Equity = acct.Balance, acct.Equity
	}
	for _, st := range eng.States() {
		s.Systems = append(s.Systems, ui.SystemLine{
			System:     st.System,
			Lifecycle:  st.Lifecycle.String(),
			NextSide:   st.NextSide.String(),
			Sequence:   comment.FormatSequence(st.Progression.Sequence()),
			RiskFactor: st.Progression.NextFactor(),
			Position:   st.Position,
			PairActive: st.Pair.Active(),
			Halted:     st.Halted,
		})
	}
	return s
}

func cmdState(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	dbPath := fs.String("db", "", "State database (defaults to persistence.path)")
	trades := fs.Int("trades", 0, "Also show the last N closed trades per system")
	_ = fs.Parse(args)

	path := *dbPath
	if path == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
			os.Exit(1)
		}
		path = cfg.Persistence.Path
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "Error: no state database configured, use --db")
		os.Exit(1)
	}

	repo, err := persistence.NewSQLiteRepository(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = repo.Close() }()

	ctx := context.Background()
	states, err := repo.ListSystemStates(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(states) == 0 {
		fmt.Println("No saved state.")
		return
	}

	fmt.Println("\n=== SYSTEM STATE ===")
	for _, st := range states {
		fmt.Printf("System %s\n", st.System)
		fmt.Printf("  Lifecycle:   %s (position %d)\n", st.Lifecycle, st.Position)
		fmt.Printf("  Next side:   %s\n", st.NextSide)
		fmt.Printf("  Sequence:    %s (factor %s, stock %d, streak %d)\n",
			comment.FormatSequence(st.Progression.Sequence()), st.Progression.NextFactor(),
			st.Progression.Stock(), st.Progression.Streak())
		fmt.Printf("  Watermark:   %s %v\n", st.Watermark.Time.Format(time.RFC3339), st.Watermark.Tickets)
		if st.Pair.Active() {
			fmt.Printf("  OCO pair:    %s ref %s market #%d limit #%d\n",
				st.Pair.Side, st.Pair.RefPrice, st.Pair.MarketTicket, st.Pair.LimitTicket)
		}
		fmt.Printf("  Halted:      %v\n", st.Halted)
		fmt.Printf("  Updated:     %s\n", st.UpdatedAt.Format(time.RFC3339))

		if stats, err := repo.GetTradeStats(ctx, st.System); err == nil {
			fmt.Printf("  Trades:      %d (TP %d, SL %d, other %d) P/L %s\n",
				stats.Total, stats.TakeProfit, stats.StopLoss, stats.Other, stats.TotalPL.StringFixed(2))
		}

		if *trades <= 0 {
			continue
		}
		recs, err := repo.GetClosedTrades(ctx, st.System, *trades)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  closed trades: %v\n", err)
			continue
		}
		for _, r := range recs {
			fmt.Printf("    #%d %s %s %s lots %s -> %s P/L %s %s\n",
				r.Ticket, r.CloseTime.Format(time.RFC3339), r.Reason, r.Side, r.Lots,
				r.ClosePrice, r.Profit.StringFixed(2), comment.FormatSequence(r.Sequence))
		}
	}
}

func cmdEncode(args []string) {
	fs := flag.NewFlagSet("encode", flag.ExitOnError)
	system := fs.String("system", "A", "System tag")
	seqFlag := fs.String("seq", "0,1", "Comma separated grid-step sequence")
	prefix := fs.String("prefix", comment.DefaultPrefix, "Comment prefix")
	maxLen := fs.Int("max-len", comment.DefaultMaxLen, "Comment length limit")
	_ = fs.Parse(args)

	if err := strategy.ValidateSystemTag(*system); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	seq, err := parseSequence(*seqFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	codec := comment.NewCodec(*prefix, *maxLen)
	c := codec.Encode(*system, seq)
	id, err := codec.Decode(c)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(c)
	fmt.Printf("  Tier:   %s\n", id.Tier)
	fmt.Printf("  Length: %d/%d\n", len(c), codec.MaxLen())
}

func cmdDecode(args []string) {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	prefix := fs.String("prefix", comment.DefaultPrefix, "Comment prefix")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: decode takes exactly one comment")
		os.Exit(1)
	}

	id, err := comment.NewCodec(*prefix, 0).Decode(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("System:   %s\n", id.System)
	fmt.Printf("Tier:     %s\n", id.Tier)
	if id.Sequence != nil {
		fmt.Printf("Sequence: %s\n", comment.FormatSequence(id.Sequence))
	}
	if id.Hash != "" {
		fmt.Printf("Hash:     %s\n", id.Hash)
	}
	if id.Lossy() {
		fmt.Println("Note:     sequence is not fully recoverable from this comment")
	}
}

// parseSequence parses "0,1,1" into grid steps.
func parseSequence(s string) ([]int, error) {
	s = strings.Trim(strings.TrimSpace(s), "()")
	if s == "" {
		return nil, errors.New("empty sequence")
	}

	parts := strings.Split(s, ",")
	seq := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("sequence element %q: %w", p, err)
		}
		if n < 0 {
			return nil, fmt.Errorf("sequence element %d is negative", n)
		}
		seq = append(seq, n)
	}
	return seq, nil
}
