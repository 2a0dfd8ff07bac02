// Tradesentry - Condition-Driven Auto-Execution Engine
//
// Watches declared trade plans against live market snapshots, executes
// each satisfied plan exactly once, and manages the resulting position
// through breakeven, partial-close and ATR trailing until it closes.
//
// Flow:
//   Snapshot feed → Scheduler → Evaluator → Gateway → Broker → Exit machine
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradesentry/api"
	"github.com/web3guy0/tradesentry/bot"
	"github.com/web3guy0/tradesentry/core"
	"github.com/web3guy0/tradesentry/exec"
	"github.com/web3guy0/tradesentry/feeds"
	"github.com/web3guy0/tradesentry/internal/config"
	"github.com/web3guy0/tradesentry/plan"
	"github.com/web3guy0/tradesentry/risk"
	"github.com/web3guy0/tradesentry/storage"
	"github.com/web3guy0/tradesentry/types"
)

const version = "1.0.0"

// eventFanout delivers every event to all configured sinks
type eventFanout struct {
	sinks []interface{ Notify(ev types.Event) }
}

func (f *eventFanout) Notify(ev types.Event) {
	for _, s := range f.sinks {
		s.Notify(ev)
	}
}

// journalSink appends events to the database event log
type journalSink struct {
	db *storage.Database
}

func (j journalSink) Notify(ev types.Event) {
	if err := j.db.LogEvent(ev); err != nil {
		log.Warn().Err(err).Str("kind", ev.Kind).Msg("Event journal write failed")
	}
}

// statusProvider backs the Telegram command surface
type statusProvider struct {
	store *plan.Store
	exits *risk.ExitMachine
}

func (p statusProvider) PendingPlans() []bot.PlanView {
	plans := p.store.Pending()
	out := make([]bot.PlanView, 0, len(plans))
	for _, pl := range plans {
		out = append(out, bot.PlanView{
			ID:        pl.ID,
			Symbol:    pl.Symbol,
			Direction: string(pl.Direction),
			Entry:     pl.Entry,
			ExpiresAt: pl.ExpiresAt,
		})
	}
	return out
}

func (p statusProvider) OpenPositions() []bot.PositionView {
	positions := p.exits.Open()
	out := make([]bot.PositionView, 0, len(positions))
	for _, pos := range positions {
		out = append(out, bot.PositionView{
			Ticket:    pos.Ticket,
			Symbol:    pos.Symbol,
			Direction: string(pos.Direction),
			Entry:     pos.EntryPrice,
			CurrentSL: pos.CurrentSL,
			State:     string(pos.State),
		})
	}
	return out
}

func (p statusProvider) CancelPlan(id string) bool {
	return p.store.Cancel(id)
}

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("version", version).
		Bool("dry_run", cfg.DryRun).
		Msg("⚡ Tradesentry starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database journal
	db, err := storage.New(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	// Plan store with crash recovery
	store := plan.NewStore(db)
	if err := store.Restore(); err != nil {
		log.Fatal().Err(err).Msg("Failed to restore plan store")
	}

	// Snapshot cache + feed
	cache := feeds.NewSnapshotCache(nil, cfg.SnapshotTTL, cfg.SnapshotTimeout)
	feed := feeds.NewWSFeed(cfg.SnapshotWSURL, cache)
	cache.SetSource(feed)
	feed.Start()

	// Broker client
	broker := exec.NewClient(exec.ClientConfig{
		BaseURL:   cfg.BrokerBaseURL,
		APIKey:    cfg.BrokerAPIKey,
		APISecret: cfg.BrokerAPISecret,
		DryRun:    cfg.DryRun,
		Timeout:   cfg.BrokerTimeout,
		MinLot:    cfg.MinLot,
	})

	// Notification sinks
	fanout := &eventFanout{sinks: []interface{ Notify(ev types.Event) }{journalSink{db: db}}}

	// Fail plans the previous run left mid-execution
	if n := store.ReconcileInterrupted(fanout); n > 0 {
		log.Warn().Int("plans", n).Msg("Interrupted plans failed for operator review")
	}

	// Volatility adjuster + exit state machine
	adjuster := risk.NewAdjuster(cfg.VolIndexThreshold, cfg.WidenCap, cfg.BaseRiskFactor, cfg.TrailMultiplier)
	exits := risk.NewExitMachine(risk.ExitConfig{
		CheckInterval:      cfg.ExitCheckInterval,
		BreakevenThreshold: cfg.BreakevenThreshold,
		PartialThreshold:   cfg.PartialThreshold,
		PartialClosePct:    cfg.PartialClosePct,
		SpreadBuffer:       cfg.SpreadBuffer,
		FlipThreshold:      cfg.FlipThreshold,
		VolIndexThreshold:  cfg.VolIndexThreshold,
		MaxHoldTime:        cfg.MaxHoldTime,
	}, broker, cache, adjuster, fanout, db)
	if err := exits.Restore(); err != nil {
		log.Fatal().Err(err).Msg("Failed to restore exit machine")
	}

	// Execution gateway
	gateway := exec.NewGateway(exec.GatewayConfig{
		MaxAttempts:   cfg.MaxOrderAttempts,
		BackoffStep:   cfg.BackoffStep,
		BaseDeviation: cfg.BaseDeviation,
		MarketBand:    cfg.MarketBand,
		UseOCO:        cfg.UseOCO,
	}, broker, store, exits, fanout)

	// Scheduler
	scheduler := core.NewScheduler(core.SchedulerConfig{
		FastInterval:     cfg.FastInterval,
		StandardInterval: cfg.StandardInterval,
	}, store, cache, gateway, fanout)

	// Optional Telegram sink
	var telegram *bot.TelegramSink
	if cfg.TelegramToken != "" {
		telegram, err = bot.NewTelegramSink(cfg.TelegramToken, cfg.TelegramChatID, statusProvider{store: store, exits: exits}, cfg.DryRun)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Telegram sink")
		}
		fanout.sinks = append(fanout.sinks, telegram)
		telegram.Start()
	} else {
		fanout.sinks = append(fanout.sinks, bot.LogSink{})
		log.Warn().Msg("TELEGRAM_BOT_TOKEN not set, events go to log only")
	}

	// Plan intake API
	intake := api.NewServer(getAddr(), store)
	intake.Start()

	exits.Start()
	scheduler.Start()

	log.Info().Msg("✅ All systems online")
	logBanner(cfg)

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("🛑 Received shutdown signal")
	case <-ctx.Done():
		log.Info().Msg("🛑 Context cancelled")
	}

	log.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := intake.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Intake shutdown failed")
	}
	scheduler.Stop()
	exits.Stop()
	feed.Stop()
	if telegram != nil {
		telegram.Stop()
	}

	log.Info().Msg("👋 Goodbye!")
}

func getAddr() string {
	if addr := os.Getenv("API_ADDR"); addr != "" {
		return addr
	}
	return ":8080"
}

func logBanner(cfg *config.Config) {
	log.Info().Msg("")
	log.Info().Msg("╔══════════════════════════════════════════╗")
	log.Info().Msg("║     CONDITION-DRIVEN EXECUTION ACTIVE    ║")
	log.Info().Msg("║                                          ║")
	log.Info().Msg("║  → Poll pending plans per symbol         ║")
	log.Info().Msg("║  → Execute each satisfied plan once      ║")
	log.Info().Msg("║  → Trail stops, never loosen risk        ║")
	log.Info().Msg("╚══════════════════════════════════════════╝")
	log.Info().Msg("")
	log.Info().
		Dur("fast", cfg.FastInterval).
		Dur("standard", cfg.StandardInterval).
		Str("breakeven", cfg.BreakevenThreshold.Mul(decimal.NewFromInt(100)).String()+"%").
		Str("partial", cfg.PartialThreshold.Mul(decimal.NewFromInt(100)).String()+"%").
		Msg("💡 Engine parameters")
}
