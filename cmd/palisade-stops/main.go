// Command palisade-stops runs the stop-loss pass: it computes chandelier
// stops for every configured ticker and reconciles the brokerage account
// toward them, once or on a cron schedule.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"palisade/internal/broker"
	"palisade/internal/config"
	"palisade/internal/engine"
	"palisade/internal/indicator"
	"palisade/internal/recorder"
	"palisade/internal/util"
)

func main() {
	cfgFlag := flag.String("config", "", "path to config file (overrides PALISADE_CONFIG)")
	once := flag.Bool("once", false, "run a single pass even when a schedule is configured")
	dryRun := flag.Bool("dry-run", false, "force dry-run mode regardless of config")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using process environment")
	}

	cfgPath := "config/palisade.yaml"
	if p := os.Getenv("PALISADE_CONFIG"); p != "" {
		cfgPath = p
	}
	if *cfgFlag != "" {
		cfgPath = *cfgFlag
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.ValidateTrading(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if *dryRun {
		cfg.Trading.DryRun = true
	}

	logger, err := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	store, err := openRecorder(cfg.Recorder.Path)
	if err != nil {
		logger.Fatal("opening run recorder", zap.Error(err))
	}
	defer store.Close()

	eng := buildEngine(cfg, store, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("palisade-stops starting",
		zap.Int("tickers", len(cfg.Trading.Tickers)),
		zap.Bool("dry_run", cfg.Trading.DryRun),
		zap.String("schedule", cfg.Trading.Schedule))

	if cfg.Trading.Schedule == "" || *once {
		if _, err := eng.Run(ctx); err != nil {
			logger.Fatal("run aborted", zap.Error(err))
		}
		return
	}

	runOnSchedule(ctx, eng, cfg.Trading.Schedule, logger)
}

// runOnSchedule runs the engine on the cron schedule until the context is
// cancelled. A trigger that fires while the previous run is still going is
// skipped rather than stacked.
func runOnSchedule(ctx context.Context, eng *engine.Engine, schedule string, logger *zap.Logger) {
	var running atomic.Bool

	c := cron.New(cron.WithSeconds())
	_, err := c.AddFunc(schedule, func() {
		if !running.CompareAndSwap(false, true) {
			logger.Warn("previous run still in progress, skipping trigger")
			return
		}
		defer running.Store(false)

		if _, err := eng.Run(ctx); err != nil {
			logger.Error("scheduled run aborted", zap.Error(err))
		}
	})
	if err != nil {
		logger.Fatal("invalid schedule", zap.String("schedule", schedule), zap.Error(err))
	}

	c.Start()
	logger.Info("scheduler started", zap.String("schedule", schedule))

	<-ctx.Done()
	<-c.Stop().Done()
	logger.Info("scheduler stopped")
}

func buildEngine(cfg *config.Config, store recorder.Recorder, logger *zap.Logger) *engine.Engine {
	b := broker.NewAlpaca(broker.Options{
		APIKey:          cfg.Alpaca.APIKey,
		APISecret:       cfg.Alpaca.APISecret,
		BaseURL:         cfg.Alpaca.BaseURL,
		DataURL:         cfg.Alpaca.DataURL,
		Feed:            cfg.Alpaca.Feed,
		RateLimitPerMin: cfg.Alpaca.RateLimitPerMin,
	}, logger)

	decider := engine.NewDecider(engine.AdaptiveParams{
		Enabled:            cfg.Adaptive.Enabled,
		BreakevenEMAPeriod: cfg.Adaptive.BreakevenEMAPeriod,
		ProfitThreshold:    cfg.Adaptive.ProfitThreshold,
		LossThreshold:      cfg.Adaptive.LossThreshold,
		MaxLossPercent:     cfg.Adaptive.MaxLossPercent,
		BreakevenBuffer:    cfg.Adaptive.BreakevenBuffer,
	}, logger)

	risk := engine.NewRiskManager(cfg.Risk.MaxPositionSize, cfg.Risk.MaxDailyTrades, cfg.Risk.MinPrice)

	var exec engine.OrderExecutor
	if cfg.Trading.DryRun {
		exec = engine.NewDryRunExecutor(logger)
	} else {
		exec = engine.NewLiveExecutor(b)
	}
	rec := engine.NewReconciler(exec, cfg.Trading.MaxRetries, cfg.Trading.RetryBaseDelay.Std(), logger)

	runCfg := engine.RunConfig{
		Tickers:      cfg.Trading.Tickers,
		LookbackDays: cfg.Trading.LookbackDays,
		Indicators: indicator.Params{
			SMAPeriod:            cfg.Indicators.SMAPeriod,
			EMAPeriod:            cfg.Indicators.EMAPeriod,
			ATRPeriod:            cfg.Indicators.ATRPeriod,
			ChandelierPeriod:     cfg.Indicators.ChandelierPeriod,
			ChandelierMultiplier: cfg.Indicators.ChandelierMultiplier,
		},
		DryRun:      cfg.Trading.DryRun,
		MaxAttempts: cfg.Trading.MaxRetries,
		BaseDelay:   cfg.Trading.RetryBaseDelay.Std(),
	}

	return engine.NewEngine(b, decider, risk, rec, store, runCfg, logger)
}

func openRecorder(path string) (recorder.Recorder, error) {
	if path == "" {
		return recorder.NewNoop(), nil
	}
	return recorder.NewSQLite(path)
}
