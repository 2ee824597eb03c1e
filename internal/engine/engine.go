// Package engine decides where protective stop orders belong and reconciles
// the brokerage account toward those decisions, one run at a time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"palisade/internal/broker"
	"palisade/internal/domain"
	"palisade/internal/indicator"
	"palisade/internal/recorder"
	"palisade/internal/snapshot"
	"palisade/internal/util"
)

// RunConfig fixes the inputs of one decision-and-reconciliation pass.
type RunConfig struct {
	Tickers      []string
	LookbackDays int
	Indicators   indicator.Params
	DryRun       bool
	MaxAttempts  int
	BaseDelay    time.Duration
}

// Engine orchestrates a full pass: verify the account, snapshot positions
// and orders, compute indicators, decide, and reconcile. Per-symbol failures
// become outcomes; only an authentication failure aborts the run.
type Engine struct {
	broker   broker.Broker
	decider  *Decider
	risk     *RiskManager
	rec      *Reconciler
	recorder recorder.Recorder
	cfg      RunConfig
	log      *zap.Logger
}

// NewEngine creates an Engine wired with the given dependencies.
func NewEngine(
	b broker.Broker,
	decider *Decider,
	risk *RiskManager,
	rec *Reconciler,
	store recorder.Recorder,
	cfg RunConfig,
	log *zap.Logger,
) *Engine {
	return &Engine{
		broker:   b,
		decider:  decider,
		risk:     risk,
		rec:      rec,
		recorder: store,
		cfg:      cfg,
		log:      log.Named("engine"),
	}
}

// Run executes one pass over the configured tickers in order. The report is
// persisted and returned even when the run aborts early.
func (e *Engine) Run(ctx context.Context) (domain.RunReport, error) {
	report := domain.RunReport{Started: time.Now().UTC(), Mode: domain.ModeLive}
	if e.cfg.DryRun {
		report.Mode = domain.ModeDryRun
	}

	e.log.Info("run started",
		zap.String("mode", report.Mode),
		zap.String("broker", e.broker.Name()),
		zap.Int("tickers", len(e.cfg.Tickers)),
	)

	// Credentials are checked before any symbol is touched.
	if err := e.retry(ctx, func() error { return e.broker.VerifyAccount(ctx) }); err != nil {
		report.Finished = time.Now().UTC()
		e.persist(ctx, report)
		return report, fmt.Errorf("account verification: %w", err)
	}

	e.risk.Reset()

	var positions []domain.Position
	if err := e.retry(ctx, func() error {
		var err error
		positions, err = e.broker.GetPositions(ctx)
		return err
	}); err != nil {
		report.Finished = time.Now().UTC()
		e.persist(ctx, report)
		return report, fmt.Errorf("fetching positions: %w", err)
	}

	var openOrders []domain.Order
	if err := e.retry(ctx, func() error {
		var err error
		openOrders, err = e.broker.GetOpenOrders(ctx)
		return err
	}); err != nil {
		report.Finished = time.Now().UTC()
		e.persist(ctx, report)
		return report, fmt.Errorf("fetching open orders: %w", err)
	}

	snap := snapshot.Build(positions, openOrders)

	for _, o := range snap.Orphans {
		e.log.Warn("managed stop without a held position",
			zap.String("symbol", o.Symbol),
			zap.String("order_id", o.ID),
		)
	}
	for _, shapeErr := range snap.Errs {
		e.log.Warn("malformed broker record", zap.Error(shapeErr))
		report.Add(domain.Outcome{
			Symbol: shapeErrSymbol(shapeErr),
			Status: domain.OutcomeSkipped,
			Action: domain.ActionNone,
			Reason: shapeErr.Error(),
		})
	}

	latestDay := e.latestTradingDay(ctx)

	seen := make(map[string]bool, len(e.cfg.Tickers))
	for _, raw := range e.cfg.Tickers {
		if ctx.Err() != nil {
			report.Finished = time.Now().UTC()
			e.persist(ctx, report)
			return report, ctx.Err()
		}

		sym := strings.ToUpper(strings.TrimSpace(raw))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true

		view, held := snap.Views[sym]
		if !held {
			report.Add(domain.Outcome{
				Symbol: sym,
				Status: domain.OutcomeSkipped,
				Action: domain.ActionNone,
				Reason: "no held position",
			})
			continue
		}

		out, err := e.evaluateSymbol(ctx, sym, view, latestDay)
		report.Add(out)
		if err != nil {
			report.Finished = time.Now().UTC()
			e.persist(ctx, report)
			return report, err
		}
	}

	report.Finished = time.Now().UTC()
	e.persist(ctx, report)
	e.log.Info("run finished",
		zap.String("mode", report.Mode),
		zap.Int("created", report.Created),
		zap.Int("replaced", report.Replaced),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Duration("elapsed", report.Finished.Sub(report.Started)),
	)
	return report, nil
}

// evaluateSymbol runs the per-symbol pipeline. A non-nil error aborts the
// run and is always an authentication failure.
func (e *Engine) evaluateSymbol(ctx context.Context, sym string, view snapshot.View, latestDay time.Time) (domain.Outcome, error) {
	var bars []domain.Bar
	if err := e.retry(ctx, func() error {
		var err error
		bars, err = e.broker.GetPriceHistory(ctx, sym, e.cfg.LookbackDays)
		return err
	}); err != nil {
		out := domain.Outcome{
			Symbol: sym,
			Status: domain.OutcomeFailed,
			Action: domain.ActionNone,
			Reason: "price history fetch failed",
			Error:  err.Error(),
		}
		if broker.IsAuth(err) {
			return out, err
		}
		return out, nil
	}

	if len(bars) > 0 && !latestDay.IsZero() {
		last := bars[len(bars)-1].Date
		if last.Format("2006-01-02") < latestDay.Format("2006-01-02") {
			e.log.Warn("price history is stale",
				zap.String("symbol", sym),
				zap.Time("last_bar", last),
				zap.Time("latest_trading_day", latestDay),
			)
		}
	}

	if view.Anomaly {
		e.log.Error("multiple managed stops",
			zap.String("symbol", sym),
			zap.Int("count", len(view.Stops)),
		)
	}

	ind := indicator.Compute(bars, e.cfg.Indicators)
	dec := e.decider.Decide(view, bars, ind)

	if err := e.risk.Allow(dec); err != nil {
		e.log.Warn("risk gate demoted action",
			zap.String("symbol", sym),
			zap.Error(err),
		)
		return domain.Outcome{
			Symbol: sym,
			Status: domain.OutcomeSkipped,
			Action: domain.ActionNone,
			Reason: err.Error(),
		}, nil
	}

	return e.rec.Apply(ctx, dec)
}

func (e *Engine) latestTradingDay(ctx context.Context) time.Time {
	day, err := e.broker.LatestTradingDay(ctx)
	if err != nil {
		e.log.Warn("could not determine latest trading day", zap.Error(err))
		return time.Time{}
	}
	return day
}

// persist records the report. Bookkeeping failures are logged, never fatal.
func (e *Engine) persist(ctx context.Context, report domain.RunReport) {
	if err := e.recorder.RecordRun(ctx, report); err != nil {
		e.log.Warn("recording run failed", zap.Error(err))
	}
}

func (e *Engine) retry(ctx context.Context, fn func() error) error {
	return util.RetryIf(ctx, e.cfg.MaxAttempts, e.cfg.BaseDelay, broker.IsTransient, fn)
}

func shapeErrSymbol(err error) string {
	var shapeErr *domain.ShapeError
	if errors.As(err, &shapeErr) && shapeErr.Symbol != "" {
		return shapeErr.Symbol
	}
	return "unknown"
}
