// Command palisade-export pulls filled orders from the brokerage, writes
// them as warehouse CSV files and a local parquet archive, uploads the
// files to Databricks, and triggers the ingest job. Runs are incremental:
// each successful export records its newest execution time as the next
// run's cutoff.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"palisade/internal/broker"
	"palisade/internal/config"
	"palisade/internal/export"
	"palisade/internal/recorder"
	"palisade/internal/util"
	"palisade/internal/warehouse"
)

func main() {
	cfgFlag := flag.String("config", "", "path to config file (overrides PALISADE_CONFIG)")
	cutoffFlag := flag.String("cutoff", "", "export executions after this date (YYYY-MM-DD), ignoring the recorded cutoff")
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
	if err := cfg.ValidateExport(); err != nil {
		log.Fatalf("invalid config: %v", err)
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

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	started := time.Now().UTC()
	cutoff := resolveCutoff(ctx, cfg, store, *cutoffFlag, logger)

	b := broker.NewAlpaca(broker.Options{
		APIKey:          cfg.Alpaca.APIKey,
		APISecret:       cfg.Alpaca.APISecret,
		BaseURL:         cfg.Alpaca.BaseURL,
		DataURL:         cfg.Alpaca.DataURL,
		Feed:            cfg.Alpaca.Feed,
		RateLimitPerMin: cfg.Alpaca.RateLimitPerMin,
	}, logger)

	res, err := export.NewExporter(b, logger).Run(ctx, export.Options{
		Cutoff:           cutoff,
		IncludeCancelled: cfg.Export.IncludeCancelled,
	})
	if err != nil {
		logger.Fatal("export failed", zap.Error(err))
	}
	if len(res.Executions) == 0 {
		logger.Info("no new executions to export", zap.Time("cutoff", cutoff))
		return
	}

	paths, err := export.WriteFiles(cfg.Export.OutputDir, res.Executions, cfg.Export.MaxOrdersPerFile, started)
	if err != nil {
		logger.Fatal("writing csv files", zap.Error(err))
	}

	if cfg.Export.ArchiveDir != "" {
		if err := export.NewArchive(cfg.Export.ArchiveDir).Append(res.Executions); err != nil {
			logger.Fatal("archiving executions", zap.Error(err))
		}
	}

	if cfg.Databricks.Host != "" {
		upload(ctx, cfg, paths, logger)
	}

	// Advance the cutoff only after everything downstream succeeded, so a
	// failed run re-exports the same window.
	if err := store.RecordExport(ctx, recorder.ExportRecord{
		Started:  started,
		Finished: time.Now().UTC(),
		Rows:     len(res.Executions),
		Cutoff:   res.NewCutoff,
	}); err != nil {
		logger.Error("recording export", zap.Error(err))
	}

	logger.Info("export complete",
		zap.Int("rows", len(res.Executions)),
		zap.Int("files", len(paths)),
		zap.Time("new_cutoff", res.NewCutoff))
}

// resolveCutoff picks the export window start: the -cutoff flag wins, then
// the newest recorded export, then the configured cutoff_date.
func resolveCutoff(ctx context.Context, cfg *config.Config, store recorder.Recorder, flagValue string, logger *zap.Logger) time.Time {
	if flagValue != "" {
		t, err := time.Parse("2006-01-02", flagValue)
		if err != nil {
			logger.Fatal("invalid -cutoff value", zap.String("cutoff", flagValue), zap.Error(err))
		}
		return t
	}

	var fallback time.Time
	if cfg.Export.CutoffDate != "" {
		t, err := time.Parse("2006-01-02", cfg.Export.CutoffDate)
		if err != nil {
			logger.Fatal("invalid export.cutoff_date", zap.String("cutoff", cfg.Export.CutoffDate), zap.Error(err))
		}
		fallback = t
	}

	cutoff, err := store.ExportCutoff(ctx, fallback)
	if err != nil {
		logger.Fatal("reading recorded cutoff", zap.Error(err))
	}
	return cutoff
}

// upload pushes every CSV to the Databricks volume, then triggers the
// ingest job. Any failed upload aborts the run so the cutoff does not
// advance past unshipped rows.
func upload(ctx context.Context, cfg *config.Config, paths []string, logger *zap.Logger) {
	dbx := warehouse.NewClient(cfg.Databricks.Host, cfg.Databricks.Token, logger)

	failed := 0
	for _, p := range paths {
		remote := path.Join(cfg.Databricks.VolumePath, filepath.Base(p))
		if err := dbx.Upload(ctx, p, remote); err != nil {
			logger.Error("upload failed", zap.String("file", p), zap.Error(err))
			failed++
		}
	}
	if failed > 0 {
		logger.Fatal("uploads incomplete",
			zap.Int("failed", failed),
			zap.Int("total", len(paths)))
	}

	if cfg.Databricks.JobID > 0 {
		if _, err := dbx.RunJob(ctx, cfg.Databricks.JobID); err != nil {
			logger.Fatal("job trigger failed", zap.Int64("job_id", cfg.Databricks.JobID), zap.Error(err))
		}
	}
}

func openRecorder(dbPath string) (recorder.Recorder, error) {
	if dbPath == "" {
		return recorder.NewNoop(), nil
	}
	return recorder.NewSQLite(dbPath)
}
