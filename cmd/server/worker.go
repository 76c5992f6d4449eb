package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/honeycombio/otel-config-go/otelconfig"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ijg0341/vibe-review-sub000/internal/db"
	"github.com/ijg0341/vibe-review-sub000/internal/ingest"
	"github.com/ijg0341/vibe-review-sub000/internal/logger"
	"github.com/ijg0341/vibe-review-sub000/internal/storage"
)

var workerTracer = otel.Tracer("vibe-review/worker")

// StatsStore finds files with stale stats and stores recomputed ones.
type StatsStore interface {
	FindStaleStats(ctx context.Context, limit int) ([]db.TranscriptFile, error)
	UpsertStats(ctx context.Context, s db.TranscriptStats) error
}

// StatsComputer rebuilds the stats of one file from its stored lines.
type StatsComputer interface {
	RecomputeStats(ctx context.Context, file *db.TranscriptFile) (db.TranscriptStats, error)
}

// Worker is the background stats worker.
type Worker struct {
	store    StatsStore
	computer StatsComputer
	config   WorkerConfig
	// pause spaces out recomputes within a cycle.
	pause time.Duration
}

// NewWorker returns a worker with the default pacing.
func NewWorker(store StatsStore, computer StatsComputer, config WorkerConfig) *Worker {
	return &Worker{store: store, computer: computer, config: config, pause: 200 * time.Millisecond}
}

// runWorker is the entry point for the background worker process.
func runWorker() {
	logger.Info("starting stats worker")

	otelShutdown, err := otelconfig.ConfigureOpenTelemetry()
	if err != nil {
		logger.Warn("failed to configure OpenTelemetry for worker", "error", err)
	} else {
		defer otelShutdown()
	}

	workerConfig, err := loadWorkerConfig(os.Getenv)
	if err != nil {
		logger.Fatal("invalid worker configuration", "error", err)
	}
	logger.Info("worker configuration loaded",
		"poll_interval", workerConfig.PollInterval,
		"max_files", workerConfig.MaxFiles,
		"dry_run", workerConfig.DryRun,
	)
	if workerConfig.DryRun {
		logger.Info("DRY-RUN MODE ENABLED - no stats will be written")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	databaseURL, err := loadDatabaseURL(os.Getenv)
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}
	database, err := db.ConnectWithRetry(ctx, databaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", "error", err)
	}
	defer database.Close()

	s3Config, err := loadS3Config(os.Getenv)
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}
	store, err := storage.NewS3Storage(ctx, s3Config)
	if err != nil {
		logger.Fatal("failed to initialize storage", "error", err)
	}

	processor, err := newProcessor(os.Getenv("SUBAGENT_RULES_FILE"))
	if err != nil {
		logger.Fatal("failed to load subagent rules", "error", err)
	}
	svc, err := ingest.NewService(database, store, ingest.WithProcessor(processor))
	if err != nil {
		logger.Fatal("failed to create ingest service", "error", err)
	}

	NewWorker(database, svc, workerConfig).Run(ctx)
	logger.Info("worker stopped")
}

// Run polls until ctx is done, starting with an immediate cycle.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// runOnce recomputes stats for one batch of stale files.
func (w *Worker) runOnce(ctx context.Context) (processed, failed int) {
	ctx, span := workerTracer.Start(ctx, "worker.run_once")
	defer span.End()

	files, err := w.store.FindStaleStats(ctx, w.config.MaxFiles)
	if err != nil {
		logger.Error("failed to find stale stats", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, 0
	}
	span.SetAttributes(attribute.Int("files.found", len(files)))
	if len(files) == 0 {
		logger.Debug("no stale stats found")
		return 0, 0
	}
	logger.Info("found files with stale stats", "count", len(files))

	if w.config.DryRun {
		for _, f := range files {
			logger.Info("[DRY-RUN] would recompute stats",
				"file_id", f.ID,
				"owner", f.Owner,
				"external_id", f.ExternalID,
				"existing_line_count", f.ExistingLineCount,
			)
		}
		span.SetAttributes(attribute.Bool("dry_run", true))
		return 0, 0
	}

	for i := range files {
		if ctx.Err() != nil {
			logger.Info("stopping processing due to shutdown")
			break
		}

		if err := w.recompute(ctx, &files[i]); err != nil {
			logger.Error("failed to recompute stats",
				"file_id", files[i].ID,
				"external_id", files[i].ExternalID,
				"existing_line_count", files[i].ExistingLineCount,
				"error", err,
			)
			failed++
		} else {
			processed++
		}

		if i < len(files)-1 && w.pause > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(w.pause):
			}
		}
	}

	logger.Info("stats cycle complete", "processed", processed, "errors", failed)
	span.SetAttributes(
		attribute.Int("files.processed", processed),
		attribute.Int("files.errors", failed),
	)
	return processed, failed
}

func (w *Worker) recompute(ctx context.Context, file *db.TranscriptFile) error {
	stats, err := w.computer.RecomputeStats(ctx, file)
	if err != nil {
		return err
	}
	if err := w.store.UpsertStats(ctx, stats); err != nil {
		return err
	}
	logger.Info("recomputed stats",
		"file_id", file.ID,
		"computed_lines", stats.ComputedLines,
		"estimated_cost_usd", stats.EstimatedCostUSD.StringFixed(4),
	)
	return nil
}
