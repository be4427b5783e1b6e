// Command ebilling-worker is the deferred-processing entrypoint: it
// periodically scans for invoices stuck in SUBMITTED (a pipeline run
// that crashed or was never picked up) and re-drives them through the
// orchestrator with bounded concurrency, standing in for the original
// RQ background job queue.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/mzemanski-eng/claims-ebilling/internal/aiassess"
	"github.com/mzemanski-eng/claims-ebilling/internal/audit"
	"github.com/mzemanski-eng/claims-ebilling/internal/classification"
	"github.com/mzemanski-eng/claims-ebilling/internal/config"
	"github.com/mzemanski-eng/claims-ebilling/internal/database"
	"github.com/mzemanski-eng/claims-ebilling/internal/domain"
	"github.com/mzemanski-eng/claims-ebilling/internal/guidelinevalidation"
	"github.com/mzemanski-eng/claims-ebilling/internal/logging"
	"github.com/mzemanski-eng/claims-ebilling/internal/metrics"
	"github.com/mzemanski-eng/claims-ebilling/internal/notification"
	"github.com/mzemanski-eng/claims-ebilling/internal/orchestrator"
	"github.com/mzemanski-eng/claims-ebilling/internal/ratevalidation"
	"github.com/mzemanski-eng/claims-ebilling/internal/repository"
	"github.com/mzemanski-eng/claims-ebilling/internal/storage"
	"github.com/mzemanski-eng/claims-ebilling/internal/taxonomy"

	"github.com/redis/go-redis/v9"
)

// pollInterval is how often the worker scans for stuck SUBMITTED
// invoices. Short enough that a crashed pipeline run recovers quickly,
// long enough not to hammer the invoices table with a full scan.
const pollInterval = 30 * time.Second

// maxConcurrentRuns bounds how many invoices this worker processes at
// once, independent of however many API replicas are also calling
// ProcessInvoice synchronously out of upload/resubmit (spec §5: "multiple
// invoices may be processed in parallel across workers").
const maxConcurrentRuns = 4

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ebilling-worker: loading config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ebilling-worker: building logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connect to database", zap.Error(err))
	}
	defer pool.Close()

	sqlxDB, err := database.NewSQLX(cfg.Database)
	if err != nil {
		logger.Fatal("open sqlx database", zap.Error(err))
	}
	defer sqlxDB.Close()

	repo := repository.New(sqlxDB, pool, logger)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	mappingRules := classification.NewCachedMappingRuleSource(repo, redisClient, cfg.Redis.MappingRuleTTL, logger)

	classifier := classification.NewClassifier(mappingRules)
	rateValidator := ratevalidation.NewRateValidator(repo)
	guidelineValidator := guidelinevalidation.NewGuidelineValidator(logger)
	auditLogger := audit.NewLogger(repo, logger)
	notifier := notification.NewNotifier(cfg.Notification, logger)
	registry := taxonomy.NewDefaultRegistry()
	files := storage.NewLocalStore(cfg.Storage)

	var assessor *aiassess.Assessor
	if cfg.AIAssessment.Enabled {
		assessor = aiassess.NewAssessor(aiassess.Config{
			APIKey:  cfg.AIAssessment.APIKey,
			Model:   cfg.AIAssessment.Model,
			Timeout: cfg.AIAssessment.Timeout,
		}, logger)
	}

	transactor := database.NewPoolTransactor(pool, logger)
	orch := orchestrator.New(transactor, repo, classifier, rateValidator, guidelineValidator, assessor, auditLogger, notifier, registry, logger)

	metricsServer := metrics.NewServer(strconv.Itoa(cfg.Server.MetricsPort), logger)
	metricsServer.StartAsync()

	w := &worker{
		repo:   repo,
		files:  files,
		orch:   orch,
		logger: logger,
		sem:    semaphore.NewWeighted(maxConcurrentRuns),
	}

	logger.Info("starting worker", zap.Duration("poll_interval", pollInterval), zap.Int("max_concurrent_runs", maxConcurrentRuns))
	w.run(ctx)

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown error", zap.Error(err))
	}
}

// worker scans for SUBMITTED invoices and re-drives each through the
// orchestrator, bounding how many run at once via sem.
type worker struct {
	repo   *repository.Repository
	files  *storage.LocalStore
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
	sem    *semaphore.Weighted
}

func (w *worker) run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollOnce(ctx)
		}
	}
}

func (w *worker) pollOnce(ctx context.Context) {
	invoices, err := w.repo.ListInvoicesByStatus(ctx, domain.InvoiceSubmitted)
	if err != nil {
		w.logger.Error("list submitted invoices", zap.Error(err))
		return
	}
	if len(invoices) == 0 {
		return
	}
	w.logger.Info("found stuck invoices", zap.Int("count", len(invoices)))

	for _, inv := range invoices {
		if err := w.sem.Acquire(ctx, 1); err != nil {
			return
		}
		go func(inv domain.Invoice) {
			defer w.sem.Release(1)
			w.process(ctx, inv)
		}(inv)
	}
}

func (w *worker) process(ctx context.Context, inv domain.Invoice) {
	log := w.logger.With(logging.NewFields().Component("worker").Resource("invoice", inv.ID.String()).Build()...)

	fileBytes, err := w.files.Load(ctx, inv.RawFilePointer)
	if err != nil {
		log.Error("load invoice file", zap.Error(err))
		return
	}

	summary, err := w.orch.ProcessInvoice(ctx, inv.ID, fileBytes, inv.RawFilePointer)
	if err != nil {
		log.Warn("reprocessing invoice failed", zap.Error(err))
		return
	}
	log.Info("reprocessed invoice", zap.String("status", string(summary.Status)), zap.Int("lines_processed", summary.LinesProcessed))
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zapCfg.Level = level
	return zapCfg.Build()
}
