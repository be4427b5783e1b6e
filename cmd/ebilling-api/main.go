// Command ebilling-api serves the HTTP API (spec §6): invoice creation,
// upload/resubmit into the pipeline, exception response/resolution,
// carrier approval, and CSV export.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mzemanski-eng/claims-ebilling/internal/aiassess"
	"github.com/mzemanski-eng/claims-ebilling/internal/audit"
	"github.com/mzemanski-eng/claims-ebilling/internal/classification"
	"github.com/mzemanski-eng/claims-ebilling/internal/config"
	"github.com/mzemanski-eng/claims-ebilling/internal/database"
	"github.com/mzemanski-eng/claims-ebilling/internal/guidelinevalidation"
	"github.com/mzemanski-eng/claims-ebilling/internal/httpapi"
	"github.com/mzemanski-eng/claims-ebilling/internal/metrics"
	"github.com/mzemanski-eng/claims-ebilling/internal/notification"
	"github.com/mzemanski-eng/claims-ebilling/internal/orchestrator"
	"github.com/mzemanski-eng/claims-ebilling/internal/ratevalidation"
	"github.com/mzemanski-eng/claims-ebilling/internal/repository"
	"github.com/mzemanski-eng/claims-ebilling/internal/storage"
	"github.com/mzemanski-eng/claims-ebilling/internal/taxonomy"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults layered under it, env overrides on top)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ebilling-api: loading config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ebilling-api: building logger: %v\n", err)
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

	var assessor *aiassess.Assessor
	if cfg.AIAssessment.Enabled {
		assessor = aiassess.NewAssessor(aiassess.Config{
			APIKey:  cfg.AIAssessment.APIKey,
			Model:   cfg.AIAssessment.Model,
			Timeout: cfg.AIAssessment.Timeout,
		}, logger)
	}

	files := storage.NewLocalStore(cfg.Storage)

	transactor := database.NewPoolTransactor(pool, logger)
	orch := orchestrator.New(transactor, repo, classifier, rateValidator, guidelineValidator, assessor, auditLogger, notifier, registry, logger)
	svc := httpapi.NewService(transactor, repo, orch, auditLogger, files, logger)

	router := httpapi.NewRouter(svc, logger)
	apiServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsServer := metrics.NewServer(strconv.Itoa(cfg.Server.MetricsPort), logger)
	metricsServer.StartAsync()

	go func() {
		logger.Info("starting http api", zap.Int("port", cfg.Server.Port), zap.Int("metrics_port", cfg.Server.MetricsPort))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown error", zap.Error(err))
	}
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown error", zap.Error(err))
	}
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
