// Package bootstrap assembles the application graph shared by the API and
// worker binaries.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/audexhq/audex/internal/config"
	"github.com/audexhq/audex/internal/core/domain"
	"github.com/audexhq/audex/internal/core/ports"
	"github.com/audexhq/audex/internal/core/rules"
	"github.com/audexhq/audex/internal/core/scoring"
	"github.com/audexhq/audex/internal/core/usecase"
	"github.com/audexhq/audex/internal/eventbus"
	"github.com/audexhq/audex/internal/infrastructure/ai/gemini"
	"github.com/audexhq/audex/internal/infrastructure/engine/ocr"
	"github.com/audexhq/audex/internal/infrastructure/engine/vision"
	"github.com/audexhq/audex/internal/infrastructure/queue/nats"
	"github.com/audexhq/audex/internal/infrastructure/report"
	"github.com/audexhq/audex/internal/infrastructure/repository/postgres"
	"github.com/audexhq/audex/internal/infrastructure/storage/localfs"
	"github.com/audexhq/audex/internal/observability/logging"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Repo    ports.BatchRepository
	Storage ports.ObjectStorage
	Queue   *nats.Queue
	Bus     *eventbus.Bus

	IngestUC  ports.BatchIngestor
	ProcessUC ports.BatchProcessor
	RerunUC   ports.BatchAnalyzer
	QueryUC   ports.BatchReader

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, service string) (*App, error) {
	logger := logging.NewJSONLogger(service, cfg.LogLevel)
	slog.SetDefault(logger)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewBatchRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject)
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	ruleset, err := rules.Load(cfg.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("load rule table: %w", err)
	}

	var detector *vision.DetectorClient
	if cfg.VisionEngine == vision.ModeDetector {
		detector = vision.NewDetectorClient(cfg.VisionDetectorURL, time.Duration(cfg.VisionTimeoutSeconds)*time.Second)
	}
	visionEngine := vision.NewEngine(cfg.VisionEngine, storage, ruleset, detector)
	ocrEngine := ocr.NewEngine(storage)

	analysisModel := gemini.NewResilientClient(
		gemini.New(gemini.Config{
			APIKey:            cfg.GeminiAPIKey,
			Model:             cfg.GeminiModel,
			BaseURL:           cfg.GeminiBaseURL,
			Timeout:           time.Duration(cfg.GeminiTimeoutSeconds) * time.Second,
			RequestsPerMinute: cfg.GeminiRequestsPerMinute,
		}),
		cfg.GeminiMaxRetries,
		time.Duration(cfg.GeminiRetryBudgetSec)*time.Second,
	)
	summaryModel := gemini.NewResilientClient(
		gemini.New(gemini.Config{
			APIKey:            cfg.GeminiAPIKey,
			Model:             cfg.SummaryModel,
			BaseURL:           cfg.GeminiBaseURL,
			Timeout:           time.Duration(cfg.GeminiTimeoutSeconds) * time.Second,
			RequestsPerMinute: cfg.GeminiRequestsPerMinute,
		}),
		cfg.GeminiMaxRetries,
		time.Duration(cfg.GeminiRetryBudgetSec)*time.Second,
	)

	analyzer := usecase.NewAnalyzeBatchUseCase(usecase.AnalyzerConfig{
		Enabled:          cfg.AIEnabled,
		Required:         cfg.AIRequired,
		APIKeyConfigured: cfg.GeminiAPIKey != "",
		Model:            cfg.GeminiModel,
	}, analysisModel, storage)
	summarizer := usecase.NewSummarizeBatchUseCase(usecase.SummarizerConfig{
		Enabled:          cfg.SummaryEnabled,
		Required:         cfg.SummaryRequired,
		APIKeyConfigured: cfg.GeminiAPIKey != "",
		Model:            cfg.SummaryModel,
		FallbackEnabled:  cfg.SummaryFallbackEnabled,
		FallbackModel:    "local-template",
	}, summaryModel)

	scoringCfg, err := scoring.LoadConfig(cfg.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("load scoring weights: %w", err)
	}
	scorer := scoring.NewScorer(scoringCfg)
	reporter := report.NewBuilder(storage)

	// All progress flows through NATS, even for publishers in this
	// process: the local bus is fed solely by the subscription below, so
	// every API instance sees one copy of every frame.
	bus := eventbus.New()
	stopProgress, err := queue.SubscribeProgress(bus.Publish)
	if err != nil {
		return nil, fmt.Errorf("subscribe progress: %w", err)
	}

	processUC := usecase.NewProcessBatchUseCase(
		usecase.ProcessorConfig{
			HeartbeatInterval: time.Duration(cfg.HeartbeatSeconds) * time.Second,
		},
		repo,
		visionEngine,
		ocrEngine,
		analyzer,
		summarizer,
		scorer,
		progressPublisher{queue},
		reporter,
	)
	rerunUC := usecase.NewReanalyzeBatchUseCase(repo, analyzer, progressPublisher{queue})
	ingestUC := usecase.NewIngestBatchUseCase(repo, storage, queue)
	queryUC := usecase.NewBatchQueryUseCase(repo)

	return &App{
		Config:  cfg,
		Logger:  logger,
		Repo:    repo,
		Storage: storage,
		Queue:   queue,
		Bus:     bus,

		IngestUC:  ingestUC,
		ProcessUC: processUC,
		RerunUC:   rerunUC,
		QueryUC:   queryUC,

		closeFn: func() {
			stopProgress()
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// progressPublisher adapts the queue to the pipeline's publish contract.
type progressPublisher struct {
	queue *nats.Queue
}

func (p progressPublisher) Publish(msg domain.ProgressMessage) {
	p.queue.PublishProgress(msg)
}
