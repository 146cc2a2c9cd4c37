// Package app wires configuration, storage, AI providers, the
// training worker, and the HTTP server into one runnable service.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/knowbase/knowbase/internal/answer"
	"github.com/knowbase/knowbase/internal/config"
	"github.com/knowbase/knowbase/internal/core"
	db "github.com/knowbase/knowbase/internal/core/database"
	"github.com/knowbase/knowbase/internal/core/llm"
	"github.com/knowbase/knowbase/internal/core/objectstore"
	"github.com/knowbase/knowbase/internal/embed"
	"github.com/knowbase/knowbase/internal/extract"
	"github.com/knowbase/knowbase/internal/logging"
	"github.com/knowbase/knowbase/internal/retrieval"
	"github.com/knowbase/knowbase/internal/training"
)

type App struct {
	DBClient     core.DbClient
	ObjectClient core.ObjectClient
	Worker       *training.Worker
	Server       *Server
	Logger       logging.Logger
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.New(logging.Config{JSON: cfg.LogJSON})

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbClient, err := db.NewDatabaseClient(initCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	logger.Info("database initialized and ready")

	objClient, err := objectstore.NewS3Client(initCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("object storage: %w", err)
	}
	logger.Info("object client initialized and ready")

	embedder, err := llm.NewGeminiEmbedder(initCtx, cfg.AIAPIKey, cfg.EmbedModel)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	llmProvider, err := llm.NewGeminiLLM(initCtx, cfg.AIAPIKey, cfg.GenModel)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}

	embedClient := embed.NewClient(embedder, dbClient, embed.Config{
		Retries:   cfg.EmbedRetries,
		BaseDelay: time.Duration(cfg.EmbedBaseDelay * float64(time.Second)),
		MaxChars:  cfg.EmbedMaxChars,
		RateLimit: cfg.EmbedRateLimit,
	}, logger)

	extractor := extract.NewExtractor(objClient, logger)

	pipeline := training.NewPipeline(dbClient, extractor, embedClient, training.Config{
		ChunkWindow:       cfg.ChunkWindow,
		ChunkOverlap:      cfg.ChunkOverlap,
		RelationThreshold: cfg.RelationThreshold,
		EmbedModel:        cfg.EmbedModel,
		EmbedConcurrency:  cfg.EmbedConcurrency,
	}, logger)

	worker, err := training.NewWorker(pipeline, dbClient, training.WorkerConfig{
		Workers:    cfg.TrainWorkers,
		QueueSize:  cfg.TrainQueueSize,
		Retries:    cfg.JobRetries,
		RetryDelay: time.Duration(cfg.JobRetryDelay * float64(time.Second)),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("worker: %w", err)
	}

	engine := retrieval.NewEngine(dbClient, retrieval.Config{
		TopK:             cfg.TopK,
		MaxDepth:         cfg.MaxGraphDepth,
		RelatedPerNode:   cfg.MaxRelated,
		SimilarityWeight: cfg.SimilarityWeight,
		RelationWeight:   cfg.RelationWeight,
		MaxContextChunks: cfg.MaxContextChunks,
	}, logger)

	streamer := answer.NewStreamer(dbClient, embedClient, engine, llmProvider, answer.Config{
		GenModel:              cfg.GenModel,
		Temperature:           float32(cfg.Temperature),
		HistoryWindow:         cfg.HistoryWindow,
		OptimizeMaxChars:      cfg.OptimizeMaxChars,
		PersistPartialAnswers: cfg.PersistPartialAnswers,
	}, logger)

	server := NewServer(cfg, dbClient, objClient, worker, streamer, logger)

	return &App{
		DBClient:     dbClient,
		ObjectClient: objClient,
		Worker:       worker,
		Server:       server,
		Logger:       logger,
	}, nil
}

// Start runs the background worker and the HTTP server. It blocks
// until the server exits.
func (a *App) Start(ctx context.Context) error {
	a.Worker.Start(ctx)
	return a.Server.Start()
}

func (a *App) Close() {
	if a.Worker != nil {
		a.Worker.Close()
	}
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}
