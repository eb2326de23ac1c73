package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/corpora-hq/corpora/internal/config"
	"github.com/corpora-hq/corpora/internal/core/chunker"
	db "github.com/corpora-hq/corpora/internal/core/database"
	"github.com/corpora-hq/corpora/internal/core/extract"
	"github.com/corpora-hq/corpora/internal/core/governor"
	"github.com/corpora-hq/corpora/internal/core/ingest"
	"github.com/corpora-hq/corpora/internal/core/llm"
	objectclient "github.com/corpora-hq/corpora/internal/core/object-client"
	"github.com/corpora-hq/corpora/internal/core/vectorstore"
	"github.com/corpora-hq/corpora/internal/core/video"
	"github.com/corpora-hq/corpora/internal/core/youtube"
	"github.com/corpora-hq/corpora/internal/services"
)

// App owns the wired object graph and the HTTP server. Everything is
// constructed here, once; nothing reaches for globals.
type App struct {
	DBClient   *db.DatabaseClient
	Dispatcher *ingest.Dispatcher
	Server     *Server

	embedder    *llm.GeminiEmbedder
	llmProvider *llm.GeminiLLM
	captioner   *llm.GeminiCaptioner
	transcriber *llm.GeminiTranscriber
	logger      *slog.Logger
}

func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("database initialized and ready")

	objClient, err := objectclient.NewS3Client(appCtx, cfg)
	if err != nil {
		return nil, err
	}

	embedder, err := llm.NewGeminiEmbedder(appCtx, cfg.AIAPIKey, cfg.EmbedModel)
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	llmProvider, err := llm.NewGeminiLLM(appCtx, cfg.AIAPIKey, cfg.GenModel)
	if err != nil {
		return nil, fmt.Errorf("init llm: %w", err)
	}
	captioner, err := llm.NewGeminiCaptioner(appCtx, cfg.AIAPIKey, cfg.GenModel)
	if err != nil {
		return nil, fmt.Errorf("init captioner: %w", err)
	}
	transcriber, err := llm.NewGeminiTranscriber(appCtx, cfg.AIAPIKey, cfg.GenModel)
	if err != nil {
		return nil, fmt.Errorf("init transcriber: %w", err)
	}

	vectors := vectorstore.NewPgvectorStore(dbClient.DB(), embedder, cfg.EmbedBatchSize, logger)

	segmenter := video.NewSegmenter(video.Config{
		Threshold: cfg.SceneThreshold,
		Downscale: cfg.SceneDownscale,
	})
	extractor := extract.NewExtractor(captioner, transcriber, segmenter, logger)

	ch, err := chunker.New(chunker.Config{})
	if err != nil {
		return nil, fmt.Errorf("init chunker: %w", err)
	}

	gov, err := governor.New(cfg.IngestMaxConcurrent)
	if err != nil {
		return nil, fmt.Errorf("init governor: %w", err)
	}

	downloader := youtube.NewDownloader(logger)

	orch := ingest.NewOrchestrator(dbClient, objClient, vectors, extractor, downloader, ch, gov, logger)

	// Pool size tracks governor capacity: extra goroutines would only queue
	// on the semaphore anyway.
	dispatcher, err := ingest.NewDispatcher(orch, cfg.IngestMaxConcurrent*2, logger)
	if err != nil {
		return nil, fmt.Errorf("init dispatcher: %w", err)
	}

	users := services.NewUserService(dbClient)
	docs := services.NewDocumentService(dbClient, objClient, time.Duration(cfg.PresignTTLMinutes)*time.Minute, logger)

	server := NewServer(cfg, users, docs, dispatcher, orch, vectors, llmProvider)

	return &App{
		DBClient:    dbClient,
		Dispatcher:  dispatcher,
		Server:      server,
		embedder:    embedder,
		llmProvider: llmProvider,
		captioner:   captioner,
		transcriber: transcriber,
		logger:      logger,
	}, nil
}

func (a *App) Close() {
	if a.Dispatcher != nil {
		a.Dispatcher.Release()
	}
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
	if a.llmProvider != nil {
		_ = a.llmProvider.Close()
	}
	if a.captioner != nil {
		_ = a.captioner.Close()
	}
	if a.transcriber != nil {
		_ = a.transcriber.Close()
	}
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}
