package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/kirillkom/legal-rag/internal/config"
	"github.com/kirillkom/legal-rag/internal/core/ports"
	"github.com/kirillkom/legal-rag/internal/core/usecase"
	"github.com/kirillkom/legal-rag/internal/infrastructure/cache"
	"github.com/kirillkom/legal-rag/internal/infrastructure/chunking"
	"github.com/kirillkom/legal-rag/internal/infrastructure/embedding/hashing"
	"github.com/kirillkom/legal-rag/internal/infrastructure/embedding/hugotembed"
	"github.com/kirillkom/legal-rag/internal/infrastructure/extractor"
	"github.com/kirillkom/legal-rag/internal/infrastructure/inference"
	"github.com/kirillkom/legal-rag/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/legal-rag/internal/infrastructure/llm/vertex"
	"github.com/kirillkom/legal-rag/internal/infrastructure/queue/nats"
	"github.com/kirillkom/legal-rag/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/legal-rag/internal/infrastructure/rerank/crossencoder"
	"github.com/kirillkom/legal-rag/internal/infrastructure/resilience"
	"github.com/kirillkom/legal-rag/internal/infrastructure/segmenter"
	"github.com/kirillkom/legal-rag/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/legal-rag/internal/infrastructure/vector/memory"
	"github.com/kirillkom/legal-rag/internal/observability/metrics"
)

type Options struct {
	// Service labels metrics and the pipeline observer.
	Service string
	// Queue connects to NATS; binaries that never publish or consume leave it off.
	Queue bool
}

type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.HTTPServerMetrics

	Queue     ports.MessageQueue
	Store     ports.VectorStore
	Models    *usecase.ModelRegistry
	IngestUC  ports.DocumentIngestor
	ProcessUC ports.DocumentProcessor
	Retriever ports.EvidenceRetriever
	Answers   ports.AnsweringService
	Claims    ports.ClaimValidator

	closers []func() error
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts Options) (app *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Service == "" {
		opts.Service = "api"
	}

	app = &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewHTTPServerMetrics(opts.Service),
	}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()
	observer := app.Metrics.Observer(opts.Service)
	executor := resilience.NewExecutor(resilience.DefaultConfig())

	store, err := app.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.Store = store

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	var queue ports.MessageQueue
	if opts.Queue {
		q, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{ResilienceExecutor: executor})
		if err != nil {
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		app.closers = append(app.closers, func() error { q.Close(); return nil })
		queue = q
	}
	app.Queue = queue

	pool := inference.NewPool(cfg.InferencePoolSize)
	embedder, err := app.newEmbedder(cfg, pool, executor)
	if err != nil {
		return nil, err
	}
	if embedder.Dimension() != cfg.EmbeddingDimension {
		return nil, fmt.Errorf("embedder dimension %d does not match EMBEDDING_DIMENSION %d", embedder.Dimension(), cfg.EmbeddingDimension)
	}

	memo := cache.New(cfg.RedisURL, logger)
	app.closers = append(app.closers, memo.Close)

	var scorer ports.RelevanceScorer = usecase.LexicalScorer{}
	if cfg.RerankerURL != "" {
		scorer = crossencoder.New(cfg.RerankerURL, cfg.RerankTimeout, executor)
	}
	reranker := usecase.NewReranker(scorer, memo, usecase.RerankConfig{
		BatchSize:   cfg.RerankBatchSize,
		Concurrency: cfg.RerankConcurrency,
		CacheTTL:    cfg.RerankCacheTTL,
	}, logger, observer)

	entries, defaultModel, err := app.modelEntries(ctx, cfg, executor)
	if err != nil {
		return nil, err
	}
	app.Models = usecase.NewModelRegistry(entries, memo, usecase.GenerationConfig{
		DefaultModel: defaultModel,
		CacheTTL:     cfg.GenerationCacheTTL,
		Timeout:      cfg.GenerationTimeout,
	}, logger, observer)

	retrieval := usecase.NewRetrievalService(embedder, store, reranker, usecase.RetrievalConfig{
		DefaultMaxResults:        cfg.RetrievalMaxResults,
		OverFetchFactor:          cfg.RetrievalOverFetchFactor,
		KeywordFallbackEnabled:   cfg.KeywordFallbackEnabled,
		KeywordFallbackThreshold: cfg.KeywordFallbackThreshold,
		SearchTimeout:            cfg.SearchTimeout,
	}, logger, observer)
	app.Retriever = retrieval

	app.Answers = usecase.NewAnswerService(retrieval, app.Models, usecase.AnswerConfig{
		MaxEvidence: cfg.AnswerMaxEvidence,
		UseCache:    cfg.AnswerCacheEnabled,
	}, logger, observer)
	app.Claims = usecase.NewClaimValidationService(retrieval, app.Models, usecase.ValidationConfig{
		MaxEvidence:   cfg.ValidationMaxEvidence,
		MinSimilarity: cfg.ValidationMinSimilarity,
	})

	processUC := usecase.NewProcessDocumentUseCase(
		store,
		extractor.New(storage),
		segmenter.New(segmenter.Config{
			MinParagraphChars: cfg.SegmentMinParagraphChars,
			MaxUnits:          cfg.SegmentMaxUnits,
		}),
		chunking.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		embedder,
		logger,
	)
	app.ProcessUC = processUC
	app.IngestUC = usecase.NewIngestDocumentUseCase(store, storage, queue, processUC)

	return app, nil
}

func (a *App) openStore(ctx context.Context, cfg config.Config) (ports.VectorStore, error) {
	if cfg.VectorBackend == config.VectorBackendMemory {
		a.Logger.Warn("vector_store_in_memory", "dimension", cfg.EmbeddingDimension)
		return memory.New(cfg.EmbeddingDimension), nil
	}
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	store := postgres.NewStore(db, cfg.EmbeddingDimension, postgres.IndexConfig{
		M:              cfg.HNSWM,
		EFConstruction: cfg.HNSWEFConstruction,
		EFSearch:       cfg.HNSWEFSearch,
	})
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

func (a *App) newEmbedder(cfg config.Config, pool *inference.Pool, executor *resilience.Executor) (ports.Embedder, error) {
	switch cfg.EmbedderProvider {
	case config.EmbedderHashing:
		return hashing.New(cfg.EmbeddingDimension), nil
	case config.EmbedderOllama:
		client := ollama.New(cfg.OllamaURL, cfg.EmbedTimeout, executor)
		return ollama.NewEmbedder(client, cfg.OllamaEmbedModel, cfg.EmbeddingDimension), nil
	default:
		embedder, err := hugotembed.New(hugotembed.Config{
			ModelName: cfg.EmbeddingModel,
			ModelDir:  cfg.EmbeddingModelDir,
			Dimension: cfg.EmbeddingDimension,
			BatchSize: cfg.EmbedBatchSize,
			Timeout:   cfg.EmbedTimeout,
		}, pool)
		if err != nil {
			return nil, fmt.Errorf("load embedding model: %w", err)
		}
		a.closers = append(a.closers, embedder.Close)
		return embedder, nil
	}
}

// modelEntries builds every configured backend independently. A backend that cannot be
// constructed is kept as an entry with its error so the registry can report it.
func (a *App) modelEntries(ctx context.Context, cfg config.Config, executor *resilience.Executor) ([]usecase.ModelEntry, string, error) {
	specs, defaultModel, err := cfg.ModelSpecs()
	if err != nil {
		return nil, "", fmt.Errorf("load model registry: %w", err)
	}
	entries := make([]usecase.ModelEntry, 0, len(specs))
	for _, spec := range specs {
		entry := usecase.ModelEntry{Name: spec.Name, Provider: spec.Provider}
		switch spec.Provider {
		case config.ProviderOllama:
			client := ollama.New(spec.BaseURL, cfg.GenerationTimeout, executor)
			entry.Backend = ollama.NewBackend(client, spec.Name, spec.Model, spec.Temperature)
		case config.ProviderVertex:
			backend, err := vertex.New(ctx, spec.Name, vertex.Config{
				Project:     spec.Project,
				Region:      spec.Region,
				Model:       spec.Model,
				Temperature: spec.Temperature,
			}, executor)
			if err != nil {
				entry.Err = err
				break
			}
			a.closers = append(a.closers, backend.Close)
			entry.Backend = backend
		default:
			entry.Err = fmt.Errorf("unknown provider %q", spec.Provider)
		}
		entries = append(entries, entry)
	}
	return entries, defaultModel, nil
}

// Close releases resources in reverse acquisition order.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && !errors.Is(err, io.EOF) {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.Logger.Warn("shutdown_close_failed", "error", err)
	}
}
