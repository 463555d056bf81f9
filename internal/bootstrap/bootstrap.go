package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/hybrid-retrieval/internal/config"
	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/core/ports"
	"github.com/kirillkom/hybrid-retrieval/internal/core/usecase"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/embedding/ollama"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/lexical"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/queue/nats"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/relevance"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/rerank"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/resilience"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/hybrid-retrieval/internal/observability/logging"
	"github.com/kirillkom/hybrid-retrieval/internal/observability/metrics"
)

type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.PipelineMetrics

	Queue        *nats.Queue
	LexicalIndex *lexical.Index
	Reranker     ports.RerankerClient
	RetrievalUC  ports.RetrievalService

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger := logging.NewJSONLogger("hybrid-retrieval", cfg.LogLevel)
	slog.SetDefault(logger)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	corpus := postgres.NewCorpusRepository(db)

	queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject)
	if err != nil {
		closeDB(db)
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts: cfg.RetryMaxAttempts,
		AttemptTimeout:   time.Duration(cfg.AttemptTimeoutMS) * time.Millisecond,
		BreakerEnabled:   cfg.BreakerEnabled,
	})

	retrievalTimeout := time.Duration(cfg.RetrievalTimeoutMS) * time.Millisecond
	gateTimeout := time.Duration(cfg.GateTimeoutMS) * time.Millisecond
	rerankTimeout := time.Duration(cfg.RerankTimeoutMS) * time.Millisecond

	embedder := ollama.New(cfg.OllamaURL, cfg.OllamaEmbedModel, retrievalTimeout)
	vectorDB := qdrant.New(cfg.QdrantURL, cfg.QdrantCollectionPrefix, retrievalTimeout, executor)
	lexicalIndex := lexical.NewIndex(corpus, lexical.Params{K1: cfg.BM25K1, B: cfg.BM25B}, logger)

	defaultReranker, err := domain.ParseRerankerType(cfg.RerankerDefault)
	if err != nil {
		queue.Close()
		closeDB(db)
		return nil, fmt.Errorf("resolve default reranker: %w", err)
	}
	registry := rerank.NewRegistry(defaultReranker, []rerank.Backend{
		rerank.NewLocalBackend(domain.RerankerLocalMiniLM, cfg.RerankerLocalURL, cfg.RerankerMiniLMModel, rerankTimeout, executor),
		rerank.NewLocalBackend(domain.RerankerLocalBGE, cfg.RerankerLocalURL, cfg.RerankerBGEModel, rerankTimeout, executor),
		rerank.NewJinaBackend(cfg.JinaAPIURL, cfg.JinaAPIKey, cfg.JinaModel, rerankTimeout, cfg.JinaRequestsPerSec, executor),
	}, logger)
	registry.WarmUp(ctx)

	scorer := relevance.NewCrossEncoderScorer(
		cfg.GateURL, cfg.GateModel,
		cfg.GateScoreMin, cfg.GateScoreMax,
		gateTimeout, executor,
	)

	pipelineMetrics := metrics.NewPipelineMetrics("hybrid-retrieval")

	retrievalUC := usecase.NewRetrievalUseCase(
		embedder,
		vectorDB,
		lexicalIndex,
		scorer,
		registry,
		usecase.Config{
			RRFK:              cfg.RRFK,
			LexicalWeight:     cfg.RRFLexicalWeight,
			CandidatePoolSize: cfg.CandidatePoolSize,

			GateEnabled:            cfg.GateEnabled,
			GateCorrectThreshold:   cfg.GateCorrectThreshold,
			GateIncorrectThreshold: cfg.GateIncorrectThreshold,
			GateFilterThreshold:    cfg.GateFilterThreshold,
			GateTimeoutPolicy:      usecase.GateTimeoutPolicy(cfg.GateTimeoutPolicy),

			RetrievalTimeout: retrievalTimeout,
			GateTimeout:      gateTimeout,
			RerankTimeout:    rerankTimeout,
		},
		logger,
		pipelineMetrics,
	)

	return &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: pipelineMetrics,

		Queue:        queue,
		LexicalIndex: lexicalIndex,
		Reranker:     registry,
		RetrievalUC:  retrievalUC,

		closeFn: func() {
			queue.Close()
			closeDB(db)
		},
	}, nil
}

// ConsumeSessionEvents blocks on the session-updated subscription until ctx is
// canceled, dropping the cached lexical index for every updated session.
func (a *App) ConsumeSessionEvents(ctx context.Context) error {
	return a.Queue.SubscribeSessionUpdated(ctx, func(_ context.Context, sessionID string) error {
		a.LexicalIndex.Invalidate(sessionID)
		a.Logger.Info("lexical_index_invalidated", slog.String("session_id", sessionID))
		return nil
	})
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func closeDB(db *sql.DB) {
	_ = db.Close()
}
