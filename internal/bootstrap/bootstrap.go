package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wenda-project/wenda/internal/config"
	"github.com/wenda-project/wenda/internal/core/ports"
	"github.com/wenda-project/wenda/internal/core/usecase"
	"github.com/wenda-project/wenda/internal/infrastructure/chunking"
	"github.com/wenda-project/wenda/internal/infrastructure/extractor"
	"github.com/wenda-project/wenda/internal/infrastructure/lexical"
	"github.com/wenda-project/wenda/internal/infrastructure/llm/ollama"
	"github.com/wenda-project/wenda/internal/infrastructure/queue/nats"
	"github.com/wenda-project/wenda/internal/infrastructure/ratelimit"
	"github.com/wenda-project/wenda/internal/infrastructure/repository/postgres"
	"github.com/wenda-project/wenda/internal/infrastructure/resilience"
	"github.com/wenda-project/wenda/internal/infrastructure/retrievallog"
	"github.com/wenda-project/wenda/internal/infrastructure/session"
	"github.com/wenda-project/wenda/internal/infrastructure/storage/localfs"
	"github.com/wenda-project/wenda/internal/infrastructure/vector/qdrant"
	"github.com/wenda-project/wenda/internal/infrastructure/websearch"
)

// App holds the wired dependency graph shared by the api, worker and
// mcp entrypoints.
type App struct {
	Config config.Config
	Logger *slog.Logger

	Queue   ports.MessageQueue
	Repo    ports.DocumentRepository
	Lexical *lexical.Index
	Vectors *qdrant.Client

	Retriever ports.RetrieveService
	Answer    ports.AnswerService

	IngestUC  ports.DocumentIngestor
	ProcessUC ports.DocumentProcessor

	RetrievalLog ports.RetrievalLogger
	Limiter      *ratelimit.Limiter

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	templates, err := config.LoadTemplates(cfg.TemplatesPath)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewDocumentRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	exec := resilience.NewExecutor(resilience.DefaultConfig(), logger)

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSIngestSubject, cfg.NATSRefreshSubject, nats.Options{
		ResilienceExecutor: exec,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	llm := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel).
		WithExecutor(exec).
		WithLogger(logger).
		WithGenerationOptions(cfg.Chat.Temperature, cfg.Chat.ContextWindow, cfg.Chat.MaxTokens).
		WithStreamIdleTimeout(time.Duration(cfg.Answer.StreamIdleTimeout) * time.Second)
	embedder := ollama.NewEmbedder(llm)

	vectors := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection)
	vectorSearch := qdrant.NewSearcher(vectors, embedder)
	lexicalIndex := lexical.NewIndex(cfg.LexicalIndexPath, logger)

	var docCtx ports.DocContextStore
	var feedback ports.FeedbackStore
	if cfg.SessionsBackend == "postgres" {
		sessions := postgres.NewSessionRepository(db)
		docCtx = sessions
		feedback = sessions
	} else {
		docCtx = session.NewMemoryDocContextStore(30 * time.Minute)
		feedback = session.NewMemoryFeedbackStore()
	}
	// Conversation turns stay in process memory regardless of backend;
	// they only need to survive for the life of a session.
	memory := session.NewMemoryConversationStore(0)

	retrievalLog := retrievallog.New(cfg.RetrievalLogPath, cfg.MaxRetrievalLogs, logger)
	limiter := ratelimit.New(cfg.RateLimit)
	web := websearch.NewGateway(cfg.WebSearch, exec, logger)

	reranker := usecase.NewLLMReranker(llm, logger)
	retriever := usecase.NewHybridRetriever(vectorSearch, lexicalIndex, reranker, cfg.Retriever, logger)
	classifier := usecase.NewIntentClassifier(llm, cfg.Intent, templates, logger)
	decomposer := usecase.NewQueryDecomposer(llm, cfg.Answer.MaxTopics, logger)
	chat := usecase.NewChatCaller(llm, cfg.Chat, templates, logger)
	answer := usecase.NewAnswerOrchestrator(
		retriever, classifier, decomposer, web, chat,
		docCtx, memory, feedback, retrievalLog,
		cfg.Answer, templates, logger,
	)

	formats := extractor.NewRegistry(storage)
	splitter := chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)

	ingestUC := usecase.NewIngestDocumentUseCase(repo, storage, queue, formats)
	processUC := usecase.NewProcessDocumentUseCase(repo, formats, splitter, embedder, vectors, lexicalIndex, queue, logger)

	return &App{
		Config: cfg,
		Logger: logger,

		Queue:   queue,
		Repo:    repo,
		Lexical: lexicalIndex,
		Vectors: vectors,

		Retriever: retriever,
		Answer:    answer,

		IngestUC:  ingestUC,
		ProcessUC: processUC,

		RetrievalLog: retrievalLog,
		Limiter:      limiter,

		closeFn: func() {
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
