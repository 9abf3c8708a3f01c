package ports

import (
	"context"
	"io"

	"github.com/wenda-project/wenda/internal/core/domain"
)

// VectorSearcher embeds a query and returns nearest-neighbor chunks.
type VectorSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]domain.RetrievalCandidate, error)
}

// LexicalSearcher scores a query against the persisted lexical corpus.
type LexicalSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]domain.RetrievalCandidate, error)
	Refresh(ctx context.Context) error
}

// ChatBackend is the generation backend used for answers, intent
// refinement, decomposition and re-ranking.
type ChatBackend interface {
	Chat(ctx context.Context, messages []domain.ChatMessage) (string, error)
	ChatStream(ctx context.Context, messages []domain.ChatMessage, onChunk func(string) error) error
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Reranker re-scores a candidate list for a query. Failures are
// swallowed by callers; the original order is kept.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []domain.RetrievalCandidate) ([]domain.RetrievalCandidate, error)
}

// WebSearcher runs ordered multi-provider web search with quota-aware
// failover. Available reports whether any provider is configured, so
// callers can route around a keyless deployment up front.
type WebSearcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]domain.WebHit, error)
	Available() bool
}

// DocContextStore keeps the last document context per session.
type DocContextStore interface {
	Get(ctx context.Context, sessionID string) (*domain.SessionDocContext, error)
	Put(ctx context.Context, dc domain.SessionDocContext) error
	Clear(ctx context.Context, sessionID string) error
}

// ConversationMemory keeps a bounded rolling question/answer history
// per session.
type ConversationMemory interface {
	Append(ctx context.Context, sessionID, question, answer string) error
	History(ctx context.Context, sessionID string) ([]domain.ConversationTurn, error)
	Reset(ctx context.Context, sessionID string) error
}

// FeedbackStore keeps a bounded rolling feedback list per session; the
// list resets whenever the question changes.
type FeedbackStore interface {
	Append(ctx context.Context, entry domain.FeedbackEntry) error
	List(ctx context.Context, sessionID string) ([]domain.FeedbackEntry, error)
}

// RetrievalLogger appends to the bounded retrieval log.
type RetrievalLogger interface {
	Append(ctx context.Context, entry domain.RetrievalLogEntry) error
	Recent(ctx context.Context, limit int) ([]domain.RetrievalLogEntry, error)
	Stats(ctx context.Context) (map[string]any, error)
	Clear(ctx context.Context) error
}

// DocumentRepository persists and reads document state.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	SetChunkCount(ctx context.Context, id string, count int) error
	IndexStatus(ctx context.Context) (domain.IndexStatus, error)
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue publishes/consumes ingestion and index refresh events.
type MessageQueue interface {
	PublishDocumentIngested(ctx context.Context, documentID string) error
	SubscribeDocumentIngested(ctx context.Context, handler func(context.Context, string) error) error
	PublishIndexRefresh(ctx context.Context) error
	SubscribeIndexRefresh(ctx context.Context, handler func(context.Context) error) error
}

// TextExtractor extracts plain text pages from a stored document.
type TextExtractor interface {
	Extract(ctx context.Context, doc *domain.Document) ([]domain.Chunk, error)
}

// Chunker splits text into semantically usable chunks.
type Chunker interface {
	Split(text string) []string
}

// VectorIndexer upserts chunk vectors into the vector store.
type VectorIndexer interface {
	IndexChunks(ctx context.Context, doc *domain.Document, chunks []domain.Chunk, vectors [][]float32) error
	Clear(ctx context.Context) error
}

// LexicalIndexer appends entries to the persisted lexical corpus.
type LexicalIndexer interface {
	Append(ctx context.Context, entries []domain.LexicalEntry) error
	Clear(ctx context.Context) error
}
