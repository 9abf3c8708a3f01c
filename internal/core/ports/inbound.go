package ports

import (
	"context"
	"io"

	"github.com/wenda-project/wenda/internal/core/domain"
)

// AnswerService is the inbound contract for question answering.
type AnswerService interface {
	Answer(ctx context.Context, req domain.AnswerRequest) (*domain.AnswerResponse, error)
	AnswerStream(ctx context.Context, req domain.AnswerRequest, onChunk func(string) error) (*domain.AnswerResponse, error)
}

// RetrieveService exposes hybrid retrieval on its own.
type RetrieveService interface {
	Retrieve(ctx context.Context, in RetrieveInput) (domain.RetrievalResult, error)
}

// RetrieveInput is the retriever contract.
type RetrieveInput struct {
	Query     string
	TopK      int
	Alpha     *float64
	UseRerank bool
	Filters   *domain.SearchFilter
}

// DocumentIngestor is the inbound contract for document upload.
type DocumentIngestor interface {
	Upload(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.Document, error)
}

// DocumentProcessor is the inbound contract for asynchronous indexing.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
}

// DocumentReader is the inbound read model for document metadata/state.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
}
