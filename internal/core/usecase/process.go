package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/wenda-project/wenda/internal/core/domain"
	"github.com/wenda-project/wenda/internal/core/ports"
)

// ProcessDocumentUseCase runs the indexing pipeline for one uploaded
// document: extract, chunk, embed, index, then announce the refresh.
type ProcessDocumentUseCase struct {
	repo      ports.DocumentRepository
	extractor ports.TextExtractor
	chunker   ports.Chunker
	embedder  ports.Embedder
	vectors   ports.VectorIndexer
	lexical   ports.LexicalIndexer
	queue     ports.MessageQueue
	logger    *slog.Logger
}

func NewProcessDocumentUseCase(
	repo ports.DocumentRepository,
	extractor ports.TextExtractor,
	chunker ports.Chunker,
	embedder ports.Embedder,
	vectors ports.VectorIndexer,
	lexical ports.LexicalIndexer,
	queue ports.MessageQueue,
	logger *slog.Logger,
) *ProcessDocumentUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessDocumentUseCase{
		repo:      repo,
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		vectors:   vectors,
		lexical:   lexical,
		queue:     queue,
		logger:    logger,
	}
}

func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, documentID string) error {
	if err := uc.repo.UpdateStatus(ctx, documentID, domain.StatusProcessing, ""); err != nil {
		return fmt.Errorf("set status=processing: %w", err)
	}

	chunkCount, err := uc.pipeline(ctx, documentID)
	if err != nil {
		if failErr := uc.repo.UpdateStatus(ctx, documentID, domain.StatusFailed, err.Error()); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	if err := uc.repo.SetChunkCount(ctx, documentID, chunkCount); err != nil {
		return fmt.Errorf("set chunk count: %w", err)
	}
	if err := uc.repo.UpdateStatus(ctx, documentID, domain.StatusReady, ""); err != nil {
		return fmt.Errorf("set status=ready: %w", err)
	}

	// Other instances reload their lexical snapshot on this signal; a
	// publish failure must not undo a finished ingest.
	if uc.queue != nil {
		if err := uc.queue.PublishIndexRefresh(ctx); err != nil {
			uc.logger.Warn("index_refresh_publish_failed",
				slog.String("document_id", documentID),
				slog.String("error", err.Error()))
		}
	}

	uc.logger.Info("ingest_done",
		slog.String("document_id", documentID),
		slog.Int("chunks", chunkCount))
	return nil
}

func (uc *ProcessDocumentUseCase) pipeline(ctx context.Context, documentID string) (int, error) {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return 0, fmt.Errorf("fetch document by id: %w", err)
	}

	segments, err := uc.extractor.Extract(ctx, doc)
	if err != nil {
		return 0, fmt.Errorf("extract text: %w", err)
	}
	if len(segments) == 0 {
		return 0, domain.WrapError(domain.ErrInvalidInput, "extract text",
			errors.New("empty extracted text"))
	}

	chunks := uc.buildChunks(doc, segments)
	if len(chunks) == 0 {
		return 0, domain.WrapError(domain.ErrInvalidInput, "chunk document",
			errors.New("chunking produced zero chunks"))
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := uc.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return 0, domain.WrapError(domain.ErrInternal, "embed chunks",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(chunks)))
	}

	if err := uc.vectors.IndexChunks(ctx, doc, chunks, vectors); err != nil {
		return 0, fmt.Errorf("index chunks in vector db: %w", err)
	}

	if err := uc.lexical.Append(ctx, lexicalEntries(doc, chunks)); err != nil {
		return 0, fmt.Errorf("append lexical entries: %w", err)
	}

	return len(chunks), nil
}

// buildChunks splits each extracted segment and carries its page and
// metadata into every resulting chunk.
func (uc *ProcessDocumentUseCase) buildChunks(doc *domain.Document, segments []domain.Chunk) []domain.Chunk {
	var out []domain.Chunk
	index := 0
	for _, seg := range segments {
		source := seg.Source
		if source == "" {
			source = doc.Filename
		}
		for _, text := range uc.chunker.Split(seg.Text) {
			out = append(out, domain.Chunk{
				ID:       uuid.NewString(),
				Text:     text,
				Index:    index,
				Source:   source,
				Page:     seg.Page,
				Metadata: seg.Metadata,
			})
			index++
		}
	}
	return out
}

func lexicalEntries(doc *domain.Document, chunks []domain.Chunk) []domain.LexicalEntry {
	entries := make([]domain.LexicalEntry, 0, len(chunks))
	for _, c := range chunks {
		metadata := map[string]any{
			"doc_id":      doc.ID,
			"chunk_index": c.Index,
		}
		if c.Page != nil {
			metadata["page"] = *c.Page
		}
		entries = append(entries, domain.LexicalEntry{
			ChunkID:  c.ID,
			Text:     c.Text,
			Source:   c.Source,
			Metadata: metadata,
		})
	}
	return entries
}
