package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/wenda-project/wenda/internal/core/domain"
)

type stubJSONBackend struct {
	response string
	err      error
}

func (s *stubJSONBackend) Chat(context.Context, []domain.ChatMessage) (string, error) {
	return "", errors.New("not used")
}

func (s *stubJSONBackend) ChatStream(context.Context, []domain.ChatMessage, func(string) error) error {
	return errors.New("not used")
}

func (s *stubJSONBackend) GenerateJSON(context.Context, string) (string, error) {
	return s.response, s.err
}

func newTestReranker(backend *stubJSONBackend) *LLMReranker {
	return NewLLMReranker(backend, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRerankReordersByRanking(t *testing.T) {
	backend := &stubJSONBackend{response: `{"ranking":[{"chunk_id":"b","score":0.9},{"chunk_id":"a","score":0.4}]}`}
	r := newTestReranker(backend)

	out, err := r.Rerank(context.Background(), "question", []domain.RetrievalCandidate{
		vecCandidate("a", 0.8),
		vecCandidate("b", 0.6),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].ChunkID != "b" || out[1].ChunkID != "a" {
		t.Fatalf("unexpected order: %s, %s", out[0].ChunkID, out[1].ChunkID)
	}
	if out[0].FusedScore != 0.9 {
		t.Fatalf("expected reranked score, got %v", out[0].FusedScore)
	}
}

func TestRerankKeepsDroppedChunksAtTail(t *testing.T) {
	backend := &stubJSONBackend{response: `{"ranking":[{"chunk_id":"b","score":0.9}]}`}
	r := newTestReranker(backend)

	out, err := r.Rerank(context.Background(), "question", []domain.RetrievalCandidate{
		vecCandidate("a", 0.8),
		vecCandidate("b", 0.6),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected both candidates back, got %d", len(out))
	}
	if out[1].ChunkID != "a" {
		t.Fatalf("dropped chunk should trail, got %s", out[1].ChunkID)
	}
}

func TestRerankMalformedJSONFails(t *testing.T) {
	backend := &stubJSONBackend{response: `not json at all`}
	r := newTestReranker(backend)

	_, err := r.Rerank(context.Background(), "question", []domain.RetrievalCandidate{vecCandidate("a", 0.8)})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected parse error kind, got %v", err)
	}
}

func TestRerankUnknownIDsFail(t *testing.T) {
	backend := &stubJSONBackend{response: `{"ranking":[{"chunk_id":"zzz","score":0.9}]}`}
	r := newTestReranker(backend)

	_, err := r.Rerank(context.Background(), "question", []domain.RetrievalCandidate{vecCandidate("a", 0.8)})
	if err == nil {
		t.Fatalf("expected error for unknown chunk ids")
	}
}

func TestRerankEmptyInputPassesThrough(t *testing.T) {
	r := newTestReranker(&stubJSONBackend{})

	out, err := r.Rerank(context.Background(), "question", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty output, got %d", len(out))
	}
}
