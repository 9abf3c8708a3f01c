package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/wenda-project/wenda/internal/config"
	"github.com/wenda-project/wenda/internal/core/domain"
	"github.com/wenda-project/wenda/internal/core/ports"
)

type stubVectorSearcher struct {
	hits  []domain.RetrievalCandidate
	err   error
	calls []int
}

func (s *stubVectorSearcher) Search(_ context.Context, _ string, limit int) ([]domain.RetrievalCandidate, error) {
	s.calls = append(s.calls, limit)
	if s.err != nil {
		return nil, s.err
	}
	if limit > len(s.hits) {
		limit = len(s.hits)
	}
	return s.hits[:limit], nil
}

type stubLexicalSearcher struct {
	hits  []domain.RetrievalCandidate
	err   error
	calls []int
}

func (s *stubLexicalSearcher) Search(_ context.Context, _ string, limit int) ([]domain.RetrievalCandidate, error) {
	s.calls = append(s.calls, limit)
	if s.err != nil {
		return nil, s.err
	}
	if limit > len(s.hits) {
		limit = len(s.hits)
	}
	return s.hits[:limit], nil
}

func (s *stubLexicalSearcher) Refresh(context.Context) error { return nil }

type stubReranker struct {
	out []domain.RetrievalCandidate
	err error
}

func (s *stubReranker) Rerank(_ context.Context, _ string, candidates []domain.RetrievalCandidate) ([]domain.RetrievalCandidate, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.out != nil {
		return s.out, nil
	}
	return candidates, nil
}

func testRetrieverConfig() config.Retriever {
	return config.Retriever{
		DefaultTopK:         6,
		MaxTopK:             10,
		Alpha:               0.6,
		ConfidenceThreshold: 0.6,
	}
}

func newTestRetriever(vector ports.VectorSearcher, lexical ports.LexicalSearcher, reranker ports.Reranker, cfg config.Retriever) *HybridRetriever {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHybridRetriever(vector, lexical, reranker, cfg, logger)
}

func TestRetrieveRejectsEmptyQuery(t *testing.T) {
	r := newTestRetriever(&stubVectorSearcher{}, &stubLexicalSearcher{}, nil, testRetrieverConfig())

	_, err := r.Retrieve(context.Background(), ports.RetrieveInput{Query: "   "})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}

func TestRetrieveLexicalOnlyWhenVectorFails(t *testing.T) {
	vector := &stubVectorSearcher{err: errors.New("connection refused")}
	lexical := &stubLexicalSearcher{hits: []domain.RetrievalCandidate{
		lexCandidate("l1", 4.0),
		lexCandidate("l2", 2.0),
	}}
	r := newTestRetriever(vector, lexical, nil, testRetrieverConfig())

	result, err := r.Retrieve(context.Background(), ports.RetrieveInput{Query: "storage layout"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(result.Candidates))
	}
	if result.Candidates[0].ChunkID != "l1" || result.Candidates[0].FusedScore != 1.0 {
		t.Fatalf("lexical-only top hit should keep full normalized score, got %s at %v",
			result.Candidates[0].ChunkID, result.Candidates[0].FusedScore)
	}
}

func TestRetrieveFailsSoftWhenBothBackendsFail(t *testing.T) {
	vector := &stubVectorSearcher{err: errors.New("down")}
	lexical := &stubLexicalSearcher{err: errors.New("down")}
	r := newTestRetriever(vector, lexical, nil, testRetrieverConfig())

	result, err := r.Retrieve(context.Background(), ports.RetrieveInput{Query: "anything"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Candidates) != 0 {
		t.Fatalf("expected empty result, got %d candidates", len(result.Candidates))
	}
}

func TestRetrieveAdaptiveExpansion(t *testing.T) {
	// many low-scoring hits keep top fused confidence below threshold,
	// so the pool doubles from 6 to 10 before stopping at the cap
	hits := make([]domain.RetrievalCandidate, 0, 12)
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"} {
		hits = append(hits, vecCandidate(id, 0.3))
	}
	vector := &stubVectorSearcher{hits: hits}
	lexical := &stubLexicalSearcher{}
	r := newTestRetriever(vector, lexical, nil, testRetrieverConfig())

	// equal raw scores decay by rank, so normalized top stays at 1.0;
	// force expansion by raising the threshold above it
	cfg := testRetrieverConfig()
	cfg.ConfidenceThreshold = 1.5
	r = newTestRetriever(vector, lexical, nil, cfg)

	result, err := r.Retrieve(context.Background(), ports.RetrieveInput{Query: "broad topic", TopK: 6})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vector.calls) != 2 {
		t.Fatalf("expected 2 expansion iterations, got limits %v", vector.calls)
	}
	if vector.calls[0] != 6 || vector.calls[1] != 10 {
		t.Fatalf("expected pool to double 6 -> 10, got %v", vector.calls)
	}
	if len(result.Candidates) != 6 {
		t.Fatalf("final result should honor requested topK, got %d", len(result.Candidates))
	}
}

func TestRetrieveStopsExpansionWhenConfident(t *testing.T) {
	vector := &stubVectorSearcher{hits: []domain.RetrievalCandidate{
		vecCandidate("a", 0.95),
		vecCandidate("b", 0.20),
	}}
	r := newTestRetriever(vector, &stubLexicalSearcher{}, nil, testRetrieverConfig())

	_, err := r.Retrieve(context.Background(), ports.RetrieveInput{Query: "precise question"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vector.calls) != 1 {
		t.Fatalf("expected single iteration, got %d", len(vector.calls))
	}
}

func TestRetrieveGibberishFiltered(t *testing.T) {
	bad := vecCandidate("bad", 0.9)
	bad.Text = "���� broken ����������"
	good := vecCandidate("good", 0.8)
	vector := &stubVectorSearcher{hits: []domain.RetrievalCandidate{bad, good}}
	r := newTestRetriever(vector, &stubLexicalSearcher{}, nil, testRetrieverConfig())

	result, err := r.Retrieve(context.Background(), ports.RetrieveInput{Query: "clean text"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, c := range result.Candidates {
		if c.ChunkID == "bad" {
			t.Fatalf("corrupted candidate survived filtering")
		}
	}
}

func TestRetrieveGibberishFilterSkippedWhenAllMatch(t *testing.T) {
	bad := vecCandidate("only", 0.9)
	bad.Text = "������������"
	vector := &stubVectorSearcher{hits: []domain.RetrievalCandidate{bad}}
	r := newTestRetriever(vector, &stubLexicalSearcher{}, nil, testRetrieverConfig())

	result, err := r.Retrieve(context.Background(), ports.RetrieveInput{Query: "anything"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Candidates) != 1 {
		t.Fatalf("filter emptying the pool should be skipped, got %d candidates", len(result.Candidates))
	}
}

func TestRetrieveFilterFallback(t *testing.T) {
	vector := &stubVectorSearcher{hits: []domain.RetrievalCandidate{
		vecCandidate("a", 0.9),
		vecCandidate("b", 0.7),
	}}
	r := newTestRetriever(vector, &stubLexicalSearcher{}, nil, testRetrieverConfig())

	filters := &domain.SearchFilter{Sources: []string{"missing.pdf"}}
	result, err := r.Retrieve(context.Background(), ports.RetrieveInput{Query: "query", Filters: filters})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Candidates) == 0 {
		t.Fatalf("expected unfiltered fallback, got empty result")
	}
	if fallback, _ := result.Diagnostics["filters_fallback"].(bool); !fallback {
		t.Fatalf("diagnostics missing filters_fallback marker: %v", result.Diagnostics)
	}
}

func TestRetrieveRerankFailureKeepsOrder(t *testing.T) {
	vector := &stubVectorSearcher{hits: []domain.RetrievalCandidate{
		vecCandidate("a", 0.9),
		vecCandidate("b", 0.7),
	}}
	reranker := &stubReranker{err: errors.New("model timeout")}
	r := newTestRetriever(vector, &stubLexicalSearcher{}, reranker, testRetrieverConfig())

	result, err := r.Retrieve(context.Background(), ports.RetrieveInput{Query: "query", UseRerank: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Candidates[0].ChunkID != "a" {
		t.Fatalf("rerank failure must keep fused order, got %s first", result.Candidates[0].ChunkID)
	}
	if applied, _ := result.Diagnostics["rerank_applied"].(bool); applied {
		t.Fatalf("diagnostics should record that rerank was not applied")
	}
}

func TestRetrieveDiversifyBySource(t *testing.T) {
	page := 3
	a1 := vecCandidate("a1", 0.9)
	a1.Page = &page
	a2 := vecCandidate("a2", 0.8)
	a2.Page = &page
	a3 := vecCandidate("a3", 0.7)
	a3.Page = &page
	other := vecCandidate("b1", 0.6)
	other.Source = "other.pdf"

	cfg := testRetrieverConfig()
	cfg.MaxPerSource = 2
	vector := &stubVectorSearcher{hits: []domain.RetrievalCandidate{a1, a2, a3, other}}
	r := newTestRetriever(vector, &stubLexicalSearcher{}, nil, cfg)

	result, err := r.Retrieve(context.Background(), ports.RetrieveInput{Query: "query"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	samePage := 0
	for _, c := range result.Candidates {
		if c.Source == "doc.pdf" && c.Page != nil && *c.Page == page {
			samePage++
		}
	}
	if samePage > 2 {
		t.Fatalf("expected at most 2 candidates per source page, got %d", samePage)
	}
}
