package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/wenda-project/wenda/internal/config"
	"github.com/wenda-project/wenda/internal/core/domain"
	"github.com/wenda-project/wenda/internal/core/ports"
)

// HybridRetriever fuses vector and lexical retrieval with adaptive
// candidate-pool expansion. It fails soft: backend unavailability
// degrades to an empty result instead of an error.
type HybridRetriever struct {
	vector   ports.VectorSearcher
	lexical  ports.LexicalSearcher
	reranker ports.Reranker
	cfg      config.Retriever
	logger   *slog.Logger

	gibberish gibberishThresholds
}

func NewHybridRetriever(
	vector ports.VectorSearcher,
	lexical ports.LexicalSearcher,
	reranker ports.Reranker,
	cfg config.Retriever,
	logger *slog.Logger,
) *HybridRetriever {
	cfg = normalizeRetrieverConfig(cfg)
	th := defaultGibberishThresholds()
	if cfg.MaxGibberishRatio > 0 {
		th.MaxSymbolRatio = cfg.MaxGibberishRatio
	}
	if cfg.MinPrintableRatio > 0 {
		th.MinPrintableRatio = cfg.MinPrintableRatio
	}
	return &HybridRetriever{
		vector:    vector,
		lexical:   lexical,
		reranker:  reranker,
		cfg:       cfg,
		logger:    logger,
		gibberish: th,
	}
}

func normalizeRetrieverConfig(cfg config.Retriever) config.Retriever {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 6
	}
	if cfg.MaxTopK < cfg.DefaultTopK {
		cfg.MaxTopK = cfg.DefaultTopK
	}
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = 0.6
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.6
	}
	if cfg.RerankTopN <= 0 {
		cfg.RerankTopN = cfg.MaxTopK
	}
	return cfg
}

func (r *HybridRetriever) Retrieve(ctx context.Context, in ports.RetrieveInput) (domain.RetrievalResult, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return domain.EmptyRetrievalResult(), domain.WrapError(domain.ErrInvalidInput, "retrieve", errors.New("query is required"))
	}

	topK := in.TopK
	if topK <= 0 {
		topK = r.cfg.DefaultTopK
	}
	alpha := r.cfg.Alpha
	if in.Alpha != nil && *in.Alpha > 0 && *in.Alpha <= 1 {
		alpha = *in.Alpha
	}

	adaptiveK := topK
	if adaptiveK < r.cfg.DefaultTopK {
		adaptiveK = r.cfg.DefaultTopK
	}
	if adaptiveK > r.cfg.MaxTopK {
		adaptiveK = r.cfg.MaxTopK
	}

	diagnostics := map[string]any{
		"query":          query,
		"alpha":          alpha,
		"requested_topk": topK,
	}

	var fused []domain.RetrievalCandidate
	iterations := make([]map[string]any, 0, 2)

	for {
		vectorHits, lexicalHits := r.fetchBoth(ctx, query, adaptiveK)
		fused = fuseHybrid(vectorHits, lexicalHits, alpha)
		fused = r.diversifyBySourcePage(fused)
		fused = r.filterGibberish(fused)

		confidence := 0.0
		if len(fused) > 0 {
			confidence = fused[0].FusedScore
		}
		iterations = append(iterations, map[string]any{
			"adaptive_k":   adaptiveK,
			"vector_hits":  len(vectorHits),
			"lexical_hits": len(lexicalHits),
			"fused_hits":   len(fused),
			"confidence":   confidence,
		})

		if confidence >= r.cfg.ConfidenceThreshold || adaptiveK >= r.cfg.MaxTopK {
			break
		}
		next := adaptiveK * 2
		if next > r.cfg.MaxTopK {
			next = r.cfg.MaxTopK
		}
		adaptiveK = next
	}

	diagnostics["iterations"] = iterations
	diagnostics["achieved_topk"] = adaptiveK
	if len(fused) > 0 {
		diagnostics["confidence"] = fused[0].FusedScore
	} else {
		diagnostics["confidence"] = 0.0
	}

	fused = r.applyCallerFilters(fused, in.Filters, diagnostics)

	if in.UseRerank && r.reranker != nil && len(fused) > 0 {
		fused = r.rerank(ctx, query, fused, diagnostics)
	}

	fused = trimCandidates(fused, topK)
	if fused == nil {
		fused = []domain.RetrievalCandidate{}
	}
	diagnostics["final_results"] = len(fused)

	return domain.RetrievalResult{Candidates: fused, Diagnostics: diagnostics}, nil
}

// fetchBoth queries the two signals concurrently. A failing side is
// logged and treated as empty.
func (r *HybridRetriever) fetchBoth(ctx context.Context, query string, limit int) ([]domain.RetrievalCandidate, []domain.RetrievalCandidate) {
	var (
		wg          sync.WaitGroup
		vectorHits  []domain.RetrievalCandidate
		lexicalHits []domain.RetrievalCandidate
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		hits, err := r.vector.Search(ctx, query, limit)
		if err != nil {
			r.logger.Warn("vector_search_failed", "error", err)
			return
		}
		vectorHits = hits
	}()
	go func() {
		defer wg.Done()
		hits, err := r.lexical.Search(ctx, query, limit)
		if err != nil {
			r.logger.Warn("lexical_search_failed", "error", err)
			return
		}
		lexicalHits = hits
	}()
	wg.Wait()

	return vectorHits, lexicalHits
}

// diversifyBySourcePage caps how many candidates a single (source,
// page) pair may contribute. Disabled when no cap is configured.
func (r *HybridRetriever) diversifyBySourcePage(candidates []domain.RetrievalCandidate) []domain.RetrievalCandidate {
	if r.cfg.MaxPerSource <= 0 {
		return candidates
	}

	counts := make(map[string]int, len(candidates))
	out := make([]domain.RetrievalCandidate, 0, len(candidates))
	for _, c := range candidates {
		key := c.Source
		if c.Page != nil {
			key = fmt.Sprintf("%s#%d", c.Source, *c.Page)
		}
		if counts[key] >= r.cfg.MaxPerSource {
			continue
		}
		counts[key]++
		out = append(out, c)
	}
	return out
}

// filterGibberish drops candidates that look mis-decoded. If the
// filter would remove everything, it is skipped entirely.
func (r *HybridRetriever) filterGibberish(candidates []domain.RetrievalCandidate) []domain.RetrievalCandidate {
	if len(candidates) == 0 {
		return candidates
	}
	out := make([]domain.RetrievalCandidate, 0, len(candidates))
	for _, c := range candidates {
		if looksGibberish(c.Text, r.gibberish) {
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return candidates
	}
	return out
}

// applyCallerFilters enforces source-type and minimum-score filters,
// falling back to the unfiltered set when filtering empties it.
func (r *HybridRetriever) applyCallerFilters(candidates []domain.RetrievalCandidate, filters *domain.SearchFilter, diagnostics map[string]any) []domain.RetrievalCandidate {
	if filters == nil || len(candidates) == 0 {
		return candidates
	}

	allowedTypes := make(map[domain.SourceType]struct{}, len(filters.SourceTypes))
	for _, st := range filters.SourceTypes {
		allowedTypes[st] = struct{}{}
	}
	allowedSources := make(map[string]struct{}, len(filters.Sources))
	for _, s := range filters.Sources {
		allowedSources[s] = struct{}{}
	}

	out := make([]domain.RetrievalCandidate, 0, len(candidates))
	for _, c := range candidates {
		if len(allowedTypes) > 0 {
			if _, ok := allowedTypes[c.SourceType]; !ok {
				continue
			}
		}
		if len(allowedSources) > 0 {
			if _, ok := allowedSources[c.Source]; !ok {
				continue
			}
		}
		if filters.MinScore > 0 && c.FusedScore < filters.MinScore {
			continue
		}
		out = append(out, c)
	}

	if len(out) == 0 {
		diagnostics["filters_fallback"] = true
		return candidates
	}
	diagnostics["filtered_results"] = len(out)
	return out
}

// rerank passes the capped head of the list through the re-ranker.
// Failures keep the original order.
func (r *HybridRetriever) rerank(ctx context.Context, query string, candidates []domain.RetrievalCandidate, diagnostics map[string]any) []domain.RetrievalCandidate {
	topN := r.cfg.RerankTopN
	if topN > len(candidates) {
		topN = len(candidates)
	}
	head := make([]domain.RetrievalCandidate, topN)
	copy(head, candidates[:topN])

	reranked, err := r.reranker.Rerank(ctx, query, head)
	if err != nil || len(reranked) == 0 {
		if err != nil {
			r.logger.Warn("rerank_failed", "error", err)
		}
		diagnostics["rerank_applied"] = false
		return candidates
	}

	diagnostics["rerank_applied"] = true
	out := make([]domain.RetrievalCandidate, 0, len(candidates))
	out = append(out, reranked...)
	out = append(out, candidates[topN:]...)
	return out
}
