package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/wenda-project/wenda/internal/core/domain"
	"github.com/wenda-project/wenda/internal/core/ports"
)

// LLMReranker re-scores candidates with the generation backend. The
// response contract is a best-effort JSON ranking; anything malformed
// is reported as an error so the retriever keeps the fused order.
type LLMReranker struct {
	backend ports.ChatBackend
	logger  *slog.Logger
}

func NewLLMReranker(backend ports.ChatBackend, logger *slog.Logger) *LLMReranker {
	return &LLMReranker{backend: backend, logger: logger}
}

const rerankPromptHeader = `根据问题对候选段落重新排序，只输出 JSON，不要输出其他内容：
{"ranking":[{"chunk_id":"...","score":0.0}]}

问题：%s

候选段落：
`

type rerankResponse struct {
	Ranking []struct {
		ChunkID string  `json:"chunk_id"`
		Score   float64 `json:"score"`
	} `json:"ranking"`
}

func (r *LLMReranker) Rerank(ctx context.Context, query string, candidates []domain.RetrievalCandidate) ([]domain.RetrievalCandidate, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, rerankPromptHeader, query)
	for i, c := range candidates {
		text := c.Text
		if len([]rune(text)) > 400 {
			text = string([]rune(text)[:400])
		}
		fmt.Fprintf(&b, "[%d] chunk_id=%s score=%.3f\n%s\n\n", i, c.ChunkID, c.FusedScore, text)
	}

	raw, err := r.backend.GenerateJSON(ctx, b.String())
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "rerank", err)
	}

	var parsed rerankResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "rerank parse", err)
	}
	if len(parsed.Ranking) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "rerank parse", fmt.Errorf("empty ranking"))
	}

	byID := make(map[string]domain.RetrievalCandidate, len(candidates))
	for _, c := range candidates {
		byID[candidateKey(c)] = c
	}

	seen := make(map[string]bool, len(parsed.Ranking))
	out := make([]domain.RetrievalCandidate, 0, len(candidates))
	for _, item := range parsed.Ranking {
		c, ok := byID[item.ChunkID]
		if !ok || seen[item.ChunkID] {
			continue
		}
		seen[item.ChunkID] = true
		c.FusedScore = item.Score
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "rerank parse", fmt.Errorf("no known chunk ids in ranking"))
	}

	ranked := len(out)
	sort.SliceStable(out[:ranked], func(i, j int) bool {
		return out[i].FusedScore > out[j].FusedScore
	})

	// chunks the model dropped keep their fused order at the tail
	for _, c := range candidates {
		if !seen[candidateKey(c)] {
			out = append(out, c)
		}
	}
	return out, nil
}
