package usecase

import (
	"sort"

	"github.com/wenda-project/wenda/internal/core/domain"
)

// normalizeScores rescales one signal's raw scores to [0,1] via min-max
// scaling. When every score is equal, a small rank decay keeps relative
// order for downstream tie-breaking instead of collapsing to 1.0.
func normalizeScores(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}

	minScore, maxScore := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < minScore {
			minScore = s
		}
		if s > maxScore {
			maxScore = s
		}
	}

	out := make([]float64, len(scores))
	if maxScore-minScore <= 1e-12 {
		for rank := range scores {
			decayed := 1.0 - 0.05*float64(rank)
			if decayed < 0.5 {
				decayed = 0.5
			}
			out[rank] = decayed
		}
		return out
	}

	span := maxScore - minScore
	for i, s := range scores {
		out[i] = (s - minScore) / span
	}
	return out
}

// fuseHybrid merges the vector and lexical candidate lists by chunk id.
// Chunks scored by both signals get the alpha blend; chunks seen by
// exactly one signal keep that signal's normalized score undiluted, so
// single-signal hits are not capped at alpha or 1-alpha.
func fuseHybrid(vector, lexical []domain.RetrievalCandidate, alpha float64) []domain.RetrievalCandidate {
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}

	vecScores := make([]float64, len(vector))
	for i, c := range vector {
		vecScores[i] = c.VectorScore
	}
	lexScores := make([]float64, len(lexical))
	for i, c := range lexical {
		lexScores[i] = c.LexicalScore
	}
	vecNorm := normalizeScores(vecScores)
	lexNorm := normalizeScores(lexScores)

	type fused struct {
		candidate domain.RetrievalCandidate
	}

	acc := make(map[string]*fused, len(vector)+len(lexical))
	order := make([]string, 0, len(vector)+len(lexical))

	for i, c := range vector {
		key := candidateKey(c)
		entry, ok := acc[key]
		if !ok {
			entry = &fused{candidate: c}
			acc[key] = entry
			order = append(order, key)
		}
		entry.candidate = preferRicherCandidate(entry.candidate, c)
		entry.candidate.VectorScore = vecNorm[i]
	}
	for i, c := range lexical {
		key := candidateKey(c)
		entry, ok := acc[key]
		if !ok {
			entry = &fused{candidate: c}
			acc[key] = entry
			order = append(order, key)
		}
		entry.candidate = preferRicherCandidate(entry.candidate, c)
		entry.candidate.LexicalScore = lexNorm[i]
	}

	out := make([]domain.RetrievalCandidate, 0, len(acc))
	for _, key := range order {
		c := acc[key].candidate
		switch {
		case c.VectorScore > 0 && c.LexicalScore > 0:
			c.FusedScore = alpha*c.VectorScore + (1-alpha)*c.LexicalScore
		case c.VectorScore > 0:
			c.FusedScore = c.VectorScore
		default:
			c.FusedScore = c.LexicalScore
		}
		out = append(out, c)
	}

	sortCandidates(out)
	return out
}

// fuseTopicsRRF merges per-topic rankings across sub-queries sharing a
// chunk id using reciprocal-rank weighting.
func fuseTopicsRRF(topicRankings [][]domain.RetrievalCandidate) []domain.RetrievalCandidate {
	type fused struct {
		candidate domain.RetrievalCandidate
		score     float64
	}

	acc := make(map[string]*fused)
	order := make([]string, 0, 16)

	for _, ranking := range topicRankings {
		for rank, c := range ranking {
			key := candidateKey(c)
			entry, ok := acc[key]
			if !ok {
				entry = &fused{candidate: c}
				acc[key] = entry
				order = append(order, key)
			}
			entry.candidate = preferRicherCandidate(entry.candidate, c)
			entry.score += 1.0 / float64(rank+1)
		}
	}

	out := make([]domain.RetrievalCandidate, 0, len(acc))
	for _, key := range order {
		entry := acc[key]
		c := entry.candidate
		c.FusedScore = entry.score
		out = append(out, c)
	}

	sortCandidates(out)
	return out
}

// sortCandidates orders by fused score descending with deterministic
// tie-breaks so fusion stays idempotent.
func sortCandidates(candidates []domain.RetrievalCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].FusedScore != candidates[j].FusedScore {
			return candidates[i].FusedScore > candidates[j].FusedScore
		}
		if candidates[i].Source != candidates[j].Source {
			return candidates[i].Source < candidates[j].Source
		}
		return candidates[i].ChunkID < candidates[j].ChunkID
	})
}

func trimCandidates(candidates []domain.RetrievalCandidate, limit int) []domain.RetrievalCandidate {
	if limit <= 0 || len(candidates) <= limit {
		return candidates
	}
	return candidates[:limit]
}

func candidateKey(c domain.RetrievalCandidate) string {
	if c.ChunkID != "" {
		return c.ChunkID
	}
	return c.Source + "|" + c.Text
}

func preferRicherCandidate(current, candidate domain.RetrievalCandidate) domain.RetrievalCandidate {
	if current.ChunkID == "" && current.Source == "" && current.Text == "" {
		return candidate
	}
	if current.Text == "" && candidate.Text != "" {
		current.Text = candidate.Text
	}
	if current.Source == "" && candidate.Source != "" {
		current.Source = candidate.Source
	}
	if current.Page == nil && candidate.Page != nil {
		current.Page = candidate.Page
	}
	if current.SourceType == "" && candidate.SourceType != "" {
		current.SourceType = candidate.SourceType
	}
	if current.Metadata == nil && candidate.Metadata != nil {
		current.Metadata = candidate.Metadata
	}
	return current
}
