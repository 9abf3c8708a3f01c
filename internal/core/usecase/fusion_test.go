package usecase

import (
	"math"
	"testing"

	"github.com/wenda-project/wenda/internal/core/domain"
)

func vecCandidate(id string, score float64) domain.RetrievalCandidate {
	return domain.RetrievalCandidate{
		ChunkID:     id,
		Text:        "text for " + id,
		Source:      "doc.pdf",
		SourceType:  domain.SourceDocument,
		VectorScore: score,
	}
}

func lexCandidate(id string, score float64) domain.RetrievalCandidate {
	return domain.RetrievalCandidate{
		ChunkID:      id,
		Text:         "text for " + id,
		Source:       "doc.pdf",
		SourceType:   domain.SourceDocument,
		LexicalScore: score,
	}
}

func TestNormalizeScoresMinMax(t *testing.T) {
	got := normalizeScores([]float64{0.2, 0.8, 0.5})
	want := []float64{0.0, 1.0, 0.5}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Fatalf("normalizeScores[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestNormalizeScoresEqualScoresRankDecay(t *testing.T) {
	got := normalizeScores([]float64{0.7, 0.7, 0.7, 0.7, 0.7, 0.7, 0.7, 0.7, 0.7, 0.7, 0.7, 0.7})
	if got[0] != 1.0 {
		t.Fatalf("rank 0 = %v, want 1.0", got[0])
	}
	if math.Abs(got[3]-0.85) > 1e-9 {
		t.Fatalf("rank 3 = %v, want 0.85", got[3])
	}
	// decay floors at 0.5 once rank*0.05 exceeds 0.5
	if got[11] != 0.5 {
		t.Fatalf("rank 11 = %v, want 0.5", got[11])
	}
}

func TestFuseHybridBlendsSharedChunks(t *testing.T) {
	vector := []domain.RetrievalCandidate{vecCandidate("a", 0.9), vecCandidate("b", 0.1)}
	lexical := []domain.RetrievalCandidate{lexCandidate("a", 3.0), lexCandidate("b", 1.0)}

	out := fuseHybrid(vector, lexical, 0.6)
	if len(out) != 2 {
		t.Fatalf("expected 2 fused candidates, got %d", len(out))
	}
	// chunk a normalizes to 1.0 on both sides: 0.6*1 + 0.4*1
	if out[0].ChunkID != "a" || math.Abs(out[0].FusedScore-1.0) > 1e-9 {
		t.Fatalf("unexpected top candidate %s score %v", out[0].ChunkID, out[0].FusedScore)
	}
}

func TestFuseHybridSingleSignalUndiluted(t *testing.T) {
	vector := []domain.RetrievalCandidate{vecCandidate("a", 0.9), vecCandidate("b", 0.2)}
	lexical := []domain.RetrievalCandidate{lexCandidate("c", 2.5), lexCandidate("d", 0.5)}

	out := fuseHybrid(vector, lexical, 0.6)
	scores := map[string]float64{}
	for _, c := range out {
		scores[c.ChunkID] = c.FusedScore
	}
	// vector-only and lexical-only top hits keep their full normalized
	// score instead of being multiplied by alpha or 1-alpha
	if math.Abs(scores["a"]-1.0) > 1e-9 {
		t.Fatalf("vector-only candidate diluted: %v", scores["a"])
	}
	if math.Abs(scores["c"]-1.0) > 1e-9 {
		t.Fatalf("lexical-only candidate diluted: %v", scores["c"])
	}
}

func TestFuseHybridLexicalOnly(t *testing.T) {
	lexical := []domain.RetrievalCandidate{lexCandidate("x", 4.2), lexCandidate("y", 1.1)}

	out := fuseHybrid(nil, lexical, 0.6)
	if len(out) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(out))
	}
	if out[0].ChunkID != "x" || math.Abs(out[0].FusedScore-1.0) > 1e-9 {
		t.Fatalf("lexical-only fusion produced %s at %v", out[0].ChunkID, out[0].FusedScore)
	}
	if out[1].FusedScore != 0.0 {
		t.Fatalf("bottom candidate should normalize to 0, got %v", out[1].FusedScore)
	}
}

func TestFuseHybridDeterministic(t *testing.T) {
	vector := []domain.RetrievalCandidate{vecCandidate("a", 0.5), vecCandidate("b", 0.5), vecCandidate("c", 0.5)}

	first := fuseHybrid(vector, nil, 0.6)
	for i := 0; i < 10; i++ {
		again := fuseHybrid(vector, nil, 0.6)
		for j := range first {
			if first[j].ChunkID != again[j].ChunkID || first[j].FusedScore != again[j].FusedScore {
				t.Fatalf("fusion not deterministic at position %d: %s vs %s", j, first[j].ChunkID, again[j].ChunkID)
			}
		}
	}
}

func TestFuseTopicsRRF(t *testing.T) {
	rankings := [][]domain.RetrievalCandidate{
		{vecCandidate("a", 0), vecCandidate("b", 0)},
		{vecCandidate("b", 0), vecCandidate("c", 0)},
	}

	out := fuseTopicsRRF(rankings)
	if len(out) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(out))
	}
	// b appears at rank 1 and rank 0: 1/2 + 1/1 = 1.5
	if out[0].ChunkID != "b" || math.Abs(out[0].FusedScore-1.5) > 1e-9 {
		t.Fatalf("top RRF candidate = %s at %v, want b at 1.5", out[0].ChunkID, out[0].FusedScore)
	}
	// a at rank 0 in one list only: 1.0
	if out[1].ChunkID != "a" || math.Abs(out[1].FusedScore-1.0) > 1e-9 {
		t.Fatalf("second RRF candidate = %s at %v, want a at 1.0", out[1].ChunkID, out[1].FusedScore)
	}
}

func TestTrimCandidates(t *testing.T) {
	in := []domain.RetrievalCandidate{vecCandidate("a", 1), vecCandidate("b", 1), vecCandidate("c", 1)}
	if got := trimCandidates(in, 2); len(got) != 2 {
		t.Fatalf("expected trim to 2, got %d", len(got))
	}
	if got := trimCandidates(in, 0); len(got) != 3 {
		t.Fatalf("non-positive limit should keep all, got %d", len(got))
	}
}
