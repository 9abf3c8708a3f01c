package retrievallog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/wenda-project/wenda/internal/core/domain"
)

func newTestLog(t *testing.T, max int) *Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "retrieval_log.jsonl")
	return New(path, max, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func entry(query string, topK int, diags map[string]any) domain.RetrievalLogEntry {
	return domain.RetrievalLogEntry{Query: query, TopK: topK, Diagnostics: diags}
}

func TestAppendAndRecentNewestFirst(t *testing.T) {
	l := newTestLog(t, 100)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := l.Append(ctx, entry(fmt.Sprintf("q%d", i), 6, nil)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	recent, err := l.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(recent))
	}
	if recent[0].Query != "q4" || recent[2].Query != "q2" {
		t.Fatalf("entries not newest-first: %+v", recent)
	}
}

func TestRecentLimitClamped(t *testing.T) {
	l := newTestLog(t, 100)
	ctx := context.Background()
	_ = l.Append(ctx, entry("q", 6, nil))

	recent, err := l.Recent(ctx, 10_000)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected clamp to actual size, got %d", len(recent))
	}
}

func TestCapEvictsOldest(t *testing.T) {
	l := newTestLog(t, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := l.Append(ctx, entry(fmt.Sprintf("q%d", i), 6, nil)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	recent, _ := l.Recent(ctx, 200)
	if len(recent) != 3 {
		t.Fatalf("expected cap of 3, got %d", len(recent))
	}
	if recent[len(recent)-1].Query != "q2" {
		t.Fatalf("oldest retained should be q2, got %s", recent[len(recent)-1].Query)
	}
}

func TestEntriesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	first := New(path, 100, logger)
	_ = first.Append(ctx, entry("persisted", 6, nil))

	second := New(path, 100, logger)
	recent, err := second.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 || recent[0].Query != "persisted" {
		t.Fatalf("entries not reloaded from disk: %+v", recent)
	}
}

func TestStatsAggregates(t *testing.T) {
	l := newTestLog(t, 100)
	ctx := context.Background()

	_ = l.Append(ctx, entry("a", 6, map[string]any{"confidence": 0.8, "rerank_applied": true, "web_search_used": true}))
	_ = l.Append(ctx, entry("b", 10, map[string]any{"confidence": 0.6, "rerank_applied": false}))

	stats, err := l.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats["total"] != 2 {
		t.Fatalf("total = %v", stats["total"])
	}
	if got := stats["avg_top_k"].(float64); got != 8 {
		t.Fatalf("avg_top_k = %v", got)
	}
	if got := stats["avg_confidence"].(float64); got < 0.69 || got > 0.71 {
		t.Fatalf("avg_confidence = %v", got)
	}
	if got := stats["rerank_use_ratio"].(float64); got != 0.5 {
		t.Fatalf("rerank_use_ratio = %v", got)
	}
}

func TestStatsEmptyLog(t *testing.T) {
	l := newTestLog(t, 100)

	stats, err := l.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats["total"] != 0 {
		t.Fatalf("empty log total = %v", stats["total"])
	}
}

func TestClearEmptiesLog(t *testing.T) {
	l := newTestLog(t, 100)
	ctx := context.Background()

	_ = l.Append(ctx, entry("q", 6, nil))
	if err := l.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	recent, _ := l.Recent(ctx, 10)
	if len(recent) != 0 {
		t.Fatalf("log not cleared: %+v", recent)
	}
}
