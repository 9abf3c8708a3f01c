package retrievallog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/wenda-project/wenda/internal/core/domain"
)

const (
	defaultMaxEntries = 500
	maxRecentLimit    = 200
	defaultRecent     = 50
)

// Log is a bounded JSONL retrieval log. Appends go to the end of the
// file; once the cap is exceeded the file is compacted down to the
// newest entries.
type Log struct {
	path   string
	max    int
	logger *slog.Logger

	mu      sync.Mutex
	entries []domain.RetrievalLogEntry
	loaded  bool
}

func New(path string, maxEntries int, logger *slog.Logger) *Log {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &Log{path: path, max: maxEntries, logger: logger}
}

func (l *Log) Append(ctx context.Context, entry domain.RetrievalLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureLoaded(); err != nil {
		return err
	}

	l.entries = append(l.entries, entry)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
		return l.rewrite()
	}
	return l.appendLine(entry)
}

// Recent returns the newest entries first. The limit is clamped.
func (l *Log) Recent(ctx context.Context, limit int) ([]domain.RetrievalLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultRecent
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureLoaded(); err != nil {
		return nil, err
	}
	if limit > len(l.entries) {
		limit = len(l.entries)
	}

	out := make([]domain.RetrievalLogEntry, limit)
	for i := 0; i < limit; i++ {
		out[i] = l.entries[len(l.entries)-1-i]
	}
	return out, nil
}

// Stats aggregates over the retained window.
func (l *Log) Stats(ctx context.Context) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureLoaded(); err != nil {
		return nil, err
	}

	total := len(l.entries)
	if total == 0 {
		return map[string]any{"total": 0}, nil
	}

	sumTopK := 0
	sumConfidence := 0.0
	confidenceCount := 0
	rerankApplied := 0
	webUsed := 0
	for _, e := range l.entries {
		sumTopK += e.TopK
		if v, ok := diagFloat(e.Diagnostics, "confidence"); ok {
			sumConfidence += v
			confidenceCount++
		}
		if v, ok := e.Diagnostics["rerank_applied"].(bool); ok && v {
			rerankApplied++
		}
		if v, ok := e.Diagnostics["web_search_used"].(bool); ok && v {
			webUsed++
		}
	}

	stats := map[string]any{
		"total":            total,
		"avg_top_k":        float64(sumTopK) / float64(total),
		"rerank_use_ratio": float64(rerankApplied) / float64(total),
		"web_use_ratio":    float64(webUsed) / float64(total),
	}
	if confidenceCount > 0 {
		stats["avg_confidence"] = sumConfidence / float64(confidenceCount)
	}
	return stats, nil
}

func (l *Log) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = nil
	l.loaded = true
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove retrieval log: %w", err)
	}
	return nil
}

func diagFloat(diags map[string]any, key string) (float64, bool) {
	switch v := diags[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func (l *Log) ensureLoaded() error {
	if l.loaded {
		return nil
	}
	l.loaded = true

	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open retrieval log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry domain.RetrievalLogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			l.logger.Warn("retrieval_log_entry_skipped", "error", err)
			continue
		}
		l.entries = append(l.entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan retrieval log: %w", err)
	}
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	return nil
}

func (l *Log) appendLine(entry domain.RetrievalLogEntry) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create retrieval log dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open retrieval log for append: %w", err)
	}
	defer f.Close()

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode retrieval log entry: %w", err)
	}
	if _, err := f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("append retrieval log entry: %w", err)
	}
	return nil
}

func (l *Log) rewrite() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create retrieval log dir: %w", err)
	}
	tmp := l.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open retrieval log tmp: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, entry := range l.entries {
		raw, err := json.Marshal(entry)
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("encode retrieval log entry: %w", err)
		}
		if _, err := w.Write(append(raw, '\n')); err != nil {
			_ = f.Close()
			return fmt.Errorf("write retrieval log entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush retrieval log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close retrieval log tmp: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("swap retrieval log: %w", err)
	}
	return nil
}
