package lexical

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/wenda-project/wenda/internal/core/domain"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// Index is a BM25 index over a JSONL snapshot on disk. Searches run
// against an immutable in-memory snapshot; the file fingerprint
// (size + mtime) is checked on each search and the snapshot is
// rebuilt when the file changed underneath us.
type Index struct {
	path   string
	logger *slog.Logger

	mu       sync.RWMutex
	snapshot *snapshot

	appendMu sync.Mutex
}

type snapshot struct {
	entries   []domain.LexicalEntry
	postings  map[string][]posting
	docLen    []int
	avgDocLen float64
	size      int64
	modTime   int64
}

type posting struct {
	doc int
	tf  float64
}

func NewIndex(path string, logger *slog.Logger) *Index {
	return &Index{path: path, logger: logger}
}

func (ix *Index) Search(ctx context.Context, query string, limit int) ([]domain.RetrievalCandidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap, err := ix.currentSnapshot()
	if err != nil {
		return nil, domain.WrapError(domain.ErrUnavailable, "lexical search", err)
	}
	if snap == nil || len(snap.entries) == 0 {
		return []domain.RetrievalCandidate{}, nil
	}

	terms := tokenize(query)
	if len(terms) == 0 {
		return []domain.RetrievalCandidate{}, nil
	}

	scores := make(map[int]float64, 64)
	totalDocs := float64(len(snap.entries))
	for _, term := range terms {
		plist, ok := snap.postings[term]
		if !ok {
			continue
		}
		df := float64(len(plist))
		idf := math.Log(1.0 + (totalDocs-df+0.5)/(df+0.5))
		for _, p := range plist {
			norm := 1.0 - bm25B + bm25B*float64(snap.docLen[p.doc])/snap.avgDocLen
			scores[p.doc] += idf * (p.tf * (bm25K1 + 1.0)) / (p.tf + bm25K1*norm)
		}
	}
	if len(scores) == 0 {
		return []domain.RetrievalCandidate{}, nil
	}

	docs := make([]int, 0, len(scores))
	for doc := range scores {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool {
		if scores[docs[i]] != scores[docs[j]] {
			return scores[docs[i]] > scores[docs[j]]
		}
		return docs[i] < docs[j]
	})
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}

	out := make([]domain.RetrievalCandidate, 0, len(docs))
	for _, doc := range docs {
		entry := snap.entries[doc]
		out = append(out, domain.RetrievalCandidate{
			ChunkID:      entry.ChunkID,
			Text:         entry.Text,
			Source:       entry.Source,
			Page:         pageFromMetadata(entry.Metadata),
			SourceType:   domain.SourceDocument,
			LexicalScore: scores[doc],
			Metadata:     entry.Metadata,
		})
	}
	return out, nil
}

// Refresh forces a snapshot rebuild regardless of the fingerprint.
func (ix *Index) Refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snap, err := ix.load()
	if err != nil {
		return domain.WrapError(domain.ErrUnavailable, "lexical refresh", err)
	}
	ix.mu.Lock()
	ix.snapshot = snap
	ix.mu.Unlock()
	return nil
}

// Append writes new entries to the JSONL file. The next search picks
// them up through the fingerprint check.
func (ix *Index) Append(ctx context.Context, entries []domain.LexicalEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	ix.appendMu.Lock()
	defer ix.appendMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(ix.path), 0o755); err != nil {
		return domain.WrapError(domain.ErrUnavailable, "lexical append", err)
	}
	f, err := os.OpenFile(ix.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return domain.WrapError(domain.ErrUnavailable, "lexical append", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, entry := range entries {
		if len(entry.Tokens) == 0 {
			entry.Tokens = tokenize(entry.Text)
		}
		line, err := json.Marshal(entry)
		if err != nil {
			return domain.WrapError(domain.ErrInternal, "lexical append", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return domain.WrapError(domain.ErrUnavailable, "lexical append", err)
		}
	}
	if err := w.Flush(); err != nil {
		return domain.WrapError(domain.ErrUnavailable, "lexical append", err)
	}
	return nil
}

// Clear truncates the index file and drops the in-memory snapshot.
func (ix *Index) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ix.appendMu.Lock()
	defer ix.appendMu.Unlock()

	if err := os.Remove(ix.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return domain.WrapError(domain.ErrUnavailable, "lexical clear", err)
	}
	ix.mu.Lock()
	ix.snapshot = nil
	ix.mu.Unlock()
	return nil
}

func (ix *Index) currentSnapshot() (*snapshot, error) {
	info, err := os.Stat(ix.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	ix.mu.RLock()
	snap := ix.snapshot
	ix.mu.RUnlock()
	if snap != nil && snap.size == info.Size() && snap.modTime == info.ModTime().UnixNano() {
		return snap, nil
	}

	snap, err = ix.load()
	if err != nil {
		return nil, err
	}
	ix.mu.Lock()
	ix.snapshot = snap
	ix.mu.Unlock()
	return snap, nil
}

func (ix *Index) load() (*snapshot, error) {
	f, err := os.Open(ix.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	snap := &snapshot{
		postings: make(map[string][]posting),
		size:     info.Size(),
		modTime:  info.ModTime().UnixNano(),
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry domain.LexicalEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			if ix.logger != nil {
				ix.logger.Warn("lexical_entry_skipped", "line", lineNo, "error", err)
			}
			continue
		}
		tokens := entry.Tokens
		if len(tokens) == 0 {
			tokens = tokenize(entry.Text)
		}

		doc := len(snap.entries)
		snap.entries = append(snap.entries, entry)
		snap.docLen = append(snap.docLen, len(tokens))

		tf := make(map[string]float64, len(tokens))
		for _, token := range tokens {
			tf[token]++
		}
		for token, freq := range tf {
			snap.postings[token] = append(snap.postings[token], posting{doc: doc, tf: freq})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", ix.path, err)
	}

	total := 0
	for _, l := range snap.docLen {
		total += l
	}
	if len(snap.docLen) > 0 {
		snap.avgDocLen = float64(total) / float64(len(snap.docLen))
	}
	if snap.avgDocLen == 0 {
		snap.avgDocLen = 1
	}
	return snap, nil
}

func pageFromMetadata(metadata map[string]any) *int {
	if metadata == nil {
		return nil
	}
	switch v := metadata["page"].(type) {
	case float64:
		page := int(v)
		return &page
	case int:
		page := v
		return &page
	}
	return nil
}
