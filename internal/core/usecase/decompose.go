package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/wenda-project/wenda/internal/core/domain"
	"github.com/wenda-project/wenda/internal/core/ports"
)

// QueryDecomposer splits compound questions into at most maxTopics
// single-domain sub-queries. The regex path always works; the LLM path
// only refines long multi-fragment queries and falls back silently.
type QueryDecomposer struct {
	backend    ports.ChatBackend
	maxTopics  int
	minLen     int
	llmTimeout time.Duration
	logger     *slog.Logger
}

func NewQueryDecomposer(backend ports.ChatBackend, maxTopics int, logger *slog.Logger) *QueryDecomposer {
	if maxTopics <= 0 {
		maxTopics = 3
	}
	return &QueryDecomposer{
		backend:    backend,
		maxTopics:  maxTopics,
		minLen:     12,
		llmTimeout: 8 * time.Second,
		logger:     logger,
	}
}

var (
	clauseSplitRe = regexp.MustCompile(`[\n。；;？！?!,，、]+`)
	ordinalRe     = regexp.MustCompile(`^\s*(?:[0-9]+[.)、]|[一二三四五六七八九十]+[、.)]|[-*•])\s*`)
	ordinalOnlyRe = regexp.MustCompile(`^[0-9一二三四五六七八九十]+$`)
	subQueryRe    = regexp.MustCompile(`(?m)^子查询\s*[0-9]+\s*[:：]\s*(.+)$`)
)

func (d *QueryDecomposer) Decompose(ctx context.Context, query string) domain.Decomposition {
	fragments := d.splitFragments(query)

	if len([]rune(query)) < d.minLen || len(fragments) <= 1 {
		return d.finish(fragments, query)
	}

	if d.backend != nil {
		if refined, ok := d.llmDecompose(ctx, query); ok {
			if len(refined) == 0 {
				return d.finish([]string{strings.TrimSpace(query)}, query)
			}
			return d.finish(refined, query)
		}
	}
	return d.finish(fragments, query)
}

func (d *QueryDecomposer) splitFragments(query string) []string {
	parts := clauseSplitRe.Split(query, -1)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = ordinalRe.ReplaceAllString(part, "")
		part = strings.TrimSpace(part)
		if part == "" || ordinalOnlyRe.MatchString(part) {
			continue
		}
		out = append(out, part)
	}
	if len(out) == 0 {
		out = append(out, strings.TrimSpace(query))
	}
	return out
}

func (d *QueryDecomposer) finish(subQueries []string, original string) domain.Decomposition {
	originalCount := len(subQueries)
	truncated := false
	if len(subQueries) > d.maxTopics {
		subQueries = subQueries[:d.maxTopics]
		truncated = true
	}
	if len(subQueries) == 0 {
		subQueries = []string{strings.TrimSpace(original)}
		originalCount = 1
	}
	return domain.Decomposition{
		SubQueries:    subQueries,
		Truncated:     truncated,
		OriginalCount: originalCount,
	}
}

const decomposePrompt = `判断下面的问题是否包含多个独立主题。
如果只有一个主题，只输出一行：单一主题
如果有多个主题，每行输出一个子查询（最多 %d 个），格式：
子查询1: ...
子查询2: ...

问题：%s`

// llmDecompose returns (nil, true) for an explicit single-topic
// verdict, (subQueries, true) for a parsed decomposition, and
// (nil, false) on any failure.
func (d *QueryDecomposer) llmDecompose(ctx context.Context, query string) ([]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, d.llmTimeout)
	defer cancel()

	raw, err := d.backend.Chat(ctx, []domain.ChatMessage{
		{Role: "user", Content: fmt.Sprintf(decomposePrompt, d.maxTopics, query)},
	})
	if err != nil {
		d.logger.Warn("decompose_llm_failed", "error", err)
		return nil, false
	}

	if strings.Contains(raw, "单一主题") {
		return nil, true
	}

	matches := subQueryRe.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil, false
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		sub := strings.TrimSpace(m[1])
		if sub == "" {
			continue
		}
		out = append(out, sub)
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}
