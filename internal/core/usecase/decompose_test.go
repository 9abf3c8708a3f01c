package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/wenda-project/wenda/internal/core/domain"
)

type chatScriptBackend struct {
	replies []string
	errs    []error
	calls   int
	prompts []string
}

func (s *chatScriptBackend) Chat(_ context.Context, messages []domain.ChatMessage) (string, error) {
	for _, m := range messages {
		if m.Role == "user" {
			s.prompts = append(s.prompts, m.Content)
		}
	}
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.replies) {
		return s.replies[i], nil
	}
	return "", errors.New("no scripted reply")
}

func (s *chatScriptBackend) ChatStream(ctx context.Context, messages []domain.ChatMessage, onChunk func(string) error) error {
	reply, err := s.Chat(ctx, messages)
	if err != nil {
		return err
	}
	return onChunk(reply)
}

func (s *chatScriptBackend) GenerateJSON(ctx context.Context, _ string) (string, error) {
	return s.Chat(ctx, nil)
}

func newTestDecomposer(backend *chatScriptBackend) *QueryDecomposer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if backend == nil {
		return NewQueryDecomposer(nil, 3, logger)
	}
	return NewQueryDecomposer(backend, 3, logger)
}

func TestDecomposeSingleFragmentNoLLM(t *testing.T) {
	d := newTestDecomposer(&chatScriptBackend{errs: []error{errors.New("must not be called")}})

	out := d.Decompose(context.Background(), "什么是机器学习")
	if len(out.SubQueries) != 1 || out.Truncated {
		t.Fatalf("single fragment should pass through, got %+v", out)
	}
}

func TestDecomposeShortQueryNoLLM(t *testing.T) {
	d := newTestDecomposer(&chatScriptBackend{errs: []error{errors.New("must not be called")}})

	out := d.Decompose(context.Background(), "睡眠,饮食")
	if len(out.SubQueries) != 2 {
		t.Fatalf("expected 2 fragments, got %+v", out)
	}
}

func TestDecomposeRegexSplitAndOrdinalStrip(t *testing.T) {
	d := newTestDecomposer(nil)

	out := d.Decompose(context.Background(), "1、如何改善睡眠质量？2、饮食上需要注意什么？")
	if len(out.SubQueries) != 2 {
		t.Fatalf("expected 2 sub-queries, got %+v", out)
	}
	if out.SubQueries[0] != "如何改善睡眠质量" {
		t.Fatalf("ordinal not stripped: %q", out.SubQueries[0])
	}
}

func TestDecomposeTruncatesToMaxTopics(t *testing.T) {
	d := newTestDecomposer(nil)

	out := d.Decompose(context.Background(), "睡眠问题怎么办？饮食如何调整？运动计划怎么安排？压力大如何缓解？工作效率如何提升？")
	if len(out.SubQueries) != 3 {
		t.Fatalf("expected cap at 3, got %d", len(out.SubQueries))
	}
	if !out.Truncated || out.OriginalCount != 5 {
		t.Fatalf("expected truncated with original count 5, got %+v", out)
	}
}

func TestDecomposeLLMSingleTopicVerdict(t *testing.T) {
	backend := &chatScriptBackend{replies: []string{"单一主题"}}
	d := newTestDecomposer(backend)

	out := d.Decompose(context.Background(), "机器学习的定义是什么，它和深度学习有什么关系")
	if len(out.SubQueries) != 1 {
		t.Fatalf("single-topic verdict should collapse to one query, got %+v", out)
	}
}

func TestDecomposeLLMSubQueries(t *testing.T) {
	backend := &chatScriptBackend{replies: []string{"子查询1: 如何改善睡眠\n子查询2: 如何调整饮食"}}
	d := newTestDecomposer(backend)

	out := d.Decompose(context.Background(), "我最近睡不好，吃得也不规律，该怎么全面调整")
	if len(out.SubQueries) != 2 {
		t.Fatalf("expected 2 LLM sub-queries, got %+v", out)
	}
	if out.SubQueries[0] != "如何改善睡眠" {
		t.Fatalf("unexpected first sub-query %q", out.SubQueries[0])
	}
}

func TestDecomposeLLMFailureFallsBackToRegex(t *testing.T) {
	backend := &chatScriptBackend{errs: []error{errors.New("timeout")}}
	d := newTestDecomposer(backend)

	out := d.Decompose(context.Background(), "如何改善睡眠质量？饮食上需要注意什么？")
	if len(out.SubQueries) != 2 {
		t.Fatalf("expected regex fallback with 2 fragments, got %+v", out)
	}
}
