package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/wenda-project/wenda/internal/config"
	"github.com/wenda-project/wenda/internal/core/domain"
	"github.com/wenda-project/wenda/internal/core/ports"
	"github.com/wenda-project/wenda/internal/infrastructure/session"
)

type stubRetrieveService struct {
	result domain.RetrievalResult
	err    error
	calls  []ports.RetrieveInput
}

func (s *stubRetrieveService) Retrieve(_ context.Context, in ports.RetrieveInput) (domain.RetrievalResult, error) {
	s.calls = append(s.calls, in)
	if s.err != nil {
		return domain.RetrievalResult{}, s.err
	}
	return s.result, nil
}

type stubWebSearcher struct {
	hits        []domain.WebHit
	err         error
	calls       int
	unavailable bool
}

func (s *stubWebSearcher) Available() bool { return !s.unavailable }

func (s *stubWebSearcher) Search(_ context.Context, _ string, _ int) ([]domain.WebHit, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.hits, nil
}

func docCandidate(source, text string, score float64) domain.RetrievalCandidate {
	return domain.RetrievalCandidate{
		ChunkID:    source + "-" + text[:1],
		Text:       text,
		Source:     source,
		SourceType: domain.SourceDocument,
		FusedScore: score,
	}
}

func newTestOrchestrator(retriever ports.RetrieveService, web ports.WebSearcher, backend *chatScriptBackend) *AnswerOrchestrator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	caller, templates := newTestCaller(backend)
	return NewAnswerOrchestrator(
		retriever, nil, newTestDecomposer(nil), web, caller,
		nil, nil, nil, nil,
		config.Answer{}, templates, logger,
	)
}

func repeat(reply string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = reply
	}
	return out
}

func TestAnswerEmptyQueryRejected(t *testing.T) {
	o := newTestOrchestrator(&stubRetrieveService{}, nil, &chatScriptBackend{})

	_, err := o.Answer(context.Background(), domain.AnswerRequest{Query: "   "})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestAnswerGreetingPreRouted(t *testing.T) {
	retriever := &stubRetrieveService{}
	o := newTestOrchestrator(retriever, nil, &chatScriptBackend{})

	resp, err := o.Answer(context.Background(), domain.AnswerRequest{Query: "你好！"})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if resp.Mode != domain.ResponseChitchat {
		t.Fatalf("expected chitchat, got %s", resp.Mode)
	}
	if len(retriever.calls) != 0 {
		t.Fatalf("greeting must not hit retrieval")
	}
	if len(resp.Suggestions) == 0 {
		t.Fatalf("chitchat should carry suggestions")
	}
}

func TestAnswerVagueQueryGuidance(t *testing.T) {
	o := newTestOrchestrator(&stubRetrieveService{}, nil, &chatScriptBackend{})

	resp, err := o.Answer(context.Background(), domain.AnswerRequest{Query: "嗯?"})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if resp.Mode != domain.ResponseGuidance {
		t.Fatalf("expected guidance, got %s", resp.Mode)
	}
}

func TestAnswerDocModeWithCitations(t *testing.T) {
	retriever := &stubRetrieveService{result: domain.RetrievalResult{
		Candidates: []domain.RetrievalCandidate{
			docCandidate("sleep.pdf", "规律作息有助于改善睡眠质量。", 0.88),
			docCandidate("sleep.pdf", "睡前避免摄入咖啡因。", 0.74),
			docCandidate("diet.pdf", "晚餐不宜过饱。", 0.70),
		},
		Diagnostics: map[string]any{"confidence": 0.88},
	}}
	backend := &chatScriptBackend{replies: repeat("根据资料，规律作息与避免咖啡因最重要。[1][2]", 3)}
	o := newTestOrchestrator(retriever, nil, backend)

	resp, err := o.Answer(context.Background(), domain.AnswerRequest{Query: "文档中如何改善睡眠质量", TopK: 6})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if resp.Mode != domain.ResponseDoc {
		t.Fatalf("expected doc mode, got %s", resp.Mode)
	}
	if len(resp.Citations) == 0 {
		t.Fatalf("doc answer must carry citations")
	}
	if len(resp.Sources) == 0 {
		t.Fatalf("doc answer must list sources")
	}
	for _, c := range resp.Citations {
		if c.Tier == "" {
			t.Fatalf("citation missing tier: %+v", c)
		}
	}
}

func TestAnswerOffTopicFallsBackToGeneral(t *testing.T) {
	retriever := &stubRetrieveService{result: domain.RetrievalResult{
		Candidates: []domain.RetrievalCandidate{
			docCandidate("manual.pdf", "设备维护需每季度润滑轴承。", 0.22),
		},
	}}
	backend := &chatScriptBackend{replies: repeat("这是一个常识性的回答。", 3)}
	o := newTestOrchestrator(retriever, nil, backend)

	resp, err := o.Answer(context.Background(), domain.AnswerRequest{Query: "今天晚饭吃什么比较健康", TopK: 6})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if resp.Mode != domain.ResponseGeneral {
		t.Fatalf("expected general mode, got %s", resp.Mode)
	}
	if len(resp.Citations) != 0 {
		t.Fatalf("general answer must not fabricate citations")
	}
	if !strings.HasPrefix(resp.Answer, "[非文档知识]") {
		t.Fatalf("general answer must carry the non-doc prefix, got %q", resp.Answer)
	}
}

func TestAnswerMultiTopicSections(t *testing.T) {
	retriever := &stubRetrieveService{result: domain.RetrievalResult{
		Candidates: []domain.RetrievalCandidate{
			docCandidate("health.pdf", "规律作息有助于改善睡眠质量。", 0.82),
			docCandidate("diet.pdf", "饮食上应减少高糖摄入。", 0.78),
		},
	}}
	backend := &chatScriptBackend{replies: repeat("1. 核心要点总结。[1.1]", 8)}
	o := newTestOrchestrator(retriever, nil, backend)

	resp, err := o.Answer(context.Background(), domain.AnswerRequest{
		Query: "文档中如何改善睡眠质量？文档中饮食上需要注意什么？",
		TopK:  6,
	})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if len(resp.MultiTopics) != 2 {
		t.Fatalf("expected 2 topic sections, got %d", len(resp.MultiTopics))
	}
	for _, section := range resp.MultiTopics {
		if len(section.Citations) == 0 {
			t.Fatalf("topic %q should carry its own citations", section.Topic)
		}
	}
	if !strings.Contains(resp.Answer, "### 主题1：") || !strings.Contains(resp.Answer, "### 主题2：") {
		t.Fatalf("answer should contain per-topic headings, got %q", resp.Answer)
	}
	if len(resp.Citations) == 0 {
		t.Fatalf("multi-topic answer should aggregate citations")
	}
	if got := resp.Meta["multi_topic"]; got != true {
		t.Fatalf("meta.multi_topic = %v", got)
	}
}

func TestAnswerWebOnlyNoHits(t *testing.T) {
	retriever := &stubRetrieveService{result: domain.RetrievalResult{
		Candidates: []domain.RetrievalCandidate{docCandidate("doc.pdf", "本地文档内容。", 0.9)},
	}}
	web := &stubWebSearcher{hits: nil}
	o := newTestOrchestrator(retriever, web, &chatScriptBackend{})

	resp, err := o.Answer(context.Background(), domain.AnswerRequest{
		Query:    "文档中最新的行业动态是什么",
		TopK:     6,
		AllowWeb: true,
		WebMode:  domain.WebModeOnly,
	})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if resp.Answer != "未检索到可靠的联网来源" && !strings.Contains(resp.Answer, "未检索到可靠来源") {
		t.Fatalf("expected no-source answer, got %q", resp.Answer)
	}
	if len(resp.Citations) != 0 {
		t.Fatalf("no hits means no citations")
	}
	if web.calls == 0 {
		t.Fatalf("web-only mode must call the web searcher")
	}
}

func TestAnswerWebOnlyUsesWebHits(t *testing.T) {
	retriever := &stubRetrieveService{result: domain.RetrievalResult{}}
	web := &stubWebSearcher{hits: []domain.WebHit{
		{Title: "行业白皮书", URL: "https://example.com/report", Snippet: "2026 年行业整体增速放缓。", Score: 0.8, Provider: "tavily"},
	}}
	backend := &chatScriptBackend{replies: repeat("根据联网来源，行业增速放缓。[1]", 3)}
	o := newTestOrchestrator(retriever, web, backend)

	resp, err := o.Answer(context.Background(), domain.AnswerRequest{
		Query:    "文档之外最新的行业动态是什么",
		TopK:     6,
		AllowWeb: true,
		WebMode:  domain.WebModeOnly,
	})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if resp.Mode != domain.ResponseDoc {
		t.Fatalf("web hits should produce a cited answer, got %s", resp.Mode)
	}
	if len(resp.Citations) != 1 {
		t.Fatalf("expected 1 web citation, got %d", len(resp.Citations))
	}
	c := resp.Citations[0]
	if c.SourceType != domain.SourceWeb || c.URL == "" {
		t.Fatalf("web citation missing url/source type: %+v", c)
	}
	if c.Tier != domain.TierHigh {
		t.Fatalf("score 0.8 web hit should be high tier, got %s", c.Tier)
	}
}

func TestAnswerDocOnlyNoHits(t *testing.T) {
	retriever := &stubRetrieveService{result: domain.RetrievalResult{}}
	o := newTestOrchestrator(retriever, nil, &chatScriptBackend{})

	resp, err := o.Answer(context.Background(), domain.AnswerRequest{
		Query:   "文档中关于量子计算的部分说了什么",
		TopK:    6,
		DocOnly: true,
	})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if resp.Mode != domain.ResponseGuidance {
		t.Fatalf("expected guidance, got %s", resp.Mode)
	}
	if !strings.Contains(resp.Answer, "未在文档中找到相关内容") {
		t.Fatalf("expected not-found answer, got %q", resp.Answer)
	}
	if _, ok := resp.Diagnostics["doc_only_no_hits"]; !ok {
		t.Fatalf("missing doc_only_no_hits diagnostic")
	}
}

func TestAnswerWebQuotaDiagnostic(t *testing.T) {
	retriever := &stubRetrieveService{result: domain.RetrievalResult{}}
	web := &stubWebSearcher{err: domain.WrapError(domain.ErrQuotaExceeded, "web.search", errors.New("all providers exhausted"))}
	backend := &chatScriptBackend{replies: repeat("常识回答。", 3)}
	o := newTestOrchestrator(retriever, web, backend)

	resp, err := o.Answer(context.Background(), domain.AnswerRequest{
		Query:    "文档中没有的最新市场数据是什么",
		TopK:     6,
		AllowWeb: true,
	})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if got := resp.Diagnostics["web_error"]; got != "quota_exceeded" {
		t.Fatalf("web_error = %v", got)
	}
}

func TestAnswerRetrieverFailureDegrades(t *testing.T) {
	retriever := &stubRetrieveService{err: domain.WrapError(domain.ErrUnavailable, "retrieve", errors.New("backend down"))}
	backend := &chatScriptBackend{replies: repeat("常识回答。", 3)}
	o := newTestOrchestrator(retriever, nil, backend)

	resp, err := o.Answer(context.Background(), domain.AnswerRequest{Query: "文档中如何改善睡眠质量", TopK: 6})
	if err != nil {
		t.Fatalf("retrieval failure must not fail the answer: %v", err)
	}
	if resp.Mode != domain.ResponseGeneral {
		t.Fatalf("expected general degradation, got %s", resp.Mode)
	}
	if _, ok := resp.Diagnostics["retrieval_error"]; !ok {
		t.Fatalf("missing retrieval_error diagnostic")
	}
}

func TestAnswerStreamEmitsAnswer(t *testing.T) {
	retriever := &stubRetrieveService{result: domain.RetrievalResult{
		Candidates: []domain.RetrievalCandidate{docCandidate("sleep.pdf", "规律作息有助于改善睡眠质量。", 0.9)},
	}}
	backend := &chatScriptBackend{replies: repeat("流式回答内容。[1]", 3)}
	o := newTestOrchestrator(retriever, nil, backend)

	var streamed strings.Builder
	resp, err := o.AnswerStream(context.Background(), domain.AnswerRequest{Query: "文档中如何改善睡眠质量", TopK: 6}, func(chunk string) error {
		streamed.WriteString(chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("answer stream: %v", err)
	}
	if streamed.Len() == 0 {
		t.Fatalf("stream emitted nothing")
	}
	if !strings.Contains(resp.Answer, "流式回答内容") {
		t.Fatalf("final answer should contain generated text, got %q", resp.Answer)
	}
}

func TestAnswerSecondTurnSeesFirst(t *testing.T) {
	backend := &chatScriptBackend{replies: repeat("先保证作息规律。", 6)}
	o := newTestOrchestrator(&stubRetrieveService{}, nil, backend)
	o.memory = session.NewMemoryConversationStore(0)
	ctx := context.Background()

	if _, err := o.Answer(ctx, domain.AnswerRequest{Query: "如何改善睡眠", SessionID: "s1", TopK: 6}); err != nil {
		t.Fatalf("first answer: %v", err)
	}
	if _, err := o.Answer(ctx, domain.AnswerRequest{Query: "那饮食方面应该注意什么", SessionID: "s1", TopK: 6}); err != nil {
		t.Fatalf("second answer: %v", err)
	}

	if len(backend.prompts) < 2 {
		t.Fatalf("expected two generation prompts, got %d", len(backend.prompts))
	}
	last := backend.prompts[len(backend.prompts)-1]
	if !strings.Contains(last, "[历史1] 问：如何改善睡眠") {
		t.Fatalf("second prompt should render the first turn, got %q", last)
	}
	if !strings.Contains(last, "以下为本会话的历史问答") {
		t.Fatalf("second prompt missing history preface, got %q", last)
	}
}

func TestAnswerHistoryScopedPerSession(t *testing.T) {
	backend := &chatScriptBackend{replies: repeat("常识回答。", 6)}
	o := newTestOrchestrator(&stubRetrieveService{}, nil, backend)
	o.memory = session.NewMemoryConversationStore(0)
	ctx := context.Background()

	_, _ = o.Answer(ctx, domain.AnswerRequest{Query: "如何改善睡眠", SessionID: "s1", TopK: 6})
	_, _ = o.Answer(ctx, domain.AnswerRequest{Query: "如何提升专注力", SessionID: "s2", TopK: 6})

	last := backend.prompts[len(backend.prompts)-1]
	if strings.Contains(last, "如何改善睡眠") {
		t.Fatalf("another session's turns leaked into the prompt: %q", last)
	}
}

func TestAnswerFeedbackReachesDocPrompt(t *testing.T) {
	retriever := &stubRetrieveService{result: domain.RetrievalResult{
		Candidates: []domain.RetrievalCandidate{
			docCandidate("sleep.pdf", "规律作息有助于改善睡眠质量。", 0.9),
			docCandidate("sleep.pdf", "睡前避免摄入咖啡因。", 0.8),
		},
	}}
	backend := &chatScriptBackend{replies: repeat("改进后的回答。[1]", 3)}
	o := newTestOrchestrator(retriever, nil, backend)
	o.feedback = session.NewMemoryFeedbackStore()

	resp, err := o.Answer(context.Background(), domain.AnswerRequest{
		Query:     "文档中如何改善睡眠质量",
		SessionID: "s1",
		TopK:      6,
		Feedback:  "引用不够明确",
	})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if resp.Mode != domain.ResponseDoc {
		t.Fatalf("expected doc mode, got %s", resp.Mode)
	}

	last := backend.prompts[len(backend.prompts)-1]
	if !strings.Contains(last, "用户对上一轮回答的反馈如下") {
		t.Fatalf("doc prompt missing feedback block, got %q", last)
	}
	if !strings.Contains(last, "1. 引用不够明确") {
		t.Fatalf("doc prompt should number stored feedback, got %q", last)
	}
}

func TestAnswerWebUnavailableSkipsSearch(t *testing.T) {
	retriever := &stubRetrieveService{result: domain.RetrievalResult{}}
	web := &stubWebSearcher{unavailable: true, hits: []domain.WebHit{{Title: "t", URL: "https://example.com"}}}
	backend := &chatScriptBackend{replies: repeat("常识回答。", 3)}
	o := newTestOrchestrator(retriever, web, backend)

	resp, err := o.Answer(context.Background(), domain.AnswerRequest{
		Query:    "文档中没有的最新市场数据是什么",
		TopK:     6,
		AllowWeb: true,
	})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if got := resp.Diagnostics["web_available"]; got != false {
		t.Fatalf("web_available = %v for a keyless gateway", got)
	}
	if web.calls != 0 {
		t.Fatalf("unavailable searcher must not be called, got %d calls", web.calls)
	}
}
