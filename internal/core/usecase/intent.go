package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wenda-project/wenda/internal/config"
	"github.com/wenda-project/wenda/internal/core/domain"
	"github.com/wenda-project/wenda/internal/core/ports"
)

// IntentClassifier runs a heuristic pass and, when that pass is
// inconclusive, refines it with a structured LLM classification.
type IntentClassifier struct {
	backend   ports.ChatBackend
	cfg       config.Intent
	templates config.Templates
	logger    *slog.Logger
}

func NewIntentClassifier(backend ports.ChatBackend, cfg config.Intent, templates config.Templates, logger *slog.Logger) *IntentClassifier {
	if cfg.ShortCircuitConfidence <= 0 {
		cfg.ShortCircuitConfidence = 0.82
	}
	if cfg.MinQueryLen <= 0 {
		cfg.MinQueryLen = 8
	}
	if cfg.LLMTimeoutSeconds <= 0 {
		cfg.LLMTimeoutSeconds = 6
	}
	return &IntentClassifier{backend: backend, cfg: cfg, templates: templates, logger: logger}
}

var fileExtHints = []string{".pdf", ".docx", ".doc", ".xlsx", ".txt", ".md", ".odt", ".csv"}

var comparisonMarkers = []string{"对比", "比较", "区别", "差异", "优缺点", "vs", "versus", "还是", "哪个更"}

var howToMarkers = []string{"怎么", "如何", "怎样", "步骤", "方法", "how to", "how do", "how can"}

var decisionMarkers = []string{"应该", "是否", "要不要", "该不该", "值得", "should i", "should we", "worth"}

func (c *IntentClassifier) Analyze(ctx context.Context, query string) domain.IntentAnalysis {
	heuristic := c.heuristicPass(query)

	if heuristic.Confidence >= c.cfg.ShortCircuitConfidence || len([]rune(query)) < c.cfg.MinQueryLen {
		return heuristic
	}
	if c.backend == nil {
		return heuristic
	}

	refined, ok := c.llmPass(ctx, query)
	if !ok {
		return heuristic
	}
	return mergeIntent(heuristic, refined)
}

// heuristicPass derives mode, sensitivity and complexity from keyword
// and token statistics alone.
func (c *IntentClassifier) heuristicPass(query string) domain.IntentAnalysis {
	lower := strings.ToLower(query)
	runes := []rune(query)

	docBias := 0.0
	if containsAny(lower, c.templates.DocHintKeywords) {
		docBias += 0.5
	}
	if containsAny(lower, fileExtHints) {
		docBias += 0.25
	}
	if len(runes) > 120 {
		docBias += 0.1
	}

	timeSens := 0.0
	for _, marker := range c.templates.TimeKeywords {
		if strings.Contains(lower, strings.ToLower(marker)) {
			timeSens += 0.25
		}
	}
	if timeSens > 1.0 {
		timeSens = 1.0
	}

	tokens := tokenize(query)
	complexity := float64(len(tokens)) / 80.0
	if complexity > 1.0 {
		complexity = 1.0
	}
	if fragments := splitSentences(query); len(fragments) > 1 && complexity < 0.7 {
		complexity = 0.7
	}

	// One time marker alone does not warrant a web search.
	requiresWeb := timeSens >= 0.5

	mode := domain.ModeGeneralOnly
	if docBias >= 0.45 {
		mode = domain.ModeDocumentFirst
	}
	if requiresWeb || (docBias > 0.2 && docBias < 0.45) {
		mode = domain.ModeHybrid
	}

	questionType := domain.QuestionGeneral
	switch {
	case containsAny(lower, comparisonMarkers):
		questionType = domain.QuestionComparison
	case containsAny(lower, howToMarkers):
		questionType = domain.QuestionHowTo
	case containsAny(lower, decisionMarkers):
		questionType = domain.QuestionDecision
	case strings.HasSuffix(strings.TrimSpace(query), "?") || strings.HasSuffix(strings.TrimSpace(query), "？") || containsAny(lower, []string{"什么是", "是什么", "what is", "who is"}):
		questionType = domain.QuestionFact
	}

	confidence := 0.55 + maxFloat(docBias, timeSens) + 0.2*complexity
	if confidence > 0.95 {
		confidence = 0.95
	}

	return domain.IntentAnalysis{
		QuestionType:      questionType,
		Mode:              mode,
		Confidence:        confidence,
		RequiresWebSearch: requiresWeb,
		TimeSensitivity:   timeSens,
		Complexity:        complexity,
	}
}

type llmIntentResponse struct {
	QuestionType      string   `json:"question_type"`
	Mode              string   `json:"mode"`
	RequiresWebSearch bool     `json:"requires_web_search"`
	TimeSensitivity   float64  `json:"time_sensitivity"`
	Complexity        float64  `json:"complexity"`
	SubTopics         []string `json:"sub_topics"`
}

const intentPrompt = `分析下面的用户问题，并只输出一个 JSON 对象，不要输出其他内容：
{"question_type":"fact|how_to|comparison|decision|general","mode":"document_first|hybrid|general_only","requires_web_search":true|false,"time_sensitivity":0.0,"complexity":0.0,"sub_topics":["..."]}

问题：%s`

// llmPass asks the backend for a structured classification. Any
// timeout, call failure or malformed JSON yields ok=false and the
// heuristic result is used unchanged.
func (c *IntentClassifier) llmPass(ctx context.Context, query string) (domain.IntentAnalysis, bool) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.LLMTimeoutSeconds)*time.Second)
	defer cancel()

	raw, err := c.backend.GenerateJSON(ctx, fmt.Sprintf(intentPrompt, query))
	if err != nil {
		c.logger.Warn("intent_llm_failed", "error", err)
		return domain.IntentAnalysis{}, false
	}

	var parsed llmIntentResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		c.logger.Warn("intent_llm_unparsable", "error", err)
		return domain.IntentAnalysis{}, false
	}

	out := domain.IntentAnalysis{
		QuestionType:      parseQuestionType(parsed.QuestionType),
		Mode:              parseAnswerMode(parsed.Mode),
		RequiresWebSearch: parsed.RequiresWebSearch,
		TimeSensitivity:   clamp01(parsed.TimeSensitivity),
		Complexity:        clamp01(parsed.Complexity),
		SubTopics:         parsed.SubTopics,
	}
	if len(out.SubTopics) > 3 {
		out.SubTopics = out.SubTopics[:3]
	}
	switch out.Mode {
	case domain.ModeDocumentFirst:
		out.Confidence = 0.78
	default:
		out.Confidence = 0.74
	}
	return out, true
}

// mergeIntent combines the two passes. The LLM decides the mode except
// that it may not downgrade a heuristic document_first all the way to
// general_only; web-search necessity is OR'd; scores take the max.
func mergeIntent(heuristic, refined domain.IntentAnalysis) domain.IntentAnalysis {
	out := refined
	if heuristic.Mode == domain.ModeDocumentFirst && refined.Mode == domain.ModeGeneralOnly {
		out.Mode = domain.ModeHybrid
	}
	out.RequiresWebSearch = heuristic.RequiresWebSearch || refined.RequiresWebSearch
	out.Confidence = maxFloat(heuristic.Confidence, refined.Confidence)
	out.TimeSensitivity = maxFloat(heuristic.TimeSensitivity, refined.TimeSensitivity)
	out.Complexity = maxFloat(heuristic.Complexity, refined.Complexity)
	if out.QuestionType == domain.QuestionGeneral && heuristic.QuestionType != domain.QuestionGeneral {
		out.QuestionType = heuristic.QuestionType
	}
	return out
}

func parseQuestionType(s string) domain.QuestionType {
	switch domain.QuestionType(strings.TrimSpace(strings.ToLower(s))) {
	case domain.QuestionFact, domain.QuestionHowTo, domain.QuestionComparison, domain.QuestionDecision:
		return domain.QuestionType(strings.TrimSpace(strings.ToLower(s)))
	default:
		return domain.QuestionGeneral
	}
}

func parseAnswerMode(s string) domain.AnswerMode {
	switch domain.AnswerMode(strings.TrimSpace(strings.ToLower(s))) {
	case domain.ModeDocumentFirst, domain.ModeHybrid:
		return domain.AnswerMode(strings.TrimSpace(strings.ToLower(s)))
	default:
		return domain.ModeGeneralOnly
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
