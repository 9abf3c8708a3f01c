package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/wenda-project/wenda/internal/config"
	"github.com/wenda-project/wenda/internal/core/domain"
	"github.com/wenda-project/wenda/internal/core/ports"
)

// AnswerOrchestrator routes a question through intent analysis,
// decomposition, hybrid retrieval, optional web search and structured
// synthesis. Generation failures never surface as errors: the response
// always carries a best-effort answer with diagnostics describing any
// degraded path.
type AnswerOrchestrator struct {
	retriever  ports.RetrieveService
	classifier *IntentClassifier
	decomposer *QueryDecomposer
	web        ports.WebSearcher
	chat       *ChatCaller
	docCtx     ports.DocContextStore
	memory     ports.ConversationMemory
	feedback   ports.FeedbackStore
	log        ports.RetrievalLogger
	cfg        config.Answer
	templates  config.Templates
	logger     *slog.Logger
}

func NewAnswerOrchestrator(
	retriever ports.RetrieveService,
	classifier *IntentClassifier,
	decomposer *QueryDecomposer,
	web ports.WebSearcher,
	chat *ChatCaller,
	docCtx ports.DocContextStore,
	memory ports.ConversationMemory,
	feedback ports.FeedbackStore,
	log ports.RetrievalLogger,
	cfg config.Answer,
	templates config.Templates,
	logger *slog.Logger,
) *AnswerOrchestrator {
	cfg = normalizeAnswerConfig(cfg)
	return &AnswerOrchestrator{
		retriever:  retriever,
		classifier: classifier,
		decomposer: decomposer,
		web:        web,
		chat:       chat,
		docCtx:     docCtx,
		memory:     memory,
		feedback:   feedback,
		log:        log,
		cfg:        cfg,
		templates:  templates,
		logger:     logger,
	}
}

func normalizeAnswerConfig(cfg config.Answer) config.Answer {
	if cfg.DocAnswerThreshold <= 0 {
		cfg.DocAnswerThreshold = 0.6
	}
	if cfg.MaxSnippets <= 0 {
		cfg.MaxSnippets = 3
	}
	if cfg.MinUniqueSources <= 0 {
		cfg.MinUniqueSources = 2
	}
	if cfg.MaxTopics <= 0 {
		cfg.MaxTopics = 3
	}
	if cfg.OffTopicScore <= 0 {
		cfg.OffTopicScore = 0.60
	}
	if cfg.OffTopicOverlap <= 0 {
		cfg.OffTopicOverlap = 0.40
	}
	if cfg.MultiTopicFanout <= 0 {
		cfg.MultiTopicFanout = 3
	}
	if cfg.SnippetMaxChars <= 0 {
		cfg.SnippetMaxChars = 240
	}
	if cfg.PassageMaxChars <= 0 {
		cfg.PassageMaxChars = 320
	}
	if cfg.PassageMinChars <= 0 {
		cfg.PassageMinChars = 60
	}
	return cfg
}

var (
	greetingRe = regexp.MustCompile(`^\s*(你好|您好|哈喽|嗨|在吗|晚上好|早上好|中午好|hello|hi|hey|yo|bye|再见|拜拜)\s*[!！。,.…]*\s*$`)
	thanksRe   = regexp.MustCompile(`^\s*(谢谢|多谢|辛苦了|thx|thanks|thank\s+you)\s*[!！。,.…]*\s*$`)
	followUpRe = regexp.MustCompile(`(这|那|它|上面|刚才|继续|再说|还有呢|呢$)`)
)

func (o *AnswerOrchestrator) Answer(ctx context.Context, req domain.AnswerRequest) (*domain.AnswerResponse, error) {
	return o.answer(ctx, req, nil)
}

// AnswerStream behaves like Answer but streams generated chunks for
// the final synthesis call; pre-routed and degraded answers arrive as
// a single chunk.
func (o *AnswerOrchestrator) AnswerStream(ctx context.Context, req domain.AnswerRequest, onChunk func(string) error) (*domain.AnswerResponse, error) {
	if onChunk == nil {
		onChunk = func(string) error { return nil }
	}
	return o.answer(ctx, req, onChunk)
}

func (o *AnswerOrchestrator) answer(ctx context.Context, req domain.AnswerRequest, onChunk func(string) error) (*domain.AnswerResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "answer", errors.New("query is required"))
	}
	req.Query = query

	o.recordFeedback(ctx, req)
	history := o.historyBlock(ctx, req.SessionID)
	feedback := o.sessionFeedback(ctx, req)

	if resp := o.preRoute(query); resp != nil {
		o.emit(onChunk, resp.Answer)
		o.rememberTurn(ctx, req.SessionID, query, resp)
		return resp, nil
	}

	intent := o.classifyIntent(ctx, query)
	webMode := o.resolveWebMode(req)
	webIndicated := o.webIndicated(intent, req, webMode)

	diagnostics := map[string]any{
		"intent_analysis": intent,
		"web_mode":        string(webMode),
		"doc_only_mode":   req.DocOnly,
		"web_available":   o.webAvailable(),
	}

	if intent.Mode == domain.ModeGeneralOnly && !req.DocOnly && webMode != domain.WebModeOnly {
		resp := o.answerGeneral(ctx, req, history, feedback, diagnostics, onChunk)
		o.appendRetrievalLog(ctx, req, diagnostics, resp)
		o.rememberTurn(ctx, req.SessionID, query, resp)
		return resp, nil
	}

	dec := o.decompose(ctx, query)

	var resp *domain.AnswerResponse
	if len(dec.SubQueries) > 1 {
		resp = o.answerMultiTopic(ctx, req, dec, webMode, webIndicated, diagnostics, onChunk)
	} else {
		resp = o.answerSingleTopic(ctx, req, intent, history, feedback, webMode, webIndicated, diagnostics, onChunk)
	}

	o.appendRetrievalLog(ctx, req, diagnostics, resp)
	o.rememberTurn(ctx, req.SessionID, query, resp)
	return resp, nil
}

// preRoute answers greetings, thanks and contentless queries without
// touching retrieval.
func (o *AnswerOrchestrator) preRoute(query string) *domain.AnswerResponse {
	lower := strings.ToLower(query)
	switch {
	case greetingRe.MatchString(lower), thanksRe.MatchString(lower):
		return &domain.AnswerResponse{
			Answer:      o.templates.ChitchatReply,
			Mode:        domain.ResponseChitchat,
			Citations:   []domain.Citation{},
			Suggestions: o.templates.Suggestions,
			Sources:     []string{},
			Diagnostics: map[string]any{"pre_routed": "chitchat"},
			Meta:        map[string]any{},
		}
	case tooVague(query):
		return &domain.AnswerResponse{
			Answer:      o.templates.GuidanceReply,
			Mode:        domain.ResponseGuidance,
			Citations:   []domain.Citation{},
			Suggestions: o.templates.Suggestions,
			Sources:     []string{},
			Diagnostics: map[string]any{"pre_routed": "guidance"},
			Meta:        map[string]any{},
		}
	}
	return nil
}

func tooVague(query string) bool {
	cjk := 0
	latin := 0
	for _, r := range query {
		switch {
		case r >= 0x4E00 && r <= 0x9FFF:
			cjk++
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			latin++
		}
	}
	return cjk <= 2 && latin <= 2
}

func (o *AnswerOrchestrator) classifyIntent(ctx context.Context, query string) domain.IntentAnalysis {
	if o.classifier == nil {
		return domain.IntentAnalysis{QuestionType: domain.QuestionGeneral, Mode: domain.ModeDocumentFirst, Confidence: 0.5}
	}
	return o.classifier.Analyze(ctx, query)
}

func (o *AnswerOrchestrator) decompose(ctx context.Context, query string) domain.Decomposition {
	if o.decomposer == nil {
		return domain.Decomposition{SubQueries: []string{query}, OriginalCount: 1}
	}
	return o.decomposer.Decompose(ctx, query)
}

func (o *AnswerOrchestrator) resolveWebMode(req domain.AnswerRequest) domain.WebMode {
	switch req.WebMode {
	case domain.WebModeOff, domain.WebModeUpgrade, domain.WebModeOnly:
		// explicit request wins
	default:
		req.WebMode = ""
	}
	if req.WebMode != "" {
		if req.DocOnly && req.WebMode == domain.WebModeOnly {
			return domain.WebModeOff
		}
		return req.WebMode
	}
	if req.DocOnly || !req.AllowWeb {
		return domain.WebModeOff
	}
	return domain.WebModeUpgrade
}

func (o *AnswerOrchestrator) webAvailable() bool {
	return o.web != nil && o.web.Available()
}

func (o *AnswerOrchestrator) webIndicated(intent domain.IntentAnalysis, req domain.AnswerRequest, mode domain.WebMode) bool {
	if !o.webAvailable() || mode == domain.WebModeOff {
		return false
	}
	if mode == domain.WebModeOnly {
		return true
	}
	return intent.RequiresWebSearch || req.AllowWeb
}

func (o *AnswerOrchestrator) recordFeedback(ctx context.Context, req domain.AnswerRequest) {
	if o.feedback == nil || strings.TrimSpace(req.Feedback) == "" || req.SessionID == "" {
		return
	}
	entry := domain.FeedbackEntry{
		SessionID: req.SessionID,
		Question:  req.Query,
		Text:      strings.TrimSpace(req.Feedback),
		CreatedAt: time.Now().UTC(),
	}
	if err := o.feedback.Append(ctx, entry); err != nil {
		o.logger.Warn("feedback_append_failed", "error", err)
	}
}

// sessionFeedback renders every stored complaint about the current
// question as a numbered list, so a re-asked question carries all
// prior corrections, not just the latest one.
func (o *AnswerOrchestrator) sessionFeedback(ctx context.Context, req domain.AnswerRequest) string {
	current := strings.TrimSpace(req.Feedback)
	if o.feedback == nil || req.SessionID == "" {
		return current
	}
	entries, err := o.feedback.List(ctx, req.SessionID)
	if err != nil {
		o.logger.Warn("feedback_list_failed", "error", err)
		return current
	}
	var lines []string
	for _, e := range entries {
		if e.Question != req.Query {
			continue
		}
		lines = append(lines, fmt.Sprintf("%d. %s", len(lines)+1, e.Text))
	}
	if len(lines) == 0 {
		return current
	}
	return strings.Join(lines, "\n")
}

const historyRenderLimit = 6

// historyBlock renders the most recent turns of the session for
// prompt inclusion.
func (o *AnswerOrchestrator) historyBlock(ctx context.Context, sessionID string) string {
	if o.memory == nil || sessionID == "" {
		return ""
	}
	turns, err := o.memory.History(ctx, sessionID)
	if err != nil {
		o.logger.Warn("conversation_history_failed", "error", err)
		return ""
	}
	if len(turns) > historyRenderLimit {
		turns = turns[len(turns)-historyRenderLimit:]
	}
	var b strings.Builder
	for i, t := range turns {
		fmt.Fprintf(&b, "[历史%d] 问：%s\n答：%s\n\n", i+1, t.Question, t.Answer)
	}
	return strings.TrimSpace(b.String())
}

func (o *AnswerOrchestrator) rememberTurn(ctx context.Context, sessionID, question string, resp *domain.AnswerResponse) {
	if o.memory == nil || sessionID == "" || resp == nil || resp.Answer == "" {
		return
	}
	if err := o.memory.Append(ctx, sessionID, question, resp.Answer); err != nil {
		o.logger.Warn("conversation_append_failed", "error", err)
	}
}

// composePrompt prefixes the rendered session history to a prompt
// core. Document answers ask the model to stay consistent with what
// was already cited; general answers only need conversational
// continuity.
func composePrompt(history, core string, mode domain.ResponseMode) string {
	if history == "" {
		return core
	}
	preface := "以下为本会话的历史问答，请在理解上下文的基础上补充非文档知识回应。\n"
	if mode == domain.ResponseDoc {
		preface = "以下为本会话的历史问答，请结合这些上下文保持语义连贯并回答当前问题。\n"
	}
	return preface + history + "\n\n" + core
}

// topicResult is one sub-query's gathered material.
type topicResult struct {
	topic     string
	retrieval domain.RetrievalResult
	webHits   []domain.WebHit
	err       error
}

// answerMultiTopic fans out retrieval (and web search when indicated)
// per sub-query with per-task isolation, fuses shared chunks across
// topics by reciprocal rank and composes one headed section per topic.
func (o *AnswerOrchestrator) answerMultiTopic(
	ctx context.Context,
	req domain.AnswerRequest,
	dec domain.Decomposition,
	webMode domain.WebMode,
	webIndicated bool,
	diagnostics map[string]any,
	onChunk func(string) error,
) *domain.AnswerResponse {
	topKPerTopic := req.TopK / len(dec.SubQueries)
	if topKPerTopic < 3 {
		topKPerTopic = 3
	}
	if topKPerTopic > 8 {
		topKPerTopic = 8
	}

	results := o.gatherTopics(ctx, req, dec.SubQueries, topKPerTopic, webIndicated)

	topicDiags := make(map[string]any, len(results))
	webHitsTotal := 0
	quotaHit := false
	for _, r := range results {
		if r.err != nil {
			topicDiags[r.topic] = map[string]any{"error": r.err.Error(), "stage": "retrieval"}
			if domain.IsKind(r.err, domain.ErrQuotaExceeded) {
				quotaHit = true
			}
			continue
		}
		topicDiags[r.topic] = r.retrieval.Diagnostics
		webHitsTotal += len(r.webHits)
	}
	diagnostics["topics"] = topicDiags
	diagnostics["web_hits"] = webHitsTotal
	diagnostics["web_search_used"] = webHitsTotal > 0
	if quotaHit {
		diagnostics["web_error"] = "quota_exceeded"
	}

	webOnly := webMode == domain.WebModeOnly
	topicDocs := o.prepareTopicDocs(results, webOnly)

	if webOnly && webHitsTotal == 0 {
		diagnostics["web_only_no_hits"] = true
		resp := &domain.AnswerResponse{
			Answer:      o.templates.NoSourceFound,
			Mode:        domain.ResponseGeneral,
			Citations:   []domain.Citation{},
			Suggestions: o.templates.Suggestions,
			Sources:     []string{},
			Diagnostics: diagnostics,
			Meta:        o.meta("web_only", true, dec),
		}
		o.emit(onChunk, resp.Answer)
		return resp
	}

	answer, sections, citations := o.composeMultiTopicAnswer(ctx, dec, topicDocs)
	o.emit(onChunk, answer)

	mode := domain.ResponseGeneral
	if len(citations) > 0 {
		mode = domain.ResponseDoc
		o.updateDocContext(ctx, req.SessionID, req.Query, flattenTopicDocs(topicDocs))
	}

	return &domain.AnswerResponse{
		Answer:      answer,
		Mode:        mode,
		Citations:   citations,
		Suggestions: o.templates.Suggestions,
		Sources:     citationSources(citations),
		Diagnostics: diagnostics,
		Meta:        o.meta("multi_topic", webHitsTotal > 0, dec),
		MultiTopics: sections,
	}
}

// gatherTopics runs one task per sub-query with bounded concurrency.
// A panicking or failing task becomes an error placeholder; if the
// fan-out itself panics, the same work is re-run serially.
func (o *AnswerOrchestrator) gatherTopics(ctx context.Context, req domain.AnswerRequest, topics []string, topK int, webIndicated bool) []topicResult {
	results, err := o.gatherTopicsParallel(ctx, req, topics, topK, webIndicated)
	if err == nil {
		return results
	}
	o.logger.Error("topic_fanout_failed", "error", err)
	return o.gatherTopicsSerial(ctx, req, topics, topK, webIndicated)
}

func (o *AnswerOrchestrator) gatherTopicsParallel(ctx context.Context, req domain.AnswerRequest, topics []string, topK int, webIndicated bool) (results []topicResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fan-out panic: %v", r)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results = make([]topicResult, len(topics))
	sem := make(chan struct{}, o.cfg.MultiTopicFanout)
	var wg sync.WaitGroup

	for i, topic := range topics {
		wg.Add(1)
		go func(i int, topic string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = topicResult{topic: topic, err: fmt.Errorf("topic task panic: %v", r)}
				}
			}()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = o.retrieveTopic(ctx, req, topic, topK, webIndicated)
		}(i, topic)
	}
	wg.Wait()
	return results, nil
}

func (o *AnswerOrchestrator) gatherTopicsSerial(ctx context.Context, req domain.AnswerRequest, topics []string, topK int, webIndicated bool) []topicResult {
	results := make([]topicResult, len(topics))
	for i, topic := range topics {
		results[i] = o.retrieveTopic(ctx, req, topic, topK, webIndicated)
	}
	return results
}

func (o *AnswerOrchestrator) retrieveTopic(ctx context.Context, req domain.AnswerRequest, topic string, topK int, webIndicated bool) topicResult {
	out := topicResult{topic: topic}

	retrieval, err := o.retriever.Retrieve(ctx, ports.RetrieveInput{
		Query:     topic,
		TopK:      topK,
		Alpha:     req.Alpha,
		UseRerank: req.UseRerank,
		Filters:   req.Filters,
	})
	if err != nil {
		out.err = err
		return out
	}
	out.retrieval = retrieval

	if webIndicated && o.web != nil {
		hits, err := o.web.Search(ctx, topic, o.cfg.MaxSnippets)
		switch {
		case err == nil:
			out.webHits = hits
		case domain.IsKind(err, domain.ErrQuotaExceeded):
			out.err = err
		default:
			o.logger.Warn("topic_web_search_failed", "topic", topic, "error", err)
		}
	}
	return out
}

// answerSingleTopic retrieves once, folds in web candidates when
// indicated or when retrieval came back empty, and runs the
// diversification / off-topic / synthesis pipeline.
func (o *AnswerOrchestrator) answerSingleTopic(
	ctx context.Context,
	req domain.AnswerRequest,
	intent domain.IntentAnalysis,
	history, feedback string,
	webMode domain.WebMode,
	webIndicated bool,
	diagnostics map[string]any,
	onChunk func(string) error,
) *domain.AnswerResponse {
	retrieval, err := o.retriever.Retrieve(ctx, ports.RetrieveInput{
		Query:     req.Query,
		TopK:      req.TopK,
		Alpha:     req.Alpha,
		UseRerank: req.UseRerank,
		Filters:   req.Filters,
	})
	if err != nil {
		retrieval = domain.EmptyRetrievalResult()
		diagnostics["retrieval_error"] = err.Error()
	}
	for k, v := range retrieval.Diagnostics {
		diagnostics[k] = v
	}

	cached := o.cachedDocContext(ctx, req.SessionID)
	useCached := cached != nil && isFollowUp(req.Query) && len(cached.Chunks) > 0
	if useCached {
		diagnostics["doc_context_cached"] = true
	}

	var webDocs []domain.RetrievalCandidate
	if webIndicated && (webMode == domain.WebModeOnly || intent.RequiresWebSearch || req.AllowWeb || len(retrieval.Candidates) == 0) {
		hits, werr := o.web.Search(ctx, req.Query, o.cfg.MaxSnippets)
		switch {
		case werr == nil:
			webDocs = webHitsToCandidates(hits)
			diagnostics["web_hits"] = len(webDocs)
			diagnostics["web_search_used"] = len(webDocs) > 0
		case domain.IsKind(werr, domain.ErrQuotaExceeded):
			diagnostics["web_error"] = "quota_exceeded"
		default:
			diagnostics["web_error"] = werr.Error()
		}
	}

	if webMode == domain.WebModeOnly {
		return o.answerWebOnly(ctx, req, history, feedback, webDocs, diagnostics, onChunk)
	}

	poolK := o.cfg.MaxSnippets * 6
	if poolK < o.cfg.MaxSnippets+4 {
		poolK = o.cfg.MaxSnippets + 4
	}
	candidates, topScore := selectTopDocuments(retrieval.Candidates, poolK)
	topDocs := o.diversifyDocs(candidates)
	topDocs = o.applyScoreFloor(topDocs)
	if len(topDocs) > o.cfg.MaxSnippets {
		topDocs = topDocs[:o.cfg.MaxSnippets]
	}

	if len(topDocs) == 0 && useCached {
		topDocs = cached.Chunks
		if len(topDocs) > o.cfg.MaxSnippets {
			topDocs = topDocs[:o.cfg.MaxSnippets]
		}
		diagnostics["doc_context_hit"] = true
		if topScore == 0 && len(topDocs) > 0 {
			topScore = topDocs[0].FusedScore
		}
	}

	if len(topDocs) == 0 && len(webDocs) == 0 {
		if req.DocOnly {
			return o.docOnlyNoHits(diagnostics, onChunk)
		}
		resp := o.answerGeneral(ctx, req, history, feedback, diagnostics, onChunk)
		return resp
	}

	docHint := containsAny(strings.ToLower(req.Query), o.templates.DocHintKeywords)
	overlap := overlapWithDocs(req.Query, topDocs)
	diagnostics["top_score"] = topScore
	diagnostics["overlap"] = overlap

	offTopic := !docHint && (topScore < maxFloat(o.cfg.OffTopicScore, o.cfg.DocAnswerThreshold) || overlap < o.cfg.OffTopicOverlap)
	if offTopic && len(webDocs) == 0 && !useCached {
		if req.DocOnly {
			return o.docOnlyNoHits(diagnostics, onChunk)
		}
		diagnostics["off_topic"] = true
		resp := o.answerGeneral(ctx, req, history, feedback, diagnostics, onChunk)
		return resp
	}

	combined := append(append([]domain.RetrievalCandidate{}, topDocs...), webDocs...)
	answer := o.synthesizeStructured(ctx, req.Query, history, feedback, combined, onChunk)
	citations := o.buildCitations(combined)

	mode := domain.ResponseDoc
	if len(topDocs) == 0 {
		mode = domain.ResponseGeneral
	}
	if mode == domain.ResponseDoc {
		o.updateDocContext(ctx, req.SessionID, req.Query, topDocs)
	}

	return &domain.AnswerResponse{
		Answer:      answer,
		Mode:        mode,
		Citations:   citations,
		Suggestions: o.templates.Suggestions,
		Sources:     citationSources(citations),
		Diagnostics: diagnostics,
		Meta:        o.meta("document", len(webDocs) > 0, domain.Decomposition{SubQueries: []string{req.Query}, OriginalCount: 1}),
	}
}

func (o *AnswerOrchestrator) answerWebOnly(ctx context.Context, req domain.AnswerRequest, history, feedback string, webDocs []domain.RetrievalCandidate, diagnostics map[string]any, onChunk func(string) error) *domain.AnswerResponse {
	if len(webDocs) == 0 {
		diagnostics["web_only_no_hits"] = true
		resp := &domain.AnswerResponse{
			Answer:      o.templates.NoSourceFound,
			Mode:        domain.ResponseGeneral,
			Citations:   []domain.Citation{},
			Suggestions: o.templates.Suggestions,
			Sources:     []string{},
			Diagnostics: diagnostics,
			Meta:        o.meta("web_only", false, domain.Decomposition{SubQueries: []string{req.Query}, OriginalCount: 1}),
		}
		o.emit(onChunk, resp.Answer)
		return resp
	}

	answer := o.synthesizeStructured(ctx, req.Query, history, feedback, webDocs, onChunk)
	citations := o.buildCitations(webDocs)
	return &domain.AnswerResponse{
		Answer:      answer,
		Mode:        domain.ResponseDoc,
		Citations:   citations,
		Suggestions: o.templates.Suggestions,
		Sources:     citationSources(citations),
		Diagnostics: diagnostics,
		Meta:        o.meta("web_only", true, domain.Decomposition{SubQueries: []string{req.Query}, OriginalCount: 1}),
	}
}

func (o *AnswerOrchestrator) docOnlyNoHits(diagnostics map[string]any, onChunk func(string) error) *domain.AnswerResponse {
	diagnostics["doc_only_no_hits"] = true
	resp := &domain.AnswerResponse{
		Answer:      o.templates.NotFoundInDocuments,
		Mode:        domain.ResponseGuidance,
		Citations:   []domain.Citation{},
		Suggestions: o.templates.Suggestions,
		Sources:     []string{},
		Diagnostics: diagnostics,
		Meta:        map[string]any{"strategy": "doc_only"},
	}
	o.emit(onChunk, resp.Answer)
	return resp
}

// answerGeneral answers from the model's own knowledge, prefixed so
// users can tell it is not grounded in their documents.
func (o *AnswerOrchestrator) answerGeneral(ctx context.Context, req domain.AnswerRequest, history, feedback string, diagnostics map[string]any, onChunk func(string) error) *domain.AnswerResponse {
	prompt := composePrompt(history, buildGeneralPrompt(req.Query, feedback), domain.ResponseGeneral)
	messages := []domain.ChatMessage{
		{Role: "system", Content: "你是业务顾问，当文档不足时使用常识回答。不要伪造文档引用，并提醒用户进一步核实。"},
		{Role: "user", Content: prompt},
	}

	var answer string
	if onChunk != nil {
		prefixed := false
		answer = o.chat.Stream(ctx, messages, domain.ResponseGeneral, "", func(chunk string) error {
			if !prefixed {
				prefixed = true
				if err := onChunk(o.templates.NonDocPrefix); err != nil {
					return err
				}
			}
			return onChunk(chunk)
		})
	} else {
		answer = o.chat.Call(ctx, messages, domain.ResponseGeneral, "")
	}
	if !strings.Contains(answer, strings.TrimSpace(o.templates.NonDocPrefix)) {
		answer = o.templates.NonDocPrefix + answer
	}

	return &domain.AnswerResponse{
		Answer:      answer,
		Mode:        domain.ResponseGeneral,
		Citations:   []domain.Citation{},
		Suggestions: o.templates.Suggestions,
		Sources:     []string{},
		Diagnostics: diagnostics,
		Meta:        map[string]any{"strategy": "general"},
	}
}

// synthesizeStructured asks the backend for a sectioned markdown
// answer; the locally composed sections double as the fallback when
// generation is exhausted.
func (o *AnswerOrchestrator) synthesizeStructured(ctx context.Context, query, history, feedback string, docs []domain.RetrievalCandidate, onChunk func(string) error) string {
	fallback := o.composeSections(query, docs)
	if len(docs) == 0 {
		o.emit(onChunk, fallback)
		return fallback
	}

	core := o.buildStructuredPrompt(query, docs)
	if feedback != "" {
		core = "用户对上一轮回答的反馈如下，请据此改进本次回答质量：\n" + feedback + "\n\n" + core
	}
	prompt := composePrompt(history, core, domain.ResponseDoc)
	messages := []domain.ChatMessage{
		{Role: "system", Content: "你是企业知识库助手，只能根据提供的文档片段回答，需输出结构化 Markdown 并给出明确引用。"},
		{Role: "user", Content: prompt},
	}
	if onChunk != nil {
		return o.chat.Stream(ctx, messages, domain.ResponseDoc, fallback, onChunk)
	}
	return o.chat.Call(ctx, messages, domain.ResponseDoc, fallback)
}

func (o *AnswerOrchestrator) cachedDocContext(ctx context.Context, sessionID string) *domain.SessionDocContext {
	if o.docCtx == nil || sessionID == "" {
		return nil
	}
	dc, err := o.docCtx.Get(ctx, sessionID)
	if err != nil {
		return nil
	}
	return dc
}

func (o *AnswerOrchestrator) updateDocContext(ctx context.Context, sessionID, query string, docs []domain.RetrievalCandidate) {
	if o.docCtx == nil || sessionID == "" || len(docs) == 0 {
		return
	}
	err := o.docCtx.Put(ctx, domain.SessionDocContext{
		SessionID: sessionID,
		Question:  query,
		Chunks:    docs,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		o.logger.Warn("doc_context_update_failed", "error", err)
	}
}

func isFollowUp(query string) bool {
	return len([]rune(query)) <= 20 && followUpRe.MatchString(query)
}

func (o *AnswerOrchestrator) appendRetrievalLog(ctx context.Context, req domain.AnswerRequest, diagnostics map[string]any, resp *domain.AnswerResponse) {
	if o.log == nil || resp == nil {
		return
	}
	preview := resp.Answer
	if len([]rune(preview)) > 120 {
		preview = string([]rune(preview)[:120])
	}
	alpha := 0.0
	if req.Alpha != nil {
		alpha = *req.Alpha
	}
	entry := domain.RetrievalLogEntry{
		Query:         req.Query,
		TopK:          req.TopK,
		Alpha:         alpha,
		Filters:       req.Filters,
		Timestamp:     time.Now().UTC(),
		Diagnostics:   diagnostics,
		AnswerPreview: preview,
		SessionID:     req.SessionID,
	}
	if err := o.log.Append(ctx, entry); err != nil {
		o.logger.Warn("retrieval_log_append_failed", "error", err)
	}
}

func (o *AnswerOrchestrator) meta(strategy string, webUsed bool, dec domain.Decomposition) map[string]any {
	return map[string]any{
		"strategy":    strategy,
		"web_used":    webUsed,
		"multi_topic": len(dec.SubQueries) > 1,
		"topics":      dec.SubQueries,
		"truncated":   dec.Truncated,
	}
}

func (o *AnswerOrchestrator) emit(onChunk func(string) error, text string) {
	if onChunk == nil || text == "" {
		return
	}
	_ = onChunk(text)
}

func buildGeneralPrompt(query, feedback string) string {
	var b strings.Builder
	if fb := strings.TrimSpace(feedback); fb != "" {
		b.WriteString("用户反馈上一轮回答存在以下不足，请重点改进：\n")
		b.WriteString(fb)
		b.WriteString("\n\n")
	}
	b.WriteString("请回答下面的问题，给出简明、可执行的建议：\n")
	b.WriteString(query)
	return b.String()
}
