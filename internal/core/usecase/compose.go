package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/wenda-project/wenda/internal/core/domain"
)

// selectTopDocuments caps the candidate pool and reports the top fused
// score before diversification.
func selectTopDocuments(candidates []domain.RetrievalCandidate, k int) ([]domain.RetrievalCandidate, float64) {
	if len(candidates) == 0 {
		return nil, 0
	}
	top := candidates[0].FusedScore
	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, top
}

// diversifyDocs picks up to maxSnippets candidates under a per-source
// cap while chasing the minimum unique-source count. When the cap
// starves the pick, it is relaxed by one and the pass re-runs.
func (o *AnswerOrchestrator) diversifyDocs(candidates []domain.RetrievalCandidate) []domain.RetrievalCandidate {
	if len(candidates) == 0 {
		return nil
	}

	maxPerSource := 2
	picked := pickDiverse(candidates, o.cfg.MaxSnippets, maxPerSource, o.cfg.MinUniqueSources)
	if len(picked) < o.cfg.MaxSnippets && len(picked) < len(candidates) {
		picked = pickDiverse(candidates, o.cfg.MaxSnippets, maxPerSource+1, o.cfg.MinUniqueSources)
	}
	return picked
}

func pickDiverse(candidates []domain.RetrievalCandidate, k, maxPerSource, minUniqueSources int) []domain.RetrievalCandidate {
	perSource := make(map[string]int)
	seen := make(map[string]struct{})
	picked := make([]domain.RetrievalCandidate, 0, k)

	for _, c := range candidates {
		source := c.Source
		if source == "" {
			source = "unknown"
		}
		if perSource[source] >= maxPerSource {
			continue
		}
		picked = append(picked, c)
		perSource[source]++
		seen[source] = struct{}{}
		if len(picked) >= k && len(seen) >= minUniqueSources {
			break
		}
	}
	if len(picked) > k {
		picked = picked[:k]
	}
	return picked
}

// applyScoreFloor drops non-leading picks whose score falls too far
// below the leader.
func (o *AnswerOrchestrator) applyScoreFloor(docs []domain.RetrievalCandidate) []domain.RetrievalCandidate {
	if len(docs) <= 1 {
		return docs
	}
	floor := maxFloat(o.cfg.DocAnswerThreshold-0.05, docs[0].FusedScore*0.6)
	out := docs[:1]
	for _, c := range docs[1:] {
		if c.FusedScore >= floor {
			out = append(out, c)
		}
	}
	return out
}

func overlapWithDocs(query string, docs []domain.RetrievalCandidate) float64 {
	if len(docs) == 0 {
		return 0
	}
	var b strings.Builder
	for _, d := range docs {
		text := d.Text
		if len([]rune(text)) > 600 {
			text = string([]rune(text)[:600])
		}
		b.WriteString(text)
		b.WriteString(" ")
	}
	return queryTextOverlap(query, b.String())
}

func webHitsToCandidates(hits []domain.WebHit) []domain.RetrievalCandidate {
	out := make([]domain.RetrievalCandidate, 0, len(hits))
	for _, h := range hits {
		source := h.Title
		if source == "" {
			source = h.URL
		}
		out = append(out, domain.RetrievalCandidate{
			Text:       h.Snippet,
			Source:     source,
			SourceType: domain.SourceWeb,
			FusedScore: h.Score,
			Metadata: map[string]any{
				"url":          h.URL,
				"title":        h.Title,
				"published_at": h.PublishedAt,
				"provider":     h.Provider,
			},
		})
	}
	return out
}

// prepareTopicDocs fuses each topic's ranking across sub-queries by
// reciprocal rank and redistributes the fused pool back to topics,
// capped per topic.
func (o *AnswerOrchestrator) prepareTopicDocs(results []topicResult, webOnly bool) map[string][]domain.RetrievalCandidate {
	rankings := make([][]domain.RetrievalCandidate, 0, len(results))
	memberships := make(map[string]map[string]struct{})

	for _, r := range results {
		var ranking []domain.RetrievalCandidate
		if webOnly {
			ranking = webHitsToCandidates(r.webHits)
		} else {
			ranking = r.retrieval.Candidates
			if len(r.webHits) > 0 {
				ranking = append(append([]domain.RetrievalCandidate{}, ranking...), webHitsToCandidates(r.webHits)...)
			}
		}
		limit := o.cfg.MaxSnippets * 4
		if len(ranking) > limit {
			ranking = ranking[:limit]
		}
		rankings = append(rankings, ranking)
		for _, c := range ranking {
			key := candidateKey(c)
			if memberships[key] == nil {
				memberships[key] = make(map[string]struct{}, 2)
			}
			memberships[key][r.topic] = struct{}{}
		}
	}

	fused := fuseTopicsRRF(rankings)

	out := make(map[string][]domain.RetrievalCandidate, len(results))
	for _, r := range results {
		out[r.topic] = nil
	}
	for _, c := range fused {
		for topic := range memberships[candidateKey(c)] {
			if len(out[topic]) >= o.cfg.MaxSnippets {
				continue
			}
			out[topic] = append(out[topic], c)
		}
	}
	return out
}

func flattenTopicDocs(topicDocs map[string][]domain.RetrievalCandidate) []domain.RetrievalCandidate {
	out := make([]domain.RetrievalCandidate, 0, len(topicDocs)*3)
	for _, docs := range topicDocs {
		out = append(out, docs...)
	}
	return out
}

// composeMultiTopicAnswer builds one headed section per topic. Topics
// without material get a "no reliable source" section instead of being
// dropped.
func (o *AnswerOrchestrator) composeMultiTopicAnswer(
	ctx context.Context,
	dec domain.Decomposition,
	topicDocs map[string][]domain.RetrievalCandidate,
) (string, []domain.TopicSection, []domain.Citation) {
	var parts []string
	sections := make([]domain.TopicSection, 0, len(dec.SubQueries))
	var combined []domain.Citation

	if dec.Truncated {
		parts = append(parts, fmt.Sprintf("> "+o.templates.TruncationNotice, len(dec.SubQueries), dec.OriginalCount))
	}

	for idx, topic := range dec.SubQueries {
		docs := topicDocs[topic]
		heading := fmt.Sprintf("### 主题%d：%s", idx+1, topic)

		if len(docs) == 0 {
			body := o.templates.NoSourceFound
			parts = append(parts, heading+"\n"+body)
			sections = append(sections, domain.TopicSection{Topic: topic, Answer: body, Citations: []domain.Citation{}})
			continue
		}

		summary := o.summarizeTopic(ctx, topic, docs, idx+1)
		citations := o.buildCitations(docs)
		combined = append(combined, citations...)

		sourceLines := make([]string, 0, len(citations))
		for i, c := range citations {
			ref := fmt.Sprintf("- [%d.%d] %s", idx+1, i+1, c.Source)
			if c.Page != nil {
				ref += fmt.Sprintf(" (P.%d)", *c.Page)
			}
			sourceLines = append(sourceLines, ref)
		}

		section := strings.Join([]string{
			heading,
			strings.TrimSpace(summary),
			"",
			o.templates.SectionSources + ":",
			strings.Join(sourceLines, "\n"),
		}, "\n")
		parts = append(parts, section)
		sections = append(sections, domain.TopicSection{Topic: topic, Answer: summary, Citations: citations})
	}

	if len(parts) == 0 {
		return o.templates.NoSourceFound, sections, nil
	}
	return strings.Join(parts, "\n\n"), sections, dedupCitations(combined)
}

// summarizeTopic asks the backend for a per-topic summary with the
// locally composed passage list as fallback.
func (o *AnswerOrchestrator) summarizeTopic(ctx context.Context, topic string, docs []domain.RetrievalCandidate, topicIndex int) string {
	var b strings.Builder
	for i, doc := range docs {
		header := fmt.Sprintf("[%d.%d] %s", topicIndex, i+1, doc.Source)
		if doc.Page != nil {
			header += fmt.Sprintf(" (P.%d)", *doc.Page)
		}
		text := doc.Text
		if len([]rune(text)) > 800 {
			text = string([]rune(text)[:800])
		}
		b.WriteString(header + "\n" + text + "\n\n")
	}

	prompt := fmt.Sprintf(
		"请根据以下文档片段撰写详尽总结。使用 Markdown 编号列表输出要点，每条引用相关编号，不要引用文档以外的内容。\n主题：%s\n\n文档片段：\n%s",
		topic, b.String(),
	)
	messages := []domain.ChatMessage{
		{Role: "system", Content: "你是企业知识库助手，只能基于提供的文档片段回答，并给出清晰引用。"},
		{Role: "user", Content: prompt},
	}
	fallback := o.composeSections(topic, docs)
	return o.chat.Call(ctx, messages, domain.ResponseDoc, fallback)
}

// buildStructuredPrompt carries the section skeleton into the model so
// degraded and generated answers share one shape.
func (o *AnswerOrchestrator) buildStructuredPrompt(query string, docs []domain.RetrievalCandidate) string {
	var context strings.Builder
	for i, doc := range docs {
		header := fmt.Sprintf("[%d] %s", i+1, doc.Source)
		if doc.Page != nil {
			header += fmt.Sprintf(" (P.%d)", *doc.Page)
		}
		text := cleanSnippet(doc.Text, 800)
		if text == "" {
			continue
		}
		context.WriteString(header + "\n" + text + "\n\n")
	}

	return fmt.Sprintf(
		"请严格根据下方文档片段回答，并使用以下结构输出：\n"+
			"### %s\n- …\n"+
			"### %s\n- …（引用 [编号]）\n"+
			"### %s（没有可写“%s”）\n"+
			"### %s\n- …\n"+
			"%s:\n- 列出使用到的文档标题与页码\n\n"+
			"要求：只能使用提供的文档信息；每条事实句末尾标注引用编号；缺失内容请写“%s”。\n\n"+
			"用户问题：%s\n\n文档片段：\n%s",
		o.templates.SectionSummary,
		o.templates.SectionKeyFindings,
		o.templates.SectionMethods, o.templates.NotFoundInDocuments,
		o.templates.SectionRisks,
		o.templates.SectionSources,
		o.templates.NotFoundInDocuments,
		query, context.String(),
	)
}

// composeSections deterministically buckets candidate passages into
// the section skeleton. Used directly for degraded answers and as the
// generation fallback.
func (o *AnswerOrchestrator) composeSections(query string, docs []domain.RetrievalCandidate) string {
	var findings, methods, risks, webExtra []string

	for i, doc := range docs {
		label := fmt.Sprintf("[%d]", i+1)
		passages := segmentPassages(doc.Text, o.cfg.PassageMaxChars, o.cfg.PassageMinChars)
		for _, p := range passages {
			line := fmt.Sprintf("- %s %s", p, label)
			switch {
			case doc.SourceType == domain.SourceWeb:
				webExtra = appendBounded(webExtra, line, o.cfg.MaxSnippets)
			case containsAny(p, o.templates.RiskKeywords):
				risks = appendBounded(risks, line, o.cfg.MaxSnippets)
			case containsAny(p, o.templates.MethodKeywords):
				methods = appendBounded(methods, line, o.cfg.MaxSnippets)
			default:
				findings = appendBounded(findings, line, o.cfg.MaxSnippets)
			}
		}
	}

	notFound := "- " + o.templates.NotFoundInDocuments
	section := func(title string, lines []string) string {
		if len(lines) == 0 {
			return "### " + title + "\n" + notFound
		}
		return "### " + title + "\n" + strings.Join(lines, "\n")
	}

	var parts []string
	summary := firstNonEmpty(findings, methods, webExtra)
	if summary == "" {
		summary = notFound
	}
	parts = append(parts, "### "+o.templates.SectionSummary+"\n"+summary)
	parts = append(parts, section(o.templates.SectionKeyFindings, findings))
	parts = append(parts, section(o.templates.SectionMethods, methods))
	parts = append(parts, section(o.templates.SectionRisks, risks))
	if len(webExtra) > 0 {
		parts = append(parts, section(o.templates.SectionWebSupplement, webExtra))
	}

	sourceLines := make([]string, 0, len(docs))
	for i, doc := range docs {
		ref := fmt.Sprintf("- [%d] %s", i+1, doc.Source)
		if doc.Page != nil {
			ref += fmt.Sprintf(" (P.%d)", *doc.Page)
		}
		sourceLines = append(sourceLines, ref)
	}
	if len(sourceLines) == 0 {
		sourceLines = append(sourceLines, "- "+o.templates.NoSourceFound)
	}
	parts = append(parts, o.templates.SectionSources+":\n"+strings.Join(sourceLines, "\n"))

	return strings.Join(parts, "\n\n")
}

func appendBounded(lines []string, line string, limit int) []string {
	if len(lines) >= limit {
		return lines
	}
	return append(lines, line)
}

func firstNonEmpty(buckets ...[]string) string {
	for _, b := range buckets {
		if len(b) > 0 {
			return b[0]
		}
	}
	return ""
}

// buildCitations emits one citation per candidate with tier tagging;
// duplicates by (source, page, snippet prefix) collapse to one.
func (o *AnswerOrchestrator) buildCitations(docs []domain.RetrievalCandidate) []domain.Citation {
	citations := make([]domain.Citation, 0, len(docs))
	for _, doc := range docs {
		snippet := cleanSnippet(doc.Text, o.cfg.SnippetMaxChars)
		c := domain.Citation{
			Source:     doc.Source,
			Page:       doc.Page,
			Snippet:    snippet,
			Score:      doc.FusedScore,
			SourceType: doc.SourceType,
			Tier:       scoreTier(doc.FusedScore, doc.SourceType),
		}
		if doc.Metadata != nil {
			if url, ok := doc.Metadata["url"].(string); ok {
				c.URL = url
			}
			if title, ok := doc.Metadata["title"].(string); ok {
				c.Title = title
			}
			if published, ok := doc.Metadata["published_at"].(string); ok {
				c.PublishedAt = published
			}
		}
		citations = append(citations, c)
	}
	return dedupCitations(citations)
}

func scoreTier(score float64, sourceType domain.SourceType) domain.CitationTier {
	if sourceType == domain.SourceWeb {
		switch {
		case score >= 0.75:
			return domain.TierHigh
		case score >= 0.55:
			return domain.TierMedium
		default:
			return domain.TierLow
		}
	}
	switch {
	case score >= 0.65:
		return domain.TierHigh
	case score >= 0.35:
		return domain.TierMedium
	default:
		return domain.TierLow
	}
}

func dedupCitations(citations []domain.Citation) []domain.Citation {
	seen := make(map[string]struct{}, len(citations))
	out := make([]domain.Citation, 0, len(citations))
	for _, c := range citations {
		prefix := c.Snippet
		if len([]rune(prefix)) > 120 {
			prefix = string([]rune(prefix)[:120])
		}
		page := -1
		if c.Page != nil {
			page = *c.Page
		}
		key := fmt.Sprintf("%s|%d|%s", c.Source, page, prefix)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

func citationSources(citations []domain.Citation) []string {
	seen := make(map[string]struct{}, len(citations))
	out := make([]string, 0, len(citations))
	for _, c := range citations {
		if _, ok := seen[c.Source]; ok {
			continue
		}
		seen[c.Source] = struct{}{}
		out = append(out, c.Source)
	}
	return out
}
