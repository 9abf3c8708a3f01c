package usecase

import (
	"strings"
	"unicode"
)

// tokenize produces lowercase latin/digit words plus CJK bigrams, so
// overlap scoring works for mixed-script queries.
func tokenize(s string) []string {
	if s == "" {
		return nil
	}

	out := make([]string, 0, 24)
	var word strings.Builder
	var prevCJK rune

	flush := func() {
		if word.Len() > 0 {
			out = append(out, word.String())
			word.Reset()
		}
	}

	for _, r := range s {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			if prevCJK != 0 {
				out = append(out, string([]rune{prevCJK, r}))
			}
			out = append(out, string(r))
			prevCJK = r
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			prevCJK = 0
			word.WriteRune(unicode.ToLower(r))
		default:
			prevCJK = 0
			flush()
		}
	}
	flush()
	return out
}

func toTokenSet(s string) map[string]struct{} {
	tokens := tokenize(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

func tokenSetOverlap(query, text map[string]struct{}) float64 {
	if len(query) == 0 || len(text) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := text[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func charTrigrams(s string) map[string]struct{} {
	runes := []rune(strings.ToLower(s))
	out := make(map[string]struct{}, len(runes))
	for i := 0; i+3 <= len(runes); i++ {
		out[string(runes[i:i+3])] = struct{}{}
	}
	return out
}

func trigramOverlap(a, b string) float64 {
	ta, tb := charTrigrams(a), charTrigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	matches := 0
	for g := range ta {
		if _, ok := tb[g]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(ta))
}

// sequenceSimilarity is a normalized longest-common-subsequence ratio
// over runes, capped to short prefixes to bound cost.
func sequenceSimilarity(a, b string) float64 {
	const maxRunes = 200
	ra := []rune(strings.ToLower(a))
	rb := []rune(strings.ToLower(b))
	if len(ra) > maxRunes {
		ra = ra[:maxRunes]
	}
	if len(rb) > maxRunes {
		rb = rb[:maxRunes]
	}
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	lcs := prev[len(rb)]
	return 2.0 * float64(lcs) / float64(len(ra)+len(rb))
}

// queryTextOverlap blends token, trigram and sequence similarity. Used
// by the off-topic gate.
func queryTextOverlap(query, text string) float64 {
	token := tokenSetOverlap(toTokenSet(query), toTokenSet(text))
	trigram := trigramOverlap(query, text)
	seq := sequenceSimilarity(query, text)
	return 0.5*token + 0.3*trigram + 0.2*seq
}

// gibberishThresholds are configuration, not constants: the ratios are
// tuned for CJK+Latin corpora.
type gibberishThresholds struct {
	MaxReplacementRatio float64
	MinPrintableRatio   float64
	MaxSymbolRatio      float64
	MaxPunctRun         int
}

func defaultGibberishThresholds() gibberishThresholds {
	return gibberishThresholds{
		MaxReplacementRatio: 0.02,
		MinPrintableRatio:   0.6,
		MaxSymbolRatio:      0.3,
		MaxPunctRun:         12,
	}
}

// looksGibberish flags text that is likely mis-decoded: high
// replacement-character density, low printable ratio, symbol-heavy
// content, or long punctuation-only runs.
func looksGibberish(text string, th gibberishThresholds) bool {
	runes := []rune(text)
	if len(runes) == 0 {
		return true
	}

	var replacement, printable, letters, symbols, punctRun, maxPunctRun int
	for _, r := range runes {
		if r == unicode.ReplacementChar {
			replacement++
		}
		if unicode.IsPrint(r) || r == '\n' || r == '\t' {
			printable++
		}
		switch {
		case unicode.Is(unicode.Han, r) || unicode.IsLetter(r) || unicode.IsDigit(r):
			letters++
			punctRun = 0
		case unicode.IsSpace(r):
			punctRun = 0
		default:
			symbols++
			punctRun++
			if punctRun > maxPunctRun {
				maxPunctRun = punctRun
			}
		}
	}

	total := float64(len(runes))
	if float64(replacement)/total > th.MaxReplacementRatio {
		return true
	}
	if float64(printable)/total < th.MinPrintableRatio {
		return true
	}
	if letters == 0 {
		return true
	}
	if float64(symbols)/total > th.MaxSymbolRatio {
		return true
	}
	if maxPunctRun > th.MaxPunctRun {
		return true
	}
	return false
}

// cleanSnippet strips control characters and leading punctuation, then
// caps the snippet length in runes.
func cleanSnippet(text string, maxChars int) string {
	var b strings.Builder
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		if r == '\n' || r == '\t' {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}

	cleaned := strings.TrimSpace(b.String())
	cleaned = strings.TrimLeftFunc(cleaned, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r)
	})

	runes := []rune(cleaned)
	if maxChars > 0 && len(runes) > maxChars {
		cleaned = string(runes[:maxChars])
	}
	return cleaned
}

// segmentPassages splits text into sentence-grouped passages of at
// most maxChars runes; passages shorter than minChars are dropped.
func segmentPassages(text string, maxChars, minChars int) []string {
	if maxChars <= 0 {
		maxChars = 320
	}

	sentences := splitSentences(text)
	passages := make([]string, 0, len(sentences))
	var current strings.Builder
	currentLen := 0

	flush := func() {
		passage := strings.TrimSpace(current.String())
		if len([]rune(passage)) >= minChars {
			passages = append(passages, passage)
		}
		current.Reset()
		currentLen = 0
	}

	for _, sentence := range sentences {
		sl := len([]rune(sentence))
		if currentLen > 0 && currentLen+sl > maxChars {
			flush()
		}
		if sl > maxChars {
			runes := []rune(sentence)
			for start := 0; start < len(runes); start += maxChars {
				end := start + maxChars
				if end > len(runes) {
					end = len(runes)
				}
				current.WriteString(string(runes[start:end]))
				currentLen += end - start
				if currentLen >= maxChars {
					flush()
				}
			}
			continue
		}
		current.WriteString(sentence)
		currentLen += sl
	}
	flush()
	return passages
}

func splitSentences(text string) []string {
	out := make([]string, 0, 8)
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		switch r {
		case '。', '！', '？', '!', '?', ';', '；', '\n':
			if s := strings.TrimSpace(b.String()); s != "" {
				out = append(out, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func containsAny(s string, keywords []string) bool {
	lower := strings.ToLower(s)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
