package lexical

import (
	"strings"
	"unicode"
)

// tokenize lowercases latin/digit runs and emits CJK unigrams plus
// bigrams, so Chinese queries match without a segmenter.
func tokenize(s string) []string {
	if s == "" {
		return nil
	}

	out := make([]string, 0, 32)
	var b strings.Builder
	var prevCJK rune

	flush := func() {
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}

	for _, r := range s {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			out = append(out, string(r))
			if prevCJK != 0 {
				out = append(out, string(prevCJK)+string(r))
			}
			prevCJK = r
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			prevCJK = 0
			b.WriteRune(unicode.ToLower(r))
		default:
			prevCJK = 0
			flush()
		}
	}
	flush()
	return out
}
