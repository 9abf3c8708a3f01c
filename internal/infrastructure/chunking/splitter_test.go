package chunking

import (
	"strings"
	"testing"
)

func TestSplitShortTextSingleChunk(t *testing.T) {
	s := NewSplitter(1000, 100)
	chunks := s.Split("短文本。")
	if len(chunks) != 1 || chunks[0] != "短文本。" {
		t.Fatalf("unexpected chunks: %v", chunks)
	}
}

func TestSplitEmptyText(t *testing.T) {
	s := NewSplitter(1000, 100)
	if got := s.Split("   \n  "); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestSplitPrefersParagraphBoundaries(t *testing.T) {
	para1 := strings.Repeat("一", 60) + "。"
	para2 := strings.Repeat("二", 60) + "。"
	s := NewSplitter(80, 0)
	chunks := s.Split(para1 + "\n\n" + para2)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(chunks), chunks)
	}
	if !strings.HasPrefix(chunks[0], "一") || !strings.HasPrefix(chunks[1], "二") {
		t.Fatalf("paragraphs not kept intact: %v", chunks)
	}
}

func TestSplitRespectsChunkSize(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 50; i++ {
		sb.WriteString(strings.Repeat("句", 30))
		sb.WriteString("。")
	}
	s := NewSplitter(200, 40)
	chunks := s.Split(sb.String())
	if len(chunks) < 5 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if n := len([]rune(c)); n > 200 {
			t.Fatalf("chunk %d exceeds size: %d runes", i, n)
		}
	}
}

func TestSplitCarriesOverlap(t *testing.T) {
	sentences := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		sentences = append(sentences, strings.Repeat(string(rune('a'+i)), 30)+". ")
	}
	s := NewSplitter(100, 40)
	chunks := s.Split(strings.Join(sentences, ""))
	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(chunks))
	}
	// The tail sentence of a chunk reappears at the head of the next.
	first := chunks[0]
	lastSentence := first[strings.LastIndex(strings.TrimSpace(first), " ")+1:]
	if lastSentence != "" && !strings.Contains(chunks[1], strings.TrimSpace(lastSentence)) {
		t.Fatalf("no overlap carried: %q not in %q", lastSentence, chunks[1])
	}
}

func TestSplitHardWindowWhenNoSeparators(t *testing.T) {
	text := strings.Repeat("字", 450)
	s := NewSplitter(200, 0)
	chunks := s.Split(text)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
}
