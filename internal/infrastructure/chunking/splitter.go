package chunking

import "strings"

// separators ordered from strongest to weakest break; the empty string
// means a hard rune-window split.
var separators = []string{"\n\n", "\n", "。", "！", "？", ". ", " ", ""}

// Splitter breaks text recursively along natural boundaries, merging
// pieces back up to ChunkSize with Overlap runes carried between
// neighboring chunks.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

func (s *Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	pieces := s.fragment(text, separators)
	return s.merge(pieces)
}

// fragment recursively cuts text into pieces no longer than ChunkSize.
func (s *Splitter) fragment(text string, seps []string) []string {
	if runeLen(text) <= s.ChunkSize {
		return []string{text}
	}

	sep, rest := pickSeparator(text, seps)
	if sep == "" {
		return s.windowSplit(text)
	}

	var out []string
	for _, part := range strings.SplitAfter(text, sep) {
		if part == "" {
			continue
		}
		if runeLen(part) > s.ChunkSize {
			out = append(out, s.fragment(part, rest)...)
		} else {
			out = append(out, part)
		}
	}
	return out
}

func pickSeparator(text string, seps []string) (string, []string) {
	for i, sep := range seps {
		if sep == "" {
			return "", nil
		}
		if strings.Contains(text, sep) {
			return sep, seps[i+1:]
		}
	}
	return "", nil
}

func (s *Splitter) windowSplit(text string) []string {
	runes := []rune(text)
	out := make([]string, 0, len(runes)/s.ChunkSize+1)
	for start := 0; start < len(runes); start += s.ChunkSize {
		end := start + s.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

// merge packs pieces into chunks up to ChunkSize, seeding each new
// chunk with the trailing pieces of the previous one up to Overlap.
func (s *Splitter) merge(pieces []string) []string {
	var (
		out     []string
		current []string
		size    int
	)
	flush := func() {
		chunk := strings.TrimSpace(strings.Join(current, ""))
		if chunk != "" {
			out = append(out, chunk)
		}
		if s.Overlap > 0 {
			kept := make([]string, 0, len(current))
			keptSize := 0
			for i := len(current) - 1; i >= 0; i-- {
				n := runeLen(current[i])
				if keptSize+n > s.Overlap {
					break
				}
				kept = append([]string{current[i]}, kept...)
				keptSize += n
			}
			current = kept
			size = keptSize
		} else {
			current = nil
			size = 0
		}
	}

	for _, piece := range pieces {
		n := runeLen(piece)
		if size+n > s.ChunkSize && size > 0 {
			flush()
		}
		current = append(current, piece)
		size += n
	}
	if size > 0 {
		chunk := strings.TrimSpace(strings.Join(current, ""))
		if chunk != "" && (len(out) == 0 || chunk != out[len(out)-1]) {
			out = append(out, chunk)
		}
	}
	return out
}

func runeLen(s string) int {
	return len([]rune(s))
}
