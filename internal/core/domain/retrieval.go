package domain

// SourceType distinguishes where a retrieval candidate came from.
type SourceType string

const (
	SourceDocument SourceType = "document"
	SourceWeb      SourceType = "web"
)

// SearchFilter restricts retrieval to a subset of the corpus.
type SearchFilter struct {
	SourceTypes []SourceType
	Sources     []string
	MinScore    float64
}

// RetrievalCandidate is one fused retrieval hit. FusedScore is the sole
// sort key within a fused result; ChunkID is unique per result, later
// duplicates are merged into the existing candidate.
type RetrievalCandidate struct {
	ChunkID      string         `json:"chunk_id"`
	Text         string         `json:"text"`
	Source       string         `json:"source"`
	Page         *int           `json:"page,omitempty"`
	SourceType   SourceType     `json:"source_type"`
	VectorScore  float64        `json:"vector_score"`
	LexicalScore float64        `json:"lexical_score"`
	FusedScore   float64        `json:"fused_score"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// RetrievalResult is always populated, even when empty.
type RetrievalResult struct {
	Candidates  []RetrievalCandidate `json:"candidates"`
	Diagnostics map[string]any       `json:"diagnostics"`
}

func EmptyRetrievalResult() RetrievalResult {
	return RetrievalResult{
		Candidates:  []RetrievalCandidate{},
		Diagnostics: map[string]any{},
	}
}

// CitationTier buckets citation confidence for the UI.
type CitationTier string

const (
	TierHigh   CitationTier = "high"
	TierMedium CitationTier = "medium"
	TierLow    CitationTier = "low"
)

type Citation struct {
	Source      string       `json:"source"`
	Page        *int         `json:"page,omitempty"`
	Snippet     string       `json:"snippet"`
	Score       float64      `json:"score"`
	SourceType  SourceType   `json:"source_type"`
	Tier        CitationTier `json:"tier"`
	URL         string       `json:"url,omitempty"`
	Title       string       `json:"title,omitempty"`
	PublishedAt string       `json:"published_at,omitempty"`
}

// WebHit is a normalized web search result.
type WebHit struct {
	Title       string       `json:"title"`
	URL         string       `json:"url"`
	Snippet     string       `json:"snippet"`
	Score       float64      `json:"score"`
	PublishedAt string       `json:"published_at,omitempty"`
	Tier        CitationTier `json:"tier"`
	Provider    string       `json:"provider,omitempty"`
}

// LexicalEntry is one line of the persisted lexical index file.
type LexicalEntry struct {
	ChunkID  string         `json:"chunk_id"`
	Text     string         `json:"text"`
	Tokens   []string       `json:"tokens"`
	Source   string         `json:"source"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
