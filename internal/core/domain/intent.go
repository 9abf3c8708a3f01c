package domain

// QuestionType is the coarse shape of the user question.
type QuestionType string

const (
	QuestionFact       QuestionType = "fact"
	QuestionHowTo      QuestionType = "how_to"
	QuestionComparison QuestionType = "comparison"
	QuestionDecision   QuestionType = "decision"
	QuestionGeneral    QuestionType = "general"
)

// AnswerMode selects how an answer should be grounded.
type AnswerMode string

const (
	ModeDocumentFirst AnswerMode = "document_first"
	ModeHybrid        AnswerMode = "hybrid"
	ModeGeneralOnly   AnswerMode = "general_only"
)

// IntentAnalysis is created once per request and immutable after the
// heuristic/LLM merge.
type IntentAnalysis struct {
	QuestionType      QuestionType `json:"question_type"`
	Mode              AnswerMode   `json:"mode"`
	Confidence        float64      `json:"confidence"`
	RequiresWebSearch bool         `json:"requires_web_search"`
	TimeSensitivity   float64      `json:"time_sensitivity"`
	Complexity        float64      `json:"complexity"`
	SubTopics         []string     `json:"sub_topics,omitempty"`
}

// Decomposition is the result of splitting a compound query.
type Decomposition struct {
	SubQueries    []string `json:"sub_queries"`
	Truncated     bool     `json:"truncated"`
	OriginalCount int      `json:"original_count"`
}
