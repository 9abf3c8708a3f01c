package domain

import "time"

// WebMode controls how web search participates in answering.
type WebMode string

const (
	WebModeOff     WebMode = "off"
	WebModeUpgrade WebMode = "upgrade"
	WebModeOnly    WebMode = "only"
)

// AnswerRequest is the inbound contract honored by the orchestrator.
type AnswerRequest struct {
	Query     string        `json:"query"`
	TopK      int           `json:"topK"`
	Alpha     *float64      `json:"alpha,omitempty"`
	UseRerank bool          `json:"useRerank"`
	Filters   *SearchFilter `json:"filters,omitempty"`
	SessionID string        `json:"sessionId,omitempty"`
	DocOnly   bool          `json:"docOnly"`
	AllowWeb  bool          `json:"allowWeb"`
	WebMode   WebMode       `json:"webMode,omitempty"`
	Feedback  string        `json:"feedback,omitempty"`
}

// ResponseMode is the user-visible answer mode.
type ResponseMode string

const (
	ResponseDoc      ResponseMode = "doc"
	ResponseGeneral  ResponseMode = "general"
	ResponseChitchat ResponseMode = "chitchat"
	ResponseGuidance ResponseMode = "guidance"
)

// TopicSection is one headed section of a multi-topic answer.
type TopicSection struct {
	Topic     string     `json:"topic"`
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
}

// AnswerResponse is always returned, never an error for generation
// failures; Mode and Diagnostics reflect any degraded path taken.
type AnswerResponse struct {
	Answer      string         `json:"answer"`
	Mode        ResponseMode   `json:"mode"`
	Citations   []Citation     `json:"citations"`
	Suggestions []string       `json:"suggestions"`
	Sources     []string       `json:"sources"`
	Diagnostics map[string]any `json:"diagnostics"`
	Meta        map[string]any `json:"meta"`
	MultiTopics []TopicSection `json:"multiTopics,omitempty"`
}

// ChatMessage is one turn sent to the generation backend.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SessionDocContext stores the chunks backing the last successful
// document-grounded answer for a session, so short follow-up questions
// can reuse them without re-retrieving.
type SessionDocContext struct {
	SessionID string               `json:"session_id"`
	Question  string               `json:"question"`
	Chunks    []RetrievalCandidate `json:"chunks"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// ConversationTurn is one past question/answer pair of a session.
type ConversationTurn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// FeedbackEntry is one free-text feedback item keyed by session and the
// question it refers to.
type FeedbackEntry struct {
	SessionID string    `json:"session_id"`
	Question  string    `json:"question"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// RetrievalLogEntry is one line of the bounded retrieval log.
type RetrievalLogEntry struct {
	Query         string         `json:"query"`
	TopK          int            `json:"topK"`
	Alpha         float64        `json:"alpha"`
	Filters       *SearchFilter  `json:"filters,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Diagnostics   map[string]any `json:"diagnostics"`
	AnswerPreview string         `json:"answerPreview"`
	SessionID     string         `json:"sessionId,omitempty"`
}

// IndexStatus summarizes the indexed corpus.
type IndexStatus struct {
	TotalDocs   int       `json:"total_docs"`
	TotalChunks int       `json:"total_chunks"`
	UpdatedAt   time.Time `json:"updated_at"`
}
