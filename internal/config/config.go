package config

import (
	"os"
	"strconv"
)

type Config struct {
	APIPort  string
	LogLevel string

	PostgresDSN     string
	SessionsBackend string

	NATSURL            string
	NATSIngestSubject  string
	NATSRefreshSubject string

	OllamaURL        string
	OllamaGenModel   string
	OllamaEmbedModel string

	QdrantURL        string
	QdrantCollection string

	StoragePath      string
	LexicalIndexPath string
	RetrievalLogPath string
	TemplatesPath    string

	ChunkSize    int
	ChunkOverlap int

	Retriever Retriever
	Answer    Answer
	Chat      Chat
	Intent    Intent
	WebSearch WebSearch
	RateLimit RateLimit

	MaxRetrievalLogs int

	WorkerMetricsPort string
}

// Retriever holds hybrid retrieval tuning.
type Retriever struct {
	DefaultTopK         int
	MaxTopK             int
	Alpha               float64
	ConfidenceThreshold float64
	MaxPerSource        int
	MaxGibberishRatio   float64
	MinPrintableRatio   float64
	RerankTopN          int
}

// Answer holds orchestrator tuning.
type Answer struct {
	DocAnswerThreshold float64
	MaxSnippets        int
	MinUniqueSources   int
	MaxTopics          int
	OffTopicScore      float64
	OffTopicOverlap    float64
	MultiTopicFanout   int
	SnippetMaxChars    int
	PassageMaxChars    int
	PassageMinChars    int
	StreamIdleTimeout  int // seconds
}

// Chat holds generation wrapper tuning.
type Chat struct {
	MaxAttempts       int
	TimeoutSeconds    int
	BackoffBaseMillis int
	BackoffCapMillis  int
	Temperature       float64
	ContextWindow     int
	MaxTokens         int
}

// Intent holds classifier tuning.
type Intent struct {
	ShortCircuitConfidence float64
	MinQueryLen            int
	LLMTimeoutSeconds      int
}

// WebSearch holds provider configuration. A provider with an empty key
// is skipped.
type WebSearch struct {
	ProviderOrder   string
	TavilyKey       string
	WebSearchAPIKey string
	ExaKey          string
	FirecrawlKey    string
	TimeoutSeconds  int
	RatePerSecond   float64
	RateBurst       int
}

// RateLimit holds the per-identity sliding window limits.
type RateLimit struct {
	Enabled       bool
	MaxRequests   int
	WindowSeconds int
}

func Load() Config {
	return Config{
		APIPort:  mustEnv("API_PORT", "8080"),
		LogLevel: mustEnv("LOG_LEVEL", "info"),

		PostgresDSN:     mustEnv("POSTGRES_DSN", ""),
		SessionsBackend: mustEnv("SESSIONS_BACKEND", "memory"),

		NATSURL:            mustEnv("NATS_URL", "nats://localhost:4222"),
		NATSIngestSubject:  mustEnv("NATS_INGEST_SUBJECT", "documents.ingest"),
		NATSRefreshSubject: mustEnv("NATS_REFRESH_SUBJECT", "index.refresh"),

		OllamaURL:        mustEnv("OLLAMA_URL", "http://localhost:11434"),
		OllamaGenModel:   mustEnv("OLLAMA_GEN_MODEL", "qwen2.5:7b"),
		OllamaEmbedModel: mustEnv("OLLAMA_EMBED_MODEL", "nomic-embed-text"),

		QdrantURL:        mustEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantCollection: mustEnv("QDRANT_COLLECTION", "documents"),

		StoragePath:      mustEnv("STORAGE_PATH", "./data/storage"),
		LexicalIndexPath: mustEnv("LEXICAL_INDEX_PATH", "./data/bm25/index.jsonl"),
		RetrievalLogPath: mustEnv("RETRIEVAL_LOG_PATH", "./data/retrieval_log.jsonl"),
		TemplatesPath:    mustEnv("TEMPLATES_PATH", ""),

		ChunkSize:    mustEnvInt("CHUNK_SIZE", 1000),
		ChunkOverlap: mustEnvInt("CHUNK_OVERLAP", 100),

		Retriever: Retriever{
			DefaultTopK:         mustEnvInt("RETRIEVER_DEFAULT_TOP_K", 6),
			MaxTopK:             mustEnvInt("RETRIEVER_MAX_TOP_K", 10),
			Alpha:               mustEnvFloat("RETRIEVER_ALPHA", 0.6),
			ConfidenceThreshold: mustEnvFloat("RETRIEVER_CONFIDENCE_THRESHOLD", 0.6),
			MaxPerSource:        mustEnvInt("RETRIEVER_MAX_PER_SOURCE", 0),
			MaxGibberishRatio:   mustEnvFloat("RETRIEVER_MAX_GIBBERISH_RATIO", 0.3),
			MinPrintableRatio:   mustEnvFloat("RETRIEVER_MIN_PRINTABLE_RATIO", 0.6),
			RerankTopN:          mustEnvInt("RETRIEVER_RERANK_TOP_N", 10),
		},
		Answer: Answer{
			DocAnswerThreshold: mustEnvFloat("ANSWER_DOC_THRESHOLD", 0.6),
			MaxSnippets:        mustEnvInt("ANSWER_MAX_SNIPPETS", 3),
			MinUniqueSources:   mustEnvInt("ANSWER_MIN_UNIQUE_SOURCES", 2),
			MaxTopics:          mustEnvInt("ANSWER_MAX_TOPICS", 3),
			OffTopicScore:      mustEnvFloat("ANSWER_OFF_TOPIC_SCORE", 0.60),
			OffTopicOverlap:    mustEnvFloat("ANSWER_OFF_TOPIC_OVERLAP", 0.40),
			MultiTopicFanout:   mustEnvInt("ANSWER_MULTI_TOPIC_FANOUT", 3),
			SnippetMaxChars:    mustEnvInt("ANSWER_SNIPPET_MAX_CHARS", 240),
			PassageMaxChars:    mustEnvInt("ANSWER_PASSAGE_MAX_CHARS", 320),
			PassageMinChars:    mustEnvInt("ANSWER_PASSAGE_MIN_CHARS", 60),
			StreamIdleTimeout:  mustEnvInt("ANSWER_STREAM_IDLE_TIMEOUT", 30),
		},
		Chat: Chat{
			MaxAttempts:       mustEnvInt("CHAT_MAX_ATTEMPTS", 3),
			TimeoutSeconds:    mustEnvInt("CHAT_TIMEOUT_SECONDS", 60),
			BackoffBaseMillis: mustEnvInt("CHAT_BACKOFF_BASE_MS", 500),
			BackoffCapMillis:  mustEnvInt("CHAT_BACKOFF_CAP_MS", 4000),
			Temperature:       mustEnvFloat("CHAT_TEMPERATURE", 0.3),
			ContextWindow:     mustEnvInt("CHAT_CONTEXT_WINDOW", 8192),
			MaxTokens:         mustEnvInt("CHAT_MAX_TOKENS", 1024),
		},
		Intent: Intent{
			ShortCircuitConfidence: mustEnvFloat("INTENT_SHORT_CIRCUIT_CONFIDENCE", 0.82),
			MinQueryLen:            mustEnvInt("INTENT_MIN_QUERY_LEN", 8),
			LLMTimeoutSeconds:      mustEnvInt("INTENT_LLM_TIMEOUT_SECONDS", 6),
		},
		WebSearch: WebSearch{
			ProviderOrder:   mustEnv("WEB_SEARCH_PROVIDER_ORDER", "tavily,websearchapi,exa,firecrawl"),
			TavilyKey:       mustEnv("TAVILY_API_KEY", ""),
			WebSearchAPIKey: mustEnv("WEBSEARCHAPI_KEY", ""),
			ExaKey:          mustEnv("EXA_API_KEY", ""),
			FirecrawlKey:    mustEnv("FIRECRAWL_API_KEY", ""),
			TimeoutSeconds:  mustEnvInt("WEB_SEARCH_TIMEOUT_SECONDS", 10),
			RatePerSecond:   mustEnvFloat("WEB_SEARCH_RATE_PER_SECOND", 2.0),
			RateBurst:       mustEnvInt("WEB_SEARCH_RATE_BURST", 4),
		},
		RateLimit: RateLimit{
			Enabled:       mustEnvBool("RATE_LIMIT_ENABLED", true),
			MaxRequests:   mustEnvInt("RATE_LIMIT_MAX_REQUESTS", 30),
			WindowSeconds: mustEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60),
		},

		MaxRetrievalLogs: mustEnvInt("MAX_RETRIEVAL_LOGS", 500),

		WorkerMetricsPort: mustEnv("WORKER_METRICS_PORT", "9090"),
	}
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}
