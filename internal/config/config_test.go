package config

import "testing"

func TestLoadIncludesRetrievalDefaults(t *testing.T) {
	t.Setenv("RETRIEVER_DEFAULT_TOP_K", "")
	t.Setenv("RETRIEVER_MAX_TOP_K", "")
	t.Setenv("RETRIEVER_ALPHA", "")
	t.Setenv("RETRIEVER_CONFIDENCE_THRESHOLD", "")

	cfg := Load()
	if cfg.Retriever.DefaultTopK != 6 {
		t.Fatalf("expected default top k 6, got %d", cfg.Retriever.DefaultTopK)
	}
	if cfg.Retriever.MaxTopK != 10 {
		t.Fatalf("expected max top k 10, got %d", cfg.Retriever.MaxTopK)
	}
	if cfg.Retriever.Alpha != 0.6 {
		t.Fatalf("expected default alpha 0.6, got %v", cfg.Retriever.Alpha)
	}
	if cfg.Retriever.ConfidenceThreshold != 0.6 {
		t.Fatalf("expected confidence threshold 0.6, got %v", cfg.Retriever.ConfidenceThreshold)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("RETRIEVER_MAX_TOP_K", "16")
	t.Setenv("CHAT_MAX_ATTEMPTS", "5")
	t.Setenv("RATE_LIMIT_MAX_REQUESTS", "12")
	t.Setenv("WEB_SEARCH_PROVIDER_ORDER", "exa,tavily")

	cfg := Load()
	if cfg.Retriever.MaxTopK != 16 {
		t.Fatalf("expected max top k 16, got %d", cfg.Retriever.MaxTopK)
	}
	if cfg.Chat.MaxAttempts != 5 {
		t.Fatalf("expected chat max attempts 5, got %d", cfg.Chat.MaxAttempts)
	}
	if cfg.RateLimit.MaxRequests != 12 {
		t.Fatalf("expected rate limit 12, got %d", cfg.RateLimit.MaxRequests)
	}
	if cfg.WebSearch.ProviderOrder != "exa,tavily" {
		t.Fatalf("expected provider order override, got %q", cfg.WebSearch.ProviderOrder)
	}
}

func TestDefaultTemplatesCoverSections(t *testing.T) {
	tpl := DefaultTemplates()
	if tpl.SectionSummary == "" || tpl.SectionKeyFindings == "" || tpl.SectionRisks == "" {
		t.Fatalf("expected non-empty section headings")
	}
	if len(tpl.DocHintKeywords) == 0 || len(tpl.MethodKeywords) == 0 {
		t.Fatalf("expected keyword defaults")
	}
}

func TestLoadTemplatesEmptyPathReturnsDefaults(t *testing.T) {
	tpl, err := LoadTemplates("")
	if err != nil {
		t.Fatalf("LoadTemplates() error = %v", err)
	}
	if tpl.NoSourceFound != DefaultTemplates().NoSourceFound {
		t.Fatalf("expected defaults for empty path")
	}
}
