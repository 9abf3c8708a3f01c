package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wenda-project/wenda/internal/core/domain"
)

func TestChatSendsMessagesAndOptions(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":" 回答内容 "}}`))
	}))
	defer server.Close()

	client := New(server.URL, "gen", "embed").WithGenerationOptions(0.5, 4096, 512)
	got, err := client.Chat(context.Background(), []domain.ChatMessage{
		{Role: "system", Content: "你是助手"},
		{Role: "user", Content: "问题"},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if got != "回答内容" {
		t.Fatalf("Chat() = %q", got)
	}

	messages := captured["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	options := captured["options"].(map[string]any)
	if options["temperature"] != 0.5 {
		t.Fatalf("temperature = %v", options["temperature"])
	}
	if captured["stream"] != false {
		t.Fatalf("chat must not stream")
	}
}

func TestChatStreamDeliversChunks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":{"content":"第一"},"done":false}
{"message":{"content":"第二"},"done":false}
{"message":{"content":""},"done":true}
`))
	}))
	defer server.Close()

	client := New(server.URL, "gen", "embed")
	var chunks []string
	err := client.ChatStream(context.Background(), []domain.ChatMessage{{Role: "user", Content: "q"}}, func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	if len(chunks) != 2 || chunks[0] != "第一" || chunks[1] != "第二" {
		t.Fatalf("unexpected chunks: %v", chunks)
	}
}

func TestChatStreamStalledBackendEndsStream(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte(`{"message":{"content":"开头"},"done":false}` + "\n"))
		flusher.Flush()
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := New(server.URL, "gen", "embed").WithStreamIdleTimeout(50 * time.Millisecond)
	var chunks []string
	err := client.ChatStream(context.Background(), []domain.ChatMessage{{Role: "user", Content: "q"}}, func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("a stalled backend should end the stream cleanly, got %v", err)
	}
	if len(chunks) != 1 || chunks[0] != "开头" {
		t.Fatalf("chunks delivered before the stall must stand: %v", chunks)
	}
}

func TestGenerateJSONStripsProse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"response":"以下是结果：{\"mode\":\"hybrid\"} 希望有帮助"}`))
	}))
	defer server.Close()

	client := New(server.URL, "gen", "embed")
	got, err := client.GenerateJSON(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("GenerateJSON() error = %v", err)
	}
	if got != `{"mode":"hybrid"}` {
		t.Fatalf("GenerateJSON() = %q", got)
	}
}

func TestChatWrapsRetryableStatusAsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(server.URL, "gen", "embed")
	_, err := client.Chat(context.Background(), []domain.ChatMessage{{Role: "user", Content: "q"}})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary classification, got %v", err)
	}
}

func TestEmbedIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	client := New(server.URL, "gen", "embed")
	embedder := NewEmbedder(client)
	_, err := embedder.Embed(context.Background(), []string{"hello"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
}
