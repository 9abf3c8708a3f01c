package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/wenda-project/wenda/internal/core/domain"
	"github.com/wenda-project/wenda/internal/infrastructure/resilience"
)

const defaultStreamIdle = 30 * time.Second

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
	exec       *resilience.Executor
	logger     *slog.Logger

	temperature float64
	numCtx      int
	numPredict  int
	streamIdle  time.Duration
}

func New(baseURL, genModel, embedModel string) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		genModel:    genModel,
		embedModel:  embedModel,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		temperature: 0.3,
		numCtx:      8192,
		numPredict:  1024,
		streamIdle:  defaultStreamIdle,
	}
}

// WithExecutor routes calls through a retry/breaker executor.
func (c *Client) WithExecutor(exec *resilience.Executor) *Client {
	c.exec = exec
	return c
}

func (c *Client) WithLogger(logger *slog.Logger) *Client {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// WithStreamIdleTimeout bounds how long a streaming call waits between
// chunks before ending the stream with what arrived so far.
func (c *Client) WithStreamIdleTimeout(d time.Duration) *Client {
	if d > 0 {
		c.streamIdle = d
	}
	return c
}

func (c *Client) WithGenerationOptions(temperature float64, contextWindow, maxTokens int) *Client {
	if temperature > 0 {
		c.temperature = temperature
	}
	if contextWindow > 0 {
		c.numCtx = contextWindow
	}
	if maxTokens > 0 {
		c.numPredict = maxTokens
	}
	return c
}

func (c *Client) options() map[string]any {
	return map[string]any{
		"temperature": c.temperature,
		"num_ctx":     c.numCtx,
		"num_predict": c.numPredict,
	}
}

func (c *Client) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	if c.exec == nil {
		return wrapTemporaryIfNeeded(operation, fn(ctx))
	}
	err := c.exec.Execute(ctx, operation, fn, classifyOllamaError)
	return wrapTemporaryIfNeeded(operation, err)
}

// Chat runs one non-streaming chat turn.
func (c *Client) Chat(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	payload := map[string]any{
		"model":    c.genModel,
		"messages": chatPayload(messages),
		"stream":   false,
		"options":  c.options(),
	}

	var response struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	err := c.execute(ctx, "ollama.chat", func(ctx context.Context) error {
		return c.postJSON(ctx, "/api/chat", payload, &response, "chat")
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Message.Content), nil
}

// ChatStream streams chat chunks to onChunk as they arrive.
func (c *Client) ChatStream(ctx context.Context, messages []domain.ChatMessage, onChunk func(string) error) error {
	payload := map[string]any{
		"model":    c.genModel,
		"messages": chatPayload(messages),
		"stream":   true,
		"options":  c.options(),
	}

	return c.execute(ctx, "ollama.chat_stream", func(ctx context.Context) error {
		return c.postNDJSON(ctx, "/api/chat", payload, "chat stream", func(line json.RawMessage) error {
			var event struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
				Done bool `json:"done"`
			}
			if err := json.Unmarshal(line, &event); err != nil {
				return fmt.Errorf("decode chat stream line: %w", err)
			}
			if event.Message.Content != "" {
				if err := onChunk(event.Message.Content); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// GenerateJSON asks the model for a JSON object and strips any prose
// around it.
func (c *Client) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"model":   c.genModel,
		"prompt":  prompt,
		"stream":  false,
		"format":  "json",
		"options": c.options(),
	}

	var response struct {
		Response string `json:"response"`
	}
	err := c.execute(ctx, "ollama.generate_json", func(ctx context.Context) error {
		return c.postJSON(ctx, "/api/generate", payload, &response, "generate")
	})
	if err != nil {
		return "", err
	}
	return extractJSONObject(strings.TrimSpace(response.Response)), nil
}

func chatPayload(messages []domain.ChatMessage) []map[string]string {
	out := make([]map[string]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, map[string]string{"role": m.Role, "content": m.Content})
	}
	return out
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": texts,
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	err := e.client.execute(ctx, "ollama.embed", func(ctx context.Context) error {
		return e.client.postJSON(ctx, "/api/embed", request, &response, "embed")
	})
	if err != nil {
		return nil, err
	}
	return response.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
