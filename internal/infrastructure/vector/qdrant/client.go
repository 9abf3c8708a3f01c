package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wenda-project/wenda/internal/core/domain"
	"github.com/wenda-project/wenda/internal/core/ports"
)

type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) IndexChunks(ctx context.Context, doc *domain.Document, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) == 0 || len(vectors) == 0 {
		return nil
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks/vectors mismatch")
	}

	if err := c.ensureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}

	points := make([]point, 0, len(chunks))
	for i, chunk := range chunks {
		payload := map[string]any{
			"chunk_id":    chunk.ID,
			"doc_id":      doc.ID,
			"source":      chunk.Source,
			"chunk_index": chunk.Index,
			"text":        chunk.Text,
		}
		if chunk.Page != nil {
			payload["page"] = *chunk.Page
		}
		points = append(points, point{
			ID:      uuid.NewString(),
			Vector:  vectors[i],
			Payload: payload,
		})
	}

	reqBody := map[string]any{"points": points}
	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	if err := c.do(ctx, http.MethodPut, url, reqBody, nil, "upsert"); err != nil {
		return err
	}
	return nil
}

// SearchVector runs nearest-neighbor search with a prepared vector.
func (c *Client) SearchVector(ctx context.Context, queryVector []float32, limit int) ([]domain.RetrievalCandidate, error) {
	reqBody := map[string]any{
		"vector":       queryVector,
		"limit":        limit,
		"with_payload": true,
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	if err := c.do(ctx, http.MethodPost, url, reqBody, &searchResp, "search"); err != nil {
		return nil, domain.WrapError(domain.ErrUnavailable, "qdrant.search", err)
	}

	out := make([]domain.RetrievalCandidate, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		candidate := domain.RetrievalCandidate{
			ChunkID:     getStringPayload(r.Payload, "chunk_id"),
			Text:        getStringPayload(r.Payload, "text"),
			Source:      getStringPayload(r.Payload, "source"),
			SourceType:  domain.SourceDocument,
			VectorScore: r.Score,
			Metadata: map[string]any{
				"doc_id": getStringPayload(r.Payload, "doc_id"),
			},
		}
		if page, ok := getIntPayload(r.Payload, "page"); ok {
			candidate.Page = &page
			candidate.Metadata["page"] = page
		}
		out = append(out, candidate)
	}
	return out, nil
}

// Clear drops the collection. The next upsert recreates it.
func (c *Client) Clear(ctx context.Context) error {
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	if err := c.do(ctx, http.MethodDelete, url, nil, nil, "delete collection"); err != nil {
		return err
	}
	c.ensureMu.Lock()
	c.ensuredCollection = false
	c.ensureMu.Unlock()
	return nil
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	err := c.do(ctx, http.MethodPut, url, reqBody, nil, "ensure collection")
	// 409 means the collection already exists (depends on version/config).
	var statusErr *statusError
	if errors.As(err, &statusErr) && statusErr.code == http.StatusConflict {
		err = nil
	}
	if err != nil {
		return err
	}

	c.ensureMu.Lock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
	c.ensureMu.Unlock()
	return nil
}

type statusError struct {
	operation string
	code      int
	status    string
	body      string
}

func (e *statusError) Error() string {
	if strings.TrimSpace(e.body) == "" {
		return fmt.Sprintf("qdrant %s status: %s", e.operation, e.status)
	}
	return fmt.Sprintf("qdrant %s status: %s: %s", e.operation, e.status, strings.TrimSpace(e.body))
}

func (c *Client) do(ctx context.Context, method, url string, payload, out any, operation string) error {
	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", operation, err)
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &statusError{operation: operation, code: resp.StatusCode, status: resp.Status, body: string(raw)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", operation, err)
		}
	}
	return nil
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func getIntPayload(payload map[string]any, key string) (int, bool) {
	switch v := payload[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

// Searcher pairs the vector store with a query embedder so retrieval
// can search by text.
type Searcher struct {
	client   *Client
	embedder ports.Embedder
}

func NewSearcher(client *Client, embedder ports.Embedder) *Searcher {
	return &Searcher{client: client, embedder: embedder}
}

func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]domain.RetrievalCandidate, error) {
	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, domain.WrapError(domain.ErrUnavailable, "qdrant.embed_query", err)
	}
	return s.client.SearchVector(ctx, vector, limit)
}
