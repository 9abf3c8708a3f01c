package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/wenda-project/wenda/internal/core/domain"
)

func intPtr(v int) *int { return &v }

func TestIndexChunksEnsuresCollectionOncePerVectorSize(t *testing.T) {
	var ensureCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/collections/docs":
			atomic.AddInt32(&ensureCalls, 1)
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/docs/points":
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := New(server.URL, "docs")
	doc := &domain.Document{ID: "doc-1", Filename: "a.txt"}
	chunks := []domain.Chunk{
		{ID: "c1", Text: "第一段", Index: 0, Source: "a.txt"},
		{ID: "c2", Text: "第二段", Index: 1, Source: "a.txt", Page: intPtr(2)},
	}
	vectors := [][]float32{{0.1, 0.2}, {0.3, 0.4}}

	if err := client.IndexChunks(context.Background(), doc, chunks, vectors); err != nil {
		t.Fatalf("first IndexChunks() error = %v", err)
	}
	if err := client.IndexChunks(context.Background(), doc, chunks, vectors); err != nil {
		t.Fatalf("second IndexChunks() error = %v", err)
	}
	if got := atomic.LoadInt32(&ensureCalls); got != 1 {
		t.Fatalf("ensure collection calls = %d, want 1", got)
	}
}

func TestIndexChunksCarriesPagePayload(t *testing.T) {
	var points []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/collections/docs":
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/docs/points":
			var payload struct {
				Points []map[string]any `json:"points"`
			}
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Fatalf("decode upsert: %v", err)
			}
			points = payload.Points
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := New(server.URL, "docs")
	doc := &domain.Document{ID: "doc-1", Filename: "a.pdf"}
	chunks := []domain.Chunk{{ID: "c1", Text: "内容", Index: 0, Source: "a.pdf", Page: intPtr(7)}}

	if err := client.IndexChunks(context.Background(), doc, chunks, [][]float32{{0.1}}); err != nil {
		t.Fatalf("IndexChunks() error = %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(points))
	}
	payload := points[0]["payload"].(map[string]any)
	if payload["chunk_id"] != "c1" || payload["page"] != float64(7) {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestSearchVectorMapsCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/docs/points/search" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"result":[
			{"score":0.91,"payload":{"chunk_id":"c1","source":"report.pdf","page":3,"text":"正文","doc_id":"d1"}},
			{"score":0.72,"payload":{"chunk_id":"c2","source":"report.pdf","text":"无页码","doc_id":"d1"}}
		]}`))
	}))
	defer server.Close()

	client := New(server.URL, "docs")
	candidates, err := client.SearchVector(context.Background(), []float32{0.1, 0.2}, 5)
	if err != nil {
		t.Fatalf("SearchVector() error = %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	first := candidates[0]
	if first.ChunkID != "c1" || first.VectorScore != 0.91 || first.SourceType != domain.SourceDocument {
		t.Fatalf("unexpected candidate: %+v", first)
	}
	if first.Page == nil || *first.Page != 3 {
		t.Fatalf("page not mapped: %+v", first.Page)
	}
	if candidates[1].Page != nil {
		t.Fatalf("missing page should stay nil")
	}
}

func TestSearchVectorWrapsFailureAsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "shard down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(server.URL, "docs")
	_, err := client.SearchVector(context.Background(), []float32{0.1}, 5)
	if !domain.IsKind(err, domain.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestClearDropsCollectionAndResetsEnsure(t *testing.T) {
	var deleted int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodDelete && r.URL.Path == "/collections/docs":
			atomic.AddInt32(&deleted, 1)
			_, _ = w.Write([]byte(`{"result":true}`))
		case r.Method == http.MethodPut && r.URL.Path == "/collections/docs":
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/docs/points":
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := New(server.URL, "docs")
	doc := &domain.Document{ID: "d1"}
	chunks := []domain.Chunk{{ID: "c1", Text: "t", Source: "s"}}
	_ = client.IndexChunks(context.Background(), doc, chunks, [][]float32{{0.1}})

	if err := client.Clear(context.Background()); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if atomic.LoadInt32(&deleted) != 1 {
		t.Fatalf("collection not deleted")
	}
	if client.ensuredCollection {
		t.Fatalf("ensure flag should reset after clear")
	}
}
