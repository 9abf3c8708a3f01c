package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wenda-project/wenda/internal/core/domain"
	"github.com/wenda-project/wenda/internal/core/ports"
	"github.com/wenda-project/wenda/internal/observability/metrics"
)

const (
	maxFilesPerUpload = 3
	maxUploadBytes    = 50 << 20
)

type Router struct {
	answer       ports.AnswerService
	ingest       ports.DocumentIngestor
	docs         ports.DocumentRepository
	retrievalLog ports.RetrievalLogger
	vectors      ports.VectorIndexer
	lexical      ports.LexicalIndexer
	limiter      RateLimiter
	metrics      *metrics.HTTPServerMetrics
	logger       *slog.Logger
	service      string
}

func NewRouter(
	answer ports.AnswerService,
	ingest ports.DocumentIngestor,
	docs ports.DocumentRepository,
	retrievalLog ports.RetrievalLogger,
	vectors ports.VectorIndexer,
	lexical ports.LexicalIndexer,
	limiter RateLimiter,
	m *metrics.HTTPServerMetrics,
	logger *slog.Logger,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		answer:       answer,
		ingest:       ingest,
		docs:         docs,
		retrievalLog: retrievalLog,
		vectors:      vectors,
		lexical:      lexical,
		limiter:      limiter,
		metrics:      m,
		logger:       logger,
		service:      "api",
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", rt.health)
	mux.HandleFunc("/api/search", rt.search)
	mux.HandleFunc("/api/search/stream", rt.searchStream)
	mux.HandleFunc("/api/upload", rt.upload)
	mux.HandleFunc("/api/status", rt.status)
	mux.HandleFunc("/api/index/status", rt.indexStatus)
	mux.HandleFunc("/api/index/clear", rt.indexClear)
	mux.HandleFunc("/api/retrieval/logs", rt.retrievalLogs)
	mux.HandleFunc("/api/retrieval/stats", rt.retrievalStats)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = rt.rateLimitMiddleware(handler)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(rt.service, handler)
	}
	handler = accessLogMiddleware(handler)
	handler = rt.recoveryMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type searchResponse struct {
	*domain.AnswerResponse
	SessionID string `json:"session_id"`
}

func (rt *Router) search(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		req.SessionID = uuid.NewString()
	}

	start := time.Now()
	resp, err := rt.answer.Answer(r.Context(), req)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordAnswer(rt.service, string(resp.Mode), len(resp.Citations), time.Since(start))
	}
	writeJSON(w, http.StatusOK, searchResponse{AnswerResponse: resp, SessionID: req.SessionID})
}

// searchStream serves the SSE sibling of /api/search. Each generated
// chunk goes out as a token event; the final response object follows
// before the [DONE] terminator.
func (rt *Router) searchStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	req, ok := rt.streamRequest(w, r)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if rt.metrics != nil {
		rt.metrics.RecordStreamRequest(rt.service)
	}

	emit := func(chunk string) error {
		payload, err := json.Marshal(map[string]string{"type": "token", "data": chunk})
		if err != nil {
			return err
		}
		if _, err := w.Write([]byte("data: " + string(payload) + "\n\n")); err != nil {
			return err
		}
		if canFlush {
			flusher.Flush()
		}
		return nil
	}

	resp, err := rt.answer.AnswerStream(r.Context(), req, emit)
	if err != nil {
		payload, _ := json.Marshal(map[string]string{"type": "error", "message": err.Error()})
		_, _ = w.Write([]byte("event: error\ndata: " + string(payload) + "\n\n"))
		if canFlush {
			flusher.Flush()
		}
		return
	}

	if final, err := json.Marshal(searchResponse{AnswerResponse: resp, SessionID: req.SessionID}); err == nil {
		_, _ = w.Write([]byte("event: result\ndata: " + string(final) + "\n\n"))
	}
	_, _ = w.Write([]byte("event: end\ndata: [DONE]\n\n"))
	if canFlush {
		flusher.Flush()
	}
}

func (rt *Router) streamRequest(w http.ResponseWriter, r *http.Request) (domain.AnswerRequest, bool) {
	var req domain.AnswerRequest

	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return req, false
		}
	} else {
		q := r.URL.Query()
		req.Query = q.Get("query")
		if v := q.Get("topK"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				req.TopK = n
			}
		}
		if v := q.Get("alpha"); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				req.Alpha = &f
			}
		}
		req.UseRerank = q.Get("useRerank") == "true"
		req.SessionID = q.Get("sessionId")
		req.DocOnly = q.Get("docOnly") == "true"
		req.AllowWeb = q.Get("allowWeb") == "true"
		req.WebMode = domain.WebMode(q.Get("webMode"))
	}

	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return req, false
	}
	if strings.TrimSpace(req.SessionID) == "" {
		req.SessionID = uuid.NewString()
	}
	return req, true
}

type uploadedFile struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
}

func (rt *Router) upload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart body"})
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		if single := r.MultipartForm.File["file"]; len(single) > 0 {
			files = single
		}
	}
	if len(files) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "at least one file is required"})
		return
	}
	if len(files) > maxFilesPerUpload {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "at most " + strconv.Itoa(maxFilesPerUpload) + " files per request",
		})
		return
	}

	processed := make([]uploadedFile, 0, len(files))
	for _, header := range files {
		f, err := header.Open()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable file " + header.Filename})
			return
		}
		doc, err := rt.ingest.Upload(r.Context(), header.Filename, header.Header.Get("Content-Type"), f)
		f.Close()
		if err != nil {
			if rt.metrics != nil {
				rt.metrics.RecordUpload(rt.service, "error")
			}
			rt.writeError(w, r, err)
			return
		}
		if rt.metrics != nil {
			rt.metrics.RecordUpload(rt.service, "accepted")
		}
		processed = append(processed, uploadedFile{
			ID:       doc.ID,
			Filename: doc.Filename,
			Status:   string(doc.Status),
		})
	}

	writeJSON(w, http.StatusCreated, map[string]any{"processed": processed})
}

func (rt *Router) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	st, err := rt.docs.IndexStatus(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (rt *Router) indexStatus(w http.ResponseWriter, r *http.Request) {
	rt.status(w, r)
}

func (rt *Router) indexClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeMethodNotAllowed(w)
		return
	}

	ctx := r.Context()
	if rt.vectors != nil {
		if err := rt.vectors.Clear(ctx); err != nil {
			rt.writeError(w, r, err)
			return
		}
	}
	if rt.lexical != nil {
		if err := rt.lexical.Clear(ctx); err != nil {
			rt.writeError(w, r, err)
			return
		}
	}
	if rt.retrievalLog != nil {
		if err := rt.retrievalLog.Clear(ctx); err != nil {
			rt.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "all indexes cleared"})
}

func (rt *Router) retrievalLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	entries, err := rt.retrievalLog.Recent(r.Context(), limit)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (rt *Router) retrievalStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	stats, err := rt.retrievalLog.Stats(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= 500 {
		rt.logger.Error("request_failed",
			slog.String("request_id", requestIDFromContext(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
