package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// rawHit is a provider result before scoring. A pinned score bypasses
// positional scoring (used for provider-synthesized answers).
type rawHit struct {
	title     string
	url       string
	content   string
	published string
	pinned    float64
}

type provider interface {
	name() string
	search(ctx context.Context, query string, limit int) ([]rawHit, error)
}

func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			return fmt.Errorf("%s status: %s", operation, resp.Status)
		}
		return fmt.Errorf("%s status: %s: %s", operation, resp.Status, msg)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

type tavilyProvider struct {
	key     string
	baseURL string
	client  *http.Client
}

func (p *tavilyProvider) name() string { return "tavily" }

func (p *tavilyProvider) search(ctx context.Context, query string, limit int) ([]rawHit, error) {
	payload := map[string]any{
		"api_key":        p.key,
		"query":          query,
		"max_results":    limit,
		"search_depth":   "advanced",
		"include_answer": false,
		"include_images": false,
	}
	var resp struct {
		Results []struct {
			Title         string `json:"title"`
			URL           string `json:"url"`
			Content       string `json:"content"`
			PublishedDate string `json:"published_date"`
		} `json:"results"`
	}
	if err := postJSON(ctx, p.client, p.baseURL+"/search", nil, payload, &resp, "tavily search"); err != nil {
		return nil, err
	}
	hits := make([]rawHit, 0, len(resp.Results))
	for _, r := range resp.Results {
		hits = append(hits, rawHit{title: r.Title, url: r.URL, content: r.Content, published: r.PublishedDate})
	}
	return hits, nil
}

type webSearchAPIProvider struct {
	key     string
	baseURL string
	client  *http.Client
}

func (p *webSearchAPIProvider) name() string { return "websearchapi" }

func (p *webSearchAPIProvider) search(ctx context.Context, query string, limit int) ([]rawHit, error) {
	payload := map[string]any{
		"query":          query,
		"maxResults":     limit,
		"includeContent": true,
		"contentLength":  "medium",
		"includeAnswer":  false,
		"safeSearch":     true,
	}
	headers := map[string]string{"Authorization": "Bearer " + p.key}
	var resp struct {
		Answer  string `json:"answer"`
		Organic []struct {
			Title         string `json:"title"`
			URL           string `json:"url"`
			Content       string `json:"content"`
			Description   string `json:"description"`
			Date          string `json:"date"`
			PublishedDate string `json:"publishedDate"`
		} `json:"organic"`
	}
	if err := postJSON(ctx, p.client, p.baseURL+"/ai-search", headers, payload, &resp, "websearchapi search"); err != nil {
		return nil, err
	}

	hits := make([]rawHit, 0, len(resp.Organic)+1)
	if answer := strings.TrimSpace(resp.Answer); answer != "" {
		hits = append(hits, rawHit{title: "WebSearchAPI.ai Answer", content: answer, pinned: 0.95})
	}
	for _, r := range resp.Organic {
		content := r.Content
		if content == "" {
			content = r.Description
		}
		published := r.Date
		if published == "" {
			published = r.PublishedDate
		}
		hits = append(hits, rawHit{title: r.Title, url: r.URL, content: content, published: published})
	}
	return hits, nil
}

type exaProvider struct {
	key     string
	baseURL string
	client  *http.Client
}

func (p *exaProvider) name() string { return "exa" }

func (p *exaProvider) search(ctx context.Context, query string, limit int) ([]rawHit, error) {
	payload := map[string]any{
		"query":         query,
		"numResults":    limit,
		"useAutoprompt": true,
		"type":          "neural",
	}
	headers := map[string]string{"x-api-key": p.key}
	var resp struct {
		Results []struct {
			Title         string `json:"title"`
			URL           string `json:"url"`
			Summary       string `json:"summary"`
			PublishedDate string `json:"publishedDate"`
		} `json:"results"`
	}
	if err := postJSON(ctx, p.client, p.baseURL+"/search", headers, payload, &resp, "exa search"); err != nil {
		return nil, err
	}
	hits := make([]rawHit, 0, len(resp.Results))
	for _, r := range resp.Results {
		hits = append(hits, rawHit{title: r.Title, url: r.URL, content: r.Summary, published: r.PublishedDate})
	}
	return hits, nil
}

type firecrawlProvider struct {
	key     string
	baseURL string
	client  *http.Client
}

func (p *firecrawlProvider) name() string { return "firecrawl" }

func (p *firecrawlProvider) search(ctx context.Context, query string, limit int) ([]rawHit, error) {
	payload := map[string]any{
		"query": query,
		"limit": limit,
	}
	headers := map[string]string{"Authorization": "Bearer " + p.key}
	var resp struct {
		Data []struct {
			Markdown string `json:"markdown"`
			Content  string `json:"content"`
			Metadata struct {
				Title         string `json:"title"`
				URL           string `json:"url"`
				SourceURL     string `json:"sourceURL"`
				Description   string `json:"description"`
				PublishedTime string `json:"published_time"`
			} `json:"metadata"`
		} `json:"data"`
	}
	if err := postJSON(ctx, p.client, p.baseURL+"/v0/search", headers, payload, &resp, "firecrawl search"); err != nil {
		return nil, err
	}
	hits := make([]rawHit, 0, len(resp.Data))
	for _, r := range resp.Data {
		content := r.Markdown
		if content == "" {
			content = r.Content
		}
		if content == "" {
			content = r.Metadata.Description
		}
		url := r.Metadata.URL
		if url == "" {
			url = r.Metadata.SourceURL
		}
		hits = append(hits, rawHit{title: r.Metadata.Title, url: url, content: content, published: r.Metadata.PublishedTime})
	}
	return hits, nil
}
