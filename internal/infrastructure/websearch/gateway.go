package websearch

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/wenda-project/wenda/internal/config"
	"github.com/wenda-project/wenda/internal/core/domain"
	"github.com/wenda-project/wenda/internal/infrastructure/resilience"
)

var quotaKeywords = []string{"quota", "limit", "usage", "429", "rate limit"}

// Gateway fans a query over configured providers in order and returns
// the first non-empty result set. Providers whose key is missing are
// skipped at construction time. When every reachable provider reports
// an exhausted quota the gateway surfaces ErrQuotaExceeded so callers
// can distinguish quota from transient failure.
type Gateway struct {
	providers []provider
	limiter   *rate.Limiter
	exec      *resilience.Executor
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewGateway(cfg config.WebSearch, exec *resilience.Executor, logger *slog.Logger) *Gateway {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return &Gateway{
		providers: buildProviders(cfg, client),
		limiter:   limiter,
		exec:      exec,
		timeout:   timeout,
		logger:    logger,
		now:       time.Now,
	}
}

func buildProviders(cfg config.WebSearch, client *http.Client) []provider {
	order := strings.Split(cfg.ProviderOrder, ",")
	if strings.TrimSpace(cfg.ProviderOrder) == "" {
		order = []string{"tavily", "websearchapi", "exa", "firecrawl"}
	}

	seen := make(map[string]struct{}, len(order))
	out := make([]provider, 0, len(order))
	for _, name := range order {
		name = strings.ToLower(strings.TrimSpace(name))
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		switch name {
		case "tavily":
			if cfg.TavilyKey != "" {
				out = append(out, &tavilyProvider{key: cfg.TavilyKey, baseURL: "https://api.tavily.com", client: client})
			}
		case "websearchapi":
			if cfg.WebSearchAPIKey != "" {
				out = append(out, &webSearchAPIProvider{key: cfg.WebSearchAPIKey, baseURL: "https://api.websearchapi.ai", client: client})
			}
		case "exa":
			if cfg.ExaKey != "" {
				out = append(out, &exaProvider{key: cfg.ExaKey, baseURL: "https://api.exa.ai", client: client})
			}
		case "firecrawl":
			if cfg.FirecrawlKey != "" {
				out = append(out, &firecrawlProvider{key: cfg.FirecrawlKey, baseURL: "https://api.firecrawl.dev", client: client})
			}
		}
	}
	return out
}

// Available reports whether at least one provider is configured.
func (g *Gateway) Available() bool {
	return len(g.providers) > 0
}

func (g *Gateway) Search(ctx context.Context, query string, maxResults int) ([]domain.WebHit, error) {
	query = strings.TrimSpace(query)
	if query == "" || len(g.providers) == 0 {
		return nil, nil
	}
	limit := maxResults
	if limit <= 0 {
		limit = 5
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, domain.WrapError(domain.ErrTimeout, "websearch.search", err)
		}
	}

	quotaHit := false
	var lastErr error
	for _, p := range g.providers {
		hits, err := g.searchProvider(ctx, p, query, limit)
		switch {
		case err == nil && len(hits) > 0:
			g.logger.Info("web_search_provider_success", "provider", p.name(), "hits", len(hits))
			return g.normalize(hits, limit, p.name()), nil
		case err == nil:
			continue
		case isQuotaError(err):
			quotaHit = true
			g.logger.Warn("web_search_provider_quota", "provider", p.name())
		default:
			lastErr = err
			g.logger.Warn("web_search_provider_failed", "provider", p.name(), "error", err)
		}
	}

	if quotaHit {
		return nil, domain.WrapError(domain.ErrQuotaExceeded, "websearch.search", errors.New("all configured providers exhausted quota"))
	}
	if lastErr != nil {
		return nil, domain.WrapError(domain.ErrUnavailable, "websearch.search", lastErr)
	}
	return nil, nil
}

func (g *Gateway) searchProvider(ctx context.Context, p provider, query string, limit int) ([]rawHit, error) {
	var hits []rawHit
	run := func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		var err error
		hits, err = p.search(callCtx, query, limit)
		return err
	}
	if g.exec == nil {
		return hits, run(ctx)
	}
	err := g.exec.Execute(ctx, "websearch."+p.name(), run, classifyProviderError)
	return hits, err
}

func classifyProviderError(err error) resilience.ErrorClassification {
	if isQuotaError(err) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

func isQuotaError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range quotaKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

func (g *Gateway) normalize(hits []rawHit, limit int, providerName string) []domain.WebHit {
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]domain.WebHit, 0, len(hits))
	for i, h := range hits {
		snippet := strings.TrimSpace(stripHTML(h.content))
		title := strings.TrimSpace(h.title)
		if title == "" {
			title = h.url
		}
		if title == "" {
			title = "WebResult"
		}
		if snippet == "" {
			snippet = title
		}

		score := h.pinned
		if score == 0 {
			score = 0.75 - float64(i)*0.06
			score += g.freshnessBonus(h.published)
			if len([]rune(snippet)) >= 180 {
				score += 0.1
			}
			if score > 0.99 {
				score = 0.99
			}
			if score < 0.05 {
				score = 0.05
			}
		}

		out = append(out, domain.WebHit{
			Title:       title,
			URL:         h.url,
			Snippet:     snippet,
			Score:       score,
			PublishedAt: h.published,
			Tier:        webTier(score),
			Provider:    providerName,
		})
	}
	return out
}

func webTier(score float64) domain.CitationTier {
	switch {
	case score >= 0.75:
		return domain.TierHigh
	case score >= 0.55:
		return domain.TierMedium
	default:
		return domain.TierLow
	}
}

func (g *Gateway) freshnessBonus(published string) float64 {
	if len(published) < 4 {
		return 0
	}
	year := 0
	for _, r := range published[:4] {
		if r < '0' || r > '9' {
			return 0
		}
		year = year*10 + int(r-'0')
	}
	switch g.now().Year() - year {
	case 0:
		return 0.15
	case 1:
		return 0.08
	case 2:
		return 0.04
	default:
		return 0
	}
}
