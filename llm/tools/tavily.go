package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/inkflow/config"
	"github.com/BaSui01/inkflow/internal/tlsutil"
	"github.com/BaSui01/inkflow/llm"
	"github.com/BaSui01/inkflow/types"
)

// TavilyProvider 调用 Tavily 搜索 API，客户端侧按令牌桶限流
type TavilyProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewTavilyProvider creates a provider from the search config.
func NewTavilyProvider(cfg config.SearchConfig, logger *zap.Logger) (*TavilyProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("search.api_key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimitRPS > 0 {
		limit = rate.Limit(cfg.RateLimitRPS)
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}

	return &TavilyProvider{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  tlsutil.SecureHTTPClient(timeout),
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With(zap.String("component", "tavily")),
	}, nil
}

type tavilyRequest struct {
	Query          string   `json:"query"`
	MaxResults     int      `json:"max_results,omitempty"`
	TimeRange      string   `json:"time_range,omitempty"`
	IncludeDomains []string `json:"include_domains,omitempty"`
	ExcludeDomains []string `json:"exclude_domains,omitempty"`
}

type tavilyResponse struct {
	Results []struct {
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		Content       string  `json:"content"`
		Score         float64 `json:"score"`
		PublishedDate string  `json:"published_date"`
	} `json:"results"`
}

func (p *TavilyProvider) Search(ctx context.Context, query string, opts WebSearchOptions) ([]WebSearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, types.NewValidationError("search query is required")
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, types.NewError(types.ErrRateLimited, "search rate limiter").
			WithCause(err).
			WithRetryable(!errors.Is(err, context.Canceled))
	}

	body, err := json.Marshal(tavilyRequest{
		Query:          query,
		MaxResults:     opts.MaxResults,
		TimeRange:      opts.TimeRange,
		IncludeDomains: opts.Domains,
		ExcludeDomains: opts.ExcludeDomains,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal tavily request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build tavily request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, types.NewTransientError("tavily request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, types.NewTransientError("read tavily response", err)
	}
	if resp.StatusCode >= 400 {
		return nil, llm.MapHTTPError(resp.StatusCode, strings.TrimSpace(string(raw)), "tavily")
	}

	var decoded tavilyResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, types.NewTransientError("decode tavily response", err)
	}

	results := make([]WebSearchResult, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		results = append(results, WebSearchResult{
			Title:       r.Title,
			URL:         r.URL,
			Snippet:     r.Content,
			PublishedAt: r.PublishedDate,
			Score:       r.Score,
		})
	}

	p.logger.Debug("search completed",
		zap.String("query", query),
		zap.Int("results", len(results)),
		zap.Duration("latency", time.Since(start)))
	return results, nil
}

func (p *TavilyProvider) Name() string { return "tavily" }
