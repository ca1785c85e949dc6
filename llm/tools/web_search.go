package tools

import (
	"context"
	"time"
)

// WebSearchProvider defines the interface for web search backends.
type WebSearchProvider interface {
	// Search returns results ordered by relevance.
	Search(ctx context.Context, query string, opts WebSearchOptions) ([]WebSearchResult, error)
	Name() string
}

// WebSearchOptions configures a web search request.
type WebSearchOptions struct {
	MaxResults     int      `json:"max_results"`
	TimeRange      string   `json:"time_range,omitempty"` // day, week, month, year
	Domains        []string `json:"domains,omitempty"`
	ExcludeDomains []string `json:"exclude_domains,omitempty"`
}

// DefaultWebSearchOptions returns sensible defaults.
func DefaultWebSearchOptions() WebSearchOptions {
	return WebSearchOptions{MaxResults: 5}
}

// WebSearchResult represents a single search result.
type WebSearchResult struct {
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	Snippet     string  `json:"snippet"`
	PublishedAt string  `json:"published_at,omitempty"`
	Score       float64 `json:"score,omitempty"`
}

// StaticSearchProvider returns canned results; used in local runs without a search key.
type StaticSearchProvider struct {
	Results []WebSearchResult
	Delay   time.Duration
}

func (s *StaticSearchProvider) Search(ctx context.Context, query string, opts WebSearchOptions) ([]WebSearchResult, error) {
	if s.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.Delay):
		}
	}
	n := len(s.Results)
	if opts.MaxResults > 0 && opts.MaxResults < n {
		n = opts.MaxResults
	}
	out := make([]WebSearchResult, n)
	copy(out, s.Results[:n])
	return out, nil
}

func (s *StaticSearchProvider) Name() string { return "static" }
