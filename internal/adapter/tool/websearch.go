package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"stackpilot/internal/domain"
	"stackpilot/internal/infra/tracer"
)

const (
	defaultSearchCount = 5
	maxSearchCount     = 10
	searchCacheTTL     = 15 * time.Minute
	maxSearchBodySize  = 512 * 1024
)

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// SearchBackend abstracts the search engine behind WebSearchTool.
type SearchBackend interface {
	Search(ctx context.Context, query string, count int) ([]SearchResult, error)
}

// WebSearchTool searches the web through a pluggable backend, with a
// small TTL cache so repeated lookups in one conversation don't hammer
// the search instance.
type WebSearchTool struct {
	backend    SearchBackend
	maxResults int
	logger     *slog.Logger

	mu    sync.Mutex
	cache map[string]searchCacheEntry
}

type searchCacheEntry struct {
	result    string
	expiresAt time.Time
}

// NewWebSearchTool creates a web search tool backed by backend.
func NewWebSearchTool(backend SearchBackend, maxResults int, logger *slog.Logger) *WebSearchTool {
	if maxResults <= 0 {
		maxResults = defaultSearchCount
	}
	if maxResults > maxSearchCount {
		maxResults = maxSearchCount
	}
	return &WebSearchTool{
		backend:    backend,
		maxResults: maxResults,
		logger:     logger,
		cache:      make(map[string]searchCacheEntry),
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }
func (t *WebSearchTool) Description() string {
	return "Search the web for current information about technologies and services"
}

func (t *WebSearchTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "The search query"},
				"count": {"type": "integer", "minimum": 1, "maximum": 10, "description": "Number of results (default: 5)"}
			},
			"required": ["query"]
		}`),
	}
}

type webSearchParams struct {
	Query string `json:"query"`
	Count int    `json:"count,omitempty"`
}

func (t *WebSearchTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.web_search", t.logger, params,
		func(ctx context.Context, span trace.Span, p webSearchParams) (any, error) {
			if strings.TrimSpace(p.Query) == "" {
				return nil, fmt.Errorf("query must not be empty")
			}
			span.SetAttributes(tracer.StringAttr("tool.query", p.Query))

			count := p.Count
			if count <= 0 || count > t.maxResults {
				count = t.maxResults
			}

			cacheKey := fmt.Sprintf("%s|%d", p.Query, count)
			if cached, ok := t.getCached(cacheKey); ok {
				span.SetAttributes(tracer.StringAttr("tool.cache", "hit"))
				return cached, nil
			}

			results, err := t.backend.Search(ctx, p.Query, count)
			if err != nil {
				return nil, err
			}
			if len(results) > count {
				results = results[:count]
			}

			content := formatSearchResults(p.Query, results)
			t.putCache(cacheKey, content)

			t.logger.Debug("web search completed", "query", p.Query, "results", len(results))
			return content, nil
		},
	)
}

func formatSearchResults(query string, results []SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No search results found for %q.", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for %q:\n\n", query)
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   URL: %s\n   %s\n\n", i+1, r.Title, r.URL, r.Content)
	}
	return sb.String()
}

func (t *WebSearchTool) getCached(key string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.cache[key]
	if !ok {
		return "", false
	}
	if time.Now().After(entry.expiresAt) {
		delete(t.cache, key)
		return "", false
	}
	return entry.result, true
}

func (t *WebSearchTool) putCache(key, result string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cache[key] = searchCacheEntry{
		result:    result,
		expiresAt: time.Now().Add(searchCacheTTL),
	}

	if len(t.cache) > 100 {
		now := time.Now()
		for k, v := range t.cache {
			if now.After(v.expiresAt) {
				delete(t.cache, k)
			}
		}
	}
}

// --- SearXNG backend ---

type searxngResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// SearXNGBackend searches the web via a SearXNG instance.
type SearXNGBackend struct {
	client      *http.Client
	instanceURL string
	logger      *slog.Logger
}

// NewSearXNGBackend creates a search backend backed by a SearXNG instance.
func NewSearXNGBackend(instanceURL string, timeout time.Duration, logger *slog.Logger) *SearXNGBackend {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SearXNGBackend{
		client:      &http.Client{Timeout: timeout},
		instanceURL: strings.TrimRight(instanceURL, "/"),
		logger:      logger,
	}
}

func (b *SearXNGBackend) Search(ctx context.Context, query string, count int) ([]SearchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.instanceURL+"/search", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	q := req.URL.Query()
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("pageno", "1")
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search failed (HTTP %d): %s", resp.StatusCode, string(body))
	}

	var searxResp searxngResponse
	if err := json.Unmarshal(body, &searxResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	results := make([]SearchResult, 0, len(searxResp.Results))
	for _, r := range searxResp.Results {
		if len(results) >= count {
			break
		}
		results = append(results, SearchResult{
			Title:   r.Title,
			URL:     r.URL,
			Content: r.Content,
		})
	}

	b.logger.Debug("searxng search completed", "query", query, "results", len(results))
	return results, nil
}
