// Package websearch implements the web-search informational tool. It fetches
// a search results page over plain HTTP and feeds the readable text back to
// the model.
package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/man-su-97/rag-chatbot/internal/agent"
)

// ToolName is the name the model calls the tool by.
const ToolName = "web-search"

const (
	// DefaultEndpoint is queried with q=<query>.
	DefaultEndpoint = "https://www.google.com/search"

	// DefaultTimeout bounds one fetch.
	DefaultTimeout = 10 * time.Second

	// DefaultCacheTTL is how long a query result is reused.
	DefaultCacheTTL = 5 * time.Minute

	// DefaultMaxResultBytes caps the text fed back to the model.
	DefaultMaxResultBytes = 8000

	// maxCacheSize is the maximum number of entries in the cache to prevent unbounded growth.
	maxCacheSize = 1000

	// maxBodyBytes caps how much of the response body is read.
	maxBodyBytes = 2 << 20

	defaultUserAgent = "Mozilla/5.0 (compatible; rag-chatbot/1.0)"
)

// Config holds configuration for the web search tool.
type Config struct {
	// Endpoint is the search URL. The query is sent as the q parameter.
	Endpoint string

	// Timeout bounds one fetch.
	Timeout time.Duration

	// CacheTTL is how long results are cached. Zero uses the default,
	// a negative value disables caching.
	CacheTTL time.Duration

	// MaxResultBytes caps the extracted text.
	MaxResultBytes int

	// UserAgent is sent with every request.
	UserAgent string

	// HTTPClient overrides the client used for fetches.
	HTTPClient *http.Client
}

// Params are the tool arguments.
type Params struct {
	Query string `json:"query" jsonschema:"minLength=1" jsonschema_description:"The search query to find information on the web."`
}

// Payload is the structured tool output surfaced to the client.
type Payload struct {
	Tool    string `json:"tool"`
	Action  string `json:"action"`
	Query   string `json:"query"`
	Results string `json:"results"`
}

// cacheEntry represents a cached search result.
type cacheEntry struct {
	results   string
	expiresAt time.Time
}

// Tool fetches web content for up-to-date information.
type Tool struct {
	config     Config
	httpClient *http.Client
	extractor  *ContentExtractor
	schema     json.RawMessage

	cache   map[string]*cacheEntry
	cacheMu sync.RWMutex
	now     func() time.Time
}

// New creates a web search tool with defaults applied.
func New(config Config) *Tool {
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = DefaultCacheTTL
	}
	if config.MaxResultBytes <= 0 {
		config.MaxResultBytes = DefaultMaxResultBytes
	}
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}

	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	return &Tool{
		config:     config,
		httpClient: client,
		extractor:  NewContentExtractor(),
		schema:     agent.ReflectSchema(&Params{}),
		cache:      make(map[string]*cacheEntry),
		now:        time.Now,
	}
}

// Name returns the tool name.
func (t *Tool) Name() string {
	return ToolName
}

// Description returns the tool description.
func (t *Tool) Description() string {
	return "Fetch web content for up-to-date information using HTTP."
}

// Schema returns the JSON schema for the tool parameters.
func (t *Tool) Schema() json.RawMessage {
	return t.schema
}

// Kind reports that search results are fed back to the model.
func (t *Tool) Kind() agent.ToolKind {
	return agent.ToolKindInformational
}

// Execute runs the search.
func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p Params
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	query := strings.TrimSpace(p.Query)
	if query == "" {
		return nil, errors.New("query is required")
	}

	results, ok := t.getFromCache(query)
	if !ok {
		var err error
		results, err = t.fetch(ctx, query)
		if err != nil {
			return nil, err
		}
		t.putInCache(query, results)
	}

	payload, err := json.Marshal(Payload{
		Tool:    ToolName,
		Action:  "search",
		Query:   query,
		Results: results,
	})
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	content := results
	if content == "" {
		content = "No readable results were found."
	}

	return &agent.ToolResult{
		Confirmation: fmt.Sprintf("Searched the web for %q.", query),
		Content:      content,
		Payload:      payload,
	}, nil
}

func (t *Tool) fetch(ctx context.Context, query string) (string, error) {
	searchURL, err := url.Parse(t.config.Endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid search endpoint: %w", err)
	}
	values := searchURL.Query()
	values.Set("q", query)
	searchURL.RawQuery = values.Encode()

	ctx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", t.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var text string
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		text = t.extractor.cleanText(string(body))
	} else {
		text = t.extractor.ExtractReadable(string(body))
	}
	return truncate(text, t.config.MaxResultBytes), nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func (t *Tool) getFromCache(key string) (string, bool) {
	if t.config.CacheTTL < 0 {
		return "", false
	}
	t.cacheMu.RLock()
	defer t.cacheMu.RUnlock()

	entry, exists := t.cache[key]
	if !exists || t.now().After(entry.expiresAt) {
		return "", false
	}
	return entry.results, true
}

func (t *Tool) putInCache(key, results string) {
	if t.config.CacheTTL < 0 {
		return
	}
	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()

	now := t.now()
	for k, v := range t.cache {
		if now.After(v.expiresAt) {
			delete(t.cache, k)
		}
	}

	// Evict the entry closest to expiry when full.
	for len(t.cache) >= maxCacheSize {
		var oldestKey string
		var oldestTime time.Time
		for k, v := range t.cache {
			if oldestKey == "" || v.expiresAt.Before(oldestTime) {
				oldestKey = k
				oldestTime = v.expiresAt
			}
		}
		delete(t.cache, oldestKey)
	}

	t.cache[key] = &cacheEntry{
		results:   results,
		expiresAt: now.Add(t.config.CacheTTL),
	}
}
