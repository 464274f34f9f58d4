// Package websearch implements the web_search tool: a DuckDuckGo instant
// answer lookup with a fallback to public SearXNG instances. No API key is
// needed.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/tariti/internal/tools"
)

const (
	// DefaultInstantAnswerURL is the DuckDuckGo instant answer endpoint.
	DefaultInstantAnswerURL = "https://api.duckduckgo.com/"

	defaultInstantAnswerTimeout = 4 * time.Second
	defaultInstanceTimeout      = 6 * time.Second
	defaultCacheTTL             = 5 * time.Minute

	// maxCacheSize limits the number of cached search responses to prevent unbounded memory growth
	maxCacheSize = 1000

	maxRelated        = 8
	maxInstantResults = 5
	maxSearXNGResults = 8
	maxSnippetRunes   = 200
	maxResponseBytes  = 4 << 20

	userAgent = "Sudic-Internal/1.0"
	emptyNote = "DuckDuckGo had no instant answer and SearXNG instances were unavailable or timed out. Suggest rephrasing the query or trying again later."
)

const description = "Search the web for current information. Tries DuckDuckGo first for instant answers, then falls back to a full web search (SearXNG) for general queries. " +
	"Free, no API key required. Good for factual queries, market info, news, and research."

// Config holds configuration for the web search tool.
type Config struct {
	InstantAnswerURL string
	SearXNGInstances []string

	// Timeout bounds each SearXNG instance.
	Timeout              time.Duration
	InstantAnswerTimeout time.Duration
	CacheTTL             time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Input is the input of web_search.
type Input struct {
	Query string `json:"query" jsonschema:"minLength=1" jsonschema_description:"The search query, be specific for better results"`
}

// Link is a related topic or result from the instant answer API.
type Link struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// InstantAnswer is a DuckDuckGo instant answer.
type InstantAnswer struct {
	Query            string `json:"query"`
	Source           string `json:"source"`
	Answer           any    `json:"instant_answer,omitempty"`
	AnswerType       string `json:"answer_type,omitempty"`
	Summary          string `json:"summary,omitempty"`
	SourceName       string `json:"source_name,omitempty"`
	SourceURL        string `json:"source_url,omitempty"`
	Definition       string `json:"definition,omitempty"`
	DefinitionSource string `json:"definition_source,omitempty"`
	Topic            string `json:"topic,omitempty"`
	Related          []Link `json:"related,omitempty"`
	Results          []Link `json:"results,omitempty"`
}

func (a *InstantAnswer) hasContent() bool {
	return a.Answer != nil || a.Summary != "" || a.Definition != "" || len(a.Related) > 0 || len(a.Results) > 0
}

// SearchResult represents a single full web search result.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// SearchResponse is the SearXNG result list, or the empty fallback.
type SearchResponse struct {
	Query   string         `json:"query"`
	Source  string         `json:"source"`
	Results []SearchResult `json:"results"`
	Count   int            `json:"count"`
	Note    string         `json:"note,omitempty"`
}

// cacheEntry holds a cached search result with expiration.
type cacheEntry struct {
	response  any
	expiresAt time.Time
}

// Searcher runs web searches and caches answers for a short TTL.
type Searcher struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	cache   map[string]*cacheEntry
	cacheMu sync.RWMutex
}

// New creates a searcher, applying defaults to unset fields.
func New(config Config) *Searcher {
	if config.InstantAnswerURL == "" {
		config.InstantAnswerURL = DefaultInstantAnswerURL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultInstanceTimeout
	}
	if config.InstantAnswerTimeout <= 0 {
		config.InstantAnswerTimeout = defaultInstantAnswerTimeout
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = defaultCacheTTL
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{
		config:     config,
		httpClient: client,
		logger:     logger.With("tool", "web_search"),
		now:        time.Now,
		cache:      make(map[string]*cacheEntry),
	}
}

// Tool returns the web_search tool.
func (s *Searcher) Tool() tools.Tool {
	return tools.New("web_search", description, s.Search)
}

// Search answers a query. Instant answers win; otherwise the SearXNG
// instances are tried in order. When nothing answers the result is an empty
// success with a note, so the model can say there were no results.
func (s *Searcher) Search(ctx context.Context, in Input, _ tools.Caller) (any, error) {
	query := strings.TrimSpace(in.Query)
	key := strings.ToLower(query)
	if cached := s.getFromCache(key); cached != nil {
		return cached, nil
	}

	answer, ok, err := s.instantAnswer(ctx, query)
	if err != nil {
		return nil, tools.Failf("Web search failed: %v", err)
	}
	if ok && answer.hasContent() {
		s.putInCache(key, answer)
		return answer, nil
	}

	if response := s.searchSearXNG(ctx, query); response != nil {
		s.putInCache(key, response)
		return response, nil
	}
	return &SearchResponse{
		Query:   query,
		Source:  "none",
		Results: []SearchResult{},
		Note:    emptyNote,
	}, nil
}

type ddgTopic struct {
	Text     string     `json:"Text"`
	FirstURL string     `json:"FirstURL"`
	Topics   []ddgTopic `json:"Topics"`
}

type ddgResponse struct {
	Abstract         string     `json:"Abstract"`
	AbstractSource   string     `json:"AbstractSource"`
	AbstractURL      string     `json:"AbstractURL"`
	Answer           any        `json:"Answer"`
	AnswerType       string     `json:"AnswerType"`
	Definition       string     `json:"Definition"`
	DefinitionSource string     `json:"DefinitionSource"`
	Heading          string     `json:"Heading"`
	RelatedTopics    []ddgTopic `json:"RelatedTopics"`
	Results          []ddgTopic `json:"Results"`
}

// instantAnswer queries DuckDuckGo. ok is false when the API answered with
// a non-200 status; transport and decoding failures are errors.
func (s *Searcher) instantAnswer(ctx context.Context, query string) (*InstantAnswer, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.InstantAnswerTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("no_html", "1")
	params.Set("skip_disambig", "1")
	params.Set("t", "sudic-internal")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.InstantAnswerURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		s.logger.Debug("instant answer unavailable", "status", resp.StatusCode)
		return nil, false, nil
	}

	var ddg ddgResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&ddg); err != nil {
		return nil, false, fmt.Errorf("failed to parse response: %w", err)
	}

	answer := &InstantAnswer{Query: query, Source: "duckduckgo", Topic: ddg.Heading}
	if ddg.Answer != nil && ddg.Answer != "" {
		answer.Answer = ddg.Answer
		answer.AnswerType = ddg.AnswerType
	}
	if ddg.Abstract != "" {
		answer.Summary = ddg.Abstract
		answer.SourceName = ddg.AbstractSource
		answer.SourceURL = ddg.AbstractURL
	}
	if ddg.Definition != "" {
		answer.Definition = ddg.Definition
		answer.DefinitionSource = ddg.DefinitionSource
	}
	if related := flattenTopics(ddg.RelatedTopics, nil); len(related) > 0 {
		answer.Related = related[:min(len(related), maxRelated)]
	}
	for _, r := range ddg.Results[:min(len(ddg.Results), maxInstantResults)] {
		answer.Results = append(answer.Results, Link{Text: r.Text, URL: r.FirstURL})
	}
	return answer, true, nil
}

func flattenTopics(topics []ddgTopic, out []Link) []Link {
	for _, t := range topics {
		if t.Text != "" && t.FirstURL != "" {
			out = append(out, Link{Text: t.Text, URL: t.FirstURL})
		}
		if len(t.Topics) > 0 {
			out = flattenTopics(t.Topics, out)
		}
	}
	return out
}

// searchSearXNG tries each instance in order and returns the first non-empty
// result list, or nil.
func (s *Searcher) searchSearXNG(ctx context.Context, query string) *SearchResponse {
	for _, base := range s.config.SearXNGInstances {
		response, err := s.searchInstance(ctx, base, query)
		if err != nil {
			s.logger.Debug("searxng instance failed", "instance", base, "error", err)
			continue
		}
		if response.Count > 0 {
			return response
		}
	}
	return nil
}

func (s *Searcher) searchInstance(ctx context.Context, base, query string) (*SearchResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("language", "all")
	endpoint := strings.TrimRight(base, "/") + "/search?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent+" (web search)")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("SearXNG returned status %d", resp.StatusCode)
	}

	var searxngResp struct {
		Query   string `json:"query"`
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&searxngResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]SearchResult, 0, maxSearXNGResults)
	for _, r := range searxngResp.Results[:min(len(searxngResp.Results), maxSearXNGResults)] {
		results = append(results, SearchResult{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: truncateRunes(r.Content, maxSnippetRunes),
		})
	}
	q := searxngResp.Query
	if q == "" {
		q = query
	}
	return &SearchResponse{Query: q, Source: "searxng", Results: results, Count: len(results)}, nil
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// getFromCache retrieves a cached response if it exists and hasn't expired.
func (s *Searcher) getFromCache(key string) any {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	entry, exists := s.cache[key]
	if !exists || s.now().After(entry.expiresAt) {
		return nil
	}
	return entry.response
}

// putInCache stores a response in the cache with TTL.
func (s *Searcher) putInCache(key string, response any) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	now := s.now()
	for k, v := range s.cache {
		if now.After(v.expiresAt) {
			delete(s.cache, k)
		}
	}

	// If still at capacity after cleanup, evict oldest entries
	for len(s.cache) >= maxCacheSize {
		var oldestKey string
		var oldestTime time.Time
		for k, v := range s.cache {
			if oldestKey == "" || v.expiresAt.Before(oldestTime) {
				oldestKey = k
				oldestTime = v.expiresAt
			}
		}
		delete(s.cache, oldestKey)
	}

	s.cache[key] = &cacheEntry{
		response:  response,
		expiresAt: now.Add(s.config.CacheTTL),
	}
}
