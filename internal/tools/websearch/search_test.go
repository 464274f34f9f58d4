package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/tariti/internal/tools"
)

func newSearcher(ddgURL string, instances ...string) *Searcher {
	return New(Config{
		InstantAnswerURL: ddgURL,
		SearXNGInstances: instances,
		Timeout:          time.Second,
		CacheTTL:         time.Minute,
	})
}

func search(t *testing.T, s *Searcher, query string) any {
	t.Helper()
	out, err := s.Search(context.Background(), Input{Query: query}, tools.Caller{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	return out
}

func TestSearchInstantAnswer(t *testing.T) {
	ddg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "chisinau" || r.URL.Query().Get("format") != "json" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{
			"Abstract": "Capital of Moldova.",
			"AbstractSource": "Wikipedia",
			"AbstractURL": "https://en.wikipedia.org/wiki/Chisinau",
			"Heading": "Chisinau",
			"Answer": "",
			"RelatedTopics": [
				{"Text": "Moldova", "FirstURL": "https://duckduckgo.com/Moldova"},
				{"Name": "Places", "Topics": [{"Text": "Botanica", "FirstURL": "https://duckduckgo.com/Botanica"}]}
			]
		}`))
	}))
	defer ddg.Close()

	answer, ok := search(t, newSearcher(ddg.URL+"/"), "chisinau").(*InstantAnswer)
	if !ok {
		t.Fatal("expected an instant answer")
	}
	if answer.Source != "duckduckgo" || answer.Summary != "Capital of Moldova." || answer.Topic != "Chisinau" {
		t.Fatalf("answer = %+v", answer)
	}
	if answer.Answer != nil {
		t.Fatalf("empty answer should be dropped, got %v", answer.Answer)
	}
	if len(answer.Related) != 2 || answer.Related[1].Text != "Botanica" {
		t.Fatalf("related = %+v", answer.Related)
	}
}

func TestSearchFallsBackToSearXNG(t *testing.T) {
	ddg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Heading": "", "RelatedTopics": []}`))
	}))
	defer ddg.Close()

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results": []}`))
	}))
	defer empty.Close()

	long := strings.Repeat("я", 300)
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.URL.Query().Get("language") != "all" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		var results []map[string]string
		for i := 0; i < 10; i++ {
			results = append(results, map[string]string{"title": "t", "url": "https://example.com", "content": long})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"query": "flats", "results": results})
	}))
	defer good.Close()

	resp, ok := search(t, newSearcher(ddg.URL+"/", down.URL, empty.URL, good.URL+"/"), "flats").(*SearchResponse)
	if !ok {
		t.Fatal("expected a search response")
	}
	if resp.Source != "searxng" || resp.Count != 8 || len(resp.Results) != 8 {
		t.Fatalf("resp = %+v", resp)
	}
	if n := len([]rune(resp.Results[0].Snippet)); n != 200 {
		t.Fatalf("snippet runes = %d, want 200", n)
	}
}

func TestSearchNothingAvailable(t *testing.T) {
	ddg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ddg.Close()

	resp, ok := search(t, newSearcher(ddg.URL+"/"), "anything").(*SearchResponse)
	if !ok {
		t.Fatal("expected a search response")
	}
	if resp.Source != "none" || resp.Count != 0 || resp.Note == "" || resp.Results == nil {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestSearchTransportFailure(t *testing.T) {
	ddg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ddg.Close()

	s := newSearcher(ddg.URL + "/")
	_, err := s.Search(context.Background(), Input{Query: "x"}, tools.Caller{})
	if err == nil || !strings.HasPrefix(err.Error(), "Web search failed: ") {
		t.Fatalf("err = %v", err)
	}
}

func TestSearchCachesAnswers(t *testing.T) {
	var hits atomic.Int32
	ddg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"Answer": "42", "AnswerType": "calc"}`))
	}))
	defer ddg.Close()

	s := newSearcher(ddg.URL + "/")
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	search(t, s, "six times seven")
	search(t, s, "Six Times Seven ")
	if got := hits.Load(); got != 1 {
		t.Fatalf("upstream hits = %d, want 1", got)
	}

	now = now.Add(2 * time.Minute)
	search(t, s, "six times seven")
	if got := hits.Load(); got != 2 {
		t.Fatalf("upstream hits after expiry = %d, want 2", got)
	}
}

func TestSearchToolValidatesQuery(t *testing.T) {
	reg := tools.NewRegistry(tools.Options{})
	if err := reg.Register(New(Config{}).Tool()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	res := reg.Execute(context.Background(), "web_search", json.RawMessage(`{"query":""}`), tools.Caller{})
	if res.Success {
		t.Fatal("empty query should fail validation")
	}
}
