package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/tariti/internal/agent"
	"github.com/haasonsaas/tariti/internal/auth"
	"github.com/haasonsaas/tariti/internal/backoff"
	"github.com/haasonsaas/tariti/internal/ratelimit"
	"github.com/haasonsaas/tariti/internal/storage"
	"github.com/haasonsaas/tariti/internal/tools"
	"github.com/haasonsaas/tariti/pkg/models"
)

const (
	aliceKey = "key-alice"
	bobKey   = "key-bob"
)

// stubProvider replays one scripted reply per Complete call.
type stubProvider struct {
	mu      sync.Mutex
	replies [][]*agent.CompletionChunk
}

func (p *stubProvider) Name() string { return "anthropic" }

func (p *stubProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.replies) == 0 {
		return nil, errors.New("no scripted reply left")
	}
	reply := p.replies[0]
	p.replies = p.replies[1:]
	ch := make(chan *agent.CompletionChunk, len(reply))
	for _, chunk := range reply {
		ch <- chunk
	}
	close(ch)
	return ch, nil
}

func text(s string) []*agent.CompletionChunk {
	return []*agent.CompletionChunk{{Text: s}, {Done: true, StopReason: "end_turn"}}
}

func toolUse(id, name, input string) []*agent.CompletionChunk {
	call := models.ToolCallBlock(id, name, json.RawMessage(input))
	return []*agent.CompletionChunk{{ToolCall: &call}, {Done: true, StopReason: "tool_use"}}
}

// stubTools records executions. delete_page is risky.
type stubTools struct {
	mu       sync.Mutex
	executed []string
}

func (s *stubTools) Definitions() []tools.Definition {
	return []tools.Definition{
		{Name: "list_pages", Description: "List dashboard pages."},
		{Name: "delete_page", Description: "Delete a page.", Risky: true},
	}
}

func (s *stubTools) Execute(ctx context.Context, name string, input json.RawMessage, caller tools.Caller) tools.Result {
	s.mu.Lock()
	s.executed = append(s.executed, name)
	s.mu.Unlock()
	return tools.Result{Success: true, Data: map[string]any{"ok": true}}
}

func (s *stubTools) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.executed...)
}

type fixture struct {
	server   *Server
	stores   storage.StoreSet
	provider *stubProvider
	tools    *stubTools
}

func newFixture(t *testing.T, config Config, replies ...[]*agent.CompletionChunk) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stores, _ := storage.NewMemoryStores(agent.DefaultApprovalTTL)

	gate, err := agent.NewApprovalGate(stores.Approvals, agent.ApprovalGateConfig{Logger: logger})
	if err != nil {
		t.Fatalf("NewApprovalGate: %v", err)
	}
	provider := &stubProvider{replies: replies}
	toolset := &stubTools{}
	ctrl := agent.NewController(toolset, gate, agent.LoopConfig{
		Retry:        backoff.Policy{InitialMs: 1, Factor: 1},
		SystemPrompt: func(time.Time) string { return "system" },
		Logger:       logger,
	})
	authService := auth.NewService(auth.Config{APIKeys: []auth.APIKeyConfig{
		{Key: aliceKey, UserID: "alice"},
		{Key: bobKey, UserID: "bob"},
	}})

	if config.FrontendURL == "" {
		config.FrontendURL = "http://localhost:3000"
	}
	if config.DefaultOpenAIModel == "" {
		config.DefaultOpenAIModel = "gpt-4o-mini"
	}
	server, err := New(config, Deps{
		Turns:        ctrl,
		Routes:       &agent.Router{Anthropic: provider, AnthropicModel: "claude-test"},
		Approvals:    gate,
		Stores:       stores,
		Tools:        toolset,
		SystemPrompt: func(time.Time) string { return "You are Tariti." },
		Auth:         authService,
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{server: server, stores: stores, provider: provider, tools: toolset}
}

func (f *fixture) do(t *testing.T, method, path, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

// sseEvents parses the data lines of an event stream.
func sseEvents(t *testing.T, body string) []map[string]any {
	t.Helper()
	var events []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			t.Fatalf("bad event %q: %v", line, err)
		}
		events = append(events, event)
	}
	return events
}

func eventTypes(events []map[string]any) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i], _ = e["type"].(string)
	}
	return out
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Config{}, Deps{}); err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}

func TestUnauthenticatedRequestsAreRejected(t *testing.T) {
	f := newFixture(t, Config{})
	for _, path := range []string{"/api/ai/chats", "/api/user/preferences", "/api/external-api/variables"} {
		rec := f.do(t, http.MethodGet, path, "", "")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", path, rec.Code)
		}
	}
	rec := f.do(t, http.MethodGet, "/api/ai/chats", "wrong-key", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad key: status = %d, want 401", rec.Code)
	}
}

func TestNotFoundIsJSON(t *testing.T) {
	f := newFixture(t, Config{})
	rec := f.do(t, http.MethodGet, "/nope", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if got := decodeBody(t, rec)["error"]; got != "Not found" {
		t.Errorf("error = %v", got)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, Config{})
	for _, path := range []string{"/health", "/api/health"} {
		rec := f.do(t, http.MethodGet, path, "", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", path, rec.Code)
		}
		body := decodeBody(t, rec)
		if body["status"] != "ok" || body["database"] != "ok" {
			t.Errorf("%s: body = %v", path, body)
		}
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	f := newFixture(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req-123" {
		t.Errorf("X-Request-ID = %q", got)
	}

	rec = f.do(t, http.MethodGet, "/health", "", "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated request id")
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, Config{FrontendURL: "https://app.example.com"})

	req := httptest.NewRequest(http.MethodOptions, "/api/ai/chat", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("allow origin = %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("credentials not allowed")
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}
}

func TestChatRateLimit(t *testing.T) {
	f := newFixture(t, Config{
		ChatLimit: ratelimit.Config{Enabled: true, Requests: 1, Window: time.Minute},
	}, text("one"), text("two"))

	body := `{"messages":[{"role":"user","content":"hi"}]}`
	if rec := f.do(t, http.MethodPost, "/api/ai/chat", aliceKey, body); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}
	rec := f.do(t, http.MethodPost, "/api/ai/chat", aliceKey, body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if got := decodeBody(t, rec)["error"]; got != "Too many chat requests; try again later." {
		t.Errorf("error = %v", got)
	}
	// Limits are per user.
	if rec := f.do(t, http.MethodPost, "/api/ai/chat", bobKey, body); rec.Code != http.StatusOK {
		t.Errorf("other user status = %d", rec.Code)
	}
}

func TestUserToolsAndSystemPrompt(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(t, http.MethodGet, "/api/user/tools", aliceKey, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("tools status = %d", rec.Code)
	}
	var tools struct {
		Tools []toolSummary `json:"tools"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &tools); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tools.Tools) != 2 || tools.Tools[1].Name != "delete_page" || !tools.Tools[1].Risky {
		t.Errorf("tools = %+v", tools.Tools)
	}

	rec = f.do(t, http.MethodGet, "/api/user/system-prompt", aliceKey, "")
	if got := decodeBody(t, rec)["systemPrompt"]; got != "You are Tariti." {
		t.Errorf("systemPrompt = %v", got)
	}
}

func TestPreferences(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(t, http.MethodGet, "/api/user/preferences", aliceKey, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	prefs := decodeBody(t, rec)["preferences"].(map[string]any)
	if prefs["ai_provider"] != "anthropic" || prefs["openai_fallback_enabled"] != true || prefs["openai_model"] != "gpt-4o-mini" {
		t.Errorf("defaults = %v", prefs)
	}

	rec = f.do(t, http.MethodPatch, "/api/user/preferences", aliceKey, `{"ai_provider":"bogus","developer_mode":true,"openai_fallback_enabled":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d", rec.Code)
	}
	prefs = decodeBody(t, rec)["preferences"].(map[string]any)
	if prefs["ai_provider"] != "anthropic" {
		t.Errorf("invalid provider was applied: %v", prefs["ai_provider"])
	}
	if prefs["developer_mode"] != true || prefs["openai_fallback_enabled"] != false {
		t.Errorf("patch not applied: %v", prefs)
	}

	f.do(t, http.MethodPatch, "/api/user/preferences", aliceKey, `{"ai_provider":"openai","openai_model":"  "}`)
	stored, err := f.stores.Preferences.GetPreferences(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetPreferences: %v", err)
	}
	if stored.AIProvider != models.ProviderOpenAI || stored.OpenAIModel != "gpt-4o-mini" || !stored.DeveloperMode {
		t.Errorf("stored = %+v", stored)
	}
	if stored.FallbackEnabled() {
		t.Error("fallback flag lost on second patch")
	}
}

func TestExternalAPIVariables(t *testing.T) {
	f := newFixture(t, Config{})
	rec := f.do(t, http.MethodGet, "/api/external-api/variables", aliceKey, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Variables []variableSummary `json:"variables"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Variables) == 0 {
		t.Fatal("no variables listed")
	}
	for _, v := range body.Variables {
		if v.ID == "" || v.Source == "" || v.RequiredParams == nil {
			t.Errorf("incomplete variable %+v", v)
		}
	}
}

func TestExternalAPIResolveWithoutResolver(t *testing.T) {
	f := newFixture(t, Config{})
	rec := f.do(t, http.MethodPost, "/api/external-api/resolve", aliceKey, `{"path":"amocrm.account"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["success"] != false || body["error"] != "External API is not configured" {
		t.Errorf("body = %v", body)
	}
}
