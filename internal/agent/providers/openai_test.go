package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/tariti/internal/agent"
	"github.com/haasonsaas/tariti/internal/tools"
	"github.com/haasonsaas/tariti/pkg/models"
)

func writeOpenAIStream(w http.ResponseWriter, payloads []string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	for _, payload := range payloads {
		fmt.Fprintf(w, "data: %s\n\n", payload)
		if flusher != nil {
			flusher.Flush()
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func TestOpenAIStreamsTextAndToolCalls(t *testing.T) {
	var body openai.ChatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		writeOpenAIStream(w, []string{
			`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","content":"Let me "}}]}`,
			`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"check."}}]}`,
			`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"list_pages","arguments":""}}]}}]}`,
			`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"get_leads","arguments":"{\"status\""}}]}}]}`,
			`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":":\"new\"}"}}]}}]}`,
			`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
			`{"id":"c1","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":40,"completion_tokens":9,"total_tokens":49}}`,
		})
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL + "/v1"})
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}

	history := []models.Message{
		models.UserText("what changed?"),
		{Role: models.RoleAssistant, Content: []models.ContentBlock{
			models.TextBlock("Looking."),
			models.ToolCallBlock("call_0", "list_chats", json.RawMessage(`not json`)),
		}},
		{Role: models.RoleUser, Content: []models.ContentBlock{
			models.ToolResultBlock("call_0", `{"count":0}`, false),
			models.TextBlock("and the leads?"),
		}},
	}
	chunks, err := provider.Complete(context.Background(), &agent.CompletionRequest{
		System:   "system prompt",
		Messages: history,
		Tools: []tools.Definition{{
			Name:   "get_leads",
			Schema: json.RawMessage(`{"type":"object"}`),
		}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	text, calls, done := collect(t, chunks)
	if text != "Let me check." {
		t.Fatalf("text = %q", text)
	}
	if len(calls) != 2 {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].ID != "call_a" || string(calls[0].Input) != `{"status":"new"}` {
		t.Fatalf("first call = %+v", calls[0])
	}
	if calls[1].ID != "call_b" || string(calls[1].Input) != "{}" {
		t.Fatalf("second call = %+v", calls[1])
	}
	if done == nil || done.StopReason != "tool_calls" || done.InputTokens != 40 || done.OutputTokens != 9 {
		t.Fatalf("done = %+v", done)
	}

	if body.Model != defaultOpenAIModel || !body.Stream {
		t.Fatalf("model=%q stream=%v", body.Model, body.Stream)
	}
	roles := make([]string, len(body.Messages))
	for i, m := range body.Messages {
		roles[i] = m.Role
	}
	want := []string{"system", "user", "assistant", "tool", "user"}
	if fmt.Sprint(roles) != fmt.Sprint(want) {
		t.Fatalf("roles = %v, want %v", roles, want)
	}
	assistant := body.Messages[2]
	if assistant.Content != "Looking." || len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].Function.Arguments != "{}" {
		t.Fatalf("assistant = %+v", assistant)
	}
	if body.Messages[3].ToolCallID != "call_0" {
		t.Fatalf("tool message = %+v", body.Messages[3])
	}
	if len(body.Tools) != 1 || body.Tools[0].Function.Name != "get_leads" {
		t.Fatalf("tools = %+v", body.Tools)
	}
}

func TestOpenAIRateLimitIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached for gpt-4o-mini","type":"requests","code":"rate_limit_exceeded"}}`))
	}))
	defer server.Close()

	provider, _ := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL + "/v1"})
	_, err := provider.Complete(context.Background(), &agent.CompletionRequest{Messages: []models.Message{models.UserText("hi")}})
	providerErr, ok := GetProviderError(err)
	if !ok {
		t.Fatalf("err = %v, want ProviderError", err)
	}
	if providerErr.Reason != FailoverRateLimit || !providerErr.Retryable() || providerErr.Status != http.StatusTooManyRequests {
		t.Fatalf("providerErr = %+v", providerErr)
	}
}

func TestOpenAIBadRequestIsNotRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid 'messages[1].content'","type":"invalid_request_error","code":null}}`))
	}))
	defer server.Close()

	provider, _ := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL + "/v1"})
	_, err := provider.Complete(context.Background(), &agent.CompletionRequest{Messages: []models.Message{models.UserText("hi")}})
	if IsRetryable(err) {
		t.Fatalf("bad request should not be retryable: %v", err)
	}
	providerErr, _ := GetProviderError(err)
	if providerErr == nil || providerErr.Reason != FailoverFormat || providerErr.UserMessage() != "Invalid 'messages[1].content'" {
		t.Fatalf("err = %v", err)
	}
}

func TestNewOpenAIProviderRequiresKey(t *testing.T) {
	if _, err := NewOpenAIProvider(OpenAIConfig{}); err == nil {
		t.Fatal("expected error without API key")
	}
}
