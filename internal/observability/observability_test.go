package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	return entry
}

func TestNewLogger_RedactsSensitiveKeysAndValues(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Output: &buf})

	logger.Info("calling upstream",
		"api_key", "plain-value",
		"header", "Bearer abcdefghijklmnopqrstuvwxyz",
		"error", errors.New("password: hunter2hunter2"),
	)

	entry := decodeLine(t, &buf)
	if entry["api_key"] != "[REDACTED]" {
		t.Errorf("api_key = %v, want redacted", entry["api_key"])
	}
	if strings.Contains(entry["header"].(string), "abcdefghijklmnop") {
		t.Errorf("bearer token leaked: %v", entry["header"])
	}
	if strings.Contains(entry["error"].(string), "hunter2") {
		t.Errorf("password leaked: %v", entry["error"])
	}
}

func TestNewLogger_AttachesContextIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})

	ctx := AddRequestID(context.Background(), "req-1")
	ctx = AddUserID(ctx, "user-1")
	ctx = AddChatID(ctx, "chat-1")
	logger.InfoContext(ctx, "turn started")

	entry := decodeLine(t, &buf)
	for key, want := range map[string]string{"request_id": "req-1", "user_id": "user-1", "chat_id": "chat-1"} {
		if entry[key] != want {
			t.Errorf("%s = %v, want %s", key, entry[key], want)
		}
	}
	if GetRequestID(ctx) != "req-1" {
		t.Errorf("GetRequestID() = %q", GetRequestID(ctx))
	}
}

func TestNewLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Output: &buf})
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info logged at warn level: %s", buf.String())
	}
	logger.With("token", "abc").Warn("shown")
	entry := decodeLine(t, &buf)
	if entry["token"] != "[REDACTED]" {
		t.Errorf("With() attrs not redacted: %v", entry["token"])
	}
}

func TestLogLevelFromString(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := LogLevelFromString(in); got != want {
			t.Errorf("LogLevelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestMetrics_RecordsWithIsolatedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordToolExecution("list_pages", true, 0.01)
	m.RecordToolExecution("list_pages", false, 0.02)
	m.RecordApproval("requested")
	m.RecordApproval("approved")
	m.RecordFailover("anthropic", "openai")

	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("list_pages", "success")); got != 1 {
		t.Errorf("success count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ApprovalsPending); got != 0 {
		t.Errorf("pending gauge = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.ProviderFailovers.WithLabelValues("anthropic", "openai")); got != 1 {
		t.Errorf("failovers = %v, want 1", got)
	}

	release := m.StreamOpened()
	if got := testutil.ToFloat64(m.ActiveStreams); got != 1 {
		t.Errorf("active streams = %v, want 1", got)
	}
	release()
	if got := testutil.ToFloat64(m.ActiveStreams); got != 0 {
		t.Errorf("active streams after release = %v, want 0", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordHTTPRequest("GET", "/", "200", 0.1)
	m.RecordLLMRequest("anthropic", "m", true, 1)
	m.RecordResolve("amocrm", true)
	m.RecordTurn("done")
	m.StreamOpened()()
}

func TestTracer_NoEndpointIsNoop(t *testing.T) {
	tracer, shutdown, err := NewTracer(context.Background(), TraceConfig{})
	if err != nil {
		t.Fatalf("NewTracer() error = %v", err)
	}
	ctx, span := tracer.TraceToolExecution(context.Background(), "run_code")
	RecordError(span, errors.New("boom"))
	span.End()
	if GetTraceID(ctx) != "" {
		t.Errorf("no-op tracer produced a trace id")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}

	var nilTracer *Tracer
	_, span = nilTracer.TraceTurn(context.Background(), "chat", "u1")
	span.End()
}
