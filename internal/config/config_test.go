package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func envMap(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestLoadWithEnv_DefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadWithEnv("", envMap(map[string]string{
		"ANTHROPIC_API_KEY": "sk-ant-test",
		"JWT_SECRET":        "secret",
	}))
	if err != nil {
		t.Fatalf("LoadWithEnv() error = %v", err)
	}

	if cfg.Server.Port != 3001 {
		t.Errorf("port = %d, want 3001", cfg.Server.Port)
	}
	if cfg.Server.KeepaliveInterval != 15*time.Second {
		t.Errorf("keepalive = %v", cfg.Server.KeepaliveInterval)
	}
	if cfg.LLM.MaxTokens != 4096 || cfg.LLM.MaxIterations != 25 {
		t.Errorf("llm defaults = %+v", cfg.LLM)
	}
	if cfg.LLM.Retry.MaxAttempts != 5 || cfg.LLM.Retry.InitialMs != 1500 || cfg.LLM.Retry.JitterMs != 500 {
		t.Errorf("retry defaults = %+v", cfg.LLM.Retry)
	}
	if cfg.LLM.OpenAI.Model != "gpt-4o-mini" {
		t.Errorf("openai model = %q", cfg.LLM.OpenAI.Model)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("driver = %q, want memory", cfg.Database.Driver)
	}
	if cfg.Approvals.TTL != 10*time.Minute {
		t.Errorf("approval ttl = %v", cfg.Approvals.TTL)
	}
	if cfg.RateLimit.API.Requests != 100 || cfg.RateLimit.Chat.Requests != 30 {
		t.Errorf("rate limits = %+v", cfg.RateLimit)
	}
	if cfg.Moizvonki.BaseURL != "https://app.moizvonki.ru/api/v1" {
		t.Errorf("moizvonki base = %q", cfg.Moizvonki.BaseURL)
	}
	if len(cfg.Tools.WebSearch.SearXNGInstances) == 0 {
		t.Error("expected default searxng instances")
	}
}

func TestLoadWithEnv_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "tariti.yaml", `
server:
  port: 8080
llm:
  anthropic:
    api_key: from-file
    model: file-model
auth:
  jwt_secret: file-secret
`)
	cfg, err := LoadWithEnv(path, envMap(map[string]string{
		"PORT":         "9090",
		"CLAUDE_MODEL": "env-model",
		"DATABASE_URL": "postgres://localhost/tariti",
	}))
	if err != nil {
		t.Fatalf("LoadWithEnv() error = %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.LLM.Anthropic.Model != "env-model" {
		t.Errorf("model = %q, want env-model", cfg.LLM.Anthropic.Model)
	}
	if cfg.LLM.Anthropic.APIKey != "from-file" {
		t.Errorf("api key = %q, want from-file", cfg.LLM.Anthropic.APIKey)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("driver = %q, want postgres", cfg.Database.Driver)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "tariti.yaml", `
server:
  port: 8080
  nonsense: true
`)
	_, err := LoadWithEnv(path, envMap(nil))
	if err == nil {
		t.Fatal("expected unknown field error")
	}
	if !strings.Contains(err.Error(), "nonsense") {
		t.Errorf("error = %v, want mention of the unknown key", err)
	}
}

func TestLoadRejectsMultipleDocuments(t *testing.T) {
	path := writeConfig(t, "tariti.yaml", "server:\n  port: 1\n---\nserver:\n  port: 2\n")
	if _, err := LoadRaw(path); err == nil || !strings.Contains(err.Error(), "single YAML document") {
		t.Fatalf("LoadRaw() error = %v", err)
	}
}

func TestLoadRaw_IncludesMergeUnderParent(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(base, []byte("server:\n  port: 7000\n  host: 127.0.0.1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	main := filepath.Join(dir, "main.yaml")
	if err := os.WriteFile(main, []byte("$include: base.yaml\nserver:\n  port: 7100\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	raw, err := LoadRaw(main)
	if err != nil {
		t.Fatalf("LoadRaw() error = %v", err)
	}
	server := raw["server"].(map[string]any)
	if server["port"] != 7100 {
		t.Errorf("port = %v, want 7100", server["port"])
	}
	if server["host"] != "127.0.0.1" {
		t.Errorf("host = %v, want included value", server["host"])
	}
	if _, ok := raw[includeKey]; ok {
		t.Error("include key leaked into merged config")
	}
}

func TestLoadRaw_IncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	if err := os.WriteFile(a, []byte("$include: b.yaml\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("$include: a.yaml\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRaw(a); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("LoadRaw() error = %v, want cycle", err)
	}
}

func TestLoadRaw_JSON5(t *testing.T) {
	path := writeConfig(t, "tariti.json5", `{
  // comments are allowed
  server: { port: 4000, },
}`)
	raw, err := LoadRaw(path)
	if err != nil {
		t.Fatalf("LoadRaw() error = %v", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		t.Fatalf("decodeRawConfig() error = %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("port = %d, want 4000", cfg.Server.Port)
	}
}

func TestExpandEnv(t *testing.T) {
	lookup := func(key string) (string, bool) {
		if key == "SET" {
			return "value", true
		}
		return "", false
	}
	tests := []struct {
		in   string
		want string
	}{
		{"a: ${SET}", "a: value"},
		{"a: ${UNSET}", "a: "},
		{"a: ${UNSET:-fallback}", "a: fallback"},
		{"a: ${SET:-fallback}", "a: value"},
		{"a: $SET", "a: $SET"},
	}
	for _, tt := range tests {
		if got := expandEnv(tt.in, lookup); got != tt.want {
			t.Errorf("expandEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing credentials",
			yaml:    "server:\n  port: 3001\n",
			wantErr: "auth.jwt_secret or auth.api_keys is required",
		},
		{
			name:    "bad driver",
			yaml:    "auth:\n  jwt_secret: s\nllm:\n  openai:\n    api_key: k\ndatabase:\n  driver: mongo\n  url: x\n",
			wantErr: "database.driver",
		},
		{
			name:    "sqlite needs url",
			yaml:    "auth:\n  jwt_secret: s\nllm:\n  openai:\n    api_key: k\ndatabase:\n  driver: sqlite\n",
			wantErr: "database.url is required",
		},
		{
			name:    "incomplete api key",
			yaml:    "auth:\n  api_keys:\n    - key: abc\nllm:\n  openai:\n    api_key: k\n",
			wantErr: "auth.api_keys[0]",
		},
		{
			name: "valid",
			yaml: "auth:\n  jwt_secret: s\nllm:\n  openai:\n    api_key: k\napprovals:\n  ttl: 5m\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "tariti.yaml", tt.yaml)
			cfg, err := LoadWithEnv(path, envMap(nil))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if cfg.Approvals.TTL != 5*time.Minute {
					t.Errorf("ttl = %v, want 5m", cfg.Approvals.TTL)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestJSONSchemaUsesYAMLNames(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error = %v", err)
	}
	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("schema has no properties: %s", data)
	}
	for _, key := range []string{"server", "llm", "rate_limit", "amocrm"} {
		if _, ok := props[key]; !ok {
			t.Errorf("schema missing %q", key)
		}
	}
}
