package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the main configuration structure for Tariti.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	LLM           LLMConfig           `yaml:"llm"`
	Database      DatabaseConfig      `yaml:"database"`
	Auth          AuthConfig          `yaml:"auth"`
	AmoCRM        AmoCRMConfig        `yaml:"amocrm"`
	Moizvonki     MoizvonkiConfig     `yaml:"moizvonki"`
	Approvals     ApprovalsConfig     `yaml:"approvals"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Tools         ToolsConfig         `yaml:"tools"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	FrontendURL string `yaml:"frontend_url"`
	// KeepaliveInterval is the heartbeat period on open event streams.
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LLMConfig struct {
	Anthropic AnthropicConfig `yaml:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Retry     RetryConfig     `yaml:"retry"`
	// MaxIterations caps provider round trips within one turn.
	MaxIterations int `yaml:"max_iterations"`
	MaxTokens     int `yaml:"max_tokens"`
}

type AnthropicConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// RetryConfig is the provider retry schedule.
type RetryConfig struct {
	MaxAttempts int     `yaml:"max_attempts"`
	InitialMs   float64 `yaml:"initial_ms"`
	MaxMs       float64 `yaml:"max_ms"`
	Factor      float64 `yaml:"factor"`
	JitterMs    float64 `yaml:"jitter_ms"`
}

type DatabaseConfig struct {
	// Driver is one of postgres, sqlite or memory.
	Driver          string        `yaml:"driver"`
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type AuthConfig struct {
	// JWTSecret verifies HS256 access tokens issued by the identity provider.
	JWTSecret   string         `yaml:"jwt_secret"`
	TokenExpiry time.Duration  `yaml:"token_expiry"`
	APIKeys     []APIKeyConfig `yaml:"api_keys"`
}

type APIKeyConfig struct {
	Key    string `yaml:"key"`
	UserID string `yaml:"user_id"`
	Email  string `yaml:"email"`
	Name   string `yaml:"name"`
}

type AmoCRMConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type MoizvonkiConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	User    string        `yaml:"user"`
	Timeout time.Duration `yaml:"timeout"`
}

type ApprovalsConfig struct {
	TTL time.Duration `yaml:"ttl"`
	// SweepSchedule is a cron spec for evicting expired approvals.
	SweepSchedule string `yaml:"sweep_schedule"`
}

type RateLimitConfig struct {
	Enabled bool        `yaml:"enabled"`
	API     LimitConfig `yaml:"api"`
	Chat    LimitConfig `yaml:"chat"`
}

type LimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type ToolsConfig struct {
	WebSearch WebSearchConfig `yaml:"web_search"`
	CodeExec  CodeExecConfig  `yaml:"code_exec"`
}

type WebSearchConfig struct {
	InstantAnswerURL string        `yaml:"instant_answer_url"`
	SearXNGInstances []string      `yaml:"searxng_instances"`
	Timeout          time.Duration `yaml:"timeout"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
}

type CodeExecConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ObservabilityConfig struct {
	Metrics bool          `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
	Insecure    bool    `yaml:"insecure"`
}

// DefaultSearXNGInstances are public SearXNG instances queried in order.
var DefaultSearXNGInstances = []string{
	"https://search.bus-hit.me",
	"https://searx.be",
	"https://searx.work",
	"https://searx.tiekoetter.com",
}

// Load reads the configuration file at path (optional), applies environment
// overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.Getenv)
}

// LoadWithEnv is Load with an injectable environment lookup.
func LoadWithEnv(path string, getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	if strings.TrimSpace(path) != "" {
		raw, err := LoadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg, err = decodeRawConfig(raw)
		if err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg, getenv)
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config, getenv func(string) string) {
	set := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v := strings.TrimSpace(getenv(key)); v != "" {
				*dst = v
				return
			}
		}
	}

	if v := getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	set(&cfg.Server.FrontendURL, "FRONTEND_URL")
	set(&cfg.LLM.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	set(&cfg.LLM.Anthropic.Model, "CLAUDE_MODEL")
	set(&cfg.LLM.OpenAI.APIKey, "OPENAI_API_KEY")
	set(&cfg.LLM.OpenAI.Model, "OPENAI_MODEL")
	set(&cfg.Database.URL, "DATABASE_URL")
	set(&cfg.Auth.JWTSecret, "JWT_SECRET", "SUPABASE_JWT_SECRET")
	set(&cfg.AmoCRM.BaseURL, "AMOCRM_BASE_URL")
	set(&cfg.AmoCRM.APIKey, "AMOCRM_API_KEY")
	set(&cfg.Moizvonki.APIKey, "MOIZVONKI_API_KEY")
	set(&cfg.Moizvonki.User, "MOIZVONKI_USER")
	set(&cfg.Moizvonki.BaseURL, "MOIZVONKI_BASE_URL")
	set(&cfg.Logging.Level, "LOG_LEVEL")
	set(&cfg.Observability.Tracing.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3001
	}
	if cfg.Server.FrontendURL == "" {
		cfg.Server.FrontendURL = "http://localhost:3000"
	}
	if cfg.Server.KeepaliveInterval == 0 {
		cfg.Server.KeepaliveInterval = 15 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.LLM.Anthropic.Model == "" {
		cfg.LLM.Anthropic.Model = "claude-sonnet-4-5"
	}
	if cfg.LLM.OpenAI.Model == "" {
		cfg.LLM.OpenAI.Model = "gpt-4o-mini"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}
	if cfg.LLM.MaxIterations == 0 {
		cfg.LLM.MaxIterations = 25
	}
	retry := &cfg.LLM.Retry
	if retry.MaxAttempts == 0 {
		retry.MaxAttempts = 5
	}
	if retry.InitialMs == 0 {
		retry.InitialMs = 1500
	}
	if retry.Factor == 0 {
		retry.Factor = 2
	}
	if retry.JitterMs == 0 {
		retry.JitterMs = 500
	}
	if retry.MaxMs == 0 {
		retry.MaxMs = 30000
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = inferDriver(cfg.Database.URL)
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 10
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30 * time.Minute
	}

	if cfg.Auth.TokenExpiry == 0 {
		cfg.Auth.TokenExpiry = 24 * time.Hour
	}

	cfg.AmoCRM.BaseURL = strings.TrimRight(cfg.AmoCRM.BaseURL, "/")
	if cfg.AmoCRM.Timeout == 0 {
		cfg.AmoCRM.Timeout = 30 * time.Second
	}
	if cfg.Moizvonki.BaseURL == "" {
		cfg.Moizvonki.BaseURL = "https://app.moizvonki.ru/api/v1"
	}
	cfg.Moizvonki.BaseURL = strings.TrimRight(cfg.Moizvonki.BaseURL, "/")
	if cfg.Moizvonki.Timeout == 0 {
		cfg.Moizvonki.Timeout = 30 * time.Second
	}

	if cfg.Approvals.TTL == 0 {
		cfg.Approvals.TTL = 10 * time.Minute
	}
	if cfg.Approvals.SweepSchedule == "" {
		cfg.Approvals.SweepSchedule = "@every 1m"
	}

	if cfg.RateLimit.API.Requests == 0 {
		cfg.RateLimit.API = LimitConfig{Requests: 100, Window: 15 * time.Minute}
	}
	if cfg.RateLimit.Chat.Requests == 0 {
		cfg.RateLimit.Chat = LimitConfig{Requests: 30, Window: 15 * time.Minute}
	}

	ws := &cfg.Tools.WebSearch
	if ws.InstantAnswerURL == "" {
		ws.InstantAnswerURL = "https://api.duckduckgo.com/"
	}
	if len(ws.SearXNGInstances) == 0 {
		ws.SearXNGInstances = append([]string(nil), DefaultSearXNGInstances...)
	}
	if ws.Timeout == 0 {
		ws.Timeout = 6 * time.Second
	}
	if ws.CacheTTL == 0 {
		ws.CacheTTL = 5 * time.Minute
	}
	if cfg.Tools.CodeExec.Timeout == 0 {
		cfg.Tools.CodeExec.Timeout = 5 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "tariti"
	}
}

func inferDriver(url string) string {
	switch {
	case url == "":
		return "memory"
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return "postgres"
	default:
		return "sqlite"
	}
}

func validate(cfg *Config) error {
	var issues []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		issues = append(issues, fmt.Sprintf("server.port %d is out of range", cfg.Server.Port))
	}
	switch cfg.Database.Driver {
	case "memory":
	case "postgres", "sqlite":
		if cfg.Database.URL == "" {
			issues = append(issues, "database.url is required for driver "+cfg.Database.Driver)
		}
	default:
		issues = append(issues, fmt.Sprintf("database.driver %q must be postgres, sqlite or memory", cfg.Database.Driver))
	}
	if cfg.Auth.JWTSecret == "" && len(cfg.Auth.APIKeys) == 0 {
		issues = append(issues, "auth.jwt_secret or auth.api_keys is required")
	}
	for i, key := range cfg.Auth.APIKeys {
		if key.Key == "" || key.UserID == "" {
			issues = append(issues, fmt.Sprintf("auth.api_keys[%d] needs key and user_id", i))
		}
	}
	if cfg.LLM.Anthropic.APIKey == "" && cfg.LLM.OpenAI.APIKey == "" {
		issues = append(issues, "llm.anthropic.api_key or llm.openai.api_key is required")
	}
	if cfg.LLM.MaxIterations < 1 {
		issues = append(issues, "llm.max_iterations must be positive")
	}
	if cfg.LLM.Retry.MaxAttempts < 1 {
		issues = append(issues, "llm.retry.max_attempts must be positive")
	}
	if cfg.Approvals.TTL <= 0 {
		issues = append(issues, "approvals.ttl must be positive")
	}
	if cfg.RateLimit.Enabled {
		for name, l := range map[string]LimitConfig{"api": cfg.RateLimit.API, "chat": cfg.RateLimit.Chat} {
			if l.Requests < 1 || l.Window <= 0 {
				issues = append(issues, fmt.Sprintf("rate_limit.%s needs positive requests and window", name))
			}
		}
	}

	if len(issues) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(issues, "; "))
	}
	return nil
}
