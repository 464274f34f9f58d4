package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/haasonsaas/tariti/internal/agent"
	"github.com/haasonsaas/tariti/internal/agent/prompt"
	"github.com/haasonsaas/tariti/internal/agent/providers"
	"github.com/haasonsaas/tariti/internal/auth"
	"github.com/haasonsaas/tariti/internal/backoff"
	"github.com/haasonsaas/tariti/internal/config"
	"github.com/haasonsaas/tariti/internal/externalapi"
	"github.com/haasonsaas/tariti/internal/gateway"
	"github.com/haasonsaas/tariti/internal/observability"
	"github.com/haasonsaas/tariti/internal/ratelimit"
	"github.com/haasonsaas/tariti/internal/storage"
	"github.com/haasonsaas/tariti/internal/tools"
	"github.com/haasonsaas/tariti/internal/tools/builtin"
	"github.com/haasonsaas/tariti/internal/tools/codeexec"
	"github.com/haasonsaas/tariti/internal/tools/websearch"
)

// =============================================================================
// Serve Command Handler
// =============================================================================

// runServe implements the serve command logic.
// It handles configuration loading, service initialization, and graceful shutdown.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	logger.Info("starting tariti",
		"version", version,
		"commit", commit,
		"config", configPath,
		"database", cfg.Database.Driver,
		"anthropic", cfg.LLM.Anthropic.APIKey != "",
		"openai", cfg.LLM.OpenAI.APIKey != "",
	)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.server.Start(); err != nil {
		_ = a.close(context.Background())
		return err
	}
	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := a.close(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("tariti stopped gracefully")
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
}

// app holds the wired service and everything that needs releasing on
// shutdown.
type app struct {
	server  *gateway.Server
	gate    *agent.ApprovalGate
	stores  storage.StoreSet
	tracing func(context.Context) error
	logger  *slog.Logger
}

// newApp wires storage, providers, tools, the agent loop and the HTTP
// gateway from cfg. The server is not started.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	var (
		metrics  *observability.Metrics
		gatherer prometheus.Gatherer
	)
	if cfg.Observability.Metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = observability.NewMetrics(reg)
		gatherer = reg
	}

	tracer, shutdownTracing, err := observability.NewTracer(ctx, observability.TraceConfig{
		ServiceName:    cfg.Observability.Tracing.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		SamplingRate:   cfg.Observability.Tracing.SampleRate,
		Insecure:       cfg.Observability.Tracing.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	stores, err := storage.Open(ctx, storageConfig(cfg))
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a := &app{stores: stores, tracing: shutdownTracing, logger: logger}

	router, err := newRouter(cfg)
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}

	resolver := newResolver(cfg, logger, metrics, tracer)
	registry := tools.NewRegistry(tools.Options{Logger: logger, Metrics: metrics, Tracer: tracer})
	err = builtin.Register(registry, builtin.Deps{
		Stores:   stores,
		Resolver: resolver,
		WebSearch: websearch.Config{
			InstantAnswerURL: cfg.Tools.WebSearch.InstantAnswerURL,
			SearXNGInstances: cfg.Tools.WebSearch.SearXNGInstances,
			Timeout:          cfg.Tools.WebSearch.Timeout,
			CacheTTL:         cfg.Tools.WebSearch.CacheTTL,
			Logger:           logger,
		},
		CodeExec: codeexec.Config{Timeout: cfg.Tools.CodeExec.Timeout, Logger: logger},
		Logger:   logger,
	})
	if err != nil {
		_ = a.close(ctx)
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	systemPrompt, err := prompt.New(registry.Definitions())
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}

	gate, err := agent.NewApprovalGate(stores.Approvals, agent.ApprovalGateConfig{
		TTL:           cfg.Approvals.TTL,
		SweepSchedule: cfg.Approvals.SweepSchedule,
		Logger:        logger,
		Metrics:       metrics,
	})
	if err != nil {
		_ = a.close(ctx)
		return nil, fmt.Errorf("failed to create approval gate: %w", err)
	}

	controller := agent.NewController(registry, gate, agent.LoopConfig{
		MaxIterations: cfg.LLM.MaxIterations,
		MaxTokens:     cfg.LLM.MaxTokens,
		Retry: backoff.Policy{
			InitialMs: cfg.LLM.Retry.InitialMs,
			MaxMs:     cfg.LLM.Retry.MaxMs,
			Factor:    cfg.LLM.Retry.Factor,
			JitterMs:  cfg.LLM.Retry.JitterMs,
		},
		MaxAttempts:  cfg.LLM.Retry.MaxAttempts,
		SystemPrompt: systemPrompt.Render,
		Logger:       logger,
		Metrics:      metrics,
		Tracer:       tracer,
	})

	keys := make([]auth.APIKeyConfig, 0, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		keys = append(keys, auth.APIKeyConfig{Key: k.Key, UserID: k.UserID, Email: k.Email, Name: k.Name})
	}

	server, err := gateway.New(gateway.Config{
		Addr:               cfg.Server.Addr(),
		FrontendURL:        cfg.Server.FrontendURL,
		KeepaliveInterval:  cfg.Server.KeepaliveInterval,
		DefaultOpenAIModel: cfg.LLM.OpenAI.Model,
		APILimit:           limitConfig(cfg.RateLimit.Enabled, cfg.RateLimit.API),
		ChatLimit:          limitConfig(cfg.RateLimit.Enabled, cfg.RateLimit.Chat),
	}, gateway.Deps{
		Turns:        controller,
		Routes:       router,
		Approvals:    gate,
		Stores:       stores,
		Tools:        registry,
		SystemPrompt: systemPrompt.Render,
		Resolver:     resolver,
		Auth: auth.NewService(auth.Config{
			JWTSecret:   cfg.Auth.JWTSecret,
			TokenExpiry: cfg.Auth.TokenExpiry,
			APIKeys:     keys,
		}),
		Metrics:  metrics,
		Gatherer: gatherer,
		Logger:   logger,
	})
	if err != nil {
		_ = a.close(ctx)
		return nil, fmt.Errorf("failed to initialize gateway: %w", err)
	}

	gate.Start()
	a.gate = gate
	a.server = server
	return a, nil
}

// close stops the server, drains turns and releases storage and tracing.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.gate != nil {
		a.gate.Stop()
	}
	if err := a.stores.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	if a.tracing != nil {
		if err := a.tracing(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush traces: %w", err))
		}
	}
	return errors.Join(errs...)
}

// newRouter builds the provider route table. Only configured providers are
// set so the router never sees a typed nil.
func newRouter(cfg *config.Config) (*agent.Router, error) {
	router := &agent.Router{
		AnthropicModel: cfg.LLM.Anthropic.Model,
		OpenAIModel:    cfg.LLM.OpenAI.Model,
	}
	if cfg.LLM.Anthropic.APIKey != "" {
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       cfg.LLM.Anthropic.APIKey,
			BaseURL:      cfg.LLM.Anthropic.BaseURL,
			DefaultModel: cfg.LLM.Anthropic.Model,
			MaxTokens:    cfg.LLM.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic provider: %w", err)
		}
		router.Anthropic = p
	}
	if cfg.LLM.OpenAI.APIKey != "" {
		p, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       cfg.LLM.OpenAI.APIKey,
			BaseURL:      cfg.LLM.OpenAI.BaseURL,
			DefaultModel: cfg.LLM.OpenAI.Model,
			MaxTokens:    cfg.LLM.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create openai provider: %w", err)
		}
		router.OpenAI = p
	}
	return router, nil
}

func newResolver(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *externalapi.Resolver {
	amocrm := externalapi.NewAmoCRMClient(externalapi.AmoCRMConfig{
		BaseURL: cfg.AmoCRM.BaseURL,
		APIKey:  cfg.AmoCRM.APIKey,
		Timeout: cfg.AmoCRM.Timeout,
	})
	moizvonki := externalapi.NewMoizvonkiClient(externalapi.MoizvonkiConfig{
		BaseURL: cfg.Moizvonki.BaseURL,
		APIKey:  cfg.Moizvonki.APIKey,
		User:    cfg.Moizvonki.User,
		Timeout: cfg.Moizvonki.Timeout,
	})
	return externalapi.NewResolver(amocrm, moizvonki, externalapi.Options{
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer,
	})
}

func storageConfig(cfg *config.Config) storage.Config {
	sc := storage.DefaultConfig()
	sc.Driver = cfg.Database.Driver
	sc.URL = cfg.Database.URL
	sc.MaxOpenConns = cfg.Database.MaxConnections
	sc.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
	sc.ApprovalTTL = cfg.Approvals.TTL
	return sc
}

func limitConfig(enabled bool, l config.LimitConfig) ratelimit.Config {
	return ratelimit.Config{Requests: l.Requests, Window: l.Window, Enabled: enabled}
}
