package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/haasonsaas/tariti/internal/observability"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool input limits.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxInputSize is the maximum size of a tool input document (10MB).
	MaxInputSize = 10 << 20
)

// Options configures a Registry.
type Options struct {
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

type entry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry holds tools in registration order and runs them.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string

	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger.With("component", "tools"),
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
	}
}

// Register compiles the tool schema and adds the tool. Registering a name
// twice is an error.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" || len(name) > MaxToolNameLength {
		return fmt.Errorf("invalid tool name %q", name)
	}
	compiled, err := compileSchema(name, tool.Schema())
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.entries[name] = &entry{tool: tool, schema: compiled}
	r.order = append(r.order, name)
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// Definitions lists every tool in registration order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		t := r.entries[name].tool
		defs = append(defs, Definition{
			Name:        name,
			Description: t.Description(),
			Schema:      t.Schema(),
			Risky:       IsRisky(name),
		})
	}
	return defs
}

// Execute validates the input against the tool schema and runs the tool.
// Every failure, including a panic inside the tool, is reported in the
// Result.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage, caller Caller) (result Result) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return Result{Error: "Unknown tool: " + name}
	}
	if len(input) > MaxInputSize {
		return Result{Error: fmt.Sprintf("tool input exceeds maximum size of %d bytes", MaxInputSize)}
	}
	trimmed := bytes.TrimSpace(input)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		input = json.RawMessage(`{}`)
	}

	ctx, span := r.tracer.TraceToolExecution(ctx, name)
	defer span.End()
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked",
				"tool", name,
				"panic", p,
				"stack", string(debug.Stack()),
			)
			result = Result{Error: fmt.Sprintf("tool %s failed unexpectedly: %v", name, p)}
		}
		duration := time.Since(start)
		r.metrics.RecordToolExecution(name, result.Success, duration.Seconds())
		if result.Success {
			r.logger.Debug("tool executed", "tool", name, "duration_ms", duration.Milliseconds())
			return
		}
		observability.RecordError(span, errors.New(result.Error))
		r.logger.Warn("tool failed",
			"tool", name,
			"error", result.Error,
			"duration_ms", duration.Milliseconds(),
		)
	}()

	var decoded any
	if err := json.Unmarshal(input, &decoded); err != nil {
		return Result{Error: (&ValidationError{Tool: name, Problems: []string{"input is not valid JSON"}}).Error()}
	}
	if err := e.schema.Validate(decoded); err != nil {
		return Result{Error: newValidationError(name, err).Error()}
	}

	data, err := e.tool.Execute(ctx, input, caller)
	if err != nil {
		res := Result{Error: err.Error()}
		var failure *Failure
		if errors.As(err, &failure) {
			res.Data = failure.Data
		}
		return res
	}
	return Result{Success: true, Data: data}
}
