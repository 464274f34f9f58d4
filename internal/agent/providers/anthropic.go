// Package providers implements the language model adapters used by the agent
// loop.
//
// Each adapter has two pure halves: a request mapping from the canonical
// message history to the provider's wire format, and a stream accumulator
// that turns provider events into text fragments and fully assembled tool
// calls. Retries and failover are decided by the caller; adapters only
// classify failures into *ProviderError.
//
// Example Usage:
//
//	provider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
//	    APIKey:       os.Getenv("ANTHROPIC_API_KEY"),
//	    DefaultModel: "claude-sonnet-4-5",
//	})
//	if err != nil {
//	    return err
//	}
//
//	chunks, err := provider.Complete(ctx, &agent.CompletionRequest{
//	    System:   prompt,
//	    Messages: []models.Message{models.UserText("How many leads came in today?")},
//	    Tools:    registry.Definitions(),
//	})
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/tariti/internal/agent"
	"github.com/haasonsaas/tariti/internal/agent/toolconv"
	"github.com/haasonsaas/tariti/internal/tools"
	"github.com/haasonsaas/tariti/pkg/models"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-5"
	defaultMaxTokens      = 4096
)

// AnthropicProvider streams completions from the Anthropic Messages API.
//
// Thread Safety:
// AnthropicProvider is safe for concurrent use. Each Complete call creates an
// independent stream and goroutine.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxTokens    int
}

// AnthropicConfig holds configuration parameters for creating an AnthropicProvider.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key (required).
	APIKey string

	// BaseURL overrides the default Anthropic API base URL.
	BaseURL string

	// DefaultModel is used when a request does not name a model.
	DefaultModel string

	// MaxTokens is used when a request does not set a limit. Default: 4096
	MaxTokens int

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// NewAnthropicProvider creates a new Anthropic provider instance.
//
// The SDK's own retry loop is disabled: the agent loop owns the retry
// schedule so that overload backoff and failover are decided in one place.
//
// Errors:
//   - "anthropic: API key is required": When config.APIKey is empty string
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = defaultAnthropicModel
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = defaultMaxTokens
	}

	options := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}
	if config.HTTPClient != nil {
		options = append(options, option.WithHTTPClient(config.HTTPClient))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		defaultModel: config.DefaultModel,
		maxTokens:    config.MaxTokens,
	}, nil
}

// Name returns "anthropic".
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Complete opens a streaming request. The first stream event is read before
// returning so that HTTP failures (overload, rate limit, auth) come back as
// the error result and can be retried by the caller.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := p.getModel(req.Model)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	params, err := toAnthropicRequest(model, maxTokens, req.Messages, req.System, req.Tools)
	if err != nil {
		return nil, NewProviderError("anthropic", model, err).WithStatus(http.StatusBadRequest)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	if !stream.Next() {
		err := stream.Err()
		if err == nil {
			err = errors.New("stream closed before the first event")
		}
		_ = stream.Close()
		return nil, p.wrapError(err, model)
	}

	chunks := make(chan *agent.CompletionChunk)
	go func() {
		defer close(chunks)
		defer stream.Close()

		send := func(chunk *agent.CompletionChunk) bool {
			select {
			case chunks <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		acc := newAnthropicAccumulator()
		for {
			for _, chunk := range acc.add(stream.Current()) {
				if !send(chunk) {
					return
				}
			}
			if acc.done {
				return
			}
			if !stream.Next() {
				break
			}
		}

		err := stream.Err()
		if err == nil {
			err = errors.New("stream ended before message_stop")
		}
		send(&agent.CompletionChunk{Error: p.wrapError(err, model)})
	}()

	return chunks, nil
}

func (p *AnthropicProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

// toAnthropicRequest maps the canonical history onto Messages API params.
// Empty text blocks and messages left without content are dropped because
// the API rejects them.
func toAnthropicRequest(model string, maxTokens int, messages []models.Message, system string, defs []tools.Definition) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  toAnthropicMessages(messages),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	converted, err := toolconv.ToAnthropicTools(defs)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}
	params.Tools = converted
	return params, nil
}

func toAnthropicMessages(messages []models.Message) []anthropic.MessageParam {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion
		for _, block := range msg.Content {
			switch block.Type {
			case models.BlockText:
				if strings.TrimSpace(block.Text) != "" {
					content = append(content, anthropic.NewTextBlock(block.Text))
				}
			case models.BlockToolCall:
				content = append(content, anthropic.NewToolUseBlock(block.ID, models.NormalizeInput(block.Input), block.Name))
			case models.BlockToolResult:
				content = append(content, anthropic.NewToolResultBlock(block.ToolCallID, block.Content, block.IsError))
			}
		}
		if len(content) == 0 {
			continue
		}
		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result
}

// anthropicAccumulator folds stream events into chunks. Tool input JSON is
// buffered per content block index and released when the block stops.
type anthropicAccumulator struct {
	toolUses     map[int64]*pendingToolUse
	stopReason   string
	inputTokens  int
	outputTokens int
	done         bool
}

type pendingToolUse struct {
	id    string
	name  string
	input strings.Builder
}

func newAnthropicAccumulator() *anthropicAccumulator {
	return &anthropicAccumulator{toolUses: make(map[int64]*pendingToolUse)}
}

func (a *anthropicAccumulator) add(event anthropic.MessageStreamEventUnion) []*agent.CompletionChunk {
	switch event.Type {
	case "message_start":
		a.inputTokens = int(event.Message.Usage.InputTokens)

	case "content_block_start":
		if event.ContentBlock.Type == "tool_use" {
			a.toolUses[event.Index] = &pendingToolUse{id: event.ContentBlock.ID, name: event.ContentBlock.Name}
		}

	case "content_block_delta":
		switch event.Delta.Type {
		case "text_delta":
			if event.Delta.Text != "" {
				return []*agent.CompletionChunk{{Text: event.Delta.Text}}
			}
		case "input_json_delta":
			if use := a.toolUses[event.Index]; use != nil {
				use.input.WriteString(event.Delta.PartialJSON)
			}
		}

	case "content_block_stop":
		use := a.toolUses[event.Index]
		if use == nil {
			return nil
		}
		delete(a.toolUses, event.Index)
		call := models.ToolCallBlock(use.id, use.name, json.RawMessage(use.input.String()))
		return []*agent.CompletionChunk{{ToolCall: &call}}

	case "message_delta":
		if event.Delta.StopReason != "" {
			a.stopReason = string(event.Delta.StopReason)
		}
		if event.Usage.OutputTokens > 0 {
			a.outputTokens = int(event.Usage.OutputTokens)
		}

	case "message_stop":
		a.done = true
		return []*agent.CompletionChunk{{
			Done:         true,
			StopReason:   a.stopReason,
			InputTokens:  a.inputTokens,
			OutputTokens: a.outputTokens,
		}}
	}
	return nil
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		providerErr := &ProviderError{
			Provider: "anthropic",
			Model:    model,
			Cause:    err,
			Reason:   FailoverUnknown,
		}
		providerErr = providerErr.WithStatus(apiErr.StatusCode)

		requestID := apiErr.RequestID
		var payload anthropicErrorPayload
		if raw := apiErr.RawJSON(); raw != "" && json.Unmarshal([]byte(raw), &payload) == nil {
			if payload.Error.Message != "" {
				providerErr = providerErr.WithMessage(payload.Error.Message)
			}
			if payload.Error.Type != "" {
				providerErr = providerErr.WithCode(payload.Error.Type)
			}
			if payload.RequestID != "" {
				requestID = payload.RequestID
			}
		}
		if providerErr.Message == "" {
			providerErr.Message = fmt.Sprintf("anthropic request failed with status %d", apiErr.StatusCode)
		}
		if requestID != "" {
			providerErr = providerErr.WithRequestID(requestID)
		}
		return providerErr
	}

	return NewProviderError("anthropic", model, err)
}
