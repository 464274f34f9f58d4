package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/tariti/internal/agent"
	"github.com/haasonsaas/tariti/internal/agent/toolconv"
	"github.com/haasonsaas/tariti/internal/tools"
	"github.com/haasonsaas/tariti/pkg/models"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIProvider streams chat completions from the OpenAI API.
//
// Key Differences from the Anthropic provider:
//   - The system prompt is the first message in the array
//   - Each tool result becomes its own "tool" role message
//   - Tool call arguments stream as fragments keyed by index
//
// Thread Safety:
// OpenAIProvider is safe for concurrent use.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
	maxTokens    int
}

// OpenAIConfig holds configuration parameters for creating an OpenAIProvider.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key (required).
	APIKey string

	// BaseURL overrides the API base URL, including the /v1 suffix.
	BaseURL string

	// DefaultModel is used when a request does not name a model. Default: gpt-4o-mini
	DefaultModel string

	// MaxTokens is used when a request does not set a limit.
	MaxTokens int

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// NewOpenAIProvider creates a new OpenAI provider instance.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = defaultOpenAIModel
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = defaultMaxTokens
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if strings.TrimSpace(config.BaseURL) != "" {
		clientConfig.BaseURL = strings.TrimRight(config.BaseURL, "/")
	}
	if config.HTTPClient != nil {
		clientConfig.HTTPClient = config.HTTPClient
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		defaultModel: config.DefaultModel,
		maxTokens:    config.MaxTokens,
	}, nil
}

// Name returns "openai".
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Complete opens a streaming chat completion. Non-2xx responses are returned
// as the error result.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := p.getModel(req.Model)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	chatReq := toOpenAIRequest(model, maxTokens, req.Messages, req.System, req.Tools)
	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
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

		acc := newOpenAIAccumulator()
		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				for _, chunk := range acc.finish() {
					if !send(chunk) {
						return
					}
				}
				return
			}
			if err != nil {
				send(&agent.CompletionChunk{Error: p.wrapError(err, model)})
				return
			}
			for _, chunk := range acc.add(response) {
				if !send(chunk) {
					return
				}
			}
		}
	}()

	return chunks, nil
}

func (p *OpenAIProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func toOpenAIRequest(model string, maxTokens int, messages []models.Message, system string, defs []tools.Definition) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:         model,
		MaxTokens:     maxTokens,
		Messages:      toOpenAIMessages(messages, system),
		Tools:         toolconv.ToOpenAITools(defs),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
}

// toOpenAIMessages flattens the canonical history. A user message carrying
// tool results expands into one tool message per result followed by any text.
func toOpenAIMessages(messages []models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		var text []string
		var calls []openai.ToolCall
		for _, block := range msg.Content {
			switch block.Type {
			case models.BlockText:
				if strings.TrimSpace(block.Text) != "" {
					text = append(text, block.Text)
				}
			case models.BlockToolCall:
				calls = append(calls, openai.ToolCall{
					ID:   block.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      block.Name,
						Arguments: string(models.NormalizeInput(block.Input)),
					},
				})
			case models.BlockToolResult:
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    block.Content,
					ToolCallID: block.ToolCallID,
				})
			}
		}

		content := strings.Join(text, "\n")
		if msg.Role == models.RoleAssistant {
			if content == "" && len(calls) == 0 {
				continue
			}
			result = append(result, openai.ChatCompletionMessage{
				Role:      openai.ChatMessageRoleAssistant,
				Content:   content,
				ToolCalls: calls,
			})
			continue
		}
		if content != "" {
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: content,
			})
		}
	}
	return result
}

// openAIAccumulator buffers tool call fragments by index. Calls are released
// in index order when the model finishes with tool_calls or the stream ends.
type openAIAccumulator struct {
	calls        map[int]*pendingToolUse
	stopReason   string
	inputTokens  int
	outputTokens int
}

func newOpenAIAccumulator() *openAIAccumulator {
	return &openAIAccumulator{calls: make(map[int]*pendingToolUse)}
}

func (a *openAIAccumulator) add(response openai.ChatCompletionStreamResponse) []*agent.CompletionChunk {
	if response.Usage != nil {
		a.inputTokens = response.Usage.PromptTokens
		a.outputTokens = response.Usage.CompletionTokens
	}
	if len(response.Choices) == 0 {
		return nil
	}

	choice := response.Choices[0]
	var out []*agent.CompletionChunk
	if choice.Delta.Content != "" {
		out = append(out, &agent.CompletionChunk{Text: choice.Delta.Content})
	}
	for _, tc := range choice.Delta.ToolCalls {
		index := 0
		if tc.Index != nil {
			index = *tc.Index
		}
		call := a.calls[index]
		if call == nil {
			call = &pendingToolUse{}
			a.calls[index] = call
		}
		if tc.ID != "" {
			call.id = tc.ID
		}
		if tc.Function.Name != "" {
			call.name = tc.Function.Name
		}
		call.input.WriteString(tc.Function.Arguments)
	}

	if choice.FinishReason != "" {
		a.stopReason = string(choice.FinishReason)
		if choice.FinishReason == openai.FinishReasonToolCalls {
			out = append(out, a.flush()...)
		}
	}
	return out
}

func (a *openAIAccumulator) flush() []*agent.CompletionChunk {
	var out []*agent.CompletionChunk
	for _, index := range slices.Sorted(maps.Keys(a.calls)) {
		call := a.calls[index]
		if call.id == "" || call.name == "" {
			continue
		}
		block := models.ToolCallBlock(call.id, call.name, json.RawMessage(call.input.String()))
		out = append(out, &agent.CompletionChunk{ToolCall: &block})
	}
	clear(a.calls)
	return out
}

func (a *openAIAccumulator) finish() []*agent.CompletionChunk {
	out := a.flush()
	return append(out, &agent.CompletionChunk{
		Done:         true,
		StopReason:   a.stopReason,
		InputTokens:  a.inputTokens,
		OutputTokens: a.outputTokens,
	})
}

func (p *OpenAIProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		providerErr := &ProviderError{
			Provider: "openai",
			Model:    model,
			Cause:    err,
			Reason:   FailoverUnknown,
		}
		providerErr = providerErr.WithStatus(apiErr.HTTPStatusCode)
		if apiErr.Message != "" {
			providerErr = providerErr.WithMessage(apiErr.Message)
		}
		if code := fmt.Sprint(apiErr.Code); apiErr.Code != nil && code != "" {
			providerErr = providerErr.WithCode(code)
		} else if apiErr.Type != "" {
			providerErr = providerErr.WithCode(apiErr.Type)
		}
		if providerErr.Message == "" {
			providerErr.Message = fmt.Sprintf("openai request failed with status %d", apiErr.HTTPStatusCode)
		}
		return providerErr
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return NewProviderError("openai", model, err).WithStatus(reqErr.HTTPStatusCode)
	}

	return NewProviderError("openai", model, err)
}
