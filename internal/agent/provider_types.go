package agent

import (
	"context"

	"github.com/haasonsaas/tariti/internal/tools"
	"github.com/haasonsaas/tariti/pkg/models"
)

// Provider defines the interface for language model backends.
//
// Implementations translate the canonical message history into their wire
// format and stream the response back as CompletionChunks. Complete must
// return an error, rather than a chunk, for failures that happen before the
// first response byte so the caller can retry the request safely.
//
// Thread Safety:
// Implementations must be safe for concurrent use.
//
// See Also:
//   - providers.AnthropicProvider
//   - providers.OpenAIProvider
type Provider interface {
	// Complete sends a request and returns a streaming response. The channel
	// is closed after a Done or Error chunk.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name used in logs and metrics.
	Name() string
}

// CompletionRequest contains all parameters for one model round trip.
type CompletionRequest struct {
	// Model selects the provider model. Empty means the provider default.
	Model string

	// System is the system prompt.
	System string

	// Messages is the sanitized conversation history.
	Messages []models.Message

	// Tools are the definitions offered to the model.
	Tools []tools.Definition

	// MaxTokens limits the response length; zero means the provider default.
	MaxTokens int
}

// CompletionChunk is a single element of a streaming response.
//
// Exactly one of Text, ToolCall, Done or Error is meaningful per chunk:
//
//	for chunk := range chunks {
//	    switch {
//	    case chunk.Error != nil:
//	        return chunk.Error
//	    case chunk.ToolCall != nil:
//	        calls = append(calls, *chunk.ToolCall)
//	    case chunk.Text != "":
//	        sink.Send(models.TextDelta(chunk.Text))
//	    case chunk.Done:
//	        break
//	    }
//	}
type CompletionChunk struct {
	// Text is a fragment of the assistant's reply, in order.
	Text string

	// ToolCall is a fully assembled tool_call block.
	ToolCall *models.ContentBlock

	// Done marks successful completion of the stream.
	Done bool

	// StopReason is the provider's stop reason, set with Done.
	StopReason string

	// Error terminates the stream.
	Error error

	// InputTokens and OutputTokens are populated with Done when reported.
	InputTokens  int
	OutputTokens int
}
