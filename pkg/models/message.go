// Package models provides domain types for the Tariti agent service.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType discriminates the variants of ContentBlock.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolCall   BlockType = "tool_call"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one typed fragment of a message: plain text, a tool
// invocation requested by the model, or the result of that invocation.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_call
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolCallID string `json:"tool_call_id,omitempty"`
	Content    string `json:"content,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
}

// TextBlock returns a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolCallBlock returns a tool_call content block. A nil or empty input is
// normalized to an empty JSON object.
func ToolCallBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolCall, ID: id, Name: name, Input: NormalizeInput(input)}
}

// ToolResultBlock returns a tool_result content block.
func ToolResultBlock(toolCallID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolCallID: toolCallID, Content: content, IsError: isError}
}

// NormalizeInput returns input unchanged when it is a JSON object and "{}"
// otherwise.
func NormalizeInput(input json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(input)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(trimmed)
}

// UnmarshalJSON accepts the canonical shape and the legacy stored shape
// (tool_use / tool_use_id, tool_result content as an array of text parts).
func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type       string          `json:"type"`
		Text       string          `json:"text"`
		ID         string          `json:"id"`
		Name       string          `json:"name"`
		Input      json.RawMessage `json:"input"`
		ToolCallID string          `json:"tool_call_id"`
		ToolUseID  string          `json:"tool_use_id"`
		Content    json.RawMessage `json:"content"`
		IsError    bool            `json:"is_error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch raw.Type {
	case string(BlockText):
		*b = TextBlock(raw.Text)
	case string(BlockToolCall), "tool_use":
		*b = ToolCallBlock(raw.ID, raw.Name, raw.Input)
	case string(BlockToolResult):
		id := raw.ToolCallID
		if id == "" {
			id = raw.ToolUseID
		}
		content, err := decodeResultContent(raw.Content)
		if err != nil {
			return fmt.Errorf("tool_result %s: %w", id, err)
		}
		*b = ToolResultBlock(id, content, raw.IsError)
	default:
		return fmt.Errorf("unknown content block type %q", raw.Type)
	}
	return nil
}

func decodeResultContent(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	case '[':
		var parts []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(raw, &parts); err != nil {
			return "", err
		}
		var buf bytes.Buffer
		for _, p := range parts {
			buf.WriteString(p.Text)
		}
		return buf.String(), nil
	default:
		return string(raw), nil
	}
}

// Message is one turn of a conversation.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// UserText returns a user message holding a single text block.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{TextBlock(text)}}
}

// UnmarshalJSON accepts content given either as a string or as a list of
// content blocks.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    Role            `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Role != RoleUser && raw.Role != RoleAssistant {
		return fmt.Errorf("invalid message role %q", raw.Role)
	}
	m.Role = raw.Role
	m.Content = nil

	content := bytes.TrimSpace(raw.Content)
	if len(content) == 0 || bytes.Equal(content, []byte("null")) {
		return nil
	}
	if content[0] == '"' {
		var text string
		if err := json.Unmarshal(content, &text); err != nil {
			return err
		}
		m.Content = []ContentBlock{TextBlock(text)}
		return nil
	}
	return json.Unmarshal(content, &m.Content)
}

// ToolCalls returns the tool_call blocks of the message in order.
func (m Message) ToolCalls() []ContentBlock {
	var calls []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolCall {
			calls = append(calls, b)
		}
	}
	return calls
}

// ToolResults returns the tool_result blocks of the message in order.
func (m Message) ToolResults() []ContentBlock {
	var results []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolResult {
			results = append(results, b)
		}
	}
	return results
}

// Text concatenates the text blocks of the message.
func (m Message) Text() string {
	var buf bytes.Buffer
	for _, b := range m.Content {
		if b.Type == BlockText {
			buf.WriteString(b.Text)
		}
	}
	return buf.String()
}

// CloneMessages returns a copy of msgs whose slices can be appended to
// without aliasing the original.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = Message{Role: m.Role, Content: append([]ContentBlock(nil), m.Content...)}
	}
	return out
}
