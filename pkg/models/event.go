package models

import (
	"encoding/json"
	"fmt"
)

// EventType identifies the kind of stream event pushed to a client.
type EventType string

const (
	EventTextDelta        EventType = "text_delta"
	EventToolUseStart     EventType = "tool_use_start"
	EventToolResult       EventType = "tool_result"
	EventApprovalRequired EventType = "approval_required"
	EventToolRejected     EventType = "tool_rejected"
	EventDone             EventType = "done"
	EventError            EventType = "error"
)

// Event is one entry of the turn stream. Only the fields relevant to Type
// are serialized.
type Event struct {
	Type EventType

	Text string

	ToolID           string
	ToolName         string
	ToolInput        json.RawMessage
	RequiresApproval bool
	Approved         bool

	Result  any
	IsError bool
	Error   string

	ApprovalID  string
	Description string

	Messages          []Message
	PendingApprovalID string
}

// TextDelta returns a text_delta event.
func TextDelta(text string) Event {
	return Event{Type: EventTextDelta, Text: text}
}

// ErrorEvent returns an error event.
func ErrorEvent(msg string) Event {
	return Event{Type: EventError, Error: msg}
}

// DoneEvent returns a done event carrying the conversation history.
func DoneEvent(messages []Message, pendingApprovalID string) Event {
	return Event{Type: EventDone, Messages: messages, PendingApprovalID: pendingApprovalID}
}

// MarshalJSON renders the event in its wire shape.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventTextDelta:
		return json.Marshal(struct {
			Type EventType `json:"type"`
			Text string    `json:"text"`
		}{e.Type, e.Text})
	case EventToolUseStart:
		return json.Marshal(struct {
			Type             EventType       `json:"type"`
			ToolID           string          `json:"tool_id"`
			ToolName         string          `json:"tool_name"`
			ToolInput        json.RawMessage `json:"tool_input"`
			RequiresApproval bool            `json:"requires_approval"`
			Approved         bool            `json:"approved,omitempty"`
		}{e.Type, e.ToolID, e.ToolName, NormalizeInput(e.ToolInput), e.RequiresApproval, e.Approved})
	case EventToolResult:
		return json.Marshal(struct {
			Type     EventType `json:"type"`
			ToolID   string    `json:"tool_id"`
			ToolName string    `json:"tool_name"`
			Result   any       `json:"result,omitempty"`
			IsError  bool      `json:"is_error"`
			Error    string    `json:"error,omitempty"`
		}{e.Type, e.ToolID, e.ToolName, e.Result, e.IsError, e.Error})
	case EventApprovalRequired:
		return json.Marshal(struct {
			Type        EventType       `json:"type"`
			ApprovalID  string          `json:"approval_id"`
			ToolName    string          `json:"tool_name"`
			ToolInput   json.RawMessage `json:"tool_input"`
			Description string          `json:"description"`
		}{e.Type, e.ApprovalID, e.ToolName, NormalizeInput(e.ToolInput), e.Description})
	case EventToolRejected:
		return json.Marshal(struct {
			Type     EventType `json:"type"`
			ToolID   string    `json:"tool_id"`
			ToolName string    `json:"tool_name"`
		}{e.Type, e.ToolID, e.ToolName})
	case EventDone:
		messages := e.Messages
		if messages == nil {
			messages = []Message{}
		}
		return json.Marshal(struct {
			Type              EventType `json:"type"`
			Messages          []Message `json:"messages"`
			PendingApprovalID string    `json:"pending_approval_id,omitempty"`
		}{e.Type, messages, e.PendingApprovalID})
	case EventError:
		return json.Marshal(struct {
			Type  EventType `json:"type"`
			Error string    `json:"error"`
		}{e.Type, e.Error})
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}
