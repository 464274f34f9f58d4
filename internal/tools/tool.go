// Package tools holds the tool registry the assistant calls into. Tools
// declare a typed input whose JSON schema is reflected once at registration
// and enforced before every call; execution failures are reported as
// Result values, never as Go errors.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool is a capability the model can call.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the JSON schema of the tool input.
	Schema() json.RawMessage
	Execute(ctx context.Context, input json.RawMessage, caller Caller) (any, error)
}

// Caller identifies who a tool runs on behalf of.
type Caller struct {
	UserID string
	Token  string
}

// Result is the outcome of one tool call.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Content renders the result as the body of a tool_result block: the data
// on success, {"error": ...} otherwise.
func (r Result) Content() string {
	var payload any = r.Data
	if !r.Success {
		payload = map[string]string{"error": r.Error}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		fallback, _ := json.Marshal(map[string]string{"error": "unencodable tool result: " + err.Error()})
		return string(fallback)
	}
	return string(data)
}

// Failure is a tool error whose Message is shown to the model and the user
// as is. Data carries partial output, such as the console output of a
// script that threw.
type Failure struct {
	Message string
	Data    any
}

func (f *Failure) Error() string { return f.Message }

// Failf returns a Failure with a formatted user-facing message.
func Failf(format string, args ...any) error {
	return &Failure{Message: fmt.Sprintf(format, args...)}
}

// Definition describes a registered tool to providers and clients.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"input_schema"`
	Risky       bool            `json:"risky"`
}
