package models

import "time"

// PendingApproval is a turn suspended on a risky tool call. It is consumed
// exactly once by an approve or reject decision.
type PendingApproval struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	// Token is the caller's access token, replayed to tools on resume. It
	// is never serialized; the resuming request supplies its own.
	Token  string `json:"-"`
	ChatID string `json:"chat_id,omitempty"`

	// Messages is the history up to and including the assistant message
	// that issued ToolCall.
	Messages []Message      `json:"messages"`
	ToolCall ContentBlock   `json:"tool_call"`
	AllCalls []ContentBlock `json:"all_calls"`
	// ResultsSoFar are the results of the safe calls that ran before ToolCall.
	ResultsSoFar []ContentBlock `json:"results_so_far"`

	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the approval is older than ttl at now.
func (p *PendingApproval) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && !now.Before(p.CreatedAt.Add(ttl))
}
