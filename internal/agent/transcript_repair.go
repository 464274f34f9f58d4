package agent

import "github.com/haasonsaas/tariti/pkg/models"

const interruptedToolResult = `{"error":"This tool call was interrupted and did not complete."}`

// SanitizeMessages repairs a history before it is sent to a provider.
// Messages without content are dropped. Every assistant message with tool
// calls is followed by a user message holding exactly one result per call,
// in call order: the first existing result for an id is kept, missing ones
// are stubbed as interrupted, and duplicate or unknown results are dropped.
// Other blocks of that user message follow the results. Tool results that
// answer no preceding call are removed.
func SanitizeMessages(history []models.Message) []models.Message {
	if len(history) == 0 {
		return history
	}

	kept := make([]models.Message, 0, len(history))
	for _, msg := range history {
		if len(msg.Content) == 0 {
			continue
		}
		kept = append(kept, msg)
	}

	repaired := make([]models.Message, 0, len(kept)+1)
	for i := 0; i < len(kept); i++ {
		msg := kept[i]

		if msg.Role == models.RoleUser {
			// Not preceded by tool calls, so any results here are orphans.
			if stripped, ok := withoutToolResults(msg); ok {
				repaired = append(repaired, stripped)
			}
			continue
		}
		repaired = append(repaired, msg)

		calls := msg.ToolCalls()
		if msg.Role != models.RoleAssistant || len(calls) == 0 {
			continue
		}

		var next *models.Message
		if i+1 < len(kept) && kept[i+1].Role == models.RoleUser {
			next = &kept[i+1]
			i++
		}
		repaired = append(repaired, answerCalls(calls, next))
	}

	return repaired
}

// answerCalls builds the user message that answers calls from next, which
// may be nil.
func answerCalls(calls []models.ContentBlock, next *models.Message) models.Message {
	existing := make(map[string]models.ContentBlock)
	var rest []models.ContentBlock
	if next != nil {
		for _, block := range next.Content {
			if block.Type != models.BlockToolResult {
				rest = append(rest, block)
				continue
			}
			if _, seen := existing[block.ToolCallID]; !seen {
				existing[block.ToolCallID] = block
			}
		}
	}

	out := models.Message{Role: models.RoleUser}
	out.Content = make([]models.ContentBlock, 0, len(calls)+len(rest))
	for _, call := range calls {
		if result, ok := existing[call.ID]; ok {
			out.Content = append(out.Content, result)
			continue
		}
		out.Content = append(out.Content, models.ToolResultBlock(call.ID, interruptedToolResult, true))
	}
	out.Content = append(out.Content, rest...)
	return out
}

func withoutToolResults(msg models.Message) (models.Message, bool) {
	if len(msg.ToolResults()) == 0 {
		return msg, true
	}
	out := models.Message{Role: msg.Role}
	for _, block := range msg.Content {
		if block.Type != models.BlockToolResult {
			out.Content = append(out.Content, block)
		}
	}
	return out, len(out.Content) > 0
}
