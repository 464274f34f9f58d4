package tools

import (
	"encoding/json"
	"fmt"
	"strings"
)

var riskyTools = map[string]bool{
	"create_page":            true,
	"update_page":            true,
	"delete_page":            true,
	"update_lead_status":     true,
	"forward_lead_to_amocrm": true,
}

// IsRisky reports whether a tool needs human approval before it runs.
func IsRisky(name string) bool {
	return riskyTools[name]
}

// Describe renders the approval prompt for a tool call. It does no I/O and
// tolerates malformed input.
func Describe(name string, input json.RawMessage) string {
	var in map[string]any
	_ = json.Unmarshal(input, &in)

	switch name {
	case "create_page":
		widgets := 0
		if config, ok := in["config"].(map[string]any); ok {
			if list, ok := config["widgets"].([]any); ok {
				widgets = len(list)
			}
		}
		return fmt.Sprintf("Create a new dashboard page titled %q with %d widget(s)", text(in["title"]), widgets)
	case "update_page":
		var b strings.Builder
		fmt.Fprintf(&b, "Update page %q", text(in["slug"]))
		if config, ok := in["config"]; ok && config != nil {
			b.WriteString(" (including widget layout)")
		}
		if published, ok := in["published"]; ok && published != nil {
			fmt.Fprintf(&b, " and set published = %s", text(published))
		}
		return b.String()
	case "delete_page":
		return fmt.Sprintf("Permanently delete page %q. This cannot be undone", text(in["slug"]))
	case "update_lead_status":
		desc := fmt.Sprintf("Change lead %s status to %q", text(in["lead_id"]), text(in["status"]))
		if reason := text(in["reason"]); reason != "" {
			desc += ". Reason: " + reason
		}
		return desc
	case "forward_lead_to_amocrm":
		return fmt.Sprintf("Forward lead %s to AmoCRM and mark it as \"forwarded\"", text(in["lead_id"]))
	default:
		return "Execute tool: " + name
	}
}

func text(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return fmt.Sprint(s)
	case bool:
		if s {
			return "true"
		}
		return "false"
	default:
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Sprint(s)
		}
		return string(data)
	}
}
