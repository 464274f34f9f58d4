package externalapi

import "strings"

// List size bounds applied to every list call regardless of caller input.
const (
	DefaultListLimit = 25
	MaxListLimit     = 250
)

const moreHint = "Use params { page: 2 } or { limit: 50 } or filter by query to get more."

// embedded item keys of list responses by resolver key
var embeddedKeys = map[string]string{
	"amocrm.leads_list":       "leads",
	"amocrm.contacts_list":    "contacts",
	"amocrm.companies_list":   "companies",
	"amocrm.tasks_list":       "tasks",
	"amocrm.notes_list":       "notes",
	"amocrm.catalogs_list":    "catalogs",
	"amocrm.catalog_elements": "elements",
}

// compact projections: fields kept besides id and name
var slimFields = map[string][]string{
	"leads":     {"price", "status_id", "created_at"},
	"contacts":  {"first_name", "last_name", "created_at"},
	"companies": {"created_at"},
	"tasks":     {"task_type_id", "text", "complete_till", "is_completed", "entity_id", "entity_type"},
	"notes":     {"note_type", "entity_id", "entity_type", "created_at"},
	"catalogs":  {"type"},
	"elements":  {"catalog_id"},
}

// ListMeta describes one page of a list result.
type ListMeta struct {
	Total   int64  `json:"total"`
	Page    int64  `json:"page"`
	Limit   int64  `json:"limit"`
	Count   int64  `json:"count"`
	HasMore bool   `json:"has_more"`
	Hint    string `json:"hint,omitempty"`
}

// ListEnvelope is the shaped form of every list result.
type ListEnvelope struct {
	Meta  ListMeta `json:"_meta"`
	Items []any    `json:"items"`
}

type listOptions struct {
	compact bool
	// zero when the caller did not ask
	limit int64
	page  int64
}

// shapeList wraps an AmoCRM list response into a ListEnvelope. Responses
// for keys without an embedded list, and non-object data, pass through.
func shapeList(data any, resolverKey string, opts listOptions) any {
	obj, ok := data.(map[string]any)
	if data != nil && !ok {
		return data
	}
	key, ok := embeddedKeys[resolverKey]
	if !ok {
		return data
	}

	items := embeddedList(obj, key)
	pageInfo, _ := obj["_page"].(map[string]any)
	count := int64(len(items))

	total, ok := number(pageInfo["total"])
	if !ok {
		total = count
	}
	limit, ok := number(pageInfo["limit"])
	if !ok {
		limit = opts.limit
		if limit <= 0 {
			limit = DefaultListLimit
		}
	}
	page, ok := number(pageInfo["page"])
	if !ok {
		page = opts.page
		if page <= 0 {
			page = 1
		}
	}

	meta := ListMeta{
		Total:   total,
		Page:    page,
		Limit:   limit,
		Count:   count,
		HasMore: total > count || count >= min(limit, MaxListLimit),
	}
	if meta.HasMore {
		meta.Hint = moreHint
	}

	shaped := items
	if opts.compact {
		shaped = make([]any, len(items))
		for i, item := range items {
			if m, ok := item.(map[string]any); ok {
				shaped[i] = slimItem(m, key)
			} else {
				shaped[i] = item
			}
		}
	}
	return ListEnvelope{Meta: meta, Items: shaped}
}

func embeddedList(obj map[string]any, key string) []any {
	embedded, _ := obj["_embedded"].(map[string]any)
	items, _ := embedded[key].([]any)
	if items == nil {
		items = []any{}
	}
	return items
}

// slimItem keeps id, a display name and the entity's high-value fields.
// Absent fields stay absent.
func slimItem(item map[string]any, key string) map[string]any {
	out := make(map[string]any, 8)
	if id, ok := item["id"]; ok {
		out["id"] = id
	}
	if name, ok := item["name"]; ok && name != nil {
		out["name"] = name
	} else if name := personName(item); name != "" {
		out["name"] = name
	}
	fields, ok := slimFields[key]
	if !ok {
		fields = []string{"created_at"}
	}
	for _, f := range fields {
		if v, ok := item[f]; ok {
			out[f] = v
		}
	}
	return out
}

func personName(item map[string]any) string {
	var parts []string
	for _, k := range []string{"first_name", "last_name"} {
		if s, _ := item[k].(string); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// unwrapSingle returns _embedded.<plural>[0] when present, else data.
func unwrapSingle(data any, plural string) any {
	obj, ok := data.(map[string]any)
	if !ok {
		return data
	}
	embedded, _ := obj["_embedded"].(map[string]any)
	if list, ok := embedded[plural].([]any); ok && len(list) > 0 {
		return list[0]
	}
	return data
}

// pickField projects field out of v: a direct key, then a key of
// _embedded, then a key of the first element of a list.
func pickField(v any, field string) (any, bool) {
	switch t := v.(type) {
	case map[string]any:
		if val, ok := t[field]; ok {
			return val, true
		}
		if embedded, ok := t["_embedded"].(map[string]any); ok {
			if val, ok := embedded[field]; ok {
				return val, true
			}
		}
	case []any:
		if len(t) > 0 {
			if first, ok := t[0].(map[string]any); ok {
				val, ok := first[field]
				return val, ok
			}
		}
	}
	return nil, false
}
