package externalapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTimeout          = 30 * time.Second
	defaultMaxResponseBytes = int64(8 << 20)

	// maxTaskDatePages bounds date-ranged task scans at 80 pages of 250.
	maxTaskDatePages = 80
)

// AmoCRMConfig configures the AmoCRM REST v4 client.
type AmoCRMConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// AmoCRMClient calls the AmoCRM REST API v4. A client built from an empty
// config is valid; every call then fails with ErrNotConfigured.
type AmoCRMClient struct {
	baseURL  string
	apiKey   string
	client   *http.Client
	maxBytes int64
}

// NewAmoCRMClient creates an AmoCRM client.
func NewAmoCRMClient(cfg AmoCRMConfig) *AmoCRMClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &AmoCRMClient{
		baseURL:  strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:   strings.TrimSpace(cfg.APIKey),
		client:   client,
		maxBytes: defaultMaxResponseBytes,
	}
}

// Configured reports whether both base URL and API key are set.
func (c *AmoCRMClient) Configured() bool {
	return c != nil && c.baseURL != "" && c.apiKey != ""
}

// ListQuery pages a list endpoint. Zero Limit means DefaultListLimit.
type ListQuery struct {
	Limit int64
	Page  int64
	Query string
}

func (q ListQuery) values() url.Values {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	v := url.Values{}
	v.Set("limit", strconv.FormatInt(min(limit, MaxListLimit), 10))
	if q.Page > 0 {
		v.Set("page", strconv.FormatInt(q.Page, 10))
	}
	if q.Query != "" {
		v.Set("query", q.Query)
	}
	return v
}

// NoteQuery filters the notes list by the entity the notes belong to.
type NoteQuery struct {
	ListQuery
	EntityID   string
	EntityType string
}

// TaskQuery filters the tasks list. DateFrom and DateTo are unix seconds
// compared against complete_till.
type TaskQuery struct {
	ListQuery
	DateFrom    *int64
	DateTo      *int64
	IsCompleted *int64
	TaskTypeIDs []int64
}

func (c *AmoCRMClient) Account(ctx context.Context) (any, error) {
	return c.do(ctx, http.MethodGet, "/account", nil, nil)
}

func (c *AmoCRMClient) Pipelines(ctx context.Context) (any, error) {
	return c.do(ctx, http.MethodGet, "/leads/pipelines", nil, nil)
}

func (c *AmoCRMClient) Users(ctx context.Context) (any, error) {
	return c.do(ctx, http.MethodGet, "/users", nil, nil)
}

func (c *AmoCRMClient) Leads(ctx context.Context, q ListQuery) (any, error) {
	return c.do(ctx, http.MethodGet, "/leads", q.values(), nil)
}

func (c *AmoCRMClient) Contacts(ctx context.Context, q ListQuery) (any, error) {
	return c.do(ctx, http.MethodGet, "/contacts", q.values(), nil)
}

func (c *AmoCRMClient) Companies(ctx context.Context, q ListQuery) (any, error) {
	return c.do(ctx, http.MethodGet, "/companies", q.values(), nil)
}

// Catalogs lists catalogs. The upstream endpoint has no search.
func (c *AmoCRMClient) Catalogs(ctx context.Context, q ListQuery) (any, error) {
	q.Query = ""
	return c.do(ctx, http.MethodGet, "/catalogs", q.values(), nil)
}

func (c *AmoCRMClient) CatalogElements(ctx context.Context, catalogID string, q ListQuery) (any, error) {
	return c.do(ctx, http.MethodGet, "/catalogs/"+url.PathEscape(catalogID)+"/elements", q.values(), nil)
}

func (c *AmoCRMClient) Notes(ctx context.Context, q NoteQuery) (any, error) {
	q.Query = ""
	v := q.values()
	if q.EntityID != "" {
		v.Set("filter[entity_id]", q.EntityID)
	}
	if q.EntityType != "" {
		v.Set("filter[entity_type]", q.EntityType)
	}
	return c.do(ctx, http.MethodGet, "/notes", v, nil)
}

// Get fetches one item of a collection such as leads or contacts.
func (c *AmoCRMClient) Get(ctx context.Context, collection, id string) (any, error) {
	return c.do(ctx, http.MethodGet, "/"+collection+"/"+url.PathEscape(id), nil, nil)
}

// CreateContacts posts new contacts.
func (c *AmoCRMClient) CreateContacts(ctx context.Context, contacts []map[string]any) (any, error) {
	return c.do(ctx, http.MethodPost, "/contacts", nil, contacts)
}

// Tasks lists tasks. With both date bounds set the upstream date filter is
// not used: pages of MaxListLimit ordered by complete_till ascending are
// scanned and filtered locally until a task falls past DateTo, a page comes
// back short, or maxTaskDatePages pages have been read.
func (c *AmoCRMClient) Tasks(ctx context.Context, q TaskQuery) (any, error) {
	if q.DateFrom == nil || q.DateTo == nil {
		v := q.filters(q.ListQuery.values())
		if q.DateFrom != nil {
			v.Set("filter[date_from]", strconv.FormatInt(*q.DateFrom, 10))
		}
		if q.DateTo != nil {
			v.Set("filter[date_to]", strconv.FormatInt(*q.DateTo, 10))
		}
		return c.do(ctx, http.MethodGet, "/tasks", v, nil)
	}

	from, to := *q.DateFrom, *q.DateTo
	collected := []any{}
	for page := int64(1); page <= maxTaskDatePages; page++ {
		v := q.filters(ListQuery{Limit: MaxListLimit, Page: page}.values())
		v.Set("order[complete_till]", "asc")
		data, err := c.do(ctx, http.MethodGet, "/tasks", v, nil)
		if err != nil {
			return nil, err
		}
		obj, _ := data.(map[string]any)
		list := embeddedList(obj, "tasks")

		pastRange := false
		for _, item := range list {
			task, ok := item.(map[string]any)
			if !ok {
				continue
			}
			till, ok := number(task["complete_till"])
			if !ok {
				continue
			}
			if till > to {
				pastRange = true
				break
			}
			if till >= from {
				collected = append(collected, task)
			}
		}
		if pastRange || len(list) < MaxListLimit {
			break
		}
	}

	// limit is the page size scanned, not the number collected, so a window
	// of MaxListLimit or more tasks reports has_more.
	return map[string]any{
		"_embedded": map[string]any{"tasks": collected},
		"_page": map[string]any{
			"total": len(collected),
			"limit": MaxListLimit,
			"page":  1,
		},
	}, nil
}

func (q TaskQuery) filters(v url.Values) url.Values {
	if q.IsCompleted != nil {
		v.Set("filter[is_completed]", strconv.FormatInt(*q.IsCompleted, 10))
	}
	if len(q.TaskTypeIDs) > 0 {
		ids := make([]string, len(q.TaskTypeIDs))
		for i, id := range q.TaskTypeIDs {
			ids[i] = strconv.FormatInt(id, 10)
		}
		v.Set("filter[task_type_id][]", strings.Join(ids, ","))
	}
	return v
}

// ParseTaskBound converts a date filter given as unix seconds or as
// YYYY-MM-DD. Dates map to the start of the day in UTC, or to its last
// second when endOfDay is set.
func ParseTaskBound(v any, endOfDay bool) (int64, bool) {
	if n, ok := number(v); ok {
		return n, true
	}
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	day, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	if endOfDay {
		day = day.Add(24*time.Hour - time.Millisecond)
	}
	return day.Unix(), true
}

func (c *AmoCRMClient) do(ctx context.Context, method, path string, query url.Values, body any) (any, error) {
	if !c.Configured() {
		return nil, newError(ErrNotConfigured, "AmoCRM API is not configured. Set AMOCRM_BASE_URL and AMOCRM_API_KEY.")
	}
	endpoint := c.baseURL + "/api/v4" + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, newError(ErrUpstream, "AmoCRM request failed: encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, newError(ErrUpstream, "AmoCRM request failed: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, newError(ErrUpstream, "AmoCRM request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, newError(ErrUpstream, "AmoCRM request failed: read response: %v", err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, newError(ErrUpstream, "AmoCRM response too large")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e := newError(ErrUpstream, "AmoCRM API returned %d: %s", resp.StatusCode, truncate(string(data), 500))
		e.Status = resp.StatusCode
		return nil, e
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	value, err := decodeJSON(data)
	if err != nil {
		return nil, newError(ErrUpstream, "Invalid JSON response")
	}
	return value, nil
}
