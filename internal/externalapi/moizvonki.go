package externalapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultMoizvonkiBaseURL is the shared Moizvonki API endpoint.
const DefaultMoizvonkiBaseURL = "https://app.moizvonki.ru/api/v1"

// maxCallResults caps calls.list pages.
const maxCallResults = 100

// MoizvonkiConfig configures the Moizvonki client.
type MoizvonkiConfig struct {
	BaseURL    string
	APIKey     string
	User       string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// MoizvonkiClient calls the Moizvonki API: every call is a POST of
// {user_name, api_key, action, ...params} to one endpoint.
type MoizvonkiClient struct {
	baseURL  string
	apiKey   string
	user     string
	client   *http.Client
	maxBytes int64
}

// NewMoizvonkiClient creates a Moizvonki client. Only the API key is
// required for the client to be configured.
func NewMoizvonkiClient(cfg MoizvonkiConfig) *MoizvonkiClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultMoizvonkiBaseURL
	}
	return &MoizvonkiClient{
		baseURL:  baseURL,
		apiKey:   strings.TrimSpace(cfg.APIKey),
		user:     strings.TrimSpace(cfg.User),
		client:   client,
		maxBytes: defaultMaxResponseBytes,
	}
}

// Configured reports whether an API key is set.
func (c *MoizvonkiClient) Configured() bool {
	return c != nil && c.apiKey != ""
}

// CallsQuery filters calls.list. Dates are unix seconds.
type CallsQuery struct {
	FromID     int64
	FromDate   *int64
	ToDate     *int64
	FromOffset *int64
	// MaxResults is capped at 100; zero means DefaultListLimit.
	MaxResults int64
	Supervised *int64
}

// PageQuery pages the company listing actions.
type PageQuery struct {
	MaxResults *int64
	FromOffset *int64
}

// EmployeeQuery filters company.list_employee.
type EmployeeQuery struct {
	PageQuery
	UserName   string
	EmployeeID *int64
}

func (c *MoizvonkiClient) Calls(ctx context.Context, q CallsQuery) (any, error) {
	maxResults := q.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultListLimit
	}
	params := map[string]any{
		"from_id":     q.FromID,
		"max_results": min(maxResults, maxCallResults),
	}
	setOptional(params, "from_date", q.FromDate)
	setOptional(params, "to_date", q.ToDate)
	setOptional(params, "from_offset", q.FromOffset)
	setOptional(params, "supervised", q.Supervised)
	return c.Do(ctx, "calls.list", params)
}

func (c *MoizvonkiClient) SMSTemplates(ctx context.Context) (any, error) {
	return c.Do(ctx, "calls.get_sms_templates", nil)
}

func (c *MoizvonkiClient) Employees(ctx context.Context, q EmployeeQuery) (any, error) {
	params := q.PageQuery.params()
	if q.UserName != "" {
		params["employee_user_name"] = q.UserName
	}
	setOptional(params, "employee_id", q.EmployeeID)
	return c.Do(ctx, "company.list_employee", params)
}

func (c *MoizvonkiClient) Groups(ctx context.Context, q PageQuery) (any, error) {
	return c.Do(ctx, "company.list_group", q.params())
}

func (c *MoizvonkiClient) Webhooks(ctx context.Context) (any, error) {
	return c.Do(ctx, "webhook.list", nil)
}

func (q PageQuery) params() map[string]any {
	params := map[string]any{}
	setOptional(params, "max_results", q.MaxResults)
	setOptional(params, "from_offset", q.FromOffset)
	return params
}

func setOptional(params map[string]any, key string, v *int64) {
	if v != nil {
		params[key] = *v
	}
}

// Do performs one API action.
func (c *MoizvonkiClient) Do(ctx context.Context, action string, params map[string]any) (any, error) {
	if !c.Configured() {
		return nil, newError(ErrNotConfigured, "Moizvonki API is not configured. Set MOIZVONKI_API_KEY and MOIZVONKI_USER.")
	}

	body := make(map[string]any, len(params)+3)
	for k, v := range params {
		body[k] = v
	}
	body["user_name"] = c.user
	body["api_key"] = c.apiKey
	body["action"] = action

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, newError(ErrUpstream, "Moizvonki request failed: encode body: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(encoded))
	if err != nil {
		return nil, newError(ErrUpstream, "Moizvonki request failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, newError(ErrUpstream, "Moizvonki request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, newError(ErrUpstream, "Moizvonki request failed: read response: %v", err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, newError(ErrUpstream, "Moizvonki response too large")
	}
	text := string(data)
	value, decodeErr := decodeJSON(data)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := truncate(text, 500)
		if decodeErr == nil {
			if obj, ok := value.(map[string]any); ok {
				if msg, ok := obj["error"]; ok {
					detail = fmt.Sprint(msg)
				}
			}
		}
		e := newError(ErrUpstream, "Moizvonki API returned %d: %s", resp.StatusCode, detail)
		e.Status = resp.StatusCode
		return nil, e
	}
	if decodeErr != nil {
		return nil, newError(ErrUpstream, "Invalid JSON response: %s", truncate(text, 200))
	}
	return value, nil
}
