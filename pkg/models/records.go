package models

import (
	"encoding/json"
	"time"
)

// User is the authenticated caller of a request.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Chat is a stored conversation. Messages is kept opaque to the store.
type Chat struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Title      string          `json:"title"`
	Messages   json.RawMessage `json:"messages,omitempty"`
	ShareToken string          `json:"share_token,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// ChatSummary is the list projection of a chat.
type ChatSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Page is a dashboard page built from widgets.
type Page struct {
	ID          string          `json:"id"`
	Slug        string          `json:"slug"`
	Title       string          `json:"title"`
	Description *string         `json:"description"`
	Creator     string          `json:"creator,omitempty"`
	Config      json.RawMessage `json:"config"`
	Published   bool            `json:"published"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// LeadStatus is the processing state of a lead.
type LeadStatus string

const (
	LeadNew       LeadStatus = "new"
	LeadAccepted  LeadStatus = "accepted"
	LeadRejected  LeadStatus = "rejected"
	LeadAssigned  LeadStatus = "assigned"
	LeadProcessed LeadStatus = "processed"
	LeadForwarded LeadStatus = "forwarded"
)

// LeadStatuses lists every valid lead status.
var LeadStatuses = []LeadStatus{LeadNew, LeadAccepted, LeadRejected, LeadAssigned, LeadProcessed, LeadForwarded}

// Terminal reports whether reaching the status marks the lead processed.
func (s LeadStatus) Terminal() bool {
	return s == LeadProcessed || s == LeadForwarded
}

// Lead is an inbound inquiry.
type Lead struct {
	ID          string          `json:"id"`
	Source      string          `json:"source"`
	Name        *string         `json:"name"`
	Email       *string         `json:"email"`
	Phone       *string         `json:"phone"`
	Message     *string         `json:"message"`
	Status      LeadStatus      `json:"status"`
	AssignedTo  *string         `json:"assigned_to"`
	RawPayload  json.RawMessage `json:"raw_payload,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at"`
}

// DisplayName returns the lead name, or its id when the name is unset.
func (l *Lead) DisplayName() string {
	if l.Name != nil && *l.Name != "" {
		return *l.Name
	}
	return l.ID
}

// Call is a telephony record.
type Call struct {
	ID        string    `json:"id"`
	LeadID    *string   `json:"lead_id"`
	Caller    *string   `json:"caller"`
	Callee    *string   `json:"callee"`
	Duration  *int64    `json:"duration"`
	Status    *string   `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// AmoContact is a CRM contact mirrored locally.
type AmoContact struct {
	ID       string          `json:"id"`
	Data     json.RawMessage `json:"data,omitempty"`
	SyncedAt time.Time       `json:"synced_at"`
}

// AI provider preference values.
const (
	ProviderAnthropic             = "anthropic"
	ProviderOpenAI                = "openai"
	ProviderAnthropicWithFallback = "anthropic_with_openai_fallback"
)

// Preferences are the per-user assistant settings.
type Preferences struct {
	AIProvider            string `json:"ai_provider"`
	OpenAIFallbackEnabled *bool  `json:"openai_fallback_enabled,omitempty"`
	OpenAIModel           string `json:"openai_model,omitempty"`
	DeveloperMode         bool   `json:"developer_mode,omitempty"`
}

// ValidAIProvider reports whether p is an accepted ai_provider value.
func ValidAIProvider(p string) bool {
	switch p {
	case ProviderAnthropic, ProviderOpenAI, ProviderAnthropicWithFallback:
		return true
	}
	return false
}

// WithDefaults fills unset preferences.
func (p Preferences) WithDefaults(defaultOpenAIModel string) Preferences {
	if p.AIProvider == "" {
		p.AIProvider = ProviderAnthropic
	}
	if p.OpenAIFallbackEnabled == nil {
		enabled := true
		p.OpenAIFallbackEnabled = &enabled
	}
	if p.OpenAIModel == "" {
		p.OpenAIModel = defaultOpenAIModel
	}
	return p
}

// FallbackEnabled reports the effective fallback flag.
func (p Preferences) FallbackEnabled() bool {
	return p.OpenAIFallbackEnabled == nil || *p.OpenAIFallbackEnabled
}
