// Package storage persists chats, preferences, pages, leads, calls, CRM
// contacts and pending approvals. Memory and SQL (postgres, sqlite)
// implementations share the interfaces below.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/haasonsaas/tariti/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// ChatUpdate carries the optional fields of a chat patch.
type ChatUpdate struct {
	Title    *string
	Messages json.RawMessage
}

// ChatStore persists conversations. Every operation except GetSharedChat is
// scoped to the owning user.
type ChatStore interface {
	ListChats(ctx context.Context, userID string, limit int) ([]models.ChatSummary, error)
	CreateChat(ctx context.Context, userID, title string) (*models.Chat, error)
	GetChat(ctx context.Context, id, userID string) (*models.Chat, error)
	UpdateChat(ctx context.Context, id, userID string, update ChatUpdate) (*models.Chat, error)
	DeleteChat(ctx context.Context, id, userID string) error
	ShareChat(ctx context.Context, id, userID, token string) error
	GetSharedChat(ctx context.Context, token string) (*models.Chat, error)
}

// PreferenceStore persists per-user assistant settings.
type PreferenceStore interface {
	// GetPreferences returns the zero value when nothing is stored.
	GetPreferences(ctx context.Context, userID string) (models.Preferences, error)
	SavePreferences(ctx context.Context, userID string, prefs models.Preferences) error
}

// PageUpdate carries the optional fields of a page patch.
type PageUpdate struct {
	Title       *string
	Description *string
	Published   *bool
	Config      json.RawMessage
}

// PageStore persists dashboard pages keyed by slug.
type PageStore interface {
	// ListPages returns pages newest first.
	ListPages(ctx context.Context, publishedOnly bool) ([]models.Page, error)
	GetPage(ctx context.Context, slug string) (*models.Page, error)
	CreatePage(ctx context.Context, page *models.Page) error
	// UpdatePage and DeletePage only touch pages owned by creator.
	UpdatePage(ctx context.Context, slug, creator string, update PageUpdate) (*models.Page, error)
	DeletePage(ctx context.Context, slug, creator string) error
}

// TimeRange bounds a created_at window; nil ends are open.
type TimeRange struct {
	From *time.Time
	To   *time.Time
}

// Contains reports whether t falls inside the range, bounds inclusive.
func (r TimeRange) Contains(t time.Time) bool {
	if r.From != nil && t.Before(*r.From) {
		return false
	}
	if r.To != nil && t.After(*r.To) {
		return false
	}
	return true
}

// LeadFilter selects leads. A zero Limit returns every match.
type LeadFilter struct {
	Status string
	Source string
	Range  TimeRange
	Limit  int
}

// LeadStore persists inbound leads.
type LeadStore interface {
	// ListLeads returns matches newest first.
	ListLeads(ctx context.Context, filter LeadFilter) ([]models.Lead, error)
	GetLead(ctx context.Context, id string) (*models.Lead, error)
	UpdateLeadStatus(ctx context.Context, id string, status models.LeadStatus, processedAt *time.Time) (*models.Lead, error)
}

// CallStore reads telephony records.
type CallStore interface {
	ListCalls(ctx context.Context, r TimeRange) ([]models.Call, error)
}

// ContactStore reads mirrored CRM contacts.
type ContactStore interface {
	// ListContacts filters on synced_at and returns newest first.
	ListContacts(ctx context.Context, r TimeRange) ([]models.AmoContact, error)
}

// ApprovalStore holds suspended turns. Get reports ErrNotFound for missing
// and expired entries; Delete reports ErrNotFound when the entry was already
// consumed, so only one caller can win a decision.
type ApprovalStore interface {
	Put(ctx context.Context, approval *models.PendingApproval) error
	Get(ctx context.Context, id string) (*models.PendingApproval, error)
	Delete(ctx context.Context, id string) error
	// Sweep removes entries created before cutoff and returns how many.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// StoreSet groups storage dependencies.
type StoreSet struct {
	Chats       ChatStore
	Preferences PreferenceStore
	Pages       PageStore
	Leads       LeadStore
	Calls       CallStore
	Contacts    ContactStore
	Approvals   ApprovalStore
	ping        func(context.Context) error
	closer      func() error
}

// Ping checks connectivity to the backing database.
func (s StoreSet) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

// Close closes any underlying resources.
func (s StoreSet) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
