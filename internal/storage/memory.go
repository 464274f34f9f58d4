package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/tariti/pkg/models"
)

// NewMemoryStores returns a StoreSet backed entirely by process memory.
func NewMemoryStores(approvalTTL time.Duration) (StoreSet, *MemoryStore) {
	mem := NewMemoryStore()
	return StoreSet{
		Chats:       mem,
		Preferences: mem,
		Pages:       mem,
		Leads:       mem,
		Calls:       mem,
		Contacts:    mem,
		Approvals:   NewMemoryApprovalStore(approvalTTL),
	}, mem
}

// MemoryStore implements the record stores in memory. Returned values are
// copies.
type MemoryStore struct {
	mu       sync.RWMutex
	chats    map[string]models.Chat
	prefs    map[string]models.Preferences
	pages    map[string]models.Page
	leads    map[string]models.Lead
	calls    []models.Call
	contacts []models.AmoContact
	now      func() time.Time
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats: make(map[string]models.Chat),
		prefs: make(map[string]models.Preferences),
		pages: make(map[string]models.Page),
		leads: make(map[string]models.Lead),
		now:   time.Now,
	}
}

// AddLead seeds a lead.
func (s *MemoryStore) AddLead(lead models.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	s.leads[lead.ID] = lead
}

// AddCall seeds a call record.
func (s *MemoryStore) AddCall(call models.Call) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

// AddContact seeds a mirrored CRM contact.
func (s *MemoryStore) AddContact(contact models.AmoContact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts = append(s.contacts, contact)
}

func (s *MemoryStore) ListChats(ctx context.Context, userID string, limit int) ([]models.ChatSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.ChatSummary{}
	for _, chat := range s.chats {
		if chat.UserID != userID {
			continue
		}
		out = append(out, models.ChatSummary{ID: chat.ID, Title: chat.Title, CreatedAt: chat.CreatedAt, UpdatedAt: chat.UpdatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CreateChat(ctx context.Context, userID, title string) (*models.Chat, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	now := s.now()
	chat := models.Chat{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Messages:  json.RawMessage("[]"),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.chats[chat.ID] = chat
	s.mu.Unlock()
	return &chat, nil
}

func (s *MemoryStore) GetChat(ctx context.Context, id, userID string) (*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[id]
	if !ok || chat.UserID != userID {
		return nil, ErrNotFound
	}
	return &chat, nil
}

func (s *MemoryStore) UpdateChat(ctx context.Context, id, userID string, update ChatUpdate) (*models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[id]
	if !ok || chat.UserID != userID {
		return nil, ErrNotFound
	}
	if update.Title != nil {
		chat.Title = *update.Title
	}
	if update.Messages != nil {
		chat.Messages = append(json.RawMessage(nil), update.Messages...)
	}
	chat.UpdatedAt = s.now()
	s.chats[id] = chat
	return &chat, nil
}

func (s *MemoryStore) DeleteChat(ctx context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if chat, ok := s.chats[id]; ok && chat.UserID == userID {
		delete(s.chats, id)
	}
	return nil
}

func (s *MemoryStore) ShareChat(ctx context.Context, id, userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[id]
	if !ok || chat.UserID != userID {
		return ErrNotFound
	}
	chat.ShareToken = token
	chat.UpdatedAt = s.now()
	s.chats[id] = chat
	return nil
}

func (s *MemoryStore) GetSharedChat(ctx context.Context, token string) (*models.Chat, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, chat := range s.chats {
		if chat.ShareToken == token {
			return &chat, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetPreferences(ctx context.Context, userID string) (models.Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs[userID], nil
}

func (s *MemoryStore) SavePreferences(ctx context.Context, userID string, prefs models.Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[userID] = prefs
	return nil
}

func (s *MemoryStore) ListPages(ctx context.Context, publishedOnly bool) ([]models.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Page{}
	for _, page := range s.pages {
		if publishedOnly && !page.Published {
			continue
		}
		out = append(out, page)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) GetPage(ctx context.Context, slug string) (*models.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	page, ok := s.pages[slug]
	if !ok {
		return nil, ErrNotFound
	}
	return &page, nil
}

func (s *MemoryStore) CreatePage(ctx context.Context, page *models.Page) error {
	if page == nil || strings.TrimSpace(page.Slug) == "" {
		return fmt.Errorf("page slug is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pages[page.Slug]; exists {
		return ErrAlreadyExists
	}
	if page.ID == "" {
		page.ID = uuid.NewString()
	}
	now := s.now()
	if page.CreatedAt.IsZero() {
		page.CreatedAt = now
	}
	page.UpdatedAt = now
	s.pages[page.Slug] = *page
	return nil
}

func (s *MemoryStore) UpdatePage(ctx context.Context, slug, creator string, update PageUpdate) (*models.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[slug]
	if !ok || page.Creator != creator {
		return nil, ErrNotFound
	}
	if update.Title != nil {
		page.Title = *update.Title
	}
	if update.Description != nil {
		desc := *update.Description
		page.Description = &desc
	}
	if update.Published != nil {
		page.Published = *update.Published
	}
	if update.Config != nil {
		page.Config = append(json.RawMessage(nil), update.Config...)
	}
	page.UpdatedAt = s.now()
	s.pages[slug] = page
	return &page, nil
}

func (s *MemoryStore) DeletePage(ctx context.Context, slug, creator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if page, ok := s.pages[slug]; ok && page.Creator == creator {
		delete(s.pages, slug)
	}
	return nil
}

func (s *MemoryStore) ListLeads(ctx context.Context, filter LeadFilter) ([]models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Lead{}
	for _, lead := range s.leads {
		if filter.Status != "" && string(lead.Status) != filter.Status {
			continue
		}
		if filter.Source != "" && lead.Source != filter.Source {
			continue
		}
		if !filter.Range.Contains(lead.CreatedAt) {
			continue
		}
		out = append(out, lead)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) GetLead(ctx context.Context, id string) (*models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lead, ok := s.leads[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &lead, nil
}

func (s *MemoryStore) UpdateLeadStatus(ctx context.Context, id string, status models.LeadStatus, processedAt *time.Time) (*models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.leads[id]
	if !ok {
		return nil, ErrNotFound
	}
	lead.Status = status
	if processedAt != nil {
		at := *processedAt
		lead.ProcessedAt = &at
	}
	s.leads[id] = lead
	return &lead, nil
}

func (s *MemoryStore) ListCalls(ctx context.Context, r TimeRange) ([]models.Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Call{}
	for _, call := range s.calls {
		if r.Contains(call.CreatedAt) {
			out = append(out, call)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListContacts(ctx context.Context, r TimeRange) ([]models.AmoContact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.AmoContact{}
	for _, contact := range s.contacts {
		if r.Contains(contact.SyncedAt) {
			out = append(out, contact)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SyncedAt.After(out[j].SyncedAt) })
	return out, nil
}

// MemoryApprovalStore holds pending approvals in a mutex-guarded map.
type MemoryApprovalStore struct {
	mu        sync.Mutex
	approvals map[string]*models.PendingApproval
	ttl       time.Duration
	now       func() time.Time
}

// NewMemoryApprovalStore creates an approval store whose entries read as
// missing once older than ttl.
func NewMemoryApprovalStore(ttl time.Duration) *MemoryApprovalStore {
	return &MemoryApprovalStore{
		approvals: make(map[string]*models.PendingApproval),
		ttl:       ttl,
		now:       time.Now,
	}
}

func (s *MemoryApprovalStore) Put(ctx context.Context, approval *models.PendingApproval) error {
	if approval == nil || approval.ID == "" {
		return fmt.Errorf("approval id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.approvals[approval.ID]; exists {
		return ErrAlreadyExists
	}
	s.approvals[approval.ID] = approval
	return nil
}

func (s *MemoryApprovalStore) Get(ctx context.Context, id string) (*models.PendingApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	approval, ok := s.approvals[id]
	if !ok || approval.Expired(s.now(), s.ttl) {
		return nil, ErrNotFound
	}
	return approval, nil
}

func (s *MemoryApprovalStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.approvals[id]; !ok {
		return ErrNotFound
	}
	delete(s.approvals, id)
	return nil
}

func (s *MemoryApprovalStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, approval := range s.approvals {
		if approval.CreatedAt.Before(cutoff) {
			delete(s.approvals, id)
			removed++
		}
	}
	return removed, nil
}
