package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/tariti/pkg/models"
)

// SQLStore implements the record stores over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

const chatColumns = `id, user_id, title, messages, share_token, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (*models.Chat, error) {
	var chat models.Chat
	var messages []byte
	var share sql.NullString
	if err := row.Scan(&chat.ID, &chat.UserID, &chat.Title, &messages, &share, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
		return nil, err
	}
	chat.Messages = json.RawMessage(messages)
	chat.ShareToken = share.String
	return &chat, nil
}

func (s *SQLStore) ListChats(ctx context.Context, userID string, limit int) ([]models.ChatSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		`SELECT id, title, created_at, updated_at FROM chats WHERE user_id = $1 ORDER BY updated_at DESC LIMIT $2`),
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	out := []models.ChatSummary{}
	for rows.Next() {
		var c models.ChatSummary
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return out, nil
}

func (s *SQLStore) CreateChat(ctx context.Context, userID, title string) (*models.Chat, error) {
	now := s.now().UTC()
	chat := &models.Chat{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Messages:  json.RawMessage("[]"),
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO chats (id, user_id, title, messages, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`),
		chat.ID, chat.UserID, chat.Title, string(chat.Messages), chat.CreatedAt, chat.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return chat, nil
}

func (s *SQLStore) GetChat(ctx context.Context, id, userID string) (*models.Chat, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT `+chatColumns+` FROM chats WHERE id = $1 AND user_id = $2`), id, userID)
	chat, err := scanChat(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return chat, nil
}

func (s *SQLStore) UpdateChat(ctx context.Context, id, userID string, update ChatUpdate) (*models.Chat, error) {
	sets := []string{"updated_at = $1"}
	args := []any{s.now().UTC()}
	if update.Title != nil {
		args = append(args, *update.Title)
		sets = append(sets, fmt.Sprintf("title = $%d", len(args)))
	}
	if update.Messages != nil {
		args = append(args, string(update.Messages))
		sets = append(sets, fmt.Sprintf("messages = $%d", len(args)))
	}
	args = append(args, id, userID)
	query := fmt.Sprintf(`UPDATE chats SET %s WHERE id = $%d AND user_id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args)-1, len(args), chatColumns)

	chat, err := scanChat(s.db.QueryRowContext(ctx, s.dialect.rebind(query), args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update chat: %w", err)
	}
	return chat, nil
}

func (s *SQLStore) DeleteChat(ctx context.Context, id, userID string) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`DELETE FROM chats WHERE id = $1 AND user_id = $2`), id, userID); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	return nil
}

func (s *SQLStore) ShareChat(ctx context.Context, id, userID, token string) error {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`UPDATE chats SET share_token = $1, share_created_at = $2, updated_at = $2 WHERE id = $3 AND user_id = $4`),
		token, now, id, userID)
	if err != nil {
		return fmt.Errorf("share chat: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) GetSharedChat(ctx context.Context, token string) (*models.Chat, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	chat, err := scanChat(s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT `+chatColumns+` FROM chats WHERE share_token = $1`), token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get shared chat: %w", err)
	}
	return chat, nil
}

func (s *SQLStore) GetPreferences(ctx context.Context, userID string) (models.Preferences, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT preferences FROM user_preferences WHERE user_id = $1`), userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Preferences{}, nil
	}
	if err != nil {
		return models.Preferences{}, fmt.Errorf("get preferences: %w", err)
	}
	var prefs models.Preferences
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &prefs); err != nil {
			return models.Preferences{}, fmt.Errorf("unmarshal preferences: %w", err)
		}
	}
	return prefs, nil
}

func (s *SQLStore) SavePreferences(ctx context.Context, userID string, prefs models.Preferences) error {
	raw, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO user_preferences (user_id, preferences, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET preferences = excluded.preferences, updated_at = excluded.updated_at`),
		userID, string(raw), s.now().UTC())
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

const pageColumns = `id, slug, title, description, creator, config, published, created_at, updated_at`

func scanPage(row rowScanner) (*models.Page, error) {
	var page models.Page
	var desc, creator sql.NullString
	var config []byte
	if err := row.Scan(&page.ID, &page.Slug, &page.Title, &desc, &creator, &config, &page.Published, &page.CreatedAt, &page.UpdatedAt); err != nil {
		return nil, err
	}
	page.Description = stringPtr(desc)
	page.Creator = creator.String
	page.Config = json.RawMessage(config)
	return &page, nil
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func (s *SQLStore) ListPages(ctx context.Context, publishedOnly bool) ([]models.Page, error) {
	query := `SELECT ` + pageColumns + ` FROM pages`
	if publishedOnly {
		query += ` WHERE published = TRUE`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	out := []models.Page{}
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		out = append(out, *page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	return out, nil
}

func (s *SQLStore) GetPage(ctx context.Context, slug string) (*models.Page, error) {
	page, err := scanPage(s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT `+pageColumns+` FROM pages WHERE slug = $1`), slug))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get page: %w", err)
	}
	return page, nil
}

func (s *SQLStore) CreatePage(ctx context.Context, page *models.Page) error {
	if page == nil || strings.TrimSpace(page.Slug) == "" {
		return fmt.Errorf("page slug is required")
	}
	if page.ID == "" {
		page.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if page.CreatedAt.IsZero() {
		page.CreatedAt = now
	}
	page.UpdatedAt = now
	config := page.Config
	if len(config) == 0 {
		config = json.RawMessage("{}")
	}
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO pages (`+pageColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`),
		page.ID, page.Slug, page.Title, nullable(page.Description), page.Creator, string(config),
		page.Published, page.CreatedAt, page.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create page: %w", err)
	}
	return nil
}

func (s *SQLStore) UpdatePage(ctx context.Context, slug, creator string, update PageUpdate) (*models.Page, error) {
	sets := []string{"updated_at = $1"}
	args := []any{s.now().UTC()}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.Title != nil {
		add("title", *update.Title)
	}
	if update.Description != nil {
		add("description", *update.Description)
	}
	if update.Published != nil {
		add("published", *update.Published)
	}
	if update.Config != nil {
		add("config", string(update.Config))
	}
	args = append(args, slug, creator)
	query := fmt.Sprintf(`UPDATE pages SET %s WHERE slug = $%d AND creator = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args)-1, len(args), pageColumns)

	page, err := scanPage(s.db.QueryRowContext(ctx, s.dialect.rebind(query), args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update page: %w", err)
	}
	return page, nil
}

func (s *SQLStore) DeletePage(ctx context.Context, slug, creator string) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`DELETE FROM pages WHERE slug = $1 AND creator = $2`), slug, creator); err != nil {
		return fmt.Errorf("delete page: %w", err)
	}
	return nil
}

const leadColumns = `id, source, name, email, phone, message, status, assigned_to, raw_payload, created_at, processed_at`

func scanLead(row rowScanner) (*models.Lead, error) {
	var lead models.Lead
	var name, email, phone, message, assigned sql.NullString
	var status string
	var raw []byte
	var processed sql.NullTime
	if err := row.Scan(&lead.ID, &lead.Source, &name, &email, &phone, &message, &status, &assigned, &raw, &lead.CreatedAt, &processed); err != nil {
		return nil, err
	}
	lead.Name = stringPtr(name)
	lead.Email = stringPtr(email)
	lead.Phone = stringPtr(phone)
	lead.Message = stringPtr(message)
	lead.AssignedTo = stringPtr(assigned)
	lead.Status = models.LeadStatus(status)
	if len(raw) > 0 {
		lead.RawPayload = json.RawMessage(raw)
	}
	if processed.Valid {
		at := processed.Time
		lead.ProcessedAt = &at
	}
	return &lead, nil
}

func (s *SQLStore) ListLeads(ctx context.Context, filter LeadFilter) ([]models.Lead, error) {
	var where []string
	var args []any
	cond := func(expr string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(expr, len(args)))
	}
	if filter.Status != "" {
		cond("status = $%d", filter.Status)
	}
	if filter.Source != "" {
		cond("source = $%d", filter.Source)
	}
	if filter.Range.From != nil {
		cond("created_at >= $%d", filter.Range.From.UTC())
	}
	if filter.Range.To != nil {
		cond("created_at <= $%d", filter.Range.To.UTC())
	}

	query := `SELECT ` + leadColumns + ` FROM leads`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	out := []models.Lead{}
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		out = append(out, *lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	return out, nil
}

func (s *SQLStore) GetLead(ctx context.Context, id string) (*models.Lead, error) {
	lead, err := scanLead(s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT `+leadColumns+` FROM leads WHERE id = $1`), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get lead: %w", err)
	}
	return lead, nil
}

func (s *SQLStore) UpdateLeadStatus(ctx context.Context, id string, status models.LeadStatus, processedAt *time.Time) (*models.Lead, error) {
	var query string
	args := []any{string(status)}
	if processedAt != nil {
		args = append(args, processedAt.UTC(), id)
		query = `UPDATE leads SET status = $1, processed_at = $2 WHERE id = $3 RETURNING ` + leadColumns
	} else {
		args = append(args, id)
		query = `UPDATE leads SET status = $1 WHERE id = $2 RETURNING ` + leadColumns
	}
	lead, err := scanLead(s.db.QueryRowContext(ctx, s.dialect.rebind(query), args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update lead: %w", err)
	}
	return lead, nil
}

func rangeClause(column string, r TimeRange) (string, []any) {
	var where []string
	var args []any
	if r.From != nil {
		args = append(args, r.From.UTC())
		where = append(where, fmt.Sprintf("%s >= $%d", column, len(args)))
	}
	if r.To != nil {
		args = append(args, r.To.UTC())
		where = append(where, fmt.Sprintf("%s <= $%d", column, len(args)))
	}
	if len(where) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

func (s *SQLStore) ListCalls(ctx context.Context, r TimeRange) ([]models.Call, error) {
	clause, args := rangeClause("created_at", r)
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		`SELECT id, lead_id, caller, callee, duration, status, created_at FROM calls`+clause+` ORDER BY created_at DESC`), args...)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	out := []models.Call{}
	for rows.Next() {
		var call models.Call
		var leadID, caller, callee, status sql.NullString
		var duration sql.NullInt64
		if err := rows.Scan(&call.ID, &leadID, &caller, &callee, &duration, &status, &call.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		call.LeadID = stringPtr(leadID)
		call.Caller = stringPtr(caller)
		call.Callee = stringPtr(callee)
		call.Status = stringPtr(status)
		if duration.Valid {
			d := duration.Int64
			call.Duration = &d
		}
		out = append(out, call)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	return out, nil
}

func (s *SQLStore) ListContacts(ctx context.Context, r TimeRange) ([]models.AmoContact, error) {
	clause, args := rangeClause("synced_at", r)
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		`SELECT id, data, synced_at FROM amocrm_contacts`+clause+` ORDER BY synced_at DESC`), args...)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	out := []models.AmoContact{}
	for rows.Next() {
		var contact models.AmoContact
		var data []byte
		if err := rows.Scan(&contact.ID, &data, &contact.SyncedAt); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contact.Data = json.RawMessage(data)
		out = append(out, contact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique constraint")
}

// SQLApprovalStore persists pending approvals as JSON payloads.
type SQLApprovalStore struct {
	db      *sql.DB
	dialect Dialect
	ttl     time.Duration
	now     func() time.Time
}

func (s *SQLApprovalStore) Put(ctx context.Context, approval *models.PendingApproval) error {
	if approval == nil || approval.ID == "" {
		return fmt.Errorf("approval id is required")
	}
	payload, err := json.Marshal(approval)
	if err != nil {
		return fmt.Errorf("marshal approval: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO pending_approvals (id, user_id, payload, created_at) VALUES ($1, $2, $3, $4)`),
		approval.ID, approval.UserID, string(payload), approval.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("put approval: %w", err)
	}
	return nil
}

func (s *SQLApprovalStore) Get(ctx context.Context, id string) (*models.PendingApproval, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT payload FROM pending_approvals WHERE id = $1 AND created_at > $2`),
		id, s.now().Add(-s.ttl).UTC()).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get approval: %w", err)
	}
	var approval models.PendingApproval
	if err := json.Unmarshal(payload, &approval); err != nil {
		return nil, fmt.Errorf("unmarshal approval: %w", err)
	}
	return &approval, nil
}

func (s *SQLApprovalStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`DELETE FROM pending_approvals WHERE id = $1`), id)
	if err != nil {
		return fmt.Errorf("delete approval: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete approval: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLApprovalStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`DELETE FROM pending_approvals WHERE created_at < $1`), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("sweep approvals: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep approvals: %w", err)
	}
	return int(n), nil
}
