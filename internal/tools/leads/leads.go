// Package leads exposes inbound lead queries and processing to the
// assistant, including forwarding a lead to AmoCRM.
package leads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/tariti/internal/storage"
	"github.com/haasonsaas/tariti/internal/tools"
	"github.com/haasonsaas/tariti/pkg/models"
)

// Page sizes for get_leads.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// ContactCreator creates contacts in the CRM.
type ContactCreator interface {
	Configured() bool
	CreateContacts(ctx context.Context, contacts []map[string]any) (any, error)
}

// GetInput filters get_leads.
type GetInput struct {
	Status   string `json:"status,omitempty" jsonschema:"enum=new,enum=accepted,enum=rejected,enum=assigned,enum=processed,enum=forwarded" jsonschema_description:"Filter by lead status"`
	Source   string `json:"source,omitempty" jsonschema_description:"Filter by lead source (e.g. \"website\", \"phone\", \"amocrm\")"`
	DateFrom string `json:"date_from,omitempty" jsonschema_description:"Filter leads created after this date (ISO 8601 format)"`
	DateTo   string `json:"date_to,omitempty" jsonschema_description:"Filter leads created before this date (ISO 8601 format)"`
	Limit    int    `json:"limit,omitempty" jsonschema_description:"Maximum number of leads to return (default 50, max 200)"`
}

// UpdateStatusInput is the input of update_lead_status.
type UpdateStatusInput struct {
	LeadID string `json:"lead_id" jsonschema_description:"The UUID of the lead to update"`
	Status string `json:"status" jsonschema:"enum=new,enum=accepted,enum=rejected,enum=assigned,enum=processed,enum=forwarded" jsonschema_description:"The new status for the lead"`
	Reason string `json:"reason,omitempty" jsonschema_description:"Optional reason for the status change (for context)"`
}

// ForwardInput is the input of forward_lead_to_amocrm.
type ForwardInput struct {
	LeadID string `json:"lead_id" jsonschema_description:"The UUID of the lead to forward"`
}

// Filters echoes the filters a lead query applied.
type Filters struct {
	Status   string `json:"status,omitempty"`
	Source   string `json:"source,omitempty"`
	DateFrom string `json:"date_from,omitempty"`
	DateTo   string `json:"date_to,omitempty"`
}

// Service implements the lead tools.
type Service struct {
	store  storage.LeadStore
	crm    ContactCreator
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates the lead tools. crm may be nil, in which case
// forwarding only updates the local status.
func NewService(store storage.LeadStore, crm ContactCreator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, crm: crm, logger: logger.With("tool_group", "leads"), now: time.Now}
}

// Tools returns the lead tools for registration.
func (s *Service) Tools() []tools.Tool {
	return []tools.Tool{
		tools.New("get_leads", "Fetch leads from the database with optional filters. Returns name, phone, email, message, status, source, and timestamps.", s.List),
		tools.New("update_lead_status", "Update the status of a specific lead.", s.UpdateStatus),
		tools.New("forward_lead_to_amocrm", "Forward a lead to AmoCRM. This marks the lead as \"forwarded\" and creates a contact/deal in AmoCRM.", s.Forward),
	}
}

// List returns leads matching the filters, newest first.
func (s *Service) List(ctx context.Context, in GetInput, _ tools.Caller) (any, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)

	r, err := storage.ParseTimeRange(in.DateFrom, in.DateTo)
	if err != nil {
		return nil, tools.Failf("Failed to fetch leads: %v", err)
	}
	list, err := s.store.ListLeads(ctx, storage.LeadFilter{
		Status: in.Status,
		Source: in.Source,
		Range:  r,
		Limit:  limit,
	})
	if err != nil {
		return nil, tools.Failf("Failed to fetch leads: %v", err)
	}
	return map[string]any{
		"leads": list,
		"count": len(list),
		"filters_applied": Filters{
			Status:   in.Status,
			Source:   in.Source,
			DateFrom: in.DateFrom,
			DateTo:   in.DateTo,
		},
	}, nil
}

// UpdateStatus sets a lead's status. Terminal statuses stamp processed_at.
func (s *Service) UpdateStatus(ctx context.Context, in UpdateStatusInput, caller tools.Caller) (any, error) {
	status := models.LeadStatus(in.Status)
	var processedAt *time.Time
	if status.Terminal() {
		now := s.now().UTC()
		processedAt = &now
	}
	lead, err := s.store.UpdateLeadStatus(ctx, in.LeadID, status, processedAt)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, tools.Failf("Failed to update lead: lead %s not found", in.LeadID)
	}
	if err != nil {
		return nil, tools.Failf("Failed to update lead: %v", err)
	}
	s.logger.Info("lead status updated",
		"lead_id", lead.ID,
		"status", status,
		"reason", in.Reason,
		"user_id", caller.UserID,
	)
	return map[string]any{
		"lead":    lead,
		"message": fmt.Sprintf("Lead %s status updated to %q", lead.DisplayName(), in.Status),
	}, nil
}

// Forward marks a lead forwarded and then creates a matching AmoCRM
// contact. The CRM call is best effort: its failure is logged and the lead
// stays forwarded.
func (s *Service) Forward(ctx context.Context, in ForwardInput, caller tools.Caller) (any, error) {
	lead, err := s.store.GetLead(ctx, in.LeadID)
	if err != nil {
		return nil, tools.Failf("Lead not found: %s", in.LeadID)
	}
	now := s.now().UTC()
	updated, err := s.store.UpdateLeadStatus(ctx, in.LeadID, models.LeadForwarded, &now)
	if err != nil {
		return nil, tools.Failf("Failed to forward lead: %v", err)
	}

	if s.crm != nil && s.crm.Configured() {
		if _, err := s.crm.CreateContacts(ctx, []map[string]any{ContactFor(lead)}); err != nil {
			s.logger.Warn("AmoCRM contact creation failed, lead still marked as forwarded",
				"lead_id", lead.ID,
				"error", err,
			)
		}
	}

	s.logger.Info("lead forwarded", "lead_id", lead.ID, "user_id", caller.UserID)
	return map[string]any{
		"lead":    updated,
		"message": fmt.Sprintf("Lead %q has been forwarded to AmoCRM", lead.DisplayName()),
	}, nil
}

// ContactFor builds the AmoCRM contact payload for a lead.
func ContactFor(lead *models.Lead) map[string]any {
	name := "Unknown"
	if lead.Name != nil && *lead.Name != "" {
		name = *lead.Name
	}
	fields := []any{}
	if lead.Phone != nil && *lead.Phone != "" {
		fields = append(fields, customField("PHONE", *lead.Phone))
	}
	if lead.Email != nil && *lead.Email != "" {
		fields = append(fields, customField("EMAIL", *lead.Email))
	}
	return map[string]any{
		"name":                 name,
		"custom_fields_values": fields,
	}
}

func customField(code, value string) map[string]any {
	return map[string]any{
		"field_code": code,
		"values":     []any{map[string]any{"value": value}},
	}
}
