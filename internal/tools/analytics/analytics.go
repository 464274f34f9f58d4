// Package analytics summarises CRM contacts, calls and leads for the
// assistant.
package analytics

import (
	"context"
	"math"
	"time"

	"github.com/haasonsaas/tariti/internal/storage"
	"github.com/haasonsaas/tariti/internal/tools"
)

const sampleSize = 5

// RangeInput bounds an analytics period.
type RangeInput struct {
	DateFrom string `json:"date_from,omitempty" jsonschema_description:"Start date for analytics period (ISO 8601)"`
	DateTo   string `json:"date_to,omitempty" jsonschema_description:"End date for analytics period (ISO 8601)"`
}

// DateRange echoes the requested period.
type DateRange struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

func (in RangeInput) echo() DateRange { return DateRange{From: in.DateFrom, To: in.DateTo} }

// ContactSample is one of the most recently synced contacts.
type ContactSample struct {
	ID       string    `json:"id"`
	SyncedAt time.Time `json:"synced_at"`
}

// ContactSummary is the result of get_amocrm_analytics.
type ContactSummary struct {
	TotalContacts int             `json:"total_contacts"`
	DateRange     DateRange       `json:"date_range"`
	Sample        []ContactSample `json:"sample"`
}

// CallSummary is the result of get_moizvonki_analytics.
type CallSummary struct {
	TotalCalls           int            `json:"total_calls"`
	TotalDurationSeconds int64          `json:"total_duration_seconds"`
	AvgDurationSeconds   int64          `json:"avg_duration_seconds"`
	ByStatus             map[string]int `json:"by_status"`
	ByDay                map[string]int `json:"by_day"`
	DateRange            DateRange      `json:"date_range"`
}

// LeadSummary is the result of get_leads_analytics.
type LeadSummary struct {
	TotalLeads int            `json:"total_leads"`
	ByStatus   map[string]int `json:"by_status"`
	BySource   map[string]int `json:"by_source"`
	ByDay      map[string]int `json:"by_day"`
	DateRange  DateRange      `json:"date_range"`
}

// Service implements the analytics tools.
type Service struct {
	contacts storage.ContactStore
	calls    storage.CallStore
	leads    storage.LeadStore
}

// NewService creates the analytics tools.
func NewService(contacts storage.ContactStore, calls storage.CallStore, leads storage.LeadStore) *Service {
	return &Service{contacts: contacts, calls: calls, leads: leads}
}

// Tools returns the analytics tools for registration.
func (s *Service) Tools() []tools.Tool {
	return []tools.Tool{
		tools.New("get_amocrm_analytics", "Get AmoCRM contact/property analytics including total contacts synced and recent activity.", s.Contacts),
		tools.New("get_moizvonki_analytics", "Get call analytics from Moizvonki including total calls, duration statistics, and breakdown by call status (inbound/outbound/missed).", s.Calls),
		tools.New("get_leads_analytics", "Get lead analytics including total counts, breakdown by status (new/accepted/rejected/etc.) and by source.", s.Leads),
	}
}

// Contacts counts synced CRM contacts in the range.
func (s *Service) Contacts(ctx context.Context, in RangeInput, _ tools.Caller) (any, error) {
	r, err := storage.ParseTimeRange(in.DateFrom, in.DateTo)
	if err != nil {
		return nil, tools.Failf("Failed to fetch AmoCRM analytics: %v", err)
	}
	list, err := s.contacts.ListContacts(ctx, r)
	if err != nil {
		return nil, tools.Failf("Failed to fetch AmoCRM analytics: %v", err)
	}
	sample := make([]ContactSample, 0, sampleSize)
	for _, c := range list[:min(len(list), sampleSize)] {
		sample = append(sample, ContactSample{ID: c.ID, SyncedAt: c.SyncedAt})
	}
	return ContactSummary{
		TotalContacts: len(list),
		DateRange:     in.echo(),
		Sample:        sample,
	}, nil
}

// Calls totals call durations and buckets calls by status and day.
func (s *Service) Calls(ctx context.Context, in RangeInput, _ tools.Caller) (any, error) {
	r, err := storage.ParseTimeRange(in.DateFrom, in.DateTo)
	if err != nil {
		return nil, tools.Failf("Failed to fetch Moizvonki analytics: %v", err)
	}
	list, err := s.calls.ListCalls(ctx, r)
	if err != nil {
		return nil, tools.Failf("Failed to fetch Moizvonki analytics: %v", err)
	}
	summary := CallSummary{
		TotalCalls: len(list),
		ByStatus:   map[string]int{},
		ByDay:      map[string]int{},
		DateRange:  in.echo(),
	}
	for _, call := range list {
		if call.Duration != nil {
			summary.TotalDurationSeconds += *call.Duration
		}
		status := "unknown"
		if call.Status != nil {
			status = *call.Status
		}
		summary.ByStatus[status]++
		summary.ByDay[day(call.CreatedAt)]++
	}
	if len(list) > 0 {
		summary.AvgDurationSeconds = int64(math.Round(float64(summary.TotalDurationSeconds) / float64(len(list))))
	}
	return summary, nil
}

// Leads buckets leads by status, source and day.
func (s *Service) Leads(ctx context.Context, in RangeInput, _ tools.Caller) (any, error) {
	r, err := storage.ParseTimeRange(in.DateFrom, in.DateTo)
	if err != nil {
		return nil, tools.Failf("Failed to fetch leads analytics: %v", err)
	}
	list, err := s.leads.ListLeads(ctx, storage.LeadFilter{Range: r})
	if err != nil {
		return nil, tools.Failf("Failed to fetch leads analytics: %v", err)
	}
	summary := LeadSummary{
		TotalLeads: len(list),
		ByStatus:   map[string]int{},
		BySource:   map[string]int{},
		ByDay:      map[string]int{},
		DateRange:  in.echo(),
	}
	for _, lead := range list {
		summary.ByStatus[string(lead.Status)]++
		summary.BySource[lead.Source]++
		summary.ByDay[day(lead.CreatedAt)]++
	}
	return summary, nil
}

func day(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
