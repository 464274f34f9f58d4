package leads

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/tariti/internal/externalapi"
	"github.com/haasonsaas/tariti/internal/storage"
	"github.com/haasonsaas/tariti/internal/tools"
	"github.com/haasonsaas/tariti/pkg/models"
)

func strPtr(s string) *string { return &s }

func seed(store *storage.MemoryStore) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.AddLead(models.Lead{ID: "l1", Source: "website", Name: strPtr("Ana"), Phone: strPtr("+37360000000"), Status: models.LeadNew, CreatedAt: base})
	store.AddLead(models.Lead{ID: "l2", Source: "phone", Status: models.LeadNew, CreatedAt: base.Add(24 * time.Hour)})
	store.AddLead(models.Lead{ID: "l3", Source: "website", Status: models.LeadAccepted, CreatedAt: base.Add(48 * time.Hour)})
}

func newRegistry(t *testing.T, crm ContactCreator) (*tools.Registry, *storage.MemoryStore, *Service) {
	t.Helper()
	store := storage.NewMemoryStore()
	seed(store)
	svc := NewService(store, crm, nil)
	svc.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	reg := tools.NewRegistry(tools.Options{})
	for _, tool := range svc.Tools() {
		if err := reg.Register(tool); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	return reg, store, svc
}

func run(reg *tools.Registry, name, input string) tools.Result {
	return reg.Execute(context.Background(), name, json.RawMessage(input), tools.Caller{UserID: "u1"})
}

func TestGetLeads(t *testing.T) {
	reg, _, _ := newRegistry(t, nil)
	tests := []struct {
		name      string
		input     string
		wantCount int
		wantFirst string
	}{
		{name: "all newest first", input: `{}`, wantCount: 3, wantFirst: "l3"},
		{name: "status", input: `{"status":"new"}`, wantCount: 2, wantFirst: "l2"},
		{name: "source", input: `{"source":"website"}`, wantCount: 2, wantFirst: "l3"},
		{name: "date window", input: `{"date_from":"2024-05-02","date_to":"2024-05-02"}`, wantCount: 1, wantFirst: "l2"},
		{name: "limit", input: `{"limit":1}`, wantCount: 1, wantFirst: "l3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := run(reg, "get_leads", tt.input)
			if !res.Success {
				t.Fatalf("get_leads failed: %s", res.Error)
			}
			data := res.Data.(map[string]any)
			list := data["leads"].([]models.Lead)
			if data["count"] != tt.wantCount || len(list) != tt.wantCount {
				t.Fatalf("count = %v, want %d", data["count"], tt.wantCount)
			}
			if list[0].ID != tt.wantFirst {
				t.Fatalf("first = %s, want %s", list[0].ID, tt.wantFirst)
			}
		})
	}
}

func TestGetLeadsRejectsBadInput(t *testing.T) {
	reg, _, _ := newRegistry(t, nil)
	if res := run(reg, "get_leads", `{"status":"archived"}`); res.Success {
		t.Fatal("unknown status should fail validation")
	}
	res := run(reg, "get_leads", `{"date_from":"last week"}`)
	if res.Success || !strings.HasPrefix(res.Error, "Failed to fetch leads: ") {
		t.Fatalf("result = %+v", res)
	}
}

func TestUpdateLeadStatus(t *testing.T) {
	reg, store, _ := newRegistry(t, nil)

	res := run(reg, "update_lead_status", `{"lead_id":"l1","status":"accepted","reason":"good fit"}`)
	if !res.Success {
		t.Fatalf("update failed: %s", res.Error)
	}
	if msg := res.Data.(map[string]any)["message"]; msg != `Lead Ana status updated to "accepted"` {
		t.Fatalf("message = %v", msg)
	}
	lead, _ := store.GetLead(context.Background(), "l1")
	if lead.ProcessedAt != nil {
		t.Fatal("accepted should not set processed_at")
	}

	if res := run(reg, "update_lead_status", `{"lead_id":"l2","status":"processed"}`); !res.Success {
		t.Fatalf("update failed: %s", res.Error)
	}
	lead, _ = store.GetLead(context.Background(), "l2")
	if lead.ProcessedAt == nil {
		t.Fatal("processed should set processed_at")
	}

	if res := run(reg, "update_lead_status", `{"lead_id":"nope","status":"processed"}`); res.Success {
		t.Fatal("missing lead should fail")
	}
}

func TestLeadErrorsAreUserFacing(t *testing.T) {
	_, _, svc := newRegistry(t, nil)
	ctx := context.Background()
	caller := tools.Caller{UserID: "u1"}

	tests := []struct {
		name string
		call func() error
		want string
	}{
		{
			name: "bad date",
			call: func() error {
				_, err := svc.List(ctx, GetInput{DateFrom: "last week"}, caller)
				return err
			},
			want: "Failed to fetch leads: ",
		},
		{
			name: "update missing",
			call: func() error {
				_, err := svc.UpdateStatus(ctx, UpdateStatusInput{LeadID: "nope", Status: "processed"}, caller)
				return err
			},
			want: "Failed to update lead: lead nope not found",
		},
		{
			name: "forward missing",
			call: func() error {
				_, err := svc.Forward(ctx, ForwardInput{LeadID: "nope"}, caller)
				return err
			},
			want: "Lead not found: nope",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			var failure *tools.Failure
			if !errors.As(err, &failure) {
				t.Fatalf("error = %v, want *tools.Failure", err)
			}
			if !strings.HasPrefix(failure.Message, tt.want) {
				t.Errorf("message = %q, want prefix %q", failure.Message, tt.want)
			}
		})
	}
}

type recordingCRM struct {
	mu      sync.Mutex
	bodies  [][]map[string]any
	fail    bool
	enabled bool
}

func (c *recordingCRM) Configured() bool { return c.enabled }

func (c *recordingCRM) CreateContacts(_ context.Context, contacts []map[string]any) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bodies = append(c.bodies, contacts)
	if c.fail {
		return nil, io.ErrUnexpectedEOF
	}
	return nil, nil
}

func TestForwardLead(t *testing.T) {
	tests := []struct {
		name      string
		crm       *recordingCRM
		wantCalls int
	}{
		{name: "configured", crm: &recordingCRM{enabled: true}, wantCalls: 1},
		{name: "crm failure is not fatal", crm: &recordingCRM{enabled: true, fail: true}, wantCalls: 1},
		{name: "unconfigured", crm: &recordingCRM{}, wantCalls: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, store, _ := newRegistry(t, tt.crm)
			res := run(reg, "forward_lead_to_amocrm", `{"lead_id":"l1"}`)
			if !res.Success {
				t.Fatalf("forward failed: %s", res.Error)
			}
			if msg := res.Data.(map[string]any)["message"]; msg != `Lead "Ana" has been forwarded to AmoCRM` {
				t.Fatalf("message = %v", msg)
			}
			lead, _ := store.GetLead(context.Background(), "l1")
			if lead.Status != models.LeadForwarded || lead.ProcessedAt == nil {
				t.Fatalf("lead = %+v", lead)
			}
			if len(tt.crm.bodies) != tt.wantCalls {
				t.Fatalf("crm calls = %d, want %d", len(tt.crm.bodies), tt.wantCalls)
			}
		})
	}
}

func TestForwardLeadNotFound(t *testing.T) {
	reg, _, _ := newRegistry(t, nil)
	res := run(reg, "forward_lead_to_amocrm", `{"lead_id":"ghost"}`)
	if res.Success || res.Error != "Lead not found: ghost" {
		t.Fatalf("result = %+v", res)
	}
}

func TestForwardLeadPostsContactToAmoCRM(t *testing.T) {
	var body []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v4/contacts" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"_embedded":{"contacts":[{"id":1}]}}`))
	}))
	defer srv.Close()

	client := externalapi.NewAmoCRMClient(externalapi.AmoCRMConfig{BaseURL: srv.URL, APIKey: "k"})
	reg, _, _ := newRegistry(t, client)
	if res := run(reg, "forward_lead_to_amocrm", `{"lead_id":"l1"}`); !res.Success {
		t.Fatalf("forward failed: %s", res.Error)
	}
	if len(body) != 1 || body[0]["name"] != "Ana" {
		t.Fatalf("body = %v", body)
	}
	fields := body[0]["custom_fields_values"].([]any)
	if len(fields) != 1 || fields[0].(map[string]any)["field_code"] != "PHONE" {
		t.Fatalf("fields = %v", fields)
	}
}

func TestContactForDefaults(t *testing.T) {
	contact := ContactFor(&models.Lead{ID: "x", Email: strPtr("a@b.c")})
	if contact["name"] != "Unknown" {
		t.Fatalf("name = %v", contact["name"])
	}
	fields := contact["custom_fields_values"].([]any)
	if len(fields) != 1 || fields[0].(map[string]any)["field_code"] != "EMAIL" {
		t.Fatalf("fields = %v", fields)
	}
}
