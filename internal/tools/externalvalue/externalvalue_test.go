package externalvalue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/haasonsaas/tariti/internal/externalapi"
	"github.com/haasonsaas/tariti/internal/tools"
)

func newRegistry(t *testing.T, baseURL string) *tools.Registry {
	t.Helper()
	amo := externalapi.NewAmoCRMClient(externalapi.AmoCRMConfig{BaseURL: baseURL, APIKey: "secret"})
	resolver := externalapi.NewResolver(amo, nil, externalapi.Options{})
	reg := tools.NewRegistry(tools.Options{})
	if err := reg.Register(Tool(resolver)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return reg
}

func TestGetExternalValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v4/leads/42":
			_, _ = w.Write([]byte(`{"id":42,"name":"Flat","price":95000}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	reg := newRegistry(t, srv.URL)

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr string
	}{
		{name: "field", input: `{"path":"amocrm.lead(42).price"}`, want: `95000`},
		{name: "id param", input: `{"path":"amocrm.lead","params":{"leadId":42}}`, want: `{"id":42,"name":"Flat","price":95000}`},
		{name: "unknown variable", input: `{"path":"amocrm.widgets"}`, wantErr: "Unknown variable: amocrm.widgets"},
		{name: "bad path", input: `{"path":"salesforce.lead"}`, wantErr: "Invalid path"},
		{name: "upstream 404", input: `{"path":"amocrm.lead(7)"}`, wantErr: "AmoCRM API returned 404"},
		{name: "moizvonki unconfigured", input: `{"path":"moizvonki.calls_list"}`, wantErr: "Moizvonki API is not configured"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := reg.Execute(context.Background(), "get_external_value", json.RawMessage(tt.input), tools.Caller{})
			if tt.wantErr != "" {
				if res.Success || !strings.Contains(res.Error, tt.wantErr) {
					t.Fatalf("result = %+v, want error %q", res, tt.wantErr)
				}
				return
			}
			if !res.Success {
				t.Fatalf("failed: %s", res.Error)
			}
			if got := res.Content(); got != tt.want {
				t.Fatalf("content = %s, want %s", got, tt.want)
			}
		})
	}
}
