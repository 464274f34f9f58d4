package externalapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
)

func newAmoServer(t *testing.T, handler http.HandlerFunc) (*Resolver, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	amo := NewAmoCRMClient(AmoCRMConfig{BaseURL: server.URL + "/", APIKey: "amo-key"})
	return NewResolver(amo, nil, Options{}), server
}

func TestParseReference(t *testing.T) {
	tests := []struct {
		path string
		want Reference
		ok   bool
	}{
		{"amocrm.pipelines", Reference{Source: SourceAmoCRM, Entity: "pipelines"}, true},
		{"amocrm.lead(123)", Reference{Source: SourceAmoCRM, Entity: "lead", ID: "123"}, true},
		{"amocrm.lead( 123 ).potential_amount", Reference{Source: SourceAmoCRM, Entity: "lead", ID: "123", Field: "potential_amount"}, true},
		{"  MoizVonki.calls_list ", Reference{Source: SourceMoizvonki, Entity: "calls_list"}, true},
		{"hubspot.deals", Reference{}, false},
		{"amocrm.lead()", Reference{}, false},
		{"amocrm", Reference{}, false},
		{"amocrm.lead(1).a.b", Reference{}, false},
		{"", Reference{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := ParseReference(tt.path)
			if ok != tt.ok {
				t.Fatalf("ParseReference(%q) ok = %v, want %v", tt.path, ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("ParseReference(%q) = %+v, want %+v", tt.path, got, tt.want)
			}
		})
	}
}

func TestFind(t *testing.T) {
	tests := []struct {
		name    string
		ref     Reference
		wantID  string
		wantHit bool
	}{
		{"static entity", Reference{Source: SourceAmoCRM, Entity: "account"}, "amocrm.account", true},
		{"list by entity", Reference{Source: SourceAmoCRM, Entity: "leads"}, "amocrm.leads_list", true},
		{"list by id suffix", Reference{Source: SourceAmoCRM, Entity: "leads_list"}, "amocrm.leads_list", true},
		{"alias keeps resolver", Reference{Source: SourceAmoCRM, Entity: "tasks"}, "amocrm.tasks", true},
		{"moizvonki id suffix", Reference{Source: SourceMoizvonki, Entity: "calls_list"}, "moizvonki.calls_list", true},
		{"dynamic with id", Reference{Source: SourceAmoCRM, Entity: "lead", ID: "7"}, "amocrm.lead", true},
		{"dynamic without id falls back", Reference{Source: SourceAmoCRM, Entity: "lead"}, "amocrm.lead", true},
		{"static rejects id", Reference{Source: SourceAmoCRM, Entity: "account", ID: "1"}, "", false},
		{"wrong source", Reference{Source: SourceMoizvonki, Entity: "lead", ID: "1"}, "", false},
		{"unknown", Reference{Source: SourceAmoCRM, Entity: "deals"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := Find(tt.ref)
			if ok != tt.wantHit {
				t.Fatalf("Find() ok = %v, want %v", ok, tt.wantHit)
			}
			if ok && v.ID != tt.wantID {
				t.Errorf("Find() = %s, want %s", v.ID, tt.wantID)
			}
		})
	}
	if v, _ := Find(Reference{Source: SourceAmoCRM, Entity: "tasks"}); v.ResolverKey != "amocrm.tasks_list" {
		t.Errorf("tasks alias resolver key = %s", v.ResolverKey)
	}
}

func TestVariablesRegistry(t *testing.T) {
	vars := Variables()
	if len(vars) != 24 {
		t.Fatalf("registry has %d variables, want 24", len(vars))
	}
	seen := map[string]bool{}
	for _, v := range vars {
		if seen[v.ID] {
			t.Errorf("duplicate variable id %s", v.ID)
		}
		seen[v.ID] = true
		if _, ok := resolvers[v.ResolverKey]; !ok {
			t.Errorf("%s: no resolver for key %s", v.ID, v.ResolverKey)
		}
		if v.Dynamic() && (len(v.RequiredParams) != 1 || v.RequiredParams[0] != v.IDParam) {
			t.Errorf("%s: required params %v do not name id param %s", v.ID, v.RequiredParams, v.IDParam)
		}
	}
	vars[0].ID = "mutated"
	if Variables()[0].ID == "mutated" {
		t.Error("Variables() exposes the registry")
	}
}

func TestResolveAccountFetchedOnceUnmodified(t *testing.T) {
	const body = `{"currency":"MDL","id":30100000,"name":"Sudic","timezone":"Europe/Chisinau"}`
	var hits atomic.Int32
	resolver, _ := newAmoServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v4/account" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer amo-key" {
			t.Errorf("Authorization = %q", got)
		}
		hits.Add(1)
		_, _ = w.Write([]byte(body))
	})

	value, err := resolver.Resolve(context.Background(), ResolveInput{Path: "amocrm.account"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("account fetched %d times, want 1", n)
	}
	encoded, _ := json.Marshal(value)
	if string(encoded) != body {
		t.Errorf("value = %s, want %s", encoded, body)
	}
}

func leadItems(n int) []map[string]any {
	items := make([]map[string]any, n)
	for i := range items {
		items[i] = map[string]any{
			"id":                  i + 1,
			"name":                fmt.Sprintf("Deal %d", i+1),
			"price":               1000 * (i + 1),
			"status_id":           142,
			"pipeline_id":         7,
			"responsible_user_id": 99,
			"created_at":          1700000000 + i,
			"custom_fields_values": []any{
				map[string]any{"field_code": "PHONE"},
			},
		}
	}
	return items
}

func TestResolveCompactKeepsCount(t *testing.T) {
	resolver, _ := newAmoServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "10" {
			t.Errorf("limit = %q, want 10", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"_page":     map[string]any{"page": 1},
			"_embedded": map[string]any{"leads": leadItems(3)},
		})
	})

	resolve := func(compact bool) ListEnvelope {
		t.Helper()
		value, err := resolver.Resolve(context.Background(), ResolveInput{
			Path:   "amocrm.leads_list",
			Params: map[string]any{"limit": float64(10), "compact": compact},
		})
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		env, ok := value.(ListEnvelope)
		if !ok {
			t.Fatalf("value is %T, want ListEnvelope", value)
		}
		return env
	}

	full := resolve(false)
	compact := resolve(true)
	if len(full.Items) != 3 || len(compact.Items) != len(full.Items) {
		t.Fatalf("items: full %d, compact %d", len(full.Items), len(compact.Items))
	}
	for i := range full.Items {
		f := full.Items[i].(map[string]any)
		c := compact.Items[i].(map[string]any)
		if len(c) >= len(f) {
			t.Errorf("item %d: compact has %d fields, full has %d", i, len(c), len(f))
		}
		for k := range c {
			if _, ok := f[k]; !ok {
				t.Errorf("item %d: compact field %q missing from full item", i, k)
			}
		}
	}
	if full.Meta.Count != 3 || full.Meta.Total != 3 || full.Meta.Limit != 10 || full.Meta.HasMore {
		t.Errorf("meta = %+v", full.Meta)
	}
}

func TestShapeListHasMore(t *testing.T) {
	tests := []struct {
		name     string
		page     map[string]any
		items    int
		limit    int64
		wantMore bool
	}{
		{"short page", nil, 3, 10, false},
		{"full page", nil, 10, 10, true},
		{"total exceeds count", map[string]any{"total": json.Number("40")}, 5, 10, true},
		{"default limit reached", nil, 25, 0, true},
		{"limit above cap", nil, 250, 500, true},
		{"empty", nil, 0, 10, false},
		{"upstream limit wins", map[string]any{"limit": json.Number("5")}, 5, 50, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := make([]any, tt.items)
			for i := range items {
				items[i] = map[string]any{"id": i}
			}
			data := map[string]any{"_embedded": map[string]any{"contacts": items}}
			if tt.page != nil {
				data["_page"] = tt.page
			}
			env := shapeList(data, "amocrm.contacts_list", listOptions{limit: tt.limit}).(ListEnvelope)
			if env.Meta.HasMore != tt.wantMore {
				t.Errorf("has_more = %v, want %v (meta %+v)", env.Meta.HasMore, tt.wantMore, env.Meta)
			}
			if (env.Meta.Hint != "") != tt.wantMore {
				t.Errorf("hint = %q with has_more %v", env.Meta.Hint, tt.wantMore)
			}
			if env.Meta.Count != int64(tt.items) {
				t.Errorf("count = %d, want %d", env.Meta.Count, tt.items)
			}
		})
	}
}

func TestShapeListPassThrough(t *testing.T) {
	if got := shapeList("text", "amocrm.leads_list", listOptions{}); got != "text" {
		t.Errorf("non-object data changed: %v", got)
	}
	data := map[string]any{"id": 1}
	if got := shapeList(data, "amocrm.account", listOptions{}); got == nil {
		t.Error("unshaped key dropped data")
	}
	env := shapeList(nil, "amocrm.leads_list", listOptions{}).(ListEnvelope)
	if env.Meta.Count != 0 || env.Meta.HasMore || env.Items == nil {
		t.Errorf("empty response envelope = %+v", env)
	}
}

func TestSlimItem(t *testing.T) {
	contact := map[string]any{"id": 5, "first_name": "Ion", "last_name": "Rusu", "created_at": 1, "updated_at": 2}
	got := slimItem(contact, "contacts")
	if got["name"] != "Ion Rusu" || got["first_name"] != "Ion" {
		t.Errorf("slim contact = %v", got)
	}
	if _, ok := got["updated_at"]; ok {
		t.Error("slim contact kept updated_at")
	}

	unknown := slimItem(map[string]any{"id": 1, "name": "x", "created_at": 3, "extra": true}, "other")
	if len(unknown) != 3 {
		t.Errorf("default projection = %v", unknown)
	}
}

func taskPage(tills []int64) map[string]any {
	tasks := make([]any, len(tills))
	for i, till := range tills {
		tasks[i] = map[string]any{"id": till, "text": "call back", "complete_till": till}
	}
	return map[string]any{"_embedded": map[string]any{"tasks": tasks}}
}

func TestResolveTasksDateRangePaginates(t *testing.T) {
	const from, to = int64(1_000_000), int64(2_000_000)

	// page 1: entirely before the window
	// page 2: 150 before, 100 inside
	// page 3: first task past the window
	pages := map[string][]int64{}
	var p1, p2, p3 []int64
	for i := 0; i < MaxListLimit; i++ {
		p1 = append(p1, 1000+int64(i))
	}
	for i := 0; i < MaxListLimit; i++ {
		if i < 150 {
			p2 = append(p2, 500_000+int64(i))
		} else {
			p2 = append(p2, from+int64(i))
		}
	}
	for i := 0; i < MaxListLimit; i++ {
		p3 = append(p3, to+1+int64(i))
	}
	pages["1"], pages["2"], pages["3"] = p1, p2, p3

	var requested []string
	resolver, _ := newAmoServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("order[complete_till]") != "asc" {
			t.Errorf("missing ascending order: %s", r.URL.RawQuery)
		}
		if q.Get("limit") != "250" {
			t.Errorf("limit = %s, want 250", q.Get("limit"))
		}
		if q.Get("filter[date_from]") != "" {
			t.Error("upstream date filter must not be used for ranged queries")
		}
		if q.Get("filter[is_completed]") != "0" {
			t.Errorf("filter[is_completed] = %q", q.Get("filter[is_completed]"))
		}
		page := q.Get("page")
		requested = append(requested, page)
		_ = json.NewEncoder(w).Encode(taskPage(pages[page]))
	})

	value, err := resolver.Resolve(context.Background(), ResolveInput{
		Path: "amocrm.tasks",
		Params: map[string]any{
			"filter_date_from":    float64(from),
			"filter_date_to":      float64(to),
			"filter_is_completed": float64(0),
		},
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	env := value.(ListEnvelope)
	if len(env.Items) != 100 {
		t.Fatalf("got %d tasks, want 100", len(env.Items))
	}
	if strings.Join(requested, ",") != "1,2,3" {
		t.Errorf("requested pages %v, want 1,2,3", requested)
	}
	for _, item := range env.Items {
		till, _ := number(item.(map[string]any)["complete_till"])
		if till < from || till > to {
			t.Errorf("task outside window: %d", till)
		}
	}
	if env.Meta.Total != 100 || env.Meta.Limit != MaxListLimit || env.Meta.HasMore {
		t.Errorf("meta = %+v", env.Meta)
	}
}

func TestResolveTasksDateRangeStopsOnShortPage(t *testing.T) {
	var calls atomic.Int32
	resolver, _ := newAmoServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(taskPage([]int64{1735689600, 1735700000}))
	})
	value, err := resolver.Resolve(context.Background(), ResolveInput{
		Path:   "amocrm.tasks_list",
		Params: map[string]any{"filter_date_from": "2025-01-01", "filter_date_to": "2025-01-01"},
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("made %d requests, want 1", calls.Load())
	}
	if n := len(value.(ListEnvelope).Items); n != 2 {
		t.Errorf("got %d tasks, want 2", n)
	}
}

func TestResolveTasksSingleBoundUsesUpstreamFilter(t *testing.T) {
	resolver, _ := newAmoServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("filter[date_from]") != "1735689600" {
			t.Errorf("filter[date_from] = %q", q.Get("filter[date_from]"))
		}
		if q.Get("filter[task_type_id][]") != "1,2" {
			t.Errorf("filter[task_type_id][] = %q", q.Get("filter[task_type_id][]"))
		}
		w.WriteHeader(http.StatusNoContent)
	})
	_, err := resolver.Resolve(context.Background(), ResolveInput{
		Path: "amocrm.tasks_list",
		Params: map[string]any{
			"filter_date_from":    "2025-01-01",
			"filter_task_type_id": []any{float64(1), float64(2)},
		},
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
}

func TestParseTaskBound(t *testing.T) {
	tests := []struct {
		in       any
		endOfDay bool
		want     int64
		ok       bool
	}{
		{float64(1700000000), false, 1700000000, true},
		{json.Number("1700000000"), true, 1700000000, true},
		{"2025-01-01", false, 1735689600, true},
		{"2025-01-01", true, 1735689600 + 86399, true},
		{"yesterday", false, 0, false},
		{true, false, 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseTaskBound(tt.in, tt.endOfDay)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseTaskBound(%v, %v) = %d, %v; want %d, %v", tt.in, tt.endOfDay, got, ok, tt.want, tt.ok)
		}
	}
}

func TestResolveSingleItem(t *testing.T) {
	resolver, _ := newAmoServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v4/leads/42":
			_, _ = w.Write([]byte(`{"id":42,"name":"Apartment","price":85000,"_embedded":{"tags":[{"id":1}]}}`))
		case "/api/v4/contacts/7":
			_, _ = w.Write([]byte(`{"_embedded":{"contacts":[{"id":7,"name":"Ana"}]}}`))
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	tests := []struct {
		name string
		in   ResolveInput
		want string
	}{
		{"field", ResolveInput{Path: "amocrm.lead(42).price"}, `85000`},
		{"embedded field", ResolveInput{Path: "amocrm.lead(42).tags"}, `[{"id":1}]`},
		{"absent field", ResolveInput{Path: "amocrm.lead(42).budget"}, `null`},
		{"id from params", ResolveInput{Path: "amocrm.lead.name", Params: map[string]any{"leadId": float64(42)}}, `"Apartment"`},
		{"unwraps embedded singleton", ResolveInput{Source: "amocrm", Entity: "contact", ID: "7"}, `{"id":7,"name":"Ana"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, err := resolver.Resolve(ctx, tt.in)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			encoded, _ := json.Marshal(value)
			if string(encoded) != tt.want {
				t.Errorf("value = %s, want %s", encoded, tt.want)
			}
		})
	}
}

func TestResolveErrors(t *testing.T) {
	resolver, _ := newAmoServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(strings.Repeat("x", 600)))
	})
	unconfigured := NewResolver(NewAmoCRMClient(AmoCRMConfig{}), NewMoizvonkiClient(MoizvonkiConfig{}), Options{})

	tests := []struct {
		name     string
		resolver *Resolver
		in       ResolveInput
		kind     error
		message  string
	}{
		{"invalid path", resolver, ResolveInput{Path: "amocrm lead"}, ErrInvalidPath,
			`Invalid path: "amocrm lead". Use format: source.entity or source.entity(id).field`},
		{"no reference", resolver, ResolveInput{}, ErrInvalidPath, "Provide either path or (source + entity)"},
		{"unknown", resolver, ResolveInput{Path: "amocrm.account(5)"}, ErrUnknownVariable,
			"Unknown variable: amocrm.account(5). Check the variable registry."},
		{"missing id", resolver, ResolveInput{Path: "amocrm.lead"}, ErrMissingParam,
			"Missing required param: leadId (or use path amocrm.lead(123))"},
		{"amocrm not configured", unconfigured, ResolveInput{Path: "amocrm.account"}, ErrNotConfigured,
			"AmoCRM API is not configured. Set AMOCRM_BASE_URL and AMOCRM_API_KEY."},
		{"moizvonki not configured", unconfigured, ResolveInput{Path: "moizvonki.groups"}, ErrNotConfigured,
			"Moizvonki API is not configured. Set MOIZVONKI_API_KEY and MOIZVONKI_USER."},
		{"upstream status", resolver, ResolveInput{Path: "amocrm.users"}, ErrUpstream,
			"AmoCRM API returned 401: " + strings.Repeat("x", 500)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.resolver.Resolve(context.Background(), tt.in)
			if !errors.Is(err, tt.kind) {
				t.Fatalf("error = %v, want kind %v", err, tt.kind)
			}
			if err.Error() != tt.message {
				t.Errorf("message = %q, want %q", err.Error(), tt.message)
			}
		})
	}
}

func TestAmoCRMInvalidJSON(t *testing.T) {
	resolver, _ := newAmoServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	})
	_, err := resolver.Resolve(context.Background(), ResolveInput{Path: "amocrm.pipelines"})
	if err == nil || err.Error() != "Invalid JSON response" {
		t.Fatalf("error = %v", err)
	}
}

func TestAmoCRMCreateContacts(t *testing.T) {
	var got []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v4/contacts" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"_embedded":{"contacts":[{"id":1}]}}`))
	}))
	defer server.Close()

	client := NewAmoCRMClient(AmoCRMConfig{BaseURL: server.URL, APIKey: "k"})
	if _, err := client.CreateContacts(context.Background(), []map[string]any{{"name": "Ana"}}); err != nil {
		t.Fatalf("CreateContacts() error = %v", err)
	}
	if len(got) != 1 || got[0]["name"] != "Ana" {
		t.Errorf("posted %v", got)
	}
}

func newMoizvonki(t *testing.T, handler http.HandlerFunc) *Resolver {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	moi := NewMoizvonkiClient(MoizvonkiConfig{BaseURL: server.URL, APIKey: "moi-key", User: "ops@sudic.md"})
	return NewResolver(nil, moi, Options{})
}

func TestResolveMoizvonkiCalls(t *testing.T) {
	var body map[string]any
	resolver := newMoizvonki(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"results":[{"db_call_id":1,"duration":42}]}`))
	})

	value, err := resolver.Resolve(context.Background(), ResolveInput{
		Path:   "moizvonki.calls_list",
		Params: map[string]any{"max_results": float64(500), "from_date": "1735689600"},
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := map[string]any{
		"action":      "calls.list",
		"user_name":   "ops@sudic.md",
		"api_key":     "moi-key",
		"from_id":     float64(0),
		"max_results": float64(100),
		"from_date":   float64(1735689600),
	}
	for k, v := range want {
		if body[k] != v {
			t.Errorf("body[%s] = %v, want %v", k, body[k], v)
		}
	}
	if _, ok := body["to_date"]; ok {
		t.Error("unset to_date was sent")
	}
	if _, ok := value.(map[string]any)["results"]; !ok {
		t.Errorf("value = %v", value)
	}
}

func TestMoizvonkiErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"error field", http.StatusForbidden, `{"error":"Invalid api key"}`, "Moizvonki API returned 403: Invalid api key"},
		{"plain text", http.StatusBadGateway, "bad gateway", "Moizvonki API returned 502: bad gateway"},
		{"invalid json", http.StatusOK, "not json", "Invalid JSON response: not json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := newMoizvonki(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := resolver.Resolve(context.Background(), ResolveInput{Path: "moizvonki.webhook_list"})
			if err == nil || err.Error() != tt.message {
				t.Fatalf("error = %v, want %q", err, tt.message)
			}
			var apiErr *Error
			if errors.As(err, &apiErr) && tt.status != http.StatusOK && apiErr.Status != tt.status {
				t.Errorf("status = %d, want %d", apiErr.Status, tt.status)
			}
		})
	}
}

func TestMoizvonkiEmployeesParams(t *testing.T) {
	var body map[string]any
	resolver := newMoizvonki(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`[]`))
	})
	_, err := resolver.Resolve(context.Background(), ResolveInput{
		Path:   "moizvonki.employees",
		Params: map[string]any{"employee_user_name": "ana", "max_results": "10"},
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if body["action"] != "company.list_employee" || body["employee_user_name"] != "ana" || body["max_results"] != float64(10) {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["from_offset"]; ok {
		t.Error("unset from_offset was sent")
	}
}

func TestListQueryCapsLimit(t *testing.T) {
	tests := []struct {
		limit int64
		want  string
	}{
		{0, "25"},
		{50, "50"},
		{1000, strconv.Itoa(MaxListLimit)},
	}
	for _, tt := range tests {
		if got := (ListQuery{Limit: tt.limit}).values().Get("limit"); got != tt.want {
			t.Errorf("limit %d -> %s, want %s", tt.limit, got, tt.want)
		}
	}
}
