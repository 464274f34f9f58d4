package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/haasonsaas/tariti/pkg/models"
)

func TestMiddleware(t *testing.T) {
	service := NewService(Config{
		JWTSecret:   "secret",
		TokenExpiry: time.Hour,
		APIKeys:     []APIKeyConfig{{Key: "k1", UserID: "svc-1"}},
	})
	token, err := service.GenerateJWT(&models.User{ID: "user-1"})
	if err != nil {
		t.Fatalf("GenerateJWT() error = %v", err)
	}

	tests := []struct {
		name      string
		headers   map[string]string
		query     string
		wantCode  int
		wantUser  string
		wantToken string
	}{
		{name: "missing", wantCode: http.StatusUnauthorized},
		{name: "bad bearer", headers: map[string]string{"Authorization": "Bearer nope"}, wantCode: http.StatusUnauthorized},
		{name: "bearer", headers: map[string]string{"Authorization": "Bearer " + token}, wantCode: http.StatusOK, wantUser: "user-1", wantToken: token},
		{name: "lowercase scheme", headers: map[string]string{"Authorization": "bearer " + token}, wantCode: http.StatusOK, wantUser: "user-1", wantToken: token},
		{name: "api key", headers: map[string]string{"X-API-Key": "k1"}, wantCode: http.StatusOK, wantUser: "svc-1"},
		{name: "bad api key", headers: map[string]string{"X-API-Key": "k2"}, wantCode: http.StatusUnauthorized},
		{name: "query token ignored without upgrade", query: "?access_token=" + token, wantCode: http.StatusUnauthorized},
		{name: "websocket query token", headers: map[string]string{"Upgrade": "websocket"}, query: "?access_token=" + token, wantCode: http.StatusOK, wantUser: "user-1", wantToken: token},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser, gotToken string
			handler := Middleware(service, slog.New(slog.NewTextHandler(io.Discard, nil)))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				user, _ := UserFromContext(r.Context())
				gotUser = user.ID
				gotToken = TokenFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/chat"+tt.query, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantCode == http.StatusUnauthorized {
				if body := rec.Body.String(); body != "{\"error\":\"Unauthorized\"}\n" {
					t.Errorf("body = %q", body)
				}
				return
			}
			if gotUser != tt.wantUser || gotToken != tt.wantToken {
				t.Errorf("user = %q token = %q", gotUser, gotToken)
			}
		})
	}
}

func TestMiddlewareRejectsWhenDisabled(t *testing.T) {
	handler := Middleware(NewService(Config{}), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pages", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAPIKeyWithoutUserIDGetsStableID(t *testing.T) {
	service := NewService(Config{APIKeys: []APIKeyConfig{{Key: "k1"}}})
	first, err := service.ValidateAPIKey("k1")
	if err != nil {
		t.Fatal(err)
	}
	second, _ := service.ValidateAPIKey(" k1 ")
	if first.ID == "" || first.ID != second.ID {
		t.Fatalf("ids = %q, %q", first.ID, second.ID)
	}
}
