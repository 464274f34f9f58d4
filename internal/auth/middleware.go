package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/haasonsaas/tariti/internal/observability"
)

// Middleware rejects unauthenticated requests with 401 and attaches the
// caller and token to the request context otherwise.
func Middleware(service *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, token, err := service.Authenticate(r)
			if err != nil {
				if err != ErrMissingCredentials {
					logger.WarnContext(r.Context(), "authentication failed", "error", err, "path", r.URL.Path)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
				return
			}
			ctx := WithUser(r.Context(), user)
			ctx = WithToken(ctx, token)
			ctx = observability.AddUserID(ctx, user.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
