package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/haasonsaas/tariti/internal/auth"
	"github.com/haasonsaas/tariti/pkg/models"
)

const maxBodyBytes = 4 << 20

// apiError is a request failure with the status and message to report.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string { return e.Message }

func newAPIError(status int, message string) *apiError {
	return &apiError{Status: status, Message: message}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeFailure reports err, using its status when it is an *apiError.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		writeError(w, apiErr.Status, apiErr.Message)
		return
	}
	s.logger.ErrorContext(r.Context(), fallback, "error", err, "path", r.URL.Path)
	writeError(w, http.StatusInternalServerError, fallback)
}

// decodeJSON reads a JSON body into v. An empty body leaves v unchanged.
func decodeJSON(r *http.Request, v any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	defer body.Close()
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return newAPIError(http.StatusRequestEntityTooLarge, "Request body too large")
		}
		return newAPIError(http.StatusBadRequest, fmt.Sprintf("Invalid JSON body: %v", err))
	}
	return nil
}

// caller returns the authenticated user. auth.Middleware guarantees one on
// every private route.
func caller(r *http.Request) (*models.User, string) {
	user, _ := auth.UserFromContext(r.Context())
	return user, auth.TokenFromContext(r.Context())
}
