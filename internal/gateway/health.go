package gateway

import (
	"context"
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Database  string `json:"database"`
	Uptime    string `json:"uptime"`
}

// handleHealth reports liveness and database reachability. A failed ping
// answers 503 so load balancers take the instance out.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	now := s.now()
	resp := healthResponse{
		Status:    "ok",
		Timestamp: now.UTC().Format(time.RFC3339),
		Database:  "ok",
		Uptime:    now.Sub(s.startTime).Round(time.Second).String(),
	}
	status := http.StatusOK
	if err := s.deps.Stores.Ping(ctx); err != nil {
		s.logger.WarnContext(r.Context(), "health check: database ping failed", "error", err)
		resp.Database = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
