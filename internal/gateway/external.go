package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/haasonsaas/tariti/internal/externalapi"
)

type variableSummary struct {
	ID             string             `json:"id"`
	Description    string             `json:"description"`
	Source         externalapi.Source `json:"source"`
	Entity         string             `json:"entity"`
	RequiredParams []string           `json:"requiredParams"`
	OptionalParams []string           `json:"optionalParams"`
	ExamplePath    string             `json:"examplePath"`
}

type resolveResult struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleListVariables lists the external value registry for the debug page.
func (s *Server) handleListVariables(w http.ResponseWriter, r *http.Request) {
	vars := externalapi.Variables()
	out := make([]variableSummary, 0, len(vars))
	for _, v := range vars {
		out = append(out, variableSummary{
			ID:             v.ID,
			Description:    v.Description,
			Source:         v.Source,
			Entity:         v.Entity,
			RequiredParams: nonNil(v.RequiredParams),
			OptionalParams: nonNil(v.OptionalParams),
			ExamplePath:    v.ExamplePath,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"variables": out})
}

// handleResolve resolves a path or structured reference. Resolver failures
// are reported in the body with success false; only unexpected errors
// produce a 500.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var in externalapi.ResolveInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeFailure(w, r, err, "Resolve failed")
		return
	}
	result, err := s.resolve(r.Context(), in)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "external api resolve failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, resolveResult{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) resolve(ctx context.Context, in externalapi.ResolveInput) (resolveResult, error) {
	if s.deps.Resolver == nil {
		return resolveResult{Error: "External API is not configured"}, nil
	}
	value, err := s.deps.Resolver.Resolve(ctx, in)
	if err != nil {
		var resolveErr *externalapi.Error
		if errors.As(err, &resolveErr) {
			return resolveResult{Error: resolveErr.Message}, nil
		}
		return resolveResult{}, err
	}
	return resolveResult{Success: true, Data: value}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
