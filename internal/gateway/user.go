package gateway

import (
	"net/http"
	"strings"

	"github.com/haasonsaas/tariti/pkg/models"
)

// preferencesPatch holds the fields a client may change. Unknown fields
// are ignored.
type preferencesPatch struct {
	AIProvider            *string `json:"ai_provider"`
	OpenAIFallbackEnabled *bool   `json:"openai_fallback_enabled"`
	OpenAIModel           *string `json:"openai_model"`
	DeveloperMode         *bool   `json:"developer_mode"`
}

// apply merges p into prefs. An unrecognized ai_provider is skipped and a
// blank openai_model clears the override.
func (p preferencesPatch) apply(prefs models.Preferences) models.Preferences {
	if p.AIProvider != nil && models.ValidAIProvider(*p.AIProvider) {
		prefs.AIProvider = *p.AIProvider
	}
	if p.OpenAIFallbackEnabled != nil {
		enabled := *p.OpenAIFallbackEnabled
		prefs.OpenAIFallbackEnabled = &enabled
	}
	if p.OpenAIModel != nil {
		prefs.OpenAIModel = strings.TrimSpace(*p.OpenAIModel)
	}
	if p.DeveloperMode != nil {
		prefs.DeveloperMode = *p.DeveloperMode
	}
	return prefs
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stores.Preferences == nil {
		writeError(w, http.StatusServiceUnavailable, "Preference storage is not configured")
		return
	}
	user, _ := caller(r)
	prefs, err := s.deps.Stores.Preferences.GetPreferences(r.Context(), user.ID)
	if err != nil {
		s.writeFailure(w, r, err, "Failed to load preferences")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"preferences": prefs.WithDefaults(s.config.DefaultOpenAIModel),
	})
}

func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stores.Preferences == nil {
		writeError(w, http.StatusServiceUnavailable, "Preference storage is not configured")
		return
	}
	var patch preferencesPatch
	if err := decodeJSON(r, &patch); err != nil {
		s.writeFailure(w, r, err, "Failed to save preferences")
		return
	}
	user, _ := caller(r)
	current, err := s.deps.Stores.Preferences.GetPreferences(r.Context(), user.ID)
	if err != nil {
		s.writeFailure(w, r, err, "Failed to save preferences")
		return
	}
	merged := patch.apply(current.WithDefaults(s.config.DefaultOpenAIModel))
	if merged.OpenAIModel == "" {
		merged.OpenAIModel = s.config.DefaultOpenAIModel
	}
	if err := s.deps.Stores.Preferences.SavePreferences(r.Context(), user.ID, merged); err != nil {
		s.writeFailure(w, r, err, "Failed to save preferences")
		return
	}
	s.logger.InfoContext(r.Context(), "preferences updated", "ai_provider", merged.AIProvider)
	writeJSON(w, http.StatusOK, map[string]any{"preferences": merged})
}

func (s *Server) handleSystemPrompt(w http.ResponseWriter, r *http.Request) {
	prompt := ""
	if s.deps.SystemPrompt != nil {
		prompt = s.deps.SystemPrompt(s.now())
	}
	writeJSON(w, http.StatusOK, map[string]string{"systemPrompt": prompt})
}

type toolSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Risky       bool   `json:"risky"`
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	list := []toolSummary{}
	if s.deps.Tools != nil {
		for _, def := range s.deps.Tools.Definitions() {
			list = append(list, toolSummary{Name: def.Name, Description: def.Description, Risky: def.Risky})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": list})
}
