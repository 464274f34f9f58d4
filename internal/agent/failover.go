package agent

import (
	"github.com/haasonsaas/tariti/pkg/models"
)

// Target is one provider and the model to ask it for.
type Target struct {
	Provider Provider
	Model    string
}

// Name returns the provider name, or "" for an empty target.
func (t Target) Name() string {
	if t.Provider == nil {
		return ""
	}
	return t.Provider.Name()
}

// Route is the provider plan for one turn. Fallback is used at most once,
// and only while nothing has been streamed to the client.
type Route struct {
	Primary  Target
	Fallback *Target
}

// Router picks the providers for a turn from the user's preferences.
type Router struct {
	// Anthropic is the default provider. It may be nil when only OpenAI is
	// configured.
	Anthropic      Provider
	AnthropicModel string

	// OpenAI is optional.
	OpenAI Provider
	// OpenAIModel is used when the preferences do not name one.
	OpenAIModel string
}

// RouteFor builds the route for prefs. OpenAI is primary only when the user
// asked for it and it is configured; it is the fallback when Anthropic is
// primary and either the combined mode or the fallback flag is on.
func (r *Router) RouteFor(prefs models.Preferences) (Route, error) {
	prefs = prefs.WithDefaults(r.OpenAIModel)

	openAI := Target{Provider: r.OpenAI, Model: prefs.OpenAIModel}
	anthropic := Target{Provider: r.Anthropic, Model: r.AnthropicModel}

	switch {
	case r.OpenAI != nil && (prefs.AIProvider == models.ProviderOpenAI || r.Anthropic == nil):
		return Route{Primary: openAI}, nil
	case r.Anthropic == nil:
		return Route{}, ErrNoProvider
	}

	route := Route{Primary: anthropic}
	if r.OpenAI != nil && (prefs.AIProvider == models.ProviderAnthropicWithFallback || prefs.FallbackEnabled()) {
		route.Fallback = &openAI
	}
	return route, nil
}
