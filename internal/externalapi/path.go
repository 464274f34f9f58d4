package externalapi

import (
	"regexp"
	"strings"
)

// Source names an upstream system.
type Source string

const (
	SourceAmoCRM    Source = "amocrm"
	SourceMoizvonki Source = "moizvonki"
)

var pathPattern = regexp.MustCompile(`(?i)^(amocrm|moizvonki)\.([a-z0-9_]+)(?:\(([^)]+)\))?(?:\.([a-z0-9_]+))?$`)

// Reference addresses one external value: source.entity, source.entity(id)
// or source.entity(id).field.
type Reference struct {
	Source Source
	Entity string
	ID     string
	Field  string
}

// ParseReference parses a path. It reports false for anything outside the
// grammar.
func ParseReference(path string) (Reference, bool) {
	m := pathPattern.FindStringSubmatch(strings.TrimSpace(path))
	if m == nil {
		return Reference{}, false
	}
	return Reference{
		Source: Source(strings.ToLower(m[1])),
		Entity: strings.ToLower(m[2]),
		ID:     strings.TrimSpace(m[3]),
		Field:  m[4],
	}, true
}

func (r Reference) String() string {
	s := string(r.Source) + "." + r.Entity
	if r.ID != "" {
		s += "(" + r.ID + ")"
	}
	if r.Field != "" {
		s += "." + r.Field
	}
	return s
}

// ResolveInput is a path or a structured reference plus pass-through
// filter and pagination params.
type ResolveInput struct {
	Path   string         `json:"path,omitempty"`
	Source string         `json:"source,omitempty"`
	Entity string         `json:"entity,omitempty"`
	ID     string         `json:"id,omitempty"`
	Field  string         `json:"field,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

func (in ResolveInput) reference() (Reference, error) {
	if strings.TrimSpace(in.Path) != "" {
		ref, ok := ParseReference(in.Path)
		if !ok {
			return Reference{}, newError(ErrInvalidPath,
				"Invalid path: %q. Use format: source.entity or source.entity(id).field", in.Path)
		}
		return ref, nil
	}
	if in.Source != "" && in.Entity != "" {
		return Reference{
			Source: Source(strings.ToLower(in.Source)),
			Entity: strings.ToLower(in.Entity),
			ID:     strings.TrimSpace(in.ID),
			Field:  in.Field,
		}, nil
	}
	return Reference{}, newError(ErrInvalidPath, "Provide either path or (source + entity)")
}
