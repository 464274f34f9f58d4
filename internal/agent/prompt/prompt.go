// Package prompt renders the assistant's system prompt.
package prompt

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/haasonsaas/tariti/internal/tools"
	"github.com/haasonsaas/tariti/pkg/models"
)

//go:embed system.md
var systemTemplate string

// DateLayout is the long British date format used for "Today is ...".
const DateLayout = "Monday, 2 January 2006"

// Builder renders the system prompt for a fixed tool set.
type Builder struct {
	tmpl     *template.Template
	safe     []string
	risky    []string
	statuses string
}

type promptData struct {
	Today        string
	LeadStatuses string
	SafeTools    []string
	RiskyTools   []string
}

// New parses the embedded template and classifies defs into the safe and
// risky lists shown to the model.
func New(defs []tools.Definition) (*Builder, error) {
	tmpl, err := template.New("system").Option("missingkey=error").Parse(systemTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse system prompt: %w", err)
	}

	b := &Builder{tmpl: tmpl}
	for _, def := range defs {
		if def.Risky {
			b.risky = append(b.risky, def.Name)
		} else {
			b.safe = append(b.safe, def.Name)
		}
	}
	statuses := make([]string, len(models.LeadStatuses))
	for i, s := range models.LeadStatuses {
		statuses[i] = string(s)
	}
	b.statuses = strings.Join(statuses, ", ")
	return b, nil
}

// Render returns the prompt dated now.
func (b *Builder) Render(now time.Time) string {
	var out strings.Builder
	err := b.tmpl.Execute(&out, promptData{
		Today:        now.Format(DateLayout),
		LeadStatuses: b.statuses,
		SafeTools:    b.safe,
		RiskyTools:   b.risky,
	})
	if err != nil {
		// The template is embedded and fixed; a failure here is a programming error.
		panic(fmt.Sprintf("render system prompt: %v", err))
	}
	return out.String()
}
