// Package builtin registers the assistant's standard tool set.
package builtin

import (
	"fmt"
	"log/slog"

	"github.com/haasonsaas/tariti/internal/externalapi"
	"github.com/haasonsaas/tariti/internal/storage"
	"github.com/haasonsaas/tariti/internal/tools"
	"github.com/haasonsaas/tariti/internal/tools/analytics"
	"github.com/haasonsaas/tariti/internal/tools/codeexec"
	"github.com/haasonsaas/tariti/internal/tools/externalvalue"
	"github.com/haasonsaas/tariti/internal/tools/leads"
	"github.com/haasonsaas/tariti/internal/tools/pages"
	"github.com/haasonsaas/tariti/internal/tools/websearch"
)

// Deps are the collaborators the standard tools need.
type Deps struct {
	Stores    storage.StoreSet
	Resolver  *externalapi.Resolver
	WebSearch websearch.Config
	CodeExec  codeexec.Config
	Logger    *slog.Logger
}

// Tools builds the standard tools in the order they are offered to the
// model.
func Tools(deps Deps) []tools.Tool {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var crm leads.ContactCreator
	if deps.Resolver != nil && deps.Resolver.AmoCRM() != nil {
		crm = deps.Resolver.AmoCRM()
	}
	if deps.WebSearch.Logger == nil {
		deps.WebSearch.Logger = logger
	}
	if deps.CodeExec.Logger == nil {
		deps.CodeExec.Logger = logger
	}

	var list []tools.Tool
	list = append(list, pages.NewService(deps.Stores.Pages, logger).Tools()...)
	list = append(list, leads.NewService(deps.Stores.Leads, crm, logger).Tools()...)
	list = append(list, analytics.NewService(deps.Stores.Contacts, deps.Stores.Calls, deps.Stores.Leads).Tools()...)
	if deps.Resolver != nil {
		list = append(list, externalvalue.Tool(deps.Resolver))
	}
	list = append(list, websearch.New(deps.WebSearch).Tool())
	list = append(list, codeexec.New(deps.CodeExec).Tool())
	return list
}

// Register adds the standard tools to reg.
func Register(reg *tools.Registry, deps Deps) error {
	for _, tool := range Tools(deps) {
		if err := reg.Register(tool); err != nil {
			return fmt.Errorf("register %s: %w", tool.Name(), err)
		}
	}
	return nil
}
