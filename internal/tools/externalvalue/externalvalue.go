// Package externalvalue lets the assistant read AmoCRM and Moizvonki values
// by path.
package externalvalue

import (
	"context"

	"github.com/haasonsaas/tariti/internal/externalapi"
	"github.com/haasonsaas/tariti/internal/tools"
)

const description = "Get a value from AmoCRM or Moizvonki by path. You request what you need by path; the backend performs the API call. " +
	"Use path format: source.entity or source.entity(id).field. Examples: amocrm.account, amocrm.pipelines, amocrm.lead(123), " +
	"amocrm.lead(123).potential_amount, amocrm.contacts_list, moizvonki.calls_list, moizvonki.sms_templates, moizvonki.employees. " +
	"Optional params (e.g. from_date, to_date for moizvonki.calls_list) can be passed in the params object. " +
	"See the debug page (Dev > External API) for the full list of variables."

// Input is the input of get_external_value.
type Input struct {
	Path   string         `json:"path" jsonschema_description:"Variable path, e.g. amocrm.lead(123).potential_amount or moizvonki.calls_list"`
	Params map[string]any `json:"params,omitempty" jsonschema_description:"Optional parameters. For lists: limit (default 25, max 250), page, compact (true = slim items + _meta with total/has_more). For filters: from_date, to_date, query, etc. per variable."`
}

// Resolver resolves external value references.
type Resolver interface {
	Resolve(ctx context.Context, in externalapi.ResolveInput) (any, error)
}

// Tool returns get_external_value backed by r.
func Tool(r Resolver) tools.Tool {
	return tools.New("get_external_value", description, func(ctx context.Context, in Input, _ tools.Caller) (any, error) {
		return r.Resolve(ctx, externalapi.ResolveInput{Path: in.Path, Params: in.Params})
	})
}
