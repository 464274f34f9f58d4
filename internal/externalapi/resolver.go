// Package externalapi resolves path-addressed values from AmoCRM and
// Moizvonki. Paths such as amocrm.lead(123).price are looked up in a static
// variable registry and dispatched to typed client calls; list results are
// wrapped with pagination metadata and can be compacted.
package externalapi

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/haasonsaas/tariti/internal/observability"
)

// Options configures a Resolver.
type Options struct {
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Resolver resolves references against the upstream clients.
type Resolver struct {
	amocrm    *AmoCRMClient
	moizvonki *MoizvonkiClient
	logger    *slog.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
}

// NewResolver creates a resolver. Nil clients behave as unconfigured.
func NewResolver(amocrm *AmoCRMClient, moizvonki *MoizvonkiClient, opts Options) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		amocrm:    amocrm,
		moizvonki: moizvonki,
		logger:    logger.With("component", "externalapi"),
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
	}
}

// AmoCRM returns the AmoCRM client the resolver calls.
func (r *Resolver) AmoCRM() *AmoCRMClient { return r.amocrm }

type call struct {
	ref    Reference
	def    Variable
	params map[string]any
}

type resolveFunc func(r *Resolver, ctx context.Context, c call) (any, error)

var resolvers = map[string]resolveFunc{
	"amocrm.account": func(r *Resolver, ctx context.Context, _ call) (any, error) {
		return r.amocrm.Account(ctx)
	},
	"amocrm.pipelines": func(r *Resolver, ctx context.Context, _ call) (any, error) {
		return r.amocrm.Pipelines(ctx)
	},
	"amocrm.users": func(r *Resolver, ctx context.Context, _ call) (any, error) {
		return r.amocrm.Users(ctx)
	},
	"amocrm.leads_list":     listOf((*AmoCRMClient).Leads),
	"amocrm.contacts_list":  listOf((*AmoCRMClient).Contacts),
	"amocrm.companies_list": listOf((*AmoCRMClient).Companies),
	"amocrm.catalogs_list":  listOf((*AmoCRMClient).Catalogs),
	"amocrm.tasks_list":     resolveTasks,
	"amocrm.notes_list":     resolveNotes,
	"amocrm.catalog_elements": func(r *Resolver, ctx context.Context, c call) (any, error) {
		id, err := c.itemID()
		if err != nil {
			return nil, err
		}
		q := listQuery(c.params)
		data, err := r.amocrm.CatalogElements(ctx, id, q)
		if err != nil {
			return nil, err
		}
		return shapeList(data, c.def.ResolverKey, listOptionsFor(c.params)), nil
	},
	"amocrm.lead":    single("leads"),
	"amocrm.contact": single("contacts"),
	"amocrm.company": single("companies"),
	"amocrm.task":    single("tasks"),
	"amocrm.note":    single("notes"),
	"amocrm.catalog": single("catalogs"),

	"moizvonki.calls_list": resolveCalls,
	"moizvonki.sms_templates": func(r *Resolver, ctx context.Context, _ call) (any, error) {
		return r.moizvonki.SMSTemplates(ctx)
	},
	"moizvonki.employees": func(r *Resolver, ctx context.Context, c call) (any, error) {
		q := EmployeeQuery{PageQuery: pageQuery(c.params), EmployeeID: optionalInt(c.params, "employee_id")}
		q.UserName, _ = stringParam(c.params, "employee_user_name")
		return r.moizvonki.Employees(ctx, q)
	},
	"moizvonki.groups": func(r *Resolver, ctx context.Context, c call) (any, error) {
		return r.moizvonki.Groups(ctx, pageQuery(c.params))
	},
	"moizvonki.webhook_list": func(r *Resolver, ctx context.Context, _ call) (any, error) {
		return r.moizvonki.Webhooks(ctx)
	},
}

// Resolve resolves one reference. Failures are returned as *Error values
// carrying a message suitable for the model.
func (r *Resolver) Resolve(ctx context.Context, in ResolveInput) (any, error) {
	ref, err := in.reference()
	if err != nil {
		r.metrics.RecordResolve("", false)
		return nil, err
	}
	def, ok := Find(ref)
	if !ok {
		r.metrics.RecordResolve(string(ref.Source), false)
		label := string(ref.Source) + "." + ref.Entity
		if ref.ID != "" {
			label += "(" + ref.ID + ")"
		}
		return nil, newError(ErrUnknownVariable, "Unknown variable: %s. Check the variable registry.", label)
	}

	fn, ok := resolvers[def.ResolverKey]
	if !ok {
		r.metrics.RecordResolve(string(def.Source), false)
		return nil, newError(ErrUnknownVariable, "Resolver not implemented for: %s", def.ResolverKey)
	}

	params := in.Params
	if params == nil {
		params = map[string]any{}
	}

	ctx, span := r.tracer.TraceUpstream(ctx, string(def.Source), def.ResolverKey)
	defer span.End()
	start := time.Now()

	value, err := fn(r, ctx, call{ref: ref, def: def, params: params})
	r.metrics.RecordResolve(string(def.Source), err == nil)
	if err != nil {
		var apiErr *Error
		if !errors.As(err, &apiErr) {
			err = newError(ErrUpstream, "Resolve failed: %v", err)
		}
		observability.RecordError(span, err)
		r.logger.Warn("resolve failed",
			"path", ref.String(),
			"resolver", def.ResolverKey,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}
	r.logger.Debug("resolved external value",
		"path", ref.String(),
		"resolver", def.ResolverKey,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return value, nil
}

// itemID returns the id from the path, else from the variable's id param.
func (c call) itemID() (string, error) {
	if c.ref.ID != "" {
		return c.ref.ID, nil
	}
	if id := idString(c.params[c.def.IDParam]); id != "" {
		return id, nil
	}
	return "", newError(ErrMissingParam, "Missing required param: %s (or use path %s(123))", c.def.IDParam, c.def.ID)
}

// single resolves a per-item variable and projects the requested field.
// An absent field resolves to nil.
func single(plural string) resolveFunc {
	return func(r *Resolver, ctx context.Context, c call) (any, error) {
		id, err := c.itemID()
		if err != nil {
			return nil, err
		}
		data, err := r.amocrm.Get(ctx, plural, id)
		if err != nil {
			return nil, err
		}
		value := unwrapSingle(data, plural)
		if c.ref.Field != "" {
			value, _ = pickField(value, c.ref.Field)
		}
		return value, nil
	}
}

func listOf(fetch func(*AmoCRMClient, context.Context, ListQuery) (any, error)) resolveFunc {
	return func(r *Resolver, ctx context.Context, c call) (any, error) {
		data, err := fetch(r.amocrm, ctx, listQuery(c.params))
		if err != nil {
			return nil, err
		}
		return shapeList(data, c.def.ResolverKey, listOptionsFor(c.params)), nil
	}
}

func resolveTasks(r *Resolver, ctx context.Context, c call) (any, error) {
	q := TaskQuery{ListQuery: listQuery(c.params)}
	if v, ok := c.params["filter_date_from"]; ok && v != nil {
		if ts, ok := ParseTaskBound(v, false); ok {
			q.DateFrom = &ts
		}
	}
	if v, ok := c.params["filter_date_to"]; ok && v != nil {
		if ts, ok := ParseTaskBound(v, true); ok {
			q.DateTo = &ts
		}
	}
	q.IsCompleted = optionalInt(c.params, "filter_is_completed")
	switch v := c.params["filter_task_type_id"].(type) {
	case nil:
	case []any:
		for _, item := range v {
			if id, ok := intValue(item); ok {
				q.TaskTypeIDs = append(q.TaskTypeIDs, id)
			}
		}
	default:
		if id, ok := intParam(c.params, "filter_task_type_id"); ok {
			q.TaskTypeIDs = []int64{id}
		}
	}

	data, err := r.amocrm.Tasks(ctx, q)
	if err != nil {
		return nil, err
	}
	return shapeList(data, c.def.ResolverKey, listOptionsFor(c.params)), nil
}

func resolveNotes(r *Resolver, ctx context.Context, c call) (any, error) {
	q := NoteQuery{ListQuery: listQuery(c.params)}
	q.EntityID = idString(c.params["filter_entity_id"])
	q.EntityType, _ = stringParam(c.params, "filter_entity_type")
	data, err := r.amocrm.Notes(ctx, q)
	if err != nil {
		return nil, err
	}
	return shapeList(data, c.def.ResolverKey, listOptionsFor(c.params)), nil
}

func resolveCalls(r *Resolver, ctx context.Context, c call) (any, error) {
	q := CallsQuery{
		FromDate:   optionalInt(c.params, "from_date"),
		ToDate:     optionalInt(c.params, "to_date"),
		FromOffset: optionalInt(c.params, "from_offset"),
		Supervised: optionalInt(c.params, "supervised"),
	}
	if id, ok := intParam(c.params, "from_id"); ok {
		q.FromID = id
	}
	if n, ok := intParam(c.params, "max_results"); ok {
		q.MaxResults = n
	}
	return r.moizvonki.Calls(ctx, q)
}

func listQuery(params map[string]any) ListQuery {
	var q ListQuery
	q.Limit, _ = intParam(params, "limit")
	q.Page, _ = intParam(params, "page")
	q.Query, _ = stringParam(params, "query")
	return q
}

func listOptionsFor(params map[string]any) listOptions {
	opts := listOptions{compact: boolParam(params, "compact")}
	opts.limit, _ = intParam(params, "limit")
	opts.page, _ = intParam(params, "page")
	return opts
}

func pageQuery(params map[string]any) PageQuery {
	return PageQuery{
		MaxResults: optionalInt(params, "max_results"),
		FromOffset: optionalInt(params, "from_offset"),
	}
}

func optionalInt(params map[string]any, key string) *int64 {
	if n, ok := intParam(params, key); ok {
		return &n
	}
	return nil
}
