package externalapi

// Variable is a registry entry mapping source.entity to an upstream call.
type Variable struct {
	ID             string   `json:"id"`
	Description    string   `json:"description"`
	Source         Source   `json:"source"`
	Entity         string   `json:"entity"`
	RequiredParams []string `json:"required_params"`
	OptionalParams []string `json:"optional_params"`
	ExamplePath    string   `json:"example_path"`
	ResolverKey    string   `json:"resolver_key"`
	// IDParam is set for per-item lookups and names the id param.
	IDParam string `json:"id_param,omitempty"`
}

// Dynamic reports whether the variable addresses a single item by id.
func (v Variable) Dynamic() bool { return v.IDParam != "" }

var (
	listParams  = []string{"limit", "page", "query", "compact"}
	taskParams  = []string{"filter_date_from", "filter_date_to", "filter_is_completed", "filter_task_type_id", "limit", "page", "compact"}
	noteParams  = []string{"filter_entity_id", "filter_entity_type", "limit", "page", "compact"}
	pagedParams = []string{"limit", "page", "compact"}
)

func static(source Source, entity, id, key, description string, optional []string) Variable {
	return Variable{
		ID:             id,
		Description:    description,
		Source:         source,
		Entity:         entity,
		RequiredParams: []string{},
		OptionalParams: append([]string{}, optional...),
		ExamplePath:    id,
		ResolverKey:    key,
	}
}

func dynamic(entity, idParam, example, description string, optional []string) Variable {
	id := "amocrm." + entity
	return Variable{
		ID:             id,
		Description:    description,
		Source:         SourceAmoCRM,
		Entity:         entity,
		RequiredParams: []string{idParam},
		OptionalParams: append([]string{}, optional...),
		ExamplePath:    example,
		ResolverKey:    id,
		IDParam:        idParam,
	}
}

var registry = []Variable{
	static(SourceAmoCRM, "account", "amocrm.account", "amocrm.account",
		"Current AmoCRM account info (name, timezone, currency)", nil),
	static(SourceAmoCRM, "pipelines", "amocrm.pipelines", "amocrm.pipelines",
		"Sales pipelines and stages", nil),
	static(SourceAmoCRM, "leads", "amocrm.leads_list", "amocrm.leads_list",
		"List of leads (deals) with optional filters", listParams),
	static(SourceAmoCRM, "contacts", "amocrm.contacts_list", "amocrm.contacts_list",
		"List of contacts with optional filters", listParams),
	static(SourceAmoCRM, "companies", "amocrm.companies_list", "amocrm.companies_list",
		"List of companies with optional filters", listParams),
	static(SourceAmoCRM, "users", "amocrm.users", "amocrm.users",
		"AmoCRM users (account members)", nil),
	static(SourceAmoCRM, "tasks_list", "amocrm.tasks_list", "amocrm.tasks_list",
		"List of tasks; optional filter date_from, date_to (Unix timestamp or YYYY-MM-DD), is_completed, task_type_id", taskParams),
	static(SourceAmoCRM, "tasks", "amocrm.tasks", "amocrm.tasks_list",
		"List of tasks (alias for tasks_list); optional filter date_from, date_to for today's tasks", taskParams),
	static(SourceAmoCRM, "notes_list", "amocrm.notes_list", "amocrm.notes_list",
		"List of notes; optional filter entity_id, entity_type (lead/contact/company), limit, page", noteParams),
	static(SourceAmoCRM, "notes", "amocrm.notes", "amocrm.notes_list",
		"List of notes (alias for notes_list)", noteParams),
	static(SourceAmoCRM, "catalogs_list", "amocrm.catalogs_list", "amocrm.catalogs_list",
		"List of catalogs (product/service catalogs)", pagedParams),
	static(SourceAmoCRM, "catalogs", "amocrm.catalogs", "amocrm.catalogs_list",
		"List of catalogs (alias for catalogs_list)", pagedParams),

	dynamic("lead", "leadId", "amocrm.lead(123) or amocrm.lead(123).potential_amount",
		"Single lead (deal) by ID; optionally request a specific field", nil),
	dynamic("contact", "contactId", "amocrm.contact(456) or amocrm.contact(456).name",
		"Single contact by ID; optionally request a specific field", nil),
	dynamic("company", "companyId", "amocrm.company(789) or amocrm.company(789).name",
		"Single company by ID; optionally request a specific field", nil),
	dynamic("task", "taskId", "amocrm.task(123) or amocrm.task(123).task_type_id",
		"Single task by ID; optionally request a specific field", nil),
	dynamic("note", "noteId", "amocrm.note(123)",
		"Single note by ID; optionally request a specific field", nil),
	dynamic("catalog", "catalogId", "amocrm.catalog(123)",
		"Single catalog by ID; optionally request a specific field", nil),
	dynamic("catalog_elements", "catalogId", "amocrm.catalog_elements(123)",
		"Elements (products/items) of a catalog by catalog ID", listParams),

	static(SourceMoizvonki, "calls", "moizvonki.calls_list", "moizvonki.calls_list",
		"List of calls from Moizvonki; optional from_date, to_date, max_results, supervised",
		[]string{"from_date", "to_date", "from_id", "max_results", "from_offset", "supervised"}),
	static(SourceMoizvonki, "sms_templates", "moizvonki.sms_templates", "moizvonki.sms_templates",
		"SMS templates configured in Moizvonki", nil),
	static(SourceMoizvonki, "employees", "moizvonki.employees", "moizvonki.employees",
		"List of employees (users) in Moizvonki account",
		[]string{"max_results", "from_offset", "employee_user_name", "employee_id"}),
	static(SourceMoizvonki, "groups", "moizvonki.groups", "moizvonki.groups",
		"List of groups in Moizvonki account", []string{"max_results", "from_offset"}),
	static(SourceMoizvonki, "webhook_list", "moizvonki.webhook_list", "moizvonki.webhook_list",
		"Current webhook subscriptions (call.start, call.answer, call.finish, sms.message)", nil),
}

// Variables returns a copy of the registry in declaration order.
func Variables() []Variable {
	out := make([]Variable, len(registry))
	copy(out, registry)
	return out
}

// Find returns the variable addressed by ref. The entity may be given as
// the registry entity or as the suffix of the variable id, so both
// amocrm.leads and amocrm.leads_list resolve to the leads list. A reference
// with an id only matches per-item variables. One without an id matches a
// static variable first and falls back to a per-item variable, whose id
// must then come from params.
func Find(ref Reference) (Variable, bool) {
	if ref.ID != "" {
		return match(ref, true)
	}
	if v, ok := match(ref, false); ok {
		return v, true
	}
	return match(ref, true)
}

func match(ref Reference, perItem bool) (Variable, bool) {
	qualified := string(ref.Source) + "." + ref.Entity
	for _, v := range registry {
		if v.Source != ref.Source || v.Dynamic() != perItem {
			continue
		}
		if v.Entity == ref.Entity || v.ID == qualified {
			return v, true
		}
	}
	return Variable{}, false
}
