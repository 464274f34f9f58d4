package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Func is the body of a typed tool.
type Func[In any] func(ctx context.Context, in In, caller Caller) (any, error)

type typedTool[In any] struct {
	name        string
	description string
	schema      json.RawMessage
	fn          Func[In]
}

// New builds a Tool from a typed function. The input schema is reflected
// from In: fields without omitempty are required, descriptions come from
// jsonschema_description tags and constraints from jsonschema tags.
func New[In any](name, description string, fn Func[In]) Tool {
	return &typedTool[In]{
		name:        name,
		description: description,
		schema:      SchemaFor[In](),
		fn:          fn,
	}
}

func (t *typedTool[In]) Name() string            { return t.name }
func (t *typedTool[In]) Description() string     { return t.description }
func (t *typedTool[In]) Schema() json.RawMessage { return t.schema }

func (t *typedTool[In]) Execute(ctx context.Context, input json.RawMessage, caller Caller) (any, error) {
	var in In
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	return t.fn(ctx, in, caller)
}

// anyObjectSchema is used when In cannot be reflected.
var anyObjectSchema = json.RawMessage(`{"type":"object"}`)

// SchemaFor reflects the input schema of In. Types the reflector cannot
// handle, such as anonymous structs, get a plain object schema.
func SchemaFor[In any]() (out json.RawMessage) {
	defer func() {
		if recover() != nil {
			out = anyObjectSchema
		}
	}()
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}
	schema := r.Reflect(new(In))
	schema.Version = ""
	schema.ID = ""
	data, err := json.Marshal(schema)
	if err != nil {
		return anyObjectSchema
	}
	return data
}
