package tools

import (
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationError reports input that does not match a tool schema.
type ValidationError struct {
	Tool     string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input for %s: %s", e.Tool, strings.Join(e.Problems, "; "))
}

func compileSchema(name string, schema []byte) (*jsonschema.Schema, error) {
	return jsonschema.CompileString("tool_"+name+".schema.json", string(schema))
}

func newValidationError(tool string, err error) *ValidationError {
	var schemaErr *jsonschema.ValidationError
	if !errors.As(err, &schemaErr) {
		return &ValidationError{Tool: tool, Problems: []string{err.Error()}}
	}
	var problems []string
	collectProblems(schemaErr, &problems)
	if len(problems) == 0 {
		problems = []string{schemaErr.Message}
	}
	return &ValidationError{Tool: tool, Problems: problems}
}

// collectProblems flattens the cause tree to its leaves.
func collectProblems(e *jsonschema.ValidationError, out *[]string) {
	if len(e.Causes) == 0 {
		loc := e.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		*out = append(*out, loc+": "+e.Message)
		return
	}
	for _, cause := range e.Causes {
		collectProblems(cause, out)
	}
}
