package externalapi

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// decodeJSON decodes an upstream body keeping numbers as json.Number so
// ids and timestamps pass through unchanged.
func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, &json.SyntaxError{Offset: dec.InputOffset()}
	}
	return v, nil
}

// number converts a decoded JSON number to int64. Strings are not numbers.
func number(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return int64(math.Trunc(f)), true
	case float64:
		return int64(math.Trunc(n)), true
	case float32:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	}
	return 0, false
}

// intParam reads a numeric param. Numeric strings are accepted since
// params also arrive from query strings and the command line.
func intParam(params map[string]any, key string) (int64, bool) {
	return intValue(params[key])
}

func intValue(v any) (int64, bool) {
	if v == nil {
		return 0, false
	}
	if n, ok := number(v); ok {
		return n, true
	}
	if s, ok := v.(string); ok {
		if i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

func stringParam(params map[string]any, key string) (string, bool) {
	s, ok := params[key].(string)
	return s, ok
}

func boolParam(params map[string]any, key string) bool {
	switch v := params[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

// idString renders an id param given as a string or a number.
func idString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	if n, ok := v.(json.Number); ok {
		return n.String()
	}
	if n, ok := number(v); ok {
		return strconv.FormatInt(n, 10)
	}
	return ""
}
