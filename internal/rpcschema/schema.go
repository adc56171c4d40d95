// Package rpcschema validates decoded RPC action input against a small
// JSON-Schema-subset: type, required, properties, minLength, maxLength,
// minimum, maximum, pattern, enum. It is adapted from the same validator
// shape the gateway uses for HTTP request bodies, generalized to operate
// on already-decoded Go values (msgpack maps) instead of raw JSON bytes.
package rpcschema

import (
	"fmt"
	"math"
	"regexp"
	"sort"

	"github.com/oriys/reactiverpc/internal/rpcenvelope"
)

// Schema is a JSON-Schema-subset document, typically built with map[string]any
// literals, e.g.:
//
//	Schema{"type": "object", "required": []any{"n"}, "properties": map[string]any{
//	    "n": map[string]any{"type": "number"},
//	}}
type Schema map[string]any

// Validate checks value (normally a decoded msgpack map[string]any) against
// schema, returning the full list of structured issues found (not just the
// first). A nil/empty schema always validates.
func Validate(schema Schema, value any) []rpcenvelope.ValidationIssue {
	if len(schema) == 0 {
		return nil
	}
	var issues []rpcenvelope.ValidationIssue
	validateValue("$", schema, normalize(value), &issues)
	sort.Slice(issues, func(i, j int) bool { return issues[i].Path < issues[j].Path })
	return issues
}

// normalize converts map[string]any keyed maps that might have come back
// from msgpack decoding with non-string key types into the plain
// map[string]any / []any / scalar shape the validator expects.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}

func addIssue(issues *[]rpcenvelope.ValidationIssue, path, format string, args ...any) {
	*issues = append(*issues, rpcenvelope.ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
}

func validateValue(path string, schema Schema, value any, issues *[]rpcenvelope.ValidationIssue) {
	if t, ok := schema["type"].(string); ok {
		if !checkType(t, value) {
			addIssue(issues, path, "expected type %s, got %s", t, actualType(value))
			return
		}
	}

	if enumRaw, ok := schema["enum"].([]any); ok {
		if !checkEnum(enumRaw, value) {
			addIssue(issues, path, "value not in allowed enum values")
		}
	}

	switch v := value.(type) {
	case string:
		validateString(path, schema, v, issues)
	case float64:
		validateNumber(path, schema, v, issues)
	case int, int64:
		validateNumber(path, schema, toFloat(v), issues)
	case map[string]any:
		validateObject(path, schema, v, issues)
	case []any:
		validateArray(path, schema, v, issues)
	}
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case float64:
		return t
	default:
		return 0
	}
}

func actualType(v any) string {
	switch v.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case float64, int, int64:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	default:
		return "unknown"
	}
}

func checkType(expected string, value any) bool {
	actual := actualType(value)
	if expected == "integer" {
		switch v := value.(type) {
		case float64:
			return v == math.Floor(v)
		case int, int64:
			return true
		default:
			return false
		}
	}
	if expected == "number" && actual == "number" {
		return true
	}
	return actual == expected
}

func checkEnum(allowed []any, value any) bool {
	for _, a := range allowed {
		if fmt.Sprintf("%v", a) == fmt.Sprintf("%v", value) {
			return true
		}
	}
	return false
}

func validateString(path string, schema Schema, value string, issues *[]rpcenvelope.ValidationIssue) {
	if minLen, ok := numericField(schema, "minLength"); ok && len(value) < int(minLen) {
		addIssue(issues, path, "string length %d below minimum %d", len(value), int(minLen))
	}
	if maxLen, ok := numericField(schema, "maxLength"); ok && len(value) > int(maxLen) {
		addIssue(issues, path, "string length %d exceeds maximum %d", len(value), int(maxLen))
	}
	if pattern, ok := schema["pattern"].(string); ok {
		re, err := regexp.Compile(pattern)
		if err != nil {
			addIssue(issues, path, "invalid pattern %q in schema", pattern)
			return
		}
		if !re.MatchString(value) {
			addIssue(issues, path, "string does not match pattern %q", pattern)
		}
	}
}

func validateNumber(path string, schema Schema, value float64, issues *[]rpcenvelope.ValidationIssue) {
	if min, ok := numericField(schema, "minimum"); ok && value < min {
		addIssue(issues, path, "value %v below minimum %v", value, min)
	}
	if max, ok := numericField(schema, "maximum"); ok && value > max {
		addIssue(issues, path, "value %v exceeds maximum %v", value, max)
	}
}

func numericField(schema Schema, key string) (float64, bool) {
	v, ok := schema[key]
	if !ok {
		return 0, false
	}
	return toFloat(v), true
}

func validateObject(path string, schema Schema, value map[string]any, issues *[]rpcenvelope.ValidationIssue) {
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			key := fmt.Sprintf("%v", r)
			if _, present := value[key]; !present {
				addIssue(issues, path+"."+key, "required property missing")
			}
		}
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return
	}
	for key, v := range value {
		propSchemaRaw, ok := props[key]
		if !ok {
			continue
		}
		propSchema, ok := propSchemaRaw.(map[string]any)
		if !ok {
			continue
		}
		validateValue(path+"."+key, Schema(propSchema), v, issues)
	}
}

func validateArray(path string, schema Schema, value []any, issues *[]rpcenvelope.ValidationIssue) {
	itemsRaw, ok := schema["items"].(map[string]any)
	if !ok {
		return
	}
	itemSchema := Schema(itemsRaw)
	for i, v := range value {
		validateValue(fmt.Sprintf("%s[%d]", path, i), itemSchema, v, issues)
	}
}
