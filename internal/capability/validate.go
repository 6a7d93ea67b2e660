package capability

import (
	"fmt"
	"math"
)

// validateArgs checks args against the capability's JSON-Schema
// parameters: required fields, primitive types, integer bounds, and
// string enums. It covers the subset of JSON Schema the built-in
// capabilities use; unknown arguments are tolerated so the model can
// over-specify without failing the call.
func validateArgs(args map[string]any, schema map[string]any) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}

	if required, ok := schema["required"].([]string); ok {
		for _, field := range required {
			if _, exists := args[field]; !exists {
				return fmt.Errorf("%w: missing required argument %q", ErrInvalidArguments, field)
			}
		}
	}

	properties, ok := schema["properties"].(map[string]any)
	if !ok {
		return nil
	}

	for key, value := range args {
		prop, ok := properties[key].(map[string]any)
		if !ok {
			continue
		}
		if err := validateValue(value, prop); err != nil {
			return fmt.Errorf("%w: argument %q %s", ErrInvalidArguments, key, err)
		}
	}

	return nil
}

func validateValue(value any, prop map[string]any) error {
	expected, _ := prop["type"].(string)

	switch expected {
	case "string":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("must be a string, got %T", value)
		}
		if err := validateEnum(s, prop); err != nil {
			return err
		}
	case "integer":
		n, ok := asInteger(value)
		if !ok {
			return fmt.Errorf("must be an integer, got %T", value)
		}
		if min, ok := asInteger(prop["minimum"]); ok && n < min {
			return fmt.Errorf("must be >= %d, got %d", min, n)
		}
		if max, ok := asInteger(prop["maximum"]); ok && n > max {
			return fmt.Errorf("must be <= %d, got %d", max, n)
		}
	case "number":
		if !isNumber(value) {
			return fmt.Errorf("must be a number, got %T", value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("must be a boolean, got %T", value)
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("must be an object, got %T", value)
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return fmt.Errorf("must be an array, got %T", value)
		}
	case "":
		// Untyped property: accept anything.
	default:
		return fmt.Errorf("has unsupported schema type %q", expected)
	}

	return nil
}

func validateEnum(s string, prop map[string]any) error {
	enum, ok := prop["enum"].([]string)
	if !ok {
		return nil
	}
	for _, allowed := range enum {
		if s == allowed {
			return nil
		}
	}
	return fmt.Errorf("must be one of %v, got %q", enum, s)
}

// asInteger accepts Go integers and JSON-decoded float64 values that
// carry an integral value.
func asInteger(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if math.Trunc(v) == v {
			return int(v), true
		}
	}
	return 0, false
}

func isNumber(value any) bool {
	switch value.(type) {
	case float32, float64, int, int8, int16, int32, int64:
		return true
	}
	return false
}
