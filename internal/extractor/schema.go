package extractor

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSchemaViolation matches every *SchemaViolationError
var ErrSchemaViolation = errors.New("extraction schema violation")

// SchemaViolationError reports model output that does not fit the schema
type SchemaViolationError struct {
	Intent string
	Path   string // JSON path of the offending value, "$" for the root
	Reason string
	Raw    string // Model output, truncated
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("%s extraction: %s: %s", e.Intent, e.Path, e.Reason)
}

// Is reports ErrSchemaViolation as a match
func (e *SchemaViolationError) Is(target error) bool {
	return target == ErrSchemaViolation
}

type kind int

const (
	kindString kind = iota
	kindStringList
	kindObjectList
)

// field describes one key of a JSON object. Required strings must be
// present and non-blank. Lists are never required: absent or null decodes
// to an empty list. Any other value that is present must have the declared
// type.
type field struct {
	name     string
	kind     kind
	required bool
	fields   []field // Element schema for kindObjectList
}

// violation is a path-qualified schema failure before the intent is known
type violation struct {
	path   string
	reason string
}

func (v *violation) Error() string { return v.path + ": " + v.reason }

// validateObject checks v against fields. Unknown keys are ignored.
func validateObject(path string, v any, fields []field) *violation {
	obj, ok := v.(map[string]any)
	if !ok {
		return &violation{path, "expected object, got " + typeName(v)}
	}

	for _, f := range fields {
		fpath := path + "." + f.name
		val, present := obj[f.name]
		if !present || val == nil {
			if f.required {
				return &violation{fpath, "required field missing"}
			}
			continue
		}

		switch f.kind {
		case kindString:
			s, ok := val.(string)
			if !ok {
				return &violation{fpath, "expected string, got " + typeName(val)}
			}
			if f.required && strings.TrimSpace(s) == "" {
				return &violation{fpath, "must not be empty"}
			}
		case kindStringList:
			items, ok := val.([]any)
			if !ok {
				return &violation{fpath, "expected array, got " + typeName(val)}
			}
			for i, item := range items {
				if _, ok := item.(string); !ok {
					return &violation{fmt.Sprintf("%s[%d]", fpath, i), "expected string, got " + typeName(item)}
				}
			}
		case kindObjectList:
			items, ok := val.([]any)
			if !ok {
				return &violation{fpath, "expected array, got " + typeName(val)}
			}
			for i, item := range items {
				if err := validateObject(fmt.Sprintf("%s[%d]", fpath, i), item, f.fields); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

var objectiveFields = []field{
	{name: "objective", kind: kindString, required: true},
	{name: "endpoints", kind: kindStringList},
}

var objectivesSchema = []field{
	{name: "primary", kind: kindObjectList, fields: objectiveFields},
	{name: "secondary", kind: kindObjectList, fields: objectiveFields},
	{name: "exploratory", kind: kindObjectList, fields: objectiveFields},
	{name: "other", kind: kindObjectList, fields: objectiveFields},
}

var eligibilitySchema = []field{
	{name: "inclusion", kind: kindStringList},
	{name: "exclusion", kind: kindStringList},
}

var visitDefinitionsSchema = []field{
	{name: "visits", kind: kindObjectList, fields: []field{
		{name: "name", kind: kindString, required: true},
		{name: "description", kind: kindString},
		{name: "timing", kind: kindString},
		{name: "window", kind: kindString},
		{name: "trigger", kind: kindString},
	}},
}

var keyAssessmentsSchema = []field{
	{name: "assessments", kind: kindObjectList, fields: []field{
		{name: "category", kind: kindString},
		{name: "name", kind: kindString, required: true},
		{name: "description", kind: kindString},
		{name: "procedures", kind: kindObjectList, fields: []field{
			{name: "name", kind: kindString, required: true},
			{name: "description", kind: kindString},
		}},
	}},
}

var scheduleSchema = []field{
	{name: "tables", kind: kindObjectList, fields: []field{
		{name: "table_title", kind: kindString},
		{name: "visits", kind: kindObjectList, fields: []field{
			{name: "visit_name", kind: kindString, required: true},
			{name: "study_day", kind: kindString},
			{name: "window", kind: kindString},
			{name: "procedures", kind: kindStringList},
		}},
	}},
}
