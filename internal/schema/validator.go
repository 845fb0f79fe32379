package schema

import (
	"fmt"
	"strings"

	"github.com/nucleus/memg-core/internal/domain"
	"github.com/nucleus/memg-core/internal/memgerr"
)

// AnchorText returns payload[anchor_field(memory.MemoryType)] after
// trimming; fails if missing, empty, or not a string (§4.1, invariant 7).
func (t *Translator) AnchorText(m *domain.Memory) (string, error) {
	field, err := t.AnchorField(m.MemoryType)
	if err != nil {
		return "", err
	}
	raw, ok := m.Get(field)
	if !ok {
		return "", memgerr.Kindf(memgerr.ValidationError, "schema.AnchorText", "payload is missing anchor field %q", field)
	}
	s, ok := raw.(string)
	if !ok {
		return "", memgerr.Kindf(memgerr.ValidationError, "schema.AnchorText", "anchor field %q must be a string, got %T", field, raw)
	}
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", memgerr.Kindf(memgerr.ValidationError, "schema.AnchorText", "anchor field %q is empty after trimming", field)
	}
	return trimmed, nil
}

// ValidatePayload strips system fields, checks required-field presence and
// enum membership, and returns the cleaned payload (§4.1).
//
// Unknown fields are rejected by default (closed schema); §4.1 notes this
// may become an opt-in openness flag, not implemented here since no
// EntitySpec in this module's test schemas asks for it.
func (t *Translator) ValidatePayload(entityType string, payload map[string]any) (map[string]any, error) {
	spec, err := t.Entity(entityType)
	if err != nil {
		return nil, err
	}

	cleaned := make(map[string]any, len(payload))
	for k, v := range payload {
		field, declared := spec.Fields[k]
		if !declared {
			return nil, memgerr.Kindf(memgerr.ValidationError, "schema.ValidatePayload", "unknown field %q for type %q", k, entityType)
		}
		if field.System {
			// Strip caller-supplied system fields (§4.1 step 1); never error.
			continue
		}
		cleaned[k] = v
	}

	for name, field := range spec.Fields {
		if field.System || !field.Required {
			continue
		}
		v, present := cleaned[name]
		if !present || isEmptyValue(v) {
			return nil, memgerr.Kindf(memgerr.ValidationError, "schema.ValidatePayload", "field %q is required for type %q", name, entityType)
		}
	}

	for name, field := range spec.Fields {
		if field.Type != FieldEnum {
			continue
		}
		v, present := cleaned[name]
		if !present {
			continue
		}
		s, ok := v.(string)
		if !ok || !contains(field.Choices, s) {
			return nil, memgerr.Kindf(memgerr.ValidationError, "schema.ValidatePayload",
				"field %q must be one of [%s], got %v", name, strings.Join(field.Choices, ", "), v)
		}
	}

	return cleaned, nil
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []string:
		return len(t) == 0
	case []any:
		return len(t) == 0
	default:
		return false
	}
}

func contains(choices []string, v string) bool {
	for _, c := range choices {
		if c == v {
			return true
		}
	}
	return false
}

// ProjectScalars returns the subset of a validated payload declared as
// primitive scalar types in the schema (string, int, float, bool, datetime,
// date, enum) — the "fixed projection of selected scalar payload fields"
// the indexer flattens onto graph node properties (§4.5 step 6).
func (t *Translator) ProjectScalars(entityType string, payload map[string]any) (map[string]any, error) {
	spec, err := t.Entity(entityType)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	for name, field := range spec.Fields {
		switch field.Type {
		case FieldString, FieldInt, FieldFloat, FieldBool, FieldDatetime, FieldDate, FieldEnum:
			if v, ok := payload[name]; ok {
				out[name] = v
			}
		}
	}
	return out, nil
}

// FieldError formats a human-readable description of field for error
// messages elsewhere (system info, CLI help).
func FieldError(name string, field FieldSpec) string {
	return fmt.Sprintf("%s:%s", name, field.Type)
}
