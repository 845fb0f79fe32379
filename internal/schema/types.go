// Package schema is the single source of truth for allowed memory types,
// field shapes, validations, anchors, and the relation catalog (§4.1).
//
// Per-type validation and anchor resolution are driven by the schema, not by
// a class hierarchy: Translator compiles each EntitySpec into a spec record
// in a registry keyed by lowercased entity name (§9's "closed variants +
// schema" design note). ValidatePayload interprets that record on each call;
// no per-type validator closure is built or cached.
package schema

// FieldType enumerates the primitive shapes a payload field can hold.
type FieldType string

const (
	FieldString   FieldType = "string"
	FieldInt      FieldType = "int"
	FieldFloat    FieldType = "float"
	FieldBool     FieldType = "bool"
	FieldDatetime FieldType = "datetime"
	FieldDate     FieldType = "date"
	FieldEnum     FieldType = "enum"
	FieldTags     FieldType = "tags"
	FieldVector   FieldType = "vector"
	FieldRef      FieldType = "ref"
)

// FieldSpec describes one payload field of an EntitySpec.
type FieldSpec struct {
	Name      string
	Type      FieldType
	Required  bool
	Choices   []string
	MaxLength int
	Default   any
	Dim       int
	System    bool
}

// EntitySpec is the compiled description of one memory type.
type EntitySpec struct {
	Name        string
	Description string
	Anchor      string
	Fields      map[string]FieldSpec
	// FieldOrder lists the declared field names. It is filled while ranging
	// over the decoded fields map, so its order is not the declaration order.
	FieldOrder []string
}

// RelationSpec describes one relationship declaration. A RelationSpec may
// list several predicates sharing the same source/target/directedness.
type RelationSpec struct {
	Name        string
	Description string
	Directed    bool
	Predicates  []string
	Source      string // entity name, or "*"
	Target      string // entity name, or "*"
}

// relationKey identifies one resolved (source, predicate, target) triple.
type relationKey struct {
	source    string
	predicate string
	target    string
}
