package schema

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nucleus/memg-core/internal/memgerr"
)

// registryDocument mirrors the YAML registry file shape (§6).
type registryDocument struct {
	Version    string                     `yaml:"version"`
	IDPolicy   idPolicyDocument           `yaml:"id_policy"`
	Defaults   defaultsDocument           `yaml:"defaults"`
	Entities   yaml.Node                  `yaml:"entities"`
	Relations  []relationDocument         `yaml:"relations"`
}

type idPolicyDocument struct {
	Kind  string `yaml:"kind"`
	Field string `yaml:"field"`
}

type defaultsDocument struct {
	Vector struct {
		Metric    string `yaml:"metric"`
		Normalize bool   `yaml:"normalize"`
		Dim       int    `yaml:"dim"`
	} `yaml:"vector"`
	Timestamps struct {
		AutoCreate bool `yaml:"auto_create"`
		AutoUpdate bool `yaml:"auto_update"`
	} `yaml:"timestamps"`
}

type entityDocument struct {
	Name        string                     `yaml:"name"`
	Description string                     `yaml:"description"`
	Anchor      string                     `yaml:"anchor"`
	Fields      map[string]fieldDocument   `yaml:"fields"`
}

type fieldDocument struct {
	Type      string   `yaml:"type"`
	Required  bool     `yaml:"required"`
	Choices   []string `yaml:"choices"`
	MaxLength int      `yaml:"max_length"`
	Default   any      `yaml:"default"`
	Dim       int      `yaml:"dim"`
	System    bool     `yaml:"system"`
}

type relationDocument struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Directed    bool     `yaml:"directed"`
	Predicates  []string `yaml:"predicates"`
	Source      string   `yaml:"source"`
	Target      string   `yaml:"target"`
}

// Translator is the compiled, queryable form of a schema registry.
// Translator holds the compiled entity specs and relation index; it is a
// value injected into the service façade rather than a global singleton (§9).
type Translator struct {
	entities  map[string]*EntitySpec
	order     []string
	relations []RelationSpec
	relationIndex map[relationKey]bool
}

// Load reads and compiles a registry file. Fails with SchemaError if the
// file is missing, unparsable, empty, or lacks an entities section (§4.1).
func Load(path string) (*Translator, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, memgerr.Wrap(memgerr.SchemaError, "schema.Load", err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, memgerr.Kindf(memgerr.SchemaError, "schema.Load", "registry file %s is empty", path)
	}

	var doc registryDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, memgerr.Wrap(memgerr.SchemaError, "schema.Load", err)
	}
	if doc.Entities.Kind == 0 {
		return nil, memgerr.Kindf(memgerr.SchemaError, "schema.Load", "registry file %s has no entities section", path)
	}

	entityDocs, err := decodeEntities(&doc.Entities)
	if err != nil {
		return nil, memgerr.Wrap(memgerr.SchemaError, "schema.Load", err)
	}
	if len(entityDocs) == 0 {
		return nil, memgerr.Kindf(memgerr.SchemaError, "schema.Load", "registry file %s declares no entities", path)
	}

	return compile(entityDocs, doc.Relations)
}

// decodeEntities accepts either a YAML sequence of EntitySpec or a mapping
// of name -> EntitySpec (§4.1, §6).
func decodeEntities(node *yaml.Node) ([]entityDocument, error) {
	switch node.Kind {
	case yaml.SequenceNode:
		var docs []entityDocument
		if err := node.Decode(&docs); err != nil {
			return nil, err
		}
		return docs, nil
	case yaml.MappingNode:
		// Walk the key/value pairs in document order so EntityNames keeps
		// the declaration order for mapping-form registries too.
		docs := make([]entityDocument, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			var d entityDocument
			if err := node.Content[i+1].Decode(&d); err != nil {
				return nil, err
			}
			if d.Name == "" {
				d.Name = node.Content[i].Value
			}
			docs = append(docs, d)
		}
		return docs, nil
	default:
		return nil, fmt.Errorf("entities must be a list or mapping")
	}
}

func compile(entityDocs []entityDocument, relationDocs []relationDocument) (*Translator, error) {
	t := &Translator{
		entities:      make(map[string]*EntitySpec, len(entityDocs)),
		relationIndex: make(map[relationKey]bool),
	}

	for _, ed := range entityDocs {
		if strings.TrimSpace(ed.Name) == "" {
			return nil, memgerr.Kindf(memgerr.SchemaError, "schema.compile", "an entity is missing its name")
		}
		name := strings.ToLower(ed.Name)
		if strings.TrimSpace(ed.Anchor) == "" {
			return nil, memgerr.Kindf(memgerr.SchemaError, "schema.compile", "entity %q has no anchor field", ed.Name)
		}
		spec := &EntitySpec{
			Name:        name,
			Description: ed.Description,
			Anchor:      ed.Anchor,
			Fields:      make(map[string]FieldSpec, len(ed.Fields)),
		}
		for fname, fd := range ed.Fields {
			spec.Fields[fname] = FieldSpec{
				Name:      fname,
				Type:      FieldType(fd.Type),
				Required:  fd.Required,
				Choices:   fd.Choices,
				MaxLength: fd.MaxLength,
				Default:   fd.Default,
				Dim:       fd.Dim,
				System:    fd.System,
			}
			spec.FieldOrder = append(spec.FieldOrder, fname)
		}
		if _, exists := spec.Fields[spec.Anchor]; !exists {
			return nil, memgerr.Kindf(memgerr.SchemaError, "schema.compile", "entity %q anchor field %q is not declared in fields", ed.Name, ed.Anchor)
		}
		t.entities[name] = spec
		t.order = append(t.order, name)
	}

	for _, rd := range relationDocs {
		if len(rd.Predicates) == 0 {
			return nil, memgerr.Kindf(memgerr.SchemaError, "schema.compile", "relation %q declares no predicates", rd.Name)
		}
		rel := RelationSpec{
			Name:        rd.Name,
			Description: rd.Description,
			Directed:    rd.Directed,
			Predicates:  upperAll(rd.Predicates),
			Source:      strings.ToLower(rd.Source),
			Target:      strings.ToLower(rd.Target),
		}
		t.relations = append(t.relations, rel)
		for _, pred := range rel.Predicates {
			t.relationIndex[relationKey{source: rel.Source, predicate: pred, target: rel.Target}] = true
		}
	}

	return t, nil
}

func upperAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.ToUpper(s)
	}
	return out
}

// Entities returns the compiled entity specs keyed by lowercased name
// (§4.1). Map iteration order is not defined; EntityNames gives the
// declaration order.
func (t *Translator) Entities() map[string]*EntitySpec {
	return t.entities
}

// EntityNames returns known entity names in declaration order.
func (t *Translator) EntityNames() []string {
	return append([]string(nil), t.order...)
}

// Entity returns the spec for name (case-insensitive), or a SchemaError if
// unknown (§4.1).
func (t *Translator) Entity(name string) (*EntitySpec, error) {
	spec, ok := t.entities[strings.ToLower(name)]
	if !ok {
		return nil, memgerr.Kindf(memgerr.SchemaError, "schema.Entity", "unknown entity type %q; known types: %s", name, strings.Join(t.order, ", "))
	}
	return spec, nil
}

// AnchorField returns the string field used as embedding input for name
// (§4.1). No fallback: the field must be declared as the entity's anchor.
func (t *Translator) AnchorField(name string) (string, error) {
	spec, err := t.Entity(name)
	if err != nil {
		return "", err
	}
	return spec.Anchor, nil
}

// RelationNames returns the uppercase predicate identifiers over the union
// of all declared relations (§4.1).
func (t *Translator) RelationNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, rel := range t.relations {
		for _, p := range rel.Predicates {
			if !seen[p] {
				seen[p] = true
				names = append(names, p)
			}
		}
	}
	return names
}

// RelationAllowed reports whether (sourceType, predicate, targetType) is
// declared, honoring "*" wildcards on either side (§4.1).
func (t *Translator) RelationAllowed(sourceType, predicate, targetType string) bool {
	sourceType = strings.ToLower(sourceType)
	targetType = strings.ToLower(targetType)
	predicate = strings.ToUpper(predicate)

	for _, key := range []relationKey{
		{source: sourceType, predicate: predicate, target: targetType},
		{source: "*", predicate: predicate, target: targetType},
		{source: sourceType, predicate: predicate, target: "*"},
		{source: "*", predicate: predicate, target: "*"},
	} {
		if t.relationIndex[key] {
			return true
		}
	}
	return false
}

// RelationDirected reports whether predicate is declared directed for the
// (sourceType, targetType) pair. Directedness is evaluated per predicate,
// independent of sibling predicates in the same RelationSpec — see
// SPEC_FULL.md §9's resolved open question on directedness.
func (t *Translator) RelationDirected(sourceType, predicate, targetType string) bool {
	sourceType = strings.ToLower(sourceType)
	targetType = strings.ToLower(targetType)
	predicate = strings.ToUpper(predicate)

	for _, rel := range t.relations {
		if rel.Source != sourceType && rel.Source != "*" {
			continue
		}
		if rel.Target != targetType && rel.Target != "*" {
			continue
		}
		for _, p := range rel.Predicates {
			if p == predicate {
				return rel.Directed
			}
		}
	}
	return false
}

// EdgeTableName computes the canonical SOURCE_PREDICATE_TARGET table name
// (§4.1).
func EdgeTableName(sourceType, predicate, targetType string) string {
	return strings.ToUpper(sourceType) + "_" + strings.ToUpper(predicate) + "_" + strings.ToUpper(targetType)
}
