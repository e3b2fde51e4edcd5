package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// EntityKind names what an entity is on its backend.
type EntityKind string

const (
	EntityTable      EntityKind = "table"
	EntityCollection EntityKind = "collection"
	EntityKeyspace   EntityKind = "keyspace"
)

// Normalized field types shared by all backend families. Conflicting observed
// types are recorded as a union joined with "|", e.g. "integer|string".
const (
	TypeString    = "string"
	TypeInteger   = "integer"
	TypeNumber    = "number"
	TypeDecimal   = "decimal"
	TypeBoolean   = "boolean"
	TypeTimestamp = "timestamp"
	TypeDate      = "date"
	TypeBinary    = "binary"
	TypeUUID      = "uuid"
	TypeJSON      = "json"
	TypeObject    = "object"
	TypeArray     = "array"
	TypeUnknown   = "unknown"
)

// FieldDescriptor describes one field of an entity.
type FieldDescriptor struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	NativeType string `json:"native_type,omitempty"`
	Nullable   bool   `json:"nullable"`
	IsKey      bool   `json:"is_key"`
}

// HasType reports whether the (possibly union) type includes t.
func (f FieldDescriptor) HasType(t string) bool {
	for _, part := range strings.Split(f.Type, "|") {
		if part == t {
			return true
		}
	}
	return false
}

// IsTemporal returns true for timestamp and date fields.
func (f FieldDescriptor) IsTemporal() bool {
	return f.HasType(TypeTimestamp) || f.HasType(TypeDate)
}

// IsNumeric returns true for integer, number and decimal fields.
func (f FieldDescriptor) IsNumeric() bool {
	return f.HasType(TypeInteger) || f.HasType(TypeNumber) || f.HasType(TypeDecimal)
}

// EntityDescriptor is a table, collection or keyspace.
type EntityDescriptor struct {
	Name   string            `json:"name"`
	Kind   EntityKind        `json:"kind"`
	Fields []FieldDescriptor `json:"fields"`
	// FieldsKnown is false when the backend exposes no field metadata.
	FieldsKnown bool `json:"fields_known"`
	// PartitionKey lists the fields that must be bound by equality (wide-column).
	PartitionKey []string `json:"partition_key,omitempty"`
	// ClusteringKey lists fields that may carry range predicates (wide-column).
	ClusteringKey []string `json:"clustering_key,omitempty"`
}

// Field returns the named field, matching case-insensitively when no exact match exists.
func (e *EntityDescriptor) Field(name string) (*FieldDescriptor, bool) {
	for i := range e.Fields {
		if e.Fields[i].Name == name {
			return &e.Fields[i], true
		}
	}
	for i := range e.Fields {
		if strings.EqualFold(e.Fields[i].Name, name) {
			return &e.Fields[i], true
		}
	}
	return nil, false
}

// KeyFields returns the fields flagged as keys, in field order.
func (e *EntityDescriptor) KeyFields() []FieldDescriptor {
	var keys []FieldDescriptor
	for _, f := range e.Fields {
		if f.IsKey {
			keys = append(keys, f)
		}
	}
	return keys
}

// RelationshipSource records where a relationship hint came from.
type RelationshipSource string

const (
	RelationshipConstraint RelationshipSource = "constraint"
	RelationshipNaming     RelationshipSource = "naming"
)

// RelationshipHint is a foreign-key-like link from one entity's field to another's.
type RelationshipHint struct {
	FromEntity string             `json:"from_entity"`
	FromField  string             `json:"from_field"`
	ToEntity   string             `json:"to_entity"`
	ToField    string             `json:"to_field"`
	Source     RelationshipSource `json:"source"`
}

// SchemaModel is the normalized schema of one connection. Instances are
// immutable once published; a refresh builds and swaps in a new instance.
type SchemaModel struct {
	ConnectionID   string             `json:"connection_id"`
	Family         BackendFamily      `json:"family"`
	Entities       []EntityDescriptor `json:"entities"`
	Relationships  []RelationshipHint `json:"relationships"`
	IntrospectedAt time.Time          `json:"introspected_at"`
}

// Entity returns the named entity, matching case-insensitively when no exact match exists.
func (s *SchemaModel) Entity(name string) (*EntityDescriptor, bool) {
	for i := range s.Entities {
		if s.Entities[i].Name == name {
			return &s.Entities[i], true
		}
	}
	for i := range s.Entities {
		if strings.EqualFold(s.Entities[i].Name, name) {
			return &s.Entities[i], true
		}
	}
	return nil, false
}

// EntityNames returns entity names in model order.
func (s *SchemaModel) EntityNames() []string {
	names := make([]string, len(s.Entities))
	for i, e := range s.Entities {
		names[i] = e.Name
	}
	return names
}

// EntitiesWithField returns the names of entities that declare field, sorted.
func (s *SchemaModel) EntitiesWithField(field string) []string {
	var names []string
	for i := range s.Entities {
		if _, ok := s.Entities[i].Field(field); ok {
			names = append(names, s.Entities[i].Name)
		}
	}
	sort.Strings(names)
	return names
}

// RelationshipsFrom returns hints whose FromEntity is entity.
func (s *SchemaModel) RelationshipsFrom(entity string) []RelationshipHint {
	var out []RelationshipHint
	for _, r := range s.Relationships {
		if r.FromEntity == entity {
			out = append(out, r)
		}
	}
	return out
}

// RelationshipBetween finds a hint linking a and b in either direction.
func (s *SchemaModel) RelationshipBetween(a, b string) (RelationshipHint, bool) {
	for _, r := range s.Relationships {
		if (r.FromEntity == a && r.ToEntity == b) || (r.FromEntity == b && r.ToEntity == a) {
			return r, true
		}
	}
	return RelationshipHint{}, false
}

// Validate checks entity-name uniqueness, field-name uniqueness within each
// entity, and that every relationship hint points at existing entities and fields.
func (s *SchemaModel) Validate() error {
	seen := make(map[string]bool, len(s.Entities))
	for _, e := range s.Entities {
		if e.Name == "" {
			return fmt.Errorf("entity with empty name")
		}
		if seen[e.Name] {
			return fmt.Errorf("duplicate entity %q", e.Name)
		}
		seen[e.Name] = true

		fields := make(map[string]bool, len(e.Fields))
		for _, f := range e.Fields {
			if f.Name == "" {
				return fmt.Errorf("entity %q has a field with empty name", e.Name)
			}
			if fields[f.Name] {
				return fmt.Errorf("duplicate field %q in entity %q", f.Name, e.Name)
			}
			fields[f.Name] = true
		}
		for _, k := range append(append([]string{}, e.PartitionKey...), e.ClusteringKey...) {
			if !fields[k] {
				return fmt.Errorf("entity %q key references unknown field %q", e.Name, k)
			}
		}
	}

	for _, r := range s.Relationships {
		from, ok := s.Entity(r.FromEntity)
		if !ok || from.Name != r.FromEntity {
			return fmt.Errorf("relationship references unknown entity %q", r.FromEntity)
		}
		to, ok := s.Entity(r.ToEntity)
		if !ok || to.Name != r.ToEntity {
			return fmt.Errorf("relationship references unknown entity %q", r.ToEntity)
		}
		if _, ok := from.Field(r.FromField); !ok {
			return fmt.Errorf("relationship references unknown field %s.%s", r.FromEntity, r.FromField)
		}
		if _, ok := to.Field(r.ToField); !ok {
			return fmt.Errorf("relationship references unknown field %s.%s", r.ToEntity, r.ToField)
		}
	}
	return nil
}

// MergeFieldType widens an observed type into an existing (possibly union) type.
// The result is deterministic: union members are sorted.
func MergeFieldType(existing, observed string) string {
	if existing == "" || existing == TypeUnknown {
		return observed
	}
	if observed == "" || observed == TypeUnknown || existing == observed {
		return existing
	}
	parts := strings.Split(existing, "|")
	for _, p := range parts {
		if p == observed {
			return existing
		}
	}
	parts = append(parts, observed)
	sort.Strings(parts)
	return strings.Join(parts, "|")
}
