package schema

import (
	"fmt"
)

// FieldType represents the declared type of a field
type FieldType string

const (
	FieldTypeInt    FieldType = "INT"
	FieldTypeFloat  FieldType = "FLOAT"
	FieldTypeString FieldType = "STRING"
	FieldTypeDate   FieldType = "DATE"
	FieldTypeBool   FieldType = "BOOL"
	FieldTypeJSON   FieldType = "JSON"
)

// ValidFieldTypes lists every supported field type.
var ValidFieldTypes = []FieldType{
	FieldTypeInt,
	FieldTypeFloat,
	FieldTypeString,
	FieldTypeDate,
	FieldTypeBool,
	FieldTypeJSON,
}

// IsValid reports whether the field type is one of the supported types.
func (ft FieldType) IsValid() bool {
	for _, t := range ValidFieldTypes {
		if ft == t {
			return true
		}
	}
	return false
}

// FieldDef represents a field within a table definition
type FieldDef struct {
	Name     string    `json:"name" yaml:"name"`
	Type     FieldType `json:"type" yaml:"type"`
	Nullable bool      `json:"nullable" yaml:"nullable"`
	Default  *string   `json:"default,omitempty" yaml:"default,omitempty"`
	// Tag is an optional semantic hint used for cross-version field matching,
	// e.g. "patient_id" or "birth_date".
	Tag string `json:"tag,omitempty" yaml:"tag,omitempty"`
}

// HasDefault reports whether the field declares a default value.
func (f *FieldDef) HasDefault() bool {
	return f.Default != nil
}

// Validate validates the FieldDef structure
func (f *FieldDef) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("field name cannot be empty")
	}
	if !f.Type.IsValid() {
		return fmt.Errorf("field %s has unsupported type %q", f.Name, f.Type)
	}
	return nil
}

// ForeignKeyDef represents a foreign key reference from one field to a
// primary-key field of another table.
type ForeignKeyDef struct {
	Field    string `json:"field" yaml:"field"`
	RefTable string `json:"ref_table" yaml:"ref_table"`
	RefField string `json:"ref_field" yaml:"ref_field"`
}

// TableDef represents a table within a schema version
type TableDef struct {
	Name        string          `json:"name" yaml:"name"`
	Fields      []FieldDef      `json:"fields" yaml:"fields"`
	PrimaryKey  []string        `json:"primary_key" yaml:"primary_key"`
	ForeignKeys []ForeignKeyDef `json:"foreign_keys,omitempty" yaml:"foreign_keys,omitempty"`
}

// Field returns the field definition with the given name.
func (t *TableDef) Field(name string) (*FieldDef, bool) {
	for i := range t.Fields {
		if t.Fields[i].Name == name {
			return &t.Fields[i], true
		}
	}
	return nil, false
}

// FieldPosition returns the declaration index of the named field, or -1.
func (t *TableDef) FieldPosition(name string) int {
	for i := range t.Fields {
		if t.Fields[i].Name == name {
			return i
		}
	}
	return -1
}

// ForeignKey returns the foreign key definition on the given field.
func (t *TableDef) ForeignKey(field string) (*ForeignKeyDef, bool) {
	for i := range t.ForeignKeys {
		if t.ForeignKeys[i].Field == field {
			return &t.ForeignKeys[i], true
		}
	}
	return nil, false
}

// IsPrimaryKey reports whether the named field is part of the primary key.
func (t *TableDef) IsPrimaryKey(field string) bool {
	for _, pk := range t.PrimaryKey {
		if pk == field {
			return true
		}
	}
	return false
}

// Validate validates the TableDef structure: non-empty name, valid fields
// with unique names, primary-key fields that exist, foreign-key source
// fields that exist.
func (t *TableDef) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("table name cannot be empty")
	}
	if len(t.Fields) == 0 {
		return fmt.Errorf("table %s has no fields", t.Name)
	}

	seen := make(map[string]bool, len(t.Fields))
	for i := range t.Fields {
		field := &t.Fields[i]
		if err := field.Validate(); err != nil {
			return fmt.Errorf("table %s: %w", t.Name, err)
		}
		if seen[field.Name] {
			return fmt.Errorf("table %s: duplicate field %s", t.Name, field.Name)
		}
		seen[field.Name] = true
	}

	if len(t.PrimaryKey) == 0 {
		return fmt.Errorf("table %s has no primary key", t.Name)
	}
	for _, pk := range t.PrimaryKey {
		if !seen[pk] {
			return fmt.Errorf("table %s: primary key field %s does not exist", t.Name, pk)
		}
	}

	for _, fk := range t.ForeignKeys {
		if !seen[fk.Field] {
			return fmt.Errorf("table %s: foreign key field %s does not exist", t.Name, fk.Field)
		}
		if fk.RefTable == "" || fk.RefField == "" {
			return fmt.Errorf("table %s: foreign key on %s has no reference target", t.Name, fk.Field)
		}
	}

	return nil
}

// Version represents one immutable schema version. Ordinal is assigned by
// the registry at registration and defines the position of the version in
// the migration chain.
type Version struct {
	ID      string     `json:"version" yaml:"version"`
	Tables  []TableDef `json:"tables" yaml:"tables"`
	Ordinal int        `json:"-" yaml:"-"`
}

// Table returns the table definition with the given name.
func (v *Version) Table(name string) (*TableDef, bool) {
	for i := range v.Tables {
		if v.Tables[i].Name == name {
			return &v.Tables[i], true
		}
	}
	return nil, false
}

// TableNames returns the names of all tables in declaration order.
func (v *Version) TableNames() []string {
	names := make([]string, len(v.Tables))
	for i := range v.Tables {
		names[i] = v.Tables[i].Name
	}
	return names
}

// Validate validates the Version structure: a non-empty id, uniquely named
// valid tables, and foreign keys whose referenced table and field exist
// within the same version.
func (v *Version) Validate() error {
	if v.ID == "" {
		return fmt.Errorf("schema version id cannot be empty")
	}
	if len(v.Tables) == 0 {
		return fmt.Errorf("schema version %s has no tables", v.ID)
	}

	seen := make(map[string]bool, len(v.Tables))
	for i := range v.Tables {
		table := &v.Tables[i]
		if err := table.Validate(); err != nil {
			return err
		}
		if seen[table.Name] {
			return fmt.Errorf("duplicate table %s", table.Name)
		}
		seen[table.Name] = true
	}

	for i := range v.Tables {
		table := &v.Tables[i]
		for _, fk := range table.ForeignKeys {
			ref, ok := v.Table(fk.RefTable)
			if !ok {
				return fmt.Errorf("table %s: foreign key %s references unknown table %s",
					table.Name, fk.Field, fk.RefTable)
			}
			if _, ok := ref.Field(fk.RefField); !ok {
				return fmt.Errorf("table %s: foreign key %s references unknown field %s.%s",
					table.Name, fk.Field, fk.RefTable, fk.RefField)
			}
		}
	}

	return nil
}
