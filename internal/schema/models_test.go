package schema

import (
	"testing"
)

func strPtr(s string) *string { return &s }

func TestFieldDefValidation(t *testing.T) {
	tests := []struct {
		name    string
		field   FieldDef
		wantErr bool
	}{
		{
			name:    "valid field",
			field:   FieldDef{Name: "id", Type: FieldTypeInt, Nullable: false},
			wantErr: false,
		},
		{
			name:    "empty name",
			field:   FieldDef{Name: "", Type: FieldTypeInt},
			wantErr: true,
		},
		{
			name:    "unsupported type",
			field:   FieldDef{Name: "id", Type: "BLOB"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.field.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("FieldDef.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTableDefValidation(t *testing.T) {
	tests := []struct {
		name    string
		table   TableDef
		wantErr bool
	}{
		{
			name: "valid table",
			table: TableDef{
				Name: "patient",
				Fields: []FieldDef{
					{Name: "id", Type: FieldTypeInt},
					{Name: "name", Type: FieldTypeString, Nullable: true},
				},
				PrimaryKey: []string{"id"},
			},
			wantErr: false,
		},
		{
			name: "duplicate field names",
			table: TableDef{
				Name: "patient",
				Fields: []FieldDef{
					{Name: "id", Type: FieldTypeInt},
					{Name: "id", Type: FieldTypeString},
				},
				PrimaryKey: []string{"id"},
			},
			wantErr: true,
		},
		{
			name: "primary key field missing",
			table: TableDef{
				Name:       "patient",
				Fields:     []FieldDef{{Name: "name", Type: FieldTypeString}},
				PrimaryKey: []string{"id"},
			},
			wantErr: true,
		},
		{
			name: "no primary key",
			table: TableDef{
				Name:   "patient",
				Fields: []FieldDef{{Name: "id", Type: FieldTypeInt}},
			},
			wantErr: true,
		},
		{
			name: "foreign key field missing",
			table: TableDef{
				Name:        "visit",
				Fields:      []FieldDef{{Name: "id", Type: FieldTypeInt}},
				PrimaryKey:  []string{"id"},
				ForeignKeys: []ForeignKeyDef{{Field: "patient_id", RefTable: "patient", RefField: "id"}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.table.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("TableDef.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestVersionValidation(t *testing.T) {
	valid := Version{
		ID: "1.0.0",
		Tables: []TableDef{
			{
				Name:       "patient",
				Fields:     []FieldDef{{Name: "id", Type: FieldTypeInt}},
				PrimaryKey: []string{"id"},
			},
			{
				Name: "visit",
				Fields: []FieldDef{
					{Name: "id", Type: FieldTypeInt},
					{Name: "patient_id", Type: FieldTypeInt},
				},
				PrimaryKey:  []string{"id"},
				ForeignKeys: []ForeignKeyDef{{Field: "patient_id", RefTable: "patient", RefField: "id"}},
			},
		},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Version.Validate() unexpected error: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(v *Version)
	}{
		{"empty id", func(v *Version) { v.ID = "" }},
		{"no tables", func(v *Version) { v.Tables = nil }},
		{"duplicate table", func(v *Version) { v.Tables = append(v.Tables, v.Tables[0]) }},
		{"foreign key to unknown table", func(v *Version) {
			v.Tables[1].ForeignKeys[0].RefTable = "clinic"
		}},
		{"foreign key to unknown field", func(v *Version) {
			v.Tables[1].ForeignKeys[0].RefField = "uuid"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version := *cloneVersion(&valid)
			tt.mutate(&version)
			if err := version.Validate(); err == nil {
				t.Errorf("Version.Validate() expected error for %s", tt.name)
			}
		})
	}
}

func TestTableDefLookups(t *testing.T) {
	table := TableDef{
		Name: "patient",
		Fields: []FieldDef{
			{Name: "id", Type: FieldTypeInt},
			{Name: "name", Type: FieldTypeString, Nullable: true, Default: strPtr("unknown")},
		},
		PrimaryKey:  []string{"id"},
		ForeignKeys: []ForeignKeyDef{{Field: "id", RefTable: "person", RefField: "id"}},
	}

	if field, ok := table.Field("name"); !ok || !field.HasDefault() {
		t.Errorf("Field(name) = %v, %v; want default-bearing field", field, ok)
	}
	if _, ok := table.Field("missing"); ok {
		t.Error("Field(missing) should not resolve")
	}
	if pos := table.FieldPosition("name"); pos != 1 {
		t.Errorf("FieldPosition(name) = %d, want 1", pos)
	}
	if !table.IsPrimaryKey("id") || table.IsPrimaryKey("name") {
		t.Error("IsPrimaryKey misclassified fields")
	}
	if _, ok := table.ForeignKey("id"); !ok {
		t.Error("ForeignKey(id) should resolve")
	}
}
