package schema

import (
	"sort"
)

// FieldChange records a field present in both versions with a changed type
// or nullability.
type FieldChange struct {
	Name string   `json:"name"`
	Old  FieldDef `json:"old"`
	New  FieldDef `json:"new"`
}

// RenameCandidate records a pair of fields that likely represent a rename:
// different names but the same semantic tag or the same declaration
// position with the same type.
type RenameCandidate struct {
	Source FieldDef `json:"source"`
	Target FieldDef `json:"target"`
	// Reason is "tag" or "position".
	Reason string `json:"reason"`
}

// TableDiff represents the structural differences for a table present in
// both versions. Source and Target carry the full table definitions so that
// downstream mapping can inspect every field.
type TableDiff struct {
	Table            string            `json:"table"`
	Source           *TableDef         `json:"-"`
	Target           *TableDef         `json:"-"`
	AddedFields      []FieldDef        `json:"added_fields"`
	RemovedFields    []FieldDef        `json:"removed_fields"`
	ChangedFields    []FieldChange     `json:"changed_fields"`
	RenameCandidates []RenameCandidate `json:"rename_candidates"`
}

// Unchanged reports whether the table carries no structural differences.
func (td *TableDiff) Unchanged() bool {
	return len(td.AddedFields) == 0 &&
		len(td.RemovedFields) == 0 &&
		len(td.ChangedFields) == 0 &&
		len(td.RenameCandidates) == 0
}

// Diff represents the structural comparison of two schema versions.
type Diff struct {
	SourceVersion string      `json:"source_version"`
	TargetVersion string      `json:"target_version"`
	AddedTables   []string    `json:"added_tables"`
	RemovedTables []string    `json:"removed_tables"`
	CommonTables  []TableDiff `json:"common_tables"`
}

// CommonTable returns the table diff for the named table.
func (d *Diff) CommonTable(name string) (*TableDiff, bool) {
	for i := range d.CommonTables {
		if d.CommonTables[i].Table == name {
			return &d.CommonTables[i], true
		}
	}
	return nil, false
}

// Compare computes the structural diff between two schema versions. The
// result is deterministic: all set-valued parts are sorted by name.
func Compare(source, target *Version) *Diff {
	diff := &Diff{
		SourceVersion: source.ID,
		TargetVersion: target.ID,
		AddedTables:   []string{},
		RemovedTables: []string{},
		CommonTables:  []TableDiff{},
	}

	sourceNames := make(map[string]bool, len(source.Tables))
	for i := range source.Tables {
		sourceNames[source.Tables[i].Name] = true
	}
	targetNames := make(map[string]bool, len(target.Tables))
	for i := range target.Tables {
		targetNames[target.Tables[i].Name] = true
	}

	for name := range targetNames {
		if !sourceNames[name] {
			diff.AddedTables = append(diff.AddedTables, name)
		}
	}
	for name := range sourceNames {
		if !targetNames[name] {
			diff.RemovedTables = append(diff.RemovedTables, name)
		}
	}
	sort.Strings(diff.AddedTables)
	sort.Strings(diff.RemovedTables)

	var common []string
	for name := range sourceNames {
		if targetNames[name] {
			common = append(common, name)
		}
	}
	sort.Strings(common)

	for _, name := range common {
		src, _ := source.Table(name)
		dst, _ := target.Table(name)
		diff.CommonTables = append(diff.CommonTables, compareTables(src, dst))
	}

	return diff
}

// compareTables computes the field-level diff for one table.
func compareTables(source, target *TableDef) TableDiff {
	td := TableDiff{
		Table:            source.Name,
		Source:           source,
		Target:           target,
		AddedFields:      []FieldDef{},
		RemovedFields:    []FieldDef{},
		ChangedFields:    []FieldChange{},
		RenameCandidates: []RenameCandidate{},
	}

	for i := range target.Fields {
		tf := target.Fields[i]
		sf, ok := source.Field(tf.Name)
		if !ok {
			td.AddedFields = append(td.AddedFields, tf)
			continue
		}
		if sf.Type != tf.Type || sf.Nullable != tf.Nullable {
			td.ChangedFields = append(td.ChangedFields, FieldChange{
				Name: tf.Name,
				Old:  *sf,
				New:  tf,
			})
		}
	}

	for i := range source.Fields {
		sf := source.Fields[i]
		if _, ok := target.Field(sf.Name); !ok {
			td.RemovedFields = append(td.RemovedFields, sf)
		}
	}

	sort.Slice(td.AddedFields, func(i, j int) bool { return td.AddedFields[i].Name < td.AddedFields[j].Name })
	sort.Slice(td.RemovedFields, func(i, j int) bool { return td.RemovedFields[i].Name < td.RemovedFields[j].Name })
	sort.Slice(td.ChangedFields, func(i, j int) bool { return td.ChangedFields[i].Name < td.ChangedFields[j].Name })

	td.RenameCandidates = renameCandidates(source, target, td.AddedFields, td.RemovedFields)

	return td
}

// renameCandidates pairs removed source fields with added target fields that
// share a semantic tag, or that sit at the same declaration position with
// the same type.
func renameCandidates(source, target *TableDef, added, removed []FieldDef) []RenameCandidate {
	candidates := []RenameCandidate{}

	for _, tf := range added {
		for _, sf := range removed {
			if sf.Tag != "" && sf.Tag == tf.Tag {
				candidates = append(candidates, RenameCandidate{Source: sf, Target: tf, Reason: "tag"})
				continue
			}
			if sf.Type == tf.Type && source.FieldPosition(sf.Name) == target.FieldPosition(tf.Name) {
				candidates = append(candidates, RenameCandidate{Source: sf, Target: tf, Reason: "position"})
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Target.Name != candidates[j].Target.Name {
			return candidates[i].Target.Name < candidates[j].Target.Name
		}
		return candidates[i].Source.Name < candidates[j].Source.Name
	})

	return candidates
}
