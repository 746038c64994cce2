package display

import (
	"fmt"

	"github.com/olekukonko/tablewriter"

	"dbrewind/internal/schema"
)

// RenderDiff prints the structural comparison of two schema versions. Added
// elements are green, removed ones red and in-place changes yellow.
func (r *Renderer) RenderDiff(diff *schema.Diff) {
	r.heading(fmt.Sprintf("Schema diff: v%s -> v%s", diff.SourceVersion, diff.TargetVersion))
	r.println()

	for _, name := range diff.AddedTables {
		r.printf("  %s table %s\n", r.sprint(colorAdded, "+"), name)
	}
	for _, name := range diff.RemovedTables {
		r.printf("  %s table %s\n", r.sprint(colorRemoved, "-"), name)
	}

	changed := false
	for i := range diff.CommonTables {
		td := &diff.CommonTables[i]
		if td.Unchanged() {
			continue
		}
		changed = true
		r.printf("  table %s\n", td.Table)
		r.renderTableDiff(td)
	}

	if !changed && len(diff.AddedTables) == 0 && len(diff.RemovedTables) == 0 {
		r.println(r.sprint(colorMuted, "  no structural differences"))
	}
}

func (r *Renderer) renderTableDiff(td *schema.TableDiff) {
	for _, f := range td.AddedFields {
		r.printf("    %s %s %s%s\n",
			r.sprint(colorAdded, "+"), f.Name, f.Type, fieldNotes(&f))
	}
	for _, f := range td.RemovedFields {
		r.printf("    %s %s %s\n", r.sprint(colorRemoved, "-"), f.Name, f.Type)
	}
	for _, c := range td.ChangedFields {
		r.printf("    %s %s %s -> %s\n",
			r.sprint(colorChanged, "~"), c.Name, describeField(&c.Old), describeField(&c.New))
	}
	for _, rc := range td.RenameCandidates {
		r.printf("    %s %s -> %s (%s match)\n",
			r.sprint(colorChanged, "?"), rc.Source.Name, rc.Target.Name, rc.Reason)
	}
}

func fieldNotes(f *schema.FieldDef) string {
	switch {
	case f.Nullable:
		return " nullable"
	case f.HasDefault():
		return fmt.Sprintf(" default %q", *f.Default)
	default:
		return ""
	}
}

func describeField(f *schema.FieldDef) string {
	if f.Nullable {
		return string(f.Type) + " nullable"
	}
	return string(f.Type)
}

// RenderVersions prints the registered schema versions in registration
// order, one row per version.
func (r *Renderer) RenderVersions(versions []*schema.Version) {
	table := tablewriter.NewWriter(r.out)
	table.SetHeader([]string{"Version", "Tables", "Fields"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)

	for _, v := range versions {
		fields := 0
		for i := range v.Tables {
			fields += len(v.Tables[i].Fields)
		}
		table.Append([]string{v.ID, fmt.Sprintf("%d", len(v.Tables)), fmt.Sprintf("%d", fields)})
	}
	table.Render()
}
