package display

import (
	"fmt"

	"github.com/olekukonko/tablewriter"

	"dbrewind/internal/restore"
)

// RenderRestoreResult prints the outcome of a restore run: the final state,
// row counts and every finding the pipeline recorded.
func (r *Renderer) RenderRestoreResult(result *restore.Result) {
	state := r.sprint(colorOK, string(result.State))
	if result.State != restore.StateCommitted {
		state = r.sprint(colorError, string(result.State))
	}
	r.heading(fmt.Sprintf("Restore %s: %s", result.SessionID, state))

	r.printf("  archive:        %s\n", result.ArchiveID)
	r.printf("  schema version: v%s -> v%s\n", result.SourceVersion, result.TargetVersion)
	r.printf("  coverage:       %.0f%%\n", result.Coverage*100)
	r.printf("  rows written:   %d\n", result.RowsWritten)
	if result.RowsDeleted > 0 {
		r.printf("  rows deleted:   %d\n", result.RowsDeleted)
	}
	if result.RowsSkipped > 0 {
		r.printf("  rows skipped:   %s\n", r.sprint(colorWarn, fmt.Sprintf("%d", result.RowsSkipped)))
	}
	r.printf("  duration:       %s\n", result.Duration)

	if len(result.Findings) == 0 {
		return
	}

	r.println()
	table := tablewriter.NewWriter(r.out)
	table.SetHeader([]string{"Severity", "Table", "Field", "Message"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)

	for _, f := range result.Findings {
		table.Append([]string{r.severityCell(f.Severity), f.Table, f.Field, f.Message})
	}
	table.Render()
}

func (r *Renderer) severityCell(s restore.Severity) string {
	switch s {
	case restore.SeverityError:
		return r.sprint(colorError, string(s))
	case restore.SeverityWarn:
		return r.sprint(colorWarn, string(s))
	default:
		return string(s)
	}
}
