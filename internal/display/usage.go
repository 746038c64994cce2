package display

import (
	"fmt"

	"github.com/olekukonko/tablewriter"

	"dbrewind/internal/backup"
)

// RenderUsage prints the aggregate storage usage report, one row per schema
// version.
func (r *Renderer) RenderUsage(report *backup.UsageReport) {
	r.printf("archives: %d (%s total)\n", report.TotalArchives, humanSize(report.TotalSize))
	if report.TotalArchives == 0 {
		return
	}
	r.printf("oldest:   %s\n", report.OldestArchive.Format("2006-01-02 15:04:05"))
	r.printf("newest:   %s\n", report.NewestArchive.Format("2006-01-02 15:04:05"))
	r.println()

	table := tablewriter.NewWriter(r.out)
	table.SetHeader([]string{"Version", "Archives", "Full", "Delta", "Rows", "Size"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)

	for _, version := range report.Versions() {
		usage := report.ByVersion[version]
		table.Append([]string{
			version,
			fmt.Sprintf("%d", usage.Archives),
			fmt.Sprintf("%d", usage.Full),
			fmt.Sprintf("%d", usage.Delta),
			fmt.Sprintf("%d", usage.Rows),
			humanSize(usage.Size),
		})
	}
	table.Render()
}
