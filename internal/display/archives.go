package display

import (
	"fmt"

	"github.com/olekukonko/tablewriter"

	"dbrewind/internal/archive"
)

// RenderArchives prints an archive listing, newest first, one row per
// archive.
func (r *Renderer) RenderArchives(items []*archive.Metadata) {
	if len(items) == 0 {
		r.println(r.sprint(colorMuted, "no archives"))
		return
	}

	table := tablewriter.NewWriter(r.out)
	table.SetHeader([]string{"ID", "Version", "Kind", "Base", "Created", "Size", "Rows", "Tombstones"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)

	for _, meta := range items {
		base := ""
		if meta.BaseID != nil {
			base = *meta.BaseID
		}
		table.Append([]string{
			meta.ID,
			meta.SchemaVersion,
			string(meta.Kind),
			base,
			meta.CreatedAt.Format("2006-01-02 15:04:05"),
			humanSize(meta.SizeBytes),
			fmt.Sprintf("%d", meta.RowCount),
			fmt.Sprintf("%d", meta.Tombstones),
		})
	}
	table.Render()
}

// RenderArchiveDetail prints the full metadata of a single archive.
func (r *Renderer) RenderArchiveDetail(meta *archive.Metadata) {
	r.heading("Archive " + meta.ID)
	r.printf("  schema version: %s\n", meta.SchemaVersion)
	r.printf("  kind:           %s\n", meta.Kind)
	if meta.BaseID != nil {
		r.printf("  base:           %s\n", *meta.BaseID)
	}
	r.printf("  created:        %s\n", meta.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	r.printf("  size:           %s\n", humanSize(meta.SizeBytes))
	r.printf("  rows:           %d\n", meta.RowCount)
	r.printf("  tombstones:     %d\n", meta.Tombstones)
	r.printf("  compression:    %s\n", meta.Compression)
	r.printf("  encrypted:      %t\n", meta.Encrypted)
	r.printf("  checksum:       %s\n", meta.Checksum)
}
