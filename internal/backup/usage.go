package backup

import (
	"context"
	"sort"
	"time"
)

// UsageReport aggregates storage consumption over all stored archives.
type UsageReport struct {
	TotalArchives int                     `json:"total_archives"`
	TotalSize     int64                   `json:"total_size"`
	ByVersion     map[string]VersionUsage `json:"by_version"`
	OldestArchive time.Time               `json:"oldest_archive,omitempty"`
	NewestArchive time.Time               `json:"newest_archive,omitempty"`
}

// VersionUsage breaks archive counts down for one schema version.
type VersionUsage struct {
	Archives int   `json:"archives"`
	Full     int   `json:"full"`
	Delta    int   `json:"delta"`
	Size     int64 `json:"size"`
	Rows     int   `json:"rows"`
}

// Versions returns the schema versions present in the report, sorted.
func (r *UsageReport) Versions() []string {
	out := make([]string, 0, len(r.ByVersion))
	for v := range r.ByVersion {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Usage scans the store and computes the aggregate usage report.
func Usage(ctx context.Context, store Store) (*UsageReport, error) {
	metas, err := store.List(ctx, Filter{})
	if err != nil {
		return nil, err
	}

	report := &UsageReport{ByVersion: make(map[string]VersionUsage)}
	for _, meta := range metas {
		report.TotalArchives++
		report.TotalSize += meta.SizeBytes

		usage := report.ByVersion[meta.SchemaVersion]
		usage.Archives++
		usage.Size += meta.SizeBytes
		usage.Rows += meta.RowCount
		if meta.BaseID == nil {
			usage.Full++
		} else {
			usage.Delta++
		}
		report.ByVersion[meta.SchemaVersion] = usage

		if report.OldestArchive.IsZero() || meta.CreatedAt.Before(report.OldestArchive) {
			report.OldestArchive = meta.CreatedAt
		}
		if meta.CreatedAt.After(report.NewestArchive) {
			report.NewestArchive = meta.CreatedAt
		}
	}
	return report, nil
}
