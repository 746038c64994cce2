// Package archive defines the on-disk backup artifact: a snapshot of table
// rows bound to one schema version, either self-contained or expressed as a
// delta against an earlier archive.
package archive

import (
	"sort"
	"time"

	"dbrewind/internal/source"
)

// Kind distinguishes self-contained snapshots from differential archives.
type Kind string

const (
	// KindFull is a complete snapshot of every table.
	KindFull Kind = "full"
	// KindDelta holds only rows changed since the base archive plus
	// tombstones for rows deleted since it.
	KindDelta Kind = "delta"
)

// Archive is one backup artifact. A delta archive carries BaseID and is
// meaningless without the chain of archives behind it; a full archive
// stands alone.
type Archive struct {
	ID            string    `json:"id"`
	SchemaVersion string    `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`

	// BaseID is nil for full archives.
	BaseID *string `json:"base_id,omitempty"`

	// Tables maps table name to its rows. For a delta archive these are
	// only the inserted or changed rows.
	Tables map[string][]source.Row `json:"tables"`

	// Tombstones maps table name to the primary keys of rows deleted
	// since the base archive. Each entry carries only key fields.
	Tombstones map[string][]source.Row `json:"tombstones,omitempty"`
}

// Kind reports whether the archive is a full snapshot or a delta.
func (a *Archive) Kind() Kind {
	if a.BaseID == nil {
		return KindFull
	}
	return KindDelta
}

// RowCount is the total number of data rows across all tables.
func (a *Archive) RowCount() int {
	total := 0
	for _, rows := range a.Tables {
		total += len(rows)
	}
	return total
}

// TombstoneCount is the total number of deletion markers across all tables.
func (a *Archive) TombstoneCount() int {
	total := 0
	for _, keys := range a.Tombstones {
		total += len(keys)
	}
	return total
}

// TableNames returns the archive's table names in sorted order, including
// tables that appear only through tombstones.
func (a *Archive) TableNames() []string {
	seen := make(map[string]struct{}, len(a.Tables))
	for name := range a.Tables {
		seen[name] = struct{}{}
	}
	for name := range a.Tombstones {
		seen[name] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Metadata is the storage-level index entry for one stored archive. It is
// kept alongside the encoded payload so listings never need to decode
// archive bodies.
type Metadata struct {
	ID            string    `json:"id"`
	SchemaVersion string    `json:"schema_version"`
	Kind          Kind      `json:"kind"`
	BaseID        *string   `json:"base_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	SizeBytes     int64     `json:"size_bytes"`
	RowCount      int       `json:"row_count"`
	Tombstones    int       `json:"tombstones"`
	Compression   string    `json:"compression"`
	Encrypted     bool      `json:"encrypted"`
	Checksum      string    `json:"checksum"`
}
