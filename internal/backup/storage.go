package backup

import (
	"context"
	"sort"

	"dbrewind/internal/archive"
)

// Store persists encoded archive payloads together with their metadata.
// Put must be atomic per archive: a reader never observes a payload without
// its metadata or a half-written payload.
type Store interface {
	// Put stores one encoded archive. Storing an ID that already exists
	// is an error; archives are immutable once written.
	Put(ctx context.Context, payload []byte, meta *archive.Metadata) error

	// Get returns the encoded payload for one archive.
	Get(ctx context.Context, archiveID string) ([]byte, error)

	// Metadata returns the index entry for one archive without reading
	// its payload.
	Metadata(ctx context.Context, archiveID string) (*archive.Metadata, error)

	// List returns metadata for all archives matching the filter, newest
	// first.
	List(ctx context.Context, filter Filter) ([]*archive.Metadata, error)

	// Delete removes one archive and its metadata.
	Delete(ctx context.Context, archiveID string) error

	// HealthCheck verifies the backing store is reachable and writable.
	HealthCheck(ctx context.Context) error
}

// Filter narrows List results.
type Filter struct {
	// SchemaVersion limits results to archives of one schema version.
	SchemaVersion string
	// MaxItems caps the number of results; zero means unlimited.
	MaxItems int
}

func (f Filter) matches(meta *archive.Metadata) bool {
	return f.SchemaVersion == "" || meta.SchemaVersion == f.SchemaVersion
}

// sortNewestFirst orders metadata by creation time descending, breaking
// ties by ID so listings are stable.
func sortNewestFirst(metas []*archive.Metadata) {
	sort.Slice(metas, func(i, j int) bool {
		if !metas[i].CreatedAt.Equal(metas[j].CreatedAt) {
			return metas[i].CreatedAt.After(metas[j].CreatedAt)
		}
		return metas[i].ID < metas[j].ID
	})
}
