package backup

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"dbrewind/internal/apperrors"
	"dbrewind/internal/archive"
)

const (
	payloadFileName  = "archive.bin"
	metadataFileName = "metadata.json"
)

// LocalStore keeps archives on the local file system, one directory per
// archive holding the encoded payload and a metadata sidecar.
type LocalStore struct {
	basePath    string
	permissions os.FileMode
}

// NewLocalStore creates the base directory if needed and returns a store
// rooted there.
func NewLocalStore(basePath string, permissions os.FileMode) (*LocalStore, error) {
	if basePath == "" {
		return nil, apperrors.Errorf(apperrors.KindStorage, "local storage base path is required")
	}
	if permissions == 0 {
		permissions = 0o755
	}
	if err := os.MkdirAll(basePath, permissions); err != nil {
		return nil, apperrors.New(apperrors.KindStorage, "failed to create storage base directory", err)
	}
	return &LocalStore{basePath: basePath, permissions: permissions}, nil
}

func (s *LocalStore) Put(ctx context.Context, payload []byte, meta *archive.Metadata) error {
	if meta == nil || meta.ID == "" {
		return apperrors.Errorf(apperrors.KindStorage, "archive metadata with an ID is required")
	}
	if err := ctx.Err(); err != nil {
		return apperrors.Classify(err)
	}

	dir := s.archiveDir(meta.ID)
	if _, err := os.Stat(dir); err == nil {
		return apperrors.Errorf(apperrors.KindStorage, "archive %s already exists", meta.ID).
			WithContext("archive_id", meta.ID)
	}

	// Stage into a temp directory and rename so a crash mid-write never
	// leaves a partial archive visible.
	staging, err := os.MkdirTemp(s.basePath, ".staging-*")
	if err != nil {
		return apperrors.New(apperrors.KindStorage, "failed to create staging directory", err)
	}
	defer os.RemoveAll(staging)

	if err := os.WriteFile(filepath.Join(staging, payloadFileName), payload, 0o644); err != nil {
		return apperrors.New(apperrors.KindStorage, "failed to write archive payload", err)
	}

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return apperrors.New(apperrors.KindStorage, "failed to serialize archive metadata", err)
	}
	if err := os.WriteFile(filepath.Join(staging, metadataFileName), metaBytes, 0o644); err != nil {
		return apperrors.New(apperrors.KindStorage, "failed to write archive metadata", err)
	}

	if err := os.Rename(staging, dir); err != nil {
		return apperrors.New(apperrors.KindStorage, "failed to publish archive", err)
	}
	return nil
}

func (s *LocalStore) Get(ctx context.Context, archiveID string) ([]byte, error) {
	if archiveID == "" {
		return nil, apperrors.Errorf(apperrors.KindStorage, "archive ID cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Classify(err)
	}

	payload, err := os.ReadFile(filepath.Join(s.archiveDir(archiveID), payloadFileName))
	if os.IsNotExist(err) {
		return nil, apperrors.Errorf(apperrors.KindStorage, "archive %s not found", archiveID).
			WithContext("archive_id", archiveID)
	}
	if err != nil {
		return nil, apperrors.New(apperrors.KindStorage, "failed to read archive payload", err)
	}
	return payload, nil
}

func (s *LocalStore) Metadata(ctx context.Context, archiveID string) (*archive.Metadata, error) {
	if archiveID == "" {
		return nil, apperrors.Errorf(apperrors.KindStorage, "archive ID cannot be empty")
	}
	return s.loadMetadata(filepath.Join(s.archiveDir(archiveID), metadataFileName), archiveID)
}

func (s *LocalStore) List(ctx context.Context, filter Filter) ([]*archive.Metadata, error) {
	var metas []*archive.Metadata

	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || path == s.basePath {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".staging-") {
			return filepath.SkipDir
		}

		meta, loadErr := s.loadMetadata(filepath.Join(path, metadataFileName), d.Name())
		if loadErr != nil {
			// An entry without readable metadata is skipped, not fatal.
			return filepath.SkipDir
		}
		if filter.matches(meta) {
			metas = append(metas, meta)
		}
		return filepath.SkipDir
	})
	if err != nil {
		return nil, apperrors.New(apperrors.KindStorage, "failed to list archives", err)
	}

	sortNewestFirst(metas)
	if filter.MaxItems > 0 && len(metas) > filter.MaxItems {
		metas = metas[:filter.MaxItems]
	}
	return metas, nil
}

func (s *LocalStore) Delete(ctx context.Context, archiveID string) error {
	if archiveID == "" {
		return apperrors.Errorf(apperrors.KindStorage, "archive ID cannot be empty")
	}

	dir := s.archiveDir(archiveID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return apperrors.Errorf(apperrors.KindStorage, "archive %s not found", archiveID).
			WithContext("archive_id", archiveID)
	}
	if err := os.RemoveAll(dir); err != nil {
		return apperrors.New(apperrors.KindStorage, "failed to delete archive", err)
	}
	return nil
}

func (s *LocalStore) HealthCheck(ctx context.Context) error {
	probe := filepath.Join(s.basePath, ".health_check")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return apperrors.New(apperrors.KindStorage, "storage base directory is not writable", err)
	}
	os.Remove(probe)
	return nil
}

// BasePath returns the directory archives are stored under.
func (s *LocalStore) BasePath() string {
	return s.basePath
}

func (s *LocalStore) archiveDir(archiveID string) string {
	return filepath.Join(s.basePath, sanitizeArchiveID(archiveID))
}

func (s *LocalStore) loadMetadata(path, archiveID string) (*archive.Metadata, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, apperrors.Errorf(apperrors.KindStorage, "archive %s not found", archiveID).
			WithContext("archive_id", archiveID)
	}
	if err != nil {
		return nil, apperrors.New(apperrors.KindStorage, "failed to read archive metadata", err)
	}

	var meta archive.Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, apperrors.New(apperrors.KindCorruption, "failed to parse archive metadata", err)
	}
	return &meta, nil
}

// sanitizeArchiveID strips path separators so an ID can never escape the
// storage root.
func sanitizeArchiveID(archiveID string) string {
	sanitized := strings.ReplaceAll(archiveID, "/", "_")
	sanitized = strings.ReplaceAll(sanitized, "\\", "_")
	sanitized = strings.ReplaceAll(sanitized, "..", "_")
	return sanitized
}
