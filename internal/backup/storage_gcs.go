package backup

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"dbrewind/internal/apperrors"
	"dbrewind/internal/archive"
)

// GCSStore keeps archives in a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSOptions configures the GCS store. An empty CredentialsPath uses the
// environment's default credentials.
type GCSOptions struct {
	Bucket          string
	Prefix          string
	CredentialsPath string
}

// NewGCSStore builds a GCS-backed archive store.
func NewGCSStore(ctx context.Context, opts GCSOptions) (*GCSStore, error) {
	if opts.Bucket == "" {
		return nil, apperrors.Errorf(apperrors.KindStorage, "GCS bucket is required")
	}

	var client *storage.Client
	var err error
	if opts.CredentialsPath != "" {
		client, err = storage.NewClient(ctx, option.WithCredentialsFile(opts.CredentialsPath))
	} else {
		client, err = storage.NewClient(ctx)
	}
	if err != nil {
		return nil, apperrors.New(apperrors.KindStorage, "failed to create GCS client", err)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "archives/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &GCSStore{client: client, bucket: opts.Bucket, prefix: prefix}, nil
}

func (s *GCSStore) Put(ctx context.Context, payload []byte, meta *archive.Metadata) error {
	if meta == nil || meta.ID == "" {
		return apperrors.Errorf(apperrors.KindStorage, "archive metadata with an ID is required")
	}

	if _, err := s.Metadata(ctx, meta.ID); err == nil {
		return apperrors.Errorf(apperrors.KindStorage, "archive %s already exists", meta.ID).
			WithContext("archive_id", meta.ID)
	}

	bucket := s.client.Bucket(s.bucket)
	objectName := s.objectName(meta.ID)

	writer := bucket.Object(objectName + "/" + payloadFileName).NewWriter(ctx)
	writer.ContentType = "application/octet-stream"
	writer.Metadata = map[string]string{
		"archive-id":     meta.ID,
		"schema-version": meta.SchemaVersion,
		"archive-kind":   string(meta.Kind),
		"checksum":       meta.Checksum,
	}
	if _, err := writer.Write(payload); err != nil {
		writer.Close()
		return apperrors.New(apperrors.KindStorage, "failed to write archive payload to GCS", err)
	}
	if err := writer.Close(); err != nil {
		return apperrors.New(apperrors.KindStorage, "failed to upload archive payload", err)
	}

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return apperrors.New(apperrors.KindStorage, "failed to serialize archive metadata", err)
	}

	metaWriter := bucket.Object(objectName + "/" + metadataFileName).NewWriter(ctx)
	metaWriter.ContentType = "application/json"
	if _, err := metaWriter.Write(metaBytes); err != nil {
		metaWriter.Close()
		return apperrors.New(apperrors.KindStorage, "failed to write archive metadata to GCS", err)
	}
	if err := metaWriter.Close(); err != nil {
		return apperrors.New(apperrors.KindStorage, "failed to upload archive metadata", err)
	}
	return nil
}

func (s *GCSStore) Get(ctx context.Context, archiveID string) ([]byte, error) {
	if archiveID == "" {
		return nil, apperrors.Errorf(apperrors.KindStorage, "archive ID cannot be empty")
	}

	reader, err := s.client.Bucket(s.bucket).
		Object(s.objectName(archiveID) + "/" + payloadFileName).NewReader(ctx)
	if err != nil {
		return nil, s.wrapGCSError("failed to open archive payload", archiveID, err)
	}
	defer reader.Close()

	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, apperrors.New(apperrors.KindStorage, "failed to read archive payload", err)
	}
	return payload, nil
}

func (s *GCSStore) Metadata(ctx context.Context, archiveID string) (*archive.Metadata, error) {
	if archiveID == "" {
		return nil, apperrors.Errorf(apperrors.KindStorage, "archive ID cannot be empty")
	}

	reader, err := s.client.Bucket(s.bucket).
		Object(s.objectName(archiveID) + "/" + metadataFileName).NewReader(ctx)
	if err != nil {
		return nil, s.wrapGCSError("failed to open archive metadata", archiveID, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, apperrors.New(apperrors.KindStorage, "failed to read archive metadata", err)
	}

	var meta archive.Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, apperrors.New(apperrors.KindCorruption, "failed to parse archive metadata", err)
	}
	return &meta, nil
}

func (s *GCSStore) List(ctx context.Context, filter Filter) ([]*archive.Metadata, error) {
	var metas []*archive.Metadata

	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: s.prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, apperrors.New(apperrors.KindStorage, "failed to list archives in GCS", err)
		}
		if !strings.HasSuffix(attrs.Name, "/"+metadataFileName) {
			continue
		}

		archiveID := strings.TrimSuffix(strings.TrimPrefix(attrs.Name, s.prefix), "/"+metadataFileName)
		meta, err := s.Metadata(ctx, archiveID)
		if err != nil {
			continue
		}
		if filter.matches(meta) {
			metas = append(metas, meta)
		}
	}

	sortNewestFirst(metas)
	if filter.MaxItems > 0 && len(metas) > filter.MaxItems {
		metas = metas[:filter.MaxItems]
	}
	return metas, nil
}

func (s *GCSStore) Delete(ctx context.Context, archiveID string) error {
	if archiveID == "" {
		return apperrors.Errorf(apperrors.KindStorage, "archive ID cannot be empty")
	}

	bucket := s.client.Bucket(s.bucket)
	objectName := s.objectName(archiveID)

	deleted := 0
	for _, name := range []string{payloadFileName, metadataFileName} {
		err := bucket.Object(objectName + "/" + name).Delete(ctx)
		if errors.Is(err, storage.ErrObjectNotExist) {
			continue
		}
		if err != nil {
			return apperrors.New(apperrors.KindStorage, "failed to delete archive object", err)
		}
		deleted++
	}
	if deleted == 0 {
		return apperrors.Errorf(apperrors.KindStorage, "archive %s not found", archiveID).
			WithContext("archive_id", archiveID)
	}
	return nil
}

func (s *GCSStore) HealthCheck(ctx context.Context) error {
	_, err := s.client.Bucket(s.bucket).Attrs(ctx)
	if err != nil {
		return apperrors.New(apperrors.KindStorage, "GCS bucket is not accessible", err)
	}
	return nil
}

func (s *GCSStore) objectName(archiveID string) string {
	return s.prefix + sanitizeArchiveID(archiveID)
}

func (s *GCSStore) wrapGCSError(message, archiveID string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return apperrors.Errorf(apperrors.KindStorage, "archive %s not found", archiveID).
			WithContext("archive_id", archiveID)
	}
	return apperrors.New(apperrors.KindStorage, message, err)
}
