package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-storage-blob-go/azblob"

	"dbrewind/internal/apperrors"
	"dbrewind/internal/archive"
)

// AzureStore keeps archives in an Azure Blob Storage container.
type AzureStore struct {
	serviceURL azblob.ServiceURL
	container  string
	prefix     string
}

// AzureOptions configures the Azure store.
type AzureOptions struct {
	AccountName string
	AccountKey  string
	Container   string
	Prefix      string
}

// NewAzureStore builds an Azure-backed archive store.
func NewAzureStore(opts AzureOptions) (*AzureStore, error) {
	if opts.AccountName == "" || opts.AccountKey == "" {
		return nil, apperrors.Errorf(apperrors.KindStorage, "Azure account name and key are required")
	}
	if opts.Container == "" {
		return nil, apperrors.Errorf(apperrors.KindStorage, "Azure container is required")
	}

	credential, err := azblob.NewSharedKeyCredential(opts.AccountName, opts.AccountKey)
	if err != nil {
		return nil, apperrors.New(apperrors.KindStorage, "failed to create Azure credentials", err)
	}
	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", opts.AccountName))
	if err != nil {
		return nil, apperrors.New(apperrors.KindStorage, "failed to parse Azure service URL", err)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "archives/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &AzureStore{
		serviceURL: azblob.NewServiceURL(*serviceURL, pipeline),
		container:  opts.Container,
		prefix:     prefix,
	}, nil
}

func (s *AzureStore) Put(ctx context.Context, payload []byte, meta *archive.Metadata) error {
	if meta == nil || meta.ID == "" {
		return apperrors.Errorf(apperrors.KindStorage, "archive metadata with an ID is required")
	}

	if _, err := s.Metadata(ctx, meta.ID); err == nil {
		return apperrors.Errorf(apperrors.KindStorage, "archive %s already exists", meta.ID).
			WithContext("archive_id", meta.ID)
	}

	containerURL := s.serviceURL.NewContainerURL(s.container)
	blobName := s.blobName(meta.ID)

	payloadURL := containerURL.NewBlockBlobURL(blobName + "/" + payloadFileName)
	_, err := azblob.UploadBufferToBlockBlob(ctx, payload, payloadURL, azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024,
		Parallelism: 16,
		Metadata: azblob.Metadata{
			"archive_id":     meta.ID,
			"schema_version": meta.SchemaVersion,
			"archive_kind":   string(meta.Kind),
			"checksum":       meta.Checksum,
		},
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{ContentType: "application/octet-stream"},
	})
	if err != nil {
		return apperrors.New(apperrors.KindStorage, "failed to upload archive payload to Azure", err)
	}

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return apperrors.New(apperrors.KindStorage, "failed to serialize archive metadata", err)
	}

	metaURL := containerURL.NewBlockBlobURL(blobName + "/" + metadataFileName)
	_, err = azblob.UploadBufferToBlockBlob(ctx, metaBytes, metaURL, azblob.UploadToBlockBlobOptions{
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{ContentType: "application/json"},
	})
	if err != nil {
		return apperrors.New(apperrors.KindStorage, "failed to upload archive metadata to Azure", err)
	}
	return nil
}

func (s *AzureStore) Get(ctx context.Context, archiveID string) ([]byte, error) {
	if archiveID == "" {
		return nil, apperrors.Errorf(apperrors.KindStorage, "archive ID cannot be empty")
	}
	return s.download(ctx, s.blobName(archiveID)+"/"+payloadFileName, archiveID)
}

func (s *AzureStore) Metadata(ctx context.Context, archiveID string) (*archive.Metadata, error) {
	if archiveID == "" {
		return nil, apperrors.Errorf(apperrors.KindStorage, "archive ID cannot be empty")
	}

	data, err := s.download(ctx, s.blobName(archiveID)+"/"+metadataFileName, archiveID)
	if err != nil {
		return nil, err
	}

	var meta archive.Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, apperrors.New(apperrors.KindCorruption, "failed to parse archive metadata", err)
	}
	return &meta, nil
}

func (s *AzureStore) List(ctx context.Context, filter Filter) ([]*archive.Metadata, error) {
	var metas []*archive.Metadata
	containerURL := s.serviceURL.NewContainerURL(s.container)

	for marker := (azblob.Marker{}); marker.NotDone(); {
		page, err := containerURL.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
			Prefix: s.prefix,
		})
		if err != nil {
			return nil, apperrors.New(apperrors.KindStorage, "failed to list archives in Azure", err)
		}
		marker = page.NextMarker

		for _, blob := range page.Segment.BlobItems {
			if !strings.HasSuffix(blob.Name, "/"+metadataFileName) {
				continue
			}
			archiveID := strings.TrimSuffix(strings.TrimPrefix(blob.Name, s.prefix), "/"+metadataFileName)
			meta, err := s.Metadata(ctx, archiveID)
			if err != nil {
				continue
			}
			if filter.matches(meta) {
				metas = append(metas, meta)
			}
		}
	}

	sortNewestFirst(metas)
	if filter.MaxItems > 0 && len(metas) > filter.MaxItems {
		metas = metas[:filter.MaxItems]
	}
	return metas, nil
}

func (s *AzureStore) Delete(ctx context.Context, archiveID string) error {
	if archiveID == "" {
		return apperrors.Errorf(apperrors.KindStorage, "archive ID cannot be empty")
	}

	containerURL := s.serviceURL.NewContainerURL(s.container)
	blobName := s.blobName(archiveID)

	deleted := 0
	for _, name := range []string{payloadFileName, metadataFileName} {
		blobURL := containerURL.NewBlockBlobURL(blobName + "/" + name)
		_, err := blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{})
		if err != nil {
			if storageErr, ok := err.(azblob.StorageError); ok &&
				storageErr.ServiceCode() == azblob.ServiceCodeBlobNotFound {
				continue
			}
			return apperrors.New(apperrors.KindStorage, "failed to delete archive blob", err)
		}
		deleted++
	}
	if deleted == 0 {
		return apperrors.Errorf(apperrors.KindStorage, "archive %s not found", archiveID).
			WithContext("archive_id", archiveID)
	}
	return nil
}

func (s *AzureStore) HealthCheck(ctx context.Context) error {
	containerURL := s.serviceURL.NewContainerURL(s.container)
	_, err := containerURL.GetProperties(ctx, azblob.LeaseAccessConditions{})
	if err != nil {
		return apperrors.New(apperrors.KindStorage, "Azure container is not accessible", err)
	}
	return nil
}

func (s *AzureStore) blobName(archiveID string) string {
	return s.prefix + sanitizeArchiveID(archiveID)
}

func (s *AzureStore) download(ctx context.Context, blobName, archiveID string) ([]byte, error) {
	containerURL := s.serviceURL.NewContainerURL(s.container)
	blobURL := containerURL.NewBlockBlobURL(blobName)

	response, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if storageErr, ok := err.(azblob.StorageError); ok &&
			storageErr.ServiceCode() == azblob.ServiceCodeBlobNotFound {
			return nil, apperrors.Errorf(apperrors.KindStorage, "archive %s not found", archiveID).
				WithContext("archive_id", archiveID)
		}
		return nil, apperrors.New(apperrors.KindStorage, "failed to download archive blob", err)
	}

	body := response.Body(azblob.RetryReaderOptions{MaxRetryRequests: 3})
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, apperrors.New(apperrors.KindStorage, "failed to read archive blob", err)
	}
	return data, nil
}
