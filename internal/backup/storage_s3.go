package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"dbrewind/internal/apperrors"
	"dbrewind/internal/archive"
)

// S3Store keeps archives in an S3 bucket under a common key prefix, one
// payload object and one metadata object per archive.
type S3Store struct {
	client *s3.S3
	bucket string
	prefix string
}

// S3Options configures the S3 store. Empty credentials fall back to the
// SDK's default chain.
type S3Options struct {
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
}

// NewS3Store builds an S3-backed archive store.
func NewS3Store(opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, apperrors.Errorf(apperrors.KindStorage, "S3 bucket is required")
	}
	if opts.Region == "" {
		return nil, apperrors.Errorf(apperrors.KindStorage, "S3 region is required")
	}

	cfg := &aws.Config{Region: aws.String(opts.Region)}
	if opts.AccessKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(opts.AccessKey, opts.SecretKey, "")
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, apperrors.New(apperrors.KindStorage, "failed to create AWS session", err)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "archives/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &S3Store{client: s3.New(sess), bucket: opts.Bucket, prefix: prefix}, nil
}

func (s *S3Store) Put(ctx context.Context, payload []byte, meta *archive.Metadata) error {
	if meta == nil || meta.ID == "" {
		return apperrors.Errorf(apperrors.KindStorage, "archive metadata with an ID is required")
	}

	if _, err := s.Metadata(ctx, meta.ID); err == nil {
		return apperrors.Errorf(apperrors.KindStorage, "archive %s already exists", meta.ID).
			WithContext("archive_id", meta.ID)
	}

	key := s.objectKey(meta.ID)
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key + "/" + payloadFileName),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]*string{
			"archive-id":     aws.String(meta.ID),
			"schema-version": aws.String(meta.SchemaVersion),
			"archive-kind":   aws.String(string(meta.Kind)),
			"checksum":       aws.String(meta.Checksum),
		},
	})
	if err != nil {
		return s.wrapS3Error("failed to upload archive payload", err)
	}

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return apperrors.New(apperrors.KindStorage, "failed to serialize archive metadata", err)
	}

	// Metadata is written second so listings never surface an archive
	// whose payload is still uploading.
	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key + "/" + metadataFileName),
		Body:        bytes.NewReader(metaBytes),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return s.wrapS3Error("failed to upload archive metadata", err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, archiveID string) ([]byte, error) {
	if archiveID == "" {
		return nil, apperrors.Errorf(apperrors.KindStorage, "archive ID cannot be empty")
	}

	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(archiveID) + "/" + payloadFileName),
	})
	if err != nil {
		return nil, s.wrapS3Error("failed to download archive payload", err)
	}
	defer result.Body.Close()

	payload, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, apperrors.New(apperrors.KindStorage, "failed to read archive payload", err)
	}
	return payload, nil
}

func (s *S3Store) Metadata(ctx context.Context, archiveID string) (*archive.Metadata, error) {
	if archiveID == "" {
		return nil, apperrors.Errorf(apperrors.KindStorage, "archive ID cannot be empty")
	}

	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(archiveID) + "/" + metadataFileName),
	})
	if err != nil {
		return nil, s.wrapS3Error("failed to download archive metadata", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, apperrors.New(apperrors.KindStorage, "failed to read archive metadata", err)
	}

	var meta archive.Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, apperrors.New(apperrors.KindCorruption, "failed to parse archive metadata", err)
	}
	return &meta, nil
}

func (s *S3Store) List(ctx context.Context, filter Filter) ([]*archive.Metadata, error) {
	var metas []*archive.Metadata

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	}
	err := s.client.ListObjectsV2PagesWithContext(ctx, input,
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, obj := range page.Contents {
				if !strings.HasSuffix(*obj.Key, "/"+metadataFileName) {
					continue
				}
				archiveID := s.archiveIDFromKey(*obj.Key)
				if archiveID == "" {
					continue
				}
				meta, err := s.Metadata(ctx, archiveID)
				if err != nil {
					continue
				}
				if filter.matches(meta) {
					metas = append(metas, meta)
				}
			}
			return true
		})
	if err != nil {
		return nil, s.wrapS3Error("failed to list archives", err)
	}

	sortNewestFirst(metas)
	if filter.MaxItems > 0 && len(metas) > filter.MaxItems {
		metas = metas[:filter.MaxItems]
	}
	return metas, nil
}

func (s *S3Store) Delete(ctx context.Context, archiveID string) error {
	if archiveID == "" {
		return apperrors.Errorf(apperrors.KindStorage, "archive ID cannot be empty")
	}

	key := s.objectKey(archiveID)
	listResult, err := s.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(key + "/"),
	})
	if err != nil {
		return s.wrapS3Error("failed to list archive objects", err)
	}
	if len(listResult.Contents) == 0 {
		return apperrors.Errorf(apperrors.KindStorage, "archive %s not found", archiveID).
			WithContext("archive_id", archiveID)
	}

	objects := make([]*s3.ObjectIdentifier, 0, len(listResult.Contents))
	for _, obj := range listResult.Contents {
		objects = append(objects, &s3.ObjectIdentifier{Key: obj.Key})
	}
	_, err = s.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &s3.Delete{Objects: objects},
	})
	if err != nil {
		return s.wrapS3Error("failed to delete archive objects", err)
	}
	return nil
}

func (s *S3Store) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return s.wrapS3Error("bucket is not accessible", err)
	}
	return nil
}

func (s *S3Store) objectKey(archiveID string) string {
	return s.prefix + sanitizeArchiveID(archiveID)
}

func (s *S3Store) archiveIDFromKey(objectKey string) string {
	withoutPrefix := strings.TrimPrefix(objectKey, s.prefix)
	if withoutPrefix == objectKey {
		return ""
	}
	return strings.TrimSuffix(withoutPrefix, "/"+metadataFileName)
}

// wrapS3Error maps SDK throttling and timeout codes onto recoverable
// transient errors so the retry handler can act on them.
func (s *S3Store) wrapS3Error(message string, err error) error {
	if awsErr, ok := err.(awserr.Error); ok {
		switch awsErr.Code() {
		case "RequestTimeout", "SlowDown", "ThrottlingException", "ServiceUnavailable":
			return apperrors.NewRecoverable(apperrors.KindTransient, message, err)
		}
	}
	return apperrors.New(apperrors.KindStorage, message, err)
}
