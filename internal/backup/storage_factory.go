package backup

import (
	"context"
	"os"

	"dbrewind/internal/apperrors"
)

// StorageConfig selects and configures one archive store backend.
type StorageConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"`

	Local struct {
		Path        string      `mapstructure:"path" yaml:"path"`
		Permissions os.FileMode `mapstructure:"permissions" yaml:"permissions"`
	} `mapstructure:"local" yaml:"local"`

	S3 struct {
		Region    string `mapstructure:"region" yaml:"region"`
		Bucket    string `mapstructure:"bucket" yaml:"bucket"`
		Prefix    string `mapstructure:"prefix" yaml:"prefix"`
		AccessKey string `mapstructure:"access_key" yaml:"access_key"`
		SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	} `mapstructure:"s3" yaml:"s3"`

	GCS struct {
		Bucket          string `mapstructure:"bucket" yaml:"bucket"`
		Prefix          string `mapstructure:"prefix" yaml:"prefix"`
		CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path"`
	} `mapstructure:"gcs" yaml:"gcs"`

	Azure struct {
		AccountName string `mapstructure:"account_name" yaml:"account_name"`
		AccountKey  string `mapstructure:"account_key" yaml:"account_key"`
		Container   string `mapstructure:"container" yaml:"container"`
		Prefix      string `mapstructure:"prefix" yaml:"prefix"`
	} `mapstructure:"azure" yaml:"azure"`
}

// NewStore builds the archive store named by the configuration.
func NewStore(ctx context.Context, cfg StorageConfig) (Store, error) {
	switch cfg.Provider {
	case "", "local":
		return NewLocalStore(cfg.Local.Path, cfg.Local.Permissions)
	case "s3":
		return NewS3Store(S3Options{
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
	case "gcs":
		return NewGCSStore(ctx, GCSOptions{
			Bucket:          cfg.GCS.Bucket,
			Prefix:          cfg.GCS.Prefix,
			CredentialsPath: cfg.GCS.CredentialsPath,
		})
	case "azure":
		return NewAzureStore(AzureOptions{
			AccountName: cfg.Azure.AccountName,
			AccountKey:  cfg.Azure.AccountKey,
			Container:   cfg.Azure.Container,
			Prefix:      cfg.Azure.Prefix,
		})
	default:
		return nil, apperrors.Errorf(apperrors.KindStorage, "unsupported storage provider: %s", cfg.Provider)
	}
}

// SupportedProviders lists the storage backends NewStore accepts.
func SupportedProviders() []string {
	return []string{"local", "s3", "gcs", "azure"}
}
