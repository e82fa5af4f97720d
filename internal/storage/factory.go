package storage

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"aperture/internal/aperture"
	"aperture/internal/config"
)

// NewContentStoreFromConfig creates a ContentStore based on the storage config type.
func NewContentStoreFromConfig(ctx context.Context, cfg config.StorageConfig) (aperture.ContentStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(cfg.ChunkSize), nil
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem storage requires root to be set")
		}
		return NewFileSystemStore(afero.NewOsFs(), cfg.Root, cfg.ChunkSize)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 storage requires s3_bucket to be set")
		}
		client, err := NewS3Client(ctx, S3Options{
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, err
		}
		return NewS3Store(client, cfg.S3Bucket, cfg.S3Prefix, int64(cfg.ChunkSize)), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
