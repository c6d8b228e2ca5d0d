package pool

import (
	"context"
	"fmt"

	"distribox/internal/config"
	"distribox/internal/dbx"
)

// NewPoolFromConfig creates a BlobPool implementation based on the pool
// config type. dataDir is the local pool directory under the metadata
// folder; it is only used for the filesystem backend.
func NewPoolFromConfig(cfg config.PoolConfig, dataDir string) (dbx.BlobPool, error) {
	switch cfg.Type {
	case "", "filesystem":
		return NewFileSystemPool(dataDir)
	case "memory":
		return NewMemoryPool(), nil
	case "s3":
		return NewS3Pool(context.Background(), S3Options{
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	default:
		return nil, fmt.Errorf("unknown pool type: %s", cfg.Type)
	}
}
