package objectstore

import (
	"context"
	"fmt"

	"github.com/thymos-ai/thymos/config"
)

// NewBackendFromConfig opens the Backend a repository's RepositoryConfig
// names, rooted at root/objects. "fs" and "s3" open directly; "fs+cache"
// fronts the filesystem backend with a RistrettoCache for read latency,
// mirroring the primary/fallback/cache composition Manager supports.
func NewBackendFromConfig(ctx context.Context, root string, cfg config.RepositoryConfig) (Backend, error) {
	switch cfg.Storage {
	case config.StorageS3:
		if cfg.S3 == nil {
			return nil, fmt.Errorf("objectstore: storage backend %q requires an s3 config block", cfg.Storage)
		}
		return NewS3Backend(ctx, S3Config{
			Region:   cfg.S3.Region,
			Bucket:   cfg.S3.Bucket,
			Prefix:   cfg.S3.Prefix,
			Endpoint: cfg.S3.Endpoint,
		})

	case config.StorageRistretto:
		fs, err := NewFSBackend(root)
		if err != nil {
			return nil, err
		}
		cache, err := NewRistrettoCache(0)
		if err != nil {
			return nil, err
		}
		mgr := NewManager(fs, ManagerConfig{})
		mgr.SetCache(cache)
		return mgr, nil

	case config.StorageFS, "":
		return NewFSBackend(root)

	default:
		return nil, fmt.Errorf("objectstore: unknown storage backend %q", cfg.Storage)
	}
}
