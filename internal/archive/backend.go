// Package archive writes pruned request logs to long-term storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/watzon/docwebhooks/internal/config"
)

var (
	ErrNotFound      = errors.New("archive object not found")
	ErrInvalidConfig = errors.New("invalid archive configuration")
)

// Backend stores opaque objects under bucket/key.
type Backend interface {
	Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, bucket, key string) error
	Exists(ctx context.Context, bucket, key string) (bool, error)
}

// NewBackend builds the backend named by cfg.Type.
func NewBackend(ctx context.Context, cfg *config.ArchiveConfig) (Backend, error) {
	switch cfg.Type {
	case "filesystem":
		if cfg.Filesystem == nil || cfg.Filesystem.Path == "" {
			return nil, fmt.Errorf("%w: filesystem path is required", ErrInvalidConfig)
		}
		return NewFilesystemBackend(cfg.Filesystem.Path), nil
	case "s3":
		if cfg.S3 == nil {
			return nil, fmt.Errorf("%w: s3 settings are required", ErrInvalidConfig)
		}
		return NewS3Backend(ctx, *cfg.S3)
	default:
		return nil, fmt.Errorf("%w: unknown backend type %q", ErrInvalidConfig, cfg.Type)
	}
}
