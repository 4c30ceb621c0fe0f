// Package storage reads and writes uploaded document bytes.
package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"

	"github.com/feichai0017/medical-document-processor/config"
	"github.com/feichai0017/medical-document-processor/pkg/logger"
	"github.com/feichai0017/medical-document-processor/pkg/storage/local"
	"github.com/feichai0017/medical-document-processor/pkg/storage/minio"
	"github.com/feichai0017/medical-document-processor/pkg/storage/s3"
)

// StorageType names a backend.
type StorageType string

const (
	StorageTypeS3    StorageType = "s3"
	StorageTypeMinio StorageType = "minio"
	StorageTypeLocal StorageType = "local"
)

// ErrNotFound is returned, possibly wrapped, when a key does not exist.
// Backends wrap fs.ErrNotExist so they need not import this package.
var ErrNotFound = fs.ErrNotExist

// Fetcher is what the pipeline needs from storage.
type Fetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

type Storage interface {
	Fetcher
	Store(ctx context.Context, key string, r io.Reader) error
}

// NewStorage builds the configured backend behind a circuit breaker.
func NewStorage(ctx context.Context, cfg config.StorageConfig, log logger.Logger) (Storage, error) {
	var (
		backend Storage
		err     error
	)
	switch StorageType(cfg.Backend) {
	case StorageTypeS3:
		backend, err = s3.NewS3Storage(ctx, s3.Config{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
		}, log)
	case StorageTypeMinio:
		backend, err = minio.NewMinioStorage(ctx, minio.Config{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
		}, log)
	case StorageTypeLocal:
		backend, err = local.NewLocalStorage(cfg.LocalDir, log)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	return NewBreaker(backend, BreakerSettings{
		Name:        cfg.Backend,
		MaxFailures: cfg.BreakerMaxFailures,
		Timeout:     cfg.BreakerTimeout,
	}, log), nil
}
