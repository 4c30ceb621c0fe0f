package minio

import (
	"context"
	"fmt"
	"io"
	"io/fs"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/feichai0017/medical-document-processor/pkg/logger"
)

type Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

type MinioStorage struct {
	client     *minio.Client
	bucketName string
	logger     logger.Logger
}

func NewMinioStorage(ctx context.Context, c Config, log logger.Logger) (*MinioStorage, error) {
	client, err := minio.New(c.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.AccessKey, c.SecretKey, ""),
		Secure: c.UseSSL,
		Region: c.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, c.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, c.Bucket, minio.MakeBucketOptions{Region: c.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &MinioStorage{
		client:     client,
		bucketName: c.Bucket,
		logger:     log.Named("minio"),
	}, nil
}

func (m *MinioStorage) Fetch(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, m.fetchError(key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, m.fetchError(key, err)
	}
	return data, nil
}

func (m *MinioStorage) fetchError(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("object %q: %w", key, fs.ErrNotExist)
	}
	m.logger.Error("Failed to get file from MinIO",
		logger.String("bucket", m.bucketName),
		logger.String("key", key),
		logger.Error(err),
	)
	return fmt.Errorf("failed to get file: %w", err)
}

func (m *MinioStorage) Store(ctx context.Context, key string, r io.Reader) error {
	_, err := m.client.PutObject(ctx, m.bucketName, key, r, -1, minio.PutObjectOptions{})
	if err != nil {
		m.logger.Error("Failed to store file to MinIO",
			logger.String("bucket", m.bucketName),
			logger.String("key", key),
			logger.Error(err),
		)
		return fmt.Errorf("failed to store file: %w", err)
	}
	return nil
}
