package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/feichai0017/medical-document-processor/pkg/logger"
)

// LocalStorage keeps objects as files under a root directory. Keys are
// slash separated and cannot escape the root.
type LocalStorage struct {
	root   string
	logger logger.Logger
}

func NewLocalStorage(root string, log logger.Logger) (*LocalStorage, error) {
	if root == "" {
		return nil, errors.New("local storage directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{root: root, logger: log.Named("local_storage")}, nil
}

func (l *LocalStorage) path(key string) string {
	return filepath.Join(l.root, filepath.Clean("/"+filepath.FromSlash(key)))
}

func (l *LocalStorage) Fetch(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(l.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("object %q: %w", key, fs.ErrNotExist)
		}
		l.logger.Error("Failed to read object",
			logger.String("key", key),
			logger.Error(err),
		)
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

func (l *LocalStorage) Store(ctx context.Context, key string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := l.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	f, err := os.Create(p)
	if err != nil {
		return fmt.Errorf("failed to create object: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("failed to write object: %w", err)
	}
	return f.Close()
}
