package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/vortex-ai/feedback-engine/pkg/logger"
)

// Store holds opaque artifacts such as training datasets. Keys may contain
// slashes to form a directory-like hierarchy.
type Store interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// FileStore keeps blobs on the local filesystem under a root directory.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}

	logger.Debug("Blob stored", zap.String("key", key), zap.Int("bytes", len(data)))
	return path, nil
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	path := filepath.Join(s.root, filepath.FromSlash(key))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}
