package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
)

// FileMetadataStore keeps each record in its own file under dir. It
// enforces the same byte quota as the in-memory store so quota handling
// behaves identically across backends.
type FileMetadataStore struct {
	mu    sync.Mutex
	dir   string
	quota int
}

func NewFileMetadataStore(dir string, quotaBytes int) (*FileMetadataStore, error) {
	if quotaBytes <= 0 {
		quotaBytes = DefaultMetadataQuota
	}
	// Idempotent: creating an existing directory is a no-op.
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating metadata directory: %w", err)
	}
	return &FileMetadataStore{dir: dir, quota: quotaBytes}, nil
}

func (s *FileMetadataStore) path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key))
}

func (s *FileMetadataStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("error reading metadata %q: %w", key, err)
	}
	return string(data), nil
}

func (s *FileMetadataStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	used, err := s.usedExcept(key)
	if err != nil {
		return err
	}
	if used+len(value) > s.quota {
		return ErrQuotaExceeded
	}
	if err := os.WriteFile(s.path(key), []byte(value), 0o644); err != nil {
		return fmt.Errorf("error writing metadata %q: %w", key, err)
	}
	return nil
}

func (s *FileMetadataStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("error deleting metadata %q: %w", key, err)
	}
	return nil
}

func (s *FileMetadataStore) Close() error {
	return nil
}

// usedExcept sums the sizes of all stored records other than key.
func (s *FileMetadataStore) usedExcept(key string) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("error scanning metadata directory: %w", err)
	}
	skip := url.PathEscape(key)
	used := 0
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == skip {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		used += int(info.Size())
	}
	return used, nil
}

// FileBlobStore keeps one file per blob id under dir.
type FileBlobStore struct {
	dir string
}

func NewFileBlobStore(dir string) (*FileBlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating blob directory: %w", err)
	}
	return &FileBlobStore{dir: dir}, nil
}

func (s *FileBlobStore) path(id string) string {
	return filepath.Join(s.dir, url.PathEscape(id))
}

func (s *FileBlobStore) Put(ctx context.Context, id, payload string) error {
	if err := os.WriteFile(s.path(id), []byte(payload), 0o644); err != nil {
		return fmt.Errorf("error writing blob %q: %w", id, err)
	}
	return nil
}

func (s *FileBlobStore) Get(ctx context.Context, id string) (string, error) {
	data, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("error reading blob %q: %w", id, err)
	}
	return string(data), nil
}

func (s *FileBlobStore) Delete(ctx context.Context, id string) error {
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("error deleting blob %q: %w", id, err)
	}
	return nil
}

func (s *FileBlobStore) Close() error {
	return nil
}
