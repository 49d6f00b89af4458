package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a key or blob id has no stored value.
	ErrNotFound = errors.New("not found")
	// ErrQuotaExceeded is returned by size-limited metadata stores when a
	// write would push them over their byte budget.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)

// MetadataStore is a small, string-only key-value store for structured
// records (subjects, concursos, stats, preferences). Callers must strip
// file payloads before saving; the store knows nothing about why.
type MetadataStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// BlobStore holds large file payloads keyed by file id. Delete of an
// absent id succeeds silently.
type BlobStore interface {
	Put(ctx context.Context, id, payload string) error
	Get(ctx context.Context, id string) (string, error)
	Delete(ctx context.Context, id string) error
	Close() error
}
