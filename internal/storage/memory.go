package storage

import (
	"context"
	"sync"
)

// DefaultMetadataQuota mirrors the ~5MB budget browsers give localStorage.
const DefaultMetadataQuota = 5 << 20

type MemoryMetadataStore struct {
	mu    sync.RWMutex
	items map[string]string
	quota int
	used  int
}

// NewMemoryMetadataStore creates an in-memory metadata store. quotaBytes
// caps the total size of stored keys and values; zero or negative selects
// DefaultMetadataQuota.
func NewMemoryMetadataStore(quotaBytes int) *MemoryMetadataStore {
	if quotaBytes <= 0 {
		quotaBytes = DefaultMetadataQuota
	}
	return &MemoryMetadataStore{
		items: make(map[string]string),
		quota: quotaBytes,
	}
}

func (s *MemoryMetadataStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, exists := s.items[key]
	if !exists {
		return "", ErrNotFound
	}
	return value, nil
}

func (s *MemoryMetadataStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	used := s.used
	if old, exists := s.items[key]; exists {
		used -= len(key) + len(old)
	}
	used += len(key) + len(value)
	if used > s.quota {
		return ErrQuotaExceeded
	}

	s.items[key] = value
	s.used = used
	return nil
}

func (s *MemoryMetadataStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, exists := s.items[key]; exists {
		s.used -= len(key) + len(old)
		delete(s.items, key)
	}
	return nil
}

func (s *MemoryMetadataStore) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string]string
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string]string)}
}

func (s *MemoryBlobStore) Put(ctx context.Context, id, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blobs[id] = payload
	return nil
}

func (s *MemoryBlobStore) Get(ctx context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payload, exists := s.blobs[id]
	if !exists {
		return "", ErrNotFound
	}
	return payload, nil
}

func (s *MemoryBlobStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.blobs, id)
	return nil
}

func (s *MemoryBlobStore) Close() error {
	return nil
}
