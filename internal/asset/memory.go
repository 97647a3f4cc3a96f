package asset

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is a process-local Store for tests and single-node development.
type MemoryStore struct {
	mu     sync.RWMutex
	assets map[string]*Asset
	now    func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assets: make(map[string]*Asset),
		now:    time.Now,
	}
}

// Upsert writes the asset, stamping CreatedAt on first write and UpdatedAt on
// every write. Expiry is carried on the record itself; the ttl argument only
// matters for backends with native expiration.
func (s *MemoryStore) Upsert(_ context.Context, a *Asset, _ time.Duration) (*Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *a
	now := s.now()
	if existing, ok := s.assets[a.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	s.assets[a.ID] = &stored
	out := stored
	return &out, nil
}

// Find returns the record for id. A record whose own expiry elapsed is
// evicted and reported as expired.
func (s *MemoryStore) Find(_ context.Context, id string) (*Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	if a.ExpiredAt(s.now()) {
		delete(s.assets, id)
		return nil, fmt.Errorf("%w: %s", ErrAssetExpired, id)
	}
	out := *a
	return &out, nil
}

// Delete removes the record for id; deleting an absent record is a no-op.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assets, id)
	return nil
}

// All enumerates every record.
func (s *MemoryStore) All(_ context.Context) ([]*Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	assets := make([]*Asset, 0, len(s.assets))
	for _, a := range s.assets {
		out := *a
		assets = append(assets, &out)
	}
	return assets, nil
}

// SaveDownloadURL caches a presigned download URL on the record. Caching for
// an untracked id is a no-op.
func (s *MemoryStore) SaveDownloadURL(_ context.Context, id, url string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assets[id]
	if !ok {
		return nil
	}
	a.PresignedURL = url
	a.PresignedURLExpires = expiresAt.UnixMilli()
	a.UpdatedAt = s.now()
	return nil
}

// CachedDownloadURL returns the cached URL and its expiry, or empty values
// when nothing is cached.
func (s *MemoryStore) CachedDownloadURL(_ context.Context, id string) (string, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assets[id]
	if !ok || a.PresignedURL == "" {
		return "", time.Time{}, nil
	}
	return a.PresignedURL, time.UnixMilli(a.PresignedURLExpires), nil
}

// EvictDownloadURL clears the cached URL.
func (s *MemoryStore) EvictDownloadURL(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.assets[id]; ok {
		a.PresignedURL = ""
		a.PresignedURLExpires = 0
	}
	return nil
}
