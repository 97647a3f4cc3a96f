package asset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "asset:"

// RedisStore is a Store backed by Redis. Records are JSON values under
// "asset:{id}"; the provisional TTL doubles as the key's native expiration,
// so Redis evicts dead records on its own and Find only has to cover the
// window between logical and physical expiry.
type RedisStore struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedisStore creates a RedisStore on an already-connected client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, now: time.Now}
}

func redisKey(id string) string {
	return redisKeyPrefix + id
}

// Upsert writes the asset as JSON. A zero ttl persists the key without
// expiration, clearing any previous TTL.
func (s *RedisStore) Upsert(ctx context.Context, a *Asset, ttl time.Duration) (*Asset, error) {
	stored := *a
	now := s.now()
	if existing, err := s.get(ctx, a.ID); err == nil {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	if err := s.set(ctx, &stored, ttl); err != nil {
		return nil, err
	}
	return &stored, nil
}

// Find returns the record for id, evicting it when its own expiry elapsed.
func (s *RedisStore) Find(ctx context.Context, id string) (*Asset, error) {
	a, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.ExpiredAt(s.now()) {
		if err := s.Delete(ctx, id); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrAssetExpired, id)
	}
	return a, nil
}

// Delete removes the record for id; deleting an absent record is a no-op.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, redisKey(id)).Err(); err != nil {
		return fmt.Errorf("delete asset %q: %w", id, err)
	}
	return nil
}

// All scans the keyspace and returns every record. Keys that vanish between
// the scan and the read (native TTL eviction) are skipped.
func (s *RedisStore) All(ctx context.Context) ([]*Asset, error) {
	var assets []*Asset
	iter := s.rdb.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read asset %q: %w", iter.Val(), err)
		}
		a := &Asset{}
		if err := json.Unmarshal(data, a); err != nil {
			return nil, fmt.Errorf("decode asset %q: %w", iter.Val(), err)
		}
		assets = append(assets, a)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan assets: %w", err)
	}
	return assets, nil
}

// SaveDownloadURL caches a presigned download URL on the record, keeping the
// key's remaining TTL intact. Caching for an untracked id is a no-op.
func (s *RedisStore) SaveDownloadURL(ctx context.Context, id, url string, expiresAt time.Time) error {
	a, err := s.get(ctx, id)
	if errors.Is(err, ErrAssetNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	a.PresignedURL = url
	a.PresignedURLExpires = expiresAt.UnixMilli()
	a.UpdatedAt = s.now()
	return s.set(ctx, a, redis.KeepTTL)
}

// CachedDownloadURL returns the cached URL and its expiry, or empty values
// when nothing is cached.
func (s *RedisStore) CachedDownloadURL(ctx context.Context, id string) (string, time.Time, error) {
	a, err := s.get(ctx, id)
	if errors.Is(err, ErrAssetNotFound) {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, err
	}
	if a.PresignedURL == "" {
		return "", time.Time{}, nil
	}
	return a.PresignedURL, time.UnixMilli(a.PresignedURLExpires), nil
}

// EvictDownloadURL clears the cached URL, keeping the key's TTL intact.
func (s *RedisStore) EvictDownloadURL(ctx context.Context, id string) error {
	a, err := s.get(ctx, id)
	if errors.Is(err, ErrAssetNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	a.PresignedURL = ""
	a.PresignedURLExpires = 0
	return s.set(ctx, a, redis.KeepTTL)
}

func (s *RedisStore) get(ctx context.Context, id string) (*Asset, error) {
	data, err := s.rdb.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read asset %q: %w", id, err)
	}
	a := &Asset{}
	if err := json.Unmarshal(data, a); err != nil {
		return nil, fmt.Errorf("decode asset %q: %w", id, err)
	}
	return a, nil
}

func (s *RedisStore) set(ctx context.Context, a *Asset, ttl time.Duration) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode asset %q: %w", a.ID, err)
	}
	if err := s.rdb.Set(ctx, redisKey(a.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("write asset %q: %w", a.ID, err)
	}
	return nil
}
