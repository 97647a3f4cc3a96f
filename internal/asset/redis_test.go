package asset

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis, *fakeClock) {
	t.Helper()

	srv, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := NewRedisStore(rdb)
	clock := newFakeClock()
	store.now = clock.Now
	return store, srv, clock
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, _, clock := newTestRedisStore(t)
	ctx := context.Background()

	verified := false
	a, err := store.Upsert(ctx, &Asset{
		ID:         "abc123",
		Bucket:     "upgate-test",
		Path:       "avatar/abc123/a.png",
		UploadType: "avatar",
		FileType:   "image/png",
		Metadata:   map[string]string{"owner": "u1"},
		Verified:   &verified,
	}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), a.CreatedAt)

	found, err := store.Find(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "avatar/abc123/a.png", found.Path)
	assert.Equal(t, map[string]string{"owner": "u1"}, found.Metadata)
	require.NotNil(t, found.Verified)
	assert.False(t, *found.Verified)
}

func TestRedisStoreFindMissing(t *testing.T) {
	store, _, _ := newTestRedisStore(t)

	_, err := store.Find(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrAssetNotFound)
}

func TestRedisStoreNativeTTL(t *testing.T) {
	store, srv, _ := newTestRedisStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, &Asset{ID: "abc123"}, time.Minute)
	require.NoError(t, err)

	srv.FastForward(2 * time.Minute)

	_, err = store.Find(ctx, "abc123")
	assert.ErrorIs(t, err, ErrAssetNotFound, "redis evicts the key natively")
}

func TestRedisStoreLogicalExpiry(t *testing.T) {
	store, _, clock := newTestRedisStore(t)
	ctx := context.Background()

	// Record whose own deadline elapses before redis would evict the key.
	verified := false
	_, err := store.Upsert(ctx, &Asset{
		ID:       "abc123",
		Verified: &verified,
		Expires:  clock.Now().Add(time.Minute).UnixMilli(),
	}, time.Hour)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)

	_, err = store.Find(ctx, "abc123")
	assert.ErrorIs(t, err, ErrAssetExpired)
	_, err = store.Find(ctx, "abc123")
	assert.ErrorIs(t, err, ErrAssetNotFound)
}

func TestRedisStoreAll(t *testing.T) {
	store, _, _ := newTestRedisStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := store.Upsert(ctx, &Asset{ID: id, Path: "default/" + id + "/f"}, 0)
		require.NoError(t, err)
	}

	assets, err := store.All(ctx)
	require.NoError(t, err)
	assert.Len(t, assets, 3)
}

func TestRedisStoreDownloadURLCacheKeepsTTL(t *testing.T) {
	store, srv, _ := newTestRedisStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, &Asset{ID: "abc123"}, time.Hour)
	require.NoError(t, err)

	expires := time.Now().Add(10 * time.Minute)
	require.NoError(t, store.SaveDownloadURL(ctx, "abc123", "http://objects.local/a", expires))

	url, expiresAt, err := store.CachedDownloadURL(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "http://objects.local/a", url)
	assert.Equal(t, expires.UnixMilli(), expiresAt.UnixMilli())
	assert.Greater(t, srv.TTL(redisKey("abc123")), time.Duration(0), "caching keeps the key's TTL")

	require.NoError(t, store.EvictDownloadURL(ctx, "abc123"))
	url, _, err = store.CachedDownloadURL(ctx, "abc123")
	require.NoError(t, err)
	assert.Empty(t, url)

	// URL cache ops on untracked ids are no-ops.
	require.NoError(t, store.SaveDownloadURL(ctx, "ghost", "http://objects.local/g", expires))
	require.NoError(t, store.EvictDownloadURL(ctx, "ghost"))
}

func TestRedisStoreVerifyClearsTTL(t *testing.T) {
	store, srv, _ := newTestRedisStore(t)
	ctx := context.Background()

	verified := false
	_, err := store.Upsert(ctx, &Asset{ID: "abc123", Verified: &verified}, time.Minute)
	require.NoError(t, err)
	assert.Greater(t, srv.TTL(redisKey("abc123")), time.Duration(0))

	trusted := true
	_, err = store.Upsert(ctx, &Asset{ID: "abc123", Verified: &trusted}, 0)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), srv.TTL(redisKey("abc123")), "a zero ttl clears the expiry")
}
