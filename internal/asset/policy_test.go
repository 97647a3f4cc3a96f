package asset

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveUploadTypeUnknown(t *testing.T) {
	svc, _, _ := newTestService(nil, Config{})

	_, err := svc.resolveUploadType(context.Background(), "mystery", GrantArgs{})
	assert.ErrorIs(t, err, ErrUnknownUploadType)
}

func TestResolveUploadTypeDefaultUnregistered(t *testing.T) {
	svc, _, _ := newTestService(nil, Config{})

	cfg, err := svc.resolveUploadType(context.Background(), DefaultUploadType, GrantArgs{})
	require.NoError(t, err)
	assert.Zero(t, cfg.MaxSizeBytes, "an unregistered default type resolves to the zero config")
}

func TestResolveUploadTypeFallsBackToDefault(t *testing.T) {
	svc, _, _ := newTestService(nil, Config{
		UploadTypes: map[string]UploadType{
			DefaultUploadType: StaticType(UploadTypeConfig{
				MaxSizeBytes:      1 << 20,
				ExpirationSeconds: 120,
				Metadata:          map[string]string{"tier": "standard", "source": "api"},
			}),
			"avatar": StaticType(UploadTypeConfig{
				ExpirationSeconds: 30,
				Metadata:          map[string]string{"tier": "image"},
			}),
		},
	})

	cfg, err := svc.resolveUploadType(context.Background(), "avatar", GrantArgs{})
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), cfg.MaxSizeBytes, "unset fields inherit from the default type")
	assert.Equal(t, 30, cfg.ExpirationSeconds, "set fields keep the named type's value")
	assert.Equal(t, "image", cfg.Metadata["tier"], "named type wins metadata conflicts")
	assert.Equal(t, "api", cfg.Metadata["source"])
}

func TestComputedUploadType(t *testing.T) {
	svc, _, _ := newTestService(nil, Config{
		UploadTypes: map[string]UploadType{
			"scoped": ComputedType(func(_ context.Context, args GrantArgs) (UploadTypeConfig, error) {
				return UploadTypeConfig{Path: "tenants/" + args.Metadata["tenant"] + "/" + args.ID}, nil
			}),
		},
	})

	cfg, err := svc.resolveUploadType(context.Background(), "scoped", GrantArgs{
		ID:       "abc123",
		Metadata: map[string]string{"tenant": "acme"},
	})
	require.NoError(t, err)
	assert.Equal(t, "tenants/acme/abc123", cfg.Path)
}

func TestMergeMetadata(t *testing.T) {
	assert.Nil(t, mergeMetadata(nil, nil))
	assert.Equal(t, map[string]string{"a": "1"}, mergeMetadata(map[string]string{"a": "1"}, nil))
	assert.Equal(t,
		map[string]string{"a": "2", "b": "3"},
		mergeMetadata(map[string]string{"a": "1"}, map[string]string{"a": "2", "b": "3"}),
	)
}

func TestObjectPath(t *testing.T) {
	assert.Equal(t, "avatar/abc123/a.png", ObjectPath("avatar", "abc123", "a.png"))
	assert.Equal(t, "avatar/abc123", ObjectPath("avatar", "abc123", ""))
	assert.Equal(t, "abc123", ObjectPath("", "abc123", ""))
}

func TestIDFromPath(t *testing.T) {
	assert.Equal(t, "abc123", IDFromPath("avatar/abc123/a.png"))
	assert.Equal(t, "abc123", IDFromPath("/avatar/abc123/a.png"))
	assert.Equal(t, "avatar", IDFromPath("avatar/abc123"))
	assert.Equal(t, "", IDFromPath("abc123"))
}
