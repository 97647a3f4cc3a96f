package asset

import (
	"context"
	"fmt"

	"github.com/upgate/service/internal/storage"
)

// UploadTypeConfig is the effective policy for one upload type. Zero values
// mean "fall back to the service-level default".
type UploadTypeConfig struct {
	// MaxSizeBytes caps the accepted upload size.
	MaxSizeBytes int64
	// ExpirationSeconds bounds the lifetime of the signed POST policy.
	ExpirationSeconds int
	// VerifyAssets defers trust of the upload until an explicit Verify call.
	VerifyAssets *bool
	// VerifyAssetsExpirationSeconds is the provisional record's TTL.
	VerifyAssetsExpirationSeconds int
	// PresignedURLExpirationSeconds bounds the lifetime of download URLs.
	PresignedURLExpirationSeconds int
	// Path overrides the conventional {uploadType}/{id}/{name} object path.
	Path string
	// Metadata is merged over caller-supplied metadata; policy wins on conflict.
	Metadata map[string]string
	// IncludeMetadata controls whether ResolveAccess returns the record's metadata.
	IncludeMetadata *bool
	// IncludePath controls whether the grant response echoes the object path.
	IncludePath *bool
	// Transform, when set, adjusts the signed policy descriptor before it is
	// persisted and returned.
	Transform func(*storage.UploadPolicy) error
}

// GrantArgs are the caller-supplied inputs to a grant request.
type GrantArgs struct {
	ID         string            `json:"id,omitempty"`
	UploadType string            `json:"uploadType,omitempty"`
	Name       string            `json:"name,omitempty"`
	FileType   string            `json:"fileType"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// UploadType is a policy entry: either a fixed configuration or one computed
// from the grant request. Exactly one of the two is set.
type UploadType struct {
	static   *UploadTypeConfig
	computed func(ctx context.Context, args GrantArgs) (UploadTypeConfig, error)
}

// StaticType wraps a fixed configuration.
func StaticType(cfg UploadTypeConfig) UploadType {
	return UploadType{static: &cfg}
}

// ComputedType wraps a request-aware configuration function.
func ComputedType(fn func(ctx context.Context, args GrantArgs) (UploadTypeConfig, error)) UploadType {
	return UploadType{computed: fn}
}

// resolve produces the concrete configuration for this entry.
func (t UploadType) resolve(ctx context.Context, args GrantArgs) (UploadTypeConfig, error) {
	if t.computed != nil {
		return t.computed(ctx, args)
	}
	if t.static != nil {
		return *t.static, nil
	}
	return UploadTypeConfig{}, nil
}

// resolveUploadType resolves the named type against the registry and layers
// the default type's configuration under it: fields the named type leaves
// zero fall back to the default type's values. An unregistered non-default
// name fails with ErrUnknownUploadType.
func (s *Service) resolveUploadType(ctx context.Context, name string, args GrantArgs) (UploadTypeConfig, error) {
	entry, ok := s.uploadTypes[name]
	if !ok && name != DefaultUploadType {
		return UploadTypeConfig{}, fmt.Errorf("%w: %q", ErrUnknownUploadType, name)
	}

	cfg, err := entry.resolve(ctx, args)
	if err != nil {
		return UploadTypeConfig{}, fmt.Errorf("resolve upload type %q: %w", name, err)
	}

	if name != DefaultUploadType {
		if fallback, ok := s.uploadTypes[DefaultUploadType]; ok {
			base, err := fallback.resolve(ctx, args)
			if err != nil {
				return UploadTypeConfig{}, fmt.Errorf("resolve default upload type: %w", err)
			}
			cfg = mergeConfig(base, cfg)
		}
	}

	return cfg, nil
}

// mergeConfig overlays cfg on base: zero-valued fields of cfg inherit from
// base, metadata maps are merged key-wise with cfg winning on conflict.
// Field-level merging keeps the optional/required split auditable.
func mergeConfig(base, cfg UploadTypeConfig) UploadTypeConfig {
	out := cfg
	if out.MaxSizeBytes == 0 {
		out.MaxSizeBytes = base.MaxSizeBytes
	}
	if out.ExpirationSeconds == 0 {
		out.ExpirationSeconds = base.ExpirationSeconds
	}
	if out.VerifyAssets == nil {
		out.VerifyAssets = base.VerifyAssets
	}
	if out.VerifyAssetsExpirationSeconds == 0 {
		out.VerifyAssetsExpirationSeconds = base.VerifyAssetsExpirationSeconds
	}
	if out.PresignedURLExpirationSeconds == 0 {
		out.PresignedURLExpirationSeconds = base.PresignedURLExpirationSeconds
	}
	if out.IncludeMetadata == nil {
		out.IncludeMetadata = base.IncludeMetadata
	}
	if out.IncludePath == nil {
		out.IncludePath = base.IncludePath
	}
	if out.Transform == nil {
		out.Transform = base.Transform
	}
	out.Metadata = mergeMetadata(base.Metadata, cfg.Metadata)
	return out
}

// mergeMetadata merges override on top of base; override wins on key conflict.
func mergeMetadata(base, override map[string]string) map[string]string {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}
