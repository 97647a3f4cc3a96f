// Package asset implements the asset lifecycle: minting presigned upload
// grants, tracking uploaded objects in a metadata store, resolving read
// access, and reconciling store and bucket by pruning.
package asset

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Well-known upload type used when a caller omits the type.
const DefaultUploadType = "default"

// ErrMissingFileType is returned when a grant request omits the file type.
var ErrMissingFileType = errors.New("file type is required")

// ErrUnknownUploadType is returned when a non-default upload type is not configured.
var ErrUnknownUploadType = errors.New("upload type not configured")

// ErrAlreadyExists is returned when a grant is requested for an id that is
// already tracked or whose path is already occupied in the bucket.
var ErrAlreadyExists = errors.New("asset already exists")

// ErrStoreRequired is returned when a feature that needs a metadata store
// (metadata, verification, URL caching, pruning) is used without one configured.
var ErrStoreRequired = errors.New("metadata store required")

// ErrAssetNotFound is returned when a referenced asset has no live record.
var ErrAssetNotFound = errors.New("asset not found")

// ErrAssetExpired is returned when a provisional record's verification TTL has
// elapsed. The record is deleted as a side effect of the read that detects it.
var ErrAssetExpired = errors.New("asset expired")

// ErrObjectNotFound is returned when the bucket has no object at the expected path.
var ErrObjectNotFound = errors.New("object not found")

// Asset is the durable record of one intended or completed upload.
type Asset struct {
	ID         string            `json:"id"`
	Bucket     string            `json:"bucket"`
	Path       string            `json:"path"`
	UploadType string            `json:"uploadType"`
	Name       string            `json:"name,omitempty"`
	FileType   string            `json:"fileType"`
	Metadata   map[string]string `json:"metadata,omitempty"`

	// Verified is nil when verification is not in use for this asset,
	// false while the upload is provisional, true once confirmed.
	Verified *bool `json:"verified,omitempty"`

	// Expires is the record's own absolute expiry in epoch millis
	// (the provisional-verification TTL); 0 means the record never expires.
	Expires int64 `json:"expires,omitempty"`

	// Advisory download-URL cache. Staleness is self-healing: a URL past
	// PresignedURLExpires is evicted and re-minted on the next read.
	PresignedURL        string `json:"presignedUrl,omitempty"`
	PresignedURLExpires int64  `json:"presignedUrlExpires,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Provisional reports whether the asset awaits verification.
func (a *Asset) Provisional() bool {
	return a.Verified != nil && !*a.Verified
}

// ExpiredAt reports whether the record's own expiry elapsed at the given instant.
func (a *Asset) ExpiredAt(now time.Time) bool {
	return a.Expires != 0 && a.Expires < now.UnixMilli()
}

// Store is the metadata store contract. Backends are interchangeable:
// Postgres, Redis, and an in-memory map all behave identically.
type Store interface {
	// Upsert writes the asset, stamping UpdatedAt (and CreatedAt on first
	// write). A zero ttl means the record never expires.
	Upsert(ctx context.Context, a *Asset, ttl time.Duration) (*Asset, error)
	// Find returns the record for id, ErrAssetNotFound when absent. A
	// provisional record whose TTL elapsed is deleted and reported as
	// ErrAssetExpired.
	Find(ctx context.Context, id string) (*Asset, error)
	// Delete removes the record for id. Deleting an absent record is not an error.
	Delete(ctx context.Context, id string) error
	// All enumerates every record. Used only by pruning.
	All(ctx context.Context) ([]*Asset, error)

	// Download-URL cache. SaveDownloadURL records the URL with its absolute
	// expiry, CachedDownloadURL returns it (empty when none cached), and
	// EvictDownloadURL clears it.
	SaveDownloadURL(ctx context.Context, id, url string, expiresAt time.Time) error
	CachedDownloadURL(ctx context.Context, id string) (url string, expiresAt time.Time, err error)
	EvictDownloadURL(ctx context.Context, id string) error
}

// Ref addresses an asset by id, path, or both. Path alone is enough for
// operations that do not need the record.
type Ref struct {
	ID   string `json:"id,omitempty"`
	Path string `json:"path,omitempty"`
}

// IDFromPath extracts the asset id from a conventional object path,
// {uploadType}/{id}/{name}: the id is the second-to-last segment.
func IDFromPath(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) < 2 {
		return ""
	}
	return segments[len(segments)-2]
}

// ObjectPath derives the conventional object path from its parts, skipping
// empty segments. With no name that yields {uploadType}/{id}.
func ObjectPath(uploadType, id, name string) string {
	var segments []string
	for _, s := range []string{uploadType, id, name} {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return strings.Join(segments, "/")
}
