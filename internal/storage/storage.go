// Package storage defines the interface for object storage operations.
// Implementations are swapped by changing the concrete type injected at
// startup; the MinIO implementation works with any S3-compatible provider.
package storage

import (
	"context"
	"time"
)

// PostPolicyOptions describes the constraints baked into a presigned POST policy.
type PostPolicyOptions struct {
	Bucket      string
	Key         string
	ContentType string
	// Accepted object size range in bytes, enforced by the store at upload time.
	MinSizeBytes int64
	MaxSizeBytes int64
	Expiry       time.Duration
}

// UploadPolicy is a signed POST policy: the form fields a client must submit
// together with the file, and the URL to POST them to.
type UploadPolicy struct {
	URL      string            `json:"url"`
	FormData map[string]string `json:"formData"`
}

// ObjectInfo describes one object in a bucket listing.
type ObjectInfo struct {
	Key  string
	Size int64
}

// ObjectStorage is the interface for the object store gateway.
type ObjectStorage interface {
	// BucketExists reports whether the bucket exists.
	BucketExists(ctx context.Context, bucket string) (bool, error)
	// MakeBucket creates the bucket in the given region.
	MakeBucket(ctx context.Context, bucket, region string) error
	// ObjectExists probes for an object at key. Only a positive confirmation
	// means the object exists; "not found" is reported as (false, nil).
	ObjectExists(ctx context.Context, bucket, key string) (bool, error)
	// PresignedPostPolicy signs a POST policy authorizing a direct
	// client-to-store upload under the given constraints.
	PresignedPostPolicy(ctx context.Context, opts PostPolicyOptions) (*UploadPolicy, error)
	// PresignedGetURL signs a time-limited download URL for the object at key.
	PresignedGetURL(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)
	// ListObjects enumerates every object in the bucket.
	ListObjects(ctx context.Context, bucket string) ([]ObjectInfo, error)
	// RemoveObject deletes the object at key.
	RemoveObject(ctx context.Context, bucket, key string) error
}
