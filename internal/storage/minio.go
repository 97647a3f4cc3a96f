package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStorage implements ObjectStorage using a MinIO (or any S3-compatible)
// backend. Switching to AWS S3 or another provider only takes a different
// STORAGE_ENDPOINT and credentials.
type MinioStorage struct {
	client *minio.Client
}

// NewMinioStorage creates a MinIO client and returns a ready-to-use MinioStorage.
// Bucket bootstrap is the orchestrator's job (Init), not the client's.
func NewMinioStorage(endpoint, accessKey, secretKey string, useSSL bool) (*MinioStorage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioStorage{client: client}, nil
}

// BucketExists reports whether the bucket exists.
func (s *MinioStorage) BucketExists(ctx context.Context, bucket string) (bool, error) {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return false, fmt.Errorf("check bucket existence: %w", err)
	}
	return exists, nil
}

// MakeBucket creates the bucket in the given region.
func (s *MinioStorage) MakeBucket(ctx context.Context, bucket, region string) error {
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("create bucket %q: %w", bucket, err)
	}
	return nil
}

// ObjectExists probes for an object with a HEAD request. S3 signals "no such
// object" through an error, so any stat failure is reported as absence.
func (s *MinioStorage) ObjectExists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return false, nil
	}
	return true, nil
}

// PresignedPostPolicy signs a POST policy for a direct client upload.
func (s *MinioStorage) PresignedPostPolicy(ctx context.Context, opts PostPolicyOptions) (*UploadPolicy, error) {
	policy := minio.NewPostPolicy()
	if err := policy.SetBucket(opts.Bucket); err != nil {
		return nil, fmt.Errorf("set policy bucket: %w", err)
	}
	if err := policy.SetKey(opts.Key); err != nil {
		return nil, fmt.Errorf("set policy key: %w", err)
	}
	if opts.ContentType != "" {
		if err := policy.SetContentType(opts.ContentType); err != nil {
			return nil, fmt.Errorf("set policy content type: %w", err)
		}
	}
	if err := policy.SetContentLengthRange(opts.MinSizeBytes, opts.MaxSizeBytes); err != nil {
		return nil, fmt.Errorf("set policy length range: %w", err)
	}
	if err := policy.SetExpires(time.Now().UTC().Add(opts.Expiry)); err != nil {
		return nil, fmt.Errorf("set policy expiry: %w", err)
	}

	u, formData, err := s.client.PresignedPostPolicy(ctx, policy)
	if err != nil {
		return nil, fmt.Errorf("presign post policy: %w", err)
	}
	return &UploadPolicy{URL: u.String(), FormData: formData}, nil
}

// PresignedGetURL signs a time-limited download URL for the object at key.
func (s *MinioStorage) PresignedGetURL(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign get %q: %w", key, err)
	}
	return u.String(), nil
}

// ListObjects enumerates every object in the bucket into a finite slice.
// Pruning needs the whole listing before deciding candidates, so the
// paginated stream is drained eagerly.
func (s *MinioStorage) ListObjects(ctx context.Context, bucket string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects in %q: %w", bucket, obj.Err)
		}
		objects = append(objects, ObjectInfo{Key: obj.Key, Size: obj.Size})
	}
	return objects, nil
}

// RemoveObject deletes the object at key from the bucket.
func (s *MinioStorage) RemoveObject(ctx context.Context, bucket, key string) error {
	if err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %q: %w", key, err)
	}
	return nil
}
