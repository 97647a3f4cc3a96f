package asset

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/upgate/service/internal/storage"
)

const (
	// Default lifetime of a signed POST policy and of the provisional
	// verification window when no configuration overrides them.
	defaultExpirationSeconds = 300
	// Default lifetime of presigned download URLs.
	defaultDownloadExpirationSeconds = 3600
	// Smallest upper bound ever put on an upload's content-length range.
	minPolicySizeBytes = 1024
)

// Config carries the service-level defaults that upload types fall back to.
type Config struct {
	Bucket string
	Region string

	MaxSizeBytes                  int64
	ExpirationSeconds             int
	VerifyAssets                  bool
	VerifyAssetsExpirationSeconds int
	PresignedURLExpirationSeconds int

	UploadTypes map[string]UploadType
}

// Service is the asset lifecycle orchestrator. It coordinates the object
// store gateway and the metadata store; it keeps no mutable state of its own,
// so every operation is safe to invoke concurrently.
type Service struct {
	objects     storage.ObjectStorage
	store       Store // nil when no metadata store is configured
	cfg         Config
	uploadTypes map[string]UploadType

	now   func() time.Time
	newID func() string
}

// NewService creates the orchestrator. store may be nil; features that need
// it (metadata, verification, URL caching, pruning) then fail with
// ErrStoreRequired instead of degrading silently.
func NewService(objects storage.ObjectStorage, store Store, cfg Config) *Service {
	uploadTypes := cfg.UploadTypes
	if uploadTypes == nil {
		uploadTypes = map[string]UploadType{}
	}
	return &Service{
		objects:     objects,
		store:       store,
		cfg:         cfg,
		uploadTypes: uploadTypes,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// Init ensures the root bucket exists, creating it in the configured region
// when missing. Call once at startup.
func (s *Service) Init(ctx context.Context) error {
	exists, err := s.objects.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return err
	}
	if !exists {
		if err := s.objects.MakeBucket(ctx, s.cfg.Bucket, s.cfg.Region); err != nil {
			return err
		}
	}
	return nil
}

// Grant is a minted upload grant: the signed POST form fields and target URL
// the client uses to upload directly to the object store.
type Grant struct {
	ID   string            `json:"id"`
	Path string            `json:"path,omitempty"`
	Data map[string]string `json:"data"`
	URL  string            `json:"url"`
}

// IssueGrant mints a presigned upload grant for one asset. The collision
// check against the store and the bucket is best-effort: the store's own
// uniqueness constraint is the true arbiter under concurrent issuance.
func (s *Service) IssueGrant(ctx context.Context, args GrantArgs) (*Grant, error) {
	if args.FileType == "" {
		return nil, ErrMissingFileType
	}

	uploadType := args.UploadType
	if uploadType == "" {
		uploadType = DefaultUploadType
	}
	id := args.ID
	if id == "" {
		id = s.newID()
	}

	cfg, err := s.resolveUploadType(ctx, uploadType, args)
	if err != nil {
		return nil, err
	}

	path := cfg.Path
	if path == "" {
		path = ObjectPath(uploadType, id, args.Name)
	}

	metadata := mergeMetadata(args.Metadata, cfg.Metadata)
	if len(metadata) > 0 && s.store == nil {
		return nil, fmt.Errorf("attach metadata: %w", ErrStoreRequired)
	}

	verify := s.cfg.VerifyAssets
	if cfg.VerifyAssets != nil {
		verify = *cfg.VerifyAssets
	}
	if verify && s.store == nil {
		return nil, fmt.Errorf("verify assets: %w", ErrStoreRequired)
	}

	if err := s.checkCollision(ctx, id, path); err != nil {
		return nil, err
	}

	policy, err := s.objects.PresignedPostPolicy(ctx, storage.PostPolicyOptions{
		Bucket:       s.cfg.Bucket,
		Key:          path,
		ContentType:  args.FileType,
		MinSizeBytes: 1,
		MaxSizeBytes: maxSizeBytes(cfg.MaxSizeBytes, s.cfg.MaxSizeBytes),
		Expiry:       time.Duration(s.policyExpirationSeconds(cfg)) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("presign upload policy: %w", err)
	}
	if cfg.Transform != nil {
		if err := cfg.Transform(policy); err != nil {
			return nil, fmt.Errorf("transform upload policy: %w", err)
		}
	}

	if s.store != nil {
		a := &Asset{
			ID:         id,
			Bucket:     s.cfg.Bucket,
			Path:       path,
			UploadType: uploadType,
			Name:       args.Name,
			FileType:   args.FileType,
			Metadata:   metadata,
		}
		var ttl time.Duration
		if verify {
			verified := false
			a.Verified = &verified
			ttl = time.Duration(s.verifyExpirationSeconds(cfg)) * time.Second
			a.Expires = s.now().Add(ttl).UnixMilli()
		}
		if _, err := s.store.Upsert(ctx, a, ttl); err != nil {
			return nil, fmt.Errorf("persist asset record: %w", err)
		}
	}

	grant := &Grant{ID: id, Data: policy.FormData, URL: policy.URL}
	if cfg.IncludePath != nil && *cfg.IncludePath {
		grant.Path = path
	}
	return grant, nil
}

// checkCollision rejects ids that are already tracked and paths already
// occupied in the bucket. Probe errors from the object store are swallowed:
// S3-style stores signal "no such object" through errors, so only a positive
// confirmation counts as existence.
func (s *Service) checkCollision(ctx context.Context, id, path string) error {
	if s.store != nil {
		_, err := s.store.Find(ctx, id)
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s", ErrAlreadyExists, id)
		case errors.Is(err, ErrAssetNotFound), errors.Is(err, ErrAssetExpired):
			// A dead or absent record is not a collision.
		default:
			return fmt.Errorf("check asset record: %w", err)
		}
	}

	if exists, err := s.objects.ObjectExists(ctx, s.cfg.Bucket, path); err == nil && exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}
	return nil
}

// Verify confirms provisional uploads: each referenced record is marked
// verified and its provisional TTL is cleared, so the record persists
// indefinitely from then on. References are processed concurrently; one
// reference's failure does not cancel its siblings.
func (s *Service) Verify(ctx context.Context, refs []Ref) ([]*Asset, error) {
	if s.store == nil {
		return nil, fmt.Errorf("verify assets: %w", ErrStoreRequired)
	}
	return fanOut(refs, func(ref Ref) (*Asset, error) {
		id, err := refID(ref)
		if err != nil {
			return nil, err
		}
		a, err := s.store.Find(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("asset %q: %w", id, err)
		}
		verified := true
		a.Verified = &verified
		a.Expires = 0
		updated, err := s.store.Upsert(ctx, a, 0)
		if err != nil {
			return nil, fmt.Errorf("asset %q: %w", id, err)
		}
		return updated, nil
	})
}

// Access is the result of a read-access resolution: a live presigned
// download URL and, when requested by policy, the record's metadata.
type Access struct {
	ID       string            `json:"id"`
	URL      string            `json:"url"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ResolveAccess resolves presigned download URLs for the referenced assets.
// With a metadata store configured the URL is cached on the record and only
// re-minted once its expiry passes; a caller never receives an expired URL.
func (s *Service) ResolveAccess(ctx context.Context, refs []Ref) ([]*Access, error) {
	return fanOut(refs, func(ref Ref) (*Access, error) {
		return s.resolveOne(ctx, ref)
	})
}

func (s *Service) resolveOne(ctx context.Context, ref Ref) (*Access, error) {
	id, path := ref.ID, ref.Path

	var record *Asset
	if path == "" {
		if id == "" {
			return nil, errors.New("reference requires an id or a path")
		}
		if s.store == nil {
			return nil, fmt.Errorf("resolve path for %q: %w", id, ErrStoreRequired)
		}
		a, err := s.store.Find(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("asset %q: %w", id, err)
		}
		if a.Path == "" {
			return nil, fmt.Errorf("asset %q has no path: %w", id, ErrAssetNotFound)
		}
		record = a
		path = a.Path
	}
	if id == "" {
		id = IDFromPath(path)
	}

	exists, err := s.objects.ObjectExists(ctx, s.cfg.Bucket, path)
	if err == nil && !exists {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, path)
	}

	if record == nil && s.store != nil {
		if a, err := s.store.Find(ctx, id); err == nil {
			record = a
		} else if !errors.Is(err, ErrAssetNotFound) && !errors.Is(err, ErrAssetExpired) {
			return nil, fmt.Errorf("asset %q: %w", id, err)
		}
	}

	cfg, err := s.resolveUploadType(ctx, s.accessUploadType(record, path), GrantArgs{ID: id})
	if err != nil {
		return nil, err
	}

	includeMetadata := cfg.IncludeMetadata != nil && *cfg.IncludeMetadata
	if includeMetadata {
		if s.store == nil {
			return nil, fmt.Errorf("include metadata: %w", ErrStoreRequired)
		}
		if record == nil {
			return nil, fmt.Errorf("asset %q: %w", id, ErrAssetNotFound)
		}
	}

	url, err := s.downloadURL(ctx, id, path, cfg)
	if err != nil {
		return nil, fmt.Errorf("asset %q: %w", id, err)
	}

	access := &Access{ID: id, URL: url}
	if includeMetadata {
		access.Metadata = record.Metadata
	}
	return access, nil
}

// accessUploadType picks the policy name for a read: the record's own type
// when known, otherwise the path's leading segment when that names a
// registered type, otherwise the default.
func (s *Service) accessUploadType(record *Asset, path string) string {
	if record != nil && record.UploadType != "" {
		return record.UploadType
	}
	if head, _, ok := strings.Cut(strings.Trim(path, "/"), "/"); ok {
		if _, registered := s.uploadTypes[head]; registered {
			return head
		}
	}
	return DefaultUploadType
}

// downloadURL returns a live presigned GET URL, reusing the cached one while
// it is still valid and re-minting (and re-caching) it otherwise.
func (s *Service) downloadURL(ctx context.Context, id, path string, cfg UploadTypeConfig) (string, error) {
	expiry := time.Duration(s.downloadExpirationSeconds(cfg)) * time.Second

	if s.store == nil {
		return s.objects.PresignedGetURL(ctx, s.cfg.Bucket, path, expiry)
	}

	cached, expiresAt, err := s.store.CachedDownloadURL(ctx, id)
	if err != nil {
		return "", fmt.Errorf("read url cache: %w", err)
	}
	if cached != "" && expiresAt.After(s.now()) {
		return cached, nil
	}
	if cached != "" {
		if err := s.store.EvictDownloadURL(ctx, id); err != nil {
			return "", fmt.Errorf("evict stale url: %w", err)
		}
	}

	url, err := s.objects.PresignedGetURL(ctx, s.cfg.Bucket, path, expiry)
	if err != nil {
		return "", err
	}
	if err := s.store.SaveDownloadURL(ctx, id, url, s.now().Add(expiry)); err != nil {
		return "", fmt.Errorf("cache url: %w", err)
	}
	return url, nil
}

// Delete removes the referenced assets: the metadata record first (when a
// store is configured), then the object. References are processed
// concurrently and partial failures surface per reference.
func (s *Service) Delete(ctx context.Context, refs []Ref) error {
	_, err := fanOut(refs, func(ref Ref) (struct{}, error) {
		return struct{}{}, s.deleteOne(ctx, ref)
	})
	return err
}

func (s *Service) deleteOne(ctx context.Context, ref Ref) error {
	id, path := ref.ID, ref.Path
	if path == "" {
		if id == "" {
			return errors.New("reference requires an id or a path")
		}
		if s.store == nil {
			return fmt.Errorf("resolve path for %q: %w", id, ErrStoreRequired)
		}
		a, err := s.store.Find(ctx, id)
		if err != nil {
			return fmt.Errorf("asset %q: %w", id, err)
		}
		path = a.Path
	}
	if id == "" {
		id = IDFromPath(path)
	}

	if s.store != nil {
		if err := s.store.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete record %q: %w", id, err)
		}
	}
	if err := s.objects.RemoveObject(ctx, s.cfg.Bucket, path); err != nil {
		return fmt.Errorf("delete object %q: %w", path, err)
	}
	return nil
}

// PruneResult reports what a reconciliation sweep removed.
type PruneResult struct {
	RemovedObjects []string `json:"removedObjects"`
	RemovedRecords []string `json:"removedRecords"`
}

// Prune reconciles the bucket against the metadata store: it deletes every
// object with no matching record and every object whose record is still
// provisional, then the provisional records themselves. Verified records and
// records with verification not in use are never touched. Running it twice
// with no intervening grants removes nothing on the second pass.
func (s *Service) Prune(ctx context.Context) (*PruneResult, error) {
	if s.store == nil {
		return nil, fmt.Errorf("prune assets: %w", ErrStoreRequired)
	}

	objects, err := s.objects.ListObjects(ctx, s.cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("list bucket: %w", err)
	}
	records, err := s.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate records: %w", err)
	}

	byPath := make(map[string]*Asset, len(records))
	for _, a := range records {
		byPath[a.Path] = a
	}

	result := &PruneResult{}
	var errs []error
	for _, obj := range objects {
		record := byPath[obj.Key]
		if record != nil && !record.Provisional() {
			continue
		}
		// Object deletion first; an object that survives deletion keeps its
		// record so the next sweep can retry instead of orphaning it.
		if err := s.objects.RemoveObject(ctx, s.cfg.Bucket, obj.Key); err != nil {
			errs = append(errs, fmt.Errorf("remove object %q: %w", obj.Key, err))
			continue
		}
		result.RemovedObjects = append(result.RemovedObjects, obj.Key)
		if record != nil {
			if err := s.store.Delete(ctx, record.ID); err != nil {
				errs = append(errs, fmt.Errorf("remove record %q: %w", record.ID, err))
				continue
			}
			result.RemovedRecords = append(result.RemovedRecords, record.ID)
		}
	}
	return result, errors.Join(errs...)
}

func (s *Service) policyExpirationSeconds(cfg UploadTypeConfig) int {
	if cfg.ExpirationSeconds > 0 {
		return cfg.ExpirationSeconds
	}
	if s.cfg.ExpirationSeconds > 0 {
		return s.cfg.ExpirationSeconds
	}
	return defaultExpirationSeconds
}

// verifyExpirationSeconds resolves the provisional-verification TTL:
// per-type verify window, then the global one, then the type's own policy
// expiration, then the fixed default.
func (s *Service) verifyExpirationSeconds(cfg UploadTypeConfig) int {
	if cfg.VerifyAssetsExpirationSeconds > 0 {
		return cfg.VerifyAssetsExpirationSeconds
	}
	if s.cfg.VerifyAssetsExpirationSeconds > 0 {
		return s.cfg.VerifyAssetsExpirationSeconds
	}
	if cfg.ExpirationSeconds > 0 {
		return cfg.ExpirationSeconds
	}
	return defaultExpirationSeconds
}

func (s *Service) downloadExpirationSeconds(cfg UploadTypeConfig) int {
	if cfg.PresignedURLExpirationSeconds > 0 {
		return cfg.PresignedURLExpirationSeconds
	}
	if s.cfg.PresignedURLExpirationSeconds > 0 {
		return s.cfg.PresignedURLExpirationSeconds
	}
	return defaultDownloadExpirationSeconds
}

func maxSizeBytes(typeMax, globalMax int64) int64 {
	size := typeMax
	if size == 0 {
		size = globalMax
	}
	if size < minPolicySizeBytes {
		return minPolicySizeBytes
	}
	return size
}

func refID(ref Ref) (string, error) {
	if ref.ID != "" {
		return ref.ID, nil
	}
	if id := IDFromPath(ref.Path); id != "" {
		return id, nil
	}
	return "", errors.New("reference requires an id or a path")
}

// fanOut dispatches fn per reference and awaits them jointly. Failures are
// scoped to their reference: siblings run to completion and per-reference
// errors are joined into one.
func fanOut[T any](refs []Ref, fn func(Ref) (T, error)) ([]T, error) {
	results := make([]T, len(refs))
	errs := make([]error, len(refs))

	var wg sync.WaitGroup
	for i, ref := range refs {
		wg.Add(1)
		go func(i int, ref Ref) {
			defer wg.Done()
			results[i], errs[i] = fn(ref)
		}(i, ref)
	}
	wg.Wait()

	return results, errors.Join(errs...)
}
