package contentasset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pdisakar/content-assets/pkg/contentasset/objectkey"
)

// BlobAssetStore adapts a BlobStore to the AssetStore contract: it generates
// unique object keys and translates between keys and references.
type BlobAssetStore struct {
	name      string
	blobs     BlobStore
	keys      objectkey.Generator
	policy    ReferencePolicy
	extension func(contentType string) string
	now       func() time.Time
}

// BlobAssetStoreOption configures a BlobAssetStore.
type BlobAssetStoreOption func(*BlobAssetStore)

// WithKeyGenerator sets the object key generator.
func WithKeyGenerator(g objectkey.Generator) BlobAssetStoreOption {
	return func(s *BlobAssetStore) { s.keys = g }
}

// WithExtensions sets how content types map to key extensions.
func WithExtensions(fn func(contentType string) string) BlobAssetStoreOption {
	return func(s *BlobAssetStore) { s.extension = fn }
}

// NewBlobAssetStore creates an AssetStore on top of a named blob backend.
func NewBlobAssetStore(name string, blobs BlobStore, policy ReferencePolicy, opts ...BlobAssetStoreOption) *BlobAssetStore {
	s := &BlobAssetStore{
		name:   name,
		blobs:  blobs,
		keys:   objectkey.NewRecommendedGenerator(),
		policy: policy,
		extension: func(ct string) string {
			return DefaultImageTypes[ct]
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the name of the underlying blob backend.
func (s *BlobAssetStore) Backend() string {
	return s.name
}

// Put stores data under a freshly generated key.
func (s *BlobAssetStore) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	key := s.keys.GenerateKey(uuid.New(), &objectkey.KeyMetadata{
		ContentType: contentType,
		Extension:   s.extension(contentType),
		UploadedAt:  s.now(),
	})
	err := s.blobs.UploadWithParams(ctx, bytes.NewReader(data), UploadParams{
		ObjectKey: key,
		MimeType:  contentType,
		Size:      int64(len(data)),
	})
	if err != nil {
		return "", &StorageError{Backend: s.name, Key: key, Op: "put", Err: err}
	}
	return s.policy.Reference(key), nil
}

// Delete removes the asset behind reference. Absent assets are not an error.
func (s *BlobAssetStore) Delete(ctx context.Context, reference string) error {
	key, err := s.key(reference, "delete")
	if err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, key); err != nil && !errors.Is(err, ErrAssetNotFound) {
		return &StorageError{Backend: s.name, Key: key, Op: "delete", Err: err}
	}
	return nil
}

// Exists reports whether reference is stored.
func (s *BlobAssetStore) Exists(ctx context.Context, reference string) (bool, error) {
	key, err := s.key(reference, "exists")
	if err != nil {
		return false, err
	}
	_, err = s.blobs.GetObjectMeta(ctx, key)
	if errors.Is(err, ErrAssetNotFound) {
		return false, nil
	}
	if err != nil {
		return false, &StorageError{Backend: s.name, Key: key, Op: "exists", Err: err}
	}
	return true, nil
}

// Open streams the asset behind reference.
func (s *BlobAssetStore) Open(ctx context.Context, reference string) (io.ReadCloser, *ObjectMeta, error) {
	key, err := s.key(reference, "open")
	if err != nil {
		return nil, nil, err
	}
	meta, err := s.blobs.GetObjectMeta(ctx, key)
	if err != nil {
		return nil, nil, &StorageError{Backend: s.name, Key: key, Op: "open", Err: err}
	}
	rc, err := s.blobs.Download(ctx, key)
	if err != nil {
		return nil, nil, &StorageError{Backend: s.name, Key: key, Op: "open", Err: err}
	}
	return rc, meta, nil
}

// Walk calls fn for every stored asset.
func (s *BlobAssetStore) Walk(ctx context.Context, fn func(AssetInfo) error) error {
	return s.blobs.List(ctx, "", func(m ObjectMeta) error {
		return fn(AssetInfo{
			Reference:   s.policy.Reference(m.Key),
			Size:        m.Size,
			ContentType: m.ContentType,
			UpdatedAt:   m.UpdatedAt,
		})
	})
}

func (s *BlobAssetStore) key(reference, op string) (string, error) {
	key, ok := s.policy.Key(reference)
	if !ok {
		return "", &StorageError{Backend: s.name, Key: reference, Op: op, Err: fmt.Errorf("%w: %q", ErrInvalidReference, strings.TrimSpace(reference))}
	}
	return key, nil
}
