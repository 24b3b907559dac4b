// Package cache decorates a BlobStore with a Redis cache of object metadata.
//
// Reference verification and the shared-reference sweep ask the store whether
// an asset exists far more often than they read it. Only metadata is cached;
// blob bytes always come from the backend.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"

	"github.com/pdisakar/content-assets/pkg/contentasset"
)

// DefaultTTL bounds how long a cached entry can outlive its object when an
// invalidation is lost.
const DefaultTTL = 10 * time.Minute

// Config configures the Redis connection
type Config struct {
	RedisURL  string        // redis://<user>:<password>@<host>:<port>/<db>
	TTL       time.Duration // cache entry lifetime
	KeyPrefix string        // defaults to "ca:meta:"
}

// Store is a contentasset.BlobStore that caches GetObjectMeta results
type Store struct {
	backend contentasset.BlobStore
	client  *redis.Client
	ttl     time.Duration
	prefix  string
	owned   bool
	logger  *slog.Logger
}

type cachedMeta struct {
	Size        int64     `cbor:"1,keyasint"`
	ContentType string    `cbor:"2,keyasint,omitempty"`
	UpdatedAt   time.Time `cbor:"3,keyasint"`
	ETag        string    `cbor:"4,keyasint,omitempty"`
}

var encMode, _ = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()

// New connects to Redis and wraps backend
func New(backend contentasset.BlobStore, cfg Config) (*Store, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := NewWithClient(backend, client, cfg.TTL, cfg.KeyPrefix)
	s.owned = true
	return s, nil
}

// NewWithClient wraps backend using an existing client, which the caller keeps owning
func NewWithClient(backend contentasset.BlobStore, client *redis.Client, ttl time.Duration, keyPrefix string) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if keyPrefix == "" {
		keyPrefix = "ca:meta:"
	}
	return &Store{
		backend: backend,
		client:  client,
		ttl:     ttl,
		prefix:  keyPrefix,
		logger:  slog.Default(),
	}
}

// Close closes the Redis client if the store created it
func (s *Store) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}

func (s *Store) cacheKey(objectKey string) string {
	return s.prefix + objectKey
}

// GetObjectMeta serves from Redis when possible. Redis failures fall back to
// the backend.
func (s *Store) GetObjectMeta(ctx context.Context, objectKey string) (*contentasset.ObjectMeta, error) {
	key := s.cacheKey(objectKey)

	raw, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var m cachedMeta
		if derr := cbor.Unmarshal(raw, &m); derr == nil {
			return &contentasset.ObjectMeta{
				Key:         objectKey,
				Size:        m.Size,
				ContentType: m.ContentType,
				UpdatedAt:   m.UpdatedAt,
				ETag:        m.ETag,
			}, nil
		}
	case !errors.Is(err, redis.Nil):
		s.logger.WarnContext(ctx, "redis cache unavailable, reading backend", "key", objectKey, "err", err)
	}

	meta, err := s.backend.GetObjectMeta(ctx, objectKey)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, meta)
	return meta, nil
}

// UploadWithParams writes through to the backend, then caches the new object
func (s *Store) UploadWithParams(ctx context.Context, reader io.Reader, params contentasset.UploadParams) error {
	if err := s.backend.UploadWithParams(ctx, reader, params); err != nil {
		return err
	}
	s.fill(ctx, &contentasset.ObjectMeta{
		Key:         params.ObjectKey,
		Size:        params.Size,
		ContentType: params.MimeType,
		UpdatedAt:   time.Now().UTC(),
	})
	return nil
}

// Download is not cached
func (s *Store) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	return s.backend.Download(ctx, objectKey)
}

// Delete invalidates the cache entry before and after deleting the object.
// If the first invalidation fails the object is kept, so the cache never
// claims a deleted asset exists for longer than a racing fill.
func (s *Store) Delete(ctx context.Context, objectKey string) error {
	key := s.cacheKey(objectKey)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("invalidate cache: %w", err)
	}
	if err := s.backend.Delete(ctx, objectKey); err != nil {
		return err
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate cache after delete", "key", objectKey, "err", err)
	}
	return nil
}

// List is not cached
func (s *Store) List(ctx context.Context, prefix string, fn func(contentasset.ObjectMeta) error) error {
	return s.backend.List(ctx, prefix, fn)
}

func (s *Store) fill(ctx context.Context, meta *contentasset.ObjectMeta) {
	raw, err := encMode.Marshal(cachedMeta{
		Size:        meta.Size,
		ContentType: meta.ContentType,
		UpdatedAt:   meta.UpdatedAt,
		ETag:        meta.ETag,
	})
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, s.cacheKey(meta.Key), raw, s.ttl).Err(); err != nil {
		s.logger.WarnContext(ctx, "failed to fill redis cache", "key", meta.Key, "err", err)
	}
}
