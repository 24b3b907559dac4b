// Package gcs stores assets in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/pdisakar/content-assets/pkg/contentasset"
)

// Config options for the GCS backend
type Config struct {
	Bucket string
	Prefix string // Optional key prefix inside the bucket

	// EmulatorHost points the client at a fake-gcs-server style emulator,
	// e.g. http://127.0.0.1:4443. Authentication is disabled in that mode.
	EmulatorHost string

	// CredentialsFile is an optional service account key file
	CredentialsFile string
}

// Backend is a GCS implementation of the contentasset.BlobStore interface
type Backend struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
}

// New creates a GCS backend. The client is owned by the backend; call Close.
func New(ctx context.Context, config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	var opts []option.ClientOption
	switch {
	case config.EmulatorHost != "":
		_ = os.Setenv("STORAGE_EMULATOR_HOST", strings.TrimRight(config.EmulatorHost, "/"))
		opts = append(opts, option.WithoutAuthentication())
	case config.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile), option.WithScopes(storage.ScopeReadWrite))
	default:
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &Backend{
		client: client,
		bucket: client.Bucket(config.Bucket),
		prefix: strings.TrimLeft(config.Prefix, "/"),
	}, nil
}

// Close releases the underlying client
func (b *Backend) Close() error {
	return b.client.Close()
}

func (b *Backend) object(objectKey string) *storage.ObjectHandle {
	return b.bucket.Object(b.prefix + objectKey)
}

// GetObjectMeta retrieves metadata for an object
func (b *Backend) GetObjectMeta(ctx context.Context, objectKey string) (*contentasset.ObjectMeta, error) {
	attrs, err := b.object(objectKey).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", contentasset.ErrAssetNotFound, objectKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object attributes: %w", err)
	}
	return &contentasset.ObjectMeta{
		Key:         objectKey,
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		UpdatedAt:   attrs.Updated,
		ETag:        attrs.Etag,
	}, nil
}

// UploadWithParams writes the object only if it does not exist yet
func (b *Backend) UploadWithParams(ctx context.Context, reader io.Reader, params contentasset.UploadParams) error {
	w := b.object(params.ObjectKey).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = params.MimeType
	if _, err := io.Copy(w, reader); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

// Download downloads content directly
func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	r, err := b.object(objectKey).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", contentasset.ErrAssetNotFound, objectKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read from GCS: %w", err)
	}
	return r, nil
}

// Delete deletes an object; a missing object is not an error
func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	err := b.object(objectKey).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}
	return nil
}

// List iterates every object under prefix
func (b *Backend) List(ctx context.Context, prefix string, fn func(contentasset.ObjectMeta) error) error {
	it := b.bucket.Objects(ctx, &storage.Query{Prefix: b.prefix + prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list GCS objects: %w", err)
		}
		err = fn(contentasset.ObjectMeta{
			Key:         strings.TrimPrefix(attrs.Name, b.prefix),
			Size:        attrs.Size,
			ContentType: attrs.ContentType,
			UpdatedAt:   attrs.Updated,
			ETag:        attrs.Etag,
		})
		if err != nil {
			return err
		}
	}
}
