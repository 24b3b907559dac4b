package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdisakar/content-assets/pkg/contentasset"
)

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket name is required")
}

// TestBackendEmulator runs against fake-gcs-server when GCS_EMULATOR_HOST is set.
func TestBackendEmulator(t *testing.T) {
	host := strings.TrimRight(os.Getenv("GCS_EMULATOR_HOST"), "/")
	if host == "" {
		t.Skip("GCS_EMULATOR_HOST not set")
	}

	bucket := fmt.Sprintf("content-assets-%d", time.Now().UnixNano())
	createBucket(t, host, bucket)

	ctx := context.Background()
	backend, err := New(ctx, Config{Bucket: bucket, Prefix: "uploads/", EmulatorHost: host})
	require.NoError(t, err)
	defer backend.Close()

	key := "2025/03/ab/banner.png"
	data := []byte("\x89PNG\r\n\x1a\ngcs")
	require.NoError(t, backend.UploadWithParams(ctx, bytes.NewReader(data), contentasset.UploadParams{ObjectKey: key, MimeType: "image/png"}))

	meta, err := backend.GetObjectMeta(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), meta.Size)
	assert.Equal(t, "image/png", meta.ContentType)

	rc, err := backend.Download(ctx, key)
	require.NoError(t, err)
	got, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, data, got)

	var listed []string
	require.NoError(t, backend.List(ctx, "", func(m contentasset.ObjectMeta) error {
		listed = append(listed, m.Key)
		return nil
	}))
	assert.Equal(t, []string{key}, listed)

	require.NoError(t, backend.Delete(ctx, key))
	require.NoError(t, backend.Delete(ctx, key))
	_, err = backend.GetObjectMeta(ctx, key)
	assert.ErrorIs(t, err, contentasset.ErrAssetNotFound)
}

func createBucket(t *testing.T, host, name string) {
	t.Helper()
	body := strings.NewReader(fmt.Sprintf(`{"name":%q}`, name))
	resp, err := http.Post(host+"/storage/v1/b?project=test", "application/json", body)
	if err != nil {
		t.Skipf("emulator not reachable: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusConflict {
		t.Fatalf("create bucket: status %d", resp.StatusCode)
	}
}
