package memory_test

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdisakar/content-assets/pkg/contentasset"
	memorystorage "github.com/pdisakar/content-assets/pkg/contentasset/storage/memory"
)

func TestMemoryBackend(t *testing.T) {
	backend := memorystorage.New()
	ctx := context.Background()
	testKey := "2025/03/ab/banner.png"
	testData := "fake png bytes"

	t.Run("UploadWithParams", func(t *testing.T) {
		err := backend.UploadWithParams(ctx, strings.NewReader(testData), contentasset.UploadParams{
			ObjectKey: testKey,
			MimeType:  "image/png",
		})
		assert.NoError(t, err)
	})

	t.Run("GetObjectMeta", func(t *testing.T) {
		meta, err := backend.GetObjectMeta(ctx, testKey)
		require.NoError(t, err)
		assert.Equal(t, testKey, meta.Key)
		assert.Equal(t, int64(len(testData)), meta.Size)
		assert.Equal(t, "image/png", meta.ContentType)
		assert.False(t, meta.UpdatedAt.IsZero())
	})

	t.Run("Download", func(t *testing.T) {
		reader, err := backend.Download(ctx, testKey)
		require.NoError(t, err)
		defer reader.Close()

		data, err := io.ReadAll(reader)
		assert.NoError(t, err)
		assert.Equal(t, testData, string(data))
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		require.NoError(t, backend.Delete(ctx, testKey))
		require.NoError(t, backend.Delete(ctx, testKey))
		require.NoError(t, backend.Delete(ctx, "never/stored.png"))

		_, err := backend.GetObjectMeta(ctx, testKey)
		assert.ErrorIs(t, err, contentasset.ErrAssetNotFound)
	})

	t.Run("ErrorCases", func(t *testing.T) {
		reader, err := backend.Download(ctx, "nonexistent/key")
		assert.ErrorIs(t, err, contentasset.ErrAssetNotFound)
		assert.Nil(t, reader)
	})
}

func TestMemoryBackendList(t *testing.T) {
	backend := memorystorage.New()
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	backend.SetClock(func() time.Time { return fixed })
	ctx := context.Background()

	for _, key := range []string{"2025/01/b.png", "2025/01/a.png", "2024/12/c.png"} {
		require.NoError(t, backend.UploadWithParams(ctx, strings.NewReader(key), contentasset.UploadParams{ObjectKey: key, MimeType: "image/png"}))
	}

	var listed []string
	err := backend.List(ctx, "2025/", func(m contentasset.ObjectMeta) error {
		assert.Equal(t, fixed, m.UpdatedAt)
		listed = append(listed, m.Key)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2025/01/a.png", "2025/01/b.png"}, listed)
	assert.Equal(t, []string{"2024/12/c.png", "2025/01/a.png", "2025/01/b.png"}, backend.Keys())

	stop := fmt.Errorf("stop")
	err = backend.List(ctx, "", func(contentasset.ObjectMeta) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestMemoryBackendConcurrency(t *testing.T) {
	backend := memorystorage.New()
	ctx := context.Background()

	const numGoroutines = 10
	const numOperations = 100

	done := make(chan bool, numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(goroutineID int) {
			defer func() { done <- true }()

			for j := 0; j < numOperations; j++ {
				key := fmt.Sprintf("concurrent/%d/%d.png", goroutineID, j)
				data := fmt.Sprintf("data %d %d", goroutineID, j)

				assert.NoError(t, backend.UploadWithParams(ctx, strings.NewReader(data), contentasset.UploadParams{ObjectKey: key}))

				rc, err := backend.Download(ctx, key)
				if assert.NoError(t, err) {
					got, _ := io.ReadAll(rc)
					rc.Close()
					assert.Equal(t, data, string(got))
				}

				assert.NoError(t, backend.Delete(ctx, key))
			}
		}(i)
	}
	for i := 0; i < numGoroutines; i++ {
		<-done
	}
	assert.Empty(t, backend.Keys())
}
