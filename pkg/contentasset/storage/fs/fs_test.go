package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdisakar/content-assets/pkg/contentasset"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func TestFSBackend_BasicOps(t *testing.T) {
	tmp := t.TempDir()
	backend, err := New(Config{BaseDir: tmp})
	if err != nil {
		t.Fatalf("new fs backend: %v", err)
	}

	ctx := context.Background()
	key := "2025/03/ab/banner.png"

	if err := backend.UploadWithParams(ctx, bytes.NewReader(pngHeader), contentasset.UploadParams{ObjectKey: key, MimeType: "image/png"}); err != nil {
		t.Fatalf("upload: %v", err)
	}

	meta, err := backend.GetObjectMeta(ctx, key)
	if err != nil {
		t.Fatalf("get meta: %v", err)
	}
	if meta.Size != int64(len(pngHeader)) {
		t.Fatalf("expected size %d, got %d", len(pngHeader), meta.Size)
	}
	if meta.ContentType != "image/png" {
		t.Fatalf("expected image/png, got %s", meta.ContentType)
	}

	rc, err := backend.Download(ctx, key)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	got, _ := io.ReadAll(rc)
	_ = rc.Close()
	if !bytes.Equal(got, pngHeader) {
		t.Fatalf("download mismatch: %q", string(got))
	}

	if err := backend.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmp, key)); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, stat err=%v", err)
	}
	// empty shard directories are cleaned up
	if _, err := os.Stat(filepath.Join(tmp, "2025")); !os.IsNotExist(err) {
		t.Fatalf("expected empty directories removed, stat err=%v", err)
	}
	if _, err := os.Stat(tmp); err != nil {
		t.Fatalf("base directory must survive: %v", err)
	}
}

func TestFSBackend_DeleteMissingIsNoop(t *testing.T) {
	backend, err := New(Config{BaseDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new fs backend: %v", err)
	}
	ctx := context.Background()
	if err := backend.Delete(ctx, "never/stored.png"); err != nil {
		t.Fatalf("delete of missing key: %v", err)
	}
	if err := backend.Delete(ctx, "never/stored.png"); err != nil {
		t.Fatalf("second delete of missing key: %v", err)
	}
}

func TestFSBackend_NotFound(t *testing.T) {
	backend, err := New(Config{BaseDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new fs backend: %v", err)
	}
	ctx := context.Background()
	if _, err := backend.GetObjectMeta(ctx, "missing.png"); !errors.Is(err, contentasset.ErrAssetNotFound) {
		t.Fatalf("expected ErrAssetNotFound, got %v", err)
	}
	if _, err := backend.Download(ctx, "missing.png"); !errors.Is(err, contentasset.ErrAssetNotFound) {
		t.Fatalf("expected ErrAssetNotFound, got %v", err)
	}
}

func TestFSBackend_RejectsEscapingKeys(t *testing.T) {
	tmp := t.TempDir()
	backend, err := New(Config{BaseDir: filepath.Join(tmp, "assets")})
	if err != nil {
		t.Fatalf("new fs backend: %v", err)
	}
	outside := filepath.Join(tmp, "secret.txt")
	if err := os.WriteFile(outside, []byte("keep"), 0644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	for _, key := range []string{"../secret.txt", "a/../../secret.txt", "", ".."} {
		if err := backend.Delete(ctx, key); !errors.Is(err, contentasset.ErrInvalidReference) {
			t.Errorf("Delete(%q): expected ErrInvalidReference, got %v", key, err)
		}
		err := backend.UploadWithParams(ctx, bytes.NewReader([]byte("x")), contentasset.UploadParams{ObjectKey: key})
		if !errors.Is(err, contentasset.ErrInvalidReference) {
			t.Errorf("Upload(%q): expected ErrInvalidReference, got %v", key, err)
		}
	}
	if _, err := os.Stat(outside); err != nil {
		t.Fatalf("file outside base directory was touched: %v", err)
	}
}

func TestFSBackend_List(t *testing.T) {
	backend, err := New(Config{BaseDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new fs backend: %v", err)
	}
	ctx := context.Background()
	keys := []string{"2025/01/aa/one.png", "2025/02/bb/two.png", "2024/12/cc/three.png"}
	for _, key := range keys {
		if err := backend.UploadWithParams(ctx, bytes.NewReader(pngHeader), contentasset.UploadParams{ObjectKey: key}); err != nil {
			t.Fatalf("upload %s: %v", key, err)
		}
	}

	var listed []string
	err = backend.List(ctx, "2025/", func(m contentasset.ObjectMeta) error {
		if m.UpdatedAt.IsZero() {
			t.Errorf("missing modification time for %s", m.Key)
		}
		listed = append(listed, m.Key)
		return nil
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 || listed[0] != "2025/01/aa/one.png" || listed[1] != "2025/02/bb/two.png" {
		t.Fatalf("unexpected listing %v", listed)
	}
}
