package contentasset_test

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pdisakar/content-assets/pkg/contentasset"
	ledgermemory "github.com/pdisakar/content-assets/pkg/contentasset/ledger/memory"
	"github.com/pdisakar/content-assets/pkg/contentasset/repo/memory"
	memorystorage "github.com/pdisakar/content-assets/pkg/contentasset/storage/memory"
)

var (
	errInjected = errors.New("injected failure")

	pngHeader  = "\x89PNG\r\n\x1a\n"
	gifHeader  = "GIF89a"
	jpegHeader = "\xff\xd8\xff\xe0\x00\x10JFIF"
)

// pngData returns distinct PNG-looking bytes per seed
func pngData(seed string) []byte {
	return []byte(pngHeader + "\x00\x00\x00\x0dIHDR" + seed)
}

// pngURI builds an inline data payload the default policy accepts
func pngURI(seed string) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngData(seed))
}

func gifURI(seed string) string {
	return "data:image/gif;base64," + base64.StdEncoding.EncodeToString([]byte(gifHeader+seed))
}

// fixture wires a service to memory backends that tests can inspect and break
type fixture struct {
	svc    contentasset.Service
	repo   *faultyRepo
	blobs  *faultyBlobs
	store  *contentasset.BlobAssetStore
	ledger *ledgermemory.Ledger
	events *recordingSink
}

func newFixture(t *testing.T, opts ...contentasset.Option) *fixture {
	t.Helper()
	f := &fixture{
		repo:   &faultyRepo{Repository: memory.New()},
		blobs:  &faultyBlobs{Backend: memorystorage.New()},
		ledger: ledgermemory.New(),
		events: &recordingSink{},
	}
	f.store = contentasset.NewBlobAssetStore("memory", f.blobs, contentasset.DefaultReferencePolicy())

	base := []contentasset.Option{
		contentasset.WithRepository(f.repo),
		contentasset.WithAssetStore(f.store),
		contentasset.WithLeakLedger(f.ledger),
		contentasset.WithEventSink(f.events),
		contentasset.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	svc, err := contentasset.New(append(base, opts...)...)
	require.NoError(t, err)
	f.svc = svc
	return f
}

// storedRefs lists every reference currently in the store
func (f *fixture) storedRefs(t *testing.T) []string {
	t.Helper()
	var refs []string
	require.NoError(t, f.store.Walk(context.Background(), func(info contentasset.AssetInfo) error {
		refs = append(refs, info.Reference)
		return nil
	}))
	sort.Strings(refs)
	return refs
}

// put stores an asset directly, as a direct upload would
func (f *fixture) put(t *testing.T, seed string) string {
	t.Helper()
	ref, err := f.store.Put(context.Background(), pngData(seed), "image/png")
	require.NoError(t, err)
	return ref
}

func (f *fixture) exists(t *testing.T, ref string) bool {
	t.Helper()
	ok, err := f.store.Exists(context.Background(), ref)
	require.NoError(t, err)
	return ok
}

func (f *fixture) save(t *testing.T, entityType contentasset.EntityType, id *uuid.UUID, content contentasset.Content) *contentasset.SaveContentResult {
	t.Helper()
	res, err := f.svc.SaveContent(context.Background(), contentasset.SaveContentRequest{Type: entityType, ID: id, Content: content})
	require.NoError(t, err)
	return res
}

// faultyRepo wraps a repository with switchable failures
type faultyRepo struct {
	contentasset.Repository

	mu                sync.Mutex
	failCreate        error
	failUpdate        error
	failHardDelete    error
	failReferencedBy  error
	referencedByCalls int
}

func (r *faultyRepo) set(fn func(r *faultyRepo)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}

func (r *faultyRepo) Create(ctx context.Context, e *contentasset.Entity) error {
	r.mu.Lock()
	err := r.failCreate
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.Repository.Create(ctx, e)
}

func (r *faultyRepo) Update(ctx context.Context, e *contentasset.Entity) error {
	r.mu.Lock()
	err := r.failUpdate
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.Repository.Update(ctx, e)
}

func (r *faultyRepo) HardDelete(ctx context.Context, id uuid.UUID, version int64) error {
	r.mu.Lock()
	err := r.failHardDelete
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.Repository.HardDelete(ctx, id, version)
}

func (r *faultyRepo) ReferencedBy(ctx context.Context, refs []string, exclude uuid.UUID) ([]string, error) {
	r.mu.Lock()
	r.referencedByCalls++
	err := r.failReferencedBy
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return r.Repository.ReferencedBy(ctx, refs, exclude)
}

// faultyBlobs wraps the memory backend with upload and delete failures
type faultyBlobs struct {
	*memorystorage.Backend

	mu           sync.Mutex
	uploads      int
	failUploadAt int // 1-based; 0 disables
	failDelete   func(key string) bool
	deletes      []string
}

func (b *faultyBlobs) UploadWithParams(ctx context.Context, r io.Reader, p contentasset.UploadParams) error {
	b.mu.Lock()
	b.uploads++
	n := b.uploads
	failAt := b.failUploadAt
	b.mu.Unlock()
	if failAt > 0 && n >= failAt {
		return errInjected
	}
	return b.Backend.UploadWithParams(ctx, r, p)
}

func (b *faultyBlobs) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	b.deletes = append(b.deletes, key)
	fail := b.failDelete
	b.mu.Unlock()
	if fail != nil && fail(key) {
		return errInjected
	}
	return b.Backend.Delete(ctx, key)
}

func (b *faultyBlobs) set(fn func(b *faultyBlobs)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

func (b *faultyBlobs) deleteCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.deletes)
}

func (b *faultyBlobs) uploadCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.uploads
}

// recordingSink remembers lifecycle events
type recordingSink struct {
	contentasset.NoopEventSink

	mu        sync.Mutex
	saved     int
	trashed   int
	restored  int
	purged    int
	reclaimed []string
	failed    []contentasset.ReclaimWarning
}

func (s *recordingSink) EntitySaved(ctx context.Context, e *contentasset.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved++
	return nil
}

func (s *recordingSink) EntityTrashed(ctx context.Context, e *contentasset.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trashed++
	return nil
}

func (s *recordingSink) EntityRestored(ctx context.Context, e *contentasset.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restored++
	return nil
}

func (s *recordingSink) EntityPurged(ctx context.Context, t contentasset.EntityType, id uuid.UUID, reclaimed []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purged++
	return nil
}

func (s *recordingSink) AssetsReclaimed(ctx context.Context, t contentasset.EntityType, id uuid.UUID, refs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reclaimed = append(s.reclaimed, refs...)
	return nil
}

func (s *recordingSink) ReclaimFailed(ctx context.Context, w contentasset.ReclaimWarning) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, w)
	return nil
}

func keyOf(ref string) string {
	return strings.TrimPrefix(ref, contentasset.DefaultAssetPrefix)
}
