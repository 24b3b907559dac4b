package contentasset_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdisakar/content-assets/pkg/contentasset"
)

func newTestSweeper(f *fixture, now time.Time) *contentasset.Sweeper {
	return contentasset.NewSweeper(f.repo, f.store, f.ledger,
		contentasset.WithSweeperLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		contentasset.WithSweeperClock(func() time.Time { return now }),
	)
}

func TestSweeper_SweepUnreferenced(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	f.blobs.SetClock(func() time.Time { return start })
	used := f.save(t, contentasset.EntityTypeArticle, nil, contentasset.Content{
		Slots: map[string]string{"featured": pngURI("used")},
	})
	abandoned := f.put(t, "abandoned")

	f.blobs.SetClock(func() time.Time { return start.Add(47 * time.Hour) })
	fresh := f.put(t, "fresh")

	sweeper := newTestSweeper(f, start.Add(48*time.Hour))

	dry, err := sweeper.SweepUnreferenced(ctx, 24*time.Hour, true)
	require.NoError(t, err)
	assert.True(t, dry.DryRun)
	assert.Equal(t, 3, dry.Scanned)
	assert.Equal(t, 1, dry.Referenced)
	assert.Equal(t, 1, dry.TooRecent)
	assert.Equal(t, []string{abandoned}, dry.Candidates)
	assert.Empty(t, dry.Deleted)
	assert.True(t, f.exists(t, abandoned))

	report, err := sweeper.SweepUnreferenced(ctx, 24*time.Hour, false)
	require.NoError(t, err)
	assert.Equal(t, []string{abandoned}, report.Deleted)
	assert.False(t, f.exists(t, abandoned))
	assert.True(t, f.exists(t, fresh))
	assert.True(t, f.exists(t, used.Content.Slots["featured"]))

	// at the minimum grace the fresh upload is old enough
	report, err = sweeper.SweepUnreferenced(ctx, contentasset.MinSweepGrace, false)
	require.NoError(t, err)
	assert.Equal(t, []string{fresh}, report.Deleted)
}

func TestSweeper_TrashedEntitiesKeepAssets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	trashed := f.save(t, contentasset.EntityTypeBlog, nil, contentasset.Content{
		Slots: map[string]string{"featured": pngURI("trash")},
	})
	require.NoError(t, f.svc.TrashContent(ctx, contentasset.EntityTypeBlog, trashed.ID))

	report, err := newTestSweeper(f, time.Now().Add(2*time.Hour)).SweepUnreferenced(ctx, contentasset.MinSweepGrace, false)
	require.NoError(t, err)
	assert.Empty(t, report.Deleted)
	assert.Equal(t, 1, report.Referenced)
	assert.True(t, f.exists(t, trashed.Content.Slots["featured"]))
}

func TestSweeper_SweepReportsDeleteFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ref := f.put(t, "stuck")
	f.blobs.set(func(b *faultyBlobs) { b.failDelete = func(string) bool { return true } })

	report, err := newTestSweeper(f, time.Now().Add(2*time.Hour)).SweepUnreferenced(ctx, contentasset.MinSweepGrace, false)
	require.NoError(t, err)
	assert.Empty(t, report.Deleted)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, ref, report.Failed[0].Reference)
}

func TestSweeper_RetryLeaks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)

	gone := f.put(t, "gone")
	relinked := f.put(t, "relinked")
	stuck := f.put(t, "stuck")
	for i, ref := range []string{gone, relinked, stuck} {
		require.NoError(t, f.ledger.Record(ctx, contentasset.Leak{
			Reference: ref,
			EntityID:  uuid.New(),
			Attempts:  1,
			FirstSeen: now.Add(time.Duration(i) * time.Minute),
			LastSeen:  now.Add(time.Duration(i) * time.Minute),
		}))
	}

	// an editor picked the asset up again before the retry ran
	f.save(t, contentasset.EntityTypeArticle, nil, contentasset.Content{
		Slots: map[string]string{"featured": relinked},
	})
	f.blobs.set(func(b *faultyBlobs) {
		b.failDelete = func(key string) bool { return key == keyOf(stuck) }
	})

	sweeper := newTestSweeper(f, now.Add(time.Hour))
	report, err := sweeper.RetryLeaks(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Attempted)
	assert.Equal(t, []string{gone}, report.Deleted)
	assert.Equal(t, []string{relinked}, report.StillReferenced)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, stuck, report.Failed[0].Reference)

	assert.False(t, f.exists(t, gone))
	assert.True(t, f.exists(t, relinked))

	pending, err := f.ledger.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, stuck, pending[0].Reference)
	assert.Equal(t, 2, pending[0].Attempts)
	assert.Equal(t, now.Add(2*time.Minute), pending[0].FirstSeen)
	assert.Equal(t, now.Add(time.Hour), pending[0].LastSeen)
}

func TestSweeper_RetryLeaksEmptyLedger(t *testing.T) {
	f := newFixture(t)
	report, err := contentasset.NewSweeper(f.repo, f.store, nil).RetryLeaks(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, report.Attempted)
}

func TestSweeper_Run(t *testing.T) {
	f := newFixture(t)
	loose := f.put(t, "loose")
	sweeper := newTestSweeper(f, time.Now().Add(2*time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx, 10*time.Millisecond, contentasset.MinSweepGrace)
		close(done)
	}()

	assert.Eventually(t, func() bool { return !f.exists(t, loose) }, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestSweeper_RejectsShortGrace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	loose := f.put(t, "loose")
	sweeper := newTestSweeper(f, time.Now().Add(48*time.Hour))

	for _, grace := range []time.Duration{-time.Hour, 0, time.Minute, contentasset.MinSweepGrace - time.Second} {
		for _, dryRun := range []bool{true, false} {
			_, err := sweeper.SweepUnreferenced(ctx, grace, dryRun)
			assert.ErrorIs(t, err, contentasset.ErrGraceTooShort, "grace %s", grace)
		}
	}
	assert.True(t, f.exists(t, loose))

	// Run refuses to start rather than sweeping every tick with a bad grace
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx, time.Millisecond, 0)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.True(t, f.exists(t, loose))
}

// sweepingStore runs a sweep right after every Put, before the save that
// made the upload can persist its row.
type sweepingStore struct {
	*contentasset.BlobAssetStore
	sweeper *contentasset.Sweeper
	errs    []error
}

func (s *sweepingStore) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	ref, err := s.BlobAssetStore.Put(ctx, data, contentType)
	if err == nil {
		_, serr := s.sweeper.SweepUnreferenced(ctx, contentasset.MinSweepGrace, false)
		s.errs = append(s.errs, serr)
	}
	return ref, err
}

func TestSweeper_ConcurrentSaveKeepsFreshUploads(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	store := &sweepingStore{BlobAssetStore: f.store}
	store.sweeper = contentasset.NewSweeper(f.repo, store, f.ledger,
		contentasset.WithSweeperLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	svc, err := contentasset.New(
		contentasset.WithRepository(f.repo),
		contentasset.WithAssetStore(store),
		contentasset.WithLeakLedger(f.ledger),
		contentasset.WithConcurrency(1, 0, 0),
		contentasset.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)

	res, err := svc.SaveContent(ctx, contentasset.SaveContentRequest{
		Type:    contentasset.EntityTypeHomeContent,
		Content: contentasset.Content{Slots: map[string]string{"banner": pngURI("banner")}, Body: `<img src="` + pngURI("body") + `">`},
	})
	require.NoError(t, err)
	require.Len(t, store.errs, 2)
	for _, err := range store.errs {
		assert.NoError(t, err)
	}
	for _, ref := range res.Uploaded {
		assert.True(t, f.exists(t, ref), ref)
	}
}
