package contentasset_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdisakar/content-assets/pkg/contentasset"
	"github.com/pdisakar/content-assets/pkg/contentasset/repo/memory"
	memorystorage "github.com/pdisakar/content-assets/pkg/contentasset/storage/memory"
)

func TestServiceCreation(t *testing.T) {
	repo := memory.New()
	store := contentasset.NewBlobAssetStore("memory", memorystorage.New(), contentasset.DefaultReferencePolicy())

	tests := []struct {
		name    string
		options []contentasset.Option
		wantErr string
	}{
		{
			name:    "missing repository",
			options: []contentasset.Option{contentasset.WithAssetStore(store)},
			wantErr: "repository is required",
		},
		{
			name:    "missing asset store",
			options: []contentasset.Option{contentasset.WithRepository(repo)},
			wantErr: "asset store is required",
		},
		{
			name: "minimal",
			options: []contentasset.Option{
				contentasset.WithRepository(repo),
				contentasset.WithAssetStore(store),
			},
		},
		{
			name: "fully configured",
			options: []contentasset.Option{
				contentasset.WithRepository(repo),
				contentasset.WithAssetStore(store),
				contentasset.WithEventSink(contentasset.NewNoopEventSink()),
				contentasset.WithHooks(&contentasset.Hooks{}),
				contentasset.WithKinds(contentasset.DefaultKinds()...),
				contentasset.WithConcurrency(2, 2, 2),
				contentasset.WithReclaimTimeout(time.Second),
				contentasset.WithPayloadPolicy(contentasset.DefaultPayloadPolicy()),
				contentasset.WithReferencePolicy(contentasset.DefaultReferencePolicy()),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := contentasset.New(tt.options...)
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
				assert.Nil(t, svc)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, svc.Kinds())
		})
	}
}

func TestSaveContent_CreateUploadsInlinePayloads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.save(t, contentasset.EntityTypeHomeContent, nil, contentasset.Content{
		Slots: map[string]string{"banner": pngURI("banner")},
		Body:  `<p>Welcome</p><img src="` + pngURI("body") + `" alt="peak">`,
	})

	require.Len(t, res.Uploaded, 2)
	assert.Empty(t, res.Orphaned)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, int64(1), res.Version)

	assert.True(t, strings.HasPrefix(res.Content.Slots["banner"], "/uploads/"))
	assert.NotContains(t, res.Content.Body, "data:")
	assert.Contains(t, res.Content.Body, `alt="peak"`)
	assert.ElementsMatch(t, res.Uploaded, f.storedRefs(t))

	stored, err := f.svc.GetContent(ctx, contentasset.EntityTypeHomeContent, res.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, res.Uploaded, stored.References)
	assert.Equal(t, contentasset.StateActive, stored.State())
	assert.Equal(t, 1, f.events.saved)
}

func TestSaveContent_EditReclaimsOrphans(t *testing.T) {
	f := newFixture(t)

	created := f.save(t, contentasset.EntityTypeArticle, nil, contentasset.Content{
		Slots: map[string]string{"featured": pngURI("x"), "banner": pngURI("y")},
	})
	x, y := created.Content.Slots["featured"], created.Content.Slots["banner"]

	edited := f.save(t, contentasset.EntityTypeArticle, &created.ID, contentasset.Content{
		Slots: map[string]string{"featured": pngURI("z")},
	})

	require.Len(t, edited.Uploaded, 1)
	z := edited.Uploaded[0]
	assert.Equal(t, z, edited.Content.Slots["featured"])

	want := []string{x, y}
	if y < x {
		want = []string{y, x}
	}
	assert.Equal(t, want, edited.Orphaned)
	assert.Equal(t, want, edited.Reclaimed)
	assert.Equal(t, int64(2), edited.Version)
	assert.Equal(t, []string{z}, f.storedRefs(t))
	assert.ElementsMatch(t, want, f.events.reclaimed)
}

func TestSaveContent_UnchangedEditDeletesNothing(t *testing.T) {
	f := newFixture(t)

	created := f.save(t, contentasset.EntityTypeBlog, nil, contentasset.Content{
		Slots: map[string]string{"featured": pngURI("keep")},
		Body:  `<p>Trip report</p>`,
	})
	deletes := f.blobs.deleteCount()

	edited := f.save(t, contentasset.EntityTypeBlog, &created.ID, created.Content)
	assert.Empty(t, edited.Uploaded)
	assert.Empty(t, edited.Orphaned)
	assert.Equal(t, deletes, f.blobs.deleteCount())
	assert.Equal(t, created.Uploaded, f.storedRefs(t))
}

func TestSaveContent_IdenticalPayloadsUploadOnce(t *testing.T) {
	f := newFixture(t)
	payload := pngURI("same")

	res := f.save(t, contentasset.EntityTypeArticle, nil, contentasset.Content{
		Slots: map[string]string{"featured": payload, "banner": payload},
		Body:  `<img src="` + payload + `">`,
	})

	require.Len(t, res.Uploaded, 1)
	assert.Equal(t, 1, f.blobs.uploadCount())
	assert.Equal(t, res.Uploaded[0], res.Content.Slots["featured"])
	assert.Equal(t, res.Uploaded[0], res.Content.Slots["banner"])
	assert.Contains(t, res.Content.Body, res.Uploaded[0])
}

func TestSaveContent_PackageGallery(t *testing.T) {
	f := newFixture(t)

	created := f.save(t, contentasset.EntityTypePackage, nil, contentasset.Content{
		Slots:     map[string]string{"trip_map": pngURI("map")},
		Galleries: map[string][]string{"gallery": {pngURI("g1"), gifURI("g2"), "https://cdn.example.com/g3.jpg"}},
	})
	require.Len(t, created.Uploaded, 3)
	gallery := created.Content.Galleries["gallery"]
	require.Len(t, gallery, 3)
	assert.Equal(t, "https://cdn.example.com/g3.jpg", gallery[2])
	assert.True(t, strings.HasSuffix(gallery[1], ".gif"))

	edited := f.save(t, contentasset.EntityTypePackage, &created.ID, contentasset.Content{
		Slots:     created.Content.Slots,
		Galleries: map[string][]string{"gallery": {gallery[1]}},
	})
	assert.Equal(t, []string{gallery[0]}, edited.Reclaimed)
	assert.False(t, f.exists(t, gallery[0]))
	assert.True(t, f.exists(t, gallery[1]))
}

func TestSaveContent_SharedReferenceIsKept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.save(t, contentasset.EntityTypeArticle, nil, contentasset.Content{
		Slots: map[string]string{"featured": pngURI("shared")},
	})
	shared := a.Content.Slots["featured"]

	b := f.save(t, contentasset.EntityTypeBlog, nil, contentasset.Content{
		Slots: map[string]string{"banner": shared},
	})
	assert.Empty(t, b.Uploaded)

	edited := f.save(t, contentasset.EntityTypeArticle, &a.ID, contentasset.Content{Body: "<p>no images</p>"})
	assert.Equal(t, []string{shared}, edited.Orphaned)
	assert.Empty(t, edited.Reclaimed)
	assert.True(t, f.exists(t, shared))
	assert.Equal(t, 1, f.repo.referencedByCalls)

	require.NoError(t, f.svc.TrashContent(ctx, contentasset.EntityTypeBlog, b.ID))
	purged, err := f.svc.PermanentlyDeleteContent(ctx, contentasset.EntityTypeBlog, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{shared}, purged.Reclaimed)
	assert.False(t, f.exists(t, shared))
}

func TestSaveContent_UploadFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.save(t, contentasset.EntityTypeArticle, nil, contentasset.Content{
		Slots: map[string]string{"featured": pngURI("x")},
	})
	before := f.storedRefs(t)
	n := f.blobs.uploadCount()
	f.blobs.set(func(b *faultyBlobs) { b.failUploadAt = n + 2 })

	_, err := f.svc.SaveContent(ctx, contentasset.SaveContentRequest{
		Type: contentasset.EntityTypeArticle,
		ID:   &created.ID,
		Content: contentasset.Content{
			Slots: map[string]string{"featured": pngURI("a"), "banner": pngURI("b")},
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, contentasset.ErrUploadFailed)
	assert.ErrorIs(t, err, errInjected)

	var uploadErr *contentasset.UploadError
	require.ErrorAs(t, err, &uploadErr)
	assert.True(t, strings.HasPrefix(uploadErr.Location, "slots."))

	assert.Equal(t, before, f.storedRefs(t))
	stored, err := f.svc.GetContent(ctx, contentasset.EntityTypeArticle, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Content, stored.Content)
	assert.Equal(t, int64(1), stored.Version)
}

func TestSaveContent_InvalidPayloadUploadsNothing(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{name: "bad base64", value: "data:image/png;base64,!!!not-base64!!!"},
		{name: "not base64 encoded", value: "data:image/png,rawbytes"},
		{name: "declared type mismatch", value: "data:image/jpeg;base64," + strings.TrimPrefix(pngURI("p"), "data:image/png;base64,")},
		{name: "not an image", value: "data:text/plain;base64,aGVsbG8="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.SaveContent(context.Background(), contentasset.SaveContentRequest{
				Type: contentasset.EntityTypeArticle,
				Content: contentasset.Content{
					Slots: map[string]string{"featured": pngURI("ok"), "banner": tt.value},
				},
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, contentasset.ErrInvalidPayload)
			assert.ErrorIs(t, err, contentasset.ErrUploadFailed)
			assert.Zero(t, f.blobs.uploadCount())
			assert.Empty(t, f.storedRefs(t))
		})
	}
}

func TestSaveContent_PersistFailureRollsBack(t *testing.T) {
	ctx := context.Background()

	t.Run("create", func(t *testing.T) {
		f := newFixture(t)
		f.repo.set(func(r *faultyRepo) { r.failCreate = errInjected })

		_, err := f.svc.SaveContent(ctx, contentasset.SaveContentRequest{
			Type:    contentasset.EntityTypeTestimonial,
			Content: contentasset.Content{Slots: map[string]string{"avatar": pngURI("face")}},
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, contentasset.ErrPersistFailed)
		assert.ErrorIs(t, err, errInjected)
		assert.Equal(t, 1, f.blobs.uploadCount())
		assert.Empty(t, f.storedRefs(t))
	})

	t.Run("update", func(t *testing.T) {
		f := newFixture(t)
		created := f.save(t, contentasset.EntityTypeTestimonial, nil, contentasset.Content{
			Slots: map[string]string{"avatar": pngURI("old")},
		})
		f.repo.set(func(r *faultyRepo) { r.failUpdate = errInjected })

		_, err := f.svc.SaveContent(ctx, contentasset.SaveContentRequest{
			Type:    contentasset.EntityTypeTestimonial,
			ID:      &created.ID,
			Content: contentasset.Content{Slots: map[string]string{"avatar": pngURI("new")}},
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, contentasset.ErrPersistFailed)

		// the old avatar survives and the new one is gone
		assert.Equal(t, created.Uploaded, f.storedRefs(t))
		stored, err := f.svc.GetContent(ctx, contentasset.EntityTypeTestimonial, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.Content.Slots["avatar"], stored.Content.Slots["avatar"])
	})
}

func TestSaveContent_ReclaimFailureIsAWarning(t *testing.T) {
	ctx := context.Background()

	var hooked []contentasset.ReclaimWarning
	f := newFixture(t,contentasset.WithHooks(&contentasset.Hooks{
		OnReclaimWarning: []contentasset.ReclaimWarningHook{
			func(hctx *contentasset.HookContext, w contentasset.ReclaimWarning) {
				hooked = append(hooked, w)
			},
		},
	}))

	created := f.save(t, contentasset.EntityTypeArticle, nil, contentasset.Content{
		Slots: map[string]string{"featured": pngURI("stuck")},
	})
	stuck := created.Content.Slots["featured"]
	f.blobs.set(func(b *faultyBlobs) {
		b.failDelete = func(key string) bool { return key == keyOf(stuck) }
	})

	edited, err := f.svc.SaveContent(ctx, contentasset.SaveContentRequest{
		Type:    contentasset.EntityTypeArticle,
		ID:      &created.ID,
		Content: contentasset.Content{Body: "<p>text only</p>"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{stuck}, edited.Orphaned)
	assert.Empty(t, edited.Reclaimed)
	require.Len(t, edited.Warnings, 1)
	assert.Equal(t, stuck, edited.Warnings[0].Reference)
	assert.Equal(t, "orphan", edited.Warnings[0].Op)
	assert.ErrorIs(t, edited.Warnings[0].Err, errInjected)
	require.Len(t, hooked, 1)
	require.Len(t, f.events.failed, 1)

	leaks, err := f.ledger.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, leaks, 1)
	assert.Equal(t, stuck, leaks[0].Reference)
	assert.Equal(t, created.ID, leaks[0].EntityID)
	assert.Equal(t, 1, leaks[0].Attempts)

	// once storage recovers the sweeper finishes the job
	f.blobs.set(func(b *faultyBlobs) { b.failDelete = nil })
	report, err := contentasset.NewSweeper(f.repo, f.store, f.ledger).RetryLeaks(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{stuck}, report.Deleted)
	assert.False(t, f.exists(t, stuck))
	assert.Zero(t, f.ledger.Len())
}

func TestSaveContent_GuardFailureKeepsAssets(t *testing.T) {
	f := newFixture(t)

	created := f.save(t, contentasset.EntityTypeArticle, nil, contentasset.Content{
		Slots: map[string]string{"featured": pngURI("guarded")},
	})
	f.repo.set(func(r *faultyRepo) { r.failReferencedBy = errInjected })

	edited := f.save(t, contentasset.EntityTypeArticle, &created.ID, contentasset.Content{})
	assert.Empty(t, edited.Reclaimed)
	require.Len(t, edited.Warnings, 1)
	assert.True(t, f.exists(t, created.Content.Slots["featured"]))
	assert.Equal(t, 1, f.ledger.Len())
}

func TestSaveContent_ExpectedVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.save(t, contentasset.EntityTypeArticle, nil, contentasset.Content{Body: "<p>v1</p>"})
	uploads := f.blobs.uploadCount()

	_, err := f.svc.SaveContent(ctx, contentasset.SaveContentRequest{
		Type:            contentasset.EntityTypeArticle,
		ID:              &created.ID,
		ExpectedVersion: 7,
		Content:         contentasset.Content{Slots: map[string]string{"featured": pngURI("late")}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, contentasset.ErrConcurrentUpdate)
	assert.ErrorIs(t, err, contentasset.ErrPersistFailed)
	assert.Equal(t, uploads, f.blobs.uploadCount())

	res, err := f.svc.SaveContent(ctx, contentasset.SaveContentRequest{
		Type:            contentasset.EntityTypeArticle,
		ID:              &created.ID,
		ExpectedVersion: created.Version,
		Content:         contentasset.Content{Body: "<p>v2</p>"},
	})
	require.NoError(t, err)
	assert.Equal(t, created.Version+1, res.Version)

	// the first version is stale now
	_, err = f.svc.SaveContent(ctx, contentasset.SaveContentRequest{
		Type:            contentasset.EntityTypeArticle,
		ID:              &created.ID,
		ExpectedVersion: created.Version,
		Content:         contentasset.Content{Body: "<p>v2 again</p>"},
	})
	assert.ErrorIs(t, err, contentasset.ErrConcurrentUpdate)
}

func TestSaveContent_ReferenceVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("missing managed reference", func(t *testing.T) {
		_, err := f.svc.SaveContent(ctx, contentasset.SaveContentRequest{
			Type:    contentasset.EntityTypeArticle,
			Content: contentasset.Content{Slots: map[string]string{"featured": "/uploads/missing.png"}},
		})
		assert.ErrorIs(t, err, contentasset.ErrInvalidContent)
	})

	t.Run("missing reference in body image", func(t *testing.T) {
		_, err := f.svc.SaveContent(ctx, contentasset.SaveContentRequest{
			Type:    contentasset.EntityTypeArticle,
			Content: contentasset.Content{Body: `<img src="/uploads/nope.jpg">`},
		})
		assert.ErrorIs(t, err, contentasset.ErrInvalidContent)
	})

	t.Run("direct upload is accepted", func(t *testing.T) {
		upload, err := f.svc.UploadAsset(ctx, pngData("direct"), "image/png")
		require.NoError(t, err)
		ref := upload.Reference

		res := f.save(t, contentasset.EntityTypeArticle, nil, contentasset.Content{
			Slots: map[string]string{"featured": ref},
		})
		assert.Empty(t, res.Uploaded)
		assert.Equal(t, ref, res.Content.Slots["featured"])
	})

	t.Run("external url is not a reference", func(t *testing.T) {
		res := f.save(t, contentasset.EntityTypeArticle, nil, contentasset.Content{
			Slots: map[string]string{"banner": "https://images.example.com/uploads/everest.jpg"},
		})
		stored, err := f.svc.GetContent(ctx, contentasset.EntityTypeArticle, res.ID)
		require.NoError(t, err)
		assert.Empty(t, stored.References)
	})

	t.Run("link to missing asset is tolerated", func(t *testing.T) {
		res := f.save(t, contentasset.EntityTypeArticle, nil, contentasset.Content{
			Body: `<p><a href="/uploads/brochure.png">brochure</a></p>`,
		})
		stored, err := f.svc.GetContent(ctx, contentasset.EntityTypeArticle, res.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"/uploads/brochure.png"}, stored.References)
	})
}

func TestSaveContent_AmbiguousFragmentProtectsReference(t *testing.T) {
	f := newFixture(t)

	created := f.save(t, contentasset.EntityTypeArticle, nil, contentasset.Content{
		Slots: map[string]string{"featured": pngURI("maybe")},
	})
	ref := created.Content.Slots["featured"]

	// the editor left an unterminated tag that still mentions the image
	edited := f.save(t, contentasset.EntityTypeArticle, &created.ID, contentasset.Content{
		Body: `<p>Gallery</p><img src="` + ref,
	})
	assert.Empty(t, edited.Orphaned)
	assert.True(t, f.exists(t, ref))
}

func TestSaveContent_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		req     contentasset.SaveContentRequest
		wantErr error
	}{
		{
			name:    "unknown type",
			req:     contentasset.SaveContentRequest{Type: "recipe"},
			wantErr: contentasset.ErrUnknownEntityType,
		},
		{
			name: "undeclared slot",
			req: contentasset.SaveContentRequest{
				Type:    contentasset.EntityTypeArticle,
				Content: contentasset.Content{Slots: map[string]string{"avatar": pngURI("a")}},
			},
			wantErr: contentasset.ErrInvalidContent,
		},
		{
			name: "undeclared gallery",
			req: contentasset.SaveContentRequest{
				Type:    contentasset.EntityTypeBlog,
				Content: contentasset.Content{Galleries: map[string][]string{"gallery": {pngURI("a")}}},
			},
			wantErr: contentasset.ErrInvalidContent,
		},
		{
			name: "missing entity",
			req: contentasset.SaveContentRequest{
				Type: contentasset.EntityTypeArticle,
				ID:   ptr(uuid.New()),
			},
			wantErr: contentasset.ErrEntityNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SaveContent(ctx, tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, f.blobs.uploadCount())
		})
	}

	t.Run("empty slot values are dropped", func(t *testing.T) {
		res := f.save(t, contentasset.EntityTypeArticle, nil, contentasset.Content{
			Slots: map[string]string{"featured": "  ", "banner": ""},
		})
		assert.Empty(t, res.Content.Slots)
	})
}

func TestSaveContent_Hooks(t *testing.T) {
	ctx := context.Background()
	veto := errors.New("slug already taken")

	t.Run("before save can veto", func(t *testing.T) {
		f := newFixture(t, contentasset.WithHooks(&contentasset.Hooks{
			BeforeSave: []contentasset.BeforeSaveHook{
				func(hctx *contentasset.HookContext, _ contentasset.EntityType, _ uuid.UUID, _ *contentasset.Content) error {
					return veto
				},
			},
		}))
		_, err := f.svc.SaveContent(ctx, contentasset.SaveContentRequest{
			Type:    contentasset.EntityTypeArticle,
			Content: contentasset.Content{Slots: map[string]string{"featured": pngURI("v")}},
		})
		assert.ErrorIs(t, err, veto)
		assert.Zero(t, f.blobs.uploadCount())
	})

	t.Run("before save can modify and after save observes", func(t *testing.T) {
		var saved *contentasset.SaveContentResult
		f := newFixture(t, contentasset.WithHooks(&contentasset.Hooks{
			BeforeSave: []contentasset.BeforeSaveHook{
				func(hctx *contentasset.HookContext, _ contentasset.EntityType, _ uuid.UUID, c *contentasset.Content) error {
					if c.Fields == nil {
						c.Fields = map[string]interface{}{}
					}
					c.Fields["slug"] = "annapurna-circuit"
					return nil
				},
			},
			AfterSave: []contentasset.AfterSaveHook{
				func(hctx *contentasset.HookContext, _ *contentasset.Entity, res *contentasset.SaveContentResult) error {
					saved = res
					return errors.New("ignored")
				},
			},
		}))
		res := f.save(t, contentasset.EntityTypeArticle, nil, contentasset.Content{})
		assert.Equal(t, "annapurna-circuit", res.Content.Fields["slug"])
		require.NotNil(t, saved)
		assert.Equal(t, res.ID, saved.ID)
	})

	t.Run("before purge can veto", func(t *testing.T) {
		f := newFixture(t, contentasset.WithHooks(&contentasset.Hooks{
			BeforePurge: []contentasset.BeforePurgeHook{
				func(hctx *contentasset.HookContext, _ *contentasset.Entity) error { return veto },
			},
		}))
		res := f.save(t, contentasset.EntityTypeArticle, nil, contentasset.Content{
			Slots: map[string]string{"featured": pngURI("held")},
		})
		require.NoError(t, f.svc.TrashContent(ctx, contentasset.EntityTypeArticle, res.ID))
		_, err := f.svc.PermanentlyDeleteContent(ctx, contentasset.EntityTypeArticle, res.ID)
		assert.ErrorIs(t, err, veto)
		assert.Equal(t, res.Uploaded, f.storedRefs(t))
	})
}

func TestLifecycle_TrashAndRestoreKeepAssets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.save(t, contentasset.EntityTypeBlog, nil, contentasset.Content{
		Slots: map[string]string{"featured": pngURI("f")},
		Body:  `<img src="` + pngURI("b") + `">`,
	})
	deletes := f.blobs.deleteCount()

	require.NoError(t, f.svc.TrashContent(ctx, contentasset.EntityTypeBlog, created.ID))
	require.NoError(t, f.svc.TrashContent(ctx, contentasset.EntityTypeBlog, created.ID))
	assert.Equal(t, 1, f.events.trashed)

	trashed, err := f.svc.GetContent(ctx, contentasset.EntityTypeBlog, created.ID)
	require.NoError(t, err)
	assert.Equal(t, contentasset.StateTrashed, trashed.State())

	_, err = f.svc.SaveContent(ctx, contentasset.SaveContentRequest{
		Type:    contentasset.EntityTypeBlog,
		ID:      &created.ID,
		Content: contentasset.Content{},
	})
	assert.ErrorIs(t, err, contentasset.ErrPreconditionFailed)

	require.NoError(t, f.svc.RestoreContent(ctx, contentasset.EntityTypeBlog, created.ID))
	require.NoError(t, f.svc.RestoreContent(ctx, contentasset.EntityTypeBlog, created.ID))
	assert.Equal(t, 1, f.events.restored)

	restored, err := f.svc.GetContent(ctx, contentasset.EntityTypeBlog, created.ID)
	require.NoError(t, err)
	assert.Equal(t, contentasset.StateActive, restored.State())
	assert.Equal(t, created.Content, restored.Content)

	assert.Equal(t, deletes, f.blobs.deleteCount())
	assert.ElementsMatch(t, created.Uploaded, f.storedRefs(t))
}

func TestLifecycle_PermanentDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.save(t, contentasset.EntityTypePackage, nil, contentasset.Content{
		Slots:     map[string]string{"featured": pngURI("f"), "trip_map": pngURI("m")},
		Galleries: map[string][]string{"gallery": {pngURI("g")}},
		Body:      `<p>Day 1</p><img src="` + pngURI("b") + `">`,
	})
	require.Len(t, created.Uploaded, 4)

	_, err := f.svc.PermanentlyDeleteContent(ctx, contentasset.EntityTypePackage, created.ID)
	assert.ErrorIs(t, err, contentasset.ErrPreconditionFailed)
	assert.Len(t, f.storedRefs(t), 4)

	require.NoError(t, f.svc.TrashContent(ctx, contentasset.EntityTypePackage, created.ID))

	// one asset was already removed by hand; deleting it again is fine
	require.NoError(t, f.store.Delete(ctx, created.Content.Slots["trip_map"]))

	res, err := f.svc.PermanentlyDeleteContent(ctx, contentasset.EntityTypePackage, created.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, created.Uploaded, res.Reclaimed)
	assert.Empty(t, res.Warnings)
	assert.Empty(t, f.storedRefs(t))
	assert.Equal(t, 1, f.events.purged)

	_, err = f.svc.GetContent(ctx, contentasset.EntityTypePackage, created.ID)
	assert.ErrorIs(t, err, contentasset.ErrEntityNotFound)
	_, err = f.svc.PermanentlyDeleteContent(ctx, contentasset.EntityTypePackage, created.ID)
	assert.ErrorIs(t, err, contentasset.ErrEntityNotFound)
	assert.ErrorIs(t, f.svc.RestoreContent(ctx, contentasset.EntityTypePackage, created.ID), contentasset.ErrEntityNotFound)
	_, err = f.svc.SaveContent(ctx, contentasset.SaveContentRequest{Type: contentasset.EntityTypePackage, ID: &created.ID})
	assert.ErrorIs(t, err, contentasset.ErrEntityNotFound)
}

func TestLifecycle_PurgeFailureKeepsRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.save(t, contentasset.EntityTypeArticle, nil, contentasset.Content{
		Slots: map[string]string{"featured": pngURI("row")},
	})
	require.NoError(t, f.svc.TrashContent(ctx, contentasset.EntityTypeArticle, created.ID))
	f.repo.set(func(r *faultyRepo) { r.failHardDelete = errInjected })

	_, err := f.svc.PermanentlyDeleteContent(ctx, contentasset.EntityTypeArticle, created.ID)
	assert.ErrorIs(t, err, errInjected)
	assert.Equal(t, created.Uploaded, f.storedRefs(t))

	stored, err := f.svc.GetContent(ctx, contentasset.EntityTypeArticle, created.ID)
	require.NoError(t, err)
	assert.Equal(t, contentasset.StateTrashed, stored.State())
}

func TestLifecycle_WrongTypeIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.save(t, contentasset.EntityTypeArticle, nil, contentasset.Content{})
	_, err := f.svc.GetContent(ctx, contentasset.EntityTypeBlog, created.ID)
	assert.ErrorIs(t, err, contentasset.ErrEntityNotFound)
	assert.ErrorIs(t, f.svc.TrashContent(ctx, contentasset.EntityTypeBlog, created.ID), contentasset.ErrEntityNotFound)
}

func TestBulkOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.save(t, contentasset.EntityTypeTestimonial, nil, contentasset.Content{Slots: map[string]string{"avatar": pngURI("a")}})
	b := f.save(t, contentasset.EntityTypeTestimonial, nil, contentasset.Content{Slots: map[string]string{"avatar": pngURI("b")}})
	missing := uuid.New()

	trashed, err := f.svc.TrashMany(ctx, contentasset.EntityTypeTestimonial, []uuid.UUID{a.ID, b.ID, missing, a.ID})
	require.NoError(t, err)
	assert.Len(t, trashed, 3)
	assert.ElementsMatch(t, []uuid.UUID{a.ID, b.ID}, trashed.Succeeded())
	require.Contains(t, trashed.Failed(), missing)
	assert.ErrorIs(t, trashed.Failed()[missing], contentasset.ErrEntityNotFound)

	restored, err := f.svc.RestoreMany(ctx, contentasset.EntityTypeTestimonial, []uuid.UUID{b.ID})
	require.NoError(t, err)
	assert.Empty(t, restored.Failed())

	purged, err := f.svc.PermanentlyDeleteMany(ctx, contentasset.EntityTypeTestimonial, []uuid.UUID{a.ID, b.ID})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a.ID}, purged.Succeeded())
	assert.ErrorIs(t, purged[b.ID], contentasset.ErrPreconditionFailed)

	assert.Equal(t, b.Uploaded, f.storedRefs(t))

	_, err = f.svc.TrashMany(ctx, "recipe", []uuid.UUID{a.ID})
	assert.ErrorIs(t, err, contentasset.ErrUnknownEntityType)
}

func TestBulkOperations_ManyIDs(t *testing.T) {
	f := newFixture(t, contentasset.WithConcurrency(0, 0, 8))
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 64; i++ {
		res := f.save(t, contentasset.EntityTypeBlog, nil, contentasset.Content{Body: "<p>post</p>"})
		ids = append(ids, res.ID)
	}
	// duplicates and unknown ids mixed in
	missing := uuid.New()
	batch := append(append([]uuid.UUID{}, ids...), ids[:16]...)
	batch = append(batch, missing)

	trashed, err := f.svc.TrashMany(ctx, contentasset.EntityTypeBlog, batch)
	require.NoError(t, err)
	assert.Len(t, trashed, len(ids)+1)
	assert.ElementsMatch(t, ids, trashed.Succeeded())
	assert.ErrorIs(t, trashed[missing], contentasset.ErrEntityNotFound)

	restored, err := f.svc.RestoreMany(ctx, contentasset.EntityTypeBlog, batch)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, restored.Succeeded())

	purged, err := f.svc.PermanentlyDeleteMany(ctx, contentasset.EntityTypeBlog, ids)
	require.NoError(t, err)
	assert.Len(t, purged.Failed(), len(ids))
	for _, id := range ids {
		assert.ErrorIs(t, purged[id], contentasset.ErrPreconditionFailed)
	}
}

func TestListContent(t *testing.T) {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	tick := 0
	f := newFixture(t, contentasset.WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}))
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		res := f.save(t, contentasset.EntityTypeArticle, nil, contentasset.Content{})
		ids = append(ids, res.ID)
	}
	f.save(t, contentasset.EntityTypeBlog, nil, contentasset.Content{})
	require.NoError(t, f.svc.TrashContent(ctx, contentasset.EntityTypeArticle, ids[0]))

	active, err := f.svc.ListContent(ctx, contentasset.ListContentRequest{Type: contentasset.EntityTypeArticle})
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, ids[2], active[0].ID)
	assert.Equal(t, ids[1], active[1].ID)

	trashed, err := f.svc.ListContent(ctx, contentasset.ListContentRequest{Type: contentasset.EntityTypeArticle, State: contentasset.StateTrashed})
	require.NoError(t, err)
	require.Len(t, trashed, 1)
	assert.Equal(t, ids[0], trashed[0].ID)

	page, err := f.svc.ListContent(ctx, contentasset.ListContentRequest{Type: contentasset.EntityTypeArticle, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[1], page[0].ID)

	_, err = f.svc.ListContent(ctx, contentasset.ListContentRequest{Type: contentasset.EntityTypeArticle, State: contentasset.StateGone})
	assert.ErrorIs(t, err, contentasset.ErrInvalidContent)
}

func TestDirectAssets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	upload, err := f.svc.UploadAsset(ctx, pngData("direct"), "")
	require.NoError(t, err)
	ref := upload.Reference
	assert.True(t, strings.HasSuffix(ref, ".png"))
	assert.Equal(t, "image/png", upload.ContentType)
	assert.Equal(t, int64(len(pngData("direct"))), upload.Size)

	rc, meta, err := f.svc.OpenAsset(ctx, ref)
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, "image/png", meta.ContentType)

	_, err = f.svc.UploadAsset(ctx, []byte("plain text"), "")
	assert.ErrorIs(t, err, contentasset.ErrInvalidPayload)

	used := f.save(t, contentasset.EntityTypeArticle, nil, contentasset.Content{Slots: map[string]string{"featured": ref}})
	assert.ErrorIs(t, f.svc.DeleteAsset(ctx, ref), contentasset.ErrReferenceInUse)
	assert.True(t, f.exists(t, ref))

	assert.ErrorIs(t, f.svc.DeleteAsset(ctx, "https://example.com/a.png"), contentasset.ErrInvalidReference)
	_, _, err = f.svc.OpenAsset(ctx, "../etc/passwd")
	assert.ErrorIs(t, err, contentasset.ErrInvalidReference)

	f.save(t, contentasset.EntityTypeArticle, &used.ID, contentasset.Content{})
	assert.False(t, f.exists(t, ref), "save reclaims the orphaned direct upload")

	other, err := f.svc.UploadAsset(ctx, pngData("other"), "image/png")
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteAsset(ctx, other.Reference))
	assert.False(t, f.exists(t, other.Reference))
	require.NoError(t, f.svc.DeleteAsset(ctx, other.Reference))
}

func TestConcurrentSavesOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.save(t, contentasset.EntityTypeArticle, nil, contentasset.Content{})

	const workers = 6
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			_, err := f.svc.SaveContent(ctx, contentasset.SaveContentRequest{
				Type:            contentasset.EntityTypeArticle,
				ID:              &created.ID,
				ExpectedVersion: created.Version,
				Content:         contentasset.Content{Slots: map[string]string{"featured": pngURI(uuid.NewString())}},
			})
			errs <- err
		}()
	}

	wins := 0
	for i := 0; i < workers; i++ {
		if err := <-errs; err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, contentasset.ErrConcurrentUpdate)
		}
	}
	assert.Equal(t, 1, wins)
	// losers rolled back their uploads
	assert.Len(t, f.storedRefs(t), 1)
}

func ptr[T any](v T) *T {
	return &v
}
