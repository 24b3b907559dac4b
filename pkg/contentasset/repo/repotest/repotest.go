// Package repotest holds the behaviour every contentasset.Repository must
// share. Adapters call Run from their own tests.
package repotest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdisakar/content-assets/pkg/contentasset"
)

// Factory returns an empty repository
type Factory func(t *testing.T) contentasset.Repository

// Run exercises a repository implementation
func Run(t *testing.T, newRepo Factory) {
	t.Run("CreateAndFind", func(t *testing.T) { testCreateAndFind(t, newRepo(t)) })
	t.Run("UpdateCAS", func(t *testing.T) { testUpdateCAS(t, newRepo(t)) })
	t.Run("SoftDeleteLifecycle", func(t *testing.T) { testSoftDelete(t, newRepo(t)) })
	t.Run("HardDelete", func(t *testing.T) { testHardDelete(t, newRepo(t)) })
	t.Run("List", func(t *testing.T) { testList(t, newRepo(t)) })
	t.Run("ReferencedBy", func(t *testing.T) { testReferencedBy(t, newRepo(t)) })
	t.Run("ForEachReference", func(t *testing.T) { testForEachReference(t, newRepo(t)) })
}

// NewEntity builds an article holding refs
func NewEntity(refs ...string) *contentasset.Entity {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &contentasset.Entity{
		ID:   uuid.New(),
		Type: contentasset.EntityTypeArticle,
		Content: contentasset.Content{
			Slots:  map[string]string{"featured": first(refs)},
			Body:   "<p>hello</p>",
			Fields: map[string]interface{}{"title": "Hello"},
		},
		References: refs,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func first(refs []string) string {
	if len(refs) == 0 {
		return ""
	}
	return refs[0]
}

func testCreateAndFind(t *testing.T, repo contentasset.Repository) {
	ctx := context.Background()
	entity := NewEntity("/uploads/a.png", "/uploads/b.png")
	require.NoError(t, repo.Create(ctx, entity))
	assert.Equal(t, int64(1), entity.Version)

	got, err := repo.Find(ctx, entity.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ID, got.ID)
	assert.Equal(t, contentasset.EntityTypeArticle, got.Type)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, []string{"/uploads/a.png", "/uploads/b.png"}, got.References)
	assert.Equal(t, "/uploads/a.png", got.Content.Slots["featured"])
	assert.Equal(t, "<p>hello</p>", got.Content.Body)
	assert.Equal(t, "Hello", got.Content.Fields["title"])
	assert.Equal(t, contentasset.StateActive, got.State())

	_, err = repo.Find(ctx, uuid.New())
	assert.ErrorIs(t, err, contentasset.ErrEntityNotFound)
}

func testUpdateCAS(t *testing.T, repo contentasset.Repository) {
	ctx := context.Background()
	entity := NewEntity("/uploads/a.png")
	require.NoError(t, repo.Create(ctx, entity))

	first, err := repo.Find(ctx, entity.ID)
	require.NoError(t, err)
	second, err := repo.Find(ctx, entity.ID)
	require.NoError(t, err)

	first.Content.Slots["featured"] = "/uploads/c.png"
	first.References = []string{"/uploads/c.png"}
	require.NoError(t, repo.Update(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.References = []string{"/uploads/d.png"}
	err = repo.Update(ctx, second)
	assert.ErrorIs(t, err, contentasset.ErrConcurrentUpdate)

	got, err := repo.Find(ctx, entity.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, []string{"/uploads/c.png"}, got.References)
	assert.Equal(t, "/uploads/c.png", got.Content.Slots["featured"])

	missing := NewEntity()
	missing.Version = 1
	assert.Error(t, repo.Update(ctx, missing))
}

func testSoftDelete(t *testing.T, repo contentasset.Repository) {
	ctx := context.Background()
	entity := NewEntity("/uploads/a.png")
	require.NoError(t, repo.Create(ctx, entity))

	at := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, repo.SoftDelete(ctx, entity.ID, at))
	got, err := repo.Find(ctx, entity.ID)
	require.NoError(t, err)
	assert.Equal(t, contentasset.StateTrashed, got.State())
	require.NotNil(t, got.DeletedAt)
	assert.True(t, at.Equal(*got.DeletedAt))
	assert.Equal(t, int64(2), got.Version)

	// A save that read the active row must not overwrite the trashed one
	entity.References = nil
	assert.ErrorIs(t, repo.Update(ctx, entity), contentasset.ErrConcurrentUpdate)

	require.NoError(t, repo.ClearSoftDelete(ctx, entity.ID))
	got, err = repo.Find(ctx, entity.ID)
	require.NoError(t, err)
	assert.Equal(t, contentasset.StateActive, got.State())
	assert.Equal(t, int64(3), got.Version)

	assert.ErrorIs(t, repo.SoftDelete(ctx, uuid.New(), at), contentasset.ErrEntityNotFound)
	assert.ErrorIs(t, repo.ClearSoftDelete(ctx, uuid.New()), contentasset.ErrEntityNotFound)
}

func testHardDelete(t *testing.T, repo contentasset.Repository) {
	ctx := context.Background()
	entity := NewEntity("/uploads/a.png")
	require.NoError(t, repo.Create(ctx, entity))

	err := repo.HardDelete(ctx, entity.ID, entity.Version)
	assert.ErrorIs(t, err, contentasset.ErrPreconditionFailed, "active rows are never hard deleted")

	require.NoError(t, repo.SoftDelete(ctx, entity.ID, time.Now().UTC()))
	err = repo.HardDelete(ctx, entity.ID, 1)
	assert.ErrorIs(t, err, contentasset.ErrConcurrentUpdate)

	require.NoError(t, repo.HardDelete(ctx, entity.ID, 2))
	_, err = repo.Find(ctx, entity.ID)
	assert.ErrorIs(t, err, contentasset.ErrEntityNotFound)

	inUse, err := repo.ReferencedBy(ctx, []string{"/uploads/a.png"}, uuid.Nil)
	require.NoError(t, err)
	assert.Empty(t, inUse)

	assert.ErrorIs(t, repo.HardDelete(ctx, entity.ID, 2), contentasset.ErrEntityNotFound)
}

func testList(t *testing.T, repo contentasset.Repository) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	var ids []uuid.UUID
	for i := 0; i < 4; i++ {
		entity := NewEntity()
		entity.CreatedAt = base.Add(time.Duration(i) * time.Second)
		entity.UpdatedAt = entity.CreatedAt
		require.NoError(t, repo.Create(ctx, entity))
		ids = append(ids, entity.ID)
	}
	other := NewEntity()
	other.Type = contentasset.EntityTypeBlog
	require.NoError(t, repo.Create(ctx, other))

	require.NoError(t, repo.SoftDelete(ctx, ids[0], base.Add(time.Minute)))

	active, err := repo.List(ctx, contentasset.ListParams{Type: contentasset.EntityTypeArticle, State: contentasset.StateActive})
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, ids[3], active[0].ID, "newest first")
	assert.Equal(t, ids[1], active[2].ID)

	page, err := repo.List(ctx, contentasset.ListParams{Type: contentasset.EntityTypeArticle, State: contentasset.StateActive, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[2], page[0].ID)

	trashed, err := repo.List(ctx, contentasset.ListParams{Type: contentasset.EntityTypeArticle, State: contentasset.StateTrashed})
	require.NoError(t, err)
	require.Len(t, trashed, 1)
	assert.Equal(t, ids[0], trashed[0].ID)

	blogs, err := repo.List(ctx, contentasset.ListParams{Type: contentasset.EntityTypeBlog, State: contentasset.StateActive})
	require.NoError(t, err)
	assert.Len(t, blogs, 1)
}

func testReferencedBy(t *testing.T, repo contentasset.Repository) {
	ctx := context.Background()
	a := NewEntity("/uploads/shared.png", "/uploads/a.png")
	b := NewEntity("/uploads/shared.png", "/uploads/b.png")
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, b))

	refs := []string{"/uploads/shared.png", "/uploads/a.png", "/uploads/b.png", "/uploads/none.png"}

	inUse, err := repo.ReferencedBy(ctx, refs, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"/uploads/b.png", "/uploads/shared.png"}, inUse)

	inUse, err = repo.ReferencedBy(ctx, refs, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"/uploads/a.png", "/uploads/b.png", "/uploads/shared.png"}, inUse)

	// Trashed entities still hold their references
	require.NoError(t, repo.SoftDelete(ctx, b.ID, time.Now().UTC()))
	inUse, err = repo.ReferencedBy(ctx, []string{"/uploads/b.png"}, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"/uploads/b.png"}, inUse)

	inUse, err = repo.ReferencedBy(ctx, nil, uuid.Nil)
	require.NoError(t, err)
	assert.Empty(t, inUse)
}

func testForEachReference(t *testing.T, repo contentasset.Repository) {
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, NewEntity("/uploads/x.png", "/uploads/y.png")))
	require.NoError(t, repo.Create(ctx, NewEntity("/uploads/y.png", "/uploads/z.png")))
	require.NoError(t, repo.Create(ctx, NewEntity()))

	seen := make(map[string]int)
	require.NoError(t, repo.ForEachReference(ctx, func(ref string) error {
		seen[ref]++
		return nil
	}))
	assert.Len(t, seen, 3)
	for _, ref := range []string{"/uploads/x.png", "/uploads/y.png", "/uploads/z.png"} {
		assert.GreaterOrEqual(t, seen[ref], 1, ref)
	}
}
