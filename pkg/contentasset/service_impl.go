package contentasset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Content operations

func (s *service) SaveContent(ctx context.Context, req SaveContentRequest) (res *SaveContentResult, err error) {
	var id uuid.UUID
	if req.ID != nil {
		id = *req.ID
	}
	ctx, span := startSpan(ctx, "SaveContent", req.Type, id)
	defer func() { endSpan(span, err) }()

	fail := func(err error) (*SaveContentResult, error) {
		return nil, &EntityError{Type: req.Type, ID: id, Op: "save", Err: err}
	}

	kind, err := s.kinds.Lookup(req.Type)
	if err != nil {
		return fail(err)
	}
	content := kind.Normalize(req.Content)
	if err := kind.Validate(content); err != nil {
		return fail(err)
	}

	var prev *Entity
	previous := NewReferenceSet()
	if req.ID != nil {
		prev, err = s.find(ctx, req.Type, id)
		if err != nil {
			return fail(err)
		}
		if err := canEdit(prev.State()); err != nil {
			return fail(err)
		}
		if req.ExpectedVersion != 0 && req.ExpectedVersion != prev.Version {
			return fail(fmt.Errorf("%w: %w: expected version %d, stored version %d",
				ErrPersistFailed, ErrConcurrentUpdate, req.ExpectedVersion, prev.Version))
		}
		previous = s.referencesOf(prev)
	}

	if err := s.hooks.executeBeforeSave(ctx, req.Type, id, &content); err != nil {
		return fail(err)
	}
	if err := kind.Validate(content); err != nil {
		return fail(err)
	}

	rec, err := s.reconciler.Reconcile(ctx, previous, content)
	if err != nil {
		if rec != nil {
			s.rollback(ctx, req.Type, id, rec.Uploaded)
		}
		return fail(err)
	}
	for _, frag := range rec.Extraction.Ambiguous {
		s.logger.WarnContext(ctx, "ambiguous asset fragment kept as referenced",
			"entity_type", req.Type, "entity_id", id, "fragment", truncate(frag, 200))
	}

	if err := s.verify(ctx, rec, previous); err != nil {
		s.rollback(ctx, req.Type, id, rec.Uploaded)
		return fail(err)
	}

	now := s.now().UTC()
	var entity *Entity
	if prev == nil {
		entity = &Entity{
			ID:        uuid.New(),
			Type:      req.Type,
			CreatedAt: now,
		}
	} else {
		entity = prev.Clone()
	}
	entity.Content = rec.Content
	entity.References = rec.References.Sorted()
	entity.UpdatedAt = now

	if prev == nil {
		err = s.repository.Create(ctx, entity)
	} else {
		err = s.repository.Update(ctx, entity)
	}
	if err != nil {
		s.rollback(ctx, req.Type, entity.ID, rec.Uploaded)
		id = entity.ID
		return fail(fmt.Errorf("%w: %w", ErrPersistFailed, err))
	}

	reclaimed, warnings := s.reclaim(ctx, entity.Type, entity.ID, rec.Orphaned, "orphan")
	if len(reclaimed) > 0 {
		if err := s.eventSink.AssetsReclaimed(ctx, entity.Type, entity.ID, reclaimed); err != nil {
			s.logger.WarnContext(ctx, "event sink failed", "event", "assets_reclaimed", "err", err)
		}
	}

	res = &SaveContentResult{
		ID:        entity.ID,
		Version:   entity.Version,
		Content:   entity.Content.Clone(),
		Uploaded:  rec.Uploaded,
		Orphaned:  rec.Orphaned,
		Reclaimed: reclaimed,
		Warnings:  warnings,
	}

	if err := s.eventSink.EntitySaved(ctx, entity); err != nil {
		s.logger.WarnContext(ctx, "event sink failed", "event", "entity_saved", "err", err)
	}
	if err := s.hooks.executeAfterSave(ctx, entity, res); err != nil {
		s.logger.WarnContext(ctx, "after save hook failed", "entity_id", entity.ID, "err", err)
	}
	return res, nil
}

func (s *service) GetContent(ctx context.Context, entityType EntityType, id uuid.UUID) (*Entity, error) {
	if _, err := s.kinds.Lookup(entityType); err != nil {
		return nil, &EntityError{Type: entityType, ID: id, Op: "get", Err: err}
	}
	entity, err := s.find(ctx, entityType, id)
	if err != nil {
		return nil, &EntityError{Type: entityType, ID: id, Op: "get", Err: err}
	}
	return entity, nil
}

func (s *service) ListContent(ctx context.Context, req ListContentRequest) ([]*Entity, error) {
	if _, err := s.kinds.Lookup(req.Type); err != nil {
		return nil, &EntityError{Type: req.Type, Op: "list", Err: err}
	}
	state := req.State
	if state == "" {
		state = StateActive
	}
	if state != StateActive && state != StateTrashed {
		return nil, &EntityError{Type: req.Type, Op: "list", Err: fmt.Errorf("%w: cannot list state %q", ErrInvalidContent, state)}
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}
	return s.repository.List(ctx, ListParams{Type: req.Type, State: state, Limit: limit, Offset: offset})
}

// Lifecycle transitions

func (s *service) TrashContent(ctx context.Context, entityType EntityType, id uuid.UUID) (err error) {
	ctx, span := startSpan(ctx, "TrashContent", entityType, id)
	defer func() { endSpan(span, err) }()

	entity, err := s.find(ctx, entityType, id)
	if err != nil {
		return &EntityError{Type: entityType, ID: id, Op: "trash", Err: err}
	}
	needed, err := canTrash(entity.State())
	if err != nil {
		return &EntityError{Type: entityType, ID: id, Op: "trash", Err: err}
	}
	if !needed {
		return nil
	}

	at := s.now().UTC()
	if err := s.repository.SoftDelete(ctx, id, at); err != nil {
		return &EntityError{Type: entityType, ID: id, Op: "trash", Err: err}
	}
	entity.DeletedAt = &at

	if err := s.eventSink.EntityTrashed(ctx, entity); err != nil {
		s.logger.WarnContext(ctx, "event sink failed", "event", "entity_trashed", "err", err)
	}
	return nil
}

func (s *service) RestoreContent(ctx context.Context, entityType EntityType, id uuid.UUID) (err error) {
	ctx, span := startSpan(ctx, "RestoreContent", entityType, id)
	defer func() { endSpan(span, err) }()

	entity, err := s.find(ctx, entityType, id)
	if err != nil {
		return &EntityError{Type: entityType, ID: id, Op: "restore", Err: err}
	}
	needed, err := canRestore(entity.State())
	if err != nil {
		return &EntityError{Type: entityType, ID: id, Op: "restore", Err: err}
	}
	if !needed {
		return nil
	}

	if err := s.repository.ClearSoftDelete(ctx, id); err != nil {
		return &EntityError{Type: entityType, ID: id, Op: "restore", Err: err}
	}
	entity.DeletedAt = nil

	if err := s.eventSink.EntityRestored(ctx, entity); err != nil {
		s.logger.WarnContext(ctx, "event sink failed", "event", "entity_restored", "err", err)
	}
	return nil
}

func (s *service) PermanentlyDeleteContent(ctx context.Context, entityType EntityType, id uuid.UUID) (res *PurgeResult, err error) {
	ctx, span := startSpan(ctx, "PermanentlyDeleteContent", entityType, id)
	defer func() { endSpan(span, err) }()

	fail := func(err error) (*PurgeResult, error) {
		return nil, &EntityError{Type: entityType, ID: id, Op: "purge", Err: err}
	}

	entity, err := s.find(ctx, entityType, id)
	if err != nil {
		return fail(err)
	}
	if err := canPurge(entity.State()); err != nil {
		return fail(err)
	}
	if err := s.hooks.executeBeforePurge(ctx, entity); err != nil {
		return fail(err)
	}

	refs := s.referencesOf(entity).Sorted()
	if err := s.repository.HardDelete(ctx, id, entity.Version); err != nil {
		return fail(err)
	}

	reclaimed, warnings := s.reclaim(ctx, entityType, id, refs, "purge")
	res = &PurgeResult{Reclaimed: reclaimed, Warnings: warnings}

	if err := s.eventSink.EntityPurged(ctx, entityType, id, reclaimed); err != nil {
		s.logger.WarnContext(ctx, "event sink failed", "event", "entity_purged", "err", err)
	}
	if err := s.hooks.executeAfterPurge(ctx, entityType, id, res); err != nil {
		s.logger.WarnContext(ctx, "after purge hook failed", "entity_id", id, "err", err)
	}
	return res, nil
}

// Bulk operations

func (s *service) TrashMany(ctx context.Context, entityType EntityType, ids []uuid.UUID) (BulkResult, error) {
	return s.bulk(ctx, entityType, ids, func(ctx context.Context, id uuid.UUID) error {
		return s.TrashContent(ctx, entityType, id)
	})
}

func (s *service) RestoreMany(ctx context.Context, entityType EntityType, ids []uuid.UUID) (BulkResult, error) {
	return s.bulk(ctx, entityType, ids, func(ctx context.Context, id uuid.UUID) error {
		return s.RestoreContent(ctx, entityType, id)
	})
}

func (s *service) PermanentlyDeleteMany(ctx context.Context, entityType EntityType, ids []uuid.UUID) (BulkResult, error) {
	return s.bulk(ctx, entityType, ids, func(ctx context.Context, id uuid.UUID) error {
		_, err := s.PermanentlyDeleteContent(ctx, entityType, id)
		return err
	})
}

func (s *service) bulk(ctx context.Context, entityType EntityType, ids []uuid.UUID, fn func(context.Context, uuid.UUID) error) (BulkResult, error) {
	if _, err := s.kinds.Lookup(entityType); err != nil {
		return nil, err
	}

	// workers only write keys that exist before the first one starts
	result := make(BulkResult, len(ids))
	unique := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, seen := result[id]; seen {
			continue
		}
		result[id] = nil
		unique = append(unique, id)
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.bulkConcurrency)
	for _, id := range unique {
		g.Go(func() error {
			err := fn(ctx, id)
			mu.Lock()
			result[id] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return result, nil
}

// Direct asset operations

func (s *service) UploadAsset(ctx context.Context, data []byte, contentType string) (*UploadResult, error) {
	ct, err := s.payloads.Check(data, contentType)
	if err != nil {
		return nil, &UploadError{Location: "upload", Err: err}
	}
	ref, err := s.store.Put(ctx, data, ct)
	if err != nil {
		return nil, &UploadError{Location: "upload", Err: err}
	}
	return &UploadResult{Reference: ref, ContentType: ct, Size: int64(len(data))}, nil
}

func (s *service) DeleteAsset(ctx context.Context, reference string) error {
	ref, kind := s.references.Classify(reference)
	if kind != SourceManaged {
		return fmt.Errorf("%w: %q", ErrInvalidReference, reference)
	}
	inUse, err := s.repository.ReferencedBy(ctx, []string{ref}, uuid.Nil)
	if err != nil {
		return err
	}
	if len(inUse) > 0 {
		return fmt.Errorf("%w: %s", ErrReferenceInUse, ref)
	}
	return s.store.Delete(ctx, ref)
}

func (s *service) OpenAsset(ctx context.Context, reference string) (io.ReadCloser, *ObjectMeta, error) {
	opener, ok := s.store.(AssetOpener)
	if !ok {
		return nil, nil, errors.New("asset store does not support reads")
	}
	ref, kind := s.references.Classify(reference)
	if kind != SourceManaged {
		return nil, nil, fmt.Errorf("%w: %q", ErrInvalidReference, reference)
	}
	return opener.Open(ctx, ref)
}

func (s *service) Kinds() []Kind {
	return s.kinds.Kinds()
}

// Helpers

// find loads an entity and checks it has the expected type.
func (s *service) find(ctx context.Context, entityType EntityType, id uuid.UUID) (*Entity, error) {
	entity, err := s.repository.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if entity.Type != entityType {
		return nil, ErrEntityNotFound
	}
	return entity, nil
}

// referencesOf is everything an entity may hold: what its content says now
// and what was recorded when it was saved.
func (s *service) referencesOf(e *Entity) ReferenceSet {
	return s.extractor.Extract(e.Content).References.Union(NewReferenceSet(e.References...))
}

// verify checks that references introduced by this save, other than fresh
// uploads and plain links, point at stored assets.
func (s *service) verify(ctx context.Context, rec *Reconciliation, previous ReferenceSet) error {
	uploaded := NewReferenceSet(rec.Uploaded...)
	for _, ref := range rec.References.Sorted() {
		if previous.Has(ref) || uploaded.Has(ref) || rec.Extraction.Linked.Has(ref) {
			continue
		}
		ok, err := s.store.Exists(ctx, ref)
		if err != nil {
			return fmt.Errorf("verify %s: %w", ref, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s does not exist", ErrInvalidContent, ref)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
