package contentasset

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Asset deletion after a committed operation and rollback of uploads after a
// failed one. Neither can fail the caller: problems become ReclaimWarnings.

// reclaim deletes refs that no other entity still references.
func (s *service) reclaim(ctx context.Context, entityType EntityType, id uuid.UUID, refs []string, op string) ([]string, []ReclaimWarning) {
	if len(refs) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.reclaimTimeout)
	defer cancel()

	inUse, err := s.repository.ReferencedBy(ctx, refs, id)
	if err != nil {
		warnings := make([]ReclaimWarning, 0, len(refs))
		for _, ref := range refs {
			warnings = append(warnings, ReclaimWarning{
				Reference:  ref,
				EntityType: entityType,
				EntityID:   id,
				Op:         op,
				Err:        fmt.Errorf("shared reference check: %w", err),
			})
		}
		s.report(ctx, warnings)
		return nil, warnings
	}

	shared := NewReferenceSet(inUse...)
	deletable := make([]string, 0, len(refs))
	for _, ref := range refs {
		if shared.Has(ref) {
			s.logger.DebugContext(ctx, "asset still referenced elsewhere, kept",
				"reference", ref, "entity_type", entityType, "entity_id", id)
			continue
		}
		deletable = append(deletable, ref)
	}

	reclaimed, warnings := s.deleteAll(ctx, entityType, id, deletable, op)
	s.report(ctx, warnings)
	return reclaimed, warnings
}

// rollback deletes assets uploaded by a save that did not commit. They were
// created by this request, so no guard is needed.
func (s *service) rollback(ctx context.Context, entityType EntityType, id uuid.UUID, uploaded []string) {
	if len(uploaded) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.reclaimTimeout)
	defer cancel()

	_, warnings := s.deleteAll(ctx, entityType, id, uploaded, "rollback")
	s.report(ctx, warnings)
}

func (s *service) deleteAll(ctx context.Context, entityType EntityType, id uuid.UUID, refs []string, op string) ([]string, []ReclaimWarning) {
	var (
		mu        sync.Mutex
		reclaimed []string
		warnings  []ReclaimWarning
	)
	var g errgroup.Group
	g.SetLimit(s.reclaimConcurrency)
	for _, ref := range refs {
		g.Go(func() error {
			err := s.store.Delete(ctx, ref)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				warnings = append(warnings, ReclaimWarning{
					Reference:  ref,
					EntityType: entityType,
					EntityID:   id,
					Op:         op,
					Err:        err,
				})
				return nil
			}
			reclaimed = append(reclaimed, ref)
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(reclaimed)
	sort.Slice(warnings, func(i, j int) bool { return warnings[i].Reference < warnings[j].Reference })
	return reclaimed, warnings
}

func (s *service) report(ctx context.Context, warnings []ReclaimWarning) {
	for _, w := range warnings {
		s.logger.WarnContext(ctx, "asset reclaim failed",
			"reference", w.Reference,
			"entity_type", w.EntityType,
			"entity_id", w.EntityID,
			"op", w.Op,
			"reason", w.Err)

		leak := Leak{
			Reference:  w.Reference,
			EntityType: w.EntityType,
			EntityID:   w.EntityID,
			Reason:     w.Err.Error(),
			Attempts:   1,
			FirstSeen:  s.now().UTC(),
			LastSeen:   s.now().UTC(),
		}
		if err := s.ledger.Record(ctx, leak); err != nil {
			s.logger.ErrorContext(ctx, "failed to record leaked asset", "reference", w.Reference, "err", err)
		}
		if err := s.eventSink.ReclaimFailed(ctx, w); err != nil {
			s.logger.WarnContext(ctx, "event sink failed", "event", "reclaim_failed", "err", err)
		}
		s.hooks.executeOnReclaimWarning(ctx, w)
	}
}
