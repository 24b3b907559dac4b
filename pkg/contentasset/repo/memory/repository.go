package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pdisakar/content-assets/pkg/contentasset"
)

// Repository implements contentasset.Repository using in-memory storage
type Repository struct {
	mu       sync.RWMutex
	entities map[uuid.UUID]*contentasset.Entity
	holders  map[string]map[uuid.UUID]struct{} // reference -> entity ids
}

var _ contentasset.Repository = (*Repository)(nil)

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		entities: make(map[uuid.UUID]*contentasset.Entity),
		holders:  make(map[string]map[uuid.UUID]struct{}),
	}
}

func (r *Repository) Find(ctx context.Context, id uuid.UUID) (*contentasset.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entity, ok := r.entities[id]
	if !ok {
		return nil, contentasset.ErrEntityNotFound
	}
	// Return a copy to prevent external modifications
	return entity.Clone(), nil
}

func (r *Repository) Create(ctx context.Context, entity *contentasset.Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entities[entity.ID]; exists {
		return fmt.Errorf("entity %s already exists", entity.ID)
	}
	entity.Version = 1
	r.put(entity.Clone())
	return nil
}

func (r *Repository) Update(ctx context.Context, entity *contentasset.Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.entities[entity.ID]
	if !ok {
		return contentasset.ErrEntityNotFound
	}
	if stored.Version != entity.Version {
		return fmt.Errorf("%w: stored version %d, have %d", contentasset.ErrConcurrentUpdate, stored.Version, entity.Version)
	}

	next := entity.Clone()
	next.Version = stored.Version + 1
	next.CreatedAt = stored.CreatedAt
	next.DeletedAt = stored.DeletedAt
	r.unindex(stored)
	r.put(next)
	entity.Version = next.Version
	return nil
}

func (r *Repository) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entity, ok := r.entities[id]
	if !ok {
		return contentasset.ErrEntityNotFound
	}
	entity.DeletedAt = &at
	entity.UpdatedAt = at
	entity.Version++
	return nil
}

func (r *Repository) ClearSoftDelete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entity, ok := r.entities[id]
	if !ok {
		return contentasset.ErrEntityNotFound
	}
	entity.DeletedAt = nil
	entity.UpdatedAt = time.Now().UTC()
	entity.Version++
	return nil
}

func (r *Repository) HardDelete(ctx context.Context, id uuid.UUID, version int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entity, ok := r.entities[id]
	if !ok {
		return contentasset.ErrEntityNotFound
	}
	if entity.DeletedAt == nil {
		return fmt.Errorf("%w: entity is not trashed", contentasset.ErrPreconditionFailed)
	}
	if entity.Version != version {
		return fmt.Errorf("%w: stored version %d, have %d", contentasset.ErrConcurrentUpdate, entity.Version, version)
	}
	r.unindex(entity)
	delete(r.entities, id)
	return nil
}

func (r *Repository) List(ctx context.Context, params contentasset.ListParams) ([]*contentasset.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*contentasset.Entity
	for _, entity := range r.entities {
		if entity.Type == params.Type && entity.State() == params.State {
			result = append(result, entity.Clone())
		}
	}

	// Newest first: trash by deletion time, active by creation time
	sort.Slice(result, func(i, j int) bool {
		ti, tj := sortTime(result[i]), sortTime(result[j])
		if ti.Equal(tj) {
			return result[i].ID.String() < result[j].ID.String()
		}
		return ti.After(tj)
	})

	if params.Offset >= len(result) {
		return nil, nil
	}
	result = result[params.Offset:]
	if params.Limit > 0 && len(result) > params.Limit {
		result = result[:params.Limit]
	}
	return result, nil
}

func (r *Repository) ReferencedBy(ctx context.Context, refs []string, exclude uuid.UUID) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(refs))
	var out []string
	for _, ref := range refs {
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		for id := range r.holders[ref] {
			if id != exclude {
				out = append(out, ref)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *Repository) ForEachReference(ctx context.Context, fn func(ref string) error) error {
	r.mu.RLock()
	refs := make([]string, 0, len(r.holders))
	for ref := range r.holders {
		refs = append(refs, ref)
	}
	r.mu.RUnlock()

	sort.Strings(refs)
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ref); err != nil {
			return err
		}
	}
	return nil
}

// put stores entity and indexes its references; the caller holds the write lock
func (r *Repository) put(entity *contentasset.Entity) {
	r.entities[entity.ID] = entity
	for _, ref := range entity.References {
		ids, ok := r.holders[ref]
		if !ok {
			ids = make(map[uuid.UUID]struct{})
			r.holders[ref] = ids
		}
		ids[entity.ID] = struct{}{}
	}
}

func (r *Repository) unindex(entity *contentasset.Entity) {
	for _, ref := range entity.References {
		ids := r.holders[ref]
		delete(ids, entity.ID)
		if len(ids) == 0 {
			delete(r.holders, ref)
		}
	}
}

func sortTime(e *contentasset.Entity) time.Time {
	if e.DeletedAt != nil {
		return *e.DeletedAt
	}
	return e.CreatedAt
}
