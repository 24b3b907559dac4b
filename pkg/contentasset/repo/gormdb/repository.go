package gormdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/pdisakar/content-assets/pkg/contentasset"
)

// refBatch keeps IN lists under SQLite's bound-variable limit
const refBatch = 500

// Repository implements contentasset.Repository on a GORM connection
type Repository struct {
	db *gorm.DB
}

var _ contentasset.Repository = (*Repository)(nil)

// New wraps an open connection; run Migrate first
func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Find(ctx context.Context, id uuid.UUID) (*contentasset.Entity, error) {
	var model EntityModel
	err := r.db.WithContext(ctx).Where("id = ?", id.String()).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, contentasset.ErrEntityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find entity: %w", err)
	}

	var refs []string
	err = r.db.WithContext(ctx).Model(&AssetRefModel{}).
		Where("entity_id = ?", model.ID).
		Order("reference").
		Pluck("reference", &refs).Error
	if err != nil {
		return nil, fmt.Errorf("load references: %w", err)
	}
	return toEntity(&model, refs)
}

func (r *Repository) Create(ctx context.Context, entity *contentasset.Entity) error {
	body, err := json.Marshal(entity.Content)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}
	model := EntityModel{
		ID:         entity.ID.String(),
		EntityType: string(entity.Type),
		Content:    datatypes.JSON(body),
		Version:    1,
		CreatedAt:  entity.CreatedAt,
		UpdatedAt:  entity.UpdatedAt,
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("entity %s already exists", entity.ID)
			}
			return fmt.Errorf("create entity: %w", err)
		}
		return insertRefs(tx, model.ID, entity.References)
	})
	if err != nil {
		return err
	}
	entity.Version = 1
	return nil
}

func (r *Repository) Update(ctx context.Context, entity *contentasset.Entity) error {
	body, err := json.Marshal(entity.Content)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}
	id := entity.ID.String()

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// UPDATE content_entities SET ..., version = version + 1 WHERE id = ? AND version = ?
		result := tx.Model(&EntityModel{}).
			Where("id = ? AND version = ?", id, entity.Version).
			Updates(map[string]any{
				"content":    datatypes.JSON(body),
				"version":    gorm.Expr("version + 1"),
				"updated_at": entity.UpdatedAt,
			})
		if result.Error != nil {
			return fmt.Errorf("update entity: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return r.conflict(tx, id, entity.Version)
		}

		if err := tx.Where("entity_id = ?", id).Delete(&AssetRefModel{}).Error; err != nil {
			return fmt.Errorf("clear references: %w", err)
		}
		return insertRefs(tx, id, entity.References)
	})
	if err != nil {
		return err
	}
	entity.Version++
	return nil
}

func (r *Repository) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&EntityModel{}).
		Where("id = ?", id.String()).
		Updates(map[string]any{
			"deleted_at": at,
			"updated_at": at,
			"version":    gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return fmt.Errorf("soft delete entity: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return contentasset.ErrEntityNotFound
	}
	return nil
}

func (r *Repository) ClearSoftDelete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Model(&EntityModel{}).
		Where("id = ?", id.String()).
		Updates(map[string]any{
			"deleted_at": nil,
			"updated_at": time.Now().UTC(),
			"version":    gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return fmt.Errorf("restore entity: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return contentasset.ErrEntityNotFound
	}
	return nil
}

func (r *Repository) HardDelete(ctx context.Context, id uuid.UUID, version int64) error {
	key := id.String()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND version = ? AND deleted_at IS NOT NULL", key, version).
			Delete(&EntityModel{})
		if result.Error != nil {
			return fmt.Errorf("hard delete entity: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			var model EntityModel
			err := tx.Where("id = ?", key).First(&model).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return contentasset.ErrEntityNotFound
			}
			if err != nil {
				return fmt.Errorf("hard delete entity: %w", err)
			}
			if model.DeletedAt == nil {
				return fmt.Errorf("%w: entity is not trashed", contentasset.ErrPreconditionFailed)
			}
			return fmt.Errorf("%w: stored version %d, have %d", contentasset.ErrConcurrentUpdate, model.Version, version)
		}
		if err := tx.Where("entity_id = ?", key).Delete(&AssetRefModel{}).Error; err != nil {
			return fmt.Errorf("clear references: %w", err)
		}
		return nil
	})
}

func (r *Repository) List(ctx context.Context, params contentasset.ListParams) ([]*contentasset.Entity, error) {
	q := r.db.WithContext(ctx).Where("entity_type = ?", string(params.Type))
	if params.State == contentasset.StateTrashed {
		q = q.Where("deleted_at IS NOT NULL").Order("deleted_at DESC").Order("id")
	} else {
		q = q.Where("deleted_at IS NULL").Order("created_at DESC").Order("id")
	}
	if params.Limit > 0 {
		q = q.Limit(params.Limit)
	}
	if params.Offset > 0 {
		q = q.Offset(params.Offset)
	}

	var models []EntityModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	if len(models) == 0 {
		return nil, nil
	}

	ids := make([]string, len(models))
	for i := range models {
		ids[i] = models[i].ID
	}
	var rows []AssetRefModel
	if err := r.db.WithContext(ctx).Where("entity_id IN ?", ids).Order("reference").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load references: %w", err)
	}
	refs := make(map[string][]string, len(models))
	for _, row := range rows {
		refs[row.EntityID] = append(refs[row.EntityID], row.Reference)
	}

	result := make([]*contentasset.Entity, 0, len(models))
	for i := range models {
		entity, err := toEntity(&models[i], refs[models[i].ID])
		if err != nil {
			return nil, err
		}
		result = append(result, entity)
	}
	return result, nil
}

func (r *Repository) ReferencedBy(ctx context.Context, refs []string, exclude uuid.UUID) ([]string, error) {
	var out []string
	for start := 0; start < len(refs); start += refBatch {
		end := min(start+refBatch, len(refs))
		var batch []string
		err := r.db.WithContext(ctx).Model(&AssetRefModel{}).
			Distinct("reference").
			Where("reference IN ? AND entity_id <> ?", refs[start:end], exclude.String()).
			Pluck("reference", &batch).Error
		if err != nil {
			return nil, fmt.Errorf("referenced by: %w", err)
		}
		out = append(out, batch...)
	}
	sort.Strings(out)
	return dedupeSorted(out), nil
}

func (r *Repository) ForEachReference(ctx context.Context, fn func(ref string) error) error {
	rows, err := r.db.WithContext(ctx).Model(&AssetRefModel{}).
		Distinct("reference").
		Order("reference").
		Rows()
	if err != nil {
		return fmt.Errorf("list references: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return fmt.Errorf("scan reference: %w", err)
		}
		if err := fn(ref); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *Repository) conflict(tx *gorm.DB, id string, version int64) error {
	var model EntityModel
	err := tx.Select("version").Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return contentasset.ErrEntityNotFound
	}
	if err != nil {
		return fmt.Errorf("check version: %w", err)
	}
	return fmt.Errorf("%w: stored version %d, have %d", contentasset.ErrConcurrentUpdate, model.Version, version)
}

func insertRefs(tx *gorm.DB, entityID string, refs []string) error {
	if len(refs) == 0 {
		return nil
	}
	rows := make([]AssetRefModel, 0, len(refs))
	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		rows = append(rows, AssetRefModel{EntityID: entityID, Reference: ref})
	}
	if err := tx.CreateInBatches(rows, refBatch/2).Error; err != nil {
		return fmt.Errorf("insert references: %w", err)
	}
	return nil
}

func toEntity(model *EntityModel, refs []string) (*contentasset.Entity, error) {
	id, err := uuid.Parse(model.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid entity id %q: %w", model.ID, err)
	}
	entity := &contentasset.Entity{
		ID:         id,
		Type:       contentasset.EntityType(model.EntityType),
		References: refs,
		Version:    model.Version,
		CreatedAt:  model.CreatedAt.UTC(),
		UpdatedAt:  model.UpdatedAt.UTC(),
	}
	if len(model.Content) > 0 {
		if err := json.Unmarshal(model.Content, &entity.Content); err != nil {
			return nil, fmt.Errorf("decode content of %s: %w", model.ID, err)
		}
	}
	if model.DeletedAt != nil {
		t := model.DeletedAt.UTC()
		entity.DeletedAt = &t
	}
	return entity, nil
}

func dedupeSorted(in []string) []string {
	if len(in) < 2 {
		return in
	}
	out := in[:1]
	for _, s := range in[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}
