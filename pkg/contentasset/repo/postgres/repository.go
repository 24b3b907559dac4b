package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pdisakar/content-assets/pkg/contentasset"
)

//go:embed schema.sql
var Schema string

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements contentasset.Repository using PostgreSQL.
// Asset references live in a GIN-indexed text[] column.
type Repository struct {
	db DBTX
}

var _ contentasset.Repository = (*Repository)(nil)

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Migrate creates the table and indexes if they are missing
func Migrate(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("entity already exists")
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return contentasset.ErrEntityNotFound
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

const entityColumns = `id, entity_type, content, asset_refs, version, created_at, updated_at, deleted_at`

func (r *Repository) Find(ctx context.Context, id uuid.UUID) (*contentasset.Entity, error) {
	row := r.db.QueryRow(ctx, `SELECT `+entityColumns+` FROM content_entity WHERE id = $1`, id)
	entity, err := scanEntity(row)
	if err != nil {
		return nil, r.handlePostgresError("find entity", err)
	}
	return entity, nil
}

func (r *Repository) Create(ctx context.Context, entity *contentasset.Entity) error {
	body, err := json.Marshal(entity.Content)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}

	query := `
		INSERT INTO content_entity (
			id, entity_type, content, asset_refs, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, 1, $5, $6)`

	_, err = r.db.Exec(ctx, query,
		entity.ID, string(entity.Type), body, refsOrEmpty(entity.References),
		entity.CreatedAt, entity.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("create entity", err)
	}
	entity.Version = 1
	return nil
}

func (r *Repository) Update(ctx context.Context, entity *contentasset.Entity) error {
	body, err := json.Marshal(entity.Content)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}

	query := `
		UPDATE content_entity SET
			content = $3, asset_refs = $4, updated_at = $5, version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING version`

	var version int64
	err = r.db.QueryRow(ctx, query,
		entity.ID, entity.Version, body, refsOrEmpty(entity.References), entity.UpdatedAt,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.conflict(ctx, entity.ID, entity.Version)
	}
	if err != nil {
		return r.handlePostgresError("update entity", err)
	}
	entity.Version = version
	return nil
}

func (r *Repository) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE content_entity SET deleted_at = $2, updated_at = $2, version = version + 1
		WHERE id = $1`, id, at)
	if err != nil {
		return r.handlePostgresError("soft delete entity", err)
	}
	if tag.RowsAffected() == 0 {
		return contentasset.ErrEntityNotFound
	}
	return nil
}

func (r *Repository) ClearSoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE content_entity SET deleted_at = NULL, updated_at = now(), version = version + 1
		WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("restore entity", err)
	}
	if tag.RowsAffected() == 0 {
		return contentasset.ErrEntityNotFound
	}
	return nil
}

func (r *Repository) HardDelete(ctx context.Context, id uuid.UUID, version int64) error {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM content_entity
		WHERE id = $1 AND version = $2 AND deleted_at IS NOT NULL`, id, version)
	if err != nil {
		return r.handlePostgresError("hard delete entity", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	current, err := r.Find(ctx, id)
	if err != nil {
		return err
	}
	if current.DeletedAt == nil {
		return fmt.Errorf("%w: entity is not trashed", contentasset.ErrPreconditionFailed)
	}
	return fmt.Errorf("%w: stored version %d, have %d", contentasset.ErrConcurrentUpdate, current.Version, version)
}

func (r *Repository) List(ctx context.Context, params contentasset.ListParams) ([]*contentasset.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM content_entity WHERE entity_type = $1`
	if params.State == contentasset.StateTrashed {
		query += ` AND deleted_at IS NOT NULL ORDER BY deleted_at DESC, id`
	} else {
		query += ` AND deleted_at IS NULL ORDER BY created_at DESC, id`
	}
	args := []interface{}{string(params.Type)}
	if params.Limit > 0 {
		args = append(args, params.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if params.Offset > 0 {
		args = append(args, params.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError("list entities", err)
	}
	defer rows.Close()

	var result []*contentasset.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, r.handlePostgresError("scan entity", err)
		}
		result = append(result, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("iterate entity rows", err)
	}
	return result, nil
}

func (r *Repository) ReferencedBy(ctx context.Context, refs []string, exclude uuid.UUID) ([]string, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	query := `
		SELECT DISTINCT ref
		FROM content_entity, unnest(asset_refs) AS ref
		WHERE asset_refs && $1::text[] AND id <> $2 AND ref = ANY($1::text[])
		ORDER BY ref`

	rows, err := r.db.Query(ctx, query, refs, exclude)
	if err != nil {
		return nil, r.handlePostgresError("referenced by", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, r.handlePostgresError("scan reference", err)
		}
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("iterate references", err)
	}
	return out, nil
}

func (r *Repository) ForEachReference(ctx context.Context, fn func(ref string) error) error {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT unnest(asset_refs) FROM content_entity`)
	if err != nil {
		return r.handlePostgresError("list references", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return r.handlePostgresError("scan reference", err)
		}
		if err := fn(ref); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return r.handlePostgresError("iterate references", err)
	}
	return nil
}

// conflict explains why a versioned update matched no row
func (r *Repository) conflict(ctx context.Context, id uuid.UUID, version int64) error {
	var stored int64
	err := r.db.QueryRow(ctx, `SELECT version FROM content_entity WHERE id = $1`, id).Scan(&stored)
	if err != nil {
		return r.handlePostgresError("check version", err)
	}
	return fmt.Errorf("%w: stored version %d, have %d", contentasset.ErrConcurrentUpdate, stored, version)
}

func scanEntity(row pgx.Row) (*contentasset.Entity, error) {
	var (
		entity     contentasset.Entity
		entityType string
		body       []byte
		deletedAt  *time.Time
	)
	err := row.Scan(&entity.ID, &entityType, &body, &entity.References, &entity.Version,
		&entity.CreatedAt, &entity.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	entity.Type = contentasset.EntityType(entityType)
	if err := json.Unmarshal(body, &entity.Content); err != nil {
		return nil, fmt.Errorf("decode content of %s: %w", entity.ID, err)
	}
	entity.CreatedAt = entity.CreatedAt.UTC()
	entity.UpdatedAt = entity.UpdatedAt.UTC()
	if deletedAt != nil {
		t := deletedAt.UTC()
		entity.DeletedAt = &t
	}
	if len(entity.References) == 0 {
		entity.References = nil
	}
	return &entity, nil
}

func refsOrEmpty(refs []string) []string {
	if refs == nil {
		return []string{}
	}
	return refs
}
