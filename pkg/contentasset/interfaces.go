package contentasset

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// AssetStore persists image bytes under references it generates.
//
// Put never overwrites an existing reference. Delete of a reference that is
// not stored is a successful no-op.
type AssetStore interface {
	// Put stores data and returns its new, unique reference
	Put(ctx context.Context, data []byte, contentType string) (string, error)

	// Delete removes the asset behind reference
	Delete(ctx context.Context, reference string) error

	// Exists reports whether reference is currently stored
	Exists(ctx context.Context, reference string) (bool, error)
}

// AssetLister enumerates stored assets. Stores that implement it can be swept.
type AssetLister interface {
	Walk(ctx context.Context, fn func(AssetInfo) error) error
}

// AssetInfo describes a stored asset
type AssetInfo struct {
	Reference   string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
}

// BlobStore defines the interface for storage backends addressed by object key
type BlobStore interface {
	// UploadWithParams uploads content under params.ObjectKey
	UploadWithParams(ctx context.Context, reader io.Reader, params UploadParams) error

	// Download downloads content directly
	Download(ctx context.Context, objectKey string) (io.ReadCloser, error)

	// Delete deletes content; a missing key is not an error
	Delete(ctx context.Context, objectKey string) error

	// GetObjectMeta retrieves metadata for an object, ErrAssetNotFound if absent
	GetObjectMeta(ctx context.Context, objectKey string) (*ObjectMeta, error)

	// List calls fn for every object whose key starts with prefix
	List(ctx context.Context, prefix string, fn func(ObjectMeta) error) error
}

// ObjectMeta contains metadata about an object in storage
type ObjectMeta struct {
	Key         string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
	ETag        string
}

// UploadParams contains parameters for uploading an object
type UploadParams struct {
	ObjectKey string
	MimeType  string
	Size      int64
}

// Repository persists entity rows and their soft-delete state.
type Repository interface {
	// Find returns the entity whether active or trashed; ErrEntityNotFound once it is gone
	Find(ctx context.Context, id uuid.UUID) (*Entity, error)

	// Create inserts a new entity with version 1
	Create(ctx context.Context, entity *Entity) error

	// Update replaces content and references if the stored version equals
	// entity.Version, then increments entity.Version. ErrConcurrentUpdate otherwise.
	Update(ctx context.Context, entity *Entity) error

	// SoftDelete marks the entity trashed and bumps its version
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error

	// ClearSoftDelete marks the entity active and bumps its version
	ClearSoftDelete(ctx context.Context, id uuid.UUID) error

	// HardDelete removes a trashed row if it is still at version
	HardDelete(ctx context.Context, id uuid.UUID, version int64) error

	// List returns entities of one type and state, newest first
	List(ctx context.Context, params ListParams) ([]*Entity, error)

	// ReferencedBy returns the subset of refs referenced by any entity other than exclude
	ReferencedBy(ctx context.Context, refs []string, exclude uuid.UUID) ([]string, error)

	// ForEachReference calls fn once for every reference held by any entity
	ForEachReference(ctx context.Context, fn func(ref string) error) error
}

// ListParams filters Repository.List
type ListParams struct {
	Type   EntityType
	State  LifecycleState
	Limit  int
	Offset int
}

// LeakLedger remembers assets whose reclamation failed so they can be retried.
type LeakLedger interface {
	// Record adds a leak or refreshes an existing one
	Record(ctx context.Context, leak Leak) error

	// Pending returns up to limit leaks, oldest first
	Pending(ctx context.Context, limit int) ([]Leak, error)

	// Resolve forgets a reference
	Resolve(ctx context.Context, reference string) error
}

// Leak is a ledger entry for an asset that should no longer exist
type Leak struct {
	Reference  string     `json:"reference" cbor:"1,keyasint"`
	EntityType EntityType `json:"entity_type,omitempty" cbor:"2,keyasint,omitempty"`
	EntityID   uuid.UUID  `json:"entity_id" cbor:"3,keyasint"`
	Reason     string     `json:"reason,omitempty" cbor:"4,keyasint,omitempty"`
	Attempts   int        `json:"attempts" cbor:"5,keyasint"`
	FirstSeen  time.Time  `json:"first_seen" cbor:"6,keyasint"`
	LastSeen   time.Time  `json:"last_seen" cbor:"7,keyasint"`
}

// MergeLeak folds a new observation of a reference into the recorded one.
// The first sighting and the highest attempt count are kept.
func MergeLeak(existing, next Leak) Leak {
	merged := next
	if !existing.FirstSeen.IsZero() && (merged.FirstSeen.IsZero() || existing.FirstSeen.Before(merged.FirstSeen)) {
		merged.FirstSeen = existing.FirstSeen
	}
	if existing.LastSeen.After(merged.LastSeen) {
		merged.LastSeen = existing.LastSeen
	}
	if existing.Attempts > merged.Attempts {
		merged.Attempts = existing.Attempts
	}
	if merged.EntityID == uuid.Nil {
		merged.EntityType = existing.EntityType
		merged.EntityID = existing.EntityID
	}
	return merged
}

// EventSink defines the interface for lifecycle event handling
type EventSink interface {
	// EntitySaved is fired after a successful save
	EntitySaved(ctx context.Context, entity *Entity) error

	// EntityTrashed is fired after an entity moves to the trash
	EntityTrashed(ctx context.Context, entity *Entity) error

	// EntityRestored is fired after an entity leaves the trash
	EntityRestored(ctx context.Context, entity *Entity) error

	// EntityPurged is fired after a permanent delete
	EntityPurged(ctx context.Context, entityType EntityType, id uuid.UUID, reclaimed []string) error

	// AssetsReclaimed is fired after orphans of a save were deleted
	AssetsReclaimed(ctx context.Context, entityType EntityType, id uuid.UUID, refs []string) error

	// ReclaimFailed is fired for every reclaim warning
	ReclaimFailed(ctx context.Context, warning ReclaimWarning) error
}
