package contentasset

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrEntityNotFound indicates the entity does not exist (or is Gone)
	ErrEntityNotFound = errors.New("entity not found")

	// ErrUnknownEntityType indicates no Kind is registered for the entity type
	ErrUnknownEntityType = errors.New("unknown entity type")

	// ErrInvalidContent indicates the content does not fit its Kind or
	// references an asset that does not exist
	ErrInvalidContent = errors.New("invalid content")

	// ErrInvalidPayload indicates an inline payload could not be decoded or
	// is not an accepted image
	ErrInvalidPayload = errors.New("invalid inline payload")

	// ErrUploadFailed indicates an inline payload could not be stored
	ErrUploadFailed = errors.New("upload failed")

	// ErrPersistFailed indicates the repository write failed
	ErrPersistFailed = errors.New("persist failed")

	// ErrPreconditionFailed indicates the entity is in the wrong lifecycle state
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrConcurrentUpdate indicates the entity changed since it was read
	ErrConcurrentUpdate = errors.New("concurrent update")

	// ErrAssetNotFound indicates a blob is absent from the backend
	ErrAssetNotFound = errors.New("asset not found")

	// ErrInvalidReference indicates a string is not a managed reference
	ErrInvalidReference = errors.New("invalid reference")

	// ErrReferenceInUse indicates an asset is still reachable from an entity
	ErrReferenceInUse = errors.New("reference in use")

	// ErrGraceTooShort indicates a sweep grace below MinSweepGrace
	ErrGraceTooShort = errors.New("sweep grace too short")
)

// EntityError represents an error related to a lifecycle operation
type EntityError struct {
	Type EntityType
	ID   uuid.UUID
	Op   string
	Err  error
}

func (e *EntityError) Error() string {
	if e.ID == uuid.Nil {
		return fmt.Sprintf("entity operation %s failed for %s: %v", e.Op, e.Type, e.Err)
	}
	return fmt.Sprintf("entity operation %s failed for %s %s: %v", e.Op, e.Type, e.ID, e.Err)
}

func (e *EntityError) Unwrap() error {
	return e.Err
}

// UploadError reports the inline payload that could not be stored.
// It matches both ErrUploadFailed and the underlying cause.
type UploadError struct {
	Location string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload of inline payload at %s failed: %v", e.Location, e.Err)
}

func (e *UploadError) Unwrap() []error {
	return []error{ErrUploadFailed, e.Err}
}

// StorageError represents an error related to storage operations
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ReclaimWarning records an asset that should have been deleted but was not.
// It is logged and recorded, never returned as an error.
type ReclaimWarning struct {
	Reference  string
	EntityType EntityType
	EntityID   uuid.UUID
	Op         string
	Err        error
}

func (w ReclaimWarning) String() string {
	return fmt.Sprintf("reclaim %s of %s (%s %s): %v", w.Op, w.Reference, w.EntityType, w.EntityID, w.Err)
}
