package contentasset

import (
	"github.com/google/uuid"
)

// SaveContentRequest contains parameters for creating or editing an entity.
// A nil ID creates a new entity.
type SaveContentRequest struct {
	Type    EntityType
	ID      *uuid.UUID
	Content Content

	// ExpectedVersion, when non-zero, must match the stored version.
	ExpectedVersion int64
}

// SaveContentResult is returned by a successful save
type SaveContentResult struct {
	ID      uuid.UUID
	Version int64
	Content Content

	Uploaded  []string
	Orphaned  []string
	Reclaimed []string
	Warnings  []ReclaimWarning
}

// PurgeResult is returned by a successful permanent delete
type PurgeResult struct {
	Reclaimed []string
	Warnings  []ReclaimWarning
}

// UploadResult describes a directly uploaded asset
type UploadResult struct {
	Reference string
	// ContentType is the stored type, sniffed when none was declared
	ContentType string
	Size        int64
}

// ListContentRequest contains parameters for listing entities
type ListContentRequest struct {
	Type   EntityType
	State  LifecycleState
	Limit  int
	Offset int
}

// BulkResult maps every requested id to its outcome; nil means success.
type BulkResult map[uuid.UUID]error

// Succeeded returns the ids whose operation succeeded.
func (r BulkResult) Succeeded() []uuid.UUID {
	var out []uuid.UUID
	for id, err := range r {
		if err == nil {
			out = append(out, id)
		}
	}
	return out
}

// Failed returns the ids whose operation failed, with their errors.
func (r BulkResult) Failed() map[uuid.UUID]error {
	out := make(map[uuid.UUID]error)
	for id, err := range r {
		if err != nil {
			out[id] = err
		}
	}
	return out
}
