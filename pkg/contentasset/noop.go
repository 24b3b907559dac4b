package contentasset

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// NoopEventSink is a no-operation implementation of EventSink
// Useful for production when you don't need event handling or for testing
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

func (n *NoopEventSink) EntitySaved(ctx context.Context, entity *Entity) error {
	return nil
}

func (n *NoopEventSink) EntityTrashed(ctx context.Context, entity *Entity) error {
	return nil
}

func (n *NoopEventSink) EntityRestored(ctx context.Context, entity *Entity) error {
	return nil
}

func (n *NoopEventSink) EntityPurged(ctx context.Context, entityType EntityType, id uuid.UUID, reclaimed []string) error {
	return nil
}

func (n *NoopEventSink) AssetsReclaimed(ctx context.Context, entityType EntityType, id uuid.UUID, refs []string) error {
	return nil
}

func (n *NoopEventSink) ReclaimFailed(ctx context.Context, warning ReclaimWarning) error {
	return nil
}

// LoggingEventSink is an event sink that logs events but takes no other action
// Useful for development and debugging
type LoggingEventSink struct {
	logger *slog.Logger
}

// NewLoggingEventSink creates a new logging event sink
func NewLoggingEventSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingEventSink{logger: logger}
}

// EntitySaved logs the save event
func (l *LoggingEventSink) EntitySaved(ctx context.Context, entity *Entity) error {
	l.logger.InfoContext(ctx, "entity saved",
		"entity_type", entity.Type, "entity_id", entity.ID,
		"version", entity.Version, "references", len(entity.References))
	return nil
}

// EntityTrashed logs the trash event
func (l *LoggingEventSink) EntityTrashed(ctx context.Context, entity *Entity) error {
	l.logger.InfoContext(ctx, "entity trashed", "entity_type", entity.Type, "entity_id", entity.ID)
	return nil
}

// EntityRestored logs the restore event
func (l *LoggingEventSink) EntityRestored(ctx context.Context, entity *Entity) error {
	l.logger.InfoContext(ctx, "entity restored", "entity_type", entity.Type, "entity_id", entity.ID)
	return nil
}

// EntityPurged logs the permanent delete event
func (l *LoggingEventSink) EntityPurged(ctx context.Context, entityType EntityType, id uuid.UUID, reclaimed []string) error {
	l.logger.InfoContext(ctx, "entity purged", "entity_type", entityType, "entity_id", id, "reclaimed", len(reclaimed))
	return nil
}

// AssetsReclaimed logs the orphans deleted after a save
func (l *LoggingEventSink) AssetsReclaimed(ctx context.Context, entityType EntityType, id uuid.UUID, refs []string) error {
	l.logger.InfoContext(ctx, "assets reclaimed", "entity_type", entityType, "entity_id", id, "references", refs)
	return nil
}

// ReclaimFailed logs a reclaim warning
func (l *LoggingEventSink) ReclaimFailed(ctx context.Context, warning ReclaimWarning) error {
	l.logger.WarnContext(ctx, "asset reclaim failed",
		"reference", warning.Reference, "entity_type", warning.EntityType,
		"entity_id", warning.EntityID, "op", warning.Op, "reason", warning.Err)
	return nil
}
