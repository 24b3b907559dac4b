package contentasset

import (
	"context"

	"github.com/google/uuid"
)

// Hooks extend lifecycle behavior without modifying the service.
// Before hooks can veto an operation by returning an error; errors of after
// hooks are logged and never undo a committed operation.
type Hooks struct {
	BeforeSave       []BeforeSaveHook
	AfterSave        []AfterSaveHook
	BeforePurge      []BeforePurgeHook
	AfterPurge       []AfterPurgeHook
	OnReclaimWarning []ReclaimWarningHook
}

// HookContext carries information through the hook chain
type HookContext struct {
	Context   context.Context
	Metadata  map[string]interface{} // Custom metadata passed between hooks
	StopChain bool                   // Set to true to stop processing remaining hooks
}

// NewHookContext creates a new hook context
func NewHookContext(ctx context.Context) *HookContext {
	return &HookContext{
		Context:  ctx,
		Metadata: make(map[string]interface{}),
	}
}

// BeforeSaveHook is called with the normalized content before anything is
// uploaded. id is uuid.Nil for a create. The hook may modify content.
type BeforeSaveHook func(hctx *HookContext, entityType EntityType, id uuid.UUID, content *Content) error

// AfterSaveHook is called after the entity is persisted and orphans reclaimed
type AfterSaveHook func(hctx *HookContext, entity *Entity, result *SaveContentResult) error

// BeforePurgeHook is called before a trashed entity is permanently deleted
type BeforePurgeHook func(hctx *HookContext, entity *Entity) error

// AfterPurgeHook is called after the row is gone and its assets reclaimed
type AfterPurgeHook func(hctx *HookContext, entityType EntityType, id uuid.UUID, result *PurgeResult) error

// ReclaimWarningHook is called for every asset that could not be reclaimed
type ReclaimWarningHook func(hctx *HookContext, warning ReclaimWarning)

func (h *Hooks) executeBeforeSave(ctx context.Context, entityType EntityType, id uuid.UUID, content *Content) error {
	if h == nil || len(h.BeforeSave) == 0 {
		return nil
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.BeforeSave {
		if err := hook(hctx, entityType, id, content); err != nil {
			return err
		}
		if hctx.StopChain {
			break
		}
	}
	return nil
}

func (h *Hooks) executeAfterSave(ctx context.Context, entity *Entity, result *SaveContentResult) error {
	if h == nil || len(h.AfterSave) == 0 {
		return nil
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.AfterSave {
		if err := hook(hctx, entity, result); err != nil {
			return err
		}
		if hctx.StopChain {
			break
		}
	}
	return nil
}

func (h *Hooks) executeBeforePurge(ctx context.Context, entity *Entity) error {
	if h == nil || len(h.BeforePurge) == 0 {
		return nil
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.BeforePurge {
		if err := hook(hctx, entity); err != nil {
			return err
		}
		if hctx.StopChain {
			break
		}
	}
	return nil
}

func (h *Hooks) executeAfterPurge(ctx context.Context, entityType EntityType, id uuid.UUID, result *PurgeResult) error {
	if h == nil || len(h.AfterPurge) == 0 {
		return nil
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.AfterPurge {
		if err := hook(hctx, entityType, id, result); err != nil {
			return err
		}
		if hctx.StopChain {
			break
		}
	}
	return nil
}

func (h *Hooks) executeOnReclaimWarning(ctx context.Context, warning ReclaimWarning) {
	if h == nil || len(h.OnReclaimWarning) == 0 {
		return
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.OnReclaimWarning {
		hook(hctx, warning)
		if hctx.StopChain {
			break
		}
	}
}
