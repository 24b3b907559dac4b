package contentasset

import "fmt"

// canEdit checks if an entity can be saved in its current state.
// Trashed entities have to be restored before they can be edited.
func canEdit(state LifecycleState) error {
	switch state {
	case StateActive:
		return nil
	case StateTrashed:
		return fmt.Errorf("%w: entity is trashed, restore it before editing", ErrPreconditionFailed)
	default:
		return fmt.Errorf("%w: cannot edit entity in state %s", ErrPreconditionFailed, state)
	}
}

// canTrash reports whether a trash is needed. Trashing a trashed entity is a no-op.
func canTrash(state LifecycleState) (bool, error) {
	switch state {
	case StateActive:
		return true, nil
	case StateTrashed:
		return false, nil
	default:
		return false, fmt.Errorf("%w: cannot trash entity in state %s", ErrPreconditionFailed, state)
	}
}

// canRestore reports whether a restore is needed. Restoring an active entity is a no-op.
func canRestore(state LifecycleState) (bool, error) {
	switch state {
	case StateTrashed:
		return true, nil
	case StateActive:
		return false, nil
	default:
		return false, fmt.Errorf("%w: cannot restore entity in state %s", ErrPreconditionFailed, state)
	}
}

// canPurge checks if an entity can be permanently deleted.
func canPurge(state LifecycleState) error {
	switch state {
	case StateTrashed:
		return nil
	case StateActive:
		return fmt.Errorf("%w: entity is active, trash it before deleting permanently", ErrPreconditionFailed)
	default:
		return fmt.Errorf("%w: cannot delete entity in state %s", ErrPreconditionFailed, state)
	}
}
