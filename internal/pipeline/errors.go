package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means a referenced opportunity or contact does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidStage means the target is not one of the eight pipeline stages.
	ErrInvalidStage = errors.New("invalid stage")
	// ErrAlreadySent means an outreach or follow-up was already recorded.
	ErrAlreadySent = errors.New("already sent")
	// ErrPrecondition means the operation is not allowed in the current state,
	// e.g. a follow-up before its window opens.
	ErrPrecondition = errors.New("precondition failed")
	// ErrStore wraps failures of the underlying entity store. The operation
	// that returned it had no effect.
	ErrStore = errors.New("store error")
)

var domainErrors = []error{ErrNotFound, ErrInvalidStage, ErrAlreadySent, ErrPrecondition, ErrStore}

// Kind returns a stable identifier for err, used by the CLI and HTTP layers.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "NotFoundError"
	case errors.Is(err, ErrInvalidStage):
		return "InvalidStageError"
	case errors.Is(err, ErrAlreadySent):
		return "AlreadySentError"
	case errors.Is(err, ErrPrecondition):
		return "PreconditionError"
	case errors.Is(err, ErrStore):
		return "StoreError"
	default:
		return "InternalError"
	}
}

// classify passes domain errors through and wraps everything else as ErrStore.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, d := range domainErrors {
		if errors.Is(err, d) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrStore, err)
}

func notFound(entity string, id int64) error {
	return fmt.Errorf("%w: %s %d", ErrNotFound, entity, id)
}
