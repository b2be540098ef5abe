package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("document not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStaleState        = errors.New("stale document state")
	ErrConflict          = errors.New("publish already in progress")
	ErrTemporary         = errors.New("temporary failure")
	ErrFatal             = errors.New("fatal failure")
)

// Failure reasons recorded on transitions into the failed status.
const (
	ReasonCancelled              = "cancelled"
	ReasonImportRetriesExhausted = "import_retries_exhausted"
	ReasonRetriesExhausted       = "retries_exhausted"
	ReasonSourceChanged          = "source_changed"
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
