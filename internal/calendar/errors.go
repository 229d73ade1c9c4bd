package calendar

import (
	"errors"

	"academycal/internal/model"
	"academycal/internal/store"
)

var (
	// ErrNotFound: the id does not resolve to a live row.
	ErrNotFound = store.ErrNotFound

	// ErrInvalidInput: malformed arguments or an event that fails validation.
	ErrInvalidInput = model.ErrInvalid

	// ErrPreconditionFailed: a series-only operation was aimed at a
	// non-recurring event.
	ErrPreconditionFailed = errors.New("precondition failed")
)
