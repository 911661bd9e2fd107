package fraud

import "errors"

var (
	// ErrNotFound is returned by stores when an entity does not exist.
	ErrNotFound = errors.New("fraud: not found")

	// ErrConflict is returned when an optimistic write lost a race; callers
	// retry with a reloaded entity.
	ErrConflict = errors.New("fraud: version conflict")

	// ErrInvalidEvent is returned when an inbound event fails validation.
	ErrInvalidEvent = errors.New("fraud: invalid event")

	// ErrInsufficientData is returned when a computation would run on fewer
	// trades than the configured minimum.
	ErrInsufficientData = errors.New("fraud: insufficient data")

	// ErrInvalidTransition is returned for disallowed alert status changes.
	ErrInvalidTransition = errors.New("fraud: invalid status transition")
)
