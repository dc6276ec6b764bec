package domain

import "errors"

// Sentinel errors for the chat domain. These provide consistent, checkable
// errors for failures shared across the chat packages.
var (
	ErrNotFound = errors.New("requested resource not found")

	// ErrStale is returned when an asynchronous result arrives after the
	// context that requested it is no longer current.
	ErrStale = errors.New("response is stale")

	ErrInvalidInput = errors.New("invalid input")
)
