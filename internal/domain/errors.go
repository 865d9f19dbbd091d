package domain

import "errors"

// Domain errors.
var (
	// ErrEmptyURL is returned when a request carries no source URL.
	ErrEmptyURL = errors.New("url is required")

	// ErrInvalidKind is returned when a download kind is neither video nor audio.
	ErrInvalidKind = errors.New("invalid download kind")

	// ErrStorageFull is returned when there is insufficient storage space.
	ErrStorageFull = errors.New("insufficient storage space")

	// ErrUnknownCounterDriver is returned when the counter backend is not recognised.
	ErrUnknownCounterDriver = errors.New("unknown counter driver")

	// ErrPoolStopped is returned when work is submitted after shutdown.
	ErrPoolStopped = errors.New("extraction pool stopped")
)

// UnexpectedPrefix marks failures that originate in this service rather than in
// the remote site or the extraction engine.
const UnexpectedPrefix = "Unexpected error: "

// QueryError is returned by metadata lookups. Message is the text surfaced to
// callers; Err keeps the underlying cause for errors.Is/As.
type QueryError struct {
	Message string
	Err     error
}

func (e *QueryError) Error() string {
	return e.Message
}

func (e *QueryError) Unwrap() error {
	return e.Err
}
