package domain

import "errors"

var (
	// ErrInvalidParticipants is returned when a pair of identities is empty
	// or names the same user twice.
	ErrInvalidParticipants = errors.New("invalid participants")

	// ErrEmptyMessage is returned when a message has no text after trimming.
	ErrEmptyMessage = errors.New("message text is empty")

	// ErrPartialGraphUpdate means only one side of a follow edge was
	// written. The wrapped error carries the cause and, when the
	// compensating write failed too, that error as well.
	ErrPartialGraphUpdate = errors.New("partial graph update")

	// ErrTransientTransport marks a recoverable interruption of a change
	// feed or a store round trip.
	ErrTransientTransport = errors.New("transient transport failure")

	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrInvalidField    = errors.New("invalid field")
	ErrInvalidDocument = errors.New("invalid document")
)
