package signalk

import "errors"

var (
	// ErrInvalidPayload indicates a message that is not valid Signal K JSON.
	ErrInvalidPayload = errors.New("signalk: invalid payload")

	// ErrForeignContext indicates a delta for another vessel.
	ErrForeignContext = errors.New("signalk: delta is not for the own vessel")

	// ErrInvalidPath indicates an empty or malformed Signal K path.
	ErrInvalidPath = errors.New("signalk: invalid path")
)
