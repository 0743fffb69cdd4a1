package vedbus

import "errors"

// Error taxonomy for the protocol service. Only ErrTransport (on the
// initial dial) and ErrNameNotAcquired fail Init; the rest are logged and
// leave the service in a degraded but usable state.
var (
	// ErrTransport wraps bus connection failures.
	ErrTransport = errors.New("vedbus: transport error")

	// ErrRegistration indicates the settings registrar was unreachable or
	// answered with something unparseable.
	ErrRegistration = errors.New("vedbus: registration failed")

	// ErrAnnouncement indicates the discovery broadcast failed.
	ErrAnnouncement = errors.New("vedbus: announcement failed")

	// ErrNameNotAcquired indicates the well-known service name could not be claimed.
	ErrNameNotAcquired = errors.New("vedbus: service name not acquired")

	// ErrValidation indicates an update was rejected (non-finite number,
	// wrong type); the previous value is kept.
	ErrValidation = errors.New("vedbus: invalid value")

	// ErrNoSerial indicates change signals were suppressed because the
	// device has no serial number yet.
	ErrNoSerial = errors.New("vedbus: no serial, signals suppressed")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("vedbus: service closed")
)
