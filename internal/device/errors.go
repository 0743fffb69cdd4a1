package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrCreationTimeout) {
//	    // drop the update; the next one retries
//	}
var (
	// ErrUnknownDeviceType is returned for paths that map to no device class.
	ErrUnknownDeviceType = errors.New("device: path does not map to a device")

	// ErrCreationTimeout is returned when waiting for another caller's
	// in-flight creation exceeds the bound.
	ErrCreationTimeout = errors.New("device: timed out waiting for creation")

	// ErrCreationFailed wraps index, naming or service construction errors.
	ErrCreationFailed = errors.New("device: creation failed")

	// ErrClosed is returned after the registry has been closed.
	ErrClosed = errors.New("device: registry closed")
)
