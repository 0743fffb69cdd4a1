package dbus

import "errors"

// Sentinel errors for D-Bus operations.
var (
	// ErrConnectionFailed indicates the bus could not be dialled or authenticated.
	ErrConnectionFailed = errors.New("dbus: connection failed")

	// ErrNotConnected is returned for operations on a closed client.
	ErrNotConnected = errors.New("dbus: not connected")

	// ErrCallFailed wraps errors from request/response method calls.
	ErrCallFailed = errors.New("dbus: call failed")

	// ErrNameTaken indicates the well-known name is owned by another connection.
	ErrNameTaken = errors.New("dbus: name already owned")

	// ErrExportFailed indicates an object could not be exported.
	ErrExportFailed = errors.New("dbus: export failed")

	// ErrUnsupportedKind is returned for value kinds the codec does not handle.
	ErrUnsupportedKind = errors.New("dbus: unsupported value kind")

	// ErrTypeMismatch is returned when a value cannot be coerced to a kind.
	ErrTypeMismatch = errors.New("dbus: value does not match kind")
)
