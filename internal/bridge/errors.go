package bridge

import "errors"

// Sentinel errors for bridge operations.
//
// None of these are fatal: decode and capability errors drop the
// offending message, command errors leave the pair pending until the
// timeout sweep settles it, and availability errors surface to the
// runtime's reconnect policy.
var (
	// ErrDecode indicates a malformed inbound payload or topic.
	ErrDecode = errors.New("bridge: decode error")

	// ErrUnsupportedCapability indicates a command targeted a read-only
	// or unknown capability.
	ErrUnsupportedCapability = errors.New("bridge: unsupported capability")

	// ErrDeviceCommand indicates the device network rejected or failed
	// a command call.
	ErrDeviceCommand = errors.New("bridge: device command failed")

	// ErrNetworkUnavailable indicates the device network link is down.
	ErrNetworkUnavailable = errors.New("bridge: device network unavailable")

	// ErrBusUnavailable indicates the message bus connection is down.
	ErrBusUnavailable = errors.New("bridge: bus unavailable")
)
