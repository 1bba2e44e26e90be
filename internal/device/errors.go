package device

import "errors"

// Sentinel errors for model operations.
//
// These can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, device.ErrNotFound) {
//	    // Device never appeared in a scan
//	}
var (
	// ErrNotFound indicates the device identity is not in the model.
	ErrNotFound = errors.New("device: not found")

	// ErrUnknownCapability indicates the capability index does not
	// exist on the device.
	ErrUnknownCapability = errors.New("device: unknown capability")

	// ErrTypeMismatch indicates a value's semantic type does not match
	// the capability kind (e.g., a number written to a binary sensor).
	ErrTypeMismatch = errors.New("device: value type mismatch")
)
