package zwave

import (
	"context"
	"errors"
)

// Sentinel errors for controller operations.
var (
	// ErrNotConnected indicates the controller link is down.
	ErrNotConnected = errors.New("zwave: controller not connected")

	// ErrTimeout indicates a node did not acknowledge a command in time.
	ErrTimeout = errors.New("zwave: command timed out")

	// ErrUnknownNode indicates a command addressed a node the scan
	// never reported.
	ErrUnknownNode = errors.New("zwave: unknown node")

	// ErrUnsupportedCommand indicates the target value cannot accept
	// the given command kind.
	ErrUnsupportedCommand = errors.New("zwave: unsupported command")
)

// Controller is the bridge's view of the device network.
//
// The serialapi package provides the hardware implementation; tests use
// an in-memory fake. All methods must be safe for concurrent use.
type Controller interface {
	// Scan enumerates the nodes on the network and their value slots.
	// It is called once at startup and again on operator request.
	Scan(ctx context.Context) ([]Node, error)

	// SetOnValueChanged registers the callback invoked for every value
	// report received from the network. Must be called before Scan so
	// reports arriving during enumeration are not lost.
	SetOnValueChanged(fn func(Reading))

	// SendCommand issues a command to the value addressed by the handle.
	// A nil error means the controller accepted the command, not that
	// the node applied it; the eventual report confirms that.
	SendCommand(ctx context.Context, handle ValueHandle, cmd CommandValue) error

	// RequestValue asks the node to report the handle's current value.
	// The answer arrives through the value-changed callback.
	RequestValue(ctx context.Context, handle ValueHandle) error

	// IsConnected reports whether the controller link is up.
	IsConnected() bool

	// Close shuts down the controller link.
	Close() error
}
