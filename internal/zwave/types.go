package zwave

import "time"

// NodeID identifies a node on the device network. Node 1 is
// conventionally the controller itself.
type NodeID uint8

// CommandClass identifies the command class a value belongs to.
type CommandClass byte

// Command classes the bridge understands. Values reported under other
// classes are ignored during scan.
const (
	ClassBasic            CommandClass = 0x20
	ClassSwitchBinary     CommandClass = 0x25
	ClassSwitchMultilevel CommandClass = 0x26
	ClassSensorBinary     CommandClass = 0x30
	ClassSensorMultilevel CommandClass = 0x31
	ClassBattery          CommandClass = 0x80
)

// ValueKind describes the shape of a value carried by a reading,
// a discovered value slot, or a command.
type ValueKind int

const (
	// KindBool is an on/off or triggered/clear value.
	KindBool ValueKind = iota

	// KindLevel is a dimmer position in the native 0-99 range.
	KindLevel

	// KindNumeric is a floating-point sensor reading.
	KindNumeric
)

// String returns a short name for logging.
func (k ValueKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindLevel:
		return "level"
	case KindNumeric:
		return "numeric"
	default:
		return "unknown"
	}
}

// ValueHandle addresses a single value on the network. It is stable
// across restarts for a given node and is treated as opaque by the
// layers above this package.
type ValueHandle struct {
	Node     NodeID
	Class    CommandClass
	Instance uint8
	Index    uint8
}

// ValueInfo describes a value slot discovered during a network scan.
type ValueInfo struct {
	Handle   ValueHandle
	Label    string
	Unit     string
	Kind     ValueKind
	ReadOnly bool
}

// Node is a device on the network together with its discovered values.
type Node struct {
	ID           NodeID
	Manufacturer string
	Product      string

	// Listening is true for mains-powered nodes that are always awake.
	// Battery nodes report only when they wake.
	Listening bool

	Values []ValueInfo
}

// Reading is a value report received from the network, either solicited
// by a refresh or sent spontaneously by a node.
type Reading struct {
	Handle  ValueHandle
	Kind    ValueKind
	Bool    bool
	Level   uint8
	Numeric float64
	Unit    string
	Time    time.Time
}

// CommandKind selects which field of a CommandValue carries the payload.
type CommandKind int

const (
	// CommandOnOff switches a binary actuator.
	CommandOnOff CommandKind = iota

	// CommandLevel moves a multilevel actuator to a 0-99 position.
	CommandLevel
)

// CommandValue is an outbound command for an actuator value.
type CommandValue struct {
	Kind  CommandKind
	On    bool
	Level uint8
}
