package device

import (
	"github.com/slvwolf/zwave-mqtt-bridge/internal/zwave"
)

// CapabilityKind is the closed set of capability variants the bridge
// supports. Anything a scan reports outside these kinds is dropped
// before it reaches the model.
type CapabilityKind int

const (
	// NumericSensor is a read-only numeric reading with a unit.
	NumericSensor CapabilityKind = iota

	// BinarySensor is a read-only on/off reading.
	BinarySensor

	// Switch is a writable on/off actuator.
	Switch

	// Dimmer is a writable 0-100 brightness level. A dimmable light
	// occupies two capability slots (a Switch and a Dimmer) sharing
	// one network handle; see Capability.Paired.
	Dimmer
)

// String returns the kind name used in topics and logs.
func (k CapabilityKind) String() string {
	switch k {
	case NumericSensor:
		return "sensor"
	case BinarySensor:
		return "binary_sensor"
	case Switch:
		return "switch"
	case Dimmer:
		return "dimmer"
	default:
		return "unknown"
	}
}

// Writable reports whether the kind accepts inbound commands.
func (k CapabilityKind) Writable() bool {
	return k == Switch || k == Dimmer
}

// ValueType tags the semantic type carried by a Value.
type ValueType int

const (
	// ValueUnknown means no value has been observed yet.
	ValueUnknown ValueType = iota

	// ValueBool is an on/off value.
	ValueBool

	// ValueNumber is a numeric value (sensor reading or brightness).
	ValueNumber
)

// Value is the last-known state of a capability. Capabilities start
// with ValueUnknown until the first event arrives.
type Value struct {
	Type   ValueType
	Bool   bool
	Number float64
}

// BoolValue builds an on/off value.
func BoolValue(on bool) Value {
	return Value{Type: ValueBool, Bool: on}
}

// NumberValue builds a numeric value.
func NumberValue(n float64) Value {
	return Value{Type: ValueNumber, Number: n}
}

// Known reports whether a value has been observed.
func (v Value) Known() bool {
	return v.Type != ValueUnknown
}

// SyncState tracks where a capability sits in the publish/confirm cycle.
type SyncState int

const (
	// StateUnknown: no value observed since startup.
	StateUnknown SyncState = iota

	// StateSynced: model value matches the last published state.
	StateSynced

	// StatePending: a command was issued and the confirming network
	// report has not arrived yet.
	StatePending
)

// String returns a short name for logging.
func (s SyncState) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateSynced:
		return "synced"
	case StatePending:
		return "pending_command"
	default:
		return "invalid"
	}
}

// Capability is one observable or controllable facet of a device.
type Capability struct {
	// Kind selects the adapter and topic domain.
	Kind CapabilityKind

	// Index is the capability's stable position within the device,
	// used in topics. Assigned at scan time, never reused.
	Index int

	// Label is the human-readable name from the scan (e.g.,
	// "Temperature", "Switch").
	Label string

	// Unit annotates numeric sensors (e.g., "C", "%"). Empty otherwise.
	Unit string

	// Handle addresses the value on the device network. Present for
	// all kinds; only writable kinds use it to issue commands.
	Handle zwave.ValueHandle

	// Paired is the index of the partner slot for dimmable lights
	// (the Switch slot points at the Dimmer slot and vice versa), or
	// -1 when the capability stands alone.
	Paired int

	// Value is the last-known state.
	Value Value

	// Sync is the synchronizer's state for this slot.
	Sync SyncState

	// LastBrightness remembers the last non-zero brightness of a
	// Dimmer slot so a bare "on" can restore it.
	LastBrightness float64
}

// Device is a node on the network together with its capability slots.
type Device struct {
	ID   zwave.NodeID
	Name string

	// Alive is cleared when the network stops reporting the node.
	Alive bool

	// Capabilities are ordered by Index.
	Capabilities []Capability
}

// Capability returns the slot with the given index.
func (d *Device) Capability(index int) (*Capability, bool) {
	for i := range d.Capabilities {
		if d.Capabilities[i].Index == index {
			return &d.Capabilities[i], true
		}
	}
	return nil, false
}

// copy returns a deep copy safe to hand outside the model.
func (d *Device) copy() Device {
	out := *d
	out.Capabilities = make([]Capability, len(d.Capabilities))
	copy(out.Capabilities, d.Capabilities)
	return out
}
