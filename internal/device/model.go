package device

import (
	"fmt"
	"sort"
	"sync"

	"github.com/slvwolf/zwave-mqtt-bridge/internal/zwave"
)

// Logger defines the logging interface used by the Model.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Model is the in-memory device table.
//
// All public methods are thread-safe. Returned devices are deep copies;
// callers can safely inspect them without holding any lock.
type Model struct {
	mu      sync.RWMutex
	devices map[zwave.NodeID]*Device
	logger  Logger
}

// NewModel creates an empty model.
func NewModel() *Model {
	return &Model{
		devices: make(map[zwave.NodeID]*Device),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the model.
func (m *Model) SetLogger(logger Logger) {
	m.logger = logger
}

// Upsert adds a device or merges capabilities into an existing one.
//
// Idempotent: repeating an upsert with the same capabilities changes
// nothing. Capabilities are merged by (kind, index) union; previously
// known capabilities are never dropped, and their observed values and
// sync states survive the merge. Liveness is set true on every upsert.
//
// Parameters:
//   - id: Device network identity
//   - name: Human-readable name
//   - caps: Capability slots from the scan
func (m *Model) Upsert(id zwave.NodeID, name string, caps []Capability) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.devices[id]
	if !ok {
		d := &Device{ID: id, Name: name, Alive: true}
		d.Capabilities = append(d.Capabilities, caps...)
		sort.Slice(d.Capabilities, func(i, j int) bool {
			return d.Capabilities[i].Index < d.Capabilities[j].Index
		})
		m.devices[id] = d
		m.logger.Info("device added", "id", id, "name", name, "capabilities", len(caps))
		return
	}

	existing.Alive = true
	if name != "" {
		existing.Name = name
	}

	added := 0
	for _, c := range caps {
		if m.hasCapability(existing, c.Kind, c.Index) {
			continue
		}
		existing.Capabilities = append(existing.Capabilities, c)
		added++
	}
	if added > 0 {
		sort.Slice(existing.Capabilities, func(i, j int) bool {
			return existing.Capabilities[i].Index < existing.Capabilities[j].Index
		})
		m.logger.Info("device capabilities merged", "id", id, "added", added)
	}
}

func (m *Model) hasCapability(d *Device, kind CapabilityKind, index int) bool {
	for i := range d.Capabilities {
		if d.Capabilities[i].Kind == kind && d.Capabilities[i].Index == index {
			return true
		}
	}
	return false
}

// Get returns a deep copy of a device.
func (m *Model) Get(id zwave.NodeID) (Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.devices[id]
	if !ok {
		return Device{}, fmt.Errorf("%w: node %d", ErrNotFound, id)
	}
	return d.copy(), nil
}

// List returns deep copies of all devices, ordered by identity.
func (m *Model) List() []Device {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d.copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetCapabilityValue records an observed or commanded value.
//
// This is the single writer path for capability state. The value's
// semantic type must match the capability kind: bool for binary sensors
// and switches, number for numeric sensors and dimmers.
//
// A non-zero dimmer value also updates LastBrightness so a later bare
// "on" can restore it. The sync state moves to the given state.
//
// Parameters:
//   - id: Device identity
//   - capIndex: Capability slot index
//   - v: New value
//   - sync: Sync state to record alongside the value
//
// Returns:
//   - Capability: Copy of the updated slot
//   - error: ErrNotFound, ErrUnknownCapability or ErrTypeMismatch
func (m *Model) SetCapabilityValue(id zwave.NodeID, capIndex int, v Value, sync SyncState) (Capability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[id]
	if !ok {
		return Capability{}, fmt.Errorf("%w: node %d", ErrNotFound, id)
	}
	c, ok := d.Capability(capIndex)
	if !ok {
		return Capability{}, fmt.Errorf("%w: node %d index %d", ErrUnknownCapability, id, capIndex)
	}

	if err := checkValueType(c.Kind, v); err != nil {
		return Capability{}, err
	}

	c.Value = v
	c.Sync = sync
	if c.Kind == Dimmer && v.Type == ValueNumber && v.Number > 0 {
		c.LastBrightness = v.Number
	}

	return *c, nil
}

// checkValueType validates a value's semantic type against a kind.
func checkValueType(kind CapabilityKind, v Value) error {
	switch kind {
	case BinarySensor, Switch:
		if v.Type != ValueBool {
			return fmt.Errorf("%w: %s requires bool, got type %d", ErrTypeMismatch, kind, v.Type)
		}
	case NumericSensor, Dimmer:
		if v.Type != ValueNumber {
			return fmt.Errorf("%w: %s requires number, got type %d", ErrTypeMismatch, kind, v.Type)
		}
	}
	return nil
}

// MarkSync moves a capability's sync state without touching its value.
//
// Used by the synchronizer for the pending-command transitions.
func (m *Model) MarkSync(id zwave.NodeID, capIndex int, sync SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[id]
	if !ok {
		return fmt.Errorf("%w: node %d", ErrNotFound, id)
	}
	c, ok := d.Capability(capIndex)
	if !ok {
		return fmt.Errorf("%w: node %d index %d", ErrUnknownCapability, id, capIndex)
	}

	c.Sync = sync
	return nil
}

// SetLiveness flags a device as reachable or not. Unknown identities
// are a no-op, matching the scan-only creation rule.
func (m *Model) SetLiveness(id zwave.NodeID, alive bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.devices[id]; ok {
		d.Alive = alive
	}
}

// FindByHandle locates the capability bound to a network handle.
//
// Dimmable lights share one handle between two slots; the returned
// indexes list every slot bound to it, in index order.
func (m *Model) FindByHandle(handle zwave.ValueHandle) (zwave.NodeID, []int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.devices[handle.Node]
	if !ok {
		return 0, nil, false
	}

	var indexes []int
	for i := range d.Capabilities {
		if d.Capabilities[i].Handle == handle {
			indexes = append(indexes, d.Capabilities[i].Index)
		}
	}
	if len(indexes) == 0 {
		return 0, nil, false
	}
	return d.ID, indexes, true
}
