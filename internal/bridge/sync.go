package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/slvwolf/zwave-mqtt-bridge/internal/device"
	"github.com/slvwolf/zwave-mqtt-bridge/internal/zwave"
)

// Queue and timing constants.
const (
	// eventQueueSize bounds the network report queue.
	eventQueueSize = 256

	// commandQueueSize bounds the inbound command queue.
	commandQueueSize = 64

	// defaultPendingTimeout settles a pending command when no
	// confirming report arrives.
	defaultPendingTimeout = 10 * time.Second

	// pendingSweepInterval is how often expired pendings are settled.
	pendingSweepInterval = 500 * time.Millisecond

	// commandCallTimeout bounds a single controller command call.
	commandCallTimeout = 5 * time.Second
)

// Bus is the interface for message bus operations.
// This allows mocking in tests and flexibility in implementation.
type Bus interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Logger is the optional structured logging interface.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// EventRecorder journals events and commands for diagnostics. Optional;
// a nil recorder disables journaling. Implementations must not block.
type EventRecorder interface {
	RecordEvent(node int, slot int, capability, value, source string)
	RecordCommand(node int, slot int, capability, payload, outcome, detail string)
}

// Telemetry exports numeric sensor readings. Optional.
type Telemetry interface {
	WriteSensorReading(nodeID int, slotIndex int, label string, value float64)
	WriteBatteryLevel(nodeID int, percent float64)
}

// SynchronizerOptions configures a Synchronizer.
type SynchronizerOptions struct {
	Model      *device.Model
	Router     Router
	Bus        Bus
	Controller zwave.Controller

	// QoS for all state publishes and the command subscription.
	QoS byte

	// RetainState controls retention of state messages. Discovery is
	// always retained regardless.
	RetainState bool

	// OptimisticEcho publishes the commanded value immediately while
	// awaiting the confirming network report.
	OptimisticEcho bool

	// PendingTimeout settles a command with no confirming report.
	// Default: 10 seconds.
	PendingTimeout time.Duration

	// Journal is optional event/command journaling.
	Journal EventRecorder

	// Telemetry is optional sensor export.
	Telemetry Telemetry

	// Logger is optional.
	Logger Logger
}

// pairKey identifies one (device, capability) pair.
type pairKey struct {
	Node  zwave.NodeID
	Index int
}

// pendingCommand tracks a command awaiting its confirming report.
type pendingCommand struct {
	deadline time.Time

	// republish re-sends the last-known value when the deadline
	// passes, used after a failed command call so the controller's
	// view falls back to reality.
	republish bool
}

// inboundCommand is a raw bus message queued for the loop.
type inboundCommand struct {
	topic   string
	payload []byte
}

// SyncStats is a snapshot of synchronizer counters.
type SyncStats struct {
	EventsReceived   uint64 `json:"events_received"`
	EventsDropped    uint64 `json:"events_dropped"`
	CommandsReceived uint64 `json:"commands_received"`
	CommandsDropped  uint64 `json:"commands_dropped"`
	StatesPublished  uint64 `json:"states_published"`
	PendingCommands  int64  `json:"pending_commands"`
}

// Synchronizer owns the consistency contract between the device network
// and the bus.
//
// Two producers feed it: the controller's value-changed callback and
// the bus command subscription. Both enqueue into bounded channels
// drained by a single goroutine, which is the only writer of the device
// model. Per-pair ordering of network events is therefore arrival
// order; nothing is guaranteed across pairs.
//
// A network report for a pair in PENDING_COMMAND state always wins over
// the optimistic echo: the report's value is applied, published and the
// pending entry cleared.
type Synchronizer struct {
	model  *device.Model
	router Router
	bus    Bus
	ctrl   zwave.Controller

	qos            byte
	retain         bool
	optimistic     bool
	pendingTimeout time.Duration

	journal   EventRecorder
	telemetry Telemetry
	logger    Logger

	events   chan zwave.Reading
	commands chan inboundCommand

	// pending is owned by the loop goroutine; pendingCount mirrors its
	// size for stat snapshots.
	pending      map[pairKey]pendingCommand
	pendingCount atomic.Int64

	eventsRx    atomic.Uint64
	eventsDrop  atomic.Uint64
	commandsRx  atomic.Uint64
	commandDrop atomic.Uint64
	published   atomic.Uint64

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSynchronizer validates the options and builds a Synchronizer.
// Call Start to begin processing.
func NewSynchronizer(opts SynchronizerOptions) (*Synchronizer, error) {
	if opts.Model == nil {
		return nil, errors.New("bridge: model is required")
	}
	if opts.Bus == nil {
		return nil, errors.New("bridge: bus is required")
	}
	if opts.Controller == nil {
		return nil, errors.New("bridge: controller is required")
	}
	if opts.Router.Prefix == "" {
		return nil, errors.New("bridge: router prefix is required")
	}
	if opts.PendingTimeout <= 0 {
		opts.PendingTimeout = defaultPendingTimeout
	}

	return &Synchronizer{
		model:          opts.Model,
		router:         opts.Router,
		bus:            opts.Bus,
		ctrl:           opts.Controller,
		qos:            opts.QoS,
		retain:         opts.RetainState,
		optimistic:     opts.OptimisticEcho,
		pendingTimeout: opts.PendingTimeout,
		journal:        opts.Journal,
		telemetry:      opts.Telemetry,
		logger:         opts.Logger,
		events:         make(chan zwave.Reading, eventQueueSize),
		commands:       make(chan inboundCommand, commandQueueSize),
		pending:        make(map[pairKey]pendingCommand),
		done:           make(chan struct{}),
	}, nil
}

// Start subscribes to the command topic space and starts the loop.
func (s *Synchronizer) Start() error {
	if err := s.bus.Subscribe(s.router.CommandPattern(), s.qos, s.enqueueCommand); err != nil {
		return fmt.Errorf("%w: subscribing to %s: %w", ErrBusUnavailable, s.router.CommandPattern(), err)
	}

	s.wg.Add(1)
	go s.loop()

	s.logInfo("synchronizer started",
		"commands", s.router.CommandPattern(),
		"optimistic_echo", s.optimistic,
		"pending_timeout", s.pendingTimeout)
	return nil
}

// Stop shuts down the processing loop. Queued items are discarded.
func (s *Synchronizer) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}

// HandleReading enqueues a network report for processing.
//
// Safe to call from the controller's callback goroutine. Never blocks:
// if the queue is full the report is dropped and counted, since a stale
// report is worth less than a stalled serial reader.
func (s *Synchronizer) HandleReading(r zwave.Reading) {
	s.eventsRx.Add(1)
	select {
	case s.events <- r:
	default:
		s.eventsDrop.Add(1)
		s.logWarn("event queue full, dropping report", "node", r.Handle.Node)
	}
}

// enqueueCommand is the bus subscription handler.
func (s *Synchronizer) enqueueCommand(topic string, payload []byte) {
	s.commandsRx.Add(1)

	// The bus client may reuse the payload buffer after the handler
	// returns.
	buf := make([]byte, len(payload))
	copy(buf, payload)

	select {
	case s.commands <- inboundCommand{topic: topic, payload: buf}:
	default:
		s.commandDrop.Add(1)
		s.logWarn("command queue full, dropping command", "topic", topic)
	}
}

// Stats returns a snapshot of the synchronizer counters.
func (s *Synchronizer) Stats() SyncStats {
	return SyncStats{
		EventsReceived:   s.eventsRx.Load(),
		EventsDropped:    s.eventsDrop.Load(),
		CommandsReceived: s.commandsRx.Load(),
		CommandsDropped:  s.commandDrop.Load(),
		StatesPublished:  s.published.Load(),
		PendingCommands:  s.pendingCount.Load(),
	}
}

// ReportAll publishes the current value of every known capability and
// requests a report for every capability still unknown.
//
// Called once at startup after discovery, and available to operators
// alongside RepublishDiscovery.
func (s *Synchronizer) ReportAll(ctx context.Context) {
	for _, dev := range s.model.List() {
		for i := range dev.Capabilities {
			c := dev.Capabilities[i]
			if c.Value.Known() {
				s.publishState(dev.ID, c)
				continue
			}
			if err := s.ctrl.RequestValue(ctx, c.Handle); err != nil {
				s.logDebug("value request failed", "node", dev.ID, "index", c.Index, "error", err)
			}
		}
	}
}

// loop is the single-writer processing goroutine.
func (s *Synchronizer) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(pendingSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case r := <-s.events:
			s.processReading(r)
		case c := <-s.commands:
			s.processCommand(c)
		case now := <-ticker.C:
			s.sweepPending(now)
		case <-s.done:
			return
		}
	}
}

// processReading applies one network report to the model and publishes
// the resulting state.
//
// A dimmer handle is bound to two slots; the report fans out to both
// (brightness to the dimmer slot, on/off to the switch slot). Any
// pending command on an affected pair is cleared: the network is the
// source of truth.
func (s *Synchronizer) processReading(r zwave.Reading) {
	node, indexes, ok := s.model.FindByHandle(r.Handle)
	if !ok {
		s.logDebug("report for unknown handle", "node", r.Handle.Node, "class", byte(r.Handle.Class))
		return
	}

	dev, err := s.model.Get(node)
	if err != nil {
		return
	}

	for _, idx := range indexes {
		c, ok := dev.Capability(idx)
		if !ok {
			continue
		}

		v, ok := readingValue(c.Kind, r)
		if !ok {
			s.logWarn("report type does not fit capability",
				"node", node, "index", idx, "kind", c.Kind.String(), "report", r.Kind.String())
			continue
		}

		updated, err := s.model.SetCapabilityValue(node, idx, v, device.StateSynced)
		if err != nil {
			s.logError("applying report failed", "node", node, "index", idx, "error", err)
			continue
		}

		s.clearPending(pairKey{Node: node, Index: idx})
		s.publishState(node, updated)
		s.recordEvent(node, updated, "device")
		s.exportTelemetry(node, updated)
	}
}

// readingValue converts a network reading into the value shape a
// capability kind stores. Returns false when the shapes cannot match.
func readingValue(kind device.CapabilityKind, r zwave.Reading) (device.Value, bool) {
	switch kind {
	case device.BinarySensor, device.Switch:
		switch r.Kind {
		case zwave.KindBool:
			return device.BoolValue(r.Bool), true
		case zwave.KindLevel:
			// Level report driving the on/off half of a dimmer pair.
			return device.BoolValue(r.Level > 0), true
		}
	case device.Dimmer:
		if r.Kind == zwave.KindLevel {
			return device.NumberValue(levelToPercent(r.Level)), true
		}
	case device.NumericSensor:
		if r.Kind == zwave.KindNumeric {
			return device.NumberValue(r.Numeric), true
		}
	}
	return device.Value{}, false
}

// processCommand decodes and executes one inbound bus command.
func (s *Synchronizer) processCommand(cmd inboundCommand) {
	target, err := s.router.DecodeCommandTopic(cmd.topic)
	if err != nil {
		s.logWarn("dropping command", "topic", cmd.topic, "error", err)
		return
	}

	dev, err := s.model.Get(target.Node)
	if err != nil {
		s.logWarn("command for unknown device",
			"topic", cmd.topic, "error", fmt.Errorf("%w: node %d", ErrUnsupportedCapability, target.Node))
		return
	}

	c, ok := dev.Capability(target.Index)
	if !ok || c.Kind != target.Kind {
		s.logWarn("command for unknown capability",
			"topic", cmd.topic, "error", fmt.Errorf("%w: index %d", ErrUnsupportedCapability, target.Index))
		s.recordCommand(target.Node, target.Index, target.Kind.String(), cmd.payload, "rejected", "unknown capability")
		return
	}

	if !c.Kind.Writable() {
		s.logWarn("command on read-only capability",
			"topic", cmd.topic, "error", fmt.Errorf("%w: %s is read-only", ErrUnsupportedCapability, c.Kind))
		s.recordCommand(target.Node, target.Index, c.Kind.String(), cmd.payload, "rejected", "read-only capability")
		return
	}

	v, err := adapterFor(c.Kind).Decode(cmd.payload)
	if err != nil {
		s.logWarn("dropping undecodable command payload", "topic", cmd.topic, "error", err)
		s.recordCommand(target.Node, target.Index, c.Kind.String(), cmd.payload, "rejected", "decode error")
		return
	}

	netCmd, affected := resolveCommand(&dev, c, v)

	ctx, cancel := context.WithTimeout(context.Background(), commandCallTimeout)
	err = s.ctrl.SendCommand(ctx, c.Handle, netCmd)
	cancel()

	deadline := time.Now().Add(s.pendingTimeout)

	if err != nil {
		s.logError("device command failed",
			"node", target.Node, "index", target.Index,
			"error", fmt.Errorf("%w: %w", ErrDeviceCommand, err))
		s.recordCommand(target.Node, target.Index, c.Kind.String(), cmd.payload, "failed", err.Error())

		// The pair stays pending; the sweep re-publishes the
		// last-known value so the controller's view falls back.
		for _, a := range affected {
			if markErr := s.model.MarkSync(target.Node, a.index, device.StatePending); markErr == nil {
				s.setPending(pairKey{Node: target.Node, Index: a.index},
					pendingCommand{deadline: deadline, republish: true})
			}
		}
		return
	}

	s.recordCommand(target.Node, target.Index, c.Kind.String(), cmd.payload, "accepted", "")

	for _, a := range affected {
		key := pairKey{Node: target.Node, Index: a.index}
		if s.optimistic {
			updated, setErr := s.model.SetCapabilityValue(target.Node, a.index, a.value, device.StatePending)
			if setErr != nil {
				continue
			}
			s.publishState(target.Node, updated)
		} else if markErr := s.model.MarkSync(target.Node, a.index, device.StatePending); markErr != nil {
			continue
		}
		s.setPending(key, pendingCommand{deadline: deadline})
	}
}

// affectedSlot pairs a capability index with the value a command
// implies for it.
type affectedSlot struct {
	index int
	value device.Value
}

// resolveCommand maps a decoded command value to the network command to
// issue and the model slots it affects.
//
// Dimmable-light policy:
//   - Brightness 0 issues an off command, never "brightness 0 but on".
//   - Bare "on" restores the last non-zero brightness, falling back to
//     full brightness when none was ever recorded.
func resolveCommand(dev *device.Device, c *device.Capability, v device.Value) (zwave.CommandValue, []affectedSlot) {
	switch {
	case c.Kind == device.Switch && c.Paired < 0:
		return zwave.CommandValue{Kind: zwave.CommandOnOff, On: v.Bool},
			[]affectedSlot{{index: c.Index, value: v}}

	case c.Kind == device.Switch:
		// On/off half of a dimmable light.
		dim, ok := dev.Capability(c.Paired)
		if !ok {
			return zwave.CommandValue{Kind: zwave.CommandOnOff, On: v.Bool},
				[]affectedSlot{{index: c.Index, value: v}}
		}
		if !v.Bool {
			return zwave.CommandValue{Kind: zwave.CommandOnOff, On: false},
				[]affectedSlot{
					{index: c.Index, value: device.BoolValue(false)},
					{index: dim.Index, value: device.NumberValue(0)},
				}
		}
		brightness := dim.LastBrightness
		if brightness <= 0 {
			brightness = maxBrightness
		}
		return zwave.CommandValue{Kind: zwave.CommandLevel, Level: percentToLevel(brightness)},
			[]affectedSlot{
				{index: c.Index, value: device.BoolValue(true)},
				{index: dim.Index, value: device.NumberValue(brightness)},
			}

	default: // Dimmer
		affected := []affectedSlot{{index: c.Index, value: v}}
		if sw, ok := dev.Capability(c.Paired); ok {
			affected = append(affected, affectedSlot{index: sw.Index, value: device.BoolValue(v.Number > 0)})
		}
		if v.Number <= 0 {
			return zwave.CommandValue{Kind: zwave.CommandOnOff, On: false}, affected
		}
		return zwave.CommandValue{Kind: zwave.CommandLevel, Level: percentToLevel(v.Number)}, affected
	}
}

// sweepPending settles pairs whose deadline has passed. Absence of a
// confirming report is eventual consistency, not an error: the pair
// returns to SYNCED with whatever value the model holds.
func (s *Synchronizer) sweepPending(now time.Time) {
	for key, p := range s.pending {
		if now.Before(p.deadline) {
			continue
		}
		s.clearPending(key)

		if err := s.model.MarkSync(key.Node, key.Index, device.StateSynced); err != nil {
			continue
		}
		s.logDebug("pending command settled by timeout", "node", key.Node, "index", key.Index)

		if !p.republish {
			continue
		}
		dev, err := s.model.Get(key.Node)
		if err != nil {
			continue
		}
		if c, ok := dev.Capability(key.Index); ok && c.Value.Known() {
			s.publishState(key.Node, *c)
		}
	}
}

func (s *Synchronizer) setPending(key pairKey, p pendingCommand) {
	if _, exists := s.pending[key]; !exists {
		s.pendingCount.Add(1)
	}
	s.pending[key] = p
}

func (s *Synchronizer) clearPending(key pairKey) {
	if _, exists := s.pending[key]; exists {
		delete(s.pending, key)
		s.pendingCount.Add(-1)
	}
}

// publishState encodes and publishes one capability's current value.
func (s *Synchronizer) publishState(node zwave.NodeID, c device.Capability) {
	adapter := adapterFor(c.Kind)
	if adapter == nil {
		return
	}
	payload, err := adapter.Encode(c.Value)
	if err != nil {
		s.logError("state encode failed", "node", node, "index", c.Index, "error", err)
		return
	}

	topic := s.router.StateTopic(c.Kind, node, c.Index)
	if err := s.bus.Publish(topic, payload, s.qos, s.retain); err != nil {
		s.logError("state publish failed", "topic", topic,
			"error", fmt.Errorf("%w: %w", ErrBusUnavailable, err))
		return
	}
	s.published.Add(1)
}

func (s *Synchronizer) recordEvent(node zwave.NodeID, c device.Capability, source string) {
	if s.journal == nil {
		return
	}
	payload, err := adapterFor(c.Kind).Encode(c.Value)
	if err != nil {
		return
	}
	s.journal.RecordEvent(int(node), c.Index, c.Kind.String(), string(payload), source)
}

func (s *Synchronizer) recordCommand(node zwave.NodeID, index int, capability string, payload []byte, outcome, detail string) {
	if s.journal == nil {
		return
	}
	s.journal.RecordCommand(int(node), index, capability, string(payload), outcome, detail)
}

func (s *Synchronizer) exportTelemetry(node zwave.NodeID, c device.Capability) {
	if s.telemetry == nil || c.Kind != device.NumericSensor {
		return
	}
	if c.Label == "Battery Level" {
		s.telemetry.WriteBatteryLevel(int(node), c.Value.Number)
		return
	}
	s.telemetry.WriteSensorReading(int(node), c.Index, c.Label, c.Value.Number)
}

// Logging helpers; no-ops when no logger is configured.

func (s *Synchronizer) logDebug(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, keysAndValues...)
	}
}

func (s *Synchronizer) logInfo(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Info(msg, keysAndValues...)
	}
}

func (s *Synchronizer) logWarn(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, keysAndValues...)
	}
}

func (s *Synchronizer) logError(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Error(msg, keysAndValues...)
	}
}
