package bridge

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/slvwolf/zwave-mqtt-bridge/internal/device"
	"github.com/slvwolf/zwave-mqtt-bridge/internal/zwave"
)

var (
	sensorHandle = zwave.ValueHandle{Node: 3, Class: zwave.ClassSensorBinary, Instance: 1}
	switchHandle = zwave.ValueHandle{Node: 5, Class: zwave.ClassSwitchBinary, Instance: 1}
	dimmerHandle = zwave.ValueHandle{Node: 6, Class: zwave.ClassSwitchMultilevel, Instance: 1}
	tempHandle   = zwave.ValueHandle{Node: 7, Class: zwave.ClassSensorMultilevel, Instance: 1}
)

// newTestSync builds a synchronizer over a model preloaded with a
// binary sensor, a switch, a dimmable light pair and a numeric sensor.
// The loop is not started; tests call process methods directly for
// deterministic ordering.
func newTestSync(t *testing.T, optimistic bool) (*Synchronizer, *MockBus, *MockController) {
	t.Helper()

	model := device.NewModel()
	model.Upsert(3, "door", []device.Capability{{
		Kind: device.BinarySensor, Index: 0, Label: "Sensor", Handle: sensorHandle, Paired: -1,
	}})
	model.Upsert(5, "plug", []device.Capability{{
		Kind: device.Switch, Index: 0, Label: "Switch", Handle: switchHandle, Paired: -1,
	}})
	model.Upsert(6, "lamp", []device.Capability{
		{Kind: device.Switch, Index: 0, Label: "Switch", Handle: dimmerHandle, Paired: 1},
		{Kind: device.Dimmer, Index: 1, Label: "Level", Handle: dimmerHandle, Paired: 0},
	})
	model.Upsert(7, "thermometer", []device.Capability{{
		Kind: device.NumericSensor, Index: 0, Label: "Temperature", Unit: "C", Handle: tempHandle, Paired: -1,
	}})

	bus := NewMockBus()
	ctrl := NewMockController()

	s, err := NewSynchronizer(SynchronizerOptions{
		Model:          model,
		Router:         testRouter(),
		Bus:            bus,
		Controller:     ctrl,
		QoS:            1,
		RetainState:    true,
		OptimisticEcho: optimistic,
		PendingTimeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewSynchronizer() error = %v", err)
	}
	return s, bus, ctrl
}

func boolReading(h zwave.ValueHandle, on bool) zwave.Reading {
	return zwave.Reading{Handle: h, Kind: zwave.KindBool, Bool: on, Time: time.Now()}
}

func levelReading(h zwave.ValueHandle, level uint8) zwave.Reading {
	return zwave.Reading{Handle: h, Kind: zwave.KindLevel, Level: level, Time: time.Now()}
}

func TestBinarySensorEventPublishesOnce(t *testing.T) {
	s, bus, _ := newTestSync(t, true)

	s.processReading(boolReading(sensorHandle, true))

	published := bus.PublishedTo("zwave/binary_sensor/3/0/state")
	if len(published) != 1 {
		t.Fatalf("published %d messages, want exactly 1", len(published))
	}
	if string(published[0].Payload) != "ON" {
		t.Errorf("payload = %q, want ON", published[0].Payload)
	}

	bus.ClearPublished()
	s.processReading(boolReading(sensorHandle, false))

	published = bus.PublishedTo("zwave/binary_sensor/3/0/state")
	if len(published) != 1 || string(published[0].Payload) != "OFF" {
		t.Errorf("false event published %v", published)
	}
}

func TestNumericSensorEvent(t *testing.T) {
	s, bus, _ := newTestSync(t, true)

	s.processReading(zwave.Reading{
		Handle: tempHandle, Kind: zwave.KindNumeric, Numeric: 21.5, Time: time.Now(),
	})

	published := bus.PublishedTo("zwave/sensor/7/0/state")
	if len(published) != 1 || string(published[0].Payload) != "21.5" {
		t.Errorf("published = %v", published)
	}
}

func TestDimmerEventFansOutToBothSlots(t *testing.T) {
	s, bus, _ := newTestSync(t, true)

	s.processReading(levelReading(dimmerHandle, 40))

	sw := bus.PublishedTo("zwave/switch/6/0/state")
	dim := bus.PublishedTo("zwave/dimmer/6/1/state")
	if len(sw) != 1 || string(sw[0].Payload) != "ON" {
		t.Errorf("switch slot published = %v", sw)
	}
	if len(dim) != 1 || string(dim[0].Payload) != "40" {
		t.Errorf("dimmer slot published = %v", dim)
	}
}

func TestSwitchCommand(t *testing.T) {
	s, bus, ctrl := newTestSync(t, true)

	s.processCommand(inboundCommand{topic: "zwave/switch/5/0/set", payload: []byte("ON")})

	commands := ctrl.GetCommands()
	if len(commands) != 1 {
		t.Fatalf("controller received %d commands, want 1", len(commands))
	}
	if commands[0].Handle != switchHandle ||
		commands[0].Cmd.Kind != zwave.CommandOnOff || !commands[0].Cmd.On {
		t.Errorf("command = %+v", commands[0])
	}

	// Optimistic echo published immediately.
	published := bus.PublishedTo("zwave/switch/5/0/state")
	if len(published) != 1 || string(published[0].Payload) != "ON" {
		t.Errorf("optimistic echo = %v", published)
	}

	dev, _ := s.model.Get(5)
	if dev.Capabilities[0].Sync != device.StatePending {
		t.Errorf("sync = %v, want StatePending", dev.Capabilities[0].Sync)
	}
}

func TestNoOptimisticEcho(t *testing.T) {
	s, bus, ctrl := newTestSync(t, false)

	s.processCommand(inboundCommand{topic: "zwave/switch/5/0/set", payload: []byte("ON")})

	if len(ctrl.GetCommands()) != 1 {
		t.Fatal("command not issued")
	}
	if published := bus.PublishedTo("zwave/switch/5/0/state"); len(published) != 0 {
		t.Errorf("state published despite optimistic echo off: %v", published)
	}

	dev, _ := s.model.Get(5)
	if dev.Capabilities[0].Sync != device.StatePending {
		t.Errorf("sync = %v, want StatePending", dev.Capabilities[0].Sync)
	}
}

func TestBareOnRestoresLastBrightness(t *testing.T) {
	s, _, ctrl := newTestSync(t, true)

	// The lamp was at 40 before being switched off.
	s.processReading(levelReading(dimmerHandle, 40))
	s.processReading(levelReading(dimmerHandle, 0))

	s.processCommand(inboundCommand{topic: "zwave/switch/6/0/set", payload: []byte("ON")})

	commands := ctrl.GetCommands()
	if len(commands) != 1 {
		t.Fatalf("controller received %d commands, want 1", len(commands))
	}
	if commands[0].Cmd.Kind != zwave.CommandLevel || commands[0].Cmd.Level != percentToLevel(40) {
		t.Errorf("command = %+v, want level restore to 40", commands[0].Cmd)
	}
}

func TestBareOnWithoutHistoryUsesFullBrightness(t *testing.T) {
	s, _, ctrl := newTestSync(t, true)

	s.processCommand(inboundCommand{topic: "zwave/switch/6/0/set", payload: []byte("ON")})

	commands := ctrl.GetCommands()
	if len(commands) != 1 {
		t.Fatalf("controller received %d commands, want 1", len(commands))
	}
	if commands[0].Cmd.Kind != zwave.CommandLevel || commands[0].Cmd.Level != 99 {
		t.Errorf("command = %+v, want full brightness", commands[0].Cmd)
	}
}

func TestBrightnessZeroIssuesOffCommand(t *testing.T) {
	s, _, ctrl := newTestSync(t, true)

	s.processCommand(inboundCommand{topic: "zwave/dimmer/6/1/set", payload: []byte("0")})

	commands := ctrl.GetCommands()
	if len(commands) != 1 {
		t.Fatalf("controller received %d commands, want 1", len(commands))
	}
	if commands[0].Cmd.Kind != zwave.CommandOnOff || commands[0].Cmd.On {
		t.Errorf("command = %+v, want off command, not brightness 0", commands[0].Cmd)
	}
}

func TestBrightnessCommandUpdatesSwitchSlot(t *testing.T) {
	s, bus, ctrl := newTestSync(t, true)

	s.processCommand(inboundCommand{topic: "zwave/dimmer/6/1/set", payload: []byte("75")})

	commands := ctrl.GetCommands()
	if len(commands) != 1 || commands[0].Cmd.Kind != zwave.CommandLevel {
		t.Fatalf("commands = %+v", commands)
	}

	sw := bus.PublishedTo("zwave/switch/6/0/state")
	if len(sw) != 1 || string(sw[0].Payload) != "ON" {
		t.Errorf("switch slot echo = %v", sw)
	}
}

func TestCommandOnReadOnlyCapability(t *testing.T) {
	s, bus, ctrl := newTestSync(t, true)

	// Seed a known value so we can verify it is untouched.
	s.processReading(boolReading(sensorHandle, true))
	bus.ClearPublished()

	s.processCommand(inboundCommand{topic: "zwave/binary_sensor/3/0/set", payload: []byte("OFF")})

	if len(ctrl.GetCommands()) != 0 {
		t.Error("read-only command reached the controller")
	}
	if len(bus.GetPublished()) != 0 {
		t.Error("read-only command produced a publish")
	}

	dev, _ := s.model.Get(3)
	if !dev.Capabilities[0].Value.Bool {
		t.Error("read-only command altered the model value")
	}
}

func TestUndecodableCommandDropped(t *testing.T) {
	s, _, ctrl := newTestSync(t, true)

	s.processCommand(inboundCommand{topic: "zwave/switch/5/0/set", payload: []byte("maybe")})
	s.processCommand(inboundCommand{topic: "not/a/command", payload: []byte("ON")})
	s.processCommand(inboundCommand{topic: "zwave/switch/99/0/set", payload: []byte("ON")})

	if len(ctrl.GetCommands()) != 0 {
		t.Errorf("bad commands reached the controller: %+v", ctrl.GetCommands())
	}
}

func TestDeviceEventOverridesPending(t *testing.T) {
	s, bus, _ := newTestSync(t, true)

	s.processCommand(inboundCommand{topic: "zwave/switch/5/0/set", payload: []byte("ON")})
	if s.Stats().PendingCommands != 1 {
		t.Fatalf("pending = %d, want 1", s.Stats().PendingCommands)
	}
	bus.ClearPublished()

	// The confirming report says OFF; the network wins over the echo.
	s.processReading(boolReading(switchHandle, false))

	dev, _ := s.model.Get(5)
	c := dev.Capabilities[0]
	if c.Sync != device.StateSynced || c.Value.Bool {
		t.Errorf("capability = %+v, want synced OFF", c)
	}
	if s.Stats().PendingCommands != 0 {
		t.Errorf("pending = %d, want 0 after confirming event", s.Stats().PendingCommands)
	}

	published := bus.PublishedTo("zwave/switch/5/0/state")
	if len(published) != 1 || string(published[0].Payload) != "OFF" {
		t.Errorf("published = %v", published)
	}
}

func TestPendingTimeoutKeepsOptimisticValue(t *testing.T) {
	s, bus, _ := newTestSync(t, true)

	s.processCommand(inboundCommand{topic: "zwave/switch/5/0/set", payload: []byte("ON")})
	bus.ClearPublished()

	s.sweepPending(time.Now().Add(11 * time.Second))

	dev, _ := s.model.Get(5)
	c := dev.Capabilities[0]
	if c.Sync != device.StateSynced || !c.Value.Bool {
		t.Errorf("capability = %+v, want synced ON after timeout", c)
	}
	// Timeout is eventual consistency, not a correction: no republish.
	if len(bus.GetPublished()) != 0 {
		t.Errorf("timeout republished state: %v", bus.GetPublished())
	}
}

func TestFailedCommandRevertsOnTimeout(t *testing.T) {
	s, bus, ctrl := newTestSync(t, true)

	// Known good state first.
	s.processReading(boolReading(switchHandle, false))
	bus.ClearPublished()

	ctrl.SetSendError(errors.New("node unreachable"))
	s.processCommand(inboundCommand{topic: "zwave/switch/5/0/set", payload: []byte("ON")})

	// No optimistic echo on failure; the pair sits pending.
	if len(bus.GetPublished()) != 0 {
		t.Errorf("failed command published state: %v", bus.GetPublished())
	}
	dev, _ := s.model.Get(5)
	if dev.Capabilities[0].Sync != device.StatePending {
		t.Fatalf("sync = %v, want StatePending", dev.Capabilities[0].Sync)
	}

	s.sweepPending(time.Now().Add(11 * time.Second))

	dev, _ = s.model.Get(5)
	c := dev.Capabilities[0]
	if c.Sync != device.StateSynced || c.Value.Bool {
		t.Errorf("capability = %+v, want reverted to synced OFF", c)
	}
	// The last-known value is republished so the controller's view
	// falls back.
	published := bus.PublishedTo("zwave/switch/5/0/state")
	if len(published) != 1 || string(published[0].Payload) != "OFF" {
		t.Errorf("published = %v", published)
	}
}

func TestReportAll(t *testing.T) {
	s, bus, ctrl := newTestSync(t, true)

	// One known value, the rest unknown.
	s.processReading(boolReading(switchHandle, true))
	bus.ClearPublished()

	s.ReportAll(context.Background())

	if published := bus.PublishedTo("zwave/switch/5/0/state"); len(published) != 1 {
		t.Errorf("known value not reported: %v", published)
	}
	// Unknown capabilities get a value request instead of a publish.
	requests := ctrl.GetRequests()
	if len(requests) == 0 {
		t.Error("no value requests for unknown capabilities")
	}
	for _, r := range requests {
		if r == switchHandle {
			t.Error("known capability was re-requested")
		}
	}
}

func TestQueueDeliveryThroughStart(t *testing.T) {
	s, bus, ctrl := newTestSync(t, true)

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	if !bus.Subscribed("zwave/+/+/+/set") {
		t.Fatal("command pattern not subscribed")
	}

	bus.SimulateMessage("zwave/switch/5/0/set", []byte("ON"))

	deadline := time.After(2 * time.Second)
	for len(ctrl.GetCommands()) == 0 {
		select {
		case <-deadline:
			t.Fatal("command never processed")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if got := ctrl.GetCommands()[0]; !got.Cmd.On {
		t.Errorf("command = %+v", got)
	}
}

func TestStateRetainFlag(t *testing.T) {
	s, bus, _ := newTestSync(t, true)

	s.processReading(boolReading(sensorHandle, true))

	published := bus.PublishedTo("zwave/binary_sensor/3/0/state")
	if len(published) != 1 || !published[0].Retained {
		t.Errorf("published = %+v, want retained state", published)
	}
	if published[0].QoS != 1 {
		t.Errorf("qos = %d, want 1", published[0].QoS)
	}
}

func TestStatsCounters(t *testing.T) {
	s, _, _ := newTestSync(t, true)

	s.HandleReading(boolReading(sensorHandle, true))
	stats := s.Stats()
	if stats.EventsReceived != 1 {
		t.Errorf("EventsReceived = %d, want 1", stats.EventsReceived)
	}
}

func TestRecorderSeesEventsAndCommands(t *testing.T) {
	s, _, _ := newTestSync(t, true)
	rec := &captureRecorder{}
	s.journal = rec

	s.processReading(boolReading(sensorHandle, true))
	s.processCommand(inboundCommand{topic: "zwave/switch/5/0/set", payload: []byte("ON")})
	s.processCommand(inboundCommand{topic: "zwave/binary_sensor/3/0/set", payload: []byte("ON")})

	if len(rec.events) != 1 || rec.events[0].value != "ON" || rec.events[0].source != "device" {
		t.Errorf("events = %+v", rec.events)
	}
	if len(rec.commands) != 2 {
		t.Fatalf("commands = %+v", rec.commands)
	}
	if rec.commands[0].outcome != "accepted" {
		t.Errorf("first command outcome = %q", rec.commands[0].outcome)
	}
	if rec.commands[1].outcome != "rejected" {
		t.Errorf("read-only command outcome = %q", rec.commands[1].outcome)
	}
}

type capturedEvent struct {
	node, slot    int
	capability    string
	value, source string
}

type capturedCommand struct {
	node, slot               int
	capability               string
	payload, outcome, detail string
}

type captureRecorder struct {
	events   []capturedEvent
	commands []capturedCommand
}

func (r *captureRecorder) RecordEvent(node, slot int, capability, value, source string) {
	r.events = append(r.events, capturedEvent{node, slot, capability, value, source})
}

func (r *captureRecorder) RecordCommand(node, slot int, capability, payload, outcome, detail string) {
	r.commands = append(r.commands, capturedCommand{node, slot, capability, payload, outcome, detail})
}

func TestTelemetryExport(t *testing.T) {
	s, _, _ := newTestSync(t, true)
	tel := &captureTelemetry{}
	s.telemetry = tel

	s.processReading(zwave.Reading{
		Handle: tempHandle, Kind: zwave.KindNumeric, Numeric: 19.5, Time: time.Now(),
	})
	// Binary events are not telemetry.
	s.processReading(boolReading(sensorHandle, true))

	if len(tel.readings) != 1 || tel.readings[0].value != 19.5 {
		t.Errorf("readings = %+v", tel.readings)
	}
}

type capturedReading struct {
	node, slot int
	label      string
	value      float64
}

type captureTelemetry struct {
	readings []capturedReading
	battery  []capturedReading
}

func (c *captureTelemetry) WriteSensorReading(node, slot int, label string, value float64) {
	c.readings = append(c.readings, capturedReading{node, slot, label, value})
}

func (c *captureTelemetry) WriteBatteryLevel(node int, percent float64) {
	c.battery = append(c.battery, capturedReading{node: node, value: percent})
}

func TestPayloadBufferCopied(t *testing.T) {
	s, _, _ := newTestSync(t, true)

	payload := []byte("ON")
	s.enqueueCommand("zwave/switch/5/0/set", payload)
	payload[0] = 'X' // The bus client reusing its buffer

	cmd := <-s.commands
	if !bytes.Equal(cmd.payload, []byte("ON")) {
		t.Errorf("payload = %q, want copied ON", cmd.payload)
	}
}
