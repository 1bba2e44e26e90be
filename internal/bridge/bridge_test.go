package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/slvwolf/zwave-mqtt-bridge/internal/device"
	"github.com/slvwolf/zwave-mqtt-bridge/internal/infrastructure/config"
	"github.com/slvwolf/zwave-mqtt-bridge/internal/zwave"
)

func testBridgeConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Bridge.TopicPrefix = "zwave"
	cfg.Bridge.DiscoveryPrefix = "homeassistant"
	cfg.Bridge.PendingTimeout = 10
	cfg.Bridge.OptimisticEcho = true
	cfg.ZWave.ScanTimeout = 30
	cfg.MQTT.QoS = 1
	return cfg
}

func scannedNodes() []zwave.Node {
	return []zwave.Node{
		{
			ID: 3, Product: "Door Sensor", Listening: true,
			Values: []zwave.ValueInfo{
				{
					Handle:   zwave.ValueHandle{Node: 3, Class: zwave.ClassSensorBinary, Instance: 1},
					Label:    "Sensor",
					Kind:     zwave.KindBool,
					ReadOnly: true,
				},
			},
		},
		{
			ID: 6, Product: "Wall Dimmer", Listening: true,
			Values: []zwave.ValueInfo{
				{
					Handle: zwave.ValueHandle{Node: 6, Class: zwave.ClassSwitchMultilevel, Instance: 1},
					Label:  "Level",
					Kind:   zwave.KindLevel,
				},
			},
		},
		{
			ID: 9, Listening: false,
			Values: []zwave.ValueInfo{
				{
					Handle:   zwave.ValueHandle{Node: 9, Class: zwave.ClassSensorMultilevel, Instance: 1},
					Label:    "Temperature",
					Unit:     "C",
					Kind:     zwave.KindNumeric,
					ReadOnly: true,
				},
				{
					Handle:   zwave.ValueHandle{Node: 9, Class: zwave.ClassBattery, Instance: 1},
					Label:    "Battery Level",
					Unit:     "%",
					Kind:     zwave.KindNumeric,
					ReadOnly: true,
				},
			},
		},
	}
}

func newStartedBridge(t *testing.T, cfg *config.Config, bus *MockBus, ctrl *MockController) *Bridge {
	t.Helper()

	b, err := New(Options{Config: cfg, Bus: bus, Controller: ctrl})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)
	return b
}

func TestNewValidation(t *testing.T) {
	cfg := testBridgeConfig()
	bus := NewMockBus()
	ctrl := NewMockController()

	tests := []struct {
		name string
		opts Options
	}{
		{"missing config", Options{Bus: bus, Controller: ctrl}},
		{"missing bus", Options{Config: cfg, Controller: ctrl}},
		{"missing controller", Options{Config: cfg, Bus: bus}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Error("New() accepted incomplete options")
			}
		})
	}
}

func TestStartBuildsModel(t *testing.T) {
	ctrl := NewMockController(scannedNodes()...)
	b := newStartedBridge(t, testBridgeConfig(), NewMockBus(), ctrl)

	devices := b.Devices()
	if len(devices) != 3 {
		t.Fatalf("devices = %d, want 3", len(devices))
	}

	// The dimmer value expands into a switch/dimmer pair on one handle.
	lamp, err := b.Device(6)
	if err != nil {
		t.Fatalf("Device(6) error = %v", err)
	}
	if len(lamp.Capabilities) != 2 {
		t.Fatalf("lamp capabilities = %d, want 2", len(lamp.Capabilities))
	}
	sw, dim := lamp.Capabilities[0], lamp.Capabilities[1]
	if sw.Kind != device.Switch || dim.Kind != device.Dimmer {
		t.Errorf("pair kinds = %v/%v", sw.Kind, dim.Kind)
	}
	if sw.Paired != dim.Index || dim.Paired != sw.Index {
		t.Errorf("pair links = %d/%d", sw.Paired, dim.Paired)
	}
	if sw.Handle != dim.Handle {
		t.Errorf("pair handles differ: %v vs %v", sw.Handle, dim.Handle)
	}

	// Battery-powered sensor keeps both of its numeric slots.
	sensor, err := b.Device(9)
	if err != nil {
		t.Fatalf("Device(9) error = %v", err)
	}
	if len(sensor.Capabilities) != 2 {
		t.Errorf("sensor capabilities = %d, want 2", len(sensor.Capabilities))
	}
}

func TestStartScanFailure(t *testing.T) {
	ctrl := NewMockController()
	ctrl.SetScanError(errors.New("port gone"))

	b, err := New(Options{Config: testBridgeConfig(), Bus: NewMockBus(), Controller: ctrl})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = b.Start(context.Background())
	if !errors.Is(err, ErrNetworkUnavailable) {
		t.Errorf("Start() error = %v, want ErrNetworkUnavailable", err)
	}
}

func TestStartPublishesDiscoveryBeforeSubscribing(t *testing.T) {
	bus := NewMockBus()
	ctrl := NewMockController(scannedNodes()...)
	newStartedBridge(t, testBridgeConfig(), bus, ctrl)

	if !bus.Subscribed("zwave/+/+/+/set") {
		t.Error("command pattern not subscribed")
	}
	if got := bus.PublishedTo("homeassistant/light/zwave_6_1/config"); len(got) != 1 {
		t.Errorf("light discovery publishes = %d, want 1", len(got))
	}

	// Every slot has no known value yet, so the initial report turns
	// into read requests instead of state publishes.
	requests := ctrl.GetRequests()
	if len(requests) == 0 {
		t.Error("no value requests issued for unknown state")
	}
}

func TestStartIgnoredLabels(t *testing.T) {
	cfg := testBridgeConfig()
	cfg.Bridge.IgnoredLabels = []string{"battery level"}

	ctrl := NewMockController(scannedNodes()...)
	b := newStartedBridge(t, cfg, NewMockBus(), ctrl)

	sensor, err := b.Device(9)
	if err != nil {
		t.Fatalf("Device(9) error = %v", err)
	}
	if len(sensor.Capabilities) != 1 {
		t.Fatalf("sensor capabilities = %d, want 1", len(sensor.Capabilities))
	}
	if sensor.Capabilities[0].Label != "Temperature" {
		t.Errorf("surviving capability = %q", sensor.Capabilities[0].Label)
	}
}

func TestNodeNamePrecedence(t *testing.T) {
	cfg := testBridgeConfig()
	cfg.Bridge.NodeNames = map[int]string{6: "hall lamp"}

	b := newStartedBridge(t, cfg, NewMockBus(), NewMockController(scannedNodes()...))

	tests := []struct {
		node zwave.NodeID
		want string
	}{
		{6, "hall lamp"},   // configured override
		{3, "Door Sensor"}, // product string
		{9, "node-9"},      // generated fallback
	}
	for _, tt := range tests {
		d, err := b.Device(tt.node)
		if err != nil {
			t.Fatalf("Device(%d) error = %v", tt.node, err)
		}
		if d.Name != tt.want {
			t.Errorf("node %d name = %q, want %q", tt.node, d.Name, tt.want)
		}
	}
}

func TestRepublishDiscovery(t *testing.T) {
	bus := NewMockBus()
	b := newStartedBridge(t, testBridgeConfig(), bus, NewMockController(scannedNodes()...))

	bus.ClearPublished()
	records, err := b.RepublishDiscovery()
	if err != nil {
		t.Fatalf("RepublishDiscovery() error = %v", err)
	}
	// Binary sensor + light + temperature + battery.
	if records != 4 {
		t.Errorf("records = %d, want 4", records)
	}
	if got := bus.PublishedTo("homeassistant/light/zwave_6_1/config"); len(got) != 1 {
		t.Errorf("light discovery republishes = %d, want 1", len(got))
	}
}

func TestStatusAccessors(t *testing.T) {
	b := newStartedBridge(t, testBridgeConfig(), NewMockBus(), NewMockController(scannedNodes()...))

	if !b.BusConnected() {
		t.Error("BusConnected() = false")
	}
	if !b.NetworkConnected() {
		t.Error("NetworkConnected() = false")
	}
	if b.Uptime() < 0 {
		t.Error("Uptime() negative")
	}
}
