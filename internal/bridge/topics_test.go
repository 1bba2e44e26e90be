package bridge

import (
	"errors"
	"testing"

	"github.com/slvwolf/zwave-mqtt-bridge/internal/device"
	"github.com/slvwolf/zwave-mqtt-bridge/internal/zwave"
)

func testRouter() Router {
	return Router{Prefix: "zwave", DiscoveryPrefix: "homeassistant"}
}

func TestTopicScheme(t *testing.T) {
	r := testRouter()

	if got := r.StateTopic(device.Switch, 5, 0); got != "zwave/switch/5/0/state" {
		t.Errorf("StateTopic() = %q", got)
	}
	if got := r.CommandTopic(device.Dimmer, 5, 1); got != "zwave/dimmer/5/1/set" {
		t.Errorf("CommandTopic() = %q", got)
	}
	if got := r.CommandPattern(); got != "zwave/+/+/+/set" {
		t.Errorf("CommandPattern() = %q", got)
	}
	if got := r.DiscoveryTopic("light", "zwave_5_1"); got != "homeassistant/light/zwave_5_1/config" {
		t.Errorf("DiscoveryTopic() = %q", got)
	}
	if got := r.ObjectID(5, 1); got != "zwave_5_1" {
		t.Errorf("ObjectID() = %q", got)
	}
}

func TestCommandTopicBijection(t *testing.T) {
	r := testRouter()

	kinds := []device.CapabilityKind{
		device.NumericSensor, device.BinarySensor, device.Switch, device.Dimmer,
	}
	nodes := []zwave.NodeID{1, 5, 99, 232}
	indexes := []int{0, 1, 7}

	seen := make(map[string]bool)
	for _, kind := range kinds {
		for _, node := range nodes {
			for _, index := range indexes {
				topic := r.CommandTopic(kind, node, index)
				if seen[topic] {
					t.Fatalf("topic collision: %q", topic)
				}
				seen[topic] = true

				target, err := r.DecodeCommandTopic(topic)
				if err != nil {
					t.Fatalf("DecodeCommandTopic(%q) error = %v", topic, err)
				}
				if target.Kind != kind || target.Node != node || target.Index != index {
					t.Errorf("DecodeCommandTopic(%q) = %+v, want (%v, %v, %v)",
						topic, target, kind, node, index)
				}
			}
		}
	}
}

func TestDecodeCommandTopicErrors(t *testing.T) {
	r := testRouter()

	tests := []struct {
		name  string
		topic string
	}{
		{"too few segments", "zwave/switch/5/set"},
		{"too many segments", "zwave/switch/5/0/extra/set"},
		{"wrong prefix", "other/switch/5/0/set"},
		{"not a command", "zwave/switch/5/0/state"},
		{"unknown domain", "zwave/thermostat/5/0/set"},
		{"bad node", "zwave/switch/banana/0/set"},
		{"node zero", "zwave/switch/0/0/set"},
		{"node overflow", "zwave/switch/300/0/set"},
		{"bad index", "zwave/switch/5/x/set"},
		{"negative index", "zwave/switch/5/-1/set"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.DecodeCommandTopic(tt.topic)
			if !errors.Is(err, ErrDecode) {
				t.Errorf("DecodeCommandTopic(%q) error = %v, want ErrDecode", tt.topic, err)
			}
		})
	}
}
