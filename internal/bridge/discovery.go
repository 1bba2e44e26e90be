package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/slvwolf/zwave-mqtt-bridge/internal/device"
)

// DiscoveryRecord is the retained configuration payload the controller
// consumes to auto-detect a capability.
type DiscoveryRecord struct {
	Name         string `json:"name"`
	UniqueID     string `json:"unique_id"`
	StateTopic   string `json:"state_topic"`
	CommandTopic string `json:"command_topic,omitempty"`

	// Binary vocabulary, set for binary sensors and switches.
	PayloadOn  string `json:"payload_on,omitempty"`
	PayloadOff string `json:"payload_off,omitempty"`

	// Numeric sensor annotation.
	UnitOfMeasurement string `json:"unit_of_measurement,omitempty"`

	// Dimmable light brightness bindings. A dimmable light is one
	// controller component built from two capability slots.
	BrightnessStateTopic   string `json:"brightness_state_topic,omitempty"`
	BrightnessCommandTopic string `json:"brightness_command_topic,omitempty"`
	BrightnessScale        int    `json:"brightness_scale,omitempty"`
}

// DiscoveryPublisher builds and publishes retained discovery records.
//
// PublishAll runs exactly once during startup, after the scan and
// before live event processing, so the controller sees configuration
// before any state. Re-running it is idempotent (retained messages are
// overwritten in place) and only happens on explicit operator request.
type DiscoveryPublisher struct {
	router Router
	bus    Bus
	qos    byte
	logger Logger
}

// NewDiscoveryPublisher wires a publisher.
func NewDiscoveryPublisher(router Router, bus Bus, qos byte, logger Logger) *DiscoveryPublisher {
	return &DiscoveryPublisher{router: router, bus: bus, qos: qos, logger: logger}
}

// PublishAll publishes one retained discovery record per capability,
// folding each dimmer pair into a single light component.
//
// Returns:
//   - int: Number of records published
//   - error: First publish failure; earlier records stay published
func (p *DiscoveryPublisher) PublishAll(devices []device.Device) (int, error) {
	published := 0
	for i := range devices {
		d := &devices[i]
		for j := range d.Capabilities {
			c := &d.Capabilities[j]

			record, component, ok := p.buildRecord(d, c)
			if !ok {
				continue
			}

			payload, err := json.Marshal(record)
			if err != nil {
				return published, fmt.Errorf("encoding discovery record %s: %w", record.UniqueID, err)
			}

			topic := p.router.DiscoveryTopic(component, record.UniqueID)
			if err := p.bus.Publish(topic, payload, p.qos, true); err != nil {
				return published, fmt.Errorf("%w: publishing %s: %w", ErrBusUnavailable, topic, err)
			}
			published++
		}
	}

	if p.logger != nil {
		p.logger.Info("discovery published", "records", published, "devices", len(devices))
	}
	return published, nil
}

// buildRecord maps one capability slot to its discovery record and
// controller component type. The Switch half of a dimmer pair yields
// nothing; the Dimmer half carries the combined light record.
func (p *DiscoveryPublisher) buildRecord(d *device.Device, c *device.Capability) (DiscoveryRecord, string, bool) {
	name := fmt.Sprintf("%s %s", d.Name, c.Label)
	record := DiscoveryRecord{
		Name:       name,
		UniqueID:   p.router.ObjectID(d.ID, c.Index),
		StateTopic: p.router.StateTopic(c.Kind, d.ID, c.Index),
	}

	switch c.Kind {
	case device.NumericSensor:
		record.UnitOfMeasurement = c.Unit
		return record, "sensor", true

	case device.BinarySensor:
		record.PayloadOn = payloadOn
		record.PayloadOff = payloadOff
		return record, "binary_sensor", true

	case device.Switch:
		if c.Paired >= 0 {
			// Folded into the paired dimmer's light record.
			return DiscoveryRecord{}, "", false
		}
		record.CommandTopic = p.router.CommandTopic(c.Kind, d.ID, c.Index)
		record.PayloadOn = payloadOn
		record.PayloadOff = payloadOff
		return record, "switch", true

	case device.Dimmer:
		sw, ok := d.Capability(c.Paired)
		if !ok {
			return DiscoveryRecord{}, "", false
		}
		record.Name = d.Name
		record.StateTopic = p.router.StateTopic(sw.Kind, d.ID, sw.Index)
		record.CommandTopic = p.router.CommandTopic(sw.Kind, d.ID, sw.Index)
		record.PayloadOn = payloadOn
		record.PayloadOff = payloadOff
		record.BrightnessStateTopic = p.router.StateTopic(c.Kind, d.ID, c.Index)
		record.BrightnessCommandTopic = p.router.CommandTopic(c.Kind, d.ID, c.Index)
		record.BrightnessScale = maxBrightness
		return record, "light", true

	default:
		return DiscoveryRecord{}, "", false
	}
}
