package bridge

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/slvwolf/zwave-mqtt-bridge/internal/device"
)

// Payload vocabulary for binary capabilities.
const (
	payloadOn  = "ON"
	payloadOff = "OFF"
)

// maxBrightness is the bus-facing brightness scale ceiling.
const maxBrightness = 100

// Adapter translates between model values and bus payloads for one
// capability kind.
type Adapter interface {
	// Encode renders a model value as a bus payload.
	Encode(v device.Value) ([]byte, error)

	// Decode parses a bus payload into a model value.
	Decode(payload []byte) (device.Value, error)
}

// adapterFor returns the adapter for a capability kind. The kind set is
// closed; every kind has exactly one adapter.
func adapterFor(kind device.CapabilityKind) Adapter {
	switch kind {
	case device.NumericSensor:
		return numericAdapter{}
	case device.BinarySensor, device.Switch:
		return binaryAdapter{}
	case device.Dimmer:
		return dimmerAdapter{}
	default:
		return nil
	}
}

// numericAdapter passes numeric values through as decimal strings.
// The unit annotation travels in the discovery record, not the payload.
type numericAdapter struct{}

func (numericAdapter) Encode(v device.Value) ([]byte, error) {
	if v.Type != device.ValueNumber {
		return nil, fmt.Errorf("%w: numeric payload requires number value", ErrDecode)
	}
	return []byte(strconv.FormatFloat(v.Number, 'f', -1, 64)), nil
}

func (numericAdapter) Decode(payload []byte) (device.Value, error) {
	n, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err != nil {
		return device.Value{}, fmt.Errorf("%w: %q is not a number", ErrDecode, payload)
	}
	return device.NumberValue(n), nil
}

// binaryAdapter maps on/off values to the fixed two-token vocabulary.
// Used by binary sensors and switches alike; the direction restriction
// for sensors is enforced by the synchronizer, not the adapter.
type binaryAdapter struct{}

func (binaryAdapter) Encode(v device.Value) ([]byte, error) {
	if v.Type != device.ValueBool {
		return nil, fmt.Errorf("%w: binary payload requires bool value", ErrDecode)
	}
	if v.Bool {
		return []byte(payloadOn), nil
	}
	return []byte(payloadOff), nil
}

func (binaryAdapter) Decode(payload []byte) (device.Value, error) {
	switch strings.ToUpper(strings.TrimSpace(string(payload))) {
	case payloadOn:
		return device.BoolValue(true), nil
	case payloadOff:
		return device.BoolValue(false), nil
	default:
		return device.Value{}, fmt.Errorf("%w: %q is not %s/%s", ErrDecode, payload, payloadOn, payloadOff)
	}
}

// dimmerAdapter carries brightness as an integer 0-100.
type dimmerAdapter struct{}

func (dimmerAdapter) Encode(v device.Value) ([]byte, error) {
	if v.Type != device.ValueNumber {
		return nil, fmt.Errorf("%w: brightness payload requires number value", ErrDecode)
	}
	n := math.Round(v.Number)
	if n < 0 || n > maxBrightness {
		return nil, fmt.Errorf("%w: brightness %v out of range", ErrDecode, v.Number)
	}
	return []byte(strconv.Itoa(int(n))), nil
}

func (dimmerAdapter) Decode(payload []byte) (device.Value, error) {
	n, err := strconv.Atoi(strings.TrimSpace(string(payload)))
	if err != nil {
		return device.Value{}, fmt.Errorf("%w: %q is not a brightness level", ErrDecode, payload)
	}
	if n < 0 || n > maxBrightness {
		return device.Value{}, fmt.Errorf("%w: brightness %d out of range 0-%d", ErrDecode, n, maxBrightness)
	}
	return device.NumberValue(float64(n)), nil
}

// levelToPercent converts the network's native 0-99 dimmer range to the
// 0-100 bus scale.
func levelToPercent(level uint8) float64 {
	if level >= 99 {
		return maxBrightness
	}
	return math.Round(float64(level) * maxBrightness / 99)
}

// percentToLevel converts the 0-100 bus scale to the native 0-99 range.
func percentToLevel(percent float64) uint8 {
	if percent >= maxBrightness {
		return 99
	}
	if percent <= 0 {
		return 0
	}
	return uint8(math.Round(percent * 99 / maxBrightness))
}
