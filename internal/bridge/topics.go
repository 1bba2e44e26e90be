package bridge

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/slvwolf/zwave-mqtt-bridge/internal/device"
	"github.com/slvwolf/zwave-mqtt-bridge/internal/zwave"
)

// topicParts is the number of segments in a state or command topic:
// prefix/domain/node/index/leaf.
const topicParts = 5

// Router derives topic strings for (device, capability) pairs.
//
// Pure and stateless. The scheme is
//
//	<prefix>/<domain>/<node>/<index>/state
//	<prefix>/<domain>/<node>/<index>/set     (writable kinds only)
//
// where domain is the capability kind name. Distinct pairs never share
// a topic because the capability index is unique within a device.
type Router struct {
	// Prefix roots the state/command topic space (e.g., "zwave").
	Prefix string

	// DiscoveryPrefix roots the controller's discovery convention
	// (e.g., "homeassistant").
	DiscoveryPrefix string
}

// CommandTarget is the decoded form of an inbound command topic.
type CommandTarget struct {
	Kind  device.CapabilityKind
	Node  zwave.NodeID
	Index int
}

// StateTopic returns the topic state payloads are published on.
func (r Router) StateTopic(kind device.CapabilityKind, node zwave.NodeID, index int) string {
	return fmt.Sprintf("%s/%s/%d/%d/state", r.Prefix, kind, node, index)
}

// CommandTopic returns the topic inbound commands arrive on.
func (r Router) CommandTopic(kind device.CapabilityKind, node zwave.NodeID, index int) string {
	return fmt.Sprintf("%s/%s/%d/%d/set", r.Prefix, kind, node, index)
}

// CommandPattern returns the wildcard subscription covering every
// command topic under the prefix.
func (r Router) CommandPattern() string {
	return r.Prefix + "/+/+/+/set"
}

// DiscoveryTopic returns the retained discovery-config topic for a
// controller component and unique object id.
func (r Router) DiscoveryTopic(component, objectID string) string {
	return fmt.Sprintf("%s/%s/%s/config", r.DiscoveryPrefix, component, objectID)
}

// ObjectID derives the stable unique object id for a capability.
func (r Router) ObjectID(node zwave.NodeID, index int) string {
	return fmt.Sprintf("%s_%d_%d", r.Prefix, node, index)
}

// DecodeCommandTopic parses an inbound command topic back into the
// (device, capability) pair it encodes.
//
// Exact inverse of CommandTopic. Unparseable topics return ErrDecode;
// the caller logs and drops them.
func (r Router) DecodeCommandTopic(topic string) (CommandTarget, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != topicParts {
		return CommandTarget{}, fmt.Errorf("%w: topic %q has %d segments, want %d",
			ErrDecode, topic, len(parts), topicParts)
	}
	if parts[0] != r.Prefix {
		return CommandTarget{}, fmt.Errorf("%w: topic %q outside prefix %q", ErrDecode, topic, r.Prefix)
	}
	if parts[4] != "set" {
		return CommandTarget{}, fmt.Errorf("%w: topic %q is not a command topic", ErrDecode, topic)
	}

	kind, ok := kindFromDomain(parts[1])
	if !ok {
		return CommandTarget{}, fmt.Errorf("%w: unknown domain %q", ErrDecode, parts[1])
	}

	node, err := strconv.Atoi(parts[2])
	if err != nil || node < 1 || node > 255 {
		return CommandTarget{}, fmt.Errorf("%w: bad node id %q", ErrDecode, parts[2])
	}

	index, err := strconv.Atoi(parts[3])
	if err != nil || index < 0 {
		return CommandTarget{}, fmt.Errorf("%w: bad capability index %q", ErrDecode, parts[3])
	}

	return CommandTarget{
		Kind:  kind,
		Node:  zwave.NodeID(node),
		Index: index,
	}, nil
}

// kindFromDomain maps a topic domain segment back to a capability kind.
func kindFromDomain(domain string) (device.CapabilityKind, bool) {
	switch domain {
	case "sensor":
		return device.NumericSensor, true
	case "binary_sensor":
		return device.BinarySensor, true
	case "switch":
		return device.Switch, true
	case "dimmer":
		return device.Dimmer, true
	default:
		return 0, false
	}
}
