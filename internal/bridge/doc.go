// Package bridge contains the state synchronization and protocol
// translation engine between the device network and the message bus.
//
// The pieces, leaves first:
//
//   - Capability adapters translate between model values and bus
//     payloads ("ON"/"OFF" vocabulary, numeric strings, 0-100
//     brightness).
//   - The topic Router is a pure bijection between (device, capability)
//     pairs and the state/command/discovery topic spaces.
//   - The DiscoveryPublisher emits retained configuration records so
//     the home-automation controller auto-detects every capability.
//   - The Synchronizer owns the consistency contract: network events
//     and inbound commands feed two bounded queues drained by a single
//     goroutine, which is the only writer of the device model. Network
//     reports always win over optimistic command echoes.
//   - The Bridge runtime wires controller, bus, model and the above
//     into a startup sequence: scan, model build, discovery, command
//     subscription, initial state report.
//
// Discovery is published once at startup. It is never re-published
// automatically; RepublishDiscovery exists for explicit operator use.
package bridge
