// Package zwave defines the device-network side of the bridge.
//
// It contains the node and value types shared by the rest of the system
// and the Controller interface the bridge core drives. The concrete
// serial implementation lives in the serialapi subpackage; tests and the
// bridge core only ever see the interface, so a fake controller can
// stand in for real hardware.
//
// Value handles are opaque to everything above this package: the bridge
// core routes them between the device model and the controller without
// interpreting command class numbers or instance identifiers.
package zwave
