// Package device holds the in-memory model of the device network.
//
// The model is the single shared mutable structure in the bridge: the
// synchronizer is its only writer, everything else reads copies. Devices
// are created by the startup scan and never destroyed while the process
// runs; a node disappearing from the network only clears its liveness
// flag.
//
// Each capability tracks its last-known value and a sync state
// (unknown, synced, pending command) used by the synchronizer to
// reconcile optimistic command echoes with the reports the network
// eventually delivers.
package device
