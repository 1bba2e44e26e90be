// Package serialapi implements zwave.Controller over a USB controller
// stick speaking the binary serial protocol.
//
// Frame layer:
//
//	SOF(0x01) LENGTH TYPE FUNC DATA... CHECKSUM
//
// LENGTH counts every byte after itself including the checksum. The
// checksum is 0xFF XORed with LENGTH, TYPE, FUNC and DATA. Single-byte
// ACK (0x06), NAK (0x15) and CAN (0x18) acknowledge or reject frames.
//
// The controller serializes requests on the port: each request frame is
// written, acknowledged, and matched to its response before the next is
// sent. Unsolicited application command frames arriving in between are
// decoded into zwave.Reading values and delivered through the
// value-changed callback.
package serialapi
