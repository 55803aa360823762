// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package canlink implements the byte-stream protocol spoken by CAN gateway
// adapters attached over a serial port or a WebSocket.
//
// Each packet is framed with START/END bytes and byte stuffing, addressed to
// a 64-bit gateway address and protected by CRC-16-CCITT. The body is a CBOR
// array [msg_type, payload_map] with small integer map keys; each message
// type has a typed payload struct in messages.go.
package canlink

// Protocol framing bytes
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20
)

// Packet size limits
const (
	MaxPacketSize  = 128 // 14 overhead + 114 payload
	MaxPayloadSize = 114
	AddressSize    = 8
)

// CRC-16-CCITT configuration
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// Special addresses
const (
	AddressBroadcast = 0x0000000000000000 // All gateways
	AddressStateless = 0xFFFFFFFFFFFFFFFF // Hubs that bridge several gateways
)

// Message types - Configuration (host → gateway) 0x10-0x1F
const (
	MsgBusConfig = 0x10
)

// Message types - Control (host → gateway) 0x20-0x2F
const (
	MsgCANSend     = 0x20
	MsgPingRequest = 0x2F
)

// Message types - Data (gateway → host) 0x30-0x3F
const (
	MsgCANFrame     = 0x30
	MsgBusStatus    = 0x31
	MsgPingResponse = 0x3F
)

// Message types - Errors (bidirectional) 0xE0-0xEF
const (
	MsgErrorInvalidCmd = 0xE0
)

// CAN identifier limits
const (
	MaxStandardID = 0x7FF
	MaxExtendedID = 0x1FFFFFFF
	MaxDataLength = 8
)

// BusState is the controller error state reported in BUS_STATUS.
type BusState int

// Bus states
const (
	BusErrorActive BusState = iota
	BusErrorPassive
	BusOff
)

// Decoder states (internal)
const (
	stateIdle = iota
	stateLength
	stateAddress
	statePayload
	stateCRC1
	stateCRC2
	stateEnd
)
