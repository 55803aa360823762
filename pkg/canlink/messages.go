// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package canlink

import (
	"errors"
	"fmt"

	"github.com/brutella/can"
)

// Standard CAN frame flag bits as carried in can.Frame.ID (SocketCAN layout).
const (
	FlagExtended = 0x80000000
	FlagRemote   = 0x40000000
	idMask       = 0x1FFFFFFF
)

// FrameBody is the payload map of CAN_SEND and CAN_FRAME.
type FrameBody struct {
	ID       *uint64 `cbor:"0,keyasint"`
	Data     []byte  `cbor:"1,keyasint"`
	Extended bool    `cbor:"2,keyasint,omitempty"`
	Remote   bool    `cbor:"3,keyasint,omitempty"`
}

// PingBody is the payload map of PING_RESPONSE.
type PingBody struct {
	UptimeMs uint64 `cbor:"0,keyasint"`
}

// BusConfigBody is the payload map of BUS_CONFIG.
type BusConfigBody struct {
	Bitrate    uint32 `cbor:"0,keyasint"`
	ListenOnly bool   `cbor:"1,keyasint"`
}

// BusStatusBody is the payload map of BUS_STATUS.
type BusStatusBody struct {
	State    *BusState `cbor:"0,keyasint"`
	TxErrors uint8     `cbor:"1,keyasint"`
	RxErrors uint8     `cbor:"2,keyasint"`
}

// ErrorBody is the payload map of ERROR_INVALID_CMD.
type ErrorBody struct {
	Code int64 `cbor:"0,keyasint"`
}

func frameBody(f can.Frame) FrameBody {
	n := f.Length
	if n > MaxDataLength {
		n = MaxDataLength
	}
	id := uint64(f.ID & idMask)
	return FrameBody{
		ID:       &id,
		Data:     append([]byte{}, f.Data[:n]...),
		Extended: f.ID&FlagExtended != 0,
		Remote:   f.ID&FlagRemote != 0,
	}
}

// limit returns the largest identifier the frame format allows.
func (b FrameBody) limit() uint64 {
	if b.Extended {
		return MaxExtendedID
	}
	return MaxStandardID
}

// Frame converts the body to a can.Frame.
func (b FrameBody) Frame() (can.Frame, error) {
	var f can.Frame
	if b.ID == nil {
		return f, errors.New("CAN frame missing id")
	}
	if len(b.Data) > MaxDataLength {
		return f, fmt.Errorf("CAN frame data too long: %d bytes", len(b.Data))
	}
	if *b.ID > b.limit() {
		return f, fmt.Errorf("CAN id 0x%X out of range", *b.ID)
	}

	f.ID = uint32(*b.ID)
	if b.Extended {
		f.ID |= FlagExtended
	}
	if b.Remote {
		f.ID |= FlagRemote
	}
	f.Length = uint8(len(b.Data))
	copy(f.Data[:], b.Data)
	return f, nil
}

// NewCANSend builds a CAN_SEND command asking the gateway to transmit f.
func NewCANSend(address uint64, f can.Frame) *Packet {
	return newPacket(address, MsgCANSend, frameBody(f))
}

// NewCANFrame builds a CAN_FRAME report as sent by a gateway.
func NewCANFrame(address uint64, f can.Frame) *Packet {
	return newPacket(address, MsgCANFrame, frameBody(f))
}

// NewPingRequest builds a PING_REQUEST.
func NewPingRequest(address uint64) *Packet {
	return newPacket(address, MsgPingRequest, nil)
}

// NewPingResponse builds a PING_RESPONSE carrying the gateway uptime.
func NewPingResponse(address uint64, uptimeMs uint64) *Packet {
	return newPacket(address, MsgPingResponse, PingBody{UptimeMs: uptimeMs})
}

// NewBusConfig builds a BUS_CONFIG command.
func NewBusConfig(address uint64, bitrate uint32, listenOnly bool) *Packet {
	return newPacket(address, MsgBusConfig, BusConfigBody{Bitrate: bitrate, ListenOnly: listenOnly})
}

// NewBusStatus builds a BUS_STATUS report.
func NewBusStatus(address uint64, state BusState, txErrors, rxErrors uint8) *Packet {
	return newPacket(address, MsgBusStatus, BusStatusBody{State: &state, TxErrors: txErrors, RxErrors: rxErrors})
}

// Frame extracts the CAN frame from a CAN_FRAME or CAN_SEND packet.
func (p *Packet) Frame() (can.Frame, error) {
	if p.msgType != MsgCANFrame && p.msgType != MsgCANSend {
		return can.Frame{}, fmt.Errorf("not a CAN frame packet: %s", FormatMessageType(p.msgType))
	}
	var body FrameBody
	if err := p.Decode(&body); err != nil {
		return can.Frame{}, err
	}
	return body.Frame()
}

// BusStatus decodes a BUS_STATUS packet.
func (p *Packet) BusStatus() (BusStatusBody, error) {
	var body BusStatusBody
	if p.msgType != MsgBusStatus {
		return body, fmt.Errorf("not a bus status packet: %s", FormatMessageType(p.msgType))
	}
	if err := p.Decode(&body); err != nil {
		return body, err
	}
	if body.State == nil {
		return body, errors.New("BUS_STATUS missing state")
	}
	return body, nil
}

// Uptime decodes the gateway uptime in milliseconds from a PING_RESPONSE.
func (p *Packet) Uptime() (uint64, error) {
	var body PingBody
	if p.msgType != MsgPingResponse {
		return 0, fmt.Errorf("not a ping response: %s", FormatMessageType(p.msgType))
	}
	err := p.Decode(&body)
	return body.UptimeMs, err
}
