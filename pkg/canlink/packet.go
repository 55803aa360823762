// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package canlink

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// ErrNoBody is returned when decoding a packet that carries no payload map.
var ErrNoBody = errors.New("packet has no payload")

var (
	encMode = mustEncMode(cbor.CoreDetEncOptions())
	decMode = mustDecMode(cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF})
)

func mustEncMode(opts cbor.EncOptions) cbor.EncMode {
	em, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

func mustDecMode(opts cbor.DecOptions) cbor.DecMode {
	dm, err := opts.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}

// envelope is the CBOR body of every packet: [msg_type, payload_map / null].
type envelope struct {
	_    struct{} `cbor:",toarray"`
	Type uint8
	Body *cbor.RawMessage
}

// Packet is one gateway packet. Built packets carry their encoded payload
// map; decoded packets also keep the wire length and CRC.
type Packet struct {
	address   uint64
	msgType   uint8
	body      cbor.RawMessage
	raw       []byte
	length    uint8
	crc       uint16
	timestamp time.Time
	err       error
}

// newPacket encodes v as the payload map of a msgType packet. A nil v means
// no payload.
func newPacket(address uint64, msgType uint8, v any) *Packet {
	p := &Packet{address: address, msgType: msgType, timestamp: time.Now()}
	if v != nil {
		p.body, p.err = encMode.Marshal(v)
	}
	return p
}

// parse splits the received CBOR bytes into type and payload.
func (p *Packet) parse(raw []byte) {
	p.raw = raw
	if len(raw) == 0 {
		p.err = errors.New("empty CBOR payload")
		return
	}
	var env envelope
	if err := decMode.Unmarshal(raw, &env); err != nil {
		p.err = fmt.Errorf("failed to decode CBOR: %w", err)
		return
	}
	p.msgType = env.Type
	if env.Body != nil {
		p.body = *env.Body
	}
}

// Decode unmarshals the payload map into v.
func (p *Packet) Decode(v any) error {
	if p.err != nil {
		return p.err
	}
	if len(p.body) == 0 {
		return ErrNoBody
	}
	return decMode.Unmarshal(p.body, v)
}

// MarshalBinary returns the framed, stuffed wire form of the packet.
func (p *Packet) MarshalBinary() ([]byte, error) {
	if p.err != nil {
		return nil, fmt.Errorf("encode %s: %w", FormatMessageType(p.msgType), p.err)
	}
	env := envelope{Type: p.msgType}
	if len(p.body) > 0 {
		env.Body = &p.body
	}
	payload, err := encMode.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode CBOR payload: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("CBOR payload too large: %d bytes (max %d)", len(payload), MaxPayloadSize)
	}

	// length + address + payload is covered by the CRC and stuffed
	data := make([]byte, 1+AddressSize+len(payload), 1+AddressSize+len(payload)+2)
	data[0] = uint8(len(payload))
	binary.LittleEndian.PutUint64(data[1:1+AddressSize], p.address)
	copy(data[1+AddressSize:], payload)
	crc := CalculateCRC(data)
	data = append(data, byte(crc>>8), byte(crc&0xFF))

	stuffed := stuffBytes(data)
	wire := make([]byte, 0, len(stuffed)+2)
	wire = append(wire, StartByte)
	wire = append(wire, stuffed...)
	return append(wire, EndByte), nil
}

// Length returns the CBOR length field of a decoded packet.
func (p *Packet) Length() uint8 {
	return p.length
}

// Address returns the gateway address.
func (p *Packet) Address() uint64 {
	return p.address
}

// Type returns the message type.
func (p *Packet) Type() uint8 {
	return p.msgType
}

// Payload returns the raw CBOR bytes as received.
func (p *Packet) Payload() []byte {
	return p.raw
}

// ParseError returns the error from building or parsing the packet body.
func (p *Packet) ParseError() error {
	return p.err
}

// CRC returns the received CRC.
func (p *Packet) CRC() uint16 {
	return p.crc
}

// Timestamp returns when the packet was decoded or built.
func (p *Packet) Timestamp() time.Time {
	return p.timestamp
}

// IsBroadcast reports whether the packet is addressed to all gateways.
func (p *Packet) IsBroadcast() bool {
	return p.address == AddressBroadcast
}

// IsStateless reports whether the packet uses the stateless address.
func (p *Packet) IsStateless() bool {
	return p.address == AddressStateless
}
