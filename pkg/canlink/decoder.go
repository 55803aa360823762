// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package canlink

import (
	"errors"
	"fmt"
	"time"
)

// ErrCRCMismatch is wrapped by decode errors caused by a bad checksum.
var ErrCRCMismatch = errors.New("CRC mismatch")

// Decoder is the byte-at-a-time packet decoder state machine.
type Decoder struct {
	state        int
	buffer       []byte // length + address + payload, for the CRC
	bufferIndex  int
	escapeNext   bool
	addressBytes int
	packet       *Packet
	payload      []byte
	rawBuffer    []byte // raw bytes including framing
}

// NewDecoder creates a new protocol decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:     stateIdle,
		buffer:    make([]byte, MaxPacketSize),
		rawBuffer: make([]byte, 0, MaxPacketSize*2),
	}
}

// Reset returns the decoder to idle
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.bufferIndex = 0
	d.addressBytes = 0
	d.escapeNext = false
	d.packet = nil
	d.payload = nil
	d.rawBuffer = d.rawBuffer[:0]
}

// RawBytes returns the raw bytes accumulated since the last packet start
func (d *Decoder) RawBytes() []byte {
	return d.rawBuffer
}

func (d *Decoder) store(b byte) error {
	if d.bufferIndex >= MaxPacketSize {
		return errors.New("buffer overflow: packet exceeds max size")
	}
	d.buffer[d.bufferIndex] = b
	d.bufferIndex++
	return nil
}

// DecodeByte feeds one byte to the decoder. It returns a packet when one is
// complete, nil while a packet is in progress, and an error when the current
// packet is discarded.
func (d *Decoder) DecodeByte(b byte) (*Packet, error) {
	d.rawBuffer = append(d.rawBuffer, b)

	if d.escapeNext {
		d.escapeNext = false
		return d.consume(b ^ EscXor)
	}

	switch b {
	case EscByte:
		d.escapeNext = true
		return nil, nil

	case StartByte:
		d.Reset()
		d.rawBuffer = append(d.rawBuffer, b)
		d.state = stateLength
		return nil, nil

	case EndByte:
		if d.state != stateEnd || d.packet == nil {
			state := d.state
			d.Reset()
			if state == stateIdle {
				return nil, nil
			}
			return nil, fmt.Errorf("unexpected END byte in state %d", state)
		}
		packet, payload := d.packet, d.payload
		calculated := CalculateCRC(d.buffer[:d.bufferIndex])
		d.Reset()
		if packet.crc != calculated {
			return nil, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrCRCMismatch, calculated, packet.crc)
		}
		packet.timestamp = time.Now()
		packet.parse(payload)
		return packet, nil
	}

	return d.consume(b)
}

func (d *Decoder) consume(b byte) (*Packet, error) {
	switch d.state {
	case stateIdle:
		return nil, nil

	case stateLength:
		if b > MaxPayloadSize {
			d.Reset()
			return nil, fmt.Errorf("invalid length: %d (max %d)", b, MaxPayloadSize)
		}
		if err := d.store(b); err != nil {
			d.Reset()
			return nil, err
		}
		d.packet = &Packet{length: b}
		d.payload = make([]byte, 0, b)
		d.addressBytes = 0
		d.state = stateAddress

	case stateAddress:
		if err := d.store(b); err != nil {
			d.Reset()
			return nil, err
		}
		d.packet.address |= uint64(b) << (d.addressBytes * 8)
		d.addressBytes++
		if d.addressBytes >= AddressSize {
			if d.packet.length == 0 {
				d.state = stateCRC1
			} else {
				d.state = statePayload
			}
		}

	case statePayload:
		if err := d.store(b); err != nil {
			d.Reset()
			return nil, err
		}
		d.payload = append(d.payload, b)
		if len(d.payload) >= int(d.packet.length) {
			d.state = stateCRC1
		}

	case stateCRC1:
		d.packet.crc = uint16(b) << 8
		d.state = stateCRC2

	case stateCRC2:
		d.packet.crc |= uint16(b)
		d.state = stateEnd

	case stateEnd:
		d.Reset()
		return nil, errors.New("expected END byte after CRC")

	default:
		d.Reset()
		return nil, fmt.Errorf("invalid state: %d", d.state)
	}

	return nil, nil
}
