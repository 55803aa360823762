// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package canlink

import (
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// FormatPacket formats a packet into a human-readable string
func FormatPacket(p *Packet) string {
	timestamp := p.timestamp.Format("15:04:05.000")
	msgType := FormatMessageType(p.Type())

	result := fmt.Sprintf("[%s] %s (0x%02X) addr=%016X len=%d\n", timestamp, msgType, p.Type(), p.address, p.length)
	if err := p.ParseError(); err != nil {
		return result + fmt.Sprintf("  (unparseable payload: %v)\n", err)
	}
	return result + FormatBody(p)
}

// FormatMessageType returns the human-readable name for a message type
func FormatMessageType(msgType uint8) string {
	switch msgType {
	case MsgBusConfig:
		return "BUS_CONFIG"
	case MsgCANSend:
		return "CAN_SEND"
	case MsgPingRequest:
		return "PING_REQUEST"
	case MsgCANFrame:
		return "CAN_FRAME"
	case MsgBusStatus:
		return "BUS_STATUS"
	case MsgPingResponse:
		return "PING_RESPONSE"
	case MsgErrorInvalidCmd:
		return "ERROR_INVALID_CMD"
	default:
		return "UNKNOWN"
	}
}

// FormatBody formats the payload map of p based on its message type
func FormatBody(p *Packet) string {
	if len(p.body) == 0 {
		return "  (no payload)\n"
	}

	switch p.Type() {
	case MsgPingResponse:
		uptime, err := p.Uptime()
		if err != nil {
			break
		}
		return fmt.Sprintf("  Uptime: %s\n", formatDuration(uptime))

	case MsgCANSend, MsgCANFrame:
		var body FrameBody
		if err := p.Decode(&body); err != nil || body.ID == nil {
			break
		}
		idStr := fmt.Sprintf("%03X", *body.ID)
		if body.Extended {
			idStr = fmt.Sprintf("%08X", *body.ID)
		}
		result := fmt.Sprintf("  ID: %s [%d] % X", idStr, len(body.Data), body.Data)
		if body.Remote {
			result += " RTR"
		}
		return result + "\n"

	case MsgBusStatus:
		st, err := p.BusStatus()
		if err != nil {
			break
		}
		return fmt.Sprintf("  State: %s, TX errors: %d, RX errors: %d\n", *st.State, st.TxErrors, st.RxErrors)

	case MsgBusConfig:
		var body BusConfigBody
		if err := p.Decode(&body); err != nil {
			break
		}
		return fmt.Sprintf("  Bitrate: %d bit/s, Listen only: %t\n", body.Bitrate, body.ListenOnly)

	case MsgErrorInvalidCmd:
		var body ErrorBody
		if err := p.Decode(&body); err != nil {
			break
		}
		return fmt.Sprintf("  Error code: %d\n", body.Code)
	}

	// Unknown types and bodies that do not fit their type
	diag, err := cbor.Diagnose(p.body)
	if err != nil {
		return fmt.Sprintf("  % X\n", []byte(p.body))
	}
	return "  " + diag + "\n"
}

// String returns the bus state name
func (s BusState) String() string {
	switch s {
	case BusErrorActive:
		return "ERROR_ACTIVE"
	case BusErrorPassive:
		return "ERROR_PASSIVE"
	case BusOff:
		return "BUS_OFF"
	default:
		return "UNKNOWN"
	}
}

// formatDuration converts milliseconds to a human-readable duration
func formatDuration(ms uint64) string {
	seconds := ms / 1000
	if seconds == 0 {
		return fmt.Sprintf("%d ms", ms)
	}

	units := []struct {
		name string
		size uint64
	}{
		{"day", 24 * 60 * 60},
		{"hour", 60 * 60},
		{"minute", 60},
		{"second", 1},
	}

	parts := []string{}
	for _, u := range units {
		n := seconds / u.size
		seconds %= u.size
		switch {
		case n == 1:
			parts = append(parts, "1 "+u.name)
		case n > 1:
			parts = append(parts, fmt.Sprintf("%d %ss", n, u.name))
		}
	}

	switch len(parts) {
	case 1:
		return parts[0]
	case 2:
		return parts[0] + " and " + parts[1]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + ", and " + parts[len(parts)-1]
	}
}
