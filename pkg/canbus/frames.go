// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package canbus connects the control cycle to the vehicle CAN bus: it
// decodes VCU and charger frames into cycle inputs and emits the charger
// control message, the BMS heartbeat and discharge responses.
package canbus

import (
	"github.com/brutella/can"

	"github.com/Thermoquad/cellwarden/pkg/bms"
)

// Vehicle frame IDs
const (
	VCUHeartbeatID         = 0x300
	VCUDischargeRequestID  = 0x301
	BMSHeartbeatID         = 0x310
	BMSDischargeResponseID = 0x311
)

// HeartbeatInterval is the BMS heartbeat period in ticks.
const HeartbeatInterval = 1000

// Single-bit fields live in the MSB of byte 0.
const flagBit = 7

// DecodeVCUHeartbeat returns the mode the VCU requests: Discharge when the
// state bit is set, Standby otherwise.
func DecodeVCUHeartbeat(f can.Frame) (bms.Mode, bool) {
	if f.ID != VCUHeartbeatID || f.Length < 1 {
		return bms.Standby, false
	}
	if f.Data[0]>>flagBit == 1 {
		return bms.Discharge, true
	}
	return bms.Standby, true
}

// EncodeVCUHeartbeat builds a VCU heartbeat. Used by the simulator and tests.
func EncodeVCUHeartbeat(discharge bool) can.Frame {
	f := can.Frame{ID: VCUHeartbeatID, Length: 1}
	if discharge {
		f.Data[0] = 1 << flagBit
	}
	return f
}

// DecodeDischargeRequest reports whether the frame asks to enter discharge.
func DecodeDischargeRequest(f can.Frame) (enter bool, ok bool) {
	if f.ID != VCUDischargeRequestID || f.Length < 1 {
		return false, false
	}
	return f.Data[0]>>flagBit == 1, true
}

// EncodeDischargeRequest builds a VCU enter-discharge request.
func EncodeDischargeRequest() can.Frame {
	f := can.Frame{ID: VCUDischargeRequestID, Length: 1}
	f.Data[0] = 1 << flagBit
	return f
}

// EncodeHeartbeat builds the BMS heartbeat: the supervisor mode and the
// state of charge in percent.
func EncodeHeartbeat(mode bms.Mode, soc uint8) can.Frame {
	f := can.Frame{ID: BMSHeartbeatID, Length: 2}
	f.Data[0] = uint8(mode)
	f.Data[1] = soc
	return f
}

// DecodeHeartbeat parses a BMS heartbeat.
func DecodeHeartbeat(f can.Frame) (mode bms.Mode, soc uint8, ok bool) {
	if f.ID != BMSHeartbeatID || f.Length < 2 {
		return bms.Init, 0, false
	}
	return bms.Mode(f.Data[0]), f.Data[1], true
}

// EncodeDischargeResponse builds the discharge response.
func EncodeDischargeResponse(ready bool) can.Frame {
	f := can.Frame{ID: BMSDischargeResponseID, Length: 1}
	if ready {
		f.Data[0] = 1 << flagBit
	}
	return f
}

// DecodeDischargeResponse parses a discharge response.
func DecodeDischargeResponse(f can.Frame) (ready bool, ok bool) {
	if f.ID != BMSDischargeResponseID || f.Length < 1 {
		return false, false
	}
	return f.Data[0]>>flagBit == 1, true
}
