// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package brusa speaks the Brusa NLG5 charger CAN protocol: frame
// encoding and decoding plus the paced control driver with its error-clear
// handshake.
package brusa

import (
	"encoding/binary"

	"github.com/brutella/can"
)

// NLG5 CAN IDs
const (
	StatusID  = 0x610
	ActIID    = 0x611
	ActIIID   = 0x612
	TempID    = 0x613
	ErrID     = 0x614
	ControlID = 0x618
)

// Control byte 0 flags
const (
	ctlEnable      = 0x80
	ctlClearError  = 0x40
	ctlVentilation = 0x20
)

// Status byte 0 flags
const (
	stHardwareEnabled = 0x80
	stError           = 0x40
	stWarning         = 0x20
	stFanActive       = 0x10
)

// Control is the NLG5 control message.
type Control struct {
	Enable      bool
	ClearError  bool
	Ventilation bool
	MaxMainscA  uint32
	OutputmV    uint32
	OutputcA    uint32
}

// ActI is the first actual-values message.
type ActI struct {
	MainscA  uint16
	MainsdV  uint16
	OutputmV uint32
	OutputcA uint16
}

// Status is the NLG5 status message.
type Status struct {
	HardwareEnabled bool
	Error           bool
	Warning         bool
	FanActive       bool
}

// Temps is the NLG5 temperature message, in 0.1 °C.
type Temps struct {
	PowerStagedC int16
	Ext1dC       int16
	Ext2dC       int16
	Ext3dC       int16
}

// EncodeControl builds the control frame. The charger takes deci-volts and
// deci-amps on the wire.
func EncodeControl(c Control) can.Frame {
	f := can.Frame{ID: ControlID, Length: 7}

	if c.Enable {
		f.Data[0] |= ctlEnable
	}
	if c.ClearError {
		f.Data[0] |= ctlClearError
	}
	if c.Ventilation {
		f.Data[0] |= ctlVentilation
	}
	binary.BigEndian.PutUint16(f.Data[1:3], clamp16(c.MaxMainscA/10))
	binary.BigEndian.PutUint16(f.Data[3:5], clamp16(c.OutputmV/100))
	binary.BigEndian.PutUint16(f.Data[5:7], clamp16(c.OutputcA/10))

	return f
}

// DecodeControl parses a control frame. Scaling loses the sub-unit digits.
func DecodeControl(f can.Frame) (Control, bool) {
	if f.ID != ControlID || f.Length < 7 {
		return Control{}, false
	}
	return Control{
		Enable:      f.Data[0]&ctlEnable != 0,
		ClearError:  f.Data[0]&ctlClearError != 0,
		Ventilation: f.Data[0]&ctlVentilation != 0,
		MaxMainscA:  uint32(binary.BigEndian.Uint16(f.Data[1:3])) * 10,
		OutputmV:    uint32(binary.BigEndian.Uint16(f.Data[3:5])) * 100,
		OutputcA:    uint32(binary.BigEndian.Uint16(f.Data[5:7])) * 10,
	}, true
}

// EncodeActI builds an ACT_I frame, as sent by the charger.
func EncodeActI(a ActI) can.Frame {
	f := can.Frame{ID: ActIID, Length: 8}
	binary.BigEndian.PutUint16(f.Data[0:2], a.MainscA)
	binary.BigEndian.PutUint16(f.Data[2:4], a.MainsdV)
	binary.BigEndian.PutUint16(f.Data[4:6], clamp16(a.OutputmV/10))
	binary.BigEndian.PutUint16(f.Data[6:8], a.OutputcA)
	return f
}

// DecodeActI parses an ACT_I frame. Output voltage is sent in 10 mV steps.
func DecodeActI(f can.Frame) (ActI, bool) {
	if f.ID != ActIID || f.Length < 8 {
		return ActI{}, false
	}
	return ActI{
		MainscA:  binary.BigEndian.Uint16(f.Data[0:2]),
		MainsdV:  binary.BigEndian.Uint16(f.Data[2:4]),
		OutputmV: uint32(binary.BigEndian.Uint16(f.Data[4:6])) * 10,
		OutputcA: binary.BigEndian.Uint16(f.Data[6:8]),
	}, true
}

// EncodeStatus builds a status frame, as sent by the charger.
func EncodeStatus(s Status) can.Frame {
	f := can.Frame{ID: StatusID, Length: 4}
	if s.HardwareEnabled {
		f.Data[0] |= stHardwareEnabled
	}
	if s.Error {
		f.Data[0] |= stError
	}
	if s.Warning {
		f.Data[0] |= stWarning
	}
	if s.FanActive {
		f.Data[0] |= stFanActive
	}
	return f
}

// DecodeStatus parses a status frame.
func DecodeStatus(f can.Frame) (Status, bool) {
	if f.ID != StatusID || f.Length < 1 {
		return Status{}, false
	}
	return Status{
		HardwareEnabled: f.Data[0]&stHardwareEnabled != 0,
		Error:           f.Data[0]&stError != 0,
		Warning:         f.Data[0]&stWarning != 0,
		FanActive:       f.Data[0]&stFanActive != 0,
	}, true
}

// DecodeTemps parses a temperature frame.
func DecodeTemps(f can.Frame) (Temps, bool) {
	if f.ID != TempID || f.Length < 8 {
		return Temps{}, false
	}
	return Temps{
		PowerStagedC: int16(binary.BigEndian.Uint16(f.Data[0:2])),
		Ext1dC:       int16(binary.BigEndian.Uint16(f.Data[2:4])),
		Ext2dC:       int16(binary.BigEndian.Uint16(f.Data[4:6])),
		Ext3dC:       int16(binary.BigEndian.Uint16(f.Data[6:8])),
	}, true
}

// EncodeErr builds an error frame with the given error bits (bytes 0..3)
// and warning bits (byte 4).
func EncodeErr(errBits uint32, warnBits uint8) can.Frame {
	f := can.Frame{ID: ErrID, Length: 5}
	binary.BigEndian.PutUint32(f.Data[0:4], errBits)
	f.Data[4] = warnBits
	return f
}

// DecodeErr parses an error frame and reports whether any error bit is set.
// Warnings alone do not count as an error.
func DecodeErr(f can.Frame) (errBits uint32, hasErr bool, ok bool) {
	if f.ID != ErrID || f.Length < 4 {
		return 0, false, false
	}
	errBits = binary.BigEndian.Uint32(f.Data[0:4])
	return errBits, errBits != 0, true
}

func clamp16(v uint32) uint16 {
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}
