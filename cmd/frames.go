// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/brutella/can"

	"github.com/Thermoquad/cellwarden/pkg/brusa"
	"github.com/Thermoquad/cellwarden/pkg/canbus"
)

// describeFrame decodes the charger and vehicle frames the controller
// knows about
func describeFrame(f can.Frame) string {
	switch f.ID {
	case brusa.ControlID:
		if c, ok := brusa.DecodeControl(f); ok {
			return fmt.Sprintf("NLG5_CTL enable=%t clear=%t out=%d mV %d cA mains=%d cA",
				c.Enable, c.ClearError, c.OutputmV, c.OutputcA, c.MaxMainscA)
		}
	case brusa.StatusID:
		if s, ok := brusa.DecodeStatus(f); ok {
			return fmt.Sprintf("NLG5_ST hw=%t error=%t warning=%t fan=%t",
				s.HardwareEnabled, s.Error, s.Warning, s.FanActive)
		}
	case brusa.ActIID:
		if a, ok := brusa.DecodeActI(f); ok {
			return fmt.Sprintf("NLG5_ACT_I out=%d mV %d cA mains=%d cA %d dV",
				a.OutputmV, a.OutputcA, a.MainscA, a.MainsdV)
		}
	case brusa.ActIIID:
		return "NLG5_ACT_II"
	case brusa.TempID:
		if t, ok := brusa.DecodeTemps(f); ok {
			return fmt.Sprintf("NLG5_TEMP stage=%d ext=%d/%d/%d (0.1 C)",
				t.PowerStagedC, t.Ext1dC, t.Ext2dC, t.Ext3dC)
		}
	case brusa.ErrID:
		if bits, hasErr, ok := brusa.DecodeErr(f); ok {
			return fmt.Sprintf("NLG5_ERR bits=0x%08X error=%t", bits, hasErr)
		}
	case canbus.VCUHeartbeatID:
		if m, ok := canbus.DecodeVCUHeartbeat(f); ok {
			return fmt.Sprintf("VCU_HEARTBEAT request=%s", m)
		}
	case canbus.VCUDischargeRequestID:
		if enter, ok := canbus.DecodeDischargeRequest(f); ok {
			return fmt.Sprintf("VCU_DISCHARGE_REQ enter=%t", enter)
		}
	case canbus.BMSHeartbeatID:
		if m, soc, ok := canbus.DecodeHeartbeat(f); ok {
			return fmt.Sprintf("BMS_HEARTBEAT mode=%s soc=%d%%", m, soc)
		}
	case canbus.BMSDischargeResponseID:
		if ready, ok := canbus.DecodeDischargeResponse(f); ok {
			return fmt.Sprintf("BMS_DISCHARGE_RESP ready=%t", ready)
		}
	default:
		return "unknown"
	}
	return "malformed"
}
