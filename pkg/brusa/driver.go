// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package brusa

import (
	"github.com/brutella/can"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/cellwarden/pkg/bms"
	"github.com/Thermoquad/cellwarden/pkg/errstatus"
	"github.com/Thermoquad/cellwarden/pkg/tick"
)

// Control pacing
const (
	ControlInterval = 99   // ticks between control messages
	MaxMainscA      = 1000 // mains input current cap
)

// Driver paces the control message and tracks the charger error latch.
type Driver struct {
	log    logrus.FieldLogger
	faults *errstatus.Aggregator

	last      tick.Tick
	sent      bool
	chargerOn bool

	status Status
	temps  Temps
}

// NewDriver creates a charger driver.
func NewDriver(faults *errstatus.Aggregator, log logrus.FieldLogger) *Driver {
	return &Driver{
		log:    log.WithField("component", "brusa"),
		faults: faults,
	}
}

// ChargerOn reports whether the charger is considered enabled on the pack
// side.
func (d *Driver) ChargerOn() bool {
	return d.chargerOn
}

// Status returns the last status message received from the charger.
func (d *Driver) Status() Status {
	return d.status
}

// Temps returns the last temperature message received from the charger.
func (d *Driver) Temps() Temps {
	return d.temps
}

// Control decides whether a control frame is due. When send is false no
// frame goes out this cycle. chargerOn is the pack-side enable state after
// this cycle; between messages it keeps its previous value.
func (d *Driver) Control(req bms.ChargeRequest, now tick.Tick) (ctl Control, send bool, chargerOn bool) {
	if !req.ChargerOn {
		d.chargerOn = false
		return Control{}, false, false
	}

	if d.sent && tick.Since(now, d.last) < ControlInterval {
		return Control{}, false, d.chargerOn
	}

	ctl = Control{
		Enable:     true,
		MaxMainscA: MaxMainscA,
		OutputmV:   req.ChargeVoltagemV,
		OutputcA:   req.ChargeCurrentmA / 10,
	}

	st := d.faults.Status(errstatus.Charger)
	if st.Handling {
		ctl.ClearError = st.Count&1 == 1
		ctl.OutputmV = 0
		ctl.OutputcA = 0
		d.chargerOn = false
	} else {
		d.chargerOn = true
	}

	d.last = now
	d.sent = true
	return ctl, true, d.chargerOn
}

// HandleFrame applies a charger frame. chargerReq is the current charge
// request; error frames only count while charging is requested. It reports
// whether the frame belonged to the charger.
func (d *Driver) HandleFrame(f can.Frame, chargerReq bool, status *bms.PackStatus, now tick.Tick) bool {
	switch f.ID {
	case StatusID:
		if s, ok := DecodeStatus(f); ok {
			d.status = s
		}
	case ActIID:
		a, ok := DecodeActI(f)
		if !ok {
			d.log.WithField("len", f.Length).Warn("short ACT_I frame")
			return true
		}
		// Charger-reported current is the only pack current source.
		status.PackCurrentmA = uint32(a.OutputcA) * 10
		status.PackVoltagemV = a.OutputmV
	case ActIIID:
	case TempID:
		if t, ok := DecodeTemps(f); ok {
			d.temps = t
		}
	case ErrID:
		if !chargerReq {
			return true
		}
		bits, hasErr, ok := DecodeErr(f)
		if !ok {
			return true
		}
		if hasErr {
			if !d.faults.Asserted(errstatus.Charger) {
				d.log.WithField("bits", bits).Warn("charger error")
			}
			d.faults.Assert(errstatus.Charger, now)
		} else {
			d.faults.Pass(errstatus.Charger)
		}
	default:
		return false
	}
	return true
}
