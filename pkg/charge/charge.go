// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package charge implements the charge-cycle state machine. It turns the
// arbitrated mode, the pack status and the fault latches into contactor,
// charger and per-cell balance requests.
//
// Shutdown always passes through Done so the charger and balancing are
// released before the contactors are allowed to open.
package charge

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/cellwarden/pkg/bms"
	"github.com/Thermoquad/cellwarden/pkg/errstatus"
)

// State is the charge state.
type State uint8

// Charge states
const (
	Off State = iota
	Init
	CC
	CV
	Balance
	Done
)

// String returns the state name
func (s State) String() string {
	switch s {
	case Off:
		return "OFF"
	case Init:
		return "INIT"
	case CC:
		return "CC"
	case CV:
		return "CV"
	case Balance:
		return "BALANCE"
	case Done:
		return "DONE"
	default:
		return fmt.Sprintf("STATE_%d", uint8(s))
	}
}

// Disqualifying faults block charging and balancing.
var Disqualifying = []errstatus.Fault{
	errstatus.LTC6804PEC,
	errstatus.LTC6804OWT,
	errstatus.LTC6804CVST,
}

// FaultView is the read side of the fault latches.
type FaultView interface {
	Any(faults ...errstatus.Fault) bool
}

// Machine is the charge state machine. It persists its state across cycles.
type Machine struct {
	log logrus.FieldLogger

	state    State
	complete bool
}

// New creates a machine in Off.
func New(log logrus.FieldLogger) *Machine {
	return &Machine{log: log.WithField("component", "charge")}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Complete reports whether a charge ran to completion and is waiting for the
// charge request to be withdrawn.
func (m *Machine) Complete() bool {
	return m.complete
}

// Step runs one cycle. out is rewritten every cycle.
func (m *Machine) Step(in *bms.Input, faults FaultView, out *bms.Output) {
	if in.ModeRequest != bms.Charge {
		m.complete = false
	}

	if m.state == Off {
		m.off(out)
		if !(in.ModeRequest == bms.Charge && !m.complete) && in.ModeRequest != bms.Balance {
			return
		}
		m.transition(Init)
	}

	switch m.state {
	case Init:
		m.stepInit(in, faults, out)
	case CC, CV:
		m.stepCharge(in, faults, out)
	case Balance:
		m.stepBalance(in, faults, out)
	case Done:
		m.stepDone(in, out)
	}
}

func (m *Machine) stepInit(in *bms.Input, faults FaultView, out *bms.Output) {
	out.CloseContactors = true
	out.ChargeReq = bms.ChargeRequest{}
	out.ClearBalance()

	switch in.ModeRequest {
	case bms.Charge:
		if !in.ContactorsClosed || faults.Any(Disqualifying...) {
			return
		}
		m.transition(CC)
		m.charging(in, out)
	case bms.Balance:
		if !in.ContactorsClosed || faults.Any(Disqualifying...) {
			return
		}
		m.transition(Balance)
		m.updateBalance(in, balanceRef(in), out)
	default:
		m.enterDone(out)
	}
}

func (m *Machine) stepCharge(in *bms.Input, faults FaultView, out *bms.Output) {
	if in.ModeRequest != bms.Charge {
		m.enterDone(out)
		return
	}

	out.CloseContactors = true
	if !in.ContactorsClosed || faults.Any(Disqualifying...) {
		out.ChargeReq.ChargerOn = false
		out.ClearBalance()
		return
	}

	cfg, st := in.Config, in.Status
	if m.state == CC && st.PackCellMaxmV >= cfg.CellMaxmV {
		m.transition(CV)
	}
	if m.state == CV && in.ChargerOn && cfg.CVCutoffmA > 0 && st.PackCurrentmA < cfg.CVCutoffmA {
		m.log.WithField("current_ma", st.PackCurrentmA).Info("charge complete")
		m.complete = true
		m.enterDone(out)
		return
	}

	m.charging(in, out)
}

func (m *Machine) stepBalance(in *bms.Input, faults FaultView, out *bms.Output) {
	if in.ModeRequest != bms.Balance {
		m.enterDone(out)
		return
	}

	out.CloseContactors = true
	out.ChargeReq = bms.ChargeRequest{}
	if !in.ContactorsClosed || faults.Any(Disqualifying...) {
		out.ClearBalance()
		return
	}
	m.updateBalance(in, balanceRef(in), out)
}

func (m *Machine) stepDone(in *bms.Input, out *bms.Output) {
	out.ChargeReq = bms.ChargeRequest{}
	out.ClearBalance()
	out.CloseContactors = false

	if !in.ContactorsClosed {
		m.transition(Off)
	}
}

// enterDone releases the charger and balancing but keeps the contactors
// closed for this cycle.
func (m *Machine) enterDone(out *bms.Output) {
	m.transition(Done)
	out.CloseContactors = true
	out.ChargeReq = bms.ChargeRequest{}
	out.ClearBalance()
}

func (m *Machine) off(out *bms.Output) {
	out.CloseContactors = false
	out.ChargeReq = bms.ChargeRequest{}
	out.ClearBalance()
}

func (m *Machine) charging(in *bms.Input, out *bms.Output) {
	out.CloseContactors = true
	out.ChargeReq = bms.ChargeRequest{
		ChargerOn:       true,
		ChargeVoltagemV: in.Config.ChargeVoltagemV(),
		ChargeCurrentmA: in.Config.ChargeCurrentmA(),
	}
	m.updateBalance(in, in.Status.PackCellMinmV, out)
}

// updateBalance applies the on/off hysteresis against ref. Cells between the
// two thresholds keep their previous request.
func (m *Machine) updateBalance(in *bms.Input, ref uint32, out *bms.Output) {
	cfg := in.Config
	for i, v := range in.Status.CellVoltagesmV {
		if i >= len(out.BalanceReq) {
			break
		}
		var excess uint32
		if v > ref {
			excess = v - ref
		}
		switch {
		case excess > cfg.BalOnThreshmV:
			out.BalanceReq[i] = true
		case excess < cfg.BalOffThreshmV:
			out.BalanceReq[i] = false
		}
	}
}

func balanceRef(in *bms.Input) uint32 {
	return max(in.Status.PackCellMinmV, in.BalancemV)
}

func (m *Machine) transition(to State) {
	if to == m.state {
		return
	}
	m.log.WithFields(logrus.Fields{"from": m.state, "to": to}).Info("charge state")
	m.state = to
}
