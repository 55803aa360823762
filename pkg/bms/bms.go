// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bms holds the records shared between the control components:
// pack configuration, the acquired pack status, the arbitrated mode and the
// per-cycle inputs and outputs of the charge state machine.
package bms

import "fmt"

// Mode is an operating mode. The same type carries the console and bus
// requests and the arbitrated result.
type Mode uint8

// Operating modes
const (
	Init Mode = iota
	Standby
	Charge
	Balance
	Discharge
)

// String returns the mode name
func (m Mode) String() string {
	switch m {
	case Init:
		return "INIT"
	case Standby:
		return "STANDBY"
	case Charge:
		return "CHARGE"
	case Balance:
		return "BALANCE"
	case Discharge:
		return "DISCHARGE"
	default:
		return fmt.Sprintf("MODE_%d", uint8(m))
	}
}

// ParseMode parses a mode name as typed on the console.
// Init is not a request and is rejected.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "standby", "STANDBY", "s":
		return Standby, nil
	case "charge", "CHARGE", "c":
		return Charge, nil
	case "balance", "BALANCE", "b":
		return Balance, nil
	case "discharge", "DISCHARGE", "d":
		return Discharge, nil
	default:
		return Standby, fmt.Errorf("unknown mode %q", s)
	}
}

// OpenWire is the location of a failing sense wire.
type OpenWire struct {
	Valid  bool
	Module uint8
	Wire   uint8
}

// PackStatus is the latest PEC-verified acquisition snapshot plus the
// charger-reported pack current and voltage.
type PackStatus struct {
	CellVoltagesmV []uint32
	PackCellMinmV  uint32
	PackCellMaxmV  uint32
	CellTempsdC    []int16
	OpenWire       OpenWire

	// Reported by the charger, not measured by the monitor.
	PackCurrentmA uint32
	PackVoltagemV uint32
}

// NewPackStatus allocates a status sized for cfg.
func NewPackStatus(cfg *PackConfig) *PackStatus {
	n := cfg.TotalCells()
	return &PackStatus{
		CellVoltagesmV: make([]uint32, n),
		CellTempsdC:    make([]int16, n),
	}
}

// Clone returns a deep copy of s.
func (s *PackStatus) Clone() PackStatus {
	c := *s
	c.CellVoltagesmV = append([]uint32(nil), s.CellVoltagesmV...)
	c.CellTempsdC = append([]int16(nil), s.CellTempsdC...)
	return c
}

// ChargeRequest is what the charge state machine asks of the charger.
type ChargeRequest struct {
	ChargerOn       bool
	ChargeVoltagemV uint32
	ChargeCurrentmA uint32
}

// Input is the per-cycle input of the charge state machine.
type Input struct {
	ModeRequest      Mode
	BalancemV        uint32
	ContactorsClosed bool
	ChargerOn        bool
	Config           *PackConfig
	Status           *PackStatus
}

// Output is the per-cycle output of the charge state machine.
type Output struct {
	CloseContactors bool
	ChargeReq       ChargeRequest
	BalanceReq      []bool
}

// NewOutput allocates an output sized for cfg.
func NewOutput(cfg *PackConfig) *Output {
	return &Output{BalanceReq: make([]bool, cfg.TotalCells())}
}

// ClearBalance drops every balance request.
func (o *Output) ClearBalance() {
	for i := range o.BalanceReq {
		o.BalanceReq[i] = false
	}
}

// Balancing reports whether any cell has a balance request.
func (o *Output) Balancing() bool {
	for _, b := range o.BalanceReq {
		if b {
			return true
		}
	}
	return false
}
