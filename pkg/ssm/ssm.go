// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ssm is the system mode supervisor. It sequences the pack between
// Init, Standby, Charge, Balance and Discharge, handing Charge and Balance to
// the charge state machine and holding the contactors for Discharge.
//
// Every change between two active modes passes through Standby.
package ssm

import (
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/cellwarden/pkg/bms"
	"github.com/Thermoquad/cellwarden/pkg/charge"
)

// Supervisor owns the system mode.
type Supervisor struct {
	log    logrus.FieldLogger
	charge *charge.Machine
	mode   bms.Mode
}

// New creates a supervisor in Init.
func New(cm *charge.Machine, log logrus.FieldLogger) *Supervisor {
	return &Supervisor{
		log:    log.WithField("component", "ssm"),
		charge: cm,
		mode:   bms.Init,
	}
}

// Mode returns the current system mode.
func (s *Supervisor) Mode() bms.Mode {
	return s.mode
}

// Charge returns the charge state machine.
func (s *Supervisor) Charge() *charge.Machine {
	return s.charge
}

// Step runs one supervisor cycle. monitorReady gates leaving Init.
func (s *Supervisor) Step(in *bms.Input, monitorReady bool, faults charge.FaultView, out *bms.Output) {
	req := in.ModeRequest

	switch s.mode {
	case bms.Init:
		idle(out)
		if monitorReady {
			s.setMode(bms.Standby)
		}

	case bms.Standby:
		idle(out)
		switch req {
		case bms.Charge, bms.Balance:
			s.setMode(req)
			s.stepCharge(in, faults, out)
		case bms.Discharge:
			s.setMode(bms.Discharge)
			out.CloseContactors = true
		}

	case bms.Charge, bms.Balance:
		s.stepCharge(in, faults, out)
		if req != s.mode && s.charge.State() == charge.Off {
			s.setMode(bms.Standby)
		}

	case bms.Discharge:
		idle(out)
		if req == bms.Discharge {
			out.CloseContactors = true
		} else {
			s.setMode(bms.Standby)
		}
	}
}

// stepCharge runs the charge machine, showing it either the current mode or
// Standby so it can never start a mode the supervisor is not in.
func (s *Supervisor) stepCharge(in *bms.Input, faults charge.FaultView, out *bms.Output) {
	cin := *in
	if cin.ModeRequest != s.mode {
		cin.ModeRequest = bms.Standby
	}
	s.charge.Step(&cin, faults, out)
}

func (s *Supervisor) setMode(m bms.Mode) {
	if m == s.mode {
		return
	}
	s.log.WithFields(logrus.Fields{"from": s.mode, "to": m}).Info("system mode")
	s.mode = m
}

func idle(out *bms.Output) {
	out.CloseContactors = false
	out.ChargeReq = bms.ChargeRequest{}
	out.ClearBalance()
}
