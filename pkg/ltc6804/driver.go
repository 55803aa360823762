// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ltc6804 drives a daisy chain of LTC6804 cell monitors through a
// chip driver, running the configuration, self-test and open-wire sequence
// before periodic cell-voltage acquisition and balance dispatch.
//
// The chip driver is a classified-result source: every operation returns a
// Status and the adapter decides what each outcome means for the pack.
package ltc6804

import (
	"fmt"

	"github.com/Thermoquad/cellwarden/pkg/bms"
	"github.com/Thermoquad/cellwarden/pkg/tick"
)

// Status is the result of a chip driver operation.
type Status uint8

// Driver results
const (
	Pass Status = iota
	Fail
	SpiError
	PecError
	Waiting
	WaitingRefUp
)

// String returns the status name
func (s Status) String() string {
	switch s {
	case Pass:
		return "PASS"
	case Fail:
		return "FAIL"
	case SpiError:
		return "SPI_ERROR"
	case PecError:
		return "PEC_ERROR"
	case Waiting:
		return "WAITING"
	case WaitingRefUp:
		return "WAITING_REFUP"
	default:
		return fmt.Sprintf("STATUS_%d", uint8(s))
	}
}

// ADCResult receives a completed cell-voltage acquisition.
type ADCResult struct {
	CellVoltagesmV []uint32
	PackCellMinmV  uint32
	PackCellMaxmV  uint32
}

// OWTResult receives the failing location of an open-wire test.
type OWTResult struct {
	FailedModule uint8
	FailedWire   uint8
}

// Driver is the monitor chip driver. Multi-step operations return Waiting or
// WaitingRefUp until they finish and must be polled again.
type Driver interface {
	Init(cfg *bms.PackConfig, now tick.Tick) error
	VerifyConfig(now tick.Tick) bool
	CVST(now tick.Tick) Status
	ReadCellVoltages(res *ADCResult, now tick.Tick) Status
	ClearCellVoltages(now tick.Tick)
	OpenWireTest(res *OWTResult, now tick.Tick) Status
	UpdateBalanceStates(balance []bool, now tick.Tick) Status
}
