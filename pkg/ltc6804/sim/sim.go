// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sim is an in-memory LTC6804 driver. Results can be scripted per
// operation; unscripted calls behave like a healthy chip.
package sim

import (
	"errors"
	"sync"

	"github.com/Thermoquad/cellwarden/pkg/bms"
	"github.com/Thermoquad/cellwarden/pkg/ltc6804"
	"github.com/Thermoquad/cellwarden/pkg/tick"
)

// Op identifies a driver operation.
type Op uint8

// Driver operations
const (
	OpInit Op = iota
	OpVerify
	OpCVST
	OpRead
	OpOpenWire
	OpBalance
	numOps
)

// Driver is a simulated monitor chain. It is safe for concurrent use so a UI
// goroutine can inject conditions while the control cycle polls it.
type Driver struct {
	mu sync.Mutex

	cells    []uint32
	balance  []bool
	latency  int
	inFlight int

	verifyFails int
	openWire    *ltc6804.OWTResult

	script [numOps][]ltc6804.Status
	calls  [numOps]int
}

// New creates a driver reporting the given cell voltages. An acquisition
// takes latency Waiting polls before it passes.
func New(latency int, cellsmV ...uint32) *Driver {
	return &Driver{
		cells:   append([]uint32(nil), cellsmV...),
		balance: make([]bool, len(cellsmV)),
		latency: latency,
	}
}

// Script queues results for op. Queued results are consumed before the
// default behavior applies.
func (d *Driver) Script(op Op, results ...ltc6804.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.script[op] = append(d.script[op], results...)
}

// FailVerify makes the next n configuration verifies fail.
func (d *Driver) FailVerify(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.verifyFails = n
}

// SetCells replaces the simulated cell voltages.
func (d *Driver) SetCells(cellsmV ...uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cells = append(d.cells[:0], cellsmV...)
	if len(d.balance) != len(d.cells) {
		d.balance = make([]bool, len(d.cells))
	}
}

// SetCell sets one cell voltage.
func (d *Driver) SetCell(i int, mV uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= 0 && i < len(d.cells) {
		d.cells[i] = mV
	}
}

// Cells returns a copy of the simulated cell voltages.
func (d *Driver) Cells() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint32(nil), d.cells...)
}

// InjectOpenWire makes open-wire tests fail at the given location until
// ClearOpenWire is called.
func (d *Driver) InjectOpenWire(module, wire uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openWire = &ltc6804.OWTResult{FailedModule: module, FailedWire: wire}
}

// ClearOpenWire removes an injected open wire.
func (d *Driver) ClearOpenWire() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openWire = nil
}

// Balance returns the last balance states written to the chip.
func (d *Driver) Balance() []bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]bool(nil), d.balance...)
}

// Calls returns how many times op has been invoked.
func (d *Driver) Calls(op Op) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

// next pops a scripted result. Caller holds mu.
func (d *Driver) next(op Op) (ltc6804.Status, bool) {
	d.calls[op]++
	if len(d.script[op]) == 0 {
		return 0, false
	}
	s := d.script[op][0]
	d.script[op] = d.script[op][1:]
	return s, true
}

// Init implements ltc6804.Driver.
func (d *Driver) Init(cfg *bms.PackConfig, _ tick.Tick) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[OpInit]++

	if cfg.TotalCells() != len(d.cells) {
		return errors.New("cell count does not match simulated chain")
	}
	d.inFlight = 0
	return nil
}

// VerifyConfig implements ltc6804.Driver.
func (d *Driver) VerifyConfig(_ tick.Tick) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[OpVerify]++

	if d.verifyFails > 0 {
		d.verifyFails--
		return false
	}
	return true
}

// CVST implements ltc6804.Driver.
func (d *Driver) CVST(_ tick.Tick) ltc6804.Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s, ok := d.next(OpCVST); ok {
		return s
	}
	return ltc6804.Pass
}

// ReadCellVoltages implements ltc6804.Driver.
func (d *Driver) ReadCellVoltages(res *ltc6804.ADCResult, _ tick.Tick) ltc6804.Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s, ok := d.next(OpRead); ok {
		if s == ltc6804.Pass {
			d.fill(res)
		}
		return s
	}

	if d.inFlight < d.latency {
		d.inFlight++
		if d.inFlight == 1 {
			return ltc6804.WaitingRefUp
		}
		return ltc6804.Waiting
	}
	d.fill(res)
	return ltc6804.Pass
}

// fill copies the cells into res. Caller holds mu.
func (d *Driver) fill(res *ltc6804.ADCResult) {
	copy(res.CellVoltagesmV, d.cells)
	if len(d.cells) == 0 {
		return
	}
	lo, hi := d.cells[0], d.cells[0]
	for _, v := range d.cells[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	res.PackCellMinmV = lo
	res.PackCellMaxmV = hi
}

// ClearCellVoltages implements ltc6804.Driver.
func (d *Driver) ClearCellVoltages(_ tick.Tick) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inFlight = 0
}

// OpenWireTest implements ltc6804.Driver.
func (d *Driver) OpenWireTest(res *ltc6804.OWTResult, _ tick.Tick) ltc6804.Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s, ok := d.next(OpOpenWire); ok {
		return s
	}
	if d.openWire != nil {
		*res = *d.openWire
		return ltc6804.Fail
	}
	return ltc6804.Pass
}

// UpdateBalanceStates implements ltc6804.Driver.
func (d *Driver) UpdateBalanceStates(balance []bool, _ tick.Tick) ltc6804.Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s, ok := d.next(OpBalance); ok && s != ltc6804.Pass {
		return s
	}
	d.balance = append(d.balance[:0], balance...)
	return ltc6804.Pass
}
