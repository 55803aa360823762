// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package errstatus implements the per-fault latch shared by the control core.
//
// Each fault kind carries an asserted flag, an assert count and a handling
// flag. The count grows while a fault keeps being asserted and starts over at
// the first assert after a pass; it is what the charger clear-error handshake
// keys its toggle on.
package errstatus

import (
	"fmt"

	"github.com/Thermoquad/cellwarden/pkg/tick"
)

// Fault identifies one independently latched fault condition.
type Fault int

// Fault kinds
const (
	LTC6804PEC Fault = iota
	LTC6804CVST
	LTC6804OWT
	Charger
	CAN
	ModeConflict

	numFaults
)

// All lists every fault kind in declaration order.
var All = []Fault{LTC6804PEC, LTC6804CVST, LTC6804OWT, Charger, CAN, ModeConflict}

// String returns the fault name
func (f Fault) String() string {
	switch f {
	case LTC6804PEC:
		return "LTC6804_PEC"
	case LTC6804CVST:
		return "LTC6804_CVST"
	case LTC6804OWT:
		return "LTC6804_OWT"
	case Charger:
		return "CHARGER"
	case CAN:
		return "CAN"
	case ModeConflict:
		return "MODE_CONFLICT"
	default:
		return fmt.Sprintf("FAULT_%d", int(f))
	}
}

// Status is a read-only snapshot of one fault latch.
type Status struct {
	Asserted bool
	Count    uint32
	Handling bool
	Since    tick.Tick // tick of the first assert of the current episode
}

// Aggregator holds the latch for every fault kind.
// It is owned by the control cycle and is not safe for concurrent use.
type Aggregator struct {
	status   [numFaults]Status
	onChange func(Fault, Status)
}

// New creates an aggregator with every fault passed.
func New() *Aggregator {
	return &Aggregator{}
}

// OnChange registers fn to be called when a fault starts a new assert episode
// or passes. Repeated asserts within an episode do not trigger it.
func (a *Aggregator) OnChange(fn func(Fault, Status)) {
	a.onChange = fn
}

func (a *Aggregator) valid(f Fault) bool {
	return f >= 0 && f < numFaults
}

// Assert latches fault f.
func (a *Aggregator) Assert(f Fault, now tick.Tick) {
	if !a.valid(f) {
		return
	}
	s := &a.status[f]
	if s.Asserted {
		s.Count++
		s.Handling = true
		return
	}

	s.Asserted = true
	s.Count = 1
	s.Handling = true
	s.Since = now
	a.notify(f)
}

// Pass releases fault f if it is asserted. The count is kept as a diagnostic
// until the next assert episode begins.
func (a *Aggregator) Pass(f Fault) {
	if !a.valid(f) {
		return
	}
	s := &a.status[f]
	if !s.Asserted {
		return
	}
	s.Asserted = false
	s.Handling = false
	a.notify(f)
}

// Clear resets fault f completely, including its count.
func (a *Aggregator) Clear(f Fault) {
	if !a.valid(f) {
		return
	}
	wasAsserted := a.status[f].Asserted
	a.status[f] = Status{}
	if wasAsserted {
		a.notify(f)
	}
}

// Status returns a snapshot of fault f.
func (a *Aggregator) Status(f Fault) Status {
	if !a.valid(f) {
		return Status{}
	}
	return a.status[f]
}

// Asserted reports whether fault f is currently latched.
func (a *Aggregator) Asserted(f Fault) bool {
	return a.Status(f).Asserted
}

// Any reports whether any of the given faults is latched.
func (a *Aggregator) Any(faults ...Fault) bool {
	for _, f := range faults {
		if a.Asserted(f) {
			return true
		}
	}
	return false
}

// Snapshot returns the status of every fault kind, indexed like All.
func (a *Aggregator) Snapshot() []Status {
	out := make([]Status, len(All))
	for i, f := range All {
		out[i] = a.status[f]
	}
	return out
}

func (a *Aggregator) notify(f Fault) {
	if a.onChange != nil {
		a.onChange(f, a.status[f])
	}
}
