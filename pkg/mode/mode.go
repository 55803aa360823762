// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package mode reconciles the console and bus mode requests into the single
// authoritative request consumed by the supervisor.
package mode

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/cellwarden/pkg/bms"
	"github.com/Thermoquad/cellwarden/pkg/errstatus"
	"github.com/Thermoquad/cellwarden/pkg/tick"
)

// HeartbeatTimeout is how long the bus request is trusted without a
// heartbeat, in ticks.
const HeartbeatTimeout = 10000

// Console is the console-origin request.
type Console struct {
	Valid     bool
	Mode      bms.Mode
	BalancemV uint32
}

// Inputs is everything arbitration looks at.
type Inputs struct {
	Console      Console
	Bus          bms.Mode
	HeartbeatAge uint32
}

// Decision is the arbitration result.
type Decision struct {
	Mode     bms.Mode
	Conflict bool
	Stale    bool // bus request forced to Standby

	// BalancemV is only meaningful when BalanceLatched is set.
	BalancemV      uint32
	BalanceLatched bool
}

// Resolve picks the authoritative mode. The result is always one of the two
// requests, Standby, or prev when the requests conflict.
func Resolve(prev bms.Mode, in Inputs) Decision {
	var d Decision

	bus := in.Bus
	if in.HeartbeatAge > HeartbeatTimeout {
		bus = bms.Standby
		d.Stale = true
	}

	console := bms.Standby
	if in.Console.Valid {
		console = in.Console.Mode
		d.BalancemV = in.Console.BalancemV
		d.BalanceLatched = true
	}

	switch {
	case console == bms.Standby:
		d.Mode = bus
	case bus == bms.Standby:
		d.Mode = console
	case console == bus:
		d.Mode = console
	default:
		d.Mode = prev
		d.Conflict = true
	}

	return d
}

// Arbitrator tracks the bus request and heartbeat, the previous decision and
// the latched balance target across cycles.
type Arbitrator struct {
	faults *errstatus.Aggregator
	log    logrus.FieldLogger

	bus           bms.Mode
	lastHeartbeat tick.Tick

	current   bms.Mode
	balancemV uint32
	conflict  bool
	stale     bool
}

// NewArbitrator creates an arbitrator at Standby. The heartbeat clock starts
// at now so the bus gets one full timeout to speak up.
func NewArbitrator(faults *errstatus.Aggregator, log logrus.FieldLogger, now tick.Tick) *Arbitrator {
	return &Arbitrator{
		faults:        faults,
		log:           log.WithField("component", "mode"),
		bus:           bms.Standby,
		lastHeartbeat: now,
		current:       bms.Standby,
	}
}

// Heartbeat records a bus heartbeat carrying the bus mode request. It is
// the only way out of a stale bus state.
func (a *Arbitrator) Heartbeat(req bms.Mode, now tick.Tick) {
	a.bus = req
	a.lastHeartbeat = now
	if a.stale {
		a.stale = false
		a.log.WithFields(logrus.Fields{"tick": now, "request": req}).Info("bus heartbeat restored")
	}
}

// Request sets the bus mode request without refreshing the heartbeat.
func (a *Arbitrator) Request(req bms.Mode) {
	a.bus = req
}

// BusRequest returns the last bus mode request.
func (a *Arbitrator) BusRequest() bms.Mode {
	return a.bus
}

// HeartbeatAge returns the ticks since the last bus heartbeat.
func (a *Arbitrator) HeartbeatAge(now tick.Tick) uint32 {
	return tick.Since(now, a.lastHeartbeat)
}

// Mode returns the current authoritative mode.
func (a *Arbitrator) Mode() bms.Mode {
	return a.current
}

// BalancemV returns the latched balance target.
func (a *Arbitrator) BalancemV() uint32 {
	return a.balancemV
}

// Update runs one arbitration cycle.
func (a *Arbitrator) Update(console Console, now tick.Tick) Decision {
	age := a.HeartbeatAge(now)
	if a.stale {
		// Stays stale until the next heartbeat, across counter wraps.
		age = math.MaxUint32
	}
	d := Resolve(a.current, Inputs{
		Console:      console,
		Bus:          a.bus,
		HeartbeatAge: age,
	})
	if d.Stale {
		a.bus = bms.Standby
	}

	if d.Stale != a.stale {
		a.stale = d.Stale
		if d.Stale {
			a.log.WithField("tick", now).Info("bus heartbeat lost, bus request forced to standby")
		}
	}

	if d.Conflict {
		if !a.conflict {
			a.log.WithFields(logrus.Fields{
				"console": console.Mode,
				"bus":     a.bus,
				"kept":    a.current,
			}).Warn("conflicting mode requests")
		}
		a.faults.Assert(errstatus.ModeConflict, now)
	} else if a.conflict {
		a.faults.Pass(errstatus.ModeConflict)
	}
	a.conflict = d.Conflict

	if d.BalanceLatched {
		a.balancemV = d.BalancemV
	}
	d.BalancemV = a.balancemV
	a.current = d.Mode

	return d
}
