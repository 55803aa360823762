// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brutella/can"

	"github.com/Thermoquad/cellwarden/pkg/brusa"
	"github.com/Thermoquad/cellwarden/pkg/canbus"
	"github.com/Thermoquad/cellwarden/pkg/ltc6804/sim"
)

const (
	plantStep       = 100 * time.Millisecond
	chargerTimeout  = time.Second // charger drops out without control messages
	chargerErrorBit = 0x00000100
	balanceDrainmV  = 2
)

// plantState is what the dashboard shows about the simulated plant
type plantState struct {
	Heartbeat bool
	Discharge bool
	Fault     bool
	Charging  bool
	OutputcA  uint32
	Ready     string
}

// plant simulates the NLG5 charger and the vehicle controller on the far
// side of a loopback bus, and moves the simulated cell voltages.
type plant struct {
	peer *canbus.Loopback
	drv  *sim.Driver

	heartbeat    atomic.Bool
	discharge    atomic.Bool
	fault        atomic.Bool
	dischargeReq atomic.Bool

	mu       sync.Mutex
	ctl      brusa.Control
	ctlAt    time.Time
	outputcA uint32
	ready    string
}

func newPlant(peer *canbus.Loopback, drv *sim.Driver) *plant {
	p := &plant{peer: peer, drv: drv, ready: "-"}
	p.heartbeat.Store(true)
	return p
}

func (p *plant) state() plantState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return plantState{
		Heartbeat: p.heartbeat.Load(),
		Discharge: p.discharge.Load(),
		Fault:     p.fault.Load(),
		Charging:  p.outputcA > 0,
		OutputcA:  p.outputcA,
		Ready:     p.ready,
	}
}

func (p *plant) run(ctx context.Context) {
	ticker := time.NewTicker(plantStep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case f := <-p.peer.Frames():
			p.receive(f)
		case <-ticker.C:
			p.step()
		}
	}
}

func (p *plant) receive(f can.Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := brusa.DecodeControl(f); ok {
		p.ctl = c
		p.ctlAt = time.Now()
		return
	}
	if ready, ok := canbus.DecodeDischargeResponse(f); ok {
		if ready {
			p.ready = "ready"
		} else {
			p.ready = "refused"
		}
	}
}

func (p *plant) step() {
	if p.heartbeat.Load() {
		p.peer.Send(canbus.EncodeVCUHeartbeat(p.discharge.Load()))
	}
	if p.dischargeReq.Swap(false) {
		p.peer.Send(canbus.EncodeDischargeRequest())
	}

	p.mu.Lock()
	ctl := p.ctl
	if time.Since(p.ctlAt) > chargerTimeout {
		ctl = brusa.Control{}
	}
	faulted := p.fault.Load()
	current := p.chargeCurrent(ctl, faulted)
	p.outputcA = current
	p.mu.Unlock()

	packmV := p.moveCells(current, ctl)

	p.peer.Send(brusa.EncodeStatus(brusa.Status{
		HardwareEnabled: ctl.Enable,
		Error:           faulted,
	}))
	p.peer.Send(brusa.EncodeActI(brusa.ActI{
		MainscA:  uint16(current / 20),
		MainsdV:  2300,
		OutputmV: packmV,
		OutputcA: uint16(current),
	}))
	var errBits uint32
	if faulted {
		errBits = chargerErrorBit
	}
	p.peer.Send(brusa.EncodeErr(errBits, 0))
}

// chargeCurrent follows the requested current and decays it once the
// highest cell reaches the per-cell target. Caller holds mu.
func (p *plant) chargeCurrent(ctl brusa.Control, faulted bool) uint32 {
	if !ctl.Enable || faulted || ctl.OutputcA == 0 {
		return 0
	}
	cells := p.drv.Cells()
	if len(cells) == 0 {
		return 0
	}

	hi := cells[0]
	for _, v := range cells[1:] {
		hi = max(hi, v)
	}
	if hi < ctl.OutputmV/uint32(len(cells)) {
		return ctl.OutputcA
	}
	if p.outputcA == 0 {
		return ctl.OutputcA / 2
	}
	return p.outputcA * 8 / 10
}

func (p *plant) moveCells(currentcA uint32, ctl brusa.Control) uint32 {
	cells := p.drv.Cells()
	balance := p.drv.Balance()
	if len(cells) == 0 {
		return 0
	}

	var ceiling uint32
	if ctl.Enable {
		ceiling = ctl.OutputmV/uint32(len(cells)) + 20
	}

	var pack uint32
	for i := range cells {
		if currentcA > 0 {
			// Slightly uneven cells so balancing has something to do
			cells[i] += currentcA/50 + uint32(i%3)
			cells[i] = min(cells[i], ceiling)
		}
		if i < len(balance) && balance[i] && cells[i] > balanceDrainmV {
			cells[i] -= balanceDrainmV
		}
		pack += cells[i]
	}
	p.drv.SetCells(cells...)
	return pack
}
