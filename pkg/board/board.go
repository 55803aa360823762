// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package board wires the control components into one cooperative control
// cycle and runs it as a superloop.
package board

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/cellwarden/pkg/bms"
	"github.com/Thermoquad/cellwarden/pkg/brusa"
	"github.com/Thermoquad/cellwarden/pkg/canbus"
	"github.com/Thermoquad/cellwarden/pkg/charge"
	"github.com/Thermoquad/cellwarden/pkg/console"
	"github.com/Thermoquad/cellwarden/pkg/contactor"
	"github.com/Thermoquad/cellwarden/pkg/errstatus"
	"github.com/Thermoquad/cellwarden/pkg/ltc6804"
	"github.com/Thermoquad/cellwarden/pkg/mode"
	"github.com/Thermoquad/cellwarden/pkg/ssm"
	"github.com/Thermoquad/cellwarden/pkg/telemetry"
	"github.com/Thermoquad/cellwarden/pkg/tick"
)

// Parts are the hardware-facing collaborators of a board. Console and
// Telemetry are optional.
type Parts struct {
	Config    bms.PackConfig
	Monitor   ltc6804.Driver
	Transport canbus.Transport
	Contactor contactor.Contactor
	Console   *console.Console
	Telemetry *telemetry.Publisher
}

// State is a copy of the board state after a cycle.
type State struct {
	Tick             tick.Tick
	Cycles           uint64
	Mode             bms.Mode
	Requested        bms.Mode
	Charge           charge.State
	ChargeComplete   bool
	Monitor          ltc6804.Phase
	Status           bms.PackStatus
	Balance          []bool
	ContactorsClosed bool
	CloseRequested   bool
	ChargerOn        bool
	ChargeReq        bms.ChargeRequest
	Faults           []errstatus.Status
	Bus              canbus.Stats
	Config           bms.PackConfig
}

// Board owns every control component and the per-cycle records.
type Board struct {
	log   logrus.FieldLogger
	clock tick.Source
	cfg   bms.PackConfig

	faults     *errstatus.Aggregator
	monitor    *ltc6804.Adapter
	arb        *mode.Arbitrator
	supervisor *ssm.Supervisor
	bus        *canbus.Bus
	console    *console.Console
	contactor  contactor.Contactor
	telemetry  *telemetry.Publisher

	status *bms.PackStatus
	in     bms.Input
	out    *bms.Output

	monitorReady bool
	cycles       uint64

	mu    sync.Mutex
	state State
}

// New validates the configuration and builds a board. Every component
// starts from its initial state at clock.Now().
func New(p Parts, clock tick.Source, log logrus.FieldLogger) (*Board, error) {
	if err := p.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pack config: %w", err)
	}
	if p.Monitor == nil || p.Transport == nil || p.Contactor == nil {
		return nil, errors.New("board: monitor, transport and contactor are required")
	}

	now := clock.Now()
	faults := errstatus.New()
	arb := mode.NewArbitrator(faults, log, now)
	cfg := p.Config.Clone()

	b := &Board{
		log:        log.WithField("component", "board"),
		clock:      clock,
		cfg:        cfg,
		faults:     faults,
		monitor:    ltc6804.NewAdapter(p.Monitor, faults, log),
		arb:        arb,
		supervisor: ssm.New(charge.New(log), log),
		bus:        canbus.New(p.Transport, faults, arb, brusa.NewDriver(faults, log), log, now),
		console:    p.Console,
		contactor:  p.Contactor,
		telemetry:  p.Telemetry,
		status:     bms.NewPackStatus(&cfg),
		out:        bms.NewOutput(&cfg),
	}
	b.in.Config = &b.cfg
	b.in.Status = b.status

	if b.telemetry != nil {
		faults.OnChange(b.telemetry.FaultChanged)
	}

	b.log.WithFields(logrus.Fields{
		"modules": cfg.NumModules,
		"cells":   cfg.TotalCells(),
	}).Info("board initialised")
	return b, nil
}

// Faults returns the fault latches. Only the cycle goroutine may use them.
func (b *Board) Faults() *errstatus.Aggregator {
	return b.faults
}

// Cycle runs one control cycle to completion. It never blocks.
func (b *Board) Cycle(now tick.Tick) {
	var req console.Output
	if b.console != nil {
		req = b.console.Process(b.view())
	}

	b.bus.ProcessInput(b.out.ChargeReq.ChargerOn, b.status, now)

	// The pack status is only trusted after the first verified acquisition.
	ready := b.monitor.Init(&b.cfg, now)
	b.monitor.ProcessInputs(b.status, now)
	b.monitorReady = ready && b.monitor.Acquired()

	d := b.arb.Update(mode.Console{
		Valid:     req.ValidModeRequest,
		Mode:      req.ModeRequest,
		BalancemV: req.BalancemV,
	}, now)
	b.in.ModeRequest = d.Mode
	b.in.BalancemV = d.BalancemV

	b.supervisor.Step(&b.in, b.monitorReady, b.faults, b.out)

	b.monitor.ProcessOutput(b.out.BalanceReq, now)
	b.in.ChargerOn = b.bus.ProcessOutput(b.out.ChargeReq, b.supervisor.Mode(), now)

	b.contactor.SetClosed(b.out.CloseContactors)
	b.in.ContactorsClosed = b.contactor.Closed()

	b.cycles++
	b.capture(now)
}

// Run cycles once per period until ctx is done, then opens the contactors
// and releases the monitor.
func (b *Board) Run(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	b.log.WithField("period", period).Info("control loop started")
	for {
		select {
		case <-ctx.Done():
			b.shutdown()
			return ctx.Err()
		case <-ticker.C:
			b.Cycle(b.clock.Now())
		}
	}
}

func (b *Board) shutdown() {
	b.contactor.SetClosed(false)
	b.monitor.DeInit()
	b.log.WithField("cycles", b.cycles).Info("control loop stopped")
}

// State returns a copy of the state captured at the end of the last cycle.
// It is safe to call from any goroutine.
func (b *Board) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.state
	s.Status = b.state.Status.Clone()
	s.Balance = append([]bool(nil), b.state.Balance...)
	s.Faults = append([]errstatus.Status(nil), b.state.Faults...)
	s.Config = b.state.Config.Clone()
	return s
}

func (b *Board) view() console.View {
	return console.View{
		SupervisorMode: b.supervisor.Mode(),
		ArbitratedMode: b.arb.Mode(),
		ChargeState:    b.supervisor.Charge().State(),
		MonitorPhase:   b.monitor.Phase(),
		Config:         &b.cfg,
		Status:         b.status,
		Faults:         b.faults,
	}
}

func (b *Board) capture(now tick.Tick) {
	s := State{
		Tick:             now,
		Cycles:           b.cycles,
		Mode:             b.supervisor.Mode(),
		Requested:        b.arb.Mode(),
		Charge:           b.supervisor.Charge().State(),
		ChargeComplete:   b.supervisor.Charge().Complete(),
		Monitor:          b.monitor.Phase(),
		Status:           b.status.Clone(),
		Balance:          append([]bool(nil), b.out.BalanceReq...),
		ContactorsClosed: b.in.ContactorsClosed,
		CloseRequested:   b.out.CloseContactors,
		ChargerOn:        b.in.ChargerOn,
		ChargeReq:        b.out.ChargeReq,
		Faults:           b.faults.Snapshot(),
		Bus:              b.bus.Stats(),
		Config:           b.cfg.Clone(),
	}

	b.mu.Lock()
	b.state = s
	b.mu.Unlock()

	if b.telemetry != nil {
		b.telemetry.Submit(snapshot(&s))
	}
}

func snapshot(s *State) telemetry.Snapshot {
	snap := telemetry.Snapshot{
		Tick:             uint32(s.Tick),
		Mode:             s.Mode.String(),
		RequestedMode:    s.Requested.String(),
		ChargeState:      s.Charge.String(),
		MonitorPhase:     s.Monitor.String(),
		CellMinmV:        s.Status.PackCellMinmV,
		CellMaxmV:        s.Status.PackCellMaxmV,
		PackVoltagemV:    s.Status.PackVoltagemV,
		PackCurrentmA:    s.Status.PackCurrentmA,
		ContactorsClosed: s.ContactorsClosed,
		ChargerOn:        s.ChargerOn,
	}
	for _, on := range s.Balance {
		if on {
			snap.BalancingCells++
		}
	}
	for i, st := range s.Faults {
		if st.Asserted {
			snap.Faults = append(snap.Faults, errstatus.All[i].String())
		}
	}
	return snap
}
