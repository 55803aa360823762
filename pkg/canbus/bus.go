// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package canbus

import (
	"fmt"

	"github.com/brutella/can"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/cellwarden/pkg/bms"
	"github.com/Thermoquad/cellwarden/pkg/brusa"
	"github.com/Thermoquad/cellwarden/pkg/errstatus"
	"github.com/Thermoquad/cellwarden/pkg/mode"
	"github.com/Thermoquad/cellwarden/pkg/tick"
)

// Stats counts bus traffic.
type Stats struct {
	RxFrames    uint64
	TxFrames    uint64
	TxErrors    uint64
	Unhandled   uint64
	Resets      uint64
	Heartbeats  uint64
	VCUMessages uint64
}

// Bus is the control cycle's view of the vehicle CAN bus.
// It is owned by the control cycle and is not safe for concurrent use.
type Bus struct {
	log       logrus.FieldLogger
	transport Transport
	faults    *errstatus.Aggregator
	arb       *mode.Arbitrator
	charger   *brusa.Driver

	heartbeat        *tick.Task
	dischargePending bool
	soc              uint8

	stats Stats
}

// New creates a bus component. The heartbeat goes out on the first output
// cycle and every HeartbeatInterval ticks after that.
func New(t Transport, faults *errstatus.Aggregator, arb *mode.Arbitrator, charger *brusa.Driver, log logrus.FieldLogger, now tick.Tick) *Bus {
	b := &Bus{
		log:       log.WithField("component", "canbus"),
		transport: t,
		faults:    faults,
		arb:       arb,
		charger:   charger,
		heartbeat: tick.NewTask(HeartbeatInterval),
	}
	b.heartbeat.Arm(now, true)
	return b
}

// Stats returns the traffic counters.
func (b *Bus) Stats() Stats {
	return b.stats
}

// SetSOC sets the state of charge reported in the heartbeat.
func (b *Bus) SetSOC(soc uint8) {
	b.soc = soc
}

// ProcessInput drains every frame received since the last cycle.
// chargerReq is the charge request of the previous cycle.
func (b *Bus) ProcessInput(chargerReq bool, status *bms.PackStatus, now tick.Tick) {
	for {
		select {
		case f, ok := <-b.transport.Frames():
			if !ok {
				return
			}
			b.stats.RxFrames++
			b.handle(f, chargerReq, status, now)
		default:
			return
		}
	}
}

func (b *Bus) handle(f can.Frame, chargerReq bool, status *bms.PackStatus, now tick.Tick) {
	switch f.ID {
	case VCUHeartbeatID:
		req, ok := DecodeVCUHeartbeat(f)
		if !ok {
			return
		}
		b.stats.VCUMessages++
		if req != b.arb.BusRequest() {
			b.log.WithField("request", req).Debug("VCU heartbeat request changed")
		}
		b.arb.Heartbeat(req, now)

	case VCUDischargeRequestID:
		enter, ok := DecodeDischargeRequest(f)
		if !ok {
			return
		}
		b.stats.VCUMessages++
		if !enter {
			b.log.Warn("discharge request without enter flag")
			return
		}
		b.arb.Request(bms.Discharge)
		b.dischargePending = true

	default:
		if b.charger.HandleFrame(f, chargerReq, status, now) {
			return
		}
		b.stats.Unhandled++
		b.log.WithField("id", fmt.Sprintf("0x%03X", f.ID)).Debug("unexpected CAN frame")
	}
}

// ProcessOutput sends the charger control message when due, the heartbeat
// and a pending discharge response. It returns the pack-side charger enable
// state for the next cycle.
func (b *Bus) ProcessOutput(req bms.ChargeRequest, supervisor bms.Mode, now tick.Tick) bool {
	ctl, send, chargerOn := b.charger.Control(req, now)
	if send {
		b.send(brusa.EncodeControl(ctl), now)
	}

	if b.heartbeat.Due(now) {
		b.send(EncodeHeartbeat(supervisor, b.soc), now)
		b.stats.Heartbeats++
		b.heartbeat.Complete(now)
	}

	if b.dischargePending {
		b.send(EncodeDischargeResponse(supervisor == bms.Discharge), now)
		b.dischargePending = false
	}

	return chargerOn
}

func (b *Bus) send(f can.Frame, now tick.Tick) {
	if err := b.transport.Send(f); err != nil {
		b.stats.TxErrors++
		if !b.faults.Asserted(errstatus.CAN) {
			b.log.WithError(err).WithField("id", fmt.Sprintf("0x%03X", f.ID)).Error("CAN send failed")
		}
		b.faults.Assert(errstatus.CAN, now)
		if r, ok := b.transport.(Resetter); ok {
			b.stats.Resets++
			if err := r.Reset(); err != nil {
				b.log.WithError(err).Warn("CAN reset failed")
			}
		}
		return
	}
	b.stats.TxFrames++
	b.faults.Pass(errstatus.CAN)
}
