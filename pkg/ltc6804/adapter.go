// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ltc6804

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/cellwarden/pkg/bms"
	"github.com/Thermoquad/cellwarden/pkg/errstatus"
	"github.com/Thermoquad/cellwarden/pkg/tick"
)

// Task intervals in ticks
const (
	AcquireInterval  = 100
	OpenWireInterval = 60000
)

// Phase is the initialization phase of the adapter.
type Phase uint8

// Initialization phases
const (
	Uninit Phase = iota
	Configuring
	SelfTest
	Ready
)

// String returns the phase name
func (p Phase) String() string {
	switch p {
	case Uninit:
		return "UNINIT"
	case Configuring:
		return "CONFIGURING"
	case SelfTest:
		return "SELF_TEST"
	case Ready:
		return "READY"
	default:
		return fmt.Sprintf("PHASE_%d", uint8(p))
	}
}

// Adapter runs the monitor through initialization and, once ready, the
// periodic acquisition and open-wire tasks.
type Adapter struct {
	drv    Driver
	faults *errstatus.Aggregator
	log    logrus.FieldLogger

	phase    Phase
	verified bool
	acquired bool

	acquire  *tick.Task
	openWire *tick.Task

	adc      ADCResult
	owt      OWTResult
	location bms.OpenWire
}

// NewAdapter creates an adapter in the Uninit phase.
func NewAdapter(drv Driver, faults *errstatus.Aggregator, log logrus.FieldLogger) *Adapter {
	return &Adapter{
		drv:      drv,
		faults:   faults,
		log:      log.WithField("component", "ltc6804"),
		acquire:  tick.NewTask(AcquireInterval),
		openWire: tick.NewTask(OpenWireInterval),
	}
}

// Phase returns the current initialization phase.
func (a *Adapter) Phase() Phase {
	return a.phase
}

// Acquired reports whether a PEC-verified acquisition has completed since
// the last Init from Uninit.
func (a *Adapter) Acquired() bool {
	return a.acquired
}

// OpenWire returns the last captured open-wire location.
func (a *Adapter) OpenWire() bms.OpenWire {
	return a.location
}

// Init advances initialization by at most one phase and reports whether the
// adapter is Ready. It never blocks; call it every cycle until it returns true.
func (a *Adapter) Init(cfg *bms.PackConfig, now tick.Tick) bool {
	switch a.phase {
	case Uninit:
		if err := a.drv.Init(cfg, now); err != nil {
			a.log.WithError(err).Warn("driver init failed")
			return false
		}
		n := cfg.TotalCells()
		a.adc = ADCResult{CellVoltagesmV: make([]uint32, n)}
		a.owt = OWTResult{}
		a.location = bms.OpenWire{}
		a.verified = false
		a.acquired = false
		a.acquire.Arm(now, false)
		a.openWire.Arm(now, true)
		a.phase = Configuring
		a.log.WithField("cells", n).Info("configuring monitor")

	case Configuring:
		if !a.verified {
			if !a.drv.VerifyConfig(now) {
				a.log.Warn("configuration verify failed")
				return false
			}
			a.verified = true
			a.log.Info("configuration verified")
		}
		if a.runCVST(now) {
			a.phase = SelfTest
		}

	case SelfTest:
		if a.runOpenWire(now) {
			a.phase = Ready
			a.log.Info("monitor ready")
			return true
		}

	case Ready:
		return true
	}

	return false
}

// DeInit discards in-flight acquisition and self-test progress and returns
// the adapter to Uninit.
func (a *Adapter) DeInit() {
	a.phase = Uninit
	a.verified = false
	a.acquired = false
	a.acquire.Cancel()
	a.openWire.Cancel()
}

// ProcessInputs runs the gated acquisition and open-wire tasks. It is a no-op
// until the adapter is Ready.
func (a *Adapter) ProcessInputs(status *bms.PackStatus, now tick.Tick) {
	if a.phase != Ready {
		return
	}

	a.runAcquire(status, now)
	a.runOpenWire(now)
	status.OpenWire = a.location
}

// ProcessOutput forwards the balance requests to the chip. Failures are
// logged and retried next cycle.
func (a *Adapter) ProcessOutput(balance []bool, now tick.Tick) {
	if a.phase != Ready {
		return
	}

	res := a.drv.UpdateBalanceStates(balance, now)
	switch classify(balanceTable, res) {
	case actPass, actWait:
	default:
		a.log.WithField("status", res).Warn("balance update failed")
	}
}

func (a *Adapter) runAcquire(status *bms.PackStatus, now tick.Tick) {
	if !a.acquire.Due(now) {
		return
	}

	res := a.drv.ReadCellVoltages(&a.adc, now)
	switch classify(acquireTable, res) {
	case actWait:
	case actPass:
		copy(status.CellVoltagesmV, a.adc.CellVoltagesmV)
		status.PackCellMinmV = a.adc.PackCellMinmV
		status.PackCellMaxmV = a.adc.PackCellMaxmV
		a.drv.ClearCellVoltages(now)
		a.acquire.Complete(now)
		if !a.acquired {
			a.acquired = true
			a.log.WithField("tick", now).Info("first acquisition complete")
		}
		a.faults.Pass(errstatus.LTC6804PEC)
	case actTransient:
		a.log.WithField("status", res).Warn("cell voltage read")
	case actIntegrity:
		a.log.WithField("status", res).Warn("cell voltage read")
		a.faults.Assert(errstatus.LTC6804PEC, now)
	case actFail:
		a.log.WithFields(logrus.Fields{
			"status": res,
			"min_mv": a.adc.PackCellMinmV,
			"max_mv": a.adc.PackCellMaxmV,
		}).Error("cell voltage read failed")
		a.faults.Assert(errstatus.LTC6804PEC, now)
	}
}

// runCVST reports whether the cell-voltage self-test passed.
func (a *Adapter) runCVST(now tick.Tick) bool {
	res := a.drv.CVST(now)
	switch classify(cvstTable, res) {
	case actPass:
		a.log.Info("CVST pass")
		a.faults.Pass(errstatus.LTC6804CVST)
		return true
	case actTransient:
		a.log.WithField("status", res).Warn("CVST")
	case actIntegrity:
		a.log.WithField("status", res).Warn("CVST")
		a.faults.Assert(errstatus.LTC6804PEC, now)
	case actFail:
		a.log.WithField("status", res).Error("CVST failed")
		a.faults.Assert(errstatus.LTC6804CVST, now)
	}
	return false
}

// runOpenWire reports whether a gated open-wire test ran and passed.
func (a *Adapter) runOpenWire(now tick.Tick) bool {
	if !a.openWire.Due(now) {
		return false
	}

	res := a.drv.OpenWireTest(&a.owt, now)
	switch classify(openWireTable, res) {
	case actPass:
		a.log.Debug("open wire pass")
		a.location = bms.OpenWire{}
		a.openWire.Complete(now)
		a.faults.Pass(errstatus.LTC6804OWT)
		return true
	case actTransient:
		a.log.WithField("status", res).Warn("open wire test")
	case actIntegrity:
		a.log.WithField("status", res).Warn("open wire test")
		a.faults.Assert(errstatus.LTC6804PEC, now)
	case actFail:
		a.location = bms.OpenWire{Valid: true, Module: a.owt.FailedModule, Wire: a.owt.FailedWire}
		a.log.WithFields(logrus.Fields{
			"status": res,
			"module": a.owt.FailedModule,
			"wire":   a.owt.FailedWire,
		}).Error("open wire test failed")
		a.faults.Assert(errstatus.LTC6804OWT, now)
	}
	return false
}
