// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ltc6804_test

import (
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/cellwarden/pkg/bms"
	"github.com/Thermoquad/cellwarden/pkg/errstatus"
	"github.com/Thermoquad/cellwarden/pkg/ltc6804"
	"github.com/Thermoquad/cellwarden/pkg/ltc6804/sim"
	"github.com/Thermoquad/cellwarden/pkg/tick"
)

type fixture struct {
	drv    *sim.Driver
	faults *errstatus.Aggregator
	cfg    bms.PackConfig
	status *bms.PackStatus
	ad     *ltc6804.Adapter
	hook   *logtest.Hook
}

func newFixture(latency int) *fixture {
	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	f := &fixture{
		drv:    sim.New(latency, 3400, 3401, 3402, 3403),
		faults: errstatus.New(),
		cfg:    bms.DefaultConfig(),
		hook:   hook,
	}
	f.status = bms.NewPackStatus(&f.cfg)
	f.ad = ltc6804.NewAdapter(f.drv, f.faults, log)
	return f
}

// bringUp drives the adapter to Ready on ticks 0..2.
func (f *fixture) bringUp(t *testing.T) {
	t.Helper()
	assert.False(t, f.ad.Init(&f.cfg, 0))
	assert.False(t, f.ad.Init(&f.cfg, 1))
	require.True(t, f.ad.Init(&f.cfg, 2))
	require.Equal(t, ltc6804.Ready, f.ad.Phase())
}

func TestInit_OnePhasePerCall(t *testing.T) {
	f := newFixture(0)

	assert.False(t, f.ad.Init(&f.cfg, 0))
	assert.Equal(t, ltc6804.Configuring, f.ad.Phase())
	assert.Equal(t, 0, f.drv.Calls(sim.OpCVST))

	assert.False(t, f.ad.Init(&f.cfg, 1))
	assert.Equal(t, ltc6804.SelfTest, f.ad.Phase())
	assert.Equal(t, 0, f.drv.Calls(sim.OpOpenWire))

	assert.True(t, f.ad.Init(&f.cfg, 2))
	assert.Equal(t, ltc6804.Ready, f.ad.Phase())

	assert.True(t, f.ad.Init(&f.cfg, 3))
	assert.Equal(t, 1, f.drv.Calls(sim.OpInit))
}

func TestInit_WaitingIsIdempotent(t *testing.T) {
	f := newFixture(0)
	f.drv.Script(sim.OpCVST, ltc6804.WaitingRefUp, ltc6804.Waiting, ltc6804.Waiting)

	f.ad.Init(&f.cfg, 0)
	for now := tick.Tick(1); now <= 3; now++ {
		assert.False(t, f.ad.Init(&f.cfg, now))
		assert.Equal(t, ltc6804.Configuring, f.ad.Phase())
	}
	assert.Equal(t, 1, f.drv.Calls(sim.OpVerify), "verify runs once")
	assert.Equal(t, 3, f.drv.Calls(sim.OpCVST))
	assert.False(t, f.faults.Any(errstatus.All...))

	assert.False(t, f.ad.Init(&f.cfg, 4))
	assert.Equal(t, ltc6804.SelfTest, f.ad.Phase())
}

func TestInit_VerifyFailureHolds(t *testing.T) {
	f := newFixture(0)
	f.drv.FailVerify(2)

	f.ad.Init(&f.cfg, 0)
	f.ad.Init(&f.cfg, 1)
	f.ad.Init(&f.cfg, 2)
	assert.Equal(t, ltc6804.Configuring, f.ad.Phase())
	assert.Equal(t, 0, f.drv.Calls(sim.OpCVST))

	f.ad.Init(&f.cfg, 3)
	assert.Equal(t, ltc6804.SelfTest, f.ad.Phase())
}

func TestInit_CVSTClassification(t *testing.T) {
	tests := []struct {
		name   string
		result ltc6804.Status
		fault  errstatus.Fault
	}{
		{"fail", ltc6804.Fail, errstatus.LTC6804CVST},
		{"pec", ltc6804.PecError, errstatus.LTC6804PEC},
		{"unknown", ltc6804.Status(42), errstatus.LTC6804CVST},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(0)
			f.drv.Script(sim.OpCVST, tt.result)

			f.ad.Init(&f.cfg, 0)
			f.ad.Init(&f.cfg, 1)
			assert.Equal(t, ltc6804.Configuring, f.ad.Phase())
			assert.True(t, f.faults.Asserted(tt.fault))

			f.ad.Init(&f.cfg, 2)
			assert.Equal(t, ltc6804.SelfTest, f.ad.Phase())
			assert.False(t, f.faults.Asserted(errstatus.LTC6804CVST))
		})
	}
}

func TestInit_CVSTSpiErrorIsTransient(t *testing.T) {
	f := newFixture(0)
	f.drv.Script(sim.OpCVST, ltc6804.SpiError)

	f.ad.Init(&f.cfg, 0)
	f.ad.Init(&f.cfg, 1)
	assert.Equal(t, ltc6804.Configuring, f.ad.Phase())
	assert.False(t, f.faults.Any(errstatus.All...))
	require.NotNil(t, f.hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, f.hook.LastEntry().Level)
}

func TestInit_OpenWireBlocksReady(t *testing.T) {
	f := newFixture(0)
	f.drv.InjectOpenWire(1, 3)

	f.ad.Init(&f.cfg, 0)
	f.ad.Init(&f.cfg, 1)
	assert.False(t, f.ad.Init(&f.cfg, 2))
	assert.Equal(t, ltc6804.SelfTest, f.ad.Phase())
	assert.True(t, f.faults.Asserted(errstatus.LTC6804OWT))
	assert.Equal(t, bms.OpenWire{Valid: true, Module: 1, Wire: 3}, f.ad.OpenWire())

	f.drv.ClearOpenWire()
	assert.True(t, f.ad.Init(&f.cfg, 3))
	assert.False(t, f.faults.Asserted(errstatus.LTC6804OWT))
	assert.False(t, f.ad.OpenWire().Valid)
}

func TestProcessInputs_NoopUntilReady(t *testing.T) {
	f := newFixture(0)
	f.ad.ProcessInputs(f.status, 500)
	assert.Equal(t, 0, f.drv.Calls(sim.OpRead))
}

func TestAcquire_GatedAndPolled(t *testing.T) {
	f := newFixture(2)
	f.bringUp(t)

	// Armed at tick 0, due strictly after tick 100.
	f.ad.ProcessInputs(f.status, 100)
	assert.Equal(t, 0, f.drv.Calls(sim.OpRead))

	f.ad.ProcessInputs(f.status, 101)
	f.ad.ProcessInputs(f.status, 102)
	assert.Zero(t, f.status.PackCellMaxmV, "nothing published while waiting")

	f.ad.ProcessInputs(f.status, 103)
	assert.Equal(t, []uint32{3400, 3401, 3402, 3403}, f.status.CellVoltagesmV)
	assert.Equal(t, uint32(3400), f.status.PackCellMinmV)
	assert.Equal(t, uint32(3403), f.status.PackCellMaxmV)
	assert.Equal(t, 3, f.drv.Calls(sim.OpRead))

	// Re-armed from the completion tick.
	f.ad.ProcessInputs(f.status, 203)
	assert.Equal(t, 3, f.drv.Calls(sim.OpRead))
	f.ad.ProcessInputs(f.status, 204)
	assert.Equal(t, 4, f.drv.Calls(sim.OpRead))
}

func TestAcquire_FirstPassMarksAcquired(t *testing.T) {
	f := newFixture(0)
	f.bringUp(t)
	assert.False(t, f.ad.Acquired(), "ready is not acquired")

	f.drv.Script(sim.OpRead, ltc6804.PecError)
	f.ad.ProcessInputs(f.status, 101)
	assert.False(t, f.ad.Acquired(), "failed reads do not count")

	f.ad.ProcessInputs(f.status, 102)
	assert.True(t, f.ad.Acquired())

	f.ad.DeInit()
	assert.False(t, f.ad.Acquired())
}

func TestAcquire_Classification(t *testing.T) {
	tests := []struct {
		name      string
		result    ltc6804.Status
		assertPEC bool
	}{
		{"spi error is transient", ltc6804.SpiError, false},
		{"pec error", ltc6804.PecError, true},
		{"fail", ltc6804.Fail, true},
		{"unknown", ltc6804.Status(99), true},
		{"waiting", ltc6804.Waiting, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(0)
			f.bringUp(t)

			// Seed a valid snapshot.
			f.ad.ProcessInputs(f.status, 101)
			require.Equal(t, uint32(3403), f.status.PackCellMaxmV)
			before := f.status.Clone()

			f.drv.SetCells(3300, 3300, 3300, 3300)
			f.drv.Script(sim.OpRead, tt.result)
			f.ad.ProcessInputs(f.status, 300)

			assert.Equal(t, tt.assertPEC, f.faults.Asserted(errstatus.LTC6804PEC))
			assert.Equal(t, before.CellVoltagesmV, f.status.CellVoltagesmV, "previous snapshot kept")
			assert.Equal(t, before.PackCellMaxmV, f.status.PackCellMaxmV)

			// Task stays pending; the next poll passes and clears PEC.
			f.ad.ProcessInputs(f.status, 301)
			assert.False(t, f.faults.Asserted(errstatus.LTC6804PEC))
			assert.Equal(t, uint32(3300), f.status.PackCellMaxmV)
		})
	}
}

func TestOpenWire_RuntimeFailureCapturesLocation(t *testing.T) {
	f := newFixture(0)
	f.bringUp(t)

	f.drv.InjectOpenWire(0, 2)
	f.ad.ProcessInputs(f.status, 60002)
	assert.Equal(t, 1, f.drv.Calls(sim.OpOpenWire), "only the self-test run so far")

	f.ad.ProcessInputs(f.status, 60003)
	assert.True(t, f.faults.Asserted(errstatus.LTC6804OWT))
	assert.Equal(t, bms.OpenWire{Valid: true, Module: 0, Wire: 2}, f.status.OpenWire)

	// Failed tests are retried every cycle until they pass.
	f.drv.ClearOpenWire()
	f.ad.ProcessInputs(f.status, 60004)
	assert.False(t, f.faults.Asserted(errstatus.LTC6804OWT))
	assert.False(t, f.status.OpenWire.Valid)
}

func TestOpenWire_PecErrorAssertsPEC(t *testing.T) {
	f := newFixture(0)
	f.bringUp(t)

	f.drv.Script(sim.OpOpenWire, ltc6804.PecError)
	f.ad.ProcessInputs(f.status, 60003)
	assert.True(t, f.faults.Asserted(errstatus.LTC6804PEC))
	assert.False(t, f.faults.Asserted(errstatus.LTC6804OWT))
}

func TestDeInit_RestartsSequence(t *testing.T) {
	f := newFixture(0)
	f.bringUp(t)

	f.ad.DeInit()
	assert.Equal(t, ltc6804.Uninit, f.ad.Phase())
	f.ad.ProcessInputs(f.status, 1000)
	assert.Equal(t, 0, f.drv.Calls(sim.OpRead))

	f.ad.Init(&f.cfg, 1001)
	assert.Equal(t, 2, f.drv.Calls(sim.OpInit))
	assert.Equal(t, ltc6804.Configuring, f.ad.Phase())
	assert.Equal(t, 1, f.drv.Calls(sim.OpVerify), "verify waits for the next call")
}

func TestProcessOutput_SpiErrorIsNonFatal(t *testing.T) {
	f := newFixture(0)
	f.bringUp(t)

	f.drv.Script(sim.OpBalance, ltc6804.SpiError)
	f.ad.ProcessOutput([]bool{false, false, false, true}, 10)
	assert.Equal(t, []bool{false, false, false, false}, f.drv.Balance())
	assert.False(t, f.faults.Any(errstatus.All...))

	f.ad.ProcessOutput([]bool{false, false, false, true}, 11)
	assert.Equal(t, []bool{false, false, false, true}, f.drv.Balance())
}
