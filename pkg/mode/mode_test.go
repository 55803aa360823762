// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mode

import (
	"math"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"

	"github.com/Thermoquad/cellwarden/pkg/bms"
	"github.com/Thermoquad/cellwarden/pkg/errstatus"
	"github.com/Thermoquad/cellwarden/pkg/tick"
)

func TestResolve(t *testing.T) {
	charge := Console{Valid: true, Mode: bms.Charge, BalancemV: 3500}

	tests := []struct {
		name     string
		prev     bms.Mode
		in       Inputs
		want     bms.Mode
		conflict bool
	}{
		{"console charge, bus standby", bms.Standby, Inputs{Console: charge, Bus: bms.Standby}, bms.Charge, false},
		{"console standby, bus charge", bms.Standby, Inputs{Console: Console{Valid: true, Mode: bms.Standby}, Bus: bms.Charge}, bms.Charge, false},
		{"console invalid, bus discharge", bms.Standby, Inputs{Console: Console{Mode: bms.Charge}, Bus: bms.Discharge}, bms.Discharge, false},
		{"agree", bms.Standby, Inputs{Console: charge, Bus: bms.Charge}, bms.Charge, false},
		{"conflict keeps prev", bms.Balance, Inputs{Console: charge, Bus: bms.Discharge}, bms.Balance, true},
		{"stale bus ignored", bms.Standby, Inputs{Console: Console{}, Bus: bms.Charge, HeartbeatAge: 10001}, bms.Standby, false},
		{"stale bus lets console win", bms.Standby, Inputs{Console: charge, Bus: bms.Discharge, HeartbeatAge: 20000}, bms.Charge, false},
		{"at timeout still fresh", bms.Standby, Inputs{Bus: bms.Charge, HeartbeatAge: 10000}, bms.Charge, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Resolve(tt.prev, tt.in)
			assert.Equal(t, tt.want, d.Mode)
			assert.Equal(t, tt.conflict, d.Conflict)
		})
	}
}

func TestResolve_NeverInventsMode(t *testing.T) {
	modes := []bms.Mode{bms.Standby, bms.Charge, bms.Balance, bms.Discharge}
	for _, prev := range modes {
		for _, c := range modes {
			for _, b := range modes {
				for _, valid := range []bool{false, true} {
					d := Resolve(prev, Inputs{Console: Console{Valid: valid, Mode: c}, Bus: b})
					ok := d.Mode == b || d.Mode == bms.Standby || (valid && d.Mode == c) || (d.Conflict && d.Mode == prev)
					assert.True(t, ok, "prev=%s console=%s/%v bus=%s got %s", prev, c, valid, b, d.Mode)
				}
			}
		}
	}
}

func TestResolve_BalanceLatchOnlyWhenValid(t *testing.T) {
	d := Resolve(bms.Standby, Inputs{Console: Console{Mode: bms.Balance, BalancemV: 3300}})
	assert.False(t, d.BalanceLatched)

	d = Resolve(bms.Standby, Inputs{Console: Console{Valid: true, Mode: bms.Balance, BalancemV: 3300}})
	assert.True(t, d.BalanceLatched)
	assert.Equal(t, uint32(3300), d.BalancemV)
}

func TestArbitrator_HeartbeatFailSafe(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	faults := errstatus.New()
	a := NewArbitrator(faults, log, 0)

	a.Heartbeat(bms.Charge, 100)
	assert.Equal(t, bms.Charge, a.Update(Console{}, 5000).Mode)
	assert.Equal(t, bms.Charge, a.Update(Console{}, 10100).Mode)

	d := a.Update(Console{Valid: true, Mode: bms.Charge}, 10101)
	assert.Equal(t, bms.Charge, d.Mode, "console still asks for charge")

	// Regardless of console input the bus side is Standby now.
	d = a.Update(Console{}, 10102)
	assert.Equal(t, bms.Standby, d.Mode)
	assert.True(t, d.Stale)
}

func TestArbitrator_HeartbeatAcrossWrap(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	a := NewArbitrator(errstatus.New(), log, 0)

	start := tick.Tick(math.MaxUint32 - 100)
	a.Heartbeat(bms.Discharge, start)
	assert.Equal(t, bms.Discharge, a.Update(Console{}, start+5000).Mode)
	assert.Equal(t, bms.Standby, a.Update(Console{}, start+10001).Mode)
}

func TestArbitrator_StaleRequestSurvivesWrap(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	a := NewArbitrator(errstatus.New(), log, 0)

	a.Heartbeat(bms.Discharge, 0)
	assert.Equal(t, bms.Standby, a.Update(Console{}, 20000).Mode)
	assert.Equal(t, bms.Standby, a.BusRequest(), "stale request dropped")
	assert.Equal(t, bms.Standby, a.Update(Console{}, math.MaxUint32).Mode)

	// Past the wrap the old heartbeat looks recent again.
	d := a.Update(Console{}, 5)
	assert.Equal(t, bms.Standby, d.Mode)
	assert.True(t, d.Stale)

	// A bare request is not a heartbeat.
	a.Request(bms.Discharge)
	assert.Equal(t, bms.Standby, a.Update(Console{}, 6).Mode)

	a.Heartbeat(bms.Discharge, 7)
	d = a.Update(Console{}, 8)
	assert.Equal(t, bms.Discharge, d.Mode)
	assert.False(t, d.Stale)
	assert.Equal(t, "bus heartbeat restored", hook.LastEntry().Message)
}

func TestArbitrator_ConflictFault(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	faults := errstatus.New()
	a := NewArbitrator(faults, log, 0)
	a.Heartbeat(bms.Discharge, 0)

	assert.Equal(t, bms.Discharge, a.Update(Console{}, 1).Mode)

	charge := Console{Valid: true, Mode: bms.Charge}
	d := a.Update(charge, 2)
	assert.True(t, d.Conflict)
	assert.Equal(t, bms.Discharge, d.Mode)
	assert.True(t, faults.Asserted(errstatus.ModeConflict))

	a.Update(charge, 3)
	assert.Equal(t, uint32(2), faults.Status(errstatus.ModeConflict).Count)
	assert.Len(t, hook.Entries, 1, "one log per conflict episode")

	a.Heartbeat(bms.Standby, 4)
	d = a.Update(charge, 4)
	assert.Equal(t, bms.Charge, d.Mode)
	assert.False(t, faults.Asserted(errstatus.ModeConflict))
}

func TestArbitrator_BalanceTargetLatched(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	a := NewArbitrator(errstatus.New(), log, 0)

	a.Update(Console{Valid: true, Mode: bms.Balance, BalancemV: 3350}, 1)
	d := a.Update(Console{}, 2)
	assert.Equal(t, uint32(3350), d.BalancemV)
	assert.Equal(t, uint32(3350), a.BalancemV())
}

func TestArbitrator_RequestDoesNotRefreshHeartbeat(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	a := NewArbitrator(errstatus.New(), log, 0)

	a.Request(bms.Discharge)
	assert.Equal(t, bms.Discharge, a.BusRequest())
	assert.Equal(t, bms.Discharge, a.Update(Console{}, 5000).Mode)

	// Without a heartbeat the request goes stale like any other.
	d := a.Update(Console{}, HeartbeatTimeout+1)
	assert.True(t, d.Stale)
	assert.Equal(t, bms.Standby, d.Mode)
}
