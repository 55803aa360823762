// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/cellwarden/pkg/bms"
	"github.com/Thermoquad/cellwarden/pkg/ltc6804"
)

func TestRead_LatencyThenPass(t *testing.T) {
	d := New(2, 3500, 3400, 3600)
	res := ltc6804.ADCResult{CellVoltagesmV: make([]uint32, 3)}

	assert.Equal(t, ltc6804.WaitingRefUp, d.ReadCellVoltages(&res, 0))
	assert.Equal(t, ltc6804.Waiting, d.ReadCellVoltages(&res, 1))
	assert.Equal(t, ltc6804.Pass, d.ReadCellVoltages(&res, 2))
	assert.Equal(t, []uint32{3500, 3400, 3600}, res.CellVoltagesmV)
	assert.Equal(t, uint32(3400), res.PackCellMinmV)
	assert.Equal(t, uint32(3600), res.PackCellMaxmV)

	// Still complete until cleared.
	assert.Equal(t, ltc6804.Pass, d.ReadCellVoltages(&res, 3))
	d.ClearCellVoltages(4)
	assert.Equal(t, ltc6804.WaitingRefUp, d.ReadCellVoltages(&res, 5))
}

func TestScript_ConsumedInOrder(t *testing.T) {
	d := New(0, 3400)
	d.Script(OpCVST, ltc6804.Fail, ltc6804.PecError)

	assert.Equal(t, ltc6804.Fail, d.CVST(0))
	assert.Equal(t, ltc6804.PecError, d.CVST(1))
	assert.Equal(t, ltc6804.Pass, d.CVST(2))
	assert.Equal(t, 3, d.Calls(OpCVST))
}

func TestInit_RejectsMismatchedChain(t *testing.T) {
	d := New(0, 3400, 3400)
	cfg := bms.DefaultConfig()
	require.Error(t, d.Init(&cfg, 0))

	d.SetCells(3400, 3400, 3400, 3400)
	require.NoError(t, d.Init(&cfg, 0))
}

func TestOpenWire_Injection(t *testing.T) {
	d := New(0, 3400)
	var res ltc6804.OWTResult

	assert.Equal(t, ltc6804.Pass, d.OpenWireTest(&res, 0))
	d.InjectOpenWire(2, 7)
	assert.Equal(t, ltc6804.Fail, d.OpenWireTest(&res, 1))
	assert.Equal(t, ltc6804.OWTResult{FailedModule: 2, FailedWire: 7}, res)
}
