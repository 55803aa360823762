// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Targets(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 4, cfg.TotalCells())
	assert.Equal(t, uint32(14400), cfg.ChargeVoltagemV())
	assert.Equal(t, uint32(1000), cfg.ChargeCurrentmA())
}

func TestChargeCurrent_ParallelGroups(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CellCapacitycAh = 2500
	cfg.ChargeCRatingcC = 50
	cfg.PackCellsP = 3
	// 2500 × 50 / 100 = 1250 cA = 12500 mA per group.
	assert.Equal(t, uint32(37500), cfg.ChargeCurrentmA())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*PackConfig)
		errMsg string
	}{
		{"zero modules", func(c *PackConfig) { c.NumModules = 0; c.ModuleCellCount = nil }, "num_modules"},
		{"cell table length", func(c *PackConfig) { c.ModuleCellCount = []uint8{2} }, "module_cell_count"},
		{"too many cells", func(c *PackConfig) { c.ModuleCellCount[1] = 13 }, "module 1"},
		{"min above max", func(c *PackConfig) { c.CellMinmV = 3700 }, "cell_min_mv"},
		{"zero capacity", func(c *PackConfig) { c.CellCapacitycAh = 0 }, "cell_capacity_cah"},
		{"hysteresis inverted", func(c *PackConfig) { c.BalOffThreshmV = 10 }, "bal_off_thresh_mv"},
		{"zero parallel", func(c *PackConfig) { c.PackCellsP = 0 }, "pack_cells_p"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestTotalCells_ShortTable(t *testing.T) {
	cfg := PackConfig{NumModules: 3, ModuleCellCount: []uint8{4, 5}}
	assert.Equal(t, 9, cfg.TotalCells())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("charge")
	require.NoError(t, err)
	assert.Equal(t, Charge, m)

	_, err = ParseMode("init")
	assert.Error(t, err)
}

func TestPackStatus_CloneIsDeep(t *testing.T) {
	cfg := DefaultConfig()
	s := NewPackStatus(&cfg)
	s.CellVoltagesmV[0] = 3400

	c := s.Clone()
	c.CellVoltagesmV[0] = 1
	assert.Equal(t, uint32(3400), s.CellVoltagesmV[0])
}

func TestOutput_ClearBalance(t *testing.T) {
	cfg := DefaultConfig()
	out := NewOutput(&cfg)
	out.BalanceReq[2] = true
	assert.True(t, out.Balancing())
	out.ClearBalance()
	assert.False(t, out.Balancing())
}
