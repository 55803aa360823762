// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bms

import (
	"errors"
	"fmt"
)

// Pack limits
const (
	MaxModules        = 16
	MaxCellsPerModule = 12 // cells per monitor chip
)

// PackConfig describes the pack. It is loaded once at startup and never
// mutated by the control core.
type PackConfig struct {
	NumModules      uint8
	ModuleCellCount []uint8

	CellMinmV       uint32
	CellMaxmV       uint32
	CellCapacitycAh uint32 // centi-amp-hours
	ChargeCRatingcC uint32 // centi-C
	BalOnThreshmV   uint32
	BalOffThreshmV  uint32
	PackCellsP      uint32 // parallel cell groups

	// Taper current below which constant-voltage charging completes.
	// Zero disables completion.
	CVCutoffmA uint32
}

// DefaultConfig returns the compiled-in configuration.
func DefaultConfig() PackConfig {
	return PackConfig{
		NumModules:      2,
		ModuleCellCount: []uint8{2, 2},
		CellMinmV:       2400,
		CellMaxmV:       3600,
		CellCapacitycAh: 100,
		ChargeCRatingcC: 100,
		BalOnThreshmV:   4,
		BalOffThreshmV:  1,
		PackCellsP:      1,
		CVCutoffmA:      0,
	}
}

// TotalCells returns the number of series cells across all modules.
func (c *PackConfig) TotalCells() int {
	n := 0
	for i := 0; i < int(c.NumModules) && i < len(c.ModuleCellCount); i++ {
		n += int(c.ModuleCellCount[i])
	}
	return n
}

// ChargeVoltagemV is the constant-current target pack voltage.
func (c *PackConfig) ChargeVoltagemV() uint32 {
	return c.CellMaxmV * uint32(c.TotalCells())
}

// ChargeCurrentmA is the constant-current target current. Capacity in cAh
// times rating in cC over 100 is centi-amps; the ×10 makes it milliamps.
func (c *PackConfig) ChargeCurrentmA() uint32 {
	return c.CellCapacitycAh * c.ChargeCRatingcC / 100 * 10 * c.PackCellsP
}

// Validate checks the configuration. It never mutates c.
func (c *PackConfig) Validate() error {
	var errs []error

	if c.NumModules == 0 || c.NumModules > MaxModules {
		errs = append(errs, fmt.Errorf("num_modules %d out of range 1..%d", c.NumModules, MaxModules))
	}
	if len(c.ModuleCellCount) != int(c.NumModules) {
		errs = append(errs, fmt.Errorf("module_cell_count has %d entries, want %d", len(c.ModuleCellCount), c.NumModules))
	}
	for i, n := range c.ModuleCellCount {
		if n == 0 || n > MaxCellsPerModule {
			errs = append(errs, fmt.Errorf("module %d: cell count %d out of range 1..%d", i, n, MaxCellsPerModule))
		}
	}
	if c.CellMinmV == 0 || c.CellMinmV >= c.CellMaxmV {
		errs = append(errs, fmt.Errorf("cell_min_mv %d must be non-zero and below cell_max_mv %d", c.CellMinmV, c.CellMaxmV))
	}
	if c.CellCapacitycAh == 0 {
		errs = append(errs, errors.New("cell_capacity_cah must be non-zero"))
	}
	if c.ChargeCRatingcC == 0 {
		errs = append(errs, errors.New("charge_c_rating_cc must be non-zero"))
	}
	if c.BalOffThreshmV > c.BalOnThreshmV {
		errs = append(errs, fmt.Errorf("bal_off_thresh_mv %d exceeds bal_on_thresh_mv %d", c.BalOffThreshmV, c.BalOnThreshmV))
	}
	if c.PackCellsP == 0 {
		errs = append(errs, errors.New("pack_cells_p must be non-zero"))
	}

	return errors.Join(errs...)
}

// Clone returns a deep copy of c.
func (c *PackConfig) Clone() PackConfig {
	out := *c
	out.ModuleCellCount = append([]uint8(nil), c.ModuleCellCount...)
	return out
}
