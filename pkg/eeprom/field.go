// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package eeprom

import (
	"fmt"

	"github.com/Thermoquad/cellwarden/pkg/bms"
)

// Field names a configuration value that can be changed at runtime.
type Field int

// Configurable fields
const (
	FieldNumModules Field = iota
	FieldModuleCells
	FieldCellMinmV
	FieldCellMaxmV
	FieldCellCapacitycAh
	FieldChargeCRatingcC
	FieldBalOnThreshmV
	FieldBalOffThreshmV
	FieldPackCellsP
	FieldCVCutoffmA
	numFields
)

var fieldNames = [numFields]string{
	FieldNumModules:      "num_modules",
	FieldModuleCells:     "module_cells",
	FieldCellMinmV:       "cell_min_mv",
	FieldCellMaxmV:       "cell_max_mv",
	FieldCellCapacitycAh: "cell_capacity_cah",
	FieldChargeCRatingcC: "charge_c_rating_cc",
	FieldBalOnThreshmV:   "bal_on_thresh_mv",
	FieldBalOffThreshmV:  "bal_off_thresh_mv",
	FieldPackCellsP:      "pack_cells_p",
	FieldCVCutoffmA:      "cv_cutoff_ma",
}

// Fields lists every configurable field.
func Fields() []Field {
	out := make([]Field, numFields)
	for i := range out {
		out[i] = Field(i)
	}
	return out
}

func (f Field) String() string {
	if f >= 0 && f < numFields {
		return fieldNames[f]
	}
	return fmt.Sprintf("FIELD_%d", int(f))
}

// ParseField looks a field up by name.
func ParseField(name string) (Field, error) {
	for i, n := range fieldNames {
		if n == name {
			return Field(i), nil
		}
	}
	return 0, fmt.Errorf("unknown config field %q", name)
}

// Get reads the field from cfg. For module_cells it returns the cell count
// of the first module.
func (f Field) Get(cfg *bms.PackConfig) uint32 {
	switch f {
	case FieldNumModules:
		return uint32(cfg.NumModules)
	case FieldModuleCells:
		if len(cfg.ModuleCellCount) == 0 {
			return 0
		}
		return uint32(cfg.ModuleCellCount[0])
	case FieldCellMinmV:
		return cfg.CellMinmV
	case FieldCellMaxmV:
		return cfg.CellMaxmV
	case FieldCellCapacitycAh:
		return cfg.CellCapacitycAh
	case FieldChargeCRatingcC:
		return cfg.ChargeCRatingcC
	case FieldBalOnThreshmV:
		return cfg.BalOnThreshmV
	case FieldBalOffThreshmV:
		return cfg.BalOffThreshmV
	case FieldPackCellsP:
		return cfg.PackCellsP
	case FieldCVCutoffmA:
		return cfg.CVCutoffmA
	}
	return 0
}

// Apply writes v into cfg. Changing num_modules resizes the per-module cell
// counts, repeating the last module's count. module_cells sets every module.
func (f Field) Apply(cfg *bms.PackConfig, v uint32) error {
	switch f {
	case FieldNumModules:
		if v == 0 || v > bms.MaxModules {
			return fmt.Errorf("num_modules must be 1..%d, got %d", bms.MaxModules, v)
		}
		fill := uint8(bms.MaxCellsPerModule)
		if n := len(cfg.ModuleCellCount); n > 0 {
			fill = cfg.ModuleCellCount[n-1]
		}
		counts := make([]uint8, v)
		for i := range counts {
			if i < len(cfg.ModuleCellCount) {
				counts[i] = cfg.ModuleCellCount[i]
			} else {
				counts[i] = fill
			}
		}
		cfg.NumModules = uint8(v)
		cfg.ModuleCellCount = counts
	case FieldModuleCells:
		if v == 0 || v > bms.MaxCellsPerModule {
			return fmt.Errorf("module_cells must be 1..%d, got %d", bms.MaxCellsPerModule, v)
		}
		for i := range cfg.ModuleCellCount {
			cfg.ModuleCellCount[i] = uint8(v)
		}
	case FieldCellMinmV:
		cfg.CellMinmV = v
	case FieldCellMaxmV:
		cfg.CellMaxmV = v
	case FieldCellCapacitycAh:
		cfg.CellCapacitycAh = v
	case FieldChargeCRatingcC:
		cfg.ChargeCRatingcC = v
	case FieldBalOnThreshmV:
		cfg.BalOnThreshmV = v
	case FieldBalOffThreshmV:
		cfg.BalOffThreshmV = v
	case FieldPackCellsP:
		cfg.PackCellsP = v
	case FieldCVCutoffmA:
		cfg.CVCutoffmA = v
	default:
		return fmt.Errorf("unknown config field %d", int(f))
	}
	return nil
}
