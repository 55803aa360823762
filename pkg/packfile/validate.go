// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package packfile

import (
	"fmt"

	"github.com/Thermoquad/cellwarden/pkg/bms"
)

// Validate checks a parsed description. It does not mutate f.
func Validate(f *File) error {
	p := &f.Pack

	uniform := p.ModuleCount != 0 || p.CellsPerModule != 0
	switch {
	case uniform && len(p.Modules) > 0:
		return fmt.Errorf("pack %q: use either modules or module_count/cells_per_module, not both", p.Name)
	case uniform:
		if p.ModuleCount < 1 || p.ModuleCount > bms.MaxModules {
			return fmt.Errorf("pack %q: module_count %d out of range 1..%d", p.Name, p.ModuleCount, bms.MaxModules)
		}
		if p.CellsPerModule < 1 || p.CellsPerModule > bms.MaxCellsPerModule {
			return fmt.Errorf("pack %q: cells_per_module %d out of range 1..%d", p.Name, p.CellsPerModule, bms.MaxCellsPerModule)
		}
	case len(p.Modules) == 0:
		return fmt.Errorf("pack %q: no modules defined", p.Name)
	case len(p.Modules) > bms.MaxModules:
		return fmt.Errorf("pack %q: %d modules, max %d", p.Name, len(p.Modules), bms.MaxModules)
	}

	for i, m := range p.Modules {
		if m.Cells < 1 || m.Cells > bms.MaxCellsPerModule {
			return fmt.Errorf("pack %q: module %d: cells %d out of range 1..%d", p.Name, i, m.Cells, bms.MaxCellsPerModule)
		}
	}

	if p.Cell.MinmV == 0 || p.Cell.MinmV >= p.Cell.MaxmV {
		return fmt.Errorf("pack %q: cell.min_mv %d must be non-zero and below cell.max_mv %d", p.Name, p.Cell.MinmV, p.Cell.MaxmV)
	}
	if p.Cell.CapacitycAh == 0 {
		return fmt.Errorf("pack %q: cell.capacity_cah is required", p.Name)
	}
	if p.Charge.CRatingcC == 0 {
		return fmt.Errorf("pack %q: charge.c_rating_cc is required", p.Name)
	}
	if p.Balance.OnThreshmV == 0 {
		return fmt.Errorf("pack %q: balance.on_thresh_mv is required", p.Name)
	}
	if p.Balance.OffThreshmV > p.Balance.OnThreshmV {
		return fmt.Errorf("pack %q: balance.off_thresh_mv %d exceeds on_thresh_mv %d", p.Name, p.Balance.OffThreshmV, p.Balance.OnThreshmV)
	}

	return nil
}
