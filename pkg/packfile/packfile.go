// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package packfile reads a YAML pack description and turns it into a
// bms.PackConfig for the configuration store.
//
//	pack:
//	  name: segment-a
//	  modules:
//	    - cells: 12
//	    - cells: 10
//	  cell:
//	    min_mv: 2800
//	    max_mv: 4150
//	    capacity_cah: 500
//	  charge:
//	    c_rating_cc: 50
//	    cv_cutoff_ma: 250
//	  balance:
//	    on_thresh_mv: 10
//	    off_thresh_mv: 3
//	  parallel: 2
//
// A uniform pack may use module_count and cells_per_module instead of the
// modules list.
package packfile

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/cellwarden/pkg/bms"
)

// File is a pack description document.
type File struct {
	Pack PackConfig `yaml:"pack"`
}

type PackConfig struct {
	Name string `yaml:"name"`

	Modules        []ModuleConfig `yaml:"modules,omitempty"`
	ModuleCount    int            `yaml:"module_count,omitempty"`
	CellsPerModule int            `yaml:"cells_per_module,omitempty"`

	Cell     CellConfig    `yaml:"cell"`
	Charge   ChargeConfig  `yaml:"charge"`
	Balance  BalanceConfig `yaml:"balance"`
	Parallel uint32        `yaml:"parallel"`
}

type ModuleConfig struct {
	Cells int `yaml:"cells"`
}

type CellConfig struct {
	MinmV       uint32 `yaml:"min_mv"`
	MaxmV       uint32 `yaml:"max_mv"`
	CapacitycAh uint32 `yaml:"capacity_cah"`
}

type ChargeConfig struct {
	CRatingcC  uint32 `yaml:"c_rating_cc"`
	CVCutoffmA uint32 `yaml:"cv_cutoff_ma"`
}

type BalanceConfig struct {
	OnThreshmV  uint32 `yaml:"on_thresh_mv"`
	OffThreshmV uint32 `yaml:"off_thresh_mv"`
}

// Parse decodes a pack description. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse pack file: %w", err)
	}
	return &f, nil
}

// Load reads, validates and normalizes a pack description.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := Validate(f); err != nil {
		return nil, err
	}
	Normalize(f)
	return f, nil
}

// PackConfig converts a normalized description.
func (f *File) PackConfig() bms.PackConfig {
	p := &f.Pack
	counts := make([]uint8, len(p.Modules))
	for i, m := range p.Modules {
		counts[i] = uint8(m.Cells)
	}
	return bms.PackConfig{
		NumModules:      uint8(len(p.Modules)),
		ModuleCellCount: counts,
		CellMinmV:       p.Cell.MinmV,
		CellMaxmV:       p.Cell.MaxmV,
		CellCapacitycAh: p.Cell.CapacitycAh,
		ChargeCRatingcC: p.Charge.CRatingcC,
		BalOnThreshmV:   p.Balance.OnThreshmV,
		BalOffThreshmV:  p.Balance.OffThreshmV,
		PackCellsP:      p.Parallel,
		CVCutoffmA:      p.Charge.CVCutoffmA,
	}
}

// FromPackConfig builds a description from a stored configuration, for
// export.
func FromPackConfig(name string, cfg *bms.PackConfig) *File {
	modules := make([]ModuleConfig, len(cfg.ModuleCellCount))
	for i, n := range cfg.ModuleCellCount {
		modules[i] = ModuleConfig{Cells: int(n)}
	}
	return &File{Pack: PackConfig{
		Name:     name,
		Modules:  modules,
		Cell:     CellConfig{MinmV: cfg.CellMinmV, MaxmV: cfg.CellMaxmV, CapacitycAh: cfg.CellCapacitycAh},
		Charge:   ChargeConfig{CRatingcC: cfg.ChargeCRatingcC, CVCutoffmA: cfg.CVCutoffmA},
		Balance:  BalanceConfig{OnThreshmV: cfg.BalOnThreshmV, OffThreshmV: cfg.BalOffThreshmV},
		Parallel: cfg.PackCellsP,
	}}
}

// Marshal encodes the description as YAML.
func (f *File) Marshal() ([]byte, error) {
	return yaml.Marshal(f)
}
