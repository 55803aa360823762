// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package packfile

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const segmentYAML = `
pack:
  name: segment-a
  modules:
    - cells: 12
    - cells: 10
  cell:
    min_mv: 2800
    max_mv: 4150
    capacity_cah: 500
  charge:
    c_rating_cc: 50
    cv_cutoff_ma: 250
  balance:
    on_thresh_mv: 10
    off_thresh_mv: 3
  parallel: 2
`

const uniformYAML = `
pack:
  name: uniform
  module_count: 4
  cells_per_module: 6
  cell: {min_mv: 2500, max_mv: 3650, capacity_cah: 10000}
  charge: {c_rating_cc: 20}
  balance: {on_thresh_mv: 8, off_thresh_mv: 2}
`

func mustParse(t *testing.T, doc string) *File {
	t.Helper()
	f, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return f
}

func TestLoad_Segment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pack.yaml")
	if err := os.WriteFile(path, []byte(segmentYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg := f.PackConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("converted config invalid: %v", err)
	}
	if cfg.NumModules != 2 || cfg.TotalCells() != 22 {
		t.Errorf("modules = %d, cells = %d", cfg.NumModules, cfg.TotalCells())
	}
	if cfg.PackCellsP != 2 || cfg.CVCutoffmA != 250 {
		t.Errorf("parallel = %d, cutoff = %d", cfg.PackCellsP, cfg.CVCutoffmA)
	}
}

func TestNormalize_UniformShorthand(t *testing.T) {
	f := mustParse(t, uniformYAML)
	if err := Validate(f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	Normalize(f)

	cfg := f.PackConfig()
	want := []uint8{6, 6, 6, 6}
	if !reflect.DeepEqual(cfg.ModuleCellCount, want) {
		t.Errorf("ModuleCellCount = %v, want %v", cfg.ModuleCellCount, want)
	}
	if cfg.PackCellsP != 1 {
		t.Errorf("parallel default = %d, want 1", cfg.PackCellsP)
	}
	if f.Pack.ModuleCount != 0 || f.Pack.CellsPerModule != 0 {
		t.Error("shorthand not cleared")
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name string
		edit func(*File)
		want string
	}{
		{"no modules", func(f *File) { f.Pack.Modules = nil }, "no modules"},
		{"both forms", func(f *File) { f.Pack.ModuleCount = 2 }, "either modules"},
		{"too many cells", func(f *File) { f.Pack.Modules[0].Cells = 13 }, "module 0"},
		{"min above max", func(f *File) { f.Pack.Cell.MinmV = 5000 }, "cell.min_mv"},
		{"no capacity", func(f *File) { f.Pack.Cell.CapacitycAh = 0 }, "capacity_cah"},
		{"no rating", func(f *File) { f.Pack.Charge.CRatingcC = 0 }, "c_rating_cc"},
		{"off above on", func(f *File) { f.Pack.Balance.OffThreshmV = 20 }, "off_thresh_mv"},
		{"too many modules", func(f *File) { f.Pack.Modules = make([]ModuleConfig, 17) }, "max 16"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := mustParse(t, segmentYAML)
			tt.edit(f)
			err := Validate(f)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte("pack:\n  name: x\n  voltage: 400\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestFromPackConfig_RoundTrip(t *testing.T) {
	f := mustParse(t, segmentYAML)
	Normalize(f)
	cfg := f.PackConfig()

	out, err := FromPackConfig("segment-a", &cfg).Marshal()
	if err != nil {
		t.Fatal(err)
	}
	back := mustParse(t, string(out))
	if err := Validate(back); err != nil {
		t.Fatalf("exported file invalid: %v", err)
	}
	Normalize(back)
	if got := back.PackConfig(); !reflect.DeepEqual(got, cfg) {
		t.Errorf("round trip = %+v, want %+v", got, cfg)
	}
}
