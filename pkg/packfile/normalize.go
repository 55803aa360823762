// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package packfile

// Normalize fills defaults and expands the uniform-pack shorthand.
// It must be called only after Validate.
func Normalize(f *File) {
	p := &f.Pack

	if len(p.Modules) == 0 && p.ModuleCount > 0 {
		p.Modules = make([]ModuleConfig, p.ModuleCount)
		for i := range p.Modules {
			p.Modules[i].Cells = p.CellsPerModule
		}
	}
	p.ModuleCount = 0
	p.CellsPerModule = 0

	if p.Parallel == 0 {
		p.Parallel = 1
	}
}

