// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package contactor drives the pack contactors and reports their feedback.
package contactor

import (
	"sync"

	"github.com/Thermoquad/cellwarden/pkg/tick"
)

// Contactor is the pack contactor pair. SetClosed must not block; Closed
// returns the last confirmed position.
type Contactor interface {
	SetClosed(closed bool)
	Closed() bool
}

// Sim is a simulated contactor whose feedback follows the command after a
// settle delay.
type Sim struct {
	src   tick.Source
	delay uint32

	mu      sync.Mutex
	command bool
	changed tick.Tick
	closed  bool
	stuck   bool
}

// NewSim creates an open simulated contactor. delay is in ticks.
func NewSim(src tick.Source, delay uint32) *Sim {
	return &Sim{src: src, delay: delay}
}

// SetClosed commands the contactor.
func (s *Sim) SetClosed(closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle()
	if closed != s.command {
		s.command = closed
		s.changed = s.src.Now()
	}
}

// Closed returns the feedback position.
func (s *Sim) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle()
	return s.closed
}

// Stick freezes the feedback at its current position, like a welded or
// failed contactor.
func (s *Sim) Stick(stuck bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle()
	s.stuck = stuck
}

func (s *Sim) settle() {
	if s.stuck || s.closed == s.command {
		return
	}
	if tick.Since(s.src.Now(), s.changed) >= s.delay {
		s.closed = s.command
	}
}
