// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package tick provides the millisecond tick counter shared by every control
// component, plus wrap-safe elapsed-time and next-due gating helpers.
//
// All arithmetic is unsigned 32-bit. Elapsed time is always now-last, which is
// correct across a single wraparound of the counter (about 49.7 days at 1 kHz).
package tick

import (
	"context"
	"sync/atomic"
	"time"
)

// Tick is a free-running millisecond counter value.
type Tick uint32

// Since returns the number of ticks elapsed from last to now.
func Since(now, last Tick) uint32 {
	return uint32(now - last)
}

// After reports whether now is strictly past due. The signed difference keeps
// the comparison correct when the counter wraps between the two values.
func After(now, due Tick) bool {
	return int32(now-due) > 0
}

// Source is a read-only view of the tick counter.
type Source interface {
	Now() Tick
}

// Counter is the tick source. Only its owner advances it; everyone else reads.
type Counter struct {
	ticks atomic.Uint32
}

// NewCounter creates a counter starting at start.
func NewCounter(start Tick) *Counter {
	c := &Counter{}
	c.ticks.Store(uint32(start))
	return c
}

// Now returns the current tick value.
func (c *Counter) Now() Tick {
	return Tick(c.ticks.Load())
}

// Advance adds n ticks and returns the new value.
func (c *Counter) Advance(n uint32) Tick {
	return Tick(c.ticks.Add(n))
}

// Run advances the counter once per period until ctx is cancelled.
// This is the periodic interrupt of the system: nothing else writes the counter.
func (c *Counter) Run(ctx context.Context, period time.Duration) {
	t := time.NewTicker(period)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Advance(1)
		}
	}
}
