// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tick

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSince_Wraparound(t *testing.T) {
	tests := []struct {
		name string
		now  Tick
		last Tick
		want uint32
	}{
		{"no wrap", 1500, 1000, 500},
		{"equal", 42, 42, 0},
		{"wrap", 10, math.MaxUint32 - 9, 20},
		{"wrap to zero", 0, math.MaxUint32, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Since(tt.now, tt.last))
		})
	}
}

func TestAfter_Wraparound(t *testing.T) {
	assert.True(t, After(5, math.MaxUint32-5))
	assert.False(t, After(math.MaxUint32-5, 5))
	assert.False(t, After(100, 100))
	assert.True(t, After(101, 100))
}

func TestTask_GatesStrictlyAfterInterval(t *testing.T) {
	task := NewTask(100)
	task.Arm(1000, false)

	assert.False(t, task.Due(1000))
	assert.False(t, task.Due(1100))
	assert.True(t, task.Due(1101))

	// Stays pending until completed.
	assert.True(t, task.Due(1102))

	task.Complete(1105)
	assert.False(t, task.Pending())
	assert.False(t, task.Due(1205))
	assert.True(t, task.Due(1206))
}

func TestTask_ImmediateArm(t *testing.T) {
	task := NewTask(60000)
	task.Arm(0, true)
	assert.True(t, task.Due(0))

	task.Complete(10)
	assert.False(t, task.Due(60010))
	assert.True(t, task.Due(60011))
}

func TestTask_AcrossWrap(t *testing.T) {
	task := NewTask(100)
	start := Tick(math.MaxUint32 - 50)
	task.Arm(start, false)

	assert.False(t, task.Due(start+100))
	assert.True(t, task.Due(start+101))
	require.Equal(t, Tick(49), start+100)
}

func TestCounter_Advance(t *testing.T) {
	c := NewCounter(math.MaxUint32)
	assert.Equal(t, Tick(math.MaxUint32), c.Now())
	assert.Equal(t, Tick(0), c.Advance(1))
	assert.Equal(t, Tick(10), c.Advance(10))
}
