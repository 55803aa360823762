// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tick

// Task is a periodic operation keyed by its next-due tick.
//
// A task becomes pending once the counter is strictly past its due tick and
// stays pending until Complete is called, so an operation that needs several
// polls to finish keeps running across cycles. Complete re-arms the task one
// interval after the completion tick.
type Task struct {
	interval uint32
	due      Tick
	pending  bool
}

// NewTask creates a task with the given interval in ticks.
func NewTask(interval uint32) *Task {
	return &Task{interval: interval}
}

// Interval returns the task interval in ticks.
func (t *Task) Interval() uint32 {
	return t.interval
}

// Arm schedules the next run one interval after now. If immediate is true the
// task is pending right away.
func (t *Task) Arm(now Tick, immediate bool) {
	t.due = now + Tick(t.interval)
	t.pending = immediate
}

// Due reports whether the task should run at now, latching the pending state.
func (t *Task) Due(now Tick) bool {
	if !t.pending && After(now, t.due) {
		t.pending = true
	}
	return t.pending
}

// Pending reports whether the task is running or waiting to run.
func (t *Task) Pending() bool {
	return t.pending
}

// NextDue returns the tick after which the task becomes pending.
func (t *Task) NextDue() Tick {
	return t.due
}

// Complete clears the pending state and re-arms the task from now.
func (t *Task) Complete(now Tick) {
	t.Arm(now, false)
}

// Cancel drops the pending state without moving the due tick.
func (t *Task) Cancel() {
	t.pending = false
}
