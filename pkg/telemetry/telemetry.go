// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package telemetry mirrors the supervisor state into Redis.
//
// Keys:
//
//	bms            hash of the latest status fields
//	bms:fault      set of the asserted fault names
//	events:faults  stream of fault edges (code, or -code on release)
//
// Field changes are announced on the "bms" channel with the field name as
// payload, and fault set changes on "bms fault".
package telemetry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/cellwarden/pkg/errstatus"
)

// Redis keys and channels
const (
	StatusKey     = "bms"
	FaultSetKey   = "bms:fault"
	FaultStream   = "events:faults"
	FaultChannel  = "bms fault"
	faultGroup    = "bms"
	streamMaxLen  = 1000
	eventsBacklog = 64
)

// Snapshot is one cycle's worth of published state.
type Snapshot struct {
	Tick             uint32
	Mode             string
	RequestedMode    string
	ChargeState      string
	MonitorPhase     string
	CellMinmV        uint32
	CellMaxmV        uint32
	PackVoltagemV    uint32
	PackCurrentmA    uint32
	ContactorsClosed bool
	ChargerOn        bool
	BalancingCells   int
	Faults           []string
}

func (s *Snapshot) fields() map[string]interface{} {
	return map[string]interface{}{
		"tick":              fmt.Sprintf("%d", s.Tick),
		"mode":              s.Mode,
		"requested-mode":    s.RequestedMode,
		"charge-state":      s.ChargeState,
		"monitor":           s.MonitorPhase,
		"cell-min":          fmt.Sprintf("%d", s.CellMinmV),
		"cell-max":          fmt.Sprintf("%d", s.CellMaxmV),
		"voltage":           fmt.Sprintf("%d", s.PackVoltagemV),
		"current":           fmt.Sprintf("%d", s.PackCurrentmA),
		"contactors-closed": fmt.Sprintf("%v", s.ContactorsClosed),
		"charger-on":        fmt.Sprintf("%v", s.ChargerOn),
		"balancing-cells":   fmt.Sprintf("%d", s.BalancingCells),
	}
}

// FaultEvent is one fault edge.
type FaultEvent struct {
	Fault    errstatus.Fault
	Asserted bool
	Count    uint32
}

// Client is the part of *redis.Client the publisher uses.
type Client interface {
	Pipeline() redis.Pipeliner
}

// Dial connects to Redis and checks the connection.
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	c := redis.NewClient(&redis.Options{Addr: addr})
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return c, nil
}

// Publisher writes snapshots and fault events to Redis from its own
// goroutine. Submit and FaultChanged never block the control cycle.
type Publisher struct {
	log    logrus.FieldLogger
	client Client

	snaps  chan Snapshot
	events chan FaultEvent

	last      *Snapshot
	faultSet  map[string]bool
	dropped   atomic.Int32
	lastError error
}

// New creates a publisher.
func New(client Client, log logrus.FieldLogger) *Publisher {
	return &Publisher{
		log:      log.WithField("component", "telemetry"),
		client:   client,
		snaps:    make(chan Snapshot, 1),
		events:   make(chan FaultEvent, eventsBacklog),
		faultSet: make(map[string]bool),
	}
}

// Submit offers the latest snapshot. An unpublished older snapshot is
// replaced.
func (p *Publisher) Submit(s Snapshot) {
	for {
		select {
		case p.snaps <- s:
			return
		default:
		}
		select {
		case <-p.snaps:
		default:
		}
	}
}

// FaultChanged queues a fault edge. Its signature matches
// errstatus.Aggregator.OnChange.
func (p *Publisher) FaultChanged(f errstatus.Fault, s errstatus.Status) {
	select {
	case p.events <- FaultEvent{Fault: f, Asserted: s.Asserted, Count: s.Count}:
	default:
		p.dropped.Add(1)
	}
}

// Run publishes at most once per interval until ctx is done.
func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		pending []FaultEvent
		snap    *Snapshot
	)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.events:
			pending = append(pending, ev)
		case s := <-p.snaps:
			snap = &s
		case <-ticker.C:
			if snap == nil && len(pending) == 0 {
				continue
			}
			if err := p.Flush(ctx, snap, pending); err != nil {
				continue
			}
			snap = nil
			pending = pending[:0]
		}
	}
}

// Flush writes one snapshot and the queued fault events in a single
// pipeline. Nothing is remembered as published unless the pipeline succeeds.
func (p *Publisher) Flush(ctx context.Context, snap *Snapshot, events []FaultEvent) error {
	pipe := p.client.Pipeline()

	for _, ev := range events {
		values := map[string]interface{}{
			"group": faultGroup,
			"code":  fmt.Sprintf("%d", int(ev.Fault)),
		}
		if ev.Asserted {
			values["description"] = ev.Fault.String()
			values["count"] = fmt.Sprintf("%d", ev.Count)
		} else {
			values["code"] = fmt.Sprintf("-%d", int(ev.Fault))
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: FaultStream,
			MaxLen: streamMaxLen,
			Values: values,
		})
	}

	var faultSet map[string]bool
	if snap != nil {
		for _, name := range p.changedFields(snap) {
			pipe.Publish(ctx, StatusKey, name)
		}
		pipe.HSet(ctx, StatusKey, snap.fields())

		faultSet = make(map[string]bool, len(snap.Faults))
		changed := false
		for _, name := range snap.Faults {
			faultSet[name] = true
			if !p.faultSet[name] {
				pipe.SAdd(ctx, FaultSetKey, name)
				changed = true
			}
		}
		for name := range p.faultSet {
			if !faultSet[name] {
				pipe.SRem(ctx, FaultSetKey, name)
				changed = true
			}
		}
		if changed {
			pipe.Publish(ctx, FaultChannel, "fault")
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		if p.lastError == nil {
			p.log.WithError(err).Warn("redis pipeline failed")
		}
		p.lastError = err
		return fmt.Errorf("redis pipeline execution failed: %w", err)
	}
	if p.lastError != nil {
		p.log.Info("redis pipeline recovered")
		p.lastError = nil
	}

	if snap != nil {
		s := *snap
		p.last = &s
		p.faultSet = faultSet
	}
	if n := p.dropped.Swap(0); n > 0 {
		p.log.WithField("dropped", n).Warn("fault events dropped")
	}
	return nil
}

func (p *Publisher) changedFields(s *Snapshot) []string {
	if p.last == nil {
		return []string{"mode", "charge-state", "contactors-closed", "charger-on"}
	}
	var names []string
	if s.Mode != p.last.Mode {
		names = append(names, "mode")
	}
	if s.ChargeState != p.last.ChargeState {
		names = append(names, "charge-state")
	}
	if s.ContactorsClosed != p.last.ContactorsClosed {
		names = append(names, "contactors-closed")
	}
	if s.ChargerOn != p.last.ChargerOn {
		names = append(names, "charger-on")
	}
	return names
}
