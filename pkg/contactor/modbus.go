// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package contactor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/goburrow/modbus"
	"github.com/sirupsen/logrus"
)

// Coil values for WriteSingleCoil
const (
	coilOn  = 0xFF00
	coilOff = 0x0000
)

// ModbusConfig locates the relay module.
type ModbusConfig struct {
	Endpoint  string
	UnitID    uint8
	Timeout   time.Duration
	Interval  time.Duration
	Coil      uint16 // contactor drive output
	Feedback  uint16 // auxiliary contact input
	NoConfirm bool   // treat the commanded state as feedback
}

// Client is the subset of modbus.Client the relay worker uses.
type Client interface {
	WriteSingleCoil(address, value uint16) ([]byte, error)
	ReadDiscreteInputs(address, quantity uint16) ([]byte, error)
}

// Modbus drives a contactor through a Modbus TCP relay module. The control
// cycle only touches atomics; Run does the I/O.
type Modbus struct {
	log    logrus.FieldLogger
	cfg    ModbusConfig
	client Client

	command  atomic.Bool
	feedback atomic.Bool
	healthy  atomic.Bool

	close func() error
}

// DialModbus connects to the relay module.
func DialModbus(cfg ModbusConfig, log logrus.FieldLogger) (*Modbus, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("contactor: endpoint required")
	}

	h := modbus.NewTCPClientHandler(cfg.Endpoint)
	h.Timeout = cfg.Timeout
	h.SlaveId = cfg.UnitID
	if err := h.Connect(); err != nil {
		return nil, err
	}

	m := NewModbus(modbus.NewClient(h), cfg, log)
	m.close = h.Close
	return m, nil
}

// NewModbus creates a relay worker on an existing client.
func NewModbus(client Client, cfg ModbusConfig, log logrus.FieldLogger) *Modbus {
	if cfg.Interval <= 0 {
		cfg.Interval = 50 * time.Millisecond
	}
	return &Modbus{
		log:    log.WithFields(logrus.Fields{"component": "contactor", "endpoint": cfg.Endpoint}),
		cfg:    cfg,
		client: client,
	}
}

// SetClosed records the command; Run writes it on the next poll.
func (m *Modbus) SetClosed(closed bool) {
	m.command.Store(closed)
}

// Closed returns the last feedback read from the module. An unreachable
// module reads as open.
func (m *Modbus) Closed() bool {
	return m.healthy.Load() && m.feedback.Load()
}

// Healthy reports whether the last poll succeeded.
func (m *Modbus) Healthy() bool {
	return m.healthy.Load()
}

// PollOnce writes the command and reads back the feedback.
func (m *Modbus) PollOnce() error {
	cmd := m.command.Load()
	value := uint16(coilOff)
	if cmd {
		value = coilOn
	}
	if _, err := m.client.WriteSingleCoil(m.cfg.Coil, value); err != nil {
		m.setHealthy(false, err)
		return err
	}

	if m.cfg.NoConfirm {
		m.feedback.Store(cmd)
		m.setHealthy(true, nil)
		return nil
	}

	bits, err := m.client.ReadDiscreteInputs(m.cfg.Feedback, 1)
	if err != nil {
		m.setHealthy(false, err)
		return err
	}
	if len(bits) < 1 {
		err := errors.New("contactor: short discrete input response")
		m.setHealthy(false, err)
		return err
	}
	m.feedback.Store(bits[0]&0x01 != 0)
	m.setHealthy(true, nil)
	return nil
}

func (m *Modbus) setHealthy(ok bool, err error) {
	if m.healthy.Swap(ok) == ok {
		return
	}
	if ok {
		m.log.Info("relay module reachable")
	} else {
		m.log.WithError(err).Error("relay module unreachable")
	}
}

// Run polls the module until ctx is done. One poll per interval, no
// overlap, no retries within an interval.
func (m *Modbus) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = m.PollOnce()
		}
	}
}

// Start runs the poll worker in a goroutine. The returned stop function ends
// the worker, waits for it and then calls Close, so the open command has been
// written when stop returns.
func (m *Modbus) Start(ctx context.Context) (stop func() error) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()

	return func() error {
		cancel()
		<-done
		return m.Close()
	}
}

// Close opens the contactor on a best-effort basis and closes the
// connection.
func (m *Modbus) Close() error {
	m.command.Store(false)
	_, _ = m.client.WriteSingleCoil(m.cfg.Coil, coilOff)
	if m.close != nil {
		return m.close()
	}
	return nil
}
