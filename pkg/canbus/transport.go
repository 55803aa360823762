// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package canbus

import (
	"errors"
	"fmt"
	"sync"

	"github.com/brutella/can"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/cellwarden/pkg/canlink"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport closed")

// Transport moves raw CAN frames. Frames is the receive buffer drained by
// the control cycle; Send must not block for long.
type Transport interface {
	Send(f can.Frame) error
	Frames() <-chan can.Frame
	Close() error
}

// Resetter is implemented by transports that can reinitialise the
// underlying peripheral after a send failure.
type Resetter interface {
	Reset() error
}

const rxBuffer = 256

// SocketCAN is a Transport on a Linux CAN interface.
type SocketCAN struct {
	log    logrus.FieldLogger
	iface  string
	frames chan can.Frame

	mu  sync.Mutex
	bus *can.Bus
}

// OpenSocketCAN opens the named interface (e.g. can0) and starts receiving.
func OpenSocketCAN(iface string, log logrus.FieldLogger) (*SocketCAN, error) {
	s := &SocketCAN{
		log:    log.WithFields(logrus.Fields{"component": "socketcan", "iface": iface}),
		iface:  iface,
		frames: make(chan can.Frame, rxBuffer),
	}
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SocketCAN) connect() error {
	bus, err := can.NewBusForInterfaceWithName(s.iface)
	if err != nil {
		return fmt.Errorf("open CAN interface %s: %w", s.iface, err)
	}
	bus.SubscribeFunc(s.handle)

	s.mu.Lock()
	s.bus = bus
	s.mu.Unlock()

	go func() {
		if err := bus.ConnectAndPublish(); err != nil {
			s.log.WithError(err).Warn("CAN receive loop stopped")
		}
	}()
	return nil
}

func (s *SocketCAN) handle(f can.Frame) {
	select {
	case s.frames <- f:
	default:
		s.log.WithField("id", fmt.Sprintf("0x%03X", f.ID)).Warn("receive buffer full, dropping frame")
	}
}

// Send publishes f on the bus.
func (s *SocketCAN) Send(f can.Frame) error {
	s.mu.Lock()
	bus := s.bus
	s.mu.Unlock()
	if bus == nil {
		return ErrClosed
	}
	return bus.Publish(f)
}

// Frames returns received frames.
func (s *SocketCAN) Frames() <-chan can.Frame {
	return s.frames
}

// Reset reopens the interface.
func (s *SocketCAN) Reset() error {
	s.mu.Lock()
	bus := s.bus
	s.bus = nil
	s.mu.Unlock()
	if bus != nil {
		bus.Disconnect()
	}
	return s.connect()
}

// Close disconnects from the bus.
func (s *SocketCAN) Close() error {
	s.mu.Lock()
	bus := s.bus
	s.bus = nil
	s.mu.Unlock()
	if bus == nil {
		return nil
	}
	return bus.Disconnect()
}

// LinkTransport carries CAN frames through a byte-stream gateway.
type LinkTransport struct {
	log    logrus.FieldLogger
	link   *canlink.Link
	frames chan can.Frame
}

// NewLinkTransport forwards CAN_FRAME packets from link as frames.
func NewLinkTransport(link *canlink.Link, log logrus.FieldLogger) *LinkTransport {
	t := &LinkTransport{
		log:    log.WithField("component", "linktransport"),
		link:   link,
		frames: make(chan can.Frame, rxBuffer),
	}
	go t.forward()
	return t
}

func (t *LinkTransport) forward() {
	defer close(t.frames)
	for p := range t.link.Packets() {
		switch p.Type() {
		case canlink.MsgCANFrame:
			f, err := p.Frame()
			if err != nil {
				t.log.WithError(err).Warn("bad CAN_FRAME")
				continue
			}
			select {
			case t.frames <- f:
			default:
				t.log.Warn("receive buffer full, dropping frame")
			}
		case canlink.MsgBusStatus:
			st, err := p.BusStatus()
			if err != nil {
				t.log.WithError(err).Warn("bad BUS_STATUS")
				continue
			}
			if *st.State != canlink.BusErrorActive {
				t.log.WithFields(logrus.Fields{
					"state":     *st.State,
					"tx_errors": st.TxErrors,
					"rx_errors": st.RxErrors,
				}).Warn("gateway bus degraded")
			}
		}
	}
}

// Send asks the gateway to transmit f.
func (t *LinkTransport) Send(f can.Frame) error {
	return t.link.Send(canlink.NewCANSend(t.link.Address(), f))
}

// Frames returns frames received by the gateway.
func (t *LinkTransport) Frames() <-chan can.Frame {
	return t.frames
}

// Close closes the gateway link.
func (t *LinkTransport) Close() error {
	return t.link.Close()
}

// Loopback is one end of an in-memory bus.
type Loopback struct {
	rx   chan can.Frame
	peer *Loopback

	mu      sync.Mutex
	closed  bool
	sendErr error
}

// NewLoopbackPair returns two connected in-memory transports. Frames sent on
// one are received on the other.
func NewLoopbackPair() (*Loopback, *Loopback) {
	a := &Loopback{rx: make(chan can.Frame, rxBuffer)}
	b := &Loopback{rx: make(chan can.Frame, rxBuffer)}
	a.peer, b.peer = b, a
	return a, b
}

// FailSends makes every Send return err until called with nil.
func (l *Loopback) FailSends(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sendErr = err
}

// Send delivers f to the peer. Frames are dropped when the peer buffer is
// full, as on a real bus with nobody reading.
func (l *Loopback) Send(f can.Frame) error {
	l.mu.Lock()
	closed, err := l.closed, l.sendErr
	l.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err != nil {
		return err
	}
	select {
	case l.peer.rx <- f:
	default:
	}
	return nil
}

// Frames returns frames sent by the peer.
func (l *Loopback) Frames() <-chan can.Frame {
	return l.rx
}

// Close stops sending. The receive channel stays open so a late peer send
// cannot panic.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
