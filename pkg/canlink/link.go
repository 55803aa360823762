// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package canlink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Link is a packet-level session with one gateway.
//
// A reader goroutine decodes the incoming byte stream. Ping responses are
// routed to Ping; every other packet is delivered on Packets.
type Link struct {
	log     logrus.FieldLogger
	conn    Connection
	address uint64

	packets chan *Packet
	pings   chan *Packet
	done    chan struct{}

	writeMu sync.Mutex

	mu    sync.Mutex
	stats *Statistics
	err   error

	closeOnce sync.Once
}

// NewLink starts a session over conn. Outgoing packets are addressed to
// address.
func NewLink(conn Connection, address uint64, log logrus.FieldLogger) *Link {
	l := &Link{
		log:     log.WithField("component", "canlink"),
		conn:    conn,
		address: address,
		packets: make(chan *Packet, 64),
		pings:   make(chan *Packet, 1),
		done:    make(chan struct{}),
		stats:   NewStatistics(),
	}
	go l.readLoop()
	return l
}

// Address returns the gateway address used for outgoing packets.
func (l *Link) Address() uint64 {
	return l.address
}

// Packets returns decoded packets. The channel is closed when the
// connection fails or the link is closed.
func (l *Link) Packets() <-chan *Packet {
	return l.packets
}

// Done is closed once the reader has stopped.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// Err returns the error that stopped the reader, if any.
func (l *Link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Stats returns a snapshot of the receive statistics.
func (l *Link) Stats() Statistics {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := *l.stats
	s.CalculateRates()
	return s
}

// Send encodes and writes p.
func (l *Link) Send(p *Packet) error {
	data, err := p.MarshalBinary()
	if err != nil {
		return err
	}

	select {
	case <-l.done:
		return ErrConnectionClosed
	default:
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if _, err := l.conn.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", FormatMessageType(p.Type()), err)
	}
	return nil
}

// Ping sends a PING_REQUEST and waits for the response. It returns the
// round trip time and the uptime reported by the gateway.
func (l *Link) Ping(ctx context.Context) (time.Duration, uint64, error) {
	// Drop a stale response from an earlier timed-out ping.
	select {
	case <-l.pings:
	default:
	}

	start := time.Now()
	if err := l.Send(NewPingRequest(l.address)); err != nil {
		return 0, 0, err
	}

	select {
	case p := <-l.pings:
		rtt := time.Since(start)
		uptime, err := p.Uptime()
		if err != nil {
			return rtt, 0, err
		}
		return rtt, uptime, nil
	case <-l.done:
		return 0, 0, ErrConnectionClosed
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	}
}

// Close closes the connection and waits for the reader to stop.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.conn.Close()
	})
	<-l.done
	return err
}

func (l *Link) readLoop() {
	defer close(l.done)
	defer close(l.packets)

	decoder := NewDecoder()
	buf := make([]byte, 256)
	for {
		n, err := l.conn.Read(buf)
		for i := 0; i < n; i++ {
			l.handleByte(decoder, buf[i])
		}
		if err != nil {
			l.mu.Lock()
			l.err = err
			l.mu.Unlock()
			l.log.WithError(err).Debug("reader stopped")
			return
		}
	}
}

func (l *Link) handleByte(decoder *Decoder, b byte) {
	packet, err := decoder.DecodeByte(b)
	if err != nil {
		l.mu.Lock()
		l.stats.Update(err, nil)
		l.mu.Unlock()
		l.log.WithError(err).Debug("decode error")
		return
	}
	if packet == nil {
		return
	}

	verrs := ValidatePacket(packet)
	l.mu.Lock()
	l.stats.Update(nil, verrs)
	l.mu.Unlock()
	for _, v := range verrs {
		l.log.WithField("type", FormatMessageType(packet.Type())).Warn(v.Message)
	}

	if packet.Type() == MsgPingResponse {
		select {
		case l.pings <- packet:
		default:
		}
		return
	}

	select {
	case l.packets <- packet:
	default:
		l.log.WithField("type", FormatMessageType(packet.Type())).Warn("receive queue full, dropping packet")
	}
}
