// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package canlink

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/brutella/can"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

// fakeGateway answers pings and echoes CAN_SEND as CAN_FRAME.
func fakeGateway(t *testing.T, conn net.Conn, uptime uint64) {
	t.Helper()
	go func() {
		d := NewDecoder()
		buf := make([]byte, 64)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			for _, b := range buf[:n] {
				p, err := d.DecodeByte(b)
				if err != nil || p == nil {
					continue
				}
				var reply *Packet
				switch p.Type() {
				case MsgPingRequest:
					reply = NewPingResponse(p.Address(), uptime)
				case MsgCANSend:
					f, err := p.Frame()
					if err != nil {
						continue
					}
					reply = NewCANFrame(p.Address(), f)
				}
				if reply == nil {
					continue
				}
				wire, err := reply.MarshalBinary()
				if err != nil {
					return
				}
				if _, err := conn.Write(wire); err != nil {
					return
				}
			}
		}
	}()
}

func TestLink_Ping(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	host, gw := net.Pipe()
	fakeGateway(t, gw, 61000)

	link := NewLink(host, AddressStateless, log)
	defer link.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rtt, uptime, err := link.Ping(ctx)
	if err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if uptime != 61000 {
		t.Errorf("uptime = %d, want 61000", uptime)
	}
	if rtt <= 0 {
		t.Errorf("rtt = %v", rtt)
	}
}

func TestLink_SendReceiveFrame(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	host, gw := net.Pipe()
	fakeGateway(t, gw, 0)

	link := NewLink(host, 0x42, log)
	defer link.Close()

	frame := can.Frame{ID: 0x618, Length: 3, Data: [8]uint8{1, 2, 3}}
	if err := link.Send(NewCANSend(link.Address(), frame)); err != nil {
		t.Fatal(err)
	}

	select {
	case p := <-link.Packets():
		f, err := p.Frame()
		if err != nil {
			t.Fatal(err)
		}
		if f != frame {
			t.Errorf("frame = %+v, want %+v", f, frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}

	if s := link.Stats(); s.ValidPackets != 1 {
		t.Errorf("ValidPackets = %d, want 1", s.ValidPackets)
	}
}

func TestLink_ClosedConnection(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	host, gw := net.Pipe()
	link := NewLink(host, 1, log)

	gw.Close()
	select {
	case <-link.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not stop")
	}
	if link.Err() == nil {
		t.Error("expected reader error")
	}
	if _, ok := <-link.Packets(); ok {
		t.Error("packets channel should be closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, _, err := link.Ping(ctx); err == nil {
		t.Error("ping on closed link should fail")
	}
	link.Close()
}
