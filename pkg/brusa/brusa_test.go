// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package brusa

import (
	"io"
	"testing"

	"github.com/brutella/can"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/cellwarden/pkg/bms"
	"github.com/Thermoquad/cellwarden/pkg/errstatus"
	"github.com/Thermoquad/cellwarden/pkg/tick"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestEncodeControl(t *testing.T) {
	f := EncodeControl(Control{
		Enable:     true,
		ClearError: true,
		MaxMainscA: 1000,
		OutputmV:   14400,
		OutputcA:   100,
	})

	if f.ID != ControlID {
		t.Errorf("ID = 0x%X, want 0x%X", f.ID, ControlID)
	}
	want := [8]uint8{0xC0, 0x00, 0x64, 0x00, 0x90, 0x00, 0x0A, 0x00}
	if f.Data != want {
		t.Errorf("Data = % X, want % X", f.Data, want)
	}

	got, ok := DecodeControl(f)
	if !ok {
		t.Fatal("DecodeControl failed")
	}
	if !got.Enable || !got.ClearError || got.Ventilation {
		t.Errorf("flags = %+v", got)
	}
	if got.OutputmV != 14400 || got.OutputcA != 100 || got.MaxMainscA != 1000 {
		t.Errorf("values = %+v", got)
	}
}

func TestDecodeActI(t *testing.T) {
	f := EncodeActI(ActI{MainscA: 1200, MainsdV: 2300, OutputmV: 14350, OutputcA: 95})
	a, ok := DecodeActI(f)
	if !ok {
		t.Fatal("DecodeActI failed")
	}
	if a.OutputmV != 14350 || a.OutputcA != 95 || a.MainscA != 1200 || a.MainsdV != 2300 {
		t.Errorf("got %+v", a)
	}

	f.Length = 4
	if _, ok := DecodeActI(f); ok {
		t.Error("short frame decoded")
	}
}

func TestDecodeErr(t *testing.T) {
	tests := []struct {
		name    string
		frame   can.Frame
		wantErr bool
		wantOK  bool
	}{
		{"clear", EncodeErr(0, 0), false, true},
		{"warning only", EncodeErr(0, 0x04), false, true},
		{"error", EncodeErr(0x00010000, 0), true, true},
		{"wrong id", can.Frame{ID: StatusID, Length: 5}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, hasErr, ok := DecodeErr(tt.frame)
			if hasErr != tt.wantErr || ok != tt.wantOK {
				t.Errorf("DecodeErr = (%v, %v), want (%v, %v)", hasErr, ok, tt.wantErr, tt.wantOK)
			}
		})
	}
}

func TestControl_NoMessageWhenOff(t *testing.T) {
	d := NewDriver(errstatus.New(), quietLogger())

	_, send, on := d.Control(bms.ChargeRequest{}, 1000)
	if send || on {
		t.Errorf("send=%v on=%v, want false/false", send, on)
	}
}

func TestControl_Pacing(t *testing.T) {
	d := NewDriver(errstatus.New(), quietLogger())
	req := bms.ChargeRequest{ChargerOn: true, ChargeVoltagemV: 14400, ChargeCurrentmA: 1000}

	ctl, send, on := d.Control(req, 0)
	if !send || !on {
		t.Fatalf("first call send=%v on=%v", send, on)
	}
	if ctl.OutputcA != 100 || ctl.OutputmV != 14400 || ctl.MaxMainscA != MaxMainscA || !ctl.Enable || ctl.Ventilation {
		t.Errorf("ctl = %+v", ctl)
	}

	sent := 0
	for now := tick.Tick(1); now <= 1000; now++ {
		if _, send, on := d.Control(req, now); send {
			sent++
		} else if !on {
			t.Fatalf("tick %d: charger_on dropped between messages", now)
		}
	}
	// One every 99 ticks: 99, 198, ... 990.
	if sent != 10 {
		t.Errorf("sent %d messages in 1000 ticks, want 10", sent)
	}

	if _, _, on := d.Control(bms.ChargeRequest{}, 1001); on {
		t.Error("charger_on stays true after request withdrawn")
	}
}

func TestControl_ClearErrorHandshake(t *testing.T) {
	faults := errstatus.New()
	d := NewDriver(faults, quietLogger())
	req := bms.ChargeRequest{ChargerOn: true, ChargeVoltagemV: 14400, ChargeCurrentmA: 1000}

	var bits []bool
	now := tick.Tick(0)
	for i := 0; i < 4; i++ {
		faults.Assert(errstatus.Charger, now)
		ctl, send, on := d.Control(req, now)
		if !send {
			t.Fatalf("message %d not sent", i)
		}
		if on {
			t.Errorf("message %d: charger_on true while handling", i)
		}
		if ctl.OutputmV != 0 || ctl.OutputcA != 0 {
			t.Errorf("message %d: outputs not zeroed: %+v", i, ctl)
		}
		bits = append(bits, ctl.ClearError)
		now += ControlInterval
	}

	want := []bool{true, false, true, false}
	for i := range want {
		if bits[i] != want[i] {
			t.Errorf("clear bits = %v, want %v", bits, want)
			break
		}
	}

	faults.Pass(errstatus.Charger)
	ctl, _, on := d.Control(req, now)
	if !on || ctl.ClearError || ctl.OutputcA != 100 {
		t.Errorf("after pass: on=%v ctl=%+v", on, ctl)
	}
}

func TestHandleFrame_ActI(t *testing.T) {
	d := NewDriver(errstatus.New(), quietLogger())
	cfg := bms.DefaultConfig()
	st := bms.NewPackStatus(&cfg)

	if !d.HandleFrame(EncodeActI(ActI{OutputmV: 14000, OutputcA: 98}), false, st, 0) {
		t.Fatal("ACT_I not handled")
	}
	if st.PackCurrentmA != 980 || st.PackVoltagemV != 14000 {
		t.Errorf("pack = %d mA %d mV", st.PackCurrentmA, st.PackVoltagemV)
	}

	if d.HandleFrame(can.Frame{ID: 0x123}, false, st, 0) {
		t.Error("foreign frame claimed")
	}
}

func TestHandleFrame_ErrOnlyWhileCharging(t *testing.T) {
	faults := errstatus.New()
	d := NewDriver(faults, quietLogger())
	cfg := bms.DefaultConfig()
	st := bms.NewPackStatus(&cfg)

	d.HandleFrame(EncodeErr(1, 0), false, st, 10)
	if faults.Asserted(errstatus.Charger) {
		t.Error("error latched while charger not requested")
	}

	d.HandleFrame(EncodeErr(1, 0), true, st, 11)
	d.HandleFrame(EncodeErr(1, 0), true, st, 12)
	s := faults.Status(errstatus.Charger)
	if !s.Asserted || s.Count != 2 {
		t.Errorf("status = %+v", s)
	}

	d.HandleFrame(EncodeErr(0, 0), true, st, 13)
	if faults.Asserted(errstatus.Charger) {
		t.Error("clean error frame did not pass the fault")
	}
}
