// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package console is the operator command line. Lines are read by a
// goroutine into a buffer and executed by the control cycle.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/Thermoquad/cellwarden/pkg/bms"
	"github.com/Thermoquad/cellwarden/pkg/eeprom"
	"github.com/Thermoquad/cellwarden/pkg/errstatus"
)

// Output is the console-origin mode request.
type Output struct {
	ValidModeRequest bool
	ModeRequest      bms.Mode
	BalancemV        uint32
}

// View is the read-only state the status commands report on.
type View struct {
	SupervisorMode bms.Mode
	ArbitratedMode bms.Mode
	ChargeState    fmt.Stringer
	MonitorPhase   fmt.Stringer
	Config         *bms.PackConfig
	Status         *bms.PackStatus
	Faults         *errstatus.Aggregator
}

// ConfigStore is the persisted configuration used by the config command.
type ConfigStore interface {
	Load() (bms.PackConfig, eeprom.LoadResult, error)
	ChangeConfig(f eeprom.Field, v uint32) (bms.PackConfig, error)
}

const lineBuffer = 32

// Console parses operator commands and holds the resulting request.
type Console struct {
	log   logrus.FieldLogger
	w     io.Writer
	store ConfigStore
	lines chan string
	out   Output
}

// New creates a console that writes replies to w. store may be nil, in
// which case the config command is unavailable.
func New(w io.Writer, store ConfigStore, log logrus.FieldLogger) *Console {
	return &Console{
		log:   log.WithField("component", "console"),
		w:     w,
		store: store,
		lines: make(chan string, lineBuffer),
		out:   Output{ModeRequest: bms.Standby},
	}
}

// Output returns the current request.
func (c *Console) Output() Output {
	return c.out
}

// Feed queues a line. It never blocks; a full buffer drops the line.
func (c *Console) Feed(line string) bool {
	select {
	case c.lines <- line:
		return true
	default:
		c.log.Warn("console buffer full, dropping line")
		return false
	}
}

// ReadFrom queues lines from r until r fails or ctx is done.
func (c *Console) ReadFrom(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c.lines <- scanner.Text():
		}
	}
	return scanner.Err()
}

// Process executes every queued line and returns the request for this
// cycle.
func (c *Console) Process(v View) Output {
	for {
		select {
		case line := <-c.lines:
			c.Exec(line, v)
		default:
			return c.out
		}
	}
}

// Exec runs one command line.
func (c *Console) Exec(line string, v View) {
	args, err := shlex.Split(line)
	if err != nil {
		c.reply("error: %v", err)
		return
	}
	if len(args) == 0 {
		return
	}

	cmd, ok := commands[strings.ToLower(args[0])]
	if !ok {
		c.reply("unknown command %q (try help)", args[0])
		return
	}
	if err := cmd.run(c, args[1:], v); err != nil {
		c.reply("error: %v", err)
	}
}

func (c *Console) reply(format string, args ...interface{}) {
	if c.w == nil {
		return
	}
	fmt.Fprintf(c.w, format+"\n", args...)
}

type command struct {
	usage string
	help  string
	run   func(c *Console, args []string, v View) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"mode":   {"mode <standby|charge|balance|discharge>", "request an operating mode", cmdMode},
		"bal":    {"bal <mV>", "set the balance target voltage", cmdBal},
		"stop":   {"stop", "withdraw the console request", cmdStop},
		"config": {"config get|set <field> [value]", "read or change the stored configuration", cmdConfig},
		"faults": {"faults", "list fault latches", cmdFaults},
		"status": {"status", "show pack and controller state", cmdStatus},
		"help":   {"help", "list commands", cmdHelp},
	}
}

func cmdMode(c *Console, args []string, _ View) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", commands["mode"].usage)
	}
	m, err := bms.ParseMode(strings.ToLower(args[0]))
	if err != nil {
		return err
	}
	c.out.ValidModeRequest = true
	c.out.ModeRequest = m
	c.log.WithField("mode", m).Info("console mode request")
	c.reply("mode request: %s", m)
	return nil
}

func cmdBal(c *Console, args []string, _ View) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", commands["bal"].usage)
	}
	mv, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid voltage %q", args[0])
	}
	c.out.BalancemV = uint32(mv)
	c.reply("balance target: %d mV", mv)
	return nil
}

func cmdStop(c *Console, _ []string, _ View) error {
	c.out.ValidModeRequest = false
	c.out.ModeRequest = bms.Standby
	c.log.Info("console request withdrawn")
	c.reply("console request withdrawn")
	return nil
}

func cmdConfig(c *Console, args []string, v View) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: %s", commands["config"].usage)
	}

	switch args[0] {
	case "get":
		cfg := v.Config
		if len(args) == 1 {
			if cfg == nil {
				return fmt.Errorf("no configuration loaded")
			}
			for _, f := range eeprom.Fields() {
				c.reply("%-20s %d", f, f.Get(cfg))
			}
			return nil
		}
		f, err := eeprom.ParseField(args[1])
		if err != nil {
			return err
		}
		if c.store != nil {
			stored, _, err := c.store.Load()
			if err == nil {
				c.reply("%s = %d (active %d)", f, f.Get(&stored), activeValue(f, cfg))
				return nil
			}
		}
		if cfg == nil {
			return fmt.Errorf("no configuration loaded")
		}
		c.reply("%s = %d", f, f.Get(cfg))
		return nil

	case "set":
		if len(args) != 3 {
			return fmt.Errorf("usage: %s", commands["config"].usage)
		}
		if c.store == nil {
			return fmt.Errorf("no configuration store")
		}
		f, err := eeprom.ParseField(args[1])
		if err != nil {
			return err
		}
		val, err := strconv.ParseUint(args[2], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid value %q", args[2])
		}
		if _, err := c.store.ChangeConfig(f, uint32(val)); err != nil {
			return err
		}
		c.log.WithFields(logrus.Fields{"field": f, "value": val}).Info("configuration changed")
		c.reply("%s = %d saved, takes effect on restart", f, val)
		return nil
	}
	return fmt.Errorf("usage: %s", commands["config"].usage)
}

func activeValue(f eeprom.Field, cfg *bms.PackConfig) uint32 {
	if cfg == nil {
		return 0
	}
	return f.Get(cfg)
}

func cmdFaults(c *Console, _ []string, v View) error {
	if v.Faults == nil {
		return fmt.Errorf("no fault status")
	}
	for _, f := range errstatus.All {
		s := v.Faults.Status(f)
		state := "ok"
		if s.Asserted {
			state = "ASSERTED"
		}
		c.reply("%-14s %-8s count=%d since=%d", f, state, s.Count, s.Since)
	}
	return nil
}

func cmdStatus(c *Console, _ []string, v View) error {
	c.reply("mode: %s (arbitrated %s)", v.SupervisorMode, v.ArbitratedMode)
	if v.ChargeState != nil {
		c.reply("charge: %s", v.ChargeState)
	}
	if v.MonitorPhase != nil {
		c.reply("monitor: %s", v.MonitorPhase)
	}
	c.reply("request: valid=%t mode=%s bal=%d mV", c.out.ValidModeRequest, c.out.ModeRequest, c.out.BalancemV)
	if s := v.Status; s != nil {
		c.reply("cells: min=%d max=%d mV", s.PackCellMinmV, s.PackCellMaxmV)
		c.reply("pack: %d mV %d mA", s.PackVoltagemV, s.PackCurrentmA)
		if s.OpenWire.Valid {
			c.reply("open wire: module %d wire %d", s.OpenWire.Module, s.OpenWire.Wire)
		}
	}
	return nil
}

func cmdHelp(c *Console, _ []string, _ View) error {
	for _, name := range []string{"mode", "bal", "stop", "config", "faults", "status", "help"} {
		cmd := commands[name]
		c.reply("%-40s %s", cmd.usage, cmd.help)
	}
	return nil
}

// OpenSerial opens the console serial port.
func OpenSerial(portName string, baudRate int) (io.ReadWriteCloser, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	return port, nil
}
