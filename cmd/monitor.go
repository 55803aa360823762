// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/cellwarden/pkg/board"
	"github.com/Thermoquad/cellwarden/pkg/canbus"
	"github.com/Thermoquad/cellwarden/pkg/console"
	"github.com/Thermoquad/cellwarden/pkg/contactor"
	"github.com/Thermoquad/cellwarden/pkg/eeprom"
	"github.com/Thermoquad/cellwarden/pkg/ltc6804/sim"
	"github.com/Thermoquad/cellwarden/pkg/tick"
)

var (
	monitorCellmV uint32
	monitorPeriod time.Duration
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the controller against a simulated pack with a live dashboard",
	Long: `Run the full control cycle in-process against a simulated cell monitor,
NLG5 charger and vehicle controller, and show the result in a dashboard.

The configuration comes from --eeprom. Console commands can be typed into
the command line at the bottom (press tab to focus it), and single keys
drive the simulated plant: toggle the vehicle heartbeat, request discharge,
inject a charger error or an open sense wire.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().Uint32Var(&monitorCellmV, "sim-cell-mv", 3300, "Initial simulated cell voltage")
	monitorCmd.Flags().DurationVar(&monitorPeriod, "period", time.Millisecond, "Control cycle period")
}

// eventEntry is one line of the dashboard event log
type eventEntry struct {
	timestamp time.Time
	level     logrus.Level
	message   string
}

// eventHook forwards log entries to the dashboard
type eventHook struct {
	events chan<- eventEntry
}

func (h *eventHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *eventHook) Fire(e *logrus.Entry) error {
	msg := e.Message
	if len(e.Data) > 0 {
		var b strings.Builder
		b.WriteString(msg)
		for k, v := range e.Data {
			if k == "component" {
				continue
			}
			fmt.Fprintf(&b, " %s=%v", k, v)
		}
		msg = b.String()
		if c, ok := e.Data["component"]; ok {
			msg = fmt.Sprintf("[%v] %s", c, msg)
		}
	}
	select {
	case h.events <- eventEntry{timestamp: e.Time, level: e.Level, message: msg}:
	default:
	}
	return nil
}

// lineWriter turns console replies into dashboard events
type lineWriter struct {
	events chan<- eventEntry
}

func (w *lineWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		select {
		case w.events <- eventEntry{timestamp: time.Now(), level: logrus.InfoLevel, message: "> " + line}:
		default:
		}
	}
	return len(p), nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	events := make(chan eventEntry, 256)
	log.SetOutput(io.Discard)
	log.AddHook(&eventHook{events: events})

	store := eeprom.NewStore(eeprom.File{Path: eepromPath}, log)
	cfg, err := loadPackConfig(store, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := tick.NewCounter(0)
	go clock.Run(ctx, time.Millisecond)

	cells := make([]uint32, cfg.TotalCells())
	for i := range cells {
		cells[i] = monitorCellmV + uint32(i%4)*5
	}
	drv := sim.New(2, cells...)

	local, peer := canbus.NewLoopbackPair()
	pl := newPlant(peer, drv)
	go pl.run(ctx)

	con := console.New(&lineWriter{events: events}, store, log)

	b, err := board.New(board.Parts{
		Config:    cfg,
		Monitor:   drv,
		Transport: local,
		Contactor: contactor.NewSim(clock, 50),
		Console:   con,
	}, clock, log)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, monitorPeriod) }()

	m := newMonitorModel(b, con, pl, drv, events)
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}

	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
