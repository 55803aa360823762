// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/cellwarden/pkg/board"
	"github.com/Thermoquad/cellwarden/pkg/console"
	"github.com/Thermoquad/cellwarden/pkg/contactor"
	"github.com/Thermoquad/cellwarden/pkg/eeprom"
	"github.com/Thermoquad/cellwarden/pkg/ltc6804/sim"
	"github.com/Thermoquad/cellwarden/pkg/telemetry"
	"github.com/Thermoquad/cellwarden/pkg/tick"
)

var (
	runPeriod      time.Duration
	runCellmV      uint32
	runConsole     string
	runConsoleBaud int
	runSettleTicks uint32

	relayEndpoint  string
	relayUnit      uint8
	relayCoil      uint16
	relayFeedback  uint16
	relayNoConfirm bool
	relayInterval  time.Duration

	redisAddr     string
	redisInterval time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pack control loop",
	Long: `Run the control cycle against the selected CAN access, console, contactor
relay module and Redis telemetry.

The cell monitor front end is simulated; every cell reports --sim-cell-mv
until changed. Without --relay the contactors are simulated with a settle
delay of --settle ticks.

Console:
  --console -              read commands from stdin (default)
  --console /dev/ttyUSB1   operator console on a serial port
  --console ""             no console`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().DurationVar(&runPeriod, "period", time.Millisecond, "Control cycle period")
	runCmd.Flags().Uint32Var(&runCellmV, "sim-cell-mv", 3300, "Simulated cell voltage")
	runCmd.Flags().StringVar(&runConsole, "console", "-", "Console source")
	runCmd.Flags().IntVar(&runConsoleBaud, "console-baud", 115200, "Console serial baud rate")
	runCmd.Flags().Uint32Var(&runSettleTicks, "settle", 50, "Simulated contactor settle time in ticks")

	runCmd.Flags().StringVar(&relayEndpoint, "relay", "", "Modbus TCP contactor relay module (host:port)")
	runCmd.Flags().Uint8Var(&relayUnit, "relay-unit", 1, "Relay module unit ID")
	runCmd.Flags().Uint16Var(&relayCoil, "relay-coil", 0, "Contactor drive coil address")
	runCmd.Flags().Uint16Var(&relayFeedback, "relay-feedback", 0, "Auxiliary contact discrete input address")
	runCmd.Flags().BoolVar(&relayNoConfirm, "relay-no-confirm", false, "Treat the commanded state as feedback")
	runCmd.Flags().DurationVar(&relayInterval, "relay-interval", 50*time.Millisecond, "Relay poll interval")

	runCmd.Flags().StringVar(&redisAddr, "redis", "", "Redis address for telemetry (host:port)")
	runCmd.Flags().DurationVar(&redisInterval, "redis-interval", 250*time.Millisecond, "Telemetry publish interval")
}

func runRun(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := eeprom.NewStore(eeprom.File{Path: eepromPath}, log)
	cfg, err := loadPackConfig(store, log)
	if err != nil {
		return err
	}

	transport, info, err := openTransport(log)
	if err != nil {
		return err
	}
	defer transport.Close()
	log.WithField("can", info).Info("CAN access open")

	clock := tick.NewCounter(0)
	go clock.Run(ctx, time.Millisecond)

	cells := make([]uint32, cfg.TotalCells())
	for i := range cells {
		cells[i] = runCellmV
	}

	relay, stopRelay, err := openContactor(ctx, clock, log)
	if err != nil {
		return err
	}
	defer stopRelay()

	con, err := openConsole(ctx, store, log)
	if err != nil {
		return err
	}

	var pub *telemetry.Publisher
	if redisAddr != "" {
		client, err := telemetry.Dial(ctx, redisAddr)
		if err != nil {
			return err
		}
		defer client.Close()
		pub = telemetry.New(client, log)
		go pub.Run(ctx, redisInterval)
	}

	b, err := board.New(board.Parts{
		Config:    cfg,
		Monitor:   sim.New(2, cells...),
		Transport: transport,
		Contactor: relay,
		Console:   con,
		Telemetry: pub,
	}, clock, log)
	if err != nil {
		return err
	}

	err = b.Run(ctx, runPeriod)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// openContactor returns the contactor and a stop function that must run
// before the process exits. For the relay module stop returns only after the
// open command has been written.
func openContactor(ctx context.Context, clock tick.Source, log logrus.FieldLogger) (contactor.Contactor, func(), error) {
	if relayEndpoint == "" {
		log.WithField("settle", runSettleTicks).Info("using simulated contactors")
		return contactor.NewSim(clock, runSettleTicks), func() {}, nil
	}

	relay, err := contactor.DialModbus(contactor.ModbusConfig{
		Endpoint:  relayEndpoint,
		UnitID:    relayUnit,
		Timeout:   time.Second,
		Interval:  relayInterval,
		Coil:      relayCoil,
		Feedback:  relayFeedback,
		NoConfirm: relayNoConfirm,
	}, log)
	if err != nil {
		return nil, nil, err
	}
	stop := relay.Start(ctx)
	return relay, func() {
		if err := stop(); err != nil {
			log.WithError(err).Warn("relay close")
		}
	}, nil
}

func openConsole(ctx context.Context, store console.ConfigStore, log logrus.FieldLogger) (*console.Console, error) {
	var (
		r io.Reader
		w io.Writer
	)
	switch runConsole {
	case "":
		return nil, nil
	case "-":
		r, w = os.Stdin, os.Stdout
	default:
		port, err := console.OpenSerial(runConsole, runConsoleBaud)
		if err != nil {
			return nil, err
		}
		go func() {
			<-ctx.Done()
			port.Close()
		}()
		r, w = port, port
	}

	con := console.New(w, store, log)
	go func() {
		if err := con.ReadFrom(ctx, r); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Warn("console input closed")
		}
	}()
	return con, nil
}
