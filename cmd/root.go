// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Gateway link flags, serial
	portName string
	baudRate int

	// Gateway link flags, WebSocket
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// SocketCAN interface, preferred over the gateway link when set
	canIface string

	eepromPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "cellwarden",
	Short: "Battery management supervisory controller",
	Long: `Cellwarden - supervisory control for a series-connected lithium pack.

Runs the pack control cycle (cell monitor, mode arbitration, charge and
balance state machines, NLG5 charger and vehicle CAN) and provides tools for
inspecting the CAN side and the persisted pack configuration.

CAN access:
  SocketCAN: --can can0
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the
CELLWARDEN_PASSWORD environment variable, or prompted interactively if not
set. The --password flag is intentionally not provided to avoid leaking
credentials in shell history.`,
	Version:       "0.3.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&canIface, "can", "", "SocketCAN interface")

	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "CAN gateway serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "CAN gateway WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVar(&eepromPath, "eeprom", "cellwarden.eeprom", "Persisted configuration image")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
}

// newLogger builds the process logger from the persistent flags.
func newLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level: %w", err)
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	return log, nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
