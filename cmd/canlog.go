// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/brutella/can"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/cellwarden/pkg/canbus"
	"github.com/Thermoquad/cellwarden/pkg/canlink"
)

var canLogShowStats bool

var canLogCmd = &cobra.Command{
	Use:   "canlog",
	Short: "Display CAN traffic in human-readable format",
	Long: `Continuously decode and display CAN traffic as it arrives.

With a gateway link (--port or --url) every gateway packet is shown with its
timestamp, message type and payload, followed by the decoded charger or
vehicle message for CAN frames. With --can the SocketCAN frames are shown
directly.`,
	RunE: runCanLog,
}

func init() {
	rootCmd.AddCommand(canLogCmd)
	canLogCmd.Flags().BoolVar(&canLogShowStats, "stats", false, "Print link statistics on exit")
}

func runCanLog(cmd *cobra.Command, args []string) error {
	if canIface != "" {
		return runCanLogSocketCAN()
	}

	conn, connInfo, err := openConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Cellwarden - CAN Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stats := canlink.NewStatistics()
	if canLogShowStats {
		defer func() {
			stats.CalculateRates()
			fmt.Print(stats.String())
		}()
		go func() {
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt)
			<-sig
			conn.Close()
		}()
	}

	decoder := canlink.NewDecoder()
	buf := make([]byte, 128)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, canlink.ErrConnectionClosed) || canLogShowStats {
				log.Printf("Connection closed")
				return nil
			}
			log.Printf("Read error: %v", err)
			continue
		}

		for i := 0; i < n; i++ {
			packet, err := decoder.DecodeByte(buf[i])
			if err != nil {
				stats.Update(err, nil)
				fmt.Printf("[ERROR] %v\n", err)
				continue
			}
			if packet == nil {
				continue
			}

			verrs := canlink.ValidatePacket(packet)
			stats.Update(nil, verrs)

			fmt.Print(canlink.FormatPacket(packet))
			for _, v := range verrs {
				fmt.Printf("  [ANOMALY] %s\n", v.Message)
			}
			if packet.Type() == canlink.MsgCANFrame {
				if f, err := packet.Frame(); err == nil {
					fmt.Printf("  %s\n", describeFrame(f))
				}
			}
		}
	}
}

func runCanLogSocketCAN() error {
	logger, err := newLogger()
	if err != nil {
		return err
	}

	t, err := canbus.OpenSocketCAN(canIface, logger)
	if err != nil {
		return err
	}
	defer t.Close()

	fmt.Printf("Cellwarden - CAN Log\n")
	fmt.Printf("Interface: %s\n", canIface)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-t.Frames():
			if !ok {
				return nil
			}
			fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05.000"), formatFrame(f))
			fmt.Printf("  %s\n", describeFrame(f))
		}
	}
}

func formatFrame(f can.Frame) string {
	n := int(f.Length)
	if n > len(f.Data) {
		n = len(f.Data)
	}
	return fmt.Sprintf("%03X [%d] % X", f.ID, f.Length, f.Data[:n])
}
