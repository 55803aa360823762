// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cellwarden/pkg/canlink"
)

var (
	linkPingTimeout int
	linkPingCount   int
)

var linkPingCmd = &cobra.Command{
	Use:   "link_ping",
	Short: "Test the CAN gateway link by sending PING_REQUEST",
	Long: `Send PING_REQUEST packets to the CAN gateway and wait for PING_RESPONSE.

The gateway answers pings itself without touching the CAN bus, so this
verifies the link independently of bus traffic:
  - the serial port or WebSocket connection is established
  - HTTP Basic authentication works (WebSocket)
  - the gateway is processing packets in both directions

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runLinkPing,
}

func init() {
	rootCmd.AddCommand(linkPingCmd)
	linkPingCmd.Flags().IntVar(&linkPingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	linkPingCmd.Flags().IntVar(&linkPingCount, "count", 3, "Number of pings to send")
}

func runLinkPing(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}

	conn, connInfo, err := openConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	link := canlink.NewLink(conn, canlink.AddressStateless, logger)
	defer link.Close()

	// Drain everything that is not a ping response
	go func() {
		for range link.Packets() {
		}
	}()

	fmt.Printf("Cellwarden - Gateway Ping Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per ping\n", linkPingTimeout)
	fmt.Printf("Count: %d pings\n\n", linkPingCount)

	successCount := 0
	failCount := 0

	for i := 1; i <= linkPingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, linkPingCount)

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(linkPingTimeout)*time.Second)
		rtt, uptime, err := link.Ping(ctx)
		cancel()

		switch {
		case err == nil:
			up := time.Duration(uptime) * time.Millisecond
			fmt.Printf("PONG from gateway, uptime=%s, rtt=%v\n", up.Round(time.Second), rtt.Round(time.Millisecond))
			successCount++
		case errors.Is(err, context.DeadlineExceeded):
			fmt.Printf("TIMEOUT (no response in %ds)\n", linkPingTimeout)
			failCount++
		default:
			fmt.Printf("FAILED: %v\n", err)
			failCount++
		}

		if i < linkPingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% packet loss\n",
		linkPingCount, successCount, float64(failCount)/float64(linkPingCount)*100)

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
