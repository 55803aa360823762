// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/Thermoquad/cellwarden/pkg/canbus"
	"github.com/Thermoquad/cellwarden/pkg/canlink"
)

var errNoCANAccess = errors.New("one of --can, --port or --url must be specified")

// getPassword retrieves the gateway password from the environment or
// prompts for it
func getPassword() (string, error) {
	if pw := os.Getenv("CELLWARDEN_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal, read a plain line
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// openConnection opens the gateway byte stream selected by the flags
func openConnection() (canlink.Connection, string, error) {
	if wsURL != "" {
		password := ""
		if wsUsername != "" {
			var err error
			password, err = getPassword()
			if err != nil {
				return nil, "", err
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		conn, err := canlink.OpenWebSocket(ctx, wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if portName != "" {
		conn, err := canlink.OpenSerial(portName, baudRate)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}

	return nil, "", errNoCANAccess
}

// openTransport opens the CAN transport used by the control cycle
func openTransport(log logrus.FieldLogger) (canbus.Transport, string, error) {
	if canIface != "" {
		t, err := canbus.OpenSocketCAN(canIface, log)
		if err != nil {
			return nil, "", err
		}
		return t, fmt.Sprintf("SocketCAN: %s", canIface), nil
	}

	conn, info, err := openConnection()
	if err != nil {
		return nil, "", err
	}
	link := canlink.NewLink(conn, canlink.AddressBroadcast, log)
	return canbus.NewLinkTransport(link, log), info, nil
}
