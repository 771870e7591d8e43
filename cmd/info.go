// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Edward GCB

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/EdwardGCB/expo-usb-conected/pkg/freestyle"
)

var (
	infoTimeout int
	infoStats   bool
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Connect to a meter and report its identity and clock",
	Long: `Connect to the meter, run the initialization handshake and query the
serial number, date and time. The meter clock is compared against the
host clock; a skew above 5 minutes is flagged. The meter is never
adjusted.

Examples:
  # Meter on USB
  optium info

  # Meter behind a bridge, with session statistics
  optium info --url ws://bridge.local/device --stats

Exit codes:
  0 - Identity read
  1 - Protocol error after connecting
  2 - Connection error`,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().IntVar(&infoTimeout, "timeout", 120, "Overall timeout in seconds")
	infoCmd.Flags().BoolVar(&infoStats, "stats", false, "Print session statistics")
}

func runInfo(cmd *cobra.Command, args []string) error {
	transport, connInfo, err := OpenTransport()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Optium - Meter Info\n")
	fmt.Printf("Connection: %s\n\n", connInfo)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(infoTimeout)*time.Second)
	defer cancel()

	session := freestyle.NewSession(transport,
		freestyle.WithLogger(appLog),
		freestyle.WithProgress(printProgress),
	)
	defer session.Disconnect()

	if err := session.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	info, err := session.DeviceInfo(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Protocol error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nSerial number: %s\n", info.SerialNumber)
	fmt.Printf("Meter clock:   %s\n", info.DeviceTime.Format("2006-01-02 15:04"))
	fmt.Printf("Clock skew:    %s\n", info.ClockSkew)
	if info.NeedsSync {
		fmt.Printf("WARNING: meter clock is more than 5 minutes off; set it before relying on timestamps\n")
	}

	if infoStats {
		fmt.Printf("\n%s", session.Statistics().String())
	}
	return nil
}

// printProgress renders session progress on stdout.
func printProgress(p freestyle.Progress) {
	fmt.Printf("[%d/%d] %s\n", p.Step, p.Total, p.Message)
}
