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
	probeTimeout int
	probeOpcodes []string
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Exercise the wire against a possibly stuck meter",
	Long: `Send individual control frames and report what comes back, without
running the full session handshake. Useful when a meter stopped
answering mid-session and you want to see which layer is dead.

Steps performed:
  1. Wake-up frame (opcode 0x00), best effort
  2. Drain read: anything the meter left in its buffer
  3. One frame per --opcode (default: the soft-init pair 0x00, 0x04),
     each followed by a bounded read

Examples:
  # Default soft-init probe
  optium probe

  # Walk the full init sequence by hand
  optium probe --opcode 04 --opcode 05 --opcode 15 --opcode 01 --opcode 00

Exit codes:
  0 - All probe writes accepted
  1 - At least one probe write rejected
  2 - Connection error`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 30, "Overall timeout in seconds")
	probeCmd.Flags().StringArrayVar(&probeOpcodes, "opcode", []string{"00", "04"}, "Hex opcode to probe (repeatable)")
}

func runProbe(cmd *cobra.Command, args []string) error {
	transport, connInfo, err := OpenTransport()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Optium - Wire Probe\n")
	fmt.Printf("Connection: %s\n\n", connInfo)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(probeTimeout)*time.Second)
	defer cancel()

	if err := transport.Open(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer transport.Close()

	if err := transport.ClaimInterface(0); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	rejected := 0

	// Step 1: wake the meter, tolerating a rejected write.
	fmt.Printf("Wake-up frame: ")
	wake, _ := freestyle.NewControlFrame(freestyle.OpAck, nil)
	if n, err := transport.Write(ctx, wake.Bytes()); err != nil || n < freestyle.FrameSize {
		fmt.Printf("REJECTED (n=%d, err=%v)\n", n, err)
	} else {
		fmt.Printf("accepted\n")
	}

	// Step 2: drain whatever the meter buffered.
	fmt.Printf("Drain read:    ")
	if data, err := transport.Read(ctx, 2*time.Second); err != nil {
		fmt.Printf("ERROR: %v\n", err)
	} else if len(data) == 0 {
		fmt.Printf("empty\n")
	} else {
		fmt.Printf("%d bytes: % X\n", len(data), data)
	}

	// Step 3: one frame per requested opcode.
	for _, arg := range probeOpcodes {
		var op byte
		if _, err := fmt.Sscanf(arg, "%02x", &op); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid opcode %q\n", arg)
			os.Exit(2)
		}

		fmt.Printf("Opcode 0x%02X:   ", op)
		frame, err := freestyle.NewControlFrame(op, nil)
		if err != nil {
			fmt.Printf("BUILD FAILED: %v\n", err)
			rejected++
			continue
		}
		n, err := transport.Write(ctx, frame.Bytes())
		if err != nil || n < freestyle.FrameSize {
			fmt.Printf("REJECTED (n=%d, err=%v)\n", n, err)
			rejected++
			continue
		}

		data, err := transport.Read(ctx, 2*time.Second)
		switch {
		case err != nil:
			fmt.Printf("accepted, read error: %v\n", err)
		case len(data) == 0:
			fmt.Printf("accepted, no answer\n")
		default:
			fmt.Printf("accepted, answered %d bytes: % X\n", len(data), data)
		}
	}

	fmt.Printf("\n--- Probe summary ---\n")
	fmt.Printf("Writes rejected: %d\n", rejected)
	if rejected > 0 {
		os.Exit(1)
	}
	return nil
}
