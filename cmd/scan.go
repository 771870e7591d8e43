// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Edward GCB

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/sstallion/go-hid"
	"go.bug.st/serial"

	"github.com/EdwardGCB/expo-usb-conected/pkg/freestyle"
)

var scanAll bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List candidate meter devices",
	Long: `Enumerate USB HID devices matching the FreeStyle Optium Neo's USB IDs
(1a61:3850) and list the serial ports a data cable could sit behind.

Modes:
  Default: only meters (matching USB IDs) are listed.
  --all:   every HID device on the host is listed, useful when a meter
           enumerates with unexpected IDs behind an adapter.

Examples:
  # Find connected meters
  optium scan

  # Show every HID device plus serial ports
  optium scan --all

Exit codes:
  0 - At least one candidate device found
  1 - No devices found
  2 - Enumeration error`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "List every HID device, not just meters")
}

func runScan(cmd *cobra.Command, args []string) error {
	fmt.Printf("Optium - Device Scan\n\n")

	if err := hid.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "HID enumeration error: %v\n", err)
		os.Exit(2)
	}
	defer hid.Exit()

	vid, pid := uint16(freestyle.VendorIDAbbott), uint16(freestyle.ProductIDOptiumNeo)
	if scanAll {
		vid, pid = 0, 0
	}

	found := 0
	err := hid.Enumerate(vid, pid, func(info *hid.DeviceInfo) error {
		found++
		fmt.Printf("HID device found:\n")
		fmt.Printf("  Path:         %s\n", info.Path)
		fmt.Printf("  USB IDs:      %04x:%04x\n", info.VendorID, info.ProductID)
		if info.MfrStr != "" {
			fmt.Printf("  Manufacturer: %s\n", info.MfrStr)
		}
		if info.ProductStr != "" {
			fmt.Printf("  Product:      %s\n", info.ProductStr)
		}
		if info.SerialNbr != "" {
			fmt.Printf("  Serial:       %s\n", info.SerialNbr)
		}
		fmt.Println()
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "HID enumeration error: %v\n", err)
		os.Exit(2)
	}

	ports, err := serial.GetPortsList()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Serial port listing error: %v\n", err)
	} else if len(ports) > 0 {
		fmt.Printf("Serial ports:\n")
		for _, port := range ports {
			fmt.Printf("  %s\n", port)
		}
		fmt.Println()
	}

	fmt.Printf("--- Scan summary ---\n")
	fmt.Printf("HID devices found: %d\n", found)
	fmt.Printf("Serial ports:      %d\n", len(ports))

	if found == 0 && len(ports) == 0 {
		fmt.Printf("No devices found. Check the cable and meter power.\n")
		os.Exit(1)
	}
	return nil
}
