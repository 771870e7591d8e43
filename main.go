// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Edward GCB
//
// Optium - FreeStyle Optium Neo Meter Client
//
// A CLI tool for talking to Abbott FreeStyle Optium Neo glucose meters
// over USB HID, serial, or a WebSocket bridge.

package main

import (
	"os"

	"github.com/EdwardGCB/expo-usb-conected/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
