// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Edward GCB

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/loopholelabs/logging"
	"github.com/loopholelabs/logging/types"
	"github.com/spf13/cobra"
)

var (
	// Config file flag
	configPath string

	// HID connection flags
	hidPath string

	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Capture/replay flags
	capturePath string
	replayPath  string

	verbose bool

	// appLog is the CLI-wide logger, built in the persistent pre-run.
	appLog types.RootLogger
)

var rootCmd = &cobra.Command{
	Use:   "optium",
	Short: "FreeStyle Optium Neo meter protocol tool",
	Long: `Optium - A CLI tool for talking to Abbott FreeStyle Optium Neo glucometers.

Drives the meter's HID session protocol: wake-up and initialization
handshake, text commands ($serlnum?, $date?, $time?, $result?) and the
typed glucose/ketone/time-change record download.

Connection modes:
  USB HID (default): the meter is found by its USB IDs (1a61:3850)
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/device [--username user]
  Replay:    --replay session.optcap

Any connecting command accepts --capture <file> to record the raw traffic
for later replay.

For WebSocket authentication, the password is read from the OPTIUM_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell
history.`,
	Version:           "1.0.0",
	PersistentPreRunE: loadConfigAndLogger,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.config/optium/config.yaml)")

	// HID connection flags
	rootCmd.PersistentFlags().StringVar(&hidPath, "hid-path", "", "Explicit HID device path (default: find by USB IDs)")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Capture/replay flags
	rootCmd.PersistentFlags().StringVar(&capturePath, "capture", "", "Record raw traffic to a capture archive")
	rootCmd.PersistentFlags().StringVar(&replayPath, "replay", "", "Replay a capture archive instead of a device")

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// loadConfigAndLogger merges the YAML config under flags that were not set
// on the command line, then builds the CLI logger.
func loadConfigAndLogger(cmd *cobra.Command, args []string) error {
	path := configPath
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}

	if path != "" {
		config, err := LoadConfig(path)
		switch {
		case err == nil:
			flags := cmd.Flags()
			if !flags.Changed("port") && config.Port != "" {
				portName = config.Port
			}
			if !flags.Changed("baud") && config.Baud != 0 {
				baudRate = config.Baud
			}
			if !flags.Changed("hid-path") && config.HIDPath != "" {
				hidPath = config.HIDPath
			}
			if !flags.Changed("url") && config.URL != "" {
				wsURL = config.URL
			}
			if !flags.Changed("username") && config.Username != "" {
				wsUsername = config.Username
			}
			if !flags.Changed("no-ssl-verify") && config.NoSSLVerify {
				wsNoSSLVerify = true
			}
			if !flags.Changed("capture") && config.Capture != "" {
				capturePath = config.Capture
			}
			if !flags.Changed("verbose") && config.Verbose {
				verbose = true
			}
		case explicit:
			// A config file named on the command line must load.
			return err
		default:
			if !errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "Warning: ignoring config %s: %v\n", path, err)
			}
		}
	}

	appLog = logging.New(logging.Zerolog, "optium", os.Stderr)
	if verbose {
		appLog.SetLevel(types.DebugLevel)
	} else {
		appLog.SetLevel(types.InfoLevel)
	}
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
