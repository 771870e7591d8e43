// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Edward GCB

// Package freestyle implements the host side of the Abbott FreeStyle Optium
// Neo session protocol.
//
// The meter exchanges fixed 64-byte control frames over USB HID for wake-up
// and initialization, then answers ASCII text commands such as "$result?"
// with checksum-framed text blocks. This package provides the frame codec,
// the initialization handshake, the text-command session, the result record
// parser, and a session orchestrator that ties them together over a
// pluggable byte transport.
package freestyle

import "time"

// Frame geometry
const (
	FrameSize       = 64
	MaxFramePayload = FrameSize - 2
)

// USB identifiers of the FreeStyle Optium Neo
const (
	VendorIDAbbott     = 0x1a61
	ProductIDOptiumNeo = 0x3850
)

// Frame opcodes
const (
	OpAck  = 0x00 // zero-payload acknowledge, doubles as the wake-up frame
	OpText = 0x21 // text command wrapped in a control frame
)

// initSequence is the ordered opcode list of the initialization handshake.
var initSequence = []byte{0x04, 0x05, 0x15, 0x01, OpAck}

// Text commands understood by the meter
const (
	CmdSerialNumber = "$serlnum?"
	CmdDate         = "$date?"
	CmdTime         = "$time?"
	CmdResults      = "$result?"
)

// Text response completion markers
const (
	markerOK   = "CMD OK"
	markerFail = "CMD Fail!"
)

// Record type codes (field 0 of a result line)
const (
	RecordTypeTimeChange = 6
	RecordTypeGlucose    = 7
	RecordTypeKetone     = 9
)

// Sentinel glucose values substituted for the meter's HI/LO markers, and the
// display range limits they stand in for.
const (
	GlucoseHiMgDl  = 501
	GlucoseLoMgDl  = 19
	GlucoseHiLimit = 500
	GlucoseLoLimit = 20
)

// ketoneScale converts raw ketone readings to mmol/L.
const ketoneScale = 18.0

// Session tuning defaults
const (
	DefaultWriteRetries     = 3
	DefaultRetryDelay       = 500 * time.Millisecond
	DefaultReadTimeout      = 2 * time.Second
	DefaultWakeSettle       = time.Second
	DefaultQueryAttempts    = 50
	DefaultQueryReadTimeout = 2 * time.Second

	// wakeDelay is the fixed pause between the wake-up frame and the
	// best-effort read that follows it.
	wakeDelay = 500 * time.Millisecond
)

// ClockSkewLimit is the device-vs-host clock difference beyond which
// DeviceInfo flags the meter as needing a time sync.
const ClockSkewLimit = 5 * time.Minute
