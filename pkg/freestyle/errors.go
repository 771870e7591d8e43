// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Edward GCB

package freestyle

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the session layer. Wrapped errors carry
// context; test with errors.Is.
var (
	// ErrTransportUnavailable means the transport could not be opened or
	// its data interface could not be claimed.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrPayloadTooLarge means a frame payload exceeds MaxFramePayload.
	ErrPayloadTooLarge = errors.New("frame payload too large")

	// ErrWriteFailed means the transport rejected a write.
	ErrWriteFailed = errors.New("write failed")

	// ErrNoResponse means the read budget lapsed with no completion
	// marker from the meter.
	ErrNoResponse = errors.New("no response from meter")

	// ErrMalformedResponse means a text response was empty or could not
	// be recovered from.
	ErrMalformedResponse = errors.New("empty or malformed response")

	// ErrCommandFailed means the meter answered "CMD Fail!".
	ErrCommandFailed = errors.New("meter rejected command")

	// ErrNotReady means an operation requires an initialized, idle
	// session.
	ErrNotReady = errors.New("session not ready")
)

// InitError reports an initialization handshake step whose write retries
// were exhausted.
type InitError struct {
	Opcode   byte
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *InitError) Error() string {
	return fmt.Sprintf("init command 0x%02X failed after %d attempts: %v", e.Opcode, e.Attempts, e.Err)
}

// Unwrap returns the last write error.
func (e *InitError) Unwrap() error {
	return e.Err
}
