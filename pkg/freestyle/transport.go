// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Edward GCB

package freestyle

import (
	"context"
	"time"
)

// Transport is the byte pipe a Session drives. Implementations wrap a USB
// HID handle, a serial port, a WebSocket bridge, or a capture replay; the
// session layer never touches device enumeration or permissions.
//
// The pipe is half duplex: the session serializes every Write/Read pair and
// implementations are never called concurrently for one device.
type Transport interface {
	// Open acquires the underlying device handle.
	Open(ctx context.Context) error

	// ClaimInterface claims the data interface. Backends that claim on
	// open may treat this as a no-op.
	ClaimInterface(iface int) error

	// Write sends raw bytes to the device. A short or negative count
	// without an error is still a write failure.
	Write(ctx context.Context, p []byte) (int, error)

	// Read returns the next chunk from the device, waiting at most
	// timeout. A lapsed timeout yields an empty slice and a nil error.
	Read(ctx context.Context, timeout time.Duration) ([]byte, error)

	// Close releases the device handle. Called exactly once per session.
	Close() error
}
