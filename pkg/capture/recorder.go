// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Edward GCB

package capture

import (
	"context"
	"time"

	"github.com/EdwardGCB/expo-usb-conected/pkg/freestyle"
)

// Recorder decorates a transport, appending every outgoing write and every
// non-empty read to an archive. The decorated transport still owns the
// device; the recorder only taps the traffic.
type Recorder struct {
	inner  freestyle.Transport
	writer *Writer
}

// NewRecorder taps t into the archive writer.
func NewRecorder(t freestyle.Transport, w *Writer) *Recorder {
	return &Recorder{inner: t, writer: w}
}

// Open opens the decorated transport.
func (r *Recorder) Open(ctx context.Context) error {
	return r.inner.Open(ctx)
}

// ClaimInterface claims on the decorated transport.
func (r *Recorder) ClaimInterface(iface int) error {
	return r.inner.ClaimInterface(iface)
}

// Write records the bytes that actually went out, then reports the inner
// result unchanged.
func (r *Recorder) Write(ctx context.Context, p []byte) (int, error) {
	n, err := r.inner.Write(ctx, p)
	if err == nil && n > 0 {
		limit := n
		if limit > len(p) {
			limit = len(p)
		}
		if aerr := r.writer.Append(DirectionOut, p[:limit]); aerr != nil {
			return n, aerr
		}
	}
	return n, err
}

// Read records non-empty chunks. Lapsed timeouts (empty reads) are not
// archived; replay regenerates them from the attempt budget.
func (r *Recorder) Read(ctx context.Context, timeout time.Duration) ([]byte, error) {
	data, err := r.inner.Read(ctx, timeout)
	if err == nil && len(data) > 0 {
		if aerr := r.writer.Append(DirectionIn, data); aerr != nil {
			return data, aerr
		}
	}
	return data, err
}

// Close closes the decorated transport, then the archive.
func (r *Recorder) Close() error {
	err := r.inner.Close()
	if cerr := r.writer.Close(); err == nil {
		err = cerr
	}
	return err
}
