// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Edward GCB

package capture

import (
	"context"
	"sync"
	"time"
)

// ReplayTransport plays the meter side of a recorded session, keeping a
// cursor over the full entry list so reads and writes stay aligned with the
// recorded exchange: a write advances past the next recorded host-to-meter
// entry, a read yields data only when the cursor sits on a meter-to-host
// entry. Reads that fall between recorded answers, and everything after the
// archive is exhausted, come back empty, which the session layer treats as
// lapsed timeouts.
type ReplayTransport struct {
	mu      sync.Mutex
	entries []Entry
	pos     int
	open    bool
}

// NewReplayTransport replays the given entries in order.
func NewReplayTransport(entries []Entry) *ReplayTransport {
	return &ReplayTransport{entries: entries}
}

// OpenReplay loads an archive file into a replay transport.
func OpenReplay(path string) (*ReplayTransport, error) {
	_, entries, err := Open(path)
	if err != nil {
		return nil, err
	}
	return NewReplayTransport(entries), nil
}

// Open marks the replay started.
func (r *ReplayTransport) Open(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = true
	r.pos = 0
	return nil
}

// ClaimInterface is a no-op; there is no device to claim.
func (r *ReplayTransport) ClaimInterface(iface int) error {
	return nil
}

// Write accepts anything the host sends and advances the cursor past the
// next recorded host-to-meter entry. The written bytes are not compared to
// the recording; protocol tweaks would otherwise invalidate every old
// capture.
func (r *ReplayTransport) Write(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pos < len(r.entries) && r.entries[r.pos].Direction == DirectionOut {
		r.pos++
	}
	return len(p), nil
}

// Read yields the entry under the cursor when it is meter-to-host, or an
// empty chunk when the recording expects the host to write first.
func (r *ReplayTransport) Read(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pos < len(r.entries) && r.entries[r.pos].Direction == DirectionIn {
		entry := r.entries[r.pos]
		r.pos++
		return append([]byte(nil), entry.Data...), nil
	}
	return nil, nil
}

// Close ends the replay.
func (r *ReplayTransport) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = false
	return nil
}

// Remaining reports how many meter-to-host entries are left to replay.
func (r *ReplayTransport) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for i := r.pos; i < len(r.entries); i++ {
		if r.entries[i].Direction == DirectionIn {
			n++
		}
	}
	return n
}
