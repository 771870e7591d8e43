// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Edward GCB

package freestyle

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptTransport is a scripted in-memory Transport. Writes are recorded;
// reads pop from a queue and fall back to empty (a lapsed timeout). Hooks
// override the default success behavior per call.
type scriptTransport struct {
	openErr  error
	claimErr error
	closeErr error

	writeHook func(call int, p []byte) (int, error)
	readHook  func(call int) ([]byte, error)

	writes     [][]byte
	reads      [][]byte
	writeCalls int
	readCalls  int
	closeCalls int
}

func (m *scriptTransport) Open(ctx context.Context) error { return m.openErr }

func (m *scriptTransport) ClaimInterface(iface int) error { return m.claimErr }

func (m *scriptTransport) Write(ctx context.Context, p []byte) (int, error) {
	m.writeCalls++
	m.writes = append(m.writes, append([]byte(nil), p...))
	if m.writeHook != nil {
		return m.writeHook(m.writeCalls, p)
	}
	return len(p), nil
}

func (m *scriptTransport) Read(ctx context.Context, timeout time.Duration) ([]byte, error) {
	m.readCalls++
	if m.readHook != nil {
		return m.readHook(m.readCalls)
	}
	if len(m.reads) == 0 {
		return nil, nil
	}
	chunk := m.reads[0]
	m.reads = m.reads[1:]
	return chunk, nil
}

func (m *scriptTransport) Close() error {
	m.closeCalls++
	return m.closeErr
}

// fastOptions keeps test sessions from sleeping through real retry delays.
func fastOptions(extra ...Option) []Option {
	opts := []Option{
		WithWakeSettle(0),
		WithRetryDelay(time.Millisecond),
		WithReadTimeout(time.Millisecond),
		WithQueryReadTimeout(time.Millisecond),
	}
	return append(opts, extra...)
}

// respond frames data the way the meter does, with a correct checksum.
func respond(data string) []byte {
	return []byte(fmt.Sprintf("%s\r\nCKSM:%08X\r\nCMD OK\r\n", data, ResponseChecksum(data)))
}

func TestSessionConnect(t *testing.T) {
	tr := &scriptTransport{}
	s := NewSession(tr, fastOptions()...)

	err := s.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateReady, s.State())
	assert.True(t, s.Initialized())

	// wake-up + 5 init commands + link verification
	assert.Equal(t, 7, tr.writeCalls)
	for _, w := range tr.writes {
		assert.Len(t, w, FrameSize)
	}
	assert.Equal(t, []byte{0x04, 0x05, 0x15, 0x01, 0x00}, []byte{
		tr.writes[1][0], tr.writes[2][0], tr.writes[3][0], tr.writes[4][0], tr.writes[5][0],
	})

	require.NoError(t, s.Disconnect())
	assert.Equal(t, 1, tr.closeCalls)
}

func TestSessionConnect_ToleratesSilentInit(t *testing.T) {
	// No read ever answers; the handshake must still complete.
	tr := &scriptTransport{}
	s := NewSession(tr, fastOptions()...)

	require.NoError(t, s.Connect(context.Background()))
	assert.GreaterOrEqual(t, tr.readCalls, len(initSequence)-1)
	assert.Greater(t, s.Statistics().EmptyReads, uint64(0))
}

func TestSessionConnect_OpenFails(t *testing.T) {
	tr := &scriptTransport{openErr: errors.New("no such device")}
	s := NewSession(tr, fastOptions()...)

	err := s.Connect(context.Background())
	require.ErrorIs(t, err, ErrTransportUnavailable)
	assert.Equal(t, StateFaulted, s.State())
	assert.Equal(t, 0, tr.closeCalls, "nothing to release when open failed")
}

func TestSessionConnect_ClaimFailsReleasesHandle(t *testing.T) {
	tr := &scriptTransport{claimErr: errors.New("interface busy")}
	s := NewSession(tr, fastOptions()...)

	err := s.Connect(context.Background())
	require.ErrorIs(t, err, ErrTransportUnavailable)
	assert.Equal(t, 1, tr.closeCalls)
}

func TestSessionConnect_InitRetryExhaustion(t *testing.T) {
	// The second init command (0x05) fails every attempt, and the soft-init
	// fallback's 0x04 write fails too. Connect must surface the handshake
	// error and release the handle exactly once.
	fours := 0
	tr := &scriptTransport{}
	tr.writeHook = func(call int, p []byte) (int, error) {
		switch p[0] {
		case 0x05:
			return -1, nil
		case 0x04:
			fours++
			if fours > 1 {
				return -1, nil
			}
		}
		return len(p), nil
	}
	s := NewSession(tr, fastOptions()...)

	err := s.Connect(context.Background())
	require.Error(t, err)

	var initErr *InitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, byte(0x05), initErr.Opcode)
	assert.Equal(t, DefaultWriteRetries, initErr.Attempts)
	assert.ErrorIs(t, err, ErrWriteFailed)

	assert.Equal(t, StateFaulted, s.State())
	assert.False(t, s.Initialized())
	assert.Equal(t, 1, tr.closeCalls)

	// A later disconnect must not release the handle a second time.
	require.NoError(t, s.Disconnect())
	assert.Equal(t, 1, tr.closeCalls)
}

func TestSessionConnect_SoftInitRecovers(t *testing.T) {
	// 0x05 never succeeds, but the soft-init writes do: the session comes
	// up anyway.
	tr := &scriptTransport{}
	tr.writeHook = func(call int, p []byte) (int, error) {
		if p[0] == 0x05 {
			return -1, nil
		}
		return len(p), nil
	}
	s := NewSession(tr, fastOptions()...)

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, StateReady, s.State())
	assert.True(t, s.Initialized())
	assert.Equal(t, 0, tr.closeCalls)
}

func TestSessionConnect_Twice(t *testing.T) {
	tr := &scriptTransport{}
	s := NewSession(tr, fastOptions()...)

	require.NoError(t, s.Connect(context.Background()))
	err := s.Connect(context.Background())
	require.ErrorIs(t, err, ErrNotReady)
}

func TestSessionDisconnect_Idempotent(t *testing.T) {
	tr := &scriptTransport{}
	s := NewSession(tr, fastOptions()...)

	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Disconnect())
	require.NoError(t, s.Disconnect())
	assert.Equal(t, 1, tr.closeCalls)
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSessionQuery_AccumulatesFragments(t *testing.T) {
	tr := &scriptTransport{}
	s := NewSession(tr, fastOptions()...)
	require.NoError(t, s.Connect(context.Background()))

	// Deliver the framed response in three zero-padded report chunks.
	full := respond("SN12345")
	for _, chunk := range [][]byte{full[:10], full[10:20], full[20:]} {
		padded := make([]byte, FrameSize)
		copy(padded, chunk)
		tr.reads = append(tr.reads, padded[:len(chunk)+3])
	}

	resp, err := s.Query(context.Background(), CmdSerialNumber)
	require.NoError(t, err)
	assert.Equal(t, "SN12345", resp.Data)
	assert.True(t, resp.ChecksumOK)

	// The command goes out as variable-length ASCII, not a 64-byte frame.
	sent := tr.writes[len(tr.writes)-1]
	assert.Equal(t, CmdSerialNumber+"\r\n", string(sent))
}

func TestSessionQuery_NoResponse(t *testing.T) {
	tr := &scriptTransport{}
	s := NewSession(tr, fastOptions(WithQueryAttempts(3))...)
	require.NoError(t, s.Connect(context.Background()))

	_, err := s.Query(context.Background(), CmdDate)
	require.ErrorIs(t, err, ErrNoResponse)
}

func TestSessionQuery_ContextCancelled(t *testing.T) {
	tr := &scriptTransport{}
	s := NewSession(tr, fastOptions()...)
	require.NoError(t, s.Connect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	tr.readHook = func(call int) ([]byte, error) {
		cancel()
		return nil, nil
	}

	_, err := s.Query(ctx, CmdResults)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSessionQuery_CommandFailed(t *testing.T) {
	tr := &scriptTransport{}
	s := NewSession(tr, fastOptions()...)
	require.NoError(t, s.Connect(context.Background()))

	tr.reads = append(tr.reads, []byte("\r\nCKSM:00000000\r\nCMD Fail!\r\n"))
	_, err := s.Query(context.Background(), "$bogus?")
	require.ErrorIs(t, err, ErrCommandFailed)
}

func TestSessionQuery_ChecksumMismatchCounted(t *testing.T) {
	tr := &scriptTransport{}
	s := NewSession(tr, fastOptions()...)
	require.NoError(t, s.Connect(context.Background()))

	tr.reads = append(tr.reads, []byte("DATA\r\nCKSM:00000000\r\nCMD OK\r\n"))
	resp, err := s.Query(context.Background(), CmdSerialNumber)
	require.NoError(t, err)
	assert.False(t, resp.ChecksumOK)
	assert.Equal(t, uint64(1), s.Statistics().ChecksumMismatches)
}

func TestSessionQuery_RequiresReady(t *testing.T) {
	tr := &scriptTransport{}
	s := NewSession(tr, fastOptions()...)

	_, err := s.Query(context.Background(), CmdSerialNumber)
	require.ErrorIs(t, err, ErrNotReady)
}

func TestSessionDeviceInfo(t *testing.T) {
	tr := &scriptTransport{}
	s := NewSession(tr, fastOptions()...)
	require.NoError(t, s.Connect(context.Background()))

	meterTime := time.Now().Add(30 * time.Minute)
	tr.reads = [][]byte{
		respond("SN999-X"),
		respond(fmt.Sprintf("%d,%d,%d", int(meterTime.Month()), meterTime.Day(), meterTime.Year()%100)),
		respond(fmt.Sprintf("%d,%d", meterTime.Hour(), meterTime.Minute())),
	}

	info, err := s.DeviceInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "SN999-X", info.SerialNumber)
	assert.Equal(t, "SN999-X", s.SerialNumber())
	assert.True(t, info.NeedsSync, "30 minute skew must flag a sync")
	assert.InDelta(t, 30, info.ClockSkew.Minutes(), 2)
	assert.Equal(t, StateReady, s.State())
}

func TestSessionDeviceInfo_SmallSkewNeedsNoSync(t *testing.T) {
	tr := &scriptTransport{}
	s := NewSession(tr, fastOptions()...)
	require.NoError(t, s.Connect(context.Background()))

	now := time.Now()
	tr.reads = [][]byte{
		respond("SN1"),
		respond(fmt.Sprintf("%d,%d,%d", int(now.Month()), now.Day(), now.Year()%100)),
		respond(fmt.Sprintf("%d,%d", now.Hour(), now.Minute())),
	}

	info, err := s.DeviceInfo(context.Background())
	require.NoError(t, err)
	assert.False(t, info.NeedsSync)
}

func TestSessionFetchRecords(t *testing.T) {
	tr := &scriptTransport{}
	s := NewSession(tr, fastOptions()...)
	require.NoError(t, s.Connect(context.Background()))

	listing := "7,1,6,15,24,10,30,120,0,0,1\r\n" + // patient reading
		"7,2,6,15,24,10,35,95,0,0,0\r\n" + // control solution
		"9,3,6,15,24,11,0,0,54,1"
	tr.reads = append(tr.reads, respond(listing))

	records, err := s.FetchRecords(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.IsType(t, GlucoseRecord{}, records[0])
	assert.IsType(t, KetoneRecord{}, records[1])
	assert.Equal(t, StateReady, s.State())
}

func TestSessionFetchRecords_EmptyListing(t *testing.T) {
	tr := &scriptTransport{}
	s := NewSession(tr, fastOptions()...)
	require.NoError(t, s.Connect(context.Background()))

	tr.reads = append(tr.reads, respond(""))
	records, err := s.FetchRecords(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSessionFetchRecords_RequiresReady(t *testing.T) {
	tr := &scriptTransport{}
	s := NewSession(tr, fastOptions()...)

	_, err := s.FetchRecords(context.Background())
	require.ErrorIs(t, err, ErrNotReady)
}

func TestSessionProgress_OrderedNotifications(t *testing.T) {
	tr := &scriptTransport{}
	var seen []Progress
	s := NewSession(tr, fastOptions(WithProgress(func(p Progress) {
		seen = append(seen, p)
	}))...)

	require.NoError(t, s.Connect(context.Background()))
	require.Len(t, seen, 4)
	for i, p := range seen {
		assert.Equal(t, i+1, p.Step)
		assert.Equal(t, 4, p.Total)
		assert.NotEmpty(t, p.Message)
	}
}

func TestSessionProgress_PanicDoesNotAbort(t *testing.T) {
	tr := &scriptTransport{}
	s := NewSession(tr, fastOptions(WithProgress(func(Progress) {
		panic("observer bug")
	}))...)

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, StateReady, s.State())
}

func TestSessionStatistics(t *testing.T) {
	tr := &scriptTransport{}
	s := NewSession(tr, fastOptions()...)
	require.NoError(t, s.Connect(context.Background()))

	stats := s.Statistics()
	assert.Equal(t, uint64(7), stats.FramesOut)
	assert.Equal(t, uint64(7*FrameSize), stats.BytesWritten)
	assert.NotEmpty(t, stats.String())
}

func TestSessionConnect_CancelledDuringHandshake(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := &scriptTransport{}
	tr.readHook = func(call int) ([]byte, error) {
		cancel()
		return nil, nil
	}
	// A long retry delay would stall here without cancellation support.
	s := NewSession(tr, fastOptions(WithWakeSettle(time.Hour))...)

	err := s.Connect(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, tr.closeCalls)
}
