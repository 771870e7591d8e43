// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Edward GCB

package freestyle

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loopholelabs/logging/types"
)

// SessionState names a step of the session lifecycle.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateInitializing
	StateReady
	StateFetchingIdentity
	StateFetchingRecords
	StateDisconnecting
	StateFaulted
)

var sessionStateNames = map[SessionState]string{
	StateDisconnected:     "DISCONNECTED",
	StateConnecting:       "CONNECTING",
	StateInitializing:     "INITIALIZING",
	StateReady:            "READY",
	StateFetchingIdentity: "FETCHING_IDENTITY",
	StateFetchingRecords:  "FETCHING_RECORDS",
	StateDisconnecting:    "DISCONNECTING",
	StateFaulted:          "FAULTED",
}

// String returns the state name.
func (s SessionState) String() string {
	if name, ok := sessionStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(s))
}

// DeviceInfo is the meter identity and clock report.
type DeviceInfo struct {
	SerialNumber string
	DeviceTime   time.Time
	ClockSkew    time.Duration
	NeedsSync    bool
}

// Session drives one connect→disconnect lifecycle against a meter. It owns
// the transport handle exclusively for its lifetime and releases it exactly
// once, on Disconnect or on the first unrecovered error. All operations on
// one session are serialized; separate sessions over distinct devices are
// independent.
type Session struct {
	mu        sync.Mutex
	transport Transport
	id        uuid.UUID
	logger    types.Logger
	progress  ProgressFunc
	stats     *Statistics

	state        SessionState
	initialized  bool
	released     bool
	serialNumber string
	deviceTime   time.Time

	iface            int
	writeRetries     int
	retryDelay       time.Duration
	readTimeout      time.Duration
	wakeSettle       time.Duration
	queryAttempts    int
	queryReadTimeout time.Duration
}

// NewSession wraps a transport in a session. The transport must not be
// shared with anything else; the session assumes exclusive ownership.
func NewSession(t Transport, opts ...Option) *Session {
	s := &Session{
		transport:        t,
		id:               uuid.New(),
		stats:            NewStatistics(),
		state:            StateDisconnected,
		writeRetries:     DefaultWriteRetries,
		retryDelay:       DefaultRetryDelay,
		readTimeout:      DefaultReadTimeout,
		wakeSettle:       DefaultWakeSettle,
		queryAttempts:    DefaultQueryAttempts,
		queryReadTimeout: DefaultQueryReadTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session correlation ID.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Initialized reports whether the handshake has completed.
func (s *Session) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// SerialNumber returns the serial captured by DeviceInfo, if any.
func (s *Session) SerialNumber() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serialNumber
}

// Statistics returns the session's traffic counters.
func (s *Session) Statistics() *Statistics {
	return s.stats
}

// Connect opens and claims the transport, runs the initialization handshake
// and verifies the link with a test write. On any failure the transport is
// released before the error is returned; no half-open session survives.
// A session connects at most once.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateDisconnected || s.released {
		return fmt.Errorf("%w: connect from state %s", ErrNotReady, s.state)
	}
	s.state = StateConnecting

	const totalSteps = 4

	s.notify(1, totalSteps, "opening device")
	if err := s.transport.Open(ctx); err != nil {
		s.fault()
		return fmt.Errorf("%w: open: %w", ErrTransportUnavailable, err)
	}

	s.notify(2, totalSteps, "claiming interface")
	if err := s.transport.ClaimInterface(s.iface); err != nil {
		s.releaseLocked()
		s.fault()
		return fmt.Errorf("%w: claim interface %d: %w", ErrTransportUnavailable, s.iface, err)
	}

	s.notify(3, totalSteps, "initializing meter")
	s.state = StateInitializing
	if err := s.initCommunication(ctx); err != nil {
		if ctx.Err() != nil {
			s.releaseLocked()
			s.fault()
			return err
		}
		if s.logger != nil {
			s.logger.Warn().
				Str("session", s.id.String()).
				Err(err).
				Msg("handshake failed, probing device and attempting soft init")
		}
		s.runDiagnostics(ctx)
		if softErr := s.softInit(ctx); softErr != nil {
			s.releaseLocked()
			s.fault()
			return err
		}
	}
	s.initialized = true

	s.notify(4, totalSteps, "verifying link")
	frame, _ := NewControlFrame(OpAck, nil)
	if err := s.writeFrame(ctx, frame); err != nil {
		s.releaseLocked()
		s.fault()
		return fmt.Errorf("link verification: %w", err)
	}

	s.state = StateReady
	if s.logger != nil {
		s.logger.Info().
			Str("session", s.id.String()).
			Msg("meter connected")
	}
	return nil
}

// Disconnect releases the transport handle. It is idempotent: a second call
// is a no-op and the handle is never double-released.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDisconnected && s.released {
		return nil
	}
	s.state = StateDisconnecting
	err := s.releaseLocked()
	s.state = StateDisconnected
	s.initialized = false
	if s.logger != nil {
		s.logger.Info().
			Str("session", s.id.String()).
			Msg("meter disconnected")
	}
	return err
}

// DeviceInfo queries the meter's serial number, date and time, and compares
// the meter clock against the host. NeedsSync is advisory; the meter clock
// is never corrected.
func (s *Session) DeviceInfo(ctx context.Context) (DeviceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		return DeviceInfo{}, fmt.Errorf("%w: device info from state %s", ErrNotReady, s.state)
	}
	s.state = StateFetchingIdentity
	defer func() {
		if s.state == StateFetchingIdentity {
			s.state = StateReady
		}
	}()

	const totalSteps = 3
	info := DeviceInfo{}

	s.notify(1, totalSteps, "reading serial number")
	serial, err := s.query(ctx, CmdSerialNumber)
	if err != nil {
		s.fault()
		return info, fmt.Errorf("serial number: %w", err)
	}
	info.SerialNumber = strings.TrimSpace(serial.Data)
	s.serialNumber = info.SerialNumber

	s.notify(2, totalSteps, "reading meter date")
	date, err := s.query(ctx, CmdDate)
	if err != nil {
		s.fault()
		return info, fmt.Errorf("meter date: %w", err)
	}

	s.notify(3, totalSteps, "reading meter time")
	clock, err := s.query(ctx, CmdTime)
	if err != nil {
		s.fault()
		return info, fmt.Errorf("meter time: %w", err)
	}

	when, err := parseMeterClock(date.Data, clock.Data)
	if err != nil {
		s.fault()
		return info, err
	}
	info.DeviceTime = when
	info.ClockSkew = when.Sub(time.Now()).Round(time.Minute)
	skew := info.ClockSkew
	if skew < 0 {
		skew = -skew
	}
	info.NeedsSync = skew > ClockSkewLimit
	s.deviceTime = when

	if s.logger != nil {
		s.logger.Debug().
			Str("session", s.id.String()).
			Str("serial", info.SerialNumber).
			Str("skew", info.ClockSkew.String()).
			Bool("needs_sync", info.NeedsSync).
			Msg("meter identity")
	}
	return info, nil
}

// FetchRecords downloads the result listing and parses it into typed
// records. An empty listing is an empty slice, not an error.
func (s *Session) FetchRecords(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		return nil, fmt.Errorf("%w: fetch records from state %s", ErrNotReady, s.state)
	}
	s.state = StateFetchingRecords
	defer func() {
		if s.state == StateFetchingRecords {
			s.state = StateReady
		}
	}()

	const totalSteps = 2

	s.notify(1, totalSteps, "requesting results")
	resp, err := s.query(ctx, CmdResults)
	if err != nil {
		s.fault()
		return nil, fmt.Errorf("results: %w", err)
	}

	s.notify(2, totalSteps, "parsing results")
	parser := Parser{Logger: s.logger, Stats: s.stats}
	records := parser.Parse(resp.Data)

	if s.logger != nil {
		s.logger.Info().
			Str("session", s.id.String()).
			Int("records", len(records)).
			Msg("results parsed")
	}
	return records, nil
}

// Query sends an arbitrary text command. Mostly a diagnostic escape hatch;
// the known commands have dedicated operations above.
func (s *Session) Query(ctx context.Context, command string) (TextResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		return TextResponse{}, fmt.Errorf("%w: query from state %s", ErrNotReady, s.state)
	}
	return s.query(ctx, command)
}

// fault marks the session faulted. The handle has already been released or
// will be by Disconnect.
func (s *Session) fault() {
	s.state = StateFaulted
}

// releaseLocked closes the transport exactly once. Callers hold s.mu.
func (s *Session) releaseLocked() error {
	if s.released {
		return nil
	}
	s.released = true
	if err := s.transport.Close(); err != nil {
		if s.logger != nil {
			s.logger.Warn().
				Str("session", s.id.String()).
				Err(err).
				Msg("transport close failed")
		}
		return err
	}
	return nil
}

// writeFrame sends one 64-byte control frame. A short or negative count is
// a write failure even without a transport error.
func (s *Session) writeFrame(ctx context.Context, f Frame) error {
	n, err := s.transport.Write(ctx, f.Bytes())
	if err != nil {
		return fmt.Errorf("%w: opcode 0x%02X: %w", ErrWriteFailed, f.Opcode(), err)
	}
	if n < FrameSize {
		return fmt.Errorf("%w: opcode 0x%02X: wrote %d of %d bytes", ErrWriteFailed, f.Opcode(), n, FrameSize)
	}
	s.stats.FramesOut++
	s.stats.BytesWritten += uint64(n)
	s.stats.touch()
	return nil
}

// readChunk performs one bounded read and updates counters. An empty chunk
// means the timeout lapsed.
func (s *Session) readChunk(ctx context.Context, timeout time.Duration) ([]byte, error) {
	data, err := s.transport.Read(ctx, timeout)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		s.stats.EmptyReads++
		s.stats.touch()
		return nil, nil
	}
	s.stats.FramesIn++
	s.stats.BytesRead += uint64(len(data))
	s.stats.touch()
	return data, nil
}

// sleep pauses for d, honoring cancellation.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// parseMeterClock combines the "$date?" and "$time?" answers into one
// timestamp. The meter reports comma-separated numerics in record-line
// order: month,day,year for the date and hour,minute for the time.
func parseMeterClock(dateData, timeData string) (time.Time, error) {
	d, err := splitNumeric(dateData, 3)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrMalformedResponse, dateData)
	}
	t, err := splitNumeric(timeData, 2)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time %q", ErrMalformedResponse, timeData)
	}
	month, day, year := d[0], d[1], d[2]
	if year < 100 {
		year += 2000
	}
	if month < 1 || month > 12 {
		return time.Time{}, fmt.Errorf("%w: month %d", ErrMalformedResponse, month)
	}
	return time.Date(year, time.Month(month), day, t[0], t[1], 0, 0, time.Local), nil
}

// splitNumeric parses exactly n comma-separated integers.
func splitNumeric(data string, n int) ([]int, error) {
	parts := strings.Split(strings.TrimSpace(data), ",")
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d fields, got %d", n, len(parts))
	}
	out := make([]int, n)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
