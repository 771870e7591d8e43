// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Edward GCB

package freestyle

import (
	"context"
	"fmt"
)

// initCommunication runs the wake-up exchange and the five-command init
// sequence. Wake-up is best effort; the init writes each get a fixed retry
// budget and an exhausted budget fails the whole handshake. Reads between
// init commands are optional: meters do not answer every step, so an empty
// read is logged and tolerated. Callers hold s.mu.
func (s *Session) initCommunication(ctx context.Context) error {
	if err := s.wakeUp(ctx); err != nil {
		return err
	}

	for i, op := range initSequence {
		if err := s.writeFrameRetry(ctx, op); err != nil {
			return err
		}
		if s.logger != nil {
			s.logger.Debug().
				Str("session", s.id.String()).
				Int("step", i+1).
				Int("total", len(initSequence)).
				Uint8("opcode", op).
				Msg("init command accepted")
		}

		// The trailing ACK gets no answer; everything else may.
		if op == OpAck {
			continue
		}
		data, err := s.readChunk(ctx, s.readTimeout)
		if err != nil {
			return fmt.Errorf("init read after 0x%02X: %w", op, err)
		}
		if len(data) == 0 && s.logger != nil {
			s.logger.Debug().
				Str("session", s.id.String()).
				Uint8("opcode", op).
				Msg("no answer to init command")
		}
	}
	return nil
}

// wakeUp nudges a sleeping meter with a zero-payload ACK frame. Nothing
// here is fatal: the write may be rejected and the read may come back
// empty. The settle delay afterwards gives slow meters time to come up
// before the first real init command.
func (s *Session) wakeUp(ctx context.Context) error {
	frame, _ := NewControlFrame(OpAck, nil)
	if err := s.writeFrame(ctx, frame); err != nil {
		if s.logger != nil {
			s.logger.Debug().
				Str("session", s.id.String()).
				Err(err).
				Msg("wake-up write rejected")
		}
	}
	if err := sleep(ctx, wakeDelay); err != nil {
		return err
	}
	if data, err := s.readChunk(ctx, s.readTimeout); err == nil && len(data) > 0 {
		if s.logger != nil {
			s.logger.Debug().
				Str("session", s.id.String()).
				Int("bytes", len(data)).
				Msg("wake-up answer discarded")
		}
	}
	return sleep(ctx, s.wakeSettle)
}

// writeFrameRetry writes one init command with the session's retry budget.
// Attempts are spaced by the retry delay; exhaustion returns an InitError.
func (s *Session) writeFrameRetry(ctx context.Context, op byte) error {
	frame, err := NewControlFrame(op, nil)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= s.writeRetries; attempt++ {
		lastErr = s.writeFrame(ctx, frame)
		if lastErr == nil {
			return nil
		}
		s.stats.WriteRetries++
		if s.logger != nil {
			s.logger.Warn().
				Str("session", s.id.String()).
				Uint8("opcode", op).
				Int("attempt", attempt).
				Int("budget", s.writeRetries).
				Err(lastErr).
				Msg("init write failed")
		}
		if attempt < s.writeRetries {
			if err := sleep(ctx, s.retryDelay); err != nil {
				return err
			}
		}
	}
	return &InitError{Opcode: op, Attempts: s.writeRetries, Err: lastErr}
}

// runDiagnostics probes a meter that failed the handshake: one bounded read
// to drain anything pending, one ACK write to test the pipe. Results are
// only logged; the soft-init fallback decides whether the session survives.
func (s *Session) runDiagnostics(ctx context.Context) {
	data, readErr := s.readChunk(ctx, s.readTimeout)

	frame, _ := NewControlFrame(OpAck, nil)
	writeErr := s.writeFrame(ctx, frame)

	if s.logger != nil {
		ev := s.logger.Debug().
			Str("session", s.id.String()).
			Int("pending_bytes", len(data))
		if readErr != nil {
			ev = ev.Err(readErr)
		}
		ev.Bool("write_ok", writeErr == nil).
			Msg("post-handshake diagnostics")
	}
}

// softInit is the lighter-weight fallback for meters that reject the full
// handshake: an ACK frame followed by a single 0x04 init command. Both
// writes succeeding marks the session usable.
func (s *Session) softInit(ctx context.Context) error {
	ack, _ := NewControlFrame(OpAck, nil)
	if err := s.writeFrame(ctx, ack); err != nil {
		return fmt.Errorf("soft init: %w", err)
	}
	init, _ := NewControlFrame(initSequence[0], nil)
	if err := s.writeFrame(ctx, init); err != nil {
		return fmt.Errorf("soft init: %w", err)
	}
	if s.logger != nil {
		s.logger.Info().
			Str("session", s.id.String()).
			Msg("soft init accepted")
	}
	return nil
}
