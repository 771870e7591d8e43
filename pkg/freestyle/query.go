// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Edward GCB

package freestyle

import (
	"bytes"
	"context"
	"fmt"
	"strings"
)

// query runs one text-command round trip: write the terminated command as a
// variable-length ASCII chunk, then accumulate reads until a completion
// marker ("CMD OK" or "CMD Fail!") shows up or the attempt budget lapses.
// Callers hold s.mu.
func (s *Session) query(ctx context.Context, command string) (TextResponse, error) {
	if !strings.HasSuffix(command, "\r\n") {
		command += "\r\n"
	}

	s.stats.Queries++
	n, err := s.transport.Write(ctx, []byte(command))
	if err != nil {
		return TextResponse{}, fmt.Errorf("%w: command %q: %w", ErrWriteFailed, strings.TrimSpace(command), err)
	}
	if n < len(command) {
		return TextResponse{}, fmt.Errorf("%w: command %q: wrote %d of %d bytes",
			ErrWriteFailed, strings.TrimSpace(command), n, len(command))
	}
	s.stats.BytesWritten += uint64(n)
	s.stats.touch()

	var acc strings.Builder
	complete := false
	for attempt := 0; attempt < s.queryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return TextResponse{}, err
		}
		chunk, err := s.readChunk(ctx, s.queryReadTimeout)
		if err != nil {
			return TextResponse{}, fmt.Errorf("query read: %w", err)
		}
		// HID reports come back zero padded to the report size.
		acc.Write(bytes.TrimRight(chunk, "\x00"))
		if strings.Contains(acc.String(), markerOK) || strings.Contains(acc.String(), markerFail) {
			complete = true
			break
		}
	}
	if !complete {
		return TextResponse{}, fmt.Errorf("%w: command %q: no completion marker in %d reads",
			ErrNoResponse, strings.TrimSpace(command), s.queryAttempts)
	}

	resp, err := ParseTextResponse(acc.String())
	if resp.Malformed {
		s.stats.MalformedResponses++
		if s.logger != nil {
			s.logger.Warn().
				Str("session", s.id.String()).
				Str("command", strings.TrimSpace(command)).
				Msg("malformed response recovered leniently")
		}
	}
	if err == nil && !resp.Malformed && !resp.ChecksumOK {
		s.stats.ChecksumMismatches++
		if s.logger != nil {
			s.logger.Warn().
				Str("session", s.id.String()).
				Str("command", strings.TrimSpace(command)).
				Uint32("reported", resp.Checksum).
				Uint32("computed", ResponseChecksum(resp.Data)).
				Msg("response checksum mismatch")
		}
	}
	return resp, err
}
