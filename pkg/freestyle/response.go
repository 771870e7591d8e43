// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Edward GCB

package freestyle

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ResponseStatus is the meter's verdict on a text command.
type ResponseStatus int

const (
	StatusOK ResponseStatus = iota
	StatusFail
)

// String returns the wire spelling of the status.
func (s ResponseStatus) String() string {
	if s == StatusFail {
		return "Fail!"
	}
	return "OK"
}

// TextResponse is a parsed text-command response.
//
// The meter frames every answer as
//
//	<data>\r\nCKSM:<8 hex digits>\r\nCMD <OK|Fail!>\r\n
//
// where the checksum is the raw sum of the ASCII byte values of the data
// section. A checksum mismatch is recorded on the response but never fails
// the parse; callers that want strict framing can reject on !ChecksumOK.
type TextResponse struct {
	// Data is the payload section, which may itself span multiple
	// \r\n-separated lines (result listings do).
	Data string

	// Checksum is the value the meter sent, parsed from hex.
	Checksum uint32

	// Status reports whether the meter accepted the command.
	Status ResponseStatus

	// ChecksumOK is true when Checksum matches the computed sum of Data.
	ChecksumOK bool

	// Malformed is true when the full frame did not match and the data
	// was recovered leniently from the first response segment.
	Malformed bool
}

// responsePattern matches a complete checksum-framed response. Data is
// greedy so multi-line result listings keep their inner \r\n separators.
var responsePattern = regexp.MustCompile(`(?s)(.*)\r\nCKSM:([0-9A-Fa-f]{8})\r\nCMD (OK|Fail!)\r\n`)

// ParseTextResponse parses a checksum-framed meter response.
//
// A frame that does not match the full pattern is recovered leniently: the
// first \r\n-delimited segment, when non-empty, is returned as data with
// Malformed set. An empty unmatched frame is ErrMalformedResponse. A
// "CMD Fail!" verdict is ErrCommandFailed; the parsed response is still
// returned alongside the error.
func ParseTextResponse(raw string) (TextResponse, error) {
	m := responsePattern.FindStringSubmatch(raw)
	if m == nil {
		first, _, _ := strings.Cut(raw, "\r\n")
		if first != "" {
			return TextResponse{Data: first, Malformed: true}, nil
		}
		return TextResponse{}, ErrMalformedResponse
	}

	resp := TextResponse{Data: m[1]}

	sum, err := strconv.ParseUint(m[2], 16, 32)
	if err != nil {
		// Unreachable with the pattern above, but keep the parse total.
		return TextResponse{}, fmt.Errorf("checksum field %q: %w", m[2], ErrMalformedResponse)
	}
	resp.Checksum = uint32(sum)
	resp.ChecksumOK = resp.Checksum == ResponseChecksum(resp.Data)

	if m[3] == "Fail!" {
		resp.Status = StatusFail
		return resp, fmt.Errorf("%w (data %q)", ErrCommandFailed, resp.Data)
	}
	resp.Status = StatusOK
	return resp, nil
}
