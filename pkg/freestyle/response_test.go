// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Edward GCB

package freestyle

import (
	"errors"
	"testing"
)

func TestResponseChecksum(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		expected uint32
	}{
		{name: "empty", data: "", expected: 0},
		{name: "DATA", data: "DATA", expected: 0x11A}, // 68+65+84+65
		{name: "single byte", data: "A", expected: 65},
		{name: "includes separators", data: "a,b\r\nc", expected: 97 + 44 + 98 + 13 + 10 + 99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResponseChecksum(tt.data); got != tt.expected {
				t.Errorf("checksum: expected 0x%08X, got 0x%08X", tt.expected, got)
			}
		})
	}
}

func TestParseTextResponse_ChecksumMatch(t *testing.T) {
	resp, err := ParseTextResponse("DATA\r\nCKSM:0000011A\r\nCMD OK\r\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Data != "DATA" {
		t.Errorf("data: expected %q, got %q", "DATA", resp.Data)
	}
	if !resp.ChecksumOK {
		t.Error("expected checksum to match")
	}
	if resp.Status != StatusOK {
		t.Errorf("status: expected OK, got %v", resp.Status)
	}
}

func TestParseTextResponse_ChecksumMismatchIsNotFatal(t *testing.T) {
	resp, err := ParseTextResponse("DATA\r\nCKSM:00000000\r\nCMD OK\r\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Data != "DATA" {
		t.Errorf("data: expected %q, got %q", "DATA", resp.Data)
	}
	if resp.ChecksumOK {
		t.Error("expected checksum mismatch to be flagged")
	}
}

func TestParseTextResponse_CommandFailed(t *testing.T) {
	_, err := ParseTextResponse("\r\nCKSM:00000000\r\nCMD Fail!\r\n")
	if !errors.Is(err, ErrCommandFailed) {
		t.Errorf("expected ErrCommandFailed, got %v", err)
	}
}

func TestParseTextResponse_MultiLineData(t *testing.T) {
	data := "7,1,6,15,24,10,30,120,0,0,1\r\n9,2,6,15,24,11,0,0,54,1"
	raw := data + "\r\nCKSM:00000000\r\nCMD OK\r\n"
	resp, err := ParseTextResponse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Data != data {
		t.Errorf("multi-line data mismatch:\nexpected %q\ngot      %q", data, resp.Data)
	}
}

func TestParseTextResponse_LenientRecovery(t *testing.T) {
	resp, err := ParseTextResponse("SN12345\r\ngarbage without markers")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Malformed {
		t.Error("expected lenient recovery to be flagged")
	}
	if resp.Data != "SN12345" {
		t.Errorf("data: expected %q, got %q", "SN12345", resp.Data)
	}
}

func TestParseTextResponse_EmptyOrMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "leading separator only", raw: "\r\nno frame here"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTextResponse(tt.raw)
			if !errors.Is(err, ErrMalformedResponse) {
				t.Errorf("expected ErrMalformedResponse, got %v", err)
			}
		})
	}
}

func TestParseTextResponse_EmptyDataOK(t *testing.T) {
	resp, err := ParseTextResponse("\r\nCKSM:00000000\r\nCMD OK\r\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Data != "" {
		t.Errorf("expected empty data, got %q", resp.Data)
	}
	if !resp.ChecksumOK {
		t.Error("zero checksum over empty data should match")
	}
}
