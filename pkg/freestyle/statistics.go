// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Edward GCB

package freestyle

import (
	"fmt"
	"time"
)

// Statistics tracks protocol traffic and error counters for one session.
// The session updates it under its own lock; read it after the operation
// that produced it returns.
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	FramesOut          uint64
	FramesIn           uint64
	BytesWritten       uint64
	BytesRead          uint64
	WriteRetries       uint64
	Queries            uint64
	ChecksumMismatches uint64
	MalformedResponses uint64
	EmptyReads         uint64
	RecordsParsed      uint64
	RecordsSkipped     uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec, both directions
	ErrorRate float64 // soft errors/sec
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// touch refreshes the update timestamp after a counted event.
func (s *Statistics) touch() {
	s.LastUpdateTime = time.Now()
}

// CalculateRates recomputes the frame and soft-error rates.
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.FramesOut+s.FramesIn) / elapsed
		errorCount := s.WriteRetries + s.ChecksumMismatches + s.MalformedResponses + s.RecordsSkipped
		s.ErrorRate = float64(errorCount) / elapsed
	}
}

// String returns a formatted statistics summary.
func (s *Statistics) String() string {
	s.CalculateRates()

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Session statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Frames out:      %8d\n", s.FramesOut)
	result += fmt.Sprintf("Frames in:       %8d\n", s.FramesIn)
	result += fmt.Sprintf("Bytes written:   %8d\n", s.BytesWritten)
	result += fmt.Sprintf("Bytes read:      %8d\n", s.BytesRead)
	result += fmt.Sprintf("Queries:         %8d\n", s.Queries)

	if s.WriteRetries > 0 {
		result += fmt.Sprintf("Write retries:   %8d\n", s.WriteRetries)
	}
	if s.EmptyReads > 0 {
		result += fmt.Sprintf("Empty reads:     %8d\n", s.EmptyReads)
	}
	if s.ChecksumMismatches > 0 {
		result += fmt.Sprintf("Checksum errors: %8d\n", s.ChecksumMismatches)
	}
	if s.MalformedResponses > 0 {
		result += fmt.Sprintf("Malformed resps: %8d\n", s.MalformedResponses)
	}

	result += fmt.Sprintf("Records parsed:  %8d\n", s.RecordsParsed)
	if s.RecordsSkipped > 0 {
		result += fmt.Sprintf("Records skipped: %8d\n", s.RecordsSkipped)
	}

	result += fmt.Sprintf("Frame rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "========================================\n"

	return result
}

// Reset resets all statistics counters.
func (s *Statistics) Reset() {
	now := time.Now()
	*s = Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}
