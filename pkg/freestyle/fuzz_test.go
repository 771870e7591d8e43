// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Edward GCB

package freestyle

import (
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// TestFuzzParseRecords_RandomText feeds arbitrary byte soup to the record
// parser and verifies it never panics and never returns a nil slice
func TestFuzzParseRecords_RandomText(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		length := rng.Intn(512)
		data := make([]byte, length)
		rng.Read(data)

		records := ParseRecords(string(data))
		if records == nil {
			t.Errorf("Round %d: ParseRecords returned nil slice", i)
		}
	}
}

// TestFuzzParseRecords_RandomLines builds comma-delimited lines with random
// field counts and contents; the parser must survive all of them
func TestFuzzParseRecords_RandomLines(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	fieldPool := []string{"7", "9", "6", "42", "HI", "LO", "", "0", "1", "15", "24", "999", "-3", "x", "??"}

	for i := 0; i < rounds; i++ {
		var lines []string
		numLines := rng.Intn(8)
		for j := 0; j < numLines; j++ {
			numFields := rng.Intn(16)
			fields := make([]string, numFields)
			for k := range fields {
				fields[k] = fieldPool[rng.Intn(len(fieldPool))]
			}
			lines = append(lines, strings.Join(fields, ","))
		}
		ParseRecords(strings.Join(lines, "\r\n"))
	}
}

// TestFuzzParseRecords_ValidGlucoseLines round-trips structurally valid
// glucose lines and checks the parsed values
func TestFuzzParseRecords_ValidGlucoseLines(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		value := rng.Intn(500) + 20
		month := rng.Intn(12) + 1
		day := rng.Intn(28) + 1
		year := rng.Intn(40)
		hour := rng.Intn(24)
		minute := rng.Intn(60)
		index := rng.Intn(1000)

		line := fmt.Sprintf("7,%d,%d,%d,%d,%d,%d,%d,0,0,1", index, month, day, year, hour, minute, value)
		records := ParseRecords(line)
		if len(records) != 1 {
			t.Fatalf("Round %d: expected 1 record for %q, got %d", i, line, len(records))
		}
		g, ok := records[0].(GlucoseRecord)
		if !ok {
			t.Fatalf("Round %d: expected GlucoseRecord, got %T", i, records[0])
		}
		if g.ValueMgDl != value {
			t.Errorf("Round %d: value mismatch: expected %d, got %d", i, value, g.ValueMgDl)
		}
		if g.Index != index {
			t.Errorf("Round %d: index mismatch: expected %d, got %d", i, index, g.Index)
		}
	}
}

// TestFuzzParseTextResponse_RandomBytes verifies the response parser never
// panics on arbitrary input
func TestFuzzParseTextResponse_RandomBytes(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		length := rng.Intn(256)
		data := make([]byte, length)
		rng.Read(data)
		ParseTextResponse(string(data))
	}
}

// TestFuzzParseTextResponse_FramedData builds correctly framed responses
// around random data and verifies the data and checksum survive the parse
func TestFuzzParseTextResponse_FramedData(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		// Printable data without \r\n so the frame stays unambiguous
		length := rng.Intn(64) + 1
		data := make([]byte, length)
		for j := range data {
			data[j] = byte(rng.Intn(95) + 32)
		}

		raw := fmt.Sprintf("%s\r\nCKSM:%08X\r\nCMD OK\r\n", data, ResponseChecksum(string(data)))
		resp, err := ParseTextResponse(raw)
		if err != nil {
			t.Fatalf("Round %d: unexpected error for %q: %v", i, raw, err)
		}
		if resp.Data != string(data) {
			t.Errorf("Round %d: data mismatch: expected %q, got %q", i, data, resp.Data)
		}
		if !resp.ChecksumOK {
			t.Errorf("Round %d: checksum should match for %q", i, raw)
		}
	}
}
