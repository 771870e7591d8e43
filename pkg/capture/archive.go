// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Edward GCB

// Package capture records meter traffic to a CBOR archive and plays it
// back through the session transport interface. Archives make protocol
// sessions inspectable and repeatable without hardware on the bench.
//
// An archive is a header blob followed by entry blobs, each CBOR encoded
// and prefixed with a big-endian uint32 length. Every entry carries a
// CRC-16/MODBUS of its data so corruption is caught on read.
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/sigurn/crc16"
)

// Archive identity
const (
	Magic   = "OPTCAP"
	Version = 1
)

// maxBlobSize bounds a length prefix so a corrupt archive cannot force a
// huge allocation.
const maxBlobSize = 1 << 20

// Direction tells which side of the pipe produced an entry.
type Direction uint8

const (
	DirectionOut Direction = 0 // host to meter
	DirectionIn  Direction = 1 // meter to host
)

// String returns a short direction tag.
func (d Direction) String() string {
	if d == DirectionIn {
		return "in"
	}
	return "out"
}

// Header opens every archive.
type Header struct {
	Magic   string `cbor:"magic"`
	Version uint32 `cbor:"version"`
	Created int64  `cbor:"created"` // unix nanoseconds
}

// Entry is one recorded transfer.
type Entry struct {
	Seq       uint64    `cbor:"seq"`
	Timestamp int64     `cbor:"timestamp"` // unix nanoseconds
	Direction Direction `cbor:"direction"`
	Data      []byte    `cbor:"data"`
	CRC       uint16    `cbor:"crc"`
}

// Errors reported while reading an archive.
var (
	ErrBadMagic     = errors.New("not a capture archive")
	ErrBadVersion   = errors.New("unsupported capture version")
	ErrCorruptEntry = errors.New("capture entry failed CRC check")
)

var crcTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// EntryCRC computes the integrity checksum over an entry's data.
func EntryCRC(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

// Writer appends length-prefixed CBOR blobs to an archive stream.
type Writer struct {
	w   io.Writer
	c   io.Closer
	seq uint64
}

// NewWriter starts an archive on w, writing the header immediately.
func NewWriter(w io.Writer) (*Writer, error) {
	aw := &Writer{w: w}
	if c, ok := w.(io.Closer); ok {
		aw.c = c
	}
	header := Header{Magic: Magic, Version: Version, Created: time.Now().UnixNano()}
	if err := aw.writeBlob(header); err != nil {
		return nil, fmt.Errorf("capture header: %w", err)
	}
	return aw, nil
}

// Create starts an archive file at path.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("capture file: %w", err)
	}
	w, err := NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Append records one transfer. Data is copied; the caller may reuse it.
func (w *Writer) Append(dir Direction, data []byte) error {
	entry := Entry{
		Seq:       w.seq,
		Timestamp: time.Now().UnixNano(),
		Direction: dir,
		Data:      append([]byte(nil), data...),
		CRC:       EntryCRC(data),
	}
	if err := w.writeBlob(entry); err != nil {
		return fmt.Errorf("capture entry %d: %w", entry.Seq, err)
	}
	w.seq++
	return nil
}

// Close closes the underlying stream when it is closable.
func (w *Writer) Close() error {
	if w.c != nil {
		return w.c.Close()
	}
	return nil
}

func (w *Writer) writeBlob(v interface{}) error {
	blob, err := cbor.Marshal(v)
	if err != nil {
		return err
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(blob)))
	if _, err := w.w.Write(prefix[:]); err != nil {
		return err
	}
	_, err = w.w.Write(blob)
	return err
}

// ReadAll decodes a whole archive, verifying the header and every entry
// checksum.
func ReadAll(r io.Reader) (Header, []Entry, error) {
	var header Header
	if err := readBlob(r, &header); err != nil {
		return header, nil, fmt.Errorf("capture header: %w", err)
	}
	if header.Magic != Magic {
		return header, nil, fmt.Errorf("%w: magic %q", ErrBadMagic, header.Magic)
	}
	if header.Version != Version {
		return header, nil, fmt.Errorf("%w: version %d", ErrBadVersion, header.Version)
	}

	var entries []Entry
	for {
		var entry Entry
		err := readBlob(r, &entry)
		if errors.Is(err, io.EOF) {
			return header, entries, nil
		}
		if err != nil {
			return header, entries, fmt.Errorf("capture entry %d: %w", len(entries), err)
		}
		if EntryCRC(entry.Data) != entry.CRC {
			return header, entries, fmt.Errorf("%w: entry %d", ErrCorruptEntry, entry.Seq)
		}
		entries = append(entries, entry)
	}
}

// Open reads an archive file at path.
func Open(path string) (Header, []Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, fmt.Errorf("capture file: %w", err)
	}
	defer f.Close()
	return ReadAll(f)
}

func readBlob(r io.Reader, v interface{}) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return err
	}
	size := binary.BigEndian.Uint32(prefix[:])
	if size > maxBlobSize {
		return fmt.Errorf("blob size %d exceeds limit", size)
	}
	blob := make([]byte, size)
	if _, err := io.ReadFull(r, blob); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	return cbor.Unmarshal(blob, v)
}
