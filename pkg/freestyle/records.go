// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Edward GCB

package freestyle

import (
	"strconv"
	"strings"
	"time"

	"github.com/loopholelabs/logging/types"
)

// AnnotationKind marks an out-of-range reading.
type AnnotationKind string

const (
	AnnotationHigh AnnotationKind = "high"
	AnnotationLow  AnnotationKind = "low"
)

// Annotation describes a reading the meter clipped to its display range.
type Annotation struct {
	Kind      AnnotationKind
	Threshold int
}

// RecordCommon holds the fields every result line starts with.
type RecordCommon struct {
	TypeCode  int
	Index     int
	Timestamp time.Time
}

// Record is one typed entry from a "$result?" listing. The concrete types
// are GlucoseRecord, KetoneRecord, TimeChangeRecord and UnrecognizedRecord.
type Record interface {
	Common() RecordCommon
	record()
}

// GlucoseRecord is a blood glucose reading in mg/dL. HI and LO sentinel
// readings carry the substituted value plus an Annotation naming the
// display limit they exceeded.
type GlucoseRecord struct {
	RecordCommon
	ValueMgDl  int
	Annotation *Annotation
}

func (r GlucoseRecord) Common() RecordCommon { return r.RecordCommon }
func (GlucoseRecord) record()                {}

// KetoneRecord is a blood ketone reading in mmol/L. Raw values are stored
// in mg/dL-equivalent units and divided by 18.
type KetoneRecord struct {
	RecordCommon
	ValueMmolL float64
	Annotation *Annotation
}

func (r KetoneRecord) Common() RecordCommon { return r.RecordCommon }
func (KetoneRecord) record()                {}

// TimeChangeRecord marks a manual adjustment of the meter clock.
type TimeChangeRecord struct {
	RecordCommon
	From  time.Time
	To    time.Time
	Agent string
}

func (r TimeChangeRecord) Common() RecordCommon { return r.RecordCommon }
func (TimeChangeRecord) record()                {}

// UnrecognizedRecord preserves a line with an unhandled type code.
type UnrecognizedRecord struct {
	RecordCommon
	Fields []string
}

func (r UnrecognizedRecord) Common() RecordCommon { return r.RecordCommon }
func (UnrecognizedRecord) record()                {}

// Parser turns raw result text into typed records. The zero value is usable;
// the logger only adds warnings for skipped lines. Parsing holds no state
// across calls, so the same text always yields the same records.
type Parser struct {
	Logger types.Logger
	Stats  *Statistics
}

// ParseRecords parses a result listing with a zero-value Parser.
func ParseRecords(text string) []Record {
	return Parser{}.Parse(text)
}

// Parse splits the listing on \r\n and parses each non-blank line. Lines
// that cannot be parsed are skipped with a warning; they never abort the
// batch. Control-solution readings and invalid time changes are dropped.
func (p Parser) Parse(text string) []Record {
	records := make([]Record, 0)
	for _, line := range strings.Split(text, "\r\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		rec, ok := p.parseLine(line)
		if !ok {
			continue
		}
		if rec != nil {
			records = append(records, rec)
			if p.Stats != nil {
				p.Stats.RecordsParsed++
			}
		}
	}
	return records
}

// parseLine parses one comma-delimited line. ok is false when the line was
// skipped as unparseable; a nil record with ok true is a deliberate drop
// (control solution, invalid time change).
func (p Parser) parseLine(line string) (Record, bool) {
	fields := strings.Split(line, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	if len(fields) < 8 {
		p.skip(line, "fewer than 8 fields")
		return nil, false
	}

	typeCode, err := strconv.Atoi(fields[0])
	if err != nil {
		p.skip(line, "non-numeric type code")
		return nil, false
	}
	index, err := strconv.Atoi(fields[1])
	if err != nil {
		p.skip(line, "non-numeric index")
		return nil, false
	}

	// Seconds live at field 7 only for types that don't reuse the slot.
	seconds := 0
	if typeCode != RecordTypeGlucose && typeCode != RecordTypeTimeChange {
		if v, err := strconv.Atoi(fields[7]); err == nil {
			seconds = v
		}
	}
	ts, ok := fieldTimestamp(fields[2:7], seconds)
	if !ok {
		p.skip(line, "unparseable timestamp")
		return nil, false
	}

	common := RecordCommon{TypeCode: typeCode, Index: index, Timestamp: ts}

	switch typeCode {
	case RecordTypeGlucose:
		return p.parseGlucose(common, fields, line)
	case RecordTypeKetone:
		return p.parseKetone(common, fields, line)
	case RecordTypeTimeChange:
		return p.parseTimeChange(common, fields, line)
	default:
		if p.Logger != nil {
			p.Logger.Warn().
				Int("type", typeCode).
				Int("index", index).
				Msg("unhandled record type")
		}
		return UnrecognizedRecord{RecordCommon: common, Fields: fields}, true
	}
}

// parseGlucose handles type 7. The value sits at field 7; field 10 flags a
// control-solution reading with "0", which is dropped from the output.
func (p Parser) parseGlucose(common RecordCommon, fields []string, line string) (Record, bool) {
	if len(fields) > 10 && fields[10] == "0" {
		return nil, true // control solution, deliberately excluded
	}

	rec := GlucoseRecord{RecordCommon: common}
	switch fields[7] {
	case "HI":
		rec.ValueMgDl = GlucoseHiMgDl
		rec.Annotation = &Annotation{Kind: AnnotationHigh, Threshold: GlucoseHiLimit}
	case "LO":
		rec.ValueMgDl = GlucoseLoMgDl
		rec.Annotation = &Annotation{Kind: AnnotationLow, Threshold: GlucoseLoLimit}
	default:
		v, err := strconv.Atoi(fields[7])
		if err != nil {
			p.skip(line, "unparseable glucose value")
			return nil, false
		}
		rec.ValueMgDl = v
	}
	return rec, true
}

// parseKetone handles type 9. Field 7 is an optional seconds slot, the
// value sits at field 8 and field 9 flags a control-solution reading.
func (p Parser) parseKetone(common RecordCommon, fields []string, line string) (Record, bool) {
	if len(fields) < 9 {
		p.skip(line, "ketone line too short")
		return nil, false
	}
	if len(fields) > 9 && fields[9] == "0" {
		return nil, true // control solution
	}

	rec := KetoneRecord{RecordCommon: common}
	if fields[8] == "HI" {
		rec.ValueMmolL = 8.0 + 1.0/ketoneScale
		rec.Annotation = &Annotation{Kind: AnnotationHigh, Threshold: 8}
	} else {
		v, err := strconv.Atoi(fields[8])
		if err != nil {
			p.skip(line, "unparseable ketone value")
			return nil, false
		}
		rec.ValueMmolL = float64(v) / ketoneScale
	}
	return rec, true
}

// parseTimeChange handles type 6. Field 7 is a validity flag; fields 8..12
// carry the clock value before the change.
func (p Parser) parseTimeChange(common RecordCommon, fields []string, line string) (Record, bool) {
	if fields[7] != "1" {
		return nil, true // invalid time change, dropped
	}
	if len(fields) < 13 {
		p.skip(line, "time change line too short")
		return nil, false
	}
	from, ok := fieldTimestamp(fields[8:13], 0)
	if !ok {
		p.skip(line, "unparseable time change origin")
		return nil, false
	}
	return TimeChangeRecord{
		RecordCommon: common,
		From:         from,
		To:           common.Timestamp,
		Agent:        "manual",
	}, true
}

// fieldTimestamp builds a timestamp from five numeric fields in meter order:
// month, day, two-digit year, hour, minute.
func fieldTimestamp(f []string, seconds int) (time.Time, bool) {
	if len(f) < 5 {
		return time.Time{}, false
	}
	n := make([]int, 5)
	for i := 0; i < 5; i++ {
		v, err := strconv.Atoi(f[i])
		if err != nil {
			return time.Time{}, false
		}
		n[i] = v
	}
	month, day, year, hour, minute := n[0], n[1], 2000+n[2], n[3], n[4]
	if month < 1 || month > 12 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, hour, minute, seconds, 0, time.Local), true
}

// skip records a dropped line.
func (p Parser) skip(line, reason string) {
	if p.Stats != nil {
		p.Stats.RecordsSkipped++
	}
	if p.Logger != nil {
		p.Logger.Warn().
			Str("reason", reason).
			Str("line", line).
			Msg("skipping result line")
	}
}
