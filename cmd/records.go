// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Edward GCB

package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/EdwardGCB/expo-usb-conected/pkg/freestyle"
)

var (
	recordsTimeout int
	recordsJSON    bool
	recordsCSV     bool
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Download and display the meter's stored results",
	Long: `Connect to the meter, run the handshake and download every stored
result: glucose readings (mg/dL), ketone readings (mmol/L) and manual
time changes. Control-solution readings are excluded, HI/LO readings
carry an out-of-range marker.

Output formats:
  Default: styled table
  --json:  one JSON document with typed entries
  --csv:   comma-separated rows

Examples:
  # Download from USB
  optium records

  # Re-parse a captured session without hardware
  optium records --replay session.optcap --json

Exit codes:
  0 - Records downloaded (possibly zero)
  1 - Protocol error after connecting
  2 - Connection error`,
	RunE: runRecords,
}

func init() {
	rootCmd.AddCommand(recordsCmd)
	recordsCmd.Flags().IntVar(&recordsTimeout, "timeout", 180, "Overall timeout in seconds")
	recordsCmd.Flags().BoolVar(&recordsJSON, "json", false, "Emit JSON")
	recordsCmd.Flags().BoolVar(&recordsCSV, "csv", false, "Emit CSV")
}

func runRecords(cmd *cobra.Command, args []string) error {
	transport, connInfo, err := OpenTransport()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	quiet := recordsJSON || recordsCSV
	if !quiet {
		fmt.Printf("Optium - Result Download\n")
		fmt.Printf("Connection: %s\n\n", connInfo)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(recordsTimeout)*time.Second)
	defer cancel()

	opts := []freestyle.Option{freestyle.WithLogger(appLog)}
	if !quiet {
		opts = append(opts, freestyle.WithProgress(printProgress))
	}
	session := freestyle.NewSession(transport, opts...)
	defer session.Disconnect()

	if err := session.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	records, err := session.FetchRecords(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Protocol error: %v\n", err)
		os.Exit(1)
	}

	switch {
	case recordsJSON:
		return renderJSON(records)
	case recordsCSV:
		return renderCSV(records)
	default:
		renderTable(records)
		return nil
	}
}

// recordRow flattens any record variant for rendering.
type recordRow struct {
	Kind      string `json:"kind"`
	Index     int    `json:"index"`
	Timestamp string `json:"timestamp"`
	Value     string `json:"value,omitempty"`
	Unit      string `json:"unit,omitempty"`
	Marker    string `json:"marker,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
}

const rowTimeFormat = "2006-01-02 15:04:05"

func flattenRecord(r freestyle.Record) recordRow {
	common := r.Common()
	row := recordRow{
		Index:     common.Index,
		Timestamp: common.Timestamp.Format(rowTimeFormat),
	}
	switch rec := r.(type) {
	case freestyle.GlucoseRecord:
		row.Kind = "glucose"
		row.Value = strconv.Itoa(rec.ValueMgDl)
		row.Unit = "mg/dL"
		if rec.Annotation != nil {
			row.Marker = string(rec.Annotation.Kind)
		}
	case freestyle.KetoneRecord:
		row.Kind = "ketone"
		row.Value = strconv.FormatFloat(rec.ValueMmolL, 'f', 2, 64)
		row.Unit = "mmol/L"
		if rec.Annotation != nil {
			row.Marker = string(rec.Annotation.Kind)
		}
	case freestyle.TimeChangeRecord:
		row.Kind = "time change"
		row.From = rec.From.Format(rowTimeFormat)
		row.To = rec.To.Format(rowTimeFormat)
	default:
		row.Kind = fmt.Sprintf("type %d", common.TypeCode)
	}
	return row
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	markerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func renderTable(records []freestyle.Record) {
	if len(records) == 0 {
		fmt.Println("\nNo records stored on the meter.")
		return
	}

	fmt.Println()
	fmt.Println(headerStyle.Render(fmt.Sprintf("%-4s %-12s %-20s %-12s %-8s %s",
		"#", "KIND", "TIMESTAMP", "VALUE", "UNIT", "NOTES")))

	for _, r := range records {
		row := flattenRecord(r)
		notes := ""
		if row.Marker != "" {
			notes = markerStyle.Render("out of range (" + row.Marker + ")")
		}
		if row.From != "" {
			notes = dimStyle.Render(fmt.Sprintf("%s -> %s", row.From, row.To))
		}
		fmt.Printf("%-4d %-12s %-20s %-12s %-8s %s\n",
			row.Index, row.Kind, row.Timestamp, row.Value, row.Unit, notes)
	}

	fmt.Printf("\n%d records\n", len(records))
}

func renderJSON(records []freestyle.Record) error {
	rows := make([]recordRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, flattenRecord(r))
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

func renderCSV(records []freestyle.Record) error {
	w := csv.NewWriter(os.Stdout)
	if err := w.Write([]string{"index", "kind", "timestamp", "value", "unit", "marker", "from", "to"}); err != nil {
		return err
	}
	for _, r := range records {
		row := flattenRecord(r)
		if err := w.Write([]string{
			strconv.Itoa(row.Index), row.Kind, row.Timestamp,
			row.Value, row.Unit, row.Marker, row.From, row.To,
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
