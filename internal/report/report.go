// Package report renders the post-exam violation record as CSV for
// spreadsheets and PDF for invigilators.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/examguard/examguard/internal/violations"
)

// Summary carries everything the exports need beyond the raw event log.
type Summary struct {
	ExamID      string
	StudentID   string
	StudentName string
	Subject     string
	StartedAt   time.Time
	EndedAt     time.Time

	Graded     bool
	Score      float64
	MaxScore   float64
	Percentage float64
	Letter     string
}

// DefaultDetailLimit caps how many individual events the PDF detail
// section lists.
const DefaultDetailLimit = 10

var csvHeader = []string{"timestamp", "type", "severity", "message", "confidence", "evidence_url"}

// WriteCSV emits one row per event. The header is always written, so an
// empty log yields a valid single-line file.
func WriteCSV(w io.Writer, events []violations.Event) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, ev := range events {
		confidence := "N/A"
		if ev.Confidence != nil {
			confidence = strconv.FormatFloat(*ev.Confidence, 'f', 2, 64)
		}
		timestamp := "N/A"
		if !ev.Timestamp.IsZero() {
			timestamp = ev.Timestamp.UTC().Format(time.RFC3339)
		}
		row := []string{
			timestamp,
			orPlaceholder(ev.Type),
			orPlaceholder(string(ev.Severity)),
			orPlaceholder(ev.Message),
			confidence,
			orPlaceholder(ev.Evidence),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// orPlaceholder keeps every cell populated; a consumer never has to guess
// whether an empty cell is data or absence.
func orPlaceholder(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// typeCount is one line of the per-type breakdown, highest count first.
type typeCount struct {
	Type    string
	Count   int
	Percent float64
}

func breakdown(events []violations.Event) []typeCount {
	perType := make(map[string]int)
	for _, ev := range events {
		perType[ev.Type]++
	}
	total := len(events)
	out := make([]typeCount, 0, len(perType))
	for vtype, count := range perType {
		pct := 0.0
		if total > 0 {
			pct = float64(count) / float64(total) * 100
		}
		out = append(out, typeCount{Type: vtype, Count: count, Percent: pct})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	return out
}
