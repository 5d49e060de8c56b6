package report

import (
	"fmt"
	"io"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/examguard/examguard/internal/violations"
)

// BuildPDF renders the invigilator report: a summary block, the per-type
// breakdown, up to detailLimit individual events, and an evidence
// appendix. detailLimit <= 0 falls back to DefaultDetailLimit.
func BuildPDF(w io.Writer, sum Summary, events []violations.Event, detailLimit int) error {
	if detailLimit <= 0 {
		detailLimit = DefaultDetailLimit
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Proctoring Report", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "Exam Proctoring Report")
	pdf.Ln(14)

	pdf.SetFont("Helvetica", "", 11)
	writeKV := func(k, v string) {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.Cell(45, 7, k)
		pdf.SetFont("Helvetica", "", 11)
		pdf.Cell(0, 7, v)
		pdf.Ln(7)
	}
	writeKV("Exam", sum.ExamID)
	writeKV("Student", fmt.Sprintf("%s (%s)", sum.StudentName, sum.StudentID))
	writeKV("Subject", sum.Subject)
	writeKV("Started", sum.StartedAt.UTC().Format(time.RFC1123))
	writeKV("Ended", sum.EndedAt.UTC().Format(time.RFC1123))
	if sum.Graded {
		writeKV("Score", fmt.Sprintf("%.1f / %.1f (%.1f%%, %s)",
			sum.Score, sum.MaxScore, sum.Percentage, sum.Letter))
	} else {
		writeKV("Score", "not graded")
	}
	writeKV("Total violations", fmt.Sprintf("%d", len(events)))
	pdf.Ln(4)

	if len(events) == 0 {
		pdf.SetFont("Helvetica", "I", 11)
		pdf.Cell(0, 8, "No violations were recorded during this exam.")
		return pdf.Output(w)
	}

	pdf.SetFont("Helvetica", "B", 13)
	pdf.Cell(0, 9, "Violations by Type")
	pdf.Ln(10)
	pdf.SetFont("Helvetica", "", 10)
	for _, tc := range breakdown(events) {
		pdf.Cell(70, 6, tc.Type)
		pdf.Cell(25, 6, fmt.Sprintf("%d", tc.Count))
		pdf.Cell(0, 6, fmt.Sprintf("%.1f%%", tc.Percent))
		pdf.Ln(6)
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 13)
	if len(events) > detailLimit {
		pdf.Cell(0, 9, fmt.Sprintf("Event Detail (first %d of %d)", detailLimit, len(events)))
	} else {
		pdf.Cell(0, 9, "Event Detail")
	}
	pdf.Ln(10)
	pdf.SetFont("Helvetica", "", 9)
	detail := events
	if len(detail) > detailLimit {
		detail = detail[:detailLimit]
	}
	for _, ev := range detail {
		timestamp := "N/A"
		if !ev.Timestamp.IsZero() {
			timestamp = ev.Timestamp.UTC().Format("15:04:05")
		}
		line := fmt.Sprintf("%s  [%s/%s]  %s",
			timestamp, orPlaceholder(ev.Type), orPlaceholder(string(ev.Severity)), orPlaceholder(ev.Message))
		pdf.MultiCell(0, 5, line, "", "L", false)
		pdf.Ln(1)
	}
	pdf.Ln(4)

	var withEvidence []violations.Event
	for _, ev := range events {
		if ev.Evidence != "" {
			withEvidence = append(withEvidence, ev)
		}
	}
	if len(withEvidence) > 0 {
		pdf.SetFont("Helvetica", "B", 13)
		pdf.Cell(0, 9, "Evidence Appendix")
		pdf.Ln(10)
		pdf.SetFont("Helvetica", "", 8)
		for _, ev := range withEvidence {
			pdf.MultiCell(0, 5, fmt.Sprintf("%s  %s", ev.Type, ev.Evidence), "", "L", false)
		}
	}

	return pdf.Output(w)
}
