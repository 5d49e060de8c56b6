package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/examguard/examguard/internal/report"
	"github.com/examguard/examguard/internal/store"
	"github.com/examguard/examguard/internal/violations"
)

var (
	flagAttemptID uint
	flagCSVPath   string
	flagPDFPath   string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export a finished attempt's violation record",
	Long: `Export the violation log of a recorded attempt as CSV, PDF, or both.
The exports are rebuilt from the database, so they can be regenerated at
any time after the sitting.`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().UintVar(&flagAttemptID, "attempt", 0, "Attempt ID to export (required)")
	reportCmd.Flags().StringVar(&flagCSVPath, "csv", "", "CSV output path")
	reportCmd.Flags().StringVar(&flagPDFPath, "pdf", "", "PDF output path")
	reportCmd.MarkFlagRequired("attempt")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	if flagCSVPath == "" && flagPDFPath == "" {
		return fmt.Errorf("nothing to do: pass --csv, --pdf, or both")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := store.Open(cfg.StorePath)
	if err != nil {
		return err
	}

	attempt, err := db.Attempt(flagAttemptID)
	if err != nil {
		return err
	}
	recs, err := db.Violations(flagAttemptID)
	if err != nil {
		return err
	}
	events := recordsToEvents(recs)

	studentName := attempt.StudentID
	if st, err := db.Student(attempt.StudentID); err == nil {
		studentName = st.Name
	}

	endedAt := time.Now().UTC()
	if attempt.EndedAt != nil {
		endedAt = *attempt.EndedAt
	}
	sum := report.Summary{
		ExamID:      attempt.ExamID,
		StudentID:   attempt.StudentID,
		Subject:     attempt.Subject,
		StartedAt:   attempt.StartedAt,
		EndedAt:     endedAt,
		Graded:      attempt.Status == store.StatusCompleted,
		Score:       attempt.Score,
		MaxScore:    attempt.MaxScore,
		Percentage:  attempt.Percentage,
		Letter:      attempt.Letter,
		StudentName: studentName,
	}

	if flagCSVPath != "" {
		if err := writeExport(flagCSVPath, func(f *os.File) error {
			return report.WriteCSV(f, events)
		}); err != nil {
			return err
		}
		fmt.Printf("CSV written to %s (%d events)\n", flagCSVPath, len(events))
	}
	if flagPDFPath != "" {
		if err := writeExport(flagPDFPath, func(f *os.File) error {
			return report.BuildPDF(f, sum, events, cfg.ReportDetailLimit)
		}); err != nil {
			return err
		}
		fmt.Printf("PDF written to %s\n", flagPDFPath)
	}
	return nil
}

func writeExport(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if err := write(f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func recordsToEvents(recs []store.ViolationRecord) []violations.Event {
	events := make([]violations.Event, 0, len(recs))
	for _, rec := range recs {
		events = append(events, violations.Event{
			ID:         rec.EventID,
			Type:       rec.Type,
			Severity:   violations.Severity(rec.Severity),
			Message:    rec.Message,
			Confidence: rec.Confidence,
			Timestamp:  rec.OccurredAt,
			Evidence:   rec.EvidenceURL,
		})
	}
	return events
}
