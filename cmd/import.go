package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/examguard/examguard/internal/store"
)

var (
	flagImportFile    string
	flagImportAttempt uint
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load an exam paper and submitted answers into the store",
	Long: `Import exam questions and, optionally, a student's submitted answers
from a YAML file. Questions are keyed by exam and question ID, so
re-importing the same paper is harmless. Answers attached to an attempt are
graded when that attempt is submitted.`,
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&flagImportFile, "file", "", "YAML exam file (required)")
	importCmd.Flags().UintVar(&flagImportAttempt, "attempt", 0, "Attempt ID to attach answers to")
	importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}

// examFile is the YAML shape the import command accepts.
type examFile struct {
	ExamID    string `yaml:"exam_id"`
	Questions []struct {
		ID       string  `yaml:"id"`
		Text     string  `yaml:"text"`
		MaxMarks float64 `yaml:"max_marks"`
	} `yaml:"questions"`
	Answers []struct {
		QuestionID string `yaml:"question_id"`
		Response   string `yaml:"response"`
	} `yaml:"answers"`
}

func parseExamFile(data []byte) (*examFile, error) {
	var f examFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse exam file: %w", err)
	}
	if f.ExamID == "" {
		return nil, fmt.Errorf("exam file has no exam_id")
	}
	if len(f.Questions) == 0 && len(f.Answers) == 0 {
		return nil, fmt.Errorf("exam file has neither questions nor answers")
	}
	return &f, nil
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(flagImportFile)
	if err != nil {
		return fmt.Errorf("read exam file: %w", err)
	}
	f, err := parseExamFile(data)
	if err != nil {
		return err
	}
	if len(f.Answers) > 0 && flagImportAttempt == 0 {
		return fmt.Errorf("--attempt is required to import answers")
	}

	db, err := store.Open(cfg.StorePath)
	if err != nil {
		return err
	}

	if len(f.Questions) > 0 {
		qs := make([]store.Question, 0, len(f.Questions))
		for _, q := range f.Questions {
			qs = append(qs, store.Question{QuestionID: q.ID, Text: q.Text, MaxMarks: q.MaxMarks})
		}
		if err := db.SaveQuestions(f.ExamID, qs); err != nil {
			return err
		}
		fmt.Printf("Imported %d questions for exam %s\n", len(qs), f.ExamID)
	}
	if len(f.Answers) > 0 {
		known, err := db.Questions(f.ExamID)
		if err != nil {
			return err
		}
		knownIDs := make(map[string]bool, len(known))
		for _, q := range known {
			knownIDs[q.QuestionID] = true
		}
		as := make([]store.Answer, 0, len(f.Answers))
		for _, a := range f.Answers {
			if len(knownIDs) > 0 && !knownIDs[a.QuestionID] {
				fmt.Fprintf(os.Stderr, "warning: answer references unknown question %s\n", a.QuestionID)
			}
			as = append(as, store.Answer{QuestionID: a.QuestionID, Response: a.Response})
		}
		if err := db.SaveAnswers(flagImportAttempt, as); err != nil {
			return err
		}
		fmt.Printf("Imported %d answers for attempt %d\n", len(as), flagImportAttempt)
	}
	return nil
}
