package cmd

import "testing"

func TestParseExamFile(t *testing.T) {
	data := []byte(`exam_id: exam-1
questions:
  - id: q1
    text: "2+2?"
    max_marks: 5
answers:
  - question_id: q1
    response: "4"
`)
	f, err := parseExamFile(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.ExamID != "exam-1" {
		t.Errorf("exam_id = %q", f.ExamID)
	}
	if len(f.Questions) != 1 || f.Questions[0].MaxMarks != 5 {
		t.Errorf("unexpected questions %+v", f.Questions)
	}
	if len(f.Answers) != 1 || f.Answers[0].Response != "4" {
		t.Errorf("unexpected answers %+v", f.Answers)
	}
}

func TestParseExamFileRejectsMissingExamID(t *testing.T) {
	if _, err := parseExamFile([]byte("questions:\n  - id: q1\n")); err == nil {
		t.Fatal("expected error for missing exam_id")
	}
}

func TestParseExamFileRejectsEmpty(t *testing.T) {
	if _, err := parseExamFile([]byte("exam_id: exam-1\n")); err == nil {
		t.Fatal("expected error for file with no questions or answers")
	}
}
