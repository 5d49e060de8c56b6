// Package store persists exam attempts, answers, and violation records in
// a local SQLite database so evidence survives crashes and disconnects.
package store

import (
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Attempt statuses.
const (
	StatusActive     = "active"
	StatusCompleted  = "completed"
	StatusTerminated = "terminated"
)

// Student is the examinee identity as registered with the exam service.
type Student struct {
	gorm.Model
	StudentID string `gorm:"uniqueIndex"`
	Name      string
}

// ExamAttempt is one sitting of one exam by one student.
type ExamAttempt struct {
	gorm.Model
	ExamID    string `gorm:"index"`
	StudentID string `gorm:"index"`
	Subject   string
	Status    string
	StartedAt time.Time
	EndedAt   *time.Time

	CalibratedPitch float64
	CalibratedYaw   float64

	Score      float64
	MaxScore   float64
	Percentage float64
	Letter     string
}

// Question is a cached exam question, stored so answers can be replayed
// for grading even if the session ends abruptly.
type Question struct {
	gorm.Model
	ExamID     string `gorm:"index"`
	QuestionID string `gorm:"index"`
	Text       string
	MaxMarks   float64
}

// Answer is a submitted response tied to an attempt. Score and Feedback
// are filled in after grading.
type Answer struct {
	gorm.Model
	AttemptID  uint `gorm:"index"`
	QuestionID string
	Response   string
	Score      float64
	Feedback   string
}

// ViolationRecord is the durable copy of one aggregated violation event.
type ViolationRecord struct {
	gorm.Model
	AttemptID   uint   `gorm:"index"`
	EventID     string `gorm:"uniqueIndex"`
	Type        string `gorm:"index"`
	Severity    string
	Message     string
	Confidence  *float64
	OccurredAt  time.Time
	EvidenceURL string
}

// Store wraps the database handle.
type Store struct {
	db  *gorm.DB
	log *slog.Logger
}

// Open connects to the SQLite database at path and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Student{}, &ExamAttempt{}, &Question{}, &Answer{}, &ViolationRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{
		db:  db,
		log: slog.Default().With("component", "store"),
	}, nil
}

// CreateAttempt records the start of a sitting and returns its row.
func (s *Store) CreateAttempt(examID, studentID, studentName, subject string) (*ExamAttempt, error) {
	student := Student{StudentID: studentID, Name: studentName}
	if err := s.db.Where(Student{StudentID: studentID}).FirstOrCreate(&student).Error; err != nil {
		return nil, fmt.Errorf("upsert student: %w", err)
	}

	attempt := ExamAttempt{
		ExamID:    examID,
		StudentID: studentID,
		Subject:   subject,
		Status:    StatusActive,
		StartedAt: time.Now().UTC(),
	}
	if err := s.db.Create(&attempt).Error; err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}
	s.log.Info("attempt created", "exam", examID, "student", studentID, "attempt", attempt.ID)
	return &attempt, nil
}

// SetCalibration stores the captured baseline head pose on the attempt.
func (s *Store) SetCalibration(attemptID uint, pitch, yaw float64) error {
	err := s.db.Model(&ExamAttempt{}).Where("id = ?", attemptID).Updates(map[string]any{
		"calibrated_pitch": pitch,
		"calibrated_yaw":   yaw,
	}).Error
	if err != nil {
		return fmt.Errorf("save calibration: %w", err)
	}
	return nil
}

// FinalizeAttempt closes the attempt with a terminal status and, when
// graded, the score.
func (s *Store) FinalizeAttempt(attemptID uint, status string, score, maxScore, percentage float64, letter string) error {
	if status != StatusCompleted && status != StatusTerminated {
		return fmt.Errorf("invalid terminal status: %s", status)
	}
	now := time.Now().UTC()
	err := s.db.Model(&ExamAttempt{}).Where("id = ?", attemptID).Updates(map[string]any{
		"status":     status,
		"ended_at":   &now,
		"score":      score,
		"max_score":  maxScore,
		"percentage": percentage,
		"letter":     letter,
	}).Error
	if err != nil {
		return fmt.Errorf("finalize attempt: %w", err)
	}
	s.log.Info("attempt finalized", "attempt", attemptID, "status", status)
	return nil
}

// Student returns the registered identity for studentID.
func (s *Store) Student(studentID string) (*Student, error) {
	var st Student
	if err := s.db.Where("student_id = ?", studentID).First(&st).Error; err != nil {
		return nil, fmt.Errorf("load student %s: %w", studentID, err)
	}
	return &st, nil
}

// Attempt loads one attempt by row ID.
func (s *Store) Attempt(attemptID uint) (*ExamAttempt, error) {
	var attempt ExamAttempt
	if err := s.db.First(&attempt, attemptID).Error; err != nil {
		return nil, fmt.Errorf("load attempt %d: %w", attemptID, err)
	}
	return &attempt, nil
}

// SaveViolation persists one aggregated event. Re-saving the same event
// ID is a no-op, so flushing the full log is safe.
func (s *Store) SaveViolation(attemptID uint, rec ViolationRecord) error {
	rec.AttemptID = attemptID
	err := s.db.Where(ViolationRecord{EventID: rec.EventID}).FirstOrCreate(&rec).Error
	if err != nil {
		return fmt.Errorf("save violation %s: %w", rec.EventID, err)
	}
	return nil
}

// Violations returns all records for an attempt in insertion order.
func (s *Store) Violations(attemptID uint) ([]ViolationRecord, error) {
	var recs []ViolationRecord
	if err := s.db.Where("attempt_id = ?", attemptID).Order("id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("load violations: %w", err)
	}
	return recs, nil
}

// SaveQuestions caches the exam's questions.
func (s *Store) SaveQuestions(examID string, questions []Question) error {
	for i := range questions {
		questions[i].ExamID = examID
		q := questions[i]
		err := s.db.Where(Question{ExamID: examID, QuestionID: q.QuestionID}).FirstOrCreate(&q).Error
		if err != nil {
			return fmt.Errorf("save question %s: %w", q.QuestionID, err)
		}
	}
	return nil
}

// Questions returns the cached questions for an exam.
func (s *Store) Questions(examID string) ([]Question, error) {
	var qs []Question
	if err := s.db.Where("exam_id = ?", examID).Order("id").Find(&qs).Error; err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	return qs, nil
}

// SaveAnswers stores the student's responses for an attempt.
func (s *Store) SaveAnswers(attemptID uint, answers []Answer) error {
	for i := range answers {
		answers[i].AttemptID = attemptID
		if err := s.db.Create(&answers[i]).Error; err != nil {
			return fmt.Errorf("save answer for %s: %w", answers[i].QuestionID, err)
		}
	}
	return nil
}

// ScoreAnswer records the graded score for one response of an attempt.
func (s *Store) ScoreAnswer(attemptID uint, questionID string, score float64, feedback string) error {
	err := s.db.Model(&Answer{}).
		Where("attempt_id = ? AND question_id = ?", attemptID, questionID).
		Updates(map[string]any{"score": score, "feedback": feedback}).Error
	if err != nil {
		return fmt.Errorf("score answer %s: %w", questionID, err)
	}
	return nil
}

// Answers returns the responses recorded for an attempt.
func (s *Store) Answers(attemptID uint) ([]Answer, error) {
	var as []Answer
	if err := s.db.Where("attempt_id = ?", attemptID).Order("id").Find(&as).Error; err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	return as, nil
}
