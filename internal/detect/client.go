// Package detect talks to the detection service's REST surface: the
// pre-exam environment check, gaze calibration, and final grading.
package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Client calls the detection service over HTTP.
type Client struct {
	url        string
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient creates a client for the detection service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		url: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: slog.Default().With("component", "detect-client"),
	}
}

// EnvironmentCheck is the pre-exam readiness verdict.
type EnvironmentCheck struct {
	LightingOK            bool   `json:"lighting_ok"`
	FaceDetected          bool   `json:"face_detected"`
	FaceCentered          bool   `json:"face_centered"`
	MultipleFacesDetected bool   `json:"multiple_faces_detected"`
	Message               string `json:"message"`
}

// Passed reports whether the environment is acceptable for an exam.
func (c *EnvironmentCheck) Passed() bool {
	return c.LightingOK && c.FaceDetected && c.FaceCentered && !c.MultipleFacesDetected
}

// Issues lists the human-readable reasons the check failed.
func (c *EnvironmentCheck) Issues() []string {
	var issues []string
	if !c.LightingOK {
		issues = append(issues, "lighting is too dark or too bright")
	}
	if !c.FaceDetected {
		issues = append(issues, "no face detected")
	}
	if c.FaceDetected && !c.FaceCentered {
		issues = append(issues, "face is not centered in frame")
	}
	if c.MultipleFacesDetected {
		issues = append(issues, "more than one face in frame")
	}
	return issues
}

// Calibration holds the student's neutral head pose, captured once before
// monitoring begins.
type Calibration struct {
	Success bool    `json:"success"`
	Pitch   float64 `json:"pitch"`
	Yaw     float64 `json:"yaw"`
	Message string  `json:"message"`
}

// GradeRequest asks the service to score a finished exam.
type GradeRequest struct {
	ExamID   string   `json:"exam_id"`
	Student  string   `json:"student_id"`
	Answers  []Answer `json:"answers"`
	MaxScore float64  `json:"max_score"`
}

// Answer is one submitted response.
type Answer struct {
	QuestionID string `json:"question_id"`
	Response   string `json:"response"`
}

// QuestionResult is one scored answer.
type QuestionResult struct {
	QuestionID string  `json:"question_id"`
	Score      float64 `json:"score"`
	MaxScore   float64 `json:"max_score"`
	Feedback   string  `json:"feedback,omitempty"`
}

// GradeResult is the scored outcome.
type GradeResult struct {
	Success     bool             `json:"success"`
	TotalScore  float64          `json:"total_score"`
	MaxScore    float64          `json:"max_score"`
	Percentage  float64          `json:"percentage"`
	GradeLetter string           `json:"grade_letter"`
	Results     []QuestionResult `json:"results,omitempty"`
	Message     string           `json:"message,omitempty"`
}

// CheckEnvironment submits a sample frame for pre-exam validation.
func (c *Client) CheckEnvironment(ctx context.Context, frame []byte, audioLevel float64) (*EnvironmentCheck, error) {
	req := struct {
		Frame      []byte  `json:"frame"`
		AudioLevel float64 `json:"audio_level"`
	}{Frame: frame, AudioLevel: audioLevel}

	var check EnvironmentCheck
	if err := c.post(ctx, "/api/environment-check", req, &check); err != nil {
		return nil, err
	}
	c.log.Info("environment check complete", "passed", check.Passed(), "issues", len(check.Issues()))
	return &check, nil
}

// Calibrate captures the student's baseline head pose from a frame.
func (c *Client) Calibrate(ctx context.Context, frame []byte) (*Calibration, error) {
	req := struct {
		Frame []byte `json:"frame"`
	}{Frame: frame}

	var cal Calibration
	if err := c.post(ctx, "/api/calibrate", req, &cal); err != nil {
		return nil, err
	}
	if !cal.Success {
		return nil, fmt.Errorf("calibration rejected: %s", cal.Message)
	}
	c.log.Info("calibration captured", "pitch", cal.Pitch, "yaw", cal.Yaw)
	return &cal, nil
}

// Grade scores the submitted answers.
func (c *Client) Grade(ctx context.Context, req GradeRequest) (*GradeResult, error) {
	var result GradeResult
	if err := c.post(ctx, "/api/grade-exam", req, &result); err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("grading rejected: %s", result.Message)
	}
	if result.GradeLetter == "" {
		result.GradeLetter = GradeLetter(result.Percentage)
	}
	c.log.Info("exam graded", "score", result.TotalScore, "percentage", result.Percentage, "letter", result.GradeLetter)
	return &result, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s%s", c.url, path)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("detection service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
