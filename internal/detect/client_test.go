package detect

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGradeLetter(t *testing.T) {
	cases := []struct {
		pct  float64
		want string
	}{
		{100, "A+"},
		{90, "A+"},
		{89.9, "A"},
		{85, "A"},
		{80, "A-"},
		{75, "B+"},
		{70, "B"},
		{65, "B-"},
		{60, "C+"},
		{55, "C"},
		{50, "C-"},
		{49.9, "D"},
		{40, "D"},
		{39.9, "F"},
		{0, "F"},
	}
	for _, tc := range cases {
		if got := GradeLetter(tc.pct); got != tc.want {
			t.Errorf("GradeLetter(%v) = %q, want %q", tc.pct, got, tc.want)
		}
	}
}

func TestCheckEnvironment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/environment-check" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		var req struct {
			Frame      []byte  `json:"frame"`
			AudioLevel float64 `json:"audio_level"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Frame) == 0 || req.AudioLevel != 12 {
			t.Errorf("unexpected request %+v", req)
		}
		json.NewEncoder(w).Encode(EnvironmentCheck{
			LightingOK:   false,
			FaceDetected: true,
			FaceCentered: true,
		})
	}))
	defer srv.Close()

	check, err := NewClient(srv.URL).CheckEnvironment(context.Background(), []byte("jpeg"), 12)
	if err != nil {
		t.Fatalf("check environment: %v", err)
	}
	if check.Passed() {
		t.Fatal("check with bad lighting must not pass")
	}
	if issues := check.Issues(); len(issues) != 1 || issues[0] != "lighting is too dark or too bright" {
		t.Fatalf("unexpected issues %v", issues)
	}
}

func TestEnvironmentCheckPassed(t *testing.T) {
	check := EnvironmentCheck{LightingOK: true, FaceDetected: true, FaceCentered: true}
	if !check.Passed() || len(check.Issues()) != 0 {
		t.Fatalf("expected clean pass, issues = %v", check.Issues())
	}
	check.MultipleFacesDetected = true
	if check.Passed() {
		t.Fatal("multiple faces must fail the check")
	}
}

func TestCalibrate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/calibrate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(Calibration{Success: true, Pitch: -3.5, Yaw: 1.2})
	}))
	defer srv.Close()

	cal, err := NewClient(srv.URL).Calibrate(context.Background(), []byte("jpeg"))
	if err != nil {
		t.Fatalf("calibrate: %v", err)
	}
	if cal.Pitch != -3.5 || cal.Yaw != 1.2 {
		t.Fatalf("unexpected calibration %+v", cal)
	}
}

func TestCalibrateFailureSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Calibration{Success: false, Message: "no face in frame"})
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL).Calibrate(context.Background(), []byte("jpeg")); err == nil {
		t.Fatal("expected error for unsuccessful calibration")
	}
}

func TestGradeFillsMissingLetter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(GradeResult{
			Success: true, TotalScore: 72, MaxScore: 100, Percentage: 72,
			Results: []QuestionResult{{QuestionID: "q1", Score: 72, MaxScore: 100}},
		})
	}))
	defer srv.Close()

	result, err := NewClient(srv.URL).Grade(context.Background(), GradeRequest{
		ExamID:  "exam-1",
		Student: "stu-1",
		Answers: []Answer{{QuestionID: "q1", Response: "42"}},
	})
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if result.GradeLetter != "B" {
		t.Fatalf("letter = %q, want B", result.GradeLetter)
	}
	if len(result.Results) != 1 {
		t.Fatalf("results = %+v", result.Results)
	}
}

func TestServerErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Calibrate(context.Background(), []byte("jpeg"))
	if err == nil {
		t.Fatal("expected error from 503 response")
	}
}
