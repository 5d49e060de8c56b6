// Package protocol defines the wire contract between the proctoring agent
// and the AI detection service. All messages are JSON with a "type"
// discriminator; the agent decodes the envelope first and then the typed
// payload.
package protocol

import "encoding/json"

// Outbound message types
const (
	TypeFrame           = "frame"
	TypeAudio           = "audio"
	TypeBrowserActivity = "browser_activity"
	TypePing            = "ping"
)

// Inbound message types
const (
	TypeDetectionResult  = "detection_result"
	TypeViolation        = "violation"
	TypePong             = "pong"
	TypeAudioLevel       = "audio_level"
	TypeDetectionSkipped = "detection_skipped"
	TypeError            = "error"
)

// Violation types the detection service and the agent can produce.
const (
	ViolationLookingAway      = "looking_away"
	ViolationMultipleFaces    = "multiple_faces"
	ViolationNoPerson         = "no_person"
	ViolationPhoneDetected    = "phone_detected"
	ViolationBookDetected     = "book_detected"
	ViolationEyeMovement      = "eye_movement"
	ViolationShoulderMovement = "shoulder_movement"
	ViolationExcessiveNoise   = "excessive_noise"
	ViolationTabSwitch        = "tab_switch"
	ViolationCopyPaste        = "copy_paste"
)

// Envelope is used for initial JSON decode to determine message type.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SessionContext identifies the exam attempt a message belongs to. It is
// embedded in every outbound message so its fields flatten into the JSON
// object the detection service expects.
type SessionContext struct {
	ExamID      string `json:"exam_id"`
	StudentID   string `json:"student_id"`
	StudentName string `json:"student_name"`
	SubjectCode string `json:"subject_code"`
	SubjectName string `json:"subject_name"`
}

// FrameMessage carries one base64-encoded camera frame plus the session's
// calibration baseline and the audio level sampled alongside the frame.
type FrameMessage struct {
	Type            string  `json:"type"`
	Frame           string  `json:"frame"`
	CalibratedPitch float64 `json:"calibrated_pitch"`
	CalibratedYaw   float64 `json:"calibrated_yaw"`
	AudioLevel      float64 `json:"audio_level"`
	SessionContext
}

// AudioMessage carries one normalized audio loudness sample (0..100).
type AudioMessage struct {
	Type       string  `json:"type"`
	AudioLevel float64 `json:"audio_level"`
	SessionContext
}

// BrowserActivityMessage reports a browser-native violation (tab switch,
// copy/paste) detected without a network round trip.
type BrowserActivityMessage struct {
	Type          string `json:"type"`
	ViolationType string `json:"violation_type"`
	Message       string `json:"message"`
	SessionContext
}

// PingMessage is the heartbeat sent while the connection is open.
type PingMessage struct {
	Type string `json:"type"`
}

// ViolationDetail is a single violation as reported by the detection service.
type ViolationDetail struct {
	Type       string   `json:"type"`
	Severity   string   `json:"severity"`
	Message    string   `json:"message"`
	Confidence *float64 `json:"confidence,omitempty"`
	Timestamp  string   `json:"timestamp,omitempty"`
}

// DetectionResult is the detection service's reply to a frame message. A
// single frame can carry zero or more violations.
type DetectionResult struct {
	Timestamp      string            `json:"timestamp"`
	Violations     []ViolationDetail `json:"violations"`
	FaceCount      int               `json:"face_count"`
	LookingAway    bool              `json:"looking_away"`
	MultipleFaces  bool              `json:"multiple_faces"`
	NoPerson       bool              `json:"no_person"`
	PhoneDetected  bool              `json:"phone_detected"`
	BookDetected   bool              `json:"book_detected"`
	SnapshotBase64 string            `json:"snapshot_base64,omitempty"`
}

// AudioLevelData is the service's echo of the current audio level.
type AudioLevelData struct {
	Level     float64 `json:"level"`
	Timestamp string  `json:"timestamp"`
}

// DetectionSkippedData explains why a frame was not processed (throttling).
type DetectionSkippedData struct {
	Reason      string  `json:"reason"`
	IntervalSec float64 `json:"interval_sec"`
	Timestamp   string  `json:"timestamp"`
}

// ErrorData is an inbound service-side error notice.
type ErrorData struct {
	Message string `json:"message"`
}
