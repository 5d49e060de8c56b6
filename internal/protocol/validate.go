package protocol

import "fmt"

// Browser activity violation types the agent is allowed to report.
var allowedActivityTypes = map[string]bool{
	ViolationTabSwitch: true,
	ViolationCopyPaste: true,
}

// ValidateContext checks that a message carries the session fields the
// detection service requires to attribute violations.
func ValidateContext(sc SessionContext) error {
	if sc.ExamID == "" {
		return fmt.Errorf("missing exam_id")
	}
	if sc.StudentID == "" {
		return fmt.Errorf("missing student_id")
	}
	return nil
}

// ValidateFrame checks an outbound frame message before send.
func ValidateFrame(m FrameMessage) error {
	if m.Frame == "" {
		return fmt.Errorf("empty frame payload")
	}
	if m.AudioLevel < 0 || m.AudioLevel > 100 {
		return fmt.Errorf("audio level out of range: %.1f", m.AudioLevel)
	}
	return ValidateContext(m.SessionContext)
}

// ValidateAudio checks an outbound audio level message before send.
func ValidateAudio(m AudioMessage) error {
	if m.AudioLevel < 0 || m.AudioLevel > 100 {
		return fmt.Errorf("audio level out of range: %.1f", m.AudioLevel)
	}
	return ValidateContext(m.SessionContext)
}

// ValidateBrowserActivity checks an outbound browser activity message.
func ValidateBrowserActivity(m BrowserActivityMessage) error {
	if !allowedActivityTypes[m.ViolationType] {
		return fmt.Errorf("invalid browser activity type: %q", m.ViolationType)
	}
	if m.Message == "" {
		return fmt.Errorf("missing activity message")
	}
	return ValidateContext(m.SessionContext)
}
