// Package session drives one proctored exam sitting from start to report:
// it owns the state machine, wires the sampler to the stream, routes
// detection replies into the violation log, and finishes the attempt
// exactly once.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/examguard/examguard/internal/activity"
	"github.com/examguard/examguard/internal/detect"
	"github.com/examguard/examguard/internal/evidence"
	"github.com/examguard/examguard/internal/protocol"
	"github.com/examguard/examguard/internal/sampler"
	"github.com/examguard/examguard/internal/store"
	"github.com/examguard/examguard/internal/stream"
	"github.com/examguard/examguard/internal/violations"
)

// State of a controller.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateMonitoring
	StateSubmitting
	StateEnded
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateMonitoring:
		return "monitoring"
	case StateSubmitting:
		return "submitting"
	case StateEnded:
		return "ended"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// FrameDevice is a closeable camera.
type FrameDevice interface {
	sampler.FrameSource
	Close() error
}

// AudioDevice is a closeable microphone.
type AudioDevice interface {
	sampler.AudioSource
	Close() error
}

// Detector is the detection service's REST surface.
type Detector interface {
	CheckEnvironment(ctx context.Context, frame []byte, audioLevel float64) (*detect.EnvironmentCheck, error)
	Calibrate(ctx context.Context, frame []byte) (*detect.Calibration, error)
	Grade(ctx context.Context, req detect.GradeRequest) (*detect.GradeResult, error)
}

// Streamer is the live WebSocket connection.
type Streamer interface {
	Connect(ctx context.Context)
	WaitOpen(ctx context.Context, timeout time.Duration) bool
	Send(msg any) error
	SetHandler(h stream.Handler)
	Disconnect()
}

// Recorder persists attempts and violations.
type Recorder interface {
	CreateAttempt(examID, studentID, studentName, subject string) (*store.ExamAttempt, error)
	SetCalibration(attemptID uint, pitch, yaw float64) error
	FinalizeAttempt(attemptID uint, status string, score, maxScore, percentage float64, letter string) error
	SaveViolation(attemptID uint, rec store.ViolationRecord) error
	Answers(attemptID uint) ([]store.Answer, error)
	ScoreAnswer(attemptID uint, questionID string, score float64, feedback string) error
}

// EvidenceSink buffers violation snapshots for upload.
type EvidenceSink interface {
	Add(key string, jpeg []byte)
	Flush(ctx context.Context) (map[string]string, error)
}

// Config for one sitting.
type Config struct {
	Session protocol.SessionContext

	// Duration of the exam. Zero means no countdown; the sitting ends only
	// via EndExam or Abort.
	Duration time.Duration
	// OpenWait bounds how long Start blocks for the stream to open before
	// monitoring begins with the connection still retrying in background.
	OpenWait time.Duration
	// MaxScore is forwarded to grading.
	MaxScore float64

	// Sampling cadences, passed through to the sampler.
	FrameInterval time.Duration
	AudioInterval time.Duration

	ViolationConfig violations.Config

	// OnState observes every transition (optional).
	OnState func(State)
}

// Deps are the controller's collaborators.
type Deps struct {
	Frames   FrameDevice
	Audio    AudioDevice
	Detector Detector
	Stream   Streamer
	Recorder Recorder
	Evidence EvidenceSink
	// Activity delivers browser signals. Nil disables browser monitoring.
	Activity <-chan activity.Event
}

// Controller runs the sitting.
type Controller struct {
	cfg  Config
	deps Deps
	agg  *violations.Aggregator
	log  *slog.Logger

	mu          sync.Mutex
	state       State
	attemptID   uint
	calibration detect.Calibration
	result      *detect.GradeResult
	// eventKeys maps violation event IDs to evidence object keys so the
	// uploaded URL can be attached to the persisted record.
	eventKeys map[string]string
	// evidenceData keeps the decoded snapshot bytes per object key; the
	// signed manifest digests the exact payload that was uploaded.
	evidenceData map[string][]byte
	// evidenceURLs is the key→URL map from the evidence flush at submit.
	evidenceURLs map[string]string

	stopSampler func()
	monitorStop chan struct{}
	submitOnce  sync.Once
}

// New creates a controller in StateIdle.
func New(cfg Config, deps Deps) *Controller {
	if cfg.OpenWait <= 0 {
		cfg.OpenWait = 10 * time.Second
	}
	return &Controller{
		cfg:       cfg,
		deps:      deps,
		agg:       violations.New(cfg.ViolationConfig),
		log:       slog.Default().With("component", "session", "exam", cfg.Session.ExamID, "student", cfg.Session.StudentID),
		eventKeys:    make(map[string]string),
		evidenceData: make(map[string][]byte),
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.log.Info("session state changed", "from", prev, "to", s)
		if c.cfg.OnState != nil {
			c.cfg.OnState(s)
		}
	}
}

// AttemptID returns the persisted attempt row, 0 before Start.
func (c *Controller) AttemptID() uint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attemptID
}

// Violations returns a consistent snapshot of the violation log. Valid in
// every state, including after Abort.
func (c *Controller) Violations() violations.State {
	return c.agg.Snapshot()
}

// Result returns the grade, nil until a completed submit.
func (c *Controller) Result() *detect.GradeResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Evidence returns the uploaded object key→URL map and the snapshot bytes
// behind each key, for manifest signing. URLs are empty until the submit
// flush has run; both maps are copies.
func (c *Controller) Evidence() (map[string]string, map[string][]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	urls := make(map[string]string, len(c.evidenceURLs))
	for k, u := range c.evidenceURLs {
		urls[k] = u
	}
	snapshots := make(map[string][]byte, len(c.evidenceData))
	for k, b := range c.evidenceData {
		snapshots[k] = b
	}
	return urls, snapshots
}

// Start takes the sitting from Idle to Monitoring: it records the attempt,
// verifies the environment, calibrates, connects the stream, and begins
// sampling. The stream failing to open inside OpenWait is not fatal; the
// client keeps reconnecting while monitoring runs.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot start session in state %s", st)
	}
	c.state = StateStarting
	c.mu.Unlock()
	if c.cfg.OnState != nil {
		c.cfg.OnState(StateStarting)
	}

	sess := c.cfg.Session
	attempt, err := c.deps.Recorder.CreateAttempt(sess.ExamID, sess.StudentID, sess.StudentName, sess.SubjectCode)
	if err != nil {
		c.setState(StateAborted)
		return fmt.Errorf("record attempt: %w", err)
	}
	c.mu.Lock()
	c.attemptID = attempt.ID
	c.mu.Unlock()

	frame, err := c.awaitFrame(ctx)
	if err != nil {
		c.failStart(attempt.ID)
		return fmt.Errorf("camera not ready: %w", err)
	}

	if check, err := c.deps.Detector.CheckEnvironment(ctx, frame, c.deps.Audio.Level()); err != nil {
		// An unreachable service must not block the sitting; the stream
		// layer keeps retrying independently.
		c.log.Warn("environment check unavailable, proceeding", "error", err)
	} else if !check.Passed() {
		c.failStart(attempt.ID)
		return fmt.Errorf("environment check failed: %v", check.Issues())
	}

	// Calibration is captured exactly once, before monitoring begins.
	if cal, err := c.deps.Detector.Calibrate(ctx, frame); err != nil {
		c.log.Warn("calibration unavailable, using zero baseline", "error", err)
	} else {
		c.mu.Lock()
		c.calibration = *cal
		c.mu.Unlock()
		if err := c.deps.Recorder.SetCalibration(attempt.ID, cal.Pitch, cal.Yaw); err != nil {
			c.log.Warn("failed to persist calibration", "error", err)
		}
	}

	c.deps.Stream.SetHandler(c.handleInbound)
	c.deps.Stream.Connect(ctx)
	if !c.deps.Stream.WaitOpen(ctx, c.cfg.OpenWait) {
		c.log.Warn("stream not open yet, monitoring starts with reconnect in progress")
	}

	smp := sampler.New(sampler.Config{
		FrameInterval: c.cfg.FrameInterval,
		AudioInterval: c.cfg.AudioInterval,
	}, c.deps.Frames, c.deps.Audio)
	smp.OnFrame = c.onFrame
	smp.OnLevel = c.onLevel

	c.mu.Lock()
	c.stopSampler = smp.Start()
	c.monitorStop = make(chan struct{})
	stop := c.monitorStop
	c.mu.Unlock()

	if c.deps.Activity != nil {
		go c.activityLoop(stop)
	}
	if c.cfg.Duration > 0 {
		go c.countdown(ctx, stop)
	}

	c.setState(StateMonitoring)
	return nil
}

// failStart closes a half-started sitting so the attempt row is never
// left active.
func (c *Controller) failStart(attemptID uint) {
	// Consume the submit gate: a sitting that never started cannot be
	// submitted later.
	c.submitOnce.Do(func() {})
	if err := c.deps.Recorder.FinalizeAttempt(attemptID, store.StatusTerminated, 0, c.cfg.MaxScore, 0, ""); err != nil {
		c.log.Error("failed to finalize aborted attempt", "error", err)
	}
	c.setState(StateAborted)
}

// awaitFrame polls the camera until it produces a frame, bounded by
// OpenWait. The camera needs a moment after the pipeline starts.
func (c *Controller) awaitFrame(ctx context.Context) ([]byte, error) {
	deadline := time.Now().Add(c.cfg.OpenWait)
	for {
		if w, h := c.deps.Frames.Dimensions(); w > 0 && h > 0 {
			if frame, err := c.deps.Frames.Capture(); err == nil {
				return frame, nil
			}
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("no frame within %s", c.cfg.OpenWait)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (c *Controller) countdown(ctx context.Context, stop chan struct{}) {
	timer := time.NewTimer(c.cfg.Duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		c.log.Info("exam time expired, submitting")
		c.EndExam(context.Background())
	case <-stop:
	case <-ctx.Done():
	}
}

func (c *Controller) activityLoop(stop chan struct{}) {
	for {
		select {
		case ev, ok := <-c.deps.Activity:
			if !ok {
				return
			}
			c.handleActivity(ev)
		case <-stop:
			return
		}
	}
}

func (c *Controller) handleActivity(ev activity.Event) {
	var vtype, message string
	switch ev.Kind {
	case activity.KindVisibility:
		if !ev.Hidden {
			return
		}
		vtype, message = protocol.ViolationTabSwitch, "Tab switch detected"
	case activity.KindCopy:
		vtype, message = protocol.ViolationCopyPaste, "Copy detected"
	case activity.KindPaste:
		vtype, message = protocol.ViolationCopyPaste, "Paste detected"
	default:
		return
	}

	if _, ok := c.agg.IngestLocal(vtype, message); !ok {
		return
	}
	msg := protocol.BrowserActivityMessage{
		Type:           protocol.TypeBrowserActivity,
		ViolationType:  vtype,
		Message:        message,
		SessionContext: c.cfg.Session,
	}
	if err := c.deps.Stream.Send(msg); err != nil {
		c.log.Warn("failed to report browser activity", "error", err)
	}
}

func (c *Controller) onFrame(jpeg []byte, audioLevel float64) {
	c.mu.Lock()
	cal := c.calibration
	c.mu.Unlock()

	msg := protocol.FrameMessage{
		Type:            protocol.TypeFrame,
		Frame:           base64.StdEncoding.EncodeToString(jpeg),
		CalibratedPitch: cal.Pitch,
		CalibratedYaw:   cal.Yaw,
		AudioLevel:      audioLevel,
		SessionContext:  c.cfg.Session,
	}
	if err := c.deps.Stream.Send(msg); err != nil {
		c.log.Warn("frame rejected", "error", err)
	}
}

func (c *Controller) onLevel(level float64) {
	c.agg.IngestAudio(level)
	msg := protocol.AudioMessage{
		Type:           protocol.TypeAudio,
		AudioLevel:     level,
		SessionContext: c.cfg.Session,
	}
	if err := c.deps.Stream.Send(msg); err != nil {
		c.log.Warn("audio sample rejected", "error", err)
	}
}

// handleInbound routes detection-service replies into the violation log.
func (c *Controller) handleInbound(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeDetectionResult:
		var res protocol.DetectionResult
		if err := json.Unmarshal(env.Data, &res); err != nil {
			c.log.Warn("malformed detection result", "error", err)
			return
		}
		events := c.agg.IngestRemote(res.Violations, res.SnapshotBase64)
		c.queueEvidence(events)
	case protocol.TypeViolation:
		var v protocol.ViolationDetail
		if err := json.Unmarshal(env.Data, &v); err != nil {
			c.log.Warn("malformed violation", "error", err)
			return
		}
		c.agg.IngestRemote([]protocol.ViolationDetail{v}, "")
	case protocol.TypeAudioLevel:
		// Service-side echo of our own samples; nothing to do.
	case protocol.TypeDetectionSkipped:
		c.log.Debug("detection skipped by service")
	case protocol.TypeError:
		var e protocol.ErrorData
		if err := json.Unmarshal(env.Data, &e); err == nil {
			c.log.Warn("detection service error", "message", e.Message)
		}
	}
}

// queueEvidence decodes each event's snapshot and schedules it for upload.
func (c *Controller) queueEvidence(events []violations.Event) {
	if c.deps.Evidence == nil {
		return
	}
	sess := c.cfg.Session
	for _, ev := range events {
		if ev.Evidence == "" {
			continue
		}
		jpeg, err := base64.StdEncoding.DecodeString(ev.Evidence)
		if err != nil {
			c.log.Warn("snapshot not valid base64, skipping", "event", ev.ID)
			continue
		}
		key := evidence.Key(sess.ExamID, sess.StudentID, ev.Type, ev.Timestamp)
		c.deps.Evidence.Add(key, jpeg)
		c.mu.Lock()
		c.eventKeys[ev.ID] = key
		c.evidenceData[key] = jpeg
		c.mu.Unlock()
	}
}

// EndExam submits the sitting: grading runs and the attempt is marked
// completed. Safe to call multiple times; only the first wins.
func (c *Controller) EndExam(ctx context.Context) {
	c.finish(ctx, store.StatusCompleted, StateEnded)
}

// Abort terminates the sitting without grading. The violation log is
// preserved and still flushed to the database.
func (c *Controller) Abort(ctx context.Context, reason string) {
	c.log.Warn("session aborted", "reason", reason)
	c.finish(ctx, store.StatusTerminated, StateAborted)
}

func (c *Controller) finish(ctx context.Context, status string, final State) {
	c.submitOnce.Do(func() {
		c.setState(StateSubmitting)

		// Stop producing before consuming anything downstream. The sampler
		// cancel is synchronous: after it returns no frame or audio
		// callback fires.
		c.mu.Lock()
		stopSampler := c.stopSampler
		monitorStop := c.monitorStop
		attemptID := c.attemptID
		c.mu.Unlock()
		if stopSampler != nil {
			stopSampler()
		}
		if monitorStop != nil {
			close(monitorStop)
		}

		urls := c.flushEvidence(ctx)
		c.mu.Lock()
		c.evidenceURLs = urls
		c.mu.Unlock()

		var result *detect.GradeResult
		if status == store.StatusCompleted {
			result = c.grade(ctx, attemptID)
		}

		c.persistViolations(attemptID, urls)

		score, maxScore, pct, letter := 0.0, c.cfg.MaxScore, 0.0, ""
		if result != nil {
			score, maxScore, pct, letter = result.TotalScore, result.MaxScore, result.Percentage, result.GradeLetter
		}
		if err := c.deps.Recorder.FinalizeAttempt(attemptID, status, score, maxScore, pct, letter); err != nil {
			c.log.Error("failed to finalize attempt", "error", err)
		}

		if err := c.deps.Frames.Close(); err != nil {
			c.log.Warn("camera close failed", "error", err)
		}
		if err := c.deps.Audio.Close(); err != nil {
			c.log.Warn("microphone close failed", "error", err)
		}
		c.deps.Stream.Disconnect()

		c.mu.Lock()
		c.result = result
		c.mu.Unlock()
		c.setState(final)
	})
}

func (c *Controller) flushEvidence(ctx context.Context) map[string]string {
	if c.deps.Evidence == nil {
		return nil
	}
	urls, err := c.deps.Evidence.Flush(ctx)
	if err != nil {
		c.log.Warn("evidence flush incomplete", "error", err)
	}
	return urls
}

func (c *Controller) grade(ctx context.Context, attemptID uint) *detect.GradeResult {
	answers, err := c.deps.Recorder.Answers(attemptID)
	if err != nil {
		c.log.Error("cannot load answers for grading", "error", err)
		return nil
	}
	req := detect.GradeRequest{
		ExamID:   c.cfg.Session.ExamID,
		Student:  c.cfg.Session.StudentID,
		MaxScore: c.cfg.MaxScore,
	}
	for _, a := range answers {
		req.Answers = append(req.Answers, detect.Answer{QuestionID: a.QuestionID, Response: a.Response})
	}
	result, err := c.deps.Detector.Grade(ctx, req)
	if err != nil {
		c.log.Error("grading failed", "error", err)
		return nil
	}
	for _, qr := range result.Results {
		if err := c.deps.Recorder.ScoreAnswer(attemptID, qr.QuestionID, qr.Score, qr.Feedback); err != nil {
			c.log.Error("failed to record question score", "question", qr.QuestionID, "error", err)
		}
	}
	return result
}

// persistViolations flushes the full log to the database. Saves are
// idempotent on event ID, so a partial earlier flush is harmless.
func (c *Controller) persistViolations(attemptID uint, urls map[string]string) {
	st := c.agg.Snapshot()
	c.mu.Lock()
	keys := make(map[string]string, len(c.eventKeys))
	for id, key := range c.eventKeys {
		keys[id] = key
	}
	c.mu.Unlock()

	for _, ev := range st.Events {
		rec := store.ViolationRecord{
			EventID:    ev.ID,
			Type:       ev.Type,
			Severity:   string(ev.Severity),
			Message:    ev.Message,
			Confidence: ev.Confidence,
			OccurredAt: ev.Timestamp,
		}
		if key, ok := keys[ev.ID]; ok {
			rec.EvidenceURL = urls[key]
		}
		if err := c.deps.Recorder.SaveViolation(attemptID, rec); err != nil {
			c.log.Error("failed to persist violation", "event", ev.ID, "error", err)
		}
	}
	c.log.Info("violation log persisted", "events", len(st.Events), "suppressed", st.Suppressed)
}
