// Package violations is the single point of truth for what violations a
// proctored session has accumulated. AI-detected, browser-activity and
// audio-threshold violations all land in one append-only log; every counter
// the UI or a report shows is derived from that log, never maintained as an
// independent mutable field.
package violations

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/examguard/examguard/internal/protocol"
)

// Severity of a violation, fixed at classification time.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Event is one admitted violation. Events are immutable once appended.
type Event struct {
	ID         string
	Type       string
	Severity   Severity
	Message    string
	Confidence *float64
	Timestamp  time.Time
	// Evidence is the base64 snapshot captured with the violation, when
	// the detection service supplied one.
	Evidence string
}

// State is a consistent snapshot of the log and its derived counters.
type State struct {
	Events          []Event
	TotalViolations int
	TabSwitchCount  int
	CopyPasteCount  int
	PerType         map[string]int
	Suppressed      int
}

// Config tunes the aggregator.
type Config struct {
	// AudioThreshold and the severity bands classify audio-level
	// violations. Levels below the threshold are not violations at all.
	AudioThreshold  float64
	AudioMediumBand float64
	AudioHighBand   float64
	// ThrottleWindow suppresses a same-type violation arriving within the
	// window of the previous one. Zero disables throttling: a duplicate
	// delivery of the same detection result is then logged twice, which is
	// the documented behavior (the service throttles on its side).
	ThrottleWindow time.Duration
	// AudioThrottle bounds how often a sustained noise level becomes a new
	// excessive_noise event. Audio is sampled far faster than a violation
	// is meaningful; without this window one noisy second floods the log.
	// Values <= 0 fall back to the 12s default.
	AudioThrottle time.Duration
}

// Aggregator owns the violation log. Ingest methods may be called from
// independent goroutines; each append happens under one lock hold, so two
// concurrent ingests can never lose an event.
type Aggregator struct {
	mu         sync.Mutex
	log        []Event
	lastByType map[string]time.Time
	lastAudio  time.Time
	suppressed int

	cfg Config
	now func() time.Time
	lg  *slog.Logger
}

// New creates an empty aggregator.
func New(cfg Config) *Aggregator {
	if cfg.AudioThrottle <= 0 {
		cfg.AudioThrottle = 12 * time.Second
	}
	return &Aggregator{
		lastByType: make(map[string]time.Time),
		cfg:        cfg,
		now:        time.Now,
		lg:         slog.Default().With("component", "violations"),
	}
}

// IngestRemote appends every violation of one detection-service reply, in
// the order received. The reply's snapshot (if any) is attached to each
// event it evidences. Returns the appended events.
func (a *Aggregator) IngestRemote(batch []protocol.ViolationDetail, snapshot string) []Event {
	if len(batch) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	appended := make([]Event, 0, len(batch))
	for _, v := range batch {
		if v.Type == protocol.ViolationExcessiveNoise {
			// Noise is classified locally from the microphone; the service
			// echoes the same violation back, which must not count twice.
			a.lg.Debug("remote audio violation ignored, classified locally")
			continue
		}
		if !a.admit(v.Type) {
			continue
		}
		sev := Severity(v.Severity)
		if sev != SeverityLow && sev != SeverityMedium && sev != SeverityHigh {
			sev = ClassifySeverity(v.Type)
		}
		ev := Event{
			ID:         uuid.New().String(),
			Type:       v.Type,
			Severity:   sev,
			Message:    v.Message,
			Confidence: v.Confidence,
			Timestamp:  a.parseTimestamp(v.Timestamp),
			Evidence:   snapshot,
		}
		a.log = append(a.log, ev)
		appended = append(appended, ev)
	}
	return appended
}

// IngestLocal appends a browser-native violation (tab switch, copy/paste)
// detected without a network round trip. Local and remote violations share
// the log and therefore every derived counter.
func (a *Aggregator) IngestLocal(vtype, message string) (Event, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.admit(vtype) {
		return Event{}, false
	}
	ev := Event{
		ID:        uuid.New().String(),
		Type:      vtype,
		Severity:  ClassifySeverity(vtype),
		Message:   message,
		Timestamp: a.now(),
	}
	a.log = append(a.log, ev)
	return ev, true
}

// IngestAudio appends an excessive-noise violation when the level crosses
// the configured threshold. Returns false for sub-threshold levels and for
// levels arriving inside the audio throttle window: the microphone is
// sampled every ~100ms, so sustained noise yields one event per window,
// not one per sample.
func (a *Aggregator) IngestAudio(level float64) (Event, bool) {
	if level < a.cfg.AudioThreshold {
		return Event{}, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if !a.lastAudio.IsZero() && now.Sub(a.lastAudio) < a.cfg.AudioThrottle {
		a.suppressed++
		return Event{}, false
	}
	if !a.admit(protocol.ViolationExcessiveNoise) {
		return Event{}, false
	}
	a.lastAudio = now

	sev, label := a.audioSeverity(level)
	ev := Event{
		ID:       uuid.New().String(),
		Type:     protocol.ViolationExcessiveNoise,
		Severity: sev,
		Message: fmt.Sprintf("%s detected - Audio level: %.0f%% (Threshold: %.0f%%)",
			label, level, a.cfg.AudioThreshold),
		Timestamp: a.now(),
	}
	a.log = append(a.log, ev)
	return ev, true
}

// Snapshot returns a copy of the log with counters recomputed from it.
func (a *Aggregator) Snapshot() State {
	a.mu.Lock()
	defer a.mu.Unlock()

	events := make([]Event, len(a.log))
	copy(events, a.log)

	st := State{
		Events:          events,
		TotalViolations: len(events),
		PerType:         make(map[string]int, 8),
		Suppressed:      a.suppressed,
	}
	for _, ev := range events {
		st.PerType[ev.Type]++
	}
	st.TabSwitchCount = st.PerType[protocol.ViolationTabSwitch]
	st.CopyPasteCount = st.PerType[protocol.ViolationCopyPaste]
	return st
}

// admit applies the optional per-type throttle. Caller holds a.mu.
func (a *Aggregator) admit(vtype string) bool {
	if a.cfg.ThrottleWindow <= 0 {
		return true
	}
	now := a.now()
	if last, ok := a.lastByType[vtype]; ok && now.Sub(last) < a.cfg.ThrottleWindow {
		a.suppressed++
		a.lg.Debug("violation throttled", "type", vtype, "since_last", now.Sub(last))
		return false
	}
	a.lastByType[vtype] = now
	return true
}

func (a *Aggregator) audioSeverity(level float64) (Severity, string) {
	switch {
	case level >= a.cfg.AudioHighBand:
		return SeverityHigh, "Very loud background noise"
	case level >= a.cfg.AudioMediumBand:
		return SeverityMedium, "Loud background noise"
	default:
		return SeverityLow, "Moderate background noise"
	}
}

func (a *Aggregator) parseTimestamp(s string) time.Time {
	if s != "" {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
	}
	return a.now()
}

// ClassifySeverity maps a violation type to its severity. Presence
// violations outrank gaze and movement violations; the mapping never
// changes retroactively.
func ClassifySeverity(vtype string) Severity {
	switch vtype {
	case protocol.ViolationMultipleFaces, protocol.ViolationPhoneDetected:
		return SeverityHigh
	case protocol.ViolationNoPerson, protocol.ViolationBookDetected,
		protocol.ViolationEyeMovement, protocol.ViolationShoulderMovement,
		protocol.ViolationTabSwitch, protocol.ViolationCopyPaste:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
