package violations

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/examguard/examguard/internal/protocol"
)

func testConfig() Config {
	return Config{
		AudioThreshold:  40,
		AudioMediumBand: 55,
		AudioHighBand:   70,
	}
}

func conf(v float64) *float64 { return &v }

func TestRemoteBatchAppendsAll(t *testing.T) {
	a := New(testConfig())

	appended := a.IngestRemote([]protocol.ViolationDetail{
		{Type: "phone_detected", Severity: "high", Message: "Mobile phone detected", Confidence: conf(0.82)},
		{Type: "looking_away", Severity: "low", Message: "Head turned"},
	}, "snap1")

	if len(appended) != 2 {
		t.Fatalf("expected 2 appends, got %d", len(appended))
	}

	st := a.Snapshot()
	if st.TotalViolations != 2 {
		t.Errorf("expected total 2, got %d", st.TotalViolations)
	}
	if st.PerType["phone_detected"] != 1 || st.PerType["looking_away"] != 1 {
		t.Errorf("unexpected per-type breakdown: %v", st.PerType)
	}
	if st.Events[0].Evidence != "snap1" || st.Events[1].Evidence != "snap1" {
		t.Error("snapshot evidence not attached to batch events")
	}
}

func TestCountersAlwaysMatchLogLength(t *testing.T) {
	a := New(testConfig())

	a.IngestRemote([]protocol.ViolationDetail{{Type: "no_person", Severity: "medium", Message: "nobody"}}, "")
	a.IngestLocal(protocol.ViolationTabSwitch, "Tab switch detected")
	a.IngestAudio(62)
	a.IngestLocal(protocol.ViolationCopyPaste, "Paste detected")

	st := a.Snapshot()
	if st.TotalViolations != len(st.Events) {
		t.Fatalf("counter drift: total=%d len(log)=%d", st.TotalViolations, len(st.Events))
	}
	if st.TotalViolations != 4 {
		t.Errorf("expected 4 events, got %d", st.TotalViolations)
	}
	if st.TabSwitchCount != 1 || st.CopyPasteCount != 1 {
		t.Errorf("unexpected derived counters: tab=%d copy=%d", st.TabSwitchCount, st.CopyPasteCount)
	}
}

func TestEventIDsUnique(t *testing.T) {
	a := New(testConfig())
	for i := 0; i < 50; i++ {
		a.IngestLocal(protocol.ViolationTabSwitch, "Tab switch detected")
	}

	seen := make(map[string]bool)
	for _, ev := range a.Snapshot().Events {
		if seen[ev.ID] {
			t.Fatalf("duplicate event id %s", ev.ID)
		}
		seen[ev.ID] = true
	}
}

func TestDuplicateDeliveryDoubleCounts(t *testing.T) {
	// Documented behavior: with the throttle off, replaying the same
	// detection reply appends again.
	a := New(testConfig())
	batch := []protocol.ViolationDetail{{Type: "phone_detected", Severity: "high", Message: "phone"}}

	a.IngestRemote(batch, "")
	a.IngestRemote(batch, "")

	if got := a.Snapshot().TotalViolations; got != 2 {
		t.Errorf("expected double-count 2, got %d", got)
	}
}

func TestThrottleSuppressesRepeats(t *testing.T) {
	cfg := testConfig()
	cfg.ThrottleWindow = 12 * time.Second
	a := New(cfg)

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	now := base
	a.now = func() time.Time { return now }

	if _, ok := a.IngestLocal(protocol.ViolationTabSwitch, "first"); !ok {
		t.Fatal("first event must be admitted")
	}
	now = base.Add(5 * time.Second)
	if _, ok := a.IngestLocal(protocol.ViolationTabSwitch, "repeat"); ok {
		t.Error("repeat inside window must be suppressed")
	}
	// A different type inside the window is unaffected.
	if _, ok := a.IngestLocal(protocol.ViolationCopyPaste, "copy"); !ok {
		t.Error("different type must not be throttled")
	}
	now = base.Add(13 * time.Second)
	if _, ok := a.IngestLocal(protocol.ViolationTabSwitch, "later"); !ok {
		t.Error("event after window must be admitted")
	}

	st := a.Snapshot()
	if st.TotalViolations != 3 || st.Suppressed != 1 {
		t.Errorf("unexpected state: total=%d suppressed=%d", st.TotalViolations, st.Suppressed)
	}
}

func TestAudioClassification(t *testing.T) {
	tests := []struct {
		level    float64
		admitted bool
		severity Severity
	}{
		{level: 20, admitted: false},
		{level: 40, admitted: true, severity: SeverityLow},
		{level: 56, admitted: true, severity: SeverityMedium},
		{level: 71, admitted: true, severity: SeverityHigh},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("level %.0f", tt.level), func(t *testing.T) {
			a := New(testConfig())
			ev, ok := a.IngestAudio(tt.level)
			if ok != tt.admitted {
				t.Fatalf("admitted = %v, want %v", ok, tt.admitted)
			}
			if ok && ev.Severity != tt.severity {
				t.Errorf("severity = %s, want %s", ev.Severity, tt.severity)
			}
		})
	}
}

func TestSustainedNoiseYieldsOneEventPerWindow(t *testing.T) {
	// One second of loud room noise at the 100ms sampling cadence, plus
	// the service echoing the violation back, must append exactly one
	// excessive_noise event.
	a := New(testConfig())

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	now := base
	a.now = func() time.Time { return now }

	admitted := 0
	for i := 0; i < 10; i++ {
		now = base.Add(time.Duration(i) * 100 * time.Millisecond)
		if _, ok := a.IngestAudio(60); ok {
			admitted++
		}
	}
	a.IngestRemote([]protocol.ViolationDetail{
		{Type: protocol.ViolationExcessiveNoise, Severity: "medium", Message: "Loud background noise"},
	}, "")

	if admitted != 1 {
		t.Errorf("admitted %d audio events in one second, want 1", admitted)
	}
	st := a.Snapshot()
	if st.TotalViolations != 1 || st.PerType[protocol.ViolationExcessiveNoise] != 1 {
		t.Errorf("log flooded or double-counted: total=%d per-type=%v", st.TotalViolations, st.PerType)
	}

	// Noise persisting past the window is a fresh violation.
	now = base.Add(13 * time.Second)
	if _, ok := a.IngestAudio(60); !ok {
		t.Error("noise after the window must be admitted")
	}
	if got := a.Snapshot().TotalViolations; got != 2 {
		t.Errorf("total = %d, want 2", got)
	}
}

func TestRemoteNoiseEchoIgnored(t *testing.T) {
	a := New(testConfig())

	appended := a.IngestRemote([]protocol.ViolationDetail{
		{Type: protocol.ViolationExcessiveNoise, Severity: "high", Message: "Very loud background noise"},
		{Type: protocol.ViolationPhoneDetected, Severity: "high", Message: "phone"},
	}, "")

	if len(appended) != 1 || appended[0].Type != protocol.ViolationPhoneDetected {
		t.Fatalf("expected only the phone violation appended, got %+v", appended)
	}
	if got := a.Snapshot().PerType[protocol.ViolationExcessiveNoise]; got != 0 {
		t.Errorf("remote noise echo counted %d times, want 0", got)
	}
}

func TestConcurrentIngestLosesNothing(t *testing.T) {
	a := New(testConfig())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				a.IngestLocal(protocol.ViolationTabSwitch, "Tab switch detected")
				a.IngestRemote([]protocol.ViolationDetail{
					{Type: "looking_away", Severity: "low", Message: "gaze"},
				}, "")
			}
		}()
	}
	wg.Wait()

	st := a.Snapshot()
	if st.TotalViolations != 8*25*2 {
		t.Errorf("lost events under concurrency: got %d, want %d", st.TotalViolations, 8*25*2)
	}
	if st.TotalViolations != len(st.Events) {
		t.Error("counter drifted from log length")
	}
}

func TestClassifySeverity(t *testing.T) {
	if ClassifySeverity(protocol.ViolationPhoneDetected) != SeverityHigh {
		t.Error("phone_detected must be high severity")
	}
	if ClassifySeverity(protocol.ViolationTabSwitch) != SeverityMedium {
		t.Error("tab_switch must be medium severity")
	}
	if ClassifySeverity(protocol.ViolationLookingAway) != SeverityLow {
		t.Error("looking_away must be low severity")
	}
}
