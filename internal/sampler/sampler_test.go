package sampler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeFrames struct {
	mu     sync.Mutex
	width  int
	height int
	data   []byte
	delay  time.Duration
}

func (f *fakeFrames) Dimensions() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.width, f.height
}

func (f *fakeFrames) Capture() ([]byte, error) {
	f.mu.Lock()
	d := f.delay
	data := f.data
	f.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
	return data, nil
}

type fakeAudio struct{ level atomic.Uint64 }

func (a *fakeAudio) Level() float64 { return float64(a.level.Load()) }

func TestEmitsFrames(t *testing.T) {
	frames := &fakeFrames{width: 640, height: 480, data: []byte("jpeg")}
	audio := &fakeAudio{}
	audio.level.Store(33)

	s := New(Config{FrameInterval: 10 * time.Millisecond, AudioInterval: 5 * time.Millisecond}, frames, audio)

	got := make(chan float64, 64)
	s.OnFrame = func(jpeg []byte, level float64) {
		if string(jpeg) != "jpeg" {
			t.Errorf("unexpected frame payload %q", jpeg)
		}
		got <- level
	}

	stop := s.Start()
	defer stop()

	select {
	case level := <-got:
		if level != 33 {
			t.Errorf("expected audio level 33 with frame, got %v", level)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame emitted")
	}
}

func TestZeroDimensionSourceSkips(t *testing.T) {
	frames := &fakeFrames{width: 0, height: 0, data: []byte("jpeg")}
	s := New(Config{FrameInterval: 5 * time.Millisecond, AudioInterval: time.Hour}, frames, nil)

	var emitted atomic.Int32
	s.OnFrame = func([]byte, float64) { emitted.Add(1) }

	stop := s.Start()
	time.Sleep(60 * time.Millisecond)
	stop()

	if emitted.Load() != 0 {
		t.Errorf("degenerate frames emitted: %d", emitted.Load())
	}
	if s.Skipped() == 0 {
		t.Error("expected skipped ticks to be counted")
	}

	// Source becomes ready: emissions resume on a fresh start.
	frames.mu.Lock()
	frames.width, frames.height = 640, 480
	frames.mu.Unlock()

	done := make(chan struct{})
	s.OnFrame = func([]byte, float64) {
		select {
		case <-done:
		default:
			close(done)
		}
	}
	stop = s.Start()
	defer stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("no frame after source became ready")
	}
}

func TestStopIsSynchronous(t *testing.T) {
	frames := &fakeFrames{width: 640, height: 480, data: []byte("jpeg")}
	s := New(Config{FrameInterval: time.Millisecond, AudioInterval: time.Millisecond}, frames, &fakeAudio{})

	var after atomic.Int32
	var stopped atomic.Bool
	s.OnFrame = func([]byte, float64) {
		if stopped.Load() {
			after.Add(1)
		}
	}
	s.OnLevel = func(float64) {
		if stopped.Load() {
			after.Add(1)
		}
	}

	stop := s.Start()
	time.Sleep(20 * time.Millisecond)
	stopped.Store(true)
	stop()
	time.Sleep(30 * time.Millisecond)

	if n := after.Load(); n != 0 {
		t.Errorf("%d callbacks fired after stop returned", n)
	}
}

func TestInFlightCaptureDiscardedAfterStop(t *testing.T) {
	frames := &fakeFrames{width: 640, height: 480, data: []byte("jpeg"), delay: 50 * time.Millisecond}
	s := New(Config{FrameInterval: 5 * time.Millisecond, AudioInterval: time.Hour}, frames, nil)

	var emitted atomic.Int32
	s.OnFrame = func([]byte, float64) { emitted.Add(1) }

	stop := s.Start()
	// Let one capture get in flight, then cancel while it sleeps.
	time.Sleep(15 * time.Millisecond)
	stop()
	time.Sleep(100 * time.Millisecond)

	if emitted.Load() != 0 {
		t.Errorf("in-flight capture emitted after cancel: %d", emitted.Load())
	}
}

func TestStopIdempotent(t *testing.T) {
	frames := &fakeFrames{width: 640, height: 480, data: []byte("jpeg")}
	s := New(Config{FrameInterval: time.Millisecond, AudioInterval: time.Millisecond}, frames, &fakeAudio{})

	stop := s.Start()
	stop()
	stop() // must not panic

	// Restart works after a stop.
	stop2 := s.Start()
	stop2()
}
