// Package sampler captures periodic webcam frames and audio loudness
// samples from live media sources. Frames and audio run on independent
// cadences: the audio level feeds a live UI indicator and needs to be far
// smoother than the network can usefully carry.
package sampler

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// FrameSource produces encoded camera frames.
type FrameSource interface {
	// Dimensions reports the current frame size. A 0x0 source is not
	// ready yet; the sampler skips the tick rather than emitting a
	// degenerate frame.
	Dimensions() (width, height int)
	// Capture returns one JPEG-encoded frame.
	Capture() ([]byte, error)
}

// AudioSource reports normalized loudness.
type AudioSource interface {
	// Level returns the current loudness scaled to 0..100.
	Level() float64
}

// Config tunes the sampling cadences.
type Config struct {
	FrameInterval time.Duration
	AudioInterval time.Duration
}

// Sampler drives a FrameSource and an AudioSource on fixed timers.
type Sampler struct {
	cfg    Config
	frames FrameSource
	audio  AudioSource
	log    *slog.Logger

	// OnFrame receives each captured frame along with the loudness
	// sampled at capture time.
	OnFrame func(jpeg []byte, audioLevel float64)
	// OnLevel receives every audio poll.
	OnLevel func(level float64)

	mu        sync.Mutex
	stop      chan struct{}
	cancelled atomic.Bool
	skipped   atomic.Uint64
	captured  atomic.Uint64
}

// New creates a sampler over the given sources.
func New(cfg Config, frames FrameSource, audio AudioSource) *Sampler {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = 2 * time.Second
	}
	if cfg.AudioInterval <= 0 {
		cfg.AudioInterval = 100 * time.Millisecond
	}
	return &Sampler{
		cfg:    cfg,
		frames: frames,
		audio:  audio,
		log:    slog.Default().With("component", "sampler"),
	}
}

// Start begins sampling and returns a cancel function. The cancel function
// is synchronous: once it returns, no further callback fires, and any
// in-flight capture result is discarded.
func (s *Sampler) Start() (stop func()) {
	s.mu.Lock()
	if s.stop != nil {
		done := s.stop
		s.mu.Unlock()
		return func() { s.stopWith(done) }
	}
	s.cancelled.Store(false)
	done := make(chan struct{})
	s.stop = done
	s.mu.Unlock()

	go s.frameLoop(done)
	go s.audioLoop(done)

	return func() { s.stopWith(done) }
}

func (s *Sampler) stopWith(done chan struct{}) {
	// Flag first so an in-flight capture finishing after this point is
	// discarded, then wake the loops.
	s.cancelled.Store(true)
	s.mu.Lock()
	if s.stop == done {
		close(done)
		s.stop = nil
	}
	s.mu.Unlock()
}

// Skipped reports frame ticks skipped because the source was not ready.
func (s *Sampler) Skipped() uint64 { return s.skipped.Load() }

// Captured reports frames successfully emitted.
func (s *Sampler) Captured() uint64 { return s.captured.Load() }

func (s *Sampler) frameLoop(done <-chan struct{}) {
	t := time.NewTicker(s.cfg.FrameInterval)
	defer t.Stop()

	for {
		select {
		case <-done:
			return
		case <-t.C:
			s.captureFrame()
		}
	}
}

func (s *Sampler) captureFrame() {
	w, h := s.frames.Dimensions()
	if w == 0 || h == 0 {
		// Source not ready yet. Skipping is a no-op, not an error.
		s.skipped.Add(1)
		s.log.Debug("frame skipped, source not ready")
		return
	}

	jpeg, err := s.frames.Capture()
	if err != nil {
		s.log.Warn("frame capture failed", "error", err)
		return
	}

	level := 0.0
	if s.audio != nil {
		level = s.audio.Level()
	}

	if s.cancelled.Load() {
		// Cancelled while the capture was in flight; discard the result.
		return
	}
	if s.OnFrame != nil {
		s.OnFrame(jpeg, level)
		s.captured.Add(1)
	}
}

func (s *Sampler) audioLoop(done <-chan struct{}) {
	if s.audio == nil {
		return
	}
	t := time.NewTicker(s.cfg.AudioInterval)
	defer t.Stop()

	for {
		select {
		case <-done:
			return
		case <-t.C:
			level := s.audio.Level()
			if s.cancelled.Load() {
				return
			}
			if s.OnLevel != nil {
				s.OnLevel(level)
			}
		}
	}
}
