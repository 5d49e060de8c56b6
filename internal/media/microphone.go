package media

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// MicrophoneConfig configures the audio pipeline.
type MicrophoneConfig struct {
	// SampleRate in Hz; defaults to 44100.
	SampleRate int
}

// Microphone reports ambient loudness on a 0..100 scale.
//
// Pipeline: autoaudiosrc → audioconvert → audioresample → capsfilter
// (S16LE mono) → appsink. Each buffer is reduced to its RMS amplitude;
// only the most recent value is kept.
type Microphone struct {
	log      *slog.Logger
	pipeline *gst.Pipeline

	// level holds math.Float64bits of the latest 0..100 reading.
	level  atomic.Uint64
	closed atomic.Bool
}

// OpenMicrophone builds and starts the audio pipeline.
func OpenMicrophone(cfg MicrophoneConfig) (*Microphone, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 44100
	}

	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	src, err := gst.NewElement("autoaudiosrc")
	if err != nil {
		return nil, fmt.Errorf("create autoaudiosrc: %w", err)
	}
	convert, err := gst.NewElement("audioconvert")
	if err != nil {
		return nil, fmt.Errorf("create audioconvert: %w", err)
	}
	resample, err := gst.NewElement("audioresample")
	if err != nil {
		return nil, fmt.Errorf("create audioresample: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(
		fmt.Sprintf("audio/x-raw,format=S16LE,channels=1,rate=%d", cfg.SampleRate)))

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)

	pipeline.AddMany(src, convert, resample, capsfilter, sink.Element)
	if err := gst.ElementLinkMany(src, convert, resample, capsfilter, sink.Element); err != nil {
		return nil, fmt.Errorf("link audio pipeline: %w", err)
	}

	m := &Microphone{
		log:      slog.Default().With("component", "microphone"),
		pipeline: pipeline,
	}

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: m.onSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("start audio pipeline: %w", err)
	}

	m.log.Info("audio pipeline started", "rate", cfg.SampleRate)
	return m, nil
}

func (m *Microphone) onSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	level := rmsLevel(data)
	buffer.Unmap()

	m.level.Store(math.Float64bits(level))
	return gst.FlowOK
}

// rmsLevel computes the RMS amplitude of little-endian signed 16-bit
// mono samples, scaled to 0..100.
func rmsLevel(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		v := float64(s)
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(n))
	level := rms / 32768 * 100
	if level > 100 {
		level = 100
	}
	return level
}

// Level returns the latest loudness reading, 0..100. Safe to call from
// any goroutine; returns 0 before the first buffer arrives.
func (m *Microphone) Level() float64 {
	return math.Float64frombits(m.level.Load())
}

// Close stops the pipeline. Idempotent.
func (m *Microphone) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := m.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("stop audio pipeline: %w", err)
	}
	return nil
}
