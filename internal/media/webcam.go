// Package media acquires live webcam frames and microphone loudness through
// GStreamer. Both sources satisfy the sampler's source interfaces and keep
// only the most recent sample; proctoring cares about "now", not history.
package media

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// WebcamConfig configures the camera pipeline.
type WebcamConfig struct {
	// Device is the V4L2 device node, e.g. /dev/video0.
	Device string
	Width  int
	Height int
	// JPEGQuality 1..100; 85 matches what the detection service expects.
	JPEGQuality int
}

// Webcam captures JPEG frames from a local camera.
//
// Pipeline: v4l2src → videoconvert → videoscale → capsfilter → jpegenc →
// appsink (sync=false, max-buffers=1, drop=true: keep only the latest
// frame).
type Webcam struct {
	cfg      WebcamConfig
	log      *slog.Logger
	pipeline *gst.Pipeline

	mu     sync.Mutex
	latest []byte
	ready  bool
	closed bool
}

// OpenWebcam builds and starts the camera pipeline.
func OpenWebcam(cfg WebcamConfig) (*Webcam, error) {
	if cfg.Device == "" {
		cfg.Device = "/dev/video0"
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		cfg.Width, cfg.Height = 1280, 720
	}
	if cfg.JPEGQuality == 0 {
		cfg.JPEGQuality = 85
	}

	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return nil, fmt.Errorf("create v4l2src: %w", err)
	}
	src.SetProperty("device", cfg.Device)

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("create videoconvert: %w", err)
	}
	scale, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("create videoscale: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(
		fmt.Sprintf("video/x-raw,width=%d,height=%d", cfg.Width, cfg.Height)))

	enc, err := gst.NewElement("jpegenc")
	if err != nil {
		return nil, fmt.Errorf("create jpegenc: %w", err)
	}
	enc.SetProperty("quality", cfg.JPEGQuality)

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)

	pipeline.AddMany(src, convert, scale, capsfilter, enc, sink.Element)
	if err := gst.ElementLinkMany(src, convert, scale, capsfilter, enc, sink.Element); err != nil {
		return nil, fmt.Errorf("link camera pipeline: %w", err)
	}

	w := &Webcam{
		cfg:      cfg,
		log:      slog.Default().With("component", "webcam", "device", cfg.Device),
		pipeline: pipeline,
	}

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: w.onSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("start camera pipeline: %w", err)
	}

	w.log.Info("camera pipeline started", "width", cfg.Width, "height", cfg.Height)
	return w, nil
}

func (w *Webcam) onSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		// A single corrupted sample must not kill the pipeline.
		w.log.Warn("failed to pull camera sample, skipping")
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		w.log.Warn("camera sample without buffer, skipping")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}
	// GStreamer reuses the buffer; copy before unmapping.
	frame := make([]byte, len(data))
	copy(frame, data)
	buffer.Unmap()

	w.mu.Lock()
	w.latest = frame
	w.ready = true
	w.mu.Unlock()
	return gst.FlowOK
}

// Dimensions reports 0x0 until the first frame has arrived, so callers
// skip sampling while the camera warms up.
func (w *Webcam) Dimensions() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.ready {
		return 0, 0
	}
	return w.cfg.Width, w.cfg.Height
}

// Capture returns the most recent JPEG frame.
func (w *Webcam) Capture() ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.ready || len(w.latest) == 0 {
		return nil, fmt.Errorf("no frame available yet")
	}
	frame := make([]byte, len(w.latest))
	copy(frame, w.latest)
	return frame, nil
}

// Close stops the pipeline. Idempotent.
func (w *Webcam) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.ready = false
	w.mu.Unlock()

	if err := w.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("stop camera pipeline: %w", err)
	}
	return nil
}
