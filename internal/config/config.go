// Package config handles configuration for the examguard agent.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all examguard configuration. The tuned detection constants
// (audio threshold, throttle window, cadences) are deployment-specific and
// live here rather than in code.
type Config struct {
	// DetectURL is the base HTTP URL of the detection service
	// (environment check, calibration, grading). The WebSocket endpoint is
	// derived from it unless StreamURL is set explicitly.
	DetectURL string `yaml:"detect_url"`
	// StreamURL overrides the derived ws:// endpoint base.
	StreamURL string `yaml:"stream_url"`

	// EvidenceURL is the base URL of the object store for violation
	// snapshots. EvidenceBucket is the bucket evidence is written to.
	EvidenceURL    string `yaml:"evidence_url"`
	EvidenceBucket string `yaml:"evidence_bucket"`
	// SigningKeyPath points to an ed25519 private key (OpenSSH format)
	// used to sign evidence manifests. Empty disables signing.
	SigningKeyPath string `yaml:"signing_key_path"`

	// StorePath is the sqlite database file for attempts and violations.
	StorePath string `yaml:"store_path"`

	// ActivityAddr is the loopback address the browser-signal endpoint
	// listens on.
	ActivityAddr string `yaml:"activity_addr"`

	// CameraDevice is the V4L2 device sampled for frames.
	CameraDevice string `yaml:"camera_device"`

	// Sampling cadences. Frames and audio run on independent timers:
	// audio feeds the live level indicator and needs to be much smoother
	// than the network can usefully carry.
	FrameInterval time.Duration `yaml:"frame_interval"`
	AudioInterval time.Duration `yaml:"audio_interval"`

	// Streaming connection tuning.
	Heartbeat     time.Duration `yaml:"heartbeat"`
	BackoffBase   time.Duration `yaml:"backoff_base"`
	BackoffCap    time.Duration `yaml:"backoff_cap"`
	MaxReconnects int           `yaml:"max_reconnects"`
	// OpenWait bounds how long the controller waits for the connection to
	// open before sampling starts.
	OpenWait time.Duration `yaml:"open_wait"`

	// Audio violation thresholds (0..100 scale). Levels at or above
	// AudioThreshold are violations; the severity bands mirror the
	// detection service's classification.
	AudioThreshold  float64 `yaml:"audio_threshold"`
	AudioMediumBand float64 `yaml:"audio_medium_band"`
	AudioHighBand   float64 `yaml:"audio_high_band"`

	// AudioThrottle bounds how often sustained noise becomes a new
	// excessive_noise violation; without it the 100ms sampling cadence
	// would log every sample above the threshold.
	AudioThrottle time.Duration `yaml:"audio_throttle"`

	// ViolationThrottle suppresses repeat violations of the same type
	// inside the window. Zero disables local throttling for non-audio
	// types (the service throttles its detections per type on its side).
	ViolationThrottle time.Duration `yaml:"violation_throttle"`

	// ReportDetailLimit caps the per-violation detail section of the PDF.
	ReportDetailLimit int `yaml:"report_detail_limit"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the documented defaults. Detection thresholds follow the
// values the detection service ships with.
func Default() *Config {
	return &Config{
		EvidenceBucket:    "violation-evidence",
		StorePath:         "examguard.db",
		ActivityAddr:      "127.0.0.1:7355",
		CameraDevice:      "/dev/video0",
		FrameInterval:     2 * time.Second,
		AudioInterval:     100 * time.Millisecond,
		Heartbeat:         30 * time.Second,
		BackoffBase:       1 * time.Second,
		BackoffCap:        30 * time.Second,
		MaxReconnects:     50,
		OpenWait:          10 * time.Second,
		AudioThreshold:    40,
		AudioMediumBand:   55,
		AudioHighBand:     70,
		AudioThrottle:     12 * time.Second,
		ViolationThrottle: 0,
		ReportDetailLimit: 10,
		LogLevel:          "info",
	}
}

// Load reads configuration from an optional YAML file and then applies
// EXAMGUARD_* environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if cfg.FrameInterval <= 0 || cfg.AudioInterval <= 0 {
		return nil, fmt.Errorf("sampling intervals must be positive")
	}
	if cfg.MaxReconnects <= 0 {
		return nil, fmt.Errorf("max_reconnects must be positive")
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("EXAMGUARD_DETECT_URL"); v != "" {
		c.DetectURL = v
	}
	if v := os.Getenv("EXAMGUARD_STREAM_URL"); v != "" {
		c.StreamURL = v
	}
	if v := os.Getenv("EXAMGUARD_EVIDENCE_URL"); v != "" {
		c.EvidenceURL = v
	}
	if v := os.Getenv("EXAMGUARD_STORE_PATH"); v != "" {
		c.StorePath = v
	}
	if v := os.Getenv("EXAMGUARD_ACTIVITY_ADDR"); v != "" {
		c.ActivityAddr = v
	}
	if v := os.Getenv("EXAMGUARD_CAMERA_DEVICE"); v != "" {
		c.CameraDevice = v
	}
	if v := os.Getenv("EXAMGUARD_AUDIO_THRESHOLD"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			c.AudioThreshold = n
		}
	}
	if v := os.Getenv("EXAMGUARD_VIOLATION_THROTTLE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ViolationThrottle = d
		}
	}
	if v := os.Getenv("EXAMGUARD_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}
