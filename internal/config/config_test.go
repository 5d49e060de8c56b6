package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.FrameInterval != 2*time.Second {
		t.Errorf("expected 2s frame interval, got %v", cfg.FrameInterval)
	}
	if cfg.AudioInterval != 100*time.Millisecond {
		t.Errorf("expected 100ms audio interval, got %v", cfg.AudioInterval)
	}
	if cfg.AudioThreshold != 40 {
		t.Errorf("expected audio threshold 40, got %v", cfg.AudioThreshold)
	}
	if cfg.MaxReconnects != 50 {
		t.Errorf("expected 50 reconnect attempts, got %d", cfg.MaxReconnects)
	}
	if cfg.ViolationThrottle != 0 {
		t.Errorf("expected throttle disabled by default, got %v", cfg.ViolationThrottle)
	}
	if cfg.AudioThrottle != 12*time.Second {
		t.Errorf("expected 12s audio throttle by default, got %v", cfg.AudioThrottle)
	}
}

func TestFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "detect_url: http://detect.local:8001\nframe_interval: 5s\naudio_threshold: 60\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DetectURL != "http://detect.local:8001" {
		t.Errorf("unexpected detect_url: %s", cfg.DetectURL)
	}
	if cfg.FrameInterval != 5*time.Second {
		t.Errorf("unexpected frame_interval: %v", cfg.FrameInterval)
	}
	if cfg.AudioThreshold != 60 {
		t.Errorf("unexpected audio_threshold: %v", cfg.AudioThreshold)
	}
	// Untouched keys keep their defaults.
	if cfg.EvidenceBucket != "violation-evidence" {
		t.Errorf("default evidence bucket lost: %s", cfg.EvidenceBucket)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("audio_threshold: 60\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("EXAMGUARD_AUDIO_THRESHOLD", "35")
	t.Setenv("EXAMGUARD_VIOLATION_THROTTLE", "12s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.AudioThreshold != 35 {
		t.Errorf("env override lost, got %v", cfg.AudioThreshold)
	}
	if cfg.ViolationThrottle != 12*time.Second {
		t.Errorf("env throttle lost, got %v", cfg.ViolationThrottle)
	}
}

func TestRejectsInvalidIntervals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("frame_interval: -1s\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for negative frame interval")
	}
}
