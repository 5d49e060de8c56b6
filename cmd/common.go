package cmd

import (
	"fmt"
	"strings"

	"github.com/examguard/examguard/internal/config"
	"github.com/examguard/examguard/internal/logging"
)

// loadConfig merges the config file, environment, and the flags the user
// actually set.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagDetectURL != "" {
		cfg.DetectURL = flagDetectURL
	}
	if flagStorePath != "" {
		cfg.StorePath = flagStorePath
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	logging.Setup(cfg.LogLevel)
	return cfg, nil
}

// streamEndpoint derives the WebSocket base URL from the detection
// service URL unless one is configured explicitly.
func streamEndpoint(cfg *config.Config) (string, error) {
	if cfg.StreamURL != "" {
		return cfg.StreamURL, nil
	}
	switch {
	case strings.HasPrefix(cfg.DetectURL, "https://"):
		return "wss://" + strings.TrimPrefix(cfg.DetectURL, "https://"), nil
	case strings.HasPrefix(cfg.DetectURL, "http://"):
		return "ws://" + strings.TrimPrefix(cfg.DetectURL, "http://"), nil
	case cfg.DetectURL == "":
		return "", fmt.Errorf("detect-url is required (flag, config file, or EXAMGUARD_DETECT_URL)")
	default:
		return "", fmt.Errorf("detect-url must be http:// or https://, got %q", cfg.DetectURL)
	}
}
