package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/examguard/examguard/internal/detect"
	"github.com/examguard/examguard/internal/media"
)

var envcheckCmd = &cobra.Command{
	Use:   "envcheck",
	Short: "Run the pre-exam environment check",
	Long: `Capture one frame and audio sample and ask the detection service
whether the environment is acceptable for an exam. Useful for students to
verify their setup before the sitting starts.`,
	RunE: runEnvcheck,
}

func init() {
	rootCmd.AddCommand(envcheckCmd)
}

func runEnvcheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.DetectURL == "" {
		return fmt.Errorf("detect-url is required")
	}

	webcam, err := media.OpenWebcam(media.WebcamConfig{Device: cfg.CameraDevice})
	if err != nil {
		return fmt.Errorf("open camera: %w", err)
	}
	defer webcam.Close()
	mic, err := media.OpenMicrophone(media.MicrophoneConfig{})
	if err != nil {
		return fmt.Errorf("open microphone: %w", err)
	}
	defer mic.Close()

	frame, err := awaitFirstFrame(webcam, 10*time.Second)
	if err != nil {
		return err
	}

	check, err := detect.NewClient(cfg.DetectURL).CheckEnvironment(cmd.Context(), frame, mic.Level())
	if err != nil {
		return err
	}

	if check.Passed() {
		fmt.Println("Environment check passed.")
	} else {
		fmt.Println("Environment check FAILED:")
		for _, issue := range check.Issues() {
			fmt.Printf("  - %s\n", issue)
		}
	}
	if check.Message != "" {
		fmt.Printf("Service message: %s\n", check.Message)
	}
	fmt.Printf("Audio level: %.0f%%\n", mic.Level())
	return nil
}

func awaitFirstFrame(webcam *media.Webcam, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		if frame, err := webcam.Capture(); err == nil {
			return frame, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("camera produced no frame within %s", timeout)
		}
		time.Sleep(200 * time.Millisecond)
	}
}
