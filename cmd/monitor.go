package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/examguard/examguard/internal/activity"
	"github.com/examguard/examguard/internal/detect"
	"github.com/examguard/examguard/internal/evidence"
	"github.com/examguard/examguard/internal/media"
	"github.com/examguard/examguard/internal/protocol"
	"github.com/examguard/examguard/internal/session"
	"github.com/examguard/examguard/internal/store"
	"github.com/examguard/examguard/internal/stream"
	"github.com/examguard/examguard/internal/violations"
)

var (
	flagExamID      string
	flagStudentID   string
	flagStudentName string
	flagSubjectCode string
	flagSubjectName string
	flagDuration    time.Duration
	flagMaxScore    float64
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Proctor one exam sitting",
	Long: `Run a full proctored sitting: verify the environment, calibrate the
student's head pose, then stream webcam frames and audio levels to the
detection service until the exam ends.

The sitting ends when the duration expires or on SIGINT/SIGTERM; either
way the violation log is persisted, evidence is uploaded, and the attempt
is finalized exactly once.`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().StringVar(&flagExamID, "exam", "", "Exam identifier (required)")
	monitorCmd.Flags().StringVar(&flagStudentID, "student", "", "Student identifier (required)")
	monitorCmd.Flags().StringVar(&flagStudentName, "student-name", "", "Student display name")
	monitorCmd.Flags().StringVar(&flagSubjectCode, "subject-code", "", "Subject code")
	monitorCmd.Flags().StringVar(&flagSubjectName, "subject-name", "", "Subject name")
	monitorCmd.Flags().DurationVar(&flagDuration, "duration", 0, "Exam duration; 0 runs until interrupted")
	monitorCmd.Flags().Float64Var(&flagMaxScore, "max-score", 100, "Maximum achievable score")
	monitorCmd.MarkFlagRequired("exam")
	monitorCmd.MarkFlagRequired("student")
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	endpoint, err := streamEndpoint(cfg)
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.StorePath)
	if err != nil {
		return err
	}

	webcam, err := media.OpenWebcam(media.WebcamConfig{Device: cfg.CameraDevice})
	if err != nil {
		return fmt.Errorf("open camera: %w", err)
	}
	mic, err := media.OpenMicrophone(media.MicrophoneConfig{})
	if err != nil {
		webcam.Close()
		return fmt.Errorf("open microphone: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	watcher := activity.NewWatcher(cfg.ActivityAddr)
	if _, err := watcher.Watch(ctx); err != nil {
		webcam.Close()
		mic.Close()
		return err
	}

	sessionID := uuid.New().String()
	client := stream.New(stream.Config{
		Endpoint:    endpoint,
		SessionID:   sessionID,
		Heartbeat:   cfg.Heartbeat,
		BackoffBase: cfg.BackoffBase,
		BackoffCap:  cfg.BackoffCap,
		MaxAttempts: cfg.MaxReconnects,
	})

	var sink session.EvidenceSink
	var queue *evidence.Queue
	if cfg.EvidenceURL != "" {
		queue = evidence.NewQueue(evidence.NewUploader(cfg.EvidenceURL, cfg.EvidenceBucket))
		sink = queue
	}

	ctl := session.New(session.Config{
		Session: protocol.SessionContext{
			ExamID:      flagExamID,
			StudentID:   flagStudentID,
			StudentName: flagStudentName,
			SubjectCode: flagSubjectCode,
			SubjectName: flagSubjectName,
		},
		Duration:      flagDuration,
		OpenWait:      cfg.OpenWait,
		MaxScore:      flagMaxScore,
		FrameInterval: cfg.FrameInterval,
		AudioInterval: cfg.AudioInterval,
		ViolationConfig: violations.Config{
			AudioThreshold:  cfg.AudioThreshold,
			AudioMediumBand: cfg.AudioMediumBand,
			AudioHighBand:   cfg.AudioHighBand,
			AudioThrottle:   cfg.AudioThrottle,
			ThrottleWindow:  cfg.ViolationThrottle,
		},
	}, session.Deps{
		Frames:   webcam,
		Audio:    mic,
		Detector: detect.NewClient(cfg.DetectURL),
		Stream:   client,
		Recorder: db,
		Evidence: sink,
		Activity: watcher.Events(),
	})

	if err := ctl.Start(ctx); err != nil {
		webcam.Close()
		mic.Close()
		return err
	}
	fmt.Printf("Monitoring session %s (attempt %d). Ctrl-C submits the exam.\n", sessionID, ctl.AttemptID())

	ended := make(chan struct{})
	go func() {
		// The countdown can end the sitting on its own.
		for {
			st := ctl.State()
			if st == session.StateEnded || st == session.StateAborted {
				close(ended)
				return
			}
			time.Sleep(200 * time.Millisecond)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		fmt.Println("Submitting exam...")
		ctl.EndExam(context.Background())
	case <-ended:
	}

	printOutcome(ctl)

	if queue != nil && cfg.SigningKeyPath != "" {
		if err := writeManifest(cfg.SigningKeyPath, flagExamID, flagStudentID, ctl); err != nil {
			fmt.Fprintf(os.Stderr, "manifest not written: %v\n", err)
		}
	}
	return nil
}

func printOutcome(ctl *session.Controller) {
	st := ctl.Violations()
	fmt.Printf("Session %s: %d violations (%d tab switches, %d copy/paste)\n",
		ctl.State(), st.TotalViolations, st.TabSwitchCount, st.CopyPasteCount)
	if result := ctl.Result(); result != nil {
		fmt.Printf("Score: %.1f/%.1f (%.1f%%, %s)\n",
			result.TotalScore, result.MaxScore, result.Percentage, result.GradeLetter)
	}
}

// writeManifest signs the evidence trail next to the database.
func writeManifest(keyPath, examID, studentID string, ctl *session.Controller) error {
	signer, err := evidence.LoadSigner(keyPath)
	if err != nil {
		return err
	}
	urls, snapshots := ctl.Evidence()
	signed, err := signer.Sign(evidence.BuildManifest(examID, studentID, urls, snapshots))
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(signed, "", "  ")
	if err != nil {
		return err
	}
	out := fmt.Sprintf("%s_%s_manifest.json", examID, studentID)
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("Signed evidence manifest written to %s\n", out)
	return nil
}
