package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Flags
	flagConfig    string
	flagLogLevel  string
	flagDetectURL string
	flagStorePath string
)

var rootCmd = &cobra.Command{
	Use:   "examguard",
	Short: "Exam proctoring agent",
	Long: `examguard runs on the examinee's machine during an online exam. It
samples the webcam and microphone, streams frames to the AI detection
service over WebSocket, aggregates violations from every source into one
log, and exports the evidence trail as CSV and PDF when the exam ends.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (YAML)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagDetectURL, "detect-url", "", "Detection service base URL (env: EXAMGUARD_DETECT_URL)")
	rootCmd.PersistentFlags().StringVar(&flagStorePath, "store", "", "SQLite database path (env: EXAMGUARD_STORE_PATH)")
}

// Execute runs the root command.
func Execute(version string) {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("examguard %s\n", version))
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
