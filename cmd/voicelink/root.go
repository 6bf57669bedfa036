package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ent0n29/voicelink/internal/audio/portaudio"
	"github.com/ent0n29/voicelink/internal/config"
	"github.com/ent0n29/voicelink/internal/logging"
)

var (
	configPath string
	logLevel   string
	serverURL  string
	version    = "dev"

	cfg    config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "voicelink",
	Short: "Realtime voice sessions for collaborative document threads",
	Long: `voicelink streams microphone audio to a realtime voice server and plays
the synthesized replies, cutting playback the moment the user talks over it.

  voicelink serve                 # local control API for a UI
  voicelink talk -d DOC -t THREAD -a AUTHOR
  voicelink stub                  # stand-in realtime server
  voicelink sessions              # recent session journal`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if configPath != "" {
			if err := os.Setenv("VOICELINK_CONFIG", configPath); err != nil {
				return err
			}
		}
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		if cmd.Flags().Changed("log-level") {
			loaded.LogLevel = logLevel
		}
		if cmd.Flags().Changed("server-url") {
			loaded.ServerURL = serverURL
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded
		logger = logging.New(cfg.LogLevel, cfg.LogFormat)
		slog.SetDefault(logger)

		if !portaudio.Available && (cfg.CaptureBackend == config.CapturePortAudio || cfg.PlaybackBackend == config.PlaybackPortAudio) {
			logger.Warn("portaudio backend selected but this build has no portaudio support; rebuild with -tags portaudio or pick another backend")
		}
		return nil
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (overrides VOICELINK_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server-url", "", "Realtime server base URL (ws:// or wss://)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(serveCmd, talkCmd, stubCmd, sessionsCmd)
}
