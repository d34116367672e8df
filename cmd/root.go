package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/audiolibrelab/speakcapture/internal/config"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	part         string
	attemptID    string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "speakcapture",
	Short: "Guided recorder for spoken-response assessments",
	Long: `speakcapture walks a learner through an ordered set of spoken-response
questions: it plays the intro and question prompts, records a timed answer
per question, lets the learner review and re-record, and submits every
answer to the grading service.

Run a session in the terminal with 'speakcapture run questions.yaml', or
expose it to a browser with 'speakcapture serve questions.yaml'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(verboseLevel)

		if cfgFile == "" {
			cfgFile = config.DefaultFile()
		}

		// set-part must work even when the current file does not validate
		if cmd.Name() == "set-part" || cmd.Name() == "parts" {
			return nil
		}

		var err error
		cfg, err = config.LoadWithPart(cfgFile, part)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.PartChosen = part != ""
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/speakcapture.yaml)")
	rootCmd.PersistentFlags().StringVar(&part, "part", "", "assessment part to use (overrides active_part from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=ffmpeg output, 3=max tracing")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(questionsCmd)
	rootCmd.AddCommand(telemetryCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(sourcesCmd)
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	setupLoggingTo(os.Stderr, level)
}

func setupLoggingTo(w io.Writer, level int) {
	var slogLevel slog.Level
	switch level {
	case 0:
		slogLevel = slog.LevelInfo
	case 1, 2, 3:
		// Level 3 will additionally set environment variables
		slogLevel = slog.LevelDebug
	default:
		slogLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(w, opts)
	slog.SetDefault(slog.New(handler))

	if level >= 3 {
		os.Setenv("PIPEWIRE_DEBUG", "3")
		os.Setenv("FFREPORT", "level=48")
	}
}
