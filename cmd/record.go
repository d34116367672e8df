package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/speakcapture/internal/audio"
)

var recordCmd = &cobra.Command{
	Use:   "record [output-file]",
	Short: "Record a test take with the configured capture device",
	Long: `Record from the configured capture device outside of a session, to check
levels and permissions. Recording stops after --duration or on Ctrl+C.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output := args[0]
		duration, _ := cmd.Flags().GetDuration("duration")
		slog.Info("Record command started", "output", output, "duration", duration)

		capture := audio.NewFFmpegCapture(cfg.Capture)
		defer capture.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := capture.Start(ctx); err != nil {
			return fmt.Errorf("failed to start capture: %w", err)
		}
		started := time.Now()
		slog.Info("Recording... Press Ctrl+C to stop")

		timer := time.NewTimer(duration)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		case err := <-capture.Failures():
			return fmt.Errorf("capture failed: %w", err)
		}

		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Recording.StopTimeout)
		defer cancel()
		artifact, err := capture.Stop(stopCtx)
		if err != nil {
			return fmt.Errorf("failed to stop recording: %w", err)
		}
		defer artifact.Release()

		if err := os.WriteFile(output, artifact.Data, 0644); err != nil {
			return fmt.Errorf("failed to write recording: %w", err)
		}
		fmt.Printf("Recorded %s (%d bytes, %s) to %s\n",
			time.Since(started).Round(100*time.Millisecond), len(artifact.Data), artifact.MimeType, output)
		return nil
	},
}

func init() {
	recordCmd.Flags().DurationP("duration", "d", 10*time.Second, "maximum recording length")
}
