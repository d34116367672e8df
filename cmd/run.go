package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/audiolibrelab/speakcapture/internal/tui"
)

var runCmd = &cobra.Command{
	Use:   "run [questions.yaml]",
	Short: "Run a recording session in the terminal",
	Long: `Run a recording session for the question set in the terminal UI.
Logs go to a file while the UI owns the screen.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logPath, _ := cmd.Flags().GetString("log-file")
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer logFile.Close()
		setupLoggingTo(logFile, verboseLevel)

		svc, err := newSessionService(args[0])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		g, ctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			return svc.Run(ctx)
		})
		g.Go(func() error {
			defer svc.Close()
			program := tea.NewProgram(tui.New(svc), tea.WithContext(ctx), tea.WithAltScreen())
			if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return fmt.Errorf("terminal UI failed: %w", err)
			}
			return nil
		})

		err = quietExit(g.Wait())
		if snap := svc.Snapshot(); snap.Done {
			fmt.Printf("Test complete. Finalized attempt: %s\n", snap.FinalizedAttemptID)
		} else {
			fmt.Printf("Session ended after %d of %d answers.\n", len(snap.Submitted), snap.Total)
		}
		slog.Info("Session finished", "submitted", len(svc.Snapshot().Submitted))
		return err
	},
}

func init() {
	runCmd.Flags().StringVar(&attemptID, "attempt", "", "attempt id (overrides attempt_id from the question set)")
	runCmd.Flags().String("log-file", filepath.Join(os.TempDir(), "speakcapture.log"), "log file used while the terminal UI runs")
}
