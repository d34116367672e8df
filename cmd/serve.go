package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/audiolibrelab/speakcapture/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve [questions.yaml]",
	Short: "Start the web server for remote control",
	Long: `Start a recording session and expose it over HTTP.
Actions are POST endpoints; /ws streams session snapshots and toasts.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		listen, _ := cmd.Flags().GetString("listen")
		if listen == "" {
			listen = cfg.Server.Listen
		}

		svc, err := newSessionService(args[0])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		g, ctx := errgroup.WithContext(ctx)

		srv := server.New(svc, listen)
		g.Go(func() error {
			return svc.Run(ctx)
		})
		g.Go(func() error {
			if err := srv.Start(ctx); err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		})

		slog.Info("speakcapture web server starting", "listen", listen, "config", cfgFile, "part", cfg.Part)
		return quietExit(g.Wait())
	},
}

func init() {
	serveCmd.Flags().StringVar(&attemptID, "attempt", "", "attempt id (overrides attempt_id from the question set)")
	serveCmd.Flags().String("listen", "", "listen address (overrides server.listen)")
}
