package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/speakcapture/internal/play"
)

var playCmd = &cobra.Command{
	Use:   "play [file-or-url]",
	Short: "Play an audio file through the configured player",
	Long: `Play a prompt or a recorded take with the same player the session uses.
Uses playback.player when set, otherwise the first of ffplay, mpv or vlc found.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Playing: %s\n", args[0])

		player := play.New(cfg.Playback)
		if err := player.PlayFile(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		return nil
	},
}
