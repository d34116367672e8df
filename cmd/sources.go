package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/speakcapture/internal/audio"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available capture devices",
	Long: `List the capture devices of the configured backend (pulse, alsa or jack).
With --probe, open the configured device briefly to check microphone access.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		probe, _ := cmd.Flags().GetBool("probe")

		devices, err := audio.ListDevices(cfg.Capture)
		if err != nil {
			return fmt.Errorf("failed to list %s devices: %w", cfg.Capture.Backend, err)
		}

		fmt.Printf("Capture devices (%s, %d found):\n", cfg.Capture.Backend, len(devices))
		for i, device := range devices {
			marker := " "
			if device == cfg.Capture.Device {
				marker = "*"
			}
			fmt.Printf(" %s %d. %s\n", marker, i+1, device)
		}

		if err := audio.ValidateDevice(cfg.Capture); err != nil {
			fmt.Printf("\nConfigured device %q: %v\n", cfg.Capture.Device, err)
		} else {
			fmt.Printf("\nConfigured device: %s\n", cfg.Capture.Device)
		}

		if !probe {
			return nil
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()
		capture := audio.NewFFmpegCapture(cfg.Capture)
		if err := capture.Probe(ctx); err != nil {
			return fmt.Errorf("probe failed (status %s): %w", capture.Status(), err)
		}
		fmt.Printf("Probe OK (status %s): the device can be opened for recording.\n", capture.Status())
		return nil
	},
}

func init() {
	sourcesCmd.Flags().Bool("probe", false, "open the configured device briefly to check access")
}
