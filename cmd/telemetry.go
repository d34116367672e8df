package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/speakcapture/internal/notify"
)

var telemetryCmd = &cobra.Command{
	Use:   "telemetry",
	Short: "Show recent session telemetry",
	Long:  `Print the most recent events from the telemetry journal, newest first.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		if !cfg.Telemetry.Enabled {
			return fmt.Errorf("telemetry is disabled (telemetry.enabled: false)")
		}
		store, err := notify.OpenStore(cfg.Telemetry.Database)
		if err != nil {
			return err
		}
		defer store.Close()

		events, err := store.Recent(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Println("No telemetry recorded yet.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tEVENT\tATTEMPT\tQUESTION\tREASON")
		for _, ev := range events {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				ev.At.Local().Format("2006-01-02 15:04:05"), ev.Name, orDash(ev.Attempt), ev.Question, orDash(ev.Reason))
		}
		return w.Flush()
	},
}

func init() {
	telemetryCmd.Flags().IntP("limit", "n", 20, "number of events to show")
}
