package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/speakcapture/internal/questions"
)

var questionsCmd = &cobra.Command{
	Use:   "questions [questions.yaml]",
	Short: "Show a question set as the session will run it",
	Long:  `Load and validate a question set, then print every question in order with its resolved audio paths and recording limit for the active part.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		set, err := questions.Load(args[0])
		if err != nil {
			return err
		}

		attempt := set.AttemptID
		if attempt == "" {
			attempt = "(missing: submission will fail)"
		}
		fmt.Printf("=== QUESTION SET ===\n")
		fmt.Printf("attempt_id: %s\n", attempt)
		fmt.Printf("part: %s\n", cfg.Part)
		fmt.Printf("questions: %d\n\n", len(set.Questions))

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "#\tTYPE\tLIMIT\tINTRO\tPROMPT AUDIO\tPROMPT")
		for _, q := range set.Questions {
			limit := q.TimeLimit
			if limit <= 0 {
				limit = cfg.TimeLimit(q.Type)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				q.Number, orDash(q.Type), limit, orDash(q.IntroAudio), orDash(q.PromptAudio), truncate(q.Prompt, 48))
		}
		return w.Flush()
	},
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
