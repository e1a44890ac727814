package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/kcore/datarecording"
	"github.com/sarchlab/kcore/tracing"
)

var reportCmd = &cobra.Command{
	Use:   "report <file>",
	Short: "Summarize the kernel events of a recording.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reader := datarecording.NewReader(args[0])
		defer reader.Close()

		events, err := tracing.ReadEvents(cmd.Context(), reader)
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d events\n", len(events))

		for _, s := range tracing.Summarize(events) {
			fmt.Fprintf(out, "%-16s %-24s %d\n", s.Where, s.Kind, s.Count)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
}
