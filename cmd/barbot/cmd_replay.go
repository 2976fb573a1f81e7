package main

import (
	"time"

	"github.com/spf13/cobra"
)

// replayCmd paces history bar by bar, like a live session on the paper broker
var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Paper-trade historical bars at a fixed pace",
	Long: `Run the same engine as backtest but pause between bars, so dashboards and
audit consumers see the session unfold. Ctrl-C stops between bars and still
prints the summary.

Examples:
  barbot replay --delay 250ms
  barbot replay --from 2024-03-01`,
	RunE: runReplay,
}

var replayDelay time.Duration

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().DurationVar(&replayDelay, "delay", 0, "Pause between bars (default data.replay_delay)")
	replayCmd.Flags().StringVar(&btFrom, "from", "", "Override data.from (RFC3339 or YYYY-MM-DD)")
	replayCmd.Flags().StringVar(&btTo, "to", "", "Override data.to (RFC3339 or YYYY-MM-DD)")
}

func runReplay(cmd *cobra.Command, args []string) error {
	return runHistorical(true)
}
