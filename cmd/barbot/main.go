// Binary barbot runs the bar-close trading engine in backtest, replay or live mode.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

// rootCmd is the base command for the barbot CLI
var rootCmd = &cobra.Command{
	Use:   "barbot",
	Short: "Rule-based bar-close trading engine",
	Long: `barbot evaluates trading rules on closed bars, admits signals through
account guards, and manages positions with a staged exit cascade. The same
engine runs a historical backtest, a paced paper replay, or a live session.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/barbot.yaml", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override app.log_level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
