package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	logJSON    bool
)

var rootCmd = &cobra.Command{
	Use:   "tradeguard",
	Short: "Risk guardrails for automated trading agents",
	Long: "Checks every proposed trade against per-user limits before it executes.\n" +
		"Approved trades hold their volume until the caller commits or rolls them back.\n" +
		"Daily volume survives restarts and resets at 00:00 UTC.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to risk config YAML (default ~/.tradeguard/risk.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit JSON logs")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
