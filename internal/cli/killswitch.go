package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/tradeguard/internal/killswitch"
	"github.com/ppiankov/tradeguard/internal/risk"
)

var stopReason string

func init() {
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(resumeCmd)
	stopCmd.Flags().StringVar(&stopReason, "reason", "manual stop", "Note written into the stop file")
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Engage the kill switch: deny every trade",
	Long: "Creates the configured kill switch file. A running server picks it up\n" +
		"immediately and denies every trade with EmergencyStop until 'resume'.",
	RunE: runStop,
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Release the kill switch",
	RunE:  runResume,
}

func killSwitchPath() (string, error) {
	cfg, err := risk.LoadConfig(configPath)
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	if cfg.KillSwitchPath == "" {
		return "", fmt.Errorf("kill_switch_path is not configured")
	}
	return cfg.KillSwitchPath, nil
}

func runStop(cmd *cobra.Command, args []string) error {
	path, err := killSwitchPath()
	if err != nil {
		return err
	}
	if err := killswitch.Engage(path, stopReason); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Kill switch engaged: %s\n", path)
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	path, err := killSwitchPath()
	if err != nil {
		return err
	}
	if err := killswitch.Release(path); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Kill switch released: %s\n", path)
	return nil
}
