package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/tradeguard/internal/alert"
	"github.com/ppiankov/tradeguard/internal/risk"
)

var configForce bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config file")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Risk configuration operations",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default risk config",
	Long: "Writes the default limits to --config (default ~/.tradeguard/risk.yaml).\n" +
		"An existing file is left untouched unless --force is given.",
	RunE: runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a risk config for errors",
	Long:  "Loads --config over the defaults and reports every invalid field. Exits 1 if any.",
	RunE:  runConfigValidate,
}

func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return risk.DefaultConfigPath()
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := resolvedConfigPath()
	if _, err := os.Stat(path); err == nil && !configForce {
		fmt.Fprintf(os.Stderr, "%s already exists (use --force to overwrite)\n", path)
		return nil
	}

	data, err := risk.DefaultConfig().Marshal()
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %s\n", path)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := resolvedConfigPath()
	_, err := risk.LoadConfig(path)
	if err == nil {
		if _, err := alert.LoadConfig(path); err != nil {
			return err
		}
		fmt.Printf("OK: %s\n", path)
		return nil
	}

	var cfgErr *risk.ConfigError
	if !errors.As(err, &cfgErr) {
		return err
	}
	fmt.Fprintf(os.Stderr, "INVALID: %s\n", path)
	for _, e := range unjoin(err) {
		fmt.Fprintf(os.Stderr, "  %v\n", e)
	}
	os.Exit(1)
	return nil
}

// unjoin flattens an errors.Join result.
func unjoin(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}
