package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/tradeguard/internal/audit"
	"github.com/ppiankov/tradeguard/internal/risk"
)

var (
	tailLines       int
	tailUser        string
	tailReservation string
	tailSince       time.Duration
	tailFormat      string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 20, "Number of recent entries to show (0 for all)")
	auditTailCmd.Flags().StringVar(&tailUser, "user", "", "Only entries for this user")
	auditTailCmd.Flags().StringVar(&tailReservation, "reservation", "", "Only entries for this reservation")
	auditTailCmd.Flags().DurationVar(&tailSince, "since", 0, "Only entries newer than this (e.g. 1h)")
	auditTailCmd.Flags().StringVarP(&tailFormat, "format", "f", "text", "Output format (text|json)")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Decision journal operations",
	Long:  "Commands for verifying and inspecting the hash-chained decision journal.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of the decision journal",
	Long: "Walks the JSONL journal and validates that every entry's prev_hash\n" +
		"matches the SHA-256 of the previous entry. Exits 0 if valid, 1 if tampered.\n" +
		"Defaults to the journal_path from the risk config.",
	Args: cobra.MaximumNArgs(1),
	RunE: runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail [path]",
	Short: "Show recent decisions with a summary",
	Long:  "Reads the decision journal, applies filters and prints the most recent entries.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditTail,
}

// journalPath returns the explicit argument or the configured journal.
func journalPath(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	cfg, err := risk.LoadConfig(configPath)
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	if cfg.JournalPath == "" {
		return "", fmt.Errorf("no journal path given and journal_path is not configured")
	}
	return cfg.JournalPath, nil
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	path, err := journalPath(args)
	if err != nil {
		return err
	}
	result := audit.Verify(path)
	if result.Valid {
		fmt.Printf("OK: %d entries verified (head %s)\n", result.Lines, result.Head)
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	os.Exit(1)
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	path, err := journalPath(args)
	if err != nil {
		return err
	}

	filter := audit.ReplayFilter{UserID: tailUser, ReservationID: tailReservation}
	if tailSince > 0 {
		filter.From = time.Now().UTC().Add(-tailSince)
	}

	result, err := audit.Replay(path, filter)
	if err != nil {
		return err
	}
	result = result.Tail(tailLines)

	switch tailFormat {
	case "json":
		out, err := audit.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Println(out)
	default:
		fmt.Print(audit.FormatTimeline(result))
	}
	return nil
}
