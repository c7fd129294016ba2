package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	pb "github.com/ppiankov/tradeguard/api/tradeguard/v1"
	"github.com/ppiankov/tradeguard/internal/client"
)

var (
	statusUser   string
	statusServer string
	statusFormat string
)

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusUser, "user", "", "User to report on (required)")
	statusCmd.Flags().StringVar(&statusServer, "server", "", "Address of a running 'tradeguard serve' (default: read local state)")
	statusCmd.Flags().StringVarP(&statusFormat, "format", "f", "text", "Output format (text|json)")
	statusCmd.MarkFlagRequired("user")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a user's daily volume and limits",
	Long: "Reports committed and reserved volume for the current UTC day,\n" +
		"the remaining daily limit, and whether the kill switch is engaged.",
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var limits *pb.LimitsResponse
	if statusServer != "" {
		c, err := client.New(statusServer)
		if err != nil {
			return err
		}
		defer c.Close()
		if limits, err = c.Limits(ctx, statusUser); err != nil {
			return err
		}
	} else {
		log, err := newLogger()
		if err != nil {
			return err
		}
		defer log.Sync()
		g, err := openGuard(ctx, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := g.close(context.Background()); err != nil {
				log.Error("shutdown", zap.Error(err))
			}
		}()
		u, err := g.manager.Usage(ctx, statusUser)
		if err != nil {
			return err
		}
		limits = pb.NewLimitsResponse(u, g.cfg, g.emergencyStop())
	}

	switch statusFormat {
	case "json":
		out, err := json.MarshalIndent(limits, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	default:
		fmt.Print(formatLimits(limits))
	}
	return nil
}

func formatLimits(l *pb.LimitsResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User:        %s\n", l.UserID)
	fmt.Fprintf(&b, "Day (UTC):   %s\n", l.CalendarDate)
	fmt.Fprintf(&b, "Committed:   $%s\n", l.CommittedUSD)
	fmt.Fprintf(&b, "Reserved:    $%s (%d open)\n", l.ReservedUSD, l.OpenReservations)
	fmt.Fprintf(&b, "Remaining:   $%s of $%s\n", l.RemainingUSD, l.MaxDailyVolumeUSD)
	fmt.Fprintf(&b, "Max trade:   $%s\n", l.MaxSingleTradeUSD)
	fmt.Fprintf(&b, "Cooldown:    %ds\n", l.CooldownSecs)
	if l.LastTradeAt != "" {
		fmt.Fprintf(&b, "Last trade:  %s\n", l.LastTradeAt)
	}
	if l.EmergencyStop {
		b.WriteString("EMERGENCY STOP ENGAGED: all trades are denied\n")
	}
	return b.String()
}
