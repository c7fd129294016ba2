package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	pb "github.com/ppiankov/tradeguard/api/tradeguard/v1"
	"github.com/ppiankov/tradeguard/internal/client"
	"github.com/ppiankov/tradeguard/internal/risk"
)

var (
	checkUser      string
	checkFrom      string
	checkTo        string
	checkAmount    string
	checkSlippage  string
	checkLiquidity string
	checkFlagged   bool
	checkCommit    bool
	checkServer    string
	checkFormat    string
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkUser, "user", "", "User the trade is made for (required)")
	checkCmd.Flags().StringVar(&checkFrom, "from", "", "Token sold")
	checkCmd.Flags().StringVar(&checkTo, "to", "", "Token bought")
	checkCmd.Flags().StringVar(&checkAmount, "amount", "", "Trade size in USD (required)")
	checkCmd.Flags().StringVar(&checkSlippage, "slippage", "", "Expected slippage in percent")
	checkCmd.Flags().StringVar(&checkLiquidity, "liquidity", "", "Pool liquidity in USD (omit if unknown)")
	checkCmd.Flags().BoolVar(&checkFlagged, "flagged", false, "Token was flagged by a security scanner")
	checkCmd.Flags().BoolVar(&checkCommit, "commit", false, "Commit the trade if approved instead of rolling it back")
	checkCmd.Flags().StringVar(&checkServer, "server", "", "Address of a running 'tradeguard serve' (default: evaluate locally)")
	checkCmd.Flags().StringVarP(&checkFormat, "format", "f", "text", "Output format (text|json)")
	checkCmd.MarkFlagRequired("user")
	checkCmd.MarkFlagRequired("amount")
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate one trade against the risk limits",
	Long: "Runs a trade proposal through the check pipeline and reports the decision.\n" +
		"An approved trade is rolled back afterwards unless --commit is given,\n" +
		"in which case its volume counts against today's limit.\n\n" +
		"Exit code 0 if approved, 1 if denied.",
	RunE: runCheck,
}

// tradeGuard is satisfied by both *risk.Manager and *client.Client.
type tradeGuard interface {
	CheckAndReserve(ctx context.Context, tc risk.TradeContext) (risk.Decision, error)
	Commit(ctx context.Context, reservationID string) error
	Rollback(ctx context.Context, reservationID string) error
}

func runCheck(cmd *cobra.Command, args []string) error {
	approved, err := checkOnce()
	if err != nil {
		return err
	}
	// exit only after the journal and state are flushed
	if !approved {
		os.Exit(1)
	}
	return nil
}

func checkOnce() (bool, error) {
	tc, err := checkTrade()
	if err != nil {
		return false, err
	}

	ctx := context.Background()
	var tg tradeGuard
	if checkServer != "" {
		c, err := client.New(checkServer)
		if err != nil {
			return false, err
		}
		defer c.Close()
		tg = c
	} else {
		log, err := newLogger()
		if err != nil {
			return false, err
		}
		defer log.Sync()
		g, err := openGuard(ctx, log)
		if err != nil {
			return false, err
		}
		defer func() {
			if err := g.close(context.Background()); err != nil {
				log.Error("shutdown", zap.Error(err))
			}
		}()
		tg = g.manager
	}

	d, resolution, err := checkAndResolve(ctx, tg, tc, checkCommit)
	if err != nil {
		return false, err
	}

	switch checkFormat {
	case "json":
		out, err := json.MarshalIndent(pb.NewCheckAndReserveResponse(d), "", "  ")
		if err != nil {
			return false, err
		}
		fmt.Println(string(out))
	default:
		fmt.Print(formatDecision(d, resolution))
	}
	return d.Approved, nil
}

func checkTrade() (risk.TradeContext, error) {
	return (&pb.CheckAndReserveRequest{
		UserID:           checkUser,
		FromToken:        checkFrom,
		ToToken:          checkTo,
		AmountUSD:        checkAmount,
		ExpectedSlippage: checkSlippage,
		LiquidityUSD:     checkLiquidity,
		IsFlagged:        checkFlagged,
	}).Trade()
}

// checkAndResolve reserves tc and immediately resolves an approval,
// returning "committed" or "rolled_back".
func checkAndResolve(ctx context.Context, tg tradeGuard, tc risk.TradeContext, commit bool) (risk.Decision, string, error) {
	d, err := tg.CheckAndReserve(ctx, tc)
	if err != nil || !d.Approved {
		return d, "", err
	}
	if commit {
		if err := tg.Commit(ctx, d.ReservationID); err != nil {
			return d, "", fmt.Errorf("commit %s: %w", d.ReservationID, err)
		}
		return d, "committed", nil
	}
	if err := tg.Rollback(ctx, d.ReservationID); err != nil {
		return d, "", fmt.Errorf("rollback %s: %w", d.ReservationID, err)
	}
	return d, "rolled_back", nil
}

func formatDecision(d risk.Decision, resolution string) string {
	if !d.Approved {
		return fmt.Sprintf("DENIED %s\n", d.Denial)
	}
	return fmt.Sprintf("APPROVED reservation %s (%s)\n", d.ReservationID, resolution)
}
