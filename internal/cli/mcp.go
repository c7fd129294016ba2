package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	tgmcp "github.com/ppiankov/tradeguard/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long: "Runs tradeguard as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes tools: tradeguard_check_and_reserve, tradeguard_commit,\n" +
		"tradeguard_rollback, tradeguard_limits.\n\n" +
		"The MCP server owns the risk state file; do not run it alongside\n" +
		"'tradeguard serve' on the same state path.",
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, err := openGuard(ctx, log)
	if err != nil {
		return fmt.Errorf("failed to start risk manager: %w", err)
	}
	defer func() {
		if err := g.close(context.Background()); err != nil {
			log.Error("shutdown", zap.Error(err))
		}
	}()

	srv := tgmcp.New(g.manager,
		tgmcp.WithLogger(log),
		tgmcp.WithKillSwitch(g.stop),
		tgmcp.WithVersion(version))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nShutting down MCP server...")
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Fprintln(os.Stderr, "tradeguard MCP server running on stdio")
	fmt.Fprintf(os.Stderr, "State: %s\n", g.cfg.StatePath)
	fmt.Fprintln(os.Stderr)

	return srv.Run(ctx)
}
