package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/ppiankov/tradeguard/internal/killswitch"
	"github.com/ppiankov/tradeguard/internal/risk"
)

// Option configures a Server.
type Option func(*Server)

func WithLogger(log *zap.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithKillSwitch reports the switch state from tradeguard_limits.
func WithKillSwitch(sw *killswitch.Switch) Option {
	return func(s *Server) { s.stop = sw }
}

// WithVersion sets the version advertised to MCP clients.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// Server exposes a risk.Manager to LLM agents as MCP tools.
type Server struct {
	mcpServer *mcpsdk.Server
	manager   *risk.Manager
	stop      *killswitch.Switch
	log       *zap.Logger
	version   string
}

// New creates an MCP server around manager. The caller closes manager.
func New(manager *risk.Manager, opts ...Option) *Server {
	s := &Server{
		manager: manager,
		log:     zap.NewNop(),
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("mcp")

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "tradeguard",
			Version: s.version,
		},
		nil,
	)

	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all tradeguard tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "tradeguard_check_and_reserve",
		Description: "Check a proposed trade against risk limits. If approved, its volume is reserved and the returned reservation_id must be passed to tradeguard_commit after the trade executes or to tradeguard_rollback if it does not.",
	}, s.handleCheckAndReserve)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "tradeguard_commit",
		Description: "Record that an approved trade was executed. Counts its volume against the daily limit.",
	}, s.handleCommit)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "tradeguard_rollback",
		Description: "Release an approved trade that was not executed.",
	}, s.handleRollback)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "tradeguard_limits",
		Description: "Show a user's committed and reserved volume for today and the configured limits.",
	}, s.handleLimits)
}
