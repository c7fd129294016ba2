package tradeguard

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ppiankov/tradeguard/internal/client"
	"github.com/ppiankov/tradeguard/internal/risk"
)

type backend interface {
	CheckAndReserve(ctx context.Context, tc risk.TradeContext) (risk.Decision, error)
	Commit(ctx context.Context, reservationID string) error
	Rollback(ctx context.Context, reservationID string) error
}

// Client checks and records trades. Safe for concurrent use.
type Client struct {
	backend backend
	close   func(ctx context.Context) error
	log     *zap.Logger
}

// New creates a Client with the given options.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := clientConfig{log: zap.NewNop()}
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.server != "" {
		c, err := client.New(cfg.server)
		if err != nil {
			return nil, fmt.Errorf("tradeguard: %w", err)
		}
		return &Client{
			backend: c,
			close:   func(context.Context) error { return c.Close() },
			log:     cfg.log,
		}, nil
	}

	riskCfg, err := risk.LoadConfig(cfg.configPath)
	if err != nil {
		return nil, fmt.Errorf("tradeguard: failed to load risk config: %w", err)
	}
	m, err := risk.NewManager(ctx, riskCfg, risk.WithLogger(cfg.log))
	if err != nil {
		return nil, fmt.Errorf("tradeguard: %w", err)
	}
	return &Client{backend: m, close: m.Close, log: cfg.log}, nil
}

// CheckAndReserve checks tc and holds its volume when approved. The caller
// must Commit or Rollback the returned reservation.
func (c *Client) CheckAndReserve(ctx context.Context, tc Trade) (Decision, error) {
	return c.backend.CheckAndReserve(ctx, tc)
}

func (c *Client) Commit(ctx context.Context, reservationID string) error {
	return c.backend.Commit(ctx, reservationID)
}

func (c *Client) Rollback(ctx context.Context, reservationID string) error {
	return c.backend.Rollback(ctx, reservationID)
}

// Close releases the connection or flushes the in-process state.
func (c *Client) Close(ctx context.Context) error {
	return c.close(ctx)
}
