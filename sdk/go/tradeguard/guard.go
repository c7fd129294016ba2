package tradeguard

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrCommitFailed is returned with the trade's result when the trade ran
// but its volume could not be recorded.
var ErrCommitFailed = errors.New("tradeguard: trade executed but not recorded")

// TradeFunc places a trade.
type TradeFunc func(ctx context.Context, trade Trade) (any, error)

// Wrap returns a TradeFunc that reserves the trade before calling fn.
// A denied trade returns a *BlockedError without calling fn. When fn fails
// the reservation is rolled back; when it succeeds it is committed.
func (c *Client) Wrap(fn TradeFunc) TradeFunc {
	return func(ctx context.Context, trade Trade) (any, error) {
		d, err := c.backend.CheckAndReserve(ctx, trade)
		if err != nil {
			return nil, err
		}
		if !d.Approved {
			return nil, blocked(trade, d.Denial)
		}

		result, err := fn(ctx, trade)
		if err != nil {
			if rbErr := c.backend.Rollback(context.WithoutCancel(ctx), d.ReservationID); rbErr != nil {
				// the reservation expires on its own
				c.log.Warn("rollback failed",
					zap.String("reservation_id", d.ReservationID),
					zap.Error(rbErr))
			}
			return nil, err
		}

		if err := c.backend.Commit(context.WithoutCancel(ctx), d.ReservationID); err != nil {
			return result, fmt.Errorf("%w: %w", ErrCommitFailed, err)
		}
		return result, nil
	}
}
