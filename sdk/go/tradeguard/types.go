package tradeguard

import (
	"fmt"

	"github.com/ppiankov/tradeguard/internal/risk"
)

// Trade describes a proposed trade.
type Trade = risk.TradeContext

// Reason identifies which limit denied a trade.
type Reason = risk.Reason

// Decision is the outcome of a check.
type Decision = risk.Decision

// BlockedError is returned when the risk checks deny a trade.
type BlockedError struct {
	Trade   Trade
	Reason  Reason
	Check   string
	Message string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("tradeguard blocked (%s): %s", e.Reason, e.Message)
}

func blocked(tc Trade, d *risk.Denial) *BlockedError {
	return &BlockedError{Trade: tc, Reason: d.Reason, Check: d.Check, Message: d.Message}
}
