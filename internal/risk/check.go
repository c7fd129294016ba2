package risk

import (
	"strings"

	"github.com/shopspring/decimal"
)

// RiskCheck is one safety predicate of a Pipeline.
//
// Check must be side-effect free. Commit and Rollback are invoked at most
// once per approved trade, after the trade's outcome is durable.
type RiskCheck interface {
	Name() string
	Check(tc TradeContext) *Denial
	Commit(tc TradeContext)
	Rollback(tc TradeContext)
}

// stateless provides no-op Commit and Rollback.
type stateless struct{}

func (stateless) Commit(TradeContext)   {}
func (stateless) Rollback(TradeContext) {}

// MaxTradeAmountCheck denies trades larger than Max. Equal amounts pass.
type MaxTradeAmountCheck struct {
	stateless
	Max decimal.Decimal
}

func (c *MaxTradeAmountCheck) Name() string { return "max_trade_amount" }

func (c *MaxTradeAmountCheck) Check(tc TradeContext) *Denial {
	if tc.AmountUSD.GreaterThan(c.Max) {
		return Deny(AmountExceeded, c.Name(), "trade amount $%s exceeds maximum $%s", tc.AmountUSD, c.Max)
	}
	return nil
}

// SlippageCheck denies trades whose expected slippage, in percent, is above Max.
type SlippageCheck struct {
	stateless
	Max decimal.Decimal
}

func (c *SlippageCheck) Name() string { return "slippage" }

func (c *SlippageCheck) Check(tc TradeContext) *Denial {
	if tc.ExpectedSlippage.GreaterThan(c.Max) {
		return Deny(SlippageExceeded, c.Name(), "slippage %s%% exceeds maximum %s%%", tc.ExpectedSlippage, c.Max)
	}
	return nil
}

// LiquidityCheck denies trades into pools shallower than Min. A trade with no
// liquidity figure passes unless RequireData is set.
type LiquidityCheck struct {
	stateless
	Min         decimal.Decimal
	RequireData bool
}

func (c *LiquidityCheck) Name() string { return "liquidity" }

func (c *LiquidityCheck) Check(tc TradeContext) *Denial {
	if tc.LiquidityUSD == nil {
		if c.RequireData {
			return Deny(LiquidityTooLow, c.Name(), "liquidity data unavailable")
		}
		return nil
	}
	if tc.LiquidityUSD.LessThan(c.Min) {
		return Deny(LiquidityTooLow, c.Name(), "liquidity $%s below minimum $%s", tc.LiquidityUSD, c.Min)
	}
	return nil
}

// TokenSecurityCheck denies flagged tokens (when rug detection is on) and
// trades into a blacklisted token. Blacklist matching ignores case.
type TokenSecurityCheck struct {
	stateless
	RugDetection bool
	blacklist    map[string]bool
}

// NewTokenSecurityCheck builds a TokenSecurityCheck.
func NewTokenSecurityCheck(rugDetection bool, blacklist []string) *TokenSecurityCheck {
	c := &TokenSecurityCheck{RugDetection: rugDetection, blacklist: make(map[string]bool, len(blacklist))}
	for _, token := range blacklist {
		if t := normalizeToken(token); t != "" {
			c.blacklist[t] = true
		}
	}
	return c
}

func (c *TokenSecurityCheck) Name() string { return "token_security" }

func (c *TokenSecurityCheck) Check(tc TradeContext) *Denial {
	if c.RugDetection && tc.IsFlagged {
		return Deny(TokenBlacklisted, c.Name(), "token %s is flagged as risky", tc.ToToken)
	}
	if c.blacklist[normalizeToken(tc.ToToken)] {
		return Deny(TokenBlacklisted, c.Name(), "token %s is blacklisted", tc.ToToken)
	}
	return nil
}

func normalizeToken(token string) string {
	return strings.ToLower(strings.TrimSpace(token))
}

// CompositeCheck groups children under one name. It fails with the first
// failing child's denial.
type CompositeCheck struct {
	name     string
	children []RiskCheck
}

// NewCompositeCheck groups checks in evaluation order.
func NewCompositeCheck(name string, children ...RiskCheck) *CompositeCheck {
	return &CompositeCheck{name: name, children: append([]RiskCheck(nil), children...)}
}

func (c *CompositeCheck) Name() string { return c.name }

// Children returns a copy of the child list.
func (c *CompositeCheck) Children() []RiskCheck {
	return append([]RiskCheck(nil), c.children...)
}

func (c *CompositeCheck) Check(tc TradeContext) *Denial {
	for _, child := range c.children {
		if d := child.Check(tc); d != nil {
			return d
		}
	}
	return nil
}

func (c *CompositeCheck) Commit(tc TradeContext) {
	for _, child := range c.children {
		child.Commit(tc)
	}
}

func (c *CompositeCheck) Rollback(tc TradeContext) {
	for _, child := range c.children {
		child.Rollback(tc)
	}
}

// CheckFunc adapts a predicate into a stateless RiskCheck.
func CheckFunc(name string, fn func(tc TradeContext) *Denial) RiskCheck {
	return &funcCheck{name: name, fn: fn}
}

type funcCheck struct {
	stateless
	name string
	fn   func(tc TradeContext) *Denial
}

func (c *funcCheck) Name() string                  { return c.name }
func (c *funcCheck) Check(tc TradeContext) *Denial { return c.fn(tc) }
