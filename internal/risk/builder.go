package risk

import "github.com/shopspring/decimal"

// Builder accumulates checks in evaluation order.
type Builder struct {
	checks []RiskCheck
}

// NewBuilder returns an empty pipeline builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends an arbitrary check.
func (b *Builder) Add(c RiskCheck) *Builder {
	b.checks = append(b.checks, c)
	return b
}

func (b *Builder) MaxTradeAmount(max decimal.Decimal) *Builder {
	return b.Add(&MaxTradeAmountCheck{Max: max})
}

func (b *Builder) MaxSlippage(maxPercent decimal.Decimal) *Builder {
	return b.Add(&SlippageCheck{Max: maxPercent})
}

func (b *Builder) MinLiquidity(min decimal.Decimal, requireData bool) *Builder {
	return b.Add(&LiquidityCheck{Min: min, RequireData: requireData})
}

func (b *Builder) TokenSecurity(rugDetection bool, blacklist []string) *Builder {
	return b.Add(NewTokenSecurityCheck(rugDetection, blacklist))
}

// Build compiles the accumulated checks into an immutable Pipeline. Later
// calls to the builder do not affect it.
func (b *Builder) Build() *Pipeline {
	return &Pipeline{checks: append([]RiskCheck(nil), b.checks...)}
}

// BuildComposite compiles the accumulated checks into one named check.
func (b *Builder) BuildComposite(name string) *CompositeCheck {
	return NewCompositeCheck(name, b.checks...)
}

// Pipeline is an ordered, immutable list of checks.
type Pipeline struct {
	checks []RiskCheck
}

// PipelineFromConfig builds the standard pipeline: amount, slippage,
// liquidity, token security, then any extra checks.
func PipelineFromConfig(cfg *RiskConfig, extra ...RiskCheck) *Pipeline {
	b := NewBuilder().
		MaxTradeAmount(cfg.MaxSingleTradeUSD).
		MaxSlippage(cfg.MaxSlippagePercent).
		MinLiquidity(cfg.MinLiquidityUSD, cfg.RequireLiquidityData).
		TokenSecurity(cfg.EnableRugDetection, cfg.TokenBlacklist)
	for _, c := range extra {
		b.Add(c)
	}
	return b.Build()
}

// Evaluate runs checks in order and returns the first denial, or nil.
func (p *Pipeline) Evaluate(tc TradeContext) *Denial {
	for _, c := range p.checks {
		if d := c.Check(tc); d != nil {
			return d
		}
	}
	return nil
}

func (p *Pipeline) Commit(tc TradeContext) {
	for _, c := range p.checks {
		c.Commit(tc)
	}
}

func (p *Pipeline) Rollback(tc TradeContext) {
	for _, c := range p.checks {
		c.Rollback(tc)
	}
}

// Names lists check names in evaluation order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.checks))
	for i, c := range p.checks {
		names[i] = c.Name()
	}
	return names
}

func (p *Pipeline) Len() int {
	return len(p.checks)
}
