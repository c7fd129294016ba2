// Package tradeguard guards trade execution for Go trading agents. It wraps
// the function that places a trade: the trade is checked and its volume
// reserved before the function runs, then committed if it succeeds or
// rolled back if it fails.
//
// Usage:
//
//	tg, err := tradeguard.New(ctx, tradeguard.WithServer("localhost:50051"))
//	swap := tg.Wrap(executeSwap)
//	receipt, err := swap(ctx, tradeguard.Trade{
//	    UserID:    "agent-7",
//	    FromToken: "USDC",
//	    ToToken:   "SOL",
//	    AmountUSD: decimal.NewFromInt(250),
//	})
//
// Without WithServer the SDK runs the risk manager in-process against the
// configured state file.
package tradeguard
