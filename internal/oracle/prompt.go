package oracle

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are a disciplined perpetual-futures portfolio manager. You receive the
account state, open positions, per-symbol market data and the historical
performance of your own past decisions. Respond with a JSON array of
decisions, one object per action, using exactly this shape:

[{"action":"open_long|open_short|close_long|close_short|hold|wait",
  "symbol":"BTCUSDT","notional_usd":0,"quantity":0,"leverage":1,
  "stop_loss":0,"take_profit":0,"reasoning":"...","confidence":0.0}]

Size either by notional_usd or quantity, never both. Confidence is 0 to 1.
Explain your reasoning before the array if you wish; only the array is
executed.`

// BuildUserPrompt renders the full cycle snapshot as the user message.
func BuildUserPrompt(req *DecideRequest) string {
	var b strings.Builder

	b.WriteString("## Account\n")
	if req.Account != nil {
		a := req.Account
		fmt.Fprintf(&b, "equity=%.2f available=%.2f marginUsed=%.2f usage=%.1f%% unrealizedPnl=%.2f openPositions=%d\n",
			a.TotalEquity, a.AvailableBalance, a.TotalMarginUsed,
			a.MarginUsagePercent*100, a.TotalUnrealizedPnl, a.TotalPositions)
	}

	b.WriteString("\n## Open positions\n")
	if len(req.Positions) == 0 {
		b.WriteString("none\n")
	}
	for _, p := range req.Positions {
		fmt.Fprintf(&b, "%s %s qty=%v entry=%.4f mark=%.4f lev=%dx uPnl=%.2f (%.2f%%)\n",
			p.Symbol, p.Side, p.Quantity, p.EntryPrice, p.CurrentPrice,
			p.Leverage, p.UnrealizedPnl(), p.UnrealizedPnlPercent())
	}

	b.WriteString("\n## Market\n")
	for _, m := range req.Market {
		fmt.Fprintf(&b, "%s price=%.4f funding=%.6f openInterestUSD=%.0f",
			m.Symbol, m.Price, m.FundingRate, m.OpenInterestUSD())
		if n := len(m.Klines); n > 0 {
			first := m.Klines[0].Close
			last := m.Klines[n-1].Close
			if first > 0 {
				fmt.Fprintf(&b, " change=%.2f%%", (last-first)/first*100)
			}
		}
		b.WriteByte('\n')
	}

	if req.Feedback != nil && req.Feedback.TotalTrades > 0 {
		f := req.Feedback
		b.WriteString("\n## Your track record\n")
		fmt.Fprintf(&b, "trades=%d winRate=%.0f%% profitFactor=%.2f avgWin=%.2f avgLoss=%.2f\n",
			f.TotalTrades, f.WinRate*100, f.ProfitFactor, f.AvgWin, f.AvgLoss)
		fmt.Fprintf(&b, "sharpe=%.2f maxDrawdown=%.1f%% winStreak=%d lossStreak=%d\n",
			f.SharpeRatio, f.MaxDrawdown*100, f.LongestWinStreak, f.LongestLossStreak)
		if len(f.BestSymbols) > 0 {
			b.WriteString("best symbols:")
			for _, s := range f.BestSymbols {
				fmt.Fprintf(&b, " %s(%.2f)", s.Symbol, s.TotalPnl)
			}
			b.WriteByte('\n')
		}
		if len(f.WorstSymbols) > 0 {
			b.WriteString("worst symbols:")
			for _, s := range f.WorstSymbols {
				fmt.Fprintf(&b, " %s(%.2f)", s.Symbol, s.TotalPnl)
			}
			b.WriteByte('\n')
		}
		if len(f.DeniedSymbols) > 0 {
			fmt.Fprintf(&b, "avoid (repeated losses): %s\n", strings.Join(f.DeniedSymbols, ", "))
		}
	}

	b.WriteString("\nDecide now. Reply with the JSON decision array.\n")
	return b.String()
}
