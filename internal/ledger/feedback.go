package ledger

import (
	"math"
	"sort"

	"github.com/perpmind/perpmind/internal/models"
)

const rankedSymbolCount = 5

// computeFeedback aggregates closed trades (ordered close-time descending)
// and the full equity-snapshot series into HistoricalFeedback. With no
// trades it returns the zeroed structure.
func computeFeedback(trades []models.Trade, snapshots []models.EquitySnapshot) *models.HistoricalFeedback {
	fb := &models.HistoricalFeedback{
		BestSymbols:    []models.SymbolStats{},
		WorstSymbols:   []models.SymbolStats{},
		AllowedSymbols: []string{},
		DeniedSymbols:  []string{},
	}
	if len(trades) == 0 {
		return fb
	}

	fb.TotalTrades = len(trades)

	var wins, losses int
	var grossProfit, grossLoss, winSum, lossSum float64
	for _, t := range trades {
		switch {
		case t.Pnl > 0:
			wins++
			grossProfit += t.Pnl
			winSum += t.Pnl
		case t.Pnl < 0:
			losses++
			grossLoss += -t.Pnl
			lossSum += -t.Pnl
		}
	}

	fb.WinRate = float64(wins) / float64(len(trades))
	if grossLoss > 0 {
		fb.ProfitFactor = grossProfit / grossLoss
	}
	if wins > 0 {
		fb.AvgWin = winSum / float64(wins)
	}
	if losses > 0 {
		fb.AvgLoss = lossSum / float64(losses)
	}

	fb.SharpeRatio = sharpeRatio(trades)
	fb.LongestWinStreak, fb.LongestLossStreak = longestStreaks(trades)
	fb.MaxDrawdown = maxDrawdown(snapshots)

	ranked := rankSymbols(trades)
	fb.BestSymbols = topSymbols(ranked)
	fb.WorstSymbols = bottomSymbols(ranked)

	for _, s := range ranked {
		if s.TotalPnl > 0 {
			fb.AllowedSymbols = append(fb.AllowedSymbols, s.Symbol)
		} else if s.TotalPnl < 0 && s.Trades >= 2 {
			fb.DeniedSymbols = append(fb.DeniedSymbols, s.Symbol)
		}
	}

	return fb
}

// sharpeRatio is mean/population-stddev of per-trade pnlPercent, 0 when the
// deviation is 0.
func sharpeRatio(trades []models.Trade) float64 {
	var sum float64
	for _, t := range trades {
		sum += t.PnlPercent
	}
	mean := sum / float64(len(trades))

	var variance float64
	for _, t := range trades {
		d := t.PnlPercent - mean
		variance += d * d
	}
	variance /= float64(len(trades))

	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return 0
	}
	return mean / stddev
}

// longestStreaks scans trades oldest to newest. The input is ordered close
// time descending, so the scan walks it backwards. A zero-pnl trade breaks
// both streaks.
func longestStreaks(trades []models.Trade) (longestWin, longestLoss int) {
	var curWin, curLoss int
	for i := len(trades) - 1; i >= 0; i-- {
		pnl := trades[i].Pnl
		switch {
		case pnl > 0:
			curWin++
			curLoss = 0
		case pnl < 0:
			curLoss++
			curWin = 0
		default:
			curWin, curLoss = 0, 0
		}
		if curWin > longestWin {
			longestWin = curWin
		}
		if curLoss > longestLoss {
			longestLoss = curLoss
		}
	}
	return longestWin, longestLoss
}

// maxDrawdown walks the full equity series tracking the running peak;
// drawdown is (peak-current)/peak, returned as a fraction.
func maxDrawdown(snapshots []models.EquitySnapshot) float64 {
	var peak, maxDD float64
	for _, s := range snapshots {
		if s.Equity > peak {
			peak = s.Equity
		}
		if peak > 0 {
			dd := (peak - s.Equity) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// rankSymbols groups trades by symbol and orders by total realized PnL
// descending.
func rankSymbols(trades []models.Trade) []models.SymbolStats {
	bySymbol := make(map[string]*models.SymbolStats)
	for _, t := range trades {
		s, ok := bySymbol[t.Symbol]
		if !ok {
			s = &models.SymbolStats{Symbol: t.Symbol}
			bySymbol[t.Symbol] = s
		}
		s.Trades++
		if t.Pnl > 0 {
			s.Wins++
		}
		s.TotalPnl += t.Pnl
	}

	ranked := make([]models.SymbolStats, 0, len(bySymbol))
	for _, s := range bySymbol {
		s.WinRate = float64(s.Wins) / float64(s.Trades)
		ranked = append(ranked, *s)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].TotalPnl != ranked[j].TotalPnl {
			return ranked[i].TotalPnl > ranked[j].TotalPnl
		}
		return ranked[i].Symbol < ranked[j].Symbol
	})
	return ranked
}

func topSymbols(ranked []models.SymbolStats) []models.SymbolStats {
	n := rankedSymbolCount
	if len(ranked) < n {
		n = len(ranked)
	}
	best := make([]models.SymbolStats, n)
	copy(best, ranked[:n])
	return best
}

// bottomSymbols returns the bottom entries in reverse order, worst first.
func bottomSymbols(ranked []models.SymbolStats) []models.SymbolStats {
	n := rankedSymbolCount
	if len(ranked) < n {
		n = len(ranked)
	}
	worst := make([]models.SymbolStats, 0, n)
	for i := len(ranked) - 1; i >= len(ranked)-n; i-- {
		worst = append(worst, ranked[i])
	}
	return worst
}
