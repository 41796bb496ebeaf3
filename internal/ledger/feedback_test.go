package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/perpmind/perpmind/internal/models"
)

func closedTrade(symbol string, pnl float64, closedAt time.Time) models.Trade {
	return models.Trade{
		Symbol:     symbol,
		Side:       models.SideLong,
		Quantity:   1,
		EntryPrice: 100,
		Pnl:        pnl,
		PnlPercent: pnl,
		Status:     models.TradeStatusClosed,
		CloseTime:  closedAt,
	}
}

// descTrades builds a close-time descending slice from chronological pnls,
// matching the order GetClosedTrades returns.
func descTrades(symbol string, pnls ...float64) []models.Trade {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	trades := make([]models.Trade, 0, len(pnls))
	for i := len(pnls) - 1; i >= 0; i-- {
		trades = append(trades, closedTrade(symbol, pnls[i], base.Add(time.Duration(i)*time.Hour)))
	}
	return trades
}

func TestComputeFeedback_Empty(t *testing.T) {
	fb := computeFeedback(nil, nil)

	assert.Equal(t, 0, fb.TotalTrades)
	assert.Zero(t, fb.WinRate)
	assert.Zero(t, fb.ProfitFactor)
	assert.Zero(t, fb.SharpeRatio)
	assert.Zero(t, fb.MaxDrawdown)
	assert.Empty(t, fb.BestSymbols)
	assert.Empty(t, fb.WorstSymbols)
	assert.Empty(t, fb.AllowedSymbols)
	assert.Empty(t, fb.DeniedSymbols)
}

func TestComputeFeedback_WinRateAndProfitFactor(t *testing.T) {
	trades := descTrades("BTCUSDT", 100, -50, 200, -50)

	fb := computeFeedback(trades, nil)

	assert.Equal(t, 4, fb.TotalTrades)
	assert.InDelta(t, 0.5, fb.WinRate, 1e-9)
	assert.InDelta(t, 3.0, fb.ProfitFactor, 1e-9) // 300 gross profit / 100 gross loss
	assert.InDelta(t, 150, fb.AvgWin, 1e-9)
	assert.InDelta(t, 50, fb.AvgLoss, 1e-9)
}

func TestComputeFeedback_ProfitFactorNoLosses(t *testing.T) {
	fb := computeFeedback(descTrades("BTCUSDT", 10, 20), nil)
	assert.Zero(t, fb.ProfitFactor)
}

func TestComputeFeedback_Streaks(t *testing.T) {
	// Chronological signs: + + - + - - -
	fb := computeFeedback(descTrades("BTCUSDT", 1, 1, -1, 1, -1, -1, -1), nil)

	assert.Equal(t, 2, fb.LongestWinStreak)
	assert.Equal(t, 3, fb.LongestLossStreak)
}

func TestComputeFeedback_SharpeZeroStdDev(t *testing.T) {
	// Identical returns: stddev is 0, ratio must be guarded to 0.
	fb := computeFeedback(descTrades("BTCUSDT", 5, 5, 5), nil)
	assert.Zero(t, fb.SharpeRatio)
}

func TestComputeFeedback_Sharpe(t *testing.T) {
	// pnlPercent values 10 and -10: mean 0 gives ratio 0.
	fb := computeFeedback(descTrades("BTCUSDT", 10, -10), nil)
	assert.Zero(t, fb.SharpeRatio)

	// Values 30, 10: mean 20, population stddev 10, ratio 2.
	fb = computeFeedback(descTrades("BTCUSDT", 30, 10), nil)
	assert.InDelta(t, 2.0, fb.SharpeRatio, 1e-9)
}

func TestComputeFeedback_MaxDrawdown(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	snapshots := []models.EquitySnapshot{
		{Timestamp: base, Equity: 1000},
		{Timestamp: base.Add(time.Hour), Equity: 1200},
		{Timestamp: base.Add(2 * time.Hour), Equity: 900},
		{Timestamp: base.Add(3 * time.Hour), Equity: 1100},
		{Timestamp: base.Add(4 * time.Hour), Equity: 990},
	}

	fb := computeFeedback(descTrades("BTCUSDT", 1), snapshots)

	// Peak 1200 down to 900 is a 25% drawdown.
	assert.InDelta(t, 0.25, fb.MaxDrawdown, 1e-9)
}

func TestComputeFeedback_SymbolRanking(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	var trades []models.Trade
	symbols := map[string]float64{
		"AUSDT": 500, "BUSDT": 400, "CUSDT": 300, "DUSDT": 200,
		"EUSDT": 100, "FUSDT": -100, "GUSDT": -200,
	}
	i := 0
	for sym, pnl := range symbols {
		trades = append(trades, closedTrade(sym, pnl, base.Add(time.Duration(i)*time.Minute)))
		i++
	}

	fb := computeFeedback(trades, nil)

	assert.Len(t, fb.BestSymbols, 5)
	assert.Equal(t, "AUSDT", fb.BestSymbols[0].Symbol)
	assert.Equal(t, "EUSDT", fb.BestSymbols[4].Symbol)

	assert.Len(t, fb.WorstSymbols, 5)
	assert.Equal(t, "GUSDT", fb.WorstSymbols[0].Symbol) // worst first
	assert.Equal(t, "FUSDT", fb.WorstSymbols[1].Symbol)
}

func TestComputeFeedback_AllowDenyLists(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	trades := []models.Trade{
		closedTrade("WINUSDT", 100, base),
		closedTrade("LOSEUSDT", -50, base.Add(time.Minute)),
		closedTrade("LOSEUSDT", -60, base.Add(2*time.Minute)),
		closedTrade("ONCEUSDT", -10, base.Add(3*time.Minute)),
	}

	fb := computeFeedback(trades, nil)

	assert.Contains(t, fb.AllowedSymbols, "WINUSDT")
	assert.Contains(t, fb.DeniedSymbols, "LOSEUSDT")
	// A single losing trade is not enough to deny a symbol.
	assert.NotContains(t, fb.DeniedSymbols, "ONCEUSDT")
}
