package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpmind/perpmind/internal/models"
)

func testGate() *Gate {
	return NewGate(GateConfig{
		MajorSymbols:        []string{"BTCUSDT", "ETHUSDT"},
		MaxLeverageMajor:    20,
		MaxLeverageAlt:      10,
		MajorSizeMultiplier: 10,
		AltSizeMultiplier:   1.5,
		MaxPositions:        5,
		MarginUsageCap:      0.9,
		MinRiskReward:       2.0,
	})
}

func flatAccount(equity float64) *models.AccountInfo {
	return &models.AccountInfo{
		TotalEquity:      equity,
		AvailableBalance: equity,
	}
}

func openDecision(symbol string, qty float64, leverage int) *models.TradingDecision {
	return &models.TradingDecision{
		Action:   models.ActionOpenLong,
		Symbol:   symbol,
		Quantity: qty,
		Leverage: leverage,
	}
}

func TestGate_AdmitsCleanOpen(t *testing.T) {
	g := testGate()
	res := g.CheckOpen(openDecision("BTCUSDT", 0.1, 10), flatAccount(10000), 40000)
	assert.True(t, res.Allowed)
	assert.Empty(t, res.Reason)
}

func TestGate_AntiStacking(t *testing.T) {
	g := testGate()
	account := flatAccount(100000)
	account.Positions = []models.Position{
		{Symbol: "BTCUSDT", Side: models.SideLong, Quantity: 0.1, EntryPrice: 40000, Leverage: 10},
	}
	account.TotalPositions = 1

	// Same (symbol, side) is always rejected, whatever the sizing.
	res := g.CheckOpen(openDecision("BTCUSDT", 0.0001, 1), account, 40000)
	assert.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "BTCUSDT_LONG")

	// The opposite side on the same symbol is fine.
	short := &models.TradingDecision{Action: models.ActionOpenShort, Symbol: "BTCUSDT", Quantity: 0.1, Leverage: 10}
	assert.True(t, g.CheckOpen(short, account, 40000).Allowed)
}

func TestGate_LeverageCeiling(t *testing.T) {
	g := testGate()
	account := flatAccount(100000)

	res := g.CheckOpen(openDecision("BTCUSDT", 0.1, 25), account, 40000)
	require.False(t, res.Allowed)
	assert.Equal(t, 20, res.AdjustedLeverage)

	// Altcoins get the lower ceiling.
	res = g.CheckOpen(openDecision("DOGEUSDT", 100, 15), account, 0.1)
	require.False(t, res.Allowed)
	assert.Equal(t, 10, res.AdjustedLeverage)

	assert.True(t, g.CheckOpen(openDecision("BTCUSDT", 0.1, 20), account, 40000).Allowed)
}

func TestGate_SizeCeiling(t *testing.T) {
	g := testGate()
	account := flatAccount(1000)

	// Altcoin limit is 1.5x equity = 1500; 2000 notional is too big.
	res := g.CheckOpen(openDecision("DOGEUSDT", 20000, 5), account, 0.1)
	require.False(t, res.Allowed)
	assert.InDelta(t, 15000, res.AdjustedQuantity, 1e-9) // 1500 / 0.1
}

func TestGate_PositionCountCeiling(t *testing.T) {
	g := testGate()
	account := flatAccount(1000000)
	account.TotalPositions = 5

	res := g.CheckOpen(openDecision("BTCUSDT", 0.01, 5), account, 40000)
	require.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "position count")
}

func TestGate_MarginUsageFallback(t *testing.T) {
	g := testGate()
	account := &models.AccountInfo{
		TotalEquity:      1000,
		AvailableBalance: 1000,
		TotalMarginUsed:  850,
	}

	// Projected usage (850+100)/1000 = 95% over the 90% cap. Headroom is
	// (0.9*1000-850)/1 = 50, requested 30% is 30, so the fallback is 30.
	res := g.CheckOpen(openDecision("BTCUSDT", 100, 2), account, 1)
	require.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "margin usage")
	assert.InDelta(t, 30, res.AdjustedQuantity, 1e-9)
}

func TestGate_MarginUsageFallbackHeadroomBound(t *testing.T) {
	g := testGate()
	account := &models.AccountInfo{
		TotalEquity:      1000,
		AvailableBalance: 1000,
		TotalMarginUsed:  880,
	}

	// Headroom (900-880)/1 = 20 is below 30% of requested (30).
	res := g.CheckOpen(openDecision("BTCUSDT", 100, 2), account, 1)
	require.False(t, res.Allowed)
	assert.InDelta(t, 20, res.AdjustedQuantity, 1e-9)
}

func TestGate_AvailableBalance(t *testing.T) {
	g := testGate()
	account := &models.AccountInfo{
		TotalEquity:      10000,
		AvailableBalance: 500,
	}

	res := g.CheckOpen(openDecision("BTCUSDT", 0.1, 10), account, 40000)
	require.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "available balance")
}

func TestGate_NotionalSizing(t *testing.T) {
	g := testGate()

	// A decision sized in notional USD is converted at the current price.
	d := &models.TradingDecision{Action: models.ActionOpenLong, Symbol: "BTCUSDT", NotionalUSD: 4000, Leverage: 10}
	assert.True(t, g.CheckOpen(d, flatAccount(10000), 40000).Allowed)

	d.NotionalUSD = 200000
	assert.False(t, g.CheckOpen(d, flatAccount(10000), 40000).Allowed)
}

func TestGate_CheckClose(t *testing.T) {
	g := testGate()
	account := flatAccount(10000)

	d := &models.TradingDecision{Action: models.ActionCloseLong, Symbol: "BTCUSDT"}
	res := g.CheckClose(d, account)
	require.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "no open position")
	assert.Zero(t, res.AdjustedQuantity)
	assert.Zero(t, res.AdjustedLeverage)

	account.Positions = []models.Position{
		{Symbol: "BTCUSDT", Side: models.SideLong, Quantity: 0.1, EntryPrice: 40000, Leverage: 10},
	}
	assert.True(t, g.CheckClose(d, account).Allowed)
}

func TestGate_ValidateStops(t *testing.T) {
	g := testGate()

	// LONG: stop below entry, target above.
	assert.NoError(t, g.ValidateStops(models.SideLong, 100, 95, 110))
	assert.Error(t, g.ValidateStops(models.SideLong, 100, 100, 110))
	assert.Error(t, g.ValidateStops(models.SideLong, 100, 105, 110))
	assert.Error(t, g.ValidateStops(models.SideLong, 100, 95, 100))

	// SHORT inverts the inequalities.
	assert.NoError(t, g.ValidateStops(models.SideShort, 100, 105, 90))
	assert.Error(t, g.ValidateStops(models.SideShort, 100, 95, 90))
	assert.Error(t, g.ValidateStops(models.SideShort, 100, 105, 101))

	// Risk 1%, reward 0.5%: R:R 0.5 fails the 2.0 minimum.
	err := g.ValidateStops(models.SideLong, 100, 99, 100.5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reward:risk")

	// Risk 1%, reward 2%: exactly at the minimum.
	assert.NoError(t, g.ValidateStops(models.SideLong, 100, 99, 102))

	// A lone stop or target skips the ratio check.
	assert.NoError(t, g.ValidateStops(models.SideLong, 100, 99, 0))
	assert.NoError(t, g.ValidateStops(models.SideShort, 100, 0, 99))
}

func TestGate_GetLimit(t *testing.T) {
	g := testGate()
	account := flatAccount(1000)
	account.Positions = []models.Position{
		{Symbol: "BTCUSDT", Side: models.SideLong, Quantity: 0.05, EntryPrice: 40000, CurrentPrice: 40000, Leverage: 10},
	}

	limit := g.GetLimit("BTCUSDT", account)
	assert.InDelta(t, 10000, limit.MaxPositionValue, 1e-9)
	assert.Equal(t, 20, limit.MaxLeverage)
	assert.InDelta(t, 2000, limit.CurrentExposure, 1e-9)
	assert.InDelta(t, 8000, limit.AvailableRoom, 1e-9)

	alt := g.GetLimit("DOGEUSDT", account)
	assert.InDelta(t, 1500, alt.MaxPositionValue, 1e-9)
	assert.Equal(t, 10, alt.MaxLeverage)
	assert.Zero(t, alt.CurrentExposure)
}

func TestGate_MetricsCount(t *testing.T) {
	g := testGate()
	account := flatAccount(10000)

	g.CheckOpen(openDecision("BTCUSDT", 0.1, 10), account, 40000)
	g.CheckOpen(openDecision("BTCUSDT", 0.1, 50), account, 40000)

	m := g.Metrics()
	assert.Equal(t, int64(2), m.TotalChecks)
	assert.Equal(t, int64(1), m.Admitted)
	assert.Equal(t, int64(1), m.Rejected)
	assert.Equal(t, int64(1), m.RejectedBySymbol["BTCUSDT"])
}
