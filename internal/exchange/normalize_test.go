package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpmind/perpmind/internal/models"
)

func btcFilters() *models.SymbolInfo {
	return &models.SymbolInfo{
		Symbol:      "BTCUSDT",
		MinNotional: 100,
		StepSize:    0.001,
		MinQty:      0.001,
	}
}

func TestNormalizeOrderSize_FloorsToStep(t *testing.T) {
	res, err := NormalizeOrderSize(0.10149, 40000, btcFilters())
	require.NoError(t, err)
	assert.InDelta(t, 0.101, res.Quantity, 1e-12)
	assert.True(t, res.Adjusted)
}

func TestNormalizeOrderSize_ExactStepUnchanged(t *testing.T) {
	res, err := NormalizeOrderSize(0.1, 40000, btcFilters())
	require.NoError(t, err)
	assert.InDelta(t, 0.1, res.Quantity, 1e-12)
	assert.False(t, res.Adjusted)
}

func TestNormalizeOrderSize_BumpsToMinNotional(t *testing.T) {
	// 0.002 BTC at 40000 is an 80 USDT order, below the 100 minimum.
	// The smallest step multiple clearing it is 0.003.
	res, err := NormalizeOrderSize(0.002, 40000, btcFilters())
	require.NoError(t, err)
	assert.InDelta(t, 0.003, res.Quantity, 1e-12)
	assert.True(t, res.Adjusted)
}

func TestNormalizeOrderSize_BumpsToMinQty(t *testing.T) {
	info := &models.SymbolInfo{Symbol: "BTCUSDT", StepSize: 0.001, MinQty: 0.001}
	res, err := NormalizeOrderSize(0.0004, 40000, info)
	require.NoError(t, err)
	assert.InDelta(t, 0.001, res.Quantity, 1e-12)
	assert.True(t, res.Adjusted)
}

func TestNormalizeOrderSize_NoDriftOnDecimalSteps(t *testing.T) {
	// 0.3 is not exactly representable in binary; the decimal path must not
	// leak 0.30000000000000004 style artifacts through the step division.
	info := &models.SymbolInfo{Symbol: "ETHUSDT", MinNotional: 20, StepSize: 0.1, MinQty: 0.1}
	res, err := NormalizeOrderSize(0.3, 3000, info)
	require.NoError(t, err)
	assert.Equal(t, 0.3, res.Quantity)
	assert.False(t, res.Adjusted)
}

func TestNormalizeOrderSize_RejectsBadInputs(t *testing.T) {
	_, err := NormalizeOrderSize(0, 40000, btcFilters())
	assert.Error(t, err)
	_, err = NormalizeOrderSize(0.1, 0, btcFilters())
	assert.Error(t, err)
}

func TestNormalizeOrderSize_ZeroStepPassesThrough(t *testing.T) {
	info := &models.SymbolInfo{Symbol: "XUSDT"}
	res, err := NormalizeOrderSize(1.23456, 10, info)
	require.NoError(t, err)
	assert.InDelta(t, 1.23456, res.Quantity, 1e-12)
	assert.False(t, res.Adjusted)
}
