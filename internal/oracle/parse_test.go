package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpmind/perpmind/internal/models"
)

func TestParseDecisions_PlainArray(t *testing.T) {
	content := `[{"action":"open_long","symbol":"BTCUSDT","notional_usd":500,"leverage":10,
		"stop_loss":38000,"take_profit":44000,"reasoning":"breakout","confidence":0.8}]`

	decisions := ParseDecisions(content)
	require.Len(t, decisions, 1)
	d := decisions[0]
	assert.Equal(t, models.ActionOpenLong, d.Action)
	assert.Equal(t, "BTCUSDT", d.Symbol)
	assert.Equal(t, 500.0, d.NotionalUSD)
	assert.Equal(t, 10, d.Leverage)
	assert.Equal(t, 0.8, d.Confidence)
}

func TestParseDecisions_ArrayEmbeddedInProse(t *testing.T) {
	content := `Looking at the market, BTC [the largest asset] looks weak.

Here is my decision:
[{"action":"open_short","symbol":"BTCUSDT","quantity":0.1,"leverage":5,"reasoning":"weak [4h] structure","confidence":0.7}]

Good luck.`

	decisions := ParseDecisions(content)
	require.Len(t, decisions, 1)
	assert.Equal(t, models.ActionOpenShort, decisions[0].Action)
	assert.Equal(t, "weak [4h] structure", decisions[0].Reasoning)
}

func TestParseDecisions_DropsMalformedEntries(t *testing.T) {
	content := `[
		{"action":"open_long","symbol":"BTCUSDT","quantity":0.1,"leverage":5,"confidence":0.8},
		{"action":"teleport","symbol":"BTCUSDT","quantity":0.1},
		{"action":"open_long","symbol":"","quantity":0.1},
		{"action":"open_long","symbol":"ETHUSDT","quantity":0,"notional_usd":0},
		{"action":"close_long","symbol":"ETHUSDT"}
	]`

	decisions := ParseDecisions(content)
	require.Len(t, decisions, 2)
	assert.Equal(t, models.ActionOpenLong, decisions[0].Action)
	assert.Equal(t, models.ActionCloseLong, decisions[1].Action)
}

func TestParseDecisions_PercentConfidence(t *testing.T) {
	content := `[{"action":"open_long","symbol":"BTCUSDT","quantity":0.1,"leverage":5,"confidence":75}]`
	decisions := ParseDecisions(content)
	require.Len(t, decisions, 1)
	assert.InDelta(t, 0.75, decisions[0].Confidence, 1e-9)
}

func TestParseDecisions_CaseNormalization(t *testing.T) {
	content := `[{"action":"OPEN_LONG","symbol":"btcusdt","quantity":0.1,"leverage":5,"confidence":0.9}]`
	decisions := ParseDecisions(content)
	require.Len(t, decisions, 1)
	assert.Equal(t, models.ActionOpenLong, decisions[0].Action)
	assert.Equal(t, "BTCUSDT", decisions[0].Symbol)
}

func TestParseDecisions_NoArray(t *testing.T) {
	assert.Empty(t, ParseDecisions("I would rather wait this cycle out."))
	assert.Empty(t, ParseDecisions(""))
	assert.Empty(t, ParseDecisions("[unterminated"))
}

func TestParseDecisions_HoldNeedsNoSymbol(t *testing.T) {
	decisions := ParseDecisions(`[{"action":"wait","confidence":0.5}]`)
	require.Len(t, decisions, 1)
	assert.Equal(t, models.ActionWait, decisions[0].Action)
}

func TestOpenAIOracle_Decide(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant",
			"content":"Thinking it over.\n[{\"action\":\"open_long\",\"symbol\":\"BTCUSDT\",\"quantity\":0.1,\"leverage\":5,\"confidence\":0.8}]"},
			"finish_reason":"stop"}],"usage":{"total_tokens":120}}`))
	}))
	defer server.Close()

	o := NewOpenAIOracle(ClientConfig{APIKey: "test-key", BaseURL: server.URL, Model: "gpt-4o"})
	set, err := o.Decide(context.Background(), &DecideRequest{
		Account: &models.AccountInfo{TotalEquity: 1000, AvailableBalance: 1000},
	})
	require.NoError(t, err)
	require.Len(t, set.Decisions, 1)
	assert.Equal(t, models.ActionOpenLong, set.Decisions[0].Action)
	assert.Contains(t, set.ChainOfThought, "Thinking it over.")
}

func TestOpenAIOracle_DecideAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer server.Close()

	o := NewOpenAIOracle(ClientConfig{BaseURL: server.URL, Model: "gpt-4o"})
	_, err := o.Decide(context.Background(), &DecideRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestBuildUserPrompt_IncludesFeedback(t *testing.T) {
	prompt := BuildUserPrompt(&DecideRequest{
		Account: &models.AccountInfo{TotalEquity: 1000, AvailableBalance: 800},
		Market: []models.MarketData{
			{Symbol: "BTCUSDT", Price: 40000, FundingRate: 0.0001, OpenInterest: 1000},
		},
		Feedback: &models.HistoricalFeedback{
			TotalTrades:   10,
			WinRate:       0.6,
			DeniedSymbols: []string{"DOGEUSDT"},
		},
	})

	assert.Contains(t, prompt, "BTCUSDT")
	assert.Contains(t, prompt, "winRate=60%")
	assert.Contains(t, prompt, "DOGEUSDT")
}
