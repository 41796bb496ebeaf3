package oracle

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/perpmind/perpmind/internal/models"
)

type decisionDTO struct {
	Action      string  `json:"action"`
	Symbol      string  `json:"symbol"`
	NotionalUSD float64 `json:"notional_usd"`
	Quantity    float64 `json:"quantity"`
	Leverage    int     `json:"leverage"`
	StopLoss    float64 `json:"stop_loss"`
	TakeProfit  float64 `json:"take_profit"`
	Reasoning   string  `json:"reasoning"`
	Confidence  float64 `json:"confidence"`
}

// ParseDecisions extracts the decision array from free-form model output.
// Prose before the array may itself contain brackets, so each balanced
// bracket candidate is tried until one unmarshals as a decision array.
// Malformed entries are dropped, never propagated; content with no usable
// array yields an empty slice.
func ParseDecisions(content string) []models.TradingDecision {
	rest := content
	for {
		raw, next := extractJSONArray(rest)
		if raw == "" {
			return nil
		}

		var dtos []decisionDTO
		if err := json.Unmarshal([]byte(raw), &dtos); err != nil || len(dtos) == 0 {
			rest = next
			continue
		}

		decisions := make([]models.TradingDecision, 0, len(dtos))
		for _, d := range dtos {
			decision, ok := validateDecision(d)
			if !ok {
				continue
			}
			decisions = append(decisions, decision)
		}
		return decisions
	}
}

func validateDecision(d decisionDTO) (models.TradingDecision, bool) {
	action := models.TradingAction(strings.ToLower(strings.TrimSpace(d.Action)))
	switch action {
	case models.ActionOpenLong, models.ActionOpenShort,
		models.ActionCloseLong, models.ActionCloseShort,
		models.ActionHold, models.ActionWait:
	default:
		return models.TradingDecision{}, false
	}

	symbol := strings.ToUpper(strings.TrimSpace(d.Symbol))
	if symbol == "" && action != models.ActionHold && action != models.ActionWait {
		return models.TradingDecision{}, false
	}

	for _, v := range []float64{d.NotionalUSD, d.Quantity, d.StopLoss, d.TakeProfit, d.Confidence} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return models.TradingDecision{}, false
		}
	}
	if action.IsOpen() && d.NotionalUSD == 0 && d.Quantity == 0 {
		return models.TradingDecision{}, false
	}
	if d.Leverage < 0 {
		return models.TradingDecision{}, false
	}

	confidence := d.Confidence
	if confidence > 1 {
		// Some models answer in percent.
		confidence = confidence / 100
		if confidence > 1 {
			return models.TradingDecision{}, false
		}
	}

	return models.TradingDecision{
		Action:      action,
		Symbol:      symbol,
		NotionalUSD: d.NotionalUSD,
		Quantity:    d.Quantity,
		Leverage:    d.Leverage,
		StopLoss:    d.StopLoss,
		TakeProfit:  d.TakeProfit,
		Reasoning:   strings.TrimSpace(d.Reasoning),
		Confidence:  confidence,
	}, true
}

// extractJSONArray finds the next balanced bracket span in the content and
// returns it together with the remainder after its opening bracket. The scan
// is string aware so brackets inside quoted text do not truncate or extend
// the match.
func extractJSONArray(content string) (candidate, rest string) {
	start := strings.IndexByte(content, '[')
	if start < 0 {
		return "", ""
	}
	rest = content[start+1:]

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return content[start : i+1], rest
			}
		}
	}
	return "", rest
}
