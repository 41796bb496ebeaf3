package exchange

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/perpmind/perpmind/internal/models"
)

// NormalizedSize is the outcome of fitting a requested quantity to the
// exchange order filters. Adjusted is set when the result differs from the
// request.
type NormalizedSize struct {
	Quantity float64 `json:"quantity"`
	Adjusted bool    `json:"adjusted"`
}

// NormalizeOrderSize fits quantity to the symbol's lot-size and notional
// filters. The quantity is floored to the step grid, then bumped up step by
// step until it clears minQty and minNotional. Decimal arithmetic avoids the
// float drift that makes the venue reject quantities like 0.30000000000000004.
func NormalizeOrderSize(quantity, price float64, info *models.SymbolInfo) (NormalizedSize, error) {
	if quantity <= 0 {
		return NormalizedSize{}, fmt.Errorf("quantity must be positive, got %v", quantity)
	}
	if price <= 0 {
		return NormalizedSize{}, fmt.Errorf("price must be positive, got %v", price)
	}

	qty := decimal.NewFromFloat(quantity)
	px := decimal.NewFromFloat(price)
	step := decimal.NewFromFloat(info.StepSize)
	minQty := decimal.NewFromFloat(info.MinQty)
	minNotional := decimal.NewFromFloat(info.MinNotional)

	normalized := qty
	if step.IsPositive() {
		normalized = qty.Div(step).Floor().Mul(step)
	}

	if normalized.LessThan(minQty) {
		normalized = snapUp(minQty, step)
	}
	if minNotional.IsPositive() && normalized.Mul(px).LessThan(minNotional) {
		needed := minNotional.Div(px)
		normalized = snapUp(needed, step)
		if normalized.LessThan(minQty) {
			normalized = snapUp(minQty, step)
		}
	}

	if !normalized.IsPositive() {
		return NormalizedSize{}, fmt.Errorf("quantity %v normalizes to zero with step %v", quantity, info.StepSize)
	}

	result, _ := normalized.Float64()
	return NormalizedSize{
		Quantity: result,
		Adjusted: !normalized.Equal(qty),
	}, nil
}

// snapUp rounds v up to the next step multiple.
func snapUp(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	return v.Div(step).Ceil().Mul(step)
}
