package risk

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/perpmind/perpmind/internal/models"
)

// Result is the admission verdict for one proposed decision. When a sizing
// check rejects, AdjustedQuantity or AdjustedLeverage carries the largest
// value that would have passed, so the caller may retry once at reduced size.
type Result struct {
	Allowed          bool    `json:"allowed"`
	Reason           string  `json:"reason,omitempty"`
	AdjustedQuantity float64 `json:"adjusted_quantity,omitempty"`
	AdjustedLeverage int     `json:"adjusted_leverage,omitempty"`
}

// Limit describes the sizing room left for a symbol's asset class.
type Limit struct {
	MaxPositionValue float64 `json:"max_position_value"`
	MaxLeverage      int     `json:"max_leverage"`
	CurrentExposure  float64 `json:"current_exposure"`
	AvailableRoom    float64 `json:"available_room"`
}

// GateConfig bounds what the gate admits.
type GateConfig struct {
	MajorSymbols        []string `json:"major_symbols" mapstructure:"major_symbols"`                 // symbols treated as majors, everything else is an altcoin
	MaxLeverageMajor    int      `json:"max_leverage_major" mapstructure:"max_leverage_major"`       // leverage ceiling for major symbols
	MaxLeverageAlt      int      `json:"max_leverage_alt" mapstructure:"max_leverage_alt"`           // leverage ceiling for altcoins
	MajorSizeMultiplier float64  `json:"major_size_multiplier" mapstructure:"major_size_multiplier"` // max notional as a multiple of equity, majors
	AltSizeMultiplier   float64  `json:"alt_size_multiplier" mapstructure:"alt_size_multiplier"`     // max notional as a multiple of equity, altcoins
	MaxPositions        int      `json:"max_positions" mapstructure:"max_positions"`                 // max simultaneously open positions
	MarginUsageCap      float64  `json:"margin_usage_cap" mapstructure:"margin_usage_cap"`           // projected marginUsed/equity ceiling (0.0-1.0)
	MinRiskReward       float64  `json:"min_risk_reward" mapstructure:"min_risk_reward"`             // minimum reward:risk for SL/TP pairs
}

// DefaultGateConfig returns sensible defaults
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MajorSymbols:        []string{"BTCUSDT", "ETHUSDT"},
		MaxLeverageMajor:    20,
		MaxLeverageAlt:      10,
		MajorSizeMultiplier: 10,
		AltSizeMultiplier:   1.5,
		MaxPositions:        5,
		MarginUsageCap:      0.9,
		MinRiskReward:       2.0,
	}
}

// GateMetrics tracks admission outcomes
type GateMetrics struct {
	mu               sync.RWMutex
	TotalChecks      int64            `json:"total_checks"`
	Admitted         int64            `json:"admitted"`
	Rejected         int64            `json:"rejected"`
	RejectedBySymbol map[string]int64 `json:"rejected_by_symbol"`
}

func NewGateMetrics() GateMetrics {
	return GateMetrics{
		RejectedBySymbol: make(map[string]int64),
	}
}

func (m *GateMetrics) IncrementAdmitted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalChecks++
	m.Admitted++
}

func (m *GateMetrics) IncrementRejected(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalChecks++
	m.Rejected++
	m.RejectedBySymbol[symbol]++
}

func (m *GateMetrics) Snapshot() GateMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bySymbol := make(map[string]int64, len(m.RejectedBySymbol))
	for k, v := range m.RejectedBySymbol {
		bySymbol[k] = v
	}
	return GateMetrics{
		TotalChecks:      m.TotalChecks,
		Admitted:         m.Admitted,
		Rejected:         m.Rejected,
		RejectedBySymbol: bySymbol,
	}
}

// Gate validates proposed decisions against account state and configured
// limits. The checks are pure: no I/O, no mutation of the inputs.
type Gate struct {
	config  GateConfig
	metrics GateMetrics
}

func NewGate(config GateConfig) *Gate {
	if config.MaxLeverageMajor <= 0 {
		config.MaxLeverageMajor = DefaultGateConfig().MaxLeverageMajor
	}
	if config.MaxLeverageAlt <= 0 {
		config.MaxLeverageAlt = DefaultGateConfig().MaxLeverageAlt
	}
	if config.MajorSizeMultiplier <= 0 {
		config.MajorSizeMultiplier = DefaultGateConfig().MajorSizeMultiplier
	}
	if config.AltSizeMultiplier <= 0 {
		config.AltSizeMultiplier = DefaultGateConfig().AltSizeMultiplier
	}
	if config.MaxPositions <= 0 {
		config.MaxPositions = DefaultGateConfig().MaxPositions
	}
	if config.MarginUsageCap <= 0 || config.MarginUsageCap > 1 {
		config.MarginUsageCap = DefaultGateConfig().MarginUsageCap
	}
	if config.MinRiskReward <= 0 {
		config.MinRiskReward = DefaultGateConfig().MinRiskReward
	}
	return &Gate{
		config:  config,
		metrics: NewGateMetrics(),
	}
}

func (g *Gate) Config() GateConfig {
	return g.config
}

func (g *Gate) Metrics() GateMetrics {
	return g.metrics.Snapshot()
}

// CheckOpen runs the ordered admission checks for an open decision against
// the given account snapshot and price. The first failing check wins.
func (g *Gate) CheckOpen(decision *models.TradingDecision, account *models.AccountInfo, price float64) Result {
	side := decision.Action.Side()
	quantity := decision.Quantity
	if quantity <= 0 && price > 0 {
		quantity = decision.NotionalUSD / price
	}
	notional := quantity * price

	// 1. Anti-stacking: one open position per (symbol, side).
	if account.FindPosition(decision.Symbol, side) != nil {
		return g.reject(decision.Symbol, Result{
			Reason: fmt.Sprintf("position already open for %s", models.PositionKey(decision.Symbol, side)),
		})
	}

	// 2. Leverage ceiling for the symbol's asset class.
	maxLeverage := g.maxLeverage(decision.Symbol)
	if decision.Leverage > maxLeverage {
		return g.reject(decision.Symbol, Result{
			Reason:           fmt.Sprintf("leverage %dx exceeds %dx ceiling for %s", decision.Leverage, maxLeverage, decision.Symbol),
			AdjustedLeverage: maxLeverage,
		})
	}

	// 3. Position-size ceiling: notional capped at a multiple of equity.
	maxNotional := account.TotalEquity * g.sizeMultiplier(decision.Symbol)
	if notional > maxNotional {
		r := Result{
			Reason: fmt.Sprintf("notional %.2f exceeds %.2f limit for %s", notional, maxNotional, decision.Symbol),
		}
		if price > 0 {
			r.AdjustedQuantity = maxNotional / price
		}
		return g.reject(decision.Symbol, r)
	}

	// 4. Position-count ceiling.
	if account.TotalPositions >= g.config.MaxPositions {
		return g.reject(decision.Symbol, Result{
			Reason: fmt.Sprintf("position count %d at the %d maximum", account.TotalPositions, g.config.MaxPositions),
		})
	}

	// 5. Margin-usage ceiling on the projected post-open state.
	if account.TotalEquity > 0 {
		projected := (account.TotalMarginUsed + notional) / account.TotalEquity
		if projected > g.config.MarginUsageCap {
			r := Result{
				Reason: fmt.Sprintf("projected margin usage %.1f%% exceeds %.1f%% cap",
					projected*100, g.config.MarginUsageCap*100),
			}
			if price > 0 {
				headroom := (g.config.MarginUsageCap*account.TotalEquity - account.TotalMarginUsed) / price
				fallback := math.Min(0.3*quantity, headroom)
				if fallback > 0 && fallback < quantity {
					r.AdjustedQuantity = fallback
				}
			}
			return g.reject(decision.Symbol, r)
		}
	}

	// 6. Available balance must cover the required margin. Cross margin
	// reserves the full notional.
	if notional > account.AvailableBalance {
		return g.reject(decision.Symbol, Result{
			Reason: fmt.Sprintf("required margin %.2f exceeds available balance %.2f", notional, account.AvailableBalance),
		})
	}

	g.metrics.IncrementAdmitted()
	return Result{Allowed: true}
}

// CheckClose admits a close decision only when a matching position is open.
func (g *Gate) CheckClose(decision *models.TradingDecision, account *models.AccountInfo) Result {
	side := decision.Action.Side()
	if account.FindPosition(decision.Symbol, side) == nil {
		return g.reject(decision.Symbol, Result{
			Reason: fmt.Sprintf("no open position for %s", models.PositionKey(decision.Symbol, side)),
		})
	}
	g.metrics.IncrementAdmitted()
	return Result{Allowed: true}
}

// ValidateStops checks stop-loss and take-profit placement relative to the
// entry price. For LONG the stop sits strictly below entry and the target
// strictly above; SHORT inverts both. When both levels are set, reward:risk
// must meet the configured minimum.
func (g *Gate) ValidateStops(side models.PositionSide, entry, stopLoss, takeProfit float64) error {
	if entry <= 0 {
		return fmt.Errorf("entry price must be positive, got %.4f", entry)
	}

	switch side {
	case models.SideLong:
		if stopLoss != 0 && stopLoss >= entry {
			return fmt.Errorf("long stop loss %.4f must be below entry %.4f", stopLoss, entry)
		}
		if takeProfit != 0 && takeProfit <= entry {
			return fmt.Errorf("long take profit %.4f must be above entry %.4f", takeProfit, entry)
		}
	case models.SideShort:
		if stopLoss != 0 && stopLoss <= entry {
			return fmt.Errorf("short stop loss %.4f must be above entry %.4f", stopLoss, entry)
		}
		if takeProfit != 0 && takeProfit >= entry {
			return fmt.Errorf("short take profit %.4f must be below entry %.4f", takeProfit, entry)
		}
	default:
		return fmt.Errorf("unknown position side %q", side)
	}

	if stopLoss != 0 && takeProfit != 0 {
		risk := math.Abs(entry-stopLoss) / entry
		reward := math.Abs(takeProfit-entry) / entry
		if risk > 0 && reward/risk < g.config.MinRiskReward {
			return fmt.Errorf("reward:risk %.2f below %.2f minimum", reward/risk, g.config.MinRiskReward)
		}
	}
	return nil
}

// GetLimit reports the sizing room for a symbol given the current account
// state. Used by sizing helpers, not by admission itself.
func (g *Gate) GetLimit(symbol string, account *models.AccountInfo) Limit {
	maxValue := account.TotalEquity * g.sizeMultiplier(symbol)

	var exposure float64
	for _, p := range account.Positions {
		if p.Symbol == symbol {
			exposure += p.Notional()
		}
	}

	room := maxValue - exposure
	if room < 0 {
		room = 0
	}
	return Limit{
		MaxPositionValue: maxValue,
		MaxLeverage:      g.maxLeverage(symbol),
		CurrentExposure:  exposure,
		AvailableRoom:    room,
	}
}

func (g *Gate) isMajor(symbol string) bool {
	for _, s := range g.config.MajorSymbols {
		if strings.EqualFold(s, symbol) {
			return true
		}
	}
	return false
}

func (g *Gate) maxLeverage(symbol string) int {
	if g.isMajor(symbol) {
		return g.config.MaxLeverageMajor
	}
	return g.config.MaxLeverageAlt
}

func (g *Gate) sizeMultiplier(symbol string) float64 {
	if g.isMajor(symbol) {
		return g.config.MajorSizeMultiplier
	}
	return g.config.AltSizeMultiplier
}

func (g *Gate) reject(symbol string, r Result) Result {
	g.metrics.IncrementRejected(symbol)
	r.Allowed = false
	return r
}
