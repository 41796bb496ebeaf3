package models

import (
	"fmt"
	"time"
)

type PositionSide string

const (
	SideLong  PositionSide = "LONG"
	SideShort PositionSide = "SHORT"
)

type TradingAction string

const (
	ActionOpenLong   TradingAction = "open_long"
	ActionOpenShort  TradingAction = "open_short"
	ActionCloseLong  TradingAction = "close_long"
	ActionCloseShort TradingAction = "close_short"
	ActionHold       TradingAction = "hold"
	ActionWait       TradingAction = "wait"
)

// IsOpen reports whether the action opens a new exposure.
func (a TradingAction) IsOpen() bool {
	return a == ActionOpenLong || a == ActionOpenShort
}

// IsClose reports whether the action closes an existing exposure.
func (a TradingAction) IsClose() bool {
	return a == ActionCloseLong || a == ActionCloseShort
}

// Side returns the position side the action targets, or "" for hold/wait.
func (a TradingAction) Side() PositionSide {
	switch a {
	case ActionOpenLong, ActionCloseLong:
		return SideLong
	case ActionOpenShort, ActionCloseShort:
		return SideShort
	}
	return ""
}

// PositionKey builds the composite symbol_side key that identifies an open
// exposure. At most one open position may exist per key; a LONG and a SHORT
// on the same symbol are distinct keys.
func PositionKey(symbol string, side PositionSide) string {
	return fmt.Sprintf("%s_%s", symbol, side)
}

// Position is an open exposure on the exchange.
type Position struct {
	Symbol       string       `json:"symbol"`
	Side         PositionSide `json:"side"`
	Quantity     float64      `json:"quantity"`
	EntryPrice   float64      `json:"entry_price"`
	CurrentPrice float64      `json:"current_price"`
	Leverage     int          `json:"leverage"`
	OpenTime     time.Time    `json:"open_time"`
	StopLoss     float64      `json:"stop_loss,omitempty"`
	TakeProfit   float64      `json:"take_profit,omitempty"`
}

func (p *Position) Key() string {
	return PositionKey(p.Symbol, p.Side)
}

// UnrealizedPnl is the margin-based PnL at the current price. Leverage
// multiplies the percentage move, not the notional.
func (p *Position) UnrealizedPnl() float64 {
	delta := p.CurrentPrice - p.EntryPrice
	if p.Side == SideShort {
		delta = p.EntryPrice - p.CurrentPrice
	}
	return delta * p.Quantity * float64(p.Leverage)
}

func (p *Position) UnrealizedPnlPercent() float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	delta := p.CurrentPrice - p.EntryPrice
	if p.Side == SideShort {
		delta = p.EntryPrice - p.CurrentPrice
	}
	return delta / p.EntryPrice * float64(p.Leverage) * 100
}

// Notional is the unleveraged dollar exposure of the position.
func (p *Position) Notional() float64 {
	return p.Quantity * p.EntryPrice
}

type TradeStatus string

const (
	TradeStatusOpen   TradeStatus = "open"
	TradeStatusClosed TradeStatus = "closed"
)

// Trade is the ledger row for one opened-then-closed position. Exit fields
// stay zero until the row is closed; a closed row is never mutated again.
type Trade struct {
	ID              string        `json:"id" db:"id"`
	TraderID        string        `json:"trader_id" db:"trader_id"`
	Symbol          string        `json:"symbol" db:"symbol"`
	Side            PositionSide  `json:"side" db:"side"`
	Quantity        float64       `json:"quantity" db:"quantity"`
	EntryPrice      float64       `json:"entry_price" db:"entry_price"`
	ExitPrice       float64       `json:"exit_price,omitempty" db:"exit_price"`
	Leverage        int           `json:"leverage" db:"leverage"`
	OpenTime        time.Time     `json:"open_time" db:"open_time"`
	CloseTime       time.Time     `json:"close_time,omitempty" db:"close_time"`
	Pnl             float64       `json:"pnl" db:"pnl"`
	PnlPercent      float64       `json:"pnl_percent" db:"pnl_percent"`
	HoldingDuration time.Duration `json:"holding_duration" db:"holding_duration"`
	Status          TradeStatus   `json:"status" db:"status"`
	CloseReason     string        `json:"close_reason,omitempty" db:"close_reason"`
	StopLoss        float64       `json:"stop_loss,omitempty" db:"stop_loss"`
	TakeProfit      float64       `json:"take_profit,omitempty" db:"take_profit"`
}

func (t *Trade) Key() string {
	return PositionKey(t.Symbol, t.Side)
}

// AccountInfo is a point-in-time snapshot read from the exchange. It is
// never persisted as authoritative state.
type AccountInfo struct {
	TotalEquity        float64    `json:"total_equity"`
	AvailableBalance   float64    `json:"available_balance"`
	TotalMarginUsed    float64    `json:"total_margin_used"`
	MarginUsagePercent float64    `json:"margin_usage_percent"`
	TotalUnrealizedPnl float64    `json:"total_unrealized_pnl"`
	TotalPositions     int        `json:"total_positions"`
	Positions          []Position `json:"positions"`
}

// FindPosition returns the open position for the symbol_side key, or nil.
func (a *AccountInfo) FindPosition(symbol string, side PositionSide) *Position {
	for i := range a.Positions {
		if a.Positions[i].Symbol == symbol && a.Positions[i].Side == side {
			return &a.Positions[i]
		}
	}
	return nil
}

// TradingDecision is a proposed action from the decision oracle. It is never
// persisted directly; only its execution outcome is.
type TradingDecision struct {
	Action      TradingAction `json:"action"`
	Symbol      string        `json:"symbol"`
	NotionalUSD float64       `json:"notional_usd,omitempty"`
	Quantity    float64       `json:"quantity,omitempty"`
	Leverage    int           `json:"leverage,omitempty"`
	StopLoss    float64       `json:"stop_loss,omitempty"`
	TakeProfit  float64       `json:"take_profit,omitempty"`
	Reasoning   string        `json:"reasoning,omitempty"`
	Confidence  float64       `json:"confidence"`
}

type Candle struct {
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	CloseTime time.Time `json:"close_time"`
}

type MarketData struct {
	Symbol       string   `json:"symbol"`
	Price        float64  `json:"price"`
	OpenInterest float64  `json:"open_interest"`
	FundingRate  float64  `json:"funding_rate"`
	Klines       []Candle `json:"klines,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// OpenInterestUSD approximates the dollar liquidity of the instrument.
func (m *MarketData) OpenInterestUSD() float64 {
	return m.OpenInterest * m.Price
}

type Order struct {
	OrderID      string       `json:"order_id"`
	Symbol       string       `json:"symbol"`
	Type         string       `json:"type"`
	Side         string       `json:"side"`
	PositionSide PositionSide `json:"position_side"`
	StopPrice    float64      `json:"stop_price,omitempty"`
	Quantity     float64      `json:"quantity"`
}

// SymbolInfo carries the exchange order filters used for quantity
// normalization.
type SymbolInfo struct {
	Symbol      string  `json:"symbol"`
	MinNotional float64 `json:"min_notional"`
	StepSize    float64 `json:"step_size"`
	MinQty      float64 `json:"min_qty"`
}

type ExecutionResult struct {
	Success          bool    `json:"success"`
	OrderID          string  `json:"order_id,omitempty"`
	ExecutedPrice    float64 `json:"executed_price,omitempty"`
	ExecutedQuantity float64 `json:"executed_quantity,omitempty"`
	Error            string  `json:"error,omitempty"`
}

type EquitySnapshot struct {
	Timestamp       time.Time `json:"timestamp" db:"timestamp"`
	Equity          float64   `json:"equity" db:"equity"`
	DailyPnl        float64   `json:"daily_pnl" db:"daily_pnl"`
	DailyPnlPercent float64   `json:"daily_pnl_percent" db:"daily_pnl_percent"`
}

// SymbolStats is the per-symbol aggregate inside HistoricalFeedback.
type SymbolStats struct {
	Symbol   string  `json:"symbol"`
	Trades   int     `json:"trades"`
	Wins     int     `json:"wins"`
	WinRate  float64 `json:"win_rate"`
	TotalPnl float64 `json:"total_pnl"`
}

// HistoricalFeedback is computed on demand from recent closed trades and the
// equity-snapshot series. It is never stored.
type HistoricalFeedback struct {
	TotalTrades       int           `json:"total_trades"`
	WinRate           float64       `json:"win_rate"`
	ProfitFactor      float64       `json:"profit_factor"`
	AvgWin            float64       `json:"avg_win"`
	AvgLoss           float64       `json:"avg_loss"`
	SharpeRatio       float64       `json:"sharpe_ratio"`
	MaxDrawdown       float64       `json:"max_drawdown"`
	BestSymbols       []SymbolStats `json:"best_symbols"`
	WorstSymbols      []SymbolStats `json:"worst_symbols"`
	LongestWinStreak  int           `json:"longest_win_streak"`
	LongestLossStreak int           `json:"longest_loss_streak"`
	AllowedSymbols    []string      `json:"allowed_symbols"`
	DeniedSymbols     []string      `json:"denied_symbols"`
}
