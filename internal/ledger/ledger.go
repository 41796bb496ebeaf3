// Package ledger is the durable record of trades and equity over time and
// the single source of truth for realized PnL and historical statistics.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/perpmind/perpmind/internal/models"
)

const (
	CloseReasonAIDecision = "ai_decision"
	CloseReasonTakeProfit = "take_profit"
	CloseReasonStopLoss   = "stop_loss"
)

type Ledger struct {
	store    Store
	traderID string
	logger   *zap.Logger
}

func New(store Store, traderID string) *Ledger {
	return &Ledger{
		store:    store,
		traderID: traderID,
		logger:   zap.NewNop(),
	}
}

func (l *Ledger) SetLogger(logger *zap.Logger) {
	l.logger = logger
}

// Migrate creates the trade and equity-snapshot tables with the symbol_side
// and status indexes used for open-row lookup.
func (l *Ledger) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			trader_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			symbol_side TEXT NOT NULL,
			quantity DOUBLE PRECISION NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			exit_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			leverage BIGINT NOT NULL,
			open_time TIMESTAMP NOT NULL,
			close_time TIMESTAMP NOT NULL,
			pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
			pnl_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
			holding_seconds BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			close_reason TEXT NOT NULL DEFAULT '',
			stop_loss DOUBLE PRECISION NOT NULL DEFAULT 0,
			take_profit DOUBLE PRECISION NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol_side ON trades (trader_id, symbol_side)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades (trader_id, status)`,
		`CREATE TABLE IF NOT EXISTS equity_snapshots (
			id TEXT PRIMARY KEY,
			trader_id TEXT NOT NULL,
			snapshot_time TIMESTAMP NOT NULL,
			equity DOUBLE PRECISION NOT NULL,
			daily_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
			daily_pnl_percent DOUBLE PRECISION NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_equity_trader_time ON equity_snapshots (trader_id, snapshot_time)`,
	}

	for _, stmt := range statements {
		if err := l.store.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run ledger migration: %w", err)
		}
	}
	return nil
}

// RecordOpen inserts a new open row for the trade. The caller supplies the
// actually executed price and quantity, not the requested ones.
func (l *Ledger) RecordOpen(ctx context.Context, trade *models.Trade) error {
	if trade == nil {
		return fmt.Errorf("trade is required")
	}
	if trade.Symbol == "" {
		return fmt.Errorf("trade symbol is required")
	}
	if trade.Side != models.SideLong && trade.Side != models.SideShort {
		return fmt.Errorf("invalid trade side: %q", trade.Side)
	}
	if trade.Quantity <= 0 {
		return fmt.Errorf("trade quantity must be positive, got %f", trade.Quantity)
	}
	if trade.EntryPrice <= 0 {
		return fmt.Errorf("trade entry price must be positive, got %f", trade.EntryPrice)
	}
	if trade.Leverage < 1 {
		return fmt.Errorf("trade leverage must be at least 1, got %d", trade.Leverage)
	}

	if trade.ID == "" {
		trade.ID = uuid.NewString()
	}
	if trade.OpenTime.IsZero() {
		trade.OpenTime = time.Now().UTC()
	}
	trade.TraderID = l.traderID
	trade.Status = models.TradeStatusOpen

	query := `
		INSERT INTO trades (
			id, trader_id, symbol, side, symbol_side, quantity, entry_price,
			exit_price, leverage, open_time, close_time, pnl, pnl_percent,
			holding_seconds, status, close_reason, stop_loss, take_profit
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	err := l.store.Exec(ctx, query,
		trade.ID, trade.TraderID, trade.Symbol, string(trade.Side), trade.Key(),
		trade.Quantity, trade.EntryPrice, 0.0, trade.Leverage,
		trade.OpenTime, time.Time{}, 0.0, 0.0, int64(0),
		string(models.TradeStatusOpen), "", trade.StopLoss, trade.TakeProfit,
	)
	if err != nil {
		return fmt.Errorf("failed to record open trade: %w", err)
	}

	l.logger.Info("recorded open trade",
		zap.String("trade_id", trade.ID),
		zap.String("symbol", trade.Symbol),
		zap.String("side", string(trade.Side)),
		zap.Float64("quantity", trade.Quantity),
		zap.Float64("entry_price", trade.EntryPrice),
		zap.Int("leverage", trade.Leverage))
	return nil
}

// RecordClose closes the most recent open row for the symbol_side key.
// Closing a position the ledger never opened is not fatal: exchange state is
// authoritative, so a missing row is logged as a warning and the call
// returns (nil, nil).
//
// Leverage multiplies the percentage return, not the notional:
//
//	pnl = quantity × entryPrice × priceChangePct × leverage
func (l *Ledger) RecordClose(ctx context.Context, symbol string, side models.PositionSide, exitPrice float64, reason string) (*models.Trade, error) {
	if exitPrice <= 0 {
		return nil, fmt.Errorf("exit price must be positive, got %f", exitPrice)
	}

	trade, err := l.GetOpenTrade(ctx, symbol, side)
	if err != nil {
		return nil, err
	}
	if trade == nil {
		l.logger.Warn("no open trade to close, skipping",
			zap.String("symbol", symbol),
			zap.String("side", string(side)),
			zap.String("reason", reason))
		return nil, nil
	}

	closeTime := time.Now().UTC()
	positionValue := trade.Quantity * trade.EntryPrice
	priceChangePct := (exitPrice - trade.EntryPrice) / trade.EntryPrice
	if side == models.SideShort {
		priceChangePct = (trade.EntryPrice - exitPrice) / trade.EntryPrice
	}

	trade.ExitPrice = exitPrice
	trade.CloseTime = closeTime
	trade.Pnl = positionValue * priceChangePct * float64(trade.Leverage)
	trade.PnlPercent = priceChangePct * float64(trade.Leverage) * 100
	trade.HoldingDuration = closeTime.Sub(trade.OpenTime)
	trade.Status = models.TradeStatusClosed
	trade.CloseReason = reason

	query := `
		UPDATE trades SET
			exit_price = $1, close_time = $2, pnl = $3, pnl_percent = $4,
			holding_seconds = $5, status = $6, close_reason = $7
		WHERE id = $8`

	err = l.store.Exec(ctx, query,
		trade.ExitPrice, trade.CloseTime, trade.Pnl, trade.PnlPercent,
		int64(trade.HoldingDuration.Seconds()), string(models.TradeStatusClosed),
		reason, trade.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record close: %w", err)
	}

	l.logger.Info("recorded closed trade",
		zap.String("trade_id", trade.ID),
		zap.String("symbol", trade.Symbol),
		zap.String("side", string(trade.Side)),
		zap.Float64("exit_price", exitPrice),
		zap.Float64("pnl", trade.Pnl),
		zap.Float64("pnl_percent", trade.PnlPercent),
		zap.String("close_reason", reason))
	return trade, nil
}

// GetOpenTrade returns the most recent open row for the symbol_side key,
// or nil when none exists.
func (l *Ledger) GetOpenTrade(ctx context.Context, symbol string, side models.PositionSide) (*models.Trade, error) {
	query := `
		SELECT id, trader_id, symbol, side, quantity, entry_price, exit_price,
		       leverage, open_time, close_time, pnl, pnl_percent,
		       holding_seconds, status, close_reason, stop_loss, take_profit
		FROM trades
		WHERE trader_id = $1 AND symbol_side = $2 AND status = $3
		ORDER BY open_time DESC
		LIMIT 1`

	rows, err := l.store.Query(ctx, query, l.traderID, models.PositionKey(symbol, side), string(models.TradeStatusOpen))
	if err != nil {
		return nil, fmt.Errorf("failed to query open trade: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	trade, err := scanTrade(rows)
	if err != nil {
		return nil, err
	}
	return trade, rows.Err()
}

// GetClosedTrades returns the last n closed trades ordered by close time
// descending.
func (l *Ledger) GetClosedTrades(ctx context.Context, n int) ([]models.Trade, error) {
	if n <= 0 {
		return nil, nil
	}

	query := `
		SELECT id, trader_id, symbol, side, quantity, entry_price, exit_price,
		       leverage, open_time, close_time, pnl, pnl_percent,
		       holding_seconds, status, close_reason, stop_loss, take_profit
		FROM trades
		WHERE trader_id = $1 AND status = $2
		ORDER BY close_time DESC
		LIMIT $3`

	rows, err := l.store.Query(ctx, query, l.traderID, string(models.TradeStatusClosed), n)
	if err != nil {
		return nil, fmt.Errorf("failed to query closed trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, *trade)
	}
	return trades, rows.Err()
}

// RecordEquitySnapshot appends one row to the equity time series. Snapshots
// are never overwritten.
func (l *Ledger) RecordEquitySnapshot(ctx context.Context, equity, dailyPnl, dailyPnlPercent float64) error {
	query := `
		INSERT INTO equity_snapshots (id, trader_id, snapshot_time, equity, daily_pnl, daily_pnl_percent)
		VALUES ($1, $2, $3, $4, $5, $6)`

	err := l.store.Exec(ctx, query,
		uuid.NewString(), l.traderID, time.Now().UTC(), equity, dailyPnl, dailyPnlPercent)
	if err != nil {
		return fmt.Errorf("failed to record equity snapshot: %w", err)
	}
	return nil
}

// GetEquitySnapshots returns the full snapshot series in chronological order.
func (l *Ledger) GetEquitySnapshots(ctx context.Context) ([]models.EquitySnapshot, error) {
	query := `
		SELECT snapshot_time, equity, daily_pnl, daily_pnl_percent
		FROM equity_snapshots
		WHERE trader_id = $1
		ORDER BY snapshot_time ASC`

	rows, err := l.store.Query(ctx, query, l.traderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query equity snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []models.EquitySnapshot
	for rows.Next() {
		var s models.EquitySnapshot
		if err := rows.Scan(&s.Timestamp, &s.Equity, &s.DailyPnl, &s.DailyPnlPercent); err != nil {
			return nil, fmt.Errorf("failed to scan equity snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

// GetHistoricalFeedback aggregates the last n closed trades and the full
// equity series into feedback statistics. An empty ledger yields the zeroed
// structure, never an error.
func (l *Ledger) GetHistoricalFeedback(ctx context.Context, n int) (*models.HistoricalFeedback, error) {
	trades, err := l.GetClosedTrades(ctx, n)
	if err != nil {
		return nil, err
	}
	snapshots, err := l.GetEquitySnapshots(ctx)
	if err != nil {
		return nil, err
	}
	return computeFeedback(trades, snapshots), nil
}

func (l *Ledger) Close() error {
	return l.store.Close()
}

func scanTrade(row Row) (*models.Trade, error) {
	var t models.Trade
	var side, status string
	var holdingSeconds int64

	err := row.Scan(&t.ID, &t.TraderID, &t.Symbol, &side, &t.Quantity,
		&t.EntryPrice, &t.ExitPrice, &t.Leverage, &t.OpenTime, &t.CloseTime,
		&t.Pnl, &t.PnlPercent, &holdingSeconds, &status, &t.CloseReason,
		&t.StopLoss, &t.TakeProfit)
	if err != nil {
		return nil, fmt.Errorf("failed to scan trade: %w", err)
	}

	t.Side = models.PositionSide(side)
	t.Status = models.TradeStatus(status)
	t.HoldingDuration = time.Duration(holdingSeconds) * time.Second
	return &t, nil
}
