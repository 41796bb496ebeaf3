package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/perpmind/perpmind/internal/exchange"
	"github.com/perpmind/perpmind/internal/ledger"
	"github.com/perpmind/perpmind/internal/models"
	"github.com/perpmind/perpmind/internal/oracle"
	"github.com/perpmind/perpmind/internal/risk"
)

// TradeLedger is the slice of the ledger the orchestrator drives.
type TradeLedger interface {
	RecordOpen(ctx context.Context, trade *models.Trade) error
	RecordClose(ctx context.Context, symbol string, side models.PositionSide, exitPrice float64, reason string) (*models.Trade, error)
	GetOpenTrade(ctx context.Context, symbol string, side models.PositionSide) (*models.Trade, error)
	GetHistoricalFeedback(ctx context.Context, n int) (*models.HistoricalFeedback, error)
	RecordEquitySnapshot(ctx context.Context, equity, dailyPnl, dailyPnlPercent float64) error
	GetEquitySnapshots(ctx context.Context) ([]models.EquitySnapshot, error)
}

// MarketSource supplies per-symbol market snapshots for a cycle.
type MarketSource interface {
	FetchBatch(ctx context.Context, symbols []string) []models.MarketData
}

// Config bounds one trader's decision loop.
type Config struct {
	Symbols        []string      `json:"symbols" mapstructure:"symbols"`
	CycleInterval  time.Duration `json:"cycle_interval" mapstructure:"cycle_interval"`
	OrderPause     time.Duration `json:"order_pause" mapstructure:"order_pause"`
	MinConfidence  float64       `json:"min_confidence" mapstructure:"min_confidence"`
	FeedbackTrades int           `json:"feedback_trades" mapstructure:"feedback_trades"`
	CycleLogDir    string        `json:"cycle_log_dir" mapstructure:"cycle_log_dir"`
}

func DefaultConfig() Config {
	return Config{
		Symbols:        []string{"BTCUSDT", "ETHUSDT"},
		CycleInterval:  15 * time.Minute,
		OrderPause:     2 * time.Second,
		MinConfidence:  0.7,
		FeedbackTrades: 50,
	}
}

// Orchestrator drives the decision cycle end to end: feedback and account
// reads, the take-profit safety net, market fetch, oracle call, admission
// checks and execution, and the cycle record. Cycles are strictly
// sequential; a new cycle starts only after the previous one returns.
type Orchestrator struct {
	provider exchange.Provider
	oracle   oracle.Oracle
	ledger   TradeLedger
	gate     *risk.Gate
	market   MarketSource
	config   Config
	logger   *zap.Logger
	metrics  Metrics

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func New(provider exchange.Provider, decisionOracle oracle.Oracle, tradeLedger TradeLedger, gate *risk.Gate, marketSource MarketSource, config Config) *Orchestrator {
	defaults := DefaultConfig()
	if config.CycleInterval <= 0 {
		config.CycleInterval = defaults.CycleInterval
	}
	if config.OrderPause <= 0 {
		config.OrderPause = defaults.OrderPause
	}
	if config.FeedbackTrades <= 0 {
		config.FeedbackTrades = defaults.FeedbackTrades
	}
	if len(config.Symbols) == 0 {
		config.Symbols = defaults.Symbols
	}
	return &Orchestrator{
		provider: provider,
		oracle:   decisionOracle,
		ledger:   tradeLedger,
		gate:     gate,
		market:   marketSource,
		config:   config,
		logger:   zap.NewNop(),
	}
}

func (o *Orchestrator) SetLogger(logger *zap.Logger) {
	if logger != nil {
		o.logger = logger
	}
}

func (o *Orchestrator) Metrics() Metrics {
	return o.metrics.Snapshot()
}

// Start launches the timer loop. The first cycle runs immediately.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return fmt.Errorf("orchestrator already running")
	}
	o.running = true
	o.stopCh = make(chan struct{})

	o.wg.Add(1)
	go o.loop(o.stopCh)
	return nil
}

// Stop cancels the timer and waits for any in-flight cycle to finish. A
// running cycle is never interrupted mid-order.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	close(o.stopCh)
	o.mu.Unlock()

	o.wg.Wait()
}

func (o *Orchestrator) loop(stopCh <-chan struct{}) {
	defer o.wg.Done()

	for {
		// Cycles deliberately run on a background context: Stop must not
		// cancel order placement already underway.
		o.RunCycle(context.Background())

		select {
		case <-stopCh:
			return
		case <-time.After(o.config.CycleInterval):
		}
	}
}

// RunCycle executes one full decision cycle.
func (o *Orchestrator) RunCycle(ctx context.Context) *CycleReport {
	report := &CycleReport{
		CycleID:   uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	logger := o.logger.With(zap.String("cycle_id", report.CycleID))
	logger.Info("cycle started")
	o.metrics.IncrementCycles()

	defer func() {
		report.FinishedAt = time.Now().UTC()
		report.GateMetrics = o.gate.Metrics()
		if err := writeCycleReport(o.config.CycleLogDir, report); err != nil {
			logger.Warn("failed to write cycle report", zap.Error(err))
		}
		logger.Info("cycle finished",
			zap.Bool("aborted", report.Aborted),
			zap.Int("decisions", len(report.Decisions)),
			zap.Int("executions", len(report.Executions)))
	}()

	// Phase 1: historical feedback. A ledger failure degrades the oracle
	// context, it does not abort the cycle.
	feedback, err := o.ledger.GetHistoricalFeedback(ctx, o.config.FeedbackTrades)
	if err != nil {
		logger.Warn("failed to read historical feedback, proceeding without", zap.Error(err))
		feedback = &models.HistoricalFeedback{}
	}

	// Phase 2: account snapshot. Without equity and margin figures nothing
	// can be risk-checked, so the rest of the cycle is abandoned.
	account, err := o.provider.GetAccountInfo(ctx)
	if err != nil {
		logger.Error("failed to read account info, aborting cycle", zap.Error(err))
		o.metrics.IncrementAborted()
		report.Aborted = true
		report.AbortReason = err.Error()
		return report
	}
	report.Account = account

	// Phase 3: take-profit safety net over open positions.
	if closed := o.reconcileTakeProfits(ctx, logger, account); closed > 0 {
		account = o.refreshAccount(ctx, logger, account)
		report.Account = account
	}

	// Phase 4: market snapshots for the candidate pool plus any symbol we
	// hold a position in.
	marketData := o.market.FetchBatch(ctx, o.candidateSymbols(account))
	report.Market = marketData

	// Phase 5: the oracle proposes. Oracle failure yields a synthetic wait
	// decision carrying the error, never an aborted cycle.
	decisionSet, err := o.oracle.Decide(ctx, &oracle.DecideRequest{
		Account:   account,
		Market:    marketData,
		Feedback:  feedback,
		Positions: account.Positions,
	})
	if err != nil {
		logger.Warn("oracle failed, synthesizing wait", zap.Error(err))
		o.metrics.IncrementOracleFailures()
		decisionSet = &oracle.DecisionSet{
			Decisions: []models.TradingDecision{{
				Action:    models.ActionWait,
				Reasoning: fmt.Sprintf("oracle failure: %v", err),
			}},
		}
	}
	report.Decisions = decisionSet.Decisions
	report.ChainOfThought = decisionSet.ChainOfThought
	o.metrics.AddProposed(len(decisionSet.Decisions))

	// Phase 6: closes first, opens second. Closing frees margin the opens
	// may need, so the account snapshot is refreshed between the waves.
	var closes, opens []models.TradingDecision
	for _, d := range decisionSet.Decisions {
		switch {
		case d.Action.IsClose():
			closes = append(closes, d)
		case d.Action.IsOpen():
			opens = append(opens, d)
		}
	}

	closedAny := false
	for i, d := range closes {
		if i > 0 {
			o.pause()
		}
		record := o.executeClose(ctx, logger, account, d)
		report.Executions = append(report.Executions, record)
		if record.Result != nil && record.Result.Success {
			closedAny = true
		}
	}
	if closedAny {
		account = o.refreshAccount(ctx, logger, account)
	}

	for i, d := range opens {
		if i > 0 || closedAny {
			o.pause()
		}
		record := o.executeOpen(ctx, logger, account, marketData, d)
		report.Executions = append(report.Executions, record)
		if record.Result != nil && record.Result.Success {
			// Later opens in the same cycle must respect the margin this
			// one consumed.
			account = o.refreshAccount(ctx, logger, account)
		}
	}

	// Phase 7: equity snapshot.
	o.recordEquity(ctx, logger, account)
	return report
}

// candidateSymbols is the configured pool plus every symbol with an open
// position, deduplicated, so close decisions always have market context.
func (o *Orchestrator) candidateSymbols(account *models.AccountInfo) []string {
	seen := make(map[string]bool, len(o.config.Symbols))
	symbols := make([]string, 0, len(o.config.Symbols))
	for _, s := range o.config.Symbols {
		if !seen[s] {
			seen[s] = true
			symbols = append(symbols, s)
		}
	}
	for _, p := range account.Positions {
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			symbols = append(symbols, p.Symbol)
		}
	}
	return symbols
}

// reconcileTakeProfits closes positions whose recorded take-profit has been
// crossed but which have no protective order left on the venue. Returns the
// number of positions closed.
func (o *Orchestrator) reconcileTakeProfits(ctx context.Context, logger *zap.Logger, account *models.AccountInfo) int {
	closed := 0
	for _, p := range account.Positions {
		open, err := o.ledger.GetOpenTrade(ctx, p.Symbol, p.Side)
		if err != nil || open == nil || open.TakeProfit <= 0 {
			continue
		}
		if !takeProfitCrossed(p.Side, p.CurrentPrice, open.TakeProfit) {
			continue
		}

		orders, err := o.provider.GetOpenOrders(ctx, p.Symbol)
		if err != nil {
			logger.Warn("failed to list open orders for take-profit check",
				zap.String("symbol", p.Symbol), zap.Error(err))
			continue
		}
		if hasTakeProfitOrder(orders, p.Side) {
			continue
		}

		decision := models.TradingDecision{Action: closeAction(p.Side), Symbol: p.Symbol}
		if res := o.gate.CheckClose(&decision, account); !res.Allowed {
			continue
		}

		logger.Info("take-profit crossed with no venue order, closing",
			zap.String("symbol", p.Symbol),
			zap.String("side", string(p.Side)),
			zap.Float64("take_profit", open.TakeProfit),
			zap.Float64("price", p.CurrentPrice))

		result, err := o.provider.ClosePosition(ctx, p.Symbol, p.Side, p.Quantity)
		if err != nil || !result.Success {
			o.metrics.IncrementOrderFailures()
			logger.Error("safety-net close failed",
				zap.String("symbol", p.Symbol), zap.Error(err))
			continue
		}

		exitPrice := result.ExecutedPrice
		if exitPrice == 0 {
			exitPrice = p.CurrentPrice
		}
		if _, err := o.ledger.RecordClose(ctx, p.Symbol, p.Side, exitPrice, ledger.CloseReasonTakeProfit); err != nil {
			logger.Error("failed to record safety-net close",
				zap.String("symbol", p.Symbol), zap.Error(err))
		}
		o.metrics.IncrementSafetyNetCloses()
		o.metrics.IncrementExecuted()
		closed++
	}
	return closed
}

func (o *Orchestrator) executeClose(ctx context.Context, logger *zap.Logger, account *models.AccountInfo, decision models.TradingDecision) ExecutionRecord {
	record := ExecutionRecord{Decision: decision}

	res := o.gate.CheckClose(&decision, account)
	if !res.Allowed {
		o.metrics.IncrementRejected()
		record.Skipped = res.Reason
		logger.Info("close rejected",
			zap.String("symbol", decision.Symbol),
			zap.String("reason", res.Reason))
		return record
	}
	record.Admitted = true

	side := decision.Action.Side()
	result, err := o.provider.ClosePosition(ctx, decision.Symbol, side, decision.Quantity)
	if err != nil {
		o.metrics.IncrementOrderFailures()
		record.Result = &models.ExecutionResult{Success: false, Error: err.Error()}
		logger.Error("close execution failed", zap.String("symbol", decision.Symbol), zap.Error(err))
		return record
	}
	record.Result = result
	if !result.Success {
		o.metrics.IncrementOrderFailures()
		return record
	}

	exitPrice := result.ExecutedPrice
	if exitPrice == 0 {
		if p := account.FindPosition(decision.Symbol, side); p != nil {
			exitPrice = p.CurrentPrice
		}
	}
	if _, err := o.ledger.RecordClose(ctx, decision.Symbol, side, exitPrice, ledger.CloseReasonAIDecision); err != nil {
		logger.Error("failed to record close", zap.String("symbol", decision.Symbol), zap.Error(err))
	}
	o.metrics.IncrementExecuted()
	return record
}

func (o *Orchestrator) executeOpen(ctx context.Context, logger *zap.Logger, account *models.AccountInfo, marketData []models.MarketData, decision models.TradingDecision) ExecutionRecord {
	record := ExecutionRecord{Decision: decision}
	skip := func(reason string) ExecutionRecord {
		o.metrics.IncrementRejected()
		record.Skipped = reason
		logger.Info("open skipped",
			zap.String("symbol", decision.Symbol),
			zap.String("reason", reason))
		return record
	}

	if o.config.MinConfidence > 0 && decision.Confidence < o.config.MinConfidence {
		return skip(fmt.Sprintf("confidence %.2f below %.2f threshold", decision.Confidence, o.config.MinConfidence))
	}

	price := marketPrice(marketData, decision.Symbol)
	if price == 0 {
		var err error
		price, err = o.provider.GetMarketPrice(ctx, decision.Symbol)
		if err != nil || price <= 0 {
			return skip(fmt.Sprintf("no market price for %s", decision.Symbol))
		}
	}

	quantity := decision.Quantity
	if quantity <= 0 {
		quantity = decision.NotionalUSD / price
	}
	if quantity <= 0 {
		return skip("decision carries no usable size")
	}

	if info, err := o.provider.GetSymbolInfo(ctx, decision.Symbol); err == nil {
		normalized, err := exchange.NormalizeOrderSize(quantity, price, info)
		if err != nil {
			return skip(fmt.Sprintf("size normalization failed: %v", err))
		}
		quantity = normalized.Quantity
	} else {
		logger.Warn("symbol filters unavailable, using raw quantity",
			zap.String("symbol", decision.Symbol), zap.Error(err))
	}

	checked := decision
	checked.Quantity = quantity
	checked.NotionalUSD = 0
	res := o.gate.CheckOpen(&checked, account, price)
	if !res.Allowed && res.AdjustedQuantity > 0 {
		// One retry at the gate's reduced size.
		checked.Quantity = res.AdjustedQuantity
		res = o.gate.CheckOpen(&checked, account, price)
	}
	if !res.Allowed {
		return skip(res.Reason)
	}
	record.Admitted = true

	side := decision.Action.Side()
	if decision.StopLoss > 0 || decision.TakeProfit > 0 {
		if err := o.gate.ValidateStops(side, price, decision.StopLoss, decision.TakeProfit); err != nil {
			record.Admitted = false
			return skip(fmt.Sprintf("stop validation failed: %v", err))
		}
	}

	result, err := o.provider.OpenPosition(ctx, &exchange.OpenRequest{
		Symbol:     decision.Symbol,
		Side:       side,
		Quantity:   checked.Quantity,
		Leverage:   checked.Leverage,
		StopLoss:   decision.StopLoss,
		TakeProfit: decision.TakeProfit,
	})
	if err != nil {
		o.metrics.IncrementOrderFailures()
		record.Result = &models.ExecutionResult{Success: false, Error: err.Error()}
		logger.Error("open execution failed", zap.String("symbol", decision.Symbol), zap.Error(err))
		return record
	}
	record.Result = result
	if !result.Success {
		o.metrics.IncrementOrderFailures()
		return record
	}

	// Record what actually filled, not what was asked for.
	entryPrice := result.ExecutedPrice
	if entryPrice == 0 {
		entryPrice = price
	}
	executedQty := result.ExecutedQuantity
	if executedQty == 0 {
		executedQty = checked.Quantity
	}
	leverage := checked.Leverage
	if leverage < 1 {
		leverage = 1
	}
	err = o.ledger.RecordOpen(ctx, &models.Trade{
		Symbol:     decision.Symbol,
		Side:       side,
		Quantity:   executedQty,
		EntryPrice: entryPrice,
		Leverage:   leverage,
		StopLoss:   decision.StopLoss,
		TakeProfit: decision.TakeProfit,
	})
	if err != nil {
		logger.Error("failed to record open", zap.String("symbol", decision.Symbol), zap.Error(err))
	}
	o.metrics.IncrementExecuted()
	return record
}

// recordEquity appends the cycle-end equity snapshot. Daily PnL is measured
// against the first snapshot of the current UTC day.
func (o *Orchestrator) recordEquity(ctx context.Context, logger *zap.Logger, account *models.AccountInfo) {
	var dailyPnl, dailyPnlPercent float64
	if snapshots, err := o.ledger.GetEquitySnapshots(ctx); err == nil {
		dayStart := time.Now().UTC().Truncate(24 * time.Hour)
		for _, s := range snapshots {
			if !s.Timestamp.Before(dayStart) {
				dailyPnl = account.TotalEquity - s.Equity
				if s.Equity > 0 {
					dailyPnlPercent = dailyPnl / s.Equity * 100
				}
				break
			}
		}
	}

	if err := o.ledger.RecordEquitySnapshot(ctx, account.TotalEquity, dailyPnl, dailyPnlPercent); err != nil {
		logger.Warn("failed to record equity snapshot", zap.Error(err))
	}
}

// refreshAccount refetches the account snapshot after executions changed
// margin state. On failure the stale snapshot is kept and logged.
func (o *Orchestrator) refreshAccount(ctx context.Context, logger *zap.Logger, current *models.AccountInfo) *models.AccountInfo {
	fresh, err := o.provider.GetAccountInfo(ctx)
	if err != nil {
		logger.Warn("failed to refresh account info after executions", zap.Error(err))
		return current
	}
	return fresh
}

func (o *Orchestrator) pause() {
	time.Sleep(o.config.OrderPause)
}

func marketPrice(marketData []models.MarketData, symbol string) float64 {
	for _, m := range marketData {
		if m.Symbol == symbol {
			return m.Price
		}
	}
	return 0
}

func takeProfitCrossed(side models.PositionSide, price, takeProfit float64) bool {
	if price <= 0 {
		return false
	}
	if side == models.SideLong {
		return price >= takeProfit
	}
	return price <= takeProfit
}

func hasTakeProfitOrder(orders []models.Order, side models.PositionSide) bool {
	for _, ord := range orders {
		if ord.PositionSide != "" && ord.PositionSide != side {
			continue
		}
		if ord.Type == "TAKE_PROFIT" || ord.Type == "TAKE_PROFIT_MARKET" {
			return true
		}
	}
	return false
}

func closeAction(side models.PositionSide) models.TradingAction {
	if side == models.SideShort {
		return models.ActionCloseShort
	}
	return models.ActionCloseLong
}
