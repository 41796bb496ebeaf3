package exchange

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"go.uber.org/zap"

	"github.com/perpmind/perpmind/internal/models"
)

// BinanceConfig holds the venue credentials.
type BinanceConfig struct {
	APIKey    string `json:"api_key" mapstructure:"api_key"`
	APISecret string `json:"api_secret" mapstructure:"api_secret"`
	Testnet   bool   `json:"testnet" mapstructure:"testnet"`
}

// BinanceProvider implements Provider against the Binance USDT-margined
// futures API. The account is expected to run in hedge mode so a LONG and a
// SHORT on the same symbol are independent positions.
type BinanceProvider struct {
	client *futures.Client
	logger *zap.Logger
}

func NewBinanceProvider(config BinanceConfig) *BinanceProvider {
	if config.Testnet {
		futures.UseTestnet = true
	}
	return &BinanceProvider{
		client: futures.NewClient(config.APIKey, config.APISecret),
		logger: zap.NewNop(),
	}
}

func (p *BinanceProvider) SetLogger(logger *zap.Logger) {
	if logger != nil {
		p.logger = logger
	}
}

func (p *BinanceProvider) GetAccountInfo(ctx context.Context) (*models.AccountInfo, error) {
	account, err := p.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch futures account: %w", err)
	}

	positions, err := p.GetPositions(ctx)
	if err != nil {
		return nil, err
	}

	info := &models.AccountInfo{
		TotalEquity:        parseFloat(account.TotalMarginBalance),
		AvailableBalance:   parseFloat(account.AvailableBalance),
		TotalMarginUsed:    parseFloat(account.TotalInitialMargin),
		TotalUnrealizedPnl: parseFloat(account.TotalUnrealizedProfit),
		TotalPositions:     len(positions),
		Positions:          positions,
	}
	if info.TotalEquity > 0 {
		info.MarginUsagePercent = info.TotalMarginUsed / info.TotalEquity
	}
	return info, nil
}

func (p *BinanceProvider) GetPositions(ctx context.Context) ([]models.Position, error) {
	risks, err := p.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch position risk: %w", err)
	}

	var positions []models.Position
	for _, r := range risks {
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}

		side := models.SideLong
		if amt < 0 {
			side = models.SideShort
			amt = -amt
		}
		if r.PositionSide == "LONG" {
			side = models.SideLong
		} else if r.PositionSide == "SHORT" {
			side = models.SideShort
		}

		leverage := int(parseFloat(r.Leverage))
		if leverage < 1 {
			leverage = 1
		}

		positions = append(positions, models.Position{
			Symbol:       r.Symbol,
			Side:         side,
			Quantity:     amt,
			EntryPrice:   parseFloat(r.EntryPrice),
			CurrentPrice: parseFloat(r.MarkPrice),
			Leverage:     leverage,
		})
	}
	return positions, nil
}

func (p *BinanceProvider) GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	svc := p.client.NewListOpenOrdersService()
	if symbol != "" {
		svc = svc.Symbol(symbol)
	}
	orders, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch open orders: %w", err)
	}

	result := make([]models.Order, 0, len(orders))
	for _, o := range orders {
		result = append(result, models.Order{
			OrderID:      strconv.FormatInt(o.OrderID, 10),
			Symbol:       o.Symbol,
			Type:         string(o.Type),
			Side:         string(o.Side),
			PositionSide: models.PositionSide(o.PositionSide),
			StopPrice:    parseFloat(o.StopPrice),
			Quantity:     parseFloat(o.OrigQuantity),
		})
	}
	return result, nil
}

func (p *BinanceProvider) GetMarketPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := p.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch price for %s: %w", symbol, err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("no price data for %s", symbol)
	}
	return parseFloat(prices[0].Price), nil
}

func (p *BinanceProvider) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	klines, err := p.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch klines for %s: %w", symbol, err)
	}

	candles := make([]models.Candle, len(klines))
	for i, k := range klines {
		candles[i] = models.Candle{
			OpenTime:  time.UnixMilli(k.OpenTime),
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
			CloseTime: time.UnixMilli(k.CloseTime),
		}
	}
	return candles, nil
}

func (p *BinanceProvider) GetOpenInterest(ctx context.Context, symbol string) (float64, error) {
	oi, err := p.client.NewGetOpenInterestService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch open interest for %s: %w", symbol, err)
	}
	return parseFloat(oi.OpenInterest), nil
}

func (p *BinanceProvider) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	indexes, err := p.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch premium index for %s: %w", symbol, err)
	}
	if len(indexes) == 0 {
		return 0, fmt.Errorf("no premium index data for %s", symbol)
	}
	return parseFloat(indexes[0].LastFundingRate), nil
}

func (p *BinanceProvider) GetSymbolInfo(ctx context.Context, symbol string) (*models.SymbolInfo, error) {
	info, err := p.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch exchange info: %w", err)
	}

	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		result := &models.SymbolInfo{Symbol: symbol}
		if f := s.LotSizeFilter(); f != nil {
			result.StepSize = parseFloat(f.StepSize)
			result.MinQty = parseFloat(f.MinQuantity)
		}
		if f := s.MinNotionalFilter(); f != nil {
			result.MinNotional = parseFloat(f.Notional)
		}
		return result, nil
	}
	return nil, fmt.Errorf("symbol %s not found in exchange info", symbol)
}

func (p *BinanceProvider) OpenPosition(ctx context.Context, req *OpenRequest) (*models.ExecutionResult, error) {
	if req.Leverage >= 1 {
		_, err := p.client.NewChangeLeverageService().
			Symbol(req.Symbol).
			Leverage(req.Leverage).
			Do(ctx)
		if err != nil {
			return failure(fmt.Errorf("failed to set leverage for %s: %w", req.Symbol, err)), nil
		}
	}

	order, err := p.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(entrySide(req.Side)).
		PositionSide(positionSide(req.Side)).
		Type(futures.OrderTypeMarket).
		Quantity(formatQuantity(req.Quantity)).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		return failure(fmt.Errorf("failed to place entry order for %s: %w", req.Symbol, err)), nil
	}

	executedPrice := parseFloat(order.AvgPrice)
	executedQty := parseFloat(order.ExecutedQuantity)
	if executedQty == 0 {
		executedQty = req.Quantity
	}

	// Protective orders are best effort. The entry already filled, so a
	// failure here is logged rather than surfaced as an execution failure.
	if req.StopLoss > 0 {
		if err := p.placeProtectiveOrder(ctx, req, futures.OrderType(futures.AlgoOrderTypeStopMarket), req.StopLoss); err != nil {
			p.logger.Warn("failed to place stop loss order",
				zap.String("symbol", req.Symbol),
				zap.Float64("stop_loss", req.StopLoss),
				zap.Error(err))
		}
	}
	if req.TakeProfit > 0 {
		if err := p.placeProtectiveOrder(ctx, req, futures.OrderType(futures.AlgoOrderTypeTakeProfitMarket), req.TakeProfit); err != nil {
			p.logger.Warn("failed to place take profit order",
				zap.String("symbol", req.Symbol),
				zap.Float64("take_profit", req.TakeProfit),
				zap.Error(err))
		}
	}

	return &models.ExecutionResult{
		Success:          true,
		OrderID:          strconv.FormatInt(order.OrderID, 10),
		ExecutedPrice:    executedPrice,
		ExecutedQuantity: executedQty,
	}, nil
}

func (p *BinanceProvider) ClosePosition(ctx context.Context, symbol string, side models.PositionSide, quantity float64) (*models.ExecutionResult, error) {
	if quantity <= 0 {
		positions, err := p.GetPositions(ctx)
		if err != nil {
			return failure(err), nil
		}
		for _, pos := range positions {
			if pos.Symbol == symbol && pos.Side == side {
				quantity = pos.Quantity
				break
			}
		}
		if quantity <= 0 {
			return failure(fmt.Errorf("no open %s position to close", models.PositionKey(symbol, side))), nil
		}
	}

	order, err := p.client.NewCreateOrderService().
		Symbol(symbol).
		Side(exitSide(side)).
		PositionSide(positionSide(side)).
		Type(futures.OrderTypeMarket).
		Quantity(formatQuantity(quantity)).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		return failure(fmt.Errorf("failed to place close order for %s: %w", symbol, err)), nil
	}

	executedQty := parseFloat(order.ExecutedQuantity)
	if executedQty == 0 {
		executedQty = quantity
	}
	return &models.ExecutionResult{
		Success:          true,
		OrderID:          strconv.FormatInt(order.OrderID, 10),
		ExecutedPrice:    parseFloat(order.AvgPrice),
		ExecutedQuantity: executedQty,
	}, nil
}

// placeProtectiveOrder submits a close-position stop or take-profit trigger
// on the opposite side of the entry.
func (p *BinanceProvider) placeProtectiveOrder(ctx context.Context, req *OpenRequest, orderType futures.OrderType, triggerPrice float64) error {
	_, err := p.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(exitSide(req.Side)).
		PositionSide(positionSide(req.Side)).
		Type(orderType).
		StopPrice(formatQuantity(triggerPrice)).
		ClosePosition(true).
		Do(ctx)
	return err
}

func entrySide(side models.PositionSide) futures.SideType {
	if side == models.SideShort {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func exitSide(side models.PositionSide) futures.SideType {
	if side == models.SideShort {
		return futures.SideTypeBuy
	}
	return futures.SideTypeSell
}

func positionSide(side models.PositionSide) futures.PositionSideType {
	if side == models.SideShort {
		return futures.PositionSideTypeShort
	}
	return futures.PositionSideTypeLong
}

func formatQuantity(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

func failure(err error) *models.ExecutionResult {
	return &models.ExecutionResult{Success: false, Error: err.Error()}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
