package exchange

import (
	"context"

	"github.com/perpmind/perpmind/internal/models"
)

// Provider is the execution boundary: account/position/market reads and
// order writes against a perpetual-futures venue. Implementations own their
// own timeouts; callers treat any error as a per-unit failure.
type Provider interface {
	GetAccountInfo(ctx context.Context) (*models.AccountInfo, error)
	GetPositions(ctx context.Context) ([]models.Position, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error)
	GetMarketPrice(ctx context.Context, symbol string) (float64, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
	GetOpenInterest(ctx context.Context, symbol string) (float64, error)
	GetFundingRate(ctx context.Context, symbol string) (float64, error)
	GetSymbolInfo(ctx context.Context, symbol string) (*models.SymbolInfo, error)
	OpenPosition(ctx context.Context, req *OpenRequest) (*models.ExecutionResult, error)
	ClosePosition(ctx context.Context, symbol string, side models.PositionSide, quantity float64) (*models.ExecutionResult, error)
}

// OpenRequest carries everything needed to place an entry order. StopLoss
// and TakeProfit of 0 mean no protective order is placed.
type OpenRequest struct {
	Symbol     string
	Side       models.PositionSide
	Quantity   float64
	Leverage   int
	StopLoss   float64
	TakeProfit float64
}
