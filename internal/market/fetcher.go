package market

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/perpmind/perpmind/internal/exchange"
	"github.com/perpmind/perpmind/internal/models"
)

// FetcherConfig bounds the batch fetch.
type FetcherConfig struct {
	KlineInterval      string  `json:"kline_interval" mapstructure:"kline_interval"`
	KlineLimit         int     `json:"kline_limit" mapstructure:"kline_limit"`
	MinOpenInterestUSD float64 `json:"min_open_interest_usd" mapstructure:"min_open_interest_usd"`
	Concurrency        int     `json:"concurrency" mapstructure:"concurrency"`
}

func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		KlineInterval:      "15m",
		KlineLimit:         50,
		MinOpenInterestUSD: 1_000_000,
		Concurrency:        5,
	}
}

// Fetcher reads per-symbol market snapshots from the venue, fanning the
// reads out concurrently. A symbol that fails to fetch is skipped, never
// fatal for the batch.
type Fetcher struct {
	provider exchange.Provider
	cache    *Cache
	config   FetcherConfig
	logger   *zap.Logger
}

func NewFetcher(provider exchange.Provider, cache *Cache, config FetcherConfig) *Fetcher {
	defaults := DefaultFetcherConfig()
	if config.KlineInterval == "" {
		config.KlineInterval = defaults.KlineInterval
	}
	if config.KlineLimit <= 0 {
		config.KlineLimit = defaults.KlineLimit
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	return &Fetcher{
		provider: provider,
		cache:    cache,
		config:   config,
		logger:   zap.NewNop(),
	}
}

func (f *Fetcher) SetLogger(logger *zap.Logger) {
	if logger != nil {
		f.logger = logger
	}
}

// FetchBatch gathers snapshots for the symbols, dropping those below the
// liquidity floor. Results are ordered by symbol for stable downstream
// prompts and logs.
func (f *Fetcher) FetchBatch(ctx context.Context, symbols []string) []models.MarketData {
	var (
		mu      sync.Mutex
		results []models.MarketData
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.config.Concurrency)

	for _, symbol := range symbols {
		g.Go(func() error {
			data, err := f.fetchOne(gctx, symbol)
			if err != nil {
				f.logger.Warn("market fetch failed, skipping symbol",
					zap.String("symbol", symbol),
					zap.Error(err))
				return nil
			}
			if f.config.MinOpenInterestUSD > 0 && data.OpenInterest > 0 && data.OpenInterestUSD() < f.config.MinOpenInterestUSD {
				f.logger.Debug("symbol below liquidity floor",
					zap.String("symbol", symbol),
					zap.Float64("open_interest_usd", data.OpenInterestUSD()))
				return nil
			}
			mu.Lock()
			results = append(results, *data)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Symbol < results[j].Symbol })
	return results
}

func (f *Fetcher) fetchOne(ctx context.Context, symbol string) (*models.MarketData, error) {
	if cached := f.cache.Get(ctx, symbol); cached != nil {
		return cached, nil
	}

	price, err := f.provider.GetMarketPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	data := &models.MarketData{
		Symbol:    symbol,
		Price:     price,
		FetchedAt: time.Now().UTC(),
	}

	// Open interest, funding and klines are enrichment: a failure degrades
	// the snapshot rather than dropping it.
	if oi, err := f.provider.GetOpenInterest(ctx, symbol); err == nil {
		data.OpenInterest = oi
	} else {
		f.logger.Debug("open interest unavailable", zap.String("symbol", symbol), zap.Error(err))
	}
	if rate, err := f.provider.GetFundingRate(ctx, symbol); err == nil {
		data.FundingRate = rate
	} else {
		f.logger.Debug("funding rate unavailable", zap.String("symbol", symbol), zap.Error(err))
	}
	if klines, err := f.provider.GetKlines(ctx, symbol, f.config.KlineInterval, f.config.KlineLimit); err == nil {
		data.Klines = klines
	} else {
		f.logger.Debug("klines unavailable", zap.String("symbol", symbol), zap.Error(err))
	}

	f.cache.Set(ctx, data)
	return data, nil
}
