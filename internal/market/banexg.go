package market

import (
	"context"
	"fmt"
	"time"

	"github.com/banbox/banexg"
	"github.com/banbox/banexg/bex"

	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/logger"
)

// BanexgConfig configures the exchange-backed provider.
type BanexgConfig struct {
	Exchange  string `json:"exchange" yaml:"exchange"`
	APIKey    string `json:"api_key" yaml:"api_key"`
	APISecret string `json:"api_secret" yaml:"api_secret"`
	TestNet   bool   `json:"testnet" yaml:"testnet"`
}

// BanexgProvider fetches OHLCV windows through the banexg SDK.
type BanexgProvider struct {
	exchange banexg.BanExchange
	log      logger.Logger
}

// NewBanexgProvider creates a provider against the configured exchange and
// loads its markets eagerly so a bad configuration fails at construction.
func NewBanexgProvider(cfg BanexgConfig) (*BanexgProvider, error) {
	options := map[string]interface{}{
		banexg.OptApiKey:     cfg.APIKey,
		banexg.OptApiSecret:  cfg.APISecret,
		banexg.OptMarketType: banexg.MarketLinear,
	}
	if cfg.TestNet {
		options[banexg.OptEnv] = "test"
	}

	name := cfg.Exchange
	if name == "" {
		name = "binance"
	}
	exg, err := bex.New(name, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create banexg exchange: %w", err)
	}
	if _, err := exg.LoadMarkets(false, nil); err != nil {
		_ = exg.Close()
		return nil, fmt.Errorf("failed to load markets: %w", err)
	}

	return &BanexgProvider{
		exchange: exg,
		log:      logger.Module("market").WithField("exchange", name),
	}, nil
}

// Candles implements Provider.
func (p *BanexgProvider) Candles(ctx context.Context, symbol, timeframe string, limit int) (*Candles, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("candle limit must be positive, got %d", limit)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	klines, err := p.exchange.FetchOHLCV(symbol, timeframe, 0, limit, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ohlcv for %s/%s: %w", symbol, timeframe, err)
	}

	rows := make([]Kline, 0, len(klines))
	for _, k := range klines {
		rows = append(rows, Kline{
			Symbol:   symbol,
			Interval: timeframe,
			OpenTime: time.Unix(0, k.Time*int64(time.Millisecond)),
			Open:     k.Open,
			High:     k.High,
			Low:      k.Low,
			Close:    k.Close,
			Volume:   k.Volume,
			Complete: true,
		})
	}
	candles := CandlesFromKlines(symbol, timeframe, rows)
	if err := candles.Validate(); err != nil {
		return nil, fmt.Errorf("exchange returned unusable window: %w", err)
	}

	p.log.Debug("fetched candle window", "symbol", symbol, "timeframe", timeframe, "bars", candles.Len())
	return candles, nil
}

// Close implements Provider.
func (p *BanexgProvider) Close() error {
	if p.exchange != nil {
		return p.exchange.Close()
	}
	return nil
}
