package market

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"
)

// StaticConfig configures the in-memory provider.
type StaticConfig struct {
	Seed       int64   `json:"seed" yaml:"seed"`
	StartPrice float64 `json:"start_price" yaml:"start_price"`
	Drift      float64 `json:"drift" yaml:"drift"`
	Volatility float64 `json:"volatility" yaml:"volatility"`
}

// StaticProvider serves deterministic synthetic OHLCV windows. The same
// symbol, timeframe and limit always yield the same bars, which keeps
// offline runs and tests reproducible without an exchange.
type StaticProvider struct {
	cfg    StaticConfig
	mu     sync.Mutex
	cached map[string]*Candles
}

// NewStaticProvider creates an offline provider.
func NewStaticProvider(cfg StaticConfig) *StaticProvider {
	if cfg.StartPrice <= 0 {
		cfg.StartPrice = 100.0
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = 0.02
	}
	return &StaticProvider{cfg: cfg, cached: make(map[string]*Candles)}
}

// Candles implements Provider.
func (p *StaticProvider) Candles(ctx context.Context, symbol, timeframe string, limit int) (*Candles, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("candle limit must be positive, got %d", limit)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s|%s|%d", symbol, timeframe, limit)
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.cached[key]; ok {
		return c, nil
	}
	c := p.generate(symbol, timeframe, limit)
	p.cached[key] = c
	return c, nil
}

// Close implements Provider.
func (p *StaticProvider) Close() error { return nil }

// generate walks a geometric random walk seeded from the window key, so
// distinct symbols get distinct but stable histories.
func (p *StaticProvider) generate(symbol, timeframe string, limit int) *Candles {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	h.Write([]byte{'|'})
	h.Write([]byte(timeframe))
	rng := rand.New(rand.NewSource(p.cfg.Seed ^ int64(h.Sum64())))

	step := TimeframeDuration(timeframe)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	c := &Candles{
		Symbol:    symbol,
		Timeframe: timeframe,
		Time:      make([]time.Time, limit),
		Open:      make([]float64, limit),
		High:      make([]float64, limit),
		Low:       make([]float64, limit),
		Close:     make([]float64, limit),
		Volume:    make([]float64, limit),
	}

	price := p.cfg.StartPrice
	for i := 0; i < limit; i++ {
		open := price
		ret := p.cfg.Drift + p.cfg.Volatility*rng.NormFloat64()
		price = open * math.Exp(ret)

		high := math.Max(open, price) * (1 + 0.3*p.cfg.Volatility*rng.Float64())
		low := math.Min(open, price) * (1 - 0.3*p.cfg.Volatility*rng.Float64())
		if low <= 0 {
			low = math.Min(open, price) * 0.5
		}

		c.Time[i] = start.Add(time.Duration(i) * step)
		c.Open[i] = open
		c.High[i] = high
		c.Low[i] = low
		c.Close[i] = price
		c.Volume[i] = 1000 + 9000*rng.Float64()
	}
	return c
}

// TimeframeDuration maps an exchange timeframe string to its bar length.
// Unknown timeframes default to one hour.
func TimeframeDuration(timeframe string) time.Duration {
	switch timeframe {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	}
	return time.Hour
}
