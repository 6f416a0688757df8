package market

import (
	"context"
	"fmt"
	"time"
)

// Candles holds one OHLCV window as aligned columns. The execution harness
// binds these columns directly as snippet series.
type Candles struct {
	Symbol    string      `json:"symbol"`
	Timeframe string      `json:"timeframe"`
	Time      []time.Time `json:"time"`
	Open      []float64   `json:"open"`
	High      []float64   `json:"high"`
	Low       []float64   `json:"low"`
	Close     []float64   `json:"close"`
	Volume    []float64   `json:"volume"`
}

// Provider supplies OHLCV windows for candidate execution
type Provider interface {
	// Candles returns the most recent limit bars for symbol/timeframe.
	Candles(ctx context.Context, symbol, timeframe string, limit int) (*Candles, error)
	Close() error
}

// Len returns the number of bars in the window.
func (c *Candles) Len() int { return len(c.Close) }

// Validate checks column alignment and basic bar sanity before the window
// is handed to an evaluator.
func (c *Candles) Validate() error {
	n := len(c.Close)
	if n == 0 {
		return fmt.Errorf("empty candle window for %s/%s", c.Symbol, c.Timeframe)
	}
	if len(c.Open) != n || len(c.High) != n || len(c.Low) != n || len(c.Volume) != n {
		return fmt.Errorf("misaligned candle columns for %s/%s: open=%d high=%d low=%d close=%d volume=%d",
			c.Symbol, c.Timeframe, len(c.Open), len(c.High), len(c.Low), n, len(c.Volume))
	}
	if len(c.Time) != 0 && len(c.Time) != n {
		return fmt.Errorf("misaligned time column for %s/%s: time=%d close=%d", c.Symbol, c.Timeframe, len(c.Time), n)
	}
	for i := 0; i < n; i++ {
		if c.Low[i] <= 0 || c.High[i] < c.Low[i] {
			return fmt.Errorf("invalid bar %d for %s/%s: high=%f low=%f", i, c.Symbol, c.Timeframe, c.High[i], c.Low[i])
		}
		if c.Volume[i] < 0 {
			return fmt.Errorf("invalid bar %d for %s/%s: volume=%f", i, c.Symbol, c.Timeframe, c.Volume[i])
		}
	}
	return nil
}

// Klines converts the column window back to row form.
func (c *Candles) Klines() []Kline {
	out := make([]Kline, c.Len())
	for i := range out {
		out[i] = Kline{
			Symbol:   c.Symbol,
			Interval: c.Timeframe,
			Open:     c.Open[i],
			High:     c.High[i],
			Low:      c.Low[i],
			Close:    c.Close[i],
			Volume:   c.Volume[i],
			Complete: true,
		}
		if i < len(c.Time) {
			out[i].OpenTime = c.Time[i]
		}
	}
	return out
}

// CandlesFromKlines builds a column window from row-form klines.
func CandlesFromKlines(symbol, timeframe string, klines []Kline) *Candles {
	c := &Candles{
		Symbol:    symbol,
		Timeframe: timeframe,
		Time:      make([]time.Time, 0, len(klines)),
		Open:      make([]float64, 0, len(klines)),
		High:      make([]float64, 0, len(klines)),
		Low:       make([]float64, 0, len(klines)),
		Close:     make([]float64, 0, len(klines)),
		Volume:    make([]float64, 0, len(klines)),
	}
	for _, k := range klines {
		c.Time = append(c.Time, k.OpenTime)
		c.Open = append(c.Open, k.Open)
		c.High = append(c.High, k.High)
		c.Low = append(c.Low, k.Low)
		c.Close = append(c.Close, k.Close)
		c.Volume = append(c.Volume, k.Volume)
	}
	return c
}
