package backtest

import (
	"math"

	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/market"
)

// Exit reasons recorded on trades.
const (
	ExitStopLoss     = "stop_loss"
	ExitTakeProfit   = "take_profit"
	ExitTrailingStop = "trailing_stop"
	ExitMaxHolding   = "max_holding"
	ExitSignalOff    = "signal_off"
	ExitWindowEnd    = "window_end"
)

// Trade is one completed round trip.
type Trade struct {
	EntryBar   int     `json:"entry_bar"`
	ExitBar    int     `json:"exit_bar"`
	EntryPrice float64 `json:"entry_price"`
	ExitPrice  float64 `json:"exit_price"`
	Return     float64 `json:"return"`
	Reason     string  `json:"reason"`
}

// Result represents one execution outcome.
type Result struct {
	Metrics map[string]float64 `json:"metrics"`
	Equity  []float64          `json:"equity"`
	Trades  []Trade            `json:"trades"`
	Steps   int64              `json:"steps"`
}

type exitRules struct {
	stopLoss       float64
	takeProfit     float64
	trailing       float64
	maxHoldingDays int
}

// simulate runs a long-only position loop over the window. Entries fill at
// the signal bar's close; exit checks run on every later bar in fixed order:
// stop loss, take profit, trailing stop, max holding, signal off.
func simulate(candles *market.Candles, signal []bool, rules exitRules, cfg Config) *Result {
	n := candles.Len()
	equity := make([]float64, n)
	trades := make([]Trade, 0, 8)

	holdLimit := holdingLimitBars(rules.maxHoldingDays, cfg.Timeframe)

	cash := cfg.InitialCapital
	var units, entryPrice, peak float64
	entryBar := -1
	lastExitBar := -1
	long := false

	closeAt := func(i int, reason string) {
		price := candles.Close[i]
		cash = units * price * (1 - cfg.FeeRate)
		trades = append(trades, Trade{
			EntryBar:   entryBar,
			ExitBar:    i,
			EntryPrice: entryPrice,
			ExitPrice:  price,
			Return:     price/entryPrice - 1,
			Reason:     reason,
		})
		long = false
		units = 0
		lastExitBar = i
	}

	for i := 0; i < n; i++ {
		price := candles.Close[i]
		if long {
			if price > peak {
				peak = price
			}
			switch {
			case price <= entryPrice*(1-rules.stopLoss):
				closeAt(i, ExitStopLoss)
			case price >= entryPrice*(1+rules.takeProfit):
				closeAt(i, ExitTakeProfit)
			case price <= peak*(1-rules.trailing):
				closeAt(i, ExitTrailingStop)
			case holdLimit > 0 && i-entryBar >= holdLimit:
				closeAt(i, ExitMaxHolding)
			case !signal[i]:
				closeAt(i, ExitSignalOff)
			}
		}
		if !long && signal[i] && i < n-1 && cash > 0 && i != lastExitBar {
			entryPrice = price
			peak = price
			entryBar = i
			units = cash / (price * (1 + cfg.FeeRate))
			long = true
		}
		if long {
			equity[i] = units * price
		} else {
			equity[i] = cash
		}
	}
	if long {
		closeAt(n-1, ExitWindowEnd)
		equity[n-1] = cash
	}

	return &Result{
		Metrics: computeMetrics(equity, trades, cfg.Timeframe),
		Equity:  equity,
		Trades:  trades,
	}
}

// holdingLimitBars converts a holding budget in days to bars of the given
// timeframe, never below one bar.
func holdingLimitBars(days int, timeframe string) int {
	if days <= 0 {
		return 0
	}
	step := market.TimeframeDuration(timeframe)
	perDay := int(24 * 60 / step.Minutes())
	if perDay < 1 {
		perDay = 1
	}
	return days * perDay
}

// computeMetrics derives the metric map from the equity curve and trades.
func computeMetrics(equity []float64, trades []Trade, timeframe string) map[string]float64 {
	metrics := map[string]float64{
		"total_return": 0,
		"sharpe":       0,
		"max_drawdown": 0,
		"win_rate":     0,
		"trades":       float64(len(trades)),
	}
	if len(equity) < 2 || equity[0] <= 0 {
		return metrics
	}

	metrics["total_return"] = equity[len(equity)-1]/equity[0] - 1

	// 计算每根K线的收益率
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] > 0 {
			returns = append(returns, equity[i]/equity[i-1]-1)
		}
	}
	metrics["sharpe"] = sharpeRatio(returns, timeframe)

	// 计算最大回撤
	maxDrawdown := 0.0
	peak := equity[0]
	for _, e := range equity {
		if e > peak {
			peak = e
		}
		if peak > 0 {
			if dd := (peak - e) / peak; dd > maxDrawdown {
				maxDrawdown = dd
			}
		}
	}
	metrics["max_drawdown"] = maxDrawdown

	if len(trades) > 0 {
		wins := 0
		for _, t := range trades {
			if t.Return > 0 {
				wins++
			}
		}
		metrics["win_rate"] = float64(wins) / float64(len(trades))
	}
	return metrics
}

// sharpeRatio annualizes mean/std of per-bar returns. Risk-free rate is
// assumed zero.
func sharpeRatio(returns []float64, timeframe string) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
	}
	variance /= float64(len(returns) - 1)
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		return 0
	}

	barsPerYear := 252.0 * (24 * 60 / market.TimeframeDuration(timeframe).Minutes())
	return mean / stdDev * math.Sqrt(barsPerYear)
}
