// Package backtest evaluates candidate snippets against OHLCV windows and
// simulates the trades their signals imply, honoring the candidate's exit
// parameters.
package backtest

import (
	"context"
	"fmt"
	"math"

	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/dsl"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/logger"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/market"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/mutation"
)

// Config represents harness configuration.
type Config struct {
	Symbol         string  `json:"symbol" yaml:"symbol"`
	Timeframe      string  `json:"timeframe" yaml:"timeframe"`
	Bars           int     `json:"bars" yaml:"bars"`
	InitialCapital float64 `json:"initial_capital" yaml:"initial_capital"`
	FeeRate        float64 `json:"fee_rate" yaml:"fee_rate"`
	StepBudget     int64   `json:"step_budget" yaml:"step_budget"`
}

// Harness runs one candidate against one data window.
type Harness struct {
	provider market.Provider
	cfg      Config
	bounds   []mutation.ParameterBounds
	log      logger.Logger
}

// NewHarness creates a harness over the given data provider.
func NewHarness(provider market.Provider, cfg Config) (*Harness, error) {
	if provider == nil {
		return nil, fmt.Errorf("market provider is required")
	}
	if cfg.Symbol == "" {
		cfg.Symbol = "BTCUSDT"
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = "1h"
	}
	if cfg.Bars <= 0 {
		cfg.Bars = 250
	}
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = 10000
	}
	if cfg.FeeRate < 0 {
		return nil, fmt.Errorf("fee rate must not be negative, got %v", cfg.FeeRate)
	}
	if cfg.FeeRate == 0 {
		cfg.FeeRate = 0.0005
	}
	return &Harness{
		provider: provider,
		cfg:      cfg,
		bounds:   mutation.DefaultExitBounds(),
		log:      logger.Module("backtest"),
	}, nil
}

// Config returns the effective configuration after defaulting.
func (h *Harness) Config() Config { return h.cfg }

// Window fetches the configured data window from the provider.
func (h *Harness) Window(ctx context.Context) (*market.Candles, error) {
	candles, err := h.provider.Candles(ctx, h.cfg.Symbol, h.cfg.Timeframe, h.cfg.Bars)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candles: %w", err)
	}
	return candles, nil
}

// Run fetches the configured window and executes the candidate against it.
func (h *Harness) Run(ctx context.Context, candidate *mutation.Candidate) (*Result, error) {
	candles, err := h.Window(ctx)
	if err != nil {
		return nil, err
	}
	return h.RunWindow(ctx, candidate, candles)
}

// RunWindow executes the candidate against an explicit window.
func (h *Harness) RunWindow(ctx context.Context, candidate *mutation.Candidate, candles *market.Candles) (*Result, error) {
	if candidate == nil {
		return nil, fmt.Errorf("candidate is required")
	}
	if candles == nil {
		return nil, fmt.Errorf("candle window is required")
	}
	if err := candles.Validate(); err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}

	mod, err := dsl.Parse(candidate.Code)
	if err != nil {
		return nil, fmt.Errorf("failed to parse candidate: %w", err)
	}

	env := dsl.BaseEnv()
	env.Set("close", dsl.Series(candles.Close))
	env.Set("open", dsl.Series(candles.Open))
	env.Set("high", dsl.Series(candles.High))
	env.Set("low", dsl.Series(candles.Low))
	env.Set("volume", dsl.Series(candles.Volume))
	for name, v := range candidate.Params {
		env.Set(name, v)
	}

	interp := dsl.NewInterp(ctx, h.cfg.StepBudget)
	if err := interp.Run(mod, env); err != nil {
		return nil, fmt.Errorf("candidate evaluation failed: %w", err)
	}

	signal, err := extractSignal(env, candles.Len())
	if err != nil {
		return nil, err
	}
	rules := h.resolveExits(env, candidate)

	result := simulate(candles, signal, rules, h.cfg)
	result.Steps = interp.Steps()

	h.log.Debug("candidate executed",
		"candidate_id", candidate.ID.String(),
		"bars", candles.Len(),
		"trades", result.Metrics["trades"],
		"total_return", result.Metrics["total_return"])
	return result, nil
}

// extractSignal reads the snippet's signal variable as a boolean series.
// Scalars broadcast over the whole window; NaN means no position.
func extractSignal(env *dsl.Env, n int) ([]bool, error) {
	v, ok := env.Get("signal")
	if !ok {
		return nil, fmt.Errorf("snippet defines no signal")
	}
	out := make([]bool, n)
	switch s := v.(type) {
	case dsl.Series:
		if len(s) != n {
			return nil, fmt.Errorf("signal length %d does not match window length %d", len(s), n)
		}
		for i, x := range s {
			out[i] = x != 0 && !math.IsNaN(x)
		}
	case bool:
		for i := range out {
			out[i] = s
		}
	case float64:
		on := s != 0 && !math.IsNaN(s)
		for i := range out {
			out[i] = on
		}
	default:
		return nil, fmt.Errorf("signal has unsupported type %T", v)
	}
	return out, nil
}

// resolveExits reads the four exit parameters, preferring snippet
// assignments, then candidate params, then defaults.
func (h *Harness) resolveExits(env *dsl.Env, candidate *mutation.Candidate) exitRules {
	value := func(name string, def float64) float64 {
		if v, ok := env.Get(name); ok {
			if f, ok := v.(float64); ok && !math.IsNaN(f) {
				return f
			}
		}
		if f, ok := candidate.Params[name]; ok {
			return f
		}
		return def
	}
	rules := exitRules{}
	for _, b := range h.bounds {
		switch b.Name {
		case "stop_loss_pct":
			rules.stopLoss = value(b.Name, b.Default)
		case "take_profit_pct":
			rules.takeProfit = value(b.Name, b.Default)
		case "trailing_stop_pct":
			rules.trailing = value(b.Name, b.Default)
		case "max_holding_days":
			rules.maxHoldingDays = int(value(b.Name, b.Default))
		}
	}
	return rules
}
