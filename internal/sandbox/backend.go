package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/backtest"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/mutation"
)

// HarnessBackend evaluates candidates in-process through the backtest
// harness. A data fetch problem is a backend error; a candidate that fails
// to parse or evaluate is a completed execution with Success false.
type HarnessBackend struct {
	harness *backtest.Harness
}

// NewHarnessBackend wraps a backtest harness as an execution backend.
func NewHarnessBackend(harness *backtest.Harness) (*HarnessBackend, error) {
	if harness == nil {
		return nil, fmt.Errorf("harness is required")
	}
	return &HarnessBackend{harness: harness}, nil
}

// Execute implements Backend.
func (b *HarnessBackend) Execute(ctx context.Context, candidate *mutation.Candidate) (*Outcome, error) {
	candles, err := b.harness.Window(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := b.harness.RunWindow(ctx, candidate, candles)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return &Outcome{
			Success:  false,
			Error:    err.Error(),
			Duration: time.Since(start),
		}, nil
	}

	return &Outcome{
		Success:  true,
		Metrics:  res.Metrics,
		Duration: time.Since(start),
	}, nil
}

// Close implements Backend.
func (b *HarnessBackend) Close() error { return nil }
