package mutation

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/dsl"
)

const exitSnippet = `momentum = close.pct_change(10)
signal = momentum > 0.02
stop_loss_pct = 0.10
take_profit_pct = 0.15
trailing_stop_pct = 0.05
max_holding_days = 10
`

func newExitMutator(t *testing.T, seed int64) *ExitParameterMutator {
	t.Helper()
	m, err := NewExitParameterMutator(ExitMutatorConfig{Seed: seed})
	require.NoError(t, err)
	return m
}

func TestExitMutateStopLossStaysInBounds(t *testing.T) {
	m := newExitMutator(t, 42)

	res := m.MutateParam("stop_loss_pct = 0.10\n", "stop_loss_pct")
	require.True(t, res.Success, "mutation failed: %v", res.Err)
	assert.GreaterOrEqual(t, res.Metadata.NewValue, 0.01)
	assert.LessOrEqual(t, res.Metadata.NewValue, 0.20)
	assert.Equal(t, 0.10, res.Metadata.OldValue)

	_, err := dsl.Parse(res.MutatedCode)
	require.NoError(t, err, "mutated snippet must stay parseable")
}

func TestExitMutateBoundsHoldOverManyDraws(t *testing.T) {
	m := newExitMutator(t, 7)
	for i := 0; i < 200; i++ {
		res := m.MutateParam(exitSnippet, "take_profit_pct")
		require.True(t, res.Success)
		assert.GreaterOrEqual(t, res.Metadata.NewValue, 0.02)
		assert.LessOrEqual(t, res.Metadata.NewValue, 0.50)
		_, err := dsl.Parse(res.MutatedCode)
		require.NoError(t, err)
	}
}

func TestExitMutateDeterministicAcrossInstances(t *testing.T) {
	a := newExitMutator(t, 42)
	b := newExitMutator(t, 42)

	for i := 0; i < 20; i++ {
		ra := a.MutateParam(exitSnippet, "stop_loss_pct")
		rb := b.MutateParam(exitSnippet, "stop_loss_pct")
		require.Equal(t, ra.Success, rb.Success)
		assert.Equal(t, ra.MutatedCode, rb.MutatedCode, "same seed and input must produce identical output")
	}
}

func TestExitMutateIntegerParameterRendersAsInteger(t *testing.T) {
	m := newExitMutator(t, 3)

	res := m.MutateParam(exitSnippet, "max_holding_days")
	require.True(t, res.Success)
	assert.GreaterOrEqual(t, res.Metadata.NewValue, 1.0)
	assert.LessOrEqual(t, res.Metadata.NewValue, 60.0)

	line := regexp.MustCompile(`(?m)^max_holding_days = (\S+)$`).FindStringSubmatch(res.MutatedCode)
	require.NotNil(t, line)
	assert.NotContains(t, line[1], ".", "integer parameter must not render a decimal point")
}

func TestExitMutateClampsOutOfRangeResult(t *testing.T) {
	m := newExitMutator(t, 11)

	// 10000 days is far above the [1, 60] range, so whatever the Gaussian
	// draws the clamp has to fire.
	res := m.MutateParam("max_holding_days = 10000\n", "max_holding_days")
	require.True(t, res.Success)
	assert.True(t, res.Metadata.Clamped)
	assert.GreaterOrEqual(t, res.Metadata.NewValue, 1.0)
	assert.LessOrEqual(t, res.Metadata.NewValue, 60.0)
}

func TestExitMutateRewritesFirstOccurrenceOnly(t *testing.T) {
	m := newExitMutator(t, 5)
	code := "stop_loss_pct = 0.10\nx = 1\nstop_loss_pct = 0.12\n"

	res := m.MutateParam(code, "stop_loss_pct")
	require.True(t, res.Success)
	assert.Contains(t, res.MutatedCode, "stop_loss_pct = 0.12", "second occurrence must stay untouched")
	// The rewritten literal renders with 4 decimals, so the first line
	// always changes spelling.
	assert.NotEqual(t, "stop_loss_pct = 0.10", strings.Split(res.MutatedCode, "\n")[0])
}

func TestExitMutateFailuresReturnOriginal(t *testing.T) {
	m := newExitMutator(t, 1)

	tests := []struct {
		name    string
		code    string
		param   string
		wantErr string
	}{
		{"parameter absent", "signal = close > open\n", "stop_loss_pct", "not found"},
		{"unknown parameter", exitSnippet, "leverage", "unknown exit parameter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := m.MutateParam(tt.code, tt.param)
			assert.False(t, res.Success)
			assert.Equal(t, tt.code, res.MutatedCode, "failed mutation must return the original snippet")
			require.Error(t, res.Err)
			assert.Contains(t, res.Err.Error(), tt.wantErr)
		})
	}
}

func TestExitMutateAnyWithoutExitLogicAlwaysFails(t *testing.T) {
	m := newExitMutator(t, 9)
	code := "signal = close.pct_change(5) > 0\n"
	for i := 0; i < 40; i++ {
		res := m.MutateAny(code)
		require.False(t, res.Success)
		assert.Contains(t, res.Err.Error(), "not found")
		assert.Equal(t, code, res.MutatedCode)
	}
}

func TestExitMutateAnyWithAllParametersAlwaysSucceeds(t *testing.T) {
	m := newExitMutator(t, 13)
	for i := 0; i < 40; i++ {
		res := m.MutateAny(exitSnippet)
		require.True(t, res.Success, "draw %d failed: %v", i, res.Err)
		b, ok := m.Bounds(res.Metadata.Parameter)
		require.True(t, ok)
		assert.GreaterOrEqual(t, res.Metadata.NewValue, b.Min)
		assert.LessOrEqual(t, res.Metadata.NewValue, b.Max)
	}
}

func TestExitMutatorImplementsMutator(t *testing.T) {
	var _ Mutator = newExitMutator(t, 1)

	m := newExitMutator(t, 2)
	cand := NewCandidate(exitSnippet, 0)
	res := m.Mutate(context.Background(), cand)
	require.True(t, res.Success)
	assert.Equal(t, TierExit, res.Metadata.Tier)
}

func TestExitMutatorRejectsBadConfig(t *testing.T) {
	_, err := NewExitParameterMutator(ExitMutatorConfig{Sigma: -0.1})
	assert.Error(t, err)

	_, err = NewExitParameterMutator(ExitMutatorConfig{Bounds: []ParameterBounds{
		{Name: "stop_loss_pct", Min: 0.5, Max: 0.1, Default: 0.2},
	}})
	assert.Error(t, err)
}
